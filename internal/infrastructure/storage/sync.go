package storage

import (
	"sort"
	"sync"
)

// Changes is the diff a page shim applies back to the browser's localStorage.
type Changes struct {
	Set     map[string]string `json:"set"`
	Removed []string          `json:"removed"`
}

// IsEmpty reports whether nothing changed.
func (c Changes) IsEmpty() bool {
	return len(c.Set) == 0 && len(c.Removed) == 0
}

// SyncStorage is a request-scoped view of the browser's entries. Reads come
// from the snapshot the browser sent, writes are tracked and returned by
// Changes so the browser stays the only durable copy.
type SyncStorage struct {
	mu       sync.Mutex
	keys     KeySet
	snapshot map[string]string
	current  map[string]string
	disabled bool
}

// NewSyncStorage creates a view over the entries sent with one request. Keys
// outside the namespace are ignored. When disabled is true the browser
// reported storage as unavailable and every call fails.
func NewSyncStorage(keys KeySet, entries map[string]string, disabled bool) *SyncStorage {
	s := &SyncStorage{
		keys:     keys,
		snapshot: make(map[string]string),
		current:  make(map[string]string),
		disabled: disabled,
	}
	for k, v := range entries {
		if !keys.Contains(k) {
			continue
		}
		s.snapshot[k] = v
		s.current[k] = v
	}
	return s
}

func (s *SyncStorage) GetItem(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disabled {
		return "", false, ErrUnavailable
	}
	v, ok := s.current[key]
	return v, ok, nil
}

func (s *SyncStorage) SetItem(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disabled {
		return ErrUnavailable
	}
	s.current[key] = value
	return nil
}

func (s *SyncStorage) RemoveItem(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disabled {
		return ErrUnavailable
	}
	delete(s.current, key)
	return nil
}

// Changes diffs the current entries against the request snapshot.
func (s *SyncStorage) Changes() Changes {
	s.mu.Lock()
	defer s.mu.Unlock()

	changes := Changes{Set: make(map[string]string), Removed: []string{}}
	for k, v := range s.current {
		if old, ok := s.snapshot[k]; !ok || old != v {
			changes.Set[k] = v
		}
	}
	for k := range s.snapshot {
		if _, ok := s.current[k]; !ok {
			changes.Removed = append(changes.Removed, k)
		}
	}
	sort.Strings(changes.Removed)
	return changes
}
