package storage

import (
	"fmt"
	"sync"
)

// MemoryStorage keeps entries in process memory. It backs tests and the
// degraded in-memory mode of the identity store.
type MemoryStorage struct {
	mu      sync.RWMutex
	entries map[string]string
	failure error
}

// NewMemoryStorage creates a store seeded with entries.
func NewMemoryStorage(entries map[string]string) *MemoryStorage {
	m := &MemoryStorage{entries: make(map[string]string, len(entries))}
	for k, v := range entries {
		m.entries[k] = v
	}
	return m
}

// Fail makes every subsequent call return err wrapped in ErrUnavailable. Pass
// nil to restore normal behavior.
func (m *MemoryStorage) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failure = err
}

func (m *MemoryStorage) unavailable() error {
	if m.failure == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, m.failure)
}

func (m *MemoryStorage) GetItem(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.unavailable(); err != nil {
		return "", false, err
	}
	v, ok := m.entries[key]
	return v, ok, nil
}

func (m *MemoryStorage) SetItem(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.unavailable(); err != nil {
		return err
	}
	m.entries[key] = value
	return nil
}

func (m *MemoryStorage) RemoveItem(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.unavailable(); err != nil {
		return err
	}
	delete(m.entries, key)
	return nil
}

// Entries returns a copy of everything stored.
func (m *MemoryStorage) Entries() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.entries))
	for k, v := range m.entries {
		out[k] = v
	}
	return out
}

// Len returns the number of entries.
func (m *MemoryStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
