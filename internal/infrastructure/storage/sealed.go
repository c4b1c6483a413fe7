package storage

import (
	"fmt"
	"strings"

	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/security"
)

const sealedPrefix = "sealed:"

// SealedStorage encrypts blob values before they reach the wrapped backend.
// Values that cannot be opened read as absent, which the identity store treats
// like a first visit for that key.
type SealedStorage struct {
	inner  Storage
	sealer *security.Sealer
	blobs  map[string]bool
}

// NewSealedStorage seals the JSON blob keys of keys with sealer.
func NewSealedStorage(inner Storage, keys KeySet, sealer *security.Sealer) *SealedStorage {
	blobs := make(map[string]bool)
	for _, k := range keys.Blobs() {
		blobs[k] = true
	}
	return &SealedStorage{inner: inner, sealer: sealer, blobs: blobs}
}

func (s *SealedStorage) GetItem(key string) (string, bool, error) {
	value, ok, err := s.inner.GetItem(key)
	if err != nil || !ok || !s.blobs[key] {
		return value, ok, err
	}
	if !strings.HasPrefix(value, sealedPrefix) {
		return "", false, nil
	}
	plain, err := s.sealer.Open(strings.TrimPrefix(value, sealedPrefix))
	if err != nil {
		return "", false, nil
	}
	return plain, true, nil
}

func (s *SealedStorage) SetItem(key, value string) error {
	if !s.blobs[key] {
		return s.inner.SetItem(key, value)
	}
	sealed, err := s.sealer.Seal(value)
	if err != nil {
		return fmt.Errorf("%w: seal %s: %v", ErrUnavailable, key, err)
	}
	return s.inner.SetItem(key, sealedPrefix+sealed)
}

func (s *SealedStorage) RemoveItem(key string) error {
	return s.inner.RemoveItem(key)
}
