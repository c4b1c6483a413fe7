// Package storage provides the browser-local key/value stores the identity
// store persists to. Every backend follows localStorage semantics: string keys,
// string values, and absent keys distinct from empty values.
package storage

import "errors"

// ErrUnavailable is wrapped by every backend error. Callers treat it as
// "storage disabled" and fall back to memory.
var ErrUnavailable = errors.New("storage unavailable")

// Storage is a namespaced key/value store with localStorage semantics
type Storage interface {
	GetItem(key string) (string, bool, error)
	SetItem(key, value string) error
	RemoveItem(key string) error
}

// KeySet is the fixed set of keys owned by one application namespace
type KeySet struct {
	VisitorID       string
	Profile         string
	VisitHistory    string
	FormSubmissions string
	LastVisit       string
	VisitCount      string
	FirstVisit      string
}

// NewKeySet prefixes every key with namespace.
func NewKeySet(namespace string) KeySet {
	return KeySet{
		VisitorID:       namespace + "_visitor_id",
		Profile:         namespace + "_profile",
		VisitHistory:    namespace + "_visit_history",
		FormSubmissions: namespace + "_form_submissions",
		LastVisit:       namespace + "_last_visit",
		VisitCount:      namespace + "_visit_count",
		FirstVisit:      namespace + "_first_visit",
	}
}

// All returns every key, in a stable order.
func (k KeySet) All() []string {
	return []string{
		k.VisitorID,
		k.Profile,
		k.VisitHistory,
		k.FormSubmissions,
		k.LastVisit,
		k.VisitCount,
		k.FirstVisit,
	}
}

// Contains reports whether key belongs to this namespace.
func (k KeySet) Contains(key string) bool {
	for _, owned := range k.All() {
		if owned == key {
			return true
		}
	}
	return false
}

// Blobs returns the keys whose values are JSON documents.
func (k KeySet) Blobs() []string {
	return []string{k.Profile, k.VisitHistory, k.FormSubmissions}
}
