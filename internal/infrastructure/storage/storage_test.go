package storage

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/security"
)

func exercise(t *testing.T, s Storage) {
	t.Helper()

	_, ok, err := s.GetItem("tractstack_visitor_id")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetItem("tractstack_visitor_id", ""))
	v, ok, err := s.GetItem("tractstack_visitor_id")
	require.NoError(t, err)
	assert.True(t, ok, "empty value must be distinct from absent")
	assert.Equal(t, "", v)

	require.NoError(t, s.SetItem("tractstack_visitor_id", "vis_1"))
	v, _, err = s.GetItem("tractstack_visitor_id")
	require.NoError(t, err)
	assert.Equal(t, "vis_1", v)

	require.NoError(t, s.RemoveItem("tractstack_visitor_id"))
	_, ok, err = s.GetItem("tractstack_visitor_id")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKeySet(t *testing.T) {
	keys := NewKeySet("madarat")
	assert.Equal(t, "madarat_visitor_id", keys.VisitorID)
	assert.Equal(t, "madarat_form_submissions", keys.FormSubmissions)
	assert.Len(t, keys.All(), 7)
	assert.True(t, keys.Contains("madarat_first_visit"))
	assert.False(t, keys.Contains("other_visitor_id"))
}

func TestMemoryStorage(t *testing.T) {
	exercise(t, NewMemoryStorage(nil))
}

func TestMemoryStorageFailure(t *testing.T) {
	m := NewMemoryStorage(nil)
	m.Fail(errors.New("quota exceeded"))

	err := m.SetItem("k", "v")
	assert.ErrorIs(t, err, ErrUnavailable)

	m.Fail(nil)
	assert.NoError(t, m.SetItem("k", "v"))
}

func TestSyncStorageChanges(t *testing.T) {
	keys := NewKeySet("tractstack")
	s := NewSyncStorage(keys, map[string]string{
		keys.VisitorID:  "vis_1",
		keys.VisitCount: "1",
		keys.LastVisit:  "2024-01-01T00:00:00Z",
		"unrelated":     "ignored",
	}, false)

	_, ok, err := s.GetItem("unrelated")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetItem(keys.VisitCount, "2"))
	require.NoError(t, s.SetItem(keys.VisitorID, "vis_1"))
	require.NoError(t, s.RemoveItem(keys.LastVisit))

	changes := s.Changes()
	assert.Equal(t, map[string]string{keys.VisitCount: "2"}, changes.Set)
	assert.Equal(t, []string{keys.LastVisit}, changes.Removed)
}

func TestSyncStorageDisabled(t *testing.T) {
	s := NewSyncStorage(NewKeySet("tractstack"), nil, true)
	_, _, err := s.GetItem("tractstack_visitor_id")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, s.Changes().IsEmpty())
}

func TestSQLiteStorage(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s, err := NewSQLiteStorage(db, "kiosk")
	require.NoError(t, err)
	exercise(t, s)

	other, err := NewSQLiteStorage(db, "other")
	require.NoError(t, err)
	require.NoError(t, s.SetItem("k", "mine"))
	_, ok, err := other.GetItem("k")
	require.NoError(t, err)
	assert.False(t, ok, "profiles are isolated")
}

func TestSealedStorage(t *testing.T) {
	keys := NewKeySet("tractstack")
	sealer, err := security.NewSealer("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)

	inner := NewMemoryStorage(nil)
	s := NewSealedStorage(inner, keys, sealer)

	require.NoError(t, s.SetItem(keys.Profile, `{"visitorId":"vis_1"}`))
	require.NoError(t, s.SetItem(keys.VisitorID, "vis_1"))

	raw := inner.Entries()
	assert.NotContains(t, raw[keys.Profile], "vis_1")
	assert.Equal(t, "vis_1", raw[keys.VisitorID], "scalar keys stay readable")

	v, ok, err := s.GetItem(keys.Profile)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"visitorId":"vis_1"}`, v)

	require.NoError(t, inner.SetItem(keys.Profile, "sealed:garbage"))
	_, ok, err = s.GetItem(keys.Profile)
	require.NoError(t, err)
	assert.False(t, ok, "unsealable values read as absent")
}
