package storage

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const deviceStorageSchema = `CREATE TABLE IF NOT EXISTS device_storage (
	profile TEXT NOT NULL,
	key     TEXT NOT NULL,
	value   TEXT NOT NULL,
	PRIMARY KEY (profile, key)
)`

// SQLiteStorage is a device-local store for CLI and kiosk use. Entries are
// scoped by a profile name so several visitors can share one file.
type SQLiteStorage struct {
	db      *sql.DB
	profile string
	owned   bool
}

// OpenSQLiteStorage opens (and creates) the file at path.
func OpenSQLiteStorage(path, profile string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrUnavailable, path, err)
	}
	s, err := NewSQLiteStorage(db, profile)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewSQLiteStorage uses an existing connection and ensures the table exists.
func NewSQLiteStorage(db *sql.DB, profile string) (*SQLiteStorage, error) {
	if _, err := db.Exec(deviceStorageSchema); err != nil {
		return nil, fmt.Errorf("%w: create device_storage: %v", ErrUnavailable, err)
	}
	return &SQLiteStorage{db: db, profile: profile}, nil
}

func (s *SQLiteStorage) GetItem(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM device_storage WHERE profile = ? AND key = ?`, s.profile, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: get %s: %v", ErrUnavailable, key, err)
	}
	return value, true, nil
}

func (s *SQLiteStorage) SetItem(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO device_storage (profile, key, value) VALUES (?, ?, ?)
		ON CONFLICT(profile, key) DO UPDATE SET value = excluded.value`, s.profile, key, value)
	if err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

func (s *SQLiteStorage) RemoveItem(key string) error {
	if _, err := s.db.Exec(`DELETE FROM device_storage WHERE profile = ? AND key = ?`, s.profile, key); err != nil {
		return fmt.Errorf("%w: remove %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

// Close closes the connection if this store opened it.
func (s *SQLiteStorage) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
