// Package db provides durable local storage for the sync core.
package db

import (
	"database/sql"

	apperrors "github.com/Sugarbait/PhaetonAICRM-sub017/internal/errors"
)

// MetaStore persists small key/value metadata that must survive
// restarts, such as the device identifier.
type MetaStore struct {
	db *DB
}

// NewMetaStore creates a MetaStore on an open database.
func NewMetaStore(db *DB) *MetaStore {
	return &MetaStore{db: db}
}

// Get reads a metadata value. The second return is false when the key
// has never been set.
func (s *MetaStore) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM sync_meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperrors.Wrap(apperrors.ErrDatabase, "failed to read meta key", err)
	}
	return value, true, nil
}

// Set writes a metadata value, replacing any existing one.
func (s *MetaStore) Set(key, value string) error {
	_, err := s.db.Exec(
		"INSERT INTO sync_meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to write meta key", err)
	}
	return nil
}
