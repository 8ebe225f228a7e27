// Package db provides durable local storage for the sync core.
package db

import (
	"database/sql"
	"encoding/json"
	"time"

	apperrors "github.com/Sugarbait/PhaetonAICRM-sub017/internal/errors"
	"github.com/Sugarbait/PhaetonAICRM-sub017/internal/models"
)

// EntityStore persists the device's local view of each synced entity.
type EntityStore struct {
	db *DB
}

// NewEntityStore creates an EntityStore on an open database.
func NewEntityStore(db *DB) *EntityStore {
	return &EntityStore{db: db}
}

// Get returns the local snapshot for a ref, or nil when none exists.
func (s *EntityStore) Get(ref models.EntityRef) (*models.Snapshot, error) {
	var raw string
	err := s.db.QueryRow(
		"SELECT snapshot_json FROM entities WHERE table_name = ? AND entity_id = ?",
		ref.Table, ref.EntityID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to read entity snapshot", err)
	}

	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "corrupt entity snapshot", err)
	}

	return &models.Snapshot{Ref: ref, Fields: fields}, nil
}

// Put writes the local snapshot for an entity, replacing any existing one.
func (s *EntityStore) Put(snap *models.Snapshot) error {
	raw, err := json.Marshal(snap.Fields)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to serialize entity snapshot", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO entities (table_name, entity_id, snapshot_json, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(table_name, entity_id) DO UPDATE SET
		   snapshot_json = excluded.snapshot_json,
		   updated_at = excluded.updated_at`,
		snap.Ref.Table, snap.Ref.EntityID, string(raw), time.Now().Unix())
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to write entity snapshot", err)
	}
	return nil
}

// Refs lists every locally stored entity in insertion order. Startup
// uses it to subscribe the session to live updates for known entities.
func (s *EntityStore) Refs() ([]models.EntityRef, error) {
	rows, err := s.db.Query(
		"SELECT table_name, entity_id FROM entities ORDER BY rowid")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list entities", err)
	}
	defer rows.Close()

	var refs []models.EntityRef
	for rows.Next() {
		var ref models.EntityRef
		if err := rows.Scan(&ref.Table, &ref.EntityID); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan entity ref", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list entities", err)
	}
	return refs, nil
}

// Delete removes the local snapshot for a ref. Deleting an absent
// entity is a no-op.
func (s *EntityStore) Delete(ref models.EntityRef) error {
	_, err := s.db.Exec(
		"DELETE FROM entities WHERE table_name = ? AND entity_id = ?",
		ref.Table, ref.EntityID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to delete entity snapshot", err)
	}
	return nil
}
