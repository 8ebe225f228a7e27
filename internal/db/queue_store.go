// Package db provides durable local storage for the sync core.
package db

import (
	"encoding/json"

	apperrors "github.com/Sugarbait/PhaetonAICRM-sub017/internal/errors"
	"github.com/Sugarbait/PhaetonAICRM-sub017/internal/models"
)

// QueueStore persists the offline operation queue. The queue is small
// (human-paced edits) so writes replace the whole queue atomically in
// one transaction, which keeps replay order trivially correct.
type QueueStore struct {
	db *DB
}

// NewQueueStore creates a QueueStore on an open database.
func NewQueueStore(db *DB) *QueueStore {
	return &QueueStore{db: db}
}

// ReadQueue loads all persisted operations in enqueue order.
func (s *QueueStore) ReadQueue() ([]models.OfflineOperation, error) {
	rows, err := s.db.Query("SELECT op_json FROM offline_queue ORDER BY position")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to read offline queue", err)
	}
	defer rows.Close()

	var ops []models.OfflineOperation
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan queue row", err)
		}

		var op models.OfflineOperation
		if err := json.Unmarshal([]byte(raw), &op); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "corrupt queue entry", err)
		}
		ops = append(ops, op)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to iterate queue rows", err)
	}

	return ops, nil
}

// WriteQueue replaces the persisted queue with the given operations,
// preserving their order. A failure here threatens data durability, so
// it is reported as QUEUE_PERSISTENCE.
func (s *QueueStore) WriteQueue(ops []models.OfflineOperation) error {
	tx, err := s.db.Begin()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrQueuePersistence, "failed to begin queue write", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM offline_queue"); err != nil {
		return apperrors.Wrap(apperrors.ErrQueuePersistence, "failed to clear queue", err)
	}

	stmt, err := tx.Prepare("INSERT INTO offline_queue (op_id, op_json) VALUES (?, ?)")
	if err != nil {
		return apperrors.Wrap(apperrors.ErrQueuePersistence, "failed to prepare queue insert", err)
	}
	defer stmt.Close()

	for _, op := range ops {
		raw, err := json.Marshal(op)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrQueuePersistence, "failed to serialize operation", err)
		}
		if _, err := stmt.Exec(op.ID, string(raw)); err != nil {
			return apperrors.Wrap(apperrors.ErrQueuePersistence, "failed to insert operation", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrQueuePersistence, "failed to commit queue write", err)
	}

	return nil
}
