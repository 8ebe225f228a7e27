// Package models provides data model definitions for the sync core.
package models

import "time"

// OperationKind is the kind of a queued mutation.
type OperationKind string

const (
	OperationCreate OperationKind = "create"
	OperationUpdate OperationKind = "update"
	OperationDelete OperationKind = "delete"
)

// Valid reports whether the kind is one of the known mutations.
func (k OperationKind) Valid() bool {
	switch k {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// OfflineOperation is a queued mutation awaiting remote application.
// JSON field names are stable so persisted queue entries survive
// process restarts.
type OfflineOperation struct {
	ID          string                 `json:"id"`
	Kind        OperationKind          `json:"kind"`
	Ref         EntityRef              `json:"entityRef"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	DeviceID    string                 `json:"deviceId"`
	EnqueuedAt  int64                  `json:"enqueuedAt"`
	RetryCount  int                    `json:"retryCount"`
	NextRetryAt int64                  `json:"nextRetryAt"`
	LastError   string                 `json:"lastError,omitempty"`
}

// EnqueuedAtTime returns EnqueuedAt as time.Time.
func (op *OfflineOperation) EnqueuedAtTime() time.Time {
	return time.Unix(op.EnqueuedAt, 0)
}

// RetryDue reports whether the backoff gate has elapsed. Reconnect and
// forced drains bypass this gate; only timer-driven drains honor it.
func (op *OfflineOperation) RetryDue(now int64) bool {
	return op.NextRetryAt <= now
}
