// Package models provides data model definitions for the sync core.
package models

import "time"

// ConflictType classifies how local and remote versions diverged.
type ConflictType string

const (
	ConflictTimestampMismatch ConflictType = "timestamp_mismatch"
	ConflictDataMismatch      ConflictType = "data_mismatch"
	ConflictDelete            ConflictType = "delete_conflict"
)

// ConflictPriority ranks conflicts by the sensitivity of what diverged.
type ConflictPriority string

const (
	PriorityLow      ConflictPriority = "low"
	PriorityMedium   ConflictPriority = "medium"
	PriorityHigh     ConflictPriority = "high"
	PriorityCritical ConflictPriority = "critical"
)

// ConflictStatus is the lifecycle state of a conflict record.
type ConflictStatus string

const (
	ConflictPending  ConflictStatus = "pending"
	ConflictResolved ConflictStatus = "resolved"
	ConflictIgnored  ConflictStatus = "ignored"
)

// ConflictRecord is the result of comparing a local and remote version
// of one entity. Once Status leaves pending the record is immutable:
// resolution produces a new accepted version rather than mutating the
// snapshots held here.
type ConflictRecord struct {
	ID                string           `json:"id"`
	Ref               EntityRef        `json:"entityRef"`
	Type              ConflictType     `json:"conflictType"`
	Local             *Snapshot        `json:"localVersion"`
	Remote            *Snapshot        `json:"remoteVersion"`
	ConflictingFields []string         `json:"conflictingFields,omitempty"`
	Priority          ConflictPriority `json:"priority"`
	Status            ConflictStatus   `json:"status"`
	DetectedAt        int64            `json:"detectedAt"`
	ClosedAt          int64            `json:"closedAt,omitempty"`
	Resolution        string           `json:"resolution,omitempty"`
}

// Pending reports whether the conflict still awaits resolution.
func (c *ConflictRecord) Pending() bool {
	return c.Status == ConflictPending
}

// DetectedAtTime returns DetectedAt as time.Time.
func (c *ConflictRecord) DetectedAtTime() time.Time {
	return time.Unix(c.DetectedAt, 0)
}
