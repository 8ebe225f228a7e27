// Package models provides data model definitions for the sync core.
package models

// MaxSyncErrors bounds the recent-error list carried by SyncStatus.
const MaxSyncErrors = 50

// SyncError describes one recent per-entity sync failure.
type SyncError struct {
	Ref        EntityRef `json:"entityRef"`
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	OccurredAt int64     `json:"occurredAt"`
}

// SyncStatus summarizes synchronization health for the current
// device/user pairing. It lives for one session and is not persisted.
type SyncStatus struct {
	IsOnline               bool        `json:"isOnline"`
	IsRealtimeConnected    bool        `json:"isRealtimeConnected"`
	LastFullSync           int64       `json:"lastFullSync"` // 0 = never
	PendingChangesCount    int         `json:"pendingChangesCount"`
	ConflictsResolvedCount int         `json:"conflictsResolvedCount"`
	DeviceID               string      `json:"deviceId"`
	SyncErrors             []SyncError `json:"syncErrors"`
}

// RecordError appends a sync error, evicting the oldest entry once the
// bound is reached.
func (s *SyncStatus) RecordError(e SyncError) {
	s.SyncErrors = append(s.SyncErrors, e)
	if len(s.SyncErrors) > MaxSyncErrors {
		s.SyncErrors = s.SyncErrors[len(s.SyncErrors)-MaxSyncErrors:]
	}
}

// Clone returns a copy safe to hand to UI consumers.
func (s *SyncStatus) Clone() SyncStatus {
	out := *s
	out.SyncErrors = make([]SyncError, len(s.SyncErrors))
	copy(out.SyncErrors, s.SyncErrors)
	return out
}
