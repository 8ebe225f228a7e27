// Package sync provides the reconciliation engine between local edits
// and the remote authoritative store.
package sync

import (
	"context"
	"time"

	"github.com/Sugarbait/PhaetonAICRM-sub017/internal/models"
)

// RemoteStore is the remote authoritative store collaborator. Fetch
// returns (nil, nil) when the entity does not exist remotely.
// Implementations classify failures: transient errors are eligible for
// queue-level retry, validation errors are terminal.
type RemoteStore interface {
	FetchEntity(ctx context.Context, ref models.EntityRef) (*models.Snapshot, error)
	PushEntity(ctx context.Context, ref models.EntityRef, fields map[string]interface{}) (*models.Snapshot, error)
	DeleteEntity(ctx context.Context, ref models.EntityRef) error
}

// LocalStore holds the device's current view of each synced entity.
// Get returns (nil, nil) when no local snapshot exists.
type LocalStore interface {
	Get(ref models.EntityRef) (*models.Snapshot, error)
	Put(snap *models.Snapshot) error
	Delete(ref models.EntityRef) error
}

// Unsubscribe tears down one realtime subscription.
type Unsubscribe func()

// RealtimeChannel is the live-update collaborator. The session does not
// depend on a specific transport: any adapter that can deliver remote
// snapshots per entity satisfies it.
type RealtimeChannel interface {
	Subscribe(ref models.EntityRef, onChange func(models.Snapshot)) (Unsubscribe, error)
}

// Result summarizes one reconciliation pass.
type Result struct {
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Applied   int
	Retried   int
	Failed    int
	Conflicts int
}

// EventHandler receives session notifications. All methods are invoked
// inline on the session's calling goroutine; handlers must not call
// back into the session.
type EventHandler interface {
	OnSyncStarted()
	OnSyncCompleted(result Result)
	OnConflictDetected(rec models.ConflictRecord)
	OnConflictResolved(rec models.ConflictRecord)
	OnConnectivityChange(online bool)
}

// NoopHandler is an EventHandler that ignores every event.
type NoopHandler struct{}

func (NoopHandler) OnSyncStarted()                           {}
func (NoopHandler) OnSyncCompleted(Result)                   {}
func (NoopHandler) OnConflictDetected(models.ConflictRecord) {}
func (NoopHandler) OnConflictResolved(models.ConflictRecord) {}
func (NoopHandler) OnConnectivityChange(bool)                {}
