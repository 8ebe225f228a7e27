// Package sync provides the reconciliation engine between local edits
// and the remote authoritative store.
package sync

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "github.com/Sugarbait/PhaetonAICRM-sub017/internal/errors"
	"github.com/Sugarbait/PhaetonAICRM-sub017/internal/logging"
	"github.com/Sugarbait/PhaetonAICRM-sub017/internal/models"
	"github.com/Sugarbait/PhaetonAICRM-sub017/internal/sync/conflict"
	"github.com/Sugarbait/PhaetonAICRM-sub017/internal/sync/draft"
	"github.com/Sugarbait/PhaetonAICRM-sub017/internal/sync/queue"
)

// State is the orchestrator's reconciliation state. The offline flag is
// orthogonal and lives on SyncStatus.
type State string

const (
	StateIdle       State = "idle"
	StateSyncing    State = "syncing"
	StateConflicted State = "conflicted"
)

// DefaultRemoteTimeout bounds individual remote calls; an expired call
// is a transient failure eligible for the queue's retry policy.
const DefaultRemoteTimeout = 15 * time.Second

// Options configures a Session.
type Options struct {
	DeviceID string
	Queue    *queue.Queue
	Local    LocalStore
	Remote   RemoteStore
	Schemas  *models.SchemaRegistry

	// PolicyFor returns the resolution policy for a table. Nil means
	// manual resolution everywhere.
	PolicyFor func(table string) models.ResolutionPolicy

	RemoteTimeout    time.Duration
	DraftQuietPeriod time.Duration
	Handler          EventHandler
}

// Session owns all mutable sync state for one user login: device
// identity, offline queue, status counters and pending conflicts. It is
// constructed at login and torn down with Close at logout, so no sync
// state leaks across sessions. All queue and status mutation flows
// through its entry points.
type Session struct {
	queue    *queue.Queue
	local    LocalStore
	remote   RemoteStore
	schemas  *models.SchemaRegistry
	detector *conflict.Detector
	resolver *conflict.Resolver
	drafts   *draft.Coordinator
	locks    *entityLocks

	policyFor     func(table string) models.ResolutionPolicy
	remoteTimeout time.Duration
	handler       EventHandler

	mu            sync.Mutex
	state         State
	syncing       bool
	status        models.SyncStatus
	conflicts     map[string]*models.ConflictRecord
	bufferedRefs  []string
	buffered      map[string]models.Snapshot
	subscriptions []Unsubscribe
}

// NewSession creates a Session. The queue, local store, remote store
// and schema registry are required; everything else has defaults.
func NewSession(opts Options) *Session {
	s := &Session{
		queue:         opts.Queue,
		local:         opts.Local,
		remote:        opts.Remote,
		schemas:       opts.Schemas,
		detector:      conflict.NewDetector(opts.Schemas),
		resolver:      conflict.NewResolver(opts.Schemas),
		locks:         newEntityLocks(),
		policyFor:     opts.PolicyFor,
		remoteTimeout: opts.RemoteTimeout,
		handler:       opts.Handler,
		state:         StateIdle,
		conflicts:     make(map[string]*models.ConflictRecord),
		buffered:      make(map[string]models.Snapshot),
	}

	if s.remoteTimeout <= 0 {
		s.remoteTimeout = DefaultRemoteTimeout
	}
	if s.handler == nil {
		s.handler = NoopHandler{}
	}
	if s.policyFor == nil {
		s.policyFor = func(string) models.ResolutionPolicy {
			return models.ResolutionPolicy{Mode: models.PolicyManual}
		}
	}

	s.status = models.SyncStatus{
		IsOnline: true,
		DeviceID: opts.DeviceID,
	}

	s.drafts = draft.NewCoordinator(opts.DraftQuietPeriod, s.autoSave)

	return s
}

// State returns the current reconciliation state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a snapshot of sync health for UI consumers.
func (s *Session) Status() models.SyncStatus {
	pending := s.queue.Size()

	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status.Clone()
	st.PendingChangesCount = pending
	return st
}

// Apply routes one local edit: the edit always succeeds locally, then
// is pushed to the remote store when online or enqueued for later
// replay when offline or when the push fails transiently. Only
// validation failures and durable-storage failures propagate: the user
// is never blocked on network I/O.
func (s *Session) Apply(ctx context.Context, kind models.OperationKind, ref models.EntityRef, payload map[string]interface{}) error {
	if !kind.Valid() {
		return apperrors.Newf(apperrors.ErrInvalid, "unknown operation kind %q", kind)
	}
	if err := s.validateRef(ref); err != nil {
		return err
	}
	if kind != models.OperationDelete && len(payload) == 0 {
		return apperrors.New(apperrors.ErrInvalid, "create/update requires a payload")
	}

	unlock := s.locks.acquire(ref.Key())
	defer unlock()

	// Local write first: offline edits succeed even when every remote
	// operation is failing.
	if kind == models.OperationDelete {
		// A buffered draft for a deleted entity must never fire late.
		s.drafts.Cancel(ref)
		if err := s.local.Delete(ref); err != nil {
			return err
		}
	} else {
		existing, err := s.local.Get(ref)
		if err != nil {
			return err
		}
		fields := make(map[string]interface{})
		if existing != nil {
			for k, v := range existing.Fields {
				fields[k] = v
			}
		}
		for k, v := range payload {
			fields[k] = v
		}
		if err := s.local.Put(&models.Snapshot{Ref: ref, Fields: fields}); err != nil {
			return err
		}
	}

	if s.online() {
		err := s.pushCurrent(ctx, kind, ref)
		if err == nil {
			return nil
		}
		if apperrors.IsValidation(err) {
			s.recordSyncError(ref, err)
			return err
		}
		logging.Warn("Remote apply failed, queueing operation",
			map[string]interface{}{"entity": ref.Key(), "error": err.Error()})
	}

	_, err := s.queue.Enqueue(queue.Input{
		Kind:     kind,
		Ref:      ref,
		Payload:  payload,
		DeviceID: s.deviceID(),
	})
	if err != nil {
		s.recordSyncError(ref, err)
		return err
	}
	return nil
}

// SetOnline flags connectivity. The offline->online transition behaves
// like a reconnect: the queue is drained and touched entities are
// reconciled before the session settles back to idle or conflicted.
func (s *Session) SetOnline(ctx context.Context, online bool) error {
	s.mu.Lock()
	was := s.status.IsOnline
	s.status.IsOnline = online
	s.mu.Unlock()

	if was != online {
		s.handler.OnConnectivityChange(online)
		logging.Info("Connectivity changed", map[string]interface{}{"online": online})
	}

	if !was && online {
		return s.Synchronize(ctx)
	}
	return nil
}

// SetRealtimeConnected flags whether the live-update channel is active.
func (s *Session) SetRealtimeConnected(connected bool) {
	s.mu.Lock()
	s.status.IsRealtimeConnected = connected
	s.mu.Unlock()
}

// ForceSync runs a reconciliation pass regardless of the connectivity
// flag, for explicit user-triggered reconciliation.
func (s *Session) ForceSync(ctx context.Context) error {
	return s.Synchronize(ctx)
}

// Synchronize runs one reconciliation pass: drain the offline queue in
// enqueue order, integrate remote events buffered while offline, then
// settle into idle or conflicted. Per-entity failures are isolated into
// SyncStatus.syncErrors and never abort the pass for other entities.
// Reconnect and user-forced passes replay every queued operation; the
// backoff gate applies only to SynchronizeDue.
func (s *Session) Synchronize(ctx context.Context) error {
	return s.synchronize(ctx, false)
}

// SynchronizeDue is Synchronize for timer-driven background passes:
// queued operations still inside their backoff window are left
// untouched instead of replayed.
func (s *Session) SynchronizeDue(ctx context.Context) error {
	return s.synchronize(ctx, true)
}

func (s *Session) synchronize(ctx context.Context, honorBackoff bool) error {
	s.mu.Lock()
	if s.syncing {
		s.mu.Unlock()
		return apperrors.New(apperrors.ErrSyncInProgress, "reconciliation pass already running")
	}
	s.syncing = true
	s.state = StateSyncing
	s.mu.Unlock()

	s.handler.OnSyncStarted()
	result := Result{StartTime: time.Now()}

	drain := s.queue.Drain
	if honorBackoff {
		drain = s.queue.DrainDue
	}
	summary, passErr := drain(ctx, func(op models.OfflineOperation) error {
		return s.replay(ctx, op)
	})
	result.Applied = summary.Applied
	result.Retried = summary.Retried + summary.Skipped
	result.Failed = len(summary.Failed)
	for _, f := range summary.Failed {
		s.recordSyncError(f.Op.Ref, f.Err)
	}

	if passErr == nil {
		for _, snap := range s.takeBuffered() {
			if err := ctx.Err(); err != nil {
				passErr = apperrors.Wrap(apperrors.ErrSyncFailed, "reconciliation cancelled", err)
				break
			}
			if err := s.integrateRemote(snap); err != nil {
				s.recordSyncError(snap.Ref, err)
				result.Failed++
			}
		}
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	s.mu.Lock()
	result.Conflicts = s.pendingConflictsLocked()
	s.syncing = false
	if result.Conflicts > 0 {
		s.state = StateConflicted
	} else {
		s.state = StateIdle
		if passErr == nil {
			s.status.LastFullSync = result.EndTime.Unix()
		}
	}
	s.mu.Unlock()

	s.handler.OnSyncCompleted(result)
	logging.Info("Reconciliation pass completed",
		map[string]interface{}{
			"applied":   result.Applied,
			"retried":   result.Retried,
			"failed":    result.Failed,
			"conflicts": result.Conflicts,
		})

	return passErr
}

// replay applies one queued operation against the remote store,
// detecting conflicts against the current remote version first.
func (s *Session) replay(ctx context.Context, op models.OfflineOperation) error {
	unlock := s.locks.acquire(op.Ref.Key())
	defer unlock()

	rctx, cancel := context.WithTimeout(ctx, s.remoteTimeout)
	defer cancel()

	if op.Kind == models.OperationDelete {
		return s.remote.DeleteEntity(rctx, op.Ref)
	}

	remote, err := s.remote.FetchEntity(rctx, op.Ref)
	if err != nil {
		return err
	}

	local, err := s.local.Get(op.Ref)
	if err != nil {
		return err
	}
	if local == nil {
		local = &models.Snapshot{Ref: op.Ref, Fields: op.Payload}
	}

	rec, err := s.detector.Detect(local, remote, op.Kind)
	if err != nil {
		return err
	}
	if rec != nil {
		// The operation is consumed: the accepted version reaches the
		// remote store through conflict resolution instead.
		s.registerConflict(rec)
		return nil
	}

	pushed, err := s.remote.PushEntity(rctx, op.Ref, local.Fields)
	if err != nil {
		return err
	}
	if pushed != nil {
		if err := s.local.Put(pushed); err != nil {
			s.recordSyncError(op.Ref, err)
		}
	}
	return nil
}

// HandleRemoteChange routes one realtime event. While offline the
// latest snapshot per entity is buffered and integrated on the next
// reconciliation pass.
func (s *Session) HandleRemoteChange(snap models.Snapshot) error {
	s.mu.Lock()
	if !s.status.IsOnline {
		key := snap.Ref.Key()
		if _, ok := s.buffered[key]; !ok {
			s.bufferedRefs = append(s.bufferedRefs, key)
		}
		s.buffered[key] = snap
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	return s.integrateRemote(snap)
}

// integrateRemote applies a remote snapshot to local state. An entity
// with an unsynced local edit is routed through conflict detection
// instead of being overwritten: in-flight user input is never clobbered
// by a live update.
func (s *Session) integrateRemote(snap models.Snapshot) error {
	unlock := s.locks.acquire(snap.Ref.Key())
	defer unlock()

	if s.queue.HasPending(snap.Ref) || s.drafts.Pending(snap.Ref) {
		local, err := s.local.Get(snap.Ref)
		if err != nil {
			return err
		}
		rec, err := s.detector.Detect(local, &snap, models.OperationUpdate)
		if err != nil {
			return err
		}
		if rec != nil {
			s.registerConflict(rec)
			s.mu.Lock()
			if !s.syncing {
				s.state = StateConflicted
			}
			s.mu.Unlock()
			return nil
		}
	}

	return s.local.Put(snap.Clone())
}

// AttachRealtime subscribes the session to live updates for the given
// entities. The returned function, and Close, tear the subscriptions
// down.
func (s *Session) AttachRealtime(ch RealtimeChannel, refs []models.EntityRef) (func(), error) {
	subs := make([]Unsubscribe, 0, len(refs))
	for _, ref := range refs {
		unsub, err := ch.Subscribe(ref, func(snap models.Snapshot) {
			if err := s.HandleRemoteChange(snap); err != nil {
				s.recordSyncError(snap.Ref, err)
			}
		})
		if err != nil {
			for _, u := range subs {
				u()
			}
			return nil, err
		}
		subs = append(subs, unsub)
	}

	s.mu.Lock()
	s.subscriptions = append(s.subscriptions, subs...)
	s.status.IsRealtimeConnected = true
	s.mu.Unlock()

	detach := func() {
		for _, u := range subs {
			u()
		}
		s.mu.Lock()
		s.status.IsRealtimeConnected = false
		s.mu.Unlock()
	}
	return detach, nil
}

// ResolveConflict applies a resolution to a pending conflict: an
// explicit choice, or the table's configured policy when choice is
// empty. On success the accepted version is written locally and pushed
// remotely, and the resolved counter increments exactly once.
func (s *Session) ResolveConflict(ctx context.Context, id string, choice models.ManualChoice, mergeData map[string]interface{}) error {
	s.mu.Lock()
	rec, ok := s.conflicts[id]
	s.mu.Unlock()
	if !ok {
		return apperrors.Newf(apperrors.ErrConflictNotFound, "no conflict with id %s", id)
	}

	unlock := s.locks.acquire(rec.Ref.Key())
	defer unlock()

	// Resolve mutates the record's status; keep that under mu so
	// concurrent readers of the conflict registry see consistent state.
	s.mu.Lock()
	resolved, err := s.resolver.Resolve(rec, s.policyFor(rec.Ref.Table), choice, mergeData)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	// The user's decision stands once the resolver accepts it: the
	// conflict closes and the accepted version is the local truth even
	// when the remote push is rejected. The rejection lands in
	// syncErrors; reopening the conflict would discard a decision the
	// user already made.
	if err := s.applyResolved(ctx, resolved); err != nil {
		s.recordSyncError(rec.Ref, err)
	}

	s.mu.Lock()
	s.status.ConflictsResolvedCount++
	s.settleStateLocked()
	s.mu.Unlock()

	s.handler.OnConflictResolved(*rec)
	return nil
}

// AutoResolve attempts policy-based resolution for every pending
// conflict. Conflicts that require manual input stay pending; other
// failures are recorded per entity.
func (s *Session) AutoResolve(ctx context.Context) int {
	resolved := 0
	for _, rec := range s.PendingConflicts() {
		err := s.ResolveConflict(ctx, rec.ID, "", nil)
		if err == nil {
			resolved++
			continue
		}
		if !apperrors.IsManualInputRequired(err) {
			s.recordSyncError(rec.Ref, err)
		}
	}
	return resolved
}

// IgnoreConflict dismisses a pending conflict without producing an
// accepted version. The record is retained for audit history.
func (s *Session) IgnoreConflict(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.conflicts[id]
	if !ok {
		return apperrors.Newf(apperrors.ErrConflictNotFound, "no conflict with id %s", id)
	}
	if !rec.Pending() {
		return apperrors.Newf(apperrors.ErrConflictClosed, "conflict %s already %s", id, rec.Status)
	}

	rec.Status = models.ConflictIgnored
	rec.ClosedAt = time.Now().Unix()
	s.settleStateLocked()
	return nil
}

// PendingConflicts returns copies of the conflicts awaiting resolution,
// oldest first.
func (s *Session) PendingConflicts() []models.ConflictRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.ConflictRecord
	for _, rec := range s.conflicts {
		if rec.Pending() {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt < out[j].DetectedAt })
	return out
}

// ConflictHistory returns copies of every conflict seen this session,
// including resolved and ignored ones.
func (s *Session) ConflictHistory() []models.ConflictRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.ConflictRecord, 0, len(s.conflicts))
	for _, rec := range s.conflicts {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt < out[j].DetectedAt })
	return out
}

// UpdateDraft buffers a draft edit; it commits through Apply after the
// quiet period.
func (s *Session) UpdateDraft(ref models.EntityRef, content map[string]interface{}) {
	s.drafts.Update(ref, content)
}

// CancelDraft discards a buffered draft before it commits.
func (s *Session) CancelDraft(ref models.EntityRef) {
	s.drafts.Cancel(ref)
}

// Close tears the session down: buffered drafts are discarded and
// realtime subscriptions released. The offline queue stays durable for
// the next session.
func (s *Session) Close() {
	s.drafts.Close()

	s.mu.Lock()
	subs := s.subscriptions
	s.subscriptions = nil
	s.status.IsRealtimeConnected = false
	s.mu.Unlock()

	for _, u := range subs {
		u()
	}
}

// autoSave is the draft coordinator's commit path.
func (s *Session) autoSave(ref models.EntityRef, content map[string]interface{}) {
	if err := s.Apply(context.Background(), models.OperationUpdate, ref, content); err != nil {
		logging.ErrorWithCode("Draft auto-save failed",
			string(apperrors.CodeOf(err)), err,
			map[string]interface{}{"entity": ref.Key()})
	}
}

// pushCurrent pushes the entity's current local state to the remote
// store under the call timeout.
func (s *Session) pushCurrent(ctx context.Context, kind models.OperationKind, ref models.EntityRef) error {
	rctx, cancel := context.WithTimeout(ctx, s.remoteTimeout)
	defer cancel()

	if kind == models.OperationDelete {
		return s.remote.DeleteEntity(rctx, ref)
	}

	local, err := s.local.Get(ref)
	if err != nil {
		return err
	}
	if local == nil {
		return apperrors.Newf(apperrors.ErrInternal, "local snapshot for %s vanished", ref.Key())
	}

	pushed, err := s.remote.PushEntity(rctx, ref, local.Fields)
	if err != nil {
		return err
	}
	if pushed != nil {
		return s.local.Put(pushed)
	}
	return nil
}

// applyResolved persists an accepted version locally and remotely. A
// transient remote failure re-enters the offline queue so the accepted
// version is not lost.
func (s *Session) applyResolved(ctx context.Context, resolved *conflict.Resolved) error {
	if resolved.Deleted {
		if err := s.local.Delete(resolved.Ref); err != nil {
			return err
		}
	} else {
		snap := &models.Snapshot{Ref: resolved.Ref, Fields: resolved.Fields}
		if err := s.local.Put(snap); err != nil {
			return err
		}
	}

	rctx, cancel := context.WithTimeout(ctx, s.remoteTimeout)
	defer cancel()

	var err error
	if resolved.Deleted {
		err = s.remote.DeleteEntity(rctx, resolved.Ref)
	} else {
		_, err = s.remote.PushEntity(rctx, resolved.Ref, resolved.Fields)
	}
	if err == nil {
		return nil
	}
	if apperrors.IsValidation(err) {
		return err
	}

	kind := models.OperationUpdate
	var payload map[string]interface{}
	if resolved.Deleted {
		kind = models.OperationDelete
	} else {
		payload = resolved.Fields
	}
	if _, qerr := s.queue.Enqueue(queue.Input{
		Kind:     kind,
		Ref:      resolved.Ref,
		Payload:  payload,
		DeviceID: s.deviceID(),
	}); qerr != nil {
		return qerr
	}
	return nil
}

// registerConflict records a newly detected conflict and notifies the
// handler.
func (s *Session) registerConflict(rec *models.ConflictRecord) {
	s.mu.Lock()
	s.conflicts[rec.ID] = rec
	s.mu.Unlock()

	logging.Warn("Conflict detected",
		map[string]interface{}{
			"conflict_id": rec.ID,
			"entity":      rec.Ref.Key(),
			"type":        string(rec.Type),
			"priority":    string(rec.Priority),
			"detected_at": rec.DetectedAtTime().Format(time.RFC3339),
		})
	s.handler.OnConflictDetected(*rec)
}

// recordSyncError appends a bounded per-entity error descriptor.
func (s *Session) recordSyncError(ref models.EntityRef, err error) {
	s.mu.Lock()
	s.status.RecordError(models.SyncError{
		Ref:        ref,
		Code:       string(apperrors.CodeOf(err)),
		Message:    err.Error(),
		OccurredAt: time.Now().Unix(),
	})
	s.mu.Unlock()
}

// takeBuffered drains the snapshots buffered while offline, preserving
// arrival order per entity.
func (s *Session) takeBuffered() []models.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Snapshot, 0, len(s.bufferedRefs))
	for _, key := range s.bufferedRefs {
		out = append(out, s.buffered[key])
	}
	s.bufferedRefs = nil
	s.buffered = make(map[string]models.Snapshot)
	return out
}

// pendingConflictsLocked counts pending conflicts; caller holds mu.
func (s *Session) pendingConflictsLocked() int {
	n := 0
	for _, rec := range s.conflicts {
		if rec.Pending() {
			n++
		}
	}
	return n
}

// settleStateLocked drops conflicted back to idle once no pending
// conflicts remain; caller holds mu.
func (s *Session) settleStateLocked() {
	if s.state == StateConflicted && s.pendingConflictsLocked() == 0 {
		s.state = StateIdle
	}
}

func (s *Session) online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.IsOnline
}

func (s *Session) deviceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.DeviceID
}

// validateRef checks that the ref is populated and its table is known
// to the schema registry.
func (s *Session) validateRef(ref models.EntityRef) error {
	if ref.IsZero() {
		return apperrors.New(apperrors.ErrInvalid, "entity ref is empty")
	}
	_, err := s.schemas.Lookup(ref.Table)
	return err
}
