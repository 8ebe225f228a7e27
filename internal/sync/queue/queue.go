// Package queue provides the durable offline operation queue: mutations
// that could not be applied to the remote store immediately are recorded
// here and replayed in enqueue order when connectivity returns.
package queue

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/Sugarbait/PhaetonAICRM-sub017/internal/errors"
	"github.com/Sugarbait/PhaetonAICRM-sub017/internal/logging"
	"github.com/Sugarbait/PhaetonAICRM-sub017/internal/models"
	"github.com/Sugarbait/PhaetonAICRM-sub017/internal/uuid"
)

// DefaultMaxRetries is how many failed replays evict an operation.
const DefaultMaxRetries = 3

// Store is the durable persistence used by the queue. Every mutation of
// the queue is flushed through it so an abrupt process termination does
// not lose entries.
type Store interface {
	ReadQueue() ([]models.OfflineOperation, error)
	WriteQueue(ops []models.OfflineOperation) error
}

// Input describes a mutation to enqueue.
type Input struct {
	Kind     models.OperationKind
	Ref      models.EntityRef
	Payload  map[string]interface{}
	DeviceID string
}

// FailedOperation reports one terminally failed operation from a drain
// pass. Terminal failures are removed from the active queue but always
// surfaced here, never silently dropped.
type FailedOperation struct {
	Op  models.OfflineOperation
	Err error
}

// DrainSummary reports the outcome of one drain pass.
type DrainSummary struct {
	Applied int
	Retried int
	Skipped int
	Failed  []FailedOperation
}

// Queue is the offline operation queue. Operations are held in enqueue
// order (FIFO across the whole queue, preserving causal intent for
// multi-entity batches) and mirrored to the durable store after every
// mutation.
type Queue struct {
	mu         sync.Mutex
	store      Store
	ops        []models.OfflineOperation
	maxRetries int
	maxSize    int
}

// Option configures a Queue.
type Option func(*Queue)

// WithMaxRetries overrides the retry limit.
func WithMaxRetries(n int) Option {
	return func(q *Queue) { q.maxRetries = n }
}

// WithMaxSize caps the number of queued operations.
func WithMaxSize(n int) Option {
	return func(q *Queue) { q.maxSize = n }
}

// Open loads the persisted queue from the store.
func Open(store Store, opts ...Option) (*Queue, error) {
	ops, err := store.ReadQueue()
	if err != nil {
		return nil, err
	}

	q := &Queue{
		store:      store,
		ops:        ops,
		maxRetries: DefaultMaxRetries,
		maxSize:    1000,
	}
	for _, opt := range opts {
		opt(q)
	}

	if len(ops) > 0 {
		logging.Info("Restored offline queue",
			map[string]interface{}{"pending": len(ops)})
	}

	return q, nil
}

// Enqueue constructs and persists a new operation with RetryCount 0.
// A durable-storage failure is reported as QUEUE_PERSISTENCE and leaves
// the in-memory queue unchanged: losing the queue risks silent data
// loss, so the caller must treat it as fatal. The capacity cap guards
// the whole-queue persistence file against unbounded growth; hitting it
// is reported as the equally fatal QUEUE_FULL.
func (q *Queue) Enqueue(input Input) (models.OfflineOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ops) >= q.maxSize {
		return models.OfflineOperation{}, apperrors.Newf(apperrors.ErrQueueFull,
			"offline queue is full (max size: %d)", q.maxSize)
	}

	op := models.OfflineOperation{
		ID:         uuid.New(),
		Kind:       input.Kind,
		Ref:        input.Ref,
		Payload:    input.Payload,
		DeviceID:   input.DeviceID,
		EnqueuedAt: time.Now().Unix(),
		RetryCount: 0,
	}

	next := append(append([]models.OfflineOperation{}, q.ops...), op)
	if err := q.store.WriteQueue(next); err != nil {
		return models.OfflineOperation{}, err
	}
	q.ops = next

	logging.Info("Enqueued offline operation",
		map[string]interface{}{
			"op_id":  op.ID,
			"kind":   string(op.Kind),
			"entity": op.Ref.Key(),
		})

	return op, nil
}

// Drain replays queued operations in enqueue order, invoking apply for
// each. Outcomes per operation:
//   - nil error: removed and counted as applied
//   - validation-class error: terminal immediately (retrying the same
//     payload cannot succeed), removed and reported in Failed
//   - transient error: RetryCount incremented; evicted into Failed once
//     RetryCount reaches the retry limit, otherwise kept for the next
//     drain cycle and counted as retried
//
// A cancelled context stops the pass before the next operation's apply
// call, never mid-operation; already-processed outcomes are kept. The
// persisted queue is flushed after every mutation.
//
// Drain ignores the per-operation backoff gate: reconnect and forced
// passes replay everything. Timer-driven passes use DrainDue instead.
func (q *Queue) Drain(ctx context.Context, apply func(op models.OfflineOperation) error) (DrainSummary, error) {
	return q.drain(ctx, apply, false)
}

// DrainDue is Drain for timer-driven passes: operations whose backoff
// window has not elapsed are left untouched and counted as Skipped
// instead of replayed.
func (q *Queue) DrainDue(ctx context.Context, apply func(op models.OfflineOperation) error) (DrainSummary, error) {
	return q.drain(ctx, apply, true)
}

func (q *Queue) drain(ctx context.Context, apply func(op models.OfflineOperation) error, honorBackoff bool) (DrainSummary, error) {
	q.mu.Lock()
	pending := append([]models.OfflineOperation{}, q.ops...)
	q.mu.Unlock()

	var summary DrainSummary
	now := time.Now().Unix()

	for _, op := range pending {
		if honorBackoff && !op.RetryDue(now) {
			summary.Skipped++
			continue
		}
		if err := ctx.Err(); err != nil {
			return summary, apperrors.Wrap(apperrors.ErrSyncFailed, "drain cancelled", err)
		}

		err := apply(op)
		if err == nil {
			if perr := q.remove(op.ID); perr != nil {
				return summary, perr
			}
			summary.Applied++
			continue
		}

		if apperrors.IsValidation(err) {
			if perr := q.remove(op.ID); perr != nil {
				return summary, perr
			}
			summary.Failed = append(summary.Failed, FailedOperation{Op: op, Err: err})
			logging.ErrorWithCode("Offline operation terminally failed",
				string(apperrors.CodeOf(err)), err,
				map[string]interface{}{"op_id": op.ID, "entity": op.Ref.Key()})
			continue
		}

		// Transient failure
		retries, perr := q.fail(op.ID, err)
		if perr != nil {
			return summary, perr
		}

		if retries >= q.maxRetries {
			evicted, perr := q.take(op.ID)
			if perr != nil {
				return summary, perr
			}
			summary.Failed = append(summary.Failed, FailedOperation{Op: evicted, Err: err})
			logging.ErrorWithCode("Offline operation exceeded retry limit",
				string(apperrors.ErrSyncFailed), err,
				map[string]interface{}{
					"op_id":       op.ID,
					"entity":      op.Ref.Key(),
					"retry_count": retries,
					"enqueued_at": op.EnqueuedAtTime().Format(time.RFC3339),
				})
			continue
		}

		summary.Retried++
	}

	return summary, nil
}

// remove deletes an operation and flushes the queue.
func (q *Queue) remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	next := make([]models.OfflineOperation, 0, len(q.ops))
	for _, op := range q.ops {
		if op.ID != id {
			next = append(next, op)
		}
	}

	if err := q.store.WriteQueue(next); err != nil {
		return err
	}
	q.ops = next
	return nil
}

// take removes and returns an operation, flushing the queue.
func (q *Queue) take(id string) (models.OfflineOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var taken models.OfflineOperation
	next := make([]models.OfflineOperation, 0, len(q.ops))
	for _, op := range q.ops {
		if op.ID == id {
			taken = op
			continue
		}
		next = append(next, op)
	}

	if err := q.store.WriteQueue(next); err != nil {
		return models.OfflineOperation{}, err
	}
	q.ops = next
	return taken, nil
}

// fail increments an operation's retry count with exponential backoff
// metadata and flushes the queue. Returns the new retry count.
func (q *Queue) fail(id string, cause error) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	retries := 0
	next := make([]models.OfflineOperation, len(q.ops))
	for i, op := range q.ops {
		if op.ID == id {
			op.RetryCount++
			op.LastError = cause.Error()
			op.NextRetryAt = time.Now().Unix() + calculateBackoff(op.RetryCount)
			retries = op.RetryCount
		}
		next[i] = op
	}

	if err := q.store.WriteQueue(next); err != nil {
		return 0, err
	}
	q.ops = next
	return retries, nil
}

// calculateBackoff returns the retry delay in seconds: 2^retryCount
// doubling from 2s, capped at 5 minutes. Reconnect and forced drains
// ignore this gate; it only spaces out timer-driven drains.
func calculateBackoff(retryCount int) int64 {
	backoff := int64(1) << uint(retryCount)
	if backoff > 300 {
		backoff = 300
	}
	return backoff
}

// HasPending reports whether any queued operation references the entity.
func (q *Queue) HasPending(ref models.EntityRef) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, op := range q.ops {
		if op.Ref == ref {
			return true
		}
	}
	return false
}

// Peek returns a copy of the queued operations in enqueue order.
func (q *Queue) Peek() []models.OfflineOperation {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]models.OfflineOperation, len(q.ops))
	copy(out, q.ops)
	return out
}

// Size returns the number of queued operations.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}
