// Package queue provides unit tests for the offline operation queue.
package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/Sugarbait/PhaetonAICRM-sub017/internal/errors"
	"github.com/Sugarbait/PhaetonAICRM-sub017/internal/models"
)

// memStore is an in-memory Store for tests.
type memStore struct {
	ops      []models.OfflineOperation
	writes   int
	writeErr error
}

func (m *memStore) ReadQueue() ([]models.OfflineOperation, error) {
	return append([]models.OfflineOperation{}, m.ops...), nil
}

func (m *memStore) WriteQueue(ops []models.OfflineOperation) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	m.writes++
	m.ops = append([]models.OfflineOperation{}, ops...)
	return nil
}

func noteRef(id string) models.EntityRef {
	return models.EntityRef{Table: "notes", EntityID: id}
}

func noteInput(id string) Input {
	return Input{
		Kind:     models.OperationUpdate,
		Ref:      noteRef(id),
		Payload:  map[string]interface{}{"title": id},
		DeviceID: "dev-1",
	}
}

// TestEnqueue verifies construction and persistence of new operations.
func TestEnqueue(t *testing.T) {
	store := &memStore{}
	q, err := Open(store)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	op, err := q.Enqueue(noteInput("n-1"))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if op.ID == "" {
		t.Error("operation ID not assigned")
	}

	if op.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0", op.RetryCount)
	}

	if op.DeviceID != "dev-1" {
		t.Errorf("DeviceID = %q, want dev-1", op.DeviceID)
	}

	if store.writes != 1 {
		t.Errorf("store writes = %d, want 1 (flush after every mutation)", store.writes)
	}

	if q.Size() != 1 {
		t.Errorf("Size() = %d, want 1", q.Size())
	}
}

// TestEnqueuePersistenceFailureIsFatal verifies a durable-storage
// failure surfaces immediately and leaves the queue unchanged.
func TestEnqueuePersistenceFailureIsFatal(t *testing.T) {
	store := &memStore{writeErr: apperrors.New(apperrors.ErrQueuePersistence, "disk full")}
	q, err := Open(store)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	_, err = q.Enqueue(noteInput("n-1"))
	if !apperrors.Is(err, apperrors.ErrQueuePersistence) {
		t.Errorf("Enqueue error = %v, want QUEUE_PERSISTENCE", err)
	}

	if q.Size() != 0 {
		t.Errorf("Size() = %d after failed persist, want 0", q.Size())
	}
}

// TestEnqueueFull verifies the capacity cap.
func TestEnqueueFull(t *testing.T) {
	q, _ := Open(&memStore{}, WithMaxSize(2))

	q.Enqueue(noteInput("n-1"))
	q.Enqueue(noteInput("n-2"))

	_, err := q.Enqueue(noteInput("n-3"))
	if !apperrors.Is(err, apperrors.ErrQueueFull) {
		t.Errorf("Enqueue error = %v, want QUEUE_FULL", err)
	}
}

// TestOpenRestoresPersistedQueue verifies persisted entries survive a
// process restart.
func TestOpenRestoresPersistedQueue(t *testing.T) {
	store := &memStore{}

	first, _ := Open(store)
	first.Enqueue(noteInput("n-1"))
	first.Enqueue(noteInput("n-2"))

	second, err := Open(store)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if second.Size() != 2 {
		t.Errorf("restored Size() = %d, want 2", second.Size())
	}

	ops := second.Peek()
	if ops[0].Ref.EntityID != "n-1" || ops[1].Ref.EntityID != "n-2" {
		t.Error("restored queue lost enqueue order")
	}
}

// TestDrainFIFO verifies operations replay in enqueue order.
func TestDrainFIFO(t *testing.T) {
	q, _ := Open(&memStore{})
	q.Enqueue(noteInput("n-1"))
	q.Enqueue(noteInput("n-2"))
	q.Enqueue(noteInput("n-3"))

	var applied []string
	summary, err := q.Drain(context.Background(), func(op models.OfflineOperation) error {
		applied = append(applied, op.Ref.EntityID)
		return nil
	})
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}

	if summary.Applied != 3 || summary.Retried != 0 || len(summary.Failed) != 0 {
		t.Errorf("summary = %+v, want 3 applied", summary)
	}

	want := []string{"n-1", "n-2", "n-3"}
	for i, id := range want {
		if applied[i] != id {
			t.Fatalf("apply order = %v, want %v", applied, want)
		}
	}

	if q.Size() != 0 {
		t.Errorf("Size() = %d after full drain, want 0", q.Size())
	}
}

// TestDrainAccounting verifies the queue-size property: size after
// drain equals enqueued minus applied minus terminally failed, and no
// operation is both removed and unreported.
func TestDrainAccounting(t *testing.T) {
	q, _ := Open(&memStore{}, WithMaxRetries(1))
	q.Enqueue(noteInput("ok"))
	q.Enqueue(noteInput("bad"))
	q.Enqueue(noteInput("flaky"))

	summary, err := q.Drain(context.Background(), func(op models.OfflineOperation) error {
		switch op.Ref.EntityID {
		case "bad":
			return apperrors.New(apperrors.ErrValidation, "malformed payload")
		case "flaky":
			return apperrors.New(apperrors.ErrTransientRemote, "network down")
		default:
			return nil
		}
	})
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}

	// maxRetries=1: flaky evicts on its first failure.
	if summary.Applied != 1 {
		t.Errorf("Applied = %d, want 1", summary.Applied)
	}
	if len(summary.Failed) != 2 {
		t.Fatalf("Failed = %d entries, want 2", len(summary.Failed))
	}

	enqueued, removed := 3, summary.Applied+len(summary.Failed)
	if q.Size() != enqueued-removed {
		t.Errorf("Size() = %d, want %d", q.Size(), enqueued-removed)
	}
}

// TestDrainTransientRetry verifies the retry scenario: an operation
// failing twice survives with retryCount 2 under maxRetries 3, then
// succeeds on the third drain.
func TestDrainTransientRetry(t *testing.T) {
	q, _ := Open(&memStore{})
	q.Enqueue(noteInput("n-1"))
	q.Enqueue(noteInput("n-2"))
	q.Enqueue(noteInput("n-3"))

	failures := 0
	apply := func(op models.OfflineOperation) error {
		if op.Ref.EntityID == "n-2" && failures < 2 {
			failures++
			return apperrors.New(apperrors.ErrTransientRemote, "rate limited")
		}
		return nil
	}

	// First drain: n-1, n-3 applied; n-2 retried.
	summary, err := q.Drain(context.Background(), apply)
	if err != nil {
		t.Fatalf("first Drain failed: %v", err)
	}
	if summary.Applied != 2 || summary.Retried != 1 || len(summary.Failed) != 0 {
		t.Fatalf("first summary = %+v", summary)
	}

	remaining := q.Peek()
	if len(remaining) != 1 || remaining[0].RetryCount != 1 {
		t.Fatalf("after first drain: %+v", remaining)
	}

	// Second drain: n-2 fails again, retryCount 2, still not evicted.
	summary, err = q.Drain(context.Background(), apply)
	if err != nil {
		t.Fatalf("second Drain failed: %v", err)
	}
	if summary.Retried != 1 || len(summary.Failed) != 0 {
		t.Fatalf("second summary = %+v", summary)
	}

	remaining = q.Peek()
	if remaining[0].RetryCount != 2 {
		t.Fatalf("RetryCount = %d, want 2", remaining[0].RetryCount)
	}

	// Third drain: succeeds.
	summary, err = q.Drain(context.Background(), apply)
	if err != nil {
		t.Fatalf("third Drain failed: %v", err)
	}
	if summary.Applied != 1 || q.Size() != 0 || len(summary.Failed) != 0 {
		t.Fatalf("third summary = %+v, size = %d", summary, q.Size())
	}
}

// TestDrainDueSkipsBackedOffOperations verifies a timer-driven drain
// honors the per-operation backoff gate: an operation that just failed
// transiently is not replayed until its retry time, while a forced
// drain still replays it immediately.
func TestDrainDueSkipsBackedOffOperations(t *testing.T) {
	q, _ := Open(&memStore{})
	q.Enqueue(noteInput("n-1"))

	calls := 0
	failOnce := func(op models.OfflineOperation) error {
		calls++
		if calls == 1 {
			return apperrors.New(apperrors.ErrTransientRemote, "network down")
		}
		return nil
	}

	summary, err := q.DrainDue(context.Background(), failOnce)
	if err != nil {
		t.Fatalf("first DrainDue failed: %v", err)
	}
	if summary.Retried != 1 {
		t.Fatalf("first summary = %+v, want 1 retried", summary)
	}

	if got := q.Peek()[0].NextRetryAt; got <= time.Now().Unix() {
		t.Fatalf("NextRetryAt = %d, want a future timestamp", got)
	}

	// Immediate second timer pass: the backoff gate holds, so apply
	// must not run again yet.
	summary, err = q.DrainDue(context.Background(), failOnce)
	if err != nil {
		t.Fatalf("second DrainDue failed: %v", err)
	}
	if summary.Skipped != 1 || summary.Applied != 0 {
		t.Errorf("second summary = %+v, want 1 skipped", summary)
	}
	if calls != 1 {
		t.Errorf("apply calls = %d, want 1 (backed-off operation replayed early)", calls)
	}

	// A forced drain (reconnect, manual sync) bypasses the gate.
	summary, err = q.Drain(context.Background(), failOnce)
	if err != nil {
		t.Fatalf("forced Drain failed: %v", err)
	}
	if summary.Applied != 1 || q.Size() != 0 {
		t.Errorf("forced summary = %+v, size = %d, want applied and empty", summary, q.Size())
	}
}

// TestDrainValidationTerminal verifies validation-class failures are
// not retried.
func TestDrainValidationTerminal(t *testing.T) {
	q, _ := Open(&memStore{})
	q.Enqueue(noteInput("n-1"))

	calls := 0
	summary, err := q.Drain(context.Background(), func(op models.OfflineOperation) error {
		calls++
		return apperrors.New(apperrors.ErrValidation, "malformed payload")
	})
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}

	if len(summary.Failed) != 1 {
		t.Fatalf("Failed = %d, want 1", len(summary.Failed))
	}

	if q.Size() != 0 {
		t.Errorf("Size() = %d, want 0 (terminal removal)", q.Size())
	}

	// Second drain must not re-apply it.
	q.Drain(context.Background(), func(op models.OfflineOperation) error {
		calls++
		return nil
	})
	if calls != 1 {
		t.Errorf("apply calls = %d, want 1 (no retries for validation errors)", calls)
	}
}

// TestDrainCancellation verifies cancellation stops before the next
// operation without losing queue consistency.
func TestDrainCancellation(t *testing.T) {
	q, _ := Open(&memStore{})
	q.Enqueue(noteInput("n-1"))
	q.Enqueue(noteInput("n-2"))

	ctx, cancel := context.WithCancel(context.Background())

	summary, err := q.Drain(ctx, func(op models.OfflineOperation) error {
		cancel() // cancel during the first operation
		return nil
	})
	if err == nil {
		t.Fatal("Drain = nil error after cancellation")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Drain error = %v, want context.Canceled in chain", err)
	}

	// First op completed and was removed; second untouched.
	if summary.Applied != 1 {
		t.Errorf("Applied = %d, want 1", summary.Applied)
	}
	if q.Size() != 1 {
		t.Errorf("Size() = %d, want 1", q.Size())
	}
	if q.Peek()[0].Ref.EntityID != "n-2" {
		t.Error("wrong operation left in queue after cancellation")
	}
}

// TestHasPending verifies per-entity pending lookup.
func TestHasPending(t *testing.T) {
	q, _ := Open(&memStore{})
	q.Enqueue(noteInput("n-1"))

	if !q.HasPending(noteRef("n-1")) {
		t.Error("HasPending = false for queued entity")
	}

	if q.HasPending(noteRef("n-9")) {
		t.Error("HasPending = true for unqueued entity")
	}
}

// TestBackoffCap verifies exponential backoff is capped.
func TestBackoffCap(t *testing.T) {
	if calculateBackoff(1) != 2 {
		t.Errorf("calculateBackoff(1) = %d, want 2", calculateBackoff(1))
	}
	if calculateBackoff(3) != 8 {
		t.Errorf("calculateBackoff(3) = %d, want 8", calculateBackoff(3))
	}
	if calculateBackoff(20) != 300 {
		t.Errorf("calculateBackoff(20) = %d, want 300 (cap)", calculateBackoff(20))
	}
}
