// Package db provides unit tests for durable local storage.
package db

import (
	"testing"

	"github.com/Sugarbait/PhaetonAICRM-sub017/internal/models"
)

// openTestDB opens a database in a per-test temp directory.
func openTestDB(t *testing.T) *DB {
	t.Helper()

	database, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

// TestOpenCreatesSchema verifies the schema exists after open.
func TestOpenCreatesSchema(t *testing.T) {
	database := openTestDB(t)

	for _, table := range []string{"offline_queue", "sync_meta", "entities"} {
		var name string
		err := database.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not created: %v", table, err)
		}
	}
}

// TestOpenIsIdempotent verifies reopening an existing database works.
func TestOpenIsIdempotent(t *testing.T) {
	dir := t.TempDir()

	first, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	first.Close()

	second, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	second.Close()
}

// TestQueueStoreRoundTrip verifies operations survive a write/read cycle
// in enqueue order.
func TestQueueStoreRoundTrip(t *testing.T) {
	store := NewQueueStore(openTestDB(t))

	ops := []models.OfflineOperation{
		{
			ID:         "op-1",
			Kind:       models.OperationUpdate,
			Ref:        models.EntityRef{Table: "notes", EntityID: "n-1"},
			Payload:    map[string]interface{}{"title": "first"},
			DeviceID:   "dev-1",
			EnqueuedAt: 100,
		},
		{
			ID:         "op-2",
			Kind:       models.OperationDelete,
			Ref:        models.EntityRef{Table: "notes", EntityID: "n-2"},
			DeviceID:   "dev-1",
			EnqueuedAt: 101,
			RetryCount: 2,
		},
	}

	if err := store.WriteQueue(ops); err != nil {
		t.Fatalf("WriteQueue failed: %v", err)
	}

	loaded, err := store.ReadQueue()
	if err != nil {
		t.Fatalf("ReadQueue failed: %v", err)
	}

	if len(loaded) != 2 {
		t.Fatalf("ReadQueue returned %d ops, want 2", len(loaded))
	}

	if loaded[0].ID != "op-1" || loaded[1].ID != "op-2" {
		t.Errorf("order not preserved: got %s, %s", loaded[0].ID, loaded[1].ID)
	}

	if loaded[1].RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", loaded[1].RetryCount)
	}

	if loaded[0].Payload["title"] != "first" {
		t.Errorf("Payload not preserved: %v", loaded[0].Payload)
	}
}

// TestQueueStoreWriteReplaces verifies each write replaces the queue.
func TestQueueStoreWriteReplaces(t *testing.T) {
	store := NewQueueStore(openTestDB(t))

	if err := store.WriteQueue([]models.OfflineOperation{{ID: "op-1", Kind: models.OperationCreate}}); err != nil {
		t.Fatalf("WriteQueue failed: %v", err)
	}

	if err := store.WriteQueue(nil); err != nil {
		t.Fatalf("WriteQueue(empty) failed: %v", err)
	}

	loaded, err := store.ReadQueue()
	if err != nil {
		t.Fatalf("ReadQueue failed: %v", err)
	}

	if len(loaded) != 0 {
		t.Errorf("queue has %d ops after empty write, want 0", len(loaded))
	}
}

// TestMetaStore verifies key/value persistence and the missing-key form.
func TestMetaStore(t *testing.T) {
	store := NewMetaStore(openTestDB(t))

	_, found, err := store.Get("device_id")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if found {
		t.Error("Get(unset key) found = true")
	}

	if err := store.Set("device_id", "dev-42"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	value, found, err := store.Get("device_id")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !found || value != "dev-42" {
		t.Errorf("Get = (%q, %v), want (dev-42, true)", value, found)
	}

	// Overwrite
	if err := store.Set("device_id", "dev-43"); err != nil {
		t.Fatalf("Set(overwrite) failed: %v", err)
	}

	value, _, _ = store.Get("device_id")
	if value != "dev-43" {
		t.Errorf("Get after overwrite = %q, want dev-43", value)
	}
}

// TestEntityStoreRoundTrip verifies snapshot persistence.
func TestEntityStoreRoundTrip(t *testing.T) {
	store := NewEntityStore(openTestDB(t))
	ref := models.EntityRef{Table: "user_profiles", EntityID: "u-1"}

	missing, err := store.Get(ref)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if missing != nil {
		t.Error("Get(absent) returned a snapshot")
	}

	snap := &models.Snapshot{
		Ref:    ref,
		Fields: map[string]interface{}{"display_name": "Avery", "updated_at": float64(100)},
	}
	if err := store.Put(snap); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	loaded, err := store.Get(ref)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if loaded == nil {
		t.Fatal("Get returned nil after Put")
	}
	if loaded.Fields["display_name"] != "Avery" {
		t.Errorf("display_name = %v, want Avery", loaded.Fields["display_name"])
	}

	if err := store.Delete(ref); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	gone, err := store.Get(ref)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if gone != nil {
		t.Error("Get returned a snapshot after Delete")
	}

	// Deleting an absent entity is a no-op.
	if err := store.Delete(ref); err != nil {
		t.Errorf("Delete(absent) = %v, want nil", err)
	}
}

// TestEntityStoreRefs verifies listing stored entities in insertion
// order.
func TestEntityStoreRefs(t *testing.T) {
	store := NewEntityStore(openTestDB(t))

	empty, err := store.Refs()
	if err != nil {
		t.Fatalf("Refs failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("Refs on empty store = %v, want none", empty)
	}

	want := []models.EntityRef{
		{Table: "user_settings", EntityID: "u-1"},
		{Table: "notes", EntityID: "n-1"},
		{Table: "notes", EntityID: "n-2"},
	}
	for _, ref := range want {
		if err := store.Put(&models.Snapshot{Ref: ref, Fields: map[string]interface{}{"x": "y"}}); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	refs, err := store.Refs()
	if err != nil {
		t.Fatalf("Refs failed: %v", err)
	}
	if len(refs) != len(want) {
		t.Fatalf("Refs returned %d entries, want %d", len(refs), len(want))
	}
	for i := range want {
		if refs[i] != want[i] {
			t.Errorf("refs[%d] = %v, want %v", i, refs[i], want[i])
		}
	}
}
