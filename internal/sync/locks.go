// Package sync provides the reconciliation engine between local edits
// and the remote authoritative store.
package sync

import "sync"

// entityLocks serializes detect/resolve/apply sequences per entity.
// Locks are advisory, in-memory and scoped to the session: at most one
// in-flight sequence per entity, while different entities proceed
// independently.
type entityLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newEntityLocks() *entityLocks {
	return &entityLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire blocks until the entity's lock is held and returns the
// release function. Subsequent requests for the same entity queue
// behind the holder.
func (l *entityLocks) acquire(key string) func() {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
