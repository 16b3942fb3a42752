package lending

import (
	"sort"
	"sync"
)

// entityLocks serialises mutations per ledger entity. Locks are keyed by a
// stable string ("cp/<id>", "loan/<id>", "lender/<addr>") and acquired in
// sorted key order so concurrent multi-entity operations cannot deadlock.
// Entities are never destroyed, so lock entries are kept for the lifetime of
// the engine.
type entityLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newEntityLocks() *entityLocks {
	return &entityLocks{locks: make(map[string]*sync.Mutex)}
}

func (e *entityLocks) lockFor(key string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[key] = lock
	}
	return lock
}

// acquire locks every key (deduplicated, sorted) and returns a release
// function that unlocks them in reverse order.
func (e *entityLocks) acquire(keys ...string) func() {
	unique := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		unique[key] = struct{}{}
	}
	sorted := make([]string, 0, len(unique))
	for key := range unique {
		sorted = append(sorted, key)
	}
	sort.Strings(sorted)

	held := make([]*sync.Mutex, 0, len(sorted))
	for _, key := range sorted {
		lock := e.lockFor(key)
		lock.Lock()
		held = append(held, lock)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}
