// Package lock implements a no-wait lock table: a process-scoped map
// from resource key to the transaction that owns it, guarded by a
// single mutex. Conflicts are reported immediately, never queued —
// deadlock cannot form because nothing ever waits.
package lock

import "sync"

// Table mediates conflicts between concurrent local transactions inside
// one participant process. All operations are short and constant-time,
// so a single mutex is sufficient. It carries no per-lock expiry
// timeout: no-wait locking never queues a request, so there is nothing
// for a timeout to unblock.
type Table struct {
	mu    sync.Mutex
	owner map[string]string // resource key -> owning tx id
}

func NewTable() *Table {
	return &Table{owner: make(map[string]string)}
}

// Acquire grants the lock on key to tx if it is free or already owned
// by tx. On conflict it reports the owning transaction and grants
// nothing — the caller decides policy (a conflict surfaces as a NO
// vote during prepare).
func (t *Table) Acquire(tx, key string) (acquired bool, conflictingTx string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if owner, held := t.owner[key]; held {
		if owner == tx {
			return true, ""
		}
		return false, owner
	}

	t.owner[key] = tx
	return true, ""
}

// ReleaseAll removes every entry owned by tx. Idempotent.
func (t *Table) ReleaseAll(tx string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, owner := range t.owner {
		if owner == tx {
			delete(t.owner, key)
		}
	}
}

// IsLocked reports whether key is currently held by any transaction.
func (t *Table) IsLocked(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, held := t.owner[key]
	return held
}

// OwnerOf returns the transaction id holding key, if any.
func (t *Table) OwnerOf(key string) (tx string, held bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tx, held = t.owner[key]
	return tx, held
}
