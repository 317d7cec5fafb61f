package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultLockTTL is how long an instance lock is honored before it may be reclaimed.
const DefaultLockTTL = 30 * time.Second

type lockEntry struct {
	token      string
	owner      string
	acquiredAt time.Time
}

// lockTable is a per-instance advisory lock with owner tokens. Every read-modify-write
// happens under mu, so acquisition is a single check-and-set.
type lockTable struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	locks map[string]lockEntry
}

func newLockTable(ttl time.Duration, now func() time.Time) *lockTable {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	if now == nil {
		now = time.Now
	}
	return &lockTable{ttl: ttl, now: now, locks: make(map[string]lockEntry)}
}

// acquire returns a fresh token, or a LockConflict error when another owner holds a
// live lock. The same owner takes over its own lock; the superseded token then fails
// commit and release.
func (t *lockTable) acquire(id, owner string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if held, ok := t.locks[id]; ok && held.owner != owner {
		age := now.Sub(held.acquiredAt)
		if age < t.ttl {
			return "", cloneRuntimeError(ErrLockConflict, "", nil, map[string]any{
				"workflow_id": id,
				"held_by":     held.owner,
				"held_for":    age.String(),
				"expires_in":  (t.ttl - age).String(),
			})
		}
	}
	token := uuid.NewString()
	t.locks[id] = lockEntry{token: token, owner: owner, acquiredAt: now}
	return token, nil
}

// release drops the lock only if token still owns it.
func (t *lockTable) release(id, token string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if held, ok := t.locks[id]; ok && held.token == token {
		delete(t.locks, id)
		return true
	}
	return false
}

// commit runs fn while holding the table mutex, after confirming token still owns id.
// A holder whose lock was reclaimed gets LockConflict and fn is not run.
func (t *lockTable) commit(id, token string, fn func()) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	held, ok := t.locks[id]
	if !ok || held.token != token {
		meta := map[string]any{"workflow_id": id}
		if ok {
			meta["held_by"] = held.owner
		}
		return cloneRuntimeError(ErrLockConflict, "workflow instance lock was reclaimed", nil, meta)
	}
	fn()
	return nil
}

// held counts locks still inside their TTL.
func (t *lockTable) held() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	n := 0
	for _, l := range t.locks {
		if now.Sub(l.acquiredAt) < t.ttl {
			n++
		}
	}
	return n
}
