package lockmgr

import (
	"sync"

	"github.com/relay-db/lockmgr/lockmode"
	"github.com/relay-db/lockmgr/txn"
)

// request is one transaction's position in a resource's queue: the mode
// it asked for (or was upgraded to) and whether it has been granted.
// Insertion order follows grant order (granted requests precede waiting
// ones is an emergent property here, since this implementation never
// queues an ungranted request: a waiter blocks on the queue's cond
// without appearing in requests).
type request struct {
	txnID   txn.ID
	mode    lockmode.Mode
	granted bool
}

// queue is a per-resource request queue: an ordered list of requests, the
// group mode (the strongest mode among granted requests), and the
// condition variable waiters block on. Every queue's cond shares the
// same *sync.Mutex — the lock table's single global latch — so a waiter
// on one queue releases the one latch that every other queue's
// bookkeeping also depends on.
type queue struct {
	requests  []*request
	groupMode lockmode.Mode
	cond      *sync.Cond
}

func newQueue(latch *sync.Mutex) *queue {
	return &queue{
		groupMode: lockmode.None,
		cond:      sync.NewCond(latch),
	}
}

// find returns this transaction's existing request on the queue, if any.
// Invariant I3 guarantees there is at most one.
func (q *queue) find(id txn.ID) *request {
	for _, r := range q.requests {
		if r.txnID == id {
			return r
		}
	}
	return nil
}

// blocker returns the oldest (lowest-txnID) granted request, from a
// transaction other than id, whose mode is incompatible with requested.
// Wait-die must be arbitrated against the oldest conflicting holder, not
// just any one of them: a requester younger than even one conflicting
// holder must die, and picking an arbitrary match can let it wait on a
// younger holder instead, producing a younger-waits-for-older edge.
// Because the queue's group mode is realized by at least one actual
// granted request (it is the max of their modes), a conflict against the
// group mode always has a concrete blocker to find here.
func (q *queue) blocker(id txn.ID, requested lockmode.Mode) *request {
	var oldest *request
	for _, r := range q.requests {
		if r.txnID != id && r.granted && !lockmode.CompatibleWith(requested, r.mode) {
			if oldest == nil || r.txnID < oldest.txnID {
				oldest = r
			}
		}
	}
	return oldest
}

// anyOtherHolder returns the oldest (lowest-txnID) granted request from a
// transaction other than id, regardless of mode. Used by the await-only
// gap protocol and by upgrade paths that require "no other holder at
// all"; picking the oldest keeps the wait-die decision correct for the
// same reason blocker does.
func (q *queue) anyOtherHolder(id txn.ID) *request {
	var oldest *request
	for _, r := range q.requests {
		if r.txnID != id && r.granted {
			if oldest == nil || r.txnID < oldest.txnID {
				oldest = r
			}
		}
	}
	return oldest
}

// otherHolderWithMode returns the oldest (lowest-txnID) granted request
// from a transaction other than id holding exactly one of the given
// modes.
func (q *queue) otherHolderWithMode(id txn.ID, modes ...lockmode.Mode) *request {
	var oldest *request
	for _, r := range q.requests {
		if r.txnID == id || !r.granted {
			continue
		}
		for _, m := range modes {
			if r.mode == m && (oldest == nil || r.txnID < oldest.txnID) {
				oldest = r
			}
		}
	}
	return oldest
}

// otherHolderCount counts granted requests from transactions other than
// id.
func (q *queue) otherHolderCount(id txn.ID) int {
	n := 0
	for _, r := range q.requests {
		if r.txnID != id && r.granted {
			n++
		}
	}
	return n
}

// grant appends a brand-new granted request and folds it into the group
// mode.
func (q *queue) grant(id txn.ID, mode lockmode.Mode) {
	q.requests = append(q.requests, &request{txnID: id, mode: mode, granted: true})
	q.groupMode = lockmode.Max(q.groupMode, mode)
}

// upgrade mutates an existing request's mode in place (never appends —
// I3). It does not touch the group mode; the caller folds the new mode
// in with Max. Upgrades only ever strengthen a request, so that fold is
// sufficient and never needs to rescan the whole queue the way release
// does.
func (r *request) upgrade(mode lockmode.Mode) {
	r.mode = mode
}

// release removes every request belonging to id, recomputes the group
// mode as the strongest mode among the survivors, and reports whether
// anything was actually removed.
func (q *queue) release(id txn.ID) bool {
	kept := q.requests[:0]
	removed := false
	for _, r := range q.requests {
		if r.txnID == id {
			removed = true
			continue
		}
		kept = append(kept, r)
	}
	q.requests = kept

	mode := lockmode.None
	for _, r := range q.requests {
		if r.granted {
			mode = lockmode.Max(mode, r.mode)
		}
	}
	q.groupMode = mode
	return removed
}

// empty reports whether the queue holds no requests at all. Manager keeps
// empty queues in its table, since a waiter may still be blocked on one.
func (q *queue) empty() bool {
	return len(q.requests) == 0
}
