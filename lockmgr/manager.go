// Package lockmgr is the lock manager: a mapping from resource identifier
// to request queue, protected by one process-wide latch, that grants,
// upgrades, arbitrates conflicts via wait-die, and releases locks under
// strict two-phase locking.
//
// Every queue is driven by one predicate loop around one shared condition
// variable per resource, generalized to the full six-mode-plus-gap
// lattice in package lockmode, plus wait-die arbitration, upgrade-in-place,
// and group-mode bookkeeping on top.
package lockmgr

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/relay-db/lockmgr/lockid"
	"github.com/relay-db/lockmgr/lockmode"
	"github.com/relay-db/lockmgr/txn"
)

// Manager owns the lock table: one queue per resource, all guarded by a
// single global latch. Operations against the table are linearizable —
// the latch gives a total order over grants, upgrades, and releases.
type Manager struct {
	mu     sync.Mutex
	queues map[lockid.ResourceID]*queue

	logger zerolog.Logger
	clock  func() time.Time
}

// Option configures a Manager at construction time. There is no
// file/env/CLI configuration surface for this library; options are the
// only knobs.
type Option func(*Manager)

// WithLogger attaches a zerolog.Logger that every grant/wait/die/release
// transition is reported through. The default is zerolog.Nop(), so a
// Manager built with no options is silent.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock overrides the clock used to timestamp log events. It has no
// effect on lock correctness, which depends only on transaction id order
// (see waitDie). Tests use this for deterministic log output.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) { m.clock = clock }
}

// NewManager builds an empty lock table.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		queues: make(map[lockid.ResourceID]*queue),
		logger: zerolog.Nop(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// getOrCreateQueue returns rid's queue, creating it if this is the first
// request against rid. Must be called with mu held.
func (m *Manager) getOrCreateQueue(rid lockid.ResourceID) *queue {
	q, ok := m.queues[rid]
	if !ok {
		q = newQueue(&m.mu)
		m.queues[rid] = q
	}
	return q
}

// checkStateForLock is the common state guard every lock operation runs
// before touching the queue table. skip reports a benign no-op
// (committed/aborted transactions silently fail to acquire); a non-nil
// err is a fatal abort condition the caller must propagate.
func (m *Manager) checkStateForLock(t *txn.Transaction, rid lockid.ResourceID) (skip bool, err error) {
	switch t.State() {
	case txn.Committed, txn.Aborted:
		return true, nil
	case txn.Default:
		t.SetState(txn.Growing)
		return false, nil
	case txn.Growing:
		return false, nil
	case txn.Shrinking:
		return true, txn.NewAbortError(t.ID(), txn.LockOnShrinking, rid)
	default:
		return true, txn.NewAbortError(t.ID(), txn.Internal, rid)
	}
}

// waitDie arbitrates a conflict against holder: t waits on queue's
// condvar if it is older than the blocking holder, otherwise it dies
// with DeadlockPrevention. Called with mu held; Wait releases mu and
// reacquires it before returning, per standard condvar discipline.
func (m *Manager) waitDie(t *txn.Transaction, holder *request, q *queue, rid lockid.ResourceID) error {
	if t.ID() < holder.txnID {
		m.logger.Debug().
			Uint64("txn_id", uint64(t.ID())).
			Uint64("blocked_on", uint64(holder.txnID)).
			Str("resource", rid.String()).
			Time("at", m.clock()).
			Msg("lockmgr: waiting (older than holder)")
		q.cond.Wait()
		return nil
	}
	m.logger.Warn().
		Uint64("txn_id", uint64(t.ID())).
		Uint64("blocked_on", uint64(holder.txnID)).
		Str("resource", rid.String()).
		Time("at", m.clock()).
		Msg("lockmgr: dying for deadlock prevention (younger than holder)")
	return txn.NewAbortError(t.ID(), txn.DeadlockPrevention, rid)
}

// waitUntil loops the single-holder wait-die decision until predicate
// holds, re-picking a blocker (via pick) on every spurious wakeup. pick
// must return nil only once predicate is already true.
func (m *Manager) waitUntil(t *txn.Transaction, q *queue, rid lockid.ResourceID, predicate func() bool, pick func() *request) error {
	for !predicate() {
		holder := pick()
		if holder == nil {
			// predicate is false but no blocking holder can be found:
			// the queue invariants have been violated by a bug elsewhere
			// in this package, not by caller misuse.
			return txn.NewAbortError(t.ID(), txn.Internal, rid)
		}
		if err := m.waitDie(t, holder, q, rid); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) logGrant(t *txn.Transaction, rid lockid.ResourceID, mode lockmode.Mode) {
	m.logger.Debug().
		Uint64("txn_id", uint64(t.ID())).
		Str("resource", rid.String()).
		Str("mode", mode.String()).
		Time("at", m.clock()).
		Msg("lockmgr: granted")
}

// --- record-level locks -----------------------------------------------

// LockSharedRecord acquires S on a RECORD resource.
func (m *Manager) LockSharedRecord(t *txn.Transaction, rid lockid.ResourceID) error {
	return m.lockRecord(t, rid, lockmode.S)
}

// LockExclusiveRecord acquires X on a RECORD resource, upgrading S->X in
// place if this transaction already holds S.
func (m *Manager) LockExclusiveRecord(t *txn.Transaction, rid lockid.ResourceID) error {
	return m.lockRecord(t, rid, lockmode.X)
}

func (m *Manager) lockRecord(t *txn.Transaction, rid lockid.ResourceID, requested lockmode.Mode) error {
	if rid.Type != lockid.Record {
		panic("lockmgr: lockRecord called with a non-RECORD resource id")
	}
	if skip, err := m.checkStateForLock(t, rid); skip || err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.getOrCreateQueue(rid)

	if existing := q.find(t.ID()); existing != nil {
		if lockmode.IsNoOp(existing.mode, requested) {
			return nil
		}
		// Only S -> X is a real record upgrade; admissible iff this txn
		// is the only holder.
		predicate := func() bool { return q.otherHolderCount(t.ID()) == 0 }
		pick := func() *request { return q.anyOtherHolder(t.ID()) }
		if err := m.waitUntil(t, q, rid, predicate, pick); err != nil {
			return err
		}
		existing.upgrade(lockmode.X)
		q.groupMode = lockmode.Max(q.groupMode, lockmode.X)
		m.logGrant(t, rid, lockmode.X)
		return nil
	}

	predicate := func() bool { return lockmode.CompatibleWithGroup(requested, q.groupMode) }
	pick := func() *request { return q.blocker(t.ID(), requested) }
	if err := m.waitUntil(t, q, rid, predicate, pick); err != nil {
		return err
	}

	q.grant(t.ID(), requested)
	t.AddHeld(rid)
	m.logGrant(t, rid, requested)
	return nil
}

// --- gap locks ----------------------------------------------------------

// LockGapIndex acquires GAP on a GAP resource. GAP only conflicts with X
// on the same gap, and nothing else ever takes X on a gap, so this never
// actually has to wait in practice — it is still routed through the same
// conflict check for uniformity with the other operations.
func (m *Manager) LockGapIndex(t *txn.Transaction, gid lockid.ResourceID) error {
	if gid.Type != lockid.Gap {
		panic("lockmgr: LockGapIndex called with a non-GAP resource id")
	}
	if skip, err := m.checkStateForLock(t, gid); skip || err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.getOrCreateQueue(gid)

	if q.find(t.ID()) != nil {
		return nil
	}

	predicate := func() bool { return lockmode.CompatibleWithGroup(lockmode.Gap, q.groupMode) }
	pick := func() *request { return q.blocker(t.ID(), lockmode.Gap) }
	if err := m.waitUntil(t, q, gid, predicate, pick); err != nil {
		return err
	}

	q.grant(t.ID(), lockmode.Gap)
	t.AddHeld(gid)
	m.logGrant(t, gid, lockmode.Gap)
	return nil
}

// AwaitIndexGap grants nothing. It simply waits (or dies) until no other
// transaction holds GAP on gid, so an insert executor can then safely
// insert without falling into a locked gap. Repeated calls are not
// idempotent registrations — there is nothing to register — they are
// pure synchronization points.
func (m *Manager) AwaitIndexGap(t *txn.Transaction, gid lockid.ResourceID) error {
	if gid.Type != lockid.Gap {
		panic("lockmgr: AwaitIndexGap called with a non-GAP resource id")
	}
	if skip, err := m.checkStateForLock(t, gid); skip || err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.getOrCreateQueue(gid)

	predicate := func() bool { return q.otherHolderCount(t.ID()) == 0 }
	pick := func() *request { return q.anyOtherHolder(t.ID()) }
	return m.waitUntil(t, q, gid, predicate, pick)
}

// --- table-level locks ---------------------------------------------------

// LockISTable acquires IS on a TABLE resource.
func (m *Manager) LockISTable(t *txn.Transaction, tid lockid.ResourceID) error {
	return m.lockTable(t, tid, lockmode.IS)
}

// LockIXTable acquires IX on a TABLE resource, upgrading IS->IX in place
// if held.
func (m *Manager) LockIXTable(t *txn.Transaction, tid lockid.ResourceID) error {
	return m.lockTable(t, tid, lockmode.IX)
}

// LockSharedTable acquires S on a TABLE resource, upgrading IS->S or
// IX->SIX in place if held.
func (m *Manager) LockSharedTable(t *txn.Transaction, tid lockid.ResourceID) error {
	return m.lockTable(t, tid, lockmode.S)
}

// LockExclusiveTable acquires X on a TABLE resource, upgrading any held
// mode to X in place.
func (m *Manager) LockExclusiveTable(t *txn.Transaction, tid lockid.ResourceID) error {
	return m.lockTable(t, tid, lockmode.X)
}

func (m *Manager) lockTable(t *txn.Transaction, tid lockid.ResourceID, requested lockmode.Mode) error {
	if tid.Type != lockid.Table {
		panic("lockmgr: lockTable called with a non-TABLE resource id")
	}
	if skip, err := m.checkStateForLock(t, tid); skip || err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.getOrCreateQueue(tid)

	if existing := q.find(t.ID()); existing != nil {
		if lockmode.IsNoOp(existing.mode, requested) {
			return nil
		}
		target, ok := lockmode.UpgradeTarget(existing.mode, requested)
		if !ok {
			return txn.NewAbortError(t.ID(), txn.Internal, tid)
		}
		if err := m.upgradeTable(t, tid, q, existing, target); err != nil {
			return err
		}
		return nil
	}

	predicate := func() bool { return lockmode.CompatibleWithGroup(requested, q.groupMode) }
	pick := func() *request { return q.blocker(t.ID(), requested) }
	if err := m.waitUntil(t, q, tid, predicate, pick); err != nil {
		return err
	}

	q.grant(t.ID(), requested)
	t.AddHeld(tid)
	m.logGrant(t, tid, requested)
	return nil
}

// upgradeTable admits one of the five in-place table upgrades. The
// admissibility rule depends on the specific target, not just on group
// mode, because e.g. IX->SIX must ignore other IS holders while still
// blocking on other IX holders.
func (m *Manager) upgradeTable(t *txn.Transaction, tid lockid.ResourceID, q *queue, existing *request, target lockmode.Mode) error {
	var predicate func() bool
	var pick func() *request

	switch target {
	case lockmode.S: // IS -> S: admissible iff group_mode in {IS, S}
		predicate = func() bool { return q.groupMode == lockmode.IS || q.groupMode == lockmode.S }
		pick = func() *request { return q.otherHolderWithMode(t.ID(), lockmode.IX, lockmode.SIX, lockmode.X) }
	case lockmode.IX: // IS -> IX: admissible iff group_mode in {IS, IX}
		predicate = func() bool { return q.groupMode == lockmode.IS || q.groupMode == lockmode.IX }
		pick = func() *request { return q.otherHolderWithMode(t.ID(), lockmode.S, lockmode.SIX, lockmode.X) }
	case lockmode.SIX:
		if existing.mode == lockmode.IX {
			// IX -> SIX: admissible iff no other txn holds IX.
			predicate = func() bool { return q.otherHolderWithMode(t.ID(), lockmode.IX) == nil }
			pick = func() *request { return q.otherHolderWithMode(t.ID(), lockmode.IX) }
		} else {
			// S -> SIX: admissible iff no other txn holds S.
			predicate = func() bool { return q.otherHolderWithMode(t.ID(), lockmode.S) == nil }
			pick = func() *request { return q.otherHolderWithMode(t.ID(), lockmode.S) }
		}
	case lockmode.X: // any -> X: admissible iff this txn is the only holder.
		predicate = func() bool { return q.otherHolderCount(t.ID()) == 0 }
		pick = func() *request { return q.anyOtherHolder(t.ID()) }
	default:
		return txn.NewAbortError(t.ID(), txn.Internal, tid)
	}

	if err := m.waitUntil(t, q, tid, predicate, pick); err != nil {
		return err
	}

	existing.upgrade(target)
	q.groupMode = lockmode.Max(q.groupMode, target)
	m.logger.Debug().
		Uint64("txn_id", uint64(t.ID())).
		Str("resource", tid.String()).
		Str("mode", target.String()).
		Time("at", m.clock()).
		Msg("lockmgr: upgraded")
	return nil
}

// --- release --------------------------------------------------------------

// Unlock releases every request this transaction holds on rid. It is
// idempotent: unlocking a resource with no queue, or one this
// transaction never held, returns nil.
func (m *Manager) Unlock(t *txn.Transaction, rid lockid.ResourceID) error {
	switch t.State() {
	case txn.Committed, txn.Aborted:
		return nil
	case txn.Default, txn.Growing:
		t.SetState(txn.Shrinking)
	case txn.Shrinking:
		// already shrinking
	default:
		return txn.NewAbortError(t.ID(), txn.Internal, rid)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[rid]
	if !ok {
		return nil
	}

	q.release(t.ID())
	t.RemoveHeld(rid)

	m.logger.Debug().
		Uint64("txn_id", uint64(t.ID())).
		Str("resource", rid.String()).
		Str("group_mode", q.groupMode.String()).
		Time("at", m.clock()).
		Msg("lockmgr: released")

	q.cond.Broadcast()
	return nil
}
