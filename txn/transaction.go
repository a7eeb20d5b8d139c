// Package txn is the transaction contract (C5): the state machine the
// lock manager drives, the held-lock set it cross-references by
// transaction id, and the write set an insert executor appends to.
//
// A Transaction's State, HeldSet, and WriteSet are only ever touched by
// its owning goroutine and by lockmgr.Manager, both of which already
// serialize access through the manager's latch or through SS2PL's
// single-writer-per-txn discipline; Transaction therefore needs no
// internal synchronization of its own (see the concurrency model notes).
package txn

import (
	"fmt"

	"github.com/relay-db/lockmgr/lockid"
)

// ID is a transaction identifier. IDs are allocated in monotonically
// increasing start order, so id order is age order: a smaller id is an
// older transaction. See waitDie in package lockmgr.
type ID uint64

// State is a transaction's position in the SS2PL phase state machine.
type State int

const (
	// Default is the state of a freshly created transaction that has not
	// yet requested a lock.
	Default State = iota
	// Growing is entered on the first successful lock request; while
	// growing, a transaction may acquire further locks.
	Growing
	// Shrinking is entered on the first successful unlock; while
	// shrinking, no further lock requests are permitted (SS2PL).
	Shrinking
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Default:
		return "DEFAULT"
	case Growing:
		return "GROWING"
	case Shrinking:
		return "SHRINKING"
	case Committed:
		return "COMMITTED"
	case Aborted:
		return "ABORTED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// WType is the kind of write a WriteRecord describes.
type WType int

const (
	InsertTuple WType = iota
	DeleteTuple
	UpdateTuple
)

// WriteRecord is an entry in a transaction's write set, used by a
// rollback layer to undo a transaction's writes on abort. Insert-only
// callers (this repo's executor package) only ever populate
// WType/TableName/RID; Before is left nil.
type WriteRecord struct {
	WType     WType
	TableName string
	RID       lockid.ResourceID
	Before    []byte
}

// Transaction is the lock manager's view of an in-flight transaction: its
// id (and thus age), its SS2PL phase, and the set of resources it
// currently holds a granted lock on.
type Transaction struct {
	id    ID
	state State
	held  map[lockid.ResourceID]struct{}
	write []WriteRecord
}

// New creates a transaction in the Default state with the given id.
// Callers are expected to allocate ids in increasing start order (see
// txnmgr.Manager.Begin) so that id order is age order.
func New(id ID) *Transaction {
	return &Transaction{
		id:   id,
		held: make(map[lockid.ResourceID]struct{}),
	}
}

func (t *Transaction) ID() ID { return t.id }

func (t *Transaction) State() State { return t.state }

// SetState transitions the transaction to state. The lock manager is the
// only caller expected to invoke this outside of commit/abort glue.
func (t *Transaction) SetState(state State) { t.state = state }

// Holds reports whether rid is in the transaction's held set.
func (t *Transaction) Holds(rid lockid.ResourceID) bool {
	_, ok := t.held[rid]
	return ok
}

// AddHeld records rid as granted to this transaction.
func (t *Transaction) AddHeld(rid lockid.ResourceID) {
	t.held[rid] = struct{}{}
}

// RemoveHeld drops rid from the transaction's held set.
func (t *Transaction) RemoveHeld(rid lockid.ResourceID) {
	delete(t.held, rid)
}

// HeldSet returns a snapshot of the resources currently held. Callers
// (commit/abort glue) should not mutate the lock manager while ranging
// over a snapshot taken before release begins.
func (t *Transaction) HeldSet() []lockid.ResourceID {
	out := make([]lockid.ResourceID, 0, len(t.held))
	for rid := range t.held {
		out = append(out, rid)
	}
	return out
}

// AppendWrite appends a write record, as the final step of an insert
// once the heap and index writes have both succeeded.
func (t *Transaction) AppendWrite(rec WriteRecord) {
	t.write = append(t.write, rec)
}

// WriteSet returns the transaction's write set.
func (t *Transaction) WriteSet() []WriteRecord {
	return t.write
}
