package txn

import (
	"errors"
	"fmt"

	"github.com/relay-db/lockmgr/lockid"
)

// Reason is the typed cause of an abort condition the lock manager
// raises: a phase violation, a wait-die loss, or internal state
// corruption. These are the only three kinds; there are no others.
type Reason int

const (
	// LockOnShrinking is raised when a GROWING/SHRINKING-phase rule is
	// violated: a lock request arrives after the transaction's first
	// unlock.
	LockOnShrinking Reason = iota
	// DeadlockPrevention is raised when wait-die picks this transaction
	// as the loser against an older holder.
	DeadlockPrevention
	// Internal is raised when the lock manager observes a transaction
	// state it should never reach.
	Internal
)

func (r Reason) String() string {
	switch r {
	case LockOnShrinking:
		return "LOCK_ON_SHRINKING"
	case DeadlockPrevention:
		return "DEADLOCK_PREVENTION"
	case Internal:
		return "INTERNAL"
	default:
		return fmt.Sprintf("Reason(%d)", int(r))
	}
}

// Sentinel errors so callers can use errors.Is without inspecting Reason
// directly.
var (
	ErrLockOnShrinking   = errors.New("lock requested after transaction entered shrinking phase")
	ErrDeadlockPrevention = errors.New("transaction aborted for deadlock prevention")
	ErrInternal          = errors.New("lock manager observed an invalid transaction state")
)

func sentinelFor(r Reason) error {
	switch r {
	case LockOnShrinking:
		return ErrLockOnShrinking
	case DeadlockPrevention:
		return ErrDeadlockPrevention
	default:
		return ErrInternal
	}
}

// AbortError is the typed abort condition carried to the caller: a
// transaction id, a reason, and the resource it was acting on. It wraps
// one of the three sentinel errors above so callers can branch with
// errors.Is.
type AbortError struct {
	TxnID    ID
	Reason   Reason
	Resource lockid.ResourceID
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("txn %d aborted on %s: %s", e.TxnID, e.Resource, e.Reason)
}

func (e *AbortError) Unwrap() error {
	return sentinelFor(e.Reason)
}

// NewAbortError constructs an AbortError for the given transaction,
// reason, and resource.
func NewAbortError(id ID, reason Reason, rid lockid.ResourceID) *AbortError {
	return &AbortError{TxnID: id, Reason: reason, Resource: rid}
}
