// Package txnmgr is the transaction lifecycle manager: it allocates
// transaction ids in allocation order (so id order always matches age
// order, which wait-die depends on), and turns Commit/Abort into the
// release of every lock a transaction has accumulated. There is no
// recovery log in this repository, so Commit/Abort carry no WAL or
// checkpoint steps.
package txnmgr

import (
	"sync"
	"sync/atomic"

	"github.com/relay-db/lockmgr/lockmgr"
	"github.com/relay-db/lockmgr/txn"
)

// RollbackFunc undoes one write record during Abort. The transaction
// manager has no storage engine of its own to roll back against, so this
// is a caller-supplied hook, invoked in reverse write order.
type RollbackFunc func(txn.WriteRecord) error

// Manager owns transaction id allocation and the global transaction
// table, and drives Commit/Abort against a lock manager.
type Manager struct {
	lm     *lockmgr.Manager
	nextID uint64

	mu     sync.Mutex
	active map[txn.ID]*txn.Transaction
}

// NewManager builds a transaction manager bound to lm. Every transaction
// it begins releases its locks through lm on Commit or Abort.
func NewManager(lm *lockmgr.Manager) *Manager {
	return &Manager{
		lm:     lm,
		active: make(map[txn.ID]*txn.Transaction),
	}
}

// Begin allocates the next transaction id and registers a new
// transaction in the active set.
func (m *Manager) Begin() *txn.Transaction {
	id := txn.ID(atomic.AddUint64(&m.nextID, 1))
	t := txn.New(id)

	m.mu.Lock()
	m.active[id] = t
	m.mu.Unlock()

	return t
}

// Commit releases every lock t holds and marks it COMMITTED.
func (m *Manager) Commit(t *txn.Transaction) error {
	if err := m.releaseAll(t); err != nil {
		return err
	}
	t.SetState(txn.Committed)
	m.forget(t)
	return nil
}

// Abort rolls back every write t made, in reverse order, via rollback,
// then releases every lock t holds and marks it ABORTED. This is how a
// caller turns one of the lock manager's typed abort conditions
// (LOCK_ON_SHRINKING, DEADLOCK_PREVENTION) into a full rollback.
func (m *Manager) Abort(t *txn.Transaction, rollback RollbackFunc) error {
	writes := t.WriteSet()
	for i := len(writes) - 1; i >= 0; i-- {
		if rollback != nil {
			if err := rollback(writes[i]); err != nil {
				return err
			}
		}
	}

	if err := m.releaseAll(t); err != nil {
		return err
	}
	t.SetState(txn.Aborted)
	m.forget(t)
	return nil
}

func (m *Manager) releaseAll(t *txn.Transaction) error {
	for _, rid := range t.HeldSet() {
		if err := m.lm.Unlock(t, rid); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) forget(t *txn.Transaction) {
	m.mu.Lock()
	delete(m.active, t.ID())
	m.mu.Unlock()
}

// Lookup returns the active transaction for id, if any.
func (m *Manager) Lookup(id txn.ID) (*txn.Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.active[id]
	return t, ok
}
