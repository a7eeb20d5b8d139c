package txnmgr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relay-db/lockmgr/lockid"
	"github.com/relay-db/lockmgr/lockmgr"
	"github.com/relay-db/lockmgr/txn"
)

func TestBeginAllocatesIncreasingIDs(t *testing.T) {
	lm := lockmgr.NewManager()
	tm := NewManager(lm)

	t1 := tm.Begin()
	t2 := tm.Begin()

	assert.Less(t, uint64(t1.ID()), uint64(t2.ID()))
	assert.Equal(t, txn.Default, t1.State())

	tr, ok := tm.Lookup(t1.ID())
	assert.True(t, ok)
	assert.Same(t, t1, tr)
}

func TestCommitReleasesAllLocksAndMarksCommitted(t *testing.T) {
	lm := lockmgr.NewManager()
	tm := NewManager(lm)
	t1 := tm.Begin()

	rid := lockid.RecordID(1, 0, 0)
	require.NoError(t, lm.LockSharedRecord(t1, rid))

	require.NoError(t, tm.Commit(t1))

	assert.Equal(t, txn.Committed, t1.State())
	assert.Empty(t, t1.HeldSet())
	_, ok := tm.Lookup(t1.ID())
	assert.False(t, ok)

	// The lock is actually gone: a second transaction can now take X.
	t2 := tm.Begin()
	assert.NoError(t, lm.LockExclusiveRecord(t2, rid))
}

func TestAbortRollsBackWritesInReverseOrder(t *testing.T) {
	lm := lockmgr.NewManager()
	tm := NewManager(lm)
	t1 := tm.Begin()

	rid1 := lockid.RecordID(1, 0, 0)
	rid2 := lockid.RecordID(1, 0, 1)
	require.NoError(t, lm.LockExclusiveRecord(t1, rid1))
	require.NoError(t, lm.LockExclusiveRecord(t1, rid2))
	t1.AppendWrite(txn.WriteRecord{WType: txn.InsertTuple, RID: rid1})
	t1.AppendWrite(txn.WriteRecord{WType: txn.InsertTuple, RID: rid2})

	var rolledBack []lockid.ResourceID
	err := tm.Abort(t1, func(w txn.WriteRecord) error {
		rolledBack = append(rolledBack, w.RID)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []lockid.ResourceID{rid2, rid1}, rolledBack)
	assert.Equal(t, txn.Aborted, t1.State())
	assert.Empty(t, t1.HeldSet())
}

func TestAbortPropagatesRollbackError(t *testing.T) {
	lm := lockmgr.NewManager()
	tm := NewManager(lm)
	t1 := tm.Begin()

	rid := lockid.RecordID(1, 0, 0)
	require.NoError(t, lm.LockExclusiveRecord(t1, rid))
	t1.AppendWrite(txn.WriteRecord{WType: txn.InsertTuple, RID: rid})

	boom := errors.New("rollback failed")
	err := tm.Abort(t1, func(txn.WriteRecord) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestAbortWithNilRollbackStillReleasesLocks(t *testing.T) {
	lm := lockmgr.NewManager()
	tm := NewManager(lm)
	t1 := tm.Begin()

	rid := lockid.RecordID(1, 0, 0)
	require.NoError(t, lm.LockExclusiveRecord(t1, rid))

	require.NoError(t, tm.Abort(t1, nil))
	assert.Empty(t, t1.HeldSet())
}
