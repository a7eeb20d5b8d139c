package executor

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relay-db/lockmgr/lockid"
	"github.com/relay-db/lockmgr/lockmgr"
	"github.com/relay-db/lockmgr/txn"
)

const fd = 7

func newExecutor(t *testing.T, lm *lockmgr.Manager, tr *txn.Transaction, idx *fakeIndex, heap *fakeHeap) *InsertExecutor {
	t.Helper()
	ex, err := NewInsertExecutor(lm, tr, fd, "widgets", heap, []IndexHandle{idx})
	require.NoError(t, err)
	return ex
}

func TestInsertAcquiresIXOnTableAtConstruction(t *testing.T) {
	lm := lockmgr.NewManager()
	tr := txn.New(1)
	idx := newFakeIndex(fd)
	heap := newFakeHeap()

	_ = newExecutor(t, lm, tr, idx, heap)

	assert.True(t, tr.Holds(lockid.TableID(fd)))
}

func TestInsertWritesHeapAndIndexAndAppendsWriteRecord(t *testing.T) {
	lm := lockmgr.NewManager()
	tr := txn.New(1)
	idx := newFakeIndex(fd)
	heap := newFakeHeap()
	ex := newExecutor(t, lm, tr, idx, heap)

	rid, err := ex.Insert([][]byte{[]byte("b")}, []byte("row-b"))
	require.NoError(t, err)

	assert.Equal(t, []byte("row-b"), heap.tuples[rid])
	assert.Equal(t, 1, len(idx.keys))
	ws := tr.WriteSet()
	require.Len(t, ws, 1)
	assert.Equal(t, txn.InsertTuple, ws[0].WType)
	assert.Equal(t, rid, ws[0].RID)
}

func TestInsertRejectsDuplicateIndexKey(t *testing.T) {
	lm := lockmgr.NewManager()
	tr := txn.New(1)
	idx := newFakeIndex(fd)
	heap := newFakeHeap()
	ex := newExecutor(t, lm, tr, idx, heap)

	rid, err := ex.Insert([][]byte{[]byte("a")}, []byte("row-a"))
	require.NoError(t, err)

	_, err = ex.Insert([][]byte{[]byte("a")}, []byte("row-a-again"))
	require.Error(t, err)
	var exists *ErrIndexExists
	require.ErrorAs(t, err, &exists)

	assert.Equal(t, 1, len(idx.keys))
	assert.Equal(t, []byte("row-a"), heap.tuples[rid])
	assert.Len(t, heap.tuples, 1)
}

// S6 end-to-end: a younger transaction holding a GAP lock on the position
// an older insert lands in forces the insert to wait, then proceed once
// the gap is released (the inserter is older than the holder, so it
// waits rather than dying).
func TestInsertWaitsOnHeldGap(t *testing.T) {
	lm := lockmgr.NewManager()
	idx := newFakeIndex(fd)
	heap := newFakeHeap()

	holder := txn.New(2)
	inserter := txn.New(1)

	// holder holds the gap that "m" would land in (index currently empty,
	// so every key maps to gap position 0).
	require.NoError(t, lm.LockIXTable(holder, lockid.TableID(fd)))
	gap := idx.LowerBound([]byte("m"))
	require.NoError(t, lm.LockGapIndex(holder, gap))

	ex := newExecutor(t, lm, inserter, idx, heap)

	done := make(chan error, 1)
	go func() {
		_, err := ex.Insert([][]byte{[]byte("m")}, []byte("row-m"))
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)

	select {
	case err := <-done:
		t.Fatalf("insert should not have completed while the gap is held, got err=%v", err)
	default:
	}

	require.NoError(t, lm.Unlock(holder, gap))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("insert never woke up after gap release")
	}

	assert.Equal(t, 1, len(idx.keys))
}

// S6's younger-dies branch: a younger transaction awaiting a gap an
// older transaction holds dies for deadlock prevention rather than
// deadlocking against it.
func TestInsertDiesWhenYoungerThanGapHolder(t *testing.T) {
	lm := lockmgr.NewManager()
	idx := newFakeIndex(fd)
	heap := newFakeHeap()

	holder := txn.New(0)
	awaiter := txn.New(1)

	require.NoError(t, lm.LockIXTable(holder, lockid.TableID(fd)))
	gap := idx.LowerBound([]byte("m"))
	require.NoError(t, lm.LockGapIndex(holder, gap))

	require.NoError(t, lm.LockIXTable(awaiter, lockid.TableID(fd)))
	ex := newExecutor(t, lm, awaiter, idx, heap)

	_, err := ex.Insert([][]byte{[]byte("m")}, []byte("row-m"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, txn.ErrDeadlockPrevention))
}
