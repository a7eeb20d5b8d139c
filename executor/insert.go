package executor

import (
	"fmt"

	"github.com/relay-db/lockmgr/lockid"
	"github.com/relay-db/lockmgr/lockmgr"
	"github.com/relay-db/lockmgr/txn"
)

// ErrIndexExists reports a unique-index violation on insert: the key
// already has an entry.
type ErrIndexExists struct {
	Table string
	Key   []byte
}

func (e *ErrIndexExists) Error() string {
	return fmt.Sprintf("executor: index entry already exists for table %q", e.Table)
}

// InsertExecutor inserts one tuple into a table's heap and every index on
// it, acquiring IX on the table once at construction, then one gap wait
// per index immediately before the insert that would land in that gap.
type InsertExecutor struct {
	lm      *lockmgr.Manager
	t       *txn.Transaction
	tableFD int
	tabName string
	heap    RecordHeap
	indexes []IndexHandle
}

// NewInsertExecutor constructs an executor for one insert statement and
// immediately acquires IX on the table.
func NewInsertExecutor(lm *lockmgr.Manager, t *txn.Transaction, tableFD int, tabName string, heap RecordHeap, indexes []IndexHandle) (*InsertExecutor, error) {
	tid := lockid.TableID(tableFD)
	if err := lm.LockIXTable(t, tid); err != nil {
		return nil, err
	}
	return &InsertExecutor{
		lm:      lm,
		t:       t,
		tableFD: tableFD,
		tabName: tabName,
		heap:    heap,
		indexes: indexes,
	}, nil
}

// Insert performs the tuple insert: wait on every affected index gap
// first, then write into the heap and every index, then record the
// write for rollback.
func (e *InsertExecutor) Insert(key [][]byte, tuple []byte) (lockid.ResourceID, error) {
	if len(key) != len(e.indexes) {
		return lockid.ResourceID{}, fmt.Errorf("executor: %d keys for %d indexes", len(key), len(e.indexes))
	}

	for i, ih := range e.indexes {
		gap := ih.LowerBound(key[i])
		if err := e.lm.AwaitIndexGap(e.t, gap); err != nil {
			return lockid.ResourceID{}, err
		}
	}

	rid := e.heap.Insert(e.tableFD, tuple)

	for i, ih := range e.indexes {
		if ok := ih.InsertEntry(key[i], rid); !ok {
			for j := 0; j < i; j++ {
				e.indexes[j].DeleteEntry(key[j])
			}
			e.heap.Delete(rid)
			return lockid.ResourceID{}, &ErrIndexExists{Table: e.tabName, Key: key[i]}
		}
	}

	e.t.AppendWrite(txn.WriteRecord{
		WType:     txn.InsertTuple,
		TableName: e.tabName,
		RID:       rid,
	})

	return rid, nil
}
