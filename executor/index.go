// Package executor demonstrates the insert-time gap protocol end to end:
// acquire IX on the table, await every affected index gap, insert into
// the heap and each index, then record a write for rollback. It depends
// on lockmgr/lockid/txn and two small collaborator interfaces it defines
// itself; it never reaches into a real storage engine, which is out of
// scope for this module.
package executor

import "github.com/relay-db/lockmgr/lockid"

// IndexHandle is the subset of a B+-tree index handle InsertExecutor
// needs: finding the gap a new key would land in, and inserting the key
// once that gap is safely held. A real storage engine supplies this; the
// fakeindex.go implementation in this package stands in for tests.
type IndexHandle interface {
	// LowerBound returns the resource id of the gap immediately preceding
	// where key would be inserted, for AwaitIndexGap to wait on.
	LowerBound(key []byte) lockid.ResourceID

	// InsertEntry inserts key -> rid into the index. It returns false if
	// an entry for key already exists (a unique-index violation).
	InsertEntry(key []byte, rid lockid.ResourceID) bool

	// DeleteEntry removes key's entry, undoing a prior InsertEntry. Used
	// to unwind indexes that already succeeded when a later index in the
	// same insert rejects the key.
	DeleteEntry(key []byte)
}

// RecordHeap is the subset of a record heap InsertExecutor needs: append
// a new tuple's bytes and get back the resource id it was stored at.
type RecordHeap interface {
	Insert(tableFD int, tuple []byte) lockid.ResourceID

	// Delete removes the tuple at rid, undoing a prior Insert. Used to
	// roll back a heap insert when a later index rejects the key.
	Delete(rid lockid.ResourceID)
}
