package executor

import "github.com/relay-db/lockmgr/lockid"

// fakeHeap is an in-memory record store that hands out slots in append
// order and never reuses one after Delete, standing in for a
// real record heap in tests; it is never used outside this package.
type fakeHeap struct {
	nextSlot int32
	tuples   map[lockid.ResourceID][]byte
}

func newFakeHeap() *fakeHeap {
	return &fakeHeap{tuples: make(map[lockid.ResourceID][]byte)}
}

func (h *fakeHeap) Insert(tableFD int, tuple []byte) lockid.ResourceID {
	rid := lockid.RecordID(tableFD, 0, h.nextSlot)
	h.nextSlot++
	h.tuples[rid] = tuple
	return rid
}

func (h *fakeHeap) Delete(rid lockid.ResourceID) {
	delete(h.tuples, rid)
}
