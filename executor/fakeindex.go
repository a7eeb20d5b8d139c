package executor

import (
	"sort"

	"github.com/relay-db/lockmgr/lockid"
)

// fakeIndex is an in-memory sorted-key index good enough to exercise the
// insert-gap protocol in tests; it is not a B+-tree and is never used
// outside this package.
type fakeIndex struct {
	tableFD int
	keys    [][]byte
	rids    []lockid.ResourceID
}

func newFakeIndex(tableFD int) *fakeIndex {
	return &fakeIndex{tableFD: tableFD}
}

func (fi *fakeIndex) search(key []byte) int {
	return sort.Search(len(fi.keys), func(i int) bool {
		return string(fi.keys[i]) >= string(key)
	})
}

// LowerBound returns a GAP resource id keyed by the position key would be
// inserted at, so every key landing between the same two neighbors maps
// to the same gap.
func (fi *fakeIndex) LowerBound(key []byte) lockid.ResourceID {
	pos := fi.search(key)
	return lockid.GapID(fi.tableFD, int32(pos), 0)
}

func (fi *fakeIndex) InsertEntry(key []byte, rid lockid.ResourceID) bool {
	pos := fi.search(key)
	if pos < len(fi.keys) && string(fi.keys[pos]) == string(key) {
		return false
	}
	fi.keys = append(fi.keys, nil)
	fi.rids = append(fi.rids, lockid.ResourceID{})
	copy(fi.keys[pos+1:], fi.keys[pos:])
	copy(fi.rids[pos+1:], fi.rids[pos:])
	fi.keys[pos] = key
	fi.rids[pos] = rid
	return true
}

func (fi *fakeIndex) DeleteEntry(key []byte) {
	pos := fi.search(key)
	if pos >= len(fi.keys) || string(fi.keys[pos]) != string(key) {
		return
	}
	fi.keys = append(fi.keys[:pos], fi.keys[pos+1:]...)
	fi.rids = append(fi.rids[:pos], fi.rids[pos+1:]...)
}
