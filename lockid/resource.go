// Package lockid identifies the lockable objects of a relational storage
// engine: whole tables, individual records, and index gaps.
package lockid

import "fmt"

// DataType tags the shape of a ResourceID.
type DataType int

const (
	// Table identifies an entire table by file descriptor.
	Table DataType = iota
	// Record identifies a single tuple by (table, page, slot).
	Record
	// Gap identifies a position between index keys, used by the
	// insert-time gap protocol to serialize against range scans.
	Gap
)

func (d DataType) String() string {
	switch d {
	case Table:
		return "TABLE"
	case Record:
		return "RECORD"
	case Gap:
		return "GAP"
	default:
		return fmt.Sprintf("DataType(%d)", int(d))
	}
}

// ResourceID is a value type identifying a lockable object. It is
// comparable, so it can be used directly as a map key; Hash is kept for
// symmetry with the stable 64-bit encoding described by the lock
// manager's design notes, and is not required for correctness.
type ResourceID struct {
	Type    DataType
	TableFD int
	Page    int32
	Slot    int32
}

// TableID identifies a whole table.
func TableID(fd int) ResourceID {
	return ResourceID{Type: Table, TableFD: fd}
}

// RecordID identifies a single record within a table.
func RecordID(fd int, page, slot int32) ResourceID {
	return ResourceID{Type: Record, TableFD: fd, Page: page, Slot: slot}
}

// GapID identifies an index-gap position within a table's index.
func GapID(fd int, page, slot int32) ResourceID {
	return ResourceID{Type: Gap, TableFD: fd, Page: page, Slot: slot}
}

// Hash returns a stable 64-bit encoding of the identifier: the tag in the
// top bits, the table fd in the middle, and the page/slot pair in the low
// bits. Equality must still compare every structural field (Go's == on the
// struct does that already); this exists only because the design notes
// call for a stable encoding independent of map implementation details.
func (r ResourceID) Hash() uint64 {
	return (uint64(r.Type) << 62) | (uint64(uint32(r.TableFD)) << 30) |
		(uint64(uint16(r.Page)) << 14) | uint64(uint16(r.Slot))
}

func (r ResourceID) String() string {
	switch r.Type {
	case Table:
		return fmt.Sprintf("TABLE(fd=%d)", r.TableFD)
	case Record:
		return fmt.Sprintf("RECORD(fd=%d, rid=(%d,%d))", r.TableFD, r.Page, r.Slot)
	case Gap:
		return fmt.Sprintf("GAP(fd=%d, iid=(%d,%d))", r.TableFD, r.Page, r.Slot)
	default:
		return fmt.Sprintf("ResourceID{%d,%d,%d,%d}", r.Type, r.TableFD, r.Page, r.Slot)
	}
}
