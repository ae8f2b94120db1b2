// Package memtable provides an in-memory, ordered key-to-entry store backed
// by a skip list, generalized from the teacher's generic-ordered-key skip
// list to the engine's byte-string keys and Value(Pos)/Tombstone entries.
package memtable

import (
	"iter"
	"sync/atomic"

	"github.com/return2faye/jkv/pos"
)

// EntryKind discriminates a live value from a tombstone.
type EntryKind uint8

const (
	// KindValue means the entry carries a live Pos pointing at the value.
	KindValue EntryKind = iota
	// KindTombstone means the key was deleted as of this entry.
	KindTombstone
)

// Entry is the union {Value(Pos) | Tombstone} stored for every key.
type Entry struct {
	Kind EntryKind
	Pos  pos.Pos
}

// IsTombstone reports whether e represents a deletion.
func (e Entry) IsTombstone() bool { return e.Kind == KindTombstone }

// Record is one (key, entry) pair yielded by an iterator.
type Record struct {
	Key   []byte
	Entry Entry
}

var idSeq atomic.Uint64

// Memtable is an ordered, mutable map from byte-string keys to Entry,
// tracking its own logical size so callers can trigger a freeze.
type Memtable struct {
	id   uint64
	sl   *skipList
	size atomic.Int64
}

// New creates a fresh, empty, writable memtable with a new monotonic id.
func New() *Memtable {
	return &Memtable{
		id: idSeq.Add(1),
		sl: newSkipList(),
	}
}

// ID returns the memtable's creation-order identifier; frozen memtables keep
// their id through the flush pipeline.
func (m *Memtable) ID() uint64 { return m.id }

// Size returns the tracked logical size: sum of (key length + Pos size) over
// live entries.
func (m *Memtable) Size() int64 { return m.size.Load() }

// entrySize is the logical size contribution of one (key, entry) pair.
func entrySize(key []byte) int64 {
	return int64(len(key)) + int64(pos.Size)
}

// Put replaces any prior entry for key with a live value entry.
func (m *Memtable) Put(key []byte, p pos.Pos) {
	e := Entry{Kind: KindValue, Pos: p}
	m.upsert(key, e)
}

// Delete inserts a tombstone entry for key.
func (m *Memtable) Delete(key []byte, p pos.Pos) {
	p.Tombstone = true
	e := Entry{Kind: KindTombstone, Pos: p}
	m.upsert(key, e)
}

func (m *Memtable) upsert(key []byte, e Entry) {
	replaced := m.sl.put(key, e)
	if !replaced {
		m.size.Add(entrySize(key))
	}
}

// Get looks up key, returning the entry and whether it was found.
func (m *Memtable) Get(key []byte) (Entry, bool) {
	return m.sl.get(key)
}

// Iter yields every (key, entry) pair in ascending key order.
func (m *Memtable) Iter() iter.Seq[Record] {
	return m.sl.iter(nil, nil)
}

// ReverseIter yields every (key, entry) pair in descending key order.
func (m *Memtable) ReverseIter() iter.Seq[Record] {
	return m.sl.iterReverse(nil, nil)
}

// Range yields (key, entry) pairs with lo <= key <= hi in ascending order.
// A nil bound is unbounded on that side.
func (m *Memtable) Range(lo, hi []byte) iter.Seq[Record] {
	return m.sl.iter(lo, hi)
}

// ReverseRange yields (key, entry) pairs with lo <= key <= hi in descending
// order.
func (m *Memtable) ReverseRange(lo, hi []byte) iter.Seq[Record] {
	return m.sl.iterReverse(lo, hi)
}

// Len returns the number of distinct live keys (tombstones count as present
// entries, consistent with "tombstones are first-class entries").
func (m *Memtable) Len() int {
	return m.sl.length
}
