// Package merge implements the k-way priority merge over ordered record
// sources described in spec §4.7: memtables (active and frozen, newest
// first), per-level SSTable streams, and so on, each already yielding keys
// in order. Ties are broken by source priority — sources earlier in the
// slice passed to New win — mirroring the original jdb crate's Merge type
// (original_source/jdb/tests/merge.rs), whose tests this package is
// grounded on: mem beats sst, mem[0] beats mem[1], a tombstone from a
// higher-priority source masks a live value from a lower one, and the
// merge must be lazy rather than eagerly draining every source up front.
package merge

import (
	"bytes"
	"container/heap"
	"iter"

	"github.com/return2faye/jkv/memtable"
)

// item is one source's currently-buffered next record, pending a winner
// being chosen across all sources.
type item struct {
	rec    memtable.Record
	srcIdx int
}

// itemHeap is a container/heap in either key-ascending or key-descending
// order; within equal keys, the lowest srcIdx (highest priority) always
// sorts first so the merge surfaces exactly one record per duplicate key,
// chosen from the highest-priority source holding it.
type itemHeap struct {
	items []item
	desc  bool
}

func (h *itemHeap) Len() int { return len(h.items) }

func (h *itemHeap) Less(i, j int) bool {
	c := bytes.Compare(h.items[i].rec.Key, h.items[j].rec.Key)
	if c != 0 {
		if h.desc {
			return c > 0
		}
		return c < 0
	}
	return h.items[i].srcIdx < h.items[j].srcIdx
}

func (h *itemHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *itemHeap) Push(x any) { h.items = append(h.items, x.(item)) }

func (h *itemHeap) Pop() any {
	old := h.items
	n := len(old)
	x := old[n-1]
	h.items = old[:n-1]
	return x
}

// Merger performs a lazy k-way merge over a fixed set of ordered sources.
// It holds at most one buffered record per source: New pulls each source's
// first record, and Next pulls one replacement from every source whose
// record it consumes, so a caller that stops early never forces the
// remaining sources to be drained.
type Merger struct {
	pull           []func() (memtable.Record, bool)
	stop           []func()
	h              *itemHeap
	skipTombstones bool
}

// New builds a Merger over sources, in priority order (sources[0] is
// highest priority — its entry wins on a duplicate key against any other
// source). Each source must already yield records in ascending key order;
// pass descending-ordered sources with desc=true to merge in descending
// order instead (matching jdb's Desc direction). If skipTombstones is
// true, a key whose winning entry is a tombstone is dropped from the
// output entirely rather than surfaced as a tombstone record.
func New(sources []iter.Seq[memtable.Record], desc bool, skipTombstones bool) *Merger {
	m := &Merger{
		h:              &itemHeap{desc: desc},
		skipTombstones: skipTombstones,
	}
	for _, seq := range sources {
		next, stop := iter.Pull(seq)
		m.pull = append(m.pull, next)
		m.stop = append(m.stop, stop)
	}
	for i, next := range m.pull {
		if rec, ok := next(); ok {
			heap.Push(m.h, item{rec: rec, srcIdx: i})
		}
	}
	return m
}

// Next returns the next merged record, or (zero, false) once every source
// is exhausted. When skipTombstones is set, tombstone-shadowed keys are
// silently skipped rather than ever returned.
func (m *Merger) Next() (memtable.Record, bool) {
	for {
		if m.h.Len() == 0 {
			return memtable.Record{}, false
		}
		winner := heap.Pop(m.h).(item)
		m.refill(winner.srcIdx)

		// Any other source currently holding the same key is a lower-
		// priority duplicate: discard it and refill from its source so it
		// never surfaces as a separate record.
		for m.h.Len() > 0 && bytes.Equal(m.h.items[0].rec.Key, winner.rec.Key) {
			dup := heap.Pop(m.h).(item)
			m.refill(dup.srcIdx)
		}

		if m.skipTombstones && winner.rec.Entry.IsTombstone() {
			continue
		}
		return winner.rec, true
	}
}

func (m *Merger) refill(srcIdx int) {
	if rec, ok := m.pull[srcIdx](); ok {
		heap.Push(m.h, item{rec: rec, srcIdx: srcIdx})
	}
}

// Close releases the underlying iter.Pull goroutines/state for any source
// not yet drained to completion. Safe to call after Next has returned
// false, and safe to call multiple times.
func (m *Merger) Close() {
	for _, stop := range m.stop {
		stop()
	}
}

// Seq adapts the Merger into an iter.Seq, for callers that want to
// range-over-func rather than call Next in a loop. Stops pulling as soon
// as yield returns false, and releases all sources on any exit path.
func Seq(sources []iter.Seq[memtable.Record], desc bool, skipTombstones bool) iter.Seq[memtable.Record] {
	return func(yield func(memtable.Record) bool) {
		m := New(sources, desc, skipTombstones)
		defer m.Close()
		for {
			rec, ok := m.Next()
			if !ok {
				return
			}
			if !yield(rec) {
				return
			}
		}
	}
}
