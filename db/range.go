package db

import (
	"iter"

	"github.com/return2faye/jkv/memtable"
	"github.com/return2faye/jkv/merge"
	"github.com/return2faye/jkv/sstable"
)

// BoundKind discriminates the three ways a Range/Prefix endpoint can be
// specified.
type BoundKind uint8

const (
	// Unbounded means no constraint on this side.
	Unbounded BoundKind = iota
	// Included means the endpoint key itself is part of the range.
	Included
	// Excluded means the endpoint key itself is not part of the range.
	Excluded
)

// Bound is one endpoint of a Range query.
type Bound struct {
	Kind BoundKind
	Key  []byte
}

// KV is one resolved (key, value) pair yielded by a range query.
type KV struct {
	Key   []byte
	Value []byte
}

// resolvedBounds converts lo/hi into the inclusive [lo, hi] pair the
// underlying memtable/sstable Range methods expect, plus whether the
// upper bound needs a post-filter drop of an exact match (spec has no
// finite byte-string predecessor for "strictly less than key" in
// general, so an Excluded upper bound is queried inclusively and the
// final exact-match record is dropped after the fact).
func resolvedBounds(lo, hi Bound) (loKey, hiKey []byte, dropHiExact bool) {
	switch lo.Kind {
	case Included:
		loKey = lo.Key
	case Excluded:
		// The infimum of "> key" in lexicographic byte-string order is
		// key with a trailing 0x00 appended.
		loKey = append(append([]byte(nil), lo.Key...), 0x00)
	}
	switch hi.Kind {
	case Included:
		hiKey = hi.Key
	case Excluded:
		hiKey = hi.Key
		dropHiExact = true
	}
	return
}

// PrefixBounds returns the [lo, hi) bound pair matching every key with the
// given prefix: lo is the prefix itself (inclusive), hi is the prefix with
// its last non-0xFF byte incremented and everything after it dropped
// (exclusive) — or Unbounded if the prefix is all 0xFF bytes (or empty),
// since no finite successor exists.
func PrefixBounds(prefix []byte) (Bound, Bound) {
	lo := Bound{Kind: Included, Key: prefix}
	succ := prefixSuccessor(prefix)
	if succ == nil {
		return lo, Bound{Kind: Unbounded}
	}
	return lo, Bound{Kind: Excluded, Key: succ}
}

func prefixSuccessor(prefix []byte) []byte {
	succ := append([]byte(nil), prefix...)
	for i := len(succ) - 1; i >= 0; i-- {
		if succ[i] != 0xff {
			succ[i]++
			return succ[:i+1]
		}
	}
	return nil
}

// Range iterates every live key in [lo, hi] in ascending order, merging
// the active memtable, frozen memtables (newest first), and every level's
// SSTables in spec §4.7's priority order, shadowing older duplicates and
// skipping tombstones.
func (d *DB) Range(lo, hi Bound) iter.Seq[KV] {
	return d.rangeSeq(lo, hi, false)
}

// ReverseRange is Range in descending order.
func (d *DB) ReverseRange(lo, hi Bound) iter.Seq[KV] {
	return d.rangeSeq(lo, hi, true)
}

// Prefix iterates every live key with the given prefix in ascending order.
func (d *DB) Prefix(prefix []byte) iter.Seq[KV] {
	lo, hi := PrefixBounds(prefix)
	return d.Range(lo, hi)
}

// ReversePrefix is Prefix in descending order.
func (d *DB) ReversePrefix(prefix []byte) iter.Seq[KV] {
	lo, hi := PrefixBounds(prefix)
	return d.ReverseRange(lo, hi)
}

func (d *DB) rangeSeq(lo, hi Bound, desc bool) iter.Seq[KV] {
	return func(yield func(KV) bool) {
		loKey, hiKey, dropHiExact := resolvedBounds(lo, hi)

		sources, closers := d.rangeSources(loKey, hiKey, desc)
		defer func() {
			for _, c := range closers {
				c()
			}
		}()

		m := merge.New(sources, desc, true)
		defer m.Close()

		for {
			rec, ok := m.Next()
			if !ok {
				return
			}
			if dropHiExact && len(rec.Key) == len(hi.Key) && string(rec.Key) == string(hi.Key) {
				continue
			}
			v, err := d.wal.ReadValue(rec.Entry.Pos)
			if err != nil {
				return
			}
			if !yield(KV{Key: append([]byte(nil), rec.Key...), Value: v}) {
				return
			}
		}
	}
}

// rangeSources builds the priority-ordered source list spec §4.7 requires:
// the active memtable first, then frozen memtables newest-first, then each
// level's tables (L0 newest-first, L1+ oldest-data-first by construction).
func (d *DB) rangeSources(lo, hi []byte, desc bool) ([]iter.Seq[memtable.Record], []func()) {
	var sources []iter.Seq[memtable.Record]
	var closers []func()

	pick := func(m *memtable.Memtable) iter.Seq[memtable.Record] {
		if desc {
			return m.ReverseRange(lo, hi)
		}
		return m.Range(lo, hi)
	}

	sources = append(sources, pick(d.freezer.Active()))
	for _, m := range d.freezer.FrozenNewestFirst() {
		sources = append(sources, pick(m))
	}

	d.treeMu.RLock()
	levels := d.tree.LevelCount()
	tablesByLevel := make([][]*sstable.TableMeta, levels)
	for n := 0; n < levels; n++ {
		tablesByLevel[n] = append([]*sstable.TableMeta(nil), d.tree.Tables(n)...)
	}
	d.treeMu.RUnlock()

	for n := 0; n < levels; n++ {
		tables := tablesByLevel[n]
		if n == 0 {
			tables = newestFirst(tables)
		}
		for _, meta := range tables {
			if !meta.Overlaps(lo, hi) {
				continue
			}
			r, err := sstable.Open(sstable.Path(d.sstDir, meta.ID), meta.ID)
			if err != nil {
				continue
			}
			closers = append(closers, func() { r.Close() })
			if desc {
				sources = append(sources, r.RangeReverseRecords(lo, hi))
			} else {
				sources = append(sources, r.RangeRecords(lo, hi))
			}
		}
	}
	return sources, closers
}
