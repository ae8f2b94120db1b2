// Package lsm maintains the on-disk leveled structure above the memtables:
// per-level table lists, the trigger and input-picking logic that decides
// what to compact (§4.8), the compactor that executes a job (§4.9), and the
// manifest/checkpoint that make level state crash-safe (§4.10). Grounded on
// the teacher's segmentmanager package for the "own a directory of
// numbered, append-only files, know how to pick and retire them" shape,
// generalized from a flat append-only segment list to a leveled tree with
// size-tiered compaction triggers.
package lsm

import (
	"bytes"
	"sort"

	"github.com/return2faye/jkv/sstable"
)

// Defaults for the size-tiered trigger and file picker (spec §4.8).
const (
	DefaultL0Threshold = 4
	DefaultLevelRatio  = 10
)

// Options configures level-trigger thresholds.
type Options struct {
	MemThreshold int64
	L0Threshold  int
	LevelRatio   int64
}

// DefaultOptions returns the engine's default level configuration.
func DefaultOptions() Options {
	return Options{
		MemThreshold: 4 << 20,
		L0Threshold:  DefaultL0Threshold,
		LevelRatio:   DefaultLevelRatio,
	}
}

// baseSize is the level-1 compaction threshold: memtable_size * l0_threshold.
func (o Options) baseSize() int64 {
	return o.MemThreshold * int64(o.L0Threshold)
}

// targetSizeFor returns the per-level trigger size for level n (n>=1):
// base_size * ratio^(n-1).
func (o Options) targetSizeFor(n int) int64 {
	size := o.baseSize()
	for i := 1; i < n; i++ {
		size *= o.LevelRatio
	}
	return size
}

// Level holds one level's tables, kept sorted by MinKey for levels >= 1
// (whose ranges are disjoint); L0's tables may overlap and are kept in
// insertion (newest-last) order.
type Level struct {
	tables []*sstable.TableMeta
	// cursor is the Ln->Ln+1 round-robin watermark: the max_key of the
	// last table picked as a compaction source from this level.
	cursor []byte
}

// Tree is the full set of levels, 0..N, plus the trigger configuration.
type Tree struct {
	opts   Options
	levels []*Level
}

// NewTree returns an empty level tree.
func NewTree(opts Options) *Tree {
	return &Tree{opts: opts, levels: []*Level{{}}}
}

// Opts returns the tree's configured thresholds.
func (t *Tree) Opts() Options { return t.opts }

// LevelCount returns the number of levels currently tracked (always >= 1).
func (t *Tree) LevelCount() int { return len(t.levels) }

// Tables returns level n's tables (newest-last for L0, MinKey-sorted for
// n>=1). The returned slice must not be mutated by the caller.
func (t *Tree) Tables(n int) []*sstable.TableMeta {
	if n >= len(t.levels) {
		return nil
	}
	return t.levels[n].tables
}

// ensureLevel grows the tree so level n exists.
func (t *Tree) ensureLevel(n int) *Level {
	for len(t.levels) <= n {
		t.levels = append(t.levels, &Level{})
	}
	return t.levels[n]
}

// Add registers a newly-created or newly-loaded table at level n.
func (t *Tree) Add(n int, m *sstable.TableMeta) {
	lvl := t.ensureLevel(n)
	lvl.tables = append(lvl.tables, m)
	if n >= 1 {
		sort.Slice(lvl.tables, func(i, j int) bool {
			return bytes.Compare(lvl.tables[i].MinKey, lvl.tables[j].MinKey) < 0
		})
	}
}

// Remove drops the tables with the given ids from level n.
func (t *Tree) Remove(n int, ids map[uint64]bool) {
	if n >= len(t.levels) {
		return
	}
	lvl := t.levels[n]
	kept := lvl.tables[:0]
	for _, m := range lvl.tables {
		if !ids[m.ID] {
			kept = append(kept, m)
		}
	}
	lvl.tables = kept
}

// NeedsCompaction reports whether level n currently trips the size trigger.
func (t *Tree) NeedsCompaction(n int) bool {
	if n >= len(t.levels) {
		return false
	}
	lvl := t.levels[n]
	if n == 0 {
		return len(lvl.tables) >= t.opts.L0Threshold
	}
	var sum int64
	for _, m := range lvl.tables {
		sum += m.FileSize
	}
	return sum > t.opts.targetSizeFor(n)
}

// FirstLevelNeedingCompaction returns the lowest level index that trips the
// trigger, or -1 if none does.
func (t *Tree) FirstLevelNeedingCompaction() int {
	for n := range t.levels {
		if t.NeedsCompaction(n) {
			return n
		}
	}
	return -1
}

// TargetSize returns the per-output-table size target for a compaction job
// writing into destination level dst (spec §4.9 step 3): base file size *
// ratio^(dst_level-1), with dst=0 treated as dst=1 (L0 never is a
// destination in practice, but the formula must not divide by nothing).
func (t *Tree) TargetSize(dst int) int64 {
	if dst < 1 {
		dst = 1
	}
	return t.opts.targetSizeFor(dst)
}

// Job describes one compaction's chosen inputs and destination, ready for
// the compactor to execute.
type Job struct {
	SrcLevel   int
	DstLevel   int
	Inputs     []*sstable.TableMeta // from SrcLevel
	DstInputs  []*sstable.TableMeta // from DstLevel, overlapping Inputs' envelope
	TrivialDst bool                 // true when Inputs is a single table and DstInputs is empty: a pure metadata move
}

// PickJob picks the compaction inputs for the first level that needs
// compacting, or returns (nil, false) if nothing does.
func (t *Tree) PickJob() (*Job, bool) {
	n := t.FirstLevelNeedingCompaction()
	if n < 0 {
		return nil, false
	}
	if n == 0 {
		return t.pickL0Job(), true
	}
	return t.pickLnJob(n), true
}

// pickL0Job implements the L0->L1 picker: start from the highest-
// compensation-score L0 table, expand by closure over pairwise range
// overlap within L0, then pull in every overlapping L1 table.
func (t *Tree) pickL0Job() *Job {
	l0 := t.levels[0].tables
	seed := highestCompensationScore(l0)

	lo, hi := append([]byte(nil), seed.MinKey...), append([]byte(nil), seed.MaxKey...)
	inputs := []*sstable.TableMeta{seed}
	taken := map[uint64]bool{seed.ID: true}

	for {
		grew := false
		for _, m := range l0 {
			if taken[m.ID] {
				continue
			}
			if m.Overlaps(lo, hi) {
				inputs = append(inputs, m)
				taken[m.ID] = true
				if bytes.Compare(m.MinKey, lo) < 0 {
					lo = append([]byte(nil), m.MinKey...)
				}
				if bytes.Compare(m.MaxKey, hi) > 0 {
					hi = append([]byte(nil), m.MaxKey...)
				}
				grew = true
			}
		}
		if !grew {
			break
		}
	}

	var dstInputs []*sstable.TableMeta
	if len(t.levels) > 1 {
		for _, m := range t.levels[1].tables {
			if m.Overlaps(lo, hi) {
				dstInputs = append(dstInputs, m)
			}
		}
	}

	return &Job{
		SrcLevel:   0,
		DstLevel:   1,
		Inputs:     inputs,
		DstInputs:  dstInputs,
		TrivialDst: len(dstInputs) == 0 && len(inputs) == 1,
	}
}

// highestCompensationScore picks the L0 table whose size-relative-to-range
// makes it the most valuable to compact first. Lacking a live per-key
// overwrite count (the classic "compensated size" input), this uses
// file_size as the compensation proxy — the largest table is the one whose
// compaction reclaims the most space — which degrades gracefully to
// "largest file first" when overwrite statistics aren't tracked.
func highestCompensationScore(tables []*sstable.TableMeta) *sstable.TableMeta {
	best := tables[0]
	for _, m := range tables[1:] {
		if m.FileSize > best.FileSize {
			best = m
		}
	}
	return best
}

// pickLnJob implements the Ln->Ln+1 picker (n>=1): round-robin by cursor,
// then pull in overlapping Ln+1 tables.
func (t *Tree) pickLnJob(n int) *Job {
	lvl := t.levels[n]
	src := nextByCursor(lvl.tables, lvl.cursor)
	lvl.cursor = append([]byte(nil), src.MaxKey...)

	dst := t.ensureLevel(n + 1)
	var dstInputs []*sstable.TableMeta
	for _, m := range dst.tables {
		if m.Overlaps(src.MinKey, src.MaxKey) {
			dstInputs = append(dstInputs, m)
		}
	}

	return &Job{
		SrcLevel:   n,
		DstLevel:   n + 1,
		Inputs:     []*sstable.TableMeta{src},
		DstInputs:  dstInputs,
		TrivialDst: len(dstInputs) == 0,
	}
}

// nextByCursor returns the first table (in MinKey order, which tables
// already is) whose MaxKey exceeds cursor, wrapping to the first table if
// none does (or if cursor is nil/unset).
func nextByCursor(tables []*sstable.TableMeta, cursor []byte) *sstable.TableMeta {
	if cursor != nil {
		for _, m := range tables {
			if bytes.Compare(m.MaxKey, cursor) > 0 {
				return m
			}
		}
	}
	return tables[0]
}
