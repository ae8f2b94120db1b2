// Package pgm implements the learned index from spec §4.5: a piecewise-linear
// approximation over a strictly sorted sequence of u64 keys, built in one
// linear sweep and indexed recursively so a lookup resolves in O(log log n)
// rather than O(log n).
//
// Grounded on original_source/jdb_pgm's benchmark harness (benches/main.rs),
// which is the only trace of the original Rust jdb_pgm crate present in the
// pack — its source files were not retrieved, only the benches exercising
// Pgm::new(keys, epsilon, build_recursive)/predict(key)/predict_range(key).
// That call shape is preserved here as New/Predict/PredictRange. The segment
// construction itself follows the standard one-pass "greedy PLA" algorithm
// from the PGM-index literature that both jdb_pgm and the external pgm_index
// crate it's benchmarked against implement: extend the current segment while
// every key seen so far still predicts within +/-epsilon of its true
// position under some line, and open the next segment at the first key that
// would violate that bound.
package pgm

import (
	"fmt"
	"math"
)

// segment is one piecewise-linear piece: for any key >= firstKey (and below
// the next segment's firstKey), predicted position = slope*(key-firstKey) +
// intercept.
type segment struct {
	firstKey  uint64
	slope     float64
	intercept float64
	// firstPos is the true position of firstKey in the original key
	// sequence, used to bound predict()'s output.
	firstPos int
}

func (s segment) predict(key uint64) int {
	dx := float64(key) - float64(s.firstKey)
	return int(s.slope*dx + s.intercept)
}

// Index is a PGM learned index over one level's worth of segments, plus a
// recursively-built index over those segments' first keys so the segment
// lookup itself is sub-linear once there are enough of them.
type Index struct {
	epsilon int
	n       int
	leaf    []segment
	// upper indexes leaf[i].firstKey -> i, recursively, so PredictRange's
	// segment lookup is O(log log n) instead of a linear/binary scan over
	// leaf. Nil once the leaf level is small enough to scan directly.
	upper *Index
}

// New builds a PGM index over the strictly ascending keys, guaranteeing
// every predict(key) is within epsilon of key's true position (index i such
// that keys[i] == key). recursive controls whether segment lookup itself is
// index-accelerated (false falls back to a direct scan over segments, which
// is still correct, just not O(log log n) — useful for small inputs where
// building a second level costs more than it saves).
func New(keys []uint64, epsilon int, recursive bool) (*Index, error) {
	if epsilon <= 0 {
		return nil, fmt.Errorf("pgm: epsilon must be positive, got %d", epsilon)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("pgm: keys must be non-empty")
	}
	for i := 1; i < len(keys); i++ {
		if keys[i] <= keys[i-1] {
			return nil, fmt.Errorf("pgm: keys must be strictly ascending, keys[%d]=%d <= keys[%d]=%d", i, keys[i], i-1, keys[i-1])
		}
	}

	return build(keys, epsilon, recursive), nil
}

func build(keys []uint64, epsilon int, recursive bool) *Index {
	leaf := buildSegments(keys, epsilon)
	idx := &Index{epsilon: epsilon, n: len(keys), leaf: leaf}

	if recursive && len(leaf) > 32 {
		firstKeys := make([]uint64, len(leaf))
		for i, s := range leaf {
			firstKeys[i] = s.firstKey
		}
		idx.upper = build(firstKeys, epsilon, recursive)
	}
	return idx
}

// buildSegments runs the one-pass greedy PLA sweep: grow the current
// segment's candidate slope range as long as every (key, position) pair
// seen so far admits at least one line through firstKey within +/-epsilon
// of every position; close the segment and start a new one at the first
// key that doesn't.
func buildSegments(keys []uint64, epsilon int) []segment {
	var segs []segment
	n := len(keys)

	i := 0
	for i < n {
		firstKey := keys[i]
		firstPos := i

		if i == n-1 {
			segs = append(segs, segment{firstKey: firstKey, slope: 0, intercept: float64(firstPos), firstPos: firstPos})
			break
		}

		// Maintain the admissible slope interval [loSlope, hiSlope] for the
		// line through (firstKey, firstPos); a key violates the bound once
		// no slope in that interval keeps every point within epsilon.
		loSlope := math.Inf(-1)
		hiSlope := math.Inf(1)
		j := i + 1
		for ; j < n; j++ {
			dx := float64(keys[j]) - float64(firstKey)
			dy := float64(j - firstPos)
			if dx == 0 {
				continue
			}
			newLo := (dy - float64(epsilon)) / dx
			newHi := (dy + float64(epsilon)) / dx
			if newLo > hiSlope || newHi < loSlope {
				break
			}
			if newLo > loSlope {
				loSlope = newLo
			}
			if newHi < hiSlope {
				hiSlope = newHi
			}
		}

		slope := 0.0
		switch {
		case !math.IsInf(loSlope, -1) && !math.IsInf(hiSlope, 1):
			slope = (loSlope + hiSlope) / 2
		case !math.IsInf(loSlope, -1):
			slope = loSlope
		case !math.IsInf(hiSlope, 1):
			slope = hiSlope
		}

		segs = append(segs, segment{
			firstKey:  firstKey,
			slope:     slope,
			intercept: float64(firstPos),
			firstPos:  firstPos,
		})
		i = j
	}
	return segs
}

// Predict returns the predicted position of key; the true position (if key
// is present) is guaranteed to lie within epsilon of this value.
func (idx *Index) Predict(key uint64) int {
	s := idx.findSegment(key)
	p := s.predict(key)
	if p < 0 {
		p = 0
	}
	if p >= idx.n {
		p = idx.n - 1
	}
	return p
}

// PredictRange returns [lo, hi), the bounded window the caller should binary
// search within: predict(key) +/- epsilon, clamped to the index's extent.
func (idx *Index) PredictRange(key uint64) (int, int) {
	p := idx.Predict(key)
	lo := p - idx.epsilon
	if lo < 0 {
		lo = 0
	}
	hi := p + idx.epsilon + 1
	if hi > idx.n {
		hi = idx.n
	}
	return lo, hi
}

// findSegment locates the segment whose range covers key: the last segment
// with firstKey <= key. Uses the recursive upper index when present,
// otherwise a direct binary search over leaf.
func (idx *Index) findSegment(key uint64) segment {
	if idx.upper != nil {
		lo, hi := idx.upper.PredictRange(key)
		i := boundedSearch(idx.leaf, key, lo, hi)
		return idx.leaf[i]
	}
	i := boundedSearch(idx.leaf, key, 0, len(idx.leaf))
	return idx.leaf[i]
}

// boundedSearch finds the last index i in [lo, hi) (widened if the bound
// missed) with leaf[i].firstKey <= key.
func boundedSearch(leaf []segment, key uint64, lo, hi int) int {
	if lo < 0 {
		lo = 0
	}
	if hi > len(leaf) {
		hi = len(leaf)
	}
	for lo > 0 && leaf[lo].firstKey > key {
		lo--
	}
	for hi < len(leaf) && leaf[hi-1].firstKey <= key {
		hi++
	}

	result := lo
	l, r := lo, hi-1
	for l <= r {
		m := (l + r) / 2
		if leaf[m].firstKey <= key {
			result = m
			l = m + 1
		} else {
			r = m - 1
		}
	}
	return result
}

// Len returns the number of keys the index was built over.
func (idx *Index) Len() int { return idx.n }

// SegmentCount returns the number of leaf segments, mainly for tests and
// diagnostics.
func (idx *Index) SegmentCount() int { return len(idx.leaf) }
