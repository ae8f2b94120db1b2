// Package cuckoo implements the SSTable membership oracle from spec §4.4: a
// bucketed cuckoo filter with partial-key cuckoo hashing, kick-based
// insertion, and an autoscale wrapper that grows the filter instead of
// failing once a layer's kick budget is exhausted.
//
// Grounded on original_source/autoscale_cuckoo_filter/src/buckets.rs (bucket
// layout, fingerprint/index derivation, the <=16-bit whole-word fast path)
// and scalable_cuckoo_filter.rs (the layered autoscale wrapper: insert
// always targets the newest layer, grow() doubles capacity and halves the
// FPP share). The classic kick loop (try both buckets, then repeatedly swap
// a random bucket slot and re-home the evicted fingerprint, bounded by
// max_kicks) is the textbook cuckoo-filter insertion algorithm that
// random_swap and try_insert in buckets.rs are the building blocks for.
package cuckoo

import (
	"math"
	"math/rand"

	"github.com/bits-and-blooms/bitset"
	"github.com/cespare/xxhash/v2"
)

// DefaultEntriesPerBucket is E in spec §4.4.
const DefaultEntriesPerBucket = 4

// DefaultMaxKicks bounds the relocation chain before a layer gives up and
// the autoscale wrapper grows.
const DefaultMaxKicks = 512

// DefaultFPP is the target false-positive probability for a filter's first
// layer (spec §4.4: "target ~0.001").
const DefaultFPP = 0.001

// nearlyFullLoad is the load factor (occupied slots / total slots) at which
// a layer is considered full and the wrapper starts routing new inserts to
// a freshly grown layer, rather than waiting for the kick loop to fail.
const nearlyFullLoad = 0.94

// layer is one fixed-capacity bucketed cuckoo table.
type layer struct {
	fpBits      uint
	fpMask      uint64
	entries     uint
	bucketBits  uint
	idxMask     uint64
	bucketCount uint64
	bits        *bitset.BitSet
	count       uint64
	maxKicks    int
	rng         *rand.Rand
}

func newLayer(capacityHint uint64, fpp float64, entries int, maxKicks int, rng *rand.Rand) *layer {
	if entries <= 0 {
		entries = DefaultEntriesPerBucket
	}
	if maxKicks <= 0 {
		maxKicks = DefaultMaxKicks
	}
	if capacityHint == 0 {
		capacityHint = 1
	}

	bucketCount := nextPowerOfTwo(capacityHint)
	fpBits := fpBitsFor(fpp, entries)
	bucketBits := fpBits * uint(entries)

	return &layer{
		fpBits:      fpBits,
		fpMask:      (uint64(1) << fpBits) - 1,
		entries:     uint(entries),
		bucketBits:  bucketBits,
		idxMask:     bucketCount - 1,
		bucketCount: bucketCount,
		bits:        bitset.New(uint(bucketBits * bucketCount)),
		maxKicks:    maxKicks,
		rng:         rng,
	}
}

// fpBitsFor mirrors scalable_cuckoo_filter.rs's grow(): f = log2(1/fpp) +
// log2(2*entries), capped to avoid overflowing the uint64 slot math.
func fpBitsFor(fpp float64, entries int) uint {
	f := math.Ceil(math.Log2(1/fpp) + math.Log2(float64(2*entries)))
	if f < 1 {
		f = 1
	}
	if f > 56 {
		f = 56
	}
	return uint(f)
}

func nextPowerOfTwo(n uint64) uint64 {
	p := uint64(1)
	for p < n {
		p <<= 1
	}
	return p
}

func (l *layer) totalSlots() uint64 {
	return l.bucketCount * uint64(l.entries)
}

func (l *layer) nearlyFull() bool {
	return float64(l.count) >= nearlyFullLoad*float64(l.totalSlots())
}

func (l *layer) index(hash uint64) uint64 {
	return hash & l.idxMask
}

func (l *layer) fingerprint(hash uint64) uint64 {
	fp := hash >> (64 - l.fpBits)
	if fp == 0 {
		fp = 1
	}
	return fp
}

func (l *layer) altIndex(idx uint64, fp uint64) uint64 {
	var fpBuf [8]byte
	fpBuf[0] = byte(fp)
	fpBuf[1] = byte(fp >> 8)
	fpBuf[2] = byte(fp >> 16)
	fpBuf[3] = byte(fp >> 24)
	fpBuf[4] = byte(fp >> 32)
	fpBuf[5] = byte(fp >> 40)
	fpBuf[6] = byte(fp >> 48)
	fpBuf[7] = byte(fp >> 56)
	return (idx ^ xxhash.Sum64(fpBuf[:])) & l.idxMask
}

func (l *layer) slotOffset(idx uint64, entry uint) uint {
	return uint(l.bucketBits*idx) + uint(l.fpBits)*entry
}

func (l *layer) getSlot(idx uint64, entry uint) uint64 {
	off := l.slotOffset(idx, entry)
	var v uint64
	for b := uint(0); b < l.fpBits; b++ {
		if l.bits.Test(off + b) {
			v |= 1 << b
		}
	}
	return v
}

func (l *layer) setSlot(idx uint64, entry uint, fp uint64) {
	off := l.slotOffset(idx, entry)
	for b := uint(0); b < l.fpBits; b++ {
		l.bits.SetTo(off+b, fp&(1<<b) != 0)
	}
}

func (l *layer) bucketContains(idx uint64, fp uint64) bool {
	for i := uint(0); i < l.entries; i++ {
		if l.getSlot(idx, i) == fp {
			return true
		}
	}
	return false
}

func (l *layer) tryInsertBucket(idx uint64, fp uint64) bool {
	for i := uint(0); i < l.entries; i++ {
		if l.getSlot(idx, i) == 0 {
			l.setSlot(idx, i, fp)
			l.count++
			return true
		}
	}
	return false
}

func (l *layer) removeFromBucket(idx uint64, fp uint64) bool {
	for i := uint(0); i < l.entries; i++ {
		if l.getSlot(idx, i) == fp {
			l.setSlot(idx, i, 0)
			l.count--
			return true
		}
	}
	return false
}

// randomSwap evicts a random occupant of bucket idx, installs fp in its
// place, and returns the evicted fingerprint. Grounded on buckets.rs's
// random_swap.
func (l *layer) randomSwap(idx uint64, fp uint64) uint64 {
	i := uint(l.rng.Intn(int(l.entries)))
	old := l.getSlot(idx, i)
	l.setSlot(idx, i, fp)
	return old
}

func (l *layer) contains(hash uint64) bool {
	idx := l.index(hash)
	fp := l.fingerprint(hash)
	alt := l.altIndex(idx, fp)
	return l.bucketContains(idx, fp) || l.bucketContains(alt, fp)
}

// insert runs the classic cuckoo-filter insertion: try both candidate
// buckets directly, then repeatedly kick a random occupant out of the
// current bucket and re-home it, bounded by maxKicks. Returns false if the
// kick budget is exhausted without finding a free slot; the kicks are then
// undone, so the layer holds exactly the fingerprints it held before, and
// the caller (Filter) is responsible for growing to a new layer.
func (l *layer) insert(hash uint64) bool {
	idx := l.index(hash)
	fp := l.fingerprint(hash)

	if l.tryInsertBucket(idx, fp) {
		return true
	}
	alt := l.altIndex(idx, fp)
	if l.tryInsertBucket(alt, fp) {
		return true
	}

	i := idx
	if l.rng.Intn(2) == 1 {
		i = alt
	}
	type kick struct{ idx, placed, evicted uint64 }
	var chain []kick
	for n := 0; n < l.maxKicks; n++ {
		evicted := l.randomSwap(i, fp)
		chain = append(chain, kick{i, fp, evicted})
		fp = evicted
		i = l.altIndex(i, fp)
		if l.tryInsertBucket(i, fp) {
			return true
		}
	}
	for k := len(chain) - 1; k >= 0; k-- {
		c := chain[k]
		for s := uint(0); s < l.entries; s++ {
			if l.getSlot(c.idx, s) == c.placed {
				l.setSlot(c.idx, s, c.evicted)
				break
			}
		}
	}
	return false
}

func (l *layer) remove(hash uint64) bool {
	idx := l.index(hash)
	fp := l.fingerprint(hash)
	if l.removeFromBucket(idx, fp) {
		return true
	}
	alt := l.altIndex(idx, fp)
	return l.removeFromBucket(alt, fp)
}

// Filter is the autoscaling cuckoo filter: a stack of layers, newest last.
// New keys always insert into the newest layer; contains checks every
// layer newest-first, per scalable_cuckoo_filter.rs's contains_hash, and
// remove checks them oldest-first.
type Filter struct {
	capacity int
	fpp      float64
	entries  int
	maxKicks int
	rng      *rand.Rand
	layers   []*layer
}

// Options configures a new Filter. Zero values fall back to spec defaults.
type Options struct {
	Capacity         int
	FPP              float64
	EntriesPerBucket int
	MaxKicks         int
}

// New creates a Filter sized for capacity keys at the given options. Seed
// fixes the PRNG driving kick selection, so filter construction is
// deterministic for a given input sequence (tests rely on this).
func New(opts Options, seed int64) *Filter {
	if opts.Capacity <= 0 {
		opts.Capacity = 1024
	}
	if opts.FPP <= 0 {
		opts.FPP = DefaultFPP
	}
	if opts.EntriesPerBucket <= 0 {
		opts.EntriesPerBucket = DefaultEntriesPerBucket
	}
	if opts.MaxKicks <= 0 {
		opts.MaxKicks = DefaultMaxKicks
	}

	f := &Filter{
		capacity: opts.Capacity,
		fpp:      opts.FPP,
		entries:  opts.EntriesPerBucket,
		maxKicks: opts.MaxKicks,
		rng:      rand.New(rand.NewSource(seed)),
	}
	f.layers = append(f.layers, newLayer(uint64(f.capacity), f.fpp, f.entries, f.maxKicks, f.rng))
	return f
}

// Add inserts key, returning true if it already appears to be present
// (per the outer contains check — add is a no-op against duplicates, per
// spec §4.4's add(key) contract). Growing is triggered proactively once the
// newest layer's load factor crosses nearlyFullLoad, matching
// scalable_cuckoo_filter.rs's is_nearly_full check after every insert; if a
// layer's kick budget is still exhausted before that check fires, Add
// grows immediately and retries on the fresh layer.
func (f *Filter) Add(key []byte) bool {
	hash := xxhash.Sum64(key)
	if f.containsHash(hash) {
		return true
	}

	last := f.layers[len(f.layers)-1]
	if !last.insert(hash) {
		f.grow()
		last = f.layers[len(f.layers)-1]
		last.insert(hash)
	} else if last.nearlyFull() {
		f.grow()
	}
	return false
}

// Contains reports whether key may be present (false positives possible,
// false negatives are not — see spec §8 testable property).
func (f *Filter) Contains(key []byte) bool {
	return f.containsHash(xxhash.Sum64(key))
}

func (f *Filter) containsHash(hash uint64) bool {
	for i := len(f.layers) - 1; i >= 0; i-- {
		if f.layers[i].contains(hash) {
			return true
		}
	}
	return false
}

// Remove deletes one occurrence of key's fingerprint from whichever layer
// holds it. May remove a false-positive match sharing the same fingerprint
// instead of key itself — acceptable per spec §4.4.
func (f *Filter) Remove(key []byte) bool {
	hash := xxhash.Sum64(key)
	for _, l := range f.layers {
		if l.remove(hash) {
			return true
		}
	}
	return false
}

// grow appends a new layer with doubled capacity and halved FPP share,
// mirroring scalable_cuckoo_filter.rs's grow().
func (f *Filter) grow() {
	n := len(f.layers)
	cap := uint64(f.capacity) << uint(n)
	prob := f.fpp / math.Pow(2, float64(n+1))
	f.layers = append(f.layers, newLayer(cap, prob, f.entries, f.maxKicks, f.rng))
}

// Len returns the total number of fingerprints stored across all layers.
func (f *Filter) Len() uint64 {
	var n uint64
	for _, l := range f.layers {
		n += l.count
	}
	return n
}

// LayerCount reports how many autoscale layers have been allocated.
func (f *Filter) LayerCount() int { return len(f.layers) }
