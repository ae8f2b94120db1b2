package cuckoo

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/bits-and-blooms/bitset"
)

// Marshal serializes the filter for the SSTable filter block: a small
// header (capacity, fpp, entries, max_kicks, layer count) followed by one
// record per layer (fp_bits, bucket_count, stored fingerprint count, word
// count, raw bit words).
// Deterministic given the same layers; the PRNG state is not preserved,
// which is fine since a loaded filter is read-only (lookups and Remove
// never consult rng).
func (f *Filter) Marshal() []byte {
	buf := make([]byte, 0, 64)
	var u64 [8]byte

	binary.LittleEndian.PutUint64(u64[:], uint64(f.capacity))
	buf = append(buf, u64[:]...)
	binary.LittleEndian.PutUint64(u64[:], math.Float64bits(f.fpp))
	buf = append(buf, u64[:]...)
	binary.LittleEndian.PutUint64(u64[:], uint64(f.entries))
	buf = append(buf, u64[:]...)
	binary.LittleEndian.PutUint64(u64[:], uint64(f.maxKicks))
	buf = append(buf, u64[:]...)
	binary.LittleEndian.PutUint64(u64[:], uint64(len(f.layers)))
	buf = append(buf, u64[:]...)

	for _, l := range f.layers {
		binary.LittleEndian.PutUint64(u64[:], uint64(l.fpBits))
		buf = append(buf, u64[:]...)
		binary.LittleEndian.PutUint64(u64[:], l.bucketCount)
		buf = append(buf, u64[:]...)
		binary.LittleEndian.PutUint64(u64[:], l.count)
		buf = append(buf, u64[:]...)

		words := l.bits.Bytes()
		binary.LittleEndian.PutUint64(u64[:], uint64(len(words)))
		buf = append(buf, u64[:]...)
		for _, w := range words {
			binary.LittleEndian.PutUint64(u64[:], w)
			buf = append(buf, u64[:]...)
		}
	}
	return buf
}

// Unmarshal decodes a filter block produced by Marshal. The returned filter
// supports Contains and Remove; it is not intended to receive further Add
// calls (a reloaded SSTable filter is immutable).
func Unmarshal(data []byte) (*Filter, error) {
	r := &reader{data: data}

	capacity := int(r.u64())
	fpp := math.Float64frombits(r.u64())
	entries := int(r.u64())
	maxKicks := int(r.u64())
	layerCount := int(r.u64())
	if r.err != nil {
		return nil, r.err
	}

	f := &Filter{capacity: capacity, fpp: fpp, entries: entries, maxKicks: maxKicks}
	for i := 0; i < layerCount; i++ {
		fpBits := uint(r.u64())
		bucketCount := r.u64()
		count := r.u64()
		wordCount := int(r.u64())
		if r.err != nil {
			return nil, r.err
		}
		words := make([]uint64, wordCount)
		for j := range words {
			words[j] = r.u64()
		}
		if r.err != nil {
			return nil, r.err
		}

		l := &layer{
			fpBits:      fpBits,
			fpMask:      (uint64(1) << fpBits) - 1,
			entries:     uint(entries),
			bucketBits:  fpBits * uint(entries),
			idxMask:     bucketCount - 1,
			bucketCount: bucketCount,
			count:       count,
			maxKicks:    maxKicks,
		}
		l.bits = bitsetFromWords(words, uint(fpBits*uint(entries)*uint(bucketCount)))
		f.layers = append(f.layers, l)
	}
	return f, nil
}

type reader struct {
	data []byte
	off  int
	err  error
}

// bitsetFromWords rebuilds a BitSet of the given bit length from raw 64-bit
// words, since the library only offers bit-at-a-time Set after construction.
func bitsetFromWords(words []uint64, length uint) *bitset.BitSet {
	b := bitset.New(length)
	for wi, w := range words {
		if w == 0 {
			continue
		}
		base := uint(wi) * 64
		for bit := uint(0); bit < 64; bit++ {
			if w&(1<<bit) != 0 {
				pos := base + bit
				if pos < length {
					b.Set(pos)
				}
			}
		}
	}
	return b
}

func (r *reader) u64() uint64 {
	if r.err != nil {
		return 0
	}
	if r.off+8 > len(r.data) {
		r.err = fmt.Errorf("cuckoo: truncated filter block")
		return 0
	}
	v := binary.LittleEndian.Uint64(r.data[r.off : r.off+8])
	r.off += 8
	return v
}
