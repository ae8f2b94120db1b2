// Package sstable implements the on-disk sorted string table: prefix
// compressed data blocks, a Cuckoo filter, a PGM-predicted index, and the
// writer/reader that ties them together. Framing (length-prefixed fields,
// CRC32 guards via io.MultiWriter) follows the teacher's sst/writer.go; the
// block/filter/index shapes themselves come from the spec this replaces
// FlashLog's fixed entry format and Bloom filter with.
package sstable

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/return2faye/jkv/memtable"
	"github.com/return2faye/jkv/pos"
)

// DefaultRestartInterval is R in spec §4.3: every R-th entry stores its full
// key; the rest store a shared/unshared prefix split against it.
const DefaultRestartInterval = 16

// DefaultBlockSize is the soft target a data block is closed at.
const DefaultBlockSize = 4 * 1024

const (
	entryTagTombstone byte = 0
	entryTagValue     byte = 1
)

// blockBuilder accumulates a sorted run of (key, entry) pairs into one
// prefix-compressed data block.
type blockBuilder struct {
	restartInterval int
	buf             bytes.Buffer
	restarts        []uint32
	count           int
	prevKey         []byte
}

func newBlockBuilder(restartInterval int) *blockBuilder {
	if restartInterval <= 0 {
		restartInterval = DefaultRestartInterval
	}
	return &blockBuilder{restartInterval: restartInterval}
}

// add appends one entry. Callers must add keys in ascending order.
func (b *blockBuilder) add(key []byte, e memtable.Entry) {
	isRestart := b.count%b.restartInterval == 0

	shared := 0
	if !isRestart {
		shared = commonPrefixLen(b.prevKey, key)
	}
	unshared := key[shared:]

	if isRestart {
		b.restarts = append(b.restarts, uint32(b.buf.Len()))
	}

	var lenBuf [8]byte
	binary.LittleEndian.PutUint32(lenBuf[0:4], uint32(shared))
	binary.LittleEndian.PutUint32(lenBuf[4:8], uint32(len(unshared)))
	b.buf.Write(lenBuf[:])
	b.buf.Write(unshared)

	if e.IsTombstone() {
		b.buf.WriteByte(entryTagTombstone)
	} else {
		b.buf.WriteByte(entryTagValue)
		var pbuf [pos.Size]byte
		e.Pos.Encode(pbuf[:])
		b.buf.Write(pbuf[:])
	}

	b.prevKey = append(b.prevKey[:0], key...)
	b.count++
}

// size returns the number of payload bytes accumulated so far (trailer
// excluded), used to decide when to close the block.
func (b *blockBuilder) size() int { return b.buf.Len() }

func (b *blockBuilder) empty() bool { return b.count == 0 }

// finish appends the restart-offset trailer and returns the complete block
// bytes, per spec §4.3: entries, then restart offsets (u32 LE each), then
// restart count, then item count.
func (b *blockBuilder) finish() []byte {
	out := make([]byte, 0, b.buf.Len()+4*len(b.restarts)+8)
	out = append(out, b.buf.Bytes()...)

	var u32 [4]byte
	for _, r := range b.restarts {
		binary.LittleEndian.PutUint32(u32[:], r)
		out = append(out, u32[:]...)
	}
	binary.LittleEndian.PutUint32(u32[:], uint32(len(b.restarts)))
	out = append(out, u32[:]...)
	binary.LittleEndian.PutUint32(u32[:], uint32(b.count))
	out = append(out, u32[:]...)

	return out
}

func commonPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// blockTrailer parses the fixed trailer at the end of a decoded block,
// returning the restart offsets, item count, and the offset where entry
// data ends (and the trailer begins).
func blockTrailer(data []byte) (restarts []uint32, itemCount int, dataEnd int, err error) {
	if len(data) < 8 {
		return nil, 0, 0, fmt.Errorf("sstable: block too small for trailer")
	}

	itemCount = int(binary.LittleEndian.Uint32(data[len(data)-4:]))
	restartCount := int(binary.LittleEndian.Uint32(data[len(data)-8 : len(data)-4]))

	trailerStart := len(data) - 8 - restartCount*4
	if trailerStart < 0 {
		return nil, 0, 0, fmt.Errorf("sstable: corrupt block trailer")
	}

	restarts = make([]uint32, restartCount)
	for i := 0; i < restartCount; i++ {
		off := trailerStart + i*4
		restarts[i] = binary.LittleEndian.Uint32(data[off : off+4])
	}

	return restarts, itemCount, trailerStart, nil
}

// decodeEntryAt decodes one entry starting at offset, given the full key
// reconstructed for the immediately preceding entry in the same block (nil
// at a restart point, where shared is always 0).
func decodeEntryAt(data []byte, offset int, prevKey []byte) (key []byte, e memtable.Entry, next int, err error) {
	if offset+8 > len(data) {
		return nil, memtable.Entry{}, 0, fmt.Errorf("sstable: truncated entry header")
	}
	shared := int(binary.LittleEndian.Uint32(data[offset : offset+4]))
	unshared := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
	p := offset + 8

	if shared > len(prevKey) || p+unshared > len(data) {
		return nil, memtable.Entry{}, 0, fmt.Errorf("sstable: corrupt entry")
	}

	key = make([]byte, shared+unshared)
	copy(key, prevKey[:shared])
	copy(key[shared:], data[p:p+unshared])
	p += unshared

	if p >= len(data) {
		return nil, memtable.Entry{}, 0, fmt.Errorf("sstable: truncated entry tag")
	}
	tag := data[p]
	p++

	switch tag {
	case entryTagTombstone:
		e = memtable.Entry{Kind: memtable.KindTombstone}
	case entryTagValue:
		if p+pos.Size > len(data) {
			return nil, memtable.Entry{}, 0, fmt.Errorf("sstable: truncated entry pos")
		}
		decoded, derr := pos.Decode(data[p : p+pos.Size])
		if derr != nil {
			return nil, memtable.Entry{}, 0, derr
		}
		e = memtable.Entry{Kind: memtable.KindValue, Pos: decoded}
		p += pos.Size
	default:
		return nil, memtable.Entry{}, 0, fmt.Errorf("sstable: unknown entry tag %d", tag)
	}

	return key, e, p, nil
}

// forEachInBlock decodes every (key, entry) pair in data in forward order,
// calling fn until it returns false or the block is exhausted.
func forEachInBlock(data []byte, fn func(memtable.Record) bool) error {
	_, _, dataEnd, err := blockTrailer(data)
	if err != nil {
		return err
	}

	offset := 0
	var prevKey []byte
	for offset < dataEnd {
		key, e, next, err := decodeEntryAt(data, offset, prevKey)
		if err != nil {
			return err
		}
		prevKey = key
		offset = next
		if !fn(memtable.Record{Key: key, Entry: e}) {
			return nil
		}
	}
	return nil
}

// forEachInBlockReverse decodes data one restart interval at a time,
// materializing each interval's entries into a stack and yielding them
// back to front, per spec §4.3's reverse-iteration algorithm.
func forEachInBlockReverse(data []byte, fn func(memtable.Record) bool) error {
	restarts, _, dataEnd, err := blockTrailer(data)
	if err != nil {
		return err
	}

	for ri := len(restarts) - 1; ri >= 0; ri-- {
		start := int(restarts[ri])
		end := dataEnd
		if ri+1 < len(restarts) {
			end = int(restarts[ri+1])
		}

		var items []memtable.Record
		offset := start
		var prevKey []byte
		for offset < end {
			key, e, next, err := decodeEntryAt(data, offset, prevKey)
			if err != nil {
				return err
			}
			prevKey = key
			offset = next
			items = append(items, memtable.Record{Key: key, Entry: e})
		}

		for i := len(items) - 1; i >= 0; i-- {
			if !fn(items[i]) {
				return nil
			}
		}
	}
	return nil
}

// blockGet linear-scans a decoded block for an exact key match.
func blockGet(data []byte, key []byte) (memtable.Entry, bool, error) {
	var found memtable.Entry
	ok := false
	err := forEachInBlock(data, func(r memtable.Record) bool {
		c := bytes.Compare(r.Key, key)
		if c == 0 {
			found, ok = r.Entry, true
			return false
		}
		return c < 0
	})
	return found, ok, err
}
