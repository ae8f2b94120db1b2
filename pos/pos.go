// Package pos defines Pos, the compact locator for one record stored in the
// write-ahead log. A Pos is the only value kept in memtables and SSTable
// entries; it carries enough information for the WAL to recover the
// record's value bytes without consulting any other index.
package pos

import (
	"encoding/binary"
	"fmt"
)

// Placement describes where a key or value's bytes actually live relative to
// the WAL record header that names them.
type Placement uint8

const (
	// PlacementInline means the bytes are folded directly into the header.
	PlacementInline Placement = iota
	// PlacementInfile means the bytes immediately follow the header in the
	// same WAL file.
	PlacementInfile
	// PlacementFile means the bytes live in a separate blob file under bin/.
	PlacementFile
)

// Size is the fixed on-disk/in-memory encoded size of a Pos, in bytes.
const Size = 1 + 8 + 8 + 4

// Pos locates one record written to the WAL.
type Pos struct {
	Tombstone  bool
	KeyPlace   Placement
	ValPlace   Placement
	WALID      uint64 // WAL file id holding the record's header
	Offset     uint64 // byte offset of the header within that file
	Len        uint32 // value length in bytes (0 for tombstones)
}

// flag bit layout: bit0 tombstone, bits1-2 key placement, bits3-4 value placement.
func (p Pos) flag() byte {
	var f byte
	if p.Tombstone {
		f |= 1
	}
	f |= byte(p.KeyPlace&0x3) << 1
	f |= byte(p.ValPlace&0x3) << 3
	return f
}

func fromFlag(f byte) (tombstone bool, keyPlace, valPlace Placement) {
	tombstone = f&1 != 0
	keyPlace = Placement((f >> 1) & 0x3)
	valPlace = Placement((f >> 3) & 0x3)
	return
}

// Encode writes the fixed Size-byte representation of p into buf, which must
// be at least Size bytes long.
func (p Pos) Encode(buf []byte) {
	_ = buf[Size-1]
	buf[0] = p.flag()
	binary.LittleEndian.PutUint64(buf[1:9], p.WALID)
	binary.LittleEndian.PutUint64(buf[9:17], p.Offset)
	binary.LittleEndian.PutUint32(buf[17:21], p.Len)
}

// Bytes returns the encoded Pos as a freshly allocated slice.
func (p Pos) Bytes() []byte {
	buf := make([]byte, Size)
	p.Encode(buf)
	return buf
}

// Decode parses a Size-byte encoded Pos.
func Decode(buf []byte) (Pos, error) {
	if len(buf) < Size {
		return Pos{}, fmt.Errorf("pos: short buffer: need %d bytes, got %d", Size, len(buf))
	}

	tombstone, keyPlace, valPlace := fromFlag(buf[0])

	return Pos{
		Tombstone: tombstone,
		KeyPlace:  keyPlace,
		ValPlace:  valPlace,
		WALID:     binary.LittleEndian.Uint64(buf[1:9]),
		Offset:    binary.LittleEndian.Uint64(buf[9:17]),
		Len:       binary.LittleEndian.Uint32(buf[17:21]),
	}, nil
}
