package wal

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/return2faye/jkv/pos"
)

// Record magic byte. Arbitrary, chosen for this implementation (spec §9 open
// question: "The exact MAGIC byte value for WAL records is
// implementation-chosen").
const recordMagic byte = 0xA5

// InlineMax bounds the cumulative bytes a record may carry folded directly
// into its header (spec: "cumulative <= an implementation constant, e.g. 50
// bytes").
const InlineMax = 50

// InfileMax bounds the size of a key or value placed in-file, immediately
// following the header, rather than in an external blob file.
const InfileMax = 1 << 20 // 1 MiB

// Op is the record's logical operation.
type Op uint8

const (
	OpPut Op = iota
	OpDelete
)

// header is the fixed-size portion of one WAL record, excluding the leading
// magic byte and any variable-length payload that follows it.
type header struct {
	op        Op
	keyPlace  pos.Placement
	valPlace  pos.Placement
	keyLen    uint32
	valLen    uint32
	keyFileID uint64
	valFileID uint64
}

// headerSize is the encoded size of header, crc excluded.
const headerSize = 1 + 1 + 1 + 4 + 4 + 8 + 8

// HeaderSize is headerSize plus its trailing CRC32, the unit recovery seeks
// past when validating a record in place.
const HeaderSize = headerSize + 4

func (h header) encode(buf []byte) {
	_ = buf[HeaderSize-1]
	buf[0] = byte(h.op)
	buf[1] = byte(h.keyPlace)
	buf[2] = byte(h.valPlace)
	binary.LittleEndian.PutUint32(buf[3:7], h.keyLen)
	binary.LittleEndian.PutUint32(buf[7:11], h.valLen)
	binary.LittleEndian.PutUint64(buf[11:19], h.keyFileID)
	binary.LittleEndian.PutUint64(buf[19:27], h.valFileID)
	crc := crc32.ChecksumIEEE(buf[:headerSize])
	binary.LittleEndian.PutUint32(buf[headerSize:HeaderSize], crc)
}

func decodeHeader(buf []byte) (header, bool) {
	if len(buf) < HeaderSize {
		return header{}, false
	}

	crc := binary.LittleEndian.Uint32(buf[headerSize:HeaderSize])
	if crc32.ChecksumIEEE(buf[:headerSize]) != crc {
		return header{}, false
	}

	h := header{
		op:        Op(buf[0]),
		keyPlace:  pos.Placement(buf[1]),
		valPlace:  pos.Placement(buf[2]),
		keyLen:    binary.LittleEndian.Uint32(buf[3:7]),
		valLen:    binary.LittleEndian.Uint32(buf[7:11]),
		keyFileID: binary.LittleEndian.Uint64(buf[11:19]),
		valFileID: binary.LittleEndian.Uint64(buf[19:27]),
	}
	return h, true
}

// placementFor decides where a byte string of length n should live, given
// the other field's already-decided length (placements are decided on the
// cumulative inline budget of key+value together).
func placementFor(n, cumulativeInline int) (pos.Placement, int) {
	switch {
	case cumulativeInline+n <= InlineMax:
		return pos.PlacementInline, cumulativeInline + n
	case n <= InfileMax:
		return pos.PlacementInfile, cumulativeInline
	default:
		return pos.PlacementFile, cumulativeInline
	}
}

// endMagic guards the optional fast-recovery tail appended after every
// record: [endMagic byte][8-byte LE offset of this record's header,
// relative to EOF at the time it was written].
const endMagic byte = 0x5A
const endMarkerSize = 1 + 8

func encodeEndMarker(buf []byte, headerOffsetFromEOF uint64) {
	_ = buf[endMarkerSize-1]
	buf[0] = endMagic
	binary.LittleEndian.PutUint64(buf[1:9], headerOffsetFromEOF)
}

func decodeEndMarker(buf []byte) (uint64, bool) {
	if len(buf) < endMarkerSize || buf[0] != endMagic {
		return 0, false
	}
	return binary.LittleEndian.Uint64(buf[1:9]), true
}
