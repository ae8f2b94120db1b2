package wal

import (
	"os"

	"github.com/pkg/errors"

	"github.com/return2faye/jkv/pos"
)

// ErrCorrupt marks a record that failed its CRC check during recovery or a
// direct read.
var ErrCorrupt = errors.New("wal: corrupt record")

// recover_ determines the valid length of a WAL file: the fast path trusts
// the trailing end marker left by a clean append; failing that (the file
// was torn mid-write, or has no marker at all) it falls back to a forward
// scan from the file header, validating each record's magic byte and header
// CRC in turn and skipping past any that don't check out (see forwardScan). This
// mirrors spec §4.1's two-path recovery algorithm and jdb_val's magic-byte
// scanning fallback.
func recover_(f *os.File) (validEnd int64, err error) {
	size, err := f.Seek(0, 2)
	if err != nil {
		return 0, errors.Wrap(err, "wal: seek end")
	}
	if size <= int64(FileHeaderSize) {
		return int64(FileHeaderSize), nil
	}

	if end, ok := tryFastRecover(f, size); ok {
		return end, nil
	}
	return forwardScan(f, size)
}

// tryFastRecover validates the trailing end marker of a cleanly-closed WAL
// file: it encodes the distance back to the start of the last record, which
// must itself begin with recordMagic and carry a valid header CRC.
func tryFastRecover(f *os.File, size int64) (int64, bool) {
	if size < int64(endMarkerSize) {
		return 0, false
	}

	tail := make([]byte, endMarkerSize)
	if _, err := f.ReadAt(tail, size-int64(endMarkerSize)); err != nil {
		return 0, false
	}
	recLenMinus1, ok := decodeEndMarker(tail)
	if !ok {
		return 0, false
	}

	recLen := int64(recLenMinus1) + 1
	recordStart := size - recLen
	if recordStart < int64(FileHeaderSize) {
		return 0, false
	}

	magic := make([]byte, 1)
	if _, err := f.ReadAt(magic, recordStart); err != nil || magic[0] != recordMagic {
		return 0, false
	}

	hbuf := make([]byte, HeaderSize)
	if _, err := f.ReadAt(hbuf, recordStart+1); err != nil {
		return 0, false
	}
	if _, ok := decodeHeader(hbuf); !ok {
		return 0, false
	}

	return size, true
}

// forwardScan walks records from the start of the file. A bad magic byte or
// a header that fails its CRC doesn't end the scan: per spec §4.1 step 3,
// it skips one byte and keeps hunting for the next recordMagic occurrence,
// so one corrupted record doesn't discard every intact record written after
// it (mirrors jdb_val's scan_recover). It returns the offset just past the
// last record recovered this way (payload included, end marker not
// required); a record whose declared payload runs past EOF is a genuine
// torn tail, not scanned-past corruption, so that does end the scan.
func forwardScan(f *os.File, size int64) (int64, error) {
	offset := int64(FileHeaderSize)
	lastGood := offset

	magic := make([]byte, 1)
	hbuf := make([]byte, HeaderSize)

	for offset+1+HeaderSize <= size {
		if _, err := f.ReadAt(magic, offset); err != nil {
			break
		}
		if magic[0] != recordMagic {
			offset++
			continue
		}
		if _, err := f.ReadAt(hbuf, offset+1); err != nil {
			break
		}
		h, ok := decodeHeader(hbuf)
		if !ok {
			offset++
			continue
		}

		payload := payloadLen(h)
		recordEnd := offset + 1 + int64(HeaderSize) + payload
		if recordEnd > size {
			break
		}

		offset = recordEnd
		// Skip an end marker if present and well-formed; otherwise this is
		// the last record in a file that was never cleanly closed.
		if offset+int64(endMarkerSize) <= size {
			tail := make([]byte, endMarkerSize)
			if _, err := f.ReadAt(tail, offset); err == nil {
				if _, ok := decodeEndMarker(tail); ok {
					offset += int64(endMarkerSize)
				}
			}
		}
		lastGood = offset
	}

	return lastGood, nil
}

// payloadLen returns the number of inline+in-file bytes following a
// record's header, given its decoded placements and lengths.
func payloadLen(h header) int64 {
	var n int64
	if h.keyPlace != pos.PlacementFile {
		n += int64(h.keyLen)
	}
	if h.valPlace != pos.PlacementFile {
		n += int64(h.valLen)
	}
	return n
}
