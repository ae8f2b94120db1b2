package wal

import (
	"os"
	"sort"

	"github.com/pkg/errors"

	"github.com/return2faye/jkv/internal/crockford"
	"github.com/return2faye/jkv/pos"
)

// Record is one decoded WAL entry surfaced during replay.
type Record struct {
	Key   []byte
	Entry pos.Pos
}

// Replay walks every WAL file in id order, from the oldest still on disk
// through the current one, handing each valid record to fn in append order
// so the caller (the db layer, on Open) can rebuild its memtable. Replay
// stops at the first record a file's own recovery pass would have
// discarded; it never returns records past that point.
func (w *Wal) Replay(fn func(Record) error) error {
	entries, err := os.ReadDir(w.walDir)
	if err != nil {
		return errors.Wrap(err, "wal: read wal dir")
	}

	var ids []uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, err := crockford.Decode(e.Name())
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if err := w.replayFile(id, fn); err != nil {
			return err
		}
	}
	return nil
}

func (w *Wal) replayFile(id uint64, fn func(Record) error) error {
	f, err := w.getReadFile(kindWAL, id)
	if err != nil {
		return err
	}

	size, err := f.Seek(0, 2)
	if err != nil {
		return errors.Wrap(err, "wal: seek end")
	}
	if size <= int64(FileHeaderSize) {
		return nil
	}

	offset := int64(FileHeaderSize)
	magic := make([]byte, 1)
	hbuf := make([]byte, HeaderSize)

	for offset+1+HeaderSize <= size {
		if _, err := f.ReadAt(magic, offset); err != nil {
			return nil
		}
		if magic[0] != recordMagic {
			return nil
		}
		if _, err := f.ReadAt(hbuf, offset+1); err != nil {
			return nil
		}
		h, ok := decodeHeader(hbuf)
		if !ok {
			return nil
		}

		headerOffset := offset + 1
		payload := payloadLen(h)
		recordEnd := headerOffset + int64(HeaderSize) + payload
		if recordEnd > size {
			return nil
		}

		key, err := w.readRecordKey(f, h, headerOffset)
		if err != nil {
			return err
		}

		p := pos.Pos{
			Tombstone: h.op == OpDelete,
			KeyPlace:  h.keyPlace,
			ValPlace:  h.valPlace,
			WALID:     id,
			Offset:    uint64(headerOffset),
			Len:       h.valLen,
		}
		if err := fn(Record{Key: key, Entry: p}); err != nil {
			return err
		}

		offset = recordEnd
		if offset+int64(endMarkerSize) <= size {
			tail := make([]byte, endMarkerSize)
			if _, err := f.ReadAt(tail, offset); err == nil {
				if _, ok := decodeEndMarker(tail); ok {
					offset += int64(endMarkerSize)
				}
			}
		}
	}
	return nil
}

// readRecordKey resolves the actual key bytes for a record whose header
// starts at headerOffset within f.
func (w *Wal) readRecordKey(f *os.File, h header, headerOffset int64) ([]byte, error) {
	if h.keyPlace == pos.PlacementFile {
		bf, err := w.getReadFile(kindBin, h.keyFileID)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, h.keyLen)
		if _, err := bf.ReadAt(buf, 0); err != nil {
			return nil, errors.Wrap(err, "wal: read external key")
		}
		return buf, nil
	}

	// Inline or in-file: key bytes are the first h.keyLen bytes following
	// the header; value bytes (if any) follow (see Wal.append).
	buf := make([]byte, h.keyLen)
	if _, err := f.ReadAt(buf, headerOffset+HeaderSize); err != nil {
		return nil, errors.Wrap(err, "wal: read key")
	}
	return buf, nil
}
