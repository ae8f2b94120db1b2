package lsm

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/return2faye/jkv/sstable"
)

const (
	manifestMagic   = 0x4d44444a // "JDBM" as a little-endian u32, per spec §4.10
	manifestVersion = 1

	manifestFileName   = "MANIFEST"
	checkpointFileName = "CHECKPOINT"
)

// Manifest is the durable record of every level's table set, plus the
// sequence numbers needed to resume allocating ids after a restart.
type Manifest struct {
	ManifestVersion uint64
	Seqno           uint64
	NextTableID     uint64
	Levels          [][]*sstable.TableMeta
}

// ManifestPath returns the manifest file's path within dir.
func ManifestPath(dir string) string { return filepath.Join(dir, manifestFileName) }

// CheckpointPath returns the checkpoint file's path within dir.
func CheckpointPath(dir string) string { return filepath.Join(dir, checkpointFileName) }

// EncodeManifest serializes m to the bit-exact layout from spec §4.10.
func EncodeManifest(m *Manifest) []byte {
	var buf bytes.Buffer
	var u32 [4]byte
	var u64 [8]byte
	var u16 [2]byte

	binary.LittleEndian.PutUint32(u32[:], manifestMagic)
	buf.Write(u32[:])
	buf.WriteByte(manifestVersion)
	buf.Write([]byte{0, 0, 0}) // reserved

	binary.LittleEndian.PutUint64(u64[:], m.ManifestVersion)
	buf.Write(u64[:])
	binary.LittleEndian.PutUint64(u64[:], m.Seqno)
	buf.Write(u64[:])
	binary.LittleEndian.PutUint64(u64[:], m.NextTableID)
	buf.Write(u64[:])

	buf.WriteByte(byte(len(m.Levels)))
	for _, level := range m.Levels {
		binary.LittleEndian.PutUint32(u32[:], uint32(len(level)))
		buf.Write(u32[:])
		for _, tbl := range level {
			binary.LittleEndian.PutUint64(u64[:], tbl.ID)
			buf.Write(u64[:])

			binary.LittleEndian.PutUint16(u16[:], uint16(len(tbl.MinKey)))
			buf.Write(u16[:])
			buf.Write(tbl.MinKey)

			binary.LittleEndian.PutUint16(u16[:], uint16(len(tbl.MaxKey)))
			buf.Write(u16[:])
			buf.Write(tbl.MaxKey)

			binary.LittleEndian.PutUint64(u64[:], uint64(tbl.ItemCount))
			buf.Write(u64[:])
			binary.LittleEndian.PutUint64(u64[:], uint64(tbl.FileSize))
			buf.Write(u64[:])
		}
	}

	sum := crc32.ChecksumIEEE(buf.Bytes())
	binary.LittleEndian.PutUint32(u32[:], sum)
	buf.Write(u32[:])
	return buf.Bytes()
}

// DecodeManifest parses data written by EncodeManifest, rejecting a magic,
// version, or CRC mismatch.
func DecodeManifest(data []byte) (*Manifest, error) {
	if len(data) < 4 {
		return nil, errors.New("lsm: manifest too short")
	}
	body, trailer := data[:len(data)-4], data[len(data)-4:]
	if crc32.ChecksumIEEE(body) != binary.LittleEndian.Uint32(trailer) {
		return nil, errors.New("lsm: manifest CRC mismatch")
	}

	r := &reader{data: body}
	magic := r.u32()
	if magic != manifestMagic {
		return nil, errors.Errorf("lsm: manifest magic = %#x, want %#x", magic, manifestMagic)
	}
	version := r.u8()
	if version != manifestVersion {
		return nil, errors.Errorf("lsm: manifest version = %d, want %d", version, manifestVersion)
	}
	r.skip(3) // reserved

	m := &Manifest{
		ManifestVersion: r.u64(),
		Seqno:           r.u64(),
		NextTableID:     r.u64(),
	}
	levelCount := int(r.u8())
	m.Levels = make([][]*sstable.TableMeta, levelCount)
	for i := 0; i < levelCount; i++ {
		tableCount := int(r.u32())
		level := make([]*sstable.TableMeta, tableCount)
		for j := 0; j < tableCount; j++ {
			tbl := &sstable.TableMeta{ID: r.u64()}
			tbl.MinKey = r.bytes(int(r.u16()))
			tbl.MaxKey = r.bytes(int(r.u16()))
			tbl.ItemCount = int(r.u64())
			tbl.FileSize = int64(r.u64())
			level[j] = tbl
		}
		m.Levels[i] = level
	}
	if r.err != nil {
		return nil, r.err
	}
	return m, nil
}

// reader is a small cursor over a byte slice that records the first error
// it hits instead of panicking, so a truncated manifest surfaces as a
// normal decode error.
type reader struct {
	data []byte
	off  int
	err  error
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.off+n > len(r.data) {
		r.err = errors.New("lsm: manifest truncated")
		return false
	}
	return true
}

func (r *reader) u8() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.data[r.off]
	r.off++
	return v
}

func (r *reader) u16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(r.data[r.off:])
	r.off += 2
	return v
}

func (r *reader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v
}

func (r *reader) u64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(r.data[r.off:])
	r.off += 8
	return v
}

func (r *reader) bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	v := append([]byte(nil), r.data[r.off:r.off+n]...)
	r.off += n
	return v
}

func (r *reader) skip(n int) {
	if !r.need(n) {
		return
	}
	r.off += n
}

// WriteManifest persists m to dir via temp-file + atomic rename + directory
// fsync, the commit point for every mutation to level state (spec §4.9
// step 4, §4.10).
func WriteManifest(dir string, m *Manifest) error {
	return atomicWriteFile(dir, manifestFileName, EncodeManifest(m))
}

// LoadManifest reads and decodes dir's manifest, or returns (nil, nil) if
// none exists yet (a fresh database).
func LoadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(ManifestPath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "lsm: read manifest")
	}
	m, err := DecodeManifest(data)
	if err != nil {
		return nil, errors.Wrap(err, "lsm: decode manifest")
	}
	return m, nil
}

// Checkpoint is the WAL replay watermark: the (wal_id, wal_offset) a Flush
// has durably advanced past.
type Checkpoint struct {
	WALID  uint64
	Offset uint64
}

// EncodeCheckpoint serializes cp as two little-endian u64s followed by a
// CRC32 trailer, mirroring the manifest's own framing.
func EncodeCheckpoint(cp Checkpoint) []byte {
	var buf bytes.Buffer
	var u64 [8]byte
	binary.LittleEndian.PutUint64(u64[:], cp.WALID)
	buf.Write(u64[:])
	binary.LittleEndian.PutUint64(u64[:], cp.Offset)
	buf.Write(u64[:])

	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], crc32.ChecksumIEEE(buf.Bytes()))
	buf.Write(u32[:])
	return buf.Bytes()
}

// DecodeCheckpoint parses data written by EncodeCheckpoint.
func DecodeCheckpoint(data []byte) (Checkpoint, error) {
	if len(data) != 20 {
		return Checkpoint{}, errors.Errorf("lsm: checkpoint size = %d, want 20", len(data))
	}
	body, trailer := data[:16], data[16:]
	if crc32.ChecksumIEEE(body) != binary.LittleEndian.Uint32(trailer) {
		return Checkpoint{}, errors.New("lsm: checkpoint CRC mismatch")
	}
	return Checkpoint{
		WALID:  binary.LittleEndian.Uint64(body[0:8]),
		Offset: binary.LittleEndian.Uint64(body[8:16]),
	}, nil
}

// WriteCheckpoint persists cp via the same temp-file + atomic rename +
// directory fsync pattern as the manifest, updated after every successful
// flush (spec §4.10).
func WriteCheckpoint(dir string, cp Checkpoint) error {
	return atomicWriteFile(dir, checkpointFileName, EncodeCheckpoint(cp))
}

// LoadCheckpoint reads dir's checkpoint, or the zero Checkpoint if none
// exists yet.
func LoadCheckpoint(dir string) (Checkpoint, error) {
	data, err := os.ReadFile(CheckpointPath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return Checkpoint{}, nil
		}
		return Checkpoint{}, errors.Wrap(err, "lsm: read checkpoint")
	}
	cp, err := DecodeCheckpoint(data)
	if err != nil {
		return Checkpoint{}, errors.Wrap(err, "lsm: decode checkpoint")
	}
	return cp, nil
}

// atomicWriteFile writes data to a temp file in dir, fsyncs it, renames it
// over name, then fsyncs the directory — so a crash at any point leaves
// either the old file or the fully-written new one, never a partial write.
func atomicWriteFile(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, name+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "lsm: create temp file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "lsm: write temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "lsm: sync temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "lsm: close temp file")
	}

	if err := os.Rename(tmpPath, filepath.Join(dir, name)); err != nil {
		return errors.Wrap(err, "lsm: rename into place")
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return errors.Wrap(err, "lsm: open dir for fsync")
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return errors.Wrap(err, "lsm: fsync dir")
	}
	return nil
}
