package lsm

import (
	"hash/crc32"
	"testing"

	"github.com/return2faye/jkv/sstable"
)

func sampleManifest() *Manifest {
	return &Manifest{
		ManifestVersion: 3,
		Seqno:           42,
		NextTableID:     7,
		Levels: [][]*sstable.TableMeta{
			{
				{ID: 1, MinKey: []byte("a"), MaxKey: []byte("m"), ItemCount: 100, FileSize: 4096},
				{ID: 2, MinKey: []byte("n"), MaxKey: []byte("z"), ItemCount: 50, FileSize: 2048},
			},
			{
				{ID: 5, MinKey: []byte("aa"), MaxKey: []byte("zz"), ItemCount: 900, FileSize: 40960},
			},
			{},
		},
	}
}

func TestManifestEncodeDecodeRoundTrip(t *testing.T) {
	want := sampleManifest()
	data := EncodeManifest(want)

	got, err := DecodeManifest(data)
	if err != nil {
		t.Fatalf("DecodeManifest: %v", err)
	}
	if got.ManifestVersion != want.ManifestVersion || got.Seqno != want.Seqno || got.NextTableID != want.NextTableID {
		t.Fatalf("header mismatch: got %+v, want %+v", got, want)
	}
	if len(got.Levels) != len(want.Levels) {
		t.Fatalf("level count = %d, want %d", len(got.Levels), len(want.Levels))
	}
	for i, level := range want.Levels {
		if len(got.Levels[i]) != len(level) {
			t.Fatalf("level %d table count = %d, want %d", i, len(got.Levels[i]), len(level))
		}
		for j, tbl := range level {
			gt := got.Levels[i][j]
			if gt.ID != tbl.ID || string(gt.MinKey) != string(tbl.MinKey) || string(gt.MaxKey) != string(tbl.MaxKey) ||
				gt.ItemCount != tbl.ItemCount || gt.FileSize != tbl.FileSize {
				t.Fatalf("level %d table %d = %+v, want %+v", i, j, gt, tbl)
			}
		}
	}
}

func TestManifestDecodeRejectsBadMagic(t *testing.T) {
	data := EncodeManifest(sampleManifest())
	data[0] ^= 0xff
	// Must also fix the CRC so this tests magic rejection, not CRC rejection.
	fixCRC(data)
	if _, err := DecodeManifest(data); err == nil {
		t.Fatalf("expected magic mismatch error")
	}
}

func TestManifestDecodeRejectsCRCMismatch(t *testing.T) {
	data := EncodeManifest(sampleManifest())
	data[len(data)-1] ^= 0xff
	if _, err := DecodeManifest(data); err == nil {
		t.Fatalf("expected CRC mismatch error")
	}
}

func TestManifestDecodeRejectsTruncation(t *testing.T) {
	data := EncodeManifest(sampleManifest())
	if _, err := DecodeManifest(data[:len(data)/2]); err == nil {
		t.Fatalf("expected truncation error")
	}
}

// fixCRC recomputes and overwrites the trailing CRC32 so a mutated-body test
// exercises the check it claims to, not an incidental CRC failure.
func fixCRC(data []byte) {
	sum := crc32.ChecksumIEEE(data[:len(data)-4])
	data[len(data)-4] = byte(sum)
	data[len(data)-3] = byte(sum >> 8)
	data[len(data)-2] = byte(sum >> 16)
	data[len(data)-1] = byte(sum >> 24)
}

func TestManifestWriteLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	want := sampleManifest()
	if err := WriteManifest(dir, want); err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}

	got, err := LoadManifest(dir)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if got == nil {
		t.Fatalf("LoadManifest returned nil after a write")
	}
	if got.Seqno != want.Seqno {
		t.Fatalf("Seqno = %d, want %d", got.Seqno, want.Seqno)
	}
}

func TestLoadManifestMissingReturnsNil(t *testing.T) {
	dir := t.TempDir()
	m, err := LoadManifest(dir)
	if err != nil {
		t.Fatalf("LoadManifest on empty dir: %v", err)
	}
	if m != nil {
		t.Fatalf("expected nil manifest for a fresh directory")
	}
}

func TestCheckpointEncodeDecodeRoundTrip(t *testing.T) {
	want := Checkpoint{WALID: 9, Offset: 12345}
	got, err := DecodeCheckpoint(EncodeCheckpoint(want))
	if err != nil {
		t.Fatalf("DecodeCheckpoint: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestCheckpointWriteLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	want := Checkpoint{WALID: 3, Offset: 777}
	if err := WriteCheckpoint(dir, want); err != nil {
		t.Fatalf("WriteCheckpoint: %v", err)
	}
	got, err := LoadCheckpoint(dir)
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestLoadCheckpointMissingReturnsZero(t *testing.T) {
	dir := t.TempDir()
	cp, err := LoadCheckpoint(dir)
	if err != nil {
		t.Fatalf("LoadCheckpoint on empty dir: %v", err)
	}
	if cp != (Checkpoint{}) {
		t.Fatalf("expected zero checkpoint, got %+v", cp)
	}
}

func TestWriteManifestIsAtomicAcrossRewrites(t *testing.T) {
	dir := t.TempDir()
	m1 := sampleManifest()
	m1.Seqno = 1
	if err := WriteManifest(dir, m1); err != nil {
		t.Fatalf("first WriteManifest: %v", err)
	}
	m2 := sampleManifest()
	m2.Seqno = 2
	if err := WriteManifest(dir, m2); err != nil {
		t.Fatalf("second WriteManifest: %v", err)
	}

	got, err := LoadManifest(dir)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if got.Seqno != 2 {
		t.Fatalf("Seqno = %d, want 2 (the latest write)", got.Seqno)
	}
}
