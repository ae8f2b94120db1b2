package sstable

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/return2faye/jkv/memtable"
)

func buildTestTable(t *testing.T, dir string, id uint64, n int, opts WriterOptions) (*TableMeta, []memtable.Record) {
	t.Helper()

	w, err := NewWriter(dir, id, n, opts)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	var want []memtable.Record
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("users/%06d/profile", i))
		e := valueEntry(i)
		if i%11 == 0 {
			e = memtable.Entry{Kind: memtable.KindTombstone}
		}
		if err := w.Add(key, e); err != nil {
			t.Fatalf("Add(%d): %v", i, err)
		}
		want = append(want, memtable.Record{Key: key, Entry: e})
	}

	meta, err := w.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if meta == nil {
		t.Fatalf("Finish returned nil meta for %d items", n)
	}
	return meta, want
}

func TestWriterReaderRoundTrip(t *testing.T) {
	dir := t.TempDir()
	meta, want := buildTestTable(t, dir, 1, 500, WriterOptions{BlockSize: 512})

	r, err := Open(Path(dir, 1), 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if r.Meta().ItemCount != meta.ItemCount || r.Meta().ItemCount != len(want) {
		t.Fatalf("ItemCount = %d, want %d", r.Meta().ItemCount, len(want))
	}
	if string(r.Meta().MinKey) != string(want[0].Key) {
		t.Fatalf("MinKey = %q, want %q", r.Meta().MinKey, want[0].Key)
	}
	if string(r.Meta().MaxKey) != string(want[len(want)-1].Key) {
		t.Fatalf("MaxKey = %q, want %q", r.Meta().MaxKey, want[len(want)-1].Key)
	}

	var got []memtable.Record
	if err := r.All(func(rec memtable.Record) bool {
		got = append(got, rec)
		return true
	}); err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("All yielded %d records, want %d", len(got), len(want))
	}
	for i := range want {
		if string(got[i].Key) != string(want[i].Key) {
			t.Fatalf("record %d key = %q, want %q", i, got[i].Key, want[i].Key)
		}
		if got[i].Entry.IsTombstone() != want[i].Entry.IsTombstone() {
			t.Fatalf("record %d tombstone mismatch", i)
		}
	}
}

func TestReaderGetExactMatch(t *testing.T) {
	dir := t.TempDir()
	_, want := buildTestTable(t, dir, 2, 300, WriterOptions{BlockSize: 1024})

	r, err := Open(Path(dir, 2), 2)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	for _, rec := range want {
		got, ok, err := r.Get(rec.Key)
		if err != nil {
			t.Fatalf("Get(%q): %v", rec.Key, err)
		}
		if !ok {
			t.Fatalf("Get(%q) = not found", rec.Key)
		}
		if got.IsTombstone() != rec.Entry.IsTombstone() {
			t.Fatalf("Get(%q) tombstone mismatch", rec.Key)
		}
	}

	if _, ok, err := r.Get([]byte("zzz-not-present")); err != nil || ok {
		t.Fatalf("Get(missing out-of-range) = (%v, %v), want (_, false)", ok, err)
	}
	if _, ok, err := r.Get([]byte("users/000000/zzzz")); err != nil || ok {
		t.Fatalf("Get(missing in-range) = (%v, %v), want (_, false)", ok, err)
	}
}

func TestReaderRangeRespectsBounds(t *testing.T) {
	dir := t.TempDir()
	_, want := buildTestTable(t, dir, 3, 400, WriterOptions{BlockSize: 800})

	r, err := Open(Path(dir, 3), 3)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	lo, hi := want[100].Key, want[150].Key
	var got []memtable.Record
	if err := r.Range(lo, hi, func(rec memtable.Record) bool {
		got = append(got, rec)
		return true
	}); err != nil {
		t.Fatalf("Range: %v", err)
	}

	wantCount := 0
	for _, rec := range want {
		if string(rec.Key) >= string(lo) && string(rec.Key) <= string(hi) {
			wantCount++
		}
	}
	if len(got) != wantCount {
		t.Fatalf("Range yielded %d records, want %d", len(got), wantCount)
	}
	for _, rec := range got {
		if string(rec.Key) < string(lo) || string(rec.Key) > string(hi) {
			t.Fatalf("Range yielded out-of-bounds key %q for [%q,%q]", rec.Key, lo, hi)
		}
	}
}

func TestReaderAllReverseMirrorsForward(t *testing.T) {
	dir := t.TempDir()
	_, want := buildTestTable(t, dir, 4, 120, WriterOptions{BlockSize: 256})

	r, err := Open(Path(dir, 4), 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	var got []memtable.Record
	if err := r.AllReverse(func(rec memtable.Record) bool {
		got = append(got, rec)
		return true
	}); err != nil {
		t.Fatalf("AllReverse: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("AllReverse yielded %d records, want %d", len(got), len(want))
	}
	for i := range got {
		wantIdx := len(want) - 1 - i
		if string(got[i].Key) != string(want[wantIdx].Key) {
			t.Fatalf("reverse record %d key = %q, want %q", i, got[i].Key, want[wantIdx].Key)
		}
	}
}

func TestWriterRejectsNonAscendingKeys(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, 5, 10, WriterOptions{})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	if err := w.Add([]byte("b"), valueEntry(1)); err != nil {
		t.Fatalf("Add(b): %v", err)
	}
	if err := w.Add([]byte("a"), valueEntry(2)); err == nil {
		t.Fatalf("Add(a) after Add(b) should have failed (non-ascending)")
	}
	w.Finish()
}

func TestWriterFinishRemovesEmptyFile(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, 6, 10, WriterOptions{})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	meta, err := w.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if meta != nil {
		t.Fatalf("Finish on empty writer returned non-nil meta: %+v", meta)
	}
	if _, err := Open(Path(dir, 6), 6); err == nil {
		t.Fatalf("Open succeeded on a table that should have been removed")
	}
}

// Uses testify's require, unlike the rest of this file, matching the
// assertion style the pack's darshanime-pebble uses for its own table tests.
func TestZstdCompressedTableRoundTrips(t *testing.T) {
	dir := t.TempDir()
	_, want := buildTestTable(t, dir, 8, 300, WriterOptions{
		BlockSize:        512,
		BlockCompression: CompressionZstd,
	})

	r, err := Open(Path(dir, 8), 8)
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, CompressionZstd, r.compression)

	var got []memtable.Record
	err = r.All(func(rec memtable.Record) bool {
		got = append(got, rec)
		return true
	})
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for i := range want {
		require.Equal(t, string(want[i].Key), string(got[i].Key), "record %d", i)
	}

	mid := want[150].Key
	_, ok, err := r.Get(mid)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestFilterPrunesMissingKeysWithoutIO(t *testing.T) {
	dir := t.TempDir()
	_, _ = buildTestTable(t, dir, 7, 200, WriterOptions{BlockSize: 512})

	r, err := Open(Path(dir, 7), 7)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	// A key that sorts within [MinKey, MaxKey] but was never inserted: the
	// filter should (almost always) say no, and Get must still return
	// not-found even if it doesn't.
	if _, ok, err := r.Get([]byte("users/000001/zzzzzzzzz-not-a-real-suffix")); err != nil || ok {
		t.Fatalf("Get(never-inserted in-range key) = (%v, %v), want (_, false)", ok, err)
	}
}
