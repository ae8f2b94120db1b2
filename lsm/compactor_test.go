package lsm

import (
	"fmt"
	"io"
	"testing"

	"github.com/rs/zerolog"

	"github.com/return2faye/jkv/internal/idalloc"
	"github.com/return2faye/jkv/memtable"
	"github.com/return2faye/jkv/sstable"
)

func valueEntry(n int) memtable.Entry {
	return memtable.Entry{Kind: memtable.KindValue}
}

func buildTable(t *testing.T, dir string, id uint64, keys []string, tombstoneKeys map[string]bool) *sstable.TableMeta {
	t.Helper()
	w, err := sstable.NewWriter(dir, id, len(keys), sstable.WriterOptions{BlockSize: 256})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for _, k := range keys {
		e := valueEntry(0)
		if tombstoneKeys[k] {
			e = memtable.Entry{Kind: memtable.KindTombstone}
		}
		if err := w.Add([]byte(k), e); err != nil {
			t.Fatalf("Add(%q): %v", k, err)
		}
	}
	meta, err := w.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	return meta
}

func quietLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestCompactorTrivialMove(t *testing.T) {
	dir := t.TempDir()
	src := buildTable(t, dir, 1, []string{"m", "n", "o"}, nil)

	tree := NewTree(Options{MemThreshold: 1, L0Threshold: 1, LevelRatio: 10})
	tree.Add(0, src)
	tree.Add(1, buildTable(t, dir, 2, []string{"a", "b"}, nil))

	job, ok := tree.PickJob()
	if !ok {
		t.Fatalf("expected a job")
	}
	if !job.TrivialDst {
		t.Fatalf("expected a trivial move (m-o does not overlap a-b)")
	}

	comp := NewCompactor(dir, idalloc.New(10), sstable.WriterOptions{}, quietLogger())
	res, err := comp.Run(job, tree, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	comp.ApplyResult(tree, res)

	if len(tree.Tables(0)) != 0 {
		t.Fatalf("source level should be empty after a trivial move")
	}
	found := false
	for _, m := range tree.Tables(1) {
		if m.ID == src.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("moved table id %d not found in destination level", src.ID)
	}
}

func TestCompactorMergesOverlappingInputs(t *testing.T) {
	dir := t.TempDir()
	// src (L0): a,c,e ; dst (L1): b,c,d — c collides, src (newer) should win.
	src := buildTable(t, dir, 1, []string{"a", "c", "e"}, nil)
	dst := buildTable(t, dir, 2, []string{"b", "c", "d"}, nil)

	tree := NewTree(Options{MemThreshold: 1, L0Threshold: 1, LevelRatio: 10})
	tree.Add(0, src)
	tree.Add(1, dst)

	job, ok := tree.PickJob()
	if !ok {
		t.Fatalf("expected a job")
	}
	if job.TrivialDst {
		t.Fatalf("expected an overlapping merge, not a trivial move")
	}

	comp := NewCompactor(dir, idalloc.New(10), sstable.WriterOptions{BlockSize: 256}, quietLogger())
	res, err := comp.Run(job, tree, true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	comp.ApplyResult(tree, res)

	if len(tree.Tables(0)) != 0 || len(tree.Tables(1)) != len(res.NewTables) {
		t.Fatalf("unexpected level state after compaction: L0=%d L1=%d", len(tree.Tables(0)), len(tree.Tables(1)))
	}

	var gotKeys []string
	for _, meta := range res.NewTables {
		r, err := sstable.Open(sstable.Path(dir, meta.ID), meta.ID)
		if err != nil {
			t.Fatalf("Open output table: %v", err)
		}
		r.All(func(rec memtable.Record) bool {
			gotKeys = append(gotKeys, string(rec.Key))
			return true
		})
		r.Close()
	}

	want := []string{"a", "b", "c", "d", "e"}
	if fmt.Sprint(gotKeys) != fmt.Sprint(want) {
		t.Fatalf("merged output keys = %v, want %v", gotKeys, want)
	}
}

func TestCompactorDropsTombstonesAtBottomLevel(t *testing.T) {
	dir := t.TempDir()
	src := buildTable(t, dir, 1, []string{"a", "b"}, map[string]bool{"b": true})

	tree := NewTree(Options{MemThreshold: 1, L0Threshold: 1, LevelRatio: 10})
	tree.Add(0, src)

	job, _ := tree.PickJob()
	comp := NewCompactor(dir, idalloc.New(10), sstable.WriterOptions{}, quietLogger())
	res, err := comp.Run(job, tree, true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var gotKeys []string
	for _, meta := range res.NewTables {
		r, err := sstable.Open(sstable.Path(dir, meta.ID), meta.ID)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		r.All(func(rec memtable.Record) bool {
			gotKeys = append(gotKeys, string(rec.Key))
			return true
		})
		r.Close()
	}
	if len(gotKeys) != 1 || gotKeys[0] != "a" {
		t.Fatalf("bottom-level compaction should drop tombstones, got %v", gotKeys)
	}
}

func TestCompactorKeepsTombstonesAboveBottomLevel(t *testing.T) {
	dir := t.TempDir()
	src := buildTable(t, dir, 1, []string{"a", "b"}, map[string]bool{"b": true})

	tree := NewTree(Options{MemThreshold: 1, L0Threshold: 1, LevelRatio: 10})
	tree.Add(0, src)

	job, _ := tree.PickJob()
	comp := NewCompactor(dir, idalloc.New(10), sstable.WriterOptions{}, quietLogger())
	res, err := comp.Run(job, tree, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var sawTombstone bool
	for _, meta := range res.NewTables {
		r, err := sstable.Open(sstable.Path(dir, meta.ID), meta.ID)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		r.All(func(rec memtable.Record) bool {
			if rec.Entry.IsTombstone() {
				sawTombstone = true
			}
			return true
		})
		r.Close()
	}
	if !sawTombstone {
		t.Fatalf("non-bottom-level compaction should carry tombstones through")
	}
}
