package merge

import (
	"iter"
	"testing"

	"github.com/return2faye/jkv/memtable"
)

func seqOf(recs ...memtable.Record) iter.Seq[memtable.Record] {
	return func(yield func(memtable.Record) bool) {
		for _, r := range recs {
			if !yield(r) {
				return
			}
		}
	}
}

func rec(key string, tombstone bool) memtable.Record {
	kind := memtable.KindValue
	if tombstone {
		kind = memtable.KindTombstone
	}
	return memtable.Record{Key: []byte(key), Entry: memtable.Entry{Kind: kind}}
}

func drain(t *testing.T, m *Merger) []memtable.Record {
	t.Helper()
	var out []memtable.Record
	for {
		r, ok := m.Next()
		if !ok {
			return out
		}
		out = append(out, r)
	}
}

func keys(recs []memtable.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = string(r.Key)
	}
	return out
}

func assertKeys(t *testing.T, got []memtable.Record, want ...string) {
	t.Helper()
	gk := keys(got)
	if len(gk) != len(want) {
		t.Fatalf("got %v, want %v", gk, want)
	}
	for i := range want {
		if gk[i] != want[i] {
			t.Fatalf("got %v, want %v", gk, want)
		}
	}
}

func TestMemPriorityOverSST(t *testing.T) {
	mem := seqOf(rec("k", false))
	sst := seqOf(rec("k", false))
	m := New([]iter.Seq[memtable.Record]{mem, sst}, false, false)
	defer m.Close()

	got := drain(t, m)
	assertKeys(t, got, "k")
	if got[0].Entry.Kind != memtable.KindValue {
		t.Fatalf("expected the mem source's entry to win")
	}
}

func TestMultipleMemSourcesFirstWins(t *testing.T) {
	a := seqOf(rec("x", false))
	b := seqOf(rec("x", true))
	m := New([]iter.Seq[memtable.Record]{a, b}, false, false)
	defer m.Close()

	got := drain(t, m)
	assertKeys(t, got, "x")
	if got[0].Entry.IsTombstone() {
		t.Fatalf("source a (priority 0) should have won over source b's tombstone")
	}
}

func TestDedupSameKeyAcrossManySources(t *testing.T) {
	srcs := []iter.Seq[memtable.Record]{
		seqOf(rec("a", false)),
		seqOf(rec("a", false)),
		seqOf(rec("a", false)),
		seqOf(rec("b", false)),
	}
	m := New(srcs, false, false)
	defer m.Close()

	got := drain(t, m)
	assertKeys(t, got, "a", "b")
}

func TestMergeOrdersAcrossSources(t *testing.T) {
	a := seqOf(rec("a", false), rec("c", false), rec("e", false))
	b := seqOf(rec("b", false), rec("d", false), rec("f", false))
	m := New([]iter.Seq[memtable.Record]{a, b}, false, false)
	defer m.Close()

	got := drain(t, m)
	assertKeys(t, got, "a", "b", "c", "d", "e", "f")
}

func TestSkipTombstonesDropsWinningTombstone(t *testing.T) {
	a := seqOf(rec("a", false), rec("b", true), rec("c", false))
	m := New([]iter.Seq[memtable.Record]{a}, false, true)
	defer m.Close()

	got := drain(t, m)
	assertKeys(t, got, "a", "c")
}

func TestNoSkipTombstonesYieldsTombstone(t *testing.T) {
	a := seqOf(rec("a", false), rec("b", true), rec("c", false))
	m := New([]iter.Seq[memtable.Record]{a}, false, false)
	defer m.Close()

	got := drain(t, m)
	assertKeys(t, got, "a", "b", "c")
	if !got[1].Entry.IsTombstone() {
		t.Fatalf("expected b to surface as a tombstone")
	}
}

func TestTombstoneOverridesOlderLiveValue(t *testing.T) {
	newer := seqOf(rec("k", true))
	older := seqOf(rec("k", false))
	m := New([]iter.Seq[memtable.Record]{newer, older}, false, false)
	defer m.Close()

	got := drain(t, m)
	assertKeys(t, got, "k")
	if !got[0].Entry.IsTombstone() {
		t.Fatalf("newer source's tombstone should mask the older source's live value")
	}
}

func TestDescendingOrder(t *testing.T) {
	a := seqOf(rec("e", false), rec("c", false), rec("a", false))
	b := seqOf(rec("f", false), rec("d", false), rec("b", false))
	m := New([]iter.Seq[memtable.Record]{a, b}, true, false)
	defer m.Close()

	got := drain(t, m)
	assertKeys(t, got, "f", "e", "d", "c", "b", "a")
}

func TestDescendingPriorityStillFavorsFirstSource(t *testing.T) {
	a := seqOf(rec("k", false))
	b := seqOf(rec("k", true))
	m := New([]iter.Seq[memtable.Record]{a, b}, true, false)
	defer m.Close()

	got := drain(t, m)
	assertKeys(t, got, "k")
	if got[0].Entry.IsTombstone() {
		t.Fatalf("source a (priority 0) should win even in descending order")
	}
}

// lazySource counts how many records have been pulled, so the test can
// assert the merge reads no more than one record ahead per source.
type lazySource struct {
	recs   []memtable.Record
	pulled int
}

func (s *lazySource) seq() iter.Seq[memtable.Record] {
	return func(yield func(memtable.Record) bool) {
		for _, r := range s.recs {
			s.pulled++
			if !yield(r) {
				return
			}
		}
	}
}

func TestMergeIsLazy(t *testing.T) {
	a := &lazySource{recs: []memtable.Record{rec("a", false), rec("c", false)}}
	b := &lazySource{recs: []memtable.Record{rec("b", false), rec("d", false)}}
	m := New([]iter.Seq[memtable.Record]{a.seq(), b.seq()}, false, false)
	defer m.Close()

	r1, ok := m.Next()
	if !ok || string(r1.Key) != "a" {
		t.Fatalf("first Next() = %q, want a", r1.Key)
	}
	r2, ok := m.Next()
	if !ok || string(r2.Key) != "b" {
		t.Fatalf("second Next() = %q, want b", r2.Key)
	}

	// Each source has been pulled exactly one record past what Next has
	// returned from it: a's "c" and b's "d" are buffered, nothing more.
	if a.pulled != 2 || b.pulled != 2 {
		t.Fatalf("pulled = (a:%d b:%d), want (2,2) — merge consumed ahead of demand", a.pulled, b.pulled)
	}

	rest := drain(t, m)
	assertKeys(t, rest, "c", "d")
}

func TestSeqAdapterStopsEarly(t *testing.T) {
	a := &lazySource{recs: []memtable.Record{rec("a", false), rec("b", false), rec("c", false)}}
	var got []string
	for r := range Seq([]iter.Seq[memtable.Record]{a.seq()}, false, false) {
		got = append(got, string(r.Key))
		if len(got) == 1 {
			break
		}
	}
	if len(got) != 1 || got[0] != "a" {
		t.Fatalf("got %v, want [a]", got)
	}
}

func TestEmptySources(t *testing.T) {
	m := New(nil, false, false)
	defer m.Close()
	if _, ok := m.Next(); ok {
		t.Fatalf("Next() on no sources should report exhausted")
	}
}
