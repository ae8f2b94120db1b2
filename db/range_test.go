package db

import (
	"fmt"
	"testing"
)

func collectKeys(t *testing.T, seq func(func(KV) bool)) []string {
	t.Helper()
	var got []string
	for kv := range seq {
		got = append(got, string(kv.Key))
	}
	return got
}

func assertEqualKeys(t *testing.T, got []string, want ...string) {
	t.Helper()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("keys = %v, want %v", got, want)
	}
}

// S4: Put 10 keys "00".."09", ranged query "03".."07" forward and reverse.
func TestRangeForwardAndReverse(t *testing.T) {
	dir := t.TempDir()
	d := mustOpen(t, dir)
	defer d.Close()

	for i := 0; i < 10; i++ {
		k := fmt.Sprintf("%02d", i)
		must(t, d.Put([]byte(k), []byte(k)))
	}

	got := collectKeys(t, d.Range(
		Bound{Kind: Included, Key: []byte("03")},
		Bound{Kind: Included, Key: []byte("07")},
	))
	assertEqualKeys(t, got, "03", "04", "05", "06", "07")

	gotRev := collectKeys(t, d.ReverseRange(
		Bound{Kind: Included, Key: []byte("03")},
		Bound{Kind: Included, Key: []byte("07")},
	))
	assertEqualKeys(t, gotRev, "07", "06", "05", "04", "03")
}

func TestRangeExcludedBounds(t *testing.T) {
	dir := t.TempDir()
	d := mustOpen(t, dir)
	defer d.Close()

	for _, k := range []string{"a", "b", "c", "d", "e"} {
		must(t, d.Put([]byte(k), []byte(k)))
	}

	got := collectKeys(t, d.Range(
		Bound{Kind: Excluded, Key: []byte("a")},
		Bound{Kind: Excluded, Key: []byte("e")},
	))
	assertEqualKeys(t, got, "b", "c", "d")
}

func TestRangeSpansMemtableAndSSTable(t *testing.T) {
	dir := t.TempDir()
	d := mustOpen(t, dir)
	defer d.Close()

	for _, k := range []string{"a", "c", "e"} {
		must(t, d.Put([]byte(k), []byte(k)))
	}
	must(t, d.Flush())
	for _, k := range []string{"b", "d"} {
		must(t, d.Put([]byte(k), []byte(k)))
	}

	got := collectKeys(t, d.Range(Bound{Kind: Unbounded}, Bound{Kind: Unbounded}))
	assertEqualKeys(t, got, "a", "b", "c", "d", "e")
}

func TestRangeShadowsOlderValueAcrossFlush(t *testing.T) {
	dir := t.TempDir()
	d := mustOpen(t, dir)
	defer d.Close()

	must(t, d.Put([]byte("a"), []byte("old")))
	must(t, d.Flush())
	must(t, d.Put([]byte("a"), []byte("new")))

	var vals []string
	for kv := range d.Range(Bound{Kind: Unbounded}, Bound{Kind: Unbounded}) {
		vals = append(vals, string(kv.Value))
	}
	if len(vals) != 1 || vals[0] != "new" {
		t.Fatalf("values = %v, want [new]", vals)
	}
}

func TestRangeSkipsDeletedKeys(t *testing.T) {
	dir := t.TempDir()
	d := mustOpen(t, dir)
	defer d.Close()

	must(t, d.Put([]byte("a"), []byte("1")))
	must(t, d.Put([]byte("b"), []byte("2")))
	must(t, d.Delete([]byte("a")))

	got := collectKeys(t, d.Range(Bound{Kind: Unbounded}, Bound{Kind: Unbounded}))
	assertEqualKeys(t, got, "b")
}

func TestPrefixMatchesOnlyPrefixedKeys(t *testing.T) {
	dir := t.TempDir()
	d := mustOpen(t, dir)
	defer d.Close()

	for _, k := range []string{"app", "apple", "apply", "banana"} {
		must(t, d.Put([]byte(k), []byte(k)))
	}

	got := collectKeys(t, d.Prefix([]byte("app")))
	assertEqualKeys(t, got, "app", "apple", "apply")
}

func TestPrefixAllFFBytesIsUnboundedAbove(t *testing.T) {
	dir := t.TempDir()
	d := mustOpen(t, dir)
	defer d.Close()

	prefix := []byte{0xff, 0xff}
	must(t, d.Put(append(append([]byte(nil), prefix...), 'z'), []byte("v")))
	must(t, d.Put([]byte("other"), []byte("v")))

	got := collectKeys(t, d.Prefix(prefix))
	if len(got) != 1 {
		t.Fatalf("got %v, want exactly one 0xff-prefixed key", got)
	}
}

func TestReverseRangeSpansMemtableAndSSTable(t *testing.T) {
	dir := t.TempDir()
	d := mustOpen(t, dir)
	defer d.Close()

	for _, k := range []string{"a", "c", "e"} {
		must(t, d.Put([]byte(k), []byte(k)))
	}
	must(t, d.Flush())
	for _, k := range []string{"b", "d"} {
		must(t, d.Put([]byte(k), []byte(k)))
	}

	got := collectKeys(t, d.ReverseRange(Bound{Kind: Unbounded}, Bound{Kind: Unbounded}))
	assertEqualKeys(t, got, "e", "d", "c", "b", "a")
}

func TestReversePrefix(t *testing.T) {
	dir := t.TempDir()
	d := mustOpen(t, dir)
	defer d.Close()

	for _, k := range []string{"x1", "x2", "x3", "y1"} {
		must(t, d.Put([]byte(k), []byte(k)))
	}

	got := collectKeys(t, d.ReversePrefix([]byte("x")))
	assertEqualKeys(t, got, "x3", "x2", "x1")
}
