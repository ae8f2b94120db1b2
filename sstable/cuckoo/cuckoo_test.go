package cuckoo

import (
	"fmt"
	"testing"
)

func keyAt(i int) []byte {
	return []byte(fmt.Sprintf("users/alice/sessions/%08d", i))
}

func TestAddContainsRoundTrip(t *testing.T) {
	f := New(Options{Capacity: 256}, 1)

	const n = 200
	for i := 0; i < n; i++ {
		if dup := f.Add(keyAt(i)); dup {
			t.Fatalf("Add(%d) reported duplicate on first insert", i)
		}
	}

	for i := 0; i < n; i++ {
		if !f.Contains(keyAt(i)) {
			t.Fatalf("Contains(%d) = false, want true (no false negatives)", i)
		}
	}
}

func TestAddIsIdempotentForDuplicates(t *testing.T) {
	f := New(Options{Capacity: 64}, 2)

	if dup := f.Add(keyAt(0)); dup {
		t.Fatalf("first Add reported duplicate")
	}
	if dup := f.Add(keyAt(0)); !dup {
		t.Fatalf("second Add of same key did not report duplicate")
	}
	if f.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after duplicate add", f.Len())
	}
}

func TestRemove(t *testing.T) {
	f := New(Options{Capacity: 64}, 3)
	f.Add(keyAt(0))
	f.Add(keyAt(1))

	if !f.Remove(keyAt(0)) {
		t.Fatalf("Remove(0) = false, want true")
	}
	if f.Remove(keyAt(0)) {
		t.Fatalf("second Remove(0) = true, want false (already removed)")
	}
	// keyAt(1) must remain findable: Remove must not disturb unrelated keys.
	if !f.Contains(keyAt(1)) {
		t.Fatalf("Contains(1) = false after removing an unrelated key")
	}
}

// TestNoFalseNegativesUnderAutoscale exercises spec §8 testable property #10
// across enough keys to force at least one autoscale grow, and asserts every
// inserted key is still found afterward.
func TestNoFalseNegativesUnderAutoscale(t *testing.T) {
	f := New(Options{Capacity: 32, FPP: 0.01}, 4)

	const n = 5000
	keys := make([][]byte, n)
	for i := 0; i < n; i++ {
		keys[i] = keyAt(i)
		f.Add(keys[i])
	}

	if f.LayerCount() < 2 {
		t.Fatalf("LayerCount() = %d, want autoscale to have grown past 1 layer for %d keys in a 32-key filter", f.LayerCount(), n)
	}

	for i, k := range keys {
		if !f.Contains(k) {
			t.Fatalf("Contains(key %d) = false, want true (no false negatives across layers)", i)
		}
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	f := New(Options{Capacity: 128}, 5)
	var keys [][]byte
	for i := 0; i < 100; i++ {
		k := keyAt(i)
		keys = append(keys, k)
		f.Add(k)
	}

	data := f.Marshal()
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	for i, k := range keys {
		if !got.Contains(k) {
			t.Fatalf("reloaded filter missing key %d after round trip", i)
		}
	}
	if got.Len() != f.Len() {
		t.Fatalf("reloaded Len() = %d, want %d", got.Len(), f.Len())
	}
}
