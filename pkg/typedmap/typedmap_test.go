package typedmap_test

import (
	"path/filepath"
	"testing"

	"github.com/calvinalkan/diskmap/pkg/diskmap"
	"github.com/calvinalkan/diskmap/pkg/typedmap"
	"github.com/calvinalkan/diskmap/pkg/typedmap/codec"
)

func newTypedMap(t *testing.T) *typedmap.Map[uint64, string] {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "map")

	raw, err := diskmap.Create(diskmap.Options{Dir: dir})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	m := typedmap.New[uint64, string](raw, codec.Uint64, codec.String)
	t.Cleanup(func() { _ = m.Close() })

	return m
}

func Test_TypedMap_Put_Get_RoundTrip(t *testing.T) {
	t.Parallel()

	m := newTypedMap(t)

	if _, existed, err := m.Put(1, "one"); err != nil || existed {
		t.Fatalf("Put failed or unexpectedly existed: err=%v existed=%v", err, existed)
	}

	val, found, err := m.Get(1)
	if err != nil || !found || val != "one" {
		t.Fatalf("Get = (%q, %v, %v), want (\"one\", true, nil)", val, found, err)
	}

	if m.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", m.Size())
	}
}

func Test_TypedMap_Get_Missing_Key(t *testing.T) {
	t.Parallel()

	m := newTypedMap(t)

	val, found, err := m.Get(42)
	if err != nil || found || val != "" {
		t.Fatalf("Get on missing key = (%q, %v, %v), want (\"\", false, nil)", val, found, err)
	}
}

func Test_TypedMap_PutIfAbsent(t *testing.T) {
	t.Parallel()

	m := newTypedMap(t)

	prev, existed, err := m.PutIfAbsent(1, "one")
	if err != nil || existed || prev != "" {
		t.Fatalf("first PutIfAbsent = (%q, %v, %v), want (\"\", false, nil)", prev, existed, err)
	}

	prev, existed, err = m.PutIfAbsent(1, "uno")
	if err != nil || !existed || prev != "one" {
		t.Fatalf("second PutIfAbsent = (%q, %v, %v), want (\"one\", true, nil)", prev, existed, err)
	}
}

func Test_TypedMap_ReplaceMatching(t *testing.T) {
	t.Parallel()

	m := newTypedMap(t)

	if _, _, err := m.Put(1, "one"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	replaced, err := m.ReplaceMatching(1, "wrong", "two")
	if err != nil {
		t.Fatalf("ReplaceMatching failed: %v", err)
	}

	if replaced {
		t.Fatal("ReplaceMatching with a mismatched expected value reported success")
	}

	replaced, err = m.ReplaceMatching(1, "one", "two")
	if err != nil {
		t.Fatalf("ReplaceMatching failed: %v", err)
	}

	if !replaced {
		t.Fatal("ReplaceMatching with a matching expected value reported failure")
	}

	val, _, err := m.Get(1)
	if err != nil || val != "two" {
		t.Fatalf("Get after ReplaceMatching = (%q, %v), want (\"two\", nil)", val, err)
	}
}

func Test_TypedMap_Remove(t *testing.T) {
	t.Parallel()

	m := newTypedMap(t)

	if _, _, err := m.Put(1, "one"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	removed, existed, err := m.Remove(1)
	if err != nil || !existed || removed != "one" {
		t.Fatalf("Remove = (%q, %v, %v), want (\"one\", true, nil)", removed, existed, err)
	}

	if m.Size() != 0 {
		t.Fatalf("Size() after Remove = %d, want 0", m.Size())
	}
}

func Test_TypedMap_RemoveMatching(t *testing.T) {
	t.Parallel()

	m := newTypedMap(t)

	if _, _, err := m.Put(1, "one"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	removed, err := m.RemoveMatching(1, "wrong")
	if err != nil {
		t.Fatalf("RemoveMatching failed: %v", err)
	}

	if removed {
		t.Fatal("RemoveMatching with a mismatched value reported success")
	}

	removed, err = m.RemoveMatching(1, "one")
	if err != nil {
		t.Fatalf("RemoveMatching failed: %v", err)
	}

	if !removed {
		t.Fatal("RemoveMatching with a matching value reported failure")
	}
}

func Test_TypedMap_Iterator_Visits_Every_Entry(t *testing.T) {
	t.Parallel()

	m := newTypedMap(t)

	want := map[uint64]string{1: "one", 2: "two", 3: "three"}

	for k, v := range want {
		if _, _, err := m.Put(k, v); err != nil {
			t.Fatalf("Put(%d) failed: %v", k, err)
		}
	}

	it, err := m.Iterator()
	if err != nil {
		t.Fatalf("Iterator failed: %v", err)
	}

	got := map[uint64]string{}

	for it.Next() {
		k, err := it.Key()
		if err != nil {
			t.Fatalf("Key() failed: %v", err)
		}

		v, err := it.Value()
		if err != nil {
			t.Fatalf("Value() failed: %v", err)
		}

		got[k] = v
	}

	if err := it.Err(); err != nil {
		t.Fatalf("iteration failed: %v", err)
	}

	if len(got) != len(want) {
		t.Fatalf("visited %d entries, want %d", len(got), len(want))
	}

	for k, v := range want {
		if got[k] != v {
			t.Fatalf("entry %d = %q, want %q", k, got[k], v)
		}
	}
}

func Test_TypedMap_Close_Propagates_To_Underlying_Map(t *testing.T) {
	t.Parallel()

	m := newTypedMap(t)

	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, _, err := m.Get(1); err != diskmap.ErrClosed {
		t.Fatalf("Get after Close: err=%v, want ErrClosed", err)
	}
}
