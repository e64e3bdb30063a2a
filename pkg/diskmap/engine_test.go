package diskmap_test

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/calvinalkan/diskmap/pkg/diskmap"
)

func newMap(t *testing.T, opts diskmap.Options) *diskmap.Map {
	t.Helper()

	opts.Dir = filepath.Join(t.TempDir(), "map")

	m, err := diskmap.Create(opts)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	t.Cleanup(func() { _ = m.Close() })

	return m
}

func Test_EmptyOpen(t *testing.T) {
	t.Parallel()

	m := newMap(t, diskmap.Options{})

	if m.Size() != 0 {
		t.Fatalf("Size() = %d, want 0", m.Size())
	}

	_, found, err := m.Get([]byte{0x01})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if found {
		t.Fatal("Get on empty map found a key")
	}
}

func Test_SingleInsertRemove(t *testing.T) {
	t.Parallel()

	m := newMap(t, diskmap.Options{})

	if _, existed, err := m.Put([]byte{0x01}, []byte{0xAA}); err != nil || existed {
		t.Fatalf("Put failed or unexpectedly existed: err=%v existed=%v", err, existed)
	}

	val, found, err := m.Get([]byte{0x01})
	if err != nil || !found || !bytes.Equal(val, []byte{0xAA}) {
		t.Fatalf("Get = (%v, %v, %v), want ([0xAA], true, nil)", val, found, err)
	}

	removed, found, err := m.Remove([]byte{0x01})
	if err != nil || !found || !bytes.Equal(removed, []byte{0xAA}) {
		t.Fatalf("Remove = (%v, %v, %v), want ([0xAA], true, nil)", removed, found, err)
	}

	_, found, err = m.Get([]byte{0x01})
	if err != nil || found {
		t.Fatalf("Get after remove: found=%v err=%v, want false/nil", found, err)
	}

	if m.Size() != 0 {
		t.Fatalf("Size() after remove = %d, want 0", m.Size())
	}
}

func Test_ReplaceExisting(t *testing.T) {
	t.Parallel()

	m := newMap(t, diskmap.Options{})

	if _, existed, err := m.Put([]byte{0x01}, []byte{0xAA}); err != nil || existed {
		t.Fatalf("first Put failed: err=%v existed=%v", err, existed)
	}

	prev, existed, err := m.Put([]byte{0x01}, []byte{0xBB})
	if err != nil || !existed || !bytes.Equal(prev, []byte{0xAA}) {
		t.Fatalf("second Put = (%v, %v, %v), want ([0xAA], true, nil)", prev, existed, err)
	}

	val, found, err := m.Get([]byte{0x01})
	if err != nil || !found || !bytes.Equal(val, []byte{0xBB}) {
		t.Fatalf("Get = (%v, %v, %v), want ([0xBB], true, nil)", val, found, err)
	}

	if m.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", m.Size())
	}
}

func Test_PutIfAbsent(t *testing.T) {
	t.Parallel()

	m := newMap(t, diskmap.Options{})

	prev, existed, err := m.PutIfAbsent([]byte{0x01}, []byte{0xAA})
	if err != nil || existed || prev != nil {
		t.Fatalf("first PutIfAbsent = (%v, %v, %v), want (nil, false, nil)", prev, existed, err)
	}

	prev, existed, err = m.PutIfAbsent([]byte{0x01}, []byte{0xBB})
	if err != nil || !existed || !bytes.Equal(prev, []byte{0xAA}) {
		t.Fatalf("second PutIfAbsent = (%v, %v, %v), want ([0xAA], true, nil)", prev, existed, err)
	}

	val, _, err := m.Get([]byte{0x01})
	if err != nil || !bytes.Equal(val, []byte{0xAA}) {
		t.Fatalf("Get = (%v, %v), want [0xAA]", val, err)
	}
}

func Test_ConditionalReplace_Fails_On_Mismatch(t *testing.T) {
	t.Parallel()

	m := newMap(t, diskmap.Options{})

	if _, _, err := m.Put([]byte{0x01}, []byte{0xAA}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	replaced, err := m.ReplaceMatching([]byte{0x01}, []byte{0xCC}, []byte{0xBB})
	if err != nil {
		t.Fatalf("ReplaceMatching failed: %v", err)
	}

	if replaced {
		t.Fatal("ReplaceMatching with a mismatched expected value reported success")
	}

	val, _, err := m.Get([]byte{0x01})
	if err != nil || !bytes.Equal(val, []byte{0xAA}) {
		t.Fatalf("Get after failed ReplaceMatching = (%v, %v), want [0xAA]", val, err)
	}
}

func Test_ConditionalReplace_Succeeds_On_Match(t *testing.T) {
	t.Parallel()

	m := newMap(t, diskmap.Options{})

	if _, _, err := m.Put([]byte{0x01}, []byte{0xAA}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	replaced, err := m.ReplaceMatching([]byte{0x01}, []byte{0xAA}, []byte{0xBB})
	if err != nil {
		t.Fatalf("ReplaceMatching failed: %v", err)
	}

	if !replaced {
		t.Fatal("ReplaceMatching with a matching expected value reported failure")
	}

	val, _, err := m.Get([]byte{0x01})
	if err != nil || !bytes.Equal(val, []byte{0xBB}) {
		t.Fatalf("Get after successful ReplaceMatching = (%v, %v), want [0xBB]", val, err)
	}
}

func Test_Replace_NoOp_When_Absent(t *testing.T) {
	t.Parallel()

	m := newMap(t, diskmap.Options{})

	prev, existed, err := m.Replace([]byte{0x01}, []byte{0xBB})
	if err != nil || existed || prev != nil {
		t.Fatalf("Replace on absent key = (%v, %v, %v), want (nil, false, nil)", prev, existed, err)
	}

	if m.Size() != 0 {
		t.Fatalf("Size() = %d, want 0", m.Size())
	}
}

func Test_RemoveMatching(t *testing.T) {
	t.Parallel()

	m := newMap(t, diskmap.Options{})

	if _, _, err := m.Put([]byte{0x01}, []byte{0xAA}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	removed, err := m.RemoveMatching([]byte{0x01}, []byte{0xBB})
	if err != nil {
		t.Fatalf("RemoveMatching failed: %v", err)
	}

	if removed {
		t.Fatal("RemoveMatching with a mismatched value reported success")
	}

	removed, err = m.RemoveMatching([]byte{0x01}, []byte{0xAA})
	if err != nil {
		t.Fatalf("RemoveMatching failed: %v", err)
	}

	if !removed {
		t.Fatal("RemoveMatching with a matching value reported failure")
	}

	if m.Size() != 0 {
		t.Fatalf("Size() = %d, want 0", m.Size())
	}
}

func Test_Chain_Handles_Collisions_In_Same_Bucket(t *testing.T) {
	t.Parallel()

	// Starting from one bucket, the first keys share a single chain, and
	// each later doubling leaves unsplit chains holding keys for two
	// buckets, exercising chain traversal and relinking.
	m := newMap(t, diskmap.Options{InitialBucketCount: 1, LockStripeCount: 1, LoadRehashThreshold: 1})

	const n = 200

	for i := 0; i < n; i++ {
		key := []byte{byte(i), byte(i >> 8)}
		if _, _, err := m.Put(key, []byte{byte(i)}); err != nil {
			t.Fatalf("Put(%d) failed: %v", i, err)
		}
	}

	if m.Size() != n {
		t.Fatalf("Size() = %d, want %d", m.Size(), n)
	}

	for i := 0; i < n; i++ {
		key := []byte{byte(i), byte(i >> 8)}

		val, found, err := m.Get(key)
		if err != nil || !found || val[0] != byte(i) {
			t.Fatalf("Get(%d) = (%v, %v, %v), want (%d, true, nil)", i, val, found, err, i)
		}
	}

	// Remove every other key and confirm the rest survive.
	for i := 0; i < n; i += 2 {
		key := []byte{byte(i), byte(i >> 8)}
		if _, found, err := m.Remove(key); err != nil || !found {
			t.Fatalf("Remove(%d) failed: found=%v err=%v", i, found, err)
		}
	}

	for i := 0; i < n; i++ {
		key := []byte{byte(i), byte(i >> 8)}

		_, found, err := m.Get(key)
		if err != nil {
			t.Fatalf("Get(%d) failed: %v", i, err)
		}

		want := i%2 != 0

		if found != want {
			t.Fatalf("Get(%d) found=%v, want %v", i, found, want)
		}
	}
}

func Test_EmptyKey_Rejected(t *testing.T) {
	t.Parallel()

	m := newMap(t, diskmap.Options{})

	if _, _, err := m.Put(nil, []byte{1}); err == nil {
		t.Fatal("Put with empty key: expected error, got nil")
	}
}

func Test_Close_Then_Operate_Returns_ErrClosed(t *testing.T) {
	t.Parallel()

	m := newMap(t, diskmap.Options{})

	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, _, err := m.Get([]byte{1}); err != diskmap.ErrClosed {
		t.Fatalf("Get after Close: err=%v, want ErrClosed", err)
	}
}

func Test_Close_Is_Idempotent(t *testing.T) {
	t.Parallel()

	m := newMap(t, diskmap.Options{})

	if err := m.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}
