package diskmap

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/calvinalkan/diskmap/internal/secalloc"
)

// Test_Put_Returns_ErrMapFull_Without_Disabling_The_Map swaps in an
// Allocator capped at the current write cursor, so the next Put
// must fail on allocation. ErrMapFull is a usage-class condition like
// ErrKeyTooLarge, not structural corruption, so the Map must stay open
// and fully readable afterward.
func Test_Put_Returns_ErrMapFull_Without_Disabling_The_Map(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "map")

	m, err := Create(Options{Dir: dir})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer m.Close()

	if _, _, err := m.Put([]byte("before"), []byte("v1")); err != nil {
		t.Fatalf("Put(before) failed: %v", err)
	}

	cur, err := m.alloc.Cursor()
	if err != nil {
		t.Fatalf("Cursor failed: %v", err)
	}

	m.alloc = secalloc.New(m.secMapper, offSecWritePos, int64(cur))

	if _, _, err := m.Put([]byte("after"), []byte("v2")); !errors.Is(err, ErrMapFull) {
		t.Fatalf("Put(after) error = %v, want ErrMapFull", err)
	}

	val, found, err := m.Get([]byte("before"))
	if err != nil || !found || string(val) != "v1" {
		t.Fatalf("Get(before) after ErrMapFull = (%v, %v, %v), want (v1, true, nil)", val, found, err)
	}

	if _, _, err := m.Remove([]byte("before")); err != nil {
		t.Fatalf("Remove(before) after ErrMapFull failed: %v", err)
	}
}
