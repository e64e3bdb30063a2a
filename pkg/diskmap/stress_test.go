package diskmap

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

// Test_Rehash_Stress drives a large number of randomized operations across
// a large key space, forcing many incremental rehashes along the way, and
// checks the final state against an in-memory reference map.
//
// By default this runs at a size small enough for `go test` to finish
// quickly. Setting DISKMAP_STRESS_FULL=1 runs the full 10,000,000
// operation / 1,000,000 key configuration; `go test -short` shrinks it
// further still.
func Test_Rehash_Stress(t *testing.T) {
	ops := 200_000
	keys := 20_000

	if v, err := strconv.ParseBool(os.Getenv("DISKMAP_STRESS_FULL")); err == nil && v {
		ops = 10_000_000
		keys = 1_000_000
	}

	if testing.Short() {
		ops = 20_000
		keys = 2_000
	}

	dir := filepath.Join(t.TempDir(), "map")

	m, err := Create(Options{
		Dir:                 dir,
		InitialBucketCount:  16,
		LoadRehashThreshold: 0.75,
		LockStripeCount:     16,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer m.Close()

	rng := rand.New(rand.NewPCG(7, 13))

	ref := make(map[string]string, keys)

	for step := 0; step < ops; step++ {
		i := rng.IntN(keys)
		key := fmt.Sprintf("stress-key-%d", i)

		if rng.IntN(4) == 0 {
			removed, found, err := m.Remove([]byte(key))
			if err != nil {
				t.Fatalf("step %d: Remove(%q) failed: %v", step, key, err)
			}

			want, wantFound := ref[key]
			if found != wantFound || (found && string(removed) != want) {
				t.Fatalf("step %d: Remove(%q) = (%q, %v), want (%q, %v)", step, key, removed, found, want, wantFound)
			}

			delete(ref, key)

			continue
		}

		val := fmt.Sprintf("stress-val-%d-%d", step, i)

		if _, _, err := m.Put([]byte(key), []byte(val)); err != nil {
			t.Fatalf("step %d: Put(%q) failed: %v", step, key, err)
		}

		ref[key] = val
	}

	if m.Size() != uint64(len(ref)) {
		t.Fatalf("Size() = %d, want %d", m.Size(), len(ref))
	}

	for k, v := range ref {
		got, found, err := m.Get([]byte(k))
		if err != nil || !found || string(got) != v {
			t.Fatalf("Get(%q) = (%q, %v, %v), want (%q, true, nil)", k, got, found, err, v)
		}
	}

	// Chain integrity and rehash invariant: every record reachable from
	// bucket idx must hash to idx under the current tableLength, and the
	// total number of records visited via the bucket walk must equal
	// Size(). A violation here would mean a rehash step left a record in
	// the wrong bucket.
	tl := m.tableLength.Load()

	visited := uint64(0)

	for idx := uint64(0); idx < tl; idx++ {
		head, err := m.priMapper.GetLong(primaryBucketOffset(idx))
		if err != nil {
			t.Fatalf("GetLong failed: %v", err)
		}

		for cur := head; cur != 0; {
			rec, err := readRecord(m.secMapper, int64(cur))
			if err != nil {
				t.Fatalf("readRecord failed: %v", err)
			}

			if rec.hash&(tl-1) != idx {
				t.Fatalf("record at bucket %d has hash %x, which maps to bucket %d", idx, rec.hash, rec.hash&(tl-1))
			}

			visited++
			cur = rec.nextRecordPos
		}
	}

	if visited != m.Size() {
		t.Fatalf("bucket walk visited %d records, want %d (Size)", visited, m.Size())
	}
}
