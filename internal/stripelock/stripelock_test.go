package stripelock_test

import (
	"testing"
	"time"

	"github.com/calvinalkan/diskmap/internal/stripelock"
)

func Test_New_Panics_On_NonPowerOfTwo(t *testing.T) {
	t.Parallel()

	cases := []int{0, -1, 3, 5, 6, 100}

	for _, n := range cases {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("New(%d): expected panic, got none", n)
				}
			}()

			stripelock.New(n)
		}()
	}
}

func Test_New_Accepts_PowersOfTwo(t *testing.T) {
	t.Parallel()

	for _, n := range []int{1, 2, 4, 16, 256} {
		s := stripelock.New(n)

		if s.Count() != n {
			t.Errorf("Count() = %d, want %d", s.Count(), n)
		}
	}
}

func Test_Lock_Unlock_SameStripe_Serializes(t *testing.T) {
	t.Parallel()

	s := stripelock.New(4)

	// h=0 and h=4 share the low 2 bits (both map to stripe 0).
	s.Lock(0)

	unlocked := make(chan struct{})

	go func() {
		s.Lock(4)
		close(unlocked)
		s.Unlock(4)
	}()

	select {
	case <-unlocked:
		t.Fatal("Lock(4) acquired while Lock(0) held, but both select the same stripe")
	default:
	}

	s.Unlock(0)
	<-unlocked
}

func Test_Partner_Buckets_Share_A_Stripe(t *testing.T) {
	t.Parallel()

	// This is the invariant rehash.go depends on: a bucket idx and its
	// rehash partner idx+oldTableLength must select the same stripe,
	// provided the stripe count does not exceed oldTableLength. Verified
	// here by observing that locking idx blocks a concurrent lock of
	// idx+oldTableLength.
	const oldTableLength = 16
	const stripeCount = 8

	s := stripelock.New(stripeCount)

	for idx := uint64(0); idx < oldTableLength; idx++ {
		a := idx
		b := idx + oldTableLength

		s.Lock(a)

		acquired := make(chan struct{})

		go func() {
			s.Lock(b)
			close(acquired)
			s.Unlock(b)
		}()

		select {
		case <-acquired:
			s.Unlock(a)
			t.Fatalf("idx=%d and idx+old=%d did not share a stripe", a, b)
		case <-time.After(20 * time.Millisecond):
		}

		s.Unlock(a)
		<-acquired
	}
}
