// Package stripelock implements a fixed-size array of monitors selected by
// the low bits of a 64-bit hash, so that a key's chain and its rehash
// partner chain share the same monitor regardless of the current table
// size, as long as the stripe count does not exceed the table length.
package stripelock

import "sync"

// Stripes is a fixed array of N mutexes, N a power of two.
type Stripes struct {
	locks []sync.Mutex
	mask  uint64
}

// New returns a Stripes with n monitors. n must be a power of two and at
// least 1; it panics otherwise.
func New(n int) *Stripes {
	if n <= 0 || n&(n-1) != 0 {
		panic("stripelock: n must be a positive power of two")
	}

	return &Stripes{
		locks: make([]sync.Mutex, n),
		mask:  uint64(n - 1),
	}
}

// Count returns the number of monitors.
func (s *Stripes) Count() int {
	return len(s.locks)
}

// indexForHash returns the monitor index for a hash. Because both the
// stripe index and the bucket index are taken from the low bits of the
// same hash, a bucket idx and its rehash partner idx+oldTableLength always
// select the same stripe whenever the stripe count does not exceed the
// table length.
func (s *Stripes) indexForHash(h uint64) uint64 {
	return h & s.mask
}

// Lock acquires the monitor for h.
func (s *Stripes) Lock(h uint64) {
	s.locks[s.indexForHash(h)].Lock()
}

// Unlock releases the monitor for h.
func (s *Stripes) Unlock(h uint64) {
	s.locks[s.indexForHash(h)].Unlock()
}
