// Package secalloc hands out contiguous byte ranges of an append-only file
// by bumping a shared write cursor, growing the backing mapping as needed.
package secalloc

import (
	"fmt"
	"sync"

	"github.com/calvinalkan/diskmap/internal/mmapfile"
)

// MinGrowBytes is the smallest amount an Allocator ever grows its mapper
// by in one step, regardless of how small the requested allocation is.
const MinGrowBytes = 64 * 1024

// Allocator bumps a write cursor stored at a known offset in mapper and
// grows the mapping whenever an allocation would exceed it.
//
// Allocate may be called without holding any bucket stripe lock: the
// allocated bytes are unreachable until the caller publishes their offset
// into a chain pointer or bucket slot, which does happen under a stripe
// lock.
type Allocator struct {
	mapper       *mmapfile.Mapper
	cursorOffset int64
	maxSize      int64

	mu sync.Mutex
}

// ErrMaxSizeExceeded is returned by Allocate when granting the request
// would push the write cursor past the configured maxSize.
var ErrMaxSizeExceeded = fmt.Errorf("secalloc: allocation would exceed configured max size")

// New returns an Allocator whose write cursor is the 8-byte little-endian
// counter stored at cursorOffset within mapper. maxSize bounds the logical
// write cursor; 0 means unbounded. It does not bound the mmap's physical
// footprint, which Allocate always rounds up to a power of two (or
// MinGrowBytes) and so may sit somewhat above maxSize even while every
// allocation it has granted stays under it.
func New(mapper *mmapfile.Mapper, cursorOffset int64, maxSize int64) *Allocator {
	return &Allocator{mapper: mapper, cursorOffset: cursorOffset, maxSize: maxSize}
}

// Allocate reserves size bytes and returns the offset of the first one.
// The cursor is advanced before this call returns, so no two callers ever
// receive overlapping ranges.
func (a *Allocator) Allocate(size int64) (int64, error) {
	if size < 0 {
		return 0, fmt.Errorf("secalloc: negative allocation size %d", size)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	oldPos, err := a.mapper.GetLong(a.cursorOffset)
	if err != nil {
		return 0, fmt.Errorf("secalloc: read cursor: %w", err)
	}

	newPos := oldPos + uint64(size)

	if a.maxSize > 0 && int64(newPos) > a.maxSize {
		return 0, fmt.Errorf("%w: %d", ErrMaxSizeExceeded, a.maxSize)
	}

	if int64(newPos) > a.mapper.Size() {
		target := nextPow2(newPos)
		if target < MinGrowBytes {
			target = MinGrowBytes
		}

		if err := a.mapper.Grow(int64(target)); err != nil {
			return 0, fmt.Errorf("secalloc: grow to %d: %w", target, err)
		}
	}

	if err := a.mapper.PutLong(a.cursorOffset, newPos); err != nil {
		return 0, fmt.Errorf("secalloc: advance cursor: %w", err)
	}

	return int64(oldPos), nil
}

// Cursor returns the current write cursor without allocating.
func (a *Allocator) Cursor() (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.mapper.GetLong(a.cursorOffset)
}

func nextPow2(x uint64) uint64 {
	if x == 0 {
		return 1
	}

	x--
	x |= x >> 1
	x |= x >> 2
	x |= x >> 4
	x |= x >> 8
	x |= x >> 16
	x |= x >> 32

	return x + 1
}
