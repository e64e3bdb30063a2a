// Package mmapfile presents a growable memory-mapped region over one file.
//
// A [Mapper] never remaps or unmaps an existing segment on growth: [Grow]
// always maps a fresh segment starting at file offset 0 (mmap requires the
// offset to be page-aligned, and 0 always is) running through the new size,
// and appends it to the segment list without touching any earlier segment.
// So concurrent readers holding a byte slice handed out by an earlier
// [Mapper.GetBytes] keep pointing at valid, unmoved memory even while
// another goroutine grows the file underneath them, and any offset/length
// range up to the current size is satisfiable by the newest segment alone
// even if it would have straddled an older segment's boundary.
package mmapfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrOutOfRange is returned when an offset/length pair falls outside the
// currently mapped region.
var ErrOutOfRange = errors.New("mmapfile: offset out of mapped range")

type segment struct {
	fileOffset int64
	data       []byte
}

// Mapper wraps one *os.File with a growable mmap region.
//
// The mapping list is guarded by mu: Grow takes the write lock to append a
// segment and extend the backing file, every other method takes the read
// lock just long enough to snapshot the segment slice header.
type Mapper struct {
	file *os.File

	mu       sync.RWMutex
	segments []segment
	size     int64
}

// Open maps the first initialSize bytes of f, which must already be at
// least that large. initialSize of 0 is valid and produces an empty mapper
// that only becomes usable after a call to Grow.
func Open(f *os.File, initialSize int64) (*Mapper, error) {
	if initialSize < 0 {
		return nil, fmt.Errorf("mmapfile: negative initial size %d", initialSize)
	}

	m := &Mapper{file: f}

	if initialSize == 0 {
		return m, nil
	}

	seg, err := mapSegment(f, 0, initialSize)
	if err != nil {
		return nil, err
	}

	m.segments = []segment{seg}
	m.size = initialSize

	return m, nil
}

func mapSegment(f *os.File, offset, length int64) (segment, error) {
	data, err := unix.Mmap(int(f.Fd()), offset, int(length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return segment{}, fmt.Errorf("mmapfile: mmap offset=%d length=%d: %w", offset, length, err)
	}

	return segment{fileOffset: offset, data: data}, nil
}

// Size returns the total number of bytes currently mapped.
func (m *Mapper) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.size
}

// Grow extends the underlying file to newSize and maps a fresh segment
// covering the whole file from offset 0 through newSize. It is a no-op if
// newSize does not exceed the current mapped size. The new bytes read as
// zero, per the OS's sparse-file/ftruncate guarantee.
//
// Mapping from 0 rather than from the old size keeps the mmap offset
// page-aligned (required by the kernel) without tracking page boundaries,
// and guarantees every byte up to newSize lives in one segment, so a
// record that was allocated close to the old size and extends past it is
// never split across two segments.
func (m *Mapper) Grow(newSize int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if newSize <= m.size {
		return nil
	}

	if err := m.file.Truncate(newSize); err != nil {
		return fmt.Errorf("mmapfile: truncate to %d: %w", newSize, err)
	}

	seg, err := mapSegment(m.file, 0, newSize)
	if err != nil {
		return err
	}

	m.segments = append(m.segments, seg)
	m.size = newSize

	return nil
}

// resolve returns the byte slice backing [off, off+n) without copying. The
// returned slice aliases mapped memory and stays valid for the lifetime of
// the Mapper, since existing segments are never moved or unmapped by Grow.
func (m *Mapper) resolve(off int64, n int64) ([]byte, error) {
	if off < 0 || n < 0 {
		return nil, fmt.Errorf("mmapfile: invalid offset=%d length=%d", off, n)
	}

	m.mu.RLock()
	segs := m.segments
	m.mu.RUnlock()

	end := off + n

	for _, seg := range segs {
		segEnd := seg.fileOffset + int64(len(seg.data))
		if off >= seg.fileOffset && end <= segEnd {
			local := off - seg.fileOffset
			return seg.data[local : local+n : local+n], nil
		}
	}

	return nil, fmt.Errorf("%w: offset=%d length=%d mapped=%d", ErrOutOfRange, off, n, m.Size())
}

// GetLong reads a little-endian uint64 at off.
func (m *Mapper) GetLong(off int64) (uint64, error) {
	b, err := m.resolve(off, 8)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint64(b), nil
}

// PutLong writes v as a little-endian uint64 at off.
func (m *Mapper) PutLong(off int64, v uint64) error {
	b, err := m.resolve(off, 8)
	if err != nil {
		return err
	}

	binary.LittleEndian.PutUint64(b, v)

	return nil
}

// GetBytes copies n bytes starting at off into a freshly allocated slice
// owned by the caller.
func (m *Mapper) GetBytes(off int64, n int) ([]byte, error) {
	b, err := m.resolve(off, int64(n))
	if err != nil {
		return nil, err
	}

	out := make([]byte, n)
	copy(out, b)

	return out, nil
}

// PutBytes copies data into the mapped region starting at off.
func (m *Mapper) PutBytes(off int64, data []byte) error {
	b, err := m.resolve(off, int64(len(data)))
	if err != nil {
		return err
	}

	copy(b, data)

	return nil
}

// Sync flushes every mapped segment to disk with msync(MS_SYNC).
func (m *Mapper) Sync() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error

	for _, seg := range m.segments {
		if len(seg.data) == 0 {
			continue
		}

		if err := unix.Msync(seg.data, unix.MS_SYNC); err != nil {
			errs = append(errs, fmt.Errorf("mmapfile: msync offset=%d: %w", seg.fileOffset, err))
		}
	}

	return errors.Join(errs...)
}

// Close unmaps every segment and closes the underlying file. It does not
// sync; callers that need durable contents should call Sync first.
func (m *Mapper) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error

	for _, seg := range m.segments {
		if len(seg.data) == 0 {
			continue
		}

		if err := unix.Munmap(seg.data); err != nil {
			errs = append(errs, fmt.Errorf("mmapfile: munmap offset=%d: %w", seg.fileOffset, err))
		}
	}

	m.segments = nil

	if err := m.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("mmapfile: close file: %w", err))
	}

	return errors.Join(errs...)
}
