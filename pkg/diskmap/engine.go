package diskmap

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/calvinalkan/diskmap/internal/mmapfile"
	"github.com/calvinalkan/diskmap/internal/secalloc"
	"github.com/calvinalkan/diskmap/internal/stripelock"
	"github.com/calvinalkan/diskmap/internal/xhash"
	"github.com/calvinalkan/diskmap/pkg/fs"
)

const hashSeed = 0

// Map is a persistent, concurrent, disk-backed hash map from opaque byte
// strings to opaque byte strings. It is safe for concurrent use by
// multiple goroutines, one process: all mutation and read of a bucket
// chain happens under that bucket's stripe monitor, and the iterator is
// the only operation that requires the caller to exclude concurrent
// mutation itself.
type Map struct {
	opts Options

	priFile *os.File
	secFile *os.File

	priMapper *mmapfile.Mapper
	secMapper *mmapfile.Mapper

	alloc   *secalloc.Allocator
	stripes *stripelock.Stripes

	loadRehashThreshold float64

	tableLength    atomic.Uint64
	oldTableLength atomic.Uint64
	size           atomic.Uint64
	rehashComplete atomic.Uint64

	rehashInitiateMu sync.Mutex

	closed atomic.Bool
	fatal  atomic.Pointer[error]
}

// Size returns the number of live entries.
func (m *Map) Size() uint64 {
	return m.size.Load()
}

func (m *Map) hash(key []byte) uint64 {
	return xhash.Sum64(key, hashSeed)
}

func primaryBucketOffset(idx uint64) int64 {
	return primaryHeaderSize + int64(idx)*8
}

// idxForHash returns the bucket a key addresses under the current
// (possibly just-doubled) tableLength.
func idxForHash(h, tableLength uint64) uint64 {
	return h & (tableLength - 1)
}

// resolveBucket translates a logical bucket index into the primary slot
// that physically holds its chain right now. During a rehash, an
// un-split upper-half bucket's records still live in its lower-half
// partner; this makes every operation correct regardless of how far the
// amortized migration has progressed, without itself performing any
// migration work.
func resolveBucket(idx, tableLength, oldTableLength, rehashComplete uint64) uint64 {
	if oldTableLength == tableLength || idx < oldTableLength {
		return idx
	}

	lo := idx - oldTableLength
	if rehashComplete > lo {
		return idx
	}

	return lo
}

func (m *Map) checkOpen() error {
	if m.closed.Load() {
		return ErrClosed
	}

	if p := m.fatal.Load(); p != nil {
		return *p
	}

	return nil
}

func (m *Map) fail(err error) error {
	wrapped := fmt.Errorf("%w: %w", errFatal, err)
	m.fatal.CompareAndSwap(nil, &wrapped)

	return wrapped
}

// snapshot captures the rehash-state triple needed to resolve a bucket.
// Reading all three under no lock is safe for this purpose: a stale
// combination can only make resolveBucket too conservative (pointing at
// the lower-half bucket when the upper half has in fact just been
// populated), and that bucket is always still correct to read because a
// not-yet-advanced reader's own stripe lock serializes against the
// rehash step for that very index.
type rehashState struct {
	tableLength    uint64
	oldTableLength uint64
	rehashComplete uint64
}

func (m *Map) loadRehashState() rehashState {
	return rehashState{
		tableLength:    m.tableLength.Load(),
		oldTableLength: m.oldTableLength.Load(),
		rehashComplete: m.rehashComplete.Load(),
	}
}

// Get returns the value for key, and whether it was present.
func (m *Map) Get(key []byte) ([]byte, bool, error) {
	if err := m.checkOpen(); err != nil {
		return nil, false, err
	}

	h := m.hash(key)

	m.stripes.Lock(h)
	defer m.stripes.Unlock(h)

	st := m.loadRehashState()
	idx := resolveBucket(idxForHash(h, st.tableLength), st.tableLength, st.oldTableLength, st.rehashComplete)

	rec, found, err := m.findInChain(idx, h, key)
	if err != nil {
		return nil, false, m.fail(err)
	}

	if !found {
		return nil, false, nil
	}

	return rec.val, true, nil
}

// findInChain walks the chain at bucket idx looking for a record matching
// hash and key. It returns the matching record, or found=false.
func (m *Map) findInChain(idx, hash uint64, key []byte) (record, bool, error) {
	pos, err := m.priMapper.GetLong(primaryBucketOffset(idx))
	if err != nil {
		return record{}, false, err
	}

	for pos != 0 {
		rec, err := readRecord(m.secMapper, int64(pos))
		if err != nil {
			return record{}, false, err
		}

		if rec.keyEquals(hash, key) {
			return rec, true, nil
		}

		pos = rec.nextRecordPos
	}

	return record{}, false, nil
}

// Put inserts or overwrites key, returning the previous value if any.
func (m *Map) Put(key, val []byte) ([]byte, bool, error) {
	return m.put(key, val, putModeUpsert, nil)
}

// PutIfAbsent inserts key only if it is not already present, returning the
// existing value if any.
func (m *Map) PutIfAbsent(key, val []byte) ([]byte, bool, error) {
	return m.put(key, val, putModeIfAbsent, nil)
}

// Replace overwrites key only if it is already present, returning the
// previous value if any.
func (m *Map) Replace(key, val []byte) ([]byte, bool, error) {
	return m.put(key, val, putModeReplace, nil)
}

// ReplaceMatching overwrites key only if its current value equals oldVal,
// returning whether the replacement happened.
func (m *Map) ReplaceMatching(key, oldVal, newVal []byte) (bool, error) {
	_, replaced, err := m.put(key, newVal, putModeReplaceMatching, oldVal)
	return replaced, err
}

type putMode int

const (
	putModeUpsert putMode = iota
	putModeIfAbsent
	putModeReplace
	putModeReplaceMatching
)

// put implements put/putIfAbsent/replace/replace(k,old,new). Secondary
// space for the new node is allocated before the stripe lock is taken, per
// the source's allocate-before-lock strategy: the allocation is outside
// the stripe lock and may be wasted (garbage) if the operation turns out
// not to need it, which is acceptable since records are never reclaimed
// in place anyway.
func (m *Map) put(key, val []byte, mode putMode, expectOld []byte) ([]byte, bool, error) {
	if err := m.checkOpen(); err != nil {
		return nil, false, err
	}

	if err := validateKeyVal(key, val); err != nil {
		return nil, false, err
	}

	if err := m.maybeTriggerRehash(); err != nil {
		return nil, false, m.fail(err)
	}

	if err := m.stepRehash(); err != nil {
		return nil, false, m.fail(err)
	}

	h := m.hash(key)

	newPos, err := m.alloc.Allocate(recordSize(len(key), len(val)))
	if err != nil {
		if errors.Is(err, secalloc.ErrMaxSizeExceeded) {
			return nil, false, fmt.Errorf("%w: %w", ErrMapFull, err)
		}

		return nil, false, m.fail(err)
	}

	m.stripes.Lock(h)
	defer m.stripes.Unlock(h)

	st := m.loadRehashState()
	idx := resolveBucket(idxForHash(h, st.tableLength), st.tableLength, st.oldTableLength, st.rehashComplete)
	bucketOff := primaryBucketOffset(idx)

	head, err := m.priMapper.GetLong(bucketOff)
	if err != nil {
		return nil, false, m.fail(err)
	}

	if head == 0 {
		if mode == putModeReplace || mode == putModeReplaceMatching {
			return nil, false, nil
		}

		if err := writeRecord(m.secMapper, newPos, h, 0, key, val); err != nil {
			return nil, false, m.fail(err)
		}

		if err := m.priMapper.PutLong(bucketOff, uint64(newPos)); err != nil {
			return nil, false, m.fail(err)
		}

		if err := m.incrSize(1); err != nil {
			return nil, false, m.fail(err)
		}

		return nil, false, nil
	}

	var pred int64 = -1 // -1 means predecessor is the bucket head itself

	cur := head
	for cur != 0 {
		rec, err := readRecord(m.secMapper, int64(cur))
		if err != nil {
			return nil, false, m.fail(err)
		}

		if rec.keyEquals(h, key) {
			switch mode {
			case putModeIfAbsent:
				return rec.val, true, nil
			case putModeReplaceMatching:
				if !bytes.Equal(rec.val, expectOld) {
					return nil, false, nil
				}
			}

			if err := writeRecord(m.secMapper, newPos, h, rec.nextRecordPos, key, val); err != nil {
				return nil, false, m.fail(err)
			}

			if err := m.relink(bucketOff, pred, uint64(newPos)); err != nil {
				return nil, false, m.fail(err)
			}

			if mode == putModeReplaceMatching {
				return nil, true, nil
			}

			return rec.val, true, nil
		}

		pred = int64(cur)
		cur = rec.nextRecordPos
	}

	if mode == putModeReplace || mode == putModeReplaceMatching {
		return nil, false, nil
	}

	if err := writeRecord(m.secMapper, newPos, h, 0, key, val); err != nil {
		return nil, false, m.fail(err)
	}

	if err := m.relink(bucketOff, pred, uint64(newPos)); err != nil {
		return nil, false, m.fail(err)
	}

	if err := m.incrSize(1); err != nil {
		return nil, false, m.fail(err)
	}

	return nil, false, nil
}

// relink points pred's nextRecordPos (or the bucket head if pred is -1,
// meaning there was no predecessor) at newPos.
func (m *Map) relink(bucketOff int64, pred int64, newPos uint64) error {
	if pred < 0 {
		return m.priMapper.PutLong(bucketOff, newPos)
	}

	return setNextRecordPos(m.secMapper, pred, newPos)
}

// Remove deletes key unconditionally, returning its previous value if any.
func (m *Map) Remove(key []byte) ([]byte, bool, error) {
	return m.remove(key, false, nil)
}

// RemoveMatching deletes key only if its current value equals val,
// returning whether the removal happened.
func (m *Map) RemoveMatching(key, val []byte) (bool, error) {
	_, removed, err := m.remove(key, true, val)
	return removed, err
}

func (m *Map) remove(key []byte, conditional bool, expectVal []byte) ([]byte, bool, error) {
	if err := m.checkOpen(); err != nil {
		return nil, false, err
	}

	if err := m.maybeTriggerRehash(); err != nil {
		return nil, false, m.fail(err)
	}

	if err := m.stepRehash(); err != nil {
		return nil, false, m.fail(err)
	}

	h := m.hash(key)

	m.stripes.Lock(h)
	defer m.stripes.Unlock(h)

	st := m.loadRehashState()
	idx := resolveBucket(idxForHash(h, st.tableLength), st.tableLength, st.oldTableLength, st.rehashComplete)
	bucketOff := primaryBucketOffset(idx)

	head, err := m.priMapper.GetLong(bucketOff)
	if err != nil {
		return nil, false, m.fail(err)
	}

	var pred int64 = -1

	cur := head
	for cur != 0 {
		rec, err := readRecord(m.secMapper, int64(cur))
		if err != nil {
			return nil, false, m.fail(err)
		}

		if rec.keyEquals(h, key) {
			if conditional && !bytes.Equal(rec.val, expectVal) {
				return nil, false, nil
			}

			if err := m.relink(bucketOff, pred, rec.nextRecordPos); err != nil {
				return nil, false, m.fail(err)
			}

			if err := m.incrSize(^uint64(0)); err != nil { // -1
				return nil, false, m.fail(err)
			}

			if conditional {
				return nil, true, nil
			}

			return rec.val, true, nil
		}

		pred = int64(cur)
		cur = rec.nextRecordPos
	}

	return nil, false, nil
}

func (m *Map) incrSize(delta uint64) error {
	newSize := m.size.Add(delta)
	return m.secMapper.PutLong(offSecSize, newSize)
}

func validateKeyVal(key, val []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("%w: key must not be empty", ErrInvalidInput)
	}

	if len(key) > maxKeySizeBytes {
		return fmt.Errorf("%w: %d bytes", ErrKeyTooLarge, len(key))
	}

	if len(val) > maxValueSizeBytes {
		return fmt.Errorf("%w: %d bytes", ErrValueTooLarge, len(val))
	}

	return nil
}

// Close unmaps both files and closes their descriptors. It is idempotent.
func (m *Map) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	errPri := m.priMapper.Close()
	errSec := m.secMapper.Close()

	if errPri != nil {
		return errPri
	}

	return errSec
}

// Delete closes the map and removes its backing files and directory.
func (m *Map) Delete() error {
	if err := m.Close(); err != nil {
		return err
	}

	real := fs.NewReal()

	if err := real.RemoveAll(m.opts.Dir); err != nil {
		return fmt.Errorf("diskmap: delete %q: %w", m.opts.Dir, err)
	}

	return nil
}
