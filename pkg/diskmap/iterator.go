package diskmap

import "fmt"

// Iterator walks every live entry in a Map. It is unsynchronized: the
// caller must ensure no concurrent Put/Remove touches the map for the
// lifetime of the iterator, including any rehash that a concurrent
// mutation might trigger. Using one while the map is being mutated
// produces undefined results, not a panic — cheaply policing this from
// inside the iterator isn't possible without a full snapshot copy.
//
// The zero value is not usable; obtain one from Map.Iterator.
type Iterator struct {
	m *Map

	tableLength uint64

	nextIdx  uint64 // next bucket to scan once the current chain is exhausted
	nextAddr int64  // next record to visit within the current chain, 0 if none queued

	cur record
	err error
	ok  bool
}

// Iterator returns an iterator over a frozen snapshot of the bucket
// count. Buckets beyond a rehash started after the iterator was created
// are not visited; see the type doc for the concurrency requirement.
func (m *Map) Iterator() (*Iterator, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	it := &Iterator{
		m:           m,
		tableLength: m.tableLength.Load(),
	}

	it.advanceToNextBucket()

	return it, nil
}

// Next advances the iterator and reports whether a new entry is
// available. It must be called before the first Key/Value access.
func (it *Iterator) Next() bool {
	if it.err != nil {
		it.ok = false
		return false
	}

	for {
		if it.nextAddr == 0 {
			if it.nextIdx >= it.tableLength {
				it.ok = false
				return false
			}

			it.advanceToNextBucket()

			continue
		}

		rec, err := readRecord(it.m.secMapper, it.nextAddr)
		if err != nil {
			it.err = err
			it.ok = false
			return false
		}

		it.cur = rec
		it.nextAddr = int64(rec.nextRecordPos)

		if it.nextAddr == 0 {
			it.nextIdx++
		}

		it.ok = true

		return true
	}
}

// advanceToNextBucket scans forward from nextIdx for the first
// non-empty bucket, loading its chain head into nextAddr. It leaves
// nextIdx at the bucket it found (not past it) so Next's bookkeeping,
// which increments nextIdx when a chain is exhausted, stays correct.
func (it *Iterator) advanceToNextBucket() {
	for it.nextIdx < it.tableLength {
		head, err := it.m.priMapper.GetLong(primaryBucketOffset(it.nextIdx))
		if err != nil {
			it.err = err
			return
		}

		if head != 0 {
			it.nextAddr = int64(head)
			return
		}

		it.nextIdx++
	}
}

// Key returns the key of the current entry. Valid only after a call to
// Next that returned true.
func (it *Iterator) Key() []byte {
	return it.cur.key
}

// Value returns the value of the current entry. Valid only after a call
// to Next that returned true.
func (it *Iterator) Value() []byte {
	return it.cur.val
}

// Err returns the first error encountered during iteration, if any.
func (it *Iterator) Err() error {
	return it.err
}

// Remove is not supported: removing the current record would require
// rewriting its predecessor's link while the iterator is mid-chain.
// Callers that need delete-while-iterating should collect keys and
// Remove them after iteration completes.
func (it *Iterator) Remove() error {
	return fmt.Errorf("%w", ErrIteratorRemoveUnsupported)
}
