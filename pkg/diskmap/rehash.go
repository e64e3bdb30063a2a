package diskmap

import "fmt"

// maybeTriggerRehash checks load() against the configured threshold and,
// if it is exceeded and no rehash is currently in progress, grows the
// primary file to double the bucket count and publishes the new steady
// state as "rehashing". The grow is the only step performed here; the
// actual chain-splitting work happens incrementally in stepRehash.
func (m *Map) maybeTriggerRehash() error {
	tl := m.tableLength.Load()
	old := m.oldTableLength.Load()

	if old != tl {
		return nil // a rehash is already in progress
	}

	size := m.size.Load()
	if float64(size) <= float64(tl)*m.loadRehashThreshold {
		return nil
	}

	m.rehashInitiateMu.Lock()
	defer m.rehashInitiateMu.Unlock()

	// Re-check: another goroutine may have started the rehash, or even
	// completed it, while we were waiting for the lock.
	tl = m.tableLength.Load()
	old = m.oldTableLength.Load()

	if old != tl {
		return nil
	}

	newTL := tl * 2
	if newTL > maxTableLength {
		return nil // at the configured ceiling; stop growing silently
	}

	if err := m.priMapper.Grow(primaryHeaderSize + int64(newTL)*8); err != nil {
		return fmt.Errorf("diskmap: grow primary file for rehash: %w", err)
	}

	if err := m.priMapper.PutBytes(0, encodePrimaryHeader(primaryHeader{
		Version:     formatVersion,
		TableLength: newTL,
	})); err != nil {
		return fmt.Errorf("diskmap: publish new tableLength: %w", err)
	}

	if err := m.secMapper.PutLong(offSecTableLength, newTL); err != nil {
		return err
	}

	if err := m.secMapper.PutLong(offSecRehashComplete, 0); err != nil {
		return err
	}

	m.tableLength.Store(newTL)
	m.rehashComplete.Store(0)
	// oldTableLength already holds tl in the steady state, so this store
	// does not change it: other goroutines see a rehash in progress
	// (oldTableLength < tableLength) as soon as the tableLength store
	// above is visible, and may start stepping from then on.
	m.oldTableLength.Store(tl)

	return nil
}

// stepRehash performs at most one amortized rehash step: it splits the
// chain at the current migration cursor bucket and advances the cursor,
// regardless of which bucket the calling operation itself addresses.
// Correctness of individual operations never depends on this running (see
// resolveBucket); it exists purely so the migration eventually finishes.
// Every mutator calls this once, before taking its own stripe lock, so a
// migration from oldTableLength to 2*oldTableLength drains within
// oldTableLength mutations total rather than depending on mutations
// happening to land on the exact next cursor bucket.
//
// This acquires and releases the stripe lock for the cursor bucket itself,
// which may or may not be the same stripe the caller is about to lock for
// its own operation; the two lock/unlock pairs are sequential, never
// nested, so they cannot deadlock even when they resolve to the same
// underlying mutex.
func (m *Map) stepRehash() error {
	tl := m.tableLength.Load()
	old := m.oldTableLength.Load()

	if old == tl {
		return nil
	}

	rc := m.rehashComplete.Load()

	m.stripes.Lock(rc)
	err := m.rehashStepLocked(rc, tl, old)
	m.stripes.Unlock(rc)

	return err
}

// rehashStepLocked splits the chain at bucket loIdx into its two
// successor buckets (loIdx and loIdx+old) under the new tableLength tl.
// The caller must already hold the stripe lock selected by loIdx (which,
// by construction, is the same stripe as loIdx+old). rc is re-read and
// compared against loIdx after the lock is acquired, since the cursor may
// have moved between the caller's read and the lock being granted; if so
// this is a no-op, because whichever goroutine moved it has already done
// this step's work.
func (m *Map) rehashStepLocked(loIdx, tl, old uint64) error {
	rc := m.rehashComplete.Load()
	if rc != loIdx {
		// Not our turn: either already done, or another bucket is next
		// in the strict dispatch order. Nothing to do from here; the
		// mutator that owns bucket rc will make progress instead.
		return nil
	}

	headOff := primaryBucketOffset(loIdx)

	head, err := m.priMapper.GetLong(headOff)
	if err != nil {
		return err
	}

	var keepHead, keepTail, moveHead, moveTail uint64

	cur := head
	for cur != 0 {
		rec, err := readRecord(m.secMapper, int64(cur))
		if err != nil {
			return err
		}

		next := rec.nextRecordPos
		newIdx := rec.hash & (tl - 1)

		switch newIdx {
		case loIdx:
			if keepHead == 0 {
				keepHead = cur
			} else if err := setNextRecordPos(m.secMapper, int64(keepTail), cur); err != nil {
				return err
			}

			keepTail = cur
		case loIdx + old:
			if moveHead == 0 {
				moveHead = cur
			} else if err := setNextRecordPos(m.secMapper, int64(moveTail), cur); err != nil {
				return err
			}

			moveTail = cur
		default:
			return fmt.Errorf("%w: record at %d hashes to bucket %d, expected %d or %d",
				ErrCorrupt, cur, newIdx, loIdx, loIdx+old)
		}

		cur = next
	}

	if keepTail != 0 {
		if err := setNextRecordPos(m.secMapper, int64(keepTail), 0); err != nil {
			return err
		}
	}

	if moveTail != 0 {
		if err := setNextRecordPos(m.secMapper, int64(moveTail), 0); err != nil {
			return err
		}
	}

	if err := m.priMapper.PutLong(headOff, keepHead); err != nil {
		return err
	}

	if err := m.priMapper.PutLong(primaryBucketOffset(loIdx+old), moveHead); err != nil {
		return err
	}

	newRC := rc + 1
	m.rehashComplete.Store(newRC)

	if err := m.secMapper.PutLong(offSecRehashComplete, newRC); err != nil {
		return err
	}

	if newRC == old {
		m.rehashComplete.Store(0)
		m.oldTableLength.Store(tl)

		if err := m.secMapper.PutLong(offSecRehashComplete, 0); err != nil {
			return err
		}

		if err := m.secMapper.PutLong(offSecOldTableLength, tl); err != nil {
			return err
		}
	}

	return nil
}

// resumeRehash drives a rehash left in progress by a prior run to
// completion before Open/Create returns: reopening with a nonzero
// rehashComplete resumes stepping before accepting writes. Single-threaded
// at this point (no other goroutine has a reference to m yet); it still
// takes the cursor bucket's stripe lock around each step, as
// rehashStepLocked requires of its caller.
func (m *Map) resumeRehash() error {
	for {
		tl := m.tableLength.Load()
		old := m.oldTableLength.Load()

		if old == tl {
			return nil
		}

		rc := m.rehashComplete.Load()

		m.stripes.Lock(rc)
		err := m.rehashStepLocked(rc, tl, old)
		m.stripes.Unlock(rc)

		if err != nil {
			return m.fail(err)
		}
	}
}
