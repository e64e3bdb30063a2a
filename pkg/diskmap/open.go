package diskmap

import (
	"bytes"
	"fmt"
	"os"

	"github.com/natefinch/atomic"

	"github.com/calvinalkan/diskmap/internal/mmapfile"
	"github.com/calvinalkan/diskmap/internal/secalloc"
	"github.com/calvinalkan/diskmap/internal/stripelock"
	"github.com/calvinalkan/diskmap/pkg/fs"
)

// Create initializes a fresh map in opts.Dir. The directory is created if
// missing; it is an error for the primary or secondary file to already
// exist.
func Create(opts Options) (*Map, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	real := fs.NewReal()

	if err := real.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("diskmap: create dir %q: %w", opts.Dir, err)
	}

	for _, p := range []string{opts.primaryPath(), opts.secondaryPath()} {
		exists, err := real.Exists(p)
		if err != nil {
			return nil, fmt.Errorf("diskmap: stat %q: %w", p, err)
		}

		if exists {
			return nil, fmt.Errorf("%w: %q", ErrAlreadyExists, p)
		}
	}

	tableLength := nextPow2(opts.InitialBucketCount)

	// Stripe selection (stripelock) and idxForHash both select on low hash
	// bits, so a given bucket always lands in the same stripe regardless
	// of table size — but only if the stripe count never exceeds the
	// table length (a stripe count using more low bits than the bucket
	// index would let two keys in the same bucket pick different stripes).
	// tableLength only grows from here via doubling, so establishing the
	// invariant once at creation keeps it true for this stripe count;
	// openFiles caps a larger stripe count passed to a later Open.
	if minTL := nextPow2(uint64(opts.LockStripeCount)); tableLength < minTL {
		tableLength = minTL
	}

	primaryBytes := make([]byte, primaryHeaderSize+int64(tableLength)*8)
	copy(primaryBytes, encodePrimaryHeader(primaryHeader{
		Version:     formatVersion,
		TableLength: tableLength,
	}))

	secondaryBytes := make([]byte, secondaryRecordsStart)
	copy(secondaryBytes, encodeSecondaryHeader(secondaryHeader{
		Version:        formatVersion,
		Size:           0,
		TableLength:    tableLength,
		WritePos:       secondaryRecordsStart,
		RehashComplete: 0,
		OldTableLength: tableLength,
	}))

	if err := atomic.WriteFile(opts.primaryPath(), bytes.NewReader(primaryBytes)); err != nil {
		return nil, fmt.Errorf("diskmap: write primary file: %w", err)
	}

	if err := atomic.WriteFile(opts.secondaryPath(), bytes.NewReader(secondaryBytes)); err != nil {
		return nil, fmt.Errorf("diskmap: write secondary file: %w", err)
	}

	return openFiles(opts)
}

// Open opens a map previously created by Create. InitialBucketCount is
// ignored; the table length recorded on disk is used instead.
func Open(opts Options) (*Map, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	real := fs.NewReal()

	for _, p := range []string{opts.primaryPath(), opts.secondaryPath()} {
		exists, err := real.Exists(p)
		if err != nil {
			return nil, fmt.Errorf("diskmap: stat %q: %w", p, err)
		}

		if !exists {
			return nil, fmt.Errorf("%w: %q does not exist", ErrInvalidInput, p)
		}
	}

	return openFiles(opts)
}

func openFiles(opts Options) (m *Map, err error) {
	priFile, err := os.OpenFile(opts.primaryPath(), os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("diskmap: open primary file: %w", err)
	}

	defer func() {
		if err != nil {
			_ = priFile.Close()
		}
	}()

	secFile, err := os.OpenFile(opts.secondaryPath(), os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("diskmap: open secondary file: %w", err)
	}

	defer func() {
		if err != nil {
			_ = secFile.Close()
		}
	}()

	priStat, err := priFile.Stat()
	if err != nil {
		return nil, fmt.Errorf("diskmap: stat primary file: %w", err)
	}

	secStat, err := secFile.Stat()
	if err != nil {
		return nil, fmt.Errorf("diskmap: stat secondary file: %w", err)
	}

	priHeaderBuf := make([]byte, primaryHeaderSize)
	if _, err = priFile.ReadAt(priHeaderBuf, 0); err != nil {
		return nil, fmt.Errorf("diskmap: read primary header: %w", err)
	}

	priHeader, err := decodePrimaryHeader(priHeaderBuf)
	if err != nil {
		return nil, err
	}

	secHeaderBuf := make([]byte, secondaryHeaderSize)
	if _, err = secFile.ReadAt(secHeaderBuf, 0); err != nil {
		return nil, fmt.Errorf("diskmap: read secondary header: %w", err)
	}

	secHeader, err := decodeSecondaryHeader(secHeaderBuf)
	if err != nil {
		return nil, err
	}

	if priHeader.TableLength != secHeader.TableLength {
		return nil, fmt.Errorf("%w: primary tableLength %d != secondary tableLength %d",
			ErrCorrupt, priHeader.TableLength, secHeader.TableLength)
	}

	tableLength := secHeader.TableLength
	if tableLength == 0 {
		// Recovery path: a freshly zeroed header derives tableLength
		// from the primary file's own size.
		tableLength = uint64(priStat.Size()-primaryHeaderSize) / 8
	}

	if !isPow2(tableLength) {
		return nil, fmt.Errorf("%w: tableLength %d is not a power of two", ErrCorrupt, tableLength)
	}

	wantPriSize := primaryHeaderSize + int64(tableLength)*8
	if priStat.Size() != wantPriSize {
		return nil, fmt.Errorf("%w: primary file size %d, want %d for tableLength %d",
			ErrCorrupt, priStat.Size(), wantPriSize, tableLength)
	}

	writePos := secHeader.WritePos
	if writePos == 0 {
		writePos = secondaryRecordsStart
	}

	if int64(writePos) > secStat.Size() {
		return nil, fmt.Errorf("%w: secondaryWritePos %d exceeds file size %d", ErrCorrupt, writePos, secStat.Size())
	}

	oldTableLength := secHeader.OldTableLength
	if oldTableLength == 0 {
		oldTableLength = tableLength
	}

	if oldTableLength > tableLength {
		return nil, fmt.Errorf("%w: oldTableLength %d exceeds tableLength %d", ErrCorrupt, oldTableLength, tableLength)
	}

	if secHeader.RehashComplete > oldTableLength {
		return nil, fmt.Errorf("%w: rehashComplete %d exceeds oldTableLength %d", ErrCorrupt, secHeader.RehashComplete, oldTableLength)
	}

	if !isPow2(oldTableLength) {
		return nil, fmt.Errorf("%w: oldTableLength %d is not a power of two", ErrCorrupt, oldTableLength)
	}

	// Open may be given more stripes than the stored table has buckets;
	// capping at oldTableLength keeps a bucket and its rehash partner on
	// the same stripe.
	stripeCount := opts.LockStripeCount
	if uint64(stripeCount) > oldTableLength {
		stripeCount = int(oldTableLength)
	}

	priMapper, err := mmapfile.Open(priFile, priStat.Size())
	if err != nil {
		return nil, fmt.Errorf("diskmap: map primary file: %w", err)
	}

	defer func() {
		if err != nil {
			_ = priMapper.Close()
		}
	}()

	secMapper, err := mmapfile.Open(secFile, secStat.Size())
	if err != nil {
		return nil, fmt.Errorf("diskmap: map secondary file: %w", err)
	}

	m = &Map{
		opts:                opts,
		priFile:             priFile,
		secFile:             secFile,
		priMapper:           priMapper,
		secMapper:           secMapper,
		alloc:               secalloc.New(secMapper, offSecWritePos, maxSecondaryFileSizeBytes),
		stripes:             stripelock.New(stripeCount),
		loadRehashThreshold: opts.LoadRehashThreshold,
	}

	m.tableLength.Store(tableLength)
	m.oldTableLength.Store(oldTableLength)
	m.size.Store(secHeader.Size)
	m.rehashComplete.Store(secHeader.RehashComplete)

	if secHeader.WritePos == 0 {
		if err = secMapper.PutLong(offSecWritePos, secondaryRecordsStart); err != nil {
			return nil, fmt.Errorf("diskmap: initialize write cursor: %w", err)
		}
	}

	if secHeader.OldTableLength == 0 {
		if err = secMapper.PutLong(offSecOldTableLength, oldTableLength); err != nil {
			return nil, fmt.Errorf("diskmap: initialize oldTableLength: %w", err)
		}
	}

	if m.oldTableLength.Load() < m.tableLength.Load() {
		if err = m.resumeRehash(); err != nil {
			return nil, err
		}
	}

	return m, nil
}
