package diskmap

import (
	"fmt"
	"path/filepath"
)

const (
	primaryFileName   = "primary"
	secondaryFileName = "secondary"
)

// Options configures Create and Open.
type Options struct {
	// Dir is the directory that holds the primary and secondary files.
	// Required. Create makes it (and any missing parents) if absent.
	Dir string

	// InitialBucketCount is the requested starting bucket table size.
	// Create rounds it up to the next power of two and raises it to at
	// least LockStripeCount. Zero selects defaultInitialTableLength.
	// Ignored by Open, which reads the table length from the files.
	InitialBucketCount uint64

	// LoadRehashThreshold is the size/tableLength ratio that triggers an
	// incremental rehash. Must be in (0, 1]. Zero selects
	// defaultLoadRehashThreshold.
	LoadRehashThreshold float64

	// LockStripeCount is the number of stripe monitors. Must be a power
	// of two. Zero selects defaultLockStripeCount. Open caps it at the
	// table length stored on disk (the pre-doubling length if a rehash
	// is in progress).
	LockStripeCount int
}

func (o Options) withDefaults() Options {
	if o.InitialBucketCount == 0 {
		o.InitialBucketCount = defaultInitialTableLength
	}

	if o.LoadRehashThreshold == 0 {
		o.LoadRehashThreshold = defaultLoadRehashThreshold
	}

	if o.LockStripeCount == 0 {
		o.LockStripeCount = defaultLockStripeCount
	}

	return o
}

func (o Options) validate() error {
	if o.Dir == "" {
		return fmt.Errorf("%w: Dir is required", ErrInvalidInput)
	}

	if o.LoadRehashThreshold <= 0 || o.LoadRehashThreshold > 1 {
		return fmt.Errorf("%w: LoadRehashThreshold must be in (0, 1], got %v", ErrInvalidInput, o.LoadRehashThreshold)
	}

	if o.LockStripeCount <= 0 || !isPow2(uint64(o.LockStripeCount)) {
		return fmt.Errorf("%w: LockStripeCount must be a positive power of two, got %d", ErrInvalidInput, o.LockStripeCount)
	}

	if o.InitialBucketCount > maxTableLength {
		return fmt.Errorf("%w: InitialBucketCount %d exceeds limit", ErrInvalidInput, o.InitialBucketCount)
	}

	return nil
}

func (o Options) primaryPath() string {
	return filepath.Join(o.Dir, primaryFileName)
}

func (o Options) secondaryPath() string {
	return filepath.Join(o.Dir, secondaryFileName)
}
