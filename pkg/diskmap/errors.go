package diskmap

import "errors"

// Sentinel errors returned by Open, Create, and the map operations.
//
// ErrCorrupt and ErrIncompatible are rebuild-class: the caller should not
// retry against the same files without first deleting or migrating them.
// ErrClosed and ErrInvalidInput are usage errors. Once a map operation
// fails with an I/O error or a detected corruption (anything other than a
// usage-class error), the Map records that error and returns it from every
// subsequent operation: an I/O failure disables the Map just as a
// corruption does.
var (
	// ErrCorrupt means a file's header failed its checksum or its
	// cross-checks, a record claimed an implausible key or value length,
	// or a rehash split found a record that belongs to neither half.
	// Chain pointers are not range-checked: a pointer past the mapped
	// secondary region surfaces as an mmapfile out-of-range error, and
	// one inside it is followed as is.
	ErrCorrupt = errors.New("diskmap: corrupt file")

	// ErrIncompatible means a file's magic, version, or recorded
	// configuration does not match what was requested at Open.
	ErrIncompatible = errors.New("diskmap: incompatible file format")

	// ErrClosed means an operation was attempted on a Map that has
	// already had Close or Delete called on it.
	ErrClosed = errors.New("diskmap: map is closed")

	// ErrInvalidInput means an option or argument failed validation
	// before any file I/O was attempted.
	ErrInvalidInput = errors.New("diskmap: invalid input")

	// ErrKeyTooLarge means a key exceeds maxKeySizeBytes.
	ErrKeyTooLarge = errors.New("diskmap: key too large")

	// ErrAlreadyExists is returned by Create when the primary or
	// secondary file already exists in the target directory.
	ErrAlreadyExists = errors.New("diskmap: files already exist")

	// ErrValueTooLarge means a value exceeds maxValueSizeBytes.
	ErrValueTooLarge = errors.New("diskmap: value too large")

	// ErrMapFull means the secondary file has reached its configured
	// maximum size. Like ErrKeyTooLarge and ErrValueTooLarge this is a
	// usage-class condition, not structural corruption: the Map remains
	// open and readable, only the failed write is rejected.
	ErrMapFull = errors.New("diskmap: secondary file at configured max size")

	// ErrIteratorRemoveUnsupported is returned by the iterator's Remove
	// method; delete-while-scanning is not supported.
	ErrIteratorRemoveUnsupported = errors.New("diskmap: iterator does not support remove")

	// errFatal marks a Map as permanently broken after an operation failed
	// with an I/O error or a detected corruption. The recorded error wraps
	// both errFatal and the original cause, so errors.Is(err, ErrCorrupt)
	// holds only when the cause was a corruption.
	errFatal = errors.New("diskmap: fatal structural corruption, map disabled")
)
