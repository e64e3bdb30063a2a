package diskmap

// Hard ceilings on inputs and on-disk quantities. These exist to turn
// obviously-bad input or a corrupt file into a clean error instead of an
// attempted multi-exabyte allocation or mmap call.
const (
	// maxKeySizeBytes bounds the key portion of a record.
	maxKeySizeBytes = 1 << 20 // 1 MiB

	// maxValueSizeBytes bounds the value portion of a record: the largest
	// length the record's 4-byte valLen field can hold.
	maxValueSizeBytes = 1<<32 - 1 // 4 GiB - 1

	// maxTableLength bounds the bucket table, chosen so tableLength*8
	// never overflows an int64 file offset.
	maxTableLength = 1 << 40

	// maxSecondaryFileSizeBytes bounds the secondary mapper's growth.
	maxSecondaryFileSizeBytes = 1 << 48

	// defaultInitialTableLength is used when Options.InitialBucketCount
	// is zero.
	defaultInitialTableLength = 16

	// defaultLoadRehashThreshold is used when Options.LoadRehashThreshold
	// is zero.
	defaultLoadRehashThreshold = 0.75

	// defaultLockStripeCount is used when Options.LockStripeCount is zero.
	defaultLockStripeCount = 256
)
