// Package diskmap implements a persistent, concurrent hash map backed by
// two memory-mapped files: a fixed-size bucket table and an append-only
// log of chained records. Keys and values are opaque byte strings.
//
// A Map grows its bucket table incrementally under load, splitting one
// bucket's chain per amortized step rather than rehashing the whole
// table at once, so no single Put or Remove pays for the full resize.
// Concurrent access is serialized per bucket via a fixed array of
// stripe locks; operations on different buckets proceed without
// contention.
package diskmap
