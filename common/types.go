package common

// Engine is the interface the storage engine implements. It deliberately
// has no Delete and no range-scan Iterator: this design only ever grows or
// overwrites keys, and lookups are point lookups.
type Engine interface {
	// Set inserts or overwrites key with value, returning the value it
	// replaced (if any).
	Set(key, value string) (previous string, hadPrevious bool, err error)

	// Get returns the value for key and whether it was present.
	Get(key string) (string, bool, error)

	// Compact merges the segments named by indicesToCompact into one new
	// segment at outputIndex.
	Compact(indicesToCompact []uint64, outputIndex uint64) error

	// Stats reports point-in-time counters for monitoring and benchmarking.
	Stats() Stats

	// Close releases the engine's file handles.
	Close() error
}

// Stats summarizes engine state for the benchmark and demo tooling.
type Stats struct {
	NumKeys     int64
	NumSegments int

	WriteCount   int64
	ReadCount    int64
	CompactCount int64
}
