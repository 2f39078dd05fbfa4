package lsm

import "sync/atomic"

// readSentinel tracks how many in-flight Get calls are reading under one
// generation of segment files. It carries no data — only a live count —
// and the compactor waits for that count to return to zero before
// unlinking files a concurrent Get might still be reading.
//
// Each generation of segment state (the set of currently-live segments) owns
// one sentinel. Get acquires the current generation's sentinel before
// touching segment files and releases it when done; Compact swaps in a new,
// empty-count sentinel for future Gets as soon as it publishes its state
// change, then drains the old one before deleting files.
type readSentinel struct {
	count atomic.Int64
}

func newReadSentinel() *readSentinel {
	return &readSentinel{}
}

// acquire marks one Get as actively reading segment files under this
// generation. release must be called when that read completes.
func (s *readSentinel) acquire() {
	s.count.Add(1)
}

func (s *readSentinel) release() {
	s.count.Add(-1)
}

// drained reports whether every acquire on this sentinel has been released.
func (s *readSentinel) drained() bool {
	return s.count.Load() == 0
}
