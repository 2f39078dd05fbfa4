// Package lsm implements a single-writer embedded key-value store with a
// dual-memtable write path, write-ahead log durability, and sorted
// immutable on-disk segments merged by manifest-driven compaction.
package lsm

import (
	"fmt"
	"os"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Config controls one Engine instance.
type Config struct {
	// Dir is the directory the engine owns. It is created if missing.
	Dir string

	// MemtableCapacity bounds entry count per memtable generation — the
	// flush threshold.
	MemtableCapacity int

	// Logger receives structured engine-lifecycle and compaction events. If
	// nil, DefaultConfig's zap.NewNop() equivalent is substituted.
	Logger *zap.Logger
}

// DefaultConfig returns sane defaults for Dir-less construction in tests and
// demos; callers are expected to override Dir.
func DefaultConfig() Config {
	return Config{
		MemtableCapacity: 1024,
		Logger:           zap.NewNop(),
	}
}

// Engine owns the active and flushing memtables, the current WAL, the set
// of readable segment indices, and the read sentinel gating segment-file
// deletion.
//
// The engine is logically single-writer: Set and flush serialize through an
// internal mutex, so concurrent Set callers are safe but gain no
// parallelism. Get may run concurrently with itself, with Set, and with
// Compact.
type Engine struct {
	dir              string
	memtableCapacity int
	logger           *zap.Logger

	mu sync.RWMutex

	activeMemtable   *Memtable
	flushingMemtable *Memtable
	wal              *WAL
	memtableIndex    uint64 // index of the active memtable's WAL file

	readSegmentIndices []uint64 // sorted ascending, oldest first
	writeSegmentIndex  uint64   // next index flush will use

	sentinel *readSentinel

	closed bool

	writeCount   atomic.Int64
	readCount    atomic.Int64
	compactCount atomic.Int64
}

// EngineStats reports point-in-time counters, used by the benchmark
// harness and the demo command.
type EngineStats struct {
	NumKeys     int64
	NumSegments int

	WriteCount   int64
	ReadCount    int64
	CompactCount int64
}

// SegmentIndices returns the currently live segment indices, ascending
// (oldest first) — the same ordering Get walks in reverse. Callers use this
// to pick a set of indices to pass to Compact.
func (e *Engine) SegmentIndices() []uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]uint64, len(e.readSegmentIndices))
	copy(out, e.readSegmentIndices)
	return out
}

// Stats returns a snapshot of the engine's counters. NumKeys sums the
// active memtable and every segment's entry count; a key compacted across
// several segments is counted once per segment it still appears in, so
// this is an upper bound on the true distinct-key count until the next
// compaction removes the duplicates.
func (e *Engine) Stats() EngineStats {
	e.mu.RLock()
	dir := e.dir
	indices := make([]uint64, len(e.readSegmentIndices))
	copy(indices, e.readSegmentIndices)
	numKeys := int64(e.activeMemtable.Len())
	if e.flushingMemtable != nil {
		numKeys += int64(e.flushingMemtable.Len())
	}
	e.mu.RUnlock()

	for _, idx := range indices {
		if segment, err := OpenSegment(dir, idx); err == nil {
			numKeys += segment.numEntries
			segment.Close()
		}
	}

	return EngineStats{
		NumKeys:      numKeys,
		NumSegments:  len(indices),
		WriteCount:   e.writeCount.Load(),
		ReadCount:    e.readCount.Load(),
		CompactCount: e.compactCount.Load(),
	}
}

// New opens (or recovers) the engine rooted at config.Dir. Recovery runs
// synchronously before New returns and before any Get/Set call is
// accepted.
func New(config Config) (*Engine, error) {
	if config.Dir == "" {
		return nil, fmt.Errorf("lsm: Config.Dir must be set")
	}
	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, fmt.Errorf("lsm: create dir %s: %w", config.Dir, err)
	}
	if config.MemtableCapacity <= 0 {
		return nil, fmt.Errorf("lsm: MemtableCapacity must be positive")
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	result, err := recover(config.Dir, config.MemtableCapacity, logger)
	if err != nil {
		return nil, fmt.Errorf("lsm: recovery failed: %w", err)
	}

	logger.Info("engine opened",
		zap.String("dir", config.Dir),
		zap.Int("segments", len(result.readSegmentIndices)),
		zap.Uint64("write_segment_index", result.writeSegmentIndex),
		zap.Int("recovered_memtable_entries", result.activeMemtable.Len()),
	)

	return &Engine{
		dir:                config.Dir,
		memtableCapacity:   config.MemtableCapacity,
		logger:             logger,
		activeMemtable:     result.activeMemtable,
		wal:                result.wal,
		memtableIndex:      result.memtableIndex,
		readSegmentIndices: result.readSegmentIndices,
		writeSegmentIndex:  result.writeSegmentIndex,
		sentinel:           newReadSentinel(),
	}, nil
}

// Get looks up key, checking the active memtable, then the flushing
// memtable (if one exists), then segments from newest to oldest, stopping
// at the first hit since a newer generation's write always shadows an
// older one.
func (e *Engine) Get(key string) (string, bool, error) {
	e.readCount.Add(1)
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return "", false, ErrEngineClosed
	}

	if v, ok := e.activeMemtable.Get(key); ok {
		e.mu.RUnlock()
		return v, true, nil
	}
	if e.flushingMemtable != nil {
		if v, ok := e.flushingMemtable.Get(key); ok {
			e.mu.RUnlock()
			return v, true, nil
		}
	}

	dir := e.dir
	// Walk newest-to-oldest under the sentinel, so a concurrent Compact
	// knows a read may still be touching these segment files.
	indices := make([]uint64, len(e.readSegmentIndices))
	copy(indices, e.readSegmentIndices)
	sentinel := e.sentinel
	sentinel.acquire()
	e.mu.RUnlock()
	defer sentinel.release()

	for i := len(indices) - 1; i >= 0; i-- {
		value, found, err := e.readFromSegment(dir, indices[i], key)
		if err != nil {
			return "", false, err
		}
		if found {
			return value, true, nil
		}
	}
	return "", false, nil
}

func (e *Engine) readFromSegment(dir string, index uint64, key string) (string, bool, error) {
	segment, err := OpenSegment(dir, index)
	if err != nil {
		return "", false, err
	}
	defer segment.Close()
	return segment.Get(key)
}

// Set writes key=value to the active memtable, appending to the WAL first
// so the write is durable before Set returns. If the active memtable
// becomes full, it is handed off to flush. The returned previous value (if
// any) reflects only what the active memtable generation held for key
// before this call — a key last written in an older, already-flushed
// generation reports no previous value here even though Get would still
// find it in a segment.
func (e *Engine) Set(key, value string) (previous string, hadPrevious bool, err error) {
	if key == "" {
		return "", false, ErrKeyEmpty
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return "", false, ErrEngineClosed
	}

	if err := e.wal.Append(Entry{Key: key, Value: value}); err != nil {
		return "", false, err
	}
	previous, hadPrevious = e.activeMemtable.Set(key, value)
	e.writeCount.Add(1)

	if e.activeMemtable.Full() {
		if err := e.flushLocked(); err != nil {
			return previous, hadPrevious, err
		}
	}
	return previous, hadPrevious, nil
}

// flushLocked runs the flush sequence: the full active memtable becomes the
// flushing memtable, a fresh active memtable and WAL generation are opened,
// the flushing memtable is written out as a new segment, and only then is
// its WAL deleted. Callers hold e.mu.
//
// Flush runs synchronously with the Set call that triggered it rather than
// backgrounding it on a worker goroutine: a single-writer engine has no
// other writer to unblock by returning early.
func (e *Engine) flushLocked() error {
	e.flushingMemtable = e.activeMemtable
	oldWAL := e.wal
	oldWALIndex := e.memtableIndex

	// J and W both step by 2 so flush-assigned indices (even, by
	// convention) never collide with caller-chosen odd compaction output
	// indices.
	newWALIndex := oldWALIndex + 2
	newWAL, err := OpenWAL(walPath(e.dir, newWALIndex))
	if err != nil {
		return fmt.Errorf("open new wal generation %d: %w", newWALIndex, err)
	}
	e.wal = newWAL
	e.memtableIndex = newWALIndex
	e.activeMemtable = NewMemtable(e.memtableCapacity)

	segmentIndex := e.writeSegmentIndex
	if err := writeSegment(e.dir, segmentIndex, e.flushingMemtable.Entries()); err != nil {
		return fmt.Errorf("flush to segment %d: %w", segmentIndex, err)
	}
	e.readSegmentIndices = append(e.readSegmentIndices, segmentIndex)
	e.writeSegmentIndex = segmentIndex + 2

	if err := triggerFault(faultFlushBeforeWALDelete); err != nil {
		return err
	}
	if err := oldWAL.Delete(); err != nil {
		return fmt.Errorf("delete flushed wal %d: %w", oldWALIndex, err)
	}
	e.flushingMemtable = nil

	e.logger.Info("flushed memtable to segment",
		zap.Uint64("segment_index", segmentIndex),
		zap.Uint64("wal_index", oldWALIndex),
	)
	return nil
}

// Compact merges the segments named by indicesToCompact into a single new
// segment at outputIndex. It is safe to call concurrently with Get, but not
// with another Compact — the caller is responsible for serializing its own
// compactions.
func (e *Engine) Compact(indicesToCompact []uint64, outputIndex uint64) error {
	compactionID := uuid.New()
	log := e.logger.With(zap.String("compaction_id", compactionID.String()), zap.Uint64("output_index", outputIndex))

	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return ErrEngineClosed
	}
	dir := e.dir
	e.mu.RUnlock()

	sorted := make([]uint64, len(indicesToCompact))
	copy(sorted, indicesToCompact)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	segments := make([]*Segment, 0, len(sorted))
	defer func() {
		for _, s := range segments {
			s.Close()
		}
	}()
	for _, idx := range sorted {
		s, err := OpenSegment(dir, idx)
		if err != nil {
			return fmt.Errorf("compaction %s: open input segment %d: %w", compactionID, idx, err)
		}
		segments = append(segments, s)
	}

	merged, err := mergeSegments(segments)
	if err != nil {
		return fmt.Errorf("compaction %s: merge: %w", compactionID, err)
	}

	// Stream the merge output to temporary `.compact_*` files, never
	// straight to the final `.data`/`.index` names: those names are only
	// ever produced by the manifest-driven rename below, so a crash
	// mid-write leaves nothing that discoverSegments would mistake for a
	// real segment.
	if err := writeCompactionOutput(dir, outputIndex, merged); err != nil {
		return fmt.Errorf("compaction %s: write output segment %d: %w", compactionID, outputIndex, err)
	}

	manifest := compactionManifest{
		Renames: [][2]string{
			{compactDataPath(dir, outputIndex), dataPath(dir, outputIndex)},
			{compactIndexPath(dir, outputIndex), indexPath(dir, outputIndex)},
		},
		Deletes: make([]string, 0, len(sorted)*2),
	}
	for _, idx := range sorted {
		manifest.Deletes = append(manifest.Deletes, dataPath(dir, idx), indexPath(dir, idx))
	}
	if err := writeManifest(dir, outputIndex, manifest); err != nil {
		return fmt.Errorf("compaction %s: write manifest: %w", compactionID, err)
	}
	log.Info("compaction manifest committed", zap.Uint64s("input_indices", sorted), zap.Int("merged_entries", len(merged)))

	if err := triggerFault(faultCompactAfterManifest); err != nil {
		return fmt.Errorf("compaction %s: %w", compactionID, err)
	}

	e.mu.Lock()
	oldSentinel := e.sentinel
	e.sentinel = newReadSentinel()
	e.readSegmentIndices = spliceSegmentIndices(e.readSegmentIndices, sorted, outputIndex)
	e.mu.Unlock()

	// The rename only touches the new output's temp names, which no other
	// goroutine references, so it can happen immediately — before waiting
	// for readers of the (about-to-be-deleted) input segments to drain.
	if err := applyManifestRenames(manifest); err != nil {
		return fmt.Errorf("compaction %s: install manifest renames: %w", compactionID, err)
	}

	waitForDrain(oldSentinel)

	if err := applyManifestDeletes(manifest); err != nil {
		return fmt.Errorf("compaction %s: install manifest deletes: %w", compactionID, err)
	}
	if err := os.Remove(compactActionPath(dir, outputIndex)); err != nil && !os.IsNotExist(err) {
		log.Warn("failed to remove installed compaction manifest", zap.Error(err))
	}

	e.compactCount.Add(1)
	log.Info("compaction installed")
	return nil
}

// spliceSegmentIndices returns the read-segment index list with every index
// in removed dropped and added inserted in sorted order, preserving the
// ascending order Get's newest-to-oldest scan depends on.
func spliceSegmentIndices(current []uint64, removed []uint64, added uint64) []uint64 {
	removedSet := make(map[uint64]struct{}, len(removed))
	for _, r := range removed {
		removedSet[r] = struct{}{}
	}

	out := make([]uint64, 0, len(current)+1)
	inserted := false
	for _, idx := range current {
		if _, gone := removedSet[idx]; gone {
			continue
		}
		if !inserted && idx > added {
			out = append(out, added)
			inserted = true
		}
		out = append(out, idx)
	}
	if !inserted {
		out = append(out, added)
	}
	return out
}

// waitForDrain spins until every Get that had already acquired the old
// generation's sentinel has released it. New Gets acquire the fresh
// sentinel installed before this call and never touch it.
func waitForDrain(s *readSentinel) {
	for !s.drained() {
		// Compaction is infrequent and caller-driven, so a tight Gosched
		// spin is acceptable here rather than a condvar.
		runtime.Gosched()
	}
}

// Close flushes no pending state (the WAL already makes the active
// memtable durable) and releases file handles.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	var errs error
	if e.wal != nil {
		errs = multierr.Append(errs, e.wal.Close())
	}
	return errs
}
