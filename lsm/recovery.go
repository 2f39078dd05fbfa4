package lsm

import (
	"fmt"
	"os"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// recoveryResult carries the engine state recovery reconstructs, handed
// straight into Engine.New.
type recoveryResult struct {
	readSegmentIndices []uint64 // sorted ascending
	writeSegmentIndex  uint64
	memtableIndex      uint64
	activeMemtable     *Memtable
	wal                *WAL
}

// recover runs at engine open, before any Get/Set is accepted, in three
// steps: finish pending compactions, discover segments, reconcile WAL
// files.
func recover(dir string, capacity int, logger *zap.Logger) (*recoveryResult, error) {
	if err := finishPendingCompactions(dir, logger); err != nil {
		return nil, err
	}

	readIndices, writeIndex, err := discoverSegments(dir)
	if err != nil {
		return nil, err
	}

	return reconcileWAL(dir, capacity, readIndices, writeIndex, logger)
}

// finishPendingCompactions applies every committed-but-uninstalled manifest
// left from a crashed compaction. Manifests are mutually independent — each
// names a disjoint set of source/output files — so they are applied
// concurrently via errgroup rather than one at a time.
func finishPendingCompactions(dir string, logger *zap.Logger) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("list %s: %w", dir, err)
	}

	var manifestPaths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := parseIndex(compactActionRegex, e.Name()); ok {
			manifestPaths = append(manifestPaths, e.Name())
		}
	}

	g := new(errgroup.Group)
	for _, name := range manifestPaths {
		path := dir + string(os.PathSeparator) + name
		g.Go(func() error {
			return finishOneManifest(path, logger)
		})
	}
	return g.Wait()
}

// finishOneManifest decodes and applies a single manifest file. A decode
// error stops replay of *that* manifest only: the file is best-effort
// removed and the error is swallowed so sibling manifests still get
// processed by the errgroup.
func finishOneManifest(path string, logger *zap.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read manifest %s: %w", path, err)
	}

	manifest, err := decodeManifest(data)
	if err != nil {
		logger.Warn("dropping unreadable compaction manifest", zap.String("path", path), zap.Error(err))
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			logger.Warn("failed to remove unreadable manifest", zap.String("path", path), zap.Error(rmErr))
		}
		return nil
	}

	if err := applyManifest(manifest); err != nil {
		return fmt.Errorf("apply manifest %s: %w", path, err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to remove installed manifest", zap.String("path", path), zap.Error(err))
	}
	return nil
}

// discoverSegments enumerates existing `{i:020}.data` files and returns the
// sorted indices plus a lower bound on the next write-segment index (max+1,
// or 0) — reconcileWAL folds that bound together with the surviving WAL
// generation to fix the final value.
func discoverSegments(dir string) ([]uint64, uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, 0, fmt.Errorf("list %s: %w", dir, err)
	}

	var indices []uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if idx, ok := parseIndex(dataFilePattern, e.Name()); ok {
			indices = append(indices, idx)
		}
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	writeIndex := uint64(0)
	if len(indices) > 0 {
		writeIndex = indices[len(indices)-1] + 1
	}
	return indices, writeIndex, nil
}

// reconcileWAL handles the four possible counts of `.memtable` files found
// at startup, then realigns the WAL generation index with the next
// write-segment index so the two leave recovery in lockstep regardless of
// what the directory held (see alignWALGeneration).
func reconcileWAL(dir string, capacity int, readIndices []uint64, writeIndex uint64, logger *zap.Logger) (*recoveryResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	var walIndices []uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if idx, ok := parseIndex(walFilePattern, e.Name()); ok {
			walIndices = append(walIndices, idx)
		}
	}
	sort.Slice(walIndices, func(i, j int) bool { return walIndices[i] < walIndices[j] })

	switch len(walIndices) {
	case 0:
		idx := roundUpEven(writeIndex)
		wal, err := OpenWAL(walPath(dir, idx))
		if err != nil {
			return nil, err
		}
		return &recoveryResult{
			readSegmentIndices: readIndices,
			writeSegmentIndex:  idx,
			memtableIndex:      idx,
			activeMemtable:     NewMemtable(capacity),
			wal:                wal,
		}, nil

	case 1:
		idx, err := alignWALGeneration(dir, walIndices[0], writeIndex, logger)
		if err != nil {
			return nil, err
		}
		memtable, err := ReadWAL(walPath(dir, idx), capacity)
		if err != nil {
			return nil, err
		}
		wal, err := OpenWAL(walPath(dir, idx))
		if err != nil {
			return nil, err
		}
		return &recoveryResult{
			readSegmentIndices: readIndices,
			writeSegmentIndex:  idx,
			memtableIndex:      idx,
			activeMemtable:     memtable,
			wal:                wal,
		}, nil

	case 2:
		return finishInterruptedFlush(dir, capacity, readIndices, writeIndex, walIndices, logger)

	default:
		return nil, fmt.Errorf("%w: found %d WAL files, at most 2 are allowed", ErrInvariantViolation, len(walIndices))
	}
}

// alignWALGeneration brings the surviving WAL's generation index and the
// next write-segment index back into lockstep. Within one process, flush
// advances both counters by the same step in the same call, but across a
// restart the write-segment index is recomputed from the segment files
// alone and can land below the WAL index the directory kept, or above it
// after a compaction output claimed a higher index. The larger of the two,
// rounded up to even, becomes both counters; the WAL file is renamed when
// its index moves. Interrupted-flush recovery depends on this lockstep: it
// is what makes the old WAL's own index the segment index its flush was
// writing to.
//
// The rename is crash-safe: a crash right after it leaves one WAL at the
// aligned index, and re-running recovery recomputes the same target.
func alignWALGeneration(dir string, walIndex, writeIndex uint64, logger *zap.Logger) (uint64, error) {
	target := walIndex
	if writeIndex > target {
		target = writeIndex
	}
	target = roundUpEven(target)

	if target != walIndex {
		if err := os.Rename(walPath(dir, walIndex), walPath(dir, target)); err != nil {
			return 0, fmt.Errorf("realign wal %d to %d: %w", walIndex, target, err)
		}
		logger.Info("realigned wal generation with next segment index",
			zap.Uint64("old_wal_index", walIndex),
			zap.Uint64("new_wal_index", target),
		)
	}
	return target, nil
}

// roundUpEven returns the smallest even value >= v. Flush-assigned segment
// indices stay even so caller-chosen odd compaction output indices can
// never collide with them.
func roundUpEven(v uint64) uint64 {
	return (v + 1) &^ 1
}

// finishInterruptedFlush handles the two-WAL-file case: a flush started
// (the new WAL exists) but crashed before the old WAL was removed, meaning
// the segment it should have produced may or may not already be complete on
// disk.
//
// The WAL generation index and the write-segment index are in lockstep
// whenever a flush runs: every recovery leaves them equal (reconcileWAL
// realigns them via alignWALGeneration) and flushLocked (engine.go)
// advances both by the same +=2 step in the same call. So the old WAL's
// own index is exactly the segment index the interrupted flush was writing
// to. Reusing it (after checking it isn't already a complete segment)
// finishes the SAME flush rather than starting a new one at a disjoint
// index, so a crash that lands after the segment was fully written but
// before the old WAL was deleted recovers without producing a redundant
// duplicate segment.
func finishInterruptedFlush(dir string, capacity int, readIndices []uint64, writeIndex uint64, walIndices []uint64, logger *zap.Logger) (*recoveryResult, error) {
	oldWALIndex, newWALIndex := walIndices[0], walIndices[1]

	memtable, err := ReadWAL(walPath(dir, oldWALIndex), capacity)
	if err != nil {
		return nil, err
	}

	segmentIndex := oldWALIndex
	alreadyFlushed := segmentFilesExist(dir, segmentIndex)
	logger.Info("finishing interrupted flush found at startup",
		zap.Uint64("old_wal_index", oldWALIndex),
		zap.Uint64("new_wal_index", newWALIndex),
		zap.Uint64("recovered_segment_index", segmentIndex),
		zap.Bool("already_flushed", alreadyFlushed),
	)

	if memtable.Len() > 0 && !alreadyFlushed {
		if err := writeSegment(dir, segmentIndex, memtable.Entries()); err != nil {
			return nil, fmt.Errorf("flush recovered memtable to segment %d: %w", segmentIndex, err)
		}
		readIndices = append(readIndices, segmentIndex)
		sort.Slice(readIndices, func(i, j int) bool { return readIndices[i] < readIndices[j] })
	}
	if segmentIndex+1 > writeIndex {
		writeIndex = segmentIndex + 1
	}

	if err := os.Remove(walPath(dir, oldWALIndex)); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove interrupted-flush wal %d: %w", oldWALIndex, err)
	}

	idx, err := alignWALGeneration(dir, newWALIndex, writeIndex, logger)
	if err != nil {
		return nil, err
	}
	active, err := ReadWAL(walPath(dir, idx), capacity)
	if err != nil {
		return nil, err
	}
	wal, err := OpenWAL(walPath(dir, idx))
	if err != nil {
		return nil, err
	}

	return &recoveryResult{
		readSegmentIndices: readIndices,
		writeSegmentIndex:  idx,
		memtableIndex:      idx,
		activeMemtable:     active,
		wal:                wal,
	}, nil
}
