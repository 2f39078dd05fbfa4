package lsm

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRecoverFreshDirectory(t *testing.T) {
	dir := tempDir(t)

	result, err := recover(dir, 1024, zap.NewNop())
	require.NoError(t, err)
	require.Empty(t, result.readSegmentIndices)
	require.EqualValues(t, 0, result.writeSegmentIndex)
	require.EqualValues(t, 0, result.memtableIndex)
	require.Equal(t, 0, result.activeMemtable.Len())
	require.FileExists(t, walPath(dir, 0))
}

func TestRecoverDiscoversExistingSegments(t *testing.T) {
	dir := tempDir(t)
	require.NoError(t, writeSegment(dir, 0, []Entry{{Key: "a", Value: "1"}}))
	require.NoError(t, writeSegment(dir, 2, []Entry{{Key: "b", Value: "2"}}))

	result, err := recover(dir, 1024, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, []uint64{0, 2}, result.readSegmentIndices)
	// The next write index rounds up past max(existing)+1 to the even
	// cadence, and the fresh WAL generation is allocated at the same value.
	require.EqualValues(t, 4, result.writeSegmentIndex)
	require.EqualValues(t, 4, result.memtableIndex)
	require.FileExists(t, walPath(dir, 4))
}

// A surviving WAL whose generation index has fallen behind the on-disk
// segments (here, behind a compaction output at a high odd index) is
// renamed up to the recomputed write index, keeping the two counters in
// lockstep and the flush cadence even.
func TestRecoverRealignsWALGenerationWithSegments(t *testing.T) {
	dir := tempDir(t)
	require.NoError(t, writeSegment(dir, 0, []Entry{{Key: "a", Value: "1"}}))
	require.NoError(t, writeSegment(dir, 9, []Entry{{Key: "b", Value: "2"}}))

	wal, err := OpenWAL(walPath(dir, 2))
	require.NoError(t, err)
	require.NoError(t, wal.Append(Entry{Key: "pending", Value: "x"}))
	require.NoError(t, wal.Close())

	result, err := recover(dir, 1024, zap.NewNop())
	require.NoError(t, err)

	require.EqualValues(t, 10, result.writeSegmentIndex)
	require.EqualValues(t, 10, result.memtableIndex)
	require.NoFileExists(t, walPath(dir, 2))
	require.FileExists(t, walPath(dir, 10))

	v, ok := result.activeMemtable.Get("pending")
	require.True(t, ok)
	require.Equal(t, "x", v)
}

func TestRecoverReplaysSingleWAL(t *testing.T) {
	dir := tempDir(t)
	wal, err := OpenWAL(walPath(dir, 0))
	require.NoError(t, err)
	require.NoError(t, wal.Append(Entry{Key: "x", Value: "1"}))
	require.NoError(t, wal.Append(Entry{Key: "y", Value: "2"}))
	require.NoError(t, wal.Close())

	result, err := recover(dir, 1024, zap.NewNop())
	require.NoError(t, err)
	require.EqualValues(t, 0, result.memtableIndex)
	require.Equal(t, 2, result.activeMemtable.Len())
	v, ok := result.activeMemtable.Get("x")
	require.True(t, ok)
	require.Equal(t, "1", v)
}

func TestRecoverRejectsMoreThanTwoWALFiles(t *testing.T) {
	dir := tempDir(t)
	for _, idx := range []uint64{0, 1, 2} {
		wal, err := OpenWAL(walPath(dir, idx))
		require.NoError(t, err)
		require.NoError(t, wal.Close())
	}

	_, err := recover(dir, 1024, zap.NewNop())
	require.ErrorIs(t, err, ErrInvariantViolation)
}

// TestRecoverFinishesInterruptedFlush simulates a crash that landed after a
// flush opened its new WAL generation but before the old WAL was removed —
// the two-WAL-files case reconcileWAL handles at startup.
func TestRecoverFinishesInterruptedFlush(t *testing.T) {
	dir := tempDir(t)

	oldWAL, err := OpenWAL(walPath(dir, 0))
	require.NoError(t, err)
	require.NoError(t, oldWAL.Append(Entry{Key: "a", Value: "1"}))
	require.NoError(t, oldWAL.Append(Entry{Key: "b", Value: "2"}))
	require.NoError(t, oldWAL.Close())

	newWAL, err := OpenWAL(walPath(dir, 2))
	require.NoError(t, err)
	require.NoError(t, newWAL.Append(Entry{Key: "c", Value: "3"}))
	require.NoError(t, newWAL.Close())

	result, err := recover(dir, 1024, zap.NewNop())
	require.NoError(t, err)

	require.Len(t, result.readSegmentIndices, 1)
	recoveredSegmentIndex := result.readSegmentIndices[0]

	seg, err := OpenSegment(dir, recoveredSegmentIndex)
	require.NoError(t, err)
	defer seg.Close()
	v, found, err := seg.Get("a")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "1", v)

	require.NoFileExists(t, walPath(dir, 0))
	require.EqualValues(t, 2, result.memtableIndex)
	require.Equal(t, 1, result.activeMemtable.Len())
	av, ok := result.activeMemtable.Get("c")
	require.True(t, ok)
	require.Equal(t, "3", av)
}

func TestRecoverAppliesPendingCompactionManifest(t *testing.T) {
	dir := tempDir(t)

	require.NoError(t, writeCompactionOutput(dir, 5, []Entry{{Key: "k", Value: "new"}}))
	require.NoError(t, writeSegment(dir, 0, []Entry{{Key: "k", Value: "old"}}))

	manifest := compactionManifest{
		Renames: [][2]string{
			{compactDataPath(dir, 5), dataPath(dir, 5)},
			{compactIndexPath(dir, 5), indexPath(dir, 5)},
		},
		Deletes: []string{dataPath(dir, 0), indexPath(dir, 0)},
	}
	require.NoError(t, writeManifest(dir, 5, manifest))

	result, err := recover(dir, 1024, zap.NewNop())
	require.NoError(t, err)

	require.Equal(t, []uint64{5}, result.readSegmentIndices)
	require.NoFileExists(t, dataPath(dir, 0))
	require.NoFileExists(t, indexPath(dir, 0))
	require.NoFileExists(t, compactActionPath(dir, 5))

	seg, err := OpenSegment(dir, 5)
	require.NoError(t, err)
	defer seg.Close()
	v, found, err := seg.Get("k")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "new", v)
}

func TestRecoverDropsUnreadableManifestButKeepsOthers(t *testing.T) {
	dir := tempDir(t)

	require.NoError(t, writeSegment(dir, 0, []Entry{{Key: "stale", Value: "x"}}))
	require.NoError(t, os.WriteFile(compactActionPath(dir, 9), []byte("not a valid manifest"), 0644))

	require.NoError(t, writeCompactionOutput(dir, 3, []Entry{{Key: "k", Value: "v"}}))
	goodManifest := compactionManifest{
		Renames: [][2]string{
			{compactDataPath(dir, 3), dataPath(dir, 3)},
			{compactIndexPath(dir, 3), indexPath(dir, 3)},
		},
	}
	require.NoError(t, writeManifest(dir, 3, goodManifest))

	result, err := recover(dir, 1024, zap.NewNop())
	require.NoError(t, err)

	require.NoFileExists(t, compactActionPath(dir, 9))
	require.NoFileExists(t, compactActionPath(dir, 3))
	require.FileExists(t, dataPath(dir, 3))
	require.Contains(t, result.readSegmentIndices, uint64(0))
	require.Contains(t, result.readSegmentIndices, uint64(3))
}
