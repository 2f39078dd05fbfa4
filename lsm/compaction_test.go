package lsm

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestManifestEncodeDecodeRoundTrip(t *testing.T) {
	m := compactionManifest{
		Renames: [][2]string{
			{"/tmp/a.compact_data", "/tmp/a.data"},
			{"/tmp/a.compact_index", "/tmp/a.index"},
		},
		Deletes: []string{"/tmp/old1.data", "/tmp/old1.index"},
	}

	decoded, err := decodeManifest(encodeManifest(m))
	require.NoError(t, err)
	require.Equal(t, m, decoded)
}

func TestManifestEncodeDecodeEmpty(t *testing.T) {
	decoded, err := decodeManifest(encodeManifest(compactionManifest{}))
	require.NoError(t, err)
	require.Empty(t, decoded.Renames)
	require.Empty(t, decoded.Deletes)
}

func TestDecodeManifestRejectsTruncated(t *testing.T) {
	m := compactionManifest{Deletes: []string{"/tmp/a"}}
	encoded := encodeManifest(m)

	_, err := decodeManifest(encoded[:len(encoded)-1])
	require.ErrorIs(t, err, ErrCorruptRecord)
}

func TestApplyManifestIsIdempotent(t *testing.T) {
	dir := tempDir(t)
	src := dir + "/src.txt"
	dst := dir + "/dst.txt"
	deleteMe := dir + "/delete.txt"

	require.NoError(t, os.WriteFile(src, []byte("payload"), 0644))
	require.NoError(t, os.WriteFile(deleteMe, []byte("gone"), 0644))

	m := compactionManifest{
		Renames: [][2]string{{src, dst}},
		Deletes: []string{deleteMe},
	}

	require.NoError(t, applyManifest(m))
	require.NoFileExists(t, src)
	require.FileExists(t, dst)
	require.NoFileExists(t, deleteMe)

	// Applying again must be a no-op, not an error: src is already gone
	// (rename skipped) and deleteMe is already gone (delete skipped).
	require.NoError(t, applyManifest(m))
	require.FileExists(t, dst)
}

func TestMergeSegmentsLastWriterWins(t *testing.T) {
	dir := tempDir(t)

	// Oldest -> newest, the order compaction callers are expected to use.
	require.NoError(t, writeSegment(dir, 0, []Entry{{Key: "k", Value: "old"}}))
	require.NoError(t, writeSegment(dir, 2, []Entry{{Key: "k", Value: "mid"}, {Key: "z", Value: "z-mid"}}))
	require.NoError(t, writeSegment(dir, 4, []Entry{{Key: "k", Value: "new"}}))

	s0, err := OpenSegment(dir, 0)
	require.NoError(t, err)
	defer s0.Close()
	s2, err := OpenSegment(dir, 2)
	require.NoError(t, err)
	defer s2.Close()
	s4, err := OpenSegment(dir, 4)
	require.NoError(t, err)
	defer s4.Close()

	merged, err := mergeSegments([]*Segment{s0, s2, s4})
	require.NoError(t, err)

	byKey := map[string]string{}
	for _, e := range merged {
		byKey[e.Key] = e.Value
	}
	require.Equal(t, "new", byKey["k"])
	require.Equal(t, "z-mid", byKey["z"])
	require.Len(t, merged, 2)

	for i := 1; i < len(merged); i++ {
		require.Less(t, merged[i-1].Key, merged[i].Key)
	}
}

func TestMergeSegmentsTieBreakIndependentOfInputOrder(t *testing.T) {
	dir := tempDir(t)
	require.NoError(t, writeSegment(dir, 0, []Entry{{Key: "k", Value: "old"}}))
	require.NoError(t, writeSegment(dir, 4, []Entry{{Key: "k", Value: "new"}}))

	open := func(idx uint64) *Segment {
		s, err := OpenSegment(dir, idx)
		require.NoError(t, err)
		return s
	}

	// Pass the newer segment first — the merge result must still prefer
	// it, because the tie-break is on segment index value, not list
	// position.
	newSeg, oldSeg := open(4), open(0)
	defer newSeg.Close()
	defer oldSeg.Close()

	merged, err := mergeSegments([]*Segment{newSeg, oldSeg})
	require.NoError(t, err)
	require.Len(t, merged, 1)
	require.Equal(t, "new", merged[0].Value)
}
