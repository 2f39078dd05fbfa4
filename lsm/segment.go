package lsm

import (
	"fmt"
	"os"
)

// SegmentWriter streams sorted entries into a (data, index) file pair: a
// flat, direct per-entry index with no block paging and no bloom filter.
type SegmentWriter struct {
	dataFile  *os.File
	indexFile *os.File
	offset    uint64
}

// CreateSegment opens fresh (data, index) files for segment index i in dir.
func CreateSegment(dir string, index uint64) (*SegmentWriter, error) {
	return createSegmentWriter(dataPath(dir, index), indexPath(dir, index), index)
}

// createCompactionOutput opens the temporary `.compact_data`/`.compact_index`
// pair a compaction streams its merged output into. The files are renamed
// into their final `.data`/`.index` names only once the commit manifest
// names that rename, so a crash mid-write leaves only unreferenced
// orphan files behind.
func createCompactionOutput(dir string, outputIndex uint64) (*SegmentWriter, error) {
	return createSegmentWriter(compactDataPath(dir, outputIndex), compactIndexPath(dir, outputIndex), outputIndex)
}

func createSegmentWriter(dataName, indexName string, index uint64) (*SegmentWriter, error) {
	dataFile, err := os.Create(dataName)
	if err != nil {
		return nil, fmt.Errorf("create segment data %d: %w", index, err)
	}
	indexFile, err := os.Create(indexName)
	if err != nil {
		dataFile.Close()
		return nil, fmt.Errorf("create segment index %d: %w", index, err)
	}
	return &SegmentWriter{dataFile: dataFile, indexFile: indexFile}, nil
}

// Add appends entry to the data stream and its corresponding EntryOffset to
// the index stream. Entries MUST be added in ascending key order; the
// writer does not itself verify this — callers (flush, compaction) are
// responsible for supplying a sorted source.
func (w *SegmentWriter) Add(entry Entry) error {
	encoded := EncodeEntry(entry)
	if _, err := w.dataFile.Write(encoded); err != nil {
		return fmt.Errorf("write segment entry: %w", err)
	}
	offsetRecord := EncodeEntryOffset(EntryOffset{
		EntryOffset: w.offset,
		EntrySize:   uint64(len(encoded)),
	})
	if _, err := w.indexFile.Write(offsetRecord); err != nil {
		return fmt.Errorf("write segment index record: %w", err)
	}
	w.offset += uint64(len(encoded))
	return nil
}

// Finish syncs and closes both streams, making the segment durable.
func (w *SegmentWriter) Finish() error {
	if err := w.dataFile.Sync(); err != nil {
		return fmt.Errorf("sync segment data: %w", err)
	}
	if err := w.indexFile.Sync(); err != nil {
		return fmt.Errorf("sync segment index: %w", err)
	}
	if err := w.dataFile.Close(); err != nil {
		return fmt.Errorf("close segment data: %w", err)
	}
	if err := w.indexFile.Close(); err != nil {
		return fmt.Errorf("close segment index: %w", err)
	}
	return nil
}

// Abort closes and removes both files, for use when an error aborts the
// write mid-stream.
func (w *SegmentWriter) Abort() {
	w.dataFile.Close()
	w.indexFile.Close()
	os.Remove(w.dataFile.Name())
	os.Remove(w.indexFile.Name())
}

// writeSegment streams a sorted entry slice directly to a new final segment
// in one call — the case used by flush, whose crash-recovery story is the
// two-WAL-file reconciliation rather than a manifest.
func writeSegment(dir string, index uint64, entries []Entry) error {
	w, err := CreateSegment(dir, index)
	if err != nil {
		return err
	}
	return streamEntries(w, entries)
}

// writeCompactionOutput streams a merged entry slice to a compaction's
// temporary `.compact_data`/`.compact_index` pair; the caller installs it
// under its final name via the commit manifest.
func writeCompactionOutput(dir string, outputIndex uint64, entries []Entry) error {
	w, err := createCompactionOutput(dir, outputIndex)
	if err != nil {
		return err
	}
	return streamEntries(w, entries)
}

func streamEntries(w *SegmentWriter, entries []Entry) error {
	for _, e := range entries {
		if err := w.Add(e); err != nil {
			w.Abort()
			return err
		}
	}
	return w.Finish()
}

// segmentFilesExist reports whether both files of segment index already
// exist on disk.
func segmentFilesExist(dir string, index uint64) bool {
	if _, err := os.Stat(dataPath(dir, index)); err != nil {
		return false
	}
	if _, err := os.Stat(indexPath(dir, index)); err != nil {
		return false
	}
	return true
}

// Segment is a handle onto one immutable on-disk (data, index) file pair,
// opened for point lookups via binary search.
type Segment struct {
	Index     uint64
	dataFile  *os.File
	indexFile *os.File
	numEntries int64
}

// OpenSegment opens the (data, index) pair for segment index i in dir.
func OpenSegment(dir string, index uint64) (*Segment, error) {
	dataFile, err := os.Open(dataPath(dir, index))
	if err != nil {
		return nil, fmt.Errorf("open segment data %d: %w", index, err)
	}
	indexFile, err := os.Open(indexPath(dir, index))
	if err != nil {
		dataFile.Close()
		return nil, fmt.Errorf("open segment index %d: %w", index, err)
	}
	stat, err := indexFile.Stat()
	if err != nil {
		dataFile.Close()
		indexFile.Close()
		return nil, fmt.Errorf("stat segment index %d: %w", index, err)
	}
	return &Segment{
		Index:      index,
		dataFile:   dataFile,
		indexFile:  indexFile,
		numEntries: stat.Size() / entryOffsetSize,
	}, nil
}

// Close releases the segment's file handles.
func (s *Segment) Close() error {
	err1 := s.dataFile.Close()
	err2 := s.indexFile.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// readOffset reads and decodes the idx-th EntryOffset record.
func (s *Segment) readOffset(idx int64) (EntryOffset, error) {
	buf := make([]byte, entryOffsetSize)
	if _, err := s.indexFile.ReadAt(buf, idx*entryOffsetSize); err != nil {
		return EntryOffset{}, fmt.Errorf("read segment index record: %w", err)
	}
	return DecodeEntryOffset(buf)
}

// readEntryAt reads and decodes the Entry described by off.
func (s *Segment) readEntryAt(off EntryOffset) (Entry, error) {
	buf := make([]byte, off.EntrySize)
	if _, err := s.dataFile.ReadAt(buf, int64(off.EntryOffset)); err != nil {
		return Entry{}, fmt.Errorf("read segment entry: %w", err)
	}
	return DecodeEntry(buf)
}

// Get performs a binary search over index record positions: maintain an
// inclusive [lo, hi] range, probe the midpoint's entry, and narrow based on
// key comparison. Returns found=false without any I/O when the segment is
// empty.
func (s *Segment) Get(key string) (value string, found bool, err error) {
	n := s.numEntries
	if n == 0 {
		return "", false, nil
	}

	lo, hi := int64(0), n-1
	for lo <= hi {
		mid := (lo + hi) / 2
		off, err := s.readOffset(mid)
		if err != nil {
			return "", false, err
		}
		entry, err := s.readEntryAt(off)
		if err != nil {
			return "", false, err
		}
		switch {
		case entry.Key == key:
			return entry.Value, true, nil
		case entry.Key < key:
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	return "", false, nil
}

// Entries returns every entry in the segment, in ascending key order, read
// into memory at once. Compaction does not use it: its k-way merge streams
// each input through a segmentCursor.
func (s *Segment) Entries() ([]Entry, error) {
	out := make([]Entry, 0, s.numEntries)
	for i := int64(0); i < s.numEntries; i++ {
		off, err := s.readOffset(i)
		if err != nil {
			return nil, err
		}
		entry, err := s.readEntryAt(off)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}
