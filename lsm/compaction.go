package lsm

import (
	"container/heap"
	"encoding/binary"
	"fmt"
	"os"
)

// compactionManifest records a committed-but-not-yet-installed compaction.
// Its existence on disk is the durability boundary: once written and
// synced, recovery can finish the delete/rename even across a crash.
type compactionManifest struct {
	Renames [][2]string // (src, dst) pairs
	Deletes []string
}

// encodeManifest serializes m using a fixed on-disk layout: u64 count, then
// that many length-prefixed path pairs; u64 count, then that many
// length-prefixed paths.
func encodeManifest(m compactionManifest) []byte {
	size := 8
	for _, r := range m.Renames {
		size += 8 + len(r[0]) + 8 + len(r[1])
	}
	size += 8
	for _, d := range m.Deletes {
		size += 8 + len(d)
	}

	buf := make([]byte, size)
	off := 0
	putUint := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[off:off+8], v)
		off += 8
	}
	putString := func(s string) {
		putUint(uint64(len(s)))
		copy(buf[off:], s)
		off += len(s)
	}

	putUint(uint64(len(m.Renames)))
	for _, r := range m.Renames {
		putString(r[0])
		putString(r[1])
	}
	putUint(uint64(len(m.Deletes)))
	for _, d := range m.Deletes {
		putString(d)
	}
	return buf
}

// decodeManifest is the inverse of encodeManifest.
func decodeManifest(buf []byte) (compactionManifest, error) {
	off := 0
	getUint := func() (uint64, error) {
		if len(buf)-off < 8 {
			return 0, fmt.Errorf("%w: manifest truncated reading count", ErrCorruptRecord)
		}
		v := binary.LittleEndian.Uint64(buf[off : off+8])
		off += 8
		return v, nil
	}
	getString := func() (string, error) {
		n, err := getUint()
		if err != nil {
			return "", err
		}
		if uint64(len(buf)-off) < n {
			return "", fmt.Errorf("%w: manifest truncated reading string", ErrCorruptRecord)
		}
		s := string(buf[off : off+int(n)])
		off += int(n)
		return s, nil
	}

	var m compactionManifest
	nRenames, err := getUint()
	if err != nil {
		return m, err
	}
	// Each rename needs at least two 8-byte length prefixes; reject counts
	// the remaining bytes cannot hold before allocating for them.
	if nRenames > uint64(len(buf)-off)/16 {
		return m, fmt.Errorf("%w: manifest rename count %d exceeds record size", ErrCorruptRecord, nRenames)
	}
	m.Renames = make([][2]string, nRenames)
	for i := range m.Renames {
		src, err := getString()
		if err != nil {
			return m, err
		}
		dst, err := getString()
		if err != nil {
			return m, err
		}
		m.Renames[i] = [2]string{src, dst}
	}

	nDeletes, err := getUint()
	if err != nil {
		return m, err
	}
	if nDeletes > uint64(len(buf)-off)/8 {
		return m, fmt.Errorf("%w: manifest delete count %d exceeds record size", ErrCorruptRecord, nDeletes)
	}
	m.Deletes = make([]string, nDeletes)
	for i := range m.Deletes {
		s, err := getString()
		if err != nil {
			return m, err
		}
		m.Deletes[i] = s
	}

	if off != len(buf) {
		return m, fmt.Errorf("%w: manifest has trailing bytes", ErrCorruptRecord)
	}
	return m, nil
}

// writeManifest encodes and durably writes the manifest for output segment
// index outputIndex.
func writeManifest(dir string, outputIndex uint64, m compactionManifest) error {
	path := compactActionPath(dir, outputIndex)
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create manifest %d: %w", outputIndex, err)
	}
	if _, err := file.Write(encodeManifest(m)); err != nil {
		file.Close()
		return fmt.Errorf("write manifest %d: %w", outputIndex, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("sync manifest %d: %w", outputIndex, err)
	}
	return file.Close()
}

// applyManifestRenames idempotently installs one manifest's renames: a
// rename whose src no longer exists (already installed by a prior,
// interrupted apply) is silently skipped.
func applyManifestRenames(m compactionManifest) error {
	for _, r := range m.Renames {
		src, dst := r[0], r[1]
		if _, err := os.Stat(src); err == nil {
			if err := os.Rename(src, dst); err != nil {
				return fmt.Errorf("rename %s -> %s: %w", src, dst, err)
			}
		}
	}
	return nil
}

// applyManifestDeletes idempotently installs one manifest's deletes: a
// delete of an already-absent file is silently skipped.
func applyManifestDeletes(m compactionManifest) error {
	for _, path := range m.Deletes {
		if _, err := os.Stat(path); err == nil {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("delete %s: %w", path, err)
			}
		}
	}
	return nil
}

// applyManifest idempotently installs one manifest's renames and deletes in
// full — used by recovery, which runs before any reader could be touching
// the files in question, so the rename/delete ordering carries no live-read
// hazard. Applying a manifest twice must equal applying it once.
func applyManifest(m compactionManifest) error {
	if err := applyManifestRenames(m); err != nil {
		return err
	}
	return applyManifestDeletes(m)
}

// segmentCursor streams a segment's entries in ascending key order one at a
// time, for use as a k-way merge input.
type segmentCursor struct {
	segment *Segment
	pos     int64
}

func newSegmentCursor(s *Segment) *segmentCursor {
	return &segmentCursor{segment: s}
}

// next returns the next entry, or ok=false once the segment is exhausted.
func (c *segmentCursor) next() (entry Entry, ok bool, err error) {
	if c.pos >= c.segment.numEntries {
		return Entry{}, false, nil
	}
	off, err := c.segment.readOffset(c.pos)
	if err != nil {
		return Entry{}, false, err
	}
	entry, err = c.segment.readEntryAt(off)
	if err != nil {
		return Entry{}, false, err
	}
	c.pos++
	return entry, true, nil
}

// mergeHeapItem is one pending candidate in the k-way merge heap.
type mergeHeapItem struct {
	entry       Entry
	sourceIndex uint64 // the segment index this entry came from
	cursorSlot  int    // which cursor in the merge's cursor slice produced it
}

// mergeHeap orders items by key ascending; ties break on lower segment
// index first. Tie-breaking on the segment's own index value, rather than
// its position in the caller-supplied list, keeps the result correct
// regardless of the order indicesToCompact was passed in: the older
// segment index always loses a tie, the newer one always wins.
type mergeHeap []mergeHeapItem

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	if h[i].entry.Key != h[j].entry.Key {
		return h[i].entry.Key < h[j].entry.Key
	}
	return h[i].sourceIndex < h[j].sourceIndex
}
func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)   { *h = append(*h, x.(mergeHeapItem)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// mergeSegments performs a k-way merge: pop the smallest (key, then lowest
// segment index) item, keep only the last-writer-wins value per key, and
// stream the result out in ascending key order. Input segments are
// expected to already be open; mergeSegments does not close them.
func mergeSegments(segments []*Segment) ([]Entry, error) {
	cursors := make([]*segmentCursor, len(segments))
	for i, s := range segments {
		cursors[i] = newSegmentCursor(s)
	}

	h := &mergeHeap{}
	heap.Init(h)
	for slot, c := range cursors {
		entry, ok, err := c.next()
		if err != nil {
			return nil, err
		}
		if ok {
			heap.Push(h, mergeHeapItem{entry: entry, sourceIndex: segments[slot].Index, cursorSlot: slot})
		}
	}

	var out []Entry
	for h.Len() > 0 {
		item := heap.Pop(h).(mergeHeapItem)

		next, ok, err := cursors[item.cursorSlot].next()
		if err != nil {
			return nil, err
		}
		if ok {
			heap.Push(h, mergeHeapItem{entry: next, sourceIndex: segments[item.cursorSlot].Index, cursorSlot: item.cursorSlot})
		}

		// If the next heap head shares this key, this entry is the older
		// duplicate — skip it, the newer one will be popped (and written)
		// next.
		if h.Len() > 0 && (*h)[0].entry.Key == item.entry.Key {
			continue
		}

		out = append(out, item.entry)
	}
	return out, nil
}
