package lsm

import (
	"encoding/binary"
	"fmt"
)

// entryOffsetSize is the fixed width of an encoded EntryOffset: two
// little-endian u64 fields. Every index file is a flat run of these
// records, one per entry, in the same order as the paired data file.
const entryOffsetSize = 16

// Entry is a single key/value pair as stored in a segment's data file or in
// a WAL record. Values are opaque byte strings; ordering is by key only.
type Entry struct {
	Key   string
	Value string
}

// EntryOffset locates one encoded Entry inside a segment's data file.
type EntryOffset struct {
	EntryOffset uint64
	EntrySize   uint64
}

// EncodeEntry serializes e as [keyLen(8)][key][valLen(8)][value], all
// integers little-endian u64. This is the on-disk format for both segment
// data files and WAL records.
func EncodeEntry(e Entry) []byte {
	buf := make([]byte, 8+len(e.Key)+8+len(e.Value))
	binary.LittleEndian.PutUint64(buf[0:8], uint64(len(e.Key)))
	off := 8
	copy(buf[off:], e.Key)
	off += len(e.Key)
	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(len(e.Value)))
	off += 8
	copy(buf[off:], e.Value)
	return buf
}

// EncodedEntrySize returns the number of bytes EncodeEntry(e) would produce,
// without allocating — used by the segment writer to advance data_offset.
func EncodedEntrySize(e Entry) int {
	return 8 + len(e.Key) + 8 + len(e.Value)
}

// DecodeEntry parses a single Entry out of buf. buf must contain exactly one
// encoded entry; any trailing bytes are rejected as corrupt.
func DecodeEntry(buf []byte) (Entry, error) {
	if len(buf) < 8 {
		return Entry{}, fmt.Errorf("%w: entry header truncated", ErrCorruptRecord)
	}
	keyLen := binary.LittleEndian.Uint64(buf[0:8])
	off := 8
	if uint64(len(buf)-off) < keyLen {
		return Entry{}, fmt.Errorf("%w: entry key truncated", ErrCorruptRecord)
	}
	key := string(buf[off : off+int(keyLen)])
	off += int(keyLen)

	if len(buf)-off < 8 {
		return Entry{}, fmt.Errorf("%w: entry missing value length", ErrCorruptRecord)
	}
	valLen := binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	if uint64(len(buf)-off) < valLen {
		return Entry{}, fmt.Errorf("%w: entry value truncated", ErrCorruptRecord)
	}
	value := string(buf[off : off+int(valLen)])
	off += int(valLen)

	if off != len(buf) {
		return Entry{}, fmt.Errorf("%w: entry has trailing bytes", ErrCorruptRecord)
	}
	return Entry{Key: key, Value: value}, nil
}

// EncodeEntryOffset serializes an EntryOffset into exactly entryOffsetSize bytes.
func EncodeEntryOffset(o EntryOffset) []byte {
	buf := make([]byte, entryOffsetSize)
	binary.LittleEndian.PutUint64(buf[0:8], o.EntryOffset)
	binary.LittleEndian.PutUint64(buf[8:16], o.EntrySize)
	return buf
}

// DecodeEntryOffset parses an EntryOffset from a buffer of exactly
// entryOffsetSize bytes.
func DecodeEntryOffset(buf []byte) (EntryOffset, error) {
	if len(buf) != entryOffsetSize {
		return EntryOffset{}, fmt.Errorf("%w: index record must be %d bytes, got %d", ErrCorruptRecord, entryOffsetSize, len(buf))
	}
	return EntryOffset{
		EntryOffset: binary.LittleEndian.Uint64(buf[0:8]),
		EntrySize:   binary.LittleEndian.Uint64(buf[8:16]),
	}, nil
}
