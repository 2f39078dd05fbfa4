package lsm

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// WAL is the write-ahead log mirroring writes to one memtable generation.
// Records are plain encoded Entry values in write order — no checksum
// field. Unlike some WAL designs, records here carry no per-entry CRC: the
// on-disk layout is a fixed interchange format and adding a checksum would
// change it.
type WAL struct {
	file *os.File
	path string
}

// OpenWAL creates (or reopens for append) the WAL file at path.
func OpenWAL(path string) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open wal %s: %w", path, err)
	}
	return &WAL{file: file, path: path}, nil
}

// Append encodes entry, writes it, and fsyncs before returning: a Set call
// must not return until its WAL append is durable on disk.
func (w *WAL) Append(entry Entry) error {
	if _, err := w.file.Write(EncodeEntry(entry)); err != nil {
		return fmt.Errorf("append wal %s: %w", w.path, err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("sync wal %s: %w", w.path, err)
	}
	return nil
}

// Close closes the underlying file without removing it.
func (w *WAL) Close() error {
	if w.file == nil {
		return nil
	}
	return w.file.Close()
}

// Delete closes and removes the WAL file — called once its memtable has been
// durably written out as a segment.
func (w *WAL) Delete() error {
	w.Close()
	if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove wal %s: %w", w.path, err)
	}
	return nil
}

// ReadWAL replays the WAL file at path into a fresh memtable of the given
// capacity. Later writes to the same key overwrite earlier ones, matching
// Memtable.Set's overwrite semantics.
func ReadWAL(path string, capacity int) (*Memtable, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wal %s for replay: %w", path, err)
	}
	defer file.Close()

	memtable := NewMemtable(capacity)
	var lenBuf [8]byte

	readString := func() (string, error) {
		if _, err := io.ReadFull(file, lenBuf[:]); err != nil {
			if err == io.ErrUnexpectedEOF {
				return "", fmt.Errorf("%w: wal %s truncated mid-record", ErrCorruptRecord, path)
			}
			return "", err
		}
		n := binary.LittleEndian.Uint64(lenBuf[:])
		buf := make([]byte, n)
		if _, err := io.ReadFull(file, buf); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return "", fmt.Errorf("%w: wal %s truncated mid-record", ErrCorruptRecord, path)
			}
			return "", err
		}
		return string(buf), nil
	}

	for {
		key, err := readString()
		if err == io.EOF {
			// Clean end of the log: the previous record ended exactly here.
			break
		}
		if err != nil {
			return nil, err
		}
		value, err := readString()
		if err != nil {
			if err == io.EOF {
				// EOF is only clean at a record boundary; a key with no
				// value is a torn record.
				err = fmt.Errorf("%w: wal %s truncated mid-record", ErrCorruptRecord, path)
			}
			return nil, err
		}
		memtable.Set(key, value)
	}
	return memtable, nil
}
