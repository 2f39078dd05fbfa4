package lsm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeEntryRoundTrip(t *testing.T) {
	cases := []Entry{
		{Key: "a", Value: "1"},
		{Key: "", Value: "empty-key"},
		{Key: "k", Value: ""},
		{Key: "", Value: ""},
		{Key: "binary\x00key", Value: "binary\x00value"},
	}

	for _, e := range cases {
		encoded := EncodeEntry(e)
		require.Equal(t, EncodedEntrySize(e), len(encoded))

		decoded, err := DecodeEntry(encoded)
		require.NoError(t, err)
		require.Equal(t, e, decoded)
	}
}

func TestDecodeEntryRejectsTruncated(t *testing.T) {
	full := EncodeEntry(Entry{Key: "hello", Value: "world"})

	_, err := DecodeEntry(full[:len(full)-1])
	require.ErrorIs(t, err, ErrCorruptRecord)

	_, err = DecodeEntry(full[:4])
	require.ErrorIs(t, err, ErrCorruptRecord)
}

func TestDecodeEntryRejectsTrailingBytes(t *testing.T) {
	full := EncodeEntry(Entry{Key: "hello", Value: "world"})
	withTrailer := append(append([]byte{}, full...), 0xFF)

	_, err := DecodeEntry(withTrailer)
	require.ErrorIs(t, err, ErrCorruptRecord)
}

func TestEncodeDecodeEntryOffsetRoundTrip(t *testing.T) {
	off := EntryOffset{EntryOffset: 123456, EntrySize: 789}
	encoded := EncodeEntryOffset(off)
	require.Len(t, encoded, entryOffsetSize)

	decoded, err := DecodeEntryOffset(encoded)
	require.NoError(t, err)
	require.Equal(t, off, decoded)
}

func TestDecodeEntryOffsetRejectsWrongSize(t *testing.T) {
	_, err := DecodeEntryOffset(make([]byte, entryOffsetSize-1))
	require.ErrorIs(t, err, ErrCorruptRecord)

	_, err = DecodeEntryOffset(make([]byte, entryOffsetSize+1))
	require.ErrorIs(t, err, ErrCorruptRecord)
}
