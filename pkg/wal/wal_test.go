package wal_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plainkv/pkg/wal"
)

func TestSetRecordLayout(t *testing.T) {
	dir := t.TempDir()
	w, err := wal.New(dir)
	require.NoError(t, err)

	require.NoError(t, w.Set([]byte("Lime"), []byte("Lime Smoothie"), 42))
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	data, err := os.ReadFile(w.Path())
	require.NoError(t, err)

	// [8B key len][1B tombstone][8B value len][key][value][16B timestamp]
	require.Len(t, data, 8+1+8+4+13+16)
	assert.Equal(t, uint64(4), binary.LittleEndian.Uint64(data[0:8]))
	assert.Equal(t, byte(0), data[8])
	assert.Equal(t, uint64(13), binary.LittleEndian.Uint64(data[9:17]))
	assert.Equal(t, []byte("Lime"), data[17:21])
	assert.Equal(t, []byte("Lime Smoothie"), data[21:34])
	assert.Equal(t, uint64(42), binary.LittleEndian.Uint64(data[34:42]))
	assert.Equal(t, uint64(0), binary.LittleEndian.Uint64(data[42:50]))
}

func TestDeleteRecordLayoutHasNoValueFields(t *testing.T) {
	dir := t.TempDir()
	w, err := wal.New(dir)
	require.NoError(t, err)

	require.NoError(t, w.Delete([]byte("Lime"), 7))
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	data, err := os.ReadFile(w.Path())
	require.NoError(t, err)

	// [8B key len][1B tombstone][key][16B timestamp]
	require.Len(t, data, 8+1+4+16)
	assert.Equal(t, uint64(4), binary.LittleEndian.Uint64(data[0:8]))
	assert.Equal(t, byte(1), data[8])
	assert.Equal(t, []byte("Lime"), data[9:13])
	assert.Equal(t, uint64(7), binary.LittleEndian.Uint64(data[13:21]))
}

func TestReaderRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w, err := wal.New(dir)
	require.NoError(t, err)

	require.NoError(t, w.Set([]byte("Apple"), []byte("Apple Smoothie"), 1))
	require.NoError(t, w.Set([]byte("Lime"), []byte("Lime Smoothie"), 2))
	require.NoError(t, w.Delete([]byte("Apple"), 3))
	require.NoError(t, w.Flush())

	r, err := wal.OpenReader(w.Path())
	require.NoError(t, err)
	defer r.Close()

	var entries []wal.Entry
	for e, err := range r.All() {
		require.NoError(t, err)
		entries = append(entries, e)
	}

	require.Len(t, entries, 3)
	assert.Equal(t, []byte("Apple"), entries[0].Key)
	assert.Equal(t, []byte("Apple Smoothie"), entries[0].Value)
	assert.Equal(t, uint64(1), entries[0].Timestamp)
	assert.False(t, entries[0].Deleted)

	assert.Equal(t, []byte("Lime"), entries[1].Key)
	assert.Equal(t, uint64(2), entries[1].Timestamp)

	assert.Equal(t, []byte("Apple"), entries[2].Key)
	assert.Nil(t, entries[2].Value)
	assert.Equal(t, uint64(3), entries[2].Timestamp)
	assert.True(t, entries[2].Deleted)
}

func TestTornTrailingWriteEndsIteration(t *testing.T) {
	dir := t.TempDir()
	w, err := wal.New(dir)
	require.NoError(t, err)

	require.NoError(t, w.Set([]byte("Apple"), []byte("Apple Smoothie"), 1))
	require.NoError(t, w.Set([]byte("Orange"), []byte("Orange Smoothie"), 2))
	require.NoError(t, w.Close())

	// Chop a few bytes off the second record, as an unclean shutdown would.
	info, err := os.Stat(w.Path())
	require.NoError(t, err)
	require.NoError(t, os.Truncate(w.Path(), info.Size()-5))

	r, err := wal.OpenReader(w.Path())
	require.NoError(t, err)
	defer r.Close()

	first, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte("Apple"), first.Key)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestMidLogFailureReachesCaller(t *testing.T) {
	dir := t.TempDir()
	w, err := wal.New(dir)
	require.NoError(t, err)

	require.NoError(t, w.Set([]byte("Apple"), []byte("Apple Smoothie"), 1))
	require.NoError(t, w.Close())

	raw, err := os.ReadFile(w.Path())
	require.NoError(t, err)

	// A device failure after the first record must surface, unlike a torn
	// tail, which is indistinguishable from a clean truncation.
	boom := errors.New("input/output error")
	r := wal.NewReader(io.MultiReader(bytes.NewReader(raw), iotest.ErrReader(boom)))
	defer r.Close()

	var entries []wal.Entry
	var readErr error
	for e, err := range r.All() {
		if err != nil {
			readErr = err
			break
		}
		entries = append(entries, e)
	}

	require.Len(t, entries, 1)
	assert.Equal(t, []byte("Apple"), entries[0].Key)
	require.ErrorIs(t, readErr, boom)
}

func TestWalsInSameDirGetDistinctFiles(t *testing.T) {
	dir := t.TempDir()

	w1, err := wal.New(dir)
	require.NoError(t, err)
	w2, err := wal.New(dir)
	require.NoError(t, err)

	assert.NotEqual(t, w1.Path(), w2.Path())
	require.NoError(t, w1.Close())
	require.NoError(t, w2.Close())
}
