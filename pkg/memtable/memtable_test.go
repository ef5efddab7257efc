package memtable_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plainkv/pkg/dberrors"
	"plainkv/pkg/memtable"
)

func TestSetKeepsEntriesSorted(t *testing.T) {
	// Same three entries arriving in different orders must end up in the
	// same sorted sequence with the same size estimate.
	orders := map[string][][2]string{
		"insert at start": {
			{"Lime", "Lime Smoothie"},
			{"Orange", "Orange Smoothie"},
			{"Apple", "Apple Smoothie"},
		},
		"insert in middle": {
			{"Apple", "Apple Smoothie"},
			{"Orange", "Orange Smoothie"},
			{"Lime", "Lime Smoothie"},
		},
		"insert at end": {
			{"Apple", "Apple Smoothie"},
			{"Lime", "Lime Smoothie"},
			{"Orange", "Orange Smoothie"},
		},
	}

	for name, ops := range orders {
		t.Run(name, func(t *testing.T) {
			mt := memtable.New()
			for i, op := range ops {
				require.NoError(t, mt.Set([]byte(op[0]), []byte(op[1]), uint64(i*10)))
			}

			entries := mt.Entries()
			require.Len(t, entries, 3)
			assert.Equal(t, []byte("Apple"), entries[0].Key)
			assert.Equal(t, []byte("Apple Smoothie"), entries[0].Value)
			assert.Equal(t, []byte("Lime"), entries[1].Key)
			assert.Equal(t, []byte("Lime Smoothie"), entries[1].Value)
			assert.Equal(t, []byte("Orange"), entries[2].Key)
			assert.Equal(t, []byte("Orange Smoothie"), entries[2].Value)

			// key.len + value.len + 16 (timestamp) + 1 (tombstone), summed.
			assert.Equal(t, 108, mt.Size())
			assert.Equal(t, 3, mt.Len())
		})
	}
}

func TestSetOverwriteAdjustsSizeByDelta(t *testing.T) {
	mt := memtable.New()
	require.NoError(t, mt.Set([]byte("Apple"), []byte("Apple Smoothie"), 0))
	require.NoError(t, mt.Set([]byte("Lime"), []byte("Lime Smoothie"), 10))
	require.NoError(t, mt.Set([]byte("Orange"), []byte("Orange Smoothie"), 20))

	require.NoError(t, mt.Set([]byte("Lime"), []byte("A sour fruit"), 30))

	entries := mt.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, []byte("A sour fruit"), entries[1].Value)
	assert.Equal(t, uint64(30), entries[1].Timestamp)
	assert.False(t, entries[1].Deleted)
	assert.Equal(t, 107, mt.Size())
}

func TestSetIsIdempotentPerKey(t *testing.T) {
	mt := memtable.New()
	require.NoError(t, mt.Set([]byte("Apple"), []byte("v1"), 1))
	require.NoError(t, mt.Set([]byte("Apple"), []byte("v2"), 2))

	require.Equal(t, 1, mt.Len())
	entry, ok := mt.Get([]byte("Apple"))
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), entry.Value)
	assert.Equal(t, uint64(2), entry.Timestamp)
	assert.False(t, entry.Deleted)
}

func TestGet(t *testing.T) {
	mt := memtable.New()
	require.NoError(t, mt.Set([]byte("Apple"), []byte("Apple Smoothie"), 0))
	require.NoError(t, mt.Set([]byte("Lime"), []byte("Lime Smoothie"), 10))
	require.NoError(t, mt.Set([]byte("Orange"), []byte("Orange Smoothie"), 20))

	entry, ok := mt.Get([]byte("Orange"))
	require.True(t, ok)
	assert.Equal(t, []byte("Orange"), entry.Key)
	assert.Equal(t, []byte("Orange Smoothie"), entry.Value)
	assert.Equal(t, uint64(20), entry.Timestamp)

	_, ok = mt.Get([]byte("Potato"))
	assert.False(t, ok)
}

func TestDeleteExistingSubtractsValue(t *testing.T) {
	mt := memtable.New()
	require.NoError(t, mt.Set([]byte("Apple"), []byte("Apple Smoothie"), 0))

	require.NoError(t, mt.Delete([]byte("Apple"), 10))

	entry, ok := mt.Get([]byte("Apple"))
	require.True(t, ok)
	assert.Equal(t, []byte("Apple"), entry.Key)
	assert.Nil(t, entry.Value)
	assert.Equal(t, uint64(10), entry.Timestamp)
	assert.True(t, entry.Deleted)

	assert.Equal(t, 22, mt.Size())
	assert.Equal(t, 1, mt.Len())
}

func TestDeleteAbsentInsertsTombstone(t *testing.T) {
	mt := memtable.New()

	require.NoError(t, mt.Delete([]byte("Apple"), 10))

	entry, ok := mt.Get([]byte("Apple"))
	require.True(t, ok)
	assert.Nil(t, entry.Value)
	assert.True(t, entry.Deleted)
	assert.Equal(t, uint64(10), entry.Timestamp)
	assert.Equal(t, 22, mt.Size())
}

func TestSetOverTombstoneAccountsNewValue(t *testing.T) {
	mt := memtable.New()
	require.NoError(t, mt.Set([]byte("Apple"), []byte("Apple Smoothie"), 0))
	require.NoError(t, mt.Delete([]byte("Apple"), 10))
	require.Equal(t, 22, mt.Size())

	require.NoError(t, mt.Set([]byte("Apple"), []byte("Apple Juice"), 20))

	entry, ok := mt.Get([]byte("Apple"))
	require.True(t, ok)
	assert.Equal(t, []byte("Apple Juice"), entry.Value)
	assert.False(t, entry.Deleted)
	assert.Equal(t, 22+len("Apple Juice"), mt.Size())
}

func TestEmptyKeyRejectedBeforeMutation(t *testing.T) {
	mt := memtable.New()

	require.ErrorIs(t, mt.Set(nil, []byte("v"), 0), dberrors.ErrEmptyKey)
	require.ErrorIs(t, mt.Delete([]byte{}, 0), dberrors.ErrEmptyKey)

	assert.Equal(t, 0, mt.Len())
	assert.Equal(t, 0, mt.Size())
}
