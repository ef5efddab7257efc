// Package memtable holds a sorted in-memory table of the most recent write
// for every key, including tombstones for deletions.
//
// Writes are duplicated to the WAL so the table can be rebuilt after a
// restart. When the size estimate crosses the configured threshold the owner
// flushes the table to disk as a Plain Table and discards it.
//
// Entries live in a sorted slice rather than a hash map so that flushing and
// future scans see keys in order.
package memtable

import (
	"bytes"
	"sort"

	"plainkv/pkg/dberrors"
	"plainkv/pkg/types"
)

// Cost of the fixed fields in an entry's serialized form: 16 bytes of
// timestamp plus one tombstone byte.
const entryOverhead = 16 + 1

// Entry is a single key's latest state. Value is nil iff Deleted is set.
type Entry struct {
	Key       types.Key
	Value     types.Value
	Timestamp types.TimestampMicros
	Deleted   bool
}

// MemTable is an ordered collection of entries, strictly sorted by key, each
// key appearing at most once. It is not safe for concurrent use; the owner
// serializes access.
type MemTable struct {
	entries []Entry
	size    int
}

func New() *MemTable {
	return &MemTable{}
}

// Get returns the stored entry for key, or false if the key is absent.
func (mt *MemTable) Get(key []byte) (Entry, bool) {
	idx, found := mt.getIndex(key)
	if !found {
		return Entry{}, false
	}
	return mt.entries[idx], true
}

// Set stores a key-value pair, replacing any existing entry for the key.
//
// The size estimate grows by the full serialized cost for a new key, and by
// the value-length delta when a live entry is overwritten. Replacing a
// tombstone adds the new value's length, keeping the estimate exact.
func (mt *MemTable) Set(key, value []byte, ts types.TimestampMicros) error {
	if len(key) == 0 {
		return dberrors.ErrEmptyKey
	}

	entry := Entry{
		Key:       bytes.Clone(key),
		Value:     bytes.Clone(value),
		Timestamp: ts,
		Deleted:   false,
	}

	idx, found := mt.getIndex(key)
	if found {
		old := mt.entries[idx]
		if old.Deleted {
			mt.size += len(value)
		} else {
			mt.size += len(value) - len(old.Value)
		}
		mt.entries[idx] = entry
		return nil
	}

	mt.size += len(key) + len(value) + entryOverhead
	mt.insertAt(idx, entry)
	return nil
}

// Delete writes a tombstone for key. The actual removal happens during
// compaction, outside this component.
func (mt *MemTable) Delete(key []byte, ts types.TimestampMicros) error {
	if len(key) == 0 {
		return dberrors.ErrEmptyKey
	}

	entry := Entry{
		Key:       bytes.Clone(key),
		Value:     nil,
		Timestamp: ts,
		Deleted:   true,
	}

	idx, found := mt.getIndex(key)
	if found {
		old := mt.entries[idx]
		if !old.Deleted {
			mt.size -= len(old.Value)
		}
		mt.entries[idx] = entry
		return nil
	}

	mt.size += len(key) + entryOverhead
	mt.insertAt(idx, entry)
	return nil
}

// Len returns the number of stored entries, tombstones included.
func (mt *MemTable) Len() int {
	return len(mt.entries)
}

// Size returns the running estimate of the table's serialized cost. It is
// advisory, used only to trigger a flush.
func (mt *MemTable) Size() int {
	return mt.size
}

// Entries returns the entries in key order. The slice is a view into the
// table and is only valid until the next mutation.
func (mt *MemTable) Entries() []Entry {
	return mt.entries
}

// getIndex binary-searches for key. It returns the exact index when found,
// otherwise the insertion point that preserves sort order. This is the
// single lookup mechanism behind Get, Set and Delete.
func (mt *MemTable) getIndex(key []byte) (int, bool) {
	idx := sort.Search(len(mt.entries), func(i int) bool {
		return bytes.Compare(mt.entries[i].Key, key) >= 0
	})
	if idx < len(mt.entries) && bytes.Equal(mt.entries[idx].Key, key) {
		return idx, true
	}
	return idx, false
}

func (mt *MemTable) insertAt(idx int, entry Entry) {
	mt.entries = append(mt.entries, Entry{})
	copy(mt.entries[idx+1:], mt.entries[idx:])
	mt.entries[idx] = entry
}
