// Package wal implements a write-ahead log: an append-only file holding the
// operations performed on a memtable, replayed to rebuild it after a
// restart.
//
// A log entry has the following structure, little-endian throughout:
//
//	+---------------+---------------+-----------------+-...-+--...--+-----------------+
//	| Key Size (8B) | Tombstone(1B) | Value Size (8B) | Key | Value | Timestamp (16B) |
//	+---------------+---------------+-----------------+-...-+--...--+-----------------+
//
// The value size and value bytes are present only when the tombstone flag is
// zero. Each WAL file is named after its creation time in microseconds, so
// lexicographic filename order equals chronological order.
package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"plainkv/pkg/dberrors"
	"plainkv/pkg/types"
)

// Entry is a single decoded WAL record.
type Entry struct {
	Key       types.Key
	Value     types.Value
	Timestamp types.TimestampMicros
	Deleted   bool
}

// Wal is an append-only log file with a write buffer. Appends are not
// durable until Flush is called; bulk loaders should batch many appends and
// flush once.
type Wal struct {
	path   string
	file   *os.File
	writer *bufio.Writer
}

// New creates a fresh WAL file in dir, named by the current time in
// microseconds.
func New(dir string) (*Wal, error) {
	if dir == "" {
		return nil, fmt.Errorf("empty WAL dir")
	}
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	// Two WALs created within the same microsecond must not share a file.
	ts := uint64(time.Now().UnixMicro())
	path := filepath.Join(dir, fmt.Sprintf("%d.wal", ts))
	for {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		ts++
		path = filepath.Join(dir, fmt.Sprintf("%d.wal", ts))
	}
	return OpenPath(path)
}

// OpenPath opens an existing WAL file for appending, creating it if needed.
func OpenPath(path string) (*Wal, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	return &Wal{
		path:   path,
		file:   file,
		writer: bufio.NewWriter(file),
	}, nil
}

// Path returns the location of the underlying file.
func (w *Wal) Path() string {
	return w.path
}

// Set appends a key-value record. Durability requires a later Flush.
func (w *Wal) Set(key, value []byte, ts types.TimestampMicros) error {
	if len(key) == 0 {
		return dberrors.ErrEmptyKey
	}
	if w.writer == nil {
		return dberrors.ErrClosed
	}

	if err := binary.Write(w.writer, binary.LittleEndian, uint64(len(key))); err != nil {
		return fmt.Errorf("failed to write key length: %w", err)
	}
	if err := w.writer.WriteByte(0); err != nil {
		return fmt.Errorf("failed to write tombstone flag: %w", err)
	}
	if err := binary.Write(w.writer, binary.LittleEndian, uint64(len(value))); err != nil {
		return fmt.Errorf("failed to write value length: %w", err)
	}
	if _, err := w.writer.Write(key); err != nil {
		return fmt.Errorf("failed to write key: %w", err)
	}
	if _, err := w.writer.Write(value); err != nil {
		return fmt.Errorf("failed to write value: %w", err)
	}
	return w.writeTimestamp(ts)
}

// Delete appends a tombstone record. The encoding is shorter: no value
// length and no value bytes.
func (w *Wal) Delete(key []byte, ts types.TimestampMicros) error {
	if len(key) == 0 {
		return dberrors.ErrEmptyKey
	}
	if w.writer == nil {
		return dberrors.ErrClosed
	}

	if err := binary.Write(w.writer, binary.LittleEndian, uint64(len(key))); err != nil {
		return fmt.Errorf("failed to write key length: %w", err)
	}
	if err := w.writer.WriteByte(1); err != nil {
		return fmt.Errorf("failed to write tombstone flag: %w", err)
	}
	if _, err := w.writer.Write(key); err != nil {
		return fmt.Errorf("failed to write key: %w", err)
	}
	return w.writeTimestamp(ts)
}

// The on-disk timestamp is 128 bits. Only the low 64 bits are populated;
// microseconds since the epoch will not overflow them.
func (w *Wal) writeTimestamp(ts types.TimestampMicros) error {
	if err := binary.Write(w.writer, binary.LittleEndian, ts); err != nil {
		return fmt.Errorf("failed to write timestamp: %w", err)
	}
	if err := binary.Write(w.writer, binary.LittleEndian, uint64(0)); err != nil {
		return fmt.Errorf("failed to write timestamp: %w", err)
	}
	return nil
}

// Flush forces buffered appends out to the file and syncs it.
func (w *Wal) Flush() error {
	if w.writer == nil {
		return dberrors.ErrClosed
	}
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush WAL: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync WAL: %w", err)
	}
	return nil
}

// Close flushes and closes the file. The Wal is unusable afterwards.
func (w *Wal) Close() error {
	if w.writer == nil {
		return nil
	}
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush WAL on close: %w", err)
	}
	w.writer = nil

	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close WAL file: %w", err)
	}
	w.file = nil
	return nil
}
