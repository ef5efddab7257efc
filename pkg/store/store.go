// Package store wires the storage core together: one active memtable+WAL
// pair owned by a single writer, a background flusher turning rotated
// memtables into plain tables, and a catalog of immutable tables shared by
// concurrent readers.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zhangyunhao116/skipmap"

	"plainkv/pkg/clock"
	"plainkv/pkg/config"
	"plainkv/pkg/dberrors"
	"plainkv/pkg/listener"
	"plainkv/pkg/memtable"
	"plainkv/pkg/plaintable"
	"plainkv/pkg/types"
	"plainkv/pkg/wal"
)

// tableCatalog is keyed by table ID with the newest table first, so a read
// miss walks tables in reverse creation order. skipmap keeps insertion by
// the flusher safe against concurrent reader iteration.
type tableCatalog = skipmap.FuncMap[uint64, *plaintable.Table]

func newCatalog() *tableCatalog {
	return skipmap.NewFunc[uint64, *plaintable.Table](func(a, b uint64) bool {
		return a > b
	})
}

type Store struct {
	cfg config.StorageConfig
	seq *clock.Sequence

	// mu serializes writers and guards the rotation of the active pair.
	mu      sync.RWMutex
	active  *memtable.MemTable
	journal *wal.Wal
	// pending holds rotated memtables that the flusher has not yet made
	// durable, newest first. They are still logically current: reads
	// consult them after the active memtable and before any table.
	pending []*memtable.MemTable
	closed  bool

	tables  *tableCatalog
	flushCh chan flushJob
	flusher listener.Job
}

// Open recovers the memtable from the WAL directory, opens every plain
// table in the data directory, seeds the sequence clock from the highest
// sequence id found across them, and starts the background flusher.
func Open(cfg config.StorageConfig) (*Store, error) {
	if err := os.MkdirAll(filepath.Clean(cfg.DataDir), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	journal, mt, err := wal.LoadFromDir(cfg.WALDir)
	if err != nil {
		return nil, fmt.Errorf("failed to recover WAL: %w", err)
	}

	s := &Store{
		cfg:     cfg,
		seq:     clock.NewSequence(0),
		active:  mt,
		journal: journal,
		tables:  newCatalog(),
		flushCh: make(chan flushJob, cfg.FlushChanBuffSize),
	}

	if err := s.openTables(); err != nil {
		journal.Close()
		return nil, err
	}

	s.flusher = listener.New(s.flushCh, s.flush)
	s.flusher.Start(context.Background())

	return s, nil
}

func (s *Store) openTables() error {
	paths, err := filepath.Glob(filepath.Join(s.cfg.DataDir, "*.plain"))
	if err != nil {
		return fmt.Errorf("failed to list data directory: %w", err)
	}

	for _, path := range paths {
		var id uint64
		if _, err := fmt.Sscanf(filepath.Base(path), "%d.plain", &id); err != nil {
			slog.Warn("skipping unrecognized table file", "path", path)
			continue
		}

		t, err := plaintable.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open table %s: %w", filepath.Base(path), err)
		}
		s.tables.Store(id, t)
		s.seq.RaiseTo(t.MaxSequence())
	}

	if len(paths) > 0 {
		slog.Info("opened plain tables", "dir", s.cfg.DataDir, "tables", s.tables.Len())
	}
	return nil
}

// Put stores a key-value pair: WAL first for durability, memtable second
// for queryability. Keys shorter than the plain table prefix length are
// rejected up front, since they could never be read back after a flush.
func (s *Store) Put(key, value []byte) error {
	return s.mutate(key, func(ts types.TimestampMicros) error {
		if err := s.journal.Set(key, value, ts); err != nil {
			return err
		}
		if err := s.journal.Flush(); err != nil {
			return err
		}
		return s.active.Set(key, value, ts)
	})
}

// Delete writes a tombstone for key.
func (s *Store) Delete(key []byte) error {
	return s.mutate(key, func(ts types.TimestampMicros) error {
		if err := s.journal.Delete(key, ts); err != nil {
			return err
		}
		if err := s.journal.Flush(); err != nil {
			return err
		}
		return s.active.Delete(key, ts)
	})
}

func (s *Store) mutate(key []byte, apply func(types.TimestampMicros) error) error {
	if err := validateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return dberrors.ErrClosed
	}
	if err := apply(types.TimestampMicros(time.Now().UnixMicro())); err != nil {
		s.mu.Unlock()
		return err
	}

	var job *flushJob
	if s.active.Size() >= s.cfg.FlushThresholdBytes {
		j, err := s.rotate()
		if err != nil {
			s.mu.Unlock()
			return err
		}
		job = j
	}
	s.mu.Unlock()

	// Queued outside the lock: a full flush queue must block this writer,
	// not the flusher's access to the pending list.
	if job != nil {
		s.flushCh <- *job
	}
	return nil
}

// Get consults, in priority order: the active memtable, memtables waiting
// on the flusher, then plain tables newest-first. A tombstone found at any
// layer ends the search; this ordering preserves last-writer-wins across
// the flush boundary.
func (s *Store) Get(key []byte) ([]byte, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, false, dberrors.ErrClosed
	}

	// The active memtable is mutated under mu, so its lookup must happen
	// before the lock is dropped. An overwrite installs a fresh entry with
	// freshly cloned bytes, so the returned value stays stable afterwards.
	if entry, ok := s.active.Get(key); ok {
		s.mu.RUnlock()
		if entry.Deleted {
			return nil, false, nil
		}
		return entry.Value, true, nil
	}

	// Pending memtables are frozen at rotation; reading them needs only a
	// stable snapshot of the list itself.
	pending := make([]*memtable.MemTable, len(s.pending))
	copy(pending, s.pending)
	s.mu.RUnlock()

	for _, mt := range pending {
		if entry, ok := mt.Get(key); ok {
			if entry.Deleted {
				return nil, false, nil
			}
			return entry.Value, true, nil
		}
	}

	return s.getFromTables(key)
}

func (s *Store) getFromTables(key []byte) (value []byte, found bool, err error) {
	s.tables.Range(func(_ uint64, t *plaintable.Table) bool {
		row, gerr := t.Get(key)
		if errors.Is(gerr, dberrors.ErrNotFound) {
			return true
		}
		if gerr != nil {
			err = gerr
			return false
		}
		if row.Type != plaintable.RowTypeDeletion {
			value, found = row.Value, true
		}
		return false
	})
	return value, found, err
}

// rotate retires the active memtable and its WAL file and installs a fresh
// empty pair. Called with mu held: the new pair becomes visible before the
// old memtable starts serializing, and reads keep hitting the old one
// through pending until its table file is durable. The returned job must be
// handed to the flusher after the lock is released.
func (s *Store) rotate() (*flushJob, error) {
	fresh, err := wal.New(s.cfg.WALDir)
	if err != nil {
		return nil, fmt.Errorf("failed to start fresh WAL: %w", err)
	}

	retiring := s.active
	retiredWAL := s.journal
	if err := retiredWAL.Close(); err != nil {
		fresh.Close()
		return nil, err
	}

	s.pending = append([]*memtable.MemTable{retiring}, s.pending...)
	s.active = memtable.New()
	s.journal = fresh

	slog.Debug("rotated memtable", "size", retiring.Size(), "entries", retiring.Len())
	return &flushJob{mt: retiring, walPath: retiredWAL.Path()}, nil
}

// Close stops the flusher (draining queued rotations), closes the WAL and
// every open table. The store is unusable afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.flusher.Stop()

	if err := s.journal.Close(); err != nil {
		return err
	}

	var closeErr error
	s.tables.Range(func(_ uint64, t *plaintable.Table) bool {
		if err := t.Close(); err != nil && closeErr == nil {
			closeErr = err
		}
		return true
	})
	return closeErr
}

func validateKey(key []byte) error {
	if len(key) == 0 {
		return dberrors.ErrEmptyKey
	}
	if len(key) < plaintable.PrefixLength {
		return fmt.Errorf("%w: key %q", dberrors.ErrKeyTooShort, key)
	}
	return nil
}
