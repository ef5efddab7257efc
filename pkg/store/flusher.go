package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"plainkv/pkg/memtable"
	"plainkv/pkg/plaintable"
)

// flushJob carries one rotated memtable and the path of the WAL file that
// backed it. The WAL file may only be deleted once the table is durable.
type flushJob struct {
	mt      *memtable.MemTable
	walPath string
}

// flush serializes one rotated memtable into a plain table. The table is
// written to a temp file and renamed into place so a crash mid-write never
// leaves a half-table under a name the store would open; until the rename,
// the retired WAL file still holds every record.
func (s *Store) flush(job flushJob) error {
	if job.mt.Len() == 0 {
		s.release(job)
		return nil
	}

	id := s.nextTableID()
	path := filepath.Join(s.cfg.DataDir, fmt.Sprintf("%d.plain", id))
	tmp := path + "." + uuid.NewString() + ".tmp"

	if _, err := plaintable.Write(job.mt, tmp, s.seq); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write table: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to publish table: %w", err)
	}

	t, err := plaintable.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open flushed table: %w", err)
	}
	s.tables.Store(id, t)

	s.release(job)

	slog.Info("flushed memtable to plain table",
		"path", filepath.Base(path), "rows", t.Properties().RowCount)
	return nil
}

// release drops the memtable from the pending list and removes its retired
// WAL file; both are only reachable again through the flushed table now.
func (s *Store) release(job flushJob) {
	s.mu.Lock()
	for i, mt := range s.pending {
		if mt == job.mt {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	if err := os.Remove(job.walPath); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to remove retired WAL file", "path", job.walPath, "error", err)
	}
}

// nextTableID derives a fresh table ID from the clock, bumping past any
// existing file so catalog order matches creation order.
func (s *Store) nextTableID() uint64 {
	id := uint64(time.Now().UnixMicro())
	for {
		path := filepath.Join(s.cfg.DataDir, fmt.Sprintf("%d.plain", id))
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return id
		}
		id++
	}
}
