package plaintable

import (
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"

	"plainkv/pkg/dberrors"
)

// mapping owns a read-only memory map whose lifetime is tied to the open
// file handle. The raw mapping is never handed out; all access goes through
// the bounds-checked Range accessor.
type mapping struct {
	file *os.File
	data mmap.MMap
}

func openMapping(path string) (*mapping, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open table file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat table file: %w", err)
	}
	if info.Size() > MaxFileSize {
		file.Close()
		return nil, dberrors.ErrTableTooLarge
	}
	if info.Size() < footerSize {
		file.Close()
		return nil, fmt.Errorf("%w: file smaller than footer", dberrors.ErrCorruptData)
	}

	data, err := mmap.Map(file, mmap.RDONLY, 0)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to mmap table file: %w", err)
	}

	return &mapping{file: file, data: data}, nil
}

func (m *mapping) Len() int64 {
	return int64(len(m.data))
}

// Range returns the n mapped bytes starting at off. Requests outside the
// mapping are corrupt-data errors, not slices into unmapped memory.
func (m *mapping) Range(off, n int64) ([]byte, error) {
	if off < 0 || n < 0 || off+n > int64(len(m.data)) {
		return nil, fmt.Errorf("%w: byte range [%d, %d) outside mapped file of %d bytes",
			dberrors.ErrCorruptData, off, off+n, len(m.data))
	}
	return m.data[off : off+n], nil
}

func (m *mapping) Close() error {
	if m.data != nil {
		if err := m.data.Unmap(); err != nil {
			m.file.Close()
			return fmt.Errorf("failed to unmap table file: %w", err)
		}
		m.data = nil
	}
	if m.file != nil {
		if err := m.file.Close(); err != nil {
			return fmt.Errorf("failed to close table file: %w", err)
		}
		m.file = nil
	}
	return nil
}
