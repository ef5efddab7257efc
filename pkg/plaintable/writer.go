package plaintable

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"plainkv/pkg/clock"
	"plainkv/pkg/dberrors"
	"plainkv/pkg/memtable"
)

// Write serializes a memtable's sorted entries into a new plain table file
// at path and returns the path. Each row draws a fresh id from the shared
// sequence clock; the trailing property block and footer let a later Open
// locate the metadata without a full scan.
//
// The memtable's sort order is the correctness precondition for the prefix
// index: all rows sharing a prefix end up contiguous.
func Write(mt *memtable.MemTable, path string, seq *clock.Sequence) (string, error) {
	entries := mt.Entries()
	for _, e := range entries {
		if len(e.Key) < PrefixLength {
			return "", fmt.Errorf("%w: key %q", dberrors.ErrKeyTooShort, e.Key)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("failed to create table file: %w", err)
	}
	w := bufio.NewWriter(file)

	props := Properties{
		PrefixLen: PrefixLength,
	}
	var offset uint64

	for i, e := range entries {
		rowType := RowTypeValue
		if e.Deleted {
			rowType = RowTypeDeletion
		}

		id := seq.Next()
		if id > MaxSequenceID {
			file.Close()
			return "", fmt.Errorf("sequence id %d overflows 56 bits", id)
		}

		rowSize := uint64(4 + len(e.Key) + 8 + 4 + len(e.Value))
		if offset+rowSize+uint64(footerSize) > MaxFileSize {
			file.Close()
			return "", dberrors.ErrTableTooLarge
		}

		if err := binary.Write(w, binary.LittleEndian, uint32(len(e.Key))); err != nil {
			file.Close()
			return "", fmt.Errorf("failed to write key length: %w", err)
		}
		if _, err := w.Write(e.Key); err != nil {
			file.Close()
			return "", fmt.Errorf("failed to write key: %w", err)
		}
		if err := binary.Write(w, binary.LittleEndian, packTrailer(rowType, id)); err != nil {
			file.Close()
			return "", fmt.Errorf("failed to write row trailer: %w", err)
		}

		// A deletion row carries a zero value length and no value bytes.
		if err := binary.Write(w, binary.LittleEndian, uint32(len(e.Value))); err != nil {
			file.Close()
			return "", fmt.Errorf("failed to write value length: %w", err)
		}
		if _, err := w.Write(e.Value); err != nil {
			file.Close()
			return "", fmt.Errorf("failed to write value: %w", err)
		}

		offset += rowSize

		if i == 0 {
			props.SmallestKey = bytes.Clone(e.Key)
			props.MinSeq = id
		}
		props.LargestKey = bytes.Clone(e.Key)
		props.MaxSeq = id
		props.RowCount++
	}
	props.RawDataSize = offset

	propBlock := props.encode()
	ft := footer{propOffset: offset, propLen: uint64(len(propBlock))}
	if offset+ft.propLen+uint64(footerSize) > MaxFileSize {
		file.Close()
		return "", dberrors.ErrTableTooLarge
	}

	if _, err := w.Write(propBlock); err != nil {
		file.Close()
		return "", fmt.Errorf("failed to write property block: %w", err)
	}
	if _, err := w.Write(ft.encode()); err != nil {
		file.Close()
		return "", fmt.Errorf("failed to write footer: %w", err)
	}

	if err := w.Flush(); err != nil {
		file.Close()
		return "", fmt.Errorf("failed to flush table file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return "", fmt.Errorf("failed to sync table file: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("failed to close table file: %w", err)
	}

	return path, nil
}
