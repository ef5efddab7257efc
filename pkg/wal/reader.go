package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"

	"plainkv/pkg/types"
)

// Reader decodes the entries of a WAL file in on-disk order. It is a
// forward-only, non-restartable view: a torn trailing write from an unclean
// shutdown ends the sequence silently instead of failing it.
type Reader struct {
	file *os.File
	br   *bufio.Reader
}

func OpenReader(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL for reading: %w", err)
	}
	return &Reader{file: file, br: bufio.NewReader(file)}, nil
}

// NewReader decodes entries from an arbitrary byte source.
func NewReader(src io.Reader) *Reader {
	return &Reader{br: bufio.NewReader(src)}
}

func (r *Reader) Close() error {
	if r.file == nil {
		return nil
	}
	return r.file.Close()
}

// Next returns the next entry. It returns io.EOF at the end of recoverable
// data, which includes a short read on a partially written trailing record.
// Any other I/O failure is returned as-is.
func (r *Reader) Next() (Entry, error) {
	var entry Entry

	var keyLen uint64
	if err := binary.Read(r.br, binary.LittleEndian, &keyLen); err != nil {
		return entry, eofOrErr(err)
	}

	flag, err := r.br.ReadByte()
	if err != nil {
		return entry, eofOrErr(err)
	}
	entry.Deleted = flag != 0

	var valueLen uint64
	if !entry.Deleted {
		if err := binary.Read(r.br, binary.LittleEndian, &valueLen); err != nil {
			return entry, eofOrErr(err)
		}
	}

	entry.Key = make([]byte, keyLen)
	if _, err := io.ReadFull(r.br, entry.Key); err != nil {
		return entry, eofOrErr(err)
	}

	if !entry.Deleted {
		entry.Value = make([]byte, valueLen)
		if _, err := io.ReadFull(r.br, entry.Value); err != nil {
			return entry, eofOrErr(err)
		}
	}

	var tsLo, tsHi uint64
	if err := binary.Read(r.br, binary.LittleEndian, &tsLo); err != nil {
		return entry, eofOrErr(err)
	}
	if err := binary.Read(r.br, binary.LittleEndian, &tsHi); err != nil {
		return entry, eofOrErr(err)
	}
	// The high 64 bits of the on-disk timestamp are reserved padding.
	entry.Timestamp = types.TimestampMicros(tsLo)

	return entry, nil
}

// All yields the remaining entries. Iteration consumes the reader. A clean
// end of log (io.EOF, including a torn tail) just ends the sequence; any
// other failure is yielded as the final pair so it cannot be mistaken for
// the end of the file.
func (r *Reader) All() iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		for {
			entry, err := r.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Entry{}, err)
				return
			}
			if !yield(entry, nil) {
				return
			}
		}
	}
}

// A partial record at the tail marks the natural truncation point of an
// unclean shutdown, so short reads collapse into io.EOF.
func eofOrErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return io.EOF
	}
	return fmt.Errorf("failed to read WAL entry: %w", err)
}
