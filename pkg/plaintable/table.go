// Package plaintable implements an immutable, sorted, on-disk key-value
// file format modeled on RocksDB's PlainTable, read through a memory map
// and a prefix-hash index.
//
// Limitations inherited from the format: no backward scans, no non-prefix
// seeks, no compression, and file sizes up to 2^31-1 bytes. Table loading
// scans the row region once at open time to build the index; after that a
// point lookup is one hash probe plus a short linear scan over rows sharing
// the key's 10-byte prefix.
package plaintable

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/spaolacci/murmur3"

	"plainkv/pkg/dberrors"
	"plainkv/pkg/types"
)

// hashPrefix buckets a key's prefix for the index. A variable so tests can
// force bucket collisions.
var hashPrefix = murmur3.Sum64

// Row is a single decoded table row.
type Row struct {
	Key   types.Key
	Type  RowType
	SeqID types.SeqN
	Value types.Value
}

// Table is a read-only view over one plain table file. Once opened it is
// safe for concurrent readers; the underlying file never changes.
type Table struct {
	path    string
	data    *mapping
	props   Properties
	dataEnd int64

	// index maps murmur3 of a key's 10-byte prefix to the offsets of the
	// first row of every prefix run hashing into that bucket. Rows with
	// equal prefixes are contiguous because the writer's input was sorted;
	// distinct prefixes may collide, so a bucket can hold several runs.
	index map[uint64][]int64

	mu     sync.RWMutex
	closed bool
}

// Open memory-maps the file at path, validates footer and property block,
// and builds the prefix index with one forward scan over the row region.
func Open(path string) (*Table, error) {
	data, err := openMapping(path)
	if err != nil {
		return nil, err
	}

	t := &Table{path: path, data: data}
	if err := t.load(); err != nil {
		data.Close()
		return nil, err
	}
	return t, nil
}

func (t *Table) load() error {
	ftBytes, err := t.data.Range(t.data.Len()-footerSize, footerSize)
	if err != nil {
		return err
	}
	ft, err := decodeFooter(ftBytes)
	if err != nil {
		return err
	}

	if ft.propOffset+ft.propLen+footerSize != uint64(t.data.Len()) {
		return fmt.Errorf("%w: footer does not account for file size", dberrors.ErrCorruptData)
	}

	propBytes, err := t.data.Range(int64(ft.propOffset), int64(ft.propLen))
	if err != nil {
		return err
	}
	t.props, err = decodeProperties(propBytes)
	if err != nil {
		return err
	}
	if t.props.PrefixLen != PrefixLength {
		return fmt.Errorf("%w: unsupported prefix length %d", dberrors.ErrCorruptData, t.props.PrefixLen)
	}

	t.dataEnd = int64(ft.propOffset)
	return t.buildIndex()
}

func (t *Table) buildIndex() error {
	t.index = make(map[uint64][]int64, t.props.RowCount)

	var rows uint64
	var prevPrefix []byte
	for off := int64(0); off < t.dataEnd; {
		key, _, next, err := t.decodeAt(off)
		if err != nil {
			return err
		}
		if len(key) < PrefixLength {
			return fmt.Errorf("%w: row key %q shorter than prefix length", dberrors.ErrCorruptData, key)
		}

		prefix := key[:PrefixLength]
		if prevPrefix == nil || !bytes.Equal(prefix, prevPrefix) {
			h := hashPrefix(prefix)
			t.index[h] = append(t.index[h], off)
			prevPrefix = bytes.Clone(prefix)
		}
		off = next
		rows++
	}

	if rows != t.props.RowCount {
		return fmt.Errorf("%w: property block claims %d rows, file holds %d",
			dberrors.ErrCorruptData, t.props.RowCount, rows)
	}
	return nil
}

// Get looks up key and returns its row. The key must be at least
// PrefixLength bytes; shorter keys are rejected with ErrKeyTooShort before
// any index access. An absent key yields ErrNotFound: either its prefix has
// no bucket at all, or the scan leaves the prefix's contiguous run.
func (t *Table) Get(key []byte) (Row, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return Row{}, dberrors.ErrClosed
	}
	if len(key) < PrefixLength {
		return Row{}, fmt.Errorf("%w: key %q", dberrors.ErrKeyTooShort, key)
	}

	prefix := key[:PrefixLength]
	starts, ok := t.index[hashPrefix(prefix)]
	if !ok {
		return Row{}, dberrors.ErrNotFound
	}

	// Each start offset begins one prefix's run; runs from colliding
	// prefixes are skipped by the prefix check at their first row.
	for _, start := range starts {
		row, err := t.scanRun(start, prefix, key)
		if err == nil || !errors.Is(err, dberrors.ErrNotFound) {
			return row, err
		}
	}
	return Row{}, dberrors.ErrNotFound
}

// scanRun walks the contiguous run of rows starting at off, returning the
// row matching key or ErrNotFound once the run's prefix no longer matches.
func (t *Table) scanRun(off int64, prefix, key []byte) (Row, error) {
	for off < t.dataEnd {
		rowKey, trailer, next, err := t.decodeAt(off)
		if err != nil {
			return Row{}, err
		}
		if len(rowKey) < PrefixLength || !bytes.Equal(rowKey[:PrefixLength], prefix) {
			break
		}
		if bytes.Equal(rowKey, key) {
			return t.materialize(off, rowKey, trailer)
		}
		off = next
	}
	return Row{}, dberrors.ErrNotFound
}

// Properties returns the table's metadata block.
func (t *Table) Properties() Properties {
	return t.props
}

// MaxSequence returns the highest sequence id written to this table, used
// to re-seed the sequence clock at startup.
func (t *Table) MaxSequence() types.SeqN {
	return t.props.MaxSeq
}

func (t *Table) Path() string {
	return t.path
}

func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	return t.data.Close()
}

// decodeAt reads the row starting at off, returning its key, packed trailer
// and the offset of the next row. The value region is validated but not
// copied; materialize does that for the row actually returned.
func (t *Table) decodeAt(off int64) (key []byte, trailer uint64, next int64, err error) {
	b, err := t.rowRange(off, 4)
	if err != nil {
		return nil, 0, 0, err
	}
	keyLen := int64(binary.LittleEndian.Uint32(b))

	key, err = t.rowRange(off+4, keyLen)
	if err != nil {
		return nil, 0, 0, err
	}

	b, err = t.rowRange(off+4+keyLen, 8)
	if err != nil {
		return nil, 0, 0, err
	}
	trailer = binary.LittleEndian.Uint64(b)

	b, err = t.rowRange(off+4+keyLen+8, 4)
	if err != nil {
		return nil, 0, 0, err
	}
	valueLen := int64(binary.LittleEndian.Uint32(b))

	if _, err = t.rowRange(off+4+keyLen+8+4, valueLen); err != nil {
		return nil, 0, 0, fmt.Errorf("%w: truncated value region", dberrors.ErrCorruptEntry)
	}

	return key, trailer, off + 4 + keyLen + 8 + 4 + valueLen, nil
}

// materialize decodes the full row at off into caller-owned memory, so the
// result stays valid after the table is closed and the mapping goes away.
func (t *Table) materialize(off int64, rowKey []byte, trailer uint64) (Row, error) {
	rowType, seqID, err := unpackTrailer(trailer)
	if err != nil {
		return Row{}, err
	}

	valueOff := off + 4 + int64(len(rowKey)) + 8
	b, err := t.rowRange(valueOff, 4)
	if err != nil {
		return Row{}, err
	}
	valueLen := int64(binary.LittleEndian.Uint32(b))

	row := Row{
		Key:   bytes.Clone(rowKey),
		Type:  rowType,
		SeqID: seqID,
	}
	if rowType != RowTypeDeletion {
		value, err := t.rowRange(valueOff+4, valueLen)
		if err != nil {
			return Row{}, fmt.Errorf("%w: truncated value region", dberrors.ErrCorruptEntry)
		}
		row.Value = bytes.Clone(value)
	}
	return row, nil
}

// rowRange bounds-checks against the row region: a row must never spill
// into the property block or footer.
func (t *Table) rowRange(off, n int64) ([]byte, error) {
	if off+n > t.dataEnd {
		return nil, fmt.Errorf("%w: row at offset %d extends past data region end %d",
			dberrors.ErrCorruptData, off, t.dataEnd)
	}
	return t.data.Range(off, n)
}
