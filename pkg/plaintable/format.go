package plaintable

import (
	"encoding/binary"
	"fmt"
	"math"

	"plainkv/pkg/dberrors"
	"plainkv/pkg/types"
)

// On-disk layout, little-endian throughout:
//
//	<beginning_of_file>
//	  [row 1]
//	  ...
//	  [row N]
//	  [property block]
//	  [footer]            fixed size, starts at file_size - footerSize
//	<end_of_file>
//
// A row:
//
//	[4B key length][key bytes][8B packed trailer][4B value length][value bytes]
//
// The packed trailer carries the row type tag in its top 8 bits and a 56-bit
// sequence id in the low bits. A deletion row writes value length 0 and no
// value bytes.
const (
	// PrefixLength is the number of leading key bytes the index buckets on.
	// Keys shorter than this cannot be stored or looked up.
	PrefixLength = 10

	// MaxFileSize is the format's hard limit, inherited from the plain
	// table's 32-bit offset arithmetic.
	MaxFileSize = math.MaxInt32

	// MaxSequenceID is the largest value the 56-bit sequence field can hold.
	MaxSequenceID = (uint64(1) << 56) - 1

	tableMagic    = uint64(0x706c61696e746231) // "plaintb1"
	formatVersion = uint32(1)

	// footer: [8B property offset][8B property length][4B version][8B magic]
	footerSize = 8 + 8 + 4 + 8
)

const seqMask = MaxSequenceID

func packTrailer(t RowType, seq types.SeqN) uint64 {
	return uint64(t)<<56 | seq&seqMask
}

func unpackTrailer(trailer uint64) (RowType, types.SeqN, error) {
	t, err := RowTypeFromByte(byte(trailer >> 56))
	if err != nil {
		return 0, 0, err
	}
	return t, trailer & seqMask, nil
}

// Properties is the table's trailing metadata block, letting a reader learn
// the table's shape without scanning the rows.
type Properties struct {
	RowCount    uint64
	RawDataSize uint64
	MinSeq      types.SeqN
	MaxSeq      types.SeqN
	PrefixLen   uint32
	SmallestKey types.Key
	LargestKey  types.Key
}

func (p *Properties) encode() []byte {
	buf := make([]byte, 0, 8*4+4+4+len(p.SmallestKey)+4+len(p.LargestKey))
	buf = binary.LittleEndian.AppendUint64(buf, p.RowCount)
	buf = binary.LittleEndian.AppendUint64(buf, p.RawDataSize)
	buf = binary.LittleEndian.AppendUint64(buf, p.MinSeq)
	buf = binary.LittleEndian.AppendUint64(buf, p.MaxSeq)
	buf = binary.LittleEndian.AppendUint32(buf, p.PrefixLen)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(p.SmallestKey)))
	buf = append(buf, p.SmallestKey...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(p.LargestKey)))
	buf = append(buf, p.LargestKey...)
	return buf
}

func decodeProperties(data []byte) (Properties, error) {
	var p Properties
	if len(data) < 8*4+4+4 {
		return p, fmt.Errorf("%w: property block too short", dberrors.ErrCorruptData)
	}
	p.RowCount = binary.LittleEndian.Uint64(data[0:8])
	p.RawDataSize = binary.LittleEndian.Uint64(data[8:16])
	p.MinSeq = binary.LittleEndian.Uint64(data[16:24])
	p.MaxSeq = binary.LittleEndian.Uint64(data[24:32])
	p.PrefixLen = binary.LittleEndian.Uint32(data[32:36])

	rest := data[36:]
	smallest, rest, err := takeLenPrefixed(rest)
	if err != nil {
		return p, fmt.Errorf("%w: truncated smallest key", dberrors.ErrCorruptData)
	}
	largest, _, err := takeLenPrefixed(rest)
	if err != nil {
		return p, fmt.Errorf("%w: truncated largest key", dberrors.ErrCorruptData)
	}
	p.SmallestKey = smallest
	p.LargestKey = largest
	return p, nil
}

func takeLenPrefixed(data []byte) ([]byte, []byte, error) {
	if len(data) < 4 {
		return nil, nil, dberrors.ErrCorruptData
	}
	n := binary.LittleEndian.Uint32(data)
	if uint64(len(data)-4) < uint64(n) {
		return nil, nil, dberrors.ErrCorruptData
	}
	out := make([]byte, n)
	copy(out, data[4:4+n])
	return out, data[4+n:], nil
}

type footer struct {
	propOffset uint64
	propLen    uint64
}

func (f *footer) encode() []byte {
	buf := make([]byte, 0, footerSize)
	buf = binary.LittleEndian.AppendUint64(buf, f.propOffset)
	buf = binary.LittleEndian.AppendUint64(buf, f.propLen)
	buf = binary.LittleEndian.AppendUint32(buf, formatVersion)
	buf = binary.LittleEndian.AppendUint64(buf, tableMagic)
	return buf
}

func decodeFooter(data []byte) (footer, error) {
	var f footer
	if len(data) != footerSize {
		return f, fmt.Errorf("%w: bad footer size", dberrors.ErrCorruptData)
	}
	if magic := binary.LittleEndian.Uint64(data[20:28]); magic != tableMagic {
		return f, fmt.Errorf("%w: bad magic %#x", dberrors.ErrCorruptData, magic)
	}
	if version := binary.LittleEndian.Uint32(data[16:20]); version != formatVersion {
		return f, fmt.Errorf("%w: unsupported format version %d", dberrors.ErrCorruptData, version)
	}
	f.propOffset = binary.LittleEndian.Uint64(data[0:8])
	f.propLen = binary.LittleEndian.Uint64(data[8:16])
	return f, nil
}
