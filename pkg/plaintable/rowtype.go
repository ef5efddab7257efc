package plaintable

import (
	"fmt"

	"plainkv/pkg/dberrors"
)

// RowType tags what kind of row was written. Merge is reserved for a future
// merge-operator and never produced today.
type RowType uint8

const (
	RowTypeDeletion RowType = 0
	RowTypeValue    RowType = 1
	RowTypeMerge    RowType = 2
)

// RowTypeFromByte converts a stored tag byte into a RowType. An unknown tag
// is corrupt data, never a panic.
func RowTypeFromByte(b byte) (RowType, error) {
	switch b {
	case 0:
		return RowTypeDeletion, nil
	case 1:
		return RowTypeValue, nil
	case 2:
		return RowTypeMerge, nil
	default:
		return 0, fmt.Errorf("%w: unknown row type tag %d", dberrors.ErrCorruptData, b)
	}
}

func (t RowType) String() string {
	switch t {
	case RowTypeDeletion:
		return "deletion"
	case RowTypeValue:
		return "value"
	case RowTypeMerge:
		return "merge"
	default:
		return fmt.Sprintf("rowtype(%d)", uint8(t))
	}
}
