package dberrors

import "errors"

var (
	ErrNotFound      = errors.New("plainkv: not found")
	ErrClosed        = errors.New("plainkv: closed")
	ErrEmptyKey      = errors.New("plainkv: empty key")
	ErrKeyTooShort   = errors.New("plainkv: key shorter than prefix length")
	ErrCorruptData   = errors.New("plainkv: corrupt data")
	ErrCorruptEntry  = errors.New("plainkv: corrupt entry")
	ErrTableTooLarge = errors.New("plainkv: table file exceeds 2^31-1 bytes")
)
