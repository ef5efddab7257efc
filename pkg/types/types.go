package types

// Key is an immutable byte slice type alias used for clarity.
type Key = []byte

// Value is an immutable byte slice type alias used for clarity.
type Value = []byte

// SeqN is a monotonically increasing sequence number assigned to every row
// written to a Plain Table, used to break ties between otherwise-equal keys
// during compaction.
type SeqN = uint64

// TimestampMicros is the time a write occurred, in microseconds since the
// Unix epoch. Carried through the WAL and MemTable; ordering between
// conflicting writes is the caller's responsibility.
type TimestampMicros = uint64
