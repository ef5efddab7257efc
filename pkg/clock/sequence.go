package clock

import (
	"sync/atomic"

	"plainkv/pkg/types"
)

// Sequence hands out monotonically increasing sequence numbers for Plain
// Table rows. It is initialized from the highest sequence found across
// existing tables at startup and is safe for concurrent use.
type Sequence struct {
	atomic.Uint64
}

func NewSequence(init types.SeqN) *Sequence {
	var s Sequence
	s.Store(init)
	return &s
}

func (s *Sequence) Val() types.SeqN {
	return s.Load()
}

func (s *Sequence) Next() types.SeqN {
	return s.Add(1)
}

// RaiseTo advances the sequence to at least v. Lower values are ignored, so
// replaying tables in any order converges on the same counter.
func (s *Sequence) RaiseTo(v types.SeqN) {
	for {
		cur := s.Load()
		if cur >= v || s.CompareAndSwap(cur, v) {
			return
		}
	}
}
