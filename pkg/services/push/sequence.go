package push

import (
	"strconv"
	"sync/atomic"
)

// Sequence hands out job ids. Each runtime owns one so that independent
// instances in one process never share ids.
type Sequence struct {
	n atomic.Uint64
}

// Next returns the next id, starting at "1".
func (s *Sequence) Next() string {
	return strconv.FormatUint(s.n.Add(1), 10)
}
