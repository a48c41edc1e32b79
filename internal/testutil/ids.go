package testutil

import (
	"fmt"
	"sync/atomic"
)

// IDSequence generates predictable execution ids: prefix-1, prefix-2 and
// so on. Two runs of the same test produce identical execution logs.
//
// Thread-safety: IDSequence is safe for concurrent use.
type IDSequence struct {
	prefix string
	n      atomic.Int64
}

// NewIDSequence creates a sequence. An empty prefix means "exec".
func NewIDSequence(prefix string) *IDSequence {
	if prefix == "" {
		prefix = "exec"
	}
	return &IDSequence{prefix: prefix}
}

// Next returns the next id.
func (s *IDSequence) Next() string {
	return fmt.Sprintf("%s-%d", s.prefix, s.n.Add(1))
}
