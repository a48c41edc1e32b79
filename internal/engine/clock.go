package engine

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/roach88/navq/internal/store"
)

// Clock stamps execution log entries with a logical sequence number, so
// the log reads in execution order whatever the wall-clock resolution.
// A Clock may be shared by concurrent executors.
type Clock struct {
	seq atomic.Int64
}

// NewClock returns a clock whose first stamp is 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt returns a clock whose first stamp is start+1.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// ResumeClock returns a clock continuing the execution log of s.
func ResumeClock(ctx context.Context, s *store.Store) (*Clock, error) {
	last, err := s.LastSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("resume clock: %w", err)
	}
	return NewClockAt(last), nil
}

// Next advances the clock and returns the new stamp.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last stamp handed out, 0 before the first.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
