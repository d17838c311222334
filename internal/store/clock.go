package store

import "sync/atomic"

// Clock stamps every published event with a strictly increasing sequence
// number. Implemented by LogicalClock and testutil.DeterministicClock.
type Clock interface {
	Next() int64
	Current() int64
}

// LogicalClock is a monotonic logical clock for event ordering.
//
// Events are ordered by seq, never by wall-clock time, so a replayed scenario
// produces identical traces.
//
// Thread-safety: LogicalClock is safe for concurrent use (atomic operations).
type LogicalClock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *LogicalClock {
	return &LogicalClock{}
}

// NewClockAt creates a clock starting at a specific sequence number.
func NewClockAt(start int64) *LogicalClock {
	c := &LogicalClock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
func (c *LogicalClock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *LogicalClock) Current() int64 {
	return c.seq.Load()
}
