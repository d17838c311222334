// Package testutil holds deterministic helpers shared by statekeeper tests:
// a resettable sequence clock, predictable transaction IDs and a discard
// logger.
package testutil

import "sync"

// DeterministicClock is a resettable sequence clock.
//
// It satisfies store.Clock. Unlike store.LogicalClock it can be rewound with
// Reset, so one scenario can run repeatedly with identical event seqs.
type DeterministicClock struct {
	mu  sync.Mutex
	seq int64
}

// NewDeterministicClock creates a clock whose first Next returns 1.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{}
}

// Next increments and returns the sequence number.
func (c *DeterministicClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Current returns the last issued sequence number.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Reset rewinds the clock to 0.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}
