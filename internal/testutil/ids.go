package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDGenerator issues "<prefix>-0001", "<prefix>-0002", ...
//
// It satisfies store.IDGenerator and never runs out, which makes it the
// usual choice for golden traces where the number of operations is not
// known up front.
type SequentialIDGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDGenerator creates a generator. An empty prefix becomes "tx".
func NewSequentialIDGenerator(prefix string) *SequentialIDGenerator {
	if prefix == "" {
		prefix = "tx"
	}
	return &SequentialIDGenerator{prefix: prefix}
}

// Generate returns the next ID.
func (g *SequentialIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}

// Reset restarts numbering at 1.
func (g *SequentialIDGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}

// FixedIDGenerator returns the same ID every time.
type FixedIDGenerator string

// Generate returns the fixed ID.
func (g FixedIDGenerator) Generate() string {
	return string(g)
}
