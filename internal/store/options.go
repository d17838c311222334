package store

import (
	"fmt"
	"log/slog"
)

// Mode controls whether Set may write state directly.
type Mode string

const (
	// ModeTransactional routes Set through a single-field commit with full
	// notifications. This is the default.
	ModeTransactional Mode = "transactional"

	// ModeStrict rejects writes made outside a mutation, action, reset or
	// listener with ILLEGAL_DIRECT_MUTATION.
	ModeStrict Mode = "strict"
)

// ParseMode converts a configuration string into a Mode.
// The empty string yields ModeTransactional.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeTransactional:
		return ModeTransactional, nil
	case ModeStrict:
		return ModeStrict, nil
	default:
		return "", fmt.Errorf("unknown store mode %q (valid: %s, %s)", s, ModeTransactional, ModeStrict)
	}
}

type config struct {
	recurse  bool
	mode     Mode
	logger   *slog.Logger
	clock    Clock
	ids      IDGenerator
	maxDepth int
}

func defaultConfig() config {
	return config{
		mode:     ModeTransactional,
		maxDepth: DefaultMaxDepth,
	}
}

// Option configures a Store.
type Option func(*config)

// WithRecurse selects the flush strategy.
//
// With recurse, every stage field is deep-cloned into state on each flush.
// Without it (the default) only fields that differ are cloned, while fields
// whose initial value was an object still get a new revision on every flush.
func WithRecurse(recurse bool) Option {
	return func(c *config) {
		c.recurse = recurse
	}
}

// WithMode sets the direct-write policy. Default: ModeTransactional.
func WithMode(mode Mode) Option {
	return func(c *config) {
		c.mode = mode
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithClock sets the event sequence clock. Default: a fresh LogicalClock.
func WithClock(clock Clock) Option {
	return func(c *config) {
		c.clock = clock
	}
}

// WithIDGenerator sets the transaction ID generator. Default: UUIDv7Generator.
func WithIDGenerator(ids IDGenerator) Option {
	return func(c *config) {
		c.ids = ids
	}
}

// WithMaxDepth bounds nested operations and nested listener invocations.
//
// Default: 256 (DefaultMaxDepth). Zero or a negative value disables the limit.
func WithMaxDepth(depth int) Option {
	return func(c *config) {
		c.maxDepth = depth
	}
}
