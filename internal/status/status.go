// Package status tracks which kind of store operation is currently running.
//
// The tracker is a stack of status tags whose bottom entry is always Idle.
// Nested operations push on top of each other; the idle callback fires only
// when the stack unwinds back to the single Idle entry. This lets an outer
// dispatch defer its notifications until every nested commit or dispatch
// has finished.
package status

import (
	"slices"
	"sync"
)

// Status is an operation tag.
type Status string

const (
	Idle     Status = "idle"
	Reset    Status = "reset"
	Rollback Status = "rollback"
	Update   Status = "update"
	Commit   Status = "commit"
	Mutate   Status = "mutate"
	Dispatch Status = "dispatch"
)

// All returns every status tag in declaration order.
func All() []Status {
	return []Status{Idle, Reset, Rollback, Update, Commit, Mutate, Dispatch}
}

// Valid reports whether s is one of the known tags.
func (s Status) Valid() bool {
	return slices.Contains(All(), s)
}

func (s Status) String() string {
	return string(s)
}

// Tracker is the status stack.
//
// Thread-safety: Tracker methods are safe for concurrent use, but the idle
// callback runs on the goroutine that performed the final Pop, after the
// tracker lock is released.
type Tracker struct {
	mu     sync.Mutex
	stack  []Status
	onIdle func()
}

// New creates a tracker whose stack is [Idle]. onIdle may be nil.
func New(onIdle func()) *Tracker {
	return &Tracker{
		stack:  []Status{Idle},
		onIdle: onIdle,
	}
}

// Push appends s to the stack. It always succeeds.
func (t *Tracker) Push(s Status) {
	t.mu.Lock()
	t.stack = append(t.stack, s)
	t.mu.Unlock()
}

// Pop removes the top tag and returns it. Popping the sole Idle entry is a
// no-op returning ("", false).
//
// When the pop brings the stack from two entries to one, the idle callback
// fires exactly once.
func (t *Tracker) Pop() (Status, bool) {
	t.mu.Lock()
	if len(t.stack) <= 1 {
		t.mu.Unlock()
		return "", false
	}
	top := t.stack[len(t.stack)-1]
	t.stack = t.stack[:len(t.stack)-1]
	unwound := len(t.stack) == 1
	onIdle := t.onIdle
	t.mu.Unlock()

	if unwound && onIdle != nil {
		onIdle()
	}
	return top, true
}

// Current returns the top of the stack.
func (t *Tracker) Current() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stack[len(t.stack)-1]
}

// Previous returns the entry below the top, or Idle when the stack holds
// fewer than two entries.
func (t *Tracker) Previous() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.stack) < 2 {
		return Idle
	}
	return t.stack[len(t.stack)-2]
}

// Depth returns the number of active operations (stack length minus one).
func (t *Tracker) Depth() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.stack) - 1
}

// Stack returns a copy of the stack, bottom first.
func (t *Tracker) Stack() []Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.stack)
}

// Is reports whether the current status is one of statuses.
func (t *Tracker) Is(statuses ...Status) bool {
	return slices.Contains(statuses, t.Current())
}

// IsIdle reports whether no operation is running.
func (t *Tracker) IsIdle() bool {
	return t.Depth() == 0
}

// Outermost reports whether the operation on top of the stack is the only
// one running.
func (t *Tracker) Outermost() bool {
	return t.Previous() == Idle && !t.IsIdle()
}
