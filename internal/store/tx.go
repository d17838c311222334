package store

import (
	"context"

	"github.com/roach88/statekeeper/internal/status"
	"github.com/roach88/statekeeper/internal/value"
)

// Tx is the handle actions and listeners use to reach the store while the
// operation lock is held. It is only valid for the duration of the call it
// was handed to.
type Tx struct {
	s *Store
}

// Stage returns the live working copy.
func (tx *Tx) Stage() *Stage {
	return tx.s.stageView
}

// State returns a deep copy of the committed state. Staged changes of the
// running operation are not visible until it is flushed.
func (tx *Tx) State() value.Object {
	return tx.s.State()
}

// Commit runs a mutation. Inside an action it only writes the stage; the
// outermost operation flushes and publishes.
func (tx *Tx) Commit(name string, args ...value.Value) (value.Value, error) {
	return tx.s.commit(name, args)
}

// Dispatch runs a nested action.
func (tx *Tx) Dispatch(ctx context.Context, name string, args ...value.Value) (value.Value, error) {
	return tx.s.dispatch(ctx, name, args)
}

// Apply is sugar for Dispatch.
func (tx *Tx) Apply(ctx context.Context, name string, args ...value.Value) (value.Value, error) {
	return tx.s.dispatch(ctx, name, args)
}

// Get evaluates a getter against committed state.
func (tx *Tx) Get(name string, args ...value.Value) (value.Value, error) {
	return tx.s.Get(name, args...)
}

// TxID returns the ID of the outermost running operation.
func (tx *Tx) TxID() string {
	return tx.s.txID
}

// Depth returns the number of nested operations currently running.
func (tx *Tx) Depth() int {
	return tx.s.tracker.Depth()
}

// Status returns the current operation status.
func (tx *Tx) Status() status.Status {
	return tx.s.tracker.Current()
}
