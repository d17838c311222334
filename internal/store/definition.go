package store

import (
	"context"

	"github.com/roach88/statekeeper/internal/value"
)

// Mutation is a synchronous state transition run against the stage.
// Mutations must not block or perform I/O.
type Mutation func(st *Stage, args ...value.Value) (value.Value, error)

// Action is the entry point for changes that may wrap several mutations,
// nested actions or external work. It may block; the store stays locked
// for its whole duration.
type Action func(ctx context.Context, tx *Tx, args ...value.Value) (value.Value, error)

// Listener receives notifications. After it returns, the engine flushes the
// stage into state without publishing a commit event, so a listener may
// write through tx.Stage().
type Listener func(tx *Tx, ev Event) error

// Definition describes the constructs a store is built from, or the partial
// set merged in by Register.
type Definition struct {
	State     value.Object
	Mutations map[string]Mutation
	Actions   map[string]Action
	Getters   map[string]Getter
	Events    map[string]Listener
}

// setter builds the default mutation for field: it writes args[0], or Null
// when called without arguments.
func setter(field string) Mutation {
	return func(st *Stage, args ...value.Value) (value.Value, error) {
		var v value.Value = value.Null{}
		if len(args) > 0 && args[0] != nil {
			v = args[0]
		}
		if err := st.Set(field, v); err != nil {
			return nil, err
		}
		return v, nil
	}
}
