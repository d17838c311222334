// Package binding connects a host component to a store.
//
// A component declares which fields, getters, mutations and actions it
// uses. Bind checks those names against the store, subscribes to the
// relevant notifications and exposes typed entry points for reads and
// writes. The store has no notion of a view: any number of bindings can
// share one store, and closing a binding only removes its own listeners.
package binding

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/statekeeper/internal/status"
	"github.com/roach88/statekeeper/internal/store"
	"github.com/roach88/statekeeper/internal/value"
)

// Spec declares a component's interest in a store.
type Spec struct {
	State     []string
	Getters   []string
	Mutations []string
	Actions   []string
}

// ChangeKind tells a host what to re-render.
type ChangeKind string

const (
	// ChangeField reports a new value for a declared state field.
	ChangeField ChangeKind = "field"

	// ChangeDerived reports that a declared getter may have a new value.
	// Value is set for cached getters; parameterized getters must be
	// re-queried through Derived.
	ChangeDerived ChangeKind = "derived"
)

// Change is delivered to the host's callback.
type Change struct {
	Kind     ChangeKind
	Name     string
	Value    value.Value
	Previous value.Value
	Seq      int64
	TxID     string
}

// ErrNotDeclared is returned when a binding is asked for a name its Spec
// does not list.
var ErrNotDeclared = errors.New("binding: name not declared")

// ErrBindingClosed is returned by every method after Close.
var ErrBindingClosed = errors.New("binding: closed")

// Binding is one component's connection to a store.
type Binding struct {
	s        *store.Store
	spec     Spec
	onChange func(Change)

	mu     sync.Mutex
	subs   []store.Subscription
	closed bool

	// stale is set by field events and cleared when derived changes are
	// sent. Only touched from store listeners, which never run concurrently.
	stale bool
}

// Bind validates spec against s and subscribes onChange to the declared
// fields. When spec lists getters, onChange also receives one derived change
// per getter once an operation that changed any field has settled, listener
// writes included. A nil onChange binds without notifications.
//
// onChange runs inside a store listener: it may read through the Binding
// but must not call Write, Commit or Call.
func Bind(s *store.Store, spec Spec, onChange func(Change)) (*Binding, error) {
	if s == nil {
		return nil, errors.New("binding: nil store")
	}
	if err := validate(s, spec); err != nil {
		return nil, err
	}

	b := &Binding{s: s, spec: spec, onChange: onChange}
	if onChange == nil {
		return b, nil
	}

	for _, field := range spec.State {
		if err := b.subscribe("field:"+field, b.fieldListener); err != nil {
			b.Close()
			return nil, err
		}
	}
	if len(spec.Getters) > 0 {
		if err := b.subscribe(string(store.EventField), b.markStale); err != nil {
			b.Close()
			return nil, err
		}
		if err := b.subscribe(string(store.EventIdle), b.derivedListener); err != nil {
			b.Close()
			return nil, err
		}
	}
	return b, nil
}

func validate(s *store.Store, spec Spec) error {
	var errs []error
	check := func(kind string, names []string, has func(string) bool, choices func() []string) {
		for _, n := range names {
			if !has(n) {
				errs = append(errs, &store.Error{
					Code:    store.ErrCodeMissingConstruct,
					Message: fmt.Sprintf("%s %q is not registered", kind, n),
					Kind:    kind,
					Name:    n,
					Choices: choices(),
				})
			}
		}
	}
	check("field", spec.State, s.Has, s.Keys)
	check("getter", spec.Getters, s.HasGetter, s.Getters)
	check("mutation", spec.Mutations, s.HasMutation, s.Mutations)
	check("action", spec.Actions, s.HasAction, s.Actions)
	return errors.Join(errs...)
}

func (b *Binding) subscribe(name string, l store.Listener) error {
	sub, err := b.s.Subscribe(name, l)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return nil
}

func (b *Binding) fieldListener(_ *store.Tx, ev store.Event) error {
	b.onChange(Change{
		Kind:     ChangeField,
		Name:     ev.Name,
		Value:    ev.Value,
		Previous: ev.Previous,
		Seq:      ev.Seq,
		TxID:     ev.TxID,
	})
	return nil
}

// markStale records a field change. A flush outside any operation never
// reaches idle, so derived changes are sent right away.
func (b *Binding) markStale(tx *store.Tx, ev store.Event) error {
	b.stale = true
	if tx.Status() == status.Idle {
		return b.derivedListener(tx, ev)
	}
	return nil
}

func (b *Binding) derivedListener(_ *store.Tx, ev store.Event) error {
	if !b.stale {
		return nil
	}
	b.stale = false
	for _, name := range b.spec.Getters {
		c := Change{Kind: ChangeDerived, Name: name, Seq: ev.Seq, TxID: ev.TxID}
		if !b.s.IsParameterizedGetter(name) {
			v, err := b.s.Get(name)
			if err != nil {
				return err
			}
			c.Value = v
		}
		b.onChange(c)
	}
	return nil
}

func (b *Binding) check(names []string, name string) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrBindingClosed
	}
	if !slices.Contains(names, name) {
		return fmt.Errorf("%w: %q", ErrNotDeclared, name)
	}
	return nil
}

// Read returns a copy of a declared field.
func (b *Binding) Read(field string) (value.Value, error) {
	if err := b.check(b.spec.State, field); err != nil {
		return nil, err
	}
	return b.s.Field(field), nil
}

// Write sets a declared field by committing its default setter, so the
// write is legal in strict mode and notifies like any other commit.
func (b *Binding) Write(field string, v value.Value) error {
	if err := b.check(b.spec.State, field); err != nil {
		return err
	}
	_, err := b.s.Commit(field, v)
	return err
}

// Commit runs a declared mutation.
func (b *Binding) Commit(mutation string, args ...value.Value) (value.Value, error) {
	if err := b.check(b.spec.Mutations, mutation); err != nil {
		return nil, err
	}
	return b.s.Commit(mutation, args...)
}

// Call dispatches a declared action.
func (b *Binding) Call(ctx context.Context, action string, args ...value.Value) (value.Value, error) {
	if err := b.check(b.spec.Actions, action); err != nil {
		return nil, err
	}
	return b.s.Dispatch(ctx, action, args...)
}

// Derived evaluates a declared getter.
func (b *Binding) Derived(name string, args ...value.Value) (value.Value, error) {
	if err := b.check(b.spec.Getters, name); err != nil {
		return nil, err
	}
	return b.s.Get(name, args...)
}

// Props returns the declared fields and cached getters as one object, the
// shape a host usually renders from. Parameterized getters are omitted.
func (b *Binding) Props() (value.Object, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, ErrBindingClosed
	}

	props := make(value.Object, len(b.spec.State)+len(b.spec.Getters))
	for _, f := range b.spec.State {
		props[f] = b.s.Field(f)
	}
	for _, g := range b.spec.Getters {
		if b.s.IsParameterizedGetter(g) {
			continue
		}
		v, err := b.s.Get(g)
		if err != nil {
			return nil, err
		}
		props[g] = v
	}
	return props, nil
}

// Close removes the binding's listeners. Safe to call more than once.
func (b *Binding) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.closed = true
	b.mu.Unlock()

	for _, sub := range subs {
		b.s.Unsubscribe(sub)
	}
}
