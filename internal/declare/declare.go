// Package declare expands per-field declarations into a store.Definition.
//
// A field declaration groups a default value with the mutations and actions
// that only touch that field:
//
//	declare.Expand(map[string]declare.Field{
//		"count": {
//			Default: value.Int(0),
//			Mutations: map[string]declare.FieldMutation{
//				"increment": func(cur value.Value, _ ...value.Value) (value.Value, error) {
//					n, _ := cur.(value.Int)
//					return n + 1, nil
//				},
//			},
//		},
//	})
//
// Expansion happens once, at construction time. The resulting store behaves
// exactly like one built from the equivalent explicit Definition.
package declare

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/statekeeper/internal/store"
	"github.com/roach88/statekeeper/internal/value"
)

// FieldMutation computes a field's next value from its current staged value.
type FieldMutation func(cur value.Value, args ...value.Value) (value.Value, error)

// FieldAction computes a field's next value and may block.
type FieldAction func(ctx context.Context, cur value.Value, args ...value.Value) (value.Value, error)

// Field declares one state field.
type Field struct {
	Default   value.Value
	Mutations map[string]FieldMutation
	Actions   map[string]FieldAction
}

// Expand turns fields into a Definition.
//
// Each mutation becomes stage[field] = fn(stage[field], args...). Each action
// computes the new value from the staged one and commits it through the
// field's default setter, so it is rolled back like any other action when a
// later step fails.
//
// Names must be unique across all fields. A mutation may not take the name of
// a field because it would replace that field's default setter.
func Expand(fields map[string]Field) (store.Definition, error) {
	def := store.Definition{
		State:     make(value.Object, len(fields)),
		Mutations: make(map[string]store.Mutation),
		Actions:   make(map[string]store.Action),
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	owner := make(map[string]string)
	var errs []error
	claim := func(kind, name, field string) bool {
		if prev, ok := owner[name]; ok {
			errs = append(errs, fmt.Errorf("%s %q of field %q: name already used by field %q", kind, name, field, prev))
			return false
		}
		if _, isField := fields[name]; isField && kind == "mutation" {
			errs = append(errs, fmt.Errorf("mutation %q of field %q: shadows the default setter of field %q", name, field, name))
			return false
		}
		owner[name] = field
		return true
	}

	for _, field := range names {
		f := fields[field]
		def.State[field] = orNull(f.Default)

		for _, m := range sortedNames(f.Mutations) {
			fn := f.Mutations[m]
			if fn == nil {
				errs = append(errs, fmt.Errorf("mutation %q of field %q: nil function", m, field))
				continue
			}
			if claim("mutation", m, field) {
				def.Mutations[m] = fieldMutation(field, fn)
			}
		}
		for _, a := range sortedNames(f.Actions) {
			fn := f.Actions[a]
			if fn == nil {
				errs = append(errs, fmt.Errorf("action %q of field %q: nil function", a, field))
				continue
			}
			if claim("action", a, field) {
				def.Actions[a] = fieldAction(field, fn)
			}
		}
	}

	if len(errs) > 0 {
		return store.Definition{}, errors.Join(errs...)
	}
	return def, nil
}

// Merge combines definitions into one. A state field, mutation, action,
// getter or listener defined twice is an error.
func Merge(defs ...store.Definition) (store.Definition, error) {
	out := store.Definition{
		State:     value.Object{},
		Mutations: map[string]store.Mutation{},
		Actions:   map[string]store.Action{},
		Getters:   map[string]store.Getter{},
		Events:    map[string]store.Listener{},
	}

	var errs []error
	for i, d := range defs {
		for k, v := range d.State {
			if _, dup := out.State[k]; dup {
				errs = append(errs, fmt.Errorf("definition %d: duplicate field %q", i, k))
				continue
			}
			out.State[k] = v
		}
		errs = mergeInto(out.Mutations, d.Mutations, i, "mutation", errs)
		errs = mergeInto(out.Actions, d.Actions, i, "action", errs)
		errs = mergeInto(out.Getters, d.Getters, i, "getter", errs)
		errs = mergeInto(out.Events, d.Events, i, "listener", errs)
	}
	if len(errs) > 0 {
		return store.Definition{}, errors.Join(errs...)
	}
	return out, nil
}

func mergeInto[T any](dst, src map[string]T, idx int, kind string, errs []error) []error {
	for _, k := range sortedNames(src) {
		if _, dup := dst[k]; dup {
			errs = append(errs, fmt.Errorf("definition %d: duplicate %s %q", idx, kind, k))
			continue
		}
		dst[k] = src[k]
	}
	return errs
}

func fieldMutation(field string, fn FieldMutation) store.Mutation {
	return func(st *store.Stage, args ...value.Value) (value.Value, error) {
		next, err := fn(st.Get(field), args...)
		if err != nil {
			return nil, err
		}
		next = orNull(next)
		if err := st.Set(field, next); err != nil {
			return nil, err
		}
		return next, nil
	}
}

func fieldAction(field string, fn FieldAction) store.Action {
	return func(ctx context.Context, tx *store.Tx, args ...value.Value) (value.Value, error) {
		next, err := fn(ctx, tx.Stage().Get(field), args...)
		if err != nil {
			return nil, err
		}
		return tx.Commit(field, orNull(next))
	}
}

func orNull(v value.Value) value.Value {
	if v == nil {
		return value.Null{}
	}
	return v
}

func sortedNames[T any](m map[string]T) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
