package compiler

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/statekeeper/internal/declare"
	"github.com/roach88/statekeeper/internal/expr"
	"github.com/roach88/statekeeper/internal/store"
	"github.com/roach88/statekeeper/internal/value"
)

// Build turns a validated StoreSpec into a store.Definition and the options
// it asks for.
//
// Field mutations and actions go through declare.Expand and see only `value`
// and `args`. Getters, queries and listeners also see `state` and every field
// at top level. All expressions compile up front; the first compile error
// aborts the build.
func Build(spec *StoreSpec, evalOpts ...expr.Option) (store.Definition, []store.Option, error) {
	if spec == nil {
		return store.Definition{}, nil, errors.New("compiler: nil store spec")
	}
	if verrs := Validate(spec); len(verrs) > 0 {
		errs := make([]error, len(verrs))
		for i, v := range verrs {
			errs[i] = v
		}
		return store.Definition{}, nil, fmt.Errorf("store %q: %w", spec.Name, errors.Join(errs...))
	}

	ev, err := expr.New(spec.Options.Language, evalOpts...)
	if err != nil {
		return store.Definition{}, nil, err
	}

	b := &builder{ev: ev, vars: spec.FieldNames()}

	fields := make(map[string]declare.Field, len(spec.Fields))
	for _, f := range spec.Fields {
		df := declare.Field{
			Default:   f.Default,
			Mutations: make(map[string]declare.FieldMutation, len(f.Mutations)),
			Actions:   make(map[string]declare.FieldAction, len(f.Actions)),
		}
		for name, src := range f.Mutations {
			p, err := b.compile(fmt.Sprintf("fields.%s.mutations.%s", f.Name, name), src, false)
			if err != nil {
				return store.Definition{}, nil, err
			}
			df.Mutations[name] = fieldMutation(p)
		}
		for name, src := range f.Actions {
			p, err := b.compile(fmt.Sprintf("fields.%s.actions.%s", f.Name, name), src, false)
			if err != nil {
				return store.Definition{}, nil, err
			}
			df.Actions[name] = fieldAction(p)
		}
		fields[f.Name] = df
	}

	def, err := declare.Expand(fields)
	if err != nil {
		return store.Definition{}, nil, err
	}

	def.Getters = make(map[string]store.Getter, len(spec.Getters)+len(spec.Queries))
	for name, src := range spec.Getters {
		p, err := b.compile("getters."+name, src, true)
		if err != nil {
			return store.Definition{}, nil, err
		}
		def.Getters[name] = store.Cached(func(v store.View) (value.Value, error) {
			return expr.Run(p, expr.NewEnv(nil, nil, v.Object()))
		})
	}
	for name, src := range spec.Queries {
		p, err := b.compile("queries."+name, src, true)
		if err != nil {
			return store.Definition{}, nil, err
		}
		def.Getters[name] = store.Parameterized(func(v store.View, args ...value.Value) (value.Value, error) {
			return expr.Run(p, expr.NewEnv(nil, args, v.Object()))
		})
	}

	def.Events = make(map[string]store.Listener, len(spec.Listeners))
	for topic, l := range spec.Listeners {
		p, err := b.compile("events."+topic+".to", l.To, true)
		if err != nil {
			return store.Definition{}, nil, err
		}
		def.Events[topic] = listener(l.Set, p)
	}

	opts, err := storeOptions(spec.Options)
	if err != nil {
		return store.Definition{}, nil, err
	}
	return def, opts, nil
}

type builder struct {
	ev   expr.Evaluator
	vars []string
}

// compile wraps compile failures in a CompileError naming the construct.
func (b *builder) compile(field, src string, withState bool) (expr.Program, error) {
	var vars []string
	if withState {
		vars = b.vars
	}
	p, err := b.ev.Compile(src, vars...)
	if err != nil {
		return nil, &CompileError{Field: field, Message: err.Error()}
	}
	return p, nil
}

func fieldMutation(p expr.Program) declare.FieldMutation {
	return func(cur value.Value, args ...value.Value) (value.Value, error) {
		return expr.Run(p, expr.NewEnv(cur, args, nil))
	}
}

func fieldAction(p expr.Program) declare.FieldAction {
	return func(ctx context.Context, cur value.Value, args ...value.Value) (value.Value, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return expr.Run(p, expr.NewEnv(cur, args, nil))
	}
}

// listener evaluates p against the notification and writes the result into
// target. The store flushes the write after the listener returns.
func listener(target string, p expr.Program) store.Listener {
	return func(tx *store.Tx, ev store.Event) error {
		st := tx.Stage()
		next, err := expr.Run(p, expr.NewEnv(ev.Value, ev.Args, st.Object()))
		if err != nil {
			return err
		}
		return st.Set(target, next)
	}
}

func storeOptions(o Options) ([]store.Option, error) {
	mode, err := store.ParseMode(o.Mode)
	if err != nil {
		return nil, err
	}
	opts := []store.Option{
		store.WithRecurse(o.Recurse),
		store.WithMode(mode),
	}
	if o.MaxDepth > 0 {
		opts = append(opts, store.WithMaxDepth(o.MaxDepth))
	}
	return opts, nil
}
