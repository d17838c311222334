package declare

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/statekeeper/internal/store"
	"github.com/roach88/statekeeper/internal/testutil"
	"github.com/roach88/statekeeper/internal/value"
)

func asInt(v value.Value) value.Int {
	n, _ := v.(value.Int)
	return n
}

func declaredCounter() map[string]Field {
	return map[string]Field{
		"count": {
			Default: value.Int(0),
			Mutations: map[string]FieldMutation{
				"increment": func(cur value.Value, _ ...value.Value) (value.Value, error) {
					return asInt(cur) + 1, nil
				},
				"add": func(cur value.Value, args ...value.Value) (value.Value, error) {
					return asInt(cur) + asInt(args[0]), nil
				},
			},
			Actions: map[string]FieldAction{
				"addTwice": func(_ context.Context, cur value.Value, args ...value.Value) (value.Value, error) {
					return asInt(cur) + 2*asInt(args[0]), nil
				},
			},
		},
		"label": {Default: value.String("clicks")},
	}
}

func explicitCounter() store.Definition {
	return store.Definition{
		State: value.Object{"count": value.Int(0), "label": value.String("clicks")},
		Mutations: map[string]store.Mutation{
			"increment": func(st *store.Stage, _ ...value.Value) (value.Value, error) {
				next := asInt(st.Get("count")) + 1
				return next, st.Set("count", next)
			},
			"add": func(st *store.Stage, args ...value.Value) (value.Value, error) {
				next := asInt(st.Get("count")) + asInt(args[0])
				return next, st.Set("count", next)
			},
		},
		Actions: map[string]store.Action{
			"addTwice": func(_ context.Context, tx *store.Tx, args ...value.Value) (value.Value, error) {
				next := asInt(tx.Stage().Get("count")) + 2*asInt(args[0])
				return tx.Commit("count", next)
			},
		},
	}
}

func deterministicStore(t *testing.T, def store.Definition) *store.Store {
	t.Helper()
	s, err := store.New(def,
		store.WithLogger(testutil.DiscardLogger()),
		store.WithClock(testutil.NewDeterministicClock()),
		store.WithIDGenerator(testutil.NewSequentialIDGenerator("tx")),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// runScenario drives s through a fixed sequence and returns every event.
func runScenario(t *testing.T, s *store.Store) []store.Event {
	t.Helper()
	var events []store.Event
	for _, name := range store.GlobalEvents() {
		_, err := s.Subscribe(name, func(_ *store.Tx, ev store.Event) error {
			events = append(events, ev)
			return nil
		})
		require.NoError(t, err)
	}
	_, err := s.Subscribe("count", func(_ *store.Tx, ev store.Event) error {
		events = append(events, ev)
		return nil
	})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = s.Commit("increment")
	require.NoError(t, err)
	_, err = s.Commit("add", value.Int(5))
	require.NoError(t, err)
	res, err := s.Dispatch(ctx, "addTwice", value.Int(3))
	require.NoError(t, err)
	assert.Equal(t, value.Int(12), res)
	_, err = s.Commit("label", value.String("taps"))
	require.NoError(t, err)
	require.NoError(t, s.Reset("count"))
	return events
}

func TestExpand_EquivalentToExplicitDefinition(t *testing.T) {
	def, err := Expand(declaredCounter())
	require.NoError(t, err)

	declared := deterministicStore(t, def)
	explicit := deterministicStore(t, explicitCounter())

	assert.Equal(t, explicit.Mutations(), declared.Mutations())
	assert.Equal(t, explicit.Actions(), declared.Actions())

	got := runScenario(t, declared)
	want := runScenario(t, explicit)

	require.NotEmpty(t, want)
	assert.Equal(t, want, got)
	assert.Equal(t, explicit.State(), declared.State())
	assert.Equal(t, value.Object{"count": value.Int(0), "label": value.String("taps")}, declared.State())
}

func TestExpand_ActionRollsBackOnLaterFailure(t *testing.T) {
	def, err := Expand(declaredCounter())
	require.NoError(t, err)
	def.Actions["addThenFail"] = func(ctx context.Context, tx *store.Tx, args ...value.Value) (value.Value, error) {
		if _, err := tx.Dispatch(ctx, "addTwice", args...); err != nil {
			return nil, err
		}
		return nil, errors.New("boom")
	}

	s := deterministicStore(t, def)
	_, err = s.Dispatch(context.Background(), "addThenFail", value.Int(4))
	require.EqualError(t, err, "boom")
	assert.Equal(t, value.Int(0), s.Field("count"))
}

func TestExpand_MutationErrorPropagates(t *testing.T) {
	def, err := Expand(map[string]Field{
		"n": {
			Default: value.Int(1),
			Mutations: map[string]FieldMutation{
				"fail": func(value.Value, ...value.Value) (value.Value, error) {
					return nil, errors.New("nope")
				},
			},
		},
	})
	require.NoError(t, err)

	s := deterministicStore(t, def)
	_, err = s.Commit("fail")
	require.EqualError(t, err, "nope")
	assert.Equal(t, value.Int(1), s.Field("n"))
}

func TestExpand_NilDefaultBecomesNull(t *testing.T) {
	def, err := Expand(map[string]Field{"empty": {}})
	require.NoError(t, err)
	assert.Equal(t, value.Null{}, def.State["empty"])
}

func TestExpand_DuplicateNamesAcrossFields(t *testing.T) {
	inc := func(cur value.Value, _ ...value.Value) (value.Value, error) { return cur, nil }
	_, err := Expand(map[string]Field{
		"a": {Mutations: map[string]FieldMutation{"bump": inc}},
		"b": {Mutations: map[string]FieldMutation{"bump": inc}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `mutation "bump" of field "b"`)
	assert.Contains(t, err.Error(), `already used by field "a"`)
}

func TestExpand_MutationAndActionShareName(t *testing.T) {
	_, err := Expand(map[string]Field{
		"a": {
			Mutations: map[string]FieldMutation{
				"go": func(cur value.Value, _ ...value.Value) (value.Value, error) { return cur, nil },
			},
			Actions: map[string]FieldAction{
				"go": func(_ context.Context, cur value.Value, _ ...value.Value) (value.Value, error) { return cur, nil },
			},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `action "go"`)
}

func TestExpand_MutationShadowingSetter(t *testing.T) {
	_, err := Expand(map[string]Field{
		"a": {Mutations: map[string]FieldMutation{
			"b": func(cur value.Value, _ ...value.Value) (value.Value, error) { return cur, nil },
		}},
		"b": {},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shadows the default setter")
}

func TestExpand_NilFunctions(t *testing.T) {
	_, err := Expand(map[string]Field{
		"a": {
			Mutations: map[string]FieldMutation{"m": nil},
			Actions:   map[string]FieldAction{"x": nil},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `mutation "m"`)
	assert.Contains(t, err.Error(), `action "x"`)
}

func TestMerge(t *testing.T) {
	counter, err := Expand(declaredCounter())
	require.NoError(t, err)

	extra := store.Definition{
		State: value.Object{"user": value.Object{"name": value.String("ada")}},
		Getters: map[string]store.Getter{
			"name": store.Cached(func(v store.View) (value.Value, error) {
				return v.Get("user").(value.Object)["name"], nil
			}),
		},
	}

	merged, err := Merge(counter, extra)
	require.NoError(t, err)

	s := deterministicStore(t, merged)
	assert.Equal(t, []string{"count", "label", "user"}, s.Keys())

	got, err := s.Get("name")
	require.NoError(t, err)
	assert.Equal(t, value.String("ada"), got)

	_, err = s.Commit("increment")
	require.NoError(t, err)
	assert.Equal(t, value.Int(1), s.Field("count"))
}

func TestMerge_Duplicates(t *testing.T) {
	a := store.Definition{
		State:   value.Object{"x": value.Int(1)},
		Actions: map[string]store.Action{"go": func(context.Context, *store.Tx, ...value.Value) (value.Value, error) { return nil, nil }},
	}
	b := store.Definition{
		State:   value.Object{"x": value.Int(2)},
		Actions: map[string]store.Action{"go": func(context.Context, *store.Tx, ...value.Value) (value.Value, error) { return nil, nil }},
	}

	_, err := Merge(a, b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `definition 1: duplicate field "x"`)
	assert.Contains(t, err.Error(), `definition 1: duplicate action "go"`)
}

func TestMerge_Empty(t *testing.T) {
	merged, err := Merge()
	require.NoError(t, err)
	assert.Empty(t, merged.State)
	assert.Empty(t, merged.Mutations)
}
