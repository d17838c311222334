package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/statekeeper/internal/status"
	"github.com/roach88/statekeeper/internal/value"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T, def Definition, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	s, err := New(def, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func increment(st *Stage, args ...value.Value) (value.Value, error) {
	n, _ := st.Get("count").(value.Int)
	if err := st.Set("count", n+1); err != nil {
		return nil, err
	}
	return n + 1, nil
}

func counterDef() Definition {
	return Definition{
		State: value.Object{"count": value.Int(0)},
		Mutations: map[string]Mutation{
			"increment": increment,
		},
		Getters: map[string]Getter{
			"doubled": Cached(func(v View) (value.Value, error) {
				n, _ := v.Get("count").(value.Int)
				return n * 2, nil
			}),
			"plus": Parameterized(func(v View, args ...value.Value) (value.Value, error) {
				n, _ := v.Get("count").(value.Int)
				add, _ := args[0].(value.Int)
				return n + add, nil
			}),
		},
	}
}

// recorder collects events published on the subscribed names.
type recorder struct {
	events []Event
}

func (r *recorder) listener(tx *Tx, ev Event) error {
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) types() []string {
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		if ev.Name != "" {
			out[i] = string(ev.Type) + ":" + ev.Name
		} else {
			out[i] = string(ev.Type)
		}
	}
	return out
}

func (r *recorder) count(t EventType) int {
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func record(t *testing.T, s *Store, names ...string) *recorder {
	t.Helper()
	r := &recorder{}
	for _, name := range names {
		_, err := s.Subscribe(name, r.listener)
		require.NoError(t, err)
	}
	return r
}

func TestNew_ClonesStateIndependently(t *testing.T) {
	initial := value.Object{
		"user": value.Object{"name": value.String("ada")},
	}
	s := newTestStore(t, Definition{State: initial})

	initial["user"].(value.Object)["name"] = value.String("changed")

	assert.Equal(t, value.String("ada"), s.Field("user").(value.Object)["name"])
	assert.Equal(t, value.String("ada"), s.Backup()["user"].(value.Object)["name"])

	// Reads hand out copies.
	s.Field("user").(value.Object)["name"] = value.String("leaked")
	assert.Equal(t, value.String("ada"), s.Field("user").(value.Object)["name"])
}

func TestNew_SynthesizesDefaultSetters(t *testing.T) {
	s := newTestStore(t, Definition{
		State: value.Object{"a": value.Int(1), "b": value.Int(2)},
		Mutations: map[string]Mutation{
			"b": func(st *Stage, args ...value.Value) (value.Value, error) {
				return nil, st.Set("b", value.String("explicit"))
			},
		},
	})

	assert.Equal(t, []string{"a", "b"}, s.Mutations())

	_, err := s.Commit("a", value.Int(42))
	require.NoError(t, err)
	assert.Equal(t, value.Int(42), s.Field("a"))

	_, err = s.Commit("b", value.Int(7))
	require.NoError(t, err)
	assert.Equal(t, value.String("explicit"), s.Field("b"), "explicit mutation wins over default setter")
}

func TestNew_RejectsNilConstructs(t *testing.T) {
	_, err := New(Definition{
		Mutations: map[string]Mutation{"m": nil},
		Getters:   map[string]Getter{"g": {}},
	}, WithLogger(quietLogger()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `mutation "m" is nil`)
	assert.Contains(t, err.Error(), `getter "g" has no function`)
}

func TestNew_RejectsUnknownMode(t *testing.T) {
	_, err := New(Definition{}, WithMode("lenient"))
	require.Error(t, err)
}

func TestNew_UnknownEventFails(t *testing.T) {
	_, err := New(Definition{
		State:  value.Object{"count": value.Int(0)},
		Events: map[string]Listener{"nope": func(tx *Tx, ev Event) error { return nil }},
	}, WithLogger(quietLogger()))
	require.Error(t, err)
	assert.True(t, IsInvalidSubscription(err))
}

func TestCommit_Basic(t *testing.T) {
	s := newTestStore(t, counterDef())

	res, err := s.Commit("increment")
	require.NoError(t, err)
	assert.Equal(t, value.Int(1), res)
	assert.Equal(t, value.Int(1), s.Field("count"))
	assert.Equal(t, status.Idle, s.Status())
}

func TestCommit_MissingConstruct(t *testing.T) {
	s := newTestStore(t, counterDef())

	_, err := s.Commit("nope")
	require.Error(t, err)
	assert.True(t, IsMissingConstruct(err))

	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "mutation", se.Kind)
	assert.Equal(t, "nope", se.Name)
	assert.Equal(t, []string{"count", "increment"}, se.Choices)
}

func TestCommit_ErrorRollsBackAndIsNotWrapped(t *testing.T) {
	boom := errors.New("boom")
	def := counterDef()
	def.Mutations["broken"] = func(st *Stage, args ...value.Value) (value.Value, error) {
		_ = st.Set("count", value.Int(100))
		return nil, boom
	}
	s := newTestStore(t, def)
	rec := record(t, s, "rollback", "commit")

	_, err := s.Commit("broken")
	assert.Same(t, boom, err)
	assert.Equal(t, value.Int(0), s.Field("count"))
	assert.Equal(t, []string{"rollback"}, rec.types())
}

func TestEventOrder_Commit(t *testing.T) {
	s := newTestStore(t, counterDef())
	rec := record(t, s, "count", "commit", "mutate", "mutate:increment", "dispatch", "idle")

	_, err := s.Commit("increment")
	require.NoError(t, err)

	assert.Equal(t, []string{"field:count", "commit", "mutate:increment", "mutate:increment", "idle"}, rec.types())

	field := rec.events[0]
	assert.Equal(t, value.Int(1), field.Value)
	assert.Equal(t, value.Int(0), field.Previous)
	assert.Equal(t, value.Array{value.String("count")}, rec.events[1].Value)

	// The mutate event is delivered to both topics with one seq.
	assert.Equal(t, rec.events[2].Seq, rec.events[3].Seq)
	assert.Less(t, rec.events[0].Seq, rec.events[1].Seq)
	assert.Less(t, rec.events[1].Seq, rec.events[2].Seq)
	assert.Less(t, rec.events[3].Seq, rec.events[4].Seq)
}

func TestEvents_CarryTxID(t *testing.T) {
	s := newTestStore(t, counterDef(), WithIDGenerator(NewFixedGenerator("tx-1", "tx-2")))
	rec := record(t, s, "commit", "idle")

	_, err := s.Commit("increment")
	require.NoError(t, err)
	_, err = s.Commit("increment")
	require.NoError(t, err)

	require.Len(t, rec.events, 4)
	assert.Equal(t, "tx-1", rec.events[0].TxID)
	assert.Equal(t, "tx-1", rec.events[1].TxID)
	assert.Equal(t, "tx-2", rec.events[2].TxID)
	assert.Equal(t, "tx-2", rec.events[3].TxID)
}

func TestMutateEvent_CarriesArgsAndResult(t *testing.T) {
	s := newTestStore(t, counterDef())
	rec := record(t, s, "mutate")

	_, err := s.Commit("count", value.Int(9))
	require.NoError(t, err)

	require.Len(t, rec.events, 1)
	assert.Equal(t, "count", rec.events[0].Name)
	assert.Equal(t, []value.Value{value.Int(9)}, rec.events[0].Args)
	assert.Equal(t, value.Int(9), rec.events[0].Value)
}

// Property: a failing action leaves state exactly as before, whatever the
// number of staged mutations.
func TestDispatch_RollbackAtomicity(t *testing.T) {
	boom := errors.New("boom")

	for n := 1; n <= 5; n++ {
		def := counterDef()
		def.State["other"] = value.String("x")
		def.Actions = map[string]Action{
			"fail": func(ctx context.Context, tx *Tx, args ...value.Value) (value.Value, error) {
				for i := 0; i < n; i++ {
					if _, err := tx.Commit("increment"); err != nil {
						return nil, err
					}
				}
				if err := tx.Stage().Set("other", value.String("y")); err != nil {
					return nil, err
				}
				return nil, boom
			},
		}
		s := newTestStore(t, def)
		before := s.State()

		_, err := s.Dispatch(context.Background(), "fail")
		require.ErrorIs(t, err, boom)
		assert.True(t, value.Equal(before, s.State()), "n=%d: state must be unchanged", n)
		assert.Equal(t, status.Idle, s.Status())
	}
}

func TestDispatch_PanicRollsBackAndRepanics(t *testing.T) {
	def := counterDef()
	def.Actions = map[string]Action{
		"explode": func(ctx context.Context, tx *Tx, args ...value.Value) (value.Value, error) {
			_, _ = tx.Commit("increment")
			panic("kaboom")
		},
	}
	s := newTestStore(t, def)

	assert.PanicsWithValue(t, "kaboom", func() {
		_, _ = s.Dispatch(context.Background(), "explode")
	})

	assert.Equal(t, value.Int(0), s.Field("count"))
	assert.Equal(t, []status.Status{status.Idle}, s.Stack())

	// The store is still usable.
	_, err := s.Commit("increment")
	require.NoError(t, err)
	assert.Equal(t, value.Int(1), s.Field("count"))
}

func TestDispatch_MissingConstruct(t *testing.T) {
	s := newTestStore(t, counterDef())

	_, err := s.Dispatch(context.Background(), "nope")
	assert.True(t, IsMissingConstruct(err))
}

func TestDispatch_CancelledContext(t *testing.T) {
	def := counterDef()
	called := false
	def.Actions = map[string]Action{
		"a": func(ctx context.Context, tx *Tx, args ...value.Value) (value.Value, error) {
			called = true
			return nil, nil
		},
	}
	s := newTestStore(t, def)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Dispatch(ctx, "a")
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

// Property: an action calling another action produces one flush and one
// dispatch notification for the outer call, and nested changes land together.
func TestDispatch_NestedAtomicity(t *testing.T) {
	def := counterDef()
	innerDone := false
	def.Actions = map[string]Action{
		"inner": func(ctx context.Context, tx *Tx, args ...value.Value) (value.Value, error) {
			_, err := tx.Commit("increment")
			innerDone = true
			return nil, err
		},
		"outer": func(ctx context.Context, tx *Tx, args ...value.Value) (value.Value, error) {
			if _, err := tx.Commit("increment"); err != nil {
				return nil, err
			}
			if _, err := tx.Apply(ctx, "inner"); err != nil {
				return nil, err
			}
			// Nothing is committed until the outer action returns.
			assert.Equal(t, value.Int(0), tx.State()["count"])
			assert.Equal(t, value.Int(2), tx.Stage().Get("count"))
			assert.Equal(t, 1, tx.Depth())
			return value.String("done"), nil
		},
	}
	s := newTestStore(t, def)
	rec := record(t, s, "count", "commit", "mutate", "dispatch", "idle")

	res, err := s.Dispatch(context.Background(), "outer")
	require.NoError(t, err)
	assert.True(t, innerDone)
	assert.Equal(t, value.String("done"), res)
	assert.Equal(t, value.Int(2), s.Field("count"))

	assert.Equal(t, []string{"field:count", "commit", "dispatch:outer", "idle"}, rec.types())
}

func TestDispatch_NestedFailureLeavesStateUnchanged(t *testing.T) {
	boom := errors.New("inner failed")
	def := counterDef()
	def.Actions = map[string]Action{
		"inner": func(ctx context.Context, tx *Tx, args ...value.Value) (value.Value, error) {
			_, _ = tx.Commit("increment")
			return nil, boom
		},
		"outer": func(ctx context.Context, tx *Tx, args ...value.Value) (value.Value, error) {
			_, _ = tx.Commit("increment")
			return tx.Dispatch(ctx, "inner")
		},
	}
	s := newTestStore(t, def)
	rec := record(t, s, "commit", "dispatch", "rollback")

	_, err := s.Dispatch(context.Background(), "outer")
	assert.Same(t, boom, err)
	assert.Equal(t, value.Int(0), s.Field("count"))
	assert.Equal(t, []string{"rollback"}, rec.types(), "only the outermost rollback is published")
}

// Property: idle fires exactly once per fully unwound top-level operation.
func TestIdle_FiresOncePerTopLevelOperation(t *testing.T) {
	def := counterDef()
	def.Actions = map[string]Action{
		"deep": func(ctx context.Context, tx *Tx, args ...value.Value) (value.Value, error) {
			depth, _ := args[0].(value.Int)
			if depth > 0 {
				return tx.Dispatch(ctx, "deep", depth-1)
			}
			return tx.Commit("increment")
		},
	}
	s := newTestStore(t, def)
	rec := record(t, s, "idle")

	for _, depth := range []int64{0, 1, 5} {
		_, err := s.Dispatch(context.Background(), "deep", value.Int(depth))
		require.NoError(t, err)
	}
	_, err := s.Commit("increment")
	require.NoError(t, err)

	assert.Equal(t, 4, rec.count(EventIdle))
	assert.Equal(t, value.Int(4), s.Field("count"))
}

// Property: a memoized getter is recomputed after the state changes.
func TestGetter_CacheInvalidation(t *testing.T) {
	calls := 0
	def := counterDef()
	def.Getters["doubled"] = Cached(func(v View) (value.Value, error) {
		calls++
		n, _ := v.Get("count").(value.Int)
		return n * 2, nil
	})
	s := newTestStore(t, def)

	got, err := s.Get("doubled")
	require.NoError(t, err)
	assert.Equal(t, value.Int(0), got)

	_, err = s.Get("doubled")
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "second read is served from cache")
	assert.True(t, s.IsCached("doubled"))

	_, err = s.Commit("count", value.Int(5))
	require.NoError(t, err)
	assert.False(t, s.IsCached("doubled"))

	got, err = s.Get("doubled")
	require.NoError(t, err)
	assert.Equal(t, value.Int(10), got)
	assert.Equal(t, 2, calls)

	require.NoError(t, s.Reset(""))
	got, err = s.Get("doubled")
	require.NoError(t, err)
	assert.Equal(t, value.Int(0), got)
}

func TestGetter_Parameterized(t *testing.T) {
	s := newTestStore(t, counterDef())

	_, err := s.Commit("count", value.Int(3))
	require.NoError(t, err)

	got, err := s.Get("plus", value.Int(4))
	require.NoError(t, err)
	assert.Equal(t, value.Int(7), got)
	assert.False(t, s.IsCached("plus"))

	_, err = s.Get("doubled", value.Int(1))
	require.Error(t, err, "cached getters take no arguments")

	_, err = s.Get("missing")
	assert.True(t, IsMissingConstruct(err))
}

func TestGetter_ReturnsCopy(t *testing.T) {
	s := newTestStore(t, Definition{
		State: value.Object{"items": value.Array{value.Int(1)}},
		Getters: map[string]Getter{
			"items": Cached(func(v View) (value.Value, error) { return v.Get("items"), nil }),
		},
	})

	got, err := s.Get("items")
	require.NoError(t, err)
	got.(value.Array)[0] = value.Int(99)

	again, err := s.Get("items")
	require.NoError(t, err)
	assert.Equal(t, value.Array{value.Int(1)}, again)
}

// Property: reset of one field restores only that field.
func TestReset_Scoped(t *testing.T) {
	s := newTestStore(t, Definition{State: value.Object{"a": value.Int(1), "b": value.Int(2)}})
	rec := record(t, s, "a", "b", "reset")

	_, err := s.Commit("a", value.Int(99))
	require.NoError(t, err)
	_, err = s.Commit("b", value.Int(88))
	require.NoError(t, err)

	rec.events = nil
	require.NoError(t, s.Reset("a"))

	assert.Equal(t, value.Int(1), s.Field("a"))
	assert.Equal(t, value.Int(88), s.Field("b"))
	assert.Equal(t, []string{"field:a", "reset:a"}, rec.types())
}

func TestReset_AllCascadeDeletes(t *testing.T) {
	def := Definition{
		State: value.Object{"a": value.Int(1)},
		Actions: map[string]Action{
			"addExtra": func(ctx context.Context, tx *Tx, args ...value.Value) (value.Value, error) {
				return nil, tx.Stage().Set("extra", value.Bool(true))
			},
		},
	}
	s := newTestStore(t, def)

	_, err := s.Dispatch(context.Background(), "addExtra")
	require.NoError(t, err)
	_, err = s.Commit("a", value.Int(5))
	require.NoError(t, err)
	assert.True(t, s.Has("extra"))

	rec := record(t, s, "reset", "commit")
	require.NoError(t, s.Reset("unknown-field"))

	assert.Equal(t, value.Object{"a": value.Int(1)}, s.State())
	assert.False(t, s.Has("extra"))
	assert.Equal(t, []string{"reset"}, rec.types(), "reset publishes reset, not commit")
	assert.Equal(t, "", rec.events[0].Name)
}

func TestRegister_ExtendsStateAndBackup(t *testing.T) {
	s := newTestStore(t, counterDef())

	_, err := s.Commit("count", value.Int(3))
	require.NoError(t, err)

	err = s.Register(Definition{
		State: value.Object{
			"count": value.Int(100), // existing field is left untouched
			"label": value.String("hello"),
		},
		Actions: map[string]Action{
			"shout": func(ctx context.Context, tx *Tx, args ...value.Value) (value.Value, error) {
				return tx.Commit("label", value.String("HELLO"))
			},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, value.Int(3), s.Field("count"))
	assert.Equal(t, value.String("hello"), s.Field("label"))
	assert.Contains(t, s.Mutations(), "label")
	assert.Equal(t, []string{"shout"}, s.Actions())

	_, err = s.Dispatch(context.Background(), "shout")
	require.NoError(t, err)
	assert.Equal(t, value.String("HELLO"), s.Field("label"))

	// Registered fields are covered by reset and survive a full reset.
	require.NoError(t, s.Reset(""))
	assert.Equal(t, value.String("hello"), s.Field("label"))
	assert.Equal(t, value.Int(0), s.Field("count"))
}

func TestRegister_ReplacesGetterAndClearsCache(t *testing.T) {
	s := newTestStore(t, counterDef())

	_, err := s.Get("doubled")
	require.NoError(t, err)
	require.True(t, s.IsCached("doubled"))

	err = s.Register(Definition{Getters: map[string]Getter{
		"doubled": Cached(func(v View) (value.Value, error) { return value.String("replaced"), nil }),
	}})
	require.NoError(t, err)

	got, err := s.Get("doubled")
	require.NoError(t, err)
	assert.Equal(t, value.String("replaced"), got)
}

func TestRegister_InvalidEventLeavesStoreUnchanged(t *testing.T) {
	s := newTestStore(t, counterDef())
	rec := &recorder{}

	err := s.Register(Definition{
		State: value.Object{"extra": value.Int(1)},
		Mutations: map[string]Mutation{
			"bump": increment,
		},
		Events: map[string]Listener{
			"bogus": rec.listener,
			"count": rec.listener,
		},
	})
	require.Error(t, err)
	assert.True(t, IsInvalidSubscription(err))

	assert.False(t, s.Has("extra"))
	assert.False(t, s.HasMutation("bump"))
	assert.Equal(t, []string{"count"}, s.Keys())
	assert.Equal(t, []string{"count", "increment"}, s.Mutations())

	// The valid listener sorted before the bad one was not subscribed either.
	_, err = s.Commit("increment")
	require.NoError(t, err)
	assert.Empty(t, rec.events)
}

func TestRegister_EventsMayNameNewConstructs(t *testing.T) {
	s := newTestStore(t, counterDef())
	rec := &recorder{}

	err := s.Register(Definition{
		State: value.Object{"extra": value.Int(1)},
		Mutations: map[string]Mutation{
			"bump": increment,
		},
		Events: map[string]Listener{
			"extra":        rec.listener,
			"mutate:extra": rec.listener,
			"bump":         rec.listener,
		},
	})
	require.NoError(t, err)

	_, err = s.Commit("extra", value.Int(2))
	require.NoError(t, err)
	_, err = s.Commit("bump")
	require.NoError(t, err)
	assert.Equal(t, []string{"field:extra", "mutate:extra", "mutate:bump"}, rec.types())
}
