package journal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/statekeeper/internal/store"
	"github.com/roach88/statekeeper/internal/testutil"
	"github.com/roach88/statekeeper/internal/value"
)

// createTestJournal opens a file-backed journal in a temp dir.
func createTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"), WithLogger(testutil.DiscardLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func createTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(store.Definition{
		State: value.Object{"count": value.Int(0)},
		Mutations: map[string]store.Mutation{
			"add": func(st *store.Stage, args ...value.Value) (value.Value, error) {
				n, _ := st.Get("count").(value.Int)
				d, _ := args[0].(value.Int)
				return n + d, st.Set("count", n+d)
			},
		},
	},
		store.WithLogger(testutil.DiscardLogger()),
		store.WithClock(testutil.NewDeterministicClock()),
		store.WithIDGenerator(testutil.NewSequentialIDGenerator("tx")),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_AppliesPragmas(t *testing.T) {
	j := createTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.verifyPragma(ctx, "journal_mode", "wal"))
	require.NoError(t, j.verifyPragma(ctx, "user_version", "1"))
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	j1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j1.Close())

	j2, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j2.Close())
}

func TestOpen_MemoryDefault(t *testing.T) {
	j, err := Open("")
	require.NoError(t, err)
	defer j.Close()

	n, err := j.Count(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAttach_RecordsNotifications(t *testing.T) {
	j := createTestJournal(t)
	s := createTestStore(t)
	ctx := context.Background()

	_, err := j.Attach("counter", s)
	require.NoError(t, err)

	_, err = s.Commit("add", value.Int(5))
	require.NoError(t, err)

	entries, err := j.Entries(ctx, Filter{Store: "counter"})
	require.NoError(t, err)

	var types []store.EventType
	for _, e := range entries {
		types = append(types, e.Type)
	}
	assert.Equal(t, []store.EventType{store.EventField, store.EventCommit, store.EventMutate, store.EventIdle}, types)

	field := entries[0]
	assert.Equal(t, "count", field.Name)
	assert.Equal(t, value.Int(5), field.Value)
	assert.Equal(t, value.Int(0), field.Previous)
	assert.Equal(t, "tx-0001", field.TxID)

	commit := entries[1]
	assert.Equal(t, value.NewArray(value.String("count")), commit.Value)

	mutate := entries[2]
	assert.Equal(t, "add", mutate.Name)
	assert.Equal(t, []value.Value{value.Int(5)}, mutate.Args)
	assert.Equal(t, value.Int(5), mutate.Value)

	for i := 1; i < len(entries); i++ {
		assert.Less(t, entries[i-1].Seq, entries[i].Seq)
	}
}

func TestAttach_RecordsFieldsRegisteredLater(t *testing.T) {
	j := createTestJournal(t)
	s := createTestStore(t)
	ctx := context.Background()

	_, err := j.Attach("counter", s)
	require.NoError(t, err)

	require.NoError(t, s.Register(store.Definition{State: value.Object{"label": value.String("a")}}))
	_, err = s.Commit("label", value.String("b"))
	require.NoError(t, err)

	fields, err := j.Entries(ctx, Filter{Types: []store.EventType{store.EventField}})
	require.NoError(t, err)
	require.Len(t, fields, 1)
	assert.Equal(t, "label", fields[0].Name)
	assert.Equal(t, value.String("b"), fields[0].Value)
	assert.Equal(t, value.String("a"), fields[0].Previous)
}

func TestEntries_Filters(t *testing.T) {
	j := createTestJournal(t)
	s := createTestStore(t)
	ctx := context.Background()

	_, err := j.Attach("counter", s)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = s.Commit("add", value.Int(1))
		require.NoError(t, err)
	}

	mutates, err := j.Entries(ctx, Filter{Types: []store.EventType{store.EventMutate}})
	require.NoError(t, err)
	assert.Len(t, mutates, 3)

	second, err := j.Entries(ctx, Filter{TxID: "tx-0002"})
	require.NoError(t, err)
	assert.Len(t, second, 4)

	after, err := j.Entries(ctx, Filter{AfterSeq: mutates[1].Seq})
	require.NoError(t, err)
	assert.Len(t, after, 5, "idle of tx 2 plus all of tx 3")

	limited, err := j.Entries(ctx, Filter{Name: "count", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	n, err := j.Count(ctx, Filter{Store: "counter"})
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	none, err := j.Entries(ctx, Filter{Store: "other"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestRecord_Idempotent(t *testing.T) {
	j := createTestJournal(t)
	ctx := context.Background()

	ev := store.Event{Seq: 7, TxID: "tx-1", Type: store.EventCommit, Value: value.NewArray(value.String("a"))}
	require.NoError(t, j.Record(ctx, "s", ev))
	require.NoError(t, j.Record(ctx, "s", ev))

	n, err := j.Count(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entries, err := j.Entries(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].Args)
	assert.Equal(t, value.Null{}, entries[0].Previous)
}

func TestDetach_StopsRecording(t *testing.T) {
	j := createTestJournal(t)
	s := createTestStore(t)
	ctx := context.Background()

	a, err := j.Attach("counter", s)
	require.NoError(t, err)
	assert.Equal(t, "counter", a.Name())

	_, err = s.Commit("add", value.Int(1))
	require.NoError(t, err)
	a.Detach()
	a.Detach()
	_, err = s.Commit("add", value.Int(1))
	require.NoError(t, err)

	n, err := j.Count(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestAttach_RequiresName(t *testing.T) {
	j := createTestJournal(t)
	_, err := j.Attach("", createTestStore(t))
	require.Error(t, err)
}

func TestAttach_RecordsRollback(t *testing.T) {
	j := createTestJournal(t)
	s := createTestStore(t)
	ctx := context.Background()

	_, err := j.Attach("counter", s)
	require.NoError(t, err)

	require.NoError(t, s.Rollback(true))

	entries, err := j.Entries(ctx, Filter{Types: []store.EventType{store.EventRollback}})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestNotificationID_Stable(t *testing.T) {
	a, err := notificationID("s", 1, "commit", "")
	require.NoError(t, err)
	b, err := notificationID("s", 1, "commit", "")
	require.NoError(t, err)
	c, err := notificationID("s", 2, "commit", "")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestReplay_RebuildsState(t *testing.T) {
	j := createTestJournal(t)
	ctx := context.Background()

	original := createTestStore(t)
	_, err := j.Attach("counter", original)
	require.NoError(t, err)

	for _, d := range []int64{2, 3, 4} {
		_, err := original.Commit("add", value.Int(d))
		require.NoError(t, err)
	}
	require.NoError(t, original.Reset("count"))
	_, err = original.Commit("add", value.Int(7))
	require.NoError(t, err)

	fresh := createTestStore(t)
	stats, err := j.Replay(ctx, "counter", fresh)
	require.NoError(t, err)

	assert.Equal(t, 5, stats.Operations)
	assert.Equal(t, 5, stats.Transactions)
	assert.Equal(t, original.State(), fresh.State())

	last, err := j.LastSeq(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, last, stats.LastSeq)
	assert.Positive(t, last)
}

func TestReplay_UnknownStoreIsEmpty(t *testing.T) {
	j := createTestJournal(t)
	s := createTestStore(t)

	stats, err := j.Replay(context.Background(), "ghost", s)
	require.NoError(t, err)
	assert.Zero(t, stats.Operations)
	assert.Zero(t, stats.LastSeq)
	assert.Equal(t, value.Int(0), s.State().Get("count"))
}

func TestReplay_DivergentDefinitionFails(t *testing.T) {
	j := createTestJournal(t)
	ctx := context.Background()

	original := createTestStore(t)
	_, err := j.Attach("counter", original)
	require.NoError(t, err)
	_, err = original.Commit("add", value.Int(1))
	require.NoError(t, err)

	other, err := store.New(store.Definition{State: value.Object{"count": value.Int(0)}},
		store.WithLogger(testutil.DiscardLogger()))
	require.NoError(t, err)
	defer other.Close()

	_, err = j.Replay(ctx, "counter", other)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `replay mutate "add"`)
}

func TestStores_ListsDistinctNames(t *testing.T) {
	j := createTestJournal(t)
	ctx := context.Background()

	a := createTestStore(t)
	b := createTestStore(t)
	_, err := j.Attach("beta", a)
	require.NoError(t, err)
	_, err = j.Attach("alpha", b)
	require.NoError(t, err)

	_, err = a.Commit("add", value.Int(1))
	require.NoError(t, err)
	_, err = b.Commit("add", value.Int(1))
	require.NoError(t, err)

	names, err := j.Stores(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, names)
}
