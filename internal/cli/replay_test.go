package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedJournal runs a few counter and todo operations into a fresh journal.
func seedJournal(t *testing.T) string {
	t.Helper()
	db := journalPath(t)

	_, err := execute(t, NewRunCommand, "text", "commit: increment\n---\ndispatch: addTwice\nargs: [3]\n---\nreset: count\n---\ncommit: add\nargs: [5]\n",
		specsDir, "--store", "counter", "--journal", db)
	require.NoError(t, err)

	_, err = execute(t, NewRunCommand, "text", "commit: push\nargs: [eggs]\n---\nset: filter\nvalue: {done: true, text: eggs}\n",
		specsDir, "--store", "todo", "--journal", db)
	require.NoError(t, err)
	return db
}

func TestReplayVerifiesDeterminism(t *testing.T) {
	db := seedJournal(t)

	out, err := execute(t, NewReplayCommand, "text", "", specsDir, "--journal", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Replay Summary: 2 store(s)")
	assert.Contains(t, out, "\u2713 Store: counter")
	assert.Contains(t, out, "Operations: 4 in 4 transaction(s)")
	assert.Contains(t, out, "\u2713 Store: todo")
	assert.Contains(t, out, "Operations: 2 in 2 transaction(s)")
	assert.Contains(t, out, "\u2713 All stores verified deterministic")
}

func TestReplayJSONMatchesLiveDigest(t *testing.T) {
	db := journalPath(t)

	out, err := execute(t, NewRunCommand, "json", "commit: increment\n---\ncommit: add\nargs: [2]\n",
		specsDir, "--store", "counter", "--journal", db)
	require.NoError(t, err)
	var run RunResult
	decodeResponse(t, out, &run)

	out, err = execute(t, NewReplayCommand, "json", "", specsDir, "--journal", db, "--store", "counter")
	require.NoError(t, err)

	var result ReplayResult
	resp := decodeResponse(t, out, &result)
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, result.AllDeterministic)
	require.Len(t, result.Stores, 1)
	sr := result.Stores[0]
	assert.Equal(t, "counter", sr.Store)
	assert.Equal(t, 2, sr.Operations)
	assert.True(t, sr.Deterministic)
	assert.Equal(t, run.Digest, sr.Digest, "replayed state must match the live store")
	assert.Positive(t, sr.LastSeq)
}

func TestReplayDivergentDefinition(t *testing.T) {
	db := seedJournal(t)

	// Same store name, but the recorded mutation no longer exists.
	dir := t.TempDir()
	writeFile(t, dir, "counter.cue", `package specs

store: counter: {
	fields: count: {
		default: 0
		mutations: increment: "value + 1"
	}
}
`)

	out, err := execute(t, NewReplayCommand, "json", "", dir, "--journal", db, "--store", "counter")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var result ReplayResult
	resp := decodeResponse(t, out, &result)
	assert.Equal(t, "E_DETERMINISM", resp.Error.Code)
	assert.False(t, result.AllDeterministic)
	require.Len(t, result.Stores, 1)
	assert.Contains(t, result.Stores[0].Error, `replay dispatch "addTwice"`)
}

func TestReplayCommandErrors(t *testing.T) {
	_, err := execute(t, NewReplayCommand, "text", "", specsDir, "--journal", "/nonexistent/journal.db")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeNotFound)

	db := seedJournal(t)
	_, err = execute(t, NewReplayCommand, "text", "", specsDir, "--journal", db, "--store", "ghost")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeStoreNotFound)
}
