package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/statekeeper/internal/harness"
)

func TestInvokeCommitPersists(t *testing.T) {
	db := journalPath(t)
	flags := []string{"--store", "counter", "--journal", db}

	out, err := execute(t, NewInvokeCommand, "text", "", append([]string{specsDir, "commit", "increment"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "\u2713 commit increment \u2192 1")
	assert.Contains(t, out, "  tx ")

	out, err = execute(t, NewInvokeCommand, "json", "", append([]string{specsDir, "commit", "add", "4"}, flags...)...)
	require.NoError(t, err)

	var result InvokeResult
	resp := decodeResponse(t, out, &result)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "commit", result.Op)
	assert.Equal(t, "add", result.Name)
	assert.Equal(t, []any{float64(4)}, result.Args)
	assert.EqualValues(t, 5, result.Result)
	assert.Len(t, result.TxIDs, 1)
	assert.EqualValues(t, 5, result.State["count"])
	assert.EqualValues(t, 5, result.State["last"])

	out, err = execute(t, NewInvokeCommand, "text", "", append([]string{specsDir, "get", "plus", "5"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "get plus \u2192 10")
}

func TestInvokeGetRecordsNothing(t *testing.T) {
	db := journalPath(t)

	out, err := execute(t, NewInvokeCommand, "json", "", specsDir, "get", "doubled", "--store", "counter", "--journal", db)
	require.NoError(t, err)

	var result InvokeResult
	decodeResponse(t, out, &result)
	assert.EqualValues(t, 0, result.Result)
	assert.Empty(t, result.TxIDs)
}

func TestInvokeDispatchAndReset(t *testing.T) {
	db := journalPath(t)
	flags := []string{"--store", "counter", "--journal", db}

	out, err := execute(t, NewInvokeCommand, "text", "", append([]string{specsDir, "dispatch", "addTwice", "3"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "dispatch addTwice \u2192 6")

	out, err = execute(t, NewInvokeCommand, "text", "", append([]string{specsDir, "reset"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "\u2713 reset")
	assert.Contains(t, out, `"count":0`)
}

func TestInvokeSetOnTransactionalStore(t *testing.T) {
	out, err := execute(t, NewInvokeCommand, "json", "",
		specsDir, "set", "filter", `{"done":true,"text":"milk"}`, "--store", "todo", "--journal", journalPath(t))
	require.NoError(t, err)

	var result InvokeResult
	decodeResponse(t, out, &result)
	assert.Equal(t, map[string]any{"done": true, "text": "milk"}, result.State["filter"])
	assert.Len(t, result.TxIDs, 1)
}

func TestInvokeStrictSetFails(t *testing.T) {
	out, err := execute(t, NewInvokeCommand, "json", "",
		specsDir, "set", "count", "9", "--store", "counter", "--journal", journalPath(t))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "set count failed")

	resp := decodeResponse(t, out, nil)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "ILLEGAL_DIRECT_MUTATION", resp.Error.Code)
}

func TestInvokeUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown op", []string{"explode"}, `unknown operation "explode"`},
		{"commit without name", []string{"commit"}, "commit requires a name"},
		{"set without value", []string{"set", "count"}, "set requires exactly one value"},
		{"reset with two fields", []string{"reset", "a", "b"}, "reset takes at most one field name"},
		{"flush with args", []string{"flush", "now"}, "flush takes no arguments"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{specsDir}, tt.args...)
			args = append(args, "--store", "counter", "--journal", journalPath(t))

			_, err := execute(t, NewInvokeCommand, "text", "", args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), ErrCodeOperation)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestBuildStep(t *testing.T) {
	step, err := buildStep("commit", []string{"add", "2"}, true)
	require.NoError(t, err)
	op, name := step.Op()
	assert.Equal(t, harness.OpCommit, op)
	assert.Equal(t, "add", name)
	assert.Equal(t, []any{int64(2)}, step.Args)

	step, err = buildStep("rollback", nil, false)
	require.NoError(t, err)
	require.NotNil(t, step.Rollback)
	assert.False(t, *step.Rollback)

	step, err = buildStep("reset", nil, true)
	require.NoError(t, err)
	require.NotNil(t, step.Reset)
	assert.Equal(t, "", *step.Reset)
}

func TestParseArg(t *testing.T) {
	assert.Equal(t, int64(42), parseArg("42"))
	assert.Equal(t, 1.5, parseArg("1.5"))
	assert.Equal(t, true, parseArg("true"))
	assert.Equal(t, "done", parseArg("done"))
	assert.Equal(t, []any{"a", float64(1)}, parseArg(`["a",1]`))
	assert.Equal(t, map[string]any{"k": "v"}, parseArg(`{"k":"v"}`))
}
