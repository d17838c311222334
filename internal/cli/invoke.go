package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/statekeeper/internal/harness"
	"github.com/roach88/statekeeper/internal/store"
	"github.com/roach88/statekeeper/internal/value"
)

// InvokeOptions holds flags for the invoke command.
type InvokeOptions struct {
	*RootOptions
	Store   string
	Journal string
	Publish bool // flush and rollback only
}

// InvokeResult is the outcome of one invoked operation.
type InvokeResult struct {
	Store  string       `json:"store"`
	Op     string       `json:"op"`
	Name   string       `json:"name,omitempty"`
	Args   []any        `json:"args,omitempty"`
	Result any          `json:"result,omitempty"`
	TxIDs  []string     `json:"tx_ids"`
	State  value.Object `json:"state"`
}

// NewInvokeCommand creates the invoke command.
func NewInvokeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InvokeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "invoke <specs-dir> <op> [name] [args...]",
		Short: "Invoke one operation on a journaled store",
		Long: `Resume the named store from its journal and invoke one operation.

op is one of commit, dispatch, set, reset, flush, rollback or get.
Arguments are parsed as JSON and fall back to plain strings, so
'invoke ./specs commit add 2' passes the integer 2 and
'invoke ./specs set label done' sets the string "done".

Examples:
  statekeeper invoke ./specs commit increment --store counter --journal ./counter.db
  statekeeper invoke ./specs dispatch addTwice 2 --store counter --journal ./counter.db
  statekeeper invoke ./specs set filter '{"done":true}' --store todo --journal ./todo.db
  statekeeper invoke ./specs reset --store counter --journal ./counter.db
  statekeeper invoke ./specs get plus 5 --store counter --journal ./counter.db`,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return invokeOperation(opts, args[0], args[1], args[2:], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Store, "store", "", "store name (required)")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to SQLite journal (required)")
	cmd.Flags().BoolVar(&opts.Publish, "publish", true, "publish notifications on flush/rollback")
	_ = cmd.MarkFlagRequired("store")
	_ = cmd.MarkFlagRequired("journal")

	return cmd
}

func invokeOperation(opts *InvokeOptions, specsDir, op string, rest []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	logger := opts.Logger(cmd.ErrOrStderr())

	step, err := buildStep(op, rest, opts.Publish)
	if err != nil {
		return commandError(formatter, ErrCodeOperation, err.Error())
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	sess, err := openSession(ctx, specsDir, opts.Store, opts.Journal, logger)
	if err != nil {
		return reportLoadError(formatter, err)
	}
	defer sess.Close()

	before, err := sess.Journal.LastSeq(ctx, opts.Store)
	if err != nil {
		return commandError(formatter, ErrCodeJournal, err.Error())
	}

	res, opErr := harness.Apply(ctx, sess.Store, step)

	_, name := step.Op()
	result := InvokeResult{
		Store: opts.Store,
		Op:    op,
		Name:  name,
		Args:  step.Args,
		State: sess.Store.State(),
	}
	if res != nil {
		result.Result = value.ToGo(res)
	}
	if result.TxIDs, err = sess.txSince(ctx, before); err != nil {
		return commandError(formatter, ErrCodeJournal, err.Error())
	}
	if result.TxIDs == nil {
		result.TxIDs = []string{}
	}

	if opErr != nil {
		code := operationErrorCode(opErr)
		_ = formatter.Error(code, opErr.Error(), result)
		return WrapExitError(ExitFailure, fmt.Sprintf("%s %s failed", op, name), opErr)
	}
	return outputInvokeResult(formatter, result)
}

// buildStep turns command-line words into a harness step.
func buildStep(op string, rest []string, publish bool) (harness.Step, error) {
	var step harness.Step

	needName := func() (string, []string, error) {
		if len(rest) == 0 {
			return "", nil, fmt.Errorf("%s requires a name", op)
		}
		return rest[0], rest[1:], nil
	}

	switch op {
	case harness.OpCommit, harness.OpDispatch, harness.OpGet:
		name, args, err := needName()
		if err != nil {
			return step, err
		}
		switch op {
		case harness.OpCommit:
			step.Commit = name
		case harness.OpDispatch:
			step.Dispatch = name
		default:
			step.Get = name
		}
		step.Args = parseArgs(args)
	case harness.OpSet:
		name, args, err := needName()
		if err != nil {
			return step, err
		}
		if len(args) != 1 {
			return step, errors.New("set requires exactly one value")
		}
		step.Set = name
		step.Value = parseArg(args[0])
	case harness.OpReset:
		if len(rest) > 1 {
			return step, errors.New("reset takes at most one field name")
		}
		field := ""
		if len(rest) == 1 {
			field = rest[0]
		}
		step.Reset = &field
	case harness.OpFlush, harness.OpRollback:
		if len(rest) > 0 {
			return step, fmt.Errorf("%s takes no arguments (use --publish)", op)
		}
		p := publish
		if op == harness.OpFlush {
			step.Flush = &p
		} else {
			step.Rollback = &p
		}
	default:
		return step, fmt.Errorf("unknown operation %q (valid: commit, dispatch, set, reset, flush, rollback, get)", op)
	}
	return step, nil
}

func parseArgs(words []string) []any {
	if len(words) == 0 {
		return nil
	}
	out := make([]any, len(words))
	for i, w := range words {
		out[i] = parseArg(w)
	}
	return out
}

// parseArg decodes a JSON literal, keeping integers integral. Anything that
// is not JSON is a plain string.
func parseArg(word string) any {
	if n, err := strconv.ParseInt(word, 10, 64); err == nil {
		return n
	}
	var v any
	if err := json.Unmarshal([]byte(word), &v); err != nil {
		return word
	}
	return v
}

// operationErrorCode reports the store error code when there is one.
func operationErrorCode(err error) string {
	if code := storeErrorCode(err); code != "" {
		return code
	}
	return ErrCodeOperation
}

func storeErrorCode(err error) string {
	var se *store.Error
	if errors.As(err, &se) {
		return string(se.Code)
	}
	return ""
}

func outputInvokeResult(f *OutputFormatter, result InvokeResult) error {
	if f.IsJSON() {
		return f.Success(result)
	}

	w := f.Writer
	label := result.Op
	if result.Name != "" {
		label += " " + result.Name
	}
	if result.Result != nil {
		fmt.Fprintf(w, "%s %s %s %s\n", markOK, label, arrow, formatAny(result.Result))
	} else {
		fmt.Fprintf(w, "%s %s\n", markOK, label)
	}
	for _, tx := range result.TxIDs {
		fmt.Fprintf(w, "  tx %s\n", tx)
	}
	fmt.Fprintf(w, "State: %s\n", formatAny(result.State))
	return nil
}
