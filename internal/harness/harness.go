package harness

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"cuelang.org/go/cue"

	"github.com/roach88/statekeeper/internal/compiler"
	"github.com/roach88/statekeeper/internal/store"
	"github.com/roach88/statekeeper/internal/testutil"
	"github.com/roach88/statekeeper/internal/value"
)

// Harness is the scenario execution engine.
// It runs scenarios against a real store with a deterministic clock and
// sequential transaction IDs, so traces are reproducible.
type Harness struct {
	store  *store.Store
	clock  *testutil.DeterministicClock
	ids    *testutil.SequentialIDGenerator
	logger *slog.Logger
	subs   []store.Subscription
}

// Run executes a scenario whose store comes from its CUE spec.
//
// Execution flow:
//  1. Load and compile the CUE spec, select the named store
//  2. Build a fresh store with deterministic helpers
//  3. Execute setup steps, then rewind the clock and ID generator
//  4. Execute steps with expect validation, recording every notification
//  5. Evaluate assertions and return the result
func Run(scenario *Scenario) (*Result, error) {
	if scenario.Spec == "" {
		return nil, fmt.Errorf("scenario %q has no spec; use Execute with a definition", scenario.Name)
	}
	def, opts, err := LoadDefinition(scenario.Spec, scenario.Store)
	if err != nil {
		return nil, err
	}
	return Execute(def, opts, scenario)
}

// LoadDefinition compiles the store name from a CUE file or package
// directory and builds its definition.
func LoadDefinition(path, name string) (store.Definition, []store.Option, error) {
	info, err := os.Stat(path)
	if err != nil {
		return store.Definition{}, nil, fmt.Errorf("failed to stat spec: %w", err)
	}

	var v cue.Value
	if info.IsDir() {
		v, err = compiler.LoadDir(path)
	} else {
		var src []byte
		if src, err = os.ReadFile(path); err == nil {
			v, err = compiler.CompileSource(path, string(src))
		}
	}
	if err != nil {
		return store.Definition{}, nil, fmt.Errorf("failed to load spec %s: %w", path, err)
	}

	specs, errs := compiler.CompileAll(v)
	names := make([]string, 0, len(specs))
	for _, spec := range specs {
		if spec.Name == name {
			return compiler.Build(spec)
		}
		names = append(names, spec.Name)
	}
	if len(errs) > 0 {
		return store.Definition{}, nil, fmt.Errorf("store %q not compiled: %w", name, errors.Join(errs...))
	}
	return store.Definition{}, nil, fmt.Errorf("store %q not found in %s (found: %s)", name, path, strings.Join(names, ", "))
}

// Execute runs scenario against a store built from def and opts.
//
// Each call creates a fresh store for isolation. The scenario's Spec and
// Store are ignored. Infrastructure failures are returned as errors; step
// and assertion failures are reported in the Result.
func Execute(def store.Definition, opts []store.Option, scenario *Scenario) (*Result, error) {
	h := &Harness{
		clock:  testutil.NewDeterministicClock(),
		ids:    testutil.NewSequentialIDGenerator(scenario.TxPrefix),
		logger: testutil.DiscardLogger(),
	}

	all := append(slices.Clone(opts),
		store.WithClock(h.clock),
		store.WithIDGenerator(h.ids),
		store.WithLogger(h.logger),
	)
	st, err := store.New(def, all...)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	defer st.Close()
	h.store = st

	ctx := context.Background()

	if err := h.executeSetup(ctx, scenario.Setup); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}
	h.clock.Reset()
	h.ids.Reset()

	result := NewResult()
	if err := h.record(result); err != nil {
		return nil, fmt.Errorf("failed to record notifications: %w", err)
	}
	h.executeSteps(ctx, scenario.Steps, result)
	h.stopRecording()

	// Nested listener flushes deliver inner events before the outer event
	// reaches the recorder; seq restores publication order.
	slices.SortStableFunc(result.Trace, func(a, b TraceEvent) int {
		return cmp.Compare(a.Seq, b.Seq)
	})

	result.State = st.State()

	actx := &AssertionContext{Store: st, Ctx: ctx}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}
	return result, nil
}

// executeSetup runs all setup steps. Any failure aborts the scenario.
func (h *Harness) executeSetup(ctx context.Context, setup []Step) error {
	for i, step := range setup {
		op, name := step.Op()
		if _, err := h.runStep(ctx, step); err != nil {
			return fmt.Errorf("setup step %d (%s %s): %w", i, op, name, err)
		}
		h.logger.Info("setup step completed", "step", i, "op", op, "name", name)
	}
	return nil
}

// executeSteps runs every step and validates expect clauses. A failing step
// is reported and the remaining steps still run.
func (h *Harness) executeSteps(ctx context.Context, steps []Step, result *Result) {
	for i, step := range steps {
		op, name := step.Op()
		res, err := h.runStep(ctx, step)

		sr := StepResult{Index: i, Op: op, Name: name, Result: res}
		if err != nil {
			sr.Error = err.Error()
		}
		result.AddStep(sr)

		for _, msg := range checkExpect(step.Expect, res, err) {
			result.AddError(fmt.Sprintf("steps[%d] %s %s: %s", i, op, name, msg))
		}

		h.logger.Info("step completed",
			"step", i,
			"op", op,
			"name", name,
			"error", err,
		)
	}
}

// runStep performs the store operation named by step.
func (h *Harness) runStep(ctx context.Context, step Step) (value.Value, error) {
	return Apply(ctx, h.store, step)
}

// Apply performs the store operation named by step against st and returns
// the operation result (nil for set, reset, flush and rollback).
func Apply(ctx context.Context, st *store.Store, step Step) (value.Value, error) {
	op, name := step.Op()
	args, err := convertArgs(step.Args)
	if err != nil {
		return nil, err
	}

	switch op {
	case OpCommit:
		return st.Commit(name, args...)
	case OpDispatch:
		return st.Dispatch(ctx, name, args...)
	case OpSet:
		v, err := value.FromGo(step.Value)
		if err != nil {
			return nil, fmt.Errorf("value: %w", err)
		}
		return nil, st.Set(name, v)
	case OpReset:
		return nil, st.Reset(name)
	case OpFlush:
		return nil, st.Flush(*step.Flush)
	case OpRollback:
		return nil, st.Rollback(*step.Rollback)
	case OpGet:
		return st.Get(name, args...)
	default:
		return nil, errors.New("step has no operation")
	}
}

// record subscribes a trace listener to every global event and to every
// field event.
func (h *Harness) record(result *Result) error {
	l := func(_ *store.Tx, ev store.Event) error {
		result.AddEvent(traceEventFrom(ev))
		return nil
	}

	topics := append(store.GlobalEvents(), string(store.EventField))
	for _, topic := range topics {
		sub, err := h.store.Subscribe(topic, l)
		if err != nil {
			h.stopRecording()
			return err
		}
		h.subs = append(h.subs, sub)
	}
	return nil
}

func (h *Harness) stopRecording() {
	for _, sub := range h.subs {
		h.store.Unsubscribe(sub)
	}
	h.subs = nil
}

// checkExpect compares a step outcome with its expect clause and returns
// one message per mismatch.
func checkExpect(exp *Expect, res value.Value, err error) []string {
	var msgs []string

	wantErr := ""
	if exp != nil {
		wantErr = exp.Error
	}
	switch {
	case wantErr == "" && err != nil:
		msgs = append(msgs, fmt.Sprintf("unexpected error: %v", err))
	case wantErr != "" && err == nil:
		msgs = append(msgs, fmt.Sprintf("expected error %q, got success", wantErr))
	case wantErr != "" && !errorMatches(err, wantErr):
		msgs = append(msgs, fmt.Sprintf("expected error %q, got: %v", wantErr, err))
	}

	if err != nil || !exp.HasResult() {
		return msgs
	}
	raw, decodeErr := exp.ResultValue()
	if decodeErr != nil {
		return append(msgs, fmt.Sprintf("invalid expected result: %v", decodeErr))
	}
	want, convErr := value.FromGo(raw)
	if convErr != nil {
		return append(msgs, fmt.Sprintf("invalid expected result: %v", convErr))
	}
	if !value.Equal(want, res) {
		msgs = append(msgs, fmt.Sprintf("expected result %s, got %s", formatValue(want), formatValue(res)))
	}
	return msgs
}

// errorMatches reports whether err carries the store error code want or
// mentions want in its message.
func errorMatches(err error, want string) bool {
	var se *store.Error
	if errors.As(err, &se) && string(se.Code) == want {
		return true
	}
	return strings.Contains(err.Error(), want)
}

// convertArgs converts YAML-parsed arguments to values.
func convertArgs(args []any) ([]value.Value, error) {
	if len(args) == 0 {
		return nil, nil
	}
	out := make([]value.Value, len(args))
	for i, a := range args {
		v, err := value.FromGo(a)
		if err != nil {
			return nil, fmt.Errorf("args[%d]: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// formatValue renders v as canonical JSON for messages.
func formatValue(v value.Value) string {
	if v == nil {
		return "null"
	}
	b, err := value.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
