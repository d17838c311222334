package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/statekeeper/internal/harness"
	"github.com/roach88/statekeeper/internal/value"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Store   string
	Journal string
	Steps   string // steps file; stdin when empty
}

// RunStepResult is the outcome of one applied step.
type RunStepResult struct {
	Index  int    `json:"index"`
	Op     string `json:"op"`
	Name   string `json:"name,omitempty"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// RunResult holds the outcome of a run.
type RunResult struct {
	Store   string          `json:"store"`
	Resumed int             `json:"resumed"`
	Steps   []RunStepResult `json:"steps"`
	Failed  int             `json:"failed"`
	State   value.Object    `json:"state"`
	Digest  string          `json:"digest"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <specs-dir>",
		Short: "Apply a stream of steps to a journaled store",
		Long: `Build the named store, resume it from the journal, and apply steps.

Steps are YAML documents in the scenario step format, read from --steps or
standard input until EOF or Ctrl-C:

  commit: increment
  ---
  dispatch: addTwice
  args: [2]

Every notification is recorded in the SQLite journal, which is created if
it doesn't exist.

Example:
  statekeeper run ./specs --store counter --journal ./counter.db --steps steps.yaml
  echo 'commit: increment' | statekeeper run ./specs --store counter --journal ./counter.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSteps(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Store, "store", "", "store name (required)")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to SQLite journal (required)")
	cmd.Flags().StringVar(&opts.Steps, "steps", "", "YAML steps file (default: stdin)")
	_ = cmd.MarkFlagRequired("store")
	_ = cmd.MarkFlagRequired("journal")

	return cmd
}

func runSteps(opts *RunOptions, specsDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	logger := opts.Logger(cmd.ErrOrStderr())

	in := cmd.InOrStdin()
	if opts.Steps != "" {
		f, err := os.Open(opts.Steps)
		if err != nil {
			return commandError(formatter, ErrCodeNotFound, fmt.Sprintf("steps file: %v", err))
		}
		defer f.Close()
		in = f
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := openSession(ctx, specsDir, opts.Store, opts.Journal, logger)
	if err != nil {
		return reportLoadError(formatter, err)
	}
	defer sess.Close()

	result := RunResult{
		Store:   opts.Store,
		Resumed: sess.Resumed.Operations,
		Steps:   []RunStepResult{},
	}

	logger.Info("run started", "store", opts.Store, "journal", opts.Journal, "resumed", result.Resumed)

	dec := yaml.NewDecoder(in)
	dec.KnownFields(true)
	for i := 0; ; i++ {
		if ctx.Err() != nil {
			logger.Info("run interrupted", "steps", i)
			break
		}
		var step harness.Step
		if err := dec.Decode(&step); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return commandError(formatter, ErrCodeScenario, fmt.Sprintf("steps[%d]: %v", i, err))
		}

		op, name := step.Op()
		sr := RunStepResult{Index: i, Op: op, Name: name}
		if op == "" {
			sr.Error = "exactly one operation is required"
		} else if res, err := harness.Apply(ctx, sess.Store, step); err != nil {
			sr.Error = err.Error()
		} else if res != nil {
			sr.Result = value.ToGo(res)
		}
		if sr.Error != "" {
			result.Failed++
		}
		result.Steps = append(result.Steps, sr)
		logger.Debug("step applied", "step", i, "op", op, "name", name, "error", sr.Error)
	}

	snap, err := sess.Store.Snapshot()
	if err != nil {
		return commandError(formatter, ErrCodeGeneric, err.Error())
	}
	result.State = snap.State
	result.Digest = snap.Digest

	return outputRunResult(formatter, result)
}

func outputRunResult(f *OutputFormatter, result RunResult) error {
	var exitErr error
	if result.Failed > 0 {
		exitErr = NewExitError(ExitFailure, fmt.Sprintf("%d step(s) failed", result.Failed))
	}

	if f.IsJSON() {
		if exitErr != nil {
			if err := f.Failure(ErrCodeOperation, exitErr.Error(), result); err != nil {
				return err
			}
			return exitErr
		}
		return f.Success(result)
	}

	w := f.Writer
	if result.Resumed > 0 {
		fmt.Fprintf(w, "Resumed %s from %d journaled operation(s)\n", result.Store, result.Resumed)
	}
	for _, s := range result.Steps {
		label := s.Op
		if s.Name != "" {
			label += " " + s.Name
		}
		switch {
		case s.Error != "":
			fmt.Fprintf(w, "%s [%d] %s: %s\n", markFail, s.Index, label, s.Error)
		case s.Result != nil:
			fmt.Fprintf(w, "%s [%d] %s %s %s\n", markOK, s.Index, label, arrow, formatAny(s.Result))
		default:
			fmt.Fprintf(w, "%s [%d] %s\n", markOK, s.Index, label)
		}
	}
	fmt.Fprintf(w, "\nState: %s\n", formatAny(result.State))
	fmt.Fprintf(w, "Digest: %s\n", result.Digest)
	return exitErr
}

// reportLoadError prints a session or store failure with its code.
func reportLoadError(f *OutputFormatter, err error) error {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return commandError(f, loadErr.Code, loadErr.Message)
	}
	return commandError(f, ErrCodeGeneric, err.Error())
}

// formatAny renders a result as canonical JSON.
func formatAny(v any) string {
	b, err := value.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
