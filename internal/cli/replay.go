package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/statekeeper/internal/journal"
	"github.com/roach88/statekeeper/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Journal string
	Store   string // optional - every journaled store when empty
}

// ReplayStoreResult holds the replay result for a single store.
type ReplayStoreResult struct {
	Store         string `json:"store"`
	Operations    int    `json:"operations"`
	Transactions  int    `json:"transactions"`
	LastSeq       int64  `json:"last_seq"`
	Digest        string `json:"digest,omitempty"`
	Deterministic bool   `json:"deterministic"`
	Error         string `json:"error,omitempty"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Stores           []ReplayStoreResult `json:"stores"`
	TotalStores      int                 `json:"total_stores"`
	AllDeterministic bool                `json:"all_deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <specs-dir>",
		Short: "Replay the journal and verify determinism",
		Long: `Rebuild journaled stores from their recorded operations and verify
that the rebuild is deterministic.

Each store is replayed twice into fresh stores built from specs-dir. The
two resulting state digests must match, and every recorded operation must
succeed again.

Exit codes:
  0 - All stores replay deterministically
  1 - A replay failed or the digests differ
  2 - Command error (journal not found, unknown store, etc.)

Examples:
  statekeeper replay ./specs --journal ./counter.db
  statekeeper replay ./specs --journal ./app.db --store counter
  statekeeper replay ./specs --journal ./app.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("journal")
	cmd.Flags().StringVar(&opts.Store, "store", "", "replay one store only")

	return cmd
}

func runReplay(opts *ReplayOptions, specsDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	logger := opts.Logger(cmd.ErrOrStderr())
	ctx := context.Background()

	if err := requireFile(opts.Journal); err != nil {
		return commandError(formatter, ErrCodeNotFound, err.Error())
	}
	j, err := journal.Open(opts.Journal, journal.WithLogger(logger))
	if err != nil {
		return commandError(formatter, ErrCodeJournal, fmt.Sprintf("failed to open journal: %v", err))
	}
	defer j.Close()

	loaded, errs := LoadSpecs(specsDir, LoadModeCollectAll)
	if loaded == nil {
		return reportLoadError(formatter, errs[0])
	}

	var names []string
	if opts.Store != "" {
		names = []string{opts.Store}
	} else if names, err = j.Stores(ctx); err != nil {
		return commandError(formatter, ErrCodeJournal, err.Error())
	}

	result := ReplayResult{
		Stores:           make([]ReplayStoreResult, 0, len(names)),
		TotalStores:      len(names),
		AllDeterministic: true,
	}
	for _, name := range names {
		spec, err := loaded.Store(name)
		if err != nil {
			return reportLoadError(formatter, err)
		}
		build := func() (*store.Store, error) {
			return buildStore(spec, logger)
		}
		sr := replayAndVerifyStore(ctx, j, name, build)
		formatter.VerboseLog("Replayed %s: %d operation(s)", name, sr.Operations)
		if !sr.Deterministic {
			result.AllDeterministic = false
		}
		result.Stores = append(result.Stores, sr)
	}

	if formatter.IsJSON() {
		return outputReplayJSON(formatter, result)
	}
	return outputReplayText(formatter.Writer, result, opts.Verbose)
}

// replayAndVerifyStore replays one store twice and compares the digests.
func replayAndVerifyStore(ctx context.Context, j *journal.Journal, name string, build func() (*store.Store, error)) ReplayStoreResult {
	sr := ReplayStoreResult{Store: name}

	var digests [2]string
	for i := range digests {
		s, err := build()
		if err != nil {
			sr.Error = err.Error()
			return sr
		}
		stats, err := j.Replay(ctx, name, s)
		if err != nil {
			s.Close()
			sr.Error = fmt.Sprintf("replay %d: %v", i+1, err)
			return sr
		}
		snap, err := s.Snapshot()
		s.Close()
		if err != nil {
			sr.Error = err.Error()
			return sr
		}
		digests[i] = snap.Digest
		sr.Operations = stats.Operations
		sr.Transactions = stats.Transactions
		sr.LastSeq = stats.LastSeq
	}

	sr.Digest = digests[0]
	sr.Deterministic = digests[0] == digests[1]
	if !sr.Deterministic {
		sr.Error = fmt.Sprintf("digest mismatch: %s != %s", digests[0], digests[1])
	}
	return sr
}

func outputReplayJSON(f *OutputFormatter, result ReplayResult) error {
	if !result.AllDeterministic {
		if err := f.Failure("E_DETERMINISM", "determinism verification failed", result); err != nil {
			return err
		}
		return NewExitError(ExitFailure, "determinism verification failed")
	}
	return f.Success(result)
}

func outputReplayText(w io.Writer, result ReplayResult, verbose bool) error {
	fmt.Fprintf(w, "Replay Summary: %d store(s)\n", result.TotalStores)
	fmt.Fprintln(w)

	for _, s := range result.Stores {
		status := markOK
		if !s.Deterministic {
			status = markFail
		}
		fmt.Fprintf(w, "%s Store: %s\n", status, s.Store)
		fmt.Fprintf(w, "  Operations: %d in %d transaction(s)\n", s.Operations, s.Transactions)
		if verbose {
			fmt.Fprintf(w, "  Last seq: %d\n", s.LastSeq)
			fmt.Fprintf(w, "  Digest: %s\n", s.Digest)
		}
		if s.Error != "" {
			fmt.Fprintf(w, "  Error: %s\n", s.Error)
		}
		fmt.Fprintln(w)
	}

	if result.AllDeterministic {
		fmt.Fprintf(w, "%s All stores verified deterministic\n", markOK)
		return nil
	}

	fmt.Fprintf(w, "%s Determinism verification failed\n", markFail)
	return NewExitError(ExitFailure, "determinism verification failed")
}
