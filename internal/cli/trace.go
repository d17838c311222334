package cli

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/statekeeper/internal/journal"
	"github.com/roach88/statekeeper/internal/store"
	"github.com/roach88/statekeeper/internal/value"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Journal string
	Store   string
	TxID    string
	Types   []string
	Name    string
	Limit   int
}

// TraceEvent is one journaled notification in the timeline.
type TraceEvent struct {
	Seq      int64  `json:"seq"`
	Store    string `json:"store"`
	TxID     string `json:"tx_id,omitempty"`
	Type     string `json:"type"`
	Name     string `json:"name,omitempty"`
	Args     []any  `json:"args,omitempty"`
	Value    any    `json:"value,omitempty"`
	Previous any    `json:"previous,omitempty"`
}

// TraceTransaction groups the notifications published under one tx ID.
type TraceTransaction struct {
	TxID  string   `json:"tx_id"`
	Store string   `json:"store"`
	Phase string   `json:"phase,omitempty"` // "mutate:increment", "reset:count", ...
	Seqs  []int64  `json:"seqs"`
	Types []string `json:"types"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Timeline     []TraceEvent       `json:"timeline"`
	Transactions []TraceTransaction `json:"transactions"`
	Stats        TraceStats         `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	TotalEvents  int            `json:"total_events"`
	Transactions int            `json:"transactions"`
	ByType       map[string]int `json:"by_type"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show journaled notifications",
		Long: `Show the notifications recorded in a journal.

The output includes:
- Timeline: every matching notification in seq order
- Transactions: notifications grouped by tx ID with the operation that ran
- Stats: counts per notification type

Examples:
  statekeeper trace --journal ./counter.db
  statekeeper trace --journal ./app.db --store counter --type mutate --type reset
  statekeeper trace --journal ./app.db --tx 0190d8e4-... --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("journal")
	cmd.Flags().StringVar(&opts.Store, "store", "", "filter to one store")
	cmd.Flags().StringVar(&opts.TxID, "tx", "", "filter to one transaction")
	cmd.Flags().StringSliceVar(&opts.Types, "type", nil, "filter by notification type (repeatable)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "filter by notification name")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of notifications")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	ctx := context.Background()

	for _, t := range opts.Types {
		if !isEventType(t) {
			return commandError(formatter, ErrCodeGeneric, fmt.Sprintf("unknown notification type %q", t))
		}
	}

	if err := requireFile(opts.Journal); err != nil {
		return commandError(formatter, ErrCodeNotFound, err.Error())
	}
	j, err := journal.Open(opts.Journal, journal.WithLogger(opts.Logger(cmd.ErrOrStderr())))
	if err != nil {
		return commandError(formatter, ErrCodeJournal, fmt.Sprintf("failed to open journal: %v", err))
	}
	defer j.Close()

	filter := journal.Filter{
		Store: opts.Store,
		TxID:  opts.TxID,
		Name:  opts.Name,
		Limit: opts.Limit,
	}
	for _, t := range opts.Types {
		filter.Types = append(filter.Types, store.EventType(t))
	}

	entries, err := j.Entries(ctx, filter)
	if err != nil {
		return commandError(formatter, ErrCodeJournal, err.Error())
	}

	result := buildTrace(entries)
	if len(entries) == 0 {
		if formatter.IsJSON() {
			return formatter.Success(result)
		}
		fmt.Fprintln(formatter.Writer, "No notifications found.")
		return nil
	}

	if formatter.IsJSON() {
		return formatter.Success(result)
	}
	outputTraceText(formatter.Writer, result, opts.Verbose)
	return nil
}

func isEventType(t string) bool {
	switch store.EventType(t) {
	case store.EventField, store.EventCommit, store.EventMutate, store.EventDispatch,
		store.EventUpdate, store.EventReset, store.EventRollback, store.EventIdle:
		return true
	}
	return false
}

// buildTrace converts journal entries into the timeline, transaction
// groups and stats.
func buildTrace(entries []journal.Entry) TraceResult {
	result := TraceResult{
		Timeline:     make([]TraceEvent, 0, len(entries)),
		Transactions: []TraceTransaction{},
		Stats:        TraceStats{TotalEvents: len(entries), ByType: map[string]int{}},
	}

	txIndex := map[string]int{}
	for _, e := range entries {
		ev := TraceEvent{
			Seq:   e.Seq,
			Store: e.Store,
			TxID:  e.TxID,
			Type:  string(e.Type),
			Name:  e.Name,
		}
		if len(e.Args) > 0 {
			ev.Args = value.ToGoSlice(e.Args)
		}
		if e.Value != nil {
			ev.Value = value.ToGo(e.Value)
		}
		if e.Previous != nil {
			ev.Previous = value.ToGo(e.Previous)
		}
		result.Timeline = append(result.Timeline, ev)
		result.Stats.ByType[ev.Type]++

		if e.TxID == "" {
			continue
		}
		i, ok := txIndex[e.TxID]
		if !ok {
			i = len(result.Transactions)
			txIndex[e.TxID] = i
			result.Transactions = append(result.Transactions, TraceTransaction{TxID: e.TxID, Store: e.Store})
		}
		tx := &result.Transactions[i]
		tx.Seqs = append(tx.Seqs, e.Seq)
		tx.Types = append(tx.Types, ev.Type)
		if isPhase(e.Type) {
			tx.Phase = ev.Type
			if e.Name != "" {
				tx.Phase += ":" + e.Name
			}
		}
	}
	result.Stats.Transactions = len(result.Transactions)
	return result
}

// isPhase reports whether t names the operation that opened a transaction.
func isPhase(t store.EventType) bool {
	return t == store.EventMutate || t == store.EventDispatch ||
		t == store.EventUpdate || t == store.EventReset || t == store.EventRollback
}

func outputTraceText(w io.Writer, result TraceResult, verbose bool) {
	fmt.Fprintln(w, "Timeline:")
	for _, ev := range result.Timeline {
		label := ev.Type
		if ev.Name != "" {
			label += ":" + ev.Name
		}
		line := fmt.Sprintf("  [%d] %s %s", ev.Seq, ev.Store, label)
		if ev.Args != nil {
			line += " args=" + formatAny(ev.Args)
		}
		switch {
		case ev.Previous != nil || (ev.Type == string(store.EventField) && ev.Value != nil):
			line += fmt.Sprintf(" %s %s %s", formatAny(ev.Previous), arrow, formatAny(ev.Value))
		case ev.Value != nil:
			line += " " + formatAny(ev.Value)
		}
		if verbose && ev.TxID != "" {
			line += " (tx " + ev.TxID + ")"
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w)

	if len(result.Transactions) > 0 {
		fmt.Fprintln(w, "Transactions:")
		for _, tx := range result.Transactions {
			phase := tx.Phase
			if phase == "" {
				phase = "(no operation)"
			}
			fmt.Fprintf(w, "  %s %s %s [%s]\n", tx.TxID, tx.Store, phase, strings.Join(tx.Types, ", "))
		}
		fmt.Fprintln(w)
	}

	types := make([]string, 0, len(result.Stats.ByType))
	for t := range result.Stats.ByType {
		types = append(types, t)
	}
	slices.Sort(types)
	counts := make([]string, len(types))
	for i, t := range types {
		counts[i] = fmt.Sprintf("%s=%d", t, result.Stats.ByType[t])
	}
	fmt.Fprintf(w, "Stats: %d notification(s), %d transaction(s) (%s)\n",
		result.Stats.TotalEvents, result.Stats.Transactions, strings.Join(counts, " "))
}
