package journal

import (
	"context"
	"fmt"

	"github.com/roach88/statekeeper/internal/store"
	"github.com/roach88/statekeeper/internal/value"
)

// ReplayStats summarizes a replay.
type ReplayStats struct {
	Operations   int   `json:"operations"`
	Transactions int   `json:"transactions"`
	LastSeq      int64 `json:"last_seq"`
}

// operationTypes are the phase events published once per successful
// outermost operation. Nested commits and listener writes never produce
// them, so re-running exactly these entries rebuilds the state.
var operationTypes = []store.EventType{
	store.EventMutate,
	store.EventDispatch,
	store.EventUpdate,
	store.EventReset,
}

// Replay re-applies the operations recorded for storeName to s, in
// publication order. s should be a fresh store built from the same
// definition; its listeners run again as part of each operation.
//
// Only successful operations are journaled as phase events, so any replay
// error means the definition is not deterministic (or changed) and aborts
// the replay.
func (j *Journal) Replay(ctx context.Context, storeName string, s *store.Store) (ReplayStats, error) {
	entries, err := j.Entries(ctx, Filter{Store: storeName, Types: operationTypes})
	if err != nil {
		return ReplayStats{}, err
	}

	var stats ReplayStats
	seen := make(map[string]bool)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := apply(ctx, s, e); err != nil {
			return stats, fmt.Errorf("replay %s %q at seq %d: %w", e.Type, e.Name, e.Seq, err)
		}
		stats.Operations++
		stats.LastSeq = e.Seq
		if !seen[e.TxID] {
			seen[e.TxID] = true
			stats.Transactions++
		}
	}

	last, err := j.LastSeq(ctx, storeName)
	if err != nil {
		return stats, err
	}
	stats.LastSeq = last

	j.logger.Debug("journal replayed",
		"store", storeName,
		"operations", stats.Operations,
		"last_seq", stats.LastSeq,
	)
	return stats, nil
}

func apply(ctx context.Context, s *store.Store, e Entry) error {
	switch e.Type {
	case store.EventMutate:
		_, err := s.Commit(e.Name, e.Args...)
		return err
	case store.EventDispatch:
		_, err := s.Dispatch(ctx, e.Name, e.Args...)
		return err
	case store.EventUpdate:
		var v value.Value = value.Null{}
		if len(e.Args) > 0 {
			v = e.Args[0]
		}
		return s.Set(e.Name, v)
	case store.EventReset:
		return s.Reset(e.Name)
	default:
		return fmt.Errorf("entry type %q is not an operation", e.Type)
	}
}

// LastSeq returns the highest recorded seq for storeName, or 0.
// A store resuming from the journal should start its clock there.
func (j *Journal) LastSeq(ctx context.Context, storeName string) (int64, error) {
	var seq int64
	err := j.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM notifications WHERE store = ?`, storeName,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("query last seq: %w", err)
	}
	return seq, nil
}

// Stores returns the distinct store names in the journal, sorted.
func (j *Journal) Stores(ctx context.Context) ([]string, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT DISTINCT store FROM notifications ORDER BY store COLLATE BINARY`)
	if err != nil {
		return nil, fmt.Errorf("query stores: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan store: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
