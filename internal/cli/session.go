package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/statekeeper/internal/journal"
	"github.com/roach88/statekeeper/internal/store"
)

// session is a live store resumed from its journal. Operations applied to
// Store are recorded in Journal under Name.
type session struct {
	Name    string
	Store   *store.Store
	Journal *journal.Journal
	Resumed journal.ReplayStats

	attachment *journal.Attachment
}

// openSession opens the journal, rebuilds the named store by replaying the
// operations already recorded for it, then starts recording.
//
// The store clock starts after the last recorded seq so new notifications
// never reuse a journal position.
func openSession(ctx context.Context, specsDir, name, journalPath string, logger *slog.Logger) (*session, error) {
	j, err := journal.Open(journalPath, journal.WithLogger(logger))
	if err != nil {
		return nil, &LoadError{Code: ErrCodeJournal, Message: fmt.Sprintf("failed to open journal: %v", err)}
	}

	last, err := j.LastSeq(ctx, name)
	if err != nil {
		j.Close()
		return nil, &LoadError{Code: ErrCodeJournal, Message: err.Error()}
	}

	s, _, err := OpenStore(specsDir, name, logger, store.WithClock(store.NewClockAt(last)))
	if err != nil {
		j.Close()
		return nil, err
	}

	stats, err := j.Replay(ctx, name, s)
	if err != nil {
		s.Close()
		j.Close()
		return nil, &LoadError{Code: ErrCodeJournal, Message: fmt.Sprintf("failed to resume store: %v", err)}
	}
	logger.Debug("store resumed", "store", name, "operations", stats.Operations, "last_seq", stats.LastSeq)

	att, err := j.Attach(name, s)
	if err != nil {
		s.Close()
		j.Close()
		return nil, &LoadError{Code: ErrCodeJournal, Message: fmt.Sprintf("failed to attach journal: %v", err)}
	}

	return &session{
		Name:       name,
		Store:      s,
		Journal:    j,
		Resumed:    stats,
		attachment: att,
	}, nil
}

// txSince returns the transaction IDs recorded after seq, in order.
func (s *session) txSince(ctx context.Context, seq int64) ([]string, error) {
	entries, err := s.Journal.Entries(ctx, journal.Filter{Store: s.Name, AfterSeq: seq})
	if err != nil {
		return nil, err
	}
	var ids []string
	seen := map[string]bool{}
	for _, e := range entries {
		if e.TxID != "" && !seen[e.TxID] {
			seen[e.TxID] = true
			ids = append(ids, e.TxID)
		}
	}
	return ids, nil
}

func (s *session) Close() error {
	s.attachment.Detach()
	s.Store.Close()
	return s.Journal.Close()
}
