package journal

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/statekeeper/internal/store"
)

// Attachment is a journal's set of subscriptions on one store.
type Attachment struct {
	s    *store.Store
	name string

	mu   sync.Mutex
	subs []store.Subscription
}

// Name is the store label rows are recorded under.
func (a *Attachment) Name() string {
	return a.name
}

// Detach stops recording. Safe to call more than once.
func (a *Attachment) Detach() {
	a.mu.Lock()
	subs := a.subs
	a.subs = nil
	a.mu.Unlock()
	for _, sub := range subs {
		a.s.Unsubscribe(sub)
	}
}

// Attach records the notifications of s under name: every global event and
// the field events of every field, including fields registered after Attach.
//
// Recording runs inside the store's listeners, so a failed write surfaces as
// the error of the operation that published the notification.
func (j *Journal) Attach(name string, s *store.Store) (*Attachment, error) {
	if name == "" {
		return nil, fmt.Errorf("journal: store name required")
	}

	a := &Attachment{s: s, name: name}
	topics := append(store.GlobalEvents(), string(store.EventField))

	for _, topic := range topics {
		sub, err := s.Subscribe(topic, func(_ *store.Tx, ev store.Event) error {
			return j.Record(context.Background(), name, ev)
		})
		if err != nil {
			a.Detach()
			return nil, fmt.Errorf("journal: attach %s: %w", topic, err)
		}
		a.subs = append(a.subs, sub)
	}

	j.logger.Debug("journal attached", "store", name, "topics", len(topics))
	return a, nil
}

// Record appends one notification. Recording the same notification twice
// is a no-op.
func (j *Journal) Record(ctx context.Context, storeName string, ev store.Event) error {
	id, err := notificationID(storeName, ev.Seq, string(ev.Type), ev.Name)
	if err != nil {
		return fmt.Errorf("record notification: %w", err)
	}
	argsJSON, err := marshalArgs(ev.Args)
	if err != nil {
		return fmt.Errorf("record notification: %w", err)
	}
	valueJSON, err := marshalValue(ev.Value)
	if err != nil {
		return fmt.Errorf("record notification: %w", err)
	}
	prevJSON, err := marshalValue(ev.Previous)
	if err != nil {
		return fmt.Errorf("record notification: %w", err)
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO notifications
		(id, store, seq, tx_id, type, name, args, value, previous)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		id,
		storeName,
		ev.Seq,
		ev.TxID,
		string(ev.Type),
		ev.Name,
		argsJSON,
		valueJSON,
		prevJSON,
	)
	if err != nil {
		j.logger.Warn("journal write failed", "store", storeName, "seq", ev.Seq, "type", ev.Type, "error", err)
		return fmt.Errorf("record notification: %w", err)
	}
	return nil
}
