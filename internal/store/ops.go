package store

import (
	"context"
	"fmt"

	"github.com/roach88/statekeeper/internal/status"
	"github.com/roach88/statekeeper/internal/value"
)

// Commit runs the mutation name against the stage.
//
// When no other operation is running, the stage is then flushed into state
// and mutate notifications are published. Unknown names fail with
// MISSING_CONSTRUCT. A mutation error rolls the stage back and is returned
// unchanged. Returns the mutation's result.
func (s *Store) Commit(name string, args ...value.Value) (value.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit(name, args)
}

// Dispatch runs the action name.
//
// Nested dispatches and commits made through the action's Tx accumulate in
// the stage. Only the outermost dispatch flushes and publishes, so state
// reflects all nested changes together or none of them. Any error or panic
// rolls the stage back; errors are returned unchanged and panics re-panic.
func (s *Store) Dispatch(ctx context.Context, name string, args ...value.Value) (value.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dispatch(ctx, name, args)
}

// Set writes field directly.
//
// In ModeTransactional the write runs as a single-field commit under the
// update status: field events, commit, update and idle are published. In
// ModeStrict it fails with ILLEGAL_DIRECT_MUTATION; write through a mutation
// instead.
func (s *Store) Set(field string, v value.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkWrite(field); err != nil {
		return err
	}
	v = normalize(v)
	_, err := s.operate(status.Update, field, []value.Value{v}, func() (value.Value, error) {
		s.stage[field] = value.Clone(v)
		return v, nil
	})
	return err
}

// Reset restores defaults from backup.
//
// When field is present in backup only that field is restored. Otherwise
// (empty or unknown name) every field is restored and fields absent from
// backup are removed. Field events fire for what changed, then reset.
func (s *Store) Reset(field string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stateMu.RLock()
	scoped := field != "" && s.backup.Has(field)
	s.stateMu.RUnlock()
	if !scoped {
		field = ""
	}

	_, err := s.operate(status.Reset, field, nil, func() (value.Value, error) {
		s.stateMu.RLock()
		defer s.stateMu.RUnlock()
		if scoped {
			s.stage[field] = value.Clone(s.backup[field])
		} else {
			s.stage = value.CloneObject(s.backup)
		}
		return nil, nil
	})
	if err == nil {
		s.logger.Debug("store reset", "field", field)
	}
	return err
}

func (s *Store) commit(name string, args []value.Value) (value.Value, error) {
	s.regMu.RLock()
	m, ok := s.mutations[name]
	s.regMu.RUnlock()
	if !ok {
		return nil, newMissingConstruct("mutation", name, s.Mutations())
	}

	s.logger.Debug("commit", "mutation", name, "depth", s.tracker.Depth())
	return s.operate(status.Mutate, name, args, func() (value.Value, error) {
		return m(s.stageView, args...)
	})
}

func (s *Store) dispatch(ctx context.Context, name string, args []value.Value) (value.Value, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.regMu.RLock()
	a, ok := s.actions[name]
	s.regMu.RUnlock()
	if !ok {
		return nil, newMissingConstruct("action", name, s.Actions())
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.logger.Debug("dispatch", "action", name, "depth", s.tracker.Depth())
	return s.operate(status.Dispatch, name, args, func() (value.Value, error) {
		return a(ctx, s.tx, args...)
	})
}

// operate runs body under st and applies the transactional protocol.
//
// On success the outermost operation flushes the stage and publishes the
// phase event. On failure the stage is rolled back: always for dispatch,
// only at the outermost level otherwise. The status is popped on every
// path, firing idle once the stack unwinds. A panic in body rolls back,
// pops and re-panics.
func (s *Store) operate(st status.Status, name string, args []value.Value, body func() (value.Value, error)) (result value.Value, err error) {
	if err := s.enter(st, name); err != nil {
		return nil, err
	}
	outermost := s.tracker.Outermost()
	succeeded := false

	defer func() {
		r := recover()
		if r != nil || !succeeded {
			if st == status.Dispatch || outermost {
				if rbErr := s.rollback(r == nil && outermost); rbErr != nil {
					s.logger.Warn("rollback notification failed", "op", st, "name", name, "error", rbErr)
				}
			}
		}
		if leaveErr := s.leave(); err == nil && r == nil {
			err = leaveErr
		}
		if err != nil && r == nil && outermost {
			s.resetStage()
		}
		if r != nil {
			s.logger.Error("operation panicked", "op", st, "name", name, "panic", r)
			panic(r)
		}
	}()

	result, err = body()
	if err != nil {
		s.logger.Warn("operation failed, rolling back",
			"op", st,
			"name", name,
			"outermost", outermost,
			"error", err,
		)
		return nil, err
	}
	succeeded = true

	if !outermost {
		return result, nil
	}

	// Reset publishes its own event instead of commit.
	if err = s.flush(st != status.Reset); err != nil {
		return result, err
	}
	if err = s.publishPhase(st, name, args, result); err != nil {
		return result, err
	}
	return result, nil
}

// enter pushes st after checking the nesting limit. The first push of an
// outermost operation allocates its transaction ID.
func (s *Store) enter(st status.Status, name string) error {
	if err := s.opDepth.check(s.tracker.Depth(), name); err != nil {
		return err
	}
	s.push(st)
	return nil
}

func (s *Store) push(st status.Status) {
	if s.tracker.IsIdle() {
		s.txID = s.ids.Generate()
	}
	s.tracker.Push(st)
}

// leave pops the status stack. When the pop unwinds to idle, the idle event
// has been published by then and its listener error is returned.
func (s *Store) leave() error {
	s.tracker.Pop()
	if !s.tracker.IsIdle() {
		return nil
	}
	err := s.idleErr
	s.idleErr = nil
	s.txID = ""
	return err
}

// onIdle is the status tracker callback.
func (s *Store) onIdle() {
	if err := s.publish(Event{Type: EventIdle}, string(EventIdle)); err != nil && s.idleErr == nil {
		s.idleErr = err
	}
}

// writeStatuses are the statuses under which strict mode allows stage writes.
var writeStatuses = []status.Status{
	status.Reset, status.Rollback, status.Update, status.Commit, status.Mutate, status.Dispatch,
}

// checkWrite enforces strict mode: a write is legal only while an operation
// or a listener is running.
func (s *Store) checkWrite(field string) error {
	if s.mode != ModeStrict {
		return nil
	}
	if s.listening > 0 || s.tracker.Is(writeStatuses...) {
		return nil
	}
	return newIllegalDirectMutation(field)
}

func (s *Store) publishPhase(st status.Status, name string, args []value.Value, result value.Value) error {
	ev := Event{
		Type:  EventType(st),
		Name:  name,
		Args:  cloneArgs(args),
		Value: value.Clone(result),
	}
	topics := []string{string(st)}
	switch st {
	case status.Mutate:
		topics = append(topics, mutationTopic(name))
	case status.Dispatch:
		topics = append(topics, actionTopic(name))
	}
	return s.publish(ev, topics...)
}

// publish stamps ev and delivers it to each topic in order. The first
// listener error stops delivery.
func (s *Store) publish(ev Event, topics ...string) error {
	ev.Seq = s.clock.Next()
	ev.TxID = s.txID
	for _, topic := range topics {
		if _, err := s.bus.Publish(topic, ev); err != nil {
			return err
		}
	}
	return nil
}

func cloneArgs(args []value.Value) []value.Value {
	if len(args) == 0 {
		return nil
	}
	out := make([]value.Value, len(args))
	for i, a := range args {
		out[i] = value.Clone(normalize(a))
	}
	return out
}

// String implements fmt.Stringer for log output.
func (e Event) String() string {
	if e.Name == "" {
		return fmt.Sprintf("#%d %s", e.Seq, e.Type)
	}
	return fmt.Sprintf("#%d %s %s", e.Seq, e.Type, e.Name)
}
