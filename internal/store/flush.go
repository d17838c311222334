package store

import (
	"slices"

	"github.com/roach88/statekeeper/internal/status"
	"github.com/roach88/statekeeper/internal/value"
)

// Flush reconciles the stage into state.
//
// Field events fire for every changed or removed field. With publish, the
// flush runs under the commit status and a commit event follows when
// anything changed, so flushing twice in a row publishes nothing the second
// time. The getter cache is cleared either way.
func (s *Store) Flush(publish bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush(publish)
}

// Rollback discards staged changes by replacing the stage with a deep copy
// of state. With publish, a rollback event is published.
func (s *Store) Rollback(publish bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rollback(publish)
}

type fieldChange struct {
	name     string
	value    value.Value
	previous value.Value
}

func (s *Store) flush(publish bool) (err error) {
	if publish {
		if err := s.enter(status.Commit, ""); err != nil {
			return err
		}
		defer func() {
			if leaveErr := s.leave(); err == nil {
				err = leaveErr
			}
		}()
	}

	changes := s.reconcile()
	s.clearCache()

	for _, c := range changes {
		ev := Event{Type: EventField, Name: c.name, Value: c.value, Previous: c.previous}
		if err := s.publish(ev, fieldTopic(c.name), string(EventField)); err != nil {
			return err
		}
	}

	if !publish || len(changes) == 0 {
		return nil
	}

	names := make(value.Array, len(changes))
	for i, c := range changes {
		names[i] = value.String(c.name)
	}
	s.logger.Debug("flushed", "changed", len(changes), "tx", s.txID)
	return s.publish(Event{Type: EventCommit, Value: names}, string(EventCommit))
}

// reconcile copies the stage into state and returns the fields whose value
// changed, in canonical order, followed by removed fields.
//
// Without recurse only changed fields are cloned, plus fields whose initial
// value was an object, which always get a fresh copy and a new revision.
// With recurse every field is cloned. Keys missing from the stage are
// removed from state in both modes.
func (s *Store) reconcile() []fieldChange {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	changed, removed := value.Diff(s.state, s.stage)

	if s.recurse || len(s.objectFields) > 0 {
		for _, k := range s.stage.SortedKeys() {
			if (s.recurse || s.objectFields[k]) && !slices.Contains(changed, k) {
				s.state[k] = value.Clone(s.stage.Get(k))
				s.revisions[k]++
			}
		}
	}

	changes := make([]fieldChange, 0, len(changed)+len(removed))
	for _, k := range changed {
		prev, had := s.state[k]
		if !had || prev == nil {
			prev = value.Null{}
		}
		next := s.stage.Get(k)
		s.state[k] = value.Clone(next)
		s.revisions[k]++
		changes = append(changes, fieldChange{name: k, value: value.Clone(next), previous: prev})
	}
	for _, k := range removed {
		prev := s.state.Get(k)
		delete(s.state, k)
		s.revisions[k]++
		changes = append(changes, fieldChange{name: k, value: value.Null{}, previous: prev})
	}
	return changes
}

func (s *Store) rollback(publish bool) (err error) {
	s.push(status.Rollback)
	defer func() {
		if leaveErr := s.leave(); err == nil {
			err = leaveErr
		}
	}()

	s.resetStage()

	if !publish {
		return nil
	}
	return s.publish(Event{Type: EventRollback}, string(EventRollback))
}

// resetStage replaces the stage with a deep copy of state.
func (s *Store) resetStage() {
	s.stateMu.RLock()
	s.stage = value.CloneObject(s.state)
	s.stateMu.RUnlock()
}
