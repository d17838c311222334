package store

import (
	"errors"
	"maps"
	"slices"

	"github.com/roach88/statekeeper/internal/bus"
)

// Subscription identifies a registered listener.
type Subscription struct {
	handle bus.Handle

	// Name is the name passed to Subscribe.
	Name string

	// Topic is the resolved bus topic ("commit", "field:count", ...).
	Topic string
}

// Subscribe registers l for name.
//
// Accepted names, resolved in this order:
//   - the global events: idle, reset, rollback, update, commit, mutate, dispatch
//   - "field": field events for every field, including ones registered later
//   - a state field: field events for that field
//   - a mutation: fires after an outermost commit of that mutation
//   - an action: fires after an outermost dispatch of that action
//
// Prefixing the name with "field:", "mutate:" or "dispatch:" selects the
// kind explicitly, which is needed to listen to a default setter rather
// than the field of the same name. Unknown names fail with
// INVALID_SUBSCRIPTION listing the valid choices.
//
// After l returns, the stage is flushed into state without a commit event.
func (s *Store) Subscribe(name string, l Listener) (Subscription, error) {
	if l == nil {
		return Subscription{}, errors.New("store: nil listener")
	}
	topic, err := s.resolveTopic(name)
	if err != nil {
		return Subscription{}, err
	}
	h := s.bus.Subscribe(topic, s.wrapListener(topic, l))
	return Subscription{handle: h, Name: name, Topic: topic}, nil
}

// Unsubscribe removes sub. Returns false if it was already removed.
func (s *Store) Unsubscribe(sub Subscription) bool {
	return s.bus.Unsubscribe(sub.handle)
}

func (s *Store) resolveTopic(name string) (string, error) {
	return s.resolveTopicWith(name, Definition{})
}

// resolveTopicWith resolves name as if def had already been merged, so a
// definition's listeners can be checked before any of it is applied.
func (s *Store) resolveTopicWith(name string, def Definition) (string, error) {
	if slices.Contains(GlobalEvents(), name) || name == string(EventField) {
		return name, nil
	}

	prefix, bare := splitTopic(name)

	_, newMutation := def.Mutations[bare]
	_, newAction := def.Actions[bare]
	newField := def.State.Has(bare)

	s.regMu.RLock()
	_, isMutation := s.mutations[bare]
	_, isAction := s.actions[bare]
	s.regMu.RUnlock()

	s.stateMu.RLock()
	isField := s.state.Has(bare) || s.backup.Has(bare)
	s.stateMu.RUnlock()

	isField = isField || newField
	// New fields get a default setter of the same name.
	isMutation = isMutation || newMutation || newField
	isAction = isAction || newAction

	switch {
	case (prefix == "" || prefix == fieldTopicPrefix) && isField:
		return fieldTopic(bare), nil
	case (prefix == "" || prefix == mutationTopicPrefix) && isMutation:
		return mutationTopic(bare), nil
	case (prefix == "" || prefix == actionTopicPrefix) && isAction:
		return actionTopic(bare), nil
	}
	return "", newInvalidSubscription(name, s.subscriptionChoices(def))
}

// subscriptionChoices lists the global events and "field", followed by every
// field, mutation and action name, each group sorted. Names from def are
// included.
func (s *Store) subscriptionChoices(def Definition) []string {
	choices := append(GlobalEvents(), string(EventField))
	seen := make(map[string]bool, len(choices))
	for _, c := range choices {
		seen[c] = true
	}
	add := func(names []string) {
		slices.Sort(names)
		for _, n := range names {
			if !seen[n] {
				seen[n] = true
				choices = append(choices, n)
			}
		}
	}
	add(append(s.Keys(), def.State.SortedKeys()...))
	add(append(s.Mutations(), slices.Collect(maps.Keys(def.Mutations))...))
	add(append(s.Actions(), slices.Collect(maps.Keys(def.Actions))...))
	return choices
}

// wrapListener adapts l to a bus callback. Listeners always run on the
// goroutine holding the operation lock, because every publish happens inside
// an operation.
func (s *Store) wrapListener(topic string, l Listener) bus.Callback {
	return func(args ...any) (any, error) {
		if len(args) == 0 {
			return nil, nil
		}
		ev, ok := args[0].(Event)
		if !ok {
			return nil, nil
		}
		if err := s.listenerDepth.check(s.listening, topic); err != nil {
			return nil, err
		}

		s.listening++
		defer func() { s.listening-- }()

		// A failed listener's staged writes never reach state.
		if err := l(s.tx, ev); err != nil {
			s.resetStage()
			return nil, err
		}
		return nil, s.flush(false)
	}
}
