package store

import (
	"strings"

	"github.com/roach88/statekeeper/internal/status"
	"github.com/roach88/statekeeper/internal/value"
)

// EventType identifies what a notification is about.
type EventType string

const (
	EventIdle     EventType = EventType(status.Idle)
	EventReset    EventType = EventType(status.Reset)
	EventRollback EventType = EventType(status.Rollback)
	EventUpdate   EventType = EventType(status.Update)
	EventCommit   EventType = EventType(status.Commit)
	EventMutate   EventType = EventType(status.Mutate)
	EventDispatch EventType = EventType(status.Dispatch)

	// EventField is published for every state field a flush or reset changed,
	// on the field's own topic and on the "field" topic.
	EventField EventType = "field"
)

// GlobalEvents returns the event names every store accepts.
func GlobalEvents() []string {
	tags := status.All()
	out := make([]string, len(tags))
	for i, s := range tags {
		out[i] = string(s)
	}
	return out
}

// Event is one notification.
//
// Field events carry the new Value and the Previous value (Null when the
// field was added or removed). Mutate and dispatch events carry the Args and
// the operation result in Value. Commit events carry the changed field names
// as an Array in Value. Reset and update events carry the field in Name.
type Event struct {
	Seq      int64
	TxID     string
	Type     EventType
	Name     string
	Args     []value.Value
	Value    value.Value
	Previous value.Value
}

// Topic prefixes for per-name bus subscriptions. A bare name passed to
// Subscribe is resolved to one of these; the prefixed form may also be used
// directly to disambiguate a field from its default setter.
const (
	fieldTopicPrefix    = "field:"
	mutationTopicPrefix = "mutate:"
	actionTopicPrefix   = "dispatch:"
)

func fieldTopic(name string) string    { return fieldTopicPrefix + name }
func mutationTopic(name string) string { return mutationTopicPrefix + name }
func actionTopic(name string) string   { return actionTopicPrefix + name }

// splitTopic separates a prefixed topic into prefix and name.
// A bare name yields an empty prefix.
func splitTopic(topic string) (prefix, name string) {
	for _, p := range []string{fieldTopicPrefix, mutationTopicPrefix, actionTopicPrefix} {
		if rest, ok := strings.CutPrefix(topic, p); ok {
			return p, rest
		}
	}
	return "", topic
}
