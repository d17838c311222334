// Package bus implements the named-event publish/subscribe registry used by
// the store engine.
//
// Callbacks for one name run in registration order. A callback error aborts
// the publish: later callbacks are skipped and the error is returned together
// with the results gathered so far. Callers rely on this propagate-and-abort
// behavior to surface listener failures, so the bus does not isolate
// callbacks from each other.
//
// Every store owns its own Bus. There is no package-level registry.
package bus

import (
	"slices"
	"sync"
)

// Callback receives the arguments given to Publish and may return a result.
type Callback func(args ...any) (any, error)

// Handle identifies one subscription. The zero Handle is never issued.
type Handle struct {
	name string
	id   uint64
}

// Name returns the event name the handle is subscribed to.
func (h Handle) Name() string {
	return h.name
}

// Valid reports whether h was issued by a Bus.
func (h Handle) Valid() bool {
	return h.id != 0
}

type entry struct {
	id uint64
	cb Callback
}

// Bus is a goroutine-safe registry of named callbacks.
//
// Callbacks run outside the registry lock, so a callback may subscribe or
// unsubscribe while a publish is in progress. Such changes take effect on the
// next Publish.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string][]entry
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]entry)}
}

// Subscribe registers cb under name and returns its handle.
// A nil callback is ignored and yields the zero Handle.
func (b *Bus) Subscribe(name string, cb Callback) Handle {
	if cb == nil {
		return Handle{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	h := Handle{name: name, id: b.nextID}
	b.subs[name] = append(b.subs[name], entry{id: h.id, cb: cb})
	return h
}

// Unsubscribe removes the subscription identified by h.
// Returns false if h is unknown or was already removed.
func (b *Bus) Unsubscribe(h Handle) bool {
	if !h.Valid() {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[h.name]
	idx := slices.IndexFunc(list, func(e entry) bool { return e.id == h.id })
	if idx < 0 {
		return false
	}

	// Copy-on-write: an in-flight Publish may hold the old slice.
	next := make([]entry, 0, len(list)-1)
	next = append(next, list[:idx]...)
	next = append(next, list[idx+1:]...)
	if len(next) == 0 {
		delete(b.subs, h.name)
	} else {
		b.subs[h.name] = next
	}
	return true
}

// Publish invokes every callback subscribed to name, in registration order,
// and returns their results. Publishing to a name without subscribers returns
// an empty slice and no error.
//
// The first callback error stops the publish. The returned slice then holds
// the results of the callbacks that completed before it.
func (b *Bus) Publish(name string, args ...any) ([]any, error) {
	b.mu.RLock()
	list := b.subs[name]
	b.mu.RUnlock()

	results := make([]any, 0, len(list))
	for _, e := range list {
		res, err := e.cb(args...)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// Has reports whether name has at least one subscriber.
func (b *Bus) Has(name string) bool {
	return b.Len(name) > 0
}

// Len returns the number of subscribers for name.
func (b *Bus) Len(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[name])
}

