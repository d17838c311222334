package store

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/statekeeper/internal/bus"
	"github.com/roach88/statekeeper/internal/status"
	"github.com/roach88/statekeeper/internal/value"
)

// Store is a transactional reactive state container.
//
// Thread-safety model:
//   - Commit, Dispatch, Set, Reset, Flush, Rollback, Register: serialized
//     by the operation lock
//   - State, Field, Has, Keys, Revision, Get, Subscribe: safe from any
//     goroutine, including from inside actions and listeners
//   - DispatchAsync: safe from any goroutine; runs on the queue worker
//
// INVARIANTS:
//   - state, stage and backup never share nested structure
//   - after a completed outermost operation, stage deep-equals state
//   - the status stack is [idle] whenever no operation is running
type Store struct {
	// mu is the operation lock. It guards stage, txID, listening and idleErr.
	mu        sync.Mutex
	stage     value.Object
	txID      string
	listening int
	idleErr   error

	stateMu      sync.RWMutex
	state        value.Object
	backup       value.Object
	revisions    map[string]uint64
	objectFields map[string]bool // fields whose initial value was an Object

	regMu     sync.RWMutex
	mutations map[string]Mutation
	actions   map[string]Action
	getters   map[string]Getter

	cacheMu sync.Mutex
	cache   map[string]value.Value

	bus     *bus.Bus
	tracker *status.Tracker
	queue   *actionQueue

	clock         Clock
	ids           IDGenerator
	logger        *slog.Logger
	recurse       bool
	mode          Mode
	opDepth       depthQuota
	listenerDepth depthQuota

	tx        *Tx
	stageView *Stage
}

// New creates a store from def.
//
// Construction synthesizes a default setter mutation for every state field
// (an explicit mutation of the same name wins), deep-clones the initial
// state independently into state, stage and backup, and subscribes every
// entry of def.Events. An unknown event name fails with INVALID_SUBSCRIPTION.
func New(def Definition, opts ...Option) (*Store, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if _, err := ParseMode(string(cfg.mode)); err != nil {
		return nil, err
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.clock == nil {
		cfg.clock = NewClock()
	}
	if cfg.ids == nil {
		cfg.ids = UUIDv7Generator{}
	}

	s := &Store{
		stage:         value.Object{},
		state:         value.Object{},
		backup:        value.Object{},
		revisions:     make(map[string]uint64),
		objectFields:  make(map[string]bool),
		mutations:     make(map[string]Mutation),
		actions:       make(map[string]Action),
		getters:       make(map[string]Getter),
		cache:         make(map[string]value.Value),
		bus:           bus.New(),
		queue:         newActionQueue(),
		clock:         cfg.clock,
		ids:           cfg.ids,
		logger:        cfg.logger,
		recurse:       cfg.recurse,
		mode:          cfg.mode,
		opDepth:       depthQuota{kind: "operation", max: cfg.maxDepth},
		listenerDepth: depthQuota{kind: "listener", max: cfg.maxDepth},
	}
	s.tracker = status.New(s.onIdle)
	s.tx = &Tx{s: s}
	s.stageView = &Stage{s: s}

	if err := s.merge(def); err != nil {
		return nil, err
	}

	s.logger.Debug("store created",
		"fields", len(def.State),
		"mutations", len(s.mutations),
		"actions", len(s.actions),
		"getters", len(s.getters),
		"mode", s.mode,
		"recurse", s.recurse,
	)
	return s, nil
}

// Register merges def into the store.
//
// New state fields are deep-cloned into state, stage and backup, so Reset
// covers them. Existing fields keep their current value. Mutations, actions
// and getters of the same name are replaced. Default setters are added for
// new fields that have no mutation of their own.
func (s *Store) Register(def Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.merge(def); err != nil {
		return err
	}
	s.logger.Debug("definition registered", "fields", len(def.State))
	return nil
}

func (s *Store) merge(def Definition) error {
	if err := validateDefinition(def); err != nil {
		return err
	}

	// Listener names are resolved up front so a bad one leaves the store
	// untouched.
	names := make([]string, 0, len(def.Events))
	for name := range def.Events {
		names = append(names, name)
	}
	slices.Sort(names)
	topics := make([]string, len(names))
	for i, name := range names {
		topic, err := s.resolveTopicWith(name, def)
		if err != nil {
			return err
		}
		topics[i] = topic
	}

	var added []string
	s.stateMu.Lock()
	for _, k := range def.State.SortedKeys() {
		if s.backup.Has(k) || s.state.Has(k) {
			continue
		}
		v := def.State.Get(k)
		s.state[k] = value.Clone(v)
		s.stage[k] = value.Clone(v)
		s.backup[k] = value.Clone(v)
		if _, ok := v.(value.Object); ok {
			s.objectFields[k] = true
		}
		added = append(added, k)
	}
	s.stateMu.Unlock()

	s.regMu.Lock()
	for _, k := range added {
		if _, ok := s.mutations[k]; ok {
			continue
		}
		if _, ok := def.Mutations[k]; ok {
			continue
		}
		s.mutations[k] = setter(k)
	}
	for name, m := range def.Mutations {
		s.mutations[name] = m
	}
	for name, a := range def.Actions {
		s.actions[name] = a
	}
	for name, g := range def.Getters {
		s.getters[name] = g
	}
	s.regMu.Unlock()

	s.clearCache()

	for i, name := range names {
		s.bus.Subscribe(topics[i], s.wrapListener(topics[i], def.Events[name]))
	}
	return nil
}

func validateDefinition(def Definition) error {
	var errs []error
	for name, m := range def.Mutations {
		if m == nil {
			errs = append(errs, fmt.Errorf("mutation %q is nil", name))
		}
	}
	for name, a := range def.Actions {
		if a == nil {
			errs = append(errs, fmt.Errorf("action %q is nil", name))
		}
	}
	for name, g := range def.Getters {
		if !g.valid() {
			errs = append(errs, fmt.Errorf("getter %q has no function; build it with Cached or Parameterized", name))
		}
	}
	for name, l := range def.Events {
		if l == nil {
			errs = append(errs, fmt.Errorf("listener for %q is nil", name))
		}
	}
	return errors.Join(errs...)
}

// State returns a deep copy of the committed state.
func (s *Store) State() value.Object {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return value.CloneObject(s.state)
}

// Field returns a deep copy of one committed field, or Null when absent.
func (s *Store) Field(name string) value.Value {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return value.Clone(s.state.Get(name))
}

// Has reports whether name is a committed field.
func (s *Store) Has(name string) bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state.Has(name)
}

// Keys returns the committed field names in canonical order.
func (s *Store) Keys() []string {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state.SortedKeys()
}

// Backup returns a deep copy of the reset defaults.
func (s *Store) Backup() value.Object {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return value.CloneObject(s.backup)
}

// Revision returns how many times flush or reset replaced field in state.
//
// Fields initialized with an object get a new revision on every flush even
// when their content is unchanged, so a consumer can cheaply detect that
// something under the key may have changed.
func (s *Store) Revision(field string) uint64 {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.revisions[field]
}

// Status returns the current operation status.
func (s *Store) Status() status.Status {
	return s.tracker.Current()
}

// Stack returns a copy of the status stack, bottom first.
func (s *Store) Stack() []status.Status {
	return s.tracker.Stack()
}

// Mode returns the direct-write policy.
func (s *Store) Mode() Mode {
	return s.mode
}

// Mutations returns the registered mutation names, sorted.
func (s *Store) Mutations() []string {
	s.regMu.RLock()
	defer s.regMu.RUnlock()
	return sortedKeys(s.mutations)
}

// Actions returns the registered action names, sorted.
func (s *Store) Actions() []string {
	s.regMu.RLock()
	defer s.regMu.RUnlock()
	return sortedKeys(s.actions)
}

// Getters returns the registered getter names, sorted.
func (s *Store) Getters() []string {
	s.regMu.RLock()
	defer s.regMu.RUnlock()
	return sortedKeys(s.getters)
}

// HasMutation reports whether name is a registered mutation.
func (s *Store) HasMutation(name string) bool {
	s.regMu.RLock()
	defer s.regMu.RUnlock()
	_, ok := s.mutations[name]
	return ok
}

// HasAction reports whether name is a registered action.
func (s *Store) HasAction(name string) bool {
	s.regMu.RLock()
	defer s.regMu.RUnlock()
	_, ok := s.actions[name]
	return ok
}

// HasGetter reports whether name is a registered getter.
func (s *Store) HasGetter(name string) bool {
	s.regMu.RLock()
	defer s.regMu.RUnlock()
	_, ok := s.getters[name]
	return ok
}

// IsParameterizedGetter reports whether name is a getter that takes
// arguments and is never cached.
func (s *Store) IsParameterizedGetter(name string) bool {
	s.regMu.RLock()
	defer s.regMu.RUnlock()
	g, ok := s.getters[name]
	return ok && g.IsParameterized()
}

// Snapshot is a committed state copy with its content digest.
type Snapshot struct {
	Digest string
	State  value.Object
}

// Snapshot returns the committed state and its canonical digest.
func (s *Store) Snapshot() (Snapshot, error) {
	state := s.State()
	digest, err := value.Digest(state)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: %w", err)
	}
	return Snapshot{Digest: digest, State: state}, nil
}

// Close stops the async dispatch queue. Dispatches already queued still run;
// Close waits for them. Later DispatchAsync calls fail with ErrClosed.
func (s *Store) Close() error {
	s.queue.Close()
	s.queue.wait()
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
