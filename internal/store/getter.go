package store

import (
	"fmt"

	"github.com/roach88/statekeeper/internal/value"
)

type getterKind int

const (
	getterCached getterKind = iota + 1
	getterParameterized
)

// Getter derives a value from committed state.
//
// Build one with Cached or Parameterized. A cached getter is memoized until
// the next flush or reset; a parameterized getter takes arguments and is
// recomputed on every call.
type Getter struct {
	kind   getterKind
	cached func(v View) (value.Value, error)
	param  func(v View, args ...value.Value) (value.Value, error)
}

// Cached wraps a memoized getter.
func Cached(fn func(v View) (value.Value, error)) Getter {
	return Getter{kind: getterCached, cached: fn}
}

// Parameterized wraps a getter that takes arguments. It is never cached.
func Parameterized(fn func(v View, args ...value.Value) (value.Value, error)) Getter {
	return Getter{kind: getterParameterized, param: fn}
}

// IsParameterized reports whether g takes arguments.
func (g Getter) IsParameterized() bool {
	return g.kind == getterParameterized
}

func (g Getter) valid() bool {
	switch g.kind {
	case getterCached:
		return g.cached != nil
	case getterParameterized:
		return g.param != nil
	default:
		return false
	}
}

// View is a read-only view of committed state handed to getters.
// Every value it returns is a deep copy.
type View struct {
	s *Store
}

// Get returns a copy of field, or Null when absent.
func (v View) Get(field string) value.Value {
	return v.s.Field(field)
}

// Has reports whether field exists in state.
func (v View) Has(field string) bool {
	return v.s.Has(field)
}

// Keys returns the state field names in canonical order.
func (v View) Keys() []string {
	return v.s.Keys()
}

// Object returns a copy of the whole state.
func (v View) Object() value.Object {
	return v.s.State()
}

// Get evaluates the getter name.
//
// Cached getters take no arguments and return the memoized value while state
// is unchanged. Parameterized getters are evaluated on every call. Unknown
// names fail with MISSING_CONSTRUCT.
//
// Get only reads committed state. It may be called from inside actions and
// listeners, but a getter must not call Get itself.
func (s *Store) Get(name string, args ...value.Value) (value.Value, error) {
	s.regMu.RLock()
	g, ok := s.getters[name]
	s.regMu.RUnlock()
	if !ok {
		return nil, newMissingConstruct("getter", name, s.Getters())
	}

	if g.kind == getterParameterized {
		res, err := g.param(View{s: s}, args...)
		if err != nil {
			return nil, err
		}
		return normalize(res), nil
	}

	if len(args) > 0 {
		return nil, fmt.Errorf("getter %q takes no arguments, got %d", name, len(args))
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	if cached, ok := s.cache[name]; ok {
		return value.Clone(cached), nil
	}
	res, err := g.cached(View{s: s})
	if err != nil {
		return nil, err
	}
	res = normalize(res)
	s.cache[name] = res
	return value.Clone(res), nil
}

// clearCache drops every memoized getter value.
func (s *Store) clearCache() {
	s.cacheMu.Lock()
	clear(s.cache)
	s.cacheMu.Unlock()
}

// IsCached reports whether the getter name currently holds a memoized value.
func (s *Store) IsCached(name string) bool {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	_, ok := s.cache[name]
	return ok
}

func normalize(v value.Value) value.Value {
	if v == nil {
		return value.Null{}
	}
	return v
}
