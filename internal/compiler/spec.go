package compiler

import (
	"cuelang.org/go/cue/token"

	"github.com/roach88/statekeeper/internal/value"
)

// StoreSpec is the compiled form of one `store: <name>: {...}` block.
type StoreSpec struct {
	Name        string
	Description string
	Options     Options

	// Fields in declaration-independent canonical order.
	Fields []FieldSpec

	// Getters are cached derived values; Queries take arguments and are
	// never cached. Both map a name to an expression.
	Getters map[string]string
	Queries map[string]string

	// Listeners keyed by subscription name ("commit", "count",
	// "field:count", "mutate:increment", ...).
	Listeners map[string]ListenerSpec

	Pos token.Pos
}

// Options are the store construction options a definition may set.
type Options struct {
	Recurse  bool
	Mode     string
	Language string
	MaxDepth int
}

// FieldSpec declares one state field with its default value and the
// expressions of the mutations and actions scoped to it.
type FieldSpec struct {
	Name      string
	Default   value.Value
	Mutations map[string]string
	Actions   map[string]string
	Pos       token.Pos
}

// ListenerSpec writes the result of To into field Set whenever the
// subscribed notification fires.
type ListenerSpec struct {
	Set string
	To  string
	Pos token.Pos
}

// FieldNames returns the field names in order.
func (s *StoreSpec) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Field returns the named field.
func (s *StoreSpec) Field(name string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}
