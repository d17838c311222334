package compiler

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/statekeeper/internal/expr"
	"github.com/roach88/statekeeper/internal/store"
)

// Validation error codes (E100-E199)
const (
	// General validation errors (E100)
	ErrUnsupportedType = "E100" // unsupported value type for validation

	// StoreSpec errors (E101-E119)
	ErrNoFields         = "E101" // at least one field required
	ErrDuplicateName    = "E102" // construct name used twice
	ErrShadowedSetter   = "E103" // mutation named after a field
	ErrInvalidMode      = "E104" // unknown store mode
	ErrUnknownLanguage  = "E105" // unknown expression engine
	ErrEmptyExpression  = "E106" // expression is blank
	ErrUnknownTarget    = "E107" // listener writes a field that does not exist
	ErrInvalidTopic     = "E108" // listener topic does not resolve
	ErrReservedName     = "E109" // field collides with an expression variable
	ErrInvalidMaxDepth  = "E110" // max_depth is negative
	ErrInvalidFieldName = "E111" // field name is empty or contains ':'
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a compiled store definition.
// Returns all errors found (does not fail-fast).
func Validate(v any) []ValidationError {
	switch spec := v.(type) {
	case *StoreSpec:
		return validateStoreSpec(spec)
	case StoreSpec:
		return validateStoreSpec(&spec)
	default:
		return []ValidationError{{
			Field:   "type",
			Message: fmt.Sprintf("unsupported type: %T", v),
			Code:    ErrUnsupportedType,
		}}
	}
}

func validateStoreSpec(spec *StoreSpec) []ValidationError {
	var errs []ValidationError

	// E101: at least one field
	if len(spec.Fields) == 0 {
		errs = append(errs, ValidationError{
			Field:   "fields",
			Message: "at least one field is required",
			Code:    ErrNoFields,
		})
	}

	errs = append(errs, validateOptions(spec.Options)...)

	fields := make(map[string]bool, len(spec.Fields))
	for _, f := range spec.Fields {
		fields[f.Name] = true
	}

	// Mutation and action names share one namespace per kind across fields.
	mutationOwner := make(map[string]string)
	actionOwner := make(map[string]string)

	for _, f := range spec.Fields {
		line := f.Pos.Line()

		// E111 / E109: field naming
		if f.Name == "" || strings.Contains(f.Name, ":") {
			errs = append(errs, ValidationError{
				Field:   "fields." + f.Name,
				Message: fmt.Sprintf("invalid field name %q", f.Name),
				Code:    ErrInvalidFieldName,
				Line:    line,
			})
		}
		if slices.Contains(expr.ReservedNames(), f.Name) {
			errs = append(errs, ValidationError{
				Field:   "fields." + f.Name,
				Message: fmt.Sprintf("field name %q is reserved for expressions", f.Name),
				Code:    ErrReservedName,
				Line:    line,
			})
		}

		for _, m := range sortedKeys(f.Mutations) {
			path := fmt.Sprintf("fields.%s.mutations.%s", f.Name, m)
			if owner, dup := mutationOwner[m]; dup {
				errs = append(errs, ValidationError{
					Field:   path,
					Message: fmt.Sprintf("duplicate mutation name %q (also declared on field %q)", m, owner),
					Code:    ErrDuplicateName,
					Line:    line,
				})
			}
			mutationOwner[m] = f.Name

			// E103: shadowing a default setter
			if fields[m] {
				errs = append(errs, ValidationError{
					Field:   path,
					Message: fmt.Sprintf("mutation %q replaces the default setter of field %q", m, m),
					Code:    ErrShadowedSetter,
					Line:    line,
				})
			}
			errs = append(errs, validateExpression(path, f.Mutations[m], line)...)
		}

		for _, a := range sortedKeys(f.Actions) {
			path := fmt.Sprintf("fields.%s.actions.%s", f.Name, a)
			if owner, dup := actionOwner[a]; dup {
				errs = append(errs, ValidationError{
					Field:   path,
					Message: fmt.Sprintf("duplicate action name %q (also declared on field %q)", a, owner),
					Code:    ErrDuplicateName,
					Line:    line,
				})
			}
			actionOwner[a] = f.Name
			errs = append(errs, validateExpression(path, f.Actions[a], line)...)
		}
	}

	// Getters and queries share the getter namespace.
	for _, g := range sortedKeys(spec.Getters) {
		errs = append(errs, validateExpression("getters."+g, spec.Getters[g], 0)...)
	}
	for _, q := range sortedKeys(spec.Queries) {
		if _, dup := spec.Getters[q]; dup {
			errs = append(errs, ValidationError{
				Field:   "queries." + q,
				Message: fmt.Sprintf("duplicate getter name %q", q),
				Code:    ErrDuplicateName,
			})
		}
		errs = append(errs, validateExpression("queries."+q, spec.Queries[q], 0)...)
	}

	for _, topic := range sortedKeys(spec.Listeners) {
		l := spec.Listeners[topic]
		path := "events." + topic
		line := l.Pos.Line()

		if !topicResolves(topic, fields, mutationOwner, actionOwner) {
			errs = append(errs, ValidationError{
				Field:   path,
				Message: fmt.Sprintf("%q is not a notification, field, mutation or action", topic),
				Code:    ErrInvalidTopic,
				Line:    line,
			})
		}
		if !fields[l.Set] {
			errs = append(errs, ValidationError{
				Field:   path + ".set",
				Message: fmt.Sprintf("listener writes unknown field %q", l.Set),
				Code:    ErrUnknownTarget,
				Line:    line,
			})
		}
		errs = append(errs, validateExpression(path+".to", l.To, line)...)
	}

	return errs
}

func validateOptions(opts Options) []ValidationError {
	var errs []ValidationError
	if opts.Mode != "" {
		if _, err := store.ParseMode(opts.Mode); err != nil {
			errs = append(errs, ValidationError{
				Field:   "options.mode",
				Message: err.Error(),
				Code:    ErrInvalidMode,
			})
		}
	}
	if opts.Language != "" && !isKnownLanguage(opts.Language) {
		errs = append(errs, ValidationError{
			Field:   "options.language",
			Message: fmt.Sprintf("unknown language %q, must be one of %s", opts.Language, strings.Join(knownLanguages(), ", ")),
			Code:    ErrUnknownLanguage,
		})
	}
	if opts.MaxDepth < 0 {
		errs = append(errs, ValidationError{
			Field:   "options.max_depth",
			Message: "max_depth must not be negative",
			Code:    ErrInvalidMaxDepth,
		})
	}
	return errs
}

func validateExpression(path, src string, line int) []ValidationError {
	if strings.TrimSpace(src) != "" {
		return nil
	}
	return []ValidationError{{
		Field:   path,
		Message: "expression must not be empty",
		Code:    ErrEmptyExpression,
		Line:    line,
	}}
}

// topicResolves mirrors the store's subscription name resolution. Every
// field also has a default setter mutation.
func topicResolves(topic string, fields map[string]bool, mutations, actions map[string]string) bool {
	if slices.Contains(store.GlobalEvents(), topic) || topic == string(store.EventField) {
		return true
	}
	prefix, name, found := strings.Cut(topic, ":")
	if !found {
		name, prefix = topic, ""
	}
	_, isMutation := mutations[name]
	_, isAction := actions[name]
	switch prefix {
	case "":
		return fields[name] || isMutation || isAction
	case "field":
		return fields[name]
	case "mutate":
		return fields[name] || isMutation
	case "dispatch":
		return isAction
	}
	return false
}

// knownLanguages lists every engine name a definition may declare, whether
// or not it is compiled into this binary.
func knownLanguages() []string {
	return []string{expr.EngineCEL, expr.EngineExpr, expr.EngineJS}
}

func isKnownLanguage(lang string) bool {
	return slices.Contains(knownLanguages(), lang)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
