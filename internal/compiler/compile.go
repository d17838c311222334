package compiler

import (
	"fmt"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/statekeeper/internal/value"
)

// CompileStore parses a CUE value into a StoreSpec.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the store struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`store: counter: { fields: count: default: 0 }`)
//	spec, err := CompileStore(v.LookupPath(cue.ParsePath("store.counter")))
func CompileStore(v cue.Value) (*StoreSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &StoreSpec{
		Getters:   map[string]string{},
		Queries:   map[string]string{},
		Listeners: map[string]ListenerSpec{},
		Pos:       v.Pos(),
	}

	labels := v.Path().Selectors()
	if len(labels) > 0 {
		spec.Name = strings.Trim(labels[len(labels)-1].String(), `"`)
	}

	var err error
	if spec.Description, err = optionalString(v, "description"); err != nil {
		return nil, err
	}
	if spec.Options, err = parseOptions(v); err != nil {
		return nil, err
	}

	// Fields (required, at least one)
	spec.Fields, err = parseFields(v)
	if err != nil {
		return nil, err
	}
	if len(spec.Fields) == 0 {
		return nil, &CompileError{
			Field:   "fields",
			Message: "at least one field is required",
			Pos:     v.Pos(),
		}
	}

	if spec.Getters, err = parseExpressionMap(v, "getters"); err != nil {
		return nil, err
	}
	if spec.Queries, err = parseExpressionMap(v, "queries"); err != nil {
		return nil, err
	}
	if spec.Listeners, err = parseListeners(v); err != nil {
		return nil, err
	}

	return spec, nil
}

func parseOptions(v cue.Value) (Options, error) {
	var opts Options
	optVal := v.LookupPath(cue.ParsePath("options"))
	if !optVal.Exists() {
		return opts, nil
	}

	if r := optVal.LookupPath(cue.ParsePath("recurse")); r.Exists() {
		b, err := r.Bool()
		if err != nil {
			return opts, formatCUEError(err)
		}
		opts.Recurse = b
	}

	var err error
	if opts.Mode, err = optionalString(optVal, "mode"); err != nil {
		return opts, err
	}
	if opts.Language, err = optionalString(optVal, "language"); err != nil {
		return opts, err
	}

	if d := optVal.LookupPath(cue.ParsePath("max_depth")); d.Exists() {
		n, err := d.Int64()
		if err != nil {
			return opts, formatCUEError(err)
		}
		opts.MaxDepth = int(n)
	}
	return opts, nil
}

// parseFields extracts field declarations in canonical name order.
func parseFields(v cue.Value) ([]FieldSpec, error) {
	fieldsVal := v.LookupPath(cue.ParsePath("fields"))
	if !fieldsVal.Exists() {
		return nil, nil
	}

	iter, err := fieldsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var fields []FieldSpec
	for iter.Next() {
		name := iter.Label()
		fieldVal := iter.Value()

		field := FieldSpec{
			Name:    name,
			Default: value.Null{},
			Pos:     fieldVal.Pos(),
		}

		if def := fieldVal.LookupPath(cue.ParsePath("default")); def.Exists() {
			field.Default, err = decodeValue(def, fmt.Sprintf("fields.%s.default", name))
			if err != nil {
				return nil, err
			}
		}

		if field.Mutations, err = parseExpressionMap(fieldVal, "mutations"); err != nil {
			return nil, err
		}
		if field.Actions, err = parseExpressionMap(fieldVal, "actions"); err != nil {
			return nil, err
		}

		fields = append(fields, field)
	}

	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
	return fields, nil
}

// parseExpressionMap reads a struct of name: "expression" pairs.
func parseExpressionMap(v cue.Value, path string) (map[string]string, error) {
	out := map[string]string{}
	mapVal := v.LookupPath(cue.ParsePath(path))
	if !mapVal.Exists() {
		return out, nil
	}

	iter, err := mapVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		src, err := iter.Value().String()
		if err != nil {
			return nil, &CompileError{
				Field:   path + "." + iter.Label(),
				Message: "must be an expression string",
				Pos:     iter.Value().Pos(),
			}
		}
		out[iter.Label()] = src
	}
	return out, nil
}

func parseListeners(v cue.Value) (map[string]ListenerSpec, error) {
	out := map[string]ListenerSpec{}
	eventsVal := v.LookupPath(cue.ParsePath("events"))
	if !eventsVal.Exists() {
		return out, nil
	}

	iter, err := eventsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		topic := iter.Label()
		lv := iter.Value()

		set, err := optionalString(lv, "set")
		if err != nil {
			return nil, err
		}
		to, err := optionalString(lv, "to")
		if err != nil {
			return nil, err
		}
		if set == "" || to == "" {
			return nil, &CompileError{
				Field:   "events." + topic,
				Message: "listener requires both set and to",
				Pos:     lv.Pos(),
			}
		}
		out[topic] = ListenerSpec{Set: set, To: to, Pos: lv.Pos()}
	}
	return out, nil
}

func optionalString(v cue.Value, path string) (string, error) {
	sv := v.LookupPath(cue.ParsePath(path))
	if !sv.Exists() {
		return "", nil
	}
	s, err := sv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

// decodeValue converts a concrete CUE value into a Value.
func decodeValue(v cue.Value, field string) (value.Value, error) {
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, &CompileError{
			Field:   field,
			Message: "default must be concrete",
			Pos:     v.Pos(),
		}
	}
	var raw any
	if err := v.Decode(&raw); err != nil {
		return nil, formatCUEError(err)
	}
	out, err := value.FromGo(raw)
	if err != nil {
		return nil, &CompileError{
			Field:   field,
			Message: err.Error(),
			Pos:     v.Pos(),
		}
	}
	return out, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
