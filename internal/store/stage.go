package store

import (
	"github.com/roach88/statekeeper/internal/value"
)

// Stage is the working copy mutations and actions write to.
//
// A Stage is only valid for the duration of the mutation, action or listener
// it was handed to. Get returns live values: modifying a returned Array or
// Object in place changes the stage directly.
//
// In strict mode Set, Delete and Update fail with ILLEGAL_DIRECT_MUTATION
// when no operation or listener is running.
type Stage struct {
	s *Store
}

// Get returns the staged value of field, or Null when absent.
func (st *Stage) Get(field string) value.Value {
	return st.s.stage.Get(field)
}

// Has reports whether field is present in the stage.
func (st *Stage) Has(field string) bool {
	return st.s.stage.Has(field)
}

// Keys returns the staged field names in canonical order.
func (st *Stage) Keys() []string {
	return st.s.stage.SortedKeys()
}

// Len returns the number of staged fields.
func (st *Stage) Len() int {
	return len(st.s.stage)
}

// Set stores a deep copy of v under field.
func (st *Stage) Set(field string, v value.Value) error {
	if err := st.s.checkWrite(field); err != nil {
		return err
	}
	st.s.stage[field] = value.Clone(normalize(v))
	return nil
}

// Delete removes field from the stage. The next flush removes it from state.
func (st *Stage) Delete(field string) error {
	if err := st.s.checkWrite(field); err != nil {
		return err
	}
	delete(st.s.stage, field)
	return nil
}

// Update replaces field with fn applied to its current staged value.
func (st *Stage) Update(field string, fn func(cur value.Value) (value.Value, error)) error {
	if err := st.s.checkWrite(field); err != nil {
		return err
	}
	next, err := fn(st.s.stage.Get(field))
	if err != nil {
		return err
	}
	st.s.stage[field] = value.Clone(normalize(next))
	return nil
}

// Object returns a deep copy of the whole stage.
func (st *Stage) Object() value.Object {
	return value.CloneObject(st.s.stage)
}
