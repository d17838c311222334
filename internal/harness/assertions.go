package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/statekeeper/internal/status"
	"github.com/roach88/statekeeper/internal/store"
	"github.com/roach88/statekeeper/internal/value"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s\n", event.Seq, event.Key(), formatValue(event.Value))
		}
	}
	return buf.String()
}

// assertState checks the final committed state against the expected field
// values (subset match: unlisted fields are ignored).
func assertState(state value.Object, assertion Assertion) error {
	keys := make([]string, 0, len(assertion.Expect))
	for k := range assertion.Expect {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, key := range keys {
		want, err := value.FromGo(assertion.Expect[key])
		if err != nil {
			return fmt.Errorf("state assertion: field %q: %w", key, err)
		}
		if !state.Has(key) {
			return &AssertionError{
				Type:     AssertState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("fields present: %v", state.SortedKeys()),
			}
		}
		if got := state.Get(key); !value.Equal(want, got) {
			return &AssertionError{
				Type:     AssertState,
				Expected: fmt.Sprintf("field %q = %s", key, formatValue(want)),
				Actual:   fmt.Sprintf("field %q = %s", key, formatValue(got)),
			}
		}
	}
	return nil
}

// assertGetter reads a getter from the final store and compares it.
func assertGetter(st *store.Store, assertion Assertion) error {
	args, err := convertArgs(assertion.Args)
	if err != nil {
		return fmt.Errorf("getter assertion: %w", err)
	}
	want, err := value.FromGo(assertion.Equals)
	if err != nil {
		return fmt.Errorf("getter assertion: equals: %w", err)
	}

	got, err := st.Get(assertion.Name, args...)
	if err != nil {
		return &AssertionError{
			Type:     AssertGetter,
			Expected: fmt.Sprintf("getter %s = %s", assertion.Name, formatValue(want)),
			Actual:   fmt.Sprintf("error: %v", err),
		}
	}
	if !value.Equal(want, got) {
		return &AssertionError{
			Type:     AssertGetter,
			Expected: fmt.Sprintf("getter %s = %s", assertion.Name, formatValue(want)),
			Actual:   fmt.Sprintf("getter %s = %s", assertion.Name, formatValue(got)),
		}
	}
	return nil
}

// assertEventCount checks that events of the given type (and name, when
// set) appear exactly Count times.
func assertEventCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type != assertion.Event {
			continue
		}
		if assertion.Name != "" && event.Name != assertion.Name {
			continue
		}
		count++
	}

	if count != assertion.Count {
		what := assertion.Event
		if assertion.Name != "" {
			what += ":" + assertion.Name
		}
		return &AssertionError{
			Type:     AssertEventCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, what),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertEventOrder checks that the listed events appear in order.
// Events don't need to be consecutive (intervening events are allowed).
// Each entry matches the first unconsumed event with that key, so repeated
// entries match successive occurrences.
func assertEventOrder(trace []TraceEvent, assertion Assertion) error {
	pos := 0
	for i, want := range assertion.Events {
		found := false
		for pos < len(trace) {
			key := trace[pos].Key()
			pos++
			if key == want || trace[pos-1].Type == want {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertEventOrder,
				Expected: fmt.Sprintf("events in order: %v", assertion.Events),
				Actual:   fmt.Sprintf("%s (entry %d) not found after the preceding entries", want, i+1),
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertStatus checks the final status and that no operation is left open.
func assertStatus(st *store.Store, assertion Assertion) error {
	want := status.Status(fmt.Sprint(assertion.Equals))
	got := st.Status()
	if got != want {
		return &AssertionError{
			Type:     AssertStatus,
			Expected: fmt.Sprintf("status %s", want),
			Actual:   fmt.Sprintf("status %s (stack %v)", got, st.Stack()),
		}
	}
	if want == status.Idle && len(st.Stack()) != 1 {
		return &AssertionError{
			Type:     AssertStatus,
			Expected: "status stack [idle]",
			Actual:   fmt.Sprintf("status stack %v", st.Stack()),
		}
	}
	return nil
}

// AssertionContext provides the live store for assertions that read it.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertState:
			err = assertState(result.State, assertion)
		case AssertEventCount:
			err = assertEventCount(result.Trace, assertion)
		case AssertEventOrder:
			err = assertEventOrder(result.Trace, assertion)
		case AssertGetter, AssertStatus:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: %s requires a store", i, assertion.Type)
			} else if assertion.Type == AssertGetter {
				err = assertGetter(actx.Store, assertion)
			} else {
				err = assertStatus(actx.Store, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}
