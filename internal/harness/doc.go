// Package harness runs YAML store scenarios as executable contract tests.
//
// A scenario names a store compiled from CUE, runs a sequence of store
// operations against a fresh instance and checks the outcome of each step,
// the notification trace and the final state.
//
// # Scenario Format
//
//	name: counter_basics
//	description: "Increment, then reset"
//	spec: ../stores/counter.cue
//	store: counter
//	setup:
//	  - commit: add
//	    args: [10]
//	steps:
//	  - commit: increment
//	    expect:
//	      result: 11
//	  - set: count
//	    value: 3
//	    expect:
//	      error: ILLEGAL_DIRECT_MUTATION
//	  - reset: count
//	assertions:
//	  - type: state
//	    expect: { count: 0 }
//	  - type: event_order
//	    events: [field:count, commit, mutate:increment, idle]
//
// # Assertion Types
//
//   - state: final committed fields match (subset)
//   - getter: a getter, with optional args, equals a value
//   - event_count: events of a type, optionally with a name, occur N times
//   - event_order: events appear in the listed relative order
//   - status: the final status (normally idle, with nothing left open)
//
// # Deterministic Testing
//
// Every run uses testutil.DeterministicClock for event seqs and
// testutil.SequentialIDGenerator for transaction IDs. Both are rewound after
// setup, so the first recorded event has seq 1 and transaction tx-0001.
// Identical scenarios therefore produce byte-identical snapshots, which
// RunWithGolden compares against testdata/golden with goldie.
package harness
