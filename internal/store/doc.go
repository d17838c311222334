// Package store implements the statekeeper transactional state engine.
//
// A Store owns three views of the same data:
//
//   - state: the committed, externally visible snapshot
//   - stage: the working copy that mutations and actions write to
//   - backup: a deep copy of the initial state, used by Reset
//
// Mutations and actions run against the stage. When the outermost operation
// finishes successfully the stage is flushed into state and notifications are
// published; when it fails the stage is rolled back to state and the error is
// returned unchanged.
//
// ARCHITECTURE:
//
// Serialized Operations:
// Commit, Dispatch, Set, Reset, Flush, Rollback and Register hold the
// operation lock for their whole duration, including any blocking work inside
// an action. Two dispatches never interleave on the shared stage.
// DispatchAsync enqueues onto a FIFO queue drained by one goroutine, so
// concurrently started asynchronous dispatches run one after the other.
//
// Reads (State, Field, Keys, Revision, Get) do not take the operation lock.
// They observe committed state only and never see a half-applied stage.
//
// Re-entrancy:
// Actions, mutations and listeners run with the operation lock held. They
// reach the store through the *Tx and *Stage they are given. Calling
// Commit, Dispatch, Set, Reset, Flush, Rollback, Register or Close on the
// same Store from inside one of them deadlocks.
//
// Notification Order:
// Within one outermost operation, field events fire first, then the
// phase-class event (commit, then mutate or dispatch and the per-name
// event), then idle once the status stack unwinds. Nested operations never
// flush or publish on their own.
package store
