package store

import "fmt"

// DefaultMaxDepth bounds nested operations and nested listener invocations.
// It stops runaway self-dispatching actions and listeners that keep writing
// the fields they listen to.
const DefaultMaxDepth = 256

// depthQuota enforces the nesting limit for one kind of recursion.
//
// Unlike the status stack, which only counts engine operations, a quota is
// checked by whichever path is about to recurse: entering an operation, or
// invoking a listener from inside a publish.
type depthQuota struct {
	kind string // "operation" or "listener"
	max  int
}

// check validates that entering one more level from depth stays within the
// limit. depth is the current level before entering.
func (q depthQuota) check(depth int, name string) error {
	if q.max <= 0 || depth < q.max {
		return nil
	}
	return &Error{
		Code:    ErrCodeDepthExceeded,
		Message: fmt.Sprintf("%s nesting exceeded max depth (%d >= %d)", q.kind, depth, q.max),
		Kind:    q.kind,
		Name:    name,
	}
}
