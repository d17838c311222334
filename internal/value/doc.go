// Package value provides the nested data model held by a statekeeper store.
//
// This package is the foundational layer: store, declare, expr, journal and
// harness all import value; value imports nothing internal.
//
// Key design constraints:
//   - Value is sealed: only Null, String, Int, Float, Bool, Array and Object
//     implement it, so state can always be cloned, compared and serialized.
//   - Clone never shares mutable structure between source and copy.
//   - Equal is type-checked: Int(1), Float(1) and String("1") are all distinct.
//   - Canonical JSON (MarshalCanonical) is the only serialization used for
//     snapshot digests and golden traces.
package value
