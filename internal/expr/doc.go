// Package expr evaluates the small expressions store definition files use
// for mutations, actions and getters.
//
// Three engines are available: "expr" (github.com/expr-lang/expr, the
// default), "cel" (github.com/google/cel-go) and "js"
// (github.com/dop251/goja, only when built with the js_eval tag).
//
// Every program sees the same environment:
//
//	value   the current value of the field the expression belongs to
//	args    the call arguments as a list
//	state   the whole state object
//	<field> every state field, at top level
//
// Results are converted back with value.FromGo, so an expression may return
// numbers, strings, booleans, null, lists and string-keyed maps.
package expr
