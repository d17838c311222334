package value

// Clone returns a deep copy of v. Arrays and Objects are copied recursively;
// scalars are returned as-is. A nil input yields nil.
func Clone(v Value) Value {
	switch val := v.(type) {
	case Array:
		if val == nil {
			return Array(nil)
		}
		out := make(Array, len(val))
		for i, elem := range val {
			out[i] = Clone(elem)
		}
		return out
	case Object:
		return CloneObject(val)
	default:
		return v
	}
}

// CloneObject returns a deep copy of obj. A nil object yields an empty one.
func CloneObject(obj Object) Object {
	out := make(Object, len(obj))
	for k, elem := range obj {
		out[k] = Clone(elem)
	}
	return out
}

// Equal reports whether a and b are structurally equal.
//
// Values of different dynamic types are never equal. Arrays are equal when
// they have the same length and pairwise-equal elements in order. Objects are
// equal when they have the same key set and pairwise-equal values. A nil
// interface is treated as Null.
func Equal(a, b Value) bool {
	if a == nil {
		a = Null{}
	}
	if b == nil {
		b = Null{}
	}

	switch av := a.(type) {
	case Null:
		_, ok := b.(Null)
		return ok
	case String:
		bv, ok := b.(String)
		return ok && av == bv
	case Int:
		bv, ok := b.(Int)
		return ok && av == bv
	case Float:
		bv, ok := b.(Float)
		return ok && av == bv
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	case Array:
		bv, ok := b.(Array)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Object:
		bv, ok := b.(Object)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, elem := range av {
			other, exists := bv[k]
			if !exists || !Equal(elem, other) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Diff returns the top-level keys whose values differ between before and
// after, split into changed (present in after) and removed (absent from
// after). Both slices are in canonical key order.
func Diff(before, after Object) (changed, removed []string) {
	for _, k := range after.SortedKeys() {
		prev, ok := before[k]
		if !ok || !Equal(prev, after[k]) {
			changed = append(changed, k)
		}
	}
	for _, k := range before.SortedKeys() {
		if _, ok := after[k]; !ok {
			removed = append(removed, k)
		}
	}
	return changed, removed
}
