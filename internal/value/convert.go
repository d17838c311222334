package value

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
)

// FromGo converts a plain Go value into a Value.
//
// Accepted inputs: nil, Value, bool, string, every integer kind, float32,
// float64, json.Number, slices and arrays of accepted inputs, and maps with
// string keys. Decoders (encoding/json, yaml.v3, CUE, expr-lang) all produce
// values of these shapes.
func FromGo(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case bool:
		return Bool(val), nil
	case string:
		return String(val), nil
	case int:
		return Int(val), nil
	case int8:
		return Int(val), nil
	case int16:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint8:
		return Int(val), nil
	case uint16:
		return Int(val), nil
	case uint32:
		return Int(val), nil
	case uint:
		if uint64(val) > math.MaxInt64 {
			return nil, fmt.Errorf("integer out of int64 range: %d", val)
		}
		return Int(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return nil, fmt.Errorf("integer out of int64 range: %d", val)
		}
		return Int(val), nil
	case float32:
		return Float(val), nil
	case float64:
		return Float(val), nil
	case json.Number:
		s := string(val)
		if strings.ContainsAny(s, ".eE") {
			f, err := val.Float64()
			if err != nil {
				return nil, fmt.Errorf("invalid number %s: %w", s, err)
			}
			return Float(f), nil
		}
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("number out of int64 range: %s", s)
		}
		return Int(n), nil
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			conv, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = conv
		}
		return arr, nil
	case map[string]any:
		obj := make(Object, len(val))
		for k, elem := range val {
			conv, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", k, err)
			}
			obj[k] = conv
		}
		return obj, nil
	default:
		return fromReflect(reflect.ValueOf(v))
	}
}

// fromReflect handles typed slices and string-keyed maps
// ([]string, map[string]int, map[any]any from older YAML decoders).
func fromReflect(rv reflect.Value) (Value, error) {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null{}, nil
		}
		return FromGo(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return Array{}, nil
		}
		arr := make(Array, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			conv, err := FromGo(rv.Index(i).Interface())
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = conv
		}
		return arr, nil
	case reflect.Map:
		obj := make(Object, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key, ok := iter.Key().Interface().(string)
			if !ok {
				return nil, fmt.Errorf("unsupported map key type: %s", iter.Key().Type())
			}
			conv, err := FromGo(iter.Value().Interface())
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", key, err)
			}
			obj[key] = conv
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported type: %s", rv.Type())
	}
}

// MustFromGo is FromGo for literals known to be valid. Panics on error.
func MustFromGo(v any) Value {
	conv, err := FromGo(v)
	if err != nil {
		panic(fmt.Sprintf("value.MustFromGo: %v", err))
	}
	return conv
}

// ObjectFromGo converts a string-keyed map into an Object.
func ObjectFromGo(m map[string]any) (Object, error) {
	if m == nil {
		return Object{}, nil
	}
	v, err := FromGo(m)
	if err != nil {
		return nil, err
	}
	return v.(Object), nil
}

// ToGo converts a Value back into plain Go data:
// nil, string, int64, float64, bool, []any and map[string]any.
func ToGo(v Value) any {
	switch val := v.(type) {
	case nil, Null:
		return nil
	case String:
		return string(val)
	case Int:
		return int64(val)
	case Float:
		return float64(val)
	case Bool:
		return bool(val)
	case Array:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = ToGo(elem)
		}
		return out
	case Object:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = ToGo(elem)
		}
		return out
	default:
		return nil
	}
}

// ToGoSlice converts each element with ToGo.
func ToGoSlice(vals []Value) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = ToGo(v)
	}
	return out
}
