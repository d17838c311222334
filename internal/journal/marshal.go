package journal

import (
	"fmt"

	"github.com/roach88/statekeeper/internal/value"
)

// domainNotification separates journal IDs from other digests.
const domainNotification = "statekeeper/journal/notification/v1"

// notificationID is the content-addressed ID of one notification.
func notificationID(store string, seq int64, typ, name string) (string, error) {
	key := value.NewArray(value.String(store), value.Int(seq), value.String(typ), value.String(name))
	data, err := value.MarshalCanonical(key)
	if err != nil {
		return "", fmt.Errorf("notification id: %w", err)
	}
	return value.DigestBytes(domainNotification, data), nil
}

// marshalValue converts a Value to canonical JSON TEXT for storage.
func marshalValue(v value.Value) (string, error) {
	data, err := value.MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("marshal value: %w", err)
	}
	return string(data), nil
}

// marshalArgs stores a missing argument list as [].
func marshalArgs(args []value.Value) (string, error) {
	arr := make(value.Array, len(args))
	copy(arr, args)
	data, err := value.MarshalCanonical(arr)
	if err != nil {
		return "", fmt.Errorf("marshal args: %w", err)
	}
	return string(data), nil
}

// unmarshalValue parses canonical JSON TEXT. Integers come back as Int.
func unmarshalValue(data string) (value.Value, error) {
	if data == "" {
		return value.Null{}, nil
	}
	v, err := value.Unmarshal([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	return v, nil
}

func unmarshalArgs(data string) ([]value.Value, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var arr value.Array
	if err := arr.UnmarshalJSON([]byte(data)); err != nil {
		return nil, fmt.Errorf("unmarshal args: %w", err)
	}
	return []value.Value(arr), nil
}
