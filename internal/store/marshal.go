package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/navq/internal/ir"
)

// marshalParams converts parameter bindings to canonical JSON TEXT for
// storage. Uses RFC 8785 canonical JSON for deterministic serialization.
func marshalParams(params map[string]any) (string, error) {
	obj := ir.IRObject{}
	for name, v := range params {
		iv, err := ir.FromNative(v)
		if err != nil {
			return "", fmt.Errorf("marshal param %q: %w", name, err)
		}
		obj[name] = iv
	}
	data, err := ir.MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("marshal params: %w", err)
	}
	return string(data), nil
}

// unmarshalParams parses parameter bindings written by marshalParams.
func unmarshalParams(data string) (map[string]any, error) {
	v, err := ir.UnmarshalIRValue([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal params: %w", err)
	}
	obj, ok := v.(ir.IRObject)
	if !ok {
		return nil, fmt.Errorf("unmarshal params: expected object, got %T", v)
	}
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		out[k] = ir.ToNative(v)
	}
	return out, nil
}

// Args binds the named parameters a statement reads, in order.
// A parameter missing from params binds null.
func Args(names []string, params map[string]any) []any {
	args := make([]any, len(names))
	for i, name := range names {
		args[i] = sql.Named(name, params[name])
	}
	return args
}

// normalize maps a value scanned from SQLite to the runtime
// representation: TEXT may arrive as bytes, and the driver parses
// columns declared as timestamps.
func normalize(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case int:
		return int64(val)
	case float32:
		return float64(val)
	case time.Time:
		return val.Format(time.RFC3339Nano)
	}
	return v
}
