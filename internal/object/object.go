package object

import (
	"fmt"
	"slices"

	"github.com/roach88/navq/internal/ir"
)

// Entity is a materialized entity instance. Properties hold every scalar
// member of the concrete type; Navigations hold only the navigations that
// were loaded (included), as *Entity, nil or []any.
type Entity struct {
	Type        string
	Properties  map[string]any
	Navigations map[string]any
}

// NewEntity returns an empty entity of the named type.
func NewEntity(typ string) *Entity {
	return &Entity{Type: typ, Properties: make(map[string]any), Navigations: make(map[string]any)}
}

// Get returns a property or loaded navigation.
func (e *Entity) Get(name string) (any, bool) {
	if v, ok := e.Properties[name]; ok {
		return v, true
	}
	v, ok := e.Navigations[name]
	return v, ok
}

// Record is an anonymous record: an ordered list of named values.
type Record struct {
	Names  []string
	Values []any
}

// Get returns the value of a field.
func (r *Record) Get(name string) (any, bool) {
	if i := slices.Index(r.Names, name); i >= 0 {
		return r.Values[i], true
	}
	return nil, false
}

// Grouping is one group of a GroupBy: its key and elements.
type Grouping struct {
	Key      any
	Elements []any
}

// ToIR converts a materialized result (scalars, entities, records,
// groupings and slices of them) into an IR value for comparison and
// display. Entities carry their type under "$type".
func ToIR(v any) (ir.IRValue, error) {
	switch v := v.(type) {
	case nil:
		return ir.IRNull{}, nil
	case *Entity:
		if v == nil {
			return ir.IRNull{}, nil
		}
		obj := ir.IRObject{"$type": ir.IRString(v.Type)}
		for name, p := range v.Properties {
			iv, err := ToIR(p)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", v.Type, name, err)
			}
			obj[name] = iv
		}
		for name, n := range v.Navigations {
			iv, err := ToIR(n)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", v.Type, name, err)
			}
			obj[name] = iv
		}
		return obj, nil
	case *Record:
		if v == nil {
			return ir.IRNull{}, nil
		}
		obj := make(ir.IRObject, len(v.Names))
		for i, name := range v.Names {
			iv, err := ToIR(v.Values[i])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			obj[name] = iv
		}
		return obj, nil
	case *Grouping:
		key, err := ToIR(v.Key)
		if err != nil {
			return nil, fmt.Errorf("key: %w", err)
		}
		elems, err := ToIR(v.Elements)
		if err != nil {
			return nil, err
		}
		return ir.IRObject{"Key": key, "Elements": elems}, nil
	case []any:
		arr := make(ir.IRArray, len(v))
		for i, e := range v {
			iv, err := ToIR(e)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = iv
		}
		return arr, nil
	}
	return ir.FromNative(v)
}
