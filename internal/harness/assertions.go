package harness

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/roach88/navq/internal/ir"
	"github.com/roach88/navq/internal/object"
)

// Sorter returns the key an unordered comparison sorts elements by.
type Sorter func(v ir.IRValue) string

// Asserter compares one expected element with one actual element.
type Asserter func(expected, actual ir.IRValue) error

// MismatchError is returned when a result differs from its expectation.
type MismatchError struct {
	Path     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *MismatchError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "result mismatch at %s\n", e.Path)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// Compare checks actual against expected. Both sides may be entities,
// records, groupings, scalars or sequences of them. Numbers compare by
// value, so an integral float equals the integer.
//
// When both sides are sequences and assertOrder is false, each side is
// sorted by sorter before the elements are compared pairwise with
// asserter. A nil sorter sorts by canonical JSON; a nil asserter requires
// canonical equality, treating nested sequences as ordered only when
// assertOrder is set.
func Compare(expected, actual any, sorter Sorter, asserter Asserter, assertOrder bool) error {
	e, err := toIR(expected)
	if err != nil {
		return fmt.Errorf("expected: %w", err)
	}
	a, err := toIR(actual)
	if err != nil {
		return fmt.Errorf("actual: %w", err)
	}
	e, a = Normalize(e), Normalize(a)

	if asserter == nil {
		asserter = func(expected, actual ir.IRValue) error {
			return equal("$", expected, actual, assertOrder)
		}
	}

	ea, eok := e.(ir.IRArray)
	aa, aok := a.(ir.IRArray)
	if !eok || !aok {
		return asserter(e, a)
	}
	if len(ea) != len(aa) {
		return &MismatchError{
			Path:     "$",
			Expected: fmt.Sprintf("%d elements", len(ea)),
			Actual:   fmt.Sprintf("%d elements", len(aa)),
		}
	}
	if !assertOrder {
		if sorter == nil {
			sorter = canonicalKey
		}
		ea, aa = sortBy(ea, sorter), sortBy(aa, sorter)
	}
	for i := range ea {
		if err := asserter(ea[i], aa[i]); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}

func toIR(v any) (ir.IRValue, error) {
	switch v := v.(type) {
	case ir.IRValue:
		return v, nil
	case []*object.Entity:
		list := make([]any, len(v))
		for i, e := range v {
			list[i] = e
		}
		return object.ToIR(list)
	}
	return object.ToIR(v)
}

// Normalize rounds floats to nine decimal places and turns integral floats
// into integers, recursively.
func Normalize(v ir.IRValue) ir.IRValue {
	switch v := v.(type) {
	case ir.IRFloat:
		f := math.Round(float64(v)*1e9) / 1e9
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return ir.IRInt(int64(f))
		}
		return ir.IRFloat(f)
	case ir.IRArray:
		out := make(ir.IRArray, len(v))
		for i, e := range v {
			out[i] = Normalize(e)
		}
		return out
	case ir.IRObject:
		out := make(ir.IRObject, len(v))
		for k, e := range v {
			out[k] = Normalize(e)
		}
		return out
	}
	return v
}

// equal compares canonical renderings, sorting nested sequences unless
// ordered.
func equal(path string, expected, actual ir.IRValue, ordered bool) error {
	if !ordered {
		expected, actual = sortNested(expected), sortNested(actual)
	}
	ek, ak := canonicalKey(expected), canonicalKey(actual)
	if ek != ak {
		return &MismatchError{Path: path, Expected: ek, Actual: ak}
	}
	return nil
}

func sortNested(v ir.IRValue) ir.IRValue {
	switch v := v.(type) {
	case ir.IRArray:
		out := make(ir.IRArray, len(v))
		for i, e := range v {
			out[i] = sortNested(e)
		}
		return sortBy(out, canonicalKey)
	case ir.IRObject:
		out := make(ir.IRObject, len(v))
		for k, e := range v {
			out[k] = sortNested(e)
		}
		return out
	}
	return v
}

func sortBy(vals ir.IRArray, key Sorter) ir.IRArray {
	type keyed struct {
		key string
		val ir.IRValue
	}
	ks := make([]keyed, len(vals))
	for i, v := range vals {
		ks[i] = keyed{key(v), v}
	}
	sort.SliceStable(ks, func(i, j int) bool { return ks[i].key < ks[j].key })
	out := make(ir.IRArray, len(ks))
	for i, k := range ks {
		out[i] = k.val
	}
	return out
}

func canonicalKey(v ir.IRValue) string {
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}
	return string(data)
}

// ByField sorts elements by the canonical rendering of one object field.
func ByField(name string) Sorter {
	return func(v ir.IRValue) string {
		if obj, ok := v.(ir.IRObject); ok {
			return canonicalKey(obj[name])
		}
		return canonicalKey(v)
	}
}
