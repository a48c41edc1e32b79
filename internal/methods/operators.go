package methods

import (
	"errors"
	"fmt"
	"math"

	"github.com/roach88/navq/internal/queryir"
	"github.com/roach88/navq/internal/relational"
)

// ErrOverflow is returned by checked arithmetic whose result does not fit
// in an int64.
var ErrOverflow = errors.New("arithmetic operation resulted in an overflow")

// Binary applies a query operator to runtime values with client semantics:
// == and != treat null as a value, relational operators are false when
// either side is null, && and || short-circuit over exact booleans, and
// arithmetic on null is null. Checked integer arithmetic fails with
// ErrOverflow instead of wrapping.
func Binary(op queryir.BinaryOp, l, r any, checked bool) (any, error) {
	switch op {
	case queryir.OpEqual, queryir.OpNotEqual:
		eq, err := Equal(l, r)
		if err != nil {
			return nil, err
		}
		return eq == (op == queryir.OpEqual), nil

	case queryir.OpLess, queryir.OpLessEqual, queryir.OpGreater, queryir.OpGreaterEqual:
		if l == nil || r == nil {
			return false, nil
		}
		cmp, err := relational.Compare(l, r)
		if err != nil {
			return nil, err
		}
		switch op {
		case queryir.OpLess:
			return cmp < 0, nil
		case queryir.OpLessEqual:
			return cmp <= 0, nil
		case queryir.OpGreater:
			return cmp > 0, nil
		}
		return cmp >= 0, nil

	case queryir.OpAndAlso, queryir.OpOrElse:
		lb, lok := l.(bool)
		rb, rok := r.(bool)
		if !lok || !rok {
			return nil, fmt.Errorf("operator %s needs booleans, got %T and %T", op, l, r)
		}
		if op == queryir.OpAndAlso {
			return lb && rb, nil
		}
		return lb || rb, nil

	case queryir.OpCoalesce:
		if l != nil {
			return l, nil
		}
		return r, nil
	}

	if op == queryir.OpAdd {
		_, ls := l.(string)
		_, rs := r.(string)
		if ls || rs {
			return concatText(l) + concatText(r), nil
		}
	}
	if l == nil || r == nil {
		return nil, nil
	}

	li, lInt := l.(int64)
	ri, rInt := r.(int64)
	if lInt && rInt {
		return intArith(op, li, ri, checked)
	}
	if lb, ok := l.(bool); ok {
		rb, ok := r.(bool)
		if !ok {
			return nil, fmt.Errorf("operator %s: mismatched operands %T and %T", op, l, r)
		}
		switch op {
		case queryir.OpAnd:
			return lb && rb, nil
		case queryir.OpOr:
			return lb || rb, nil
		}
		return nil, fmt.Errorf("operator %s does not apply to booleans", op)
	}

	lf, lok := float(l)
	rf, rok := float(r)
	if !lok || !rok {
		return nil, fmt.Errorf("operator %s: non-numeric operands %T and %T", op, l, r)
	}
	switch op {
	case queryir.OpAdd:
		return lf + rf, nil
	case queryir.OpSubtract:
		return lf - rf, nil
	case queryir.OpMultiply:
		return lf * rf, nil
	case queryir.OpDivide:
		return lf / rf, nil
	case queryir.OpModulo:
		return math.Mod(lf, rf), nil
	}
	return nil, fmt.Errorf("operator %s does not apply to floats", op)
}

func intArith(op queryir.BinaryOp, a, b int64, checked bool) (any, error) {
	switch op {
	case queryir.OpAdd:
		s := a + b
		if checked && (a > 0 && b > 0 && s < 0 || a < 0 && b < 0 && s >= 0) {
			return nil, ErrOverflow
		}
		return s, nil
	case queryir.OpSubtract:
		d := a - b
		if checked && (a >= 0 && b < 0 && d < 0 || a < 0 && b > 0 && d >= 0) {
			return nil, ErrOverflow
		}
		return d, nil
	case queryir.OpMultiply:
		p := a * b
		if checked && a != 0 && (p/a != b || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64)) {
			return nil, ErrOverflow
		}
		return p, nil
	case queryir.OpDivide, queryir.OpModulo:
		if b == 0 {
			return nil, fmt.Errorf("attempted to divide by zero")
		}
		if checked && a == math.MinInt64 && b == -1 {
			return nil, ErrOverflow
		}
		if op == queryir.OpDivide {
			return a / b, nil
		}
		return a % b, nil
	case queryir.OpAnd:
		return a & b, nil
	case queryir.OpOr:
		return a | b, nil
	}
	return nil, fmt.Errorf("operator %s does not apply to integers", op)
}

// Unary applies ! or unary minus. Both propagate null.
func Unary(op queryir.UnaryOp, v any, checked bool) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch op {
	case queryir.OpNot:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("operator ! needs a boolean, got %T", v)
		}
		return !b, nil
	case queryir.OpNegate:
		switch n := v.(type) {
		case int64:
			if checked && n == math.MinInt64 {
				return nil, ErrOverflow
			}
			return -n, nil
		case float64:
			return -n, nil
		}
		return nil, fmt.Errorf("cannot negate %T", v)
	}
	return nil, fmt.Errorf("unknown unary operator %s", op)
}

// Equal compares two runtime values with client semantics: null equals
// null and nothing else; numbers compare across int and float.
func Equal(a, b any) (bool, error) {
	if a == nil || b == nil {
		return a == nil && b == nil, nil
	}
	cmp, err := relational.Compare(a, b)
	if err != nil {
		return false, err
	}
	return cmp == 0, nil
}

// Convert casts a runtime value to a scalar type named as in cast<T>(x):
// int, long, float, double, string or bool, optionally nullable. A null
// value only converts to a nullable type.
func Convert(v any, typ string) (any, error) {
	nullable := len(typ) > 0 && typ[len(typ)-1] == '?'
	if nullable {
		typ = typ[:len(typ)-1]
	}
	if v == nil {
		if nullable || typ == "string" {
			return nil, nil
		}
		return nil, fmt.Errorf("nullable object must have a value")
	}
	switch typ {
	case "int", "long":
		switch n := v.(type) {
		case int64:
			return n, nil
		case float64:
			return int64(n), nil
		case bool:
			if n {
				return int64(1), nil
			}
			return int64(0), nil
		}
	case "float", "double", "decimal":
		if f, ok := float(v); ok {
			return f, nil
		}
	case "string":
		return toString(v, nil)
	case "bool":
		if b, ok := v.(bool); ok {
			return b, nil
		}
	}
	return nil, fmt.Errorf("cannot convert %T to %s", v, typ)
}

func float(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// concatText renders a string concatenation operand; null reads as empty.
func concatText(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
