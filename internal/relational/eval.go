package relational

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/roach88/navq/internal/ir"
)

// Env supplies column and parameter values to Eval. Columns are keyed by
// "alias.column".
type Env struct {
	Columns map[string]any
	Params  map[string]any
}

// Eval evaluates a scalar with SQL semantics over plain Go values (nil,
// int64, float64, string, bool). NULL is nil: comparisons with NULL yield
// NULL, AND/OR follow three-valued logic, and arithmetic on NULL is NULL.
//
// Subqueries, aggregates, and window functions are not evaluable here.
func Eval(s Scalar, env Env) (any, error) {
	switch s := s.(type) {
	case *ColumnRef:
		v, ok := env.Columns[s.Table+"."+s.Column]
		if !ok {
			return nil, fmt.Errorf("unbound column %s.%s", s.Table, s.Column)
		}
		return v, nil
	case *Constant:
		return ir.ToNative(s.Value), nil
	case *Parameter:
		v, ok := env.Params[s.Name]
		if !ok {
			return nil, fmt.Errorf("unbound parameter @%s", s.Name)
		}
		return v, nil
	case *Binary:
		return evalBinary(s, env)
	case *Unary:
		v, err := Eval(s.Operand, env)
		if err != nil {
			return nil, err
		}
		switch s.Op {
		case OpIsNull:
			return v == nil, nil
		case OpIsNotNull:
			return v != nil, nil
		case OpNot:
			if v == nil {
				return nil, nil
			}
			b, err := truth(v)
			if err != nil {
				return nil, err
			}
			return !b, nil
		case OpNegate:
			switch n := v.(type) {
			case nil:
				return nil, nil
			case int64:
				return -n, nil
			case float64:
				return -n, nil
			}
			return nil, fmt.Errorf("cannot negate %T", v)
		}
	case *Case:
		for _, w := range s.Whens {
			c, err := Eval(w.Cond, env)
			if err != nil {
				return nil, err
			}
			if c == nil {
				continue
			}
			b, err := truth(c)
			if err != nil {
				return nil, err
			}
			if b {
				return Eval(w.Result, env)
			}
		}
		if s.Else == nil {
			return nil, nil
		}
		return Eval(s.Else, env)
	case *Func:
		return evalFunc(s, env)
	case *In:
		v, err := Eval(s.Operand, env)
		if err != nil || v == nil {
			return nil, err
		}
		sawNull := false
		for _, candidate := range s.Values {
			c, err := Eval(candidate, env)
			if err != nil {
				return nil, err
			}
			if c == nil {
				sawNull = true
				continue
			}
			cmp, err := Compare(v, c)
			if err != nil {
				return nil, err
			}
			if cmp == 0 {
				return true, nil
			}
		}
		if sawNull {
			return nil, nil
		}
		return false, nil
	}
	return nil, fmt.Errorf("cannot evaluate %T", s)
}

func evalBinary(b *Binary, env Env) (any, error) {
	l, err := Eval(b.Left, env)
	if err != nil {
		return nil, err
	}
	r, err := Eval(b.Right, env)
	if err != nil {
		return nil, err
	}

	switch b.Op {
	case OpAnd:
		return and3(l, r)
	case OpOr:
		return or3(l, r)
	}

	if l == nil || r == nil {
		return nil, nil
	}

	if b.Op.IsComparison() {
		cmp, err := Compare(l, r)
		if err != nil {
			return nil, err
		}
		switch b.Op {
		case OpEq:
			return cmp == 0, nil
		case OpNe:
			return cmp != 0, nil
		case OpLt:
			return cmp < 0, nil
		case OpLe:
			return cmp <= 0, nil
		case OpGt:
			return cmp > 0, nil
		default:
			return cmp >= 0, nil
		}
	}

	if b.Op == OpConcat {
		return fmt.Sprint(l) + fmt.Sprint(r), nil
	}
	return arith(b.Op, l, r)
}

func and3(l, r any) (any, error) {
	lb, lerr := truthOrNull(l)
	rb, rerr := truthOrNull(r)
	if lerr != nil {
		return nil, lerr
	}
	if rerr != nil {
		return nil, rerr
	}
	if (lb != nil && !*lb) || (rb != nil && !*rb) {
		return false, nil
	}
	if lb == nil || rb == nil {
		return nil, nil
	}
	return true, nil
}

func or3(l, r any) (any, error) {
	lb, lerr := truthOrNull(l)
	rb, rerr := truthOrNull(r)
	if lerr != nil {
		return nil, lerr
	}
	if rerr != nil {
		return nil, rerr
	}
	if (lb != nil && *lb) || (rb != nil && *rb) {
		return true, nil
	}
	if lb == nil || rb == nil {
		return nil, nil
	}
	return false, nil
}

func truthOrNull(v any) (*bool, error) {
	if v == nil {
		return nil, nil
	}
	b, err := truth(v)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// truth interprets a non-null value as a SQL boolean; numbers are true when
// non-zero.
func truth(v any) (bool, error) {
	switch v := v.(type) {
	case bool:
		return v, nil
	case int64:
		return v != 0, nil
	case float64:
		return v != 0, nil
	}
	return false, fmt.Errorf("%T is not a boolean", v)
}

func arith(op BinaryOp, l, r any) (any, error) {
	if lb, ok := l.(bool); ok {
		rb, ok := r.(bool)
		if !ok {
			return nil, fmt.Errorf("operator %s: mismatched operands %T and %T", op, l, r)
		}
		switch op {
		case OpBitAnd:
			return lb && rb, nil
		case OpBitOr:
			return lb || rb, nil
		}
		return nil, fmt.Errorf("operator %s does not apply to booleans", op)
	}

	li, lInt := l.(int64)
	ri, rInt := r.(int64)
	if lInt && rInt {
		switch op {
		case OpAdd:
			return li + ri, nil
		case OpSub:
			return li - ri, nil
		case OpMul:
			return li * ri, nil
		case OpDiv:
			if ri == 0 {
				return nil, nil
			}
			return li / ri, nil
		case OpMod:
			if ri == 0 {
				return nil, nil
			}
			return li % ri, nil
		case OpBitAnd:
			return li & ri, nil
		case OpBitOr:
			return li | ri, nil
		}
	}

	lf, lok := toFloat(l)
	rf, rok := toFloat(r)
	if !lok || !rok {
		return nil, fmt.Errorf("operator %s: non-numeric operands %T and %T", op, l, r)
	}
	switch op {
	case OpAdd:
		return lf + rf, nil
	case OpSub:
		return lf - rf, nil
	case OpMul:
		return lf * rf, nil
	case OpDiv:
		if rf == 0 {
			return nil, nil
		}
		return lf / rf, nil
	case OpMod:
		if rf == 0 {
			return nil, nil
		}
		return math.Mod(lf, rf), nil
	}
	return nil, fmt.Errorf("operator %s does not apply to floats", op)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// Compare orders two non-null values: numbers numerically across int and
// float, strings by byte order, and false before true.
func Compare(a, b any) (int, error) {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		if !ok {
			return 0, fmt.Errorf("cannot compare %T with %T", a, b)
		}
		if ai, aInt := a.(int64); aInt {
			if bi, bInt := b.(int64); bInt {
				return cmpOrdered(ai, bi), nil
			}
		}
		return cmpOrdered(af, bf), nil
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, fmt.Errorf("cannot compare %T with %T", a, b)
		}
		return strings.Compare(av, bv), nil
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, fmt.Errorf("cannot compare %T with %T", a, b)
		}
		switch {
		case av == bv:
			return 0, nil
		case !av:
			return -1, nil
		default:
			return 1, nil
		}
	}
	return 0, fmt.Errorf("cannot compare %T", a)
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func evalFunc(f *Func, env Env) (any, error) {
	args := make([]any, len(f.Args))
	for i, a := range f.Args {
		v, err := Eval(a, env)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	if f.Name == "COALESCE" {
		for _, a := range args {
			if a != nil {
				return a, nil
			}
		}
		return nil, nil
	}
	for _, a := range args {
		if a == nil {
			return nil, nil
		}
	}

	str := func(i int) string { return fmt.Sprint(args[i]) }
	switch f.Name {
	case "LOWER":
		return strings.ToLower(str(0)), nil
	case "UPPER":
		return strings.ToUpper(str(0)), nil
	case "LENGTH":
		return int64(utf8.RuneCountInString(str(0))), nil
	case "TRIM":
		return strings.Trim(str(0), " "), nil
	case "LTRIM":
		return strings.TrimLeft(str(0), " "), nil
	case "RTRIM":
		return strings.TrimRight(str(0), " "), nil
	case "INSTR":
		idx := strings.Index(str(0), str(1))
		if idx < 0 {
			return int64(0), nil
		}
		return int64(utf8.RuneCountInString(str(0)[:idx]) + 1), nil
	case "REPLACE":
		return strings.ReplaceAll(str(0), str(1), str(2)), nil
	case "SUBSTR":
		return substr(args)
	case "CAST":
		return cast(args[0], f.Kind)
	case "MAX", "MIN":
		best := args[0]
		for _, a := range args[1:] {
			cmp, err := Compare(a, best)
			if err != nil {
				return nil, err
			}
			if (f.Name == "MAX" && cmp > 0) || (f.Name == "MIN" && cmp < 0) {
				best = a
			}
		}
		return best, nil
	case "ABS":
		switch n := args[0].(type) {
		case int64:
			if n < 0 {
				return -n, nil
			}
			return n, nil
		case float64:
			return math.Abs(n), nil
		}
		return nil, fmt.Errorf("ABS: non-numeric argument %T", args[0])
	}
	return nil, fmt.Errorf("cannot evaluate function %s", f.Name)
}

// cast converts v the way SQLite's CAST(v AS TEXT|INTEGER|REAL) does for
// the values Eval works with. Booleans are stored as integers.
func cast(v any, kind ir.Kind) (any, error) {
	if b, ok := v.(bool); ok {
		v = int64(0)
		if b {
			v = int64(1)
		}
	}
	switch kind {
	case ir.KindInt, ir.KindBool:
		switch n := v.(type) {
		case int64:
			return n, nil
		case float64:
			return int64(n), nil
		case string:
			f, ok := leadingNumber(n)
			if !ok {
				return int64(0), nil
			}
			return int64(f), nil
		}
	case ir.KindFloat:
		switch n := v.(type) {
		case int64:
			return float64(n), nil
		case float64:
			return n, nil
		case string:
			f, _ := leadingNumber(n)
			return f, nil
		}
	default:
		if f, ok := v.(float64); ok {
			return strconv.FormatFloat(f, 'f', -1, 64), nil
		}
		return fmt.Sprint(v), nil
	}
	return nil, fmt.Errorf("CAST: unsupported value %T", v)
}

// leadingNumber parses the longest numeric prefix of s, as SQLite does
// when casting text to a number.
func leadingNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	for end := len(s); end > 0; end-- {
		if f, err := strconv.ParseFloat(s[:end], 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// substr implements SUBSTR(s, start[, length]) with a 1-based start.
func substr(args []any) (any, error) {
	s, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("SUBSTR: non-string argument %T", args[0])
	}
	runes := []rune(s)
	start, ok := args[1].(int64)
	if !ok {
		return nil, fmt.Errorf("SUBSTR: non-integer start %T", args[1])
	}
	from := int(start) - 1
	if from < 0 {
		from = 0
	}
	if from > len(runes) {
		return "", nil
	}
	to := len(runes)
	if len(args) > 2 {
		n, ok := args[2].(int64)
		if !ok {
			return nil, fmt.Errorf("SUBSTR: non-integer length %T", args[2])
		}
		if end := from + int(n); end < to {
			to = max(end, from)
		}
	}
	return string(runes[from:to]), nil
}
