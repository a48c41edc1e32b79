package methods

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/roach88/navq/internal/ir"
	"github.com/roach88/navq/internal/relational"
)

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the shared registry of built-in methods.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = New()
		registerBuiltins(defaultRegistry)
	})
	return defaultRegistry
}

const (
	kString = string(ir.KindString)
	kInt    = string(ir.KindInt)
	kFloat  = string(ir.KindFloat)
	kBool   = string(ir.KindBool)
)

func fn(name string, kind ir.Kind, args ...relational.Scalar) *relational.Func {
	return &relational.Func{Name: name, Args: args, Kind: kind}
}

func intConst(n int64) relational.Scalar { return relational.Const(ir.IRInt(n)) }

func registerBuiltins(r *Registry) {
	// Predicates on strings return false for a null receiver or argument.
	r.MustRegister(&Method{
		Type: kString, Name: "Contains", Arity: 1, Result: ir.KindBool,
		Translate: func(recv relational.Scalar, args []relational.Scalar) relational.Scalar {
			return &relational.Binary{Op: relational.OpGt, Left: fn("INSTR", ir.KindInt, recv, args[0]), Right: intConst(0)}
		},
		Eval: strPredicate(strings.Contains),
	})
	r.MustRegister(&Method{
		Type: kString, Name: "StartsWith", Arity: 1, Result: ir.KindBool,
		Translate: func(recv relational.Scalar, args []relational.Scalar) relational.Scalar {
			prefix := fn("SUBSTR", ir.KindString, recv, intConst(1), fn("LENGTH", ir.KindInt, args[0]))
			return relational.Eq(prefix, args[0])
		},
		Eval: strPredicate(strings.HasPrefix),
	})
	r.MustRegister(&Method{
		Type: kString, Name: "EndsWith", Arity: 1, Result: ir.KindBool,
		Translate: func(recv relational.Scalar, args []relational.Scalar) relational.Scalar {
			recvLen := fn("LENGTH", ir.KindInt, recv)
			argLen := fn("LENGTH", ir.KindInt, args[0])
			start := &relational.Binary{
				Op:    relational.OpAdd,
				Left:  &relational.Binary{Op: relational.OpSub, Left: recvLen, Right: argLen},
				Right: intConst(1),
			}
			return relational.And(
				&relational.Binary{Op: relational.OpGe, Left: recvLen, Right: argLen},
				relational.Eq(fn("SUBSTR", ir.KindString, recv, start), args[0]),
			)
		},
		Eval: strPredicate(strings.HasSuffix),
	})

	// Value methods propagate null.
	r.MustRegister(&Method{
		Type: kString, Name: "ToUpper", Arity: 0,
		Translate: func(recv relational.Scalar, _ []relational.Scalar) relational.Scalar {
			return fn("UPPER", ir.KindString, recv)
		},
		Eval: propagate(func(recv any, _ []any) (any, error) { return strings.ToUpper(recv.(string)), nil }),
	})
	r.MustRegister(&Method{
		Type: kString, Name: "ToLower", Arity: 0,
		Translate: func(recv relational.Scalar, _ []relational.Scalar) relational.Scalar {
			return fn("LOWER", ir.KindString, recv)
		},
		Eval: propagate(func(recv any, _ []any) (any, error) { return strings.ToLower(recv.(string)), nil }),
	})
	r.MustRegister(&Method{
		Type: kString, Name: "Trim", Arity: 0,
		Translate: func(recv relational.Scalar, _ []relational.Scalar) relational.Scalar {
			return fn("TRIM", ir.KindString, recv)
		},
		Eval: propagate(func(recv any, _ []any) (any, error) { return strings.Trim(recv.(string), " "), nil }),
	})
	r.MustRegister(&Method{
		Type: kString, Name: "Length", Arity: 0, Result: ir.KindInt,
		Translate: func(recv relational.Scalar, _ []relational.Scalar) relational.Scalar {
			return fn("LENGTH", ir.KindInt, recv)
		},
		Eval: propagate(func(recv any, _ []any) (any, error) {
			return int64(utf8.RuneCountInString(recv.(string))), nil
		}),
	})
	r.MustRegister(&Method{
		Type: kString, Name: "Substring", Arity: 1,
		Translate: func(recv relational.Scalar, args []relational.Scalar) relational.Scalar {
			return fn("SUBSTR", ir.KindString, recv, plusOne(args[0]))
		},
		Eval: propagate(substring),
	})
	r.MustRegister(&Method{
		Type: kString, Name: "Substring", Arity: 2,
		Translate: func(recv relational.Scalar, args []relational.Scalar) relational.Scalar {
			return fn("SUBSTR", ir.KindString, recv, plusOne(args[0]), args[1])
		},
		Eval: propagate(substring),
	})
	r.MustRegister(&Method{
		Type: kString, Name: "Replace", Arity: 2,
		Translate: func(recv relational.Scalar, args []relational.Scalar) relational.Scalar {
			return fn("REPLACE", ir.KindString, recv, args[0], args[1])
		},
		Eval: propagate(func(recv any, args []any) (any, error) {
			return strings.ReplaceAll(recv.(string), args[0].(string), args[1].(string)), nil
		}),
	})
	r.MustRegister(&Method{
		Type: kString, Name: "IndexOf", Arity: 1, Result: ir.KindInt,
		Translate: func(recv relational.Scalar, args []relational.Scalar) relational.Scalar {
			return &relational.Binary{Op: relational.OpSub, Left: fn("INSTR", ir.KindInt, recv, args[0]), Right: intConst(1)}
		},
		Eval: propagate(func(recv any, args []any) (any, error) {
			s := recv.(string)
			idx := strings.Index(s, args[0].(string))
			if idx < 0 {
				return int64(-1), nil
			}
			return int64(utf8.RuneCountInString(s[:idx])), nil
		}),
	})
	// SQLite has no padding function.
	r.MustRegister(&Method{
		Type: kString, Name: "PadLeft", Arity: 1,
		Eval: propagate(func(recv any, args []any) (any, error) {
			s := recv.(string)
			width := int(args[0].(int64))
			if n := utf8.RuneCountInString(s); n < width {
				return strings.Repeat(" ", width-n) + s, nil
			}
			return s, nil
		}),
	})

	r.MustRegister(&Method{
		Type: kString, Name: "IsNullOrEmpty", Static: true, Arity: 1, Result: ir.KindBool,
		Translate: func(_ relational.Scalar, args []relational.Scalar) relational.Scalar {
			return relational.Or(relational.IsNull(args[0]), relational.Eq(args[0], relational.Const(ir.IRString(""))))
		},
		Eval: func(_ any, args []any) (any, error) {
			s, ok := args[0].(string)
			return !ok || s == "", nil
		},
	})

	r.MustRegister(&Method{
		Type: "Math", Name: "Abs", Static: true, Arity: 1,
		Translate: func(_ relational.Scalar, args []relational.Scalar) relational.Scalar {
			return fn("ABS", relational.KindOf(args[0]), args[0])
		},
		Eval: propagateArgs(func(_ any, args []any) (any, error) {
			switch n := args[0].(type) {
			case int64:
				if n == math.MinInt64 {
					return nil, fmt.Errorf("Math.Abs: negating the minimum value of int64 overflows")
				}
				if n < 0 {
					return -n, nil
				}
				return n, nil
			case float64:
				return math.Abs(n), nil
			}
			return nil, fmt.Errorf("Math.Abs: non-numeric argument %T", args[0])
		}),
	})
	r.MustRegister(&Method{
		Type: "Math", Name: "Max", Static: true, Arity: 2,
		Translate: func(_ relational.Scalar, args []relational.Scalar) relational.Scalar {
			return fn("MAX", relational.KindOf(args[0]), args[0], args[1])
		},
		Eval: propagateArgs(pick(1)),
	})
	r.MustRegister(&Method{
		Type: "Math", Name: "Min", Static: true, Arity: 2,
		Translate: func(_ relational.Scalar, args []relational.Scalar) relational.Scalar {
			return fn("MIN", relational.KindOf(args[0]), args[0], args[1])
		},
		Eval: propagateArgs(pick(-1)),
	})

	r.MustRegister(&Method{
		Type: kInt, Name: "HasFlag", Arity: 1, Result: ir.KindBool,
		Translate: func(recv relational.Scalar, args []relational.Scalar) relational.Scalar {
			return relational.Eq(&relational.Binary{Op: relational.OpBitAnd, Left: recv, Right: args[0]}, args[0])
		},
		Eval: propagate(func(recv any, args []any) (any, error) {
			flag := args[0].(int64)
			return recv.(int64)&flag == flag, nil
		}),
	})

	// ToString translates where SQLite's text rendering matches; booleans
	// and floats format differently and stay on the client.
	for _, kind := range []string{kString, kInt} {
		r.MustRegister(&Method{
			Type: kind, Name: "ToString", Arity: 0, Result: ir.KindString,
			Translate: func(recv relational.Scalar, _ []relational.Scalar) relational.Scalar {
				return fn("CAST", ir.KindString, recv)
			},
			Eval: propagate(toString),
		})
	}
	for _, kind := range []string{kBool, kFloat} {
		r.MustRegister(&Method{
			Type: kind, Name: "ToString", Arity: 0, Result: ir.KindString,
			Eval: propagate(toString),
		})
	}
}

// strPredicate adapts a string predicate; null on either side is false.
func strPredicate(pred func(s, sub string) bool) func(any, []any) (any, error) {
	return func(recv any, args []any) (any, error) {
		s, ok := recv.(string)
		if !ok {
			return false, nil
		}
		sub, ok := args[0].(string)
		if !ok {
			return false, nil
		}
		return pred(s, sub), nil
	}
}

// propagate returns null when the receiver or any argument is null.
func propagate(f func(any, []any) (any, error)) func(any, []any) (any, error) {
	args := propagateArgs(f)
	return func(recv any, a []any) (any, error) {
		if recv == nil {
			return nil, nil
		}
		return args(recv, a)
	}
}

// propagateArgs is propagate for static methods, which have no receiver.
func propagateArgs(f func(any, []any) (any, error)) func(any, []any) (any, error) {
	return func(recv any, args []any) (any, error) {
		for _, a := range args {
			if a == nil {
				return nil, nil
			}
		}
		return f(recv, args)
	}
}

func plusOne(s relational.Scalar) relational.Scalar {
	if c, ok := s.(*relational.Constant); ok {
		if n, ok := c.Value.(ir.IRInt); ok {
			return intConst(int64(n) + 1)
		}
	}
	return &relational.Binary{Op: relational.OpAdd, Left: s, Right: intConst(1)}
}

func substring(recv any, args []any) (any, error) {
	s, ok := recv.(string)
	if !ok {
		return nil, nil
	}
	runes := []rune(s)
	start := int(args[0].(int64))
	if start < 0 || start > len(runes) {
		return nil, fmt.Errorf("Substring: start index %d out of range", start)
	}
	end := len(runes)
	if len(args) > 1 {
		n := int(args[1].(int64))
		if n < 0 || start+n > len(runes) {
			return nil, fmt.Errorf("Substring: length %d out of range", n)
		}
		end = start + n
	}
	return string(runes[start:end]), nil
}

func pick(sign int) func(any, []any) (any, error) {
	return func(_ any, args []any) (any, error) {
		cmp, err := relational.Compare(args[1], args[0])
		if err != nil {
			return nil, err
		}
		if cmp*sign > 0 {
			return args[1], nil
		}
		return args[0], nil
	}
}

func toString(recv any, _ []any) (any, error) {
	switch v := recv.(type) {
	case string:
		return v, nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	case bool:
		if v {
			return "True", nil
		}
		return "False", nil
	}
	return nil, fmt.Errorf("ToString: unsupported value %T", recv)
}
