package relational

import (
	"github.com/roach88/navq/internal/ir"
)

// Scalar is a relational value expression with SQL semantics: comparisons
// and logical operators are three-valued, and NULL propagates through
// arithmetic and most functions.
//
// This is a sealed interface - only types in this package implement it.
type Scalar interface {
	scalarNode() // Marker method - seals interface to this package
}

// ColumnRef references a column of a table source by alias. Nullable is
// true when the column itself is nullable or when its table source is on
// the optional side of an outer join.
type ColumnRef struct {
	Table    string
	Column   string
	Kind     ir.Kind
	Nullable bool
}

// Constant is a literal. Kind types a null literal; for other values it is
// derived from Value.
type Constant struct {
	Value ir.IRValue
	Kind  ir.Kind
}

// Parameter is a named command parameter bound per execution.
type Parameter struct {
	Name     string
	Kind     ir.Kind
	Nullable bool
}

// BinaryOp is a SQL binary operator.
type BinaryOp string

const (
	OpEq     BinaryOp = "="
	OpNe     BinaryOp = "<>"
	OpLt     BinaryOp = "<"
	OpLe     BinaryOp = "<="
	OpGt     BinaryOp = ">"
	OpGe     BinaryOp = ">="
	OpAnd    BinaryOp = "AND"
	OpOr     BinaryOp = "OR"
	OpAdd    BinaryOp = "+"
	OpSub    BinaryOp = "-"
	OpMul    BinaryOp = "*"
	OpDiv    BinaryOp = "/"
	OpMod    BinaryOp = "%"
	OpBitAnd BinaryOp = "&"
	OpBitOr  BinaryOp = "|"
	OpConcat BinaryOp = "||"
)

// IsComparison reports whether op compares its operands.
func (op BinaryOp) IsComparison() bool {
	switch op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return true
	}
	return false
}

// IsLogical reports whether op is AND or OR.
func (op BinaryOp) IsLogical() bool {
	return op == OpAnd || op == OpOr
}

// Binary applies Op to Left and Right.
type Binary struct {
	Op    BinaryOp
	Left  Scalar
	Right Scalar

	// KeyMatch marks an equality between join keys. It keeps SQL
	// semantics under null normalization: a null key matches nothing.
	KeyMatch bool
}

// UnaryOp is a SQL unary operator.
type UnaryOp string

const (
	OpNot       UnaryOp = "NOT"
	OpNegate    UnaryOp = "-"
	OpIsNull    UnaryOp = "IS NULL"
	OpIsNotNull UnaryOp = "IS NOT NULL"
)

// Unary applies Op to Operand.
type Unary struct {
	Op      UnaryOp
	Operand Scalar
}

// When is one CASE branch.
type When struct {
	Cond   Scalar
	Result Scalar
}

// Case is a searched CASE expression. A missing Else yields NULL.
type Case struct {
	Whens []When
	Else  Scalar
}

// Func is a scalar function call. Nullable reports whether the function can
// return NULL for non-null arguments; NULL arguments propagate except for
// COALESCE.
type Func struct {
	Name     string
	Args     []Scalar
	Kind     ir.Kind
	Nullable bool
}

// AggFunc is an aggregate function.
type AggFunc string

const (
	AggCount AggFunc = "COUNT"
	AggSum   AggFunc = "SUM"
	AggAvg   AggFunc = "AVG"
	AggMin   AggFunc = "MIN"
	AggMax   AggFunc = "MAX"
)

// Aggregate reduces a group. Arg is nil for COUNT(*).
type Aggregate struct {
	Func     AggFunc
	Arg      Scalar
	Distinct bool
}

// RowNumber is ROW_NUMBER() OVER (PARTITION BY ... ORDER BY ...).
type RowNumber struct {
	PartitionBy []Scalar
	OrderBy     []Ordering
}

// Exists tests whether Query yields any row.
type Exists struct {
	Query *Select
}

// In tests membership in a literal list.
type In struct {
	Operand Scalar
	Values  []Scalar
}

// ScalarSubquery yields the first projected column of the first row of
// Query, or NULL when it yields no rows.
type ScalarSubquery struct {
	Query *Select
}

func (*ColumnRef) scalarNode()      {}
func (*Constant) scalarNode()       {}
func (*Parameter) scalarNode()      {}
func (*Binary) scalarNode()         {}
func (*Unary) scalarNode()          {}
func (*Case) scalarNode()           {}
func (*Func) scalarNode()           {}
func (*Aggregate) scalarNode()      {}
func (*RowNumber) scalarNode()      {}
func (*Exists) scalarNode()         {}
func (*In) scalarNode()             {}
func (*ScalarSubquery) scalarNode() {}

// Const builds a constant from an IR value.
func Const(v ir.IRValue) *Constant {
	return &Constant{Value: v, Kind: ir.KindOf(v)}
}

// Null builds a typed NULL literal.
func Null(kind ir.Kind) *Constant {
	return &Constant{Value: ir.IRNull{}, Kind: kind}
}

// True and False are the boolean literals.
func True() *Constant  { return Const(ir.IRBool(true)) }
func False() *Constant { return Const(ir.IRBool(false)) }

// IsNullConstant reports whether s is a NULL literal.
func IsNullConstant(s Scalar) bool {
	c, ok := s.(*Constant)
	return ok && ir.IsNull(c.Value)
}

// BoolConstant returns the value of a boolean literal.
func BoolConstant(s Scalar) (value, ok bool) {
	c, isConst := s.(*Constant)
	if !isConst {
		return false, false
	}
	b, isBool := c.Value.(ir.IRBool)
	return bool(b), isBool
}

// KindOf returns the scalar type of s.
func KindOf(s Scalar) ir.Kind {
	switch s := s.(type) {
	case *ColumnRef:
		return s.Kind
	case *Constant:
		if k := ir.KindOf(s.Value); k != ir.KindUnknown {
			return k
		}
		return s.Kind
	case *Parameter:
		return s.Kind
	case *Binary:
		switch {
		case s.Op.IsComparison(), s.Op.IsLogical():
			return ir.KindBool
		case s.Op == OpConcat:
			return ir.KindString
		}
		l, r := KindOf(s.Left), KindOf(s.Right)
		if l == ir.KindFloat || r == ir.KindFloat {
			return ir.KindFloat
		}
		if l == ir.KindUnknown {
			return r
		}
		return l
	case *Unary:
		if s.Op == OpNegate {
			return KindOf(s.Operand)
		}
		return ir.KindBool
	case *Case:
		for _, w := range s.Whens {
			if k := KindOf(w.Result); k != ir.KindUnknown {
				return k
			}
		}
		if s.Else != nil {
			return KindOf(s.Else)
		}
		return ir.KindUnknown
	case *Func:
		return s.Kind
	case *Aggregate:
		switch s.Func {
		case AggCount:
			return ir.KindInt
		case AggAvg:
			return ir.KindFloat
		}
		return KindOf(s.Arg)
	case *RowNumber:
		return ir.KindInt
	case *Exists, *In:
		return ir.KindBool
	case *ScalarSubquery:
		if len(s.Query.Projection) > 0 {
			return KindOf(s.Query.Projection[0].Expr)
		}
	}
	return ir.KindUnknown
}

// IsNullable reports whether s can evaluate to NULL.
func IsNullable(s Scalar) bool {
	switch s := s.(type) {
	case *ColumnRef:
		return s.Nullable
	case *Constant:
		return ir.IsNull(s.Value)
	case *Parameter:
		return s.Nullable
	case *Binary:
		return IsNullable(s.Left) || IsNullable(s.Right)
	case *Unary:
		switch s.Op {
		case OpIsNull, OpIsNotNull:
			return false
		}
		return IsNullable(s.Operand)
	case *Case:
		if s.Else == nil || IsNullable(s.Else) {
			return true
		}
		for _, w := range s.Whens {
			if IsNullable(w.Result) {
				return true
			}
		}
		return false
	case *Func:
		if s.Name == "COALESCE" {
			for _, a := range s.Args {
				if !IsNullable(a) {
					return false
				}
			}
			return true
		}
		if s.Nullable {
			return true
		}
		for _, a := range s.Args {
			if IsNullable(a) {
				return true
			}
		}
		return false
	case *Aggregate:
		return s.Func != AggCount
	case *RowNumber, *Exists:
		return false
	case *In:
		if IsNullable(s.Operand) {
			return true
		}
		for _, v := range s.Values {
			if IsNullable(v) {
				return true
			}
		}
		return false
	case *ScalarSubquery:
		return true
	}
	return true
}

// And conjoins predicates, dropping nils and TRUE literals.
func And(preds ...Scalar) Scalar {
	var out Scalar
	for _, p := range preds {
		if p == nil {
			continue
		}
		if v, ok := BoolConstant(p); ok && v {
			continue
		}
		if out == nil {
			out = p
		} else {
			out = &Binary{Op: OpAnd, Left: out, Right: p}
		}
	}
	return out
}

// Or disjoins predicates, dropping nils and FALSE literals.
func Or(preds ...Scalar) Scalar {
	var out Scalar
	for _, p := range preds {
		if p == nil {
			continue
		}
		if v, ok := BoolConstant(p); ok && !v {
			continue
		}
		if out == nil {
			out = p
		} else {
			out = &Binary{Op: OpOr, Left: out, Right: p}
		}
	}
	if out == nil {
		return False()
	}
	return out
}

// Conjuncts splits a predicate on top-level ANDs.
func Conjuncts(p Scalar) []Scalar {
	if p == nil {
		return nil
	}
	if b, ok := p.(*Binary); ok && b.Op == OpAnd {
		return append(Conjuncts(b.Left), Conjuncts(b.Right)...)
	}
	return []Scalar{p}
}

// IsNull and IsNotNull build null tests.
func IsNull(s Scalar) Scalar    { return &Unary{Op: OpIsNull, Operand: s} }
func IsNotNull(s Scalar) Scalar { return &Unary{Op: OpIsNotNull, Operand: s} }

// Not negates a predicate.
func Not(s Scalar) Scalar { return &Unary{Op: OpNot, Operand: s} }

// Eq builds an equality comparison.
func Eq(l, r Scalar) Scalar { return &Binary{Op: OpEq, Left: l, Right: r} }

// KeyEq builds an equality between join keys.
func KeyEq(l, r Scalar) Scalar { return &Binary{Op: OpEq, Left: l, Right: r, KeyMatch: true} }

// WithNullable returns a copy of a column reference with its nullability
// widened. Other scalars are returned unchanged.
func WithNullable(s Scalar, nullable bool) Scalar {
	if c, ok := s.(*ColumnRef); ok && nullable && !c.Nullable {
		cp := *c
		cp.Nullable = true
		return &cp
	}
	return s
}
