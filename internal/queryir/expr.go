package queryir

import "github.com/roach88/navq/internal/ir"

// Expr is a value-producing expression inside a lambda body.
//
// This is a sealed interface - only types in this package implement it.
type Expr interface {
	exprNode() // Marker method - seals interface to this package
}

// Param references a lambda parameter (the element being processed, or an
// element of an enclosing lambda).
type Param struct {
	Name string
}

// Constant is a literal. Constants take part in the query fingerprint.
type Constant struct {
	Value ir.IRValue
}

// Parameter is a query parameter (@name) whose value is supplied per
// execution. Only its null-ness and kind influence the compiled plan.
type Parameter struct {
	Name string
}

// Member accesses a property or navigation of Target (or a field of an
// anonymous record, or Key of a grouping).
type Member struct {
	Target Expr
	Name   string
}

// BinaryOp is a binary operator.
type BinaryOp string

const (
	OpEqual        BinaryOp = "=="
	OpNotEqual     BinaryOp = "!="
	OpLess         BinaryOp = "<"
	OpLessEqual    BinaryOp = "<="
	OpGreater      BinaryOp = ">"
	OpGreaterEqual BinaryOp = ">="
	OpAndAlso      BinaryOp = "&&"
	OpOrElse       BinaryOp = "||"
	OpAdd          BinaryOp = "+"
	OpSubtract     BinaryOp = "-"
	OpMultiply     BinaryOp = "*"
	OpDivide       BinaryOp = "/"
	OpModulo       BinaryOp = "%"
	OpAnd          BinaryOp = "&"
	OpOr           BinaryOp = "|"
	OpCoalesce     BinaryOp = "??"
)

// IsComparison reports whether op compares its operands.
func (op BinaryOp) IsComparison() bool {
	switch op {
	case OpEqual, OpNotEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		return true
	}
	return false
}

// IsArithmetic reports whether op is an arithmetic operator.
func (op BinaryOp) IsArithmetic() bool {
	switch op {
	case OpAdd, OpSubtract, OpMultiply, OpDivide, OpModulo:
		return true
	}
	return false
}

// Binary applies Op to Left and Right. Checked marks arithmetic written
// inside checked(...), which must fail on overflow instead of wrapping.
type Binary struct {
	Op      BinaryOp
	Left    Expr
	Right   Expr
	Checked bool
}

// UnaryOp is a unary operator.
type UnaryOp string

const (
	OpNot    UnaryOp = "!"
	OpNegate UnaryOp = "-"
)

// Unary applies Op to Operand.
type Unary struct {
	Op      UnaryOp
	Operand Expr
}

// Conditional is Test ? Then : Else.
type Conditional struct {
	Test Expr
	Then Expr
	Else Expr
}

// Convert is a hard cast: cast<Officer>(g) or cast<int?>(x). Casting an
// entity to a type it is not fails at materialization time.
type Convert struct {
	Operand Expr
	Type    string
}

// TypeAs is a soft cast (g as Officer): null when Operand is not of Type.
type TypeAs struct {
	Operand Expr
	Type    string
}

// TypeIs tests the runtime entity type (g is Officer).
type TypeIs struct {
	Operand Expr
	Type    string
}

// Field is one member of an anonymous record.
type Field struct {
	Name  string
	Value Expr
}

// New constructs an anonymous record: new { g.Nickname, Count = 1 }.
type New struct {
	Fields []Field
}

// Call invokes a method. Target is nil for static functions
// (Math.Abs(x), Coalesce(a, b)); otherwise it is the receiver
// (g.Nickname.StartsWith("M")).
type Call struct {
	Target Expr
	Method string
	Args   []Expr
}

// Subquery embeds a query in an expression: a collection valued
// projection, or a terminal such as g.Weapons.Count().
type Subquery struct {
	Query Node
}

func (*Param) exprNode()       {}
func (*Constant) exprNode()    {}
func (*Parameter) exprNode()   {}
func (*Member) exprNode()      {}
func (*Binary) exprNode()      {}
func (*Unary) exprNode()       {}
func (*Conditional) exprNode() {}
func (*Convert) exprNode()     {}
func (*TypeAs) exprNode()      {}
func (*TypeIs) exprNode()      {}
func (*New) exprNode()         {}
func (*Call) exprNode()        {}
func (*Subquery) exprNode()    {}

// IsNullConstant reports whether e is the literal null.
func IsNullConstant(e Expr) bool {
	c, ok := e.(*Constant)
	return ok && ir.IsNull(c.Value)
}

// Lit returns a constant expression for a Go value. It panics on values
// FromNative cannot represent; use it for literals known at compile time.
func Lit(v any) *Constant {
	return &Constant{Value: ir.MustFromNative(v)}
}

// Lam builds a single-parameter lambda.
func Lam(param string, body Expr) *Lambda {
	return &Lambda{Params: []string{param}, Body: body}
}

// Lam2 builds a two-parameter lambda.
func Lam2(a, b string, body Expr) *Lambda {
	return &Lambda{Params: []string{a, b}, Body: body}
}

// Prop builds a member access chain: Prop("g", "Squad", "Name") is
// g.Squad.Name.
func Prop(param string, path ...string) Expr {
	var e Expr = &Param{Name: param}
	for _, name := range path {
		e = &Member{Target: e, Name: name}
	}
	return e
}
