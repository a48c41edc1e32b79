package nullsem

import (
	"github.com/roach88/navq/internal/ir"
	r "github.com/roach88/navq/internal/relational"
)

// Nullness is what the compiler knows about a parameter value.
type Nullness int

const (
	// Unknown parameters may be null at execution.
	Unknown Nullness = iota
	// NonNull parameters are bound to a non-null value.
	NonNull
	// Null parameters are bound to null and fold to a NULL literal.
	Null
)

// String returns a short label used in cache keys.
func (n Nullness) String() string {
	switch n {
	case NonNull:
		return "nonnull"
	case Null:
		return "null"
	default:
		return "unknown"
	}
}

// Normalizer rewrites relational trees built with source-language
// semantics into SQL semantics.
//
// Input trees use these rules: == and != treat null as a value (null ==
// null is true), relational operators are false when either side is null,
// and boolean values are exact. The output is a tree whose SQL evaluation
// produces the same results under three-valued logic.
//
// Two contexts apply. In predicate context (WHERE, ON, HAVING, CASE WHEN)
// a NULL result is as good as false, which allows shorter expansions. In
// value context every comparison must be two-valued.
type Normalizer struct {
	params   map[string]Nullness
	identity map[string]map[string]bool
}

// New returns a normalizer that folds parameters by their null-ness.
// Parameters missing from params are Unknown.
func New(params map[string]Nullness) *Normalizer {
	return &Normalizer{params: params, identity: make(map[string]map[string]bool)}
}

// Identify records the identifying columns of a table alias: columns that
// are null only when the alias matched no row. Null guards over them can
// be collapsed (see Value).
func (n *Normalizer) Identify(alias string, columns ...string) {
	set := n.identity[alias]
	if set == nil {
		set = make(map[string]bool)
		n.identity[alias] = set
	}
	for _, c := range columns {
		set[c] = true
	}
}

// Predicate normalizes s for a position where NULL means false.
func (n *Normalizer) Predicate(s r.Scalar) r.Scalar {
	return n.visit(s, true)
}

// Value normalizes s for a position that observes its exact value.
func (n *Normalizer) Value(s r.Scalar) r.Scalar {
	return n.visit(s, false)
}

// Select normalizes every clause of sel and of the selects nested in it.
// The input is not modified.
func (n *Normalizer) Select(sel *r.Select) *r.Select {
	if sel == nil {
		return nil
	}
	out := *sel
	out.Tables = make([]r.TableSource, len(sel.Tables))
	for i, t := range sel.Tables {
		out.Tables[i] = t
		switch {
		case t.Query != nil:
			out.Tables[i].Query = n.Select(t.Query)
		case t.Set != nil:
			out.Tables[i].Set = &r.SetOperation{Op: t.Set.Op, Left: n.Select(t.Set.Left), Right: n.Select(t.Set.Right)}
		}
		if t.On != nil {
			out.Tables[i].On = n.Predicate(t.On)
		}
	}
	out.Projection = make([]r.Projection, len(sel.Projection))
	for i, p := range sel.Projection {
		out.Projection[i] = r.Projection{Expr: n.Value(p.Expr), Alias: p.Alias}
	}
	if sel.Predicate != nil {
		out.Predicate = n.Predicate(sel.Predicate)
		if v, ok := r.BoolConstant(out.Predicate); ok && v {
			out.Predicate = nil
		}
	}
	out.GroupBy = n.values(sel.GroupBy)
	if sel.Having != nil {
		out.Having = n.Predicate(sel.Having)
	}
	if sel.Orderings != nil {
		out.Orderings = make([]r.Ordering, len(sel.Orderings))
		for i, o := range sel.Orderings {
			out.Orderings[i] = r.Ordering{Expr: n.Value(o.Expr), Descending: o.Descending}
		}
	}
	if sel.Limit != nil {
		out.Limit = n.Value(sel.Limit)
	}
	if sel.Offset != nil {
		out.Offset = n.Value(sel.Offset)
	}
	return &out
}

func (n *Normalizer) values(in []r.Scalar) []r.Scalar {
	if in == nil {
		return nil
	}
	out := make([]r.Scalar, len(in))
	for i, s := range in {
		out[i] = n.Value(s)
	}
	return out
}

func (n *Normalizer) visit(s r.Scalar, pred bool) r.Scalar {
	switch s := s.(type) {
	case nil:
		return nil
	case *r.Parameter:
		switch n.params[s.Name] {
		case Null:
			return r.Null(s.Kind)
		case NonNull:
			cp := *s
			cp.Nullable = false
			return &cp
		}
		cp := *s
		cp.Nullable = true
		return &cp
	case *r.ColumnRef, *r.Constant:
		return s
	case *r.Binary:
		return n.binary(s, pred)
	case *r.Unary:
		return n.unary(s, pred)
	case *r.Case:
		return n.caseExpr(s, pred)
	case *r.Func:
		return &r.Func{Name: s.Name, Args: n.values(s.Args), Kind: s.Kind, Nullable: s.Nullable}
	case *r.Aggregate:
		return &r.Aggregate{Func: s.Func, Arg: n.Value(s.Arg), Distinct: s.Distinct}
	case *r.RowNumber:
		out := &r.RowNumber{PartitionBy: n.values(s.PartitionBy)}
		for _, o := range s.OrderBy {
			out.OrderBy = append(out.OrderBy, r.Ordering{Expr: n.Value(o.Expr), Descending: o.Descending})
		}
		return out
	case *r.Exists:
		return &r.Exists{Query: n.Select(s.Query)}
	case *r.ScalarSubquery:
		return &r.ScalarSubquery{Query: n.Select(s.Query)}
	case *r.In:
		operand := n.Value(s.Operand)
		in := &r.In{Operand: operand, Values: n.values(s.Values)}
		if pred || !r.IsNullable(operand) {
			return in
		}
		return and(in, isNotNull(operand))
	}
	return s
}

func (n *Normalizer) binary(b *r.Binary, pred bool) r.Scalar {
	switch {
	case b.Op.IsLogical():
		l, rt := n.visit(b.Left, pred), n.visit(b.Right, pred)
		if b.Op == r.OpAnd {
			return and(l, rt)
		}
		return or(l, rt)
	case b.Op == r.OpEq && b.KeyMatch:
		return n.keyEqual(n.Value(b.Left), n.Value(b.Right), pred)
	case b.Op == r.OpEq:
		return n.equal(n.Value(b.Left), n.Value(b.Right), pred)
	case b.Op == r.OpNe:
		return n.notEqual(n.Value(b.Left), n.Value(b.Right))
	case b.Op.IsComparison():
		l, rt := n.Value(b.Left), n.Value(b.Right)
		if r.IsNullConstant(l) || r.IsNullConstant(rt) {
			return r.False()
		}
		cmp := &r.Binary{Op: b.Op, Left: l, Right: rt}
		if pred {
			return cmp
		}
		out := r.Scalar(cmp)
		if r.IsNullable(l) {
			out = and(out, isNotNull(l))
		}
		if r.IsNullable(rt) {
			out = and(out, isNotNull(rt))
		}
		return out
	}
	return &r.Binary{Op: b.Op, Left: n.Value(b.Left), Right: n.Value(b.Right)}
}

// equal expands == so that null equals null and null differs from every
// value.
func (n *Normalizer) equal(l, rt r.Scalar, pred bool) r.Scalar {
	lNull, rNull := r.IsNullConstant(l), r.IsNullConstant(rt)
	switch {
	case lNull && rNull:
		return r.True()
	case lNull:
		return isNull(rt)
	case rNull:
		return isNull(l)
	}

	ln, rn := r.IsNullable(l), r.IsNullable(rt)
	eq := &r.Binary{Op: r.OpEq, Left: l, Right: rt}
	switch {
	case !ln && !rn:
		return eq
	case pred && (!ln || !rn):
		return eq
	case pred:
		return or(eq, and(isNull(l), isNull(rt)))
	case !rn:
		return and(eq, isNotNull(l))
	case !ln:
		return and(eq, isNotNull(rt))
	}
	return or(
		and(eq, isNotNull(l), isNotNull(rt)),
		and(isNull(l), isNull(rt)),
	)
}

// keyEqual keeps a join key comparison two-valued: a null key on either
// side matches nothing.
func (n *Normalizer) keyEqual(l, rt r.Scalar, pred bool) r.Scalar {
	if r.IsNullConstant(l) || r.IsNullConstant(rt) {
		return r.False()
	}
	out := r.KeyEq(l, rt)
	if pred {
		return out
	}
	if r.IsNullable(l) {
		out = and(out, isNotNull(l))
	}
	if r.IsNullable(rt) {
		out = and(out, isNotNull(rt))
	}
	return out
}

// notEqual expands != so that null differs from every value and equals
// null. The expansion is two-valued in both contexts.
func (n *Normalizer) notEqual(l, rt r.Scalar) r.Scalar {
	lNull, rNull := r.IsNullConstant(l), r.IsNullConstant(rt)
	switch {
	case lNull && rNull:
		return r.False()
	case lNull:
		return isNotNull(rt)
	case rNull:
		return isNotNull(l)
	}

	ln, rn := r.IsNullable(l), r.IsNullable(rt)
	ne := &r.Binary{Op: r.OpNe, Left: l, Right: rt}
	switch {
	case !ln && !rn:
		return ne
	case !rn:
		return or(ne, isNull(l))
	case !ln:
		return or(ne, isNull(rt))
	}
	return and(
		or(ne, isNull(l), isNull(rt)),
		or(isNotNull(l), isNotNull(rt)),
	)
}

func (n *Normalizer) unary(u *r.Unary, pred bool) r.Scalar {
	switch u.Op {
	case r.OpIsNull:
		return isNull(n.Value(u.Operand))
	case r.OpIsNotNull:
		return isNotNull(n.Value(u.Operand))
	case r.OpNegate:
		return &r.Unary{Op: r.OpNegate, Operand: n.Value(u.Operand)}
	}

	// NOT: push through the operators that have an exact complement,
	// otherwise negate the two-valued form of the operand.
	switch inner := u.Operand.(type) {
	case *r.Unary:
		switch inner.Op {
		case r.OpNot:
			return n.visit(inner.Operand, pred)
		case r.OpIsNull:
			return isNotNull(n.Value(inner.Operand))
		case r.OpIsNotNull:
			return isNull(n.Value(inner.Operand))
		}
	case *r.Binary:
		switch inner.Op {
		case r.OpEq:
			return n.notEqual(n.Value(inner.Left), n.Value(inner.Right))
		case r.OpNe:
			return n.equal(n.Value(inner.Left), n.Value(inner.Right), pred)
		}
	}
	operand := n.Value(u.Operand)
	if v, ok := r.BoolConstant(operand); ok {
		return r.Const(ir.IRBool(!v))
	}
	return r.Not(operand)
}

func (n *Normalizer) caseExpr(c *r.Case, pred bool) r.Scalar {
	if collapsed, ok := n.collapseGuard(c); ok {
		return n.visit(collapsed, pred)
	}

	out := &r.Case{}
	for _, w := range c.Whens {
		cond := n.Predicate(w.Cond)
		if v, ok := r.BoolConstant(cond); ok {
			if !v {
				continue
			}
			// An always-true branch ends the CASE.
			if len(out.Whens) == 0 {
				return n.visit(w.Result, pred)
			}
			out.Else = n.visit(w.Result, pred)
			return out
		}
		out.Whens = append(out.Whens, r.When{Cond: cond, Result: n.visit(w.Result, pred)})
	}
	if c.Else != nil {
		out.Else = n.visit(c.Else, pred)
	}
	if len(out.Whens) == 0 {
		if out.Else == nil {
			return r.Null(r.KindOf(c))
		}
		return out.Else
	}
	return out
}

// collapseGuard recognizes CASE WHEN x IS NULL THEN NULL ELSE f(x) END,
// where f yields null whenever x is null, and returns f(x).
func (n *Normalizer) collapseGuard(c *r.Case) (r.Scalar, bool) {
	if len(c.Whens) != 1 || c.Else == nil || !r.IsNullConstant(c.Whens[0].Result) {
		return nil, false
	}
	guards := r.Conjuncts(c.Whens[0].Cond)
	for _, g := range guards {
		u, ok := g.(*r.Unary)
		if !ok || u.Op != r.OpIsNull {
			return nil, false
		}
		col, ok := u.Operand.(*r.ColumnRef)
		if !ok {
			return nil, false
		}
		if !n.propagatesNull(c.Else, col) {
			return nil, false
		}
	}
	return c.Else, true
}

// propagatesNull reports whether e is null whenever guard is null.
func (n *Normalizer) propagatesNull(e r.Scalar, guard *r.ColumnRef) bool {
	switch e := e.(type) {
	case *r.ColumnRef:
		if e.Table != guard.Table {
			return false
		}
		if e.Column == guard.Column {
			return true
		}
		// A missing row nulls every column of the alias.
		return n.identity[guard.Table][guard.Column]
	case *r.Binary:
		if e.Op.IsLogical() || e.Op.IsComparison() {
			return false
		}
		return n.propagatesNull(e.Left, guard) || n.propagatesNull(e.Right, guard)
	case *r.Unary:
		return e.Op == r.OpNegate && n.propagatesNull(e.Operand, guard)
	case *r.Func:
		if e.Name == "COALESCE" {
			return false
		}
		for _, a := range e.Args {
			if n.propagatesNull(a, guard) {
				return true
			}
		}
	}
	return false
}

func isNull(s r.Scalar) r.Scalar {
	switch {
	case r.IsNullConstant(s):
		return r.True()
	case !r.IsNullable(s):
		return r.False()
	}
	return r.IsNull(s)
}

func isNotNull(s r.Scalar) r.Scalar {
	switch {
	case r.IsNullConstant(s):
		return r.False()
	case !r.IsNullable(s):
		return r.True()
	}
	return r.IsNotNull(s)
}

// and folds boolean literals while conjoining.
func and(preds ...r.Scalar) r.Scalar {
	kept := make([]r.Scalar, 0, len(preds))
	for _, p := range preds {
		if v, ok := r.BoolConstant(p); ok {
			if !v {
				return r.False()
			}
			continue
		}
		kept = append(kept, p)
	}
	if len(kept) == 0 {
		return r.True()
	}
	return r.And(kept...)
}

// or folds boolean literals while disjoining.
func or(preds ...r.Scalar) r.Scalar {
	kept := make([]r.Scalar, 0, len(preds))
	for _, p := range preds {
		if v, ok := r.BoolConstant(p); ok {
			if v {
				return r.True()
			}
			continue
		}
		kept = append(kept, p)
	}
	return r.Or(kept...)
}
