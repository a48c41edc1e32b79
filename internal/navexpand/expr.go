package navexpand

import (
	"strconv"
	"strings"

	"github.com/roach88/navq/internal/catalog"
	"github.com/roach88/navq/internal/ir"
	"github.com/roach88/navq/internal/methods"
	"github.com/roach88/navq/internal/queryir"
	"github.com/roach88/navq/internal/relational"
)

// expr translates a lambda body expression.
func (x *expansion) expr(e queryir.Expr, env *env) (value, error) {
	v, err := x.exprValue(e, env)
	if err != nil {
		return nil, err
	}
	if ent, ok := v.(*entityValue); ok {
		if t, ok := env.proven(queryir.FormatExpr(e)); ok && x.cat.IsAssignableTo(t, ent.typ) {
			return ent.narrowed(t), nil
		}
	}
	return v, nil
}

func (x *expansion) exprValue(e queryir.Expr, env *env) (value, error) {
	switch e := e.(type) {
	case *queryir.Param:
		v, ok := env.lookup(e.Name)
		if !ok {
			return nil, queryir.InvalidQuery("unbound parameter '%s'", e.Name)
		}
		return v, nil

	case *queryir.Constant:
		if ir.IsNull(e.Value) {
			return &scalarValue{expr: relational.Null(ir.KindUnknown)}, nil
		}
		return &scalarValue{expr: relational.Const(e.Value)}, nil

	case *queryir.Parameter:
		return &scalarValue{expr: &relational.Parameter{Name: e.Name, Kind: x.paramKinds[e.Name], Nullable: true}}, nil

	case *queryir.Member:
		target, err := x.expr(e.Target, env)
		if err != nil {
			return nil, err
		}
		return x.member(target, e.Name, env)

	case *queryir.Binary:
		return x.binary(e, env)

	case *queryir.Unary:
		return x.unary(e, env)

	case *queryir.Conditional:
		return x.conditional(e, env)

	case *queryir.Convert:
		return x.convert(e, env)

	case *queryir.TypeAs:
		v, err := x.expr(e.Operand, env)
		if err != nil {
			return nil, err
		}
		ent, t, err := x.entityAndType(v, e.Type, "as")
		if err != nil {
			return nil, err
		}
		if x.cat.IsAssignableTo(ent.typ, t) {
			return ent, nil
		}
		out := ent.narrowed(t)
		out.guard = x.typeTest(ent, t)
		out.nullable = true
		out.path = ent.path + " as " + t.Name
		return out, nil

	case *queryir.TypeIs:
		v, err := x.expr(e.Operand, env)
		if err != nil {
			return nil, err
		}
		ent, t, err := x.entityAndType(v, e.Type, "is")
		if err != nil {
			return nil, err
		}
		return &scalarValue{expr: x.typeTest(ent, t)}, nil

	case *queryir.New:
		r := &recordValue{}
		for _, f := range e.Fields {
			v, err := x.expr(f.Value, env)
			if err != nil {
				return nil, err
			}
			r.names = append(r.names, f.Name)
			r.fields = append(r.fields, v)
		}
		return r, nil

	case *queryir.Call:
		return x.call(e, env)

	case *queryir.Subquery:
		return x.subquery(e.Query, env)
	}
	return nil, queryir.InvalidQuery("unsupported expression %T", e)
}

func (x *expansion) entityAndType(v value, typ, op string) (*entityValue, *catalog.EntityType, error) {
	ent, ok := v.(*entityValue)
	if !ok {
		return nil, nil, queryir.InvalidQuery("'%s %s' needs an entity operand, got %s", op, typ, describe(v))
	}
	t, ok := x.cat.Entity(typ)
	if !ok {
		return nil, nil, queryir.InvalidQuery("unknown entity type '%s'", typ)
	}
	if !x.cat.InHierarchy(ent.typ, t) {
		return nil, nil, queryir.InvalidQuery("'%s' is not in the hierarchy of '%s'", t.Name, ent.typ.Name)
	}
	return ent, t, nil
}

func (x *expansion) member(target value, name string, env *env) (value, error) {
	switch t := target.(type) {
	case *entityValue:
		return x.entityMember(t, name)

	case *recordValue:
		for i, n := range t.names {
			if n == name {
				return t.fields[i], nil
			}
		}
		return nil, queryir.InvalidQuery("record has no field '%s'", name)

	case *groupingValue:
		if name == "Key" {
			return t.key, nil
		}
		return nil, queryir.InvalidQuery("a grouping has no member '%s'", name)

	case *scalarValue:
		switch name {
		case "HasValue":
			return &scalarValue{expr: relational.IsNotNull(t.expr)}, nil
		case "Value":
			return t, nil
		}
		kind := relational.KindOf(t.expr)
		m, ok := x.methods.Instance(kind, name, 0)
		if !ok {
			return nil, queryir.Untranslatable(name, string(kind), "no member '%s' on %s values", name, kindName(kind))
		}
		if m.Translate == nil {
			return x.clientCall(m, t, nil), nil
		}
		return &scalarValue{expr: m.Translate(t.expr, nil)}, nil

	case *clientValue:
		switch name {
		case "HasValue":
			return &clientValue{name: "HasValue", kind: ir.KindBool, args: []value{t}, eval: func(a []any) (any, error) {
				return a[0] != nil, nil
			}}, nil
		case "Value":
			return t, nil
		}
		m, ok := x.methods.Instance(t.kind, name, 0)
		if !ok {
			return nil, queryir.Untranslatable(name, string(t.kind), "no member '%s' on %s values", name, kindName(t.kind))
		}
		return x.clientCall(m, t, nil), nil

	case *collectionValue:
		if t.single {
			return x.singleMember(t, name, env)
		}
		if name == "Count" {
			return x.reduce(t, &queryir.Terminal{Op: queryir.OpCount}, env)
		}
		return nil, queryir.InvalidQuery("a collection has no member '%s'", name)
	}
	return nil, queryir.InvalidQuery("cannot access '%s' on %s", name, describe(target))
}

func kindName(k ir.Kind) string {
	if k == ir.KindUnknown {
		return "untyped"
	}
	return string(k)
}

// clientCall defers a method to the client. recv is nil for static
// methods.
func (x *expansion) clientCall(m *methods.Method, recv value, args []value) *clientValue {
	kinds := make([]ir.Kind, len(args))
	for i, a := range args {
		kinds[i] = valueKind(a)
	}
	eval := m.Eval
	out := &clientValue{name: m.Name, declaring: m.Type}
	if recv == nil {
		out.kind = m.ResultKind(ir.KindUnknown, kinds)
		out.args = args
		out.eval = func(a []any) (any, error) { return eval(nil, a) }
		return out
	}
	out.kind = m.ResultKind(valueKind(recv), kinds)
	out.args = append([]value{recv}, args...)
	out.eval = func(a []any) (any, error) { return eval(a[0], a[1:]) }
	return out
}

func valueKind(v value) ir.Kind {
	switch v := v.(type) {
	case *scalarValue:
		return relational.KindOf(v.expr)
	case *clientValue:
		return v.kind
	}
	return ir.KindUnknown
}

var comparisonOps = map[queryir.BinaryOp]relational.BinaryOp{
	queryir.OpEqual:        relational.OpEq,
	queryir.OpNotEqual:     relational.OpNe,
	queryir.OpLess:         relational.OpLt,
	queryir.OpLessEqual:    relational.OpLe,
	queryir.OpGreater:      relational.OpGt,
	queryir.OpGreaterEqual: relational.OpGe,
}

var arithmeticOps = map[queryir.BinaryOp]relational.BinaryOp{
	queryir.OpAdd:      relational.OpAdd,
	queryir.OpSubtract: relational.OpSub,
	queryir.OpMultiply: relational.OpMul,
	queryir.OpDivide:   relational.OpDiv,
	queryir.OpModulo:   relational.OpMod,
}

func (x *expansion) binary(e *queryir.Binary, env *env) (value, error) {
	if v, ok, err := x.navNullTest(e, env); ok || err != nil {
		return v, err
	}
	l, err := x.expr(e.Left, env)
	if err != nil {
		return nil, err
	}
	r, err := x.expr(e.Right, env)
	if err != nil {
		return nil, err
	}

	if e.Op == queryir.OpEqual || e.Op == queryir.OpNotEqual {
		if v, ok, err := x.identityEqual(l, r, e.Op == queryir.OpNotEqual); ok || err != nil {
			return v, err
		}
	}

	_, lClient := l.(*clientValue)
	_, rClient := r.(*clientValue)
	if lClient || rClient || (e.Checked && e.Op.IsArithmetic()) {
		return x.clientBinary(e, l, r)
	}

	ls, lok := l.(*scalarValue)
	rs, rok := r.(*scalarValue)
	if !lok || !rok {
		return nil, queryir.InvalidQuery("operator %s cannot combine %s and %s", e.Op, describe(l), describe(r))
	}
	le, re := inferKind(ls.expr, rs.expr), inferKind(rs.expr, ls.expr)
	return &scalarValue{expr: binaryScalar(e.Op, le, re), checks: checksOf(ls, rs)}, nil
}

func binaryScalar(op queryir.BinaryOp, l, r relational.Scalar) relational.Scalar {
	if rop, ok := comparisonOps[op]; ok {
		return &relational.Binary{Op: rop, Left: l, Right: r}
	}
	lk, rk := relational.KindOf(l), relational.KindOf(r)
	switch op {
	case queryir.OpAndAlso:
		return condAnd(l, r)
	case queryir.OpOrElse:
		return relational.Or(l, r)
	case queryir.OpAnd, queryir.OpOr:
		if lk == ir.KindBool || rk == ir.KindBool {
			if op == queryir.OpAnd {
				return condAnd(l, r)
			}
			return relational.Or(l, r)
		}
		if op == queryir.OpAnd {
			return &relational.Binary{Op: relational.OpBitAnd, Left: l, Right: r}
		}
		return &relational.Binary{Op: relational.OpBitOr, Left: l, Right: r}
	case queryir.OpCoalesce:
		kind := lk
		if kind == ir.KindUnknown {
			kind = rk
		}
		return &relational.Func{Name: "COALESCE", Args: []relational.Scalar{l, r}, Kind: kind, Nullable: relational.IsNullable(r)}
	case queryir.OpAdd:
		if lk == ir.KindString || rk == ir.KindString {
			return &relational.Binary{Op: relational.OpConcat, Left: concatOperand(l), Right: concatOperand(r)}
		}
	}
	return &relational.Binary{Op: arithmeticOps[op], Left: l, Right: r}
}

// concatOperand renders a string concatenation operand so that null reads
// as the empty string, as client concatenation does.
func concatOperand(s relational.Scalar) relational.Scalar {
	if relational.KindOf(s) != ir.KindString {
		s = &relational.Func{Name: "CAST", Args: []relational.Scalar{s}, Kind: ir.KindString}
	}
	if !relational.IsNullable(s) {
		return s
	}
	return &relational.Func{Name: "COALESCE", Args: []relational.Scalar{s, relational.Const(ir.IRString(""))}, Kind: ir.KindString}
}

// condAnd conjoins two conditions, keeping TRUE when both fold away.
func condAnd(preds ...relational.Scalar) relational.Scalar {
	if out := relational.And(preds...); out != nil {
		return out
	}
	return relational.True()
}

// inferKind gives untyped parameters and null literals the kind of the
// operand they are compared or combined with.
func inferKind(s, other relational.Scalar) relational.Scalar {
	kind := relational.KindOf(other)
	if kind == ir.KindUnknown {
		return s
	}
	switch s := s.(type) {
	case *relational.Parameter:
		if s.Kind == ir.KindUnknown {
			cp := *s
			cp.Kind = kind
			return &cp
		}
	case *relational.Constant:
		if ir.IsNull(s.Value) && s.Kind == ir.KindUnknown {
			return relational.Null(kind)
		}
	}
	return s
}

func (x *expansion) clientBinary(e *queryir.Binary, l, r value) (value, error) {
	for _, v := range []value{l, r} {
		switch v.(type) {
		case *scalarValue, *clientValue:
		default:
			return nil, queryir.InvalidQuery("operator %s cannot combine %s and %s", e.Op, describe(l), describe(r))
		}
	}
	kind := valueKind(l)
	if e.Op.IsComparison() || e.Op == queryir.OpAndAlso || e.Op == queryir.OpOrElse {
		kind = ir.KindBool
	} else if kind == ir.KindUnknown {
		kind = valueKind(r)
	}
	op, checked := e.Op, e.Checked
	name := string(op)
	if checked {
		name = "checked(" + name + ")"
	}
	return &clientValue{
		name: name,
		kind: kind,
		args: []value{l, r},
		eval: func(a []any) (any, error) {
			return methods.Binary(op, a[0], a[1], checked)
		},
	}, nil
}

// identityEqual compares entities by key and tests single collections and
// entities against null. ok is false for scalar comparisons.
func (x *expansion) identityEqual(l, r value, negate bool) (value, bool, error) {
	result := func(s relational.Scalar) (value, bool, error) {
		if negate {
			if v, ok := relational.BoolConstant(s); ok {
				if v {
					return &scalarValue{expr: relational.False()}, true, nil
				}
				return &scalarValue{expr: relational.True()}, true, nil
			}
			s = relational.Not(s)
		}
		return &scalarValue{expr: s}, true, nil
	}

	if isNullValue(l) {
		l, r = r, l
	}
	switch lv := l.(type) {
	case *entityValue:
		if isNullValue(r) {
			if !lv.nullable && lv.guard == nil {
				return result(relational.False())
			}
			return result(relational.IsNull(x.keyColumns(lv)[0]))
		}
		rv, ok := r.(*entityValue)
		if !ok {
			return nil, true, queryir.InvalidQuery("cannot compare %s with %s", describe(l), describe(r))
		}
		if !x.cat.InHierarchy(lv.typ, rv.typ) {
			return result(relational.False())
		}
		lk, rk := x.keyColumns(lv), x.keyColumns(rv)
		parts := make([]relational.Scalar, len(lk))
		for i := range lk {
			parts[i] = relational.Eq(lk[i], rk[i])
		}
		return result(condAnd(parts...))

	case *collectionValue:
		if !lv.single || !isNullValue(r) {
			return nil, true, queryir.InvalidQuery("cannot compare %s with %s", describe(l), describe(r))
		}
		q, err := x.collectionQuery(lv)
		if err != nil {
			return nil, true, err
		}
		return result(relational.Not(&relational.Exists{Query: q.sel}))
	}
	return nil, false, nil
}

func isNullValue(v value) bool {
	s, ok := v.(*scalarValue)
	return ok && relational.IsNullConstant(s.expr)
}

// navNullTest rewrites `e.Ref == null` on a reference navigation whose
// foreign key is held by e into a test of the foreign key columns, saving
// the join.
func (x *expansion) navNullTest(e *queryir.Binary, env *env) (value, bool, error) {
	if e.Op != queryir.OpEqual && e.Op != queryir.OpNotEqual {
		return nil, false, nil
	}
	side := e.Left
	if queryir.IsNullConstant(side) {
		side = e.Right
	} else if !queryir.IsNullConstant(e.Right) {
		return nil, false, nil
	}
	m, ok := side.(*queryir.Member)
	if !ok {
		return nil, false, nil
	}
	target, err := x.expr(m.Target, env)
	if err != nil {
		return nil, false, err
	}
	owner, ok := target.(*entityValue)
	if !ok {
		return nil, false, nil
	}
	member, ok := x.cat.FindMember(owner.typ, m.Name)
	if !ok || member.Navigation == nil {
		return nil, false, nil
	}
	nav := member.Navigation
	if nav.Collection || !nav.DependentIsDeclaring || x.cat.Base(x.cat.Type(nav.Target)) != nil {
		return nil, false, nil
	}
	var tests []relational.Scalar
	for _, p := range nav.Pairs {
		tests = append(tests, relational.IsNull(owner.column(p.Source)))
	}
	test := relational.Or(tests...)
	if owner.nullable || owner.guard != nil {
		test = relational.Or(relational.IsNull(x.keyColumns(owner)[0]), test)
	}
	if e.Op == queryir.OpNotEqual {
		test = relational.Not(test)
	}
	return &scalarValue{expr: test}, true, nil
}

func (x *expansion) unary(e *queryir.Unary, env *env) (value, error) {
	v, err := x.expr(e.Operand, env)
	if err != nil {
		return nil, err
	}
	switch v := v.(type) {
	case *scalarValue:
		if e.Op == queryir.OpNot {
			if b, ok := relational.BoolConstant(v.expr); ok {
				return &scalarValue{expr: relational.Const(ir.IRBool(!b))}, nil
			}
			return &scalarValue{expr: relational.Not(v.expr), checks: v.checks}, nil
		}
		return &scalarValue{expr: &relational.Unary{Op: relational.OpNegate, Operand: v.expr}, checks: v.checks}, nil
	case *clientValue:
		op := e.Op
		return &clientValue{name: string(op), kind: v.kind, args: []value{v}, eval: func(a []any) (any, error) {
			return methods.Unary(op, a[0], false)
		}}, nil
	}
	return nil, queryir.InvalidQuery("operator %s does not apply to %s", e.Op, describe(v))
}

func (x *expansion) conditional(e *queryir.Conditional, env *env) (value, error) {
	test, err := x.expr(e.Test, env)
	if err != nil {
		return nil, err
	}
	thenEnv := env
	if is, ok := e.Test.(*queryir.TypeIs); ok {
		if t, ok := x.cat.Entity(is.Type); ok {
			thenEnv = env.prove(queryir.FormatExpr(is.Operand), t)
		}
	}
	then, err := x.expr(e.Then, thenEnv)
	if err != nil {
		return nil, err
	}
	els, err := x.expr(e.Else, env)
	if err != nil {
		return nil, err
	}

	_, tc := test.(*clientValue)
	_, hc := then.(*clientValue)
	_, ec := els.(*clientValue)
	if tc || hc || ec {
		for _, v := range []value{test, then, els} {
			switch v.(type) {
			case *scalarValue, *clientValue:
			default:
				return nil, queryir.InvalidQuery("a client-evaluated conditional cannot yield %s", describe(v))
			}
		}
		return &clientValue{name: "?:", kind: valueKind(then), args: []value{test, then, els}, eval: func(a []any) (any, error) {
			if b, _ := a[0].(bool); b {
				return a[1], nil
			}
			return a[2], nil
		}}, nil
	}

	cond, err := x.condition(test)
	if err != nil {
		return nil, err
	}
	switch th := then.(type) {
	case *scalarValue:
		es, ok := els.(*scalarValue)
		if !ok {
			if ent, ok := els.(*entityValue); ok && relational.IsNullConstant(th.expr) {
				return x.guardEntity(ent, relational.Not(cond)), nil
			}
			return nil, queryir.InvalidQuery("conditional branches of different shapes: %s and %s", describe(then), describe(els))
		}
		thExpr, elExpr := inferKind(th.expr, es.expr), inferKind(es.expr, th.expr)
		return &scalarValue{expr: &relational.Case{Whens: []relational.When{{Cond: cond, Result: thExpr}}, Else: elExpr}}, nil
	case *entityValue:
		if isNullValue(els) {
			return x.guardEntity(th, cond), nil
		}
	}
	return nil, queryir.InvalidQuery("conditional branches of different shapes: %s and %s", describe(then), describe(els))
}

// guardEntity makes e null wherever cond does not hold.
func (x *expansion) guardEntity(e *entityValue, cond relational.Scalar) *entityValue {
	out := e.copy()
	out.guard = condAnd(e.guard, cond)
	out.nullable = true
	out.path = e.path + "?" + strconv.Itoa(x.nextID())
	return out
}

// scalarKinds maps the scalar type names of cast<T>(x).
var scalarKinds = map[string]ir.Kind{
	"int":     ir.KindInt,
	"long":    ir.KindInt,
	"short":   ir.KindInt,
	"float":   ir.KindFloat,
	"double":  ir.KindFloat,
	"decimal": ir.KindFloat,
	"string":  ir.KindString,
	"bool":    ir.KindBool,
}

func (x *expansion) convert(e *queryir.Convert, env *env) (value, error) {
	v, err := x.expr(e.Operand, env)
	if err != nil {
		return nil, err
	}
	if t, ok := x.cat.Entity(e.Type); ok {
		ent, t, err := x.entityAndType(v, t.Name, "cast")
		if err != nil {
			return nil, err
		}
		if x.cat.IsAssignableTo(ent.typ, t) {
			return ent, nil
		}
		out := ent.narrowed(t)
		out.assert = t
		return out, nil
	}

	kind, ok := scalarKinds[strings.TrimSuffix(e.Type, "?")]
	if !ok {
		return nil, queryir.InvalidQuery("unknown type '%s'", e.Type)
	}
	switch v := v.(type) {
	case *scalarValue:
		if relational.KindOf(v.expr) == kind {
			return v, nil
		}
		if c, ok := v.expr.(*relational.Constant); ok && ir.IsNull(c.Value) {
			return &scalarValue{expr: relational.Null(kind)}, nil
		}
		return &scalarValue{expr: &relational.Func{Name: "CAST", Args: []relational.Scalar{v.expr}, Kind: kind}, checks: v.checks}, nil
	case *clientValue:
		typ := e.Type
		return &clientValue{name: "cast<" + typ + ">", kind: kind, args: []value{v}, eval: func(a []any) (any, error) {
			return methods.Convert(a[0], typ)
		}}, nil
	}
	return nil, queryir.InvalidQuery("cannot cast %s to %s", describe(v), e.Type)
}

func (x *expansion) call(e *queryir.Call, env *env) (value, error) {
	args := make([]value, len(e.Args))
	for i, a := range e.Args {
		v, err := x.expr(a, env)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	if e.Target == nil {
		return x.staticCall(e.Method, args)
	}
	recv, err := x.expr(e.Target, env)
	if err != nil {
		return nil, err
	}

	switch r := recv.(type) {
	case *collectionValue:
		if e.Method == "Contains" && len(args) == 1 && !r.single {
			return x.contains(r, args[0])
		}
		return nil, queryir.Untranslatable(e.Method, "", "'%s' is not supported on collections", e.Method)
	case *entityValue:
		if e.Method == "Equals" && len(args) == 1 {
			v, _, err := x.identityEqual(r, args[0], false)
			return v, err
		}
		return nil, queryir.Untranslatable(e.Method, r.typ.Name, "entities have no method '%s'", e.Method)
	case *scalarValue, *clientValue:
	default:
		return nil, queryir.InvalidQuery("cannot call '%s' on %s", e.Method, describe(recv))
	}

	kind := valueKind(recv)
	m, ok := x.methods.Instance(kind, e.Method, len(args))
	if !ok {
		return nil, queryir.Untranslatable(e.Method, string(kind), "no method '%s' taking %d arguments on %s values", e.Method, len(args), kindName(kind))
	}
	return x.apply(m, recv, args)
}

// apply translates a method call, deferring it to the client when the
// method has no SQL form or an operand is client evaluated.
func (x *expansion) apply(m *methods.Method, recv value, args []value) (value, error) {
	all := args
	if recv != nil {
		all = append([]value{recv}, args...)
	}
	client := m.Translate == nil
	for _, a := range all {
		switch a.(type) {
		case *clientValue:
			client = true
		case *scalarValue:
		default:
			return nil, queryir.InvalidQuery("'%s' cannot take %s", m.Name, describe(a))
		}
	}
	if client {
		return x.clientCall(m, recv, args), nil
	}
	var rs relational.Scalar
	if recv != nil {
		rs = recv.(*scalarValue).expr
	}
	as := make([]relational.Scalar, len(args))
	for i, a := range args {
		as[i] = a.(*scalarValue).expr
		if rs != nil {
			as[i] = inferKind(as[i], rs)
		}
	}
	return &scalarValue{expr: m.Translate(rs, as), checks: checksOf(all...)}, nil
}

func (x *expansion) staticCall(method string, args []value) (value, error) {
	dot := strings.LastIndex(method, ".")
	if dot < 0 {
		if method == "Coalesce" && len(args) == 2 {
			return x.binary2(queryir.OpCoalesce, args[0], args[1])
		}
		return nil, queryir.Untranslatable(method, "", "unknown function '%s'", method)
	}
	typ, name := method[:dot], method[dot+1:]
	m, ok := x.methods.Static(typ, name, len(args))
	if !ok {
		return nil, queryir.Untranslatable(name, typ, "no static method '%s' taking %d arguments", method, len(args))
	}
	return x.apply(m, nil, args)
}

// binary2 combines two already translated operands.
func (x *expansion) binary2(op queryir.BinaryOp, l, r value) (value, error) {
	ls, lok := l.(*scalarValue)
	rs, rok := r.(*scalarValue)
	if lok && rok {
		return &scalarValue{expr: binaryScalar(op, inferKind(ls.expr, rs.expr), inferKind(rs.expr, ls.expr))}, nil
	}
	return x.clientBinary(&queryir.Binary{Op: op}, l, r)
}

// contains translates coll.Contains(item) to an EXISTS over the collection.
func (x *expansion) contains(cv *collectionValue, item value) (value, error) {
	q, err := x.collectionQuery(cv)
	if err != nil {
		return nil, err
	}
	if !q.sel.IsSimple() {
		if _, err := x.pushdown(q); err != nil {
			return nil, err
		}
	}
	eq, ok, err := x.identityEqual(q.shape, item, false)
	if err != nil {
		return nil, err
	}
	if !ok {
		el, lok := q.shape.(*scalarValue)
		it, rok := item.(*scalarValue)
		if !lok || !rok {
			return nil, queryir.InvalidQuery("Contains cannot compare %s with %s", describe(q.shape), describe(item))
		}
		eq = &scalarValue{expr: relational.Eq(el.expr, inferKind(it.expr, el.expr))}
	}
	q.sel.AddPredicate(eq.(*scalarValue).expr)
	return &scalarValue{expr: &relational.Exists{Query: q.sel}}, nil
}

// typeTest tests whether e is an instance of t.
func (x *expansion) typeTest(e *entityValue, t *catalog.EntityType) relational.Scalar {
	if x.cat.IsAssignableTo(e.typ, t) {
		if e.nullable || e.guard != nil {
			return relational.IsNotNull(x.keyColumns(e)[0])
		}
		return relational.True()
	}
	if e.disc == nil {
		return relational.False()
	}
	return condAnd(e.guard, x.discriminatorIn(e.disc, t))
}

// discriminatorIn tests a discriminator column against the concrete types
// assignable to t.
func (x *expansion) discriminatorIn(disc relational.Scalar, t *catalog.EntityType) relational.Scalar {
	var values []relational.Scalar
	for _, c := range x.cat.ConcreteTypes(t) {
		values = append(values, relational.Const(ir.IRString(c.DiscriminatorValue)))
	}
	if len(values) == 0 {
		return relational.False()
	}
	return &relational.In{Operand: disc, Values: values}
}
