package navexpand

import (
	"strings"

	"github.com/roach88/navq/internal/correlate"
	"github.com/roach88/navq/internal/queryir"
	"github.com/roach88/navq/internal/querysql"
	"github.com/roach88/navq/internal/relational"
	"github.com/roach88/navq/internal/setop"
)

// keysOf lowers a join key to the columns compared pairwise.
func (x *expansion) keysOf(v value) ([]relational.Scalar, error) {
	if e, ok := v.(*entityValue); ok {
		return x.keyColumns(e), nil
	}
	if hasCollections(v) {
		return nil, queryir.InvalidQuery("a join key cannot contain a collection")
	}
	return x.flatten(v)
}

func (x *expansion) join(n *queryir.Join, env *env) (*query, error) {
	outer, err := x.node(n.Outer, env)
	if err != nil {
		return nil, err
	}
	if !outer.sel.IsSimple() {
		if _, err := x.pushdown(outer); err != nil {
			return nil, err
		}
	}
	inner, err := x.node(n.Inner, env)
	if err != nil {
		return nil, err
	}
	if len(inner.sel.Tables) != 1 || !inner.sel.IsSimple() || inner.sel.Tables[0].Table == "" {
		if _, err := x.pushdown(inner); err != nil {
			return nil, err
		}
	}
	inner.sel.Orderings = nil

	ov, err := x.lambda(n.OuterKey, env, outer.shape)
	if err != nil {
		return nil, err
	}
	iv, err := x.lambda(n.InnerKey, env, inner.shape)
	if err != nil {
		return nil, err
	}
	ok, err := x.keysOf(ov)
	if err != nil {
		return nil, err
	}
	ik, err := x.keysOf(iv)
	if err != nil {
		return nil, err
	}
	if len(ok) != len(ik) {
		return nil, queryir.InvalidQuery("join keys of different arity: %d and %d", len(ok), len(ik))
	}

	var on []relational.Scalar
	for i := range ok {
		on = append(on, relational.KeyEq(ik[i], ok[i]))
	}
	on = append(on, inner.sel.Predicate)

	src := inner.sel.Tables[0]
	src.Join = relational.JoinInner
	if n.Kind == queryir.JoinLeft {
		src.Join = relational.JoinLeft
	}
	src.On = condAnd(on...)
	outer.sel.AddTable(src)

	shape := rescope(inner.shape, inner, outer)
	ident := inner.ident
	for k, j := range inner.joins {
		outer.joins[k] = rescope(j, inner, outer).(*entityValue)
	}
	if n.Kind == queryir.JoinLeft {
		aliases := map[string]bool{src.Alias: true}
		if shape, err = x.widen(shape, aliases); err != nil {
			return nil, err
		}
		ident = widenAll(ident, aliases)
	}
	outer.ident = append(outer.ident, ident...)

	if outer.shape, err = x.lambda(n.Result, env, outer.shape, shape); err != nil {
		return nil, err
	}
	return outer, nil
}

func (x *expansion) groupJoin(n *queryir.GroupJoin, env *env) (*query, error) {
	outer, err := x.node(n.Outer, env)
	if err != nil {
		return nil, err
	}
	ov, err := x.lambda(n.OuterKey, env, outer.shape)
	if err != nil {
		return nil, err
	}
	ok, err := x.keysOf(ov)
	if err != nil {
		return nil, err
	}
	group := &collectionValue{
		node: n.Inner,
		env:  env,
		link: &link{
			outer: ok,
			inner: func(v value) ([]relational.Scalar, error) {
				iv, err := x.lambda(n.InnerKey, env, v)
				if err != nil {
					return nil, err
				}
				return x.keysOf(iv)
			},
		},
	}
	if outer.shape, err = x.lambda(n.Result, env, outer.shape, group); err != nil {
		return nil, err
	}
	return outer, nil
}

func (x *expansion) selectMany(n *queryir.SelectMany, env *env) (*query, error) {
	q, err := x.node(n.Input, env)
	if err != nil {
		return nil, err
	}
	if !q.sel.IsSimple() {
		if _, err := x.pushdown(q); err != nil {
			return nil, err
		}
	}

	body, left := stripDefaultIfEmpty(n.Collection.Body)
	v, err := x.lambda(&queryir.Lambda{Params: n.Collection.Params, Body: body}, env, q.shape)
	if err != nil {
		return nil, err
	}
	var cv *collectionValue
	switch v := v.(type) {
	case *collectionValue:
		cv = v
	case *groupingValue:
		cv = &collectionValue{group: v}
	default:
		return nil, queryir.InvalidQuery("SelectMany needs a sequence, got %s", describe(v))
	}
	if cv.single {
		return nil, queryir.InvalidQuery("SelectMany needs a sequence, got a single element")
	}
	iq, err := x.collectionQuery(cv)
	if err != nil {
		return nil, err
	}
	src, on, err := x.detach(iq, "SelectMany")
	if err != nil {
		return nil, err
	}

	switch {
	case left:
		src.Join = relational.JoinLeft
		src.On = on
		if src.On == nil {
			src.On = relational.True()
		}
	case on == nil:
		src.Join = relational.JoinCross
	default:
		src.Join = relational.JoinInner
		src.On = on
	}
	q.sel.AddTable(src)

	shape := rescope(iq.shape, iq, q)
	ident := iq.ident
	if left {
		aliases := map[string]bool{src.Alias: true}
		if shape, err = x.widen(shape, aliases); err != nil {
			return nil, err
		}
		ident = widenAll(ident, aliases)
	}
	q.ident = append(q.ident, ident...)
	for _, o := range iq.sel.Orderings {
		q.sel.Orderings = appendOrdering(q.sel.Orderings, o)
	}

	if n.Result == nil {
		q.shape = shape
		return q, nil
	}
	if q.shape, err = x.lambda(n.Result, env, q.shape, shape); err != nil {
		return nil, err
	}
	return q, nil
}

// stripDefaultIfEmpty removes a trailing DefaultIfEmpty from a SelectMany
// collection and reports whether it was there.
func stripDefaultIfEmpty(body queryir.Expr) (queryir.Expr, bool) {
	sq, ok := body.(*queryir.Subquery)
	if !ok {
		return body, false
	}
	d, ok := sq.Query.(*queryir.DefaultIfEmpty)
	if !ok {
		return body, false
	}
	if src, ok := d.Input.(*queryir.Source); ok && src.Collection != nil {
		return src.Collection, true
	}
	return &queryir.Subquery{Query: d.Input}, true
}

// detach turns a correlated inner query into a table source that can be
// joined to the outer select, and the join condition carrying its
// correlation. A limited inner query keeps its limit per outer row by
// numbering rows within each correlation partition.
func (x *expansion) detach(in *query, op string) (relational.TableSource, relational.Scalar, error) {
	local := localAliases(in.sel)
	var correlated, rest []relational.Scalar
	for _, c := range relational.Conjuncts(in.sel.Predicate) {
		if readsOuter(c, local) {
			correlated = append(correlated, c)
		} else {
			rest = append(rest, c)
		}
	}
	in.sel.Predicate = relational.And(rest...)
	if len(relational.FreeColumns(in.sel)) > 0 {
		return relational.TableSource{}, nil, queryir.MaterializationShape(op,
			"the inner sequence is correlated outside its filter and cannot be joined")
	}

	limited := in.limited()
	var partition []relational.Scalar
	for _, c := range correlated {
		b, ok := c.(*relational.Binary)
		if !ok || b.Op != relational.OpEq {
			continue
		}
		switch {
		case !readsOuter(b.Left, local):
			partition = append(partition, b.Left)
		case !readsOuter(b.Right, local):
			partition = append(partition, b.Right)
		}
	}

	if in.sel.Distinct {
		// A correlation equality fixes its inner side for each outer row,
		// so projecting that side keeps the distinct rows per outer row.
		for _, p := range partition {
			in.sel.Project(p, columnHint(p))
		}
	}
	if limited || len(in.sel.Tables) != 1 || !in.sel.IsSimple() || in.sel.Tables[0].Table == "" {
		m, err := x.pushdown(in)
		if err != nil {
			return relational.TableSource{}, nil, err
		}
		for i, c := range correlated {
			if correlated[i], err = m.expr(c); err != nil {
				return relational.TableSource{}, nil, err
			}
		}
		if limited {
			lowered, err := correlate.LowerLimit(m.inner, partition, x.alias("t"))
			if err != nil {
				return relational.TableSource{}, nil, err
			}
			lowered.Orderings = nil
			in.sel.Tables[0].Query = lowered
		}
	}
	on := relational.And(append(correlated, in.sel.Predicate)...)
	return in.sel.Tables[0], on, nil
}

var setOps = map[queryir.SetOp]relational.SetOpKind{
	queryir.SetConcat:    relational.SetUnionAll,
	queryir.SetUnion:     relational.SetUnion,
	queryir.SetExcept:    relational.SetExcept,
	queryir.SetIntersect: relational.SetIntersect,
}

func (x *expansion) setCombine(n *queryir.SetCombine, env *env) (*query, error) {
	l, err := x.node(n.Left, env)
	if err != nil {
		return nil, err
	}
	r, err := x.node(n.Right, env)
	if err != nil {
		return nil, err
	}
	lo, err := x.operand(l)
	if err != nil {
		return nil, err
	}
	ro, err := x.operand(r)
	if err != nil {
		return nil, err
	}
	checker := &setop.Checker{Catalog: x.cat}
	res, err := checker.Validate(n.Op, lo, ro)
	if err != nil {
		return nil, err
	}

	if res.DropOrderings {
		l.sel.Orderings, r.sel.Orderings = nil, nil
	}
	if res.Entity != nil {
		l.shape = l.shape.(*entityValue).narrowed(res.Entity)
		r.shape = r.shape.(*entityValue).narrowed(res.Entity)
	}
	lcols, err := x.flatten(l.shape)
	if err != nil {
		return nil, err
	}
	rcols, err := x.flatten(r.shape)
	if err != nil {
		return nil, err
	}
	names := columnNames(x, l.shape, "")
	for i := range lcols {
		l.sel.ProjectNew(lcols[i], names[i])
		r.sel.ProjectNew(rcols[i], names[i])
	}

	q := newQuery()
	alias := x.alias("u")
	q.sel.AddTable(relational.TableSource{Alias: alias, Set: &relational.SetOperation{Op: setOps[n.Op], Left: l.sel, Right: r.sel}})
	i := 0
	next := func() relational.Scalar {
		p := l.sel.Projection[i]
		c := &relational.ColumnRef{
			Table:    alias,
			Column:   p.Alias,
			Kind:     relational.KindOf(lcols[i]),
			Nullable: relational.IsNullable(lcols[i]) || relational.IsNullable(rcols[i]),
		}
		if c.Kind == "" {
			c.Kind = relational.KindOf(rcols[i])
		}
		i++
		return c
	}
	q.shape = x.rebuild(q, l.shape, r.shape, next)
	if e, ok := q.shape.(*entityValue); ok {
		q.ident = x.keyColumns(e)
		for _, p := range x.cat.KeyProperties(e.typ) {
			if c, ok := e.cols[p.Name].(*relational.ColumnRef); ok && !c.Nullable {
				x.identify(alias, c.Column)
			}
		}
	} else {
		q.ident, err = x.flatten(q.shape)
		if err != nil {
			return nil, err
		}
	}
	return q, nil
}

// operand describes one side of a set combination for validation.
func (x *expansion) operand(q *query) (setop.Operand, error) {
	op := setop.Operand{Collections: hasCollections(withoutIncludes(q.shape)), Limited: q.limited()}
	if e, ok := q.shape.(*entityValue); ok {
		op.Entity = e.typ
		op.Includes = e.includes
		op.Collections = false
	} else if !op.Collections {
		cols, err := x.flatten(q.shape)
		if err != nil {
			return op, err
		}
		names := columnNames(x, q.shape, "")
		for i, c := range cols {
			op.Columns = append(op.Columns, setop.Column{Path: names[i], Kind: relational.KindOf(c)})
		}
	}
	local := localAliases(q.sel)
	for _, o := range q.sel.Orderings {
		key, err := orderKey(o.Expr, local)
		if err != nil {
			return op, err
		}
		op.Orderings = append(op.Orderings, setop.OrderKey{Key: key, Descending: o.Descending})
	}
	return op, nil
}

func withoutIncludes(v value) value {
	if e, ok := v.(*entityValue); ok && e.includes != nil {
		cp := e.copy()
		cp.includes = nil
		return cp
	}
	return v
}

// orderKey renders an ordering expression with its local table aliases
// erased, so that the same ordering written over two operands compares
// equal.
func orderKey(s relational.Scalar, local map[string]bool) (string, error) {
	norm, _ := rewriteColumns(s, func(c *relational.ColumnRef) (relational.Scalar, error) {
		if !local[c.Table] {
			return c, nil
		}
		cp := *c
		cp.Table = "_"
		return &cp, nil
	})
	sql, _, err := querysql.Emit(&relational.Select{Projection: []relational.Projection{{Expr: norm, Alias: "k"}}})
	return sql, err
}

// columnNames names the columns flatten lists for v.
func columnNames(x *expansion, v value, prefix string) []string {
	switch v := v.(type) {
	case *entityValue:
		var out []string
		for _, p := range x.properties(v) {
			out = append(out, prefix+p.Column)
		}
		if v.disc != nil {
			out = append(out, prefix+x.cat.DiscriminatorColumn(v.typ))
		}
		return out
	case *recordValue:
		var out []string
		for i, f := range v.fields {
			out = append(out, columnNames(x, f, prefix+strings.ToLower(v.names[i])+"_")...)
		}
		return out
	}
	if prefix == "" {
		return []string{"value"}
	}
	return []string{strings.TrimSuffix(prefix, "_")}
}

// rebuild re-creates a shape over the columns of a set combination, in
// flatten order.
func (x *expansion) rebuild(q *query, l, r value, next func() relational.Scalar) value {
	switch lv := l.(type) {
	case *entityValue:
		rv, _ := r.(*entityValue)
		if rv == nil {
			rv = lv
		}
		e := &entityValue{
			typ:      lv.typ,
			scope:    q,
			path:     q.sel.Tables[0].Alias,
			cols:     make(map[string]relational.Scalar),
			nullable: lv.nullable || rv.nullable || lv.guard != nil || rv.guard != nil,
			includes: lv.includes,
		}
		for _, p := range x.properties(lv) {
			e.cols[p.Name] = next()
		}
		if lv.disc != nil {
			e.disc = next()
		}
		return e
	case *recordValue:
		rv, ok := r.(*recordValue)
		if !ok || len(rv.fields) != len(lv.fields) {
			rv = lv
		}
		out := &recordValue{names: lv.names}
		for i := range lv.fields {
			out.fields = append(out.fields, x.rebuild(q, lv.fields[i], rv.fields[i], next))
		}
		return out
	}
	return &scalarValue{expr: next()}
}
