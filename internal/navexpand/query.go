package navexpand

import (
	"github.com/roach88/navq/internal/include"
	"github.com/roach88/navq/internal/queryir"
	"github.com/roach88/navq/internal/relational"
)

// query is a select under construction together with the shape of its
// elements. ident lists the columns identifying one element; joins caches
// the reference navigations already joined into sel by path.
type query struct {
	sel   *relational.Select
	shape value
	ident []relational.Scalar
	joins map[string]*entityValue
}

func newQuery() *query {
	return &query{sel: &relational.Select{}, joins: make(map[string]*entityValue)}
}

func (q *query) limited() bool {
	return q.sel.Limit != nil || q.sel.Offset != nil
}

// clone copies q so that a translated collection can be placed more than
// once.
func (q *query) clone() *query {
	out := &query{sel: q.sel.Clone(), ident: q.ident, joins: make(map[string]*entityValue, len(q.joins))}
	out.shape = rescope(q.shape, q, out)
	for k, j := range q.joins {
		out.joins[k] = rescope(j, q, out).(*entityValue)
	}
	return out
}

// liveGrouping returns the grouping q projects while aggregates can still
// be added to q's grouped select.
func liveGrouping(q *query) (*groupingValue, bool) {
	g, ok := q.shape.(*groupingValue)
	if !ok || g.scope != q || q.limited() || q.sel.Distinct {
		return nil, false
	}
	return g, true
}

func (x *expansion) node(n queryir.Node, env *env) (*query, error) {
	switch n := n.(type) {
	case *queryir.Source:
		return x.source(n, env)
	case *queryir.Filter:
		return x.filter(n, env)
	case *queryir.Project:
		return x.project(n, env)
	case *queryir.OrderBy:
		return x.orderBy(n, env)
	case *queryir.Take:
		return x.take(n, env)
	case *queryir.Skip:
		return x.skip(n, env)
	case *queryir.Distinct:
		return x.distinct(n, env)
	case *queryir.TypeFilter:
		return x.typeFilter(n, env)
	case *queryir.Include:
		return x.include(n, env)
	case *queryir.Join:
		return x.join(n, env)
	case *queryir.GroupJoin:
		return x.groupJoin(n, env)
	case *queryir.SelectMany:
		return x.selectMany(n, env)
	case *queryir.GroupBy:
		return x.groupBy(n, env)
	case *queryir.SetCombine:
		return x.setCombine(n, env)
	case *queryir.DefaultIfEmpty:
		return nil, queryir.InvalidQuery("DefaultIfEmpty is only supported as the collection of a SelectMany")
	case *queryir.Terminal:
		return nil, queryir.InvalidQuery("%s must be the last operator of a query", n.Op)
	}
	return nil, queryir.InvalidQuery("unsupported operator %T", n)
}

// lambda translates l's body with its parameters bound to args.
func (x *expansion) lambda(l *queryir.Lambda, env *env, args ...value) (value, error) {
	for i, p := range l.Params {
		env = env.bind(p, args[i])
	}
	return x.expr(l.Body, env)
}

// predicate translates a boolean lambda to a scalar usable in WHERE.
func (x *expansion) predicate(l *queryir.Lambda, env *env, args ...value) (relational.Scalar, error) {
	v, err := x.lambda(l, env, args...)
	if err != nil {
		return nil, err
	}
	return x.condition(v)
}

func (x *expansion) condition(v value) (relational.Scalar, error) {
	switch v := v.(type) {
	case *scalarValue:
		return v.expr, nil
	case *clientValue:
		return nil, x.clientError(v)
	}
	return nil, queryir.InvalidQuery("a predicate must be boolean, got %s", describe(v))
}

func (x *expansion) source(n *queryir.Source, env *env) (*query, error) {
	if n.Collection != nil {
		v, err := x.expr(n.Collection, env)
		if err != nil {
			return nil, err
		}
		switch v := v.(type) {
		case *collectionValue:
			return x.collectionQuery(v)
		case *groupingValue:
			return x.groupElements(v)
		}
		return nil, queryir.InvalidQuery("'%s' is not a sequence", queryir.FormatExpr(n.Collection))
	}

	t, ok := x.cat.Entity(n.Entity)
	if !ok {
		return nil, queryir.InvalidQuery("unknown entity type '%s'", n.Entity)
	}
	q := newQuery()
	alias := x.alias(t.Table)
	q.sel.AddTable(relational.TableSource{Alias: alias, Table: t.Table})
	e := x.tableEntity(q, t, alias, alias, false)
	if x.cat.Base(t) != nil {
		q.sel.AddPredicate(x.discriminatorIn(e.disc, t))
	}
	q.shape = e
	q.ident = x.keyColumns(e)
	for _, p := range x.cat.KeyProperties(t) {
		x.identify(alias, p.Column)
	}
	return q, nil
}

// collectionQuery translates a pending collection and correlates it with
// its owner.
func (x *expansion) collectionQuery(cv *collectionValue) (*query, error) {
	if cv.q != nil {
		return cv.q.clone(), nil
	}
	var (
		q   *query
		err error
	)
	if cv.group != nil {
		q, err = x.groupElements(cv.group)
	} else {
		q, err = x.node(cv.node, cv.env)
	}
	if err != nil {
		return nil, err
	}

	if cv.link != nil {
		if !q.sel.IsSimple() {
			if _, err := x.pushdown(q); err != nil {
				return nil, err
			}
		}
		inner, err := cv.link.inner(q.shape)
		if err != nil {
			return nil, err
		}
		if len(inner) != len(cv.link.outer) {
			return nil, queryir.InvalidQuery("join keys of different arity: %d and %d", len(inner), len(cv.link.outer))
		}
		for i, in := range inner {
			out := cv.link.outer[i]
			q.sel.AddPredicate(relational.KeyEq(in, out))
		}
	}

	if !cv.includes.IsEmpty() {
		e, ok := q.shape.(*entityValue)
		if !ok {
			return nil, queryir.IncludeMisuse(cv.includes.Paths()[0], "the included collection projects %s", describe(q.shape))
		}
		merged, err := include.Merge(e.includes, cv.includes)
		if err != nil {
			return nil, err
		}
		e = e.copy()
		e.includes = merged
		q.shape = e
	}
	return q, nil
}

func (x *expansion) filter(n *queryir.Filter, env *env) (*query, error) {
	q, err := x.node(n.Input, env)
	if err != nil {
		return nil, err
	}
	if g, ok := liveGrouping(q); ok {
		pred, err := x.predicate(n.Predicate, env, g)
		if err != nil {
			return nil, err
		}
		q.sel.Having = relational.And(q.sel.Having, pred)
		return q, nil
	}
	if !q.sel.IsSimple() {
		if _, err := x.pushdown(q); err != nil {
			return nil, err
		}
	}
	pred, err := x.predicate(n.Predicate, env, q.shape)
	if err != nil {
		return nil, err
	}
	q.sel.AddPredicate(pred)
	q.shape = x.narrowByFilter(q.shape, n.Predicate)
	return q, nil
}

// narrowByFilter narrows an entity shape by the `is` conjuncts of a
// filter: after Where(f => f is LocustHorde) members of LocustHorde are
// reachable.
func (x *expansion) narrowByFilter(shape value, l *queryir.Lambda) value {
	e, ok := shape.(*entityValue)
	if !ok {
		return shape
	}
	var visit func(queryir.Expr)
	visit = func(b queryir.Expr) {
		switch b := b.(type) {
		case *queryir.Binary:
			if b.Op == queryir.OpAndAlso {
				visit(b.Left)
				visit(b.Right)
			}
		case *queryir.TypeIs:
			p, ok := b.Operand.(*queryir.Param)
			if !ok || p.Name != l.Params[0] {
				return
			}
			if t, ok := x.cat.Entity(b.Type); ok && x.cat.IsAssignableTo(t, e.typ) {
				e = e.narrowed(t)
			}
		}
	}
	visit(l.Body)
	return e
}

func (x *expansion) project(n *queryir.Project, env *env) (*query, error) {
	q, err := x.node(n.Input, env)
	if err != nil {
		return nil, err
	}
	if q.sel.Distinct {
		if _, err := x.pushdown(q); err != nil {
			return nil, err
		}
	}
	v, err := x.lambda(n.Selector, env, q.shape)
	if err != nil {
		return nil, err
	}
	q.shape = v
	return q, nil
}

func (x *expansion) orderBy(n *queryir.OrderBy, env *env) (*query, error) {
	q, err := x.node(n.Input, env)
	if err != nil {
		return nil, err
	}
	if q.limited() {
		if _, err := x.pushdown(q); err != nil {
			return nil, err
		}
	}
	var orderings []relational.Ordering
	for _, k := range n.Keys {
		v, err := x.lambda(k.Key, env, q.shape)
		if err != nil {
			return nil, err
		}
		cols, err := x.orderColumns(v)
		if err != nil {
			return nil, err
		}
		for _, c := range cols {
			orderings = appendOrdering(orderings, relational.Ordering{Expr: c, Descending: k.Descending})
		}
	}
	q.sel.Orderings = orderings
	return q, nil
}

func (x *expansion) orderColumns(v value) ([]relational.Scalar, error) {
	switch v := v.(type) {
	case *scalarValue:
		return []relational.Scalar{v.expr}, nil
	case *entityValue:
		return x.keyColumns(v), nil
	case *recordValue:
		var out []relational.Scalar
		for _, f := range v.fields {
			cols, err := x.orderColumns(f)
			if err != nil {
				return nil, err
			}
			out = append(out, cols...)
		}
		return out, nil
	case *clientValue:
		return nil, x.clientError(v)
	}
	return nil, queryir.InvalidQuery("cannot order by %s", describe(v))
}

// appendOrdering adds o unless an ordering on the same expression is
// already present.
func appendOrdering(list []relational.Ordering, o relational.Ordering) []relational.Ordering {
	for _, existing := range list {
		if relational.Equal(existing.Expr, o.Expr) {
			return list
		}
	}
	return append(list, o)
}

func (x *expansion) count(e queryir.Expr, env *env) (relational.Scalar, error) {
	v, err := x.expr(e, env)
	if err != nil {
		return nil, err
	}
	s, ok := v.(*scalarValue)
	if !ok {
		return nil, queryir.InvalidQuery("a count must be a scalar, got %s", describe(v))
	}
	return s.expr, nil
}

func (x *expansion) take(n *queryir.Take, env *env) (*query, error) {
	q, err := x.node(n.Input, env)
	if err != nil {
		return nil, err
	}
	if q.sel.Limit != nil {
		if _, err := x.pushdown(q); err != nil {
			return nil, err
		}
	}
	if q.sel.Limit, err = x.count(n.Count, env); err != nil {
		return nil, err
	}
	return q, nil
}

func (x *expansion) skip(n *queryir.Skip, env *env) (*query, error) {
	q, err := x.node(n.Input, env)
	if err != nil {
		return nil, err
	}
	if q.limited() {
		if _, err := x.pushdown(q); err != nil {
			return nil, err
		}
	}
	if q.sel.Offset, err = x.count(n.Count, env); err != nil {
		return nil, err
	}
	return q, nil
}

func (x *expansion) distinct(n *queryir.Distinct, env *env) (*query, error) {
	q, err := x.node(n.Input, env)
	if err != nil {
		return nil, err
	}
	if _, ok := q.shape.(*groupingValue); ok {
		return nil, queryir.InvalidQuery("Distinct over groupings is not supported")
	}
	if q.limited() {
		if _, err := x.pushdown(q); err != nil {
			return nil, err
		}
	}
	q.shape = withoutChecks(q.shape)
	ident, err := x.identity(q.shape)
	if err != nil {
		return nil, err
	}
	q.sel.Distinct = true
	q.ident = ident
	if hasCollections(q.shape) {
		if _, err := x.pushdown(q); err != nil {
			return nil, err
		}
	}
	return q, nil
}

func (x *expansion) typeFilter(n *queryir.TypeFilter, env *env) (*query, error) {
	q, err := x.node(n.Input, env)
	if err != nil {
		return nil, err
	}
	e, ok := q.shape.(*entityValue)
	if !ok {
		return nil, queryir.InvalidQuery("OfType<%s> needs a sequence of entities, got %s", n.Type, describe(q.shape))
	}
	t, ok := x.cat.Entity(n.Type)
	if !ok {
		return nil, queryir.InvalidQuery("unknown entity type '%s'", n.Type)
	}
	if x.cat.IsAssignableTo(e.typ, t) {
		return q, nil
	}
	if !x.cat.InHierarchy(e.typ, t) {
		return nil, queryir.InvalidQuery("'%s' is not in the hierarchy of '%s'", t.Name, e.typ.Name)
	}
	if !q.sel.IsSimple() {
		if _, err := x.pushdown(q); err != nil {
			return nil, err
		}
		e = q.shape.(*entityValue)
	}
	q.sel.AddPredicate(x.typeTest(e, t))
	q.shape = e.narrowed(t)
	return q, nil
}

func (x *expansion) include(n *queryir.Include, env *env) (*query, error) {
	q, err := x.node(n.Input, env)
	if err != nil {
		return nil, err
	}
	path := include.PathString(n.Path)
	e, ok := q.shape.(*entityValue)
	if !ok {
		return nil, queryir.IncludeMisuse(path, "Include needs a sequence of entities; the sequence projects %s", describe(q.shape))
	}
	steps, err := include.ResolvePath(x.cat, e.typ, n.Path)
	if err != nil {
		return nil, err
	}
	added := &include.Tree{}
	if err := added.Add(steps); err != nil {
		return nil, err
	}
	merged, err := include.Merge(e.includes, added)
	if err != nil {
		return nil, err
	}
	e = e.copy()
	e.includes = merged
	q.shape = e
	return q, nil
}

// remap re-expresses scalars over a select that was wrapped as a derived
// table, projecting what they need from it.
type remap struct {
	inner *relational.Select
	alias string
	local map[string]bool
	// frozen forbids new projections: the inner select is distinct and
	// its column list is fixed.
	frozen bool
}

func localAliases(sel *relational.Select) map[string]bool {
	local := make(map[string]bool, len(sel.Tables))
	for _, t := range sel.Tables {
		local[t.Alias] = true
	}
	return local
}

func (m *remap) project(s relational.Scalar) (relational.Scalar, error) {
	idx := -1
	if m.frozen {
		for i, p := range m.inner.Projection {
			if relational.Equal(p.Expr, s) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, queryir.MaterializationShape("Distinct",
				"a nested collection depends on a column the distinct projection does not include")
		}
	} else {
		idx = m.inner.Project(s, columnHint(s))
	}
	p := m.inner.Projection[idx]
	return &relational.ColumnRef{
		Table:    m.alias,
		Column:   p.Alias,
		Kind:     relational.KindOf(p.Expr),
		Nullable: relational.IsNullable(p.Expr),
	}, nil
}

func columnHint(s relational.Scalar) string {
	if c, ok := s.(*relational.ColumnRef); ok {
		return c.Column
	}
	return "c"
}

// dependsOnLocal reports whether s must be evaluated inside the inner
// select: it reads one of its columns or aggregates its groups.
func (m *remap) dependsOnLocal(s relational.Scalar) bool {
	found := false
	relational.Walk(s, func(n relational.Scalar) bool {
		switch n := n.(type) {
		case *relational.ColumnRef:
			found = found || m.local[n.Table]
		case *relational.Aggregate:
			found = true
		case *relational.Exists:
			found = found || m.selectReadsLocal(n.Query)
			return false
		case *relational.ScalarSubquery:
			found = found || m.selectReadsLocal(n.Query)
			return false
		}
		return !found
	})
	return found
}

func (m *remap) selectReadsLocal(sel *relational.Select) bool {
	for _, t := range relational.FreeTables(sel) {
		if m.local[t] {
			return true
		}
	}
	return false
}

// dependsOnOuter reports whether s reads a column bound neither by the
// inner select nor inside s.
func (m *remap) dependsOnOuter(s relational.Scalar) bool {
	return readsOuter(s, m.local)
}

// readsOuter reports whether s reads a column of a table outside local.
func readsOuter(s relational.Scalar, local map[string]bool) bool {
	probe := &relational.Select{Predicate: s}
	for alias := range local {
		probe.Tables = append(probe.Tables, relational.TableSource{Alias: alias, Table: alias})
	}
	return len(relational.FreeColumns(probe)) > 0
}

// expr maps a scalar of the wrapped select's shape. Parts that only read
// the inner select are projected whole; correlated parts stay outside.
func (m *remap) expr(s relational.Scalar) (relational.Scalar, error) {
	if s == nil || !m.dependsOnLocal(s) {
		return s, nil
	}
	if !m.dependsOnOuter(s) {
		return m.project(s)
	}
	var err error
	out := relational.Rewrite(s, func(n relational.Scalar) (relational.Scalar, bool) {
		if err != nil {
			return n, true
		}
		if !m.dependsOnLocal(n) {
			return n, true
		}
		if m.dependsOnOuter(n) {
			return n, false
		}
		p, perr := m.project(n)
		if perr != nil {
			err = perr
			return n, true
		}
		return p, true
	})
	return out, err
}

func (m *remap) column(c *relational.ColumnRef) (relational.Scalar, error) {
	if !m.local[c.Table] {
		return c, nil
	}
	return m.project(c)
}

func (m *remap) mapper() mapper {
	return mapper{scalar: m.expr, column: m.column}
}

// pushdown wraps q's select as a derived table so that further operators
// apply to its result. The shape, identifier and orderings are
// re-expressed over the derived table. Orderings stay inside only when a
// limit or offset depends on them.
func (x *expansion) pushdown(q *query) (*remap, error) {
	inner := q.sel
	m := &remap{inner: inner, alias: x.alias("t"), local: localAliases(inner)}

	if inner.Distinct {
		// Distinct rows no longer carry the tags of the rows they merged.
		q.shape = withoutChecks(q.shape)
		cols, err := x.flatten(withoutCollections(q.shape))
		if err != nil {
			return nil, err
		}
		for _, c := range cols {
			if _, err := m.expr(c); err != nil {
				return nil, err
			}
		}
		m.frozen = true
	}

	shape, err := x.mapValue(q.shape, m.mapper())
	if err != nil {
		return nil, err
	}
	ident, err := mapScalars(q.ident, m.expr)
	if err != nil {
		return nil, err
	}

	var orderings []relational.Ordering
	for _, o := range inner.Orderings {
		e, err := m.expr(o.Expr)
		if err != nil {
			if inner.Distinct {
				continue
			}
			return nil, err
		}
		orderings = append(orderings, relational.Ordering{Expr: e, Descending: o.Descending})
	}
	if !q.limited() {
		inner.Orderings = nil
	}

	outer := &relational.Select{Orderings: orderings}
	outer.AddTable(relational.TableSource{Alias: m.alias, Query: inner})
	for _, s := range ident {
		if c, ok := s.(*relational.ColumnRef); ok && c.Table == m.alias && !c.Nullable {
			x.identify(m.alias, c.Column)
		}
	}

	q.sel, q.shape, q.ident = outer, shape, ident
	q.joins = make(map[string]*entityValue)
	return m, nil
}

// withoutCollections drops the collection fields of a record shape.
func withoutCollections(v value) value {
	r, ok := v.(*recordValue)
	if !ok {
		return v
	}
	out := &recordValue{}
	for i, f := range r.fields {
		if hasCollections(f) {
			if _, isEntity := f.(*entityValue); !isEntity {
				continue
			}
		}
		out.names = append(out.names, r.names[i])
		out.fields = append(out.fields, withoutCollections(f))
	}
	return out
}
