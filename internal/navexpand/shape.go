package navexpand

import (
	"github.com/roach88/navq/internal/correlate"
	"github.com/roach88/navq/internal/grouping"
	"github.com/roach88/navq/internal/include"
	"github.com/roach88/navq/internal/ir"
	"github.com/roach88/navq/internal/plan"
	"github.com/roach88/navq/internal/queryir"
	"github.com/roach88/navq/internal/relational"
)

// finalize applies the terminal operator to q and builds the plan that
// shapes its rows.
func (x *expansion) finalize(q *query, term *queryir.Terminal, env *env) (*plan.Plan, error) {
	p := &plan.Plan{Catalog: x.cat, Identities: x.identities}
	if term != nil {
		p.Terminal.Op = term.Op
	}

	switch {
	case term != nil && term.Op.IsAggregate():
		if err := x.finalizeAggregate(p, q, term, env); err != nil {
			return nil, err
		}
		return p, nil

	case term != nil && term.Op.IsElement():
		if term.Index != nil {
			if q.limited() {
				if _, err := x.pushdown(q); err != nil {
					return nil, err
				}
			}
			offset, err := x.count(term.Index, env)
			if err != nil {
				return nil, err
			}
			q.sel.Offset = offset
		}
		if q.sel.Limit != nil {
			if _, err := x.pushdown(q); err != nil {
				return nil, err
			}
		}
		limit := int64(1)
		if term.Op == queryir.OpSingle || term.Op == queryir.OpSingleOrDefault {
			limit = 2
		}
		q.sel.Limit = relational.Const(ir.IRInt(limit))
	}

	if hasCollections(q.shape) && !q.sel.IsSimple() {
		if _, err := x.pushdown(q); err != nil {
			return nil, err
		}
	}

	b := &builder{expansion: x, q: q}
	shaper, err := b.shape(q.shape, "value")
	if err != nil {
		return nil, err
	}
	if len(b.orders) > 0 {
		orderings := q.sel.Orderings
		for _, s := range q.ident {
			orderings = appendOrdering(orderings, relational.Ordering{Expr: s})
		}
		for _, o := range b.orders {
			orderings = appendOrdering(orderings, o)
		}
		q.sel.Orderings = orderings
		for _, s := range q.ident {
			p.Identifier = append(p.Identifier, q.sel.Project(s, columnHint(s)))
		}
	}
	p.Select = q.sel
	p.Shaper = shaper
	return p, nil
}

func (x *expansion) finalizeAggregate(p *plan.Plan, q *query, term *queryir.Terminal, env *env) error {
	if !q.limited() {
		q.sel.Orderings = nil
	}
	switch term.Op {
	case queryir.OpAny:
		p.Select = &relational.Select{Projection: []relational.Projection{{Expr: &relational.Exists{Query: q.sel}, Alias: "value"}}}
		p.Shaper = &plan.Scalar{Index: 0, Kind: ir.KindBool}
		return nil
	case queryir.OpAll:
		if !q.sel.IsSimple() {
			if _, err := x.pushdown(q); err != nil {
				return err
			}
		}
		pred, err := x.predicate(term.Selector, env, q.shape)
		if err != nil {
			return err
		}
		q.sel.AddPredicate(relational.Not(pred))
		p.Select = &relational.Select{Projection: []relational.Projection{{Expr: relational.Not(&relational.Exists{Query: q.sel}), Alias: "value"}}}
		p.Shaper = &plan.Scalar{Index: 0, Kind: ir.KindBool}
		return nil
	}

	if !q.sel.IsSimple() {
		if _, err := x.pushdown(q); err != nil {
			return err
		}
	}
	q.sel.Orderings = nil
	arg, err := x.aggregateArg(term, q.shape, env)
	if err != nil {
		return err
	}
	agg, err := grouping.Translate(grouping.Aggregate{Op: term.Op, Arg: arg})
	if err != nil {
		return err
	}
	idx := q.sel.ProjectNew(agg, "value")
	p.Select = q.sel
	p.Shaper = &plan.Scalar{Index: idx, Kind: relational.KindOf(agg), Nullable: relational.IsNullable(agg)}
	switch term.Op {
	case queryir.OpAverage, queryir.OpMin, queryir.OpMax:
		p.Terminal.FailOnEmpty = !relational.IsNullable(arg)
	}
	return nil
}

// builder projects the columns a shape reads into q's select and builds
// the shaper reading them back. Inline collections join into the same
// select; orders collects the orderings that keep their rows together.
type builder struct {
	*expansion
	q      *query
	orders []relational.Ordering
}

func (b *builder) shape(v value, hint string) (plan.Shaper, error) {
	switch v := v.(type) {
	case *scalarValue:
		if c, ok := v.expr.(*relational.Constant); ok {
			return &plan.Constant{Value: ir.ToNative(c.Value)}, nil
		}
		idx := b.q.sel.Project(v.expr, hint)
		s := &plan.Scalar{Index: idx, Kind: relational.KindOf(v.expr), Nullable: relational.IsNullable(v.expr)}
		return b.checked(s, v.checks), nil

	case *entityValue:
		s, err := b.entity(v)
		if err != nil {
			return nil, err
		}
		return b.checked(s, v.checks), nil

	case *recordValue:
		r := &plan.Record{}
		for i, f := range v.fields {
			s, err := b.shape(f, v.names[i])
			if err != nil {
				return nil, err
			}
			r.Fields = append(r.Fields, plan.Field{Name: v.names[i], Shaper: s})
		}
		return r, nil

	case *clientValue:
		c := &plan.Client{Name: v.name, Eval: v.eval}
		for _, a := range v.args {
			s, err := b.shape(a, "arg")
			if err != nil {
				return nil, err
			}
			c.Args = append(c.Args, s)
		}
		return c, nil

	case *collectionValue:
		return b.collection(v)

	case *groupingValue:
		key, err := b.shape(v.key, "key")
		if err != nil {
			return nil, err
		}
		elems, err := b.collection(&collectionValue{group: v})
		if err != nil {
			return nil, err
		}
		return &plan.Grouping{Key: key, Elements: elems}, nil
	}
	return nil, queryir.InvalidQuery("cannot materialize %s", describe(v))
}

// checked wraps s in the cast checks its value was read through, the
// outermost cast checked first.
func (b *builder) checked(s plan.Shaper, checks []castCheck) plan.Shaper {
	for i := len(checks) - 1; i >= 0; i-- {
		c := checks[i]
		tag := b.q.sel.Project(c.tag, "tag")
		s = &plan.TypeCheck{Tag: tag, Root: c.root, Target: c.to, Value: s}
	}
	return s
}

func (b *builder) entity(e *entityValue) (*plan.Entity, error) {
	out := &plan.Entity{Type: e.typ, Assert: e.assert, Discriminator: -1}
	slots := make(map[string]int)
	for _, p := range b.properties(e) {
		idx := b.q.sel.Project(e.column(p.Name), p.Column)
		out.Slots = append(out.Slots, plan.Slot{Property: p, Index: idx})
		slots[p.Name] = idx
	}
	if e.disc != nil {
		out.Discriminator = b.q.sel.Project(guarded(e.guard, e.disc), b.cat.DiscriminatorColumn(e.typ))
	}
	for _, p := range b.cat.KeyProperties(e.typ) {
		out.Key = append(out.Key, slots[p.Name])
	}
	if e.includes == nil {
		return out, nil
	}
	for _, n := range e.includes.Children {
		inc, err := b.includeNav(e, n)
		if err != nil {
			return nil, err
		}
		out.Includes = append(out.Includes, inc)
	}
	return out, nil
}

// ownerParam binds the entity an included collection belongs to.
const ownerParam = "$owner"

func (b *builder) includeNav(e *entityValue, n *include.Node) (*plan.Include, error) {
	inc := &plan.Include{Nav: n.Nav, Through: n.Type}
	owner := e
	if n.Type != nil && !b.cat.IsAssignableTo(e.typ, n.Type) {
		owner = e.narrowed(n.Type)
		owner.guard = b.typeTest(e, n.Type)
		owner.nullable = true
		owner.path = e.path + " as " + n.Type.Name
	}
	var children *include.Tree
	if len(n.Children) > 0 {
		children = &include.Tree{Children: n.Children}
	}

	if !n.Nav.Collection {
		target, err := b.reference(owner, n.Nav)
		if err != nil {
			return nil, err
		}
		target = target.copy()
		target.includes = children
		s, err := b.entity(target)
		if err != nil {
			return nil, err
		}
		inc.Target = s
		return inc, nil
	}

	var src queryir.Node = &queryir.Source{Collection: queryir.Prop(ownerParam, n.Nav.Name)}
	if f := n.Filter; f != nil {
		if f.Where != nil {
			src = &queryir.Filter{Input: src, Predicate: f.Where}
		}
		if len(f.Keys) > 0 {
			src = &queryir.OrderBy{Input: src, Keys: f.Keys}
		}
		if f.Skip != nil {
			src = &queryir.Skip{Input: src, Count: f.Skip}
		}
		if f.Take != nil {
			src = &queryir.Take{Input: src, Count: f.Take}
		}
	}
	var root *env
	cv := &collectionValue{node: src, env: root.bind(ownerParam, owner), includes: children}
	s, err := b.collection(cv)
	if err != nil {
		return nil, err
	}
	inc.Target = s
	return inc, nil
}

// collection places a nested collection: joined into the parent select
// when its correlation allows it, otherwise as a batched plan run per
// distinct outer key.
func (b *builder) collection(cv *collectionValue) (*plan.Collection, error) {
	in, err := b.collectionQuery(cv)
	if err != nil {
		return nil, err
	}
	if in.shape, err = b.settle(in.shape); err != nil {
		return nil, err
	}
	decision := b.planner.Plan(in.sel)
	if decision.Strategy == correlate.Inline {
		return b.inline(cv, in)
	}
	b.logger.Debug("nested collection batched", "reason", decision.Reason)
	return b.batched(cv, in)
}

// settle translates the collections v still holds pending. Their
// correlation may join references into v's select, which has to happen
// before that select is detached or parameterized.
func (x *expansion) settle(v value) (value, error) {
	switch v := v.(type) {
	case *collectionValue:
		if v.q != nil {
			return v, nil
		}
		q, err := x.collectionQuery(v)
		if err != nil {
			return nil, err
		}
		out := *v
		out.q = q
		return &out, nil
	case *recordValue:
		out := &recordValue{names: v.names, fields: make([]value, len(v.fields))}
		for i, f := range v.fields {
			sf, err := x.settle(f)
			if err != nil {
				return nil, err
			}
			out.fields[i] = sf
		}
		return out, nil
	}
	return v, nil
}

func (b *builder) inline(cv *collectionValue, in *query) (*plan.Collection, error) {
	if err := correlate.RequireIdentifier(b.q.ident, "nested collection"); err != nil {
		return nil, err
	}
	if cv.single && in.limited() && len(in.sel.Orderings) == 0 {
		for _, s := range in.ident {
			in.sel.Orderings = append(in.sel.Orderings, relational.Ordering{Expr: s})
		}
	}
	src, on, err := b.detach(in, "nested collection")
	if err != nil {
		return nil, err
	}
	src.Join = relational.JoinLeft
	src.On = on
	if src.On == nil {
		src.On = relational.True()
	}
	b.q.sel.AddTable(src)

	aliases := map[string]bool{src.Alias: true}
	presence := -1
	for _, s := range in.ident {
		if c, ok := s.(*relational.ColumnRef); ok && c.Table == src.Alias && !c.Nullable {
			presence = b.q.sel.Project(relational.WithNullable(c, true), c.Column)
			break
		}
	}
	if presence < 0 {
		if src.Query == nil {
			return nil, queryir.MaterializationShape("nested collection", "the collection has no column telling an empty match apart")
		}
		col := src.Query.ProjectNew(relational.Const(ir.IRInt(1)), "present")
		presence = b.q.sel.Project(&relational.ColumnRef{
			Table:    src.Alias,
			Column:   src.Query.Projection[col].Alias,
			Kind:     ir.KindInt,
			Nullable: true,
		}, "present")
	}

	shape, err := b.widen(rescope(in.shape, in, b.q), aliases)
	if err != nil {
		return nil, err
	}
	for k, j := range in.joins {
		b.q.joins[k] = rescope(j, in, b.q).(*entityValue)
	}
	ident := widenAll(in.ident, aliases)

	out := &plan.Collection{Strategy: correlate.Inline, Single: cv.single, Presence: presence}
	for _, o := range in.sel.Orderings {
		w := widenAll([]relational.Scalar{o.Expr}, aliases)[0]
		b.orders = append(b.orders, relational.Ordering{Expr: w, Descending: o.Descending})
	}
	for _, s := range ident {
		b.orders = append(b.orders, relational.Ordering{Expr: s})
		out.Identifier = append(out.Identifier, b.q.sel.Project(s, columnHint(s)))
	}
	if out.Element, err = b.shape(shape, "value"); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *builder) batched(cv *collectionValue, in *query) (*plan.Collection, error) {
	sel, sub := correlate.Parameterize(in.sel, b.nextParam)
	outer := localAliases(b.q.sel)
	fn := func(c *relational.ColumnRef) (relational.Scalar, error) {
		if outer[c.Table] {
			return sub.Apply(c), nil
		}
		return c, nil
	}
	shape, err := b.mapValue(in.shape, columnMapper(fn))
	if err != nil {
		return nil, err
	}
	ident, err := mapScalars(in.ident, func(s relational.Scalar) (relational.Scalar, error) { return rewriteColumns(s, fn) })
	if err != nil {
		return nil, err
	}
	in.sel, in.shape, in.ident = sel, shape, ident

	subPlan, err := b.finalize(in, nil, nil)
	if err != nil {
		return nil, err
	}
	out := &plan.Collection{
		Strategy: correlate.Batched,
		Element:  subPlan.Shaper,
		Single:   cv.single,
		Plan:     subPlan,
	}
	for _, bind := range sub.Bindings {
		idx := b.q.sel.Project(bind.Outer, bind.Outer.Column)
		out.Bindings = append(out.Bindings, plan.Binding{Param: bind.Param, Index: idx})
	}
	return out, nil
}
