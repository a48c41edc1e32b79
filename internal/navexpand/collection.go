package navexpand

import (
	"github.com/roach88/navq/internal/grouping"
	"github.com/roach88/navq/internal/ir"
	"github.com/roach88/navq/internal/queryir"
	"github.com/roach88/navq/internal/relational"
)

// subquery translates a query embedded in an expression. Sequences stay
// pending until something reduces or projects them; terminals reduce
// them to a scalar or a single element.
func (x *expansion) subquery(n queryir.Node, env *env) (value, error) {
	t, ok := n.(*queryir.Terminal)
	if !ok {
		return &collectionValue{node: n, env: env}, nil
	}
	if t.Op == queryir.OpToList || t.Op == "" {
		return x.subquery(t.Input, env)
	}
	in, err := x.subquery(t.Input, env)
	if err != nil {
		return nil, err
	}
	cv, ok := in.(*collectionValue)
	if !ok {
		return nil, queryir.InvalidQuery("%s needs a sequence, got %s", t.Op, describe(in))
	}
	return x.reduce(cv, t, env)
}

// reduce applies a terminal operator to a pending collection.
func (x *expansion) reduce(cv *collectionValue, t *queryir.Terminal, env *env) (value, error) {
	if t.Op.IsAggregate() {
		if v, ok, err := x.groupAggregate(cv, t, env); ok || err != nil {
			return v, err
		}
		return x.aggregate(cv, t, env)
	}
	if !t.Op.IsElement() {
		return nil, queryir.InvalidQuery("%s cannot be used inside a query", t.Op)
	}

	q, err := x.collectionQuery(cv)
	if err != nil {
		return nil, err
	}
	if t.Index != nil {
		if q.limited() {
			if _, err := x.pushdown(q); err != nil {
				return nil, err
			}
		}
		if q.sel.Offset, err = x.count(t.Index, env); err != nil {
			return nil, err
		}
	}
	if q.sel.Limit != nil {
		if _, err := x.pushdown(q); err != nil {
			return nil, err
		}
	}
	q.sel.Limit = relational.Const(ir.IRInt(1))

	if s, ok := q.shape.(*scalarValue); ok {
		q.sel.Projection = []relational.Projection{{Expr: s.expr, Alias: "value"}}
		return &scalarValue{expr: &relational.ScalarSubquery{Query: q.sel}}, nil
	}
	if c, ok := q.shape.(*clientValue); ok {
		return nil, x.clientError(c)
	}
	return &collectionValue{q: q, single: true}, nil
}

// aggregate reduces a collection with a correlated subquery.
func (x *expansion) aggregate(cv *collectionValue, t *queryir.Terminal, env *env) (value, error) {
	q, err := x.collectionQuery(cv)
	if err != nil {
		return nil, err
	}
	if !q.limited() {
		q.sel.Orderings = nil
	}

	switch t.Op {
	case queryir.OpAny:
		return &scalarValue{expr: &relational.Exists{Query: q.sel}}, nil
	case queryir.OpAll:
		if !q.sel.IsSimple() {
			if _, err := x.pushdown(q); err != nil {
				return nil, err
			}
		}
		pred, err := x.predicate(t.Selector, env, q.shape)
		if err != nil {
			return nil, err
		}
		q.sel.AddPredicate(relational.Not(pred))
		return &scalarValue{expr: relational.Not(&relational.Exists{Query: q.sel})}, nil
	}

	if !q.sel.IsSimple() {
		if _, err := x.pushdown(q); err != nil {
			return nil, err
		}
	}
	q.sel.Orderings = nil
	arg, err := x.aggregateArg(t, q.shape, env)
	if err != nil {
		return nil, err
	}
	agg, err := grouping.Translate(grouping.Aggregate{Op: t.Op, Arg: arg})
	if err != nil {
		return nil, err
	}
	q.sel.Projection = []relational.Projection{{Expr: agg, Alias: "value"}}
	return &scalarValue{expr: &relational.ScalarSubquery{Query: q.sel}}, nil
}

// aggregateArg is the value an aggregate reduces: the selector applied to
// the element, or the element itself. Count needs none.
func (x *expansion) aggregateArg(t *queryir.Terminal, elem value, env *env) (relational.Scalar, error) {
	if t.Op == queryir.OpCount || t.Op == queryir.OpLongCount {
		return nil, nil
	}
	v := elem
	if t.Selector != nil {
		var err error
		if v, err = x.lambda(t.Selector, env, elem); err != nil {
			return nil, err
		}
	}
	switch v := v.(type) {
	case *scalarValue:
		return v.expr, nil
	case *clientValue:
		return nil, x.clientError(v)
	case *entityValue:
		return nil, queryir.GroupingRejected("%s over entities of '%s' has no column-level reduction", t.Op, v.typ.Name)
	}
	return nil, queryir.InvalidQuery("%s cannot reduce %s", t.Op, describe(v))
}

// singleMember reads a member of the element a single-element collection
// yields, inside its subquery.
func (x *expansion) singleMember(cv *collectionValue, name string, env *env) (value, error) {
	q, err := x.collectionQuery(cv)
	if err != nil {
		return nil, err
	}
	v, err := x.member(q.shape, name, env)
	if err != nil {
		return nil, err
	}
	switch v := v.(type) {
	case *scalarValue:
		q.sel.Projection = []relational.Projection{{Expr: v.expr, Alias: "value"}}
		return &scalarValue{expr: &relational.ScalarSubquery{Query: q.sel}}, nil
	case *clientValue:
		return nil, x.clientError(v)
	case *collectionValue:
		return nil, queryir.InvalidQuery("collection '%s' of a single element cannot be projected; select it from the sequence instead", name)
	}
	q.shape = v
	return &collectionValue{q: q, single: true}, nil
}
