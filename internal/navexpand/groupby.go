package navexpand

import (
	"github.com/roach88/navq/internal/grouping"
	"github.com/roach88/navq/internal/ir"
	"github.com/roach88/navq/internal/queryir"
	"github.com/roach88/navq/internal/relational"
)

func (x *expansion) groupBy(n *queryir.GroupBy, env *env) (*query, error) {
	q, err := x.node(n.Input, env)
	if err != nil {
		return nil, err
	}
	if !q.sel.IsSimple() {
		if _, err := x.pushdown(q); err != nil {
			return nil, err
		}
	}
	q.sel.Orderings = nil

	key, err := x.lambda(n.Key, env, q.shape)
	if err != nil {
		return nil, err
	}
	keys, err := x.groupKeys(key)
	if err != nil {
		return nil, err
	}
	elem := q.shape
	if n.Element != nil {
		if elem, err = x.lambda(n.Element, env, q.shape); err != nil {
			return nil, err
		}
	}

	g := &groupingValue{
		key:    key,
		keys:   keys,
		source: n,
		env:    env,
		elem:   elem,
		scope:  q,
		clause: grouping.NewClause(keys),
	}
	q.sel.GroupBy = keys
	q.ident = keys
	q.shape = g
	if n.Result != nil {
		v, err := x.lambda(n.Result, env, key, g)
		if err != nil {
			return nil, err
		}
		q.shape = v
	}
	x.logger.Debug("grouping translated", "keys", len(keys), "state", g.clause.State().String())
	return q, nil
}

// groupKeys lowers a grouping key to its columns.
func (x *expansion) groupKeys(key value) ([]relational.Scalar, error) {
	if hasCollections(key) {
		return nil, queryir.GroupingRejected("a grouping key cannot contain a collection")
	}
	keys, err := x.flatten(key)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		if _, ok := k.(*relational.Constant); !ok {
			return keys, nil
		}
	}
	return nil, queryir.GroupingRejected("grouping by a constant key is not supported")
}

// live reports whether aggregates over g can still be added to the
// grouped select.
func (g *groupingValue) live() bool {
	return g.scope != nil && g.elem != nil && !g.scope.limited() && !g.scope.sel.Distinct
}

// groupAggregate computes an aggregate over a live grouping as part of the
// grouped select. The aggregated sequence may filter, project and
// deduplicate the group's elements; anything else needs the elements
// themselves and reports ok false.
func (x *expansion) groupAggregate(cv *collectionValue, t *queryir.Terminal, env *env) (value, bool, error) {
	var chain []queryir.Node
	g := cv.group
	if g == nil && cv.node != nil {
		n := cv.node
	walk:
		for {
			switch m := n.(type) {
			case *queryir.Filter, *queryir.Project, *queryir.Distinct, *queryir.OrderBy:
				chain = append(chain, m)
				n = queryir.InputOf(m)
			case *queryir.Source:
				if m.Collection == nil {
					return nil, false, nil
				}
				v, err := x.expr(m.Collection, cv.env)
				if err != nil {
					return nil, false, err
				}
				g, _ = v.(*groupingValue)
				break walk
			default:
				return nil, false, nil
			}
		}
	}
	if g == nil || !g.live() {
		return nil, false, nil
	}

	elem := g.elem
	var filter relational.Scalar
	distinct := false
	for i := len(chain) - 1; i >= 0; i-- {
		switch m := chain[i].(type) {
		case *queryir.Filter:
			if distinct {
				return nil, false, g.clause.Fallback("a filter after Distinct needs the group's elements")
			}
			pred, err := x.predicate(m.Predicate, cv.env, elem)
			if err != nil {
				return nil, false, err
			}
			filter = condAnd(filter, pred)
		case *queryir.Project:
			if distinct {
				return nil, false, g.clause.Fallback("a projection after Distinct needs the group's elements")
			}
			v, err := x.lambda(m.Selector, cv.env, elem)
			if err != nil {
				return nil, false, err
			}
			elem = v
		case *queryir.Distinct:
			distinct = true
		}
	}

	var agg relational.Scalar
	var err error
	switch t.Op {
	case queryir.OpAny:
		agg, err = grouping.Translate(grouping.Aggregate{Op: queryir.OpCount, Filter: filter})
		if err == nil {
			agg = &relational.Binary{Op: relational.OpGt, Left: agg, Right: relational.Const(ir.IRInt(0))}
		}
	case queryir.OpAll:
		pred, perr := x.predicate(t.Selector, env, elem)
		if perr != nil {
			return nil, false, perr
		}
		agg, err = grouping.Translate(grouping.Aggregate{Op: queryir.OpCount, Filter: condAnd(filter, relational.Not(pred))})
		if err == nil {
			agg = relational.Eq(agg, relational.Const(ir.IRInt(0)))
		}
	default:
		var arg relational.Scalar
		if distinct || t.Op != queryir.OpCount && t.Op != queryir.OpLongCount {
			v := elem
			if t.Selector != nil {
				if v, err = x.lambda(t.Selector, env, elem); err != nil {
					return nil, false, err
				}
			}
			switch v := v.(type) {
			case *scalarValue:
				arg = v.expr
			case *entityValue:
				if !distinct {
					return nil, false, g.clause.Reject("%s over entities of '%s' has no column-level reduction", t.Op, v.typ.Name)
				}
				return nil, false, g.clause.Fallback("distinct entities need the group's elements")
			case *clientValue:
				return nil, false, x.clientError(v)
			default:
				return nil, false, g.clause.Reject("%s cannot reduce %s", t.Op, describe(v))
			}
		}
		agg, err = grouping.Translate(grouping.Aggregate{Op: t.Op, Arg: arg, Filter: filter, Distinct: distinct})
	}
	if err != nil {
		return nil, false, err
	}
	if err := g.clause.Push(); err != nil {
		return nil, false, err
	}
	return &scalarValue{expr: agg}, true, nil
}

// groupElements is the correlated query fetching the elements of one
// group: the grouping's input filtered to rows whose key equals the
// group's key.
func (x *expansion) groupElements(g *groupingValue) (*query, error) {
	if err := g.clause.Fallback("the group's elements are used"); err != nil {
		return nil, err
	}
	q, err := x.node(g.source.Input, g.env)
	if err != nil {
		return nil, err
	}
	if !q.sel.IsSimple() {
		if _, err := x.pushdown(q); err != nil {
			return nil, err
		}
	}
	key, err := x.lambda(g.source.Key, g.env, q.shape)
	if err != nil {
		return nil, err
	}
	inner, err := x.groupKeys(key)
	if err != nil {
		return nil, err
	}
	pred, err := grouping.KeyEqual(inner, g.keys)
	if err != nil {
		return nil, err
	}
	if g.source.Element != nil {
		elem, err := x.lambda(g.source.Element, g.env, q.shape)
		if err != nil {
			return nil, err
		}
		q.shape = elem
	}
	q.sel.AddPredicate(pred)
	return q, nil
}
