package engine

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/roach88/navq/internal/catalog"
	"github.com/roach88/navq/internal/fixture"
	"github.com/roach88/navq/internal/ir"
	"github.com/roach88/navq/internal/methods"
	"github.com/roach88/navq/internal/object"
	"github.com/roach88/navq/internal/queryir"
)

// Evaluate runs a query over an in-memory object graph with client
// semantics and no translation: null equals null, member access on a
// null reference yields null, navigations resolve by key and include
// directives load the navigations they name.
//
// Its results are the reference executions of compiled plans are compared
// against. Failures use the same RuntimeError codes as the executor.
func Evaluate(ctx context.Context, n queryir.Node, g *fixture.Graph, params map[string]any) (any, error) {
	if err := queryir.Validate(n); err != nil {
		return nil, err
	}
	ev := &evaluator{
		ctx:     ctx,
		graph:   g,
		cat:     g.Catalog(),
		methods: methods.Default(),
		params:  make(map[string]any, len(params)),
		owned:   make(map[*object.Entity]bool),
	}
	for name, v := range params {
		iv, err := ir.FromNative(v)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", name, err)
		}
		ev.params[name] = ir.ToNative(iv)
	}

	if t, ok := n.(*queryir.Terminal); ok {
		return ev.terminal(t, nil)
	}
	return ev.sequence(n, nil)
}

type evaluator struct {
	ctx     context.Context
	graph   *fixture.Graph
	cat     *catalog.Catalog
	methods *methods.Registry
	params  map[string]any

	// owned holds the entity copies created for include loading; graph
	// entities are never mutated.
	owned map[*object.Entity]bool

	// unchecked is non-zero while evaluating filters, keys and aggregate
	// selectors. Their values are never materialized, so hard casts there
	// do not check the runtime type.
	unchecked int
}

// env binds lambda parameters, innermost first.
type env struct {
	name string
	val  any
	st   static
	next *env
}

func (e *env) lookup(name string) *env {
	for cur := e; cur != nil; cur = cur.next {
		if cur.name == name {
			return cur
		}
	}
	return nil
}

func (e *env) bind(params []string, sts []static, vals ...any) *env {
	out := e
	for i, name := range params {
		b := &env{name: name, next: out}
		if i < len(vals) {
			b.val = vals[i]
		}
		if i < len(sts) {
			b.st = sts[i]
		}
		out = b
	}
	return out
}

func (e *env) bindStatic(params []string, sts ...static) *env {
	return e.bind(params, sts)
}

// apply evaluates a lambda body over args.
func (ev *evaluator) apply(l *queryir.Lambda, env *env, sts []static, args ...any) (any, error) {
	return ev.expr(l.Body, env.bind(l.Params, sts, args...))
}

func (ev *evaluator) applyUnchecked(l *queryir.Lambda, env *env, sts []static, args ...any) (any, error) {
	ev.unchecked++
	defer func() { ev.unchecked-- }()
	return ev.apply(l, env, sts, args...)
}

func (ev *evaluator) sequence(n queryir.Node, env *env) ([]any, error) {
	if err := ev.ctx.Err(); err != nil {
		return nil, err
	}
	switch n := n.(type) {
	case *queryir.Source:
		return ev.source(n, env)

	case *queryir.Filter:
		in, el, err := ev.input(n.Input, env)
		if err != nil {
			return nil, err
		}
		return ev.where(in, n.Predicate, env, el)

	case *queryir.Project:
		in, el, err := ev.input(n.Input, env)
		if err != nil {
			return nil, err
		}
		out := make([]any, len(in))
		for i, item := range in {
			if out[i], err = ev.apply(n.Selector, env, []static{el}, item); err != nil {
				return nil, err
			}
		}
		return out, nil

	case *queryir.Join:
		return ev.join(n, env)

	case *queryir.GroupJoin:
		return ev.groupJoin(n, env)

	case *queryir.SelectMany:
		return ev.selectMany(n, env)

	case *queryir.OrderBy:
		in, el, err := ev.input(n.Input, env)
		if err != nil {
			return nil, err
		}
		return ev.order(in, n.Keys, env, el)

	case *queryir.GroupBy:
		return ev.groupBy(n, env)

	case *queryir.SetCombine:
		return ev.setCombine(n, env)

	case *queryir.TypeFilter:
		in, err := ev.sequence(n.Input, env)
		if err != nil {
			return nil, err
		}
		t, ok := ev.cat.Entity(n.Type)
		if !ok {
			return nil, queryir.InvalidQuery("unknown entity type '%s'", n.Type)
		}
		out := []any{}
		for _, item := range in {
			if e, ok := item.(*object.Entity); ok && e != nil && ev.isA(e, t) {
				out = append(out, item)
			}
		}
		return out, nil

	case *queryir.Take:
		in, err := ev.sequence(n.Input, env)
		if err != nil {
			return nil, err
		}
		return ev.limit(in, nil, n.Count, env)

	case *queryir.Skip:
		in, err := ev.sequence(n.Input, env)
		if err != nil {
			return nil, err
		}
		return ev.limit(in, n.Count, nil, env)

	case *queryir.Distinct:
		in, err := ev.sequence(n.Input, env)
		if err != nil {
			return nil, err
		}
		return ev.distinct(in), nil

	case *queryir.DefaultIfEmpty:
		in, err := ev.sequence(n.Input, env)
		if err != nil {
			return nil, err
		}
		if len(in) == 0 {
			return []any{nil}, nil
		}
		return in, nil

	case *queryir.Include:
		in, err := ev.sequence(n.Input, env)
		if err != nil {
			return nil, err
		}
		return ev.include(in, n.Path, env)

	case *queryir.Terminal:
		return nil, queryir.InvalidQuery("%s does not produce a sequence", n.Op)
	}
	return nil, fmt.Errorf("unknown query node %T", n)
}

// input evaluates a sequence with the static shape of its elements.
func (ev *evaluator) input(n queryir.Node, env *env) ([]any, static, error) {
	in, err := ev.sequence(n, env)
	return in, ev.shapeOf(n, env), err
}

func (ev *evaluator) source(n *queryir.Source, env *env) ([]any, error) {
	if n.Entity != "" {
		t, ok := ev.cat.Entity(n.Entity)
		if !ok {
			return nil, queryir.InvalidQuery("unknown entity type '%s'", n.Entity)
		}
		set := ev.graph.Set(t)
		out := make([]any, len(set))
		for i, e := range set {
			out[i] = e
		}
		return out, nil
	}
	v, err := ev.expr(n.Collection, env)
	if err != nil {
		return nil, err
	}
	return asSequence(v)
}

// asSequence views a collection value as a sequence. A null collection is
// empty.
func asSequence(v any) ([]any, error) {
	switch v := v.(type) {
	case nil:
		return []any{}, nil
	case []any:
		return v, nil
	case []*object.Entity:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = e
		}
		return out, nil
	case *object.Grouping:
		return v.Elements, nil
	}
	return nil, queryir.InvalidQuery("%T is not a sequence", v)
}

func (ev *evaluator) where(in []any, pred *queryir.Lambda, env *env, el static) ([]any, error) {
	out := []any{}
	for _, item := range in {
		v, err := ev.applyUnchecked(pred, env, []static{el}, item)
		if err != nil {
			return nil, err
		}
		if truthy(v) {
			out = append(out, item)
		}
	}
	return out, nil
}

func truthy(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

func (ev *evaluator) order(in []any, keys []queryir.SortKey, env *env, el static) ([]any, error) {
	type keyed struct {
		item any
		keys []any
	}
	rows := make([]keyed, len(in))
	for i, item := range in {
		rows[i] = keyed{item: item, keys: make([]any, len(keys))}
		for j, k := range keys {
			v, err := ev.applyUnchecked(k.Key, env, []static{el}, item)
			if err != nil {
				return nil, err
			}
			rows[i].keys[j] = v
		}
	}

	var cmpErr error
	sort.SliceStable(rows, func(a, b int) bool {
		for j, k := range keys {
			c, err := compareValues(ev.cat, rows[a].keys[j], rows[b].keys[j])
			if err != nil && cmpErr == nil {
				cmpErr = err
			}
			if c == 0 {
				continue
			}
			if k.Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	if cmpErr != nil {
		return nil, fmt.Errorf("order by: %w", cmpErr)
	}
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r.item
	}
	return out, nil
}

// limit applies Skip and Take counts; either may be nil.
func (ev *evaluator) limit(in []any, skip, take queryir.Expr, env *env) ([]any, error) {
	if skip != nil {
		n, err := ev.count(skip, env)
		if err != nil {
			return nil, err
		}
		in = in[min(n, len(in)):]
	}
	if take != nil {
		n, err := ev.count(take, env)
		if err != nil {
			return nil, err
		}
		in = in[:min(n, len(in))]
	}
	return in, nil
}

func (ev *evaluator) count(e queryir.Expr, env *env) (int, error) {
	v, err := ev.expr(e, env)
	if err != nil {
		return 0, err
	}
	n, ok := v.(int64)
	if !ok {
		return 0, queryir.InvalidQuery("count must be an integer, got %T", v)
	}
	if n < 0 {
		return 0, nil
	}
	if n > math.MaxInt32 {
		n = math.MaxInt32
	}
	return int(n), nil
}

func (ev *evaluator) distinct(in []any) []any {
	seen := make(map[string]bool, len(in))
	out := []any{}
	for _, item := range in {
		k := identity(ev.cat, item)
		if !seen[k] {
			seen[k] = true
			out = append(out, item)
		}
	}
	return out
}

func (ev *evaluator) join(n *queryir.Join, env *env) ([]any, error) {
	outer, oel, err := ev.input(n.Outer, env)
	if err != nil {
		return nil, err
	}
	inner, iel, err := ev.input(n.Inner, env)
	if err != nil {
		return nil, err
	}
	innerKeys := make([]any, len(inner))
	for i, item := range inner {
		if innerKeys[i], err = ev.applyUnchecked(n.InnerKey, env, []static{iel}, item); err != nil {
			return nil, err
		}
	}
	if n.Kind == queryir.JoinLeft {
		iel.nullable = true
	}

	out := []any{}
	for _, o := range outer {
		key, err := ev.applyUnchecked(n.OuterKey, env, []static{oel}, o)
		if err != nil {
			return nil, err
		}
		matched := false
		for i, item := range inner {
			if !keysEqual(ev.cat, key, innerKeys[i]) {
				continue
			}
			matched = true
			v, err := ev.apply(n.Result, env, []static{oel, iel}, o, item)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		if !matched && n.Kind == queryir.JoinLeft {
			v, err := ev.apply(n.Result, env, []static{oel, iel}, o, nil)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
	}
	return out, nil
}

func (ev *evaluator) groupJoin(n *queryir.GroupJoin, env *env) ([]any, error) {
	outer, oel, err := ev.input(n.Outer, env)
	if err != nil {
		return nil, err
	}
	inner, iel, err := ev.input(n.Inner, env)
	if err != nil {
		return nil, err
	}
	innerKeys := make([]any, len(inner))
	for i, item := range inner {
		if innerKeys[i], err = ev.applyUnchecked(n.InnerKey, env, []static{iel}, item); err != nil {
			return nil, err
		}
	}
	group := iel
	group.coll = true

	out := []any{}
	for _, o := range outer {
		key, err := ev.applyUnchecked(n.OuterKey, env, []static{oel}, o)
		if err != nil {
			return nil, err
		}
		matches := []any{}
		for i, item := range inner {
			if keysEqual(ev.cat, key, innerKeys[i]) {
				matches = append(matches, item)
			}
		}
		v, err := ev.apply(n.Result, env, []static{oel, group}, o, matches)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (ev *evaluator) selectMany(n *queryir.SelectMany, env *env) ([]any, error) {
	in, el, err := ev.input(n.Input, env)
	if err != nil {
		return nil, err
	}
	cst := ev.infer(n.Collection.Body, env.bindStatic(n.Collection.Params, el))
	inner := static{typ: cst.typ, nullable: cst.nullable}

	out := []any{}
	for _, item := range in {
		v, err := ev.apply(n.Collection, env, []static{el}, item)
		if err != nil {
			return nil, err
		}
		coll, err := asSequence(v)
		if err != nil {
			return nil, err
		}
		for _, c := range coll {
			if n.Result == nil {
				out = append(out, c)
				continue
			}
			r, err := ev.apply(n.Result, env, []static{el, inner}, item, c)
			if err != nil {
				return nil, err
			}
			out = append(out, r)
		}
	}
	return out, nil
}

func (ev *evaluator) groupBy(n *queryir.GroupBy, env *env) ([]any, error) {
	in, el, err := ev.input(n.Input, env)
	if err != nil {
		return nil, err
	}
	key := ev.infer(n.Key.Body, env.bindStatic(n.Key.Params, el))
	elem := el
	if n.Element != nil {
		elem = ev.infer(n.Element.Body, env.bindStatic(n.Element.Params, el))
	}

	var order []string
	groups := make(map[string]*object.Grouping)
	for _, item := range in {
		k, err := ev.apply(n.Key, env, []static{el}, item)
		if err != nil {
			return nil, err
		}
		v := item
		if n.Element != nil {
			if v, err = ev.apply(n.Element, env, []static{el}, item); err != nil {
				return nil, err
			}
		}
		id := identity(ev.cat, k)
		g, ok := groups[id]
		if !ok {
			g = &object.Grouping{Key: k, Elements: []any{}}
			groups[id] = g
			order = append(order, id)
		}
		g.Elements = append(g.Elements, v)
	}

	group := elem
	group.coll = true
	out := make([]any, 0, len(order))
	for _, id := range order {
		g := groups[id]
		if n.Result == nil {
			out = append(out, g)
			continue
		}
		v, err := ev.apply(n.Result, env, []static{key, group}, g.Key, g.Elements)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (ev *evaluator) setCombine(n *queryir.SetCombine, env *env) ([]any, error) {
	left, err := ev.sequence(n.Left, env)
	if err != nil {
		return nil, err
	}
	right, err := ev.sequence(n.Right, env)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case queryir.SetConcat:
		return append(append([]any{}, left...), right...), nil
	case queryir.SetUnion:
		return ev.distinct(append(append([]any{}, left...), right...)), nil
	}

	inRight := make(map[string]bool, len(right))
	for _, item := range right {
		inRight[identity(ev.cat, item)] = true
	}
	keep := n.Op == queryir.SetIntersect
	out := []any{}
	for _, item := range ev.distinct(left) {
		if inRight[identity(ev.cat, item)] == keep {
			out = append(out, item)
		}
	}
	return out, nil
}

func (ev *evaluator) isA(e *object.Entity, t *catalog.EntityType) bool {
	concrete, ok := ev.cat.Entity(e.Type)
	return ok && ev.cat.IsAssignableTo(concrete, t)
}
