package engine

import (
	"math"

	"github.com/roach88/navq/internal/catalog"
	"github.com/roach88/navq/internal/object"
	"github.com/roach88/navq/internal/queryir"
	"github.com/roach88/navq/internal/relational"
)

func (ev *evaluator) terminal(t *queryir.Terminal, env *env) (any, error) {
	in, el, err := ev.input(t.Input, env)
	if err != nil {
		return nil, err
	}

	switch t.Op {
	case "", queryir.OpToList:
		return in, nil
	case queryir.OpCount, queryir.OpLongCount:
		return int64(len(in)), nil
	case queryir.OpAny:
		return len(in) > 0, nil
	case queryir.OpAll:
		for _, item := range in {
			v, err := ev.applyUnchecked(t.Selector, env, []static{el}, item)
			if err != nil {
				return nil, err
			}
			if !truthy(v) {
				return false, nil
			}
		}
		return true, nil
	case queryir.OpSum, queryir.OpAverage, queryir.OpMin, queryir.OpMax:
		vals, err := ev.selectValues(t, in, env, el)
		if err != nil {
			return nil, err
		}
		if t.Op == queryir.OpSum {
			return sum(vals)
		}
		if len(vals) == 0 {
			if ev.selected(t, env).nullable {
				return nil, nil
			}
			return nil, NewOperationError(msgNoElements)
		}
		if t.Op == queryir.OpAverage {
			return average(vals), nil
		}
		return extreme(vals, t.Op == queryir.OpMax)
	case queryir.OpElementAt, queryir.OpElementAtOrDefault:
		i, err := ev.count(t.Index, env)
		if err != nil {
			return nil, err
		}
		if i >= len(in) {
			in = nil
		} else {
			in = in[i : i+1]
		}
	}
	return element(t.Op, in)
}

// selectValues applies the aggregate selector and drops nulls.
func (ev *evaluator) selectValues(t *queryir.Terminal, in []any, env *env, el static) ([]any, error) {
	var out []any
	for _, item := range in {
		v := item
		if t.Selector != nil {
			var err error
			if v, err = ev.applyUnchecked(t.Selector, env, []static{el}, item); err != nil {
				return nil, err
			}
		}
		if !isNull(v) {
			out = append(out, v)
		}
	}
	return out, nil
}

// sum adds numbers with checked integer arithmetic. The sum of nothing is
// zero.
func sum(vals []any) (any, error) {
	var (
		total   int64
		ftotal  float64
		isFloat bool
	)
	for _, v := range vals {
		switch n := v.(type) {
		case int64:
			if (n > 0 && total > math.MaxInt64-n) || (n < 0 && total < math.MinInt64-n) {
				return nil, NewOperationError("Arithmetic operation resulted in an overflow")
			}
			total += n
			ftotal += float64(n)
		case float64:
			isFloat = true
			ftotal += n
		default:
			return nil, queryir.InvalidQuery("Sum over %T", v)
		}
	}
	if isFloat {
		return ftotal, nil
	}
	return total, nil
}

func average(vals []any) float64 {
	var total float64
	for _, v := range vals {
		switch n := v.(type) {
		case int64:
			total += float64(n)
		case float64:
			total += n
		}
	}
	return total / float64(len(vals))
}

func extreme(vals []any, largest bool) (any, error) {
	best := vals[0]
	for _, v := range vals[1:] {
		c, err := relational.Compare(v, best)
		if err != nil {
			return nil, err
		}
		if (largest && c > 0) || (!largest && c < 0) {
			best = v
		}
	}
	return best, nil
}

// include loads path on every entity of in. Entities are replaced by
// copies owned by this evaluation so graph entities stay untouched.
func (ev *evaluator) include(in []any, path []queryir.IncludeSegment, env *env) ([]any, error) {
	out := make([]any, len(in))
	for i, item := range in {
		e, ok := item.(*object.Entity)
		if !ok || e == nil {
			out[i] = item
			continue
		}
		c := ev.own(e)
		if err := ev.load(c, path, env); err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

func (ev *evaluator) own(e *object.Entity) *object.Entity {
	if ev.owned[e] {
		return e
	}
	c := &object.Entity{Type: e.Type, Properties: e.Properties, Navigations: make(map[string]any)}
	ev.owned[c] = true
	return c
}

// load populates the navigation named by path[0] on e, then the rest of
// the path on what it loaded. A loaded navigation is kept; a filtered
// segment narrows it further.
func (ev *evaluator) load(e *object.Entity, path []queryir.IncludeSegment, env *env) error {
	if len(path) == 0 {
		return nil
	}
	seg := path[0]
	concrete, ok := ev.cat.Entity(e.Type)
	if !ok {
		return queryir.InvalidQuery("unknown entity type '%s'", e.Type)
	}
	if seg.Type != "" {
		through, ok := ev.cat.Entity(seg.Type)
		if !ok {
			return queryir.InvalidQuery("unknown entity type '%s'", seg.Type)
		}
		if !ev.cat.IsAssignableTo(concrete, through) {
			return nil
		}
	}
	nav, ok := ev.cat.FindNavigation(concrete, seg.Name)
	if !ok {
		if _, inHierarchy := ev.cat.FindNavigationInHierarchy(ev.cat.Root(concrete), seg.Name); inHierarchy {
			return nil
		}
		return queryir.IncludeMisuse(seg.Name, "'%s' is not a navigation of %s", seg.Name, concrete.Name)
	}

	loaded, done := e.Navigations[nav.Name]
	if !done {
		switch v := ev.graph.Navigate(e, nav).(type) {
		case []*object.Entity:
			list := make([]any, len(v))
			for i, t := range v {
				list[i] = ev.own(t)
			}
			loaded = list
		case *object.Entity:
			loaded = ev.own(v)
		default:
			loaded = nil
		}
	}
	if list, ok := loaded.([]any); ok && seg.Filter != nil {
		var err error
		if loaded, err = ev.filterInclude(list, ev.cat.Type(nav.Target), seg.Filter, env); err != nil {
			return err
		}
	}
	e.Navigations[nav.Name] = loaded

	switch v := loaded.(type) {
	case []any:
		for _, item := range v {
			if err := ev.load(item.(*object.Entity), path[1:], env); err != nil {
				return err
			}
		}
	case *object.Entity:
		return ev.load(v, path[1:], env)
	}
	return nil
}

func (ev *evaluator) filterInclude(list []any, target *catalog.EntityType, f *queryir.IncludeFilter, env *env) ([]any, error) {
	el := static{typ: target}
	var err error
	if f.Where != nil {
		if list, err = ev.where(list, f.Where, env, el); err != nil {
			return nil, err
		}
	}
	if len(f.Keys) > 0 {
		if list, err = ev.order(list, f.Keys, env, el); err != nil {
			return nil, err
		}
	}
	return ev.limit(list, f.Skip, f.Take, env)
}
