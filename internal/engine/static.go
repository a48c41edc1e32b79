package engine

import (
	"strings"

	"github.com/roach88/navq/internal/catalog"
	"github.com/roach88/navq/internal/ir"
	"github.com/roach88/navq/internal/queryir"
)

// static is what is known about an expression without evaluating it: its
// entity type, whether it is a collection and whether it can be null. For
// collections typ and nullable describe the elements.
//
// Min, Max and Average need it: over an empty sequence they yield null
// when the selector type is nullable and fail otherwise, which cannot be
// read off an empty input.
type static struct {
	typ      *catalog.EntityType
	coll     bool
	nullable bool
}

// unknown is assumed for expressions the inference does not follow.
var unknown = static{nullable: true}

func (ev *evaluator) infer(e queryir.Expr, env *env) static {
	switch e := e.(type) {
	case *queryir.Param:
		if b := env.lookup(e.Name); b != nil {
			return b.st
		}
		return unknown

	case *queryir.Constant:
		return static{nullable: ir.IsNull(e.Value)}

	case *queryir.Parameter:
		return static{nullable: ev.params[e.Name] == nil}

	case *queryir.Member:
		return ev.inferMember(ev.infer(e.Target, env), e.Name)

	case *queryir.Binary:
		l, r := ev.infer(e.Left, env), ev.infer(e.Right, env)
		switch {
		case e.Op == queryir.OpCoalesce:
			return static{typ: l.typ, nullable: l.nullable && r.nullable}
		case e.Op.IsArithmetic():
			return static{nullable: l.nullable || r.nullable}
		}
		return static{}

	case *queryir.Unary:
		return ev.infer(e.Operand, env)

	case *queryir.Conditional:
		t, f := ev.infer(e.Then, env), ev.infer(e.Else, env)
		typ := t.typ
		if typ == nil {
			typ = f.typ
		}
		return static{typ: typ, nullable: t.nullable || f.nullable}

	case *queryir.Convert:
		if t, ok := ev.cat.Entity(e.Type); ok {
			return static{typ: t, nullable: ev.infer(e.Operand, env).nullable}
		}
		return static{nullable: strings.HasSuffix(e.Type, "?")}

	case *queryir.TypeAs:
		t, _ := ev.cat.Entity(e.Type)
		return static{typ: t, nullable: true}

	case *queryir.TypeIs, *queryir.New:
		return static{}

	case *queryir.Call:
		if e.Target == nil {
			if e.Method == "Coalesce" && len(e.Args) == 2 {
				return static{nullable: ev.infer(e.Args[0], env).nullable && ev.infer(e.Args[1], env).nullable}
			}
			if len(e.Args) > 0 {
				return static{nullable: ev.infer(e.Args[0], env).nullable}
			}
			return unknown
		}
		return static{nullable: ev.infer(e.Target, env).nullable}

	case *queryir.Subquery:
		t, ok := e.Query.(*queryir.Terminal)
		if !ok {
			el := ev.shapeOf(e.Query, env)
			return static{typ: el.typ, coll: true, nullable: el.nullable}
		}
		switch t.Op {
		case queryir.OpCount, queryir.OpLongCount, queryir.OpAny, queryir.OpAll, queryir.OpSum:
			return static{}
		case queryir.OpMin, queryir.OpMax, queryir.OpAverage:
			return ev.selected(t, env)
		}
		el := ev.shapeOf(t.Input, env)
		return static{typ: el.typ, nullable: true}
	}
	return unknown
}

func (ev *evaluator) inferMember(target static, name string) static {
	switch {
	case name == "HasValue":
		return static{}
	case name == "Value":
		return static{typ: target.typ}
	case target.coll:
		if name == "Count" {
			return static{}
		}
		return unknown
	case target.typ == nil:
		return unknown
	}
	m, ok := ev.cat.FindMemberInHierarchy(target.typ, name)
	if !ok {
		return unknown
	}
	derived := !ev.cat.IsAssignableTo(target.typ, m.Declaring)
	if m.Property != nil {
		return static{nullable: m.Property.Nullable || target.nullable || derived}
	}
	nav := m.Navigation
	if nav.Collection {
		return static{typ: ev.cat.Type(nav.Target), coll: true}
	}
	return static{typ: ev.cat.Type(nav.Target), nullable: nav.Optional || target.nullable || derived}
}

// selected infers the selector of an aggregate, or the elements when there
// is none.
func (ev *evaluator) selected(t *queryir.Terminal, env *env) static {
	el := ev.shapeOf(t.Input, env)
	if t.Selector == nil {
		return el
	}
	return ev.infer(t.Selector.Body, env.bindStatic(t.Selector.Params, el))
}

// shapeOf infers the element of a sequence.
func (ev *evaluator) shapeOf(n queryir.Node, env *env) static {
	switch n := n.(type) {
	case *queryir.Source:
		if n.Entity != "" {
			t, _ := ev.cat.Entity(n.Entity)
			return static{typ: t}
		}
		st := ev.infer(n.Collection, env)
		return static{typ: st.typ, nullable: st.nullable && !st.coll}

	case *queryir.Project:
		return ev.infer(n.Selector.Body, env.bindStatic(n.Selector.Params, ev.shapeOf(n.Input, env)))

	case *queryir.Join:
		outer, inner := ev.shapeOf(n.Outer, env), ev.shapeOf(n.Inner, env)
		if n.Kind == queryir.JoinLeft {
			inner.nullable = true
		}
		return ev.infer(n.Result.Body, env.bindStatic(n.Result.Params, outer, inner))

	case *queryir.GroupJoin:
		outer, inner := ev.shapeOf(n.Outer, env), ev.shapeOf(n.Inner, env)
		inner.coll = true
		return ev.infer(n.Result.Body, env.bindStatic(n.Result.Params, outer, inner))

	case *queryir.SelectMany:
		el := ev.shapeOf(n.Input, env)
		coll := ev.infer(n.Collection.Body, env.bindStatic(n.Collection.Params, el))
		inner := static{typ: coll.typ, nullable: coll.nullable}
		if n.Result == nil {
			return inner
		}
		return ev.infer(n.Result.Body, env.bindStatic(n.Result.Params, el, inner))

	case *queryir.GroupBy:
		if n.Result == nil {
			return static{}
		}
		el := ev.shapeOf(n.Input, env)
		key := ev.infer(n.Key.Body, env.bindStatic(n.Key.Params, el))
		if n.Element != nil {
			el = ev.infer(n.Element.Body, env.bindStatic(n.Element.Params, el))
		}
		el.coll = true
		return ev.infer(n.Result.Body, env.bindStatic(n.Result.Params, key, el))

	case *queryir.TypeFilter:
		t, _ := ev.cat.Entity(n.Type)
		return static{typ: t}

	case *queryir.DefaultIfEmpty:
		el := ev.shapeOf(n.Input, env)
		el.nullable = true
		return el

	case *queryir.Terminal:
		return unknown
	}
	if in := queryir.InputOf(n); in != nil {
		return ev.shapeOf(in, env)
	}
	return unknown
}
