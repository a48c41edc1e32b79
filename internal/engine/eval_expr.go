package engine

import (
	"fmt"
	"strings"

	"github.com/roach88/navq/internal/ir"
	"github.com/roach88/navq/internal/methods"
	"github.com/roach88/navq/internal/object"
	"github.com/roach88/navq/internal/queryir"
)

func (ev *evaluator) expr(e queryir.Expr, env *env) (any, error) {
	switch e := e.(type) {
	case *queryir.Param:
		b := env.lookup(e.Name)
		if b == nil {
			return nil, queryir.InvalidQuery("unbound parameter '%s'", e.Name)
		}
		return b.val, nil

	case *queryir.Constant:
		return ir.ToNative(e.Value), nil

	case *queryir.Parameter:
		return ev.params[e.Name], nil

	case *queryir.Member:
		target, err := ev.expr(e.Target, env)
		if err != nil {
			return nil, err
		}
		return ev.member(target, e.Name)

	case *queryir.Binary:
		return ev.binary(e, env)

	case *queryir.Unary:
		v, err := ev.expr(e.Operand, env)
		if err != nil {
			return nil, err
		}
		out, err := methods.Unary(e.Op, v, false)
		if err != nil {
			return nil, NewOperationError(err.Error())
		}
		return out, nil

	case *queryir.Conditional:
		test, err := ev.expr(e.Test, env)
		if err != nil {
			return nil, err
		}
		if truthy(test) {
			return ev.expr(e.Then, env)
		}
		return ev.expr(e.Else, env)

	case *queryir.Convert:
		v, err := ev.expr(e.Operand, env)
		if err != nil {
			return nil, err
		}
		if t, ok := ev.cat.Entity(e.Type); ok {
			ent, _ := v.(*object.Entity)
			if ent == nil {
				return nil, nil
			}
			if !ev.isA(ent, t) && ev.unchecked == 0 {
				return nil, NewCastError(ent.Type, t.Name)
			}
			return ent, nil
		}
		out, err := methods.Convert(v, e.Type)
		if err != nil {
			return nil, NewOperationError(err.Error())
		}
		return out, nil

	case *queryir.TypeAs:
		v, err := ev.expr(e.Operand, env)
		if err != nil {
			return nil, err
		}
		t, ok := ev.cat.Entity(e.Type)
		if !ok {
			return nil, queryir.InvalidQuery("unknown entity type '%s'", e.Type)
		}
		if ent, _ := v.(*object.Entity); ent != nil && ev.isA(ent, t) {
			return ent, nil
		}
		return nil, nil

	case *queryir.TypeIs:
		v, err := ev.expr(e.Operand, env)
		if err != nil {
			return nil, err
		}
		t, ok := ev.cat.Entity(e.Type)
		if !ok {
			return nil, queryir.InvalidQuery("unknown entity type '%s'", e.Type)
		}
		ent, _ := v.(*object.Entity)
		return ent != nil && ev.isA(ent, t), nil

	case *queryir.New:
		rec := &object.Record{Names: make([]string, len(e.Fields)), Values: make([]any, len(e.Fields))}
		for i, f := range e.Fields {
			v, err := ev.expr(f.Value, env)
			if err != nil {
				return nil, err
			}
			rec.Names[i] = f.Name
			rec.Values[i] = v
		}
		return rec, nil

	case *queryir.Call:
		return ev.call(e, env)

	case *queryir.Subquery:
		if t, ok := e.Query.(*queryir.Terminal); ok {
			return ev.terminal(t, env)
		}
		return ev.sequence(e.Query, env)
	}
	return nil, fmt.Errorf("unknown expression %T", e)
}

// member reads a property, navigation, record field or grouping key. A
// null target yields null; a member of a sibling derived type reads as
// null, as its column would.
func (ev *evaluator) member(target any, name string) (any, error) {
	switch name {
	case "HasValue":
		if _, ok := target.(*object.Entity); !ok {
			return target != nil, nil
		}
	case "Value":
		if _, ok := target.(*object.Entity); !ok {
			return target, nil
		}
	}

	switch t := target.(type) {
	case nil:
		return nil, nil

	case *object.Entity:
		if t == nil {
			return nil, nil
		}
		concrete, ok := ev.cat.Entity(t.Type)
		if !ok {
			return nil, queryir.InvalidQuery("unknown entity type '%s'", t.Type)
		}
		m, ok := ev.cat.FindMember(concrete, name)
		if !ok {
			if _, inHierarchy := ev.cat.FindMemberInHierarchy(ev.cat.Root(concrete), name); inHierarchy {
				return nil, nil
			}
			return nil, queryir.Untranslatable(name, concrete.Name, "%s has no member '%s'", concrete.Name, name)
		}
		if m.Property != nil {
			return t.Properties[name], nil
		}
		if v, loaded := t.Navigations[name]; loaded {
			return v, nil
		}
		v := ev.graph.Navigate(t, m.Navigation)
		if m.Navigation.Collection {
			return asSequence(v)
		}
		return v, nil

	case *object.Record:
		v, ok := t.Get(name)
		if !ok {
			return nil, queryir.InvalidQuery("record has no field '%s'", name)
		}
		return v, nil

	case *object.Grouping:
		if name == "Key" {
			return t.Key, nil
		}
		return nil, queryir.InvalidQuery("a grouping has no member '%s'", name)

	case []any, []*object.Entity:
		seq, err := asSequence(t)
		if err != nil {
			return nil, err
		}
		if name == "Count" {
			return int64(len(seq)), nil
		}
		return nil, queryir.InvalidQuery("a collection has no member '%s'", name)
	}

	m, ok := ev.methods.Instance(valueKind(target), name, 0)
	if !ok {
		return nil, queryir.Untranslatable(name, string(valueKind(target)), "no member '%s' on %T values", name, target)
	}
	return ev.invoke(m, target, nil)
}

func (ev *evaluator) binary(e *queryir.Binary, env *env) (any, error) {
	l, err := ev.expr(e.Left, env)
	if err != nil {
		return nil, err
	}
	switch e.Op {
	case queryir.OpAndAlso:
		if !truthy(l) {
			return false, nil
		}
		r, err := ev.expr(e.Right, env)
		return truthy(r), err
	case queryir.OpOrElse:
		if truthy(l) {
			return true, nil
		}
		r, err := ev.expr(e.Right, env)
		return truthy(r), err
	case queryir.OpCoalesce:
		if !isNull(l) {
			return l, nil
		}
		return ev.expr(e.Right, env)
	}

	r, err := ev.expr(e.Right, env)
	if err != nil {
		return nil, err
	}
	if e.Op == queryir.OpEqual || e.Op == queryir.OpNotEqual {
		if isEntity(l) || isEntity(r) {
			eq := identity(ev.cat, l) == identity(ev.cat, r)
			return eq == (e.Op == queryir.OpEqual), nil
		}
	}
	out, err := methods.Binary(e.Op, l, r, e.Checked)
	if err != nil {
		return nil, NewOperationError(err.Error())
	}
	return out, nil
}

func isEntity(v any) bool {
	_, ok := v.(*object.Entity)
	return ok
}

func (ev *evaluator) call(e *queryir.Call, env *env) (any, error) {
	args := make([]any, len(e.Args))
	for i, a := range e.Args {
		v, err := ev.expr(a, env)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	if e.Target == nil {
		dot := strings.LastIndex(e.Method, ".")
		if dot < 0 {
			if e.Method == "Coalesce" && len(args) == 2 {
				if !isNull(args[0]) {
					return args[0], nil
				}
				return args[1], nil
			}
			return nil, queryir.Untranslatable(e.Method, "", "unknown function '%s'", e.Method)
		}
		m, ok := ev.methods.Static(e.Method[:dot], e.Method[dot+1:], len(args))
		if !ok {
			return nil, queryir.Untranslatable(e.Method, "", "no static method '%s' taking %d arguments", e.Method, len(args))
		}
		return ev.invoke(m, nil, args)
	}

	recv, err := ev.expr(e.Target, env)
	if err != nil {
		return nil, err
	}
	switch r := recv.(type) {
	case []any, []*object.Entity:
		if e.Method != "Contains" || len(args) != 1 {
			return nil, queryir.Untranslatable(e.Method, "", "'%s' is not supported on collections", e.Method)
		}
		seq, _ := asSequence(r)
		want := identity(ev.cat, args[0])
		for _, item := range seq {
			if identity(ev.cat, item) == want {
				return true, nil
			}
		}
		return false, nil
	case *object.Entity:
		if e.Method == "Equals" && len(args) == 1 {
			return identity(ev.cat, r) == identity(ev.cat, args[0]), nil
		}
		return nil, queryir.Untranslatable(e.Method, r.Type, "entities have no method '%s'", e.Method)
	}

	m, ok := ev.lookupInstance(recv, e.Method, len(args))
	if !ok {
		return nil, queryir.Untranslatable(e.Method, string(valueKind(recv)), "no method '%s' taking %d arguments", e.Method, len(args))
	}
	return ev.invoke(m, recv, args)
}

// lookupInstance resolves a method on recv. A null receiver has no kind;
// the first kind declaring the method is used.
func (ev *evaluator) lookupInstance(recv any, name string, arity int) (*methods.Method, bool) {
	if recv != nil {
		return ev.methods.Instance(valueKind(recv), name, arity)
	}
	for _, k := range []ir.Kind{ir.KindString, ir.KindInt, ir.KindFloat, ir.KindBool} {
		if m, ok := ev.methods.Instance(k, name, arity); ok {
			return m, true
		}
	}
	return nil, false
}

func (ev *evaluator) invoke(m *methods.Method, recv any, args []any) (any, error) {
	out, err := m.Eval(recv, args)
	if err != nil {
		return nil, clientError(m.Name, err)
	}
	return out, nil
}

func valueKind(v any) ir.Kind {
	switch v.(type) {
	case string:
		return ir.KindString
	case int64:
		return ir.KindInt
	case float64:
		return ir.KindFloat
	case bool:
		return ir.KindBool
	}
	return ir.KindUnknown
}
