package queryir

import (
	"strconv"

	"github.com/roach88/navq/internal/ir"
)

// Fingerprint returns the structural identity of a query tree: a SHA-256
// over the canonical encoding of Shape(n).
//
// Two trees that differ only in lambda parameter names share a fingerprint;
// trees that differ in a constant do not.
func Fingerprint(n Node) (string, error) {
	return ir.ShapeHash(Shape(n))
}

// Shape encodes n as an IR object suitable for canonical hashing. Lambda
// parameters are renamed by binding depth ("$0", "$1", ...) so the encoding
// does not depend on the names a query author chose.
func Shape(n Node) ir.IRObject {
	s := &shaper{}
	return s.node(n)
}

type shaper struct {
	scope []string // bound parameter names; index is the canonical name
}

func obj(kind string, pairs ...ir.IRPair) ir.IRObject {
	return ir.NewIRObjectFromPairs(append(pairs, ir.O("kind", ir.IRString(kind)))...)
}

func (s *shaper) node(n Node) ir.IRObject {
	switch n := n.(type) {
	case *Source:
		if n.Entity != "" {
			return obj("source", ir.O("entity", ir.IRString(n.Entity)))
		}
		return obj("source", ir.O("collection", s.expr(n.Collection)))
	case *Filter:
		return obj("filter", ir.O("input", s.node(n.Input)), ir.O("predicate", s.lambda(n.Predicate)))
	case *Project:
		return obj("project", ir.O("input", s.node(n.Input)), ir.O("selector", s.lambda(n.Selector)))
	case *SelectMany:
		return obj("select_many",
			ir.O("input", s.node(n.Input)),
			ir.O("collection", s.lambda(n.Collection)),
			ir.O("result", s.lambda(n.Result)))
	case *OrderBy:
		return obj("order_by", ir.O("input", s.node(n.Input)), ir.O("keys", s.sortKeys(n.Keys)))
	case *GroupBy:
		return obj("group_by",
			ir.O("input", s.node(n.Input)),
			ir.O("key", s.lambda(n.Key)),
			ir.O("element", s.lambda(n.Element)),
			ir.O("result", s.lambda(n.Result)))
	case *Join:
		return obj("join",
			ir.O("join_kind", ir.IRString(n.Kind.String())),
			ir.O("outer", s.node(n.Outer)),
			ir.O("inner", s.node(n.Inner)),
			ir.O("outer_key", s.lambda(n.OuterKey)),
			ir.O("inner_key", s.lambda(n.InnerKey)),
			ir.O("result", s.lambda(n.Result)))
	case *GroupJoin:
		return obj("group_join",
			ir.O("outer", s.node(n.Outer)),
			ir.O("inner", s.node(n.Inner)),
			ir.O("outer_key", s.lambda(n.OuterKey)),
			ir.O("inner_key", s.lambda(n.InnerKey)),
			ir.O("result", s.lambda(n.Result)))
	case *SetCombine:
		return obj("set", ir.O("op", ir.IRString(n.Op)), ir.O("left", s.node(n.Left)), ir.O("right", s.node(n.Right)))
	case *TypeFilter:
		return obj("of_type", ir.O("input", s.node(n.Input)), ir.O("type", ir.IRString(n.Type)))
	case *Take:
		return obj("take", ir.O("input", s.node(n.Input)), ir.O("count", s.expr(n.Count)))
	case *Skip:
		return obj("skip", ir.O("input", s.node(n.Input)), ir.O("count", s.expr(n.Count)))
	case *Distinct:
		return obj("distinct", ir.O("input", s.node(n.Input)))
	case *DefaultIfEmpty:
		return obj("default_if_empty", ir.O("input", s.node(n.Input)))
	case *Include:
		path := make(ir.IRArray, len(n.Path))
		for i, seg := range n.Path {
			path[i] = s.segment(seg)
		}
		return obj("include", ir.O("input", s.node(n.Input)), ir.O("path", path))
	case *Terminal:
		pairs := []ir.IRPair{
			ir.O("input", s.node(n.Input)),
			ir.O("op", ir.IRString(n.Op)),
			ir.O("selector", s.lambda(n.Selector)),
		}
		if n.Index != nil {
			pairs = append(pairs, ir.O("index", s.expr(n.Index)))
		}
		return obj("terminal", pairs...)
	}
	return obj("unknown")
}

func (s *shaper) segment(seg IncludeSegment) ir.IRValue {
	pairs := []ir.IRPair{ir.O("name", ir.IRString(seg.Name)), ir.O("type", ir.IRString(seg.Type))}
	if f := seg.Filter; f != nil {
		filter := []ir.IRPair{
			ir.O("where", s.lambda(f.Where)),
			ir.O("keys", s.sortKeys(f.Keys)),
		}
		if f.Skip != nil {
			filter = append(filter, ir.O("skip", s.expr(f.Skip)))
		}
		if f.Take != nil {
			filter = append(filter, ir.O("take", s.expr(f.Take)))
		}
		pairs = append(pairs, ir.O("filter", ir.NewIRObjectFromPairs(filter...)))
	}
	return ir.NewIRObjectFromPairs(pairs...)
}

func (s *shaper) sortKeys(keys []SortKey) ir.IRArray {
	out := make(ir.IRArray, len(keys))
	for i, k := range keys {
		out[i] = ir.NewIRObjectFromPairs(
			ir.O("key", s.lambda(k.Key)),
			ir.O("descending", ir.IRBool(k.Descending)),
		)
	}
	return out
}

func (s *shaper) lambda(l *Lambda) ir.IRValue {
	if l == nil {
		return ir.IRNull{}
	}
	saved := len(s.scope)
	s.scope = append(s.scope, l.Params...)
	body := s.expr(l.Body)
	s.scope = s.scope[:saved]
	return ir.NewIRObjectFromPairs(
		ir.O("arity", ir.IRInt(len(l.Params))),
		ir.O("body", body),
	)
}

// paramName resolves name to its canonical binding index, innermost
// binding first.
func (s *shaper) paramName(name string) string {
	for i := len(s.scope) - 1; i >= 0; i-- {
		if s.scope[i] == name {
			return "$" + strconv.Itoa(i)
		}
	}
	return "?" + name
}

func (s *shaper) expr(e Expr) ir.IRValue {
	switch e := e.(type) {
	case nil:
		return ir.IRNull{}
	case *Param:
		return obj("param", ir.O("name", ir.IRString(s.paramName(e.Name))))
	case *Constant:
		value := e.Value
		if value == nil {
			value = ir.IRNull{}
		}
		return obj("constant", ir.O("value", value))
	case *Parameter:
		return obj("parameter", ir.O("name", ir.IRString(e.Name)))
	case *Member:
		return obj("member", ir.O("target", s.expr(e.Target)), ir.O("name", ir.IRString(e.Name)))
	case *Binary:
		return obj("binary",
			ir.O("op", ir.IRString(e.Op)),
			ir.O("left", s.expr(e.Left)),
			ir.O("right", s.expr(e.Right)),
			ir.O("checked", ir.IRBool(e.Checked)))
	case *Unary:
		return obj("unary", ir.O("op", ir.IRString(e.Op)), ir.O("operand", s.expr(e.Operand)))
	case *Conditional:
		return obj("conditional",
			ir.O("test", s.expr(e.Test)),
			ir.O("then", s.expr(e.Then)),
			ir.O("else", s.expr(e.Else)))
	case *Convert:
		return obj("convert", ir.O("operand", s.expr(e.Operand)), ir.O("type", ir.IRString(e.Type)))
	case *TypeAs:
		return obj("type_as", ir.O("operand", s.expr(e.Operand)), ir.O("type", ir.IRString(e.Type)))
	case *TypeIs:
		return obj("type_is", ir.O("operand", s.expr(e.Operand)), ir.O("type", ir.IRString(e.Type)))
	case *New:
		fields := make(ir.IRArray, len(e.Fields))
		for i, f := range e.Fields {
			fields[i] = ir.NewIRObjectFromPairs(ir.O("name", ir.IRString(f.Name)), ir.O("value", s.expr(f.Value)))
		}
		return obj("new", ir.O("fields", fields))
	case *Call:
		args := make(ir.IRArray, len(e.Args))
		for i, a := range e.Args {
			args[i] = s.expr(a)
		}
		return obj("call", ir.O("target", s.expr(e.Target)), ir.O("method", ir.IRString(e.Method)), ir.O("args", args))
	case *Subquery:
		return obj("subquery", ir.O("query", s.node(e.Query)))
	}
	return obj("unknown")
}
