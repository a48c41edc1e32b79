package queryir

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/navq/internal/ir"
)

// ReservedParameterPrefix starts the names of parameters generated during
// translation. Query parameters may not use it.
const ReservedParameterPrefix = "corr_"

// Validate checks that a query tree is well formed: every node has its
// inputs, lambdas have the arity their operator expects, every parameter
// reference is bound by an enclosing lambda, and Take/Skip/ElementAt counts
// are int constants or query parameters.
//
// Validate knows nothing about the model; member and type names are checked
// during translation. The first problem found is returned as an
// ErrInvalidQuery TranslationError.
func Validate(n Node) error {
	v := &validator{}
	v.node(n)
	return v.err
}

type validator struct {
	scope []string
	err   error
}

func (v *validator) fail(format string, args ...any) {
	if v.err == nil {
		v.err = InvalidQuery(format, args...)
	}
}

func (v *validator) node(n Node) {
	if v.err != nil {
		return
	}
	if n == nil {
		v.fail("missing query node")
		return
	}

	switch n := n.(type) {
	case *Source:
		switch {
		case n.Entity != "" && n.Collection != nil:
			v.fail("source names both an entity set and a collection")
		case n.Entity == "" && n.Collection == nil:
			v.fail("source names neither an entity set nor a collection")
		case n.Collection != nil:
			v.expr(n.Collection)
		}
	case *Filter:
		v.node(n.Input)
		v.lambda("Where", n.Predicate, 1)
	case *Project:
		v.node(n.Input)
		v.lambda("Select", n.Selector, 1)
	case *SelectMany:
		v.node(n.Input)
		v.lambda("SelectMany", n.Collection, 1)
		if n.Result != nil {
			v.lambda("SelectMany", n.Result, 2)
		}
	case *OrderBy:
		v.node(n.Input)
		if len(n.Keys) == 0 {
			v.fail("OrderBy needs at least one key")
		}
		for _, k := range n.Keys {
			v.lambda("OrderBy", k.Key, 1)
		}
	case *GroupBy:
		v.node(n.Input)
		v.lambda("GroupBy", n.Key, 1)
		if n.Element != nil {
			v.lambda("GroupBy", n.Element, 1)
		}
		if n.Result != nil {
			v.lambda("GroupBy", n.Result, 2)
		}
	case *Join:
		v.node(n.Outer)
		v.node(n.Inner)
		v.lambda(n.Kind.String(), n.OuterKey, 1)
		v.lambda(n.Kind.String(), n.InnerKey, 1)
		v.lambda(n.Kind.String(), n.Result, 2)
	case *GroupJoin:
		v.node(n.Outer)
		v.node(n.Inner)
		v.lambda("GroupJoin", n.OuterKey, 1)
		v.lambda("GroupJoin", n.InnerKey, 1)
		v.lambda("GroupJoin", n.Result, 2)
	case *SetCombine:
		switch n.Op {
		case SetConcat, SetUnion, SetExcept, SetIntersect:
		default:
			v.fail("unknown set operation %q", n.Op)
		}
		v.node(n.Left)
		v.node(n.Right)
	case *TypeFilter:
		v.node(n.Input)
		if n.Type == "" {
			v.fail("OfType needs a type")
		}
	case *Take:
		v.node(n.Input)
		v.count("Take", n.Count)
	case *Skip:
		v.node(n.Input)
		v.count("Skip", n.Count)
	case *Distinct:
		v.node(n.Input)
	case *DefaultIfEmpty:
		v.node(n.Input)
	case *Include:
		v.node(n.Input)
		if len(n.Path) == 0 {
			v.fail("Include needs a navigation path")
		}
		for _, seg := range n.Path {
			if seg.Name == "" {
				v.fail("Include path has an empty segment")
			}
			if f := seg.Filter; f != nil {
				if f.Where != nil {
					v.lambda("Include", f.Where, 1)
				}
				for _, k := range f.Keys {
					v.lambda("Include", k.Key, 1)
				}
				if f.Skip != nil {
					v.count("Skip", f.Skip)
				}
				if f.Take != nil {
					v.count("Take", f.Take)
				}
			}
		}
	case *Terminal:
		v.node(n.Input)
		switch n.Op {
		case OpToList, OpFirst, OpFirstOrDefault, OpSingle, OpSingleOrDefault,
			OpCount, OpLongCount, OpAny:
			if n.Selector != nil || n.Index != nil {
				v.fail("%s takes no selector", n.Op)
			}
		case OpSum, OpAverage, OpMin, OpMax:
			if n.Selector != nil {
				v.lambda(string(n.Op), n.Selector, 1)
			}
		case OpAll:
			if n.Selector == nil {
				v.fail("All needs a predicate")
			} else {
				v.lambda("All", n.Selector, 1)
			}
		case OpElementAt, OpElementAtOrDefault:
			v.count(string(n.Op), n.Index)
		default:
			v.fail("unknown terminal operator %q", n.Op)
		}
	default:
		v.fail("unknown query node %T", n)
	}
}

func (v *validator) lambda(op string, l *Lambda, arity int) {
	if v.err != nil {
		return
	}
	if l == nil {
		v.fail("%s: missing lambda", op)
		return
	}
	if len(l.Params) != arity {
		v.fail("%s: lambda must take %d parameter(s), got %d", op, arity, len(l.Params))
		return
	}
	for i, p := range l.Params {
		if p == "" || slices.Contains(l.Params[:i], p) {
			v.fail("%s: invalid lambda parameter list %v", op, l.Params)
			return
		}
	}
	saved := len(v.scope)
	v.scope = append(v.scope, l.Params...)
	v.expr(l.Body)
	v.scope = v.scope[:saved]
}

func (v *validator) count(op string, e Expr) {
	switch c := e.(type) {
	case *Constant:
		n, ok := c.Value.(ir.IRInt)
		if !ok || n < 0 {
			v.fail("%s: count must be a non-negative int, got %s", op, FormatExpr(e))
		}
	case *Parameter:
	default:
		v.fail("%s: count must be a constant or a parameter", op)
	}
}

func (v *validator) expr(e Expr) {
	if v.err != nil {
		return
	}
	switch e := e.(type) {
	case nil:
		v.fail("missing expression")
	case *Param:
		if !slices.Contains(v.scope, e.Name) {
			v.fail("unbound parameter %q", e.Name)
		}
	case *Constant:
		if e.Value == nil {
			v.fail("constant without a value")
		}
	case *Parameter:
		switch {
		case e.Name == "":
			v.fail("query parameter without a name")
		case strings.HasPrefix(e.Name, ReservedParameterPrefix):
			v.fail("query parameter @%s uses the reserved prefix %q", e.Name, ReservedParameterPrefix)
		}
	case *Member:
		v.expr(e.Target)
		if e.Name == "" {
			v.fail("member access without a name")
		}
	case *Binary:
		v.expr(e.Left)
		v.expr(e.Right)
		if e.Checked && !e.Op.IsArithmetic() {
			v.fail("checked applies to arithmetic only, not %q", e.Op)
		}
	case *Unary:
		v.expr(e.Operand)
	case *Conditional:
		v.expr(e.Test)
		v.expr(e.Then)
		v.expr(e.Else)
	case *Convert:
		v.expr(e.Operand)
		v.typeName("cast", e.Type)
	case *TypeAs:
		v.expr(e.Operand)
		v.typeName("as", e.Type)
	case *TypeIs:
		v.expr(e.Operand)
		v.typeName("is", e.Type)
	case *New:
		seen := make(map[string]bool, len(e.Fields))
		for _, f := range e.Fields {
			if seen[f.Name] {
				v.fail("duplicate anonymous type member %q", f.Name)
			}
			seen[f.Name] = true
			v.expr(f.Value)
		}
	case *Call:
		if e.Target != nil {
			v.expr(e.Target)
		}
		for _, a := range e.Args {
			v.expr(a)
		}
	case *Subquery:
		v.node(e.Query)
	default:
		v.fail("unknown expression %s", fmt.Sprintf("%T", e))
	}
}

func (v *validator) typeName(op, name string) {
	if name == "" {
		v.fail("%s needs a type name", op)
	}
}
