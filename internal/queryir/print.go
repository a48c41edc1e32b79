package queryir

import (
	"strconv"
	"strings"

	"github.com/roach88/navq/internal/ir"
)

// Format renders n in the syntax Parse accepts. Binary operators are fully
// parenthesized, so Parse(Format(n)) reproduces n.
func Format(n Node) string {
	var b strings.Builder
	writeNode(&b, n)
	return b.String()
}

// FormatExpr renders a single expression.
func FormatExpr(e Expr) string {
	var b strings.Builder
	writeExpr(&b, e)
	return b.String()
}

// FormatLambda renders a lambda ("g => g.Rank", "(o, i) => o").
func FormatLambda(l *Lambda) string {
	var b strings.Builder
	writeLambda(&b, l)
	return b.String()
}

func writeNode(b *strings.Builder, n Node) {
	call := func(input Node, method string, write func()) {
		writeNode(b, input)
		b.WriteString(".")
		b.WriteString(method)
		b.WriteString("(")
		if write != nil {
			write()
		}
		b.WriteString(")")
	}
	lambdas := func(ls ...*Lambda) func() {
		return func() {
			for i, l := range ls {
				if i > 0 {
					b.WriteString(", ")
				}
				writeLambda(b, l)
			}
		}
	}

	switch n := n.(type) {
	case *Source:
		if n.Entity != "" {
			b.WriteString("Set<" + n.Entity + ">()")
			return
		}
		writeTarget(b, n.Collection)
	case *Filter:
		call(n.Input, "Where", lambdas(n.Predicate))
	case *Project:
		call(n.Input, "Select", lambdas(n.Selector))
	case *SelectMany:
		if n.Result != nil {
			call(n.Input, "SelectMany", lambdas(n.Collection, n.Result))
		} else {
			call(n.Input, "SelectMany", lambdas(n.Collection))
		}
	case *OrderBy:
		writeNode(b, n.Input)
		writeSortKeys(b, n.Keys)
	case *GroupBy:
		ls := []*Lambda{n.Key}
		if n.Element != nil {
			ls = append(ls, n.Element)
		}
		if n.Result != nil {
			ls = append(ls, n.Result)
		}
		call(n.Input, "GroupBy", lambdas(ls...))
	case *Join:
		call(n.Outer, n.Kind.String(), func() {
			writeNode(b, n.Inner)
			b.WriteString(", ")
			lambdas(n.OuterKey, n.InnerKey, n.Result)()
		})
	case *GroupJoin:
		call(n.Outer, "GroupJoin", func() {
			writeNode(b, n.Inner)
			b.WriteString(", ")
			lambdas(n.OuterKey, n.InnerKey, n.Result)()
		})
	case *SetCombine:
		call(n.Left, string(n.Op), func() { writeNode(b, n.Right) })
	case *TypeFilter:
		writeNode(b, n.Input)
		b.WriteString(".OfType<" + n.Type + ">()")
	case *Take:
		call(n.Input, "Take", func() { writeExpr(b, n.Count) })
	case *Skip:
		call(n.Input, "Skip", func() { writeExpr(b, n.Count) })
	case *Distinct:
		call(n.Input, "Distinct", nil)
	case *DefaultIfEmpty:
		call(n.Input, "DefaultIfEmpty", nil)
	case *Include:
		writeNode(b, n.Input)
		writeInclude(b, n.Path)
	case *Terminal:
		switch {
		case n.Selector != nil:
			call(n.Input, string(n.Op), lambdas(n.Selector))
		case n.Index != nil:
			call(n.Input, string(n.Op), func() { writeExpr(b, n.Index) })
		default:
			call(n.Input, string(n.Op), nil)
		}
	}
}

func writeSortKeys(b *strings.Builder, keys []SortKey) {
	for i, k := range keys {
		method := "ThenBy"
		if i == 0 {
			method = "OrderBy"
		}
		if k.Descending {
			method += "Descending"
		}
		b.WriteString("." + method + "(")
		writeLambda(b, k.Key)
		b.WriteString(")")
	}
}

// writeInclude prefers the string form, then a single lambda, then an
// Include/ThenInclude chain when a filter sits on an inner segment.
func writeInclude(b *strings.Builder, path []IncludeSegment) {
	plain := true
	innerFilter := false
	for i, seg := range path {
		if seg.Type != "" || seg.Filter != nil {
			plain = false
		}
		if seg.Filter != nil && i < len(path)-1 {
			innerFilter = true
		}
	}
	if plain {
		names := make([]string, len(path))
		for i, seg := range path {
			names[i] = seg.Name
		}
		b.WriteString(".Include(" + strconv.Quote(strings.Join(names, ".")) + ")")
		return
	}
	if !innerFilter {
		b.WriteString(".Include(x => ")
		writeIncludeChain(b, "x", path)
		b.WriteString(")")
		return
	}
	for i, seg := range path {
		if i == 0 {
			b.WriteString(".Include(x => ")
		} else {
			b.WriteString(".ThenInclude(x => ")
		}
		writeIncludeChain(b, "x", []IncludeSegment{seg})
		b.WriteString(")")
	}
}

func writeIncludeChain(b *strings.Builder, param string, path []IncludeSegment) {
	expr := param
	for _, seg := range path {
		if seg.Type != "" {
			expr = "(" + expr + " as " + seg.Type + ")"
		}
		expr += "." + seg.Name
	}
	b.WriteString(expr)
	last := path[len(path)-1]
	if f := last.Filter; f != nil {
		if f.Where != nil {
			b.WriteString(".Where(")
			writeLambda(b, f.Where)
			b.WriteString(")")
		}
		writeSortKeys(b, f.Keys)
		if f.Skip != nil {
			b.WriteString(".Skip(")
			writeExpr(b, f.Skip)
			b.WriteString(")")
		}
		if f.Take != nil {
			b.WriteString(".Take(")
			writeExpr(b, f.Take)
			b.WriteString(")")
		}
	}
}

func writeLambda(b *strings.Builder, l *Lambda) {
	if len(l.Params) == 1 {
		b.WriteString(l.Params[0])
	} else {
		b.WriteString("(" + strings.Join(l.Params, ", ") + ")")
	}
	b.WriteString(" => ")
	writeExpr(b, l.Body)
}

// writeTarget renders the receiver of a member access or method call,
// parenthesizing anything that is not a primary expression.
func writeTarget(b *strings.Builder, e Expr) {
	switch v := e.(type) {
	case *Unary, *TypeAs, *TypeIs, *Conditional:
		b.WriteString("(")
		writeExpr(b, e)
		b.WriteString(")")
		return
	case *Constant:
		switch c := v.Value.(type) {
		case ir.IRInt:
			if c < 0 {
				b.WriteString("(" + formatConstant(c) + ")")
				return
			}
		case ir.IRFloat:
			b.WriteString("(" + formatConstant(c) + ")")
			return
		}
	}
	writeExpr(b, e)
}

func writeExpr(b *strings.Builder, e Expr) {
	switch v := e.(type) {
	case *Param:
		b.WriteString(v.Name)
	case *Constant:
		b.WriteString(formatConstant(v.Value))
	case *Parameter:
		b.WriteString("@" + v.Name)
	case *Member:
		writeTarget(b, v.Target)
		b.WriteString("." + v.Name)
	case *Binary:
		if v.Checked {
			b.WriteString("checked(")
		}
		b.WriteString("(")
		writeExpr(b, v.Left)
		b.WriteString(" " + string(v.Op) + " ")
		writeExpr(b, v.Right)
		b.WriteString(")")
		if v.Checked {
			b.WriteString(")")
		}
	case *Unary:
		b.WriteString(string(v.Op))
		writeTarget(b, v.Operand)
	case *Conditional:
		b.WriteString("(")
		writeExpr(b, v.Test)
		b.WriteString(" ? ")
		writeExpr(b, v.Then)
		b.WriteString(" : ")
		writeExpr(b, v.Else)
		b.WriteString(")")
	case *Convert:
		b.WriteString("cast<" + v.Type + ">(")
		writeExpr(b, v.Operand)
		b.WriteString(")")
	case *TypeAs:
		b.WriteString("(")
		writeTarget(b, v.Operand)
		b.WriteString(" as " + v.Type + ")")
	case *TypeIs:
		b.WriteString("(")
		writeTarget(b, v.Operand)
		b.WriteString(" is " + v.Type + ")")
	case *New:
		b.WriteString("new { ")
		for i, f := range v.Fields {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(f.Name + " = ")
			writeExpr(b, f.Value)
		}
		b.WriteString(" }")
	case *Call:
		if v.Target != nil {
			writeTarget(b, v.Target)
			b.WriteString(".")
		}
		b.WriteString(v.Method + "(")
		for i, a := range v.Args {
			if i > 0 {
				b.WriteString(", ")
			}
			writeExpr(b, a)
		}
		b.WriteString(")")
	case *Subquery:
		writeNode(b, v.Query)
	}
}

func formatConstant(v ir.IRValue) string {
	switch c := v.(type) {
	case ir.IRString:
		return strconv.Quote(string(c))
	case ir.IRInt:
		return strconv.FormatInt(int64(c), 10)
	case ir.IRFloat:
		s := strconv.FormatFloat(float64(c), 'g', -1, 64)
		if !strings.ContainsAny(s, ".eEnN") {
			s += ".0"
		}
		return s
	case ir.IRBool:
		if c {
			return "true"
		}
		return "false"
	}
	return "null"
}
