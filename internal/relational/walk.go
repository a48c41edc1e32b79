package relational

import "slices"

// Walk visits s and its children depth-first. fn returns false to skip a
// node's children. Subqueries are entered through WalkSelect.
func Walk(s Scalar, fn func(Scalar) bool) {
	if s == nil || !fn(s) {
		return
	}
	switch s := s.(type) {
	case *Binary:
		Walk(s.Left, fn)
		Walk(s.Right, fn)
	case *Unary:
		Walk(s.Operand, fn)
	case *Case:
		for _, w := range s.Whens {
			Walk(w.Cond, fn)
			Walk(w.Result, fn)
		}
		Walk(s.Else, fn)
	case *Func:
		for _, a := range s.Args {
			Walk(a, fn)
		}
	case *Aggregate:
		Walk(s.Arg, fn)
	case *RowNumber:
		for _, p := range s.PartitionBy {
			Walk(p, fn)
		}
		for _, o := range s.OrderBy {
			Walk(o.Expr, fn)
		}
	case *Exists:
		WalkSelect(s.Query, fn)
	case *In:
		Walk(s.Operand, fn)
		for _, v := range s.Values {
			Walk(v, fn)
		}
	case *ScalarSubquery:
		WalkSelect(s.Query, fn)
	}
}

// WalkSelect visits every scalar of sel, including those of derived tables
// and set operation operands.
func WalkSelect(sel *Select, fn func(Scalar) bool) {
	if sel == nil {
		return
	}
	for _, t := range sel.Tables {
		switch {
		case t.Query != nil:
			WalkSelect(t.Query, fn)
		case t.Set != nil:
			WalkSelect(t.Set.Left, fn)
			WalkSelect(t.Set.Right, fn)
		}
		Walk(t.On, fn)
	}
	for _, p := range sel.Projection {
		Walk(p.Expr, fn)
	}
	Walk(sel.Predicate, fn)
	for _, g := range sel.GroupBy {
		Walk(g, fn)
	}
	Walk(sel.Having, fn)
	for _, o := range sel.Orderings {
		Walk(o.Expr, fn)
	}
	Walk(sel.Limit, fn)
	Walk(sel.Offset, fn)
}

// Rewrite transforms s top-down. fn returns a replacement and true to stop
// descending at that node; otherwise the node is rebuilt from its rewritten
// children. Unchanged subtrees are shared.
func Rewrite(s Scalar, fn func(Scalar) (Scalar, bool)) Scalar {
	if s == nil {
		return nil
	}
	if out, ok := fn(s); ok {
		return out
	}
	switch s := s.(type) {
	case *Binary:
		return &Binary{Op: s.Op, Left: Rewrite(s.Left, fn), Right: Rewrite(s.Right, fn), KeyMatch: s.KeyMatch}
	case *Unary:
		return &Unary{Op: s.Op, Operand: Rewrite(s.Operand, fn)}
	case *Case:
		out := &Case{Whens: make([]When, len(s.Whens)), Else: Rewrite(s.Else, fn)}
		for i, w := range s.Whens {
			out.Whens[i] = When{Cond: Rewrite(w.Cond, fn), Result: Rewrite(w.Result, fn)}
		}
		return out
	case *Func:
		return &Func{Name: s.Name, Args: rewriteAll(s.Args, fn), Kind: s.Kind, Nullable: s.Nullable}
	case *Aggregate:
		return &Aggregate{Func: s.Func, Arg: Rewrite(s.Arg, fn), Distinct: s.Distinct}
	case *RowNumber:
		return &RowNumber{PartitionBy: rewriteAll(s.PartitionBy, fn), OrderBy: rewriteOrderings(s.OrderBy, fn)}
	case *Exists:
		return &Exists{Query: RewriteSelect(s.Query, fn)}
	case *In:
		return &In{Operand: Rewrite(s.Operand, fn), Values: rewriteAll(s.Values, fn)}
	case *ScalarSubquery:
		return &ScalarSubquery{Query: RewriteSelect(s.Query, fn)}
	}
	return s
}

// RewriteSelect returns a copy of sel with fn applied to every scalar,
// including nested selects.
func RewriteSelect(sel *Select, fn func(Scalar) (Scalar, bool)) *Select {
	if sel == nil {
		return nil
	}
	out := *sel
	out.Tables = make([]TableSource, len(sel.Tables))
	for i, t := range sel.Tables {
		out.Tables[i] = t
		switch {
		case t.Query != nil:
			out.Tables[i].Query = RewriteSelect(t.Query, fn)
		case t.Set != nil:
			out.Tables[i].Set = &SetOperation{Op: t.Set.Op, Left: RewriteSelect(t.Set.Left, fn), Right: RewriteSelect(t.Set.Right, fn)}
		}
		out.Tables[i].On = Rewrite(t.On, fn)
	}
	out.Projection = make([]Projection, len(sel.Projection))
	for i, p := range sel.Projection {
		out.Projection[i] = Projection{Expr: Rewrite(p.Expr, fn), Alias: p.Alias}
	}
	out.Predicate = Rewrite(sel.Predicate, fn)
	out.GroupBy = rewriteAll(sel.GroupBy, fn)
	out.Having = Rewrite(sel.Having, fn)
	out.Orderings = rewriteOrderings(sel.Orderings, fn)
	out.Limit = Rewrite(sel.Limit, fn)
	out.Offset = Rewrite(sel.Offset, fn)
	return &out
}

func rewriteAll(in []Scalar, fn func(Scalar) (Scalar, bool)) []Scalar {
	if in == nil {
		return nil
	}
	out := make([]Scalar, len(in))
	for i, s := range in {
		out[i] = Rewrite(s, fn)
	}
	return out
}

func rewriteOrderings(in []Ordering, fn func(Scalar) (Scalar, bool)) []Ordering {
	if in == nil {
		return nil
	}
	out := make([]Ordering, len(in))
	for i, o := range in {
		out[i] = Ordering{Expr: Rewrite(o.Expr, fn), Descending: o.Descending}
	}
	return out
}

// FreeColumns returns the column references in sel whose table alias is
// not bound by sel or any select nested in it, in first-seen order with
// duplicates removed. A non-empty result means sel is correlated.
func FreeColumns(sel *Select) []*ColumnRef {
	var out []*ColumnRef
	seen := make(map[[2]string]bool)
	collectFree(sel, nil, func(c *ColumnRef) {
		key := [2]string{c.Table, c.Column}
		if !seen[key] {
			seen[key] = true
			out = append(out, c)
		}
	})
	return out
}

// FreeTables returns the distinct aliases FreeColumns references.
func FreeTables(sel *Select) []string {
	var out []string
	seen := make(map[string]bool)
	for _, c := range FreeColumns(sel) {
		if !seen[c.Table] {
			seen[c.Table] = true
			out = append(out, c.Table)
		}
	}
	return out
}

func collectFree(sel *Select, bound []string, emit func(*ColumnRef)) {
	if sel == nil {
		return
	}
	scope := append([]string(nil), bound...)
	for _, t := range sel.Tables {
		scope = append(scope, t.Alias)
	}
	visit := func(s Scalar) {
		Walk(s, func(n Scalar) bool {
			switch n := n.(type) {
			case *ColumnRef:
				if !slices.Contains(scope, n.Table) {
					emit(n)
				}
			case *Exists:
				collectFree(n.Query, scope, emit)
				return false
			case *ScalarSubquery:
				collectFree(n.Query, scope, emit)
				return false
			}
			return true
		})
	}
	for _, t := range sel.Tables {
		switch {
		case t.Query != nil:
			collectFree(t.Query, bound, emit)
		case t.Set != nil:
			collectFree(t.Set.Left, bound, emit)
			collectFree(t.Set.Right, bound, emit)
		}
		visit(t.On)
	}
	for _, p := range sel.Projection {
		visit(p.Expr)
	}
	visit(sel.Predicate)
	for _, g := range sel.GroupBy {
		visit(g)
	}
	visit(sel.Having)
	for _, o := range sel.Orderings {
		visit(o.Expr)
	}
	visit(sel.Limit)
	visit(sel.Offset)
}

// Parameters returns the names of parameters referenced anywhere in sel,
// in first-seen order.
func Parameters(sel *Select) []string {
	var out []string
	seen := make(map[string]bool)
	WalkSelect(sel, func(s Scalar) bool {
		if p, ok := s.(*Parameter); ok && !seen[p.Name] {
			seen[p.Name] = true
			out = append(out, p.Name)
		}
		return true
	})
	return out
}

// ReferencesTable reports whether s mentions a column of alias.
func ReferencesTable(s Scalar, alias string) bool {
	found := false
	Walk(s, func(n Scalar) bool {
		if c, ok := n.(*ColumnRef); ok && c.Table == alias {
			found = true
		}
		return !found
	})
	return found
}
