package correlate

import (
	"fmt"

	"github.com/roach88/navq/internal/ir"
	"github.com/roach88/navq/internal/queryir"
	"github.com/roach88/navq/internal/relational"
)

// Strategy is how a correlated collection is fetched.
type Strategy int

const (
	// Inline joins the decorrelated inner query into the outer one; rows
	// are grouped back into collections by the outer identifier.
	Inline Strategy = iota
	// Batched runs one parameterized inner query per distinct outer
	// correlation tuple.
	Batched
)

func (s Strategy) String() string {
	if s == Batched {
		return "batched"
	}
	return "inline"
}

// Mode is the configured strategy preference.
type Mode string

const (
	ModeAuto    Mode = "auto"
	ModeInline  Mode = "inline"
	ModeBatched Mode = "batched"
)

// ParseMode validates a configured mode. The empty string means auto.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeInline, ModeBatched:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown collection strategy %q (want auto, inline or batched)", s)
}

// Pair is one correlation equality: Inner is over the inner query's
// tables, Outer over the enclosing query's.
type Pair struct {
	Inner relational.Scalar
	Outer relational.Scalar
}

// Plan is the planner's decision for one correlated collection.
type Plan struct {
	Strategy Strategy
	// Pairs and Inner are set for Inline: Inner is the inner query with the
	// correlation conjuncts removed from its predicate.
	Pairs []Pair
	Inner *relational.Select
	// Reason says why Batched was chosen.
	Reason string
}

// Planner chooses between inline and batched fetching.
type Planner struct {
	Mode Mode
}

// Plan inspects inner, a select whose free column references point at the
// enclosing query. Inline is possible when every free reference sits in a
// top-level equality conjunct of the predicate between an inner-only and
// an outer-only side; everything else is batched. ModeInline falls back to
// batched when inlining is not possible.
func (p Planner) Plan(inner *relational.Select) *Plan {
	if p.Mode == ModeBatched {
		return &Plan{Strategy: Batched, Reason: "batched strategy configured"}
	}
	if len(relational.FreeColumns(inner)) == 0 {
		return &Plan{Strategy: Batched, Reason: "uncorrelated"}
	}
	if len(inner.GroupBy) > 0 || inner.Having != nil {
		return &Plan{Strategy: Batched, Reason: "grouped inner query"}
	}
	for _, t := range inner.Tables {
		if t.Set != nil {
			return &Plan{Strategy: Batched, Reason: "set operation inner query"}
		}
	}

	local := make(map[string]bool, len(inner.Tables))
	for _, t := range inner.Tables {
		local[t.Alias] = true
	}

	rest := inner.Clone()
	rest.Predicate = nil
	var pairs []Pair
	for _, conj := range relational.Conjuncts(inner.Predicate) {
		if !referencesOuter(conj, local) {
			rest.AddPredicate(conj)
			continue
		}
		pair, ok := splitEquality(conj, local)
		if !ok {
			return &Plan{Strategy: Batched, Reason: "correlated by a non-equality predicate"}
		}
		pairs = append(pairs, pair)
	}
	if len(relational.FreeColumns(rest)) > 0 {
		return &Plan{Strategy: Batched, Reason: "correlated outside the predicate"}
	}
	return &Plan{Strategy: Inline, Pairs: pairs, Inner: rest}
}

func referencesOuter(s relational.Scalar, local map[string]bool) bool {
	probe := &relational.Select{Predicate: s}
	for alias := range local {
		probe.Tables = append(probe.Tables, relational.TableSource{Alias: alias, Table: alias})
	}
	return len(relational.FreeColumns(probe)) > 0
}

func referencesLocal(s relational.Scalar, local map[string]bool) bool {
	for alias := range local {
		if relational.ReferencesTable(s, alias) {
			return true
		}
	}
	return false
}

func splitEquality(conj relational.Scalar, local map[string]bool) (Pair, bool) {
	b, ok := conj.(*relational.Binary)
	if !ok || b.Op != relational.OpEq {
		return Pair{}, false
	}
	switch {
	case !referencesOuter(b.Left, local) && !referencesLocal(b.Right, local):
		return Pair{Inner: b.Left, Outer: b.Right}, true
	case !referencesOuter(b.Right, local) && !referencesLocal(b.Left, local):
		return Pair{Inner: b.Right, Outer: b.Left}, true
	}
	return Pair{}, false
}

// RequireIdentifier fails with MATERIALIZATION_SHAPE when a sequence that
// must be regrouped or keyed has no identifying columns.
func RequireIdentifier(ident []relational.Scalar, operation string) error {
	if len(ident) == 0 {
		return queryir.MaterializationShape(operation, "the sequence has no identifying key to correlate nested collections with")
	}
	return nil
}

// RowColumn is the alias LowerLimit gives the row number column.
const RowColumn = "row"

// LowerLimit rewrites a limited inner query so the limit applies per outer
// row: the rows are numbered with ROW_NUMBER partitioned by partition and
// ordered by the inner ordering, and the numbered query is wrapped as a
// derived table aliased alias that keeps only the rows inside the
// offset/limit window.
//
// The result projects the same column aliases as inner, in order. Its
// orderings are inner's, re-expressed over the derived table. Every
// ordering expression must be projected by inner.
func LowerLimit(inner *relational.Select, partition []relational.Scalar, alias string) (*relational.Select, error) {
	if inner.Limit == nil && inner.Offset == nil {
		return inner, nil
	}
	if len(inner.Orderings) == 0 {
		return nil, queryir.MaterializationShape("ordered sequence", "Skip/Take inside a nested collection needs an ordering")
	}

	numbered := inner.Clone()
	limit, offset := numbered.Limit, numbered.Offset
	orderings := numbered.Orderings
	numbered.Limit, numbered.Offset, numbered.Orderings = nil, nil, nil
	rowIdx := numbered.ProjectNew(&relational.RowNumber{PartitionBy: partition, OrderBy: orderings}, RowColumn)

	out := &relational.Select{}
	out.AddTable(relational.TableSource{Alias: alias, Query: numbered})
	column := func(i int) *relational.ColumnRef {
		p := numbered.Projection[i]
		return &relational.ColumnRef{
			Table:    alias,
			Column:   p.Alias,
			Kind:     relational.KindOf(p.Expr),
			Nullable: relational.IsNullable(p.Expr),
		}
	}
	for i, p := range inner.Projection {
		out.Projection = append(out.Projection, relational.Projection{Expr: column(i), Alias: p.Alias})
	}
	for _, o := range orderings {
		idx := indexOf(inner.Projection, o.Expr)
		if idx < 0 {
			return nil, queryir.InvalidQuery("ordering of a limited nested collection is not projected")
		}
		out.Orderings = append(out.Orderings, relational.Ordering{Expr: column(idx), Descending: o.Descending})
	}

	row := column(rowIdx)
	if offset != nil {
		out.AddPredicate(&relational.Binary{Op: relational.OpGt, Left: row, Right: offset})
	}
	if limit != nil {
		bound := limit
		if offset != nil {
			bound = add(offset, limit)
		}
		out.AddPredicate(&relational.Binary{Op: relational.OpLe, Left: row, Right: bound})
	}
	return out, nil
}

func indexOf(projection []relational.Projection, expr relational.Scalar) int {
	for i, p := range projection {
		if relational.Equal(p.Expr, expr) {
			return i
		}
	}
	return -1
}

func add(a, b relational.Scalar) relational.Scalar {
	ac, aok := a.(*relational.Constant)
	bc, bok := b.(*relational.Constant)
	if aok && bok {
		x, xok := ac.Value.(ir.IRInt)
		y, yok := bc.Value.(ir.IRInt)
		if xok && yok {
			return relational.Const(x + y)
		}
	}
	return &relational.Binary{Op: relational.OpAdd, Left: a, Right: b}
}

// Binding ties a parameter of a batched inner query to the outer column
// supplying its value.
type Binding struct {
	Param string
	Outer *relational.ColumnRef
}

// Substitution replaces outer column references with parameters for a
// batched inner query.
type Substitution struct {
	Bindings []Binding

	local  map[string]bool
	params map[[2]string]*relational.Parameter
	name   func() string
}

// Parameterize returns sel with every column reference not bound inside it
// replaced by a parameter, and the substitution that did it. name supplies
// fresh parameter names. The substitution can be applied to other scalars
// built over the same scope (the inner query's shape).
func Parameterize(sel *relational.Select, name func() string) (*relational.Select, *Substitution) {
	s := &Substitution{
		local:  make(map[string]bool),
		params: make(map[[2]string]*relational.Parameter),
		name:   name,
	}
	s.collectAliases(sel)
	return relational.RewriteSelect(sel, s.rewrite), s
}

func (s *Substitution) collectAliases(sel *relational.Select) {
	if sel == nil {
		return
	}
	for _, t := range sel.Tables {
		s.local[t.Alias] = true
		switch {
		case t.Query != nil:
			s.collectAliases(t.Query)
		case t.Set != nil:
			s.collectAliases(t.Set.Left)
			s.collectAliases(t.Set.Right)
		}
	}
	relational.WalkSelect(sel, func(n relational.Scalar) bool {
		switch n := n.(type) {
		case *relational.Exists:
			s.collectAliases(n.Query)
		case *relational.ScalarSubquery:
			s.collectAliases(n.Query)
		}
		return true
	})
}

// Apply substitutes parameters for outer column references in x.
func (s *Substitution) Apply(x relational.Scalar) relational.Scalar {
	return relational.Rewrite(x, s.rewrite)
}

func (s *Substitution) rewrite(n relational.Scalar) (relational.Scalar, bool) {
	c, ok := n.(*relational.ColumnRef)
	if !ok || s.local[c.Table] {
		return n, false
	}
	key := [2]string{c.Table, c.Column}
	if p, ok := s.params[key]; ok {
		return p, true
	}
	p := &relational.Parameter{Name: s.name(), Kind: c.Kind, Nullable: c.Nullable}
	s.params[key] = p
	s.Bindings = append(s.Bindings, Binding{Param: p.Name, Outer: c})
	return p, true
}
