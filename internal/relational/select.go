package relational

import (
	"fmt"
	"reflect"
	"strings"
)

// JoinKind says how a table source joins the sources before it.
type JoinKind int

const (
	JoinFrom JoinKind = iota // first source of a FROM clause
	JoinInner
	JoinLeft
	JoinCross
)

// String returns the SQL keyword for the join.
func (k JoinKind) String() string {
	switch k {
	case JoinInner:
		return "INNER JOIN"
	case JoinLeft:
		return "LEFT JOIN"
	case JoinCross:
		return "CROSS JOIN"
	default:
		return "FROM"
	}
}

// SetOpKind is a SQL set operator.
type SetOpKind string

const (
	SetUnionAll  SetOpKind = "UNION ALL"
	SetUnion     SetOpKind = "UNION"
	SetExcept    SetOpKind = "EXCEPT"
	SetIntersect SetOpKind = "INTERSECT"
)

// SetOperation combines two selects with matching projections. The left
// operand's projection aliases name the result columns.
type SetOperation struct {
	Op    SetOpKind
	Left  *Select
	Right *Select
}

// TableSource is one entry of a FROM clause. Exactly one of Table, Query,
// or Set is set.
type TableSource struct {
	Alias string
	Join  JoinKind
	Table string
	Query *Select
	Set   *SetOperation
	On    Scalar
}

// Columns returns the column names a derived source exposes. Base tables
// return nil.
func (t *TableSource) Columns() []string {
	switch {
	case t.Query != nil:
		return t.Query.ColumnNames()
	case t.Set != nil:
		return t.Set.Left.ColumnNames()
	}
	return nil
}

// Projection is one SELECT list entry.
type Projection struct {
	Expr  Scalar
	Alias string
}

// Ordering is one ORDER BY key.
type Ordering struct {
	Expr       Scalar
	Descending bool
}

// Select is a relational query block.
type Select struct {
	Distinct   bool
	Projection []Projection
	Tables     []TableSource
	Predicate  Scalar
	GroupBy    []Scalar
	Having     Scalar
	Orderings  []Ordering
	Limit      Scalar
	Offset     Scalar
}

// ColumnNames returns the projection aliases in order.
func (s *Select) ColumnNames() []string {
	names := make([]string, len(s.Projection))
	for i, p := range s.Projection {
		names[i] = p.Alias
	}
	return names
}

// Table returns the table source with the given alias, searching only this
// select's FROM clause.
func (s *Select) Table(alias string) (*TableSource, bool) {
	for i := range s.Tables {
		if s.Tables[i].Alias == alias {
			return &s.Tables[i], true
		}
	}
	return nil, false
}

// AddTable appends a table source.
func (s *Select) AddTable(t TableSource) {
	if len(s.Tables) == 0 {
		t.Join = JoinFrom
		t.On = nil
	}
	s.Tables = append(s.Tables, t)
}

// AddPredicate conjoins p onto the WHERE clause.
func (s *Select) AddPredicate(p Scalar) {
	s.Predicate = And(s.Predicate, p)
}

// Project adds expr to the SELECT list and returns its index. An equal
// expression already projected is reused. The alias is made unique by
// suffixing a counter.
func (s *Select) Project(expr Scalar, alias string) int {
	for i, p := range s.Projection {
		if Equal(p.Expr, expr) {
			return i
		}
	}
	s.Projection = append(s.Projection, Projection{Expr: expr, Alias: s.uniqueAlias(alias)})
	return len(s.Projection) - 1
}

// ProjectNew always appends expr, even when an equal expression exists.
func (s *Select) ProjectNew(expr Scalar, alias string) int {
	s.Projection = append(s.Projection, Projection{Expr: expr, Alias: s.uniqueAlias(alias)})
	return len(s.Projection) - 1
}

func (s *Select) uniqueAlias(alias string) string {
	if alias == "" {
		alias = "c"
	}
	taken := make(map[string]bool, len(s.Projection))
	for _, p := range s.Projection {
		taken[strings.ToLower(p.Alias)] = true
	}
	if !taken[strings.ToLower(alias)] {
		return alias
	}
	for i := 0; ; i++ {
		candidate := fmt.Sprintf("%s%d", alias, i)
		if !taken[strings.ToLower(candidate)] {
			return candidate
		}
	}
}

// IsSimple reports whether s can absorb further clauses without changing
// the meaning of the ones it already has: no limit, offset, distinct,
// grouping, or set operation source.
func (s *Select) IsSimple() bool {
	if s.Limit != nil || s.Offset != nil || s.Distinct || len(s.GroupBy) > 0 || s.Having != nil {
		return false
	}
	for _, t := range s.Tables {
		if t.Set != nil {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of s. Scalars are immutable once built and are
// shared; nested selects are copied.
func (s *Select) Clone() *Select {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Projection = append([]Projection(nil), s.Projection...)
	cp.GroupBy = append([]Scalar(nil), s.GroupBy...)
	cp.Orderings = append([]Ordering(nil), s.Orderings...)
	cp.Tables = make([]TableSource, len(s.Tables))
	for i, t := range s.Tables {
		cp.Tables[i] = t
		if t.Query != nil {
			cp.Tables[i].Query = t.Query.Clone()
		}
		if t.Set != nil {
			cp.Tables[i].Set = &SetOperation{Op: t.Set.Op, Left: t.Set.Left.Clone(), Right: t.Set.Right.Clone()}
		}
	}
	return &cp
}

// Equal reports whether two scalars are structurally identical.
func Equal(a, b Scalar) bool {
	return reflect.DeepEqual(a, b)
}
