package queryir

// Node is a query operator producing a sequence (or, for Terminal, the
// materialized result of one).
//
// This is a sealed interface - only types in this package implement it.
type Node interface {
	queryNode() // Marker method - seals interface to this package
}

// Lambda is a function literal passed to a query operator.
//
// Params bind the current element(s); Body may also reference parameters of
// enclosing lambdas, which is how correlated subqueries are written.
type Lambda struct {
	Params []string
	Body   Expr
}

// Source is the root of a sequence: either an entity set (Set<Gear>()) or
// a collection-valued expression such as a collection navigation
// (g.Weapons). Exactly one of Entity and Collection is set.
type Source struct {
	Entity     string
	Collection Expr
}

// Filter keeps the elements for which Predicate is true.
type Filter struct {
	Input     Node
	Predicate *Lambda
}

// Project maps every element through Selector.
type Project struct {
	Input    Node
	Selector *Lambda
}

// JoinKind distinguishes inner and left joins.
type JoinKind int

const (
	JoinInner JoinKind = iota
	JoinLeft
)

func (k JoinKind) String() string {
	if k == JoinLeft {
		return "LeftJoin"
	}
	return "Join"
}

// Join correlates Outer and Inner by key equality and maps each matching
// pair through Result (two parameters: outer, inner). For JoinLeft the inner
// element is null when nothing matches.
type Join struct {
	Kind     JoinKind
	Outer    Node
	Inner    Node
	OuterKey *Lambda
	InnerKey *Lambda
	Result   *Lambda
}

// GroupJoin pairs each outer element with the (possibly empty) sequence of
// inner elements whose key matches. Result receives (outer, group).
type GroupJoin struct {
	Outer    Node
	Inner    Node
	OuterKey *Lambda
	InnerKey *Lambda
	Result   *Lambda
}

// SelectMany flattens the sequence produced by Collection for every input
// element. Result, when present, receives (element, inner).
type SelectMany struct {
	Input      Node
	Collection *Lambda
	Result     *Lambda
}

// SortKey is one OrderBy/ThenBy component.
type SortKey struct {
	Key        *Lambda
	Descending bool
}

// OrderBy sorts the input by Keys, first key most significant. ThenBy
// extends the key list of the OrderBy it follows; a new OrderBy replaces
// any earlier ordering.
type OrderBy struct {
	Input Node
	Keys  []SortKey
}

// GroupBy partitions the input by Key. Element optionally maps the grouped
// elements; Result optionally maps (key, group) to the output element.
// Without Result the output elements are groupings.
type GroupBy struct {
	Input   Node
	Key     *Lambda
	Element *Lambda
	Result  *Lambda
}

// SetOp names a set combination.
type SetOp string

const (
	SetConcat    SetOp = "Concat"
	SetUnion     SetOp = "Union"
	SetExcept    SetOp = "Except"
	SetIntersect SetOp = "Intersect"
)

// SetCombine combines two sequences of compatible shape.
type SetCombine struct {
	Op    SetOp
	Left  Node
	Right Node
}

// TypeFilter keeps elements of entity type Type (OfType<T>).
type TypeFilter struct {
	Input Node
	Type  string
}

// Take keeps the first Count elements. Count is an int constant or a query
// parameter.
type Take struct {
	Input Node
	Count Expr
}

// Skip drops the first Count elements.
type Skip struct {
	Input Node
	Count Expr
}

// Distinct removes duplicate elements.
type Distinct struct {
	Input Node
}

// DefaultIfEmpty yields a single null element when the input is empty.
type DefaultIfEmpty struct {
	Input Node
}

// Include is an eager-load directive. Path is resolved against the element
// type of Input; ThenInclude chains produce an Include whose Path extends
// the previous one.
type Include struct {
	Input Node
	Path  []IncludeSegment
}

// IncludeSegment is one navigation step of an include path. Type is set
// when the step was written through a cast to a derived type
// ((g as Officer).Reports).
type IncludeSegment struct {
	Name   string
	Type   string
	Filter *IncludeFilter
}

// IncludeFilter restricts and orders a collection include:
// Include(g => g.Weapons.Where(...).OrderBy(...).Skip(n).Take(m)).
type IncludeFilter struct {
	Where *Lambda
	Keys  []SortKey
	Skip  Expr
	Take  Expr
}

// TerminalOp names a materializer.
type TerminalOp string

const (
	OpToList             TerminalOp = "ToList"
	OpFirst              TerminalOp = "First"
	OpFirstOrDefault     TerminalOp = "FirstOrDefault"
	OpSingle             TerminalOp = "Single"
	OpSingleOrDefault    TerminalOp = "SingleOrDefault"
	OpCount              TerminalOp = "Count"
	OpLongCount          TerminalOp = "LongCount"
	OpSum                TerminalOp = "Sum"
	OpAverage            TerminalOp = "Average"
	OpMin                TerminalOp = "Min"
	OpMax                TerminalOp = "Max"
	OpAny                TerminalOp = "Any"
	OpAll                TerminalOp = "All"
	OpElementAt          TerminalOp = "ElementAt"
	OpElementAtOrDefault TerminalOp = "ElementAtOrDefault"
)

// IsAggregate reports whether op reduces the sequence to one scalar.
func (op TerminalOp) IsAggregate() bool {
	switch op {
	case OpCount, OpLongCount, OpSum, OpAverage, OpMin, OpMax, OpAny, OpAll:
		return true
	}
	return false
}

// IsElement reports whether op yields a single element of the sequence.
func (op TerminalOp) IsElement() bool {
	switch op {
	case OpFirst, OpFirstOrDefault, OpSingle, OpSingleOrDefault, OpElementAt, OpElementAtOrDefault:
		return true
	}
	return false
}

// OrDefault reports whether op yields null instead of failing on an empty
// sequence.
func (op TerminalOp) OrDefault() bool {
	switch op {
	case OpFirstOrDefault, OpSingleOrDefault, OpElementAtOrDefault:
		return true
	}
	return false
}

// Terminal materializes its input. Selector is the aggregate selector for
// Sum/Average/Min/Max and the predicate for All. Index is the position for
// ElementAt(OrDefault).
//
// Predicates given to First, Count, Any and friends are folded into a
// Filter below the Terminal by the parser.
type Terminal struct {
	Input    Node
	Op       TerminalOp
	Selector *Lambda
	Index    Expr
}

func (*Source) queryNode()         {}
func (*Filter) queryNode()         {}
func (*Project) queryNode()        {}
func (*Join) queryNode()           {}
func (*GroupJoin) queryNode()      {}
func (*SelectMany) queryNode()     {}
func (*OrderBy) queryNode()        {}
func (*GroupBy) queryNode()        {}
func (*SetCombine) queryNode()     {}
func (*TypeFilter) queryNode()     {}
func (*Take) queryNode()           {}
func (*Skip) queryNode()           {}
func (*Distinct) queryNode()       {}
func (*DefaultIfEmpty) queryNode() {}
func (*Include) queryNode()        {}
func (*Terminal) queryNode()       {}

// InputOf returns the primary input of n, or nil for sources. For binary
// nodes (Join, GroupJoin, SetCombine) it returns the outer/left input.
func InputOf(n Node) Node {
	switch n := n.(type) {
	case *Filter:
		return n.Input
	case *Project:
		return n.Input
	case *Join:
		return n.Outer
	case *GroupJoin:
		return n.Outer
	case *SelectMany:
		return n.Input
	case *OrderBy:
		return n.Input
	case *GroupBy:
		return n.Input
	case *SetCombine:
		return n.Left
	case *TypeFilter:
		return n.Input
	case *Take:
		return n.Input
	case *Skip:
		return n.Input
	case *Distinct:
		return n.Input
	case *DefaultIfEmpty:
		return n.Input
	case *Include:
		return n.Input
	case *Terminal:
		return n.Input
	}
	return nil
}
