package grouping

import (
	"fmt"

	"github.com/roach88/navq/internal/ir"
	"github.com/roach88/navq/internal/queryir"
	"github.com/roach88/navq/internal/relational"
)

// State is the translation state of one GroupBy clause.
type State int

const (
	// Proposed is the initial state: nothing has used the grouping yet.
	Proposed State = iota
	// Pushed means every use so far is a relational aggregate over the
	// group, computed with GROUP BY.
	Pushed
	// ClientFallback means some use needs the group's elements; they are
	// fetched per key with a correlated query and the use is computed on
	// the client. Aggregates stay pushed.
	ClientFallback
	// Rejected means some use has no column-level reduction.
	Rejected
)

func (s State) String() string {
	switch s {
	case Proposed:
		return "proposed"
	case Pushed:
		return "pushed"
	case ClientFallback:
		return "client-fallback"
	case Rejected:
		return "rejected"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Clause tracks one GroupBy through translation. Keys are the lowered key
// columns: a composite or entity key contributes one column per component.
type Clause struct {
	Keys []relational.Scalar

	state  State
	reason string
}

// NewClause returns a Proposed clause over keys.
func NewClause(keys []relational.Scalar) *Clause {
	return &Clause{Keys: keys}
}

// State returns the current state.
func (c *Clause) State() State { return c.state }

// Reason explains a ClientFallback or Rejected state.
func (c *Clause) Reason() string { return c.reason }

// Push records a relational aggregate. A clause that already fell back to
// the client stays there; aggregates are still computed relationally.
func (c *Clause) Push() error {
	switch c.state {
	case Proposed:
		c.state = Pushed
	case Rejected:
		return queryir.GroupingRejected("%s", c.reason)
	}
	return nil
}

// Fallback records a use that needs the group's elements.
func (c *Clause) Fallback(reason string) error {
	switch c.state {
	case Proposed, Pushed:
		c.state, c.reason = ClientFallback, reason
	case Rejected:
		return queryir.GroupingRejected("%s", c.reason)
	}
	return nil
}

// Reject moves the clause to Rejected and returns the error to report.
func (c *Clause) Reject(format string, args ...any) error {
	if c.state != Rejected {
		c.state, c.reason = Rejected, fmt.Sprintf(format, args...)
	}
	return queryir.GroupingRejected("%s", c.reason)
}

// Aggregate is one aggregate over the elements of a group (or of a whole
// sequence). Arg is nil for Count. Filter, when set, restricts the
// elements that take part; Distinct aggregates distinct values of Arg.
type Aggregate struct {
	Op       queryir.TerminalOp
	Arg      relational.Scalar
	Filter   relational.Scalar
	Distinct bool
}

// Translate lowers an aggregate to a relational aggregate function.
// Filters become CASE expressions inside the aggregate so several
// differently filtered aggregates can share one GROUP BY.
func Translate(a Aggregate) (relational.Scalar, error) {
	switch a.Op {
	case queryir.OpCount, queryir.OpLongCount:
		arg := a.Arg
		if arg == nil && a.Filter != nil {
			arg = relational.Const(ir.IRInt(1))
		}
		if arg == nil && a.Distinct {
			return nil, queryir.GroupingRejected("distinct count needs a selected value")
		}
		count := &relational.Aggregate{Func: relational.AggCount, Arg: filtered(arg, a.Filter), Distinct: a.Distinct}
		if a.Distinct && relational.IsNullable(arg) {
			return countNullOnce(count, arg, a.Filter), nil
		}
		return count, nil

	case queryir.OpSum:
		if a.Arg == nil {
			return nil, queryir.GroupingRejected("Sum needs a selected value")
		}
		return SumOfEmpty(&relational.Aggregate{Func: relational.AggSum, Arg: filtered(a.Arg, a.Filter), Distinct: a.Distinct}), nil

	case queryir.OpAverage, queryir.OpMin, queryir.OpMax:
		if a.Arg == nil {
			return nil, queryir.GroupingRejected("%s needs a selected value", a.Op)
		}
		fn := map[queryir.TerminalOp]relational.AggFunc{
			queryir.OpAverage: relational.AggAvg,
			queryir.OpMin:     relational.AggMin,
			queryir.OpMax:     relational.AggMax,
		}[a.Op]
		return &relational.Aggregate{Func: fn, Arg: filtered(a.Arg, a.Filter), Distinct: a.Distinct}, nil
	}
	return nil, queryir.GroupingRejected("%s is not a relational aggregate", a.Op)
}

// countNullOnce adds one to a distinct count when a null value took part:
// COUNT(DISTINCT ...) skips nulls, but a distinct null is a value.
func countNullOnce(count *relational.Aggregate, arg, filter relational.Scalar) relational.Scalar {
	sawNull := &relational.Aggregate{Func: relational.AggMax, Arg: &relational.Case{
		Whens: []relational.When{{Cond: relational.And(filter, relational.IsNull(arg)), Result: relational.Const(ir.IRInt(1))}},
		Else:  relational.Const(ir.IRInt(0)),
	}}
	return &relational.Binary{
		Op:   relational.OpAdd,
		Left: count,
		Right: &relational.Func{
			Name: "COALESCE",
			Args: []relational.Scalar{sawNull, relational.Const(ir.IRInt(0))},
			Kind: ir.KindInt,
		},
	}
}

func filtered(arg, filter relational.Scalar) relational.Scalar {
	if filter == nil || arg == nil {
		return arg
	}
	return &relational.Case{Whens: []relational.When{{Cond: filter, Result: arg}}}
}

// SumOfEmpty wraps a SUM so that an empty or all-null input sums to zero of
// the argument's kind, as the source language does.
func SumOfEmpty(sum *relational.Aggregate) relational.Scalar {
	kind := relational.KindOf(sum.Arg)
	var zero ir.IRValue = ir.IRInt(0)
	if kind == ir.KindFloat {
		zero = ir.IRFloat(0)
	}
	return &relational.Func{
		Name: "COALESCE",
		Args: []relational.Scalar{sum, relational.Const(zero)},
		Kind: kind,
	}
}

// KeyEqual builds the equality of two key tuples as a conjunction of
// component equalities. The comparison carries source semantics; the null
// normalizer later makes a null component equal to a null component.
func KeyEqual(a, b []relational.Scalar) (relational.Scalar, error) {
	if len(a) != len(b) {
		return nil, queryir.InvalidQuery("grouping keys of different arity: %d and %d", len(a), len(b))
	}
	parts := make([]relational.Scalar, len(a))
	for i := range a {
		parts[i] = relational.Eq(a[i], b[i])
	}
	if len(parts) == 0 {
		return relational.True(), nil
	}
	return relational.And(parts...), nil
}

// KeysEqual compares two runtime key tuples the way KeyEqual compares them
// relationally: null equals null.
func KeysEqual(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] == nil || b[i] == nil {
			if a[i] != b[i] {
				return false
			}
			continue
		}
		cmp, err := relational.Compare(a[i], b[i])
		if err != nil || cmp != 0 {
			return false
		}
	}
	return true
}
