package nullsem

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/navq/internal/ir"
	r "github.com/roach88/navq/internal/relational"
)

var (
	nick   = &r.ColumnRef{Table: "g", Column: "Nickname", Kind: ir.KindString}
	squad  = &r.ColumnRef{Table: "g", Column: "SquadId", Kind: ir.KindInt}
	city   = &r.ColumnRef{Table: "g", Column: "AssignedCityName", Kind: ir.KindString, Nullable: true}
	leader = &r.ColumnRef{Table: "g", Column: "LeaderNickname", Kind: ir.KindString, Nullable: true}
)

func TestEqual_NonNullableOperandsUnchanged(t *testing.T) {
	n := New(nil)
	eq := r.Eq(nick, leader)
	assert.Equal(t, eq, n.Predicate(eq), "one nullable side needs no expansion in a predicate")

	both := r.Eq(nick, squad)
	assert.Equal(t, both, n.Value(both))
}

func TestEqual_Expansions(t *testing.T) {
	n := New(nil)

	pred := n.Predicate(r.Eq(city, leader))
	assert.Equal(t, r.Or(r.Eq(city, leader), r.And(r.IsNull(city), r.IsNull(leader))), pred)

	value := n.Value(r.Eq(nick, city))
	assert.Equal(t, r.And(r.Eq(nick, city), r.IsNotNull(city)), value)

	ne := n.Predicate(&r.Binary{Op: r.OpNe, Left: nick, Right: city})
	assert.Equal(t, r.Or(&r.Binary{Op: r.OpNe, Left: nick, Right: city}, r.IsNull(city)), ne)
}

func TestKeyEqual_NullKeysNeverMatch(t *testing.T) {
	n := New(map[string]Nullness{"none": Null})

	key := r.KeyEq(city, leader)
	assert.Equal(t, key, n.Predicate(key), "join keys keep SQL equality")
	assert.Equal(t, r.And(r.KeyEq(city, leader), r.IsNotNull(city), r.IsNotNull(leader)), n.Value(key))
	assert.Equal(t, r.False(), n.Predicate(r.KeyEq(city, &r.Parameter{Name: "none", Kind: ir.KindString})))

	sel := n.Select(&r.Select{Tables: []r.TableSource{
		{Alias: "g", Table: "Gears"},
		{Alias: "c", Table: "Cities", Join: r.JoinLeft, On: key},
	}})
	assert.Equal(t, key, sel.Tables[1].On)
}

func TestNullLiteralsAndParameters(t *testing.T) {
	n := New(map[string]Nullness{"none": Null, "some": NonNull})

	assert.Equal(t, r.IsNull(city), n.Predicate(r.Eq(city, r.Null(ir.KindString))))
	assert.Equal(t, r.IsNotNull(city), n.Predicate(&r.Binary{Op: r.OpNe, Left: r.Null(ir.KindString), Right: city}))
	assert.Equal(t, r.False(), n.Predicate(r.Eq(nick, r.Null(ir.KindString))), "non-nullable column is never null")

	none := &r.Parameter{Name: "none", Kind: ir.KindString}
	assert.Equal(t, r.IsNull(city), n.Predicate(r.Eq(city, none)))

	some := &r.Parameter{Name: "some", Kind: ir.KindString}
	got := n.Value(r.Eq(nick, some))
	assert.Equal(t, r.Eq(nick, &r.Parameter{Name: "some", Kind: ir.KindString}), got)

	unknown := &r.Parameter{Name: "other", Kind: ir.KindString}
	sel := n.Select(&r.Select{Predicate: r.Eq(city, unknown)})
	assert.Equal(t, []string{"other"}, r.Parameters(sel))
	assert.Empty(t, r.Parameters(n.Select(&r.Select{Predicate: r.Eq(city, none)})))
}

func TestNot_PushesThroughEquality(t *testing.T) {
	n := New(nil)

	got := n.Predicate(r.Not(r.Eq(nick, city)))
	assert.Equal(t, r.Or(&r.Binary{Op: r.OpNe, Left: nick, Right: city}, r.IsNull(city)), got)

	assert.Equal(t, r.IsNotNull(city), n.Predicate(r.Not(r.IsNull(city))))
	assert.Equal(t, r.Eq(nick, squad), n.Predicate(r.Not(r.Not(r.Eq(nick, squad)))))
}

func TestCollapseNullGuard(t *testing.T) {
	n := New(nil)
	n.Identify("t", "Id")
	tagID := &r.ColumnRef{Table: "t", Column: "Id", Kind: ir.KindString, Nullable: true}
	note := &r.ColumnRef{Table: "t", Column: "Note", Kind: ir.KindString, Nullable: true}

	guarded := &r.Case{
		Whens: []r.When{{Cond: r.IsNull(tagID), Result: r.Null(ir.KindString)}},
		Else:  &r.Func{Name: "UPPER", Args: []r.Scalar{note}, Kind: ir.KindString},
	}
	assert.Equal(t, guarded.Else, n.Value(guarded))

	// Without identity information only the guarded column itself
	// propagates.
	plain := New(nil)
	assert.Equal(t, guarded, plain.Value(guarded))

	self := &r.Case{
		Whens: []r.When{{Cond: r.IsNull(note), Result: r.Null(ir.KindString)}},
		Else:  note,
	}
	assert.Equal(t, note, plain.Value(self))

	// COALESCE does not propagate null.
	coalesced := &r.Case{
		Whens: []r.When{{Cond: r.IsNull(tagID), Result: r.Null(ir.KindString)}},
		Else:  &r.Func{Name: "COALESCE", Args: []r.Scalar{note, r.Const(ir.IRString(""))}, Kind: ir.KindString},
	}
	assert.IsType(t, &r.Case{}, n.Value(coalesced))
}

func TestSelect_NormalizesEveryClause(t *testing.T) {
	n := New(nil)
	sel := &r.Select{
		Tables: []r.TableSource{
			{Alias: "g", Table: "Gears"},
			{Alias: "c", Join: r.JoinLeft, Table: "Cities", On: r.Eq(city, leader)},
		},
		Projection: []r.Projection{{Expr: r.Eq(city, leader), Alias: "Same"}},
		Predicate:  r.Eq(nick, r.Null(ir.KindString)),
		Orderings:  []r.Ordering{{Expr: r.Eq(nick, city)}},
	}
	out := n.Select(sel)

	assert.Equal(t, r.Or(r.Eq(city, leader), r.And(r.IsNull(city), r.IsNull(leader))), out.Tables[1].On)
	assert.Equal(t, r.False(), out.Predicate)
	assert.Equal(t, r.Eq(city, leader), sel.Projection[0].Expr, "input untouched")
	assert.IsType(t, &r.Binary{}, out.Orderings[0].Expr)

	trivially := n.Select(&r.Select{Predicate: r.Eq(r.Null(ir.KindInt), r.Null(ir.KindInt))})
	assert.Nil(t, trivially.Predicate, "a TRUE predicate is dropped")
}

// csEval evaluates with the query language's semantics: == and != treat
// null as a value, relational operators are false on null, and logical
// operators follow Kleene logic.
func csEval(t *testing.T, s r.Scalar, env r.Env) any {
	t.Helper()
	switch s := s.(type) {
	case *r.Binary:
		l, rt := csEval(t, s.Left, env), csEval(t, s.Right, env)
		switch s.Op {
		case r.OpEq, r.OpNe:
			eq := l == nil && rt == nil
			if l != nil && rt != nil {
				cmp, err := r.Compare(l, rt)
				require.NoError(t, err)
				eq = cmp == 0
			}
			if s.Op == r.OpNe {
				return !eq
			}
			return eq
		case r.OpLt, r.OpLe, r.OpGt, r.OpGe:
			if l == nil || rt == nil {
				return false
			}
		}
		v, err := r.Eval(&r.Binary{Op: s.Op, Left: lit(l), Right: lit(rt)}, r.Env{})
		require.NoError(t, err)
		return v
	case *r.Unary:
		v := csEval(t, s.Operand, env)
		if s.Op == r.OpNot {
			if v == nil {
				return nil
			}
			return !v.(bool)
		}
		out, err := r.Eval(&r.Unary{Op: s.Op, Operand: lit(v)}, r.Env{})
		require.NoError(t, err)
		return out
	case *r.Case:
		for _, w := range s.Whens {
			if csEval(t, w.Cond, env) == true {
				return csEval(t, w.Result, env)
			}
		}
		if s.Else == nil {
			return nil
		}
		return csEval(t, s.Else, env)
	}
	v, err := r.Eval(s, env)
	require.NoError(t, err)
	return v
}

func lit(v any) r.Scalar {
	return r.Const(ir.MustFromNative(v))
}

// TestNormalizedEvaluationMatchesSourceSemantics checks every expression
// over every null/non-null combination in both contexts.
func TestNormalizedEvaluationMatchesSourceSemantics(t *testing.T) {
	a := &r.ColumnRef{Table: "x", Column: "A", Kind: ir.KindInt, Nullable: true}
	b := &r.ColumnRef{Table: "x", Column: "B", Kind: ir.KindInt, Nullable: true}
	c := &r.ColumnRef{Table: "x", Column: "C", Kind: ir.KindInt}
	p := &r.Parameter{Name: "p", Kind: ir.KindInt}
	bin := func(op r.BinaryOp, l, rt r.Scalar) r.Scalar { return &r.Binary{Op: op, Left: l, Right: rt} }

	exprs := []r.Scalar{
		r.Eq(a, b),
		r.Eq(a, c),
		bin(r.OpNe, a, b),
		bin(r.OpNe, c, b),
		bin(r.OpLt, a, b),
		bin(r.OpGe, a, c),
		r.Not(r.Eq(a, b)),
		r.Not(bin(r.OpNe, a, c)),
		r.Not(bin(r.OpLt, a, b)),
		r.Not(bin(r.OpAnd, r.Eq(a, c), bin(r.OpNe, b, c))),
		bin(r.OpOr, r.Not(r.Eq(a, b)), bin(r.OpGt, b, c)),
		bin(r.OpAnd, r.Eq(a, p), r.Not(r.Eq(b, p))),
		r.Eq(r.Eq(a, b), r.Eq(b, c)),
		r.Eq(bin(r.OpAdd, a, c), b),
		&r.Case{Whens: []r.When{{Cond: bin(r.OpLt, a, c), Result: r.Eq(b, c)}}, Else: bin(r.OpNe, a, b)},
	}

	values := []any{nil, int64(1), int64(2)}
	for i, expr := range exprs {
		for _, pNull := range []Nullness{Unknown, NonNull, Null} {
			for _, av := range values {
				for _, bv := range values {
					for _, pv := range values {
						if (pNull == Null) != (pv == nil) && pNull != Unknown {
							continue
						}
						env := r.Env{
							Columns: map[string]any{"x.A": av, "x.B": bv, "x.C": int64(1)},
							Params:  map[string]any{"p": pv},
						}
						name := fmt.Sprintf("expr%d/%s/A=%v,B=%v,p=%v", i, pNull, av, bv, pv)
						want := csEval(t, expr, env)
						n := New(map[string]Nullness{"p": pNull})

						value, err := r.Eval(n.Value(expr), env)
						require.NoError(t, err, name)
						assert.Equal(t, want, value, "value: %s", name)

						pred, err := r.Eval(n.Predicate(expr), env)
						require.NoError(t, err, name)
						assert.Equal(t, want == true, pred == true, "predicate: %s", name)
					}
				}
			}
		}
	}
}
