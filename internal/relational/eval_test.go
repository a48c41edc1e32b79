package relational

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/navq/internal/ir"
)

func TestEval_ThreeValuedLogic(t *testing.T) {
	tru, fls, unk := True(), False(), Null(ir.KindBool)
	tests := []struct {
		name string
		expr Scalar
		want any
	}{
		{"true and unknown", &Binary{Op: OpAnd, Left: tru, Right: unk}, nil},
		{"false and unknown", &Binary{Op: OpAnd, Left: unk, Right: fls}, false},
		{"true or unknown", &Binary{Op: OpOr, Left: unk, Right: tru}, true},
		{"false or unknown", &Binary{Op: OpOr, Left: fls, Right: unk}, nil},
		{"not unknown", Not(unk), nil},
		{"null equals null", Eq(Null(ir.KindInt), Null(ir.KindInt)), nil},
		{"is null", IsNull(Null(ir.KindInt)), true},
		{"is not null", IsNotNull(Const(ir.IRInt(0))), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Eval(tt.expr, Env{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEval_ColumnsParamsAndFunctions(t *testing.T) {
	env := Env{
		Columns: map[string]any{"g.Nickname": "Marcus", "g.Rank": int64(4), "g.City": nil},
		Params:  map[string]any{"p": "cus"},
	}
	nick := col("g", "Nickname", ir.KindString, false)
	rank := col("g", "Rank", ir.KindInt, false)
	city := col("g", "City", ir.KindString, true)

	tests := []struct {
		name string
		expr Scalar
		want any
	}{
		{"instr", &Func{Name: "INSTR", Args: []Scalar{nick, &Parameter{Name: "p"}}}, int64(4)},
		{"upper", &Func{Name: "UPPER", Args: []Scalar{nick}}, "MARCUS"},
		{"substr", &Func{Name: "SUBSTR", Args: []Scalar{nick, Const(ir.IRInt(2)), Const(ir.IRInt(3))}}, "arc"},
		{"length of null", &Func{Name: "LENGTH", Args: []Scalar{city}}, nil},
		{"coalesce", &Func{Name: "COALESCE", Args: []Scalar{city, Const(ir.IRString("none"))}}, "none"},
		{"integer division", &Binary{Op: OpDiv, Left: rank, Right: Const(ir.IRInt(3))}, int64(1)},
		{"division by zero", &Binary{Op: OpDiv, Left: rank, Right: Const(ir.IRInt(0))}, nil},
		{"mixed compare", &Binary{Op: OpLt, Left: rank, Right: Const(ir.IRFloat(4.5))}, true},
		{"concat", &Binary{Op: OpConcat, Left: nick, Right: rank}, "Marcus4"},
		{"in list", &In{Operand: rank, Values: []Scalar{Const(ir.IRInt(1)), Const(ir.IRInt(4))}}, true},
		{"in list with null", &In{Operand: rank, Values: []Scalar{Null(ir.KindInt), Const(ir.IRInt(2))}}, nil},
		{"case", &Case{Whens: []When{{Cond: IsNull(city), Result: Const(ir.IRString("unknown"))}}, Else: city}, "unknown"},
		{"negate", &Unary{Op: OpNegate, Operand: rank}, int64(-4)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Eval(tt.expr, env)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEval_Errors(t *testing.T) {
	_, err := Eval(col("x", "Missing", ir.KindInt, false), Env{})
	assert.ErrorContains(t, err, "unbound column x.Missing")

	_, err = Eval(&Parameter{Name: "q"}, Env{})
	assert.ErrorContains(t, err, "unbound parameter @q")

	_, err = Eval(&Exists{Query: &Select{}}, Env{})
	assert.ErrorContains(t, err, "cannot evaluate")

	_, err = Eval(Eq(Const(ir.IRString("a")), Const(ir.IRInt(1))), Env{})
	assert.Error(t, err)
}

func TestCompare(t *testing.T) {
	cmp, err := Compare("Baird", "baird")
	require.NoError(t, err)
	assert.Equal(t, -1, cmp, "byte order puts upper case first")

	cmp, err = Compare(false, true)
	require.NoError(t, err)
	assert.Equal(t, -1, cmp)

	cmp, err = Compare(int64(2), 2.0)
	require.NoError(t, err)
	assert.Equal(t, 0, cmp)
}
