package methods

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/navq/internal/ir"
	"github.com/roach88/navq/internal/relational"
)

func TestRegistry_Lookup(t *testing.T) {
	r := Default()

	m, ok := r.Instance(ir.KindString, "Contains", 1)
	require.True(t, ok)
	assert.True(t, m.Translatable())
	assert.Equal(t, "string.Contains/1", m.Key())

	_, ok = r.Instance(ir.KindString, "Contains", 2)
	assert.False(t, ok, "arity is part of the key")

	_, ok = r.Instance(ir.KindString, "IsNullOrEmpty", 1)
	assert.False(t, ok, "static methods are not instance methods")

	abs, ok := r.Static("Math", "Abs", 1)
	require.True(t, ok)
	assert.Equal(t, ir.KindFloat, abs.ResultKind(ir.KindUnknown, []ir.Kind{ir.KindFloat}))

	pad, ok := r.Instance(ir.KindString, "PadLeft", 1)
	require.True(t, ok)
	assert.False(t, pad.Translatable())

	toString, ok := r.Instance(ir.KindBool, "ToString", 0)
	require.True(t, ok)
	assert.False(t, toString.Translatable())
}

func TestRegistry_RegisterRejectsDuplicates(t *testing.T) {
	r := New()
	m := &Method{Type: "string", Name: "Twice", Eval: func(recv any, _ []any) (any, error) { return recv, nil }}
	require.NoError(t, r.Register(m))
	assert.ErrorContains(t, r.Register(m), "already registered")
	assert.ErrorContains(t, r.Register(&Method{Type: "string", Name: "NoEval"}), "no client implementation")
	assert.Equal(t, []string{"string.Twice/0"}, r.Keys())
}

// TestTranslationsAgreeWithClient evaluates each SQL translation with the
// relational evaluator and compares it with the client implementation.
func TestTranslationsAgreeWithClient(t *testing.T) {
	r := Default()
	values := []any{"Marcus' Lancer", "foo", "", nil}
	argsFor := map[string][][]any{
		"Contains":   {{"Lancer"}, {""}, {"x"}},
		"StartsWith": {{"Marcus"}, {""}, {"Lancer"}, {"Marcus' Lancer and more"}},
		"EndsWith":   {{"Lancer"}, {""}, {"foo"}, {"longer than foo"}},
		"ToUpper":    {{}},
		"ToLower":    {{}},
		"Trim":       {{}},
		"Length":     {{}},
		"Replace":    {{"o", "0"}},
		"IndexOf":    {{"L"}, {"zz"}},
	}

	for name, argSets := range argsFor {
		for _, args := range argSets {
			m, ok := r.Instance(ir.KindString, name, len(args))
			require.True(t, ok, name)
			for _, recv := range values {
				want, err := m.Eval(recv, args)
				require.NoError(t, err)

				params := map[string]any{"recv": recv}
				argScalars := make([]relational.Scalar, len(args))
				for i, a := range args {
					argScalars[i] = relational.Const(ir.MustFromNative(a))
				}
				expr := m.Translate(&relational.Parameter{Name: "recv", Kind: ir.KindString, Nullable: true}, argScalars)
				got, err := relational.Eval(expr, relational.Env{Params: params})
				require.NoError(t, err)

				if m.Result == ir.KindBool && got == nil {
					// SQL null in a predicate position is false.
					got = false
				}
				assert.Equal(t, want, got, "%s(%v) on %v", name, args, recv)
			}
		}
	}
}

func TestSubstring(t *testing.T) {
	m, ok := Default().Instance(ir.KindString, "Substring", 2)
	require.True(t, ok)

	got, err := m.Eval("Marcus", []any{int64(1), int64(3)})
	require.NoError(t, err)
	assert.Equal(t, "arc", got)

	sql := m.Translate(relational.Const(ir.IRString("Marcus")), []relational.Scalar{
		relational.Const(ir.IRInt(1)), relational.Const(ir.IRInt(3)),
	})
	v, err := relational.Eval(sql, relational.Env{})
	require.NoError(t, err)
	assert.Equal(t, "arc", v)

	_, err = m.Eval("Marcus", []any{int64(4), int64(5)})
	assert.ErrorContains(t, err, "out of range")
}

func TestStaticMethods(t *testing.T) {
	r := Default()

	isEmpty, ok := r.Static("string", "IsNullOrEmpty", 1)
	require.True(t, ok)
	for _, v := range []any{nil, "", "x"} {
		want, err := isEmpty.Eval(nil, []any{v})
		require.NoError(t, err)
		got, err := relational.Eval(isEmpty.Translate(nil, []relational.Scalar{relational.Const(ir.MustFromNative(v))}), relational.Env{})
		require.NoError(t, err)
		assert.Equal(t, want, got, "IsNullOrEmpty(%v)", v)
	}

	abs, _ := r.Static("Math", "Abs", 1)
	got, err := abs.Eval(nil, []any{int64(-7)})
	require.NoError(t, err)
	assert.Equal(t, int64(7), got)
	_, err = abs.Eval(nil, []any{int64(-9223372036854775808)})
	assert.Error(t, err)

	maxFn, _ := r.Static("Math", "Max", 2)
	got, err = maxFn.Eval(nil, []any{int64(2), 3.5})
	require.NoError(t, err)
	assert.Equal(t, 3.5, got)
	got, err = maxFn.Eval(nil, []any{nil, int64(1)})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestToStringAndHasFlag(t *testing.T) {
	r := Default()
	b, _ := r.Instance(ir.KindBool, "ToString", 0)
	got, err := b.Eval(true, nil)
	require.NoError(t, err)
	assert.Equal(t, "True", got)

	i, _ := r.Instance(ir.KindInt, "ToString", 0)
	sql := i.Translate(relational.Const(ir.IRInt(42)), nil)
	v, err := relational.Eval(sql, relational.Env{})
	require.NoError(t, err)
	assert.Equal(t, "42", v)

	flag, _ := r.Instance(ir.KindInt, "HasFlag", 1)
	got, err = flag.Eval(int64(6), []any{int64(2)})
	require.NoError(t, err)
	assert.Equal(t, true, got)
	got, err = flag.Eval(nil, []any{int64(2)})
	require.NoError(t, err)
	assert.Nil(t, got)
}
