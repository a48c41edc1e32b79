package querysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/navq/internal/ir"
	r "github.com/roach88/navq/internal/relational"
)

func col(table, column string, kind ir.Kind) *r.ColumnRef {
	return &r.ColumnRef{Table: table, Column: column, Kind: kind}
}

func gears() *r.Select {
	sel := &r.Select{}
	sel.AddTable(r.TableSource{Alias: "g", Table: "Gears"})
	sel.Project(col("g", "Nickname", ir.KindString), "Nickname")
	return sel
}

func TestEmit_SimpleSelect(t *testing.T) {
	sel := gears()
	sel.Project(col("g", "Rank", ir.KindInt), "GearRank")
	sel.AddPredicate(&r.Binary{Op: r.OpGt, Left: col("g", "Rank", ir.KindInt), Right: &r.Parameter{Name: "rank", Kind: ir.KindInt}})
	sel.Orderings = []r.Ordering{{Expr: col("g", "Nickname", ir.KindString), Descending: true}}

	sql, params, err := Emit(sel)
	require.NoError(t, err)
	assert.Equal(t, `SELECT "g"."Nickname", "g"."Rank" AS "GearRank" FROM "Gears" AS "g" WHERE "g"."Rank" > @rank ORDER BY "g"."Nickname" DESC`, sql)
	assert.Equal(t, []string{"rank"}, params)
}

func TestEmit_ParametersAreUniqueInFirstSeenOrder(t *testing.T) {
	sel := gears()
	a := &r.Parameter{Name: "a", Kind: ir.KindString}
	b := &r.Parameter{Name: "b", Kind: ir.KindString}
	nick := col("g", "Nickname", ir.KindString)
	sel.AddPredicate(r.Or(r.Eq(nick, b), r.Eq(nick, a), r.Eq(nick, b)))

	_, params, err := Emit(sel)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, params)
}

func TestEmit_Literals(t *testing.T) {
	tests := []struct {
		value ir.IRValue
		want  string
	}{
		{ir.IRNull{}, "NULL"},
		{ir.IRString("O'Neil"), "'O''Neil'"},
		{ir.IRInt(-3), "-3"},
		{ir.IRFloat(0), "0.0"},
		{ir.IRFloat(2.5), "2.5"},
		{ir.IRBool(true), "1"},
		{ir.IRBool(false), "0"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			sel := &r.Select{Projection: []r.Projection{{Expr: r.Const(tt.value), Alias: "v"}}}
			sql, _, err := Emit(sel)
			require.NoError(t, err)
			assert.Equal(t, "SELECT "+tt.want+` AS "v"`, sql)
		})
	}
}

func TestEmit_Joins(t *testing.T) {
	sel := &r.Select{}
	sel.AddTable(r.TableSource{Alias: "w", Table: "Weapons"})
	sel.AddTable(r.TableSource{
		Alias: "g", Table: "Gears", Join: r.JoinLeft,
		On: r.Eq(col("w", "OwnerFullName", ir.KindString), col("g", "FullName", ir.KindString)),
	})
	sel.AddTable(r.TableSource{Alias: "s", Table: "Squads", Join: r.JoinCross})
	sel.AddTable(r.TableSource{Alias: "c", Table: "Cities", Join: r.JoinLeft})
	sel.Project(col("w", "Id", ir.KindInt), "Id")

	sql, _, err := Emit(sel)
	require.NoError(t, err)
	assert.Equal(t, `SELECT "w"."Id" FROM "Weapons" AS "w" LEFT JOIN "Gears" AS "g" ON "w"."OwnerFullName" = "g"."FullName" CROSS JOIN "Squads" AS "s" LEFT JOIN "Cities" AS "c" ON 1`, sql)
}

func TestEmit_Precedence(t *testing.T) {
	a := col("t", "a", ir.KindInt)
	b := col("t", "b", ir.KindInt)
	c := col("t", "c", ir.KindInt)
	one := r.Const(ir.IRInt(1))
	tests := []struct {
		name string
		expr r.Scalar
		want string
	}{
		{"or inside and", r.And(r.Or(r.Eq(a, one), r.Eq(b, one)), r.Eq(c, one)),
			`("t"."a" = 1 OR "t"."b" = 1) AND "t"."c" = 1`},
		{"and chain", r.And(r.Eq(a, one), r.Eq(b, one), r.Eq(c, one)),
			`"t"."a" = 1 AND "t"."b" = 1 AND "t"."c" = 1`},
		{"right nested subtraction", &r.Binary{Op: r.OpSub, Left: a, Right: &r.Binary{Op: r.OpSub, Left: b, Right: c}},
			`"t"."a" - ("t"."b" - "t"."c")`},
		{"left nested subtraction", &r.Binary{Op: r.OpSub, Left: &r.Binary{Op: r.OpSub, Left: a, Right: b}, Right: c},
			`"t"."a" - "t"."b" - "t"."c"`},
		{"sum times", &r.Binary{Op: r.OpMul, Left: &r.Binary{Op: r.OpAdd, Left: a, Right: b}, Right: c},
			`("t"."a" + "t"."b") * "t"."c"`},
		{"not of and", r.Not(r.And(r.Eq(a, one), r.Eq(b, one))),
			`NOT ("t"."a" = 1 AND "t"."b" = 1)`},
		{"not of equality", r.Not(r.Eq(a, one)), `NOT "t"."a" = 1`},
		{"is null of sum", r.IsNull(&r.Binary{Op: r.OpAdd, Left: a, Right: b}), `"t"."a" + "t"."b" IS NULL`},
		{"negate", &r.Unary{Op: r.OpNegate, Operand: &r.Binary{Op: r.OpAdd, Left: a, Right: b}}, `-("t"."a" + "t"."b")`},
		{"in", &r.In{Operand: a, Values: []r.Scalar{one, r.Const(ir.IRInt(2))}}, `"t"."a" IN (1, 2)`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &sqlCompiler{seen: map[string]bool{}}
			require.NoError(t, c.compileScalar(tt.expr))
			assert.Equal(t, tt.want, c.b.String())
		})
	}
}

func TestEmit_Expressions(t *testing.T) {
	rank := col("g", "Rank", ir.KindInt)
	tests := []struct {
		name string
		expr r.Scalar
		want string
	}{
		{"case", &r.Case{Whens: []r.When{{Cond: r.Eq(rank, r.Const(ir.IRInt(1))), Result: r.Const(ir.IRString("one"))}}, Else: r.Null(ir.KindString)},
			`CASE WHEN "g"."Rank" = 1 THEN 'one' ELSE NULL END`},
		{"cast to text", &r.Func{Name: "CAST", Args: []r.Scalar{rank}, Kind: ir.KindString}, `CAST("g"."Rank" AS TEXT)`},
		{"cast to real", &r.Func{Name: "CAST", Args: []r.Scalar{rank}, Kind: ir.KindFloat}, `CAST("g"."Rank" AS REAL)`},
		{"function", &r.Func{Name: "COALESCE", Args: []r.Scalar{rank, r.Const(ir.IRInt(0))}}, `COALESCE("g"."Rank", 0)`},
		{"count star", &r.Aggregate{Func: r.AggCount}, `COUNT(*)`},
		{"count distinct", &r.Aggregate{Func: r.AggCount, Arg: rank, Distinct: true}, `COUNT(DISTINCT "g"."Rank")`},
		{"row number", &r.RowNumber{
			PartitionBy: []r.Scalar{col("w", "OwnerFullName", ir.KindString)},
			OrderBy:     []r.Ordering{{Expr: col("w", "Id", ir.KindInt), Descending: true}},
		}, `ROW_NUMBER() OVER(PARTITION BY "w"."OwnerFullName" ORDER BY "w"."Id" DESC)`},
		{"exists", &r.Exists{Query: gears()}, `EXISTS (SELECT "g"."Nickname" FROM "Gears" AS "g")`},
		{"scalar subquery", &r.ScalarSubquery{Query: gears()}, `(SELECT "g"."Nickname" FROM "Gears" AS "g")`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &sqlCompiler{seen: map[string]bool{}}
			require.NoError(t, c.compileScalar(tt.expr))
			assert.Equal(t, tt.want, c.b.String())
		})
	}
}

func TestEmit_DerivedTableAndPaging(t *testing.T) {
	inner := gears()
	inner.Distinct = true
	inner.Limit = r.Const(ir.IRInt(5))

	outer := &r.Select{}
	outer.AddTable(r.TableSource{Alias: "t", Query: inner})
	outer.Project(col("t", "Nickname", ir.KindString), "Nickname")
	outer.Offset = r.Const(ir.IRInt(2))

	sql, _, err := Emit(outer)
	require.NoError(t, err)
	assert.Equal(t, `SELECT "t"."Nickname" FROM (SELECT DISTINCT "g"."Nickname" FROM "Gears" AS "g" LIMIT 5) AS "t" LIMIT -1 OFFSET 2`, sql)
}

func TestEmit_GroupByHaving(t *testing.T) {
	sel := &r.Select{}
	sel.AddTable(r.TableSource{Alias: "g", Table: "Gears"})
	squad := col("g", "SquadId", ir.KindInt)
	sel.Project(squad, "SquadId")
	sel.Project(&r.Aggregate{Func: r.AggCount}, "Count")
	sel.GroupBy = []r.Scalar{squad}
	sel.Having = &r.Binary{Op: r.OpGt, Left: &r.Aggregate{Func: r.AggCount}, Right: r.Const(ir.IRInt(1))}

	sql, _, err := Emit(sel)
	require.NoError(t, err)
	assert.Equal(t, `SELECT "g"."SquadId", COUNT(*) AS "Count" FROM "Gears" AS "g" GROUP BY "g"."SquadId" HAVING COUNT(*) > 1`, sql)
}

func TestEmit_SetOperationWrapsOrderedOperands(t *testing.T) {
	left := gears()
	right := gears()
	right.Orderings = []r.Ordering{{Expr: col("g", "Nickname", ir.KindString)}}
	right.Limit = r.Const(ir.IRInt(1))

	sel := &r.Select{}
	sel.AddTable(r.TableSource{Alias: "u", Set: &r.SetOperation{Op: r.SetUnion, Left: left, Right: right}})
	sel.Project(col("u", "Nickname", ir.KindString), "Nickname")

	sql, _, err := Emit(sel)
	require.NoError(t, err)
	assert.Equal(t, `SELECT "u"."Nickname" FROM (SELECT "g"."Nickname" FROM "Gears" AS "g" UNION SELECT * FROM (SELECT "g"."Nickname" FROM "Gears" AS "g" ORDER BY "g"."Nickname" LIMIT 1)) AS "u"`, sql)
}

func TestEmit_EmptyProjectionAndQuoting(t *testing.T) {
	sel := &r.Select{}
	sel.AddTable(r.TableSource{Alias: `we"ird`, Table: "Gears"})

	sql, _, err := Emit(sel)
	require.NoError(t, err)
	assert.Equal(t, `SELECT 1 FROM "Gears" AS "we""ird"`, sql)
}

func TestEmit_Errors(t *testing.T) {
	_, _, err := Emit(nil)
	assert.Error(t, err)

	sel := &r.Select{}
	sel.AddTable(r.TableSource{Alias: "x"})
	_, _, err = Emit(sel)
	assert.ErrorContains(t, err, "no table, query or set")

	sel = &r.Select{Projection: []r.Projection{{Expr: r.Const(ir.IRArray{}), Alias: "v"}}}
	_, _, err = Emit(sel)
	assert.ErrorContains(t, err, "unsupported constant")
}
