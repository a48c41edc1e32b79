package navexpand

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/navq/internal/correlate"
	"github.com/roach88/navq/internal/ir"
	"github.com/roach88/navq/internal/plan"
	"github.com/roach88/navq/internal/queryir"
	"github.com/roach88/navq/internal/querysql"
	"github.com/roach88/navq/internal/relational"
	"github.com/roach88/navq/internal/testutil"
)

func expand(t *testing.T, query string, opts ...Option) (*plan.Plan, error) {
	t.Helper()
	return New(testutil.GearsOfWar(t), opts...).Expand(queryir.MustParse(query))
}

func mustExpand(t *testing.T, query string, opts ...Option) *plan.Plan {
	t.Helper()
	p, err := expand(t, query, opts...)
	require.NoError(t, err)
	require.NotNil(t, p.Select)
	return p
}

func emit(t *testing.T, p *plan.Plan) string {
	t.Helper()
	sql, _, err := querysql.Emit(p.Select)
	require.NoError(t, err)
	return sql
}

func TestExpand_EntitySource(t *testing.T) {
	p := mustExpand(t, "Set<Gear>()")

	ent, ok := p.Shaper.(*plan.Entity)
	require.True(t, ok, "got %T", p.Shaper)
	assert.Equal(t, "Gear", ent.Type.Name)
	assert.GreaterOrEqual(t, ent.Discriminator, 0, "Gear is a hierarchy root with a discriminator")
	assert.Len(t, ent.Key, 2)
	require.Len(t, p.Select.Tables, 1)
	assert.Equal(t, "Gears", p.Select.Tables[0].Table)
	assert.Nil(t, p.Select.Predicate)
}

func TestExpand_DerivedSourceFiltersDiscriminator(t *testing.T) {
	p := mustExpand(t, "Set<Officer>()")

	ent := p.Shaper.(*plan.Entity)
	assert.Equal(t, "Officer", ent.Type.Name)
	require.NotNil(t, p.Select.Predicate)
	_, ok := p.Select.Predicate.(*relational.In)
	assert.True(t, ok, "derived sources keep rows of their own concrete types, got %T", p.Select.Predicate)
}

func TestExpand_ReferenceNavigationJoins(t *testing.T) {
	tests := []struct {
		name  string
		query string
		join  relational.JoinKind
	}{
		{"required reference is an inner join", `Set<Gear>().Where(g => g.Squad.Name == "Delta")`, relational.JoinInner},
		{"optional reference is a left join", `Set<Gear>().Select(g => g.AssignedCity.Location)`, relational.JoinLeft},
		{"reference from a nullable foreign key", `Set<Weapon>().Select(w => w.Owner.Nickname)`, relational.JoinLeft},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := mustExpand(t, tt.query)
			require.Len(t, p.Select.Tables, 2)
			assert.Equal(t, tt.join, p.Select.Tables[1].Join)
			assert.NotNil(t, p.Select.Tables[1].On)
		})
	}
}

func TestExpand_SameNavigationJoinedOnce(t *testing.T) {
	p := mustExpand(t, `Set<Gear>().Where(g => g.CityOfBirth.Name != "Ephyra").Select(g => new { g.Nickname, g.CityOfBirth.Location })`)
	assert.Len(t, p.Select.Tables, 2)

	sql := emit(t, p)
	assert.Contains(t, sql, `FROM "Gears" AS "g" INNER JOIN "Cities" AS "c" ON`)
}

func TestExpand_RecordShape(t *testing.T) {
	p := mustExpand(t, `Set<Gear>().Select(g => new { g.Nickname, g.Rank, Squad = g.Squad })`)

	rec, ok := p.Shaper.(*plan.Record)
	require.True(t, ok, "got %T", p.Shaper)
	require.Len(t, rec.Fields, 3)
	assert.Equal(t, "Nickname", rec.Fields[0].Name)
	assert.IsType(t, &plan.Scalar{}, rec.Fields[0].Shaper)
	assert.IsType(t, &plan.Scalar{}, rec.Fields[1].Shaper)
	squad, ok := rec.Fields[2].Shaper.(*plan.Entity)
	require.True(t, ok)
	assert.Equal(t, "Squad", squad.Type.Name)
}

func TestExpand_NestedCollectionInline(t *testing.T) {
	p := mustExpand(t, `Set<Gear>().Select(g => new { g.Nickname, Weapons = g.Weapons.ToList() })`)

	rec := p.Shaper.(*plan.Record)
	require.Len(t, rec.Fields, 2)
	coll, ok := rec.Fields[1].Shaper.(*plan.Collection)
	require.True(t, ok, "got %T", rec.Fields[1].Shaper)
	assert.Equal(t, correlate.Inline, coll.Strategy)
	assert.False(t, coll.Single)
	assert.NotEmpty(t, coll.Identifier)
	assert.GreaterOrEqual(t, coll.Presence, 0)
	assert.IsType(t, &plan.Entity{}, coll.Element)

	require.Len(t, p.Select.Tables, 2)
	assert.Equal(t, relational.JoinLeft, p.Select.Tables[1].Join)
	assert.NotEmpty(t, p.Identifier, "outer elements are regrouped by their key")
	assert.NotEmpty(t, p.Select.Orderings, "rows of one element must be adjacent")
}

func TestExpand_NestedCollectionBatched(t *testing.T) {
	p := mustExpand(t, `Set<Gear>().Select(g => new { g.Nickname, Weapons = g.Weapons.ToList() })`,
		WithPlanner(correlate.Planner{Mode: correlate.ModeBatched}))

	rec := p.Shaper.(*plan.Record)
	coll, ok := rec.Fields[1].Shaper.(*plan.Collection)
	require.True(t, ok)
	assert.Equal(t, correlate.Batched, coll.Strategy)
	require.NotNil(t, coll.Plan)
	require.Len(t, coll.Bindings, 1)
	assert.Contains(t, coll.Bindings[0].Param, BatchParamPrefix)

	assert.Len(t, p.Select.Tables, 1, "batched collections leave the outer select alone")
	params := relational.Parameters(coll.Plan.Select)
	assert.Len(t, params, 1)
}

func TestExpand_IncludeCollection(t *testing.T) {
	p := mustExpand(t, `Set<Gear>().Include(g => g.Weapons)`)

	ent := p.Shaper.(*plan.Entity)
	require.Len(t, ent.Includes, 1)
	assert.Equal(t, "Weapons", ent.Includes[0].Nav.Name)
	coll, ok := ent.Includes[0].Target.(*plan.Collection)
	require.True(t, ok, "got %T", ent.Includes[0].Target)
	assert.Equal(t, correlate.Inline, coll.Strategy)
}

func TestExpand_IncludeReference(t *testing.T) {
	p := mustExpand(t, `Set<CogTag>().Include(t => t.Gear.Squad)`)

	ent := p.Shaper.(*plan.Entity)
	require.Len(t, ent.Includes, 1)
	gear, ok := ent.Includes[0].Target.(*plan.Entity)
	require.True(t, ok)
	require.Len(t, gear.Includes, 1)
	assert.Equal(t, "Squad", gear.Includes[0].Nav.Name)
	assert.Len(t, p.Select.Tables, 3)
}

func TestExpand_Terminals(t *testing.T) {
	t.Run("count", func(t *testing.T) {
		p := mustExpand(t, `Set<Gear>().Count(g => g.HasSoulPatch)`)
		assert.Equal(t, queryir.OpCount, p.Terminal.Op)
		assert.IsType(t, &plan.Scalar{}, p.Shaper)
		assert.NotNil(t, p.Select.Predicate)
	})
	t.Run("average over a non-nullable selector fails on empty", func(t *testing.T) {
		p := mustExpand(t, `Set<Gear>().Average(g => g.Rank)`)
		assert.True(t, p.Terminal.FailOnEmpty)
	})
	t.Run("first fetches one row", func(t *testing.T) {
		p := mustExpand(t, `Set<Gear>().OrderBy(g => g.Nickname).First()`)
		assert.Equal(t, relational.Const(ir.IRInt(1)), p.Select.Limit)
	})
	t.Run("single fetches two rows", func(t *testing.T) {
		p := mustExpand(t, `Set<Gear>().Single(g => g.Nickname == "Marcus")`)
		assert.Equal(t, relational.Const(ir.IRInt(2)), p.Select.Limit)
	})
	t.Run("any is an exists", func(t *testing.T) {
		p := mustExpand(t, `Set<Gear>().Any()`)
		require.Len(t, p.Select.Projection, 1)
		assert.IsType(t, &relational.Exists{}, p.Select.Projection[0].Expr)
	})
}

func TestExpand_GroupByAggregates(t *testing.T) {
	p := mustExpand(t, `Set<Gear>().GroupBy(g => g.Rank, (k, gs) => new { Rank = k, Count = gs.Count() })`)

	require.Len(t, p.Select.GroupBy, 1)
	rec, ok := p.Shaper.(*plan.Record)
	require.True(t, ok)
	require.Len(t, rec.Fields, 2)
	assert.IsType(t, &plan.Scalar{}, rec.Fields[1].Shaper)
}

func TestExpand_NavigationAggregateIsSubquery(t *testing.T) {
	p := mustExpand(t, `Set<Squad>().Select(s => new { s.Name, Members = s.Members.Count() })`)

	assert.Len(t, p.Select.Tables, 1)
	found := false
	for _, proj := range p.Select.Projection {
		if _, ok := proj.Expr.(*relational.ScalarSubquery); ok {
			found = true
		}
	}
	assert.True(t, found, "the count runs as a correlated scalar subquery")
}

func TestExpand_SetOperation(t *testing.T) {
	p := mustExpand(t, `Set<Gear>().Where(g => g.HasSoulPatch).Concat(Set<Gear>().Where(g => g.Rank > 1))`)

	require.Len(t, p.Select.Tables, 1)
	set := p.Select.Tables[0].Set
	require.NotNil(t, set)
	assert.Equal(t, relational.SetUnionAll, set.Op)
	assert.IsType(t, &plan.Entity{}, p.Shaper)
}

func TestExpand_Errors(t *testing.T) {
	tests := []struct {
		name  string
		query string
		kind  queryir.ErrorKind
	}{
		{
			name:  "derived member without narrowing",
			query: `Set<Gear>().Select(g => g.Reports.Count())`,
			kind:  queryir.ErrUntranslatable,
		},
		{
			name:  "unknown member",
			query: `Set<Gear>().Where(g => g.Callsign == "Delta-1")`,
			kind:  queryir.ErrUntranslatable,
		},
		{
			name:  "include after a projection",
			query: `Set<Gear>().Select(g => g.Nickname).Include("Weapons")`,
			kind:  queryir.ErrIncludeMisuse,
		},
		{
			name:  "include of an unknown navigation",
			query: `Set<Gear>().Include("Vehicles")`,
			kind:  queryir.ErrIncludeMisuse,
		},
		{
			name:  "max over entities",
			query: `Set<Squad>().Select(s => s.Members.Max(m => m))`,
			kind:  queryir.ErrGroupingRejected,
		},
		{
			name:  "constant grouping key",
			query: `Set<Gear>().GroupBy(g => 1, (k, gs) => gs.Count())`,
			kind:  queryir.ErrGroupingRejected,
		},
		{
			name:  "nested take without ordering",
			query: `Set<Gear>().SelectMany(g => g.Weapons.Take(1))`,
			kind:  queryir.ErrMaterializationShape,
		},
		{
			name:  "set operands of different kinds",
			query: `Set<Gear>().Select(g => g.Nickname).Union(Set<Gear>().Select(g => g.Rank))`,
			kind:  queryir.ErrSetOperationShape,
		},
		{
			name:  "set operands with and without entities",
			query: `Set<Gear>().Union(Set<Gear>().Select(g => g.Nickname))`,
			kind:  queryir.ErrSetOperationShape,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := expand(t, tt.query)
			require.Error(t, err)
			assert.Equal(t, tt.kind, queryir.KindOf(err), "%v", err)
		})
	}
}

func TestExpand_NarrowedMemberAccess(t *testing.T) {
	for _, query := range []string{
		`Set<Gear>().OfType<Officer>().Select(o => o.Reports.Count())`,
		`Set<Gear>().Where(g => g is Officer).Select(g => (g as Officer).Reports.Count())`,
		`Set<Gear>().Select(g => g is Officer ? (g as Officer).Reports.Count() : 0)`,
	} {
		t.Run(query, func(t *testing.T) {
			_, err := expand(t, query)
			assert.NoError(t, err)
		})
	}
}

func TestExpand_AliasesUniquePerPlan(t *testing.T) {
	p := mustExpand(t, `Set<Gear>().Select(g => new { g.Nickname, Friends = g.Squad.Members.ToList() })`)

	seen := map[string]bool{}
	var walk func(sel *relational.Select)
	walk = func(sel *relational.Select) {
		for _, ts := range sel.Tables {
			assert.False(t, seen[ts.Alias], "alias %q reused", ts.Alias)
			seen[ts.Alias] = true
			if ts.Query != nil {
				walk(ts.Query)
			}
		}
	}
	walk(p.Select)
	assert.NotEmpty(t, seen)
}

func TestAppendOrdering(t *testing.T) {
	rank := &relational.ColumnRef{Table: "g", Column: "Rank", Kind: ir.KindInt}
	name := &relational.ColumnRef{Table: "g", Column: "Nickname", Kind: ir.KindString}

	tests := []struct {
		name string
		list []relational.Ordering
		add  relational.Ordering
		want []relational.Ordering
	}{
		{"first ordering", nil, relational.Ordering{Expr: rank}, []relational.Ordering{{Expr: rank}}},
		{"new expression", []relational.Ordering{{Expr: rank}}, relational.Ordering{Expr: name},
			[]relational.Ordering{{Expr: rank}, {Expr: name}}},
		{"repeated expression collapses", []relational.Ordering{{Expr: rank}, {Expr: name}}, relational.Ordering{Expr: rank},
			[]relational.Ordering{{Expr: rank}, {Expr: name}}},
		{"first direction wins", []relational.Ordering{{Expr: rank, Descending: true}}, relational.Ordering{Expr: rank},
			[]relational.Ordering{{Expr: rank, Descending: true}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := appendOrdering(tt.list, tt.add)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, appendOrdering(got, tt.add), "appending again changes nothing")
		})
	}
}

func TestExpand_RepeatedOrderingCollapses(t *testing.T) {
	p := mustExpand(t, `Set<Gear>().OrderBy(g => g.Rank).ThenBy(g => g.Rank).ThenByDescending(g => g.Nickname)`)
	assert.Len(t, p.Select.Orderings, 2)
}

func TestExpand_NavigationJoinsMatchKeys(t *testing.T) {
	p := mustExpand(t, `Set<CogTag>().Select(t => t.Gear.Tag.Note)`)
	require.Len(t, p.Select.Tables, 3)

	for _, src := range p.Select.Tables[1:] {
		assert.Equal(t, relational.JoinLeft, src.Join)
		for _, c := range relational.Conjuncts(src.On) {
			b, ok := c.(*relational.Binary)
			require.True(t, ok, "got %T", c)
			assert.True(t, b.KeyMatch, "a null key must not match a null key")
		}
	}
}

func TestExpand_HardCastChecksMaterializedValues(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		checked bool
	}{
		{"member", `Set<Faction>().Select(f => cast<LocustHorde>(f).CommanderName)`, true},
		{"member of a reference", `Set<Faction>().Select(f => cast<LocustHorde>(f).Commander.ThreatLevel)`, true},
		{"type filter proves the cast", `Set<Faction>().OfType<LocustHorde>().Select(f => cast<LocustHorde>(f).CommanderName)`, false},
		{"filters are not checked", `Set<Faction>().Where(f => cast<LocustHorde>(f).CommanderName == "Unknown").Select(f => f.Name)`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := mustExpand(t, tt.query)
			check, ok := p.Shaper.(*plan.TypeCheck)
			assert.Equal(t, tt.checked, ok, "got %T", p.Shaper)
			if ok {
				assert.Equal(t, "LocustHorde", check.Target.Name)
				assert.Equal(t, "Faction", check.Root.Name)
				assert.Less(t, check.Tag, len(p.Select.Projection))
			}
		})
	}
}

func TestExpand_DistinctCountOfNullableValue(t *testing.T) {
	p := mustExpand(t, `Set<Weapon>().GroupBy(w => w.IsAutomatic, (k, ws) => new { K = k, C = ws.Select(w => w.AmmunitionType).Distinct().Count() })`)

	sql := emit(t, p)
	assert.Contains(t, sql, `COUNT(DISTINCT `)
	assert.Contains(t, sql, `."AmmunitionType" IS NULL THEN 1 ELSE 0 END), 0)`)
}

func TestExpand_NestedCollectionThroughReferenceChain(t *testing.T) {
	query := `Set<Gear>().Select(g => new { g.Nickname, W = g.Weapons.Select(w => w.Owner.Squad.Members.Select(m => m.Rank).ToList()).ToList() })`

	for _, mode := range []correlate.Mode{correlate.ModeInline, correlate.ModeBatched} {
		p := mustExpand(t, query, WithPlanner(correlate.Planner{Mode: mode}))
		emit(t, p)

		colls := plan.Collections(p.Shaper)
		require.NotEmpty(t, colls, "mode %s", mode)
		for _, c := range colls {
			if c.Strategy == correlate.Batched {
				_, _, err := querysql.Emit(c.Plan.Select)
				require.NoError(t, err, "mode %s", mode)
			}
		}
		assert.Empty(t, relational.FreeColumns(p.Select), "mode %s: every joined alias is bound", mode)
	}
}

func TestExpand_NestedDistinctInline(t *testing.T) {
	p := mustExpand(t, `Set<Gear>().Select(g => new { g.Nickname, Kinds = g.Weapons.Select(w => w.IsAutomatic).Distinct().ToList() })`,
		WithPlanner(correlate.Planner{Mode: correlate.ModeInline}))

	rec := p.Shaper.(*plan.Record)
	coll, ok := rec.Fields[1].Shaper.(*plan.Collection)
	require.True(t, ok, "got %T", rec.Fields[1].Shaper)
	assert.Equal(t, correlate.Inline, coll.Strategy)
	assert.NotEmpty(t, coll.Identifier, "the distinct values identify inner rows")
	assert.Contains(t, emit(t, p), "SELECT DISTINCT")
}
