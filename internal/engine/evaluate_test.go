package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/navq/internal/object"
	"github.com/roach88/navq/internal/queryir"
)

func TestEvaluate_Values(t *testing.T) {
	db := setupGearsOfWar(t)

	tests := []struct {
		query string
		want  any
	}{
		{`Set<Gear>().Count()`, int64(5)},
		{`Set<Gear>().OfType<Officer>().Count()`, int64(2)},
		{`Set<Weapon>().Count(w => w.Name == null)`, int64(1)},
		{`Set<Faction>().OfType<LocustHorde>().Select(f => f.Commander.ThreatLevel).ToList()`, []any{int64(5), int64(0)}},
		{`Set<Gear>().OrderBy(g => g.Nickname).Select(g => g.Nickname).First()`, "Baird"},
		{`Set<Gear>().Select(g => g.Nickname).ElementAt(3)`, "Baird"},
		{`Set<Weapon>().All(w => w.Id > 0)`, true},
		{`Set<Weapon>().Where(w => w.Id > 100).Sum(w => w.AmmunitionType)`, int64(0)},
		{`Set<Weapon>().Where(w => w.Id > 100).Average(w => w.AmmunitionType)`, nil},
	}

	for _, tt := range tests {
		got, err := db.evaluate(t, tt.query, nil)
		require.NoError(t, err, tt.query)
		assert.Equal(t, tt.want, got, tt.query)
	}
}

func TestEvaluate_GroupBySumOfNulls(t *testing.T) {
	db := setupGearsOfWar(t)
	got, err := db.evaluate(t, `Set<Mission>().GroupBy(m => m.CodeName, (k, ms) => new { CodeName = k, Rating = ms.Sum(m => m.Rating) })`, nil)
	require.NoError(t, err)

	ratings := map[string]any{}
	for _, r := range got.([]any) {
		rec := r.(*object.Record)
		name, _ := rec.Get("CodeName")
		rating, _ := rec.Get("Rating")
		ratings[name.(string)] = rating
	}
	assert.Len(t, ratings, 4)
	assert.EqualValues(t, 0, ratings["Operation Foobar"])
}

func TestEvaluate_Include(t *testing.T) {
	db := setupGearsOfWar(t)
	got, err := db.evaluate(t, `Set<Gear>().Where(g => g.Nickname == "Paduk").Include(g => g.Weapons.Where(w => w.Name != null)).Single()`, nil)
	require.NoError(t, err)

	gear := got.(*object.Entity)
	weapons, ok := gear.Navigations["Weapons"].([]any)
	require.True(t, ok)
	assert.Len(t, weapons, 2)

	again, err := db.evaluate(t, `Set<Gear>().Where(g => g.Nickname == "Paduk").Single()`, nil)
	require.NoError(t, err)
	assert.Empty(t, again.(*object.Entity).Navigations, "includes never leak into the graph")
}

func TestEvaluate_Parameters(t *testing.T) {
	db := setupGearsOfWar(t)
	q := queryir.MustParse(`Set<Gear>().Where(g => g.Rank >= @rank).Count()`)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	got, err := Evaluate(ctx, q, db.graph, map[string]any{"rank": 2})
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)

	got, err = Evaluate(ctx, q, db.graph, map[string]any{"rank": 1})
	require.NoError(t, err)
	assert.Equal(t, int64(3), got)
}

func TestEvaluate_DerivedMemberNeedsNarrowing(t *testing.T) {
	db := setupGearsOfWar(t)
	got, err := db.evaluate(t, `Set<Faction>().Select(f => cast<LocustHorde>(f).CommanderName).ToList()`, nil)
	require.Error(t, err)
	assert.True(t, IsInvalidCast(err))
	assert.Nil(t, got)
}
