package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/navq/internal/correlate"
	"github.com/roach88/navq/internal/object"
	"github.com/roach88/navq/internal/queryir"
	"github.com/roach88/navq/internal/testutil"
	"github.com/roach88/navq/internal/translator"
)

var modes = []correlate.Mode{correlate.ModeAuto, correlate.ModeInline, correlate.ModeBatched}

// TestExecute_MatchesEvaluate runs every query through SQL under each
// collection strategy and compares with in-memory evaluation.
func TestExecute_MatchesEvaluate(t *testing.T) {
	db := setupGearsOfWar(t)

	tests := []struct {
		name    string
		query   string
		params  map[string]any
		ordered bool
	}{
		{name: "entity set", query: `Set<Gear>()`},
		{name: "reference navigation filter", query: `Set<Gear>().Where(g => g.Squad.Name == "Delta")`},
		{name: "optional navigation projection", query: `Set<Gear>().Select(g => new { g.Nickname, City = g.AssignedCity.Name })`},
		{name: "include collection", query: `Set<Gear>().Include(g => g.Weapons)`},
		{name: "include reference chain", query: `Set<CogTag>().Include(t => t.Gear).ThenInclude(g => g.Squad)`},
		{name: "include derived collection", query: `Set<Gear>().OfType<Officer>().Include(o => o.Reports)`},
		{name: "filtered include", query: `Set<Gear>().Include(g => g.Weapons.Where(w => w.IsAutomatic))`},
		{
			name:    "filtered ordered nested collection",
			query:   `Set<Gear>().OrderBy(g => g.Nickname).Select(g => new { g.Nickname, Weapons = g.Weapons.Where(w => w.IsAutomatic || w.Name != "foo").OrderByDescending(w => w.Name).ToList() })`,
			ordered: true,
		},
		{
			name:  "two level nested collections",
			query: `Set<Squad>().Select(s => new { s.Name, Members = s.Members.Select(m => new { m.Nickname, Weapons = m.Weapons.Select(w => w.Name).ToList() }).ToList() })`,
		},
		{name: "group by sum", query: `Set<Mission>().GroupBy(m => m.CodeName, (k, ms) => new { CodeName = k, Rating = ms.Sum(m => m.Rating) })`},
		{name: "derived member after type filter", query: `Set<Faction>().OfType<LocustHorde>().Select(f => f.Commander.ThreatLevel)`},
		{name: "null parameter", query: `Set<Weapon>().Where(w => w.Name == @name)`, params: map[string]any{"name": nil}},
		{name: "bound parameter", query: `Set<Weapon>().Where(w => w.Name == @name)`, params: map[string]any{"name": "foo"}},
		{name: "collection count", query: `Set<Gear>().Select(g => new { g.Nickname, Count = g.Weapons.Count() })`},
		{name: "dependent reference null test", query: `Set<Gear>().Where(g => g.Tag.Note != null).Select(g => g.FullName)`},
		{name: "union", query: `Set<Gear>().Where(g => g.Rank == 0).Union(Set<Gear>().Where(g => g.HasSoulPatch))`},
		{name: "join", query: `Set<Gear>().Join(Set<Weapon>(), g => g.FullName, w => w.OwnerFullName, (g, w) => new { g.Nickname, w.Id })`},
		{name: "select many", query: `Set<Gear>().SelectMany(g => g.Weapons, (g, w) => new { g.Nickname, w.Name })`},
		{name: "distinct", query: `Set<Weapon>().Select(w => w.AmmunitionType).Distinct()`},
		{name: "skip take", query: `Set<Gear>().OrderBy(g => g.FullName).Skip(1).Take(2)`, ordered: true},
		{name: "count", query: `Set<Gear>().Count()`},
		{name: "average nullable", query: `Set<Mission>().Average(m => m.Rating)`},
		{name: "max nullable", query: `Set<Weapon>().Max(w => w.AmmunitionType)`},
		{name: "first", query: `Set<Gear>().OrderBy(g => g.Nickname).First()`},
		{name: "any", query: `Set<Weapon>().Any(w => w.Name == "Mauler")`},
		{name: "null keys match nothing through optional navigations", query: `Set<CogTag>().Select(t => new { t.Note, Back = t.Gear.Tag.Note })`},
		{name: "join on null keys", query: `Set<CogTag>().Join(Set<Gear>(), t => t.GearNickName, g => g.LeaderNickname, (t, g) => new { t.Note, g.Nickname })`},
		{name: "filter on a reference reached through a null key", query: `Set<CogTag>().Where(t => t.Gear.Tag.Note == "K.I.A.")`},
		{name: "null owner of a defeated-by chain", query: `Set<LocustLeader>().OfType<LocustCommander>().Select(c => new { c.Name, Tag = c.DefeatedBy.Tag.Note })`},
		{
			name:  "nested collection through a reference chain",
			query: `Set<Gear>().Select(g => new { g.Nickname, W = g.Weapons.Select(w => w.Owner.Squad.Members.Select(m => m.Rank).ToList()).ToList() })`,
		},
		{name: "distinct count keeps null", query: `Set<Weapon>().GroupBy(w => w.IsAutomatic, (k, ws) => new { K = k, C = ws.Select(w => w.AmmunitionType).Distinct().Count() })`},
		{name: "string concatenation with null", query: `Set<Gear>().Select(g => g.Nickname + " " + g.AssignedCityName)`},
		{name: "nested distinct", query: `Set<Gear>().Select(g => new { g.Nickname, Kinds = g.Weapons.Select(w => w.IsAutomatic).Distinct().ToList() })`},
		{name: "nested distinct of nullable values", query: `Set<Gear>().Select(g => new { g.Nickname, Ammo = g.Weapons.Select(w => w.AmmunitionType).Distinct().ToList() })`},
		{name: "hard cast in a filter", query: `Set<Faction>().Where(f => cast<LocustHorde>(f).CommanderName == "Queen Myrrah").Select(f => f.Name)`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expected, err := db.evaluate(t, tt.query, tt.params)
			require.NoError(t, err)
			want := canonical(t, expected, tt.ordered)

			for _, mode := range modes {
				actual, err := db.execute(t, mode, tt.query, tt.params)
				require.NoError(t, err, "mode %s", mode)
				assert.Equal(t, want, canonical(t, actual, tt.ordered), "mode %s", mode)
			}
		})
	}
}

func TestExecute_NestedCollectionOrder(t *testing.T) {
	db := setupGearsOfWar(t)
	query := `Set<Gear>().OrderBy(g => g.Nickname).Select(g => new { g.Nickname, Weapons = g.Weapons.Where(w => w.IsAutomatic || w.Name != "foo").OrderByDescending(w => w.Name).Select(w => w.Name).ToList() })`

	for _, mode := range modes {
		result, err := db.execute(t, mode, query, nil)
		require.NoError(t, err)
		rows := result.([]any)
		require.Len(t, rows, 5)

		last := rows[4].(*object.Record)
		nick, _ := last.Get("Nickname")
		weapons, _ := last.Get("Weapons")
		assert.Equal(t, "Paduk", nick)
		assert.Equal(t, []any{"Paduk's Markza", nil}, weapons, "mode %s", mode)
	}
}

func TestExecute_RuntimeErrors(t *testing.T) {
	db := setupGearsOfWar(t)

	tests := []struct {
		name  string
		query string
		check func(error) bool
	}{
		{"first on empty", `Set<Gear>().Where(g => g.Nickname == "Nobody").First()`, IsInvalidOperation},
		{"single on many", `Set<Gear>().Single()`, IsInvalidOperation},
		{"max over nothing", `Set<Gear>().Where(g => g.Nickname == "Nobody").Max(g => g.Rank)`, IsInvalidOperation},
		{"element at out of range", `Set<Gear>().ElementAt(10)`, IsInvalidOperation},
		{"hard cast", `Set<Gear>().Select(g => cast<Officer>(g))`, IsInvalidCast},
		{"member read after a hard cast", `Set<Faction>().Select(f => cast<LocustHorde>(f).CommanderName)`, IsInvalidCast},
		{"reference read after a hard cast", `Set<Faction>().Select(f => cast<LocustHorde>(f).Commander.ThreatLevel)`, IsInvalidCast},
		{"hard cast inside a record", `Set<Faction>().Select(f => new { f.Name, Commander = cast<LocustHorde>(f).CommanderName })`, IsInvalidCast},
		{"checked overflow", `Set<Gear>().Select(g => checked(g.Rank + 9223372036854775807))`, IsInvalidOperation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := db.evaluate(t, tt.query, nil)
			require.Error(t, err)
			assert.True(t, tt.check(err), "evaluate: %v", err)

			for _, mode := range modes {
				_, err = db.execute(t, mode, tt.query, nil)
				require.Error(t, err, "mode %s", mode)
				assert.True(t, tt.check(err), "execute %s: %v", mode, err)
			}
		})
	}
}

func TestExecute_OrDefault(t *testing.T) {
	db := setupGearsOfWar(t)

	for _, query := range []string{
		`Set<Gear>().Where(g => g.Nickname == "Nobody").FirstOrDefault()`,
		`Set<Gear>().Where(g => g.Nickname == "Nobody").SingleOrDefault()`,
		`Set<Gear>().ElementAtOrDefault(10)`,
		`Set<Weapon>().Where(w => w.Id > 100).Max(w => w.AmmunitionType)`,
	} {
		v, err := db.execute(t, correlate.ModeAuto, query, nil)
		require.NoError(t, err, query)
		assert.Nil(t, v, query)

		v, err = db.evaluate(t, query, nil)
		require.NoError(t, err, query)
		assert.Nil(t, v, query)
	}
}

func TestExecute_QueryCounts(t *testing.T) {
	db := setupGearsOfWar(t)
	query := `Set<Gear>().Select(g => new { g.Nickname, Weapons = g.Weapons.ToList() })`

	inline, err := db.execute(t, correlate.ModeInline, query, nil, WithHistory(NewClock()))
	require.NoError(t, err)
	batched, err := db.execute(t, correlate.ModeBatched, query, nil, WithHistory(NewClockAt(1)))
	require.NoError(t, err)
	assert.Equal(t, canonical(t, inline, false), canonical(t, batched, false))

	log, err := db.store.ReadExecutions(context.Background())
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, 1, log[0].Queries)
	assert.Equal(t, 6, log[1].Queries, "one outer query and one per gear")
	for _, e := range log {
		assert.Equal(t, "ok", e.Outcome)
		assert.Equal(t, 5, e.RowCount)
		assert.NotEmpty(t, e.ID)
		assert.NotEmpty(t, e.Fingerprint)
	}
}

func TestExecute_BatchedTuplesShareQueries(t *testing.T) {
	db := setupGearsOfWar(t)
	query := `Set<Weapon>().Select(w => new { w.Id, Arsenal = w.Owner.Weapons.ToList() })`

	_, err := db.execute(t, correlate.ModeBatched, query, nil, WithHistory(NewClock()))
	require.NoError(t, err)

	log, err := db.store.ReadExecutions(context.Background())
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Less(t, log[0].Queries, 1+12, "weapons of one owner share a query")
}

func TestExecute_Quota(t *testing.T) {
	db := setupGearsOfWar(t)
	query := `Set<Gear>().Select(g => new { g.Nickname, Weapons = g.Weapons.ToList() })`

	_, err := db.execute(t, correlate.ModeBatched, query, nil, WithMaxQueries(3), WithHistory(NewClock()))
	require.Error(t, err)
	assert.True(t, IsQuotaError(err))

	var re *RuntimeError
	require.True(t, errors.As(err, &re))
	assert.NotEmpty(t, re.ExecutionID)

	log, err := db.store.ReadExecutions(context.Background())
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, string(ErrCodeQuotaExceeded), log[0].Outcome)
}

func TestExecute_Cancelled(t *testing.T) {
	db := setupGearsOfWar(t)
	p, err := translator.New(db.graph.Catalog()).Compile(queryir.MustParse(`Set<Gear>()`), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	v, err := NewExecutor(db.store).Execute(ctx, p, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, v)
}

func TestExecute_DeterministicLog(t *testing.T) {
	db := setupGearsOfWar(t)
	ids := testutil.NewIDSequence("q")
	clock := NewClock()

	_, err := db.execute(t, correlate.ModeInline, `Set<Gear>().Count()`, nil,
		WithHistory(clock), WithIDGenerator(ids.Next))
	require.NoError(t, err)
	_, err = db.execute(t, correlate.ModeInline, `Set<Gear>().Single()`, nil,
		WithHistory(clock), WithIDGenerator(ids.Next))
	require.Error(t, err)

	var re *RuntimeError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "q-2", re.ExecutionID)

	log, err := db.store.ReadExecutions(context.Background())
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, "q-1", log[0].ID)
	assert.Equal(t, int64(1), log[0].Seq)
	assert.Equal(t, "q-2", log[1].ID)
	assert.Equal(t, string(ErrCodeInvalidOperation), log[1].Outcome)
}
