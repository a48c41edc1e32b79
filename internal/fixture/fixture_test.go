package fixture

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/navq/internal/catalog"
	"github.com/roach88/navq/internal/object"
	"github.com/roach88/navq/internal/store"
	"github.com/roach88/navq/internal/testutil"
)

func loadGearsOfWar(t *testing.T) *Graph {
	t.Helper()
	g, err := LoadSeed(filepath.Join(testutil.GearsOfWarDir(), "seed.yaml"), testutil.GearsOfWar(t))
	require.NoError(t, err)
	return g
}

func navigation(t *testing.T, cat *catalog.Catalog, typ, name string) *catalog.Navigation {
	t.Helper()
	nav, ok := cat.FindNavigation(testutil.Entity(t, cat, typ), name)
	require.True(t, ok, "%s.%s", typ, name)
	return nav
}

func TestLoadSeed(t *testing.T) {
	g := loadGearsOfWar(t)
	cat := g.Catalog()

	gears := g.Set(testutil.Entity(t, cat, "Gear"))
	require.Len(t, gears, 5)
	assert.Equal(t, "Officer", gears[0].Type)
	assert.Equal(t, "Marcus", gears[0].Properties["Nickname"])
	assert.Equal(t, int64(1), gears[0].Properties["SquadId"])
	assert.Nil(t, gears[0].Properties["AssignedCityName"])

	officers := g.Set(testutil.Entity(t, cat, "Officer"))
	require.Len(t, officers, 2)
	assert.Equal(t, "Baird", officers[1].Properties["Nickname"])
}

func TestNavigate(t *testing.T) {
	g := loadGearsOfWar(t)
	cat := g.Catalog()
	marcus := g.Set(testutil.Entity(t, cat, "Gear"))[0]

	weapons, ok := g.Navigate(marcus, navigation(t, cat, "Gear", "Weapons")).([]*object.Entity)
	require.True(t, ok)
	require.NotEmpty(t, weapons)
	for _, w := range weapons {
		assert.Equal(t, "Marcus Fenix", w.Properties["OwnerFullName"])
	}

	city, ok := g.Navigate(marcus, navigation(t, cat, "Gear", "CityOfBirth")).(*object.Entity)
	require.True(t, ok)
	assert.Equal(t, "Jacinto", city.Properties["Name"])

	assert.Nil(t, g.Navigate(marcus, navigation(t, cat, "Gear", "AssignedCity")), "a null key matches nothing")
}

func TestParse_Errors(t *testing.T) {
	cat := testutil.GearsOfWar(t)
	tests := []struct {
		name string
		seed string
	}{
		{"unknown type", "Vehicle:\n  - {Id: 1}\n"},
		{"unknown property", "Squad:\n  - {Id: 1, Name: Delta, Motto: none}\n"},
		{"missing required property", "Squad:\n  - {Id: 1}\n"},
		{"wrong kind", "Squad:\n  - {Id: one, Name: Delta}\n"},
		{"type outside the hierarchy", "Gear:\n  - {$type: Squad, Nickname: x}\n"},
		{"not a mapping", "- 1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.seed), cat)
			assert.Error(t, err)
		})
	}
}

func TestSeed(t *testing.T) {
	ctx := context.Background()
	g := loadGearsOfWar(t)

	s, err := store.Open(":memory:")
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, g.Seed(ctx, s))

	rows, err := s.ReadAll(ctx, `SELECT "Discriminator", COUNT(*) FROM "Gears" GROUP BY "Discriminator" ORDER BY "Discriminator"`, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"Gear", int64(3)}, {"Officer", int64(2)}}, rows)

	rows, err = s.ReadAll(ctx, `SELECT COUNT(*) FROM "Cities"`, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, [][]any{{int64(4)}}, rows)
}
