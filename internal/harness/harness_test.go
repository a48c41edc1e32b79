package harness

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/navq/internal/correlate"
	"github.com/roach88/navq/internal/queryir"
	"github.com/roach88/navq/internal/testutil"
	"github.com/roach88/navq/internal/translator"
)

const scenarioDir = "../../testdata/scenarios"

func TestScenarios(t *testing.T) {
	paths, err := Discover(scenarioDir)
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := Run(context.Background(), scenario)
			require.NoError(t, err)
			for _, c := range result.Failures() {
				t.Errorf("%s [%s]: %s", c.Name, c.Strategy, c.Error)
			}
			assert.True(t, result.Pass)
			assert.Len(t, result.Cases, len(scenario.Cases)*len(scenario.Strategies))
		})
	}
}

func TestScenario_BatchedQueryCounts(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join(scenarioDir, "nested_collections.yaml"))
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	inline, ok := result.Case("weapons_filtered_and_ordered", correlate.ModeInline)
	require.True(t, ok)
	batched, ok := result.Case("weapons_filtered_and_ordered", correlate.ModeBatched)
	require.True(t, ok)
	assert.Equal(t, 1, inline.Queries)
	assert.Equal(t, 6, batched.Queries)
	assert.NotEqual(t, inline.SQL, batched.SQL)
}

func TestRunAll(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "broken.yaml", "name: broken\n")
	writeScenario(t, dir, "failing.yaml", `
name: failing
description: A literal that does not match.
model: `+testutil.GearsOfWarDir()+`
strategies: [inline]
cases:
  - name: wrong_count
    query: Set<Gear>().Count()
    expect: 4
  - name: right_count
    query: Set<Gear>().Count()
    expect: 5
`)

	paths, err := Discover(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "broken.yaml"), filepath.Join(dir, "failing.yaml")}, paths)

	suite, err := New().RunAll(context.Background(), paths)
	require.NoError(t, err)
	assert.False(t, suite.Pass())
	assert.Equal(t, 2, suite.TotalScenarios)
	assert.Equal(t, 2, suite.TotalCases)
	assert.Equal(t, 1, suite.Passed)
	assert.Equal(t, 1, suite.Failed)
	require.Len(t, suite.Failures, 2)
	assert.Contains(t, suite.Failures[0].Error, "description is required")
	assert.Equal(t, "wrong_count", suite.Failures[1].Case)
	assert.Contains(t, suite.Failures[1].Error, "result mismatch")
}

func TestRun_ExpectedErrorMissing(t *testing.T) {
	scenario := loadInline(t, `
name: missing_error
description: Expects an error the query does not raise.
model: `+testutil.GearsOfWarDir()+`
strategies: [batched]
cases:
  - name: no_error
    query: Set<Gear>().First()
    expect_error: INVALID_OPERATION
`)
	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Failures(), 1)
	assert.Contains(t, result.Failures()[0].Error, "query succeeded")
}

func TestAssertPlanGolden(t *testing.T) {
	cat := testutil.GearsOfWar(t)
	query := `Set<Gear>().OrderBy(g => g.Nickname).Select(g => new { g.Nickname, Weapons = g.Weapons.ToList() })`
	dir := t.TempDir()

	for _, mode := range []correlate.Mode{correlate.ModeInline, correlate.ModeBatched} {
		first, err := translator.New(cat, translator.WithStrategy(mode)).Compile(queryir.MustParse(query), nil)
		require.NoError(t, err)
		require.NoError(t, UpdatePlanGolden(t, "weapons."+string(mode), first, goldie.WithFixtureDir(dir)))

		second, err := translator.New(cat, translator.WithStrategy(mode)).Compile(queryir.MustParse(query), nil)
		require.NoError(t, err)
		AssertPlanGolden(t, "weapons."+string(mode), second, goldie.WithFixtureDir(dir))
	}

	data, err := os.ReadFile(filepath.Join(dir, "weapons.batched.golden"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "collection batched")
}

func TestAssertResultGolden(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join(scenarioDir, "nested_collections.yaml"))
	require.NoError(t, err)
	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	dir := t.TempDir()
	for _, c := range result.Cases {
		if c.Plan == "" {
			continue
		}
		path := filepath.Join(dir, goldenName(result.Scenario, c)+".golden")
		require.NoError(t, os.WriteFile(path, []byte(c.Plan), 0o644))
	}
	AssertResultGolden(t, result, goldie.WithFixtureDir(dir))
}

func writeScenario(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func loadInline(t *testing.T, content string) *Scenario {
	t.Helper()
	s, err := LoadScenario(writeScenario(t, t.TempDir(), "scenario.yaml", content))
	require.NoError(t, err)
	return s
}
