package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/navq/internal/testutil"
)

var scenarioDir = filepath.Join("..", "..", "testdata", "scenarios")

func writeTestScenario(t *testing.T, dir, name, expect string) string {
	t.Helper()
	content := `name: ` + name + `
description: Counts gears.
model: ` + testutil.GearsOfWarDir() + `
strategies: [inline, batched]
cases:
  - name: count
    query: Set<Gear>().Count()
    expect: ` + expect + `
  - name: weapons
    query: Set<Gear>().OrderBy(g => g.Nickname).Select(g => g.Weapons.ToList())
    assert_order: true
`
	path := filepath.Join(dir, name+".yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRunScenarios(t *testing.T) {
	output, err := execute(t, "--config", writeConfig(t, ""), "test", scenarioDir, "--no-color")
	require.NoError(t, err)

	assert.Contains(t, output, "✓ nested_collections")
	assert.Contains(t, output, "✓ grouping")
	assert.Contains(t, output, "Test Summary: 5 passed, 0 failed, 5 total")
	assert.Contains(t, output, "✓ All scenarios passed")
}

func TestRunScenariosFilter(t *testing.T) {
	output, err := execute(t, "--config", writeConfig(t, ""), "test", scenarioDir, "--filter", "term*", "--no-color")
	require.NoError(t, err)
	assert.Contains(t, output, "✓ terminals")
	assert.NotContains(t, output, "grouping")
	assert.Contains(t, output, "1 total")
}

func TestRunScenariosNoMatch(t *testing.T) {
	output, err := execute(t, "--config", writeConfig(t, ""), "test", scenarioDir, "--filter", "nothing*")
	require.NoError(t, err)
	assert.Contains(t, output, "No scenarios found.")
}

func TestRunScenariosMissingPath(t *testing.T) {
	_, err := execute(t, "--config", writeConfig(t, ""), "test", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunScenariosFailure(t *testing.T) {
	dir := t.TempDir()
	writeTestScenario(t, dir, "wrong", "4")

	output, err := execute(t, "--config", writeConfig(t, ""), "--format", "json", "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string    `json:"status"`
		Error  *CLIError `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_TEST_FAILED", resp.Error.Code)

	details, err := json.Marshal(resp.Error.Details)
	require.NoError(t, err)
	var result TestResult
	require.NoError(t, json.Unmarshal(details, &result))
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Scenarios, 1)
	assert.Equal(t, 4, result.Scenarios[0].Cases)
	require.Len(t, result.Scenarios[0].Errors, 2)
	assert.Contains(t, result.Scenarios[0].Errors[0], "count [inline]")
}

func TestRunScenariosGolden(t *testing.T) {
	dir := t.TempDir()
	writeTestScenario(t, dir, "gears", "5")
	cfg := writeConfig(t, "")

	output, err := execute(t, "--config", cfg, "test", dir, "--update", "--no-color")
	require.NoError(t, err)
	assert.Contains(t, output, "golden updated")

	golden := filepath.Join(dir, "golden", "gears.golden")
	data, err := os.ReadFile(golden)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"weapons.batched"`)
	assert.Contains(t, string(data), `"scenario":"gears"`)

	_, err = execute(t, "--config", cfg, "test", dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(golden, []byte(`{"plans":{},"scenario":"gears"}`), 0o644))
	output, err = execute(t, "--config", cfg, "test", dir, "--no-color")
	require.Error(t, err)
	assert.Contains(t, output, "plans do not match golden file")
}
