package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const weaponsQuery = `Set<Gear>().OrderBy(g => g.Nickname).Select(g => new { g.Nickname, Weapons = g.Weapons.Count() })`

func TestPlanText(t *testing.T) {
	output, err := execute(t, "--config", writeConfig(t, ""), "plan",
		`Set<Gear>().Where(g => g.Rank >= @rank).Select(g => g.Nickname)`, "--param", "rank=1")
	require.NoError(t, err)

	assert.Contains(t, output, "SQL: SELECT")
	assert.Contains(t, output, "Parameters: rank")
	assert.Contains(t, output, "Terminal: ToList")
}

func TestPlanStrategies(t *testing.T) {
	cfg := writeConfig(t, "")
	query := `Set<Gear>().Select(g => g.Weapons.ToList())`

	batched, err := execute(t, "--config", cfg, "plan", query, "--strategy", "batched")
	require.NoError(t, err)
	assert.Contains(t, batched, "collection batched")

	inline, err := execute(t, "--config", cfg, "plan", query, "--strategy", "inline")
	require.NoError(t, err)
	assert.NotContains(t, inline, "collection batched")
}

func TestPlanStrategyFromConfig(t *testing.T) {
	cfg := writeConfig(t, "collections:\n  strategy: batched\n")
	output, err := execute(t, "--config", cfg, "--format", "json", "plan", `Set<Gear>().Select(g => g.Weapons.ToList())`)
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   PlanResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "batched", resp.Data.Strategy)
	assert.NotEmpty(t, resp.Data.SQL)
	assert.NotEmpty(t, resp.Data.Fingerprint)
	assert.Contains(t, resp.Data.Plan, "collection batched")
}

func TestPlanUnknownStrategy(t *testing.T) {
	_, err := execute(t, "--config", writeConfig(t, ""), "plan", `Set<Gear>().Count()`, "--strategy", "eager")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestPlanTranslationError(t *testing.T) {
	output, err := execute(t, "--config", writeConfig(t, ""), "plan",
		`Set<Faction>().Select(f => f.Commander.ThreatLevel)`)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, output, "Error [E020]")
}

func TestPlanBadParam(t *testing.T) {
	output, err := execute(t, "--config", writeConfig(t, ""), "plan", `Set<Gear>().Count()`, "--param", "rank")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, output, "Error [E012]")
}

func TestRunTable(t *testing.T) {
	output, err := execute(t, "--config", writeConfig(t, ""), "run", weaponsQuery)
	require.NoError(t, err)

	assert.Contains(t, output, "Nickname")
	assert.Contains(t, output, "Weapons")
	assert.Contains(t, output, "Cole Train")
	assert.Contains(t, output, "_5 rows_")
}

func TestRunJSON(t *testing.T) {
	for _, strategy := range []string{"inline", "batched"} {
		t.Run(strategy, func(t *testing.T) {
			output, err := execute(t, "--config", writeConfig(t, ""), "--format", "json", "run",
				`Set<Gear>().Where(g => g.Nickname == "Paduk").Select(g => g.Weapons.OrderBy(w => w.Id).Select(w => w.Name).ToList())`,
				"--strategy", strategy)
			require.NoError(t, err)

			var resp struct {
				Status string         `json:"status"`
				Data   map[string]any `json:"data"`
			}
			require.NoError(t, json.Unmarshal([]byte(output), &resp))
			assert.Equal(t, "ok", resp.Status)
			assert.Equal(t, strategy, resp.Data["strategy"])
			assert.Equal(t, []any{[]any{"Paduk's Markza", "foo", nil}}, resp.Data["result"])
		})
	}
}

func TestRunParameters(t *testing.T) {
	output, err := execute(t, "--config", writeConfig(t, ""), "--format", "json", "run",
		`Set<Gear>().Where(g => g.Rank >= @rank).Count()`, "-p", "rank=1")
	require.NoError(t, err)

	var resp struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, float64(3), resp.Data["result"])
}

func TestRunRuntimeError(t *testing.T) {
	output, err := execute(t, "--config", writeConfig(t, ""), "--format", "json", "run",
		`Set<Gear>().Where(g => g.Nickname == "Nobody").First()`)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeRuntime, resp.Error.Code)
	details, ok := resp.Error.Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "INVALID_OPERATION", details["kind"])
}

func TestRunQuota(t *testing.T) {
	cfg := writeConfig(t, "collections:\n  strategy: batched\n  max_queries: 2\n")
	_, err := execute(t, "--config", cfg, "run", `Set<Gear>().Select(g => g.Weapons.ToList())`)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "QUOTA_EXCEEDED")
}

func TestRunFileDatabaseAndHistory(t *testing.T) {
	cfg := writeConfig(t, "database:\n  path: navq.db\n")
	db := filepath.Join(filepath.Dir(cfg), "navq.db")

	_, err := execute(t, "--config", cfg, "run", `Set<Gear>().Count()`, "--seed")
	require.NoError(t, err)
	assert.FileExists(t, db)

	// Seeded data persists without --seed.
	output, err := execute(t, "--config", cfg, "--format", "json", "run", `Set<Weapon>().Count()`)
	require.NoError(t, err)
	assert.Contains(t, output, `"result": 12`)

	_, err = execute(t, "--config", cfg, "run", `Set<Gear>().Single()`)
	require.Error(t, err)

	output, err = execute(t, "--config", cfg, "--format", "json", "history")
	require.NoError(t, err)
	var resp struct {
		Status string           `json:"status"`
		Data   []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	require.Len(t, resp.Data, 3)
	assert.Equal(t, "ok", resp.Data[0]["outcome"])
	assert.Equal(t, float64(1), resp.Data[0]["seq"])
	assert.Equal(t, float64(2), resp.Data[1]["seq"])
	assert.Equal(t, "INVALID_OPERATION", resp.Data[2]["outcome"])

	output, err = execute(t, "--config", cfg, "history", "--failed", "--sql")
	require.NoError(t, err)
	assert.Contains(t, output, "INVALID_OPERATION")
	assert.Contains(t, output, "_1 rows_")

	output, err = execute(t, "--config", cfg, "--format", "json", "history", "--limit", "1")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, float64(3), resp.Data[0]["seq"])
}

func TestHistoryInMemoryIsEmpty(t *testing.T) {
	output, err := execute(t, "--config", writeConfig(t, ""), "history")
	require.NoError(t, err)
	assert.Contains(t, output, "_No rows_")
}
