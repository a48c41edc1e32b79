package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/navq/internal/correlate"
	"github.com/roach88/navq/internal/engine"
	"github.com/roach88/navq/internal/translator"
)

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".git"), 0o755))

	cfg, path, err := load("", dir)
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Equal(t, ":memory:", cfg.Database.Path)
	assert.Equal(t, translator.DefaultMaxPlans, cfg.Cache.MaxPlans)
	assert.Equal(t, engine.DefaultMaxQueries, cfg.Collections.MaxQueries)
	assert.Equal(t, correlate.ModeAuto, cfg.Strategy())
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Empty(t, cfg.SeedPath())
}

func TestLoad_DiscoversFileUpward(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "navq.yaml"), []byte(`
model:
  dir: model
database:
  path: navq.db
collections:
  strategy: batched
  max_queries: 50
log:
  level: debug
`), 0o644))
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	cfg, path, err := load("", nested)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "navq.yaml"), path)
	assert.Equal(t, filepath.Join(root, "model"), cfg.Model.Dir)
	assert.Equal(t, filepath.Join(root, "model", "seed.yaml"), cfg.SeedPath())
	assert.Equal(t, filepath.Join(root, "navq.db"), cfg.Database.Path)
	assert.Equal(t, correlate.ModeBatched, cfg.Strategy())
	assert.Equal(t, 50, cfg.Collections.MaxQueries)

	level, err := ParseLevel(cfg.Log.Level)
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("collections:\n  strategy: batched\n"), 0o644))
	t.Setenv("NAVQ_COLLECTIONS_STRATEGY", "inline")
	t.Setenv("NAVQ_CACHE_MAX_PLANS", "7")

	cfg, got, err := load(path, root)
	require.NoError(t, err)
	assert.Equal(t, path, got)
	assert.Equal(t, correlate.ModeInline, cfg.Strategy())
	assert.Equal(t, 7, cfg.Cache.MaxPlans)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"strategy", "collections:\n  strategy: split\n", "collections.strategy"},
		{"level", "log:\n  level: loud\n", "log.level"},
		{"format", "log:\n  format: xml\n", "log.format"},
		{"max plans", "cache:\n  max_plans: -1\n", "cache.max_plans"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "navq.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))
			_, _, err := load(path, filepath.Dir(path))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, _, err := load(filepath.Join(t.TempDir(), "missing.yaml"), "")
	assert.ErrorContains(t, err, "config file not found")
}
