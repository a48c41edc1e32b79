// Package config loads navq settings from defaults, NAVQ_* environment
// variables and a navq.yaml file discovered upward from the working
// directory.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/roach88/navq/internal/correlate"
	"github.com/roach88/navq/internal/engine"
	"github.com/roach88/navq/internal/translator"
)

const maxWalkDepth = 25

// FileNames are the config file names looked for in each directory.
var FileNames = []string{"navq.yaml", "navq.yml"}

// Config is the navq configuration.
type Config struct {
	Model       ModelConfig       `mapstructure:"model"`
	Fixture     FixtureConfig     `mapstructure:"fixture"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Collections CollectionsConfig `mapstructure:"collections"`
	Log         LogConfig         `mapstructure:"log"`
}

// ModelConfig locates the CUE model.
type ModelConfig struct {
	Dir string `mapstructure:"dir"`
}

// FixtureConfig locates the seed file.
type FixtureConfig struct {
	Seed string `mapstructure:"seed"`
}

// DatabaseConfig holds the SQLite settings.
type DatabaseConfig struct {
	// Path is the SQLite file, or ":memory:".
	Path string `mapstructure:"path"`
}

// CacheConfig bounds the plan cache.
type CacheConfig struct {
	MaxPlans int `mapstructure:"max_plans"`
}

// CollectionsConfig controls correlated collection loading.
type CollectionsConfig struct {
	Strategy   string `mapstructure:"strategy"`
	MaxQueries int    `mapstructure:"max_queries"`
}

// LogConfig controls the CLI logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load discovers and loads configuration with precedence
// env > config file > defaults. Relative model and fixture paths in a
// config file are resolved against the file's directory.
//
// Returns the loaded config, the path of the config file (empty if none
// was found), and any error encountered.
func Load(explicitPath string) (*Config, string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, "", fmt.Errorf("getting cwd: %w", err)
	}
	return load(explicitPath, cwd)
}

func load(explicitPath, cwd string) (*Config, string, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("NAVQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path, err := findConfigFile(explicitPath, cwd)
	if err != nil {
		return nil, "", err
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, path, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, path, fmt.Errorf("unmarshaling config: %w", err)
	}
	if path != "" {
		base := filepath.Dir(path)
		cfg.Model.Dir = resolve(base, cfg.Model.Dir)
		cfg.Fixture.Seed = resolve(base, cfg.Fixture.Seed)
		if cfg.Database.Path != ":memory:" {
			cfg.Database.Path = resolve(base, cfg.Database.Path)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}
	return &cfg, path, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("model.dir", "")
	v.SetDefault("fixture.seed", "")
	v.SetDefault("database.path", ":memory:")
	v.SetDefault("cache.max_plans", translator.DefaultMaxPlans)
	v.SetDefault("collections.strategy", string(correlate.ModeAuto))
	v.SetDefault("collections.max_queries", engine.DefaultMaxQueries)
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "text")
}

// findConfigFile returns explicitPath when given. Otherwise it walks up
// from cwd looking for navq.yaml or navq.yml, stopping at a .git entry or
// after maxWalkDepth levels.
func findConfigFile(explicitPath, cwd string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicitPath)
		}
		return explicitPath, nil
	}

	dir := cwd
	for i := 0; i < maxWalkDepth; i++ {
		for _, name := range FileNames {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	if _, err := correlate.ParseMode(c.Collections.Strategy); err != nil {
		return fmt.Errorf("collections.strategy: %w", err)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format: unknown format %q (want text or json)", c.Log.Format)
	}
	if c.Cache.MaxPlans < 0 {
		return fmt.Errorf("cache.max_plans: must be non-negative, got %d", c.Cache.MaxPlans)
	}
	return nil
}

// Strategy returns the configured collection strategy.
func (c *Config) Strategy() correlate.Mode {
	m, _ := correlate.ParseMode(c.Collections.Strategy)
	return m
}

// SeedPath returns the fixture seed, defaulting to seed.yaml in the model
// directory.
func (c *Config) SeedPath() string {
	if c.Fixture.Seed != "" || c.Model.Dir == "" {
		return c.Fixture.Seed
	}
	return filepath.Join(c.Model.Dir, "seed.yaml")
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown level %q", s)
	}
	return l, nil
}
