package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/navq/internal/catalog"
	"github.com/roach88/navq/internal/compiler"
	"github.com/roach88/navq/internal/fixture"
	"github.com/roach88/navq/internal/ir"
	"github.com/roach88/navq/internal/store"
)

// LoadError is a model, fixture or database that could not be loaded.
type LoadError struct {
	Code    string
	Message string
	Err     error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Workspace is a loaded model with its seeded database.
type Workspace struct {
	Spec    *ir.ModelSpec
	Catalog *catalog.Catalog
	Graph   *fixture.Graph // nil when no seed is configured
	Store   *store.Store
}

// Close releases the database.
func (w *Workspace) Close() error {
	if w.Store == nil {
		return nil
	}
	return w.Store.Close()
}

// modelDir returns the model directory from the first argument, falling
// back to model.dir from the configuration.
func (o *RootOptions) modelDir(args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	if o.Config != nil && o.Config.Model.Dir != "" {
		return o.Config.Model.Dir, nil
	}
	return "", &LoadError{Code: ErrCodeNotFound, Message: "no model directory: pass one or set model.dir"}
}

// LoadModel compiles the CUE model in dir without validating it.
func LoadModel(dir string) (*ir.ModelSpec, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("model not found: %s", dir)}
	}
	path := dir
	if info.IsDir() {
		if file := filepath.Join(dir, "model.cue"); fileExists(file) {
			path = file
		}
	}
	spec, err := compiler.LoadModel(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: "compiling model", Err: err}
	}
	return spec, nil
}

// LoadCatalog compiles, validates and builds the model in dir.
func LoadCatalog(dir string) (*ir.ModelSpec, *catalog.Catalog, error) {
	spec, err := LoadModel(dir)
	if err != nil {
		return nil, nil, err
	}
	cat, err := catalog.Build(spec)
	if err != nil {
		return nil, nil, &LoadError{Code: ErrCodeInvalidModel, Message: "building catalog", Err: err}
	}
	return spec, cat, nil
}

// openWorkspace loads the model and opens the configured database. The
// seed is loaded when configured; it is written to the database when the
// database is in memory or seed is set.
func openWorkspace(ctx context.Context, o *RootOptions, dir string, seed bool) (*Workspace, error) {
	spec, cat, err := LoadCatalog(dir)
	if err != nil {
		return nil, err
	}
	ws := &Workspace{Spec: spec, Catalog: cat}

	seedPath := o.Config.SeedPath()
	if seedPath == "" {
		if file := filepath.Join(dir, "seed.yaml"); fileExists(file) {
			seedPath = file
		}
	}
	if seedPath != "" {
		ws.Graph, err = fixture.LoadSeed(seedPath, cat)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeSeedFailed, Message: "loading seed", Err: err}
		}
	}

	dbPath := o.Config.Database.Path
	ws.Store, err = store.Open(dbPath)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: "opening database", Err: err}
	}
	if err := ws.Store.CreateSchema(ctx, cat); err != nil {
		ws.Close()
		return nil, &LoadError{Code: ErrCodeSeedFailed, Message: "creating schema", Err: err}
	}
	if ws.Graph != nil && (ws.Store.InMemory() || seed) {
		if err := ws.Graph.Seed(ctx, ws.Store); err != nil {
			ws.Close()
			return nil, &LoadError{Code: ErrCodeSeedFailed, Message: "seeding database", Err: err}
		}
		o.Logger.Debug("database seeded", "path", dbPath, "entities", ws.Graph.Len())
	}
	return ws, nil
}

// parseParams parses name=value pairs. Values are read as YAML scalars,
// so 2 is an integer, 2.5 a float, null a null and anything else a string.
func parseParams(pairs []string) (map[string]any, error) {
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("parameter %q: want name=value", pair)
		}
		if raw == "" {
			params[name] = ""
			continue
		}
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("parameter %s: %w", name, err)
		}
		switch v.(type) {
		case nil, string, int, float64, bool:
		default:
			v = raw
		}
		params[name] = v
	}
	return params, nil
}

// loadErrorCode returns the CLI error code of a load failure.
func loadErrorCode(err error) string {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Code
	}
	return ErrCodeGeneric
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
