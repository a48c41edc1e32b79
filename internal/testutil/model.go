package testutil

import (
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/navq/internal/catalog"
	"github.com/roach88/navq/internal/compiler"
)

// GearsOfWarDir returns the directory holding the Gears of War model and
// seed, independent of the calling test's working directory.
func GearsOfWarDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "testdata", "gearsofwar")
}

var (
	gowOnce    sync.Once
	gowCatalog *catalog.Catalog
	gowErr     error
)

// GearsOfWar returns the catalog of the Gears of War test model. The model
// is compiled once per test binary; catalogs are immutable, so sharing is
// safe.
func GearsOfWar(t testing.TB) *catalog.Catalog {
	t.Helper()
	gowOnce.Do(func() {
		spec, err := compiler.LoadModel(filepath.Join(GearsOfWarDir(), "model.cue"))
		if err != nil {
			gowErr = err
			return
		}
		gowCatalog, gowErr = catalog.Build(spec)
	})
	require.NoError(t, gowErr)
	return gowCatalog
}

// Entity looks up an entity type, failing the test when it is missing.
func Entity(t testing.TB, cat *catalog.Catalog, name string) *catalog.EntityType {
	t.Helper()
	e, ok := cat.Entity(name)
	require.True(t, ok, "entity %s", name)
	return e
}
