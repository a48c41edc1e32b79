package engine

import (
	"context"
	"math"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/navq/internal/correlate"
	"github.com/roach88/navq/internal/fixture"
	"github.com/roach88/navq/internal/ir"
	"github.com/roach88/navq/internal/object"
	"github.com/roach88/navq/internal/queryir"
	"github.com/roach88/navq/internal/store"
	"github.com/roach88/navq/internal/testutil"
	"github.com/roach88/navq/internal/translator"
)

// gearsOfWar is a seeded in-memory database with its object graph.
type gearsOfWar struct {
	graph *fixture.Graph
	store *store.Store
}

func setupGearsOfWar(t *testing.T) *gearsOfWar {
	t.Helper()
	cat := testutil.GearsOfWar(t)
	g, err := fixture.LoadSeed(filepath.Join(testutil.GearsOfWarDir(), "seed.yaml"), cat)
	require.NoError(t, err)

	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, g.Seed(context.Background(), s))
	return &gearsOfWar{graph: g, store: s}
}

// execute compiles and runs query with the given collection strategy.
func (db *gearsOfWar) execute(t *testing.T, mode correlate.Mode, query string, params map[string]any, opts ...Option) (any, error) {
	t.Helper()
	ps := translator.ParamSet{}
	for name, v := range params {
		iv, err := ir.FromNative(v)
		require.NoError(t, err)
		ps[name] = iv
	}
	c := translator.New(db.graph.Catalog(), translator.WithStrategy(mode))
	p, err := c.Compile(queryir.MustParse(query), ps)
	require.NoError(t, err, query)
	return NewExecutor(db.store, opts...).Execute(context.Background(), p, params)
}

func (db *gearsOfWar) evaluate(t *testing.T, query string, params map[string]any) (any, error) {
	t.Helper()
	return Evaluate(context.Background(), queryir.MustParse(query), db.graph, params)
}

// canonical renders a result for comparison. Integral floats read as
// integers and, unless ordered, every list is sorted.
func canonical(t *testing.T, v any, ordered bool) string {
	t.Helper()
	iv, err := object.ToIR(v)
	require.NoError(t, err)
	data, err := ir.MarshalCanonical(normalizeIR(t, iv, ordered))
	require.NoError(t, err)
	return string(data)
}

func normalizeIR(t *testing.T, v ir.IRValue, ordered bool) ir.IRValue {
	switch v := v.(type) {
	case ir.IRFloat:
		f := math.Round(float64(v)*1e9) / 1e9
		if f == math.Trunc(f) {
			return ir.IRInt(int64(f))
		}
		return ir.IRFloat(f)
	case ir.IRObject:
		out := make(ir.IRObject, len(v))
		for k, e := range v {
			out[k] = normalizeIR(t, e, ordered)
		}
		return out
	case ir.IRArray:
		out := make(ir.IRArray, len(v))
		keys := make([]string, len(v))
		for i, e := range v {
			out[i] = normalizeIR(t, e, ordered)
			data, err := ir.MarshalCanonical(out[i])
			require.NoError(t, err)
			keys[i] = string(data)
		}
		if !ordered {
			sort.Sort(byKey{out, keys})
		}
		return out
	}
	return v
}

type byKey struct {
	vals ir.IRArray
	keys []string
}

func (b byKey) Len() int           { return len(b.vals) }
func (b byKey) Less(i, j int) bool { return b.keys[i] < b.keys[j] }
func (b byKey) Swap(i, j int) {
	b.vals[i], b.vals[j] = b.vals[j], b.vals[i]
	b.keys[i], b.keys[j] = b.keys[j], b.keys[i]
}
