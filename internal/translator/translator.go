package translator

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/navq/internal/catalog"
	"github.com/roach88/navq/internal/correlate"
	"github.com/roach88/navq/internal/ir"
	"github.com/roach88/navq/internal/methods"
	"github.com/roach88/navq/internal/navexpand"
	"github.com/roach88/navq/internal/nullsem"
	"github.com/roach88/navq/internal/plan"
	"github.com/roach88/navq/internal/queryir"
	"github.com/roach88/navq/internal/querysql"
)

// ParamSet binds query parameters by name. Only the null-ness and kind of
// each value influence compilation; the values themselves are supplied
// again at execution.
type ParamSet map[string]ir.IRValue

// Compiler turns query trees into executable plans for one catalog.
// It is safe for concurrent use.
type Compiler struct {
	cat      *catalog.Catalog
	cache    *Cache
	methods  *methods.Registry
	strategy correlate.Mode
	logger   *slog.Logger
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithCache sets the plan cache. Without one every call compiles.
func WithCache(c *Cache) Option {
	return func(comp *Compiler) {
		comp.cache = c
	}
}

// WithStrategy sets how nested collections are fetched.
func WithStrategy(m correlate.Mode) Option {
	return func(comp *Compiler) {
		comp.strategy = m
	}
}

// WithMethods sets the method registry.
func WithMethods(r *methods.Registry) Option {
	return func(comp *Compiler) {
		comp.methods = r
	}
}

// WithLogger sets the logger for compilation diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(comp *Compiler) {
		comp.logger = l
	}
}

// New returns a compiler over cat.
func New(cat *catalog.Catalog, opts ...Option) *Compiler {
	c := &Compiler{
		cat:      cat,
		methods:  methods.Default(),
		strategy: correlate.ModeAuto,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Catalog returns the catalog plans are compiled against.
func (c *Compiler) Catalog() *catalog.Catalog {
	return c.cat
}

// Compile expands n, normalizes its null semantics for the null-ness of
// params and renders SQL for it and every nested batched plan. Plans are
// cached by query shape, parameter null-ness and strategy; a cached plan
// is shared and must not be modified.
func (c *Compiler) Compile(n queryir.Node, params ParamSet) (*plan.Plan, error) {
	key, err := c.cacheKey(n, params)
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		if p, ok := c.cache.Get(key); ok {
			c.logger.Debug("plan cache hit", "key", key[:12])
			return p, nil
		}
	}

	start := time.Now()
	kinds := make(map[string]ir.Kind, len(params))
	nullness := make(map[string]nullsem.Nullness, len(params))
	for name, v := range params {
		if ir.IsNull(v) {
			nullness[name] = nullsem.Null
			continue
		}
		nullness[name] = nullsem.NonNull
		kinds[name] = ir.KindOf(v)
	}

	x := navexpand.New(c.cat,
		navexpand.WithMethods(c.methods),
		navexpand.WithPlanner(correlate.Planner{Mode: c.strategy}),
		navexpand.WithParameterKinds(kinds),
		navexpand.WithLogger(c.logger),
	)
	p, err := x.Expand(n)
	if err != nil {
		return nil, err
	}
	if err := c.finish(p, nullness); err != nil {
		return nil, err
	}
	p.Fingerprint = key

	c.logger.Debug("plan compiled",
		"key", key[:12],
		"duration", time.Since(start),
		"batched", countBatched(p),
	)
	if c.cache != nil {
		c.cache.Put(key, p)
	}
	return p, nil
}

// finish normalizes p and renders its SQL, then does the same for the
// batched plans nested in it.
func (c *Compiler) finish(p *plan.Plan, nullness map[string]nullsem.Nullness) error {
	norm := nullsem.New(nullness)
	for alias, cols := range p.Identities {
		norm.Identify(alias, cols...)
	}
	p.Select = norm.Select(p.Select)

	sql, names, err := querysql.Emit(p.Select)
	if err != nil {
		return fmt.Errorf("emit sql: %w", err)
	}
	p.SQL, p.Parameters = sql, names

	for _, coll := range plan.Collections(p.Shaper) {
		if coll.Strategy != correlate.Batched {
			continue
		}
		if err := c.finish(coll.Plan, nullness); err != nil {
			return err
		}
	}
	return nil
}

// cacheKey hashes the query shape together with everything else that
// changes the compiled plan.
func (c *Compiler) cacheKey(n queryir.Node, params ParamSet) (string, error) {
	pattern := ir.IRObject{}
	for name, v := range params {
		if ir.IsNull(v) {
			pattern[name] = ir.IRString("null")
			continue
		}
		pattern[name] = ir.IRString("nonnull:" + string(ir.KindOf(v)))
	}
	key, err := ir.ShapeHash(ir.IRObject{
		"query":    queryir.Shape(n),
		"params":   pattern,
		"strategy": ir.IRString(string(c.strategy)),
	})
	if err != nil {
		return "", fmt.Errorf("plan cache key: %w", err)
	}
	return key, nil
}

func countBatched(p *plan.Plan) int {
	n := 0
	for _, coll := range plan.Collections(p.Shaper) {
		if coll.Strategy == correlate.Batched {
			n += 1 + countBatched(coll.Plan)
		}
	}
	return n
}
