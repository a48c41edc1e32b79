package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/navq/internal/catalog"
	"github.com/roach88/navq/internal/compiler"
	"github.com/roach88/navq/internal/correlate"
	"github.com/roach88/navq/internal/engine"
	"github.com/roach88/navq/internal/fixture"
	"github.com/roach88/navq/internal/ir"
	"github.com/roach88/navq/internal/plan"
	"github.com/roach88/navq/internal/queryir"
	"github.com/roach88/navq/internal/store"
	"github.com/roach88/navq/internal/translator"
)

// Harness runs scenarios. Each run gets a fresh in-memory database seeded
// from the scenario's fixture, so runs are isolated and repeatable.
type Harness struct {
	logger     *slog.Logger
	maxQueries int
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger sets the logger handed to the translator and executor.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = l
	}
}

// WithMaxQueries sets the per-execution query quota.
func WithMaxQueries(n int) Option {
	return func(h *Harness) {
		h.maxQueries = n
	}
}

// New creates a Harness.
func New(opts ...Option) *Harness {
	h := &Harness{
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		maxQueries: engine.DefaultMaxQueries,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run executes a scenario with default options.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	return New().Run(ctx, scenario)
}

// run is the state of one scenario run.
type run struct {
	h     *Harness
	cat   *catalog.Catalog
	graph *fixture.Graph
	store *store.Store
	clock *engine.Clock
	cache *translator.Cache
}

// Run executes every case of the scenario under each of its strategies.
// The returned error reports a scenario that could not be set up; case
// failures are recorded in the Result.
func (h *Harness) Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	spec, err := compiler.LoadModel(scenario.ModelFile())
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	cat, err := catalog.Build(spec)
	if err != nil {
		return nil, fmt.Errorf("build catalog: %w", err)
	}
	graph, err := fixture.LoadSeed(scenario.Seed, cat)
	if err != nil {
		return nil, fmt.Errorf("load seed: %w", err)
	}

	st, err := store.Open(store.MemoryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()
	if err := graph.Seed(ctx, st); err != nil {
		return nil, fmt.Errorf("seed store: %w", err)
	}

	r := &run{
		h:     h,
		cat:   cat,
		graph: graph,
		store: st,
		clock: engine.NewClock(),
		cache: translator.NewCache(0),
	}
	result := NewResult(scenario.Name)
	for _, c := range scenario.Cases {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		expected, expectErr := r.expectation(ctx, c)
		for _, mode := range scenario.Strategies {
			cr := r.runCase(ctx, c, mode, expected, expectErr)
			h.logger.Debug("case finished",
				"scenario", scenario.Name,
				"case", c.Name,
				"strategy", mode,
				"pass", cr.Pass,
				"queries", cr.Queries,
			)
			result.Add(cr)
		}
	}
	return result, nil
}

// expectation returns the expected result of a case: the literal, or the
// in-memory evaluation. An evaluation error is returned as the second
// value so the case can check it against expect_error.
func (r *run) expectation(ctx context.Context, c Case) (any, error) {
	if c.Expect != nil {
		return c.Expect, nil
	}
	n, err := queryir.Parse(c.Query)
	if err != nil {
		return nil, err
	}
	return engine.Evaluate(ctx, n, r.graph, c.Params)
}

func (r *run) runCase(ctx context.Context, c Case, mode correlate.Mode, expected any, evalErr error) CaseResult {
	cr := CaseResult{Name: c.Name, Strategy: mode}
	fail := func(format string, args ...any) CaseResult {
		cr.Pass = false
		cr.Error = fmt.Sprintf(format, args...)
		return cr
	}

	p, err := r.compile(c, mode)
	if err != nil {
		if c.ExpectError != "" && errorCode(err) == c.ExpectError {
			cr.Pass = true
			return cr
		}
		return fail("translate: %v", err)
	}
	cr.SQL = p.SQL
	cr.Plan = plan.Describe(p)

	seq := r.clock.Current()
	exec := engine.NewExecutor(r.store,
		engine.WithLogger(r.h.logger),
		engine.WithMaxQueries(r.h.maxQueries),
		engine.WithHistory(r.clock),
	)
	actual, err := exec.Execute(ctx, p, c.Params)
	cr.Queries = r.queries(ctx, seq)

	if c.ExpectError != "" {
		switch {
		case err == nil:
			return fail("expected %s, query succeeded", c.ExpectError)
		case errorCode(err) != c.ExpectError:
			return fail("expected %s, got %v", c.ExpectError, err)
		case c.Expect == nil && errorCode(evalErr) != c.ExpectError:
			return fail("in-memory evaluation: expected %s, got %v", c.ExpectError, evalErr)
		}
		cr.Pass = true
		return cr
	}
	if err != nil {
		return fail("execute: %v", err)
	}
	if evalErr != nil {
		return fail("in-memory evaluation: %v", evalErr)
	}
	if err := Compare(expected, actual, nil, nil, c.AssertOrder); err != nil {
		return fail("%v", err)
	}
	cr.Pass = true
	return cr
}

func (r *run) compile(c Case, mode correlate.Mode) (*plan.Plan, error) {
	n, err := queryir.Parse(c.Query)
	if err != nil {
		return nil, err
	}
	params := translator.ParamSet{}
	for name, v := range c.Params {
		iv, err := ir.FromNative(v)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", name, err)
		}
		params[name] = iv
	}
	comp := translator.New(r.cat,
		translator.WithStrategy(mode),
		translator.WithCache(r.cache),
		translator.WithLogger(r.h.logger),
	)
	return comp.Compile(n, params)
}

// queries reads the query count of the execution logged after seq.
func (r *run) queries(ctx context.Context, seq int64) int {
	log, err := r.store.ReadExecutions(ctx)
	if err != nil {
		return 0
	}
	for _, e := range log {
		if e.Seq > seq {
			return e.Queries
		}
	}
	return 0
}

// errorCode returns the translation kind or runtime code of err.
func errorCode(err error) string {
	if err == nil {
		return ""
	}
	var te *queryir.TranslationError
	if errors.As(err, &te) {
		return string(te.Kind)
	}
	var re *engine.RuntimeError
	if errors.As(err, &re) {
		return string(re.Code)
	}
	if engine.IsQuotaError(err) {
		return string(engine.ErrCodeQuotaExceeded)
	}
	return ""
}
