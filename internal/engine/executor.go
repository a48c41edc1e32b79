package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/roach88/navq/internal/catalog"
	"github.com/roach88/navq/internal/plan"
	"github.com/roach88/navq/internal/store"
)

// Executor runs compiled plans against a store and materializes results.
//
// An Executor holds no per-execution state and is safe for concurrent use
// as far as the store is: the store serializes statements on one
// connection.
type Executor struct {
	store      *store.Store
	logger     *slog.Logger
	maxQueries int

	// clock is non-nil when executions are recorded in the store's
	// execution log.
	clock *Clock
	newID func() string
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *slog.Logger) Option {
	return func(x *Executor) {
		x.logger = l
	}
}

// WithMaxQueries bounds the statements one execution may run. A value
// <= 0 disables the limit.
func WithMaxQueries(n int) Option {
	return func(x *Executor) {
		x.maxQueries = n
	}
}

// WithHistory records every execution in the store's execution log,
// stamped by clock.
func WithHistory(clock *Clock) Option {
	return func(x *Executor) {
		x.clock = clock
	}
}

// WithIDGenerator replaces the UUIDv7 execution ids, for tests that
// compare execution logs.
func WithIDGenerator(fn func() string) Option {
	return func(x *Executor) {
		x.newID = fn
	}
}

// NewExecutor creates an executor reading from s.
func NewExecutor(s *store.Store, opts ...Option) *Executor {
	x := &Executor{
		store:      s,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		maxQueries: DefaultMaxQueries,
		newID:      newExecutionID,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Execute runs p with the given parameter values and materializes its
// terminal: a []any for ToList, one element for First and friends, or a
// scalar for aggregates.
//
// Batched collections issue one query per distinct correlation tuple and
// count against the query quota. Cancellation is checked before each
// outer element is shaped; a cancelled execution returns ctx.Err() and no
// partial result.
func (x *Executor) Execute(ctx context.Context, p *plan.Plan, params map[string]any) (any, error) {
	r := &run{
		ctx:     ctx,
		x:       x,
		cat:     p.Catalog,
		id:      x.newID(),
		params:  params,
		quota:   NewQuotaEnforcer(x.maxQueries),
		batches: make(map[*plan.Plan]map[string][]any),
	}

	elems, err := r.sequence(p, params)
	var result any
	if err == nil {
		result, err = materialize(p.Terminal.Op, p.Terminal.FailOnEmpty, elems)
	}
	if err != nil {
		err = withExecution(err, r.id)
		var re *RuntimeError
		if errors.As(err, &re) {
			x.logger.Warn("execution failed",
				"execution", r.id,
				"code", re.Code,
				"error", re.Message)
		}
	}

	x.logger.Debug("execution finished",
		"execution", r.id,
		"fingerprint", short(p.Fingerprint),
		"rows", len(elems),
		"queries", r.quota.Current())
	x.record(ctx, r, p, len(elems), err)
	return result, err
}

func (x *Executor) record(ctx context.Context, r *run, p *plan.Plan, rows int, err error) {
	if x.clock == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if code := codeOf(err); code != "" {
			outcome = string(code)
		}
	}
	e := store.Execution{
		ID:          r.id,
		Seq:         x.clock.Next(),
		Fingerprint: p.Fingerprint,
		SQL:         p.SQL,
		Params:      r.params,
		RowCount:    rows,
		Queries:     r.quota.Current(),
		Outcome:     outcome,
	}
	// The log entry is written even when ctx was cancelled.
	if werr := x.store.WriteExecution(context.WithoutCancel(ctx), e); werr != nil {
		x.logger.Warn("write execution log", "execution", r.id, "error", werr)
	}
}

// newExecutionID returns a time-ordered id for log correlation.
func newExecutionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func short(s string) string {
	if len(s) > 12 {
		return s[:12]
	}
	return s
}

// run is the state of one execution.
type run struct {
	ctx    context.Context
	x      *Executor
	cat    *catalog.Catalog
	id     string
	params map[string]any
	quota  *QuotaEnforcer

	// batches memoizes batched collection results per plan and
	// correlation tuple.
	batches map[*plan.Plan]map[string][]any
}

// sequence runs p and shapes its rows into result elements.
func (r *run) sequence(p *plan.Plan, params map[string]any) ([]any, error) {
	if err := r.quota.Check(); err != nil {
		var qe *QueriesExceededError
		if errors.As(err, &qe) {
			return nil, qe.RuntimeError()
		}
		return nil, err
	}
	rows, err := r.read(p, params)
	if err != nil {
		return nil, err
	}
	return r.elements(p, rows)
}

// read runs the statement of p and drains its cursor. The cursor is
// closed before any nested query runs: the store has a single connection,
// so at most one cursor is open at a time.
func (r *run) read(p *plan.Plan, params map[string]any) ([][]any, error) {
	cur, err := r.x.store.Query(r.ctx, p.SQL, p.Parameters, params)
	if err != nil {
		return nil, err
	}
	defer cur.Close()

	rows := [][]any{}
	for cur.Next() {
		vals, err := cur.Values()
		if err != nil {
			return nil, err
		}
		rows = append(rows, vals)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return rows, nil
}

// elements splits rows into result elements by the plan identifier and
// shapes each one.
func (r *run) elements(p *plan.Plan, rows [][]any) ([]any, error) {
	out := []any{}
	for _, group := range consecutive(rows, p.Identifier) {
		if err := r.ctx.Err(); err != nil {
			return nil, err
		}
		v, err := r.shape(p.Shaper, group)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// consecutive groups runs of rows with equal identifier values. Without
// an identifier every row is its own group.
func consecutive(rows [][]any, ident []int) [][][]any {
	var out [][][]any
	if len(ident) == 0 {
		for _, row := range rows {
			out = append(out, [][]any{row})
		}
		return out
	}
	var last string
	for i, row := range rows {
		k := tupleKey(row, ident)
		if i == 0 || k != last {
			out = append(out, nil)
			last = k
		}
		out[len(out)-1] = append(out[len(out)-1], row)
	}
	return out
}

// tupleKey encodes the values at idx so that equal tuples encode equal.
func tupleKey(row []any, idx []int) string {
	vals := make([]any, len(idx))
	for i, j := range idx {
		vals[i] = row[j]
	}
	return valuesKey(vals)
}

func valuesKey(vals []any) string {
	var b strings.Builder
	for i, v := range vals {
		if i > 0 {
			b.WriteByte(0)
		}
		switch v := v.(type) {
		case nil:
			b.WriteString("~")
		case string:
			b.WriteString(strconv.Quote(v))
		default:
			fmt.Fprintf(&b, "%T:%v", v, v)
		}
	}
	return b.String()
}

// batched runs the plan of c for the correlation values in row. Equal
// tuples share one query.
func (r *run) batched(c *plan.Collection, row []any) ([]any, error) {
	args := maps.Clone(r.params)
	if args == nil {
		args = make(map[string]any, len(c.Bindings))
	}
	vals := make([]any, len(c.Bindings))
	for i, b := range c.Bindings {
		vals[i] = row[b.Index]
		args[b.Param] = row[b.Index]
	}
	key := valuesKey(vals)

	memo := r.batches[c.Plan]
	if memo == nil {
		memo = make(map[string][]any)
		r.batches[c.Plan] = memo
	}
	if elems, ok := memo[key]; ok {
		return elems, nil
	}

	r.x.logger.Debug("batched query",
		"execution", r.id,
		"bindings", len(c.Bindings),
		"queries", r.quota.Current()+1)
	elems, err := r.sequence(c.Plan, args)
	if err != nil {
		return nil, err
	}
	memo[key] = elems
	return elems, nil
}
