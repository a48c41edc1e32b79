package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/navq/internal/engine"
	"github.com/roach88/navq/internal/ir"
	"github.com/roach88/navq/internal/object"
	"github.com/roach88/navq/internal/queryir"
	"github.com/roach88/navq/internal/store"
	"github.com/roach88/navq/internal/translator"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	QueryOptions
	Seed bool // write the seed into a file database
}

// RunResult is a query result with the statement that produced it.
type RunResult struct {
	Result   ir.IRValue `json:"result"`
	SQL      string     `json:"sql"`
	Strategy string     `json:"strategy"`
	Queries  int        `json:"queries"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{QueryOptions: QueryOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "run <query> [model-dir]",
		Short: "Compile a query and run it against the database",
		Long: `Compile a query and run it against the configured SQLite database.

An in-memory database (the default) is seeded from the fixture on every
run. A file database is seeded only with --seed.

Exit codes:
  0 - Query ran
  1 - Query could not be translated or failed while running
  2 - Command error (model, seed, database or flags)

Examples:
  navq run 'Set<Gear>().OrderBy(g => g.Nickname).Select(g => g.FullName)'
  navq run 'Set<Mission>().Sum(m => m.Rating)' --format json
  navq run 'Set<Gear>().Select(g => g.Weapons.ToList())' --strategy batched`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args, cmd)
		},
	}
	addQueryFlags(cmd, &opts.QueryOptions)
	cmd.Flags().BoolVar(&opts.Seed, "seed", false, "seed a file database from the fixture")

	return cmd
}

func runQuery(opts *RunOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dir, err := opts.modelDir(args[1:])
	if err != nil {
		return outputCompileError(formatter, err)
	}
	params, err := parseParams(opts.Params)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeBadParam, err.Error(), nil)
	}
	ws, err := openWorkspace(ctx, opts.RootOptions, dir, opts.Seed)
	if err != nil {
		return outputCompileError(formatter, err)
	}
	defer ws.Close()

	cache := translator.NewCache(opts.Config.Cache.MaxPlans)
	mode, p, err := opts.compile(ws.Catalog, cache, args[0], params)
	if err != nil {
		return outputQueryError(formatter, err)
	}

	clock, err := engine.ResumeClock(ctx, ws.Store)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
	}
	start := clock.Current()
	exec := engine.NewExecutor(ws.Store,
		engine.WithLogger(opts.Logger),
		engine.WithMaxQueries(opts.Config.Collections.MaxQueries),
		engine.WithHistory(clock),
	)
	value, err := exec.Execute(ctx, p, params)
	if err != nil {
		return outputQueryError(formatter, err)
	}

	result := RunResult{SQL: p.SQL, Strategy: string(mode), Queries: executedQueries(ctx, ws.Store, start)}
	if formatter.Format == "json" {
		result.Result, err = object.ToIR(value)
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeRuntime, err.Error(), nil)
		}
		return formatter.Success(result)
	}

	headers, rows, err := resultTable(value)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeRuntime, err.Error(), nil)
	}
	renderTable(formatter.Writer, headers, rows)
	formatter.VerboseLog("%s strategy, %d queries", mode, result.Queries)
	return nil
}

// executedQueries returns the query count of the first execution logged
// after seq.
func executedQueries(ctx context.Context, s *store.Store, seq int64) int {
	log, err := s.ReadExecutions(ctx)
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

// outputQueryError reports a query that could not be translated or run.
// Translation and runtime failures exit 1; anything else is a command
// error.
func outputQueryError(formatter *OutputFormatter, err error) error {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		_ = formatter.Error(ErrCodeGeneric, exitErr.Message, nil)
		return exitErr
	}
	var te *queryir.TranslationError
	if errors.As(err, &te) {
		return formatter.Fail(ExitFailure, ErrCodeTranslation, err.Error(), map[string]string{"kind": string(te.Kind)})
	}
	var re *engine.RuntimeError
	if errors.As(err, &re) {
		details := map[string]string{"kind": string(re.Code)}
		if re.ExecutionID != "" {
			details["execution_id"] = re.ExecutionID
		}
		return formatter.Fail(ExitFailure, ErrCodeRuntime, err.Error(), details)
	}
	if errors.Is(err, context.Canceled) {
		return formatter.Fail(ExitFailure, ErrCodeRuntime, "query cancelled", nil)
	}
	return formatter.Fail(ExitCommandError, ErrCodeGeneric, fmt.Sprintf("%v", err), nil)
}
