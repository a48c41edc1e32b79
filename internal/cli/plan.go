package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/navq/internal/catalog"
	"github.com/roach88/navq/internal/correlate"
	"github.com/roach88/navq/internal/ir"
	"github.com/roach88/navq/internal/plan"
	"github.com/roach88/navq/internal/queryir"
	"github.com/roach88/navq/internal/translator"
)

// QueryOptions holds the flags shared by plan and run.
type QueryOptions struct {
	*RootOptions
	Strategy string   // collection strategy, empty for the configured one
	Params   []string // name=value pairs
}

// PlanResult is the compiled form of a query.
type PlanResult struct {
	SQL         string   `json:"sql"`
	Parameters  []string `json:"parameters"`
	Fingerprint string   `json:"fingerprint"`
	Strategy    string   `json:"strategy"`
	Plan        string   `json:"plan"`
}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "plan <query> [model-dir]",
		Short: "Show the SQL and shaper a query compiles to",
		Long: `Compile a query against the model without running it.

Examples:
  navq plan 'Set<Gear>().Where(g => g.Rank >= @rank).Select(g => g.Nickname)' --param rank=1
  navq plan 'Set<Gear>().Select(g => g.Weapons.ToList())' --strategy batched
  navq plan 'Set<Squad>().Select(s => s.Members.Count())' --format json`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(opts, args, cmd)
		},
	}
	addQueryFlags(cmd, opts)

	return cmd
}

func addQueryFlags(cmd *cobra.Command, opts *QueryOptions) {
	cmd.Flags().StringVar(&opts.Strategy, "strategy", "", "collection strategy (auto|inline|batched), default from config")
	cmd.Flags().StringArrayVarP(&opts.Params, "param", "p", nil, "query parameter as name=value (repeatable)")
}

func runPlan(opts *QueryOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	dir, err := opts.modelDir(args[1:])
	if err != nil {
		return outputCompileError(formatter, err)
	}
	_, cat, err := LoadCatalog(dir)
	if err != nil {
		return outputCompileError(formatter, err)
	}
	params, err := parseParams(opts.Params)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeBadParam, err.Error(), nil)
	}

	mode, p, err := opts.compile(cat, nil, args[0], params)
	if err != nil {
		return outputQueryError(formatter, err)
	}

	result := PlanResult{
		SQL:         p.SQL,
		Parameters:  p.Parameters,
		Fingerprint: p.Fingerprint,
		Strategy:    string(mode),
		Plan:        plan.Describe(p),
	}
	if result.Parameters == nil {
		result.Parameters = []string{}
	}
	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprint(formatter.Writer, result.Plan)
	return nil
}

// strategy resolves the --strategy flag against the configuration.
func (o *QueryOptions) strategy() (correlate.Mode, error) {
	if o.Strategy == "" {
		return o.Config.Strategy(), nil
	}
	return correlate.ParseMode(o.Strategy)
}

// compile parses and translates a query. A nil cache compiles uncached.
func (o *QueryOptions) compile(cat *catalog.Catalog, cache *translator.Cache, query string, params map[string]any) (correlate.Mode, *plan.Plan, error) {
	mode, err := o.strategy()
	if err != nil {
		return "", nil, NewExitError(ExitCommandError, err.Error())
	}
	n, err := queryir.Parse(query)
	if err != nil {
		return mode, nil, err
	}
	ps := make(translator.ParamSet, len(params))
	for name, v := range params {
		iv, err := ir.FromNative(v)
		if err != nil {
			return mode, nil, fmt.Errorf("parameter %s: %w", name, err)
		}
		ps[name] = iv
	}

	topts := []translator.Option{
		translator.WithStrategy(mode),
		translator.WithLogger(o.Logger),
	}
	if cache != nil {
		topts = append(topts, translator.WithCache(cache))
	}
	p, err := translator.New(cat, topts...).Compile(n, ps)
	if err != nil {
		return mode, nil, err
	}
	o.Logger.Debug("query compiled",
		"strategy", mode,
		"fingerprint", p.Fingerprint,
		"parameters", len(p.Parameters),
	)
	return mode, p, nil
}
