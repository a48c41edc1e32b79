package navexpand

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/navq/internal/catalog"
	"github.com/roach88/navq/internal/correlate"
	"github.com/roach88/navq/internal/ir"
	"github.com/roach88/navq/internal/methods"
	"github.com/roach88/navq/internal/plan"
	"github.com/roach88/navq/internal/queryir"
)

// BatchParamPrefix prefixes the parameters that carry outer row values
// into batched inner queries. database/sql requires named arguments to
// begin with a letter.
const BatchParamPrefix = queryir.ReservedParameterPrefix + "c"

// Expander expands query trees against one catalog. It holds no state
// between calls and is safe for concurrent use.
type Expander struct {
	cat        *catalog.Catalog
	methods    *methods.Registry
	planner    correlate.Planner
	paramKinds map[string]ir.Kind
	logger     *slog.Logger
}

// Option configures an Expander.
type Option func(*Expander)

// WithMethods sets the method registry calls are resolved against.
func WithMethods(r *methods.Registry) Option {
	return func(e *Expander) {
		e.methods = r
	}
}

// WithPlanner sets the strategy planner for nested collections.
func WithPlanner(p correlate.Planner) Option {
	return func(e *Expander) {
		e.planner = p
	}
}

// WithParameterKinds types query parameters from their supplied values.
func WithParameterKinds(kinds map[string]ir.Kind) Option {
	return func(e *Expander) {
		e.paramKinds = kinds
	}
}

// WithLogger sets the logger for expansion diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(e *Expander) {
		e.logger = l
	}
}

// New returns an Expander over cat.
func New(cat *catalog.Catalog, opts ...Option) *Expander {
	e := &Expander{
		cat:     cat,
		methods: methods.Default(),
		planner: correlate.Planner{Mode: correlate.ModeAuto},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Expand translates n into a plan. The plan's select carries source null
// semantics and has no SQL yet; nested batched plans are expanded the same
// way.
func (e *Expander) Expand(n queryir.Node) (*plan.Plan, error) {
	if err := queryir.Validate(n); err != nil {
		return nil, err
	}
	x := &expansion{
		Expander:   e,
		aliases:    make(map[string]int),
		identities: make(map[string][]string),
	}

	var term *queryir.Terminal
	if t, ok := n.(*queryir.Terminal); ok {
		term, n = t, t.Input
	}
	q, err := x.node(n, nil)
	if err != nil {
		e.logger.Debug("expansion failed", "error", err)
		return nil, err
	}
	p, err := x.finalize(q, term, nil)
	if err != nil {
		e.logger.Debug("expansion failed", "error", err)
		return nil, err
	}

	e.logger.Debug("query expanded",
		"tables", len(p.Select.Tables),
		"columns", len(p.Select.Projection),
		"collections", len(plan.Collections(p.Shaper)),
	)
	return p, nil
}

// expansion is the state of one Expand call. Aliases and batch parameter
// names are unique across the whole plan, nested plans included.
type expansion struct {
	*Expander

	aliases    map[string]int
	params     int
	ids        int
	identities map[string][]string
}

// alias returns a fresh table alias derived from name: "g", then "g0",
// "g1" and so on.
func (x *expansion) alias(name string) string {
	base := "t"
	if name != "" {
		base = strings.ToLower(name[:1])
	}
	n := x.aliases[base]
	x.aliases[base] = n + 1
	if n == 0 {
		return base
	}
	return fmt.Sprintf("%s%d", base, n-1)
}

func (x *expansion) nextParam() string {
	name := fmt.Sprintf("%s%d", BatchParamPrefix, x.params)
	x.params++
	return name
}

func (x *expansion) nextID() int {
	x.ids++
	return x.ids
}

// identify records columns of alias that are null only when the source
// matched no row.
func (x *expansion) identify(alias string, columns ...string) {
	x.identities[alias] = append(x.identities[alias], columns...)
}
