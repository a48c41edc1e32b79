package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/navq/internal/plan"
)

// GoldenDir is where plan snapshots live, relative to the test's package.
const GoldenDir = "testdata/golden"

// AssertPlanGolden compares the description of p against the golden file
// {name}.golden. Options are passed to goldie after the defaults, so a
// test can point the fixture directory elsewhere.
//
// To regenerate golden files, run:
//
//	go test ./internal/... -update
func AssertPlanGolden(t *testing.T, name string, p *plan.Plan, opts ...goldie.Option) {
	t.Helper()
	newGoldie(t, opts...).Assert(t, name, []byte(plan.Describe(p)))
}

// UpdatePlanGolden writes the description of p as the golden file for
// name.
func UpdatePlanGolden(t *testing.T, name string, p *plan.Plan, opts ...goldie.Option) error {
	t.Helper()
	return newGoldie(t, opts...).Update(t, name, []byte(plan.Describe(p)))
}

// AssertResultGolden compares the plans a scenario run produced against
// golden files named {scenario}.{case}.{strategy}.
func AssertResultGolden(t *testing.T, result *Result, opts ...goldie.Option) {
	t.Helper()
	g := newGoldie(t, opts...)
	for _, c := range result.Cases {
		if c.Plan == "" {
			continue
		}
		g.Assert(t, goldenName(result.Scenario, c), []byte(c.Plan))
	}
}

func newGoldie(t *testing.T, opts ...goldie.Option) *goldie.Goldie {
	base := []goldie.Option{
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(".golden"),
	}
	return goldie.New(t, append(base, opts...)...)
}

func goldenName(scenario string, c CaseResult) string {
	return scenario + "." + c.Name + "." + string(c.Strategy)
}
