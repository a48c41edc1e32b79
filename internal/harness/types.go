package harness

import "github.com/roach88/navq/internal/correlate"

// Result is the outcome of running a scenario.
type Result struct {
	Scenario string `json:"scenario"`

	// Pass is true when every case passed under every strategy.
	Pass bool `json:"pass"`

	Cases []CaseResult `json:"cases"`
}

// CaseResult is the outcome of one case under one strategy.
type CaseResult struct {
	Name     string         `json:"name"`
	Strategy correlate.Mode `json:"strategy"`
	Pass     bool           `json:"pass"`

	// Error describes the failure when Pass is false.
	Error string `json:"error,omitempty"`

	// SQL is the top-level statement, empty when translation failed.
	SQL string `json:"sql,omitempty"`

	// Plan is the plan description, for golden comparison.
	Plan string `json:"plan,omitempty"`

	// Queries counts the statements the execution ran.
	Queries int `json:"queries"`
}

// NewResult creates a passing result for the named scenario.
func NewResult(scenario string) *Result {
	return &Result{Scenario: scenario, Pass: true, Cases: []CaseResult{}}
}

// Add records a case outcome.
func (r *Result) Add(c CaseResult) {
	r.Cases = append(r.Cases, c)
	if !c.Pass {
		r.Pass = false
	}
}

// Failures returns the failed cases.
func (r *Result) Failures() []CaseResult {
	var out []CaseResult
	for _, c := range r.Cases {
		if !c.Pass {
			out = append(out, c)
		}
	}
	return out
}

// Case returns the result of the named case under a strategy.
func (r *Result) Case(name string, strategy correlate.Mode) (CaseResult, bool) {
	for _, c := range r.Cases {
		if c.Name == name && c.Strategy == strategy {
			return c, true
		}
	}
	return CaseResult{}, false
}
