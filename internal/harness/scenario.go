package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/navq/internal/correlate"
	"github.com/roach88/navq/internal/engine"
	"github.com/roach88/navq/internal/queryir"
)

// Scenario is a set of query cases run against one model and seed.
// Every case runs under each listed collection strategy and its result is
// compared with the in-memory evaluation of the same query, or with a
// literal expectation when one is given.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Model is the directory holding model.cue, relative to the scenario
	// file.
	Model string `yaml:"model"`

	// Seed is the fixture file. Defaults to seed.yaml in the model
	// directory.
	Seed string `yaml:"seed,omitempty"`

	// Strategies lists the collection strategies to run every case under.
	// Defaults to inline and batched.
	Strategies []correlate.Mode `yaml:"strategies,omitempty"`

	Cases []Case `yaml:"cases"`
}

// Case is one query with its expectation.
type Case struct {
	Name  string `yaml:"name"`
	Query string `yaml:"query"`

	// Params binds query parameters by name.
	Params map[string]any `yaml:"params,omitempty"`

	// AssertOrder compares sequences element by element in order. When
	// false both sides are sorted before comparing.
	AssertOrder bool `yaml:"assert_order,omitempty"`

	// Expect is a literal expected result. When absent the query is
	// evaluated in memory and that result is expected.
	Expect any `yaml:"expect,omitempty"`

	// ExpectError is a translation error kind or runtime error code the
	// case must fail with.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// DefaultStrategies are run when a scenario lists none.
var DefaultStrategies = []correlate.Mode{correlate.ModeInline, correlate.ModeBatched}

var errorCodes = map[string]bool{
	string(queryir.ErrUntranslatable):      true,
	string(queryir.ErrMaterializationShape): true,
	string(queryir.ErrIncludeMisuse):        true,
	string(queryir.ErrSetOperationShape):    true,
	string(queryir.ErrGroupingRejected):     true,
	string(queryir.ErrInvalidQuery):         true,
	string(engine.ErrCodeInvalidCast):       true,
	string(engine.ErrCodeInvalidOperation):  true,
	string(engine.ErrCodeQuotaExceeded):     true,
}

// LoadScenario reads and parses a scenario YAML file. Model and seed paths
// are resolved relative to the file. Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	base := filepath.Dir(path)
	if scenario.Model != "" && !filepath.IsAbs(scenario.Model) {
		scenario.Model = filepath.Join(base, scenario.Model)
	}
	switch {
	case scenario.Seed == "":
		scenario.Seed = filepath.Join(scenario.Model, "seed.yaml")
	case !filepath.IsAbs(scenario.Seed):
		scenario.Seed = filepath.Join(base, scenario.Seed)
	}
	if len(scenario.Strategies) == 0 {
		scenario.Strategies = DefaultStrategies
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// ModelFile is the CUE file of the scenario's model.
func (s *Scenario) ModelFile() string {
	return filepath.Join(s.Model, "model.cue")
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Model == "" {
		return fmt.Errorf("model is required")
	}
	if _, err := os.Stat(s.ModelFile()); err != nil {
		return fmt.Errorf("model file not found: %s", s.ModelFile())
	}
	if _, err := os.Stat(s.Seed); err != nil {
		return fmt.Errorf("seed file not found: %s", s.Seed)
	}
	for i, m := range s.Strategies {
		if _, err := correlate.ParseMode(string(m)); err != nil {
			return fmt.Errorf("strategies[%d]: %w", i, err)
		}
	}
	if len(s.Cases) == 0 {
		return fmt.Errorf("cases list is required and must be non-empty")
	}

	seen := make(map[string]bool, len(s.Cases))
	for i, c := range s.Cases {
		if c.Name == "" {
			return fmt.Errorf("cases[%d]: name is required", i)
		}
		if seen[c.Name] {
			return fmt.Errorf("cases[%d]: duplicate name %q", i, c.Name)
		}
		seen[c.Name] = true
		if c.Query == "" {
			return fmt.Errorf("cases[%d]: query is required", i)
		}
		if c.ExpectError != "" && !errorCodes[c.ExpectError] {
			return fmt.Errorf("cases[%d]: unknown error code %q", i, c.ExpectError)
		}
		if c.ExpectError != "" && c.Expect != nil {
			return fmt.Errorf("cases[%d]: expect and expect_error are exclusive", i)
		}
	}
	return nil
}
