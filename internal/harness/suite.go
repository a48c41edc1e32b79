package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SuiteResult summarizes a run over several scenario files.
type SuiteResult struct {
	TotalScenarios int `json:"total_scenarios"`
	TotalCases     int `json:"total_cases"`
	Passed         int `json:"passed"`
	Failed         int `json:"failed"`

	Results  []*Result      `json:"results"`
	Failures []SuiteFailure `json:"failures,omitempty"`
}

// SuiteFailure is a scenario that could not be loaded or run, or a case
// that failed.
type SuiteFailure struct {
	ScenarioPath string `json:"scenario_path"`
	Case         string `json:"case,omitempty"`
	Strategy     string `json:"strategy,omitempty"`
	Error        string `json:"error"`
}

// Pass reports whether every scenario loaded and every case passed.
func (s *SuiteResult) Pass() bool {
	return len(s.Failures) == 0
}

// Discover returns the scenario files under path. A file path is returned
// as is; a directory is walked for .yaml and .yml files in lexical order.
func Discover(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("scenario path: %w", err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(p))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", path, err)
	}
	sort.Strings(files)
	return files, nil
}

// RunAll loads and runs each scenario file. Load and setup failures are
// recorded as failures and do not stop the suite; a cancelled context
// does.
func (h *Harness) RunAll(ctx context.Context, paths []string) (*SuiteResult, error) {
	suite := &SuiteResult{}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		suite.TotalScenarios++

		scenario, err := LoadScenario(path)
		if err != nil {
			suite.Failures = append(suite.Failures, SuiteFailure{ScenarioPath: path, Error: err.Error()})
			continue
		}
		result, err := h.Run(ctx, scenario)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			suite.Failures = append(suite.Failures, SuiteFailure{ScenarioPath: path, Error: err.Error()})
			continue
		}

		suite.Results = append(suite.Results, result)
		for _, c := range result.Cases {
			suite.TotalCases++
			if c.Pass {
				suite.Passed++
				continue
			}
			suite.Failed++
			suite.Failures = append(suite.Failures, SuiteFailure{
				ScenarioPath: path,
				Case:         c.Name,
				Strategy:     string(c.Strategy),
				Error:        c.Error,
			})
		}
	}
	return suite, nil
}
