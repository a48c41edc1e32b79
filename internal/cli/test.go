package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/roach88/navq/internal/harness"
	"github.com/roach88/navq/internal/ir"
)

// DefaultScenarioDir is where test looks when no path is given.
const DefaultScenarioDir = "testdata/scenarios"

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update  bool   // regenerate golden files
	Filter  string // scenario filter (glob pattern)
	NoColor bool
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Path   string   `json:"path"`
	Pass   bool     `json:"pass"`
	Cases  int      `json:"cases"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test [paths...]",
		Short: "Run query conformance scenarios",
		Long: `Run conformance scenarios with the harness.

Every case is compiled under each of the scenario's collection strategies,
run against a seeded in-memory database and compared with the in-memory
evaluation of the same query. When a scenario has a golden file under
golden/ next to it, the plans must also match it.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  navq test
  navq test testdata/scenarios --filter "nested_*"
  navq test testdata/scenarios --update
  navq test testdata/scenarios/grouping.yaml --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{DefaultScenarioDir}
			}
			return runTests(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().BoolVar(&opts.NoColor, "no-color", false, "disable colored output")

	return cmd
}

func runTests(opts *TestOptions, paths []string, cmd *cobra.Command) error {
	var files []string
	for _, path := range paths {
		found, err := harness.Discover(path)
		if err != nil {
			return NewExitError(ExitCommandError, fmt.Sprintf("scenarios not found: %s", path))
		}
		filtered, err := filterScenarios(found, opts.Filter)
		if err != nil {
			return NewExitError(ExitCommandError, err.Error())
		}
		files = append(files, filtered...)
	}

	result := TestResult{Scenarios: make([]ScenarioResult, 0, len(files)), Total: len(files)}
	if len(files) == 0 {
		if opts.Format == "json" {
			return outputTestJSON(cmd, result)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No scenarios found.")
		return nil
	}

	h := harness.New(
		harness.WithLogger(opts.Logger),
		harness.WithMaxQueries(opts.Config.Collections.MaxQueries),
	)
	for _, file := range files {
		sr := runScenario(h, file, opts, cmd)
		result.Scenarios = append(result.Scenarios, sr)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if opts.Format == "json" {
		return outputTestJSON(cmd, result)
	}
	return outputTestText(cmd, opts, result)
}

// filterScenarios keeps the files whose base name, without extension,
// matches the glob pattern.
func filterScenarios(files []string, pattern string) ([]string, error) {
	if pattern == "" {
		return files, nil
	}
	var out []string
	for _, f := range files {
		base := filepath.Base(f)
		matched, err := filepath.Match(pattern, strings.TrimSuffix(base, filepath.Ext(base)))
		if err != nil {
			return nil, fmt.Errorf("invalid filter pattern: %w", err)
		}
		if matched {
			out = append(out, f)
		}
	}
	return out, nil
}

// runScenario executes a single scenario and returns the result.
func runScenario(h *harness.Harness, file string, opts *TestOptions, cmd *cobra.Command) ScenarioResult {
	w := cmd.OutOrStdout()
	text := opts.Format != "json"
	failed := func(name string, errs ...string) ScenarioResult {
		if text {
			fmt.Fprintf(w, "%s %s\n", colorize(opts, "✗", color.FgRed), name)
			for _, e := range errs {
				fmt.Fprintf(w, "  %s\n", e)
			}
		}
		return ScenarioResult{Name: name, Path: file, Errors: errs}
	}

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return failed(filepath.Base(file), fmt.Sprintf("load error: %v", err))
	}
	result, err := h.Run(cmd.Context(), scenario)
	if err != nil {
		return failed(scenario.Name, fmt.Sprintf("execution error: %v", err))
	}

	var errs []string
	for _, c := range result.Failures() {
		errs = append(errs, fmt.Sprintf("%s [%s]: %s", c.Name, c.Strategy, c.Error))
	}

	goldenPath := goldenFilePath(file)
	switch {
	case opts.Update:
		if err := updateGoldenFile(result, goldenPath); err != nil {
			errs = append(errs, fmt.Sprintf("golden update error: %v", err))
		}
	case fileExists(goldenPath):
		match, err := compareWithGolden(result, goldenPath)
		switch {
		case err != nil:
			errs = append(errs, fmt.Sprintf("golden comparison error: %v", err))
		case !match:
			errs = append(errs, "plans do not match golden file (run with --update to regenerate)")
		}
	}

	if len(errs) > 0 {
		sr := failed(scenario.Name, errs...)
		sr.Cases = len(result.Cases)
		return sr
	}
	if text {
		suffix := ""
		if opts.Update {
			suffix = ", golden updated"
		}
		fmt.Fprintf(w, "%s %s (%d cases%s)\n", colorize(opts, "✓", color.FgGreen), scenario.Name, len(result.Cases), suffix)
	}
	return ScenarioResult{Name: scenario.Name, Path: file, Pass: true, Cases: len(result.Cases)}
}

// goldenFilePath returns the path to the golden file for a scenario.
func goldenFilePath(scenarioFile string) string {
	dir := filepath.Dir(scenarioFile)
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, "golden", name+".golden")
}

// planSnapshot is the golden content of a run: the plan of every
// translated case under every strategy, as canonical JSON.
func planSnapshot(result *harness.Result) ([]byte, error) {
	plans := make(map[string]any, len(result.Cases))
	for _, c := range result.Cases {
		if c.Plan == "" {
			continue
		}
		plans[c.Name+"."+string(c.Strategy)] = c.Plan
	}
	return ir.MarshalCanonical(map[string]any{
		"scenario": result.Scenario,
		"plans":    plans,
	})
}

// updateGoldenFile writes the current plans as the golden file.
func updateGoldenFile(result *harness.Result, goldenPath string) error {
	if err := os.MkdirAll(filepath.Dir(goldenPath), 0o755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	data, err := planSnapshot(result)
	if err != nil {
		return fmt.Errorf("failed to marshal plans: %w", err)
	}
	if err := os.WriteFile(goldenPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}

// compareWithGolden compares the run's plans against the golden file.
func compareWithGolden(result *harness.Result, goldenPath string) (bool, error) {
	golden, err := os.ReadFile(goldenPath)
	if err != nil {
		return false, fmt.Errorf("failed to read golden file: %w", err)
	}
	current, err := planSnapshot(result)
	if err != nil {
		return false, fmt.Errorf("failed to marshal current plans: %w", err)
	}
	return string(golden) == string(current), nil
}

// outputTestJSON outputs the test result as JSON.
func outputTestJSON(cmd *cobra.Command, result TestResult) error {
	formatter := &OutputFormatter{Format: "json", Writer: cmd.OutOrStdout()}
	if result.Failed > 0 {
		msg := fmt.Sprintf("%d scenario(s) failed", result.Failed)
		if err := formatter.Error("E_TEST_FAILED", msg, result); err != nil {
			return err
		}
		return NewExitError(ExitFailure, msg)
	}
	return formatter.Success(result)
}

// outputTestText outputs the test summary as text.
func outputTestText(cmd *cobra.Command, opts *TestOptions, result TestResult) error {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}

	fmt.Fprintf(w, "%s All scenarios passed\n", colorize(opts, "✓", color.FgGreen))
	return nil
}

// colorize applies color unless it is disabled.
func colorize(opts *TestOptions, text string, attrs ...color.Attribute) string {
	if opts.NoColor || color.NoColor {
		return text
	}
	return color.New(attrs...).Sprint(text)
}
