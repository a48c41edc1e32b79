package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/navq/internal/catalog"
	"github.com/roach88/navq/internal/ir"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompilationResult is the compiled model and its content hash.
type CompilationResult struct {
	Hash  string        `json:"hash"`
	Model *ir.ModelSpec `json:"model"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile [model-dir]",
		Short: "Compile a CUE model to its canonical form",
		Long: `Compile a CUE entity model, validate it and build its catalog.

The model directory defaults to model.dir from navq.yaml. With --output
the compiled model is written as JSON.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	dir, err := opts.modelDir(args)
	if err != nil {
		return outputCompileError(formatter, err)
	}
	formatter.VerboseLog("Compiling model in %s", dir)

	spec, cat, err := LoadCatalog(dir)
	if err != nil {
		return outputCompileError(formatter, err)
	}
	result := &CompilationResult{Hash: cat.Hash(), Model: spec}

	if opts.Output != "" {
		if err := writeModelToFile(result, opts.Output); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err), nil)
		}
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ Compiled %d entity type(s)\n\n", len(spec.Entities))
	fmt.Fprintln(w, "Entities:")
	for _, t := range cat.Types() {
		fmt.Fprintf(w, "  %s\n", describeEntity(cat, t))
	}
	fmt.Fprintf(w, "\nModel hash: %s\n", result.Hash)
	if opts.Output != "" {
		fmt.Fprintf(w, "Wrote compiled model to %s\n", opts.Output)
	}
	return nil
}

func describeEntity(cat *catalog.Catalog, t *catalog.EntityType) string {
	s := fmt.Sprintf("%s (%s)", t.Name, t.Table)
	if base := cat.Base(t); base != nil {
		s = fmt.Sprintf("%s : %s (%s)", t.Name, base.Name, t.Table)
	}
	return fmt.Sprintf("%s: %d properties, %d navigations",
		s, len(cat.EntityProperties(t)), len(cat.EntityNavigations(t)))
}

// outputCompileError reports a model that could not be loaded. CUE
// errors carry their file position in the message.
func outputCompileError(formatter *OutputFormatter, err error) error {
	return formatter.Fail(ExitCommandError, loadErrorCode(err), err.Error(), nil)
}

// writeModelToFile writes the compiled model as indented JSON.
func writeModelToFile(result *CompilationResult, filename string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling model: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}
