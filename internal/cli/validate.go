package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/navq/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool                       `json:"valid"`
	Errors []compiler.ValidationError `json:"errors,omitempty"`

	// SeedOrder is the table order seeding follows, set when valid.
	SeedOrder []string `json:"seed_order,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [model-dir]",
		Short: "Validate a model without building its catalog",
		Long: `Validate a CUE entity model.

Checks keys, inheritance, discriminators and navigations, and that the
required foreign keys admit a seeding order. All problems are reported,
not just the first.

Exit codes:
  0 - Model is valid
  1 - Model has validation errors
  2 - Model could not be loaded`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	dir, err := opts.modelDir(args)
	if err != nil {
		return outputCompileError(formatter, err)
	}
	spec, err := LoadModel(dir)
	if err != nil {
		return outputCompileError(formatter, err)
	}
	formatter.VerboseLog("Validating %d entity type(s)", len(spec.Entities))

	result := ValidationResult{Errors: compiler.Validate(spec)}
	if len(result.Errors) == 0 {
		order, err := compiler.DependencyOrder(spec)
		var cycle *compiler.CycleError
		switch {
		case errors.As(err, &cycle):
			result.Errors = append(result.Errors, compiler.ValidationError{
				Field:   "foreign_keys",
				Message: cycle.Error(),
				Code:    ErrCodeInvalidModel,
			})
		case err != nil:
			return formatter.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
		default:
			result.SeedOrder = order
		}
	}
	result.Valid = len(result.Errors) == 0

	if formatter.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		writeValidationText(formatter, result)
	}
	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))
	}
	return nil
}

func writeValidationText(formatter *OutputFormatter, result ValidationResult) {
	w := formatter.Writer
	if result.Valid {
		fmt.Fprintln(w, "✓ Model is valid")
		formatter.VerboseLog("Seed order: %v", result.SeedOrder)
		return
	}
	fmt.Fprintf(w, "✗ Validation failed with %d error(s)\n\n", len(result.Errors))
	for _, e := range result.Errors {
		fmt.Fprintf(w, "  %s\n", e.Error())
	}
}
