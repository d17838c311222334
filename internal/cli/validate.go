package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"cuelang.org/go/cue/token"
	"github.com/spf13/cobra"

	"github.com/roach88/statekeeper/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                       `json:"valid"`
	Stores   []string                   `json:"stores,omitempty"`
	Errors   []compiler.ValidationError `json:"errors,omitempty"`
	Warnings []compiler.CycleWarning    `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <specs-dir>",
		Short: "Validate store definitions without building them",
		Long: `Validate CUE store definitions without compiling their expressions.

Performs syntax checking, schema validation and consistency checks
(duplicate names, listener targets, options), and reports listener
feedback loops as warnings. Faster than compile for development feedback.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, specsDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	loadResult, loadErrors := LoadSpecs(specsDir, LoadModeCollectAll)
	if loadResult == nil {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return commandError(formatter, loadErr.Code, loadErr.Message)
		}
		return commandError(formatter, ErrCodeGeneric, loadErrors[0].Error())
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, specsDir)

	result := validateAll(loadResult, formatter)
	for _, err := range loadErrors {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			result.Errors = append(result.Errors, compiler.ValidationError{
				Field:   "load",
				Message: loadErr.Message,
				Code:    loadErr.Code,
				Line:    lineOf(loadErr.Pos),
			})
		}
	}

	if len(result.Errors) > 0 {
		result.Valid = false
		return outputValidationErrors(formatter, result)
	}
	result.Valid = true
	return outputValidateSuccess(formatter, result)
}

// validateAll runs schema validation and cycle analysis on every compiled
// store.
func validateAll(loaded *LoadResult, formatter *OutputFormatter) ValidationResult {
	var result ValidationResult
	for _, spec := range loaded.Stores {
		formatter.VerboseLog("Validating store: %s", spec.Name)
		result.Stores = append(result.Stores, spec.Name)

		for _, verr := range compiler.Validate(spec) {
			verr.Field = spec.Name + "." + verr.Field
			if verr.Line == 0 {
				verr.Line = lineOf(spec.Pos)
			}
			result.Errors = append(result.Errors, verr)
		}
		for _, warn := range compiler.AnalyzeCycles(spec) {
			warn.Message = spec.Name + ": " + warn.Message
			result.Warnings = append(result.Warnings, warn)
		}
	}
	return result
}

func lineOf(pos token.Pos) int {
	if pos.IsValid() {
		return pos.Line()
	}
	return 0
}

func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.IsJSON() {
		return formatter.Success(result)
	}

	for _, warn := range result.Warnings {
		fmt.Fprintf(formatter.Writer, "warning: %s\n", warn.Message)
	}
	fmt.Fprintf(formatter.Writer, "%s All specs valid (%d store(s))\n", markOK, len(result.Stores))
	return nil
}

func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	exitErr := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))

	if formatter.IsJSON() {
		enc := json.NewEncoder(formatter.Writer)
		enc.SetIndent("", "  ")
		if err := enc.Encode(CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    result.Errors[0].Code,
				Message: result.Errors[0].Message,
			},
		}); err != nil {
			return err
		}
		return exitErr
	}

	w := formatter.Writer
	fmt.Fprintf(w, "%s Validation failed\n\n", markFail)
	for _, err := range result.Errors {
		if err.Line > 0 {
			fmt.Fprintf(w, "line %d\n", err.Line)
		}
		fmt.Fprintf(w, "  %s: %s: %s\n\n", err.Code, err.Field, err.Message)
	}
	return exitErr
}

// ValidateSpecsDir validates all specs in a directory.
func ValidateSpecsDir(specsDir string) ([]compiler.ValidationError, error) {
	loadResult, loadErrors := LoadSpecs(specsDir, LoadModeFailFast)
	if loadResult == nil {
		return nil, loadErrors[0]
	}
	if len(loadErrors) > 0 {
		return nil, loadErrors[0]
	}

	silent := &OutputFormatter{Format: "text"}
	return validateAll(loadResult, silent).Errors, nil
}
