package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/statekeeper/internal/compiler"
	"github.com/roach88/statekeeper/internal/value"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompilationResult holds the compiled store definitions.
type CompilationResult struct {
	Stores []StoreSummary `json:"stores"`
}

// StoreSummary is the JSON form of a compiled store.
type StoreSummary struct {
	Name        string                     `json:"name"`
	Description string                     `json:"description,omitempty"`
	Options     OptionsSummary             `json:"options"`
	Fields      []FieldSummary             `json:"fields"`
	Getters     map[string]string          `json:"getters,omitempty"`
	Queries     map[string]string          `json:"queries,omitempty"`
	Events      map[string]ListenerSummary `json:"events,omitempty"`
	Warnings    []compiler.CycleWarning    `json:"warnings,omitempty"`
}

// OptionsSummary mirrors compiler.Options.
type OptionsSummary struct {
	Recurse  bool   `json:"recurse,omitempty"`
	Mode     string `json:"mode,omitempty"`
	Language string `json:"language,omitempty"`
	MaxDepth int    `json:"max_depth,omitempty"`
}

// FieldSummary is one declared field.
type FieldSummary struct {
	Name      string            `json:"name"`
	Default   value.Value       `json:"default"`
	Mutations map[string]string `json:"mutations,omitempty"`
	Actions   map[string]string `json:"actions,omitempty"`
}

// ListenerSummary is one declarative listener.
type ListenerSummary struct {
	Set string `json:"set"`
	To  string `json:"to"`
}

// CompilationStats holds summary statistics.
type CompilationStats struct {
	StoreCount    int
	FieldCount    int
	MutationCount int
	ActionCount   int
	GetterCount   int
	ListenerCount int
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <specs-dir>",
		Short: "Compile CUE store definitions",
		Long: `Compile the CUE store definitions in specs-dir.

Every store is parsed, validated and built, so expression errors surface
here rather than at run time. The compiled definitions are written as JSON
with --output.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, specsDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	loadResult, loadErrors := LoadSpecs(specsDir, LoadModeCollectAll)
	if loadResult == nil {
		return reportLoadError(formatter, loadErrors[0])
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, specsDir)

	result := &CompilationResult{Stores: []StoreSummary{}}
	for _, spec := range loadResult.Stores {
		formatter.VerboseLog("Compiling store: %s", spec.Name)
		if _, _, err := compiler.Build(spec); err != nil {
			loadErrors = append(loadErrors, &LoadError{
				Code:    buildErrorCode(err),
				Message: fmt.Sprintf("store.%s: %v", spec.Name, err),
				Pos:     spec.Pos,
			})
			continue
		}
		result.Stores = append(result.Stores, summarize(spec))
	}

	if len(loadErrors) > 0 {
		return outputCompileErrors(formatter, loadErrors)
	}

	stats := calculateStats(result)

	if opts.Output != "" {
		if err := writeDefinitionsToFile(result, opts.Output); err != nil {
			return commandError(formatter, ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err))
		}
	}

	return outputCompileSuccess(formatter, result, stats, opts.Output)
}

// buildErrorCode reports the first validation code in a Build error.
func buildErrorCode(err error) string {
	var verr compiler.ValidationError
	if errors.As(err, &verr) {
		return verr.Code
	}
	return ErrCodeBuildFailed
}

func summarize(spec *compiler.StoreSpec) StoreSummary {
	s := StoreSummary{
		Name:        spec.Name,
		Description: spec.Description,
		Options: OptionsSummary{
			Recurse:  spec.Options.Recurse,
			Mode:     spec.Options.Mode,
			Language: spec.Options.Language,
			MaxDepth: spec.Options.MaxDepth,
		},
		Fields:   make([]FieldSummary, len(spec.Fields)),
		Getters:  spec.Getters,
		Queries:  spec.Queries,
		Warnings: compiler.AnalyzeCycles(spec),
	}
	for i, f := range spec.Fields {
		s.Fields[i] = FieldSummary{
			Name:      f.Name,
			Default:   f.Default,
			Mutations: f.Mutations,
			Actions:   f.Actions,
		}
	}
	if len(spec.Listeners) > 0 {
		s.Events = make(map[string]ListenerSummary, len(spec.Listeners))
		for topic, l := range spec.Listeners {
			s.Events[topic] = ListenerSummary{Set: l.Set, To: l.To}
		}
	}
	return s
}

func calculateStats(result *CompilationResult) CompilationStats {
	stats := CompilationStats{StoreCount: len(result.Stores)}
	for _, s := range result.Stores {
		stats.FieldCount += len(s.Fields)
		for _, f := range s.Fields {
			stats.MutationCount += len(f.Mutations)
			stats.ActionCount += len(f.Actions)
		}
		stats.GetterCount += len(s.Getters) + len(s.Queries)
		stats.ListenerCount += len(s.Events)
	}
	return stats
}

func outputCompileSuccess(formatter *OutputFormatter, result *CompilationResult, stats CompilationStats, outputFile string) error {
	if formatter.IsJSON() {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "%s Compiled %d store(s)\n\n", markOK, stats.StoreCount)

	fmt.Fprintln(w, "Stores:")
	for _, s := range result.Stores {
		mutations, actions := 0, 0
		for _, f := range s.Fields {
			mutations += len(f.Mutations)
			actions += len(f.Actions)
		}
		fmt.Fprintf(w, "  %s: %d field(s), %d mutation(s), %d action(s), %d getter(s)\n",
			s.Name, len(s.Fields), mutations, actions, len(s.Getters)+len(s.Queries))

		topics := make([]string, 0, len(s.Events))
		for topic := range s.Events {
			topics = append(topics, topic)
		}
		slices.Sort(topics)
		for _, topic := range topics {
			fmt.Fprintf(w, "    on %s %s %s\n", topic, arrow, s.Events[topic].Set)
		}
		for _, warn := range s.Warnings {
			fmt.Fprintf(w, "    warning: %s\n", warn.Message)
		}
	}
	fmt.Fprintln(w)

	if outputFile != "" {
		fmt.Fprintf(w, "Wrote compiled definitions to %s\n", outputFile)
	}
	return nil
}

func outputCompileErrors(formatter *OutputFormatter, errs []error) error {
	exitErr := NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))

	if formatter.IsJSON() {
		cliErrors := make([]CLIError, len(errs))
		for i, err := range errs {
			code, message := parseCompileError(err)
			cliErrors[i] = CLIError{Code: code, Message: message}
		}

		enc := json.NewEncoder(formatter.Writer)
		enc.SetIndent("", "  ")
		if err := enc.Encode(CLIResponse{
			Status: "error",
			Error:  &cliErrors[0],
			Data:   cliErrors,
		}); err != nil {
			return err
		}
		return exitErr
	}

	w := formatter.Writer
	fmt.Fprintf(w, "%s Compilation failed\n\n", markFail)
	for _, err := range errs {
		code, message := parseCompileError(err)
		var loadErr *LoadError
		if errors.As(err, &loadErr) && loadErr.Pos.IsValid() {
			fmt.Fprintf(w, "%s:%d:%d\n", loadErr.Pos.Filename(), loadErr.Pos.Line(), loadErr.Pos.Column())
		}
		fmt.Fprintf(w, "  %s: %s\n\n", code, message)
	}
	return exitErr
}

// parseCompileError extracts error code and message from an error.
func parseCompileError(err error) (string, string) {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code, loadErr.Message
	}
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return MapFieldToErrorCode(compileErr.Field), compileErr.Message
	}
	return ErrCodeGeneric, err.Error()
}

// writeDefinitionsToFile writes the compiled stores as indented JSON.
func writeDefinitionsToFile(result *CompilationResult, filename string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling definitions: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}
