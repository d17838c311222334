package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/token"

	"github.com/roach88/statekeeper/internal/compiler"
	"github.com/roach88/statekeeper/internal/store"
)

// LoadMode controls how errors are handled during spec loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains the stores compiled from a specs directory.
type LoadResult struct {
	Stores    []*compiler.StoreSpec
	CUEValue  cue.Value
	FileCount int

	// Failed holds the compile error of each store that did not compile.
	Failed map[string]error
}

// Store returns the compiled store with the given name.
func (r *LoadResult) Store(name string) (*compiler.StoreSpec, error) {
	if err, ok := r.Failed[name]; ok {
		return nil, err
	}
	names := make([]string, 0, len(r.Stores))
	for _, spec := range r.Stores {
		if spec.Name == name {
			return spec, nil
		}
		names = append(names, spec.Name)
	}
	return nil, &LoadError{
		Code:    ErrCodeStoreNotFound,
		Message: fmt.Sprintf("store %q not found (available: %s)", name, strings.Join(names, ", ")),
	}
}

// LoadError represents an error that occurred during spec loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadSpecs loads the CUE package in dir and compiles every store under
// the top-level `store` struct.
// If mode is LoadModeFailFast, returns on the first compile error.
// A nil result means the directory itself could not be loaded.
func LoadSpecs(dir string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("specs directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing specs directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	v, err := compiler.LoadDir(dir)
	if err != nil {
		return nil, []error{convertCompileError(err, "load", ErrCodeLoadFailed)}
	}

	result := &LoadResult{
		CUEValue:  v,
		FileCount: len(cueFiles),
		Failed:    map[string]error{},
	}

	storesVal := v.LookupPath(cue.ParsePath("store"))
	if !storesVal.Exists() {
		return result, []error{&LoadError{Code: ErrCodeGeneric, Message: "no store definitions found in specs"}}
	}
	iter, err := storesVal.Fields()
	if err != nil {
		return result, []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating stores: %v", err)}}
	}

	var errs []error
	for iter.Next() {
		name := strings.Trim(iter.Label(), `"`)
		spec, compileErr := compiler.CompileStore(iter.Value())
		if compileErr != nil {
			loadErr := convertCompileError(compileErr, "store."+name, ErrCodeGeneric)
			result.Failed[name] = loadErr
			errs = append(errs, loadErr)
			if mode == LoadModeFailFast {
				return result, errs
			}
			continue
		}
		result.Stores = append(result.Stores, spec)
	}

	if len(result.Stores) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: "no store definitions found in specs"})
	}
	return result, errs
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// OpenStore loads specsDir and builds a live store for the named
// definition. Returns a LoadError for every failure so callers can report
// a stable code.
func OpenStore(specsDir, name string, logger *slog.Logger, opts ...store.Option) (*store.Store, *compiler.StoreSpec, error) {
	result, errs := LoadSpecs(specsDir, LoadModeCollectAll)
	if result == nil {
		return nil, nil, errs[0]
	}
	spec, err := result.Store(name)
	if err != nil {
		return nil, nil, err
	}

	s, err := buildStore(spec, logger, opts...)
	if err != nil {
		return nil, nil, err
	}
	return s, spec, nil
}

// buildStore builds a live store from a compiled spec.
func buildStore(spec *compiler.StoreSpec, logger *slog.Logger, opts ...store.Option) (*store.Store, error) {
	def, buildOpts, err := compiler.Build(spec)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: err.Error(), Pos: spec.Pos}
	}

	all := append(buildOpts, store.WithLogger(logger))
	all = append(all, opts...)
	s, err := store.New(def, all...)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: err.Error(), Pos: spec.Pos}
	}
	return s, nil
}

// requireFile reports a missing path. Journals are created on open, so
// read-only commands check first.
func requireFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("journal not found: %s", path)
	}
	return nil
}

// convertCompileError converts a compiler error to a LoadError with
// position info. fallback is the code for errors without a field.
func convertCompileError(err error, context, fallback string) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		code := MapFieldToErrorCode(compileErr.Field)
		if code == ErrCodeGeneric {
			code = fallback
		}
		return &LoadError{
			Code:    code,
			Message: fmt.Sprintf("%s: %s: %s", context, compileErr.Field, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    fallback,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}

// Error code constants, shared by every command.
const (
	ErrCodeGeneric       = "E001" // Generic/unknown error
	ErrCodeScanError     = "E002" // Directory scan error
	ErrCodeNoFiles       = "E003" // No CUE files found
	ErrCodeLoadFailed    = "E004" // CUE load failed
	ErrCodeNotFound      = "E005" // Path not found
	ErrCodeBuildFailed   = "E006" // Definition failed to build
	ErrCodeWriteFailed   = "E007" // File write error
	ErrCodeStoreNotFound = "E008" // --store names no compiled store
	ErrCodeJournal       = "E009" // Journal open/read/write failed
	ErrCodeScenario      = "E010" // Scenario file invalid
	ErrCodeOperation     = "E011" // Store operation failed

	// Compile errors that map onto compiler validation codes.
	ErrCodeNoFields      = compiler.ErrNoFields
	ErrCodeInvalidTopic  = compiler.ErrInvalidTopic
	ErrCodeBadDefault    = "E120" // default is not concrete or not a value
	ErrCodeBadExpression = "E121" // expression is not a string
)

// MapFieldToErrorCode maps a compiler error field to an error code.
func MapFieldToErrorCode(field string) string {
	switch {
	case field == "fields":
		return ErrCodeNoFields
	case strings.HasPrefix(field, "events."):
		return ErrCodeInvalidTopic
	case strings.HasPrefix(field, "fields.") && strings.HasSuffix(field, ".default"):
		return ErrCodeBadDefault
	case strings.HasPrefix(field, "getters."),
		strings.HasPrefix(field, "queries."),
		strings.Contains(field, ".mutations."),
		strings.Contains(field, ".actions."):
		return ErrCodeBadExpression
	case field == "cue":
		return ErrCodeLoadFailed
	default:
		return ErrCodeGeneric
	}
}
