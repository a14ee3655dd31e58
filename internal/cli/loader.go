package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/itemsync/internal/compiler"
	"github.com/roach88/itemsync/internal/ir"
	"github.com/roach88/itemsync/internal/schema"
	"github.com/roach88/itemsync/internal/syncerr"
)

// LoadResult contains a compiled and validated configuration.
type LoadResult struct {
	Config    *ir.Config
	Schema    *schema.Registry // nil when validation failed
	Warnings  []schema.Warning
	Cycles    []compiler.CycleWarning
	FileCount int // Number of CUE files found
}

// LoadError represents an error that occurred while loading the configuration.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadConfig loads, compiles and validates the configuration at path, a
// .cue file or a directory of them.
//
// A nil result means the configuration could not be compiled. A non-nil
// result with errors carries the compiled Config but no Schema: validation
// collects every problem instead of stopping at the first.
func LoadConfig(path string) (*LoadResult, []error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("configuration not found: %s", path)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing configuration: %v", err)}}
	}

	var dir string
	var args []string
	var fileCount int
	if info.IsDir() {
		cueFiles, err := FindCUEFiles(path)
		if err != nil {
			return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
		}
		if len(cueFiles) == 0 {
			return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", path)}}
		}
		dir, args, fileCount = path, []string{"."}, len(cueFiles)
	} else {
		if filepath.Ext(path) != ".cue" {
			return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("not a CUE file: %s", path)}}
		}
		dir, args, fileCount = filepath.Dir(path), []string{filepath.Base(path)}, 1
	}

	instances := load.Instances(args, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := cuecontext.New().BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	cfg, err := compiler.CompileConfig(value)
	if err != nil {
		return nil, []error{convertCompileError(err)}
	}

	result := &LoadResult{Config: cfg, FileCount: fileCount}

	if verrs := compiler.Validate(cfg); len(verrs) > 0 {
		errs := make([]error, len(verrs))
		for i := range verrs {
			errs[i] = verrs[i]
		}
		return result, errs
	}

	reg, warnings, err := schema.New(cfg)
	result.Warnings = warnings
	if err != nil {
		var list syncerr.List
		if errors.As(err, &list) {
			return result, list
		}
		return result, []error{err}
	}
	result.Schema = reg
	result.Cycles = compiler.AnalyzeWriteCycles(cfg)
	return result, nil
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    ErrCodeCompileFailed,
			Message: fmt.Sprintf("%s: %s", compileErr.Field, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{Code: ErrCodeCompileFailed, Message: err.Error()}
}

// toValidationError renders any load, validation or schema error as a
// ValidationError for reporting.
func toValidationError(err error) compiler.ValidationError {
	var ve compiler.ValidationError
	if errors.As(err, &ve) {
		return ve
	}
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return compiler.ValidationError{
			Field:   "load",
			Message: loadErr.Message,
			Code:    loadErr.Code,
			Line:    lineOf(loadErr.Pos),
		}
	}
	if se, ok := syncerr.As(err); ok {
		code := se.Code
		if code == "" {
			code = ErrCodeGeneric
		}
		return compiler.ValidationError{Field: se.Field, Message: err.Error(), Code: code}
	}
	return compiler.ValidationError{Field: "config", Message: err.Error(), Code: ErrCodeGeneric}
}

// lineOf extracts the line number from a token.Pos.
func lineOf(pos token.Pos) int {
	if pos.IsValid() {
		return pos.Line()
	}
	return 0
}

// Error code constants - unified across all CLI commands. Configuration
// findings keep the E1xx-E5xx codes of the package that raised them.
const (
	ErrCodeGeneric       = "E001" // Generic/unknown error
	ErrCodeScanError     = "E002" // Directory scan error
	ErrCodeNoFiles       = "E003" // No CUE files found
	ErrCodeLoadFailed    = "E004" // CUE load failed
	ErrCodeNotFound      = "E005" // Path not found
	ErrCodeBuildFailed   = "E006" // CUE build failed
	ErrCodeWriteFailed   = "E007" // File write error
	ErrCodeCompileFailed = "E008" // Configuration does not compile
	ErrCodeInvalidConfig = "E009" // Configuration failed validation
	ErrCodeProviders     = "E010" // Providers could not be built
	ErrCodeLedger        = "E011" // Run ledger could not be opened or read
	ErrCodeUsage         = "E012" // Unknown group, rule or flag value
)
