package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/paramgraph/internal/binder"
	"github.com/roach88/paramgraph/internal/compiler"
	"github.com/roach88/paramgraph/internal/param"
	"github.com/roach88/paramgraph/internal/resolve"
	"github.com/roach88/paramgraph/internal/snapshot"
	"github.com/roach88/paramgraph/internal/store"
)

// LoadResult contains the parameter sources loaded from a directory.
type LoadResult struct {
	Sources   *compiler.Sources
	FileCount int // Number of CUE files found
}

// LoadError represents an error that occurred while loading inputs.
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

// LoadSources loads and compiles the CUE parameter sources in dir.
func LoadSources(dir string) (*LoadResult, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("sources directory not found: %s", dir)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing sources directory: %v", err)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(cueFiles) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}

	sources, err := compiler.Compile(value)
	if err != nil {
		return nil, convertCompileError(err)
	}
	if len(sources.Canonical) == 0 && len(sources.Derived) == 0 {
		return nil, &LoadError{Code: ErrCodeGeneric, Message: "no canonical or derived parameters found in sources"}
	}

	return &LoadResult{Sources: sources, FileCount: len(cueFiles)}, nil
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
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: fmt.Sprintf("%s: %s", compileErr.Field, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
}

// loadAliases merges alias tables from the sources and any YAML files.
// A conflicting definition is an error.
func loadAliases(fromSources resolve.AliasTable, files ...string) (resolve.AliasTable, error) {
	table := resolve.AliasTable{}
	merged, err := table.Merge(fromSources)
	if err != nil {
		return nil, err
	}
	for _, path := range files {
		if path == "" {
			continue
		}
		extra, err := resolve.LoadAliases(path)
		if err != nil {
			return nil, err
		}
		if merged, err = merged.Merge(extra); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return merged, nil
}

// loadSnapshot reads a snapshot from a path or URL, or else the newest
// snapshot in the archive at db.
func loadSnapshot(ctx context.Context, location, db string) (*param.Snapshot, error) {
	switch {
	case location != "":
		data, err := binder.DefaultFetcher{}.Fetch(ctx, location)
		if err != nil {
			return nil, err
		}
		return snapshot.Parse(data)
	case db != "":
		st, err := store.Open(db)
		if err != nil {
			return nil, err
		}
		defer st.Close()
		return st.Latest(ctx)
	default:
		return nil, errors.New("no snapshot given: pass --snapshot or --db")
	}
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE or snapshot load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeWriteFailed = "E007" // File write error
	ErrCodeArchive     = "E008" // Snapshot archive error

	// Source compilation errors
	ErrCodeCanonical  = "E101" // Invalid canonical block
	ErrCodeDerived    = "E102" // Invalid derived block
	ErrCodeCrossCheck = "E103" // Invalid cross_check block
	ErrCodeAlias      = "E104" // Invalid alias block

	// Pipeline errors
	ErrCodeDuplicateKey     = "E301" // Two definitions of one path
	ErrCodeCycle            = "E302" // Derivation graph is not a DAG
	ErrCodeDangling         = "E303" // Dependency on an undeclared path
	ErrCodeCrossCheckFailed = "E304" // Cross-check exceeded tolerance in strict mode
	ErrCodeInvalidAlias     = "E305" // Alias rule fails validation

	// Validator errors
	ErrCodeUnresolved = "E401" // Unresolved references in the corpus
)

// MapFieldToErrorCode maps a compiler error field to an error code.
func MapFieldToErrorCode(field string) string {
	block, _, _ := strings.Cut(field, ".")
	switch block {
	case "canonical":
		return ErrCodeCanonical
	case "derived":
		return ErrCodeDerived
	case "cross_check":
		return ErrCodeCrossCheck
	case "alias":
		return ErrCodeAlias
	case "cue":
		return ErrCodeBuildFailed
	default:
		return ErrCodeGeneric
	}
}
