package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"

	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/paramgraph/internal/binder"
	"github.com/roach88/paramgraph/internal/canon"
	"github.com/roach88/paramgraph/internal/compiler"
	"github.com/roach88/paramgraph/internal/graph"
	"github.com/roach88/paramgraph/internal/resolve"
	"github.com/roach88/paramgraph/internal/snapshot"
	"github.com/roach88/paramgraph/internal/testutil"
	"github.com/roach88/paramgraph/internal/validate"
)

// Stamp is the generatedAt of every scenario snapshot.
var Stamp = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// Build error kinds.
const (
	ErrorInvalid    = "invalid"     // sources fail to compile or cross-reference
	ErrorDuplicate  = "duplicate"   // a path is defined twice
	ErrorCycle      = "cycle"       // derivations do not form a DAG
	ErrorDangling   = "dangling"    // a dependency names nothing
	ErrorCrossCheck = "cross_check" // a cross-check failed in strict mode
	ErrorAlias      = "alias"       // an alias rule is invalid
)

func isBuildErrorKind(kind string) bool {
	switch kind {
	case ErrorInvalid, ErrorDuplicate, ErrorCycle, ErrorDangling, ErrorCrossCheck, ErrorAlias:
		return true
	}
	return false
}

// BuildError is a build failure classified by kind.
type BuildError struct {
	Kind string `json:"kind"`
	Err  error  `json:"-"`
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// Harness is the test execution engine.
// It runs one scenario with a fixed clock and an in-memory version counter.
type Harness struct {
	clock  *testutil.FixedClock
	logger *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Execution flow:
//  1. Compile the sources as one CUE package and cross-reference them
//  2. Evaluate the derivation graph and export version 1
//  3. Validate the alias table and the document corpus
//  4. Bind every binding reference with a fresh binder
//  5. Evaluate assertions
//
// A build failure ends the run after step 1 or 2; it passes only if
// expect names its kind. The error return is reserved for scenarios that
// cannot be executed at all.
func Run(scenario *Scenario) (*Result, error) {
	h := &Harness{
		clock:  testutil.NewFixedClock(Stamp),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}
	ctx := context.Background()

	result := NewResult()
	aliases, buildErr, err := h.build(ctx, scenario, result)
	if err != nil {
		return nil, err
	}

	if buildErr != nil {
		result.BuildError = buildErr
		switch {
		case scenario.Expect == nil:
			result.AddError(fmt.Sprintf("build failed: %v", buildErr))
		case scenario.Expect.Error != buildErr.Kind:
			result.AddError(fmt.Sprintf("expected build error %q, got %v", scenario.Expect.Error, buildErr))
		}
		return result, nil
	}
	if scenario.Expect != nil {
		result.AddError(fmt.Sprintf("expected build error %q, build succeeded", scenario.Expect.Error))
		return result, nil
	}

	corpus := make([]validate.Document, 0, len(scenario.Documents))
	for _, d := range scenario.Documents {
		kind, ok := validate.KindFor(d.Name)
		if !ok {
			return nil, fmt.Errorf("document %s: unsupported extension", d.Name)
		}
		corpus = append(corpus, validate.Document{Name: d.Name, Kind: kind, Body: []byte(d.Body)})
	}
	report, err := validate.Validate(result.Snapshot, corpus, aliases)
	if err != nil {
		return nil, fmt.Errorf("validate corpus: %w", err)
	}
	result.Report = report

	h.bind(scenario.Bindings, aliases, result)

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// build compiles and evaluates the sources. Pipeline failures come back as
// a BuildError; the plain error is for unreadable inputs.
func (h *Harness) build(ctx context.Context, scenario *Scenario, result *Result) (resolve.AliasTable, *BuildError, error) {
	sources, err := compileSources(scenario.Sources)
	if err != nil {
		var compileErr *compiler.CompileError
		if errors.As(err, &compileErr) {
			return nil, &BuildError{Kind: ErrorInvalid, Err: err}, nil
		}
		return nil, nil, err
	}
	if errs := compiler.Validate(sources); len(errs) > 0 {
		kind := ErrorInvalid
		switch errs[0].Code {
		case compiler.ErrDuplicateOutput:
			kind = ErrorDuplicate
		case compiler.ErrUnknownDependency:
			kind = ErrorDangling
		case compiler.ErrInvalidAliasTarget, compiler.ErrChainedAlias:
			kind = ErrorAlias
		}
		return nil, &BuildError{Kind: kind, Err: errs[0]}, nil
	}

	aliases, err := sources.Aliases.Merge(resolve.AliasTable(scenario.Aliases))
	if err != nil {
		return nil, &BuildError{Kind: ErrorAlias, Err: err}, nil
	}

	opts := []graph.ExecutorOption{graph.WithLogger(h.logger)}
	if scenario.Strict {
		opts = append(opts, graph.WithStrictCrossChecks())
	}
	exec, err := sources.Executor(opts...)
	if err != nil {
		return nil, classify(err), nil
	}
	evaluated, err := exec.EvaluateAll()
	if err != nil {
		return nil, classify(err), nil
	}
	result.Order = evaluated.Order

	snap, err := snapshot.NewExporter(snapshot.WithClock(h.clock)).Export(ctx, evaluated)
	if err != nil {
		return nil, nil, err
	}
	if aliasErrs := validate.ValidateAliases(snap, aliases); len(aliasErrs) > 0 {
		return nil, &BuildError{Kind: ErrorAlias, Err: aliasErrs[0]}, nil
	}
	result.Snapshot = snap
	return aliases, nil, nil
}

// bind renders every binding through one binder instance.
func (h *Harness) bind(steps []BindingStep, aliases resolve.AliasTable, result *Result) {
	if len(steps) == 0 {
		return
	}
	b := binder.New(binder.WithAliases(aliases), binder.WithLogger(h.logger))
	targets := make([]*binder.Target, len(steps))
	for i, step := range steps {
		req := resolve.PathRequest(step.Ref)
		if step.Ref == "" {
			req = resolve.PairRequest(step.Category, step.Key)
		}
		targets[i] = binder.NewTarget(fmt.Sprintf("binding-%d", i), req, step.Format, nil)
		b.Bind(targets[i])
	}
	b.Init(result.Snapshot)
	b.RefreshAll()
	for _, t := range targets {
		result.Bindings[t.Request.String()] = t.Text()
	}
}

// compileSources loads files as one CUE package and compiles it.
func compileSources(files []string) (*compiler.Sources, error) {
	abs := make([]string, len(files))
	for i, f := range files {
		if _, err := os.Stat(f); err != nil {
			return nil, fmt.Errorf("source %s: %w", f, err)
		}
		p, err := filepath.Abs(f)
		if err != nil {
			return nil, err
		}
		abs[i] = p
	}

	instances := load.Instances(abs, &load.Config{Dir: filepath.Dir(abs[0])})
	if len(instances) == 0 {
		return nil, errors.New("no CUE instances loaded")
	}
	if err := instances[0].Err; err != nil {
		return nil, fmt.Errorf("loading sources: %w", err)
	}
	value := cuecontext.New().BuildInstance(instances[0])
	if err := value.Err(); err != nil {
		return nil, &compiler.CompileError{Field: "cue", Message: err.Error()}
	}
	return compiler.Compile(value)
}

// classify maps a store or executor error to a build error kind.
func classify(err error) *BuildError {
	var (
		dangling   *graph.DanglingDependencyError
		crossCheck *graph.CrossCheckError
	)
	kind := ErrorInvalid
	switch {
	case canon.IsDuplicateKey(err):
		kind = ErrorDuplicate
	case graph.IsCycleError(err):
		kind = ErrorCycle
	case errors.As(err, &dangling):
		kind = ErrorDangling
	case errors.As(err, &crossCheck):
		kind = ErrorCrossCheck
	}
	return &BuildError{Kind: kind, Err: err}
}

// sortedBindings returns the binding references in lexical order.
func sortedBindings(r *Result) []string {
	return slices.Sorted(maps.Keys(r.Bindings))
}
