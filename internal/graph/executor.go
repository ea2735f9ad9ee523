package graph

import (
	"cmp"
	"fmt"
	"io"
	"log/slog"
	"math"
	"slices"

	"github.com/roach88/paramgraph/internal/canon"
	"github.com/roach88/paramgraph/internal/param"
)

// crossCheck is one declared equivalence between two parameters.
type crossCheck struct {
	a, b      param.Path
	tolerance float64
}

// Executor evaluates registered derivation entries over a canonical store.
//
// Evaluation is single-threaded and deterministic: entries run in
// topological order with ties broken by entry ID.
//
// INVARIANTS:
//   - entry IDs are unique
//   - every output path is produced by exactly one entry and never shadows
//     a canonical value
type Executor struct {
	store   *canon.Store
	entries map[string]Entry
	outputs map[param.Path]string // output path → entry ID
	checks  []crossCheck
	strict  bool
	logger  *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLogger sets the logger used for evaluation diagnostics.
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithStrictCrossChecks makes EvaluateAll fail with *CrossCheckError when
// any cross-check fails, instead of reporting warnings.
func WithStrictCrossChecks() ExecutorOption {
	return func(e *Executor) {
		e.strict = true
	}
}

// NewExecutor creates an executor reading canonical values from store.
func NewExecutor(store *canon.Store, opts ...ExecutorOption) *Executor {
	e := &Executor{
		store:   store,
		entries: make(map[string]Entry),
		outputs: make(map[param.Path]string),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register adds a derivation entry.
//
// Dependencies need not be defined yet; they are checked by EvaluateAll.
// Returns *canon.DuplicateKeyError if the output collides with a canonical
// value or another entry's output.
func (e *Executor) Register(entry Entry) error {
	if entry.ID == "" {
		return fmt.Errorf("register: entry ID is required")
	}
	if entry.Fn == nil {
		return fmt.Errorf("register %s: function is required", entry.ID)
	}
	if err := entry.Output.Validate(); err != nil {
		return fmt.Errorf("register %s: output: %w", entry.ID, err)
	}
	if _, exists := e.entries[entry.ID]; exists {
		return fmt.Errorf("register %s: entry already registered", entry.ID)
	}

	source := param.DerivedSource(entry.ID)
	if e.store.Has(entry.Output) {
		return &canon.DuplicateKeyError{Path: entry.Output, ExistingSource: param.SourceCanonical, Source: source}
	}
	if owner, exists := e.outputs[entry.Output]; exists {
		return &canon.DuplicateKeyError{Path: entry.Output, ExistingSource: param.DerivedSource(owner), Source: source}
	}

	deps := make([]param.Path, 0, len(entry.Deps))
	for _, dep := range entry.Deps {
		if err := dep.Validate(); err != nil {
			return fmt.Errorf("register %s: dependency: %w", entry.ID, err)
		}
		if !slices.Contains(deps, dep) {
			deps = append(deps, dep)
		}
	}
	entry.Deps = deps

	e.entries[entry.ID] = entry
	e.outputs[entry.Output] = entry.ID
	return nil
}

// CrossCheck declares that a and b compute the same quantity and must agree
// within tolerance after evaluation.
func (e *Executor) CrossCheck(a, b param.Path, tolerance float64) error {
	if tolerance < 0 || math.IsNaN(tolerance) {
		return fmt.Errorf("cross-check %s vs %s: invalid tolerance %v", a, b, tolerance)
	}
	e.checks = append(e.checks, crossCheck{a: a, b: b, tolerance: tolerance})
	return nil
}

// Entries returns the registered entries ordered by ID.
func (e *Executor) Entries() []Entry {
	out := make([]Entry, 0, len(e.entries))
	for _, entry := range e.entries {
		out = append(out, entry)
	}
	slices.SortFunc(out, func(a, b Entry) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Result is the outcome of one EvaluateAll call.
type Result struct {
	// Parameters holds canonical and evaluated derived parameters, ordered by path.
	Parameters []param.Parameter

	// Provenance maps each derived path to the dependency paths its
	// function actually consumed.
	Provenance map[string][]string

	// Unavailable lists derived parameters that could not be evaluated,
	// ordered by path.
	Unavailable []param.Unavailable

	// Warnings lists failed cross-checks in declaration order.
	Warnings []ConsistencyWarning

	// Order is the evaluation order of entry IDs.
	Order []string
}

// Lookup returns the evaluated parameter at path.
func (r *Result) Lookup(path param.Path) (param.Parameter, bool) {
	i, found := slices.BinarySearchFunc(r.Parameters, path, func(p param.Parameter, target param.Path) int {
		return param.ComparePaths(p.Path(), target)
	})
	if !found {
		return param.Parameter{}, false
	}
	return r.Parameters[i], true
}

// EvaluateAll evaluates every registered entry.
//
// The algorithm:
//  1. Check that every dependency is canonical or an entry output
//  2. Build the entry dependency graph and reject cycles
//  3. Evaluate entries in topological order; a failing entry and its
//     transitive dependents become unavailable, other branches continue
//  4. Run declared cross-checks over the evaluated values
//
// Steps 1 and 2 fail the whole run with *DanglingDependencyError or
// *CyclicDependencyError. In strict mode step 4 fails it with
// *CrossCheckError.
func (e *Executor) EvaluateAll() (*Result, error) {
	entries := e.Entries()

	var dangling []DanglingRef
	g := make(dependencyGraph, len(entries))
	for _, entry := range entries {
		var edges []string
		for _, dep := range entry.Deps {
			if owner, ok := e.outputs[dep]; ok {
				if !slices.Contains(edges, owner) {
					edges = append(edges, owner)
				}
				continue
			}
			if !e.store.Has(dep) {
				dangling = append(dangling, DanglingRef{Entry: entry.ID, Dep: dep})
			}
		}
		slices.Sort(edges)
		g[entry.ID] = edges
	}
	if len(dangling) > 0 {
		return nil, &DanglingDependencyError{Refs: dangling}
	}

	if cycles := findCycles(g); len(cycles) > 0 {
		return nil, &CyclicDependencyError{Cycle: cycles[0], Cycles: cycles}
	}

	values := make(map[param.Path]param.Value, e.store.Len()+len(entries))
	canonical := e.store.All()
	for _, p := range canonical {
		values[p.Path()] = p.Value
	}

	result := &Result{
		Parameters: slices.Clone(canonical),
		Provenance: make(map[string][]string),
		Order:      topoOrder(g),
	}

	failedRoot := make(map[string]string) // entry ID → root failing entry ID
	for _, id := range result.Order {
		entry := e.entries[id]

		if cause, blocked := e.blockedBy(entry, failedRoot); blocked {
			failedRoot[id] = cause
			result.Unavailable = append(result.Unavailable, param.Unavailable{
				Entry:  id,
				Path:   entry.Output.String(),
				Reason: fmt.Sprintf("dependency %s unavailable", cause),
				Cause:  cause,
			})
			continue
		}

		in := newInputs(entry.Deps, values)
		out, err := safeCall(entry.Fn, in)
		if err == nil && out.Value == nil {
			err = fmt.Errorf("no value produced")
		}
		if err == nil {
			err = checkFinite(out.Value)
		}
		if err != nil {
			evalErr := &EvaluationError{Entry: id, Err: err}
			e.logger.Warn("derivation failed", "entry", id, "output", entry.Output.String(), "error", err)
			failedRoot[id] = id
			result.Unavailable = append(result.Unavailable, param.Unavailable{
				Entry:  id,
				Path:   entry.Output.String(),
				Reason: evalErr.Error(),
			})
			continue
		}

		values[entry.Output] = out.Value
		result.Parameters = append(result.Parameters, param.Parameter{
			Category: entry.Output.Category,
			Key:      entry.Output.Key,
			Value:    out.Value,
			Source:   param.DerivedSource(id),
			Metadata: out.Metadata.Merge(entry.Metadata),
		})
		result.Provenance[entry.Output.String()] = in.consumedPaths()
	}

	slices.SortFunc(result.Parameters, func(a, b param.Parameter) int {
		return param.ComparePaths(a.Path(), b.Path())
	})
	slices.SortFunc(result.Unavailable, func(a, b param.Unavailable) int {
		return param.ComparePaths(param.MustParsePath(a.Path), param.MustParsePath(b.Path))
	})

	result.Warnings = e.runCrossChecks(values)
	for _, w := range result.Warnings {
		e.logger.Warn("cross-check failed", "a", w.A.String(), "b", w.B.String(), "detail", w.Error())
	}
	if e.strict && len(result.Warnings) > 0 {
		return nil, &CrossCheckError{Warnings: result.Warnings}
	}

	e.logger.Debug("evaluation complete",
		"entries", len(entries),
		"parameters", len(result.Parameters),
		"unavailable", len(result.Unavailable),
		"warnings", len(result.Warnings),
	)
	return result, nil
}

// blockedBy reports whether any dependency of entry is the output of a failed
// entry, returning the root cause of the first such dependency.
func (e *Executor) blockedBy(entry Entry, failedRoot map[string]string) (string, bool) {
	for _, dep := range entry.Deps {
		owner, ok := e.outputs[dep]
		if !ok {
			continue
		}
		if cause, failed := failedRoot[owner]; failed {
			return cause, true
		}
	}
	return "", false
}

// runCrossChecks compares every declared pair in declaration order.
func (e *Executor) runCrossChecks(values map[param.Path]param.Value) []ConsistencyWarning {
	var warnings []ConsistencyWarning
	for _, c := range e.checks {
		w := ConsistencyWarning{A: c.a, B: c.b, Tolerance: c.tolerance}

		va, okA := values[c.a]
		vb, okB := values[c.b]
		if !okA || !okB {
			missing := c.a
			if okA {
				missing = c.b
			}
			w.Reason = fmt.Sprintf("%s has no value", missing)
			warnings = append(warnings, w)
			continue
		}

		fa, numA := param.Float(va)
		fb, numB := param.Float(vb)
		if !numA || !numB {
			w.Reason = "values are not both numeric"
			warnings = append(warnings, w)
			continue
		}

		w.ValueA, w.ValueB = fa, fb
		w.Delta = math.Abs(fa - fb)
		if w.Delta > c.tolerance {
			warnings = append(warnings, w)
		}
	}
	return warnings
}

// safeCall runs a derivation function, converting a panic into an error.
func safeCall(fn Func, in *Inputs) (out Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(in)
}
