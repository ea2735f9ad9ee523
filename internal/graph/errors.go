package graph

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/roach88/paramgraph/internal/param"
)

// CyclicDependencyError reports that the derivation entries do not form a
// DAG. It is fatal: no snapshot is exported.
type CyclicDependencyError struct {
	// Cycle is the first cycle found, closed: ["A", "B", "C", "A"].
	Cycle []string

	// Cycles lists every cycle found, in the same closed form.
	Cycles [][]string
}

func (e *CyclicDependencyError) Error() string {
	msg := "cyclic dependency: " + strings.Join(e.Cycle, " → ")
	if len(e.Cycles) > 1 {
		msg += fmt.Sprintf(" (and %d more cycle(s))", len(e.Cycles)-1)
	}
	return msg
}

// IsCycleError reports whether err is (or wraps) a CyclicDependencyError.
func IsCycleError(err error) bool {
	var ce *CyclicDependencyError
	return errors.As(err, &ce)
}

// DanglingRef is one dependency that nothing defines.
type DanglingRef struct {
	Entry string
	Dep   param.Path
}

// DanglingDependencyError reports dependencies that are neither canonical
// values nor outputs of registered entries. It is fatal.
type DanglingDependencyError struct {
	Refs []DanglingRef
}

func (e *DanglingDependencyError) Error() string {
	parts := make([]string, len(e.Refs))
	for i, r := range e.Refs {
		parts[i] = fmt.Sprintf("%s needs %s", r.Entry, r.Dep)
	}
	return "undefined dependencies: " + strings.Join(parts, "; ")
}

// ConsistencyWarning reports two derivations of the same quantity that
// disagree beyond the declared tolerance, or that could not be compared.
type ConsistencyWarning struct {
	A, B           param.Path
	ValueA, ValueB float64
	Delta          float64
	Tolerance      float64
	Reason         string // set when the comparison could not be made
}

// Error implements error so warnings can be surfaced through error channels.
func (w ConsistencyWarning) Error() string {
	if w.Reason != "" {
		return fmt.Sprintf("cross-check %s vs %s: %s", w.A, w.B, w.Reason)
	}
	return fmt.Sprintf("cross-check %s vs %s: |%g - %g| = %g exceeds tolerance %g",
		w.A, w.B, w.ValueA, w.ValueB, w.Delta, w.Tolerance)
}

// Diagnostic converts the warning into the snapshot diagnostics form.
func (w ConsistencyWarning) Diagnostic() param.Warning {
	return param.Warning{
		Code:    "consistency",
		Message: w.Error(),
		Paths:   []string{w.A.String(), w.B.String()},
	}
}

// CrossCheckError is returned by EvaluateAll in strict mode when any
// cross-check fails.
type CrossCheckError struct {
	Warnings []ConsistencyWarning
}

func (e *CrossCheckError) Error() string {
	parts := make([]string, len(e.Warnings))
	for i, w := range e.Warnings {
		parts[i] = w.Error()
	}
	return fmt.Sprintf("%d cross-check(s) failed: %s", len(e.Warnings), strings.Join(parts, "; "))
}

// EvaluationError wraps a failure inside one derivation function.
type EvaluationError struct {
	Entry string
	Err   error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("derivation %s: %v", e.Entry, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

func checkFinite(v param.Value) error {
	f, ok := param.Float(v)
	if ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
		return fmt.Errorf("result %v is not finite", f)
	}
	return nil
}
