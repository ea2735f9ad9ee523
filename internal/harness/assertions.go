package harness

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/roach88/paramgraph/internal/param"
)

// defaultTolerance bounds numeric value assertions without a tolerance.
const defaultTolerance = 1e-9

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// assertValue checks the snapshot value at path.
func assertValue(r *Result, a Assertion) error {
	p, ok := r.Snapshot.Lookup(param.MustParsePath(a.Path))
	if !ok {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%s = %v", a.Path, a.Value), Actual: "path missing from snapshot"}
	}

	want, err := param.FromAny(a.Value)
	if err != nil {
		return fmt.Errorf("value assertion on %s: %w", a.Path, err)
	}
	if valuesEqual(p.Value, want, a.Tolerance) {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%s = %s", a.Path, describe(want)),
		Actual:   fmt.Sprintf("%s = %s", a.Path, describe(p.Value)),
	}
}

// assertUnavailable checks that path is listed as unavailable, with the
// given root cause if one is named.
func assertUnavailable(r *Result, a Assertion) error {
	var listed []string
	for _, u := range r.Snapshot.Diagnostics.Unavailable {
		if u.Path != a.Path {
			listed = append(listed, u.Path)
			continue
		}
		if a.Cause != "" && u.Cause != a.Cause {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s unavailable because of %s", a.Path, a.Cause),
				Actual:   fmt.Sprintf("cause %q (%s)", u.Cause, u.Reason),
			}
		}
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: a.Path + " unavailable",
		Actual:   fmt.Sprintf("unavailable paths %v", listed),
	}
}

// assertProvenance checks the dependency list consumed by a derived path.
func assertProvenance(r *Result, a Assertion) error {
	deps, ok := r.Snapshot.ProvenanceGraph[a.Path]
	if !ok {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%s <- %v", a.Path, a.Deps), Actual: "no provenance recorded"}
	}
	if !slices.Equal(deps, a.Deps) {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%s <- %v", a.Path, a.Deps), Actual: fmt.Sprintf("%s <- %v", a.Path, deps)}
	}
	return nil
}

// assertOrder verifies entries appear in the evaluation order in the
// specified relative order. Other entries may appear between them.
func assertOrder(r *Result, a Assertion) error {
	last := -1
	for _, id := range a.Entries {
		idx := slices.Index(r.Order, id)
		if idx == -1 {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("entry %s evaluated", id), Actual: fmt.Sprintf("order %v", r.Order)}
		}
		if idx < last {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("order %v", a.Entries), Actual: fmt.Sprintf("order %v", r.Order)}
		}
		last = idx
	}
	return nil
}

func assertWarningCount(r *Result, a Assertion) error {
	got := len(r.Snapshot.Diagnostics.Warnings)
	if got != a.Count {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%d warning(s)", a.Count), Actual: fmt.Sprintf("%d warning(s)", got)}
	}
	return nil
}

// assertUnresolved counts unresolved references, optionally only those at
// one document and line.
func assertUnresolved(r *Result, a Assertion) error {
	got := 0
	var seen []string
	for _, u := range r.Report.Unresolved {
		seen = append(seen, u.Reference.Location())
		if a.Document != "" && u.Reference.Document != a.Document {
			continue
		}
		if a.Line > 0 && u.Reference.Line != a.Line {
			continue
		}
		got++
	}
	if got != a.Count {
		where := ""
		if a.Document != "" {
			where = " in " + a.Document
		}
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d unresolved reference(s)%s", a.Count, where),
			Actual:   fmt.Sprintf("%d at %v", got, seen),
		}
	}
	return nil
}

func assertStrategyCount(r *Result, a Assertion) error {
	got := r.Report.ByStrategy[a.Strategy]
	if got != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d reference(s) via %s", a.Count, a.Strategy),
			Actual:   fmt.Sprintf("%d (all strategies: %v)", got, r.Report.ByStrategy),
		}
	}
	return nil
}

func assertBinding(r *Result, a Assertion) error {
	got, ok := r.Bindings[a.Ref]
	if !ok {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("binding %s", a.Ref), Actual: fmt.Sprintf("bindings %v", sortedBindings(r))}
	}
	if got != a.Text {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%s renders %q", a.Ref, a.Text), Actual: fmt.Sprintf("%q", got)}
	}
	return nil
}

// valuesEqual compares numbers within tolerance and text exactly.
func valuesEqual(actual, expected param.Value, tolerance float64) bool {
	af, aNum := param.Float(actual)
	ef, eNum := param.Float(expected)
	if aNum != eNum {
		return false
	}
	if !aNum {
		return param.Equal(actual, expected)
	}
	if tolerance <= 0 {
		tolerance = defaultTolerance
	}
	return math.Abs(af-ef) <= tolerance
}

func describe(v param.Value) string {
	if f, ok := param.Float(v); ok {
		if s, err := param.FormatNumber(f); err == nil {
			return s
		}
	}
	return fmt.Sprintf("%q", param.ToAny(v))
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertValue:
			err = assertValue(result, assertion)
		case AssertUnavailable:
			err = assertUnavailable(result, assertion)
		case AssertProvenance:
			err = assertProvenance(result, assertion)
		case AssertOrder:
			err = assertOrder(result, assertion)
		case AssertWarningCount:
			err = assertWarningCount(result, assertion)
		case AssertUnresolved:
			err = assertUnresolved(result, assertion)
		case AssertStrategyCount:
			err = assertStrategyCount(result, assertion)
		case AssertBinding:
			err = assertBinding(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	return errs
}
