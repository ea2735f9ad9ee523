package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/paramgraph/internal/param"
	"github.com/roach88/paramgraph/internal/resolve"
	"github.com/roach88/paramgraph/internal/validate"
)

// fixtureResult builds a result by hand, independent of the pipeline.
func fixtureResult() *Result {
	snap := param.NewSnapshot()
	snap.Put(param.Parameter{Category: "cosmology", Key: "H0", Value: param.Number(67.4), Source: param.SourceCanonical})
	snap.Put(param.Parameter{Category: "cosmology", Key: "h", Value: param.Number(0.674), Source: param.DerivedSource("little_h")})
	snap.Put(param.Parameter{Category: "meta", Key: "model", Value: param.Text("LCDM"), Source: param.SourceCanonical})
	snap.ProvenanceGraph["cosmology.h"] = []string{"cosmology.H0"}
	snap.Diagnostics.Unavailable = []param.Unavailable{
		{Entry: "broken", Path: "cosmology.broken", Reason: "not finite"},
		{Entry: "after", Path: "cosmology.after", Reason: "dependency broken unavailable", Cause: "broken"},
	}
	snap.Diagnostics.Warnings = []param.Warning{{Code: "consistency", Message: "h vs H0"}}

	r := NewResult()
	r.Snapshot = snap
	r.Order = []string{"broken", "little_h", "after"}
	r.Report = &validate.Report{
		Documents:  1,
		Scanned:    3,
		ByStrategy: map[string]int{resolve.StrategyExact: 2},
		Unresolved: []*validate.UnresolvedReferenceError{{
			Reference: validate.Reference{Document: "a.md", Line: 4, Request: resolve.PathRequest("cosmology.H1")},
		}},
	}
	r.Bindings["cosmology.h"] = "0.674"
	return r
}

func TestEvaluateAssertions_Pass(t *testing.T) {
	errs := EvaluateAssertions(fixtureResult(), []Assertion{
		{Type: AssertValue, Path: "cosmology.H0", Value: 67.4},
		{Type: AssertValue, Path: "cosmology.h", Value: 0.67, Tolerance: 0.01},
		{Type: AssertValue, Path: "meta.model", Value: "LCDM"},
		{Type: AssertUnavailable, Path: "cosmology.broken"},
		{Type: AssertUnavailable, Path: "cosmology.after", Cause: "broken"},
		{Type: AssertProvenance, Path: "cosmology.h", Deps: []string{"cosmology.H0"}},
		{Type: AssertOrder, Entries: []string{"broken", "after"}},
		{Type: AssertWarningCount, Count: 1},
		{Type: AssertUnresolved, Count: 1},
		{Type: AssertUnresolved, Document: "a.md", Line: 4, Count: 1},
		{Type: AssertUnresolved, Document: "b.md", Count: 0},
		{Type: AssertStrategyCount, Strategy: resolve.StrategyExact, Count: 2},
		{Type: AssertStrategyCount, Strategy: resolve.StrategyAlias, Count: 0},
		{Type: AssertBinding, Ref: "cosmology.h", Text: "0.674"},
	})
	assert.Empty(t, errs)
}

func TestEvaluateAssertions_Fail(t *testing.T) {
	tests := []struct {
		name      string
		assertion Assertion
		want      string
	}{
		{"missing path", Assertion{Type: AssertValue, Path: "cosmology.X", Value: 1}, "path missing from snapshot"},
		{"wrong number", Assertion{Type: AssertValue, Path: "cosmology.H0", Value: 70}, "cosmology.H0 = 67.4"},
		{"text vs number", Assertion{Type: AssertValue, Path: "meta.model", Value: 1}, `"LCDM"`},
		{"not unavailable", Assertion{Type: AssertUnavailable, Path: "cosmology.h"}, "cosmology.h unavailable"},
		{"wrong cause", Assertion{Type: AssertUnavailable, Path: "cosmology.after", Cause: "other"}, "because of other"},
		{"no provenance", Assertion{Type: AssertProvenance, Path: "cosmology.H0"}, "no provenance recorded"},
		{"wrong deps", Assertion{Type: AssertProvenance, Path: "cosmology.h", Deps: []string{"cosmology.X"}}, "cosmology.h <- [cosmology.H0]"},
		{"order reversed", Assertion{Type: AssertOrder, Entries: []string{"after", "broken"}}, "order [broken little_h after]"},
		{"order unknown", Assertion{Type: AssertOrder, Entries: []string{"broken", "ghost"}}, "entry ghost evaluated"},
		{"warnings", Assertion{Type: AssertWarningCount, Count: 0}, "1 warning(s)"},
		{"unresolved", Assertion{Type: AssertUnresolved, Count: 0}, "1 at [a.md:4]"},
		{"strategy", Assertion{Type: AssertStrategyCount, Strategy: resolve.StrategyFallback, Count: 1}, "via fallback"},
		{"binding missing", Assertion{Type: AssertBinding, Ref: "hubble"}, "bindings [cosmology.h]"},
		{"binding text", Assertion{Type: AssertBinding, Ref: "cosmology.h", Text: "0.67"}, `"0.674"`},
		{"unknown type", Assertion{Type: "vibes"}, "unknown assertion type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := EvaluateAssertions(fixtureResult(), []Assertion{tt.assertion})
			require.Len(t, errs, 1)
			assert.Contains(t, errs[0], tt.want)
		})
	}
}

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{Type: AssertValue, Expected: "a.b = 1", Actual: "a.b = 2"}
	assert.Equal(t, "Assertion failed: value\n  Expected: a.b = 1\n  Actual: a.b = 2", err.Error())
}

func TestValuesEqual(t *testing.T) {
	assert.True(t, valuesEqual(param.Number(1), param.Number(1+1e-12), 0))
	assert.False(t, valuesEqual(param.Number(1), param.Number(1.1), 0))
	assert.True(t, valuesEqual(param.Number(1), param.Number(1.1), 0.2))
	assert.True(t, valuesEqual(param.Text("a"), param.Text("a"), 0))
	assert.False(t, valuesEqual(param.Text("1"), param.Number(1), 0))
}
