package harness

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/paramgraph/internal/resolve"
)

// Summary renders a result as deterministic text for golden comparison.
// Numbers use the canonical snapshot encoding; every list is ordered.
func Summary(name string, r *Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario %s\n", name)

	if r.BuildError != nil {
		fmt.Fprintf(&b, "build error: %s\n", r.BuildError.Kind)
		return b.String()
	}

	fmt.Fprintf(&b, "version %s\n", r.Snapshot.Version)
	fmt.Fprintf(&b, "order %s\n", strings.Join(r.Order, " "))

	b.WriteString("parameters:\n")
	for _, path := range r.Snapshot.Paths() {
		p, _ := r.Snapshot.Lookup(path)
		fmt.Fprintf(&b, "  %s = %s [%s]", path, describe(p.Value), p.Source)
		if deps := r.Snapshot.ProvenanceGraph[path.String()]; len(deps) > 0 {
			fmt.Fprintf(&b, " <- %s", strings.Join(deps, ", "))
		}
		b.WriteString("\n")
	}

	if len(r.Snapshot.Diagnostics.Unavailable) > 0 {
		b.WriteString("unavailable:\n")
		for _, u := range r.Snapshot.Diagnostics.Unavailable {
			cause := u.Cause
			if cause == "" {
				cause = u.Entry
			}
			fmt.Fprintf(&b, "  %s (root %s)\n", u.Path, cause)
		}
	}

	if n := len(r.Snapshot.Diagnostics.Warnings); n > 0 {
		fmt.Fprintf(&b, "warnings: %d\n", n)
	}

	if r.Report != nil && r.Report.Documents > 0 {
		fmt.Fprintf(&b, "references: %d scanned, %d unresolved\n", r.Report.Scanned, len(r.Report.Unresolved))
		for _, s := range resolve.Strategies() {
			if n := r.Report.ByStrategy[s]; n > 0 {
				fmt.Fprintf(&b, "  %s %d\n", s, n)
			}
		}
		for _, u := range r.Report.Unresolved {
			fmt.Fprintf(&b, "  unresolved %s %q\n", u.Reference.Location(), u.Reference.Request.String())
		}
	}

	if len(r.Bindings) > 0 {
		b.WriteString("bindings:\n")
		for _, ref := range sortedBindings(r) {
			fmt.Fprintf(&b, "  %s => %s\n", ref, r.Bindings[ref])
		}
	}
	return b.String()
}

// RunWithGolden executes a scenario and compares its summary against a
// golden file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the summary doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares the summary of an existing result against a golden
// file without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, []byte(Summary(scenarioName, result)))
}
