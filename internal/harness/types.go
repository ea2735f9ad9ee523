package harness

import (
	"github.com/roach88/paramgraph/internal/param"
	"github.com/roach88/paramgraph/internal/validate"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if the build matched expect and every assertion held.
	Pass bool `json:"pass"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// BuildError is set when compiling or evaluating the sources failed.
	BuildError *BuildError `json:"build_error,omitempty"`

	// Snapshot is the exported snapshot; nil when the build failed.
	Snapshot *param.Snapshot `json:"-"`

	// Order is the evaluation order of derivation entries.
	Order []string `json:"order,omitempty"`

	// Report is the validation report over the scenario documents.
	Report *validate.Report `json:"-"`

	// Bindings maps each binding reference to its rendered text.
	Bindings map[string]string `json:"bindings,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Errors:   []string{},
		Bindings: make(map[string]string),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
