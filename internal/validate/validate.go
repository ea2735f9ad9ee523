// Package validate checks a corpus of consumer documents against a snapshot.
// Every reference marker is resolved with the same ordered strategies the
// runtime binder uses; any reference no strategy can serve fails the run.
package validate

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/paramgraph/internal/format"
	"github.com/roach88/paramgraph/internal/param"
	"github.com/roach88/paramgraph/internal/resolve"
)

// UnresolvedReferenceError is one reference that resolved under no strategy.
type UnresolvedReferenceError struct {
	Reference Reference
	Attempts  []resolve.Attempt
}

func (e *UnresolvedReferenceError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = a.String()
	}
	return fmt.Sprintf("%s: unresolved reference %q (tried %s)",
		e.Reference.Location(), e.Reference.Request.String(), strings.Join(parts, ", "))
}

// Strategies returns the strategy names attempted, in order.
func (e *UnresolvedReferenceError) Strategies() []string {
	var names []string
	for _, a := range e.Attempts {
		if !slices.Contains(names, a.Strategy) {
			names = append(names, a.Strategy)
		}
	}
	return names
}

// Finding is a non-fatal observation about one reference.
type Finding struct {
	Reference Reference
	Message   string
}

func (f Finding) String() string {
	return f.Reference.Location() + ": " + f.Message
}

// Report is the result of one validation run.
type Report struct {
	Documents  int
	Scanned    int
	ByStrategy map[string]int // resolved references per strategy

	// Fallback lists references the snapshot cannot serve but the built-in
	// fallback table can. They pass, but point at missing snapshot data.
	Fallback       []Finding
	FormatWarnings []Finding
	Unresolved     []*UnresolvedReferenceError
	AliasErrors    []*AliasError
}

// Resolved returns the number of references resolved by any strategy.
func (r *Report) Resolved() int {
	n := 0
	for _, c := range r.ByStrategy {
		n += c
	}
	return n
}

// OK reports whether the corpus passes: no unresolved references and a
// valid alias table.
func (r *Report) OK() bool {
	return len(r.Unresolved) == 0 && len(r.AliasErrors) == 0
}

// Err joins every fatal problem, or returns nil when the report is OK.
func (r *Report) Err() error {
	var errs []error
	for _, e := range r.AliasErrors {
		errs = append(errs, e)
	}
	for _, e := range r.Unresolved {
		errs = append(errs, e)
	}
	return errors.Join(errs...)
}

// Option configures a validation run.
type Option func(*options)

type options struct {
	fallback resolve.FallbackTable
}

// WithFallback replaces the built-in fallback table.
func WithFallback(table resolve.FallbackTable) Option {
	return func(o *options) { o.fallback = table }
}

// Validate scans corpus and resolves every reference against snap.
// The error is reserved for documents that cannot be scanned; unresolved
// references are reported, not returned.
func Validate(snap *param.Snapshot, corpus []Document, aliases resolve.AliasTable, opts ...Option) (*Report, error) {
	o := options{fallback: resolve.DefaultFallback()}
	for _, opt := range opts {
		opt(&o)
	}

	report := &Report{
		Documents:   len(corpus),
		ByStrategy:  make(map[string]int),
		AliasErrors: ValidateAliases(snap, aliases, WithFallback(o.fallback)),
	}
	r := resolve.New(snap, resolve.WithAliases(aliases), resolve.WithFallback(o.fallback))

	for _, doc := range corpus {
		refs, err := Scan(doc)
		if err != nil {
			return nil, err
		}
		for _, ref := range refs {
			report.Scanned++
			out := r.Resolve(ref.Request)
			if !out.Found {
				report.Unresolved = append(report.Unresolved, &UnresolvedReferenceError{
					Reference: ref,
					Attempts:  out.Attempts,
				})
				continue
			}
			report.ByStrategy[out.Strategy]++
			if out.FromFallback() {
				report.Fallback = append(report.Fallback, Finding{
					Reference: ref,
					Message:   fmt.Sprintf("%q resolved from the fallback table, not the snapshot", ref.Request.String()),
				})
			}
			if _, err := format.Parse(ref.Directive); err != nil {
				report.FormatWarnings = append(report.FormatWarnings, Finding{Reference: ref, Message: err.Error()})
			}
		}
	}
	return report, nil
}
