package compiler

import (
	"fmt"

	"github.com/roach88/paramgraph/internal/param"
)

// Validation error codes (E200-E299)
const (
	ErrUnknownDependency  = "E201" // dependency names no canonical value or derived output
	ErrDuplicateOutput    = "E202" // output shadows a canonical value or another output
	ErrSelfDependency     = "E203" // derivation lists its own output as a dependency
	ErrUnknownCrossCheck  = "E204" // cross-check names an unknown path
	ErrInvalidAliasTarget = "E205" // alias target is not a dotted path
	ErrChainedAlias       = "E206" // alias target is itself an alias
)

// ValidationError represents a semantic error in a source tree.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks references between the blocks of s.
// Returns all errors found (does not fail-fast).
func Validate(s *Sources) []ValidationError {
	var errs []ValidationError

	known := make(map[param.Path]string) // path → declaring field
	for _, p := range s.Canonical {
		known[p.Path()] = "canonical." + p.Path().String()
	}
	for _, d := range s.Derived {
		field := "derived." + d.ID
		if prev, dup := known[d.Output]; dup {
			errs = append(errs, ValidationError{
				Field:   field + ".output",
				Message: fmt.Sprintf("%s is already declared by %s", d.Output, prev),
				Code:    ErrDuplicateOutput,
				Line:    d.Pos.Line(),
			})
			continue
		}
		known[d.Output] = field
	}

	for _, d := range s.Derived {
		field := "derived." + d.ID
		for _, dep := range d.Deps {
			switch {
			case dep == d.Output:
				errs = append(errs, ValidationError{
					Field:   field + ".deps",
					Message: fmt.Sprintf("%s depends on its own output", d.ID),
					Code:    ErrSelfDependency,
					Line:    d.Pos.Line(),
				})
			case known[dep] == "":
				errs = append(errs, ValidationError{
					Field:   field + ".deps",
					Message: fmt.Sprintf("unknown dependency %s", dep),
					Code:    ErrUnknownDependency,
					Line:    d.Pos.Line(),
				})
			}
		}
	}

	for _, c := range s.CrossChecks {
		for _, p := range []param.Path{c.A, c.B} {
			if known[p] == "" {
				errs = append(errs, ValidationError{
					Field:   "cross_check." + c.Name,
					Message: fmt.Sprintf("unknown path %s", p),
					Code:    ErrUnknownCrossCheck,
					Line:    c.Pos.Line(),
				})
			}
		}
	}

	for _, alias := range s.Aliases.Aliases() {
		target := s.Aliases[alias]
		if _, err := param.ParsePath(target); err != nil {
			errs = append(errs, ValidationError{
				Field:   "alias." + alias,
				Message: err.Error(),
				Code:    ErrInvalidAliasTarget,
			})
			continue
		}
		if _, chained := s.Aliases.Lookup(target); chained {
			errs = append(errs, ValidationError{
				Field:   "alias." + alias,
				Message: fmt.Sprintf("target %q is itself an alias", target),
				Code:    ErrChainedAlias,
			})
		}
	}

	return errs
}
