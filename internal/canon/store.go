// Package canon holds the canonical value store: fundamental, hand-authored
// parameters grouped into categories.
//
// The store is written once per build and read by the derivation executor.
// It never derives or mutates values after definition.
package canon

import (
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/paramgraph/internal/param"
)

// DuplicateKeyError reports a second definition of the same (category, key)
// within one build. It is fatal: no snapshot is exported.
type DuplicateKeyError struct {
	Path           param.Path
	ExistingSource string // source of the first definition
	Source         string // source of the colliding definition
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate parameter %s: already defined by %s, redefined by %s",
		e.Path, e.ExistingSource, e.Source)
}

// IsDuplicateKey reports whether err is (or wraps) a DuplicateKeyError.
func IsDuplicateKey(err error) bool {
	var de *DuplicateKeyError
	return errors.As(err, &de)
}

// Store is the in-memory canonical value registry.
// It is not safe for concurrent writers; a build has a single writer.
type Store struct {
	params map[param.Path]param.Parameter
}

// New creates an empty store.
func New() *Store {
	return &Store{params: make(map[param.Path]param.Parameter)}
}

// Define registers a canonical value.
// Returns *DuplicateKeyError if (category, key) is already defined, and an
// error wrapping param.ErrDottedCategory if category contains '.'.
func (s *Store) Define(category, key string, value param.Value, meta param.Metadata) error {
	path := param.P(category, key)
	if err := path.Validate(); err != nil {
		return fmt.Errorf("define: %w", err)
	}
	if value == nil {
		return fmt.Errorf("define %s: value is required", path)
	}

	if existing, ok := s.params[path]; ok {
		return &DuplicateKeyError{Path: path, ExistingSource: existing.Source, Source: param.SourceCanonical}
	}

	s.params[path] = param.Parameter{
		Category: category,
		Key:      key,
		Value:    value,
		Source:   param.SourceCanonical,
		Metadata: meta,
	}
	return nil
}

// Get returns the canonical parameter at (category, key).
func (s *Store) Get(category, key string) (param.Parameter, bool) {
	return s.Lookup(param.P(category, key))
}

// Lookup returns the canonical parameter at path.
func (s *Store) Lookup(path param.Path) (param.Parameter, bool) {
	p, ok := s.params[path]
	return p, ok
}

// Has reports whether path is defined.
func (s *Store) Has(path param.Path) bool {
	_, ok := s.params[path]
	return ok
}

// All returns every canonical parameter ordered by path.
func (s *Store) All() []param.Parameter {
	out := make([]param.Parameter, 0, len(s.params))
	for _, p := range s.params {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b param.Parameter) int {
		return param.ComparePaths(a.Path(), b.Path())
	})
	return out
}

// Len returns the number of defined parameters.
func (s *Store) Len() int {
	return len(s.params)
}
