// Package compiler turns CUE parameter sources into the inputs of a build:
// canonical values, derivation entries, cross-checks and alias rules.
//
// A source tree has four optional top-level blocks:
//
//	canonical: cosmology: {
//		H0: {value: 67.4, unit: "km/s/Mpc", uncertainty: 0.5}
//		Omega_m: 0.315
//	}
//	derived: little_h: {
//		output: "cosmology.h"
//		deps: ["cosmology.H0"]
//		expr: "cosmology.H0 / 100"
//	}
//	cross_check: hubble: {a: "cosmology.h", b: "cosmology.h_planck", tolerance: 0.05}
//	alias: hubble: "cosmology.H0"
package compiler

import (
	"fmt"
	"slices"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/token"

	"github.com/roach88/paramgraph/internal/canon"
	"github.com/roach88/paramgraph/internal/graph"
	"github.com/roach88/paramgraph/internal/param"
	"github.com/roach88/paramgraph/internal/resolve"
)

// Sources is everything declared in one source tree.
type Sources struct {
	Canonical   []param.Parameter // declaration order
	Derived     []Derived         // sorted by ID
	CrossChecks []CrossCheck      // sorted by name
	Aliases     resolve.AliasTable
}

// Derived is one expression derivation.
type Derived struct {
	ID         string
	Output     param.Path
	Deps       []param.Path
	Expression string
	Metadata   param.Metadata
	Pos        token.Pos

	fn graph.Func
}

// Entry returns the derivation as an executor entry.
func (d Derived) Entry() graph.Entry {
	return graph.Entry{
		ID:       d.ID,
		Output:   d.Output,
		Deps:     slices.Clone(d.Deps),
		Fn:       d.fn,
		Metadata: d.Metadata,
	}
}

// CrossCheck declares that two paths should agree within Tolerance.
type CrossCheck struct {
	Name      string
	A, B      param.Path
	Tolerance float64
	Pos       token.Pos
}

// Fields accepted in a canonical parameter struct. Derivations additionally
// accept output, deps and expr.
var metadataFields = []string{"unit", "formula", "derivation", "uncertainty", "experimental", "references"}

// CompileString compiles CUE source text. filename is used in positions.
func CompileString(src, filename string) (*Sources, error) {
	v := cuecontext.New().CompileString(src, cue.Filename(filename))
	return Compile(v)
}

// Compile reads every block of v. It stops at the first error.
func Compile(v cue.Value) (*Sources, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError("cue", err)
	}

	src := &Sources{Aliases: resolve.AliasTable{}}
	steps := []struct {
		block string
		fn    func(cue.Value) error
	}{
		{"canonical", src.compileCanonical},
		{"derived", src.compileDerived},
		{"cross_check", src.compileCrossChecks},
		{"alias", src.compileAliases},
	}
	for _, step := range steps {
		block := v.LookupPath(cue.ParsePath(step.block))
		if !block.Exists() {
			continue
		}
		if err := step.fn(block); err != nil {
			return nil, err
		}
	}

	slices.SortFunc(src.Derived, func(a, b Derived) int { return strings.Compare(a.ID, b.ID) })
	slices.SortFunc(src.CrossChecks, func(a, b CrossCheck) int { return strings.Compare(a.Name, b.Name) })
	return src, nil
}

func (s *Sources) compileCanonical(v cue.Value) error {
	categories, err := v.Fields()
	if err != nil {
		return formatCUEError("canonical", err)
	}
	for categories.Next() {
		category := categories.Label()
		if strings.Contains(category, ".") {
			return &CompileError{
				Field:   "canonical." + category,
				Message: param.ErrDottedCategory.Error(),
				Pos:     categories.Value().Pos(),
			}
		}
		keys, err := categories.Value().Fields()
		if err != nil {
			return formatCUEError("canonical."+category, err)
		}
		for keys.Next() {
			key := keys.Label()
			p, err := compileParameter("canonical."+category+"."+key, keys.Value())
			if err != nil {
				return err
			}
			p.Category, p.Key = category, key
			p.Source = param.SourceCanonical
			s.Canonical = append(s.Canonical, p)
		}
	}
	return nil
}

// compileParameter accepts either a bare value or a struct with a value and
// metadata.
func compileParameter(field string, v cue.Value) (param.Parameter, error) {
	if v.IncompleteKind() != cue.StructKind {
		value, err := compileValue(field, v)
		return param.Parameter{Value: value}, err
	}

	if err := rejectUnknownFields(field, v, append([]string{"value"}, metadataFields...)); err != nil {
		return param.Parameter{}, err
	}
	valueVal := v.LookupPath(cue.ParsePath("value"))
	if !valueVal.Exists() {
		return param.Parameter{}, &CompileError{Field: field + ".value", Message: "value is required", Pos: v.Pos()}
	}
	value, err := compileValue(field+".value", valueVal)
	if err != nil {
		return param.Parameter{}, err
	}
	meta, err := compileMetadata(field, v)
	if err != nil {
		return param.Parameter{}, err
	}
	return param.Parameter{Value: value, Metadata: meta}, nil
}

// compileValue converts a concrete CUE number or string.
func compileValue(field string, v cue.Value) (param.Value, error) {
	switch v.Kind() {
	case cue.IntKind, cue.FloatKind, cue.NumberKind:
		f, err := v.Float64()
		if err != nil {
			return nil, formatCUEError(field, err)
		}
		return param.Number(f), nil
	case cue.StringKind:
		str, err := v.String()
		if err != nil {
			return nil, formatCUEError(field, err)
		}
		return param.Text(str), nil
	default:
		return nil, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("value must be a concrete number or string, got %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

func compileMetadata(field string, v cue.Value) (param.Metadata, error) {
	var meta param.Metadata
	var err error

	if meta.Unit, err = optionalString(field, v, "unit"); err != nil {
		return meta, err
	}
	if meta.Formula, err = optionalString(field, v, "formula"); err != nil {
		return meta, err
	}
	if meta.Derivation, err = optionalString(field, v, "derivation"); err != nil {
		return meta, err
	}

	if u := v.LookupPath(cue.ParsePath("uncertainty")); u.Exists() {
		if meta.Uncertainty, err = compileValue(field+".uncertainty", u); err != nil {
			return meta, err
		}
	}

	if exp := v.LookupPath(cue.ParsePath("experimental")); exp.Exists() {
		if meta.Experimental, err = compileExperimental(field+".experimental", exp); err != nil {
			return meta, err
		}
	}

	if refs := v.LookupPath(cue.ParsePath("references")); refs.Exists() {
		iter, err := refs.List()
		if err != nil {
			return meta, formatCUEError(field+".references", err)
		}
		for iter.Next() {
			ref, err := iter.Value().String()
			if err != nil {
				return meta, formatCUEError(field+".references", err)
			}
			meta.References = append(meta.References, ref)
		}
	}
	return meta, nil
}

func compileExperimental(field string, v cue.Value) (*param.Experimental, error) {
	if err := rejectUnknownFields(field, v, []string{"value", "uncertainty", "source"}); err != nil {
		return nil, err
	}
	valueVal := v.LookupPath(cue.ParsePath("value"))
	if !valueVal.Exists() {
		return nil, &CompileError{Field: field + ".value", Message: "value is required", Pos: v.Pos()}
	}
	value, err := compileValue(field+".value", valueVal)
	if err != nil {
		return nil, err
	}
	exp := &param.Experimental{Value: value}
	if u := v.LookupPath(cue.ParsePath("uncertainty")); u.Exists() {
		if exp.Uncertainty, err = compileValue(field+".uncertainty", u); err != nil {
			return nil, err
		}
	}
	if exp.Source, err = optionalString(field, v, "source"); err != nil {
		return nil, err
	}
	return exp, nil
}

func (s *Sources) compileDerived(v cue.Value) error {
	iter, err := v.Fields()
	if err != nil {
		return formatCUEError("derived", err)
	}
	allowed := append([]string{"output", "deps", "expr"}, metadataFields...)

	for iter.Next() {
		id := iter.Label()
		field := "derived." + id
		entry := iter.Value()

		if err := rejectUnknownFields(field, entry, allowed); err != nil {
			return err
		}

		d := Derived{ID: id, Pos: entry.Pos()}

		output, err := requiredString(field, entry, "output")
		if err != nil {
			return err
		}
		if d.Output, err = param.ParsePath(output); err != nil {
			return &CompileError{Field: field + ".output", Message: err.Error(), Pos: entry.Pos()}
		}

		if deps := entry.LookupPath(cue.ParsePath("deps")); deps.Exists() {
			depIter, err := deps.List()
			if err != nil {
				return formatCUEError(field+".deps", err)
			}
			for depIter.Next() {
				text, err := depIter.Value().String()
				if err != nil {
					return formatCUEError(field+".deps", err)
				}
				dep, err := param.ParsePath(text)
				if err != nil {
					return &CompileError{Field: field + ".deps", Message: err.Error(), Pos: depIter.Value().Pos()}
				}
				d.Deps = append(d.Deps, dep)
			}
		}

		if d.Expression, err = requiredString(field, entry, "expr"); err != nil {
			return err
		}
		if d.fn, err = graph.Expr(d.Expression, d.Deps); err != nil {
			return &CompileError{Field: field + ".expr", Message: err.Error(), Pos: entry.LookupPath(cue.ParsePath("expr")).Pos()}
		}

		if d.Metadata, err = compileMetadata(field, entry); err != nil {
			return err
		}
		if d.Metadata.Formula == "" {
			d.Metadata.Formula = d.Expression
		}
		s.Derived = append(s.Derived, d)
	}
	return nil
}

func (s *Sources) compileCrossChecks(v cue.Value) error {
	iter, err := v.Fields()
	if err != nil {
		return formatCUEError("cross_check", err)
	}
	for iter.Next() {
		name := iter.Label()
		field := "cross_check." + name
		check := iter.Value()

		if err := rejectUnknownFields(field, check, []string{"a", "b", "tolerance"}); err != nil {
			return err
		}

		c := CrossCheck{Name: name, Pos: check.Pos()}
		for _, side := range []struct {
			label string
			dst   *param.Path
		}{{"a", &c.A}, {"b", &c.B}} {
			text, err := requiredString(field, check, side.label)
			if err != nil {
				return err
			}
			if *side.dst, err = param.ParsePath(text); err != nil {
				return &CompileError{Field: field + "." + side.label, Message: err.Error(), Pos: check.Pos()}
			}
		}

		tol := check.LookupPath(cue.ParsePath("tolerance"))
		if !tol.Exists() {
			return &CompileError{Field: field + ".tolerance", Message: "tolerance is required", Pos: check.Pos()}
		}
		if c.Tolerance, err = tol.Float64(); err != nil {
			return formatCUEError(field+".tolerance", err)
		}
		if c.Tolerance < 0 {
			return &CompileError{Field: field + ".tolerance", Message: "tolerance must not be negative", Pos: tol.Pos()}
		}
		s.CrossChecks = append(s.CrossChecks, c)
	}
	return nil
}

func (s *Sources) compileAliases(v cue.Value) error {
	iter, err := v.Fields()
	if err != nil {
		return formatCUEError("alias", err)
	}
	for iter.Next() {
		alias := iter.Label()
		target, err := iter.Value().String()
		if err != nil {
			return formatCUEError("alias."+alias, err)
		}
		if target == "" {
			return &CompileError{Field: "alias." + alias, Message: "target must not be empty", Pos: iter.Value().Pos()}
		}
		s.Aliases[alias] = target
	}
	return nil
}

func requiredString(field string, v cue.Value, name string) (string, error) {
	f := v.LookupPath(cue.ParsePath(name))
	if !f.Exists() {
		return "", &CompileError{Field: field + "." + name, Message: name + " is required", Pos: v.Pos()}
	}
	str, err := f.String()
	if err != nil {
		return "", formatCUEError(field+"."+name, err)
	}
	return str, nil
}

func optionalString(field string, v cue.Value, name string) (string, error) {
	f := v.LookupPath(cue.ParsePath(name))
	if !f.Exists() {
		return "", nil
	}
	str, err := f.String()
	if err != nil {
		return "", formatCUEError(field+"."+name, err)
	}
	return str, nil
}

func rejectUnknownFields(field string, v cue.Value, allowed []string) error {
	iter, err := v.Fields()
	if err != nil {
		return formatCUEError(field, err)
	}
	for iter.Next() {
		if !slices.Contains(allowed, iter.Label()) {
			return &CompileError{
				Field:   field + "." + iter.Label(),
				Message: fmt.Sprintf("unknown field (allowed: %s)", strings.Join(allowed, ", ")),
				Pos:     iter.Value().Pos(),
			}
		}
	}
	return nil
}

// Executor defines the canonical values in a fresh store and registers every
// derivation and cross-check on a new executor over it.
func (s *Sources) Executor(opts ...graph.ExecutorOption) (*graph.Executor, error) {
	store := canon.New()
	for _, p := range s.Canonical {
		if err := store.Define(p.Category, p.Key, p.Value, p.Metadata); err != nil {
			return nil, err
		}
	}

	exec := graph.NewExecutor(store, opts...)
	for _, d := range s.Derived {
		if err := exec.Register(d.Entry()); err != nil {
			return nil, err
		}
	}
	for _, c := range s.CrossChecks {
		if err := exec.CrossCheck(c.A, c.B, c.Tolerance); err != nil {
			return nil, err
		}
	}
	return exec, nil
}
