package graph

import (
	"fmt"
	"slices"

	"github.com/roach88/paramgraph/internal/param"
)

// Output is what a derivation function produces.
// Metadata fields left empty are filled from the entry's declared metadata.
type Output struct {
	Value    param.Value
	Metadata param.Metadata
}

// Func is a pure derivation function. It may only read the dependencies
// declared on its Entry, through Inputs.
type Func func(in *Inputs) (Output, error)

// Entry declares one derived parameter.
type Entry struct {
	ID       string
	Output   param.Path
	Deps     []param.Path
	Fn       Func
	Metadata param.Metadata
}

// Inputs gives a derivation function read access to its declared
// dependencies and records which of them were consumed.
type Inputs struct {
	declared []param.Path
	values   map[param.Path]param.Value
	consumed map[param.Path]bool
}

func newInputs(deps []param.Path, values map[param.Path]param.Value) *Inputs {
	in := &Inputs{
		declared: deps,
		values:   make(map[param.Path]param.Value, len(deps)),
		consumed: make(map[param.Path]bool, len(deps)),
	}
	for _, dep := range deps {
		in.values[dep] = values[dep]
	}
	return in
}

// Declared returns the dependency paths in declaration order.
func (in *Inputs) Declared() []param.Path {
	return slices.Clone(in.declared)
}

// Value returns the value of a declared dependency.
func (in *Inputs) Value(path string) (param.Value, error) {
	p, err := param.ParsePath(path)
	if err != nil {
		return nil, err
	}
	return in.ValueAt(p)
}

// ValueAt is like Value but takes a parsed path.
func (in *Inputs) ValueAt(p param.Path) (param.Value, error) {
	v, ok := in.values[p]
	if !ok {
		return nil, fmt.Errorf("%s is not a declared dependency", p)
	}
	in.consumed[p] = true
	return v, nil
}

// Number returns a declared numeric dependency.
func (in *Inputs) Number(path string) (float64, error) {
	v, err := in.Value(path)
	if err != nil {
		return 0, err
	}
	f, ok := param.Float(v)
	if !ok {
		return 0, fmt.Errorf("%s is not numeric", path)
	}
	return f, nil
}

// Text returns a declared textual dependency.
func (in *Inputs) Text(path string) (string, error) {
	v, err := in.Value(path)
	if err != nil {
		return "", err
	}
	s, ok := v.(param.Text)
	if !ok {
		return "", fmt.Errorf("%s is not text", path)
	}
	return string(s), nil
}

// consumedPaths returns the consumed dependencies in declaration order.
func (in *Inputs) consumedPaths() []string {
	out := make([]string, 0, len(in.consumed))
	for _, p := range in.declared {
		if in.consumed[p] {
			out = append(out, p.String())
		}
	}
	return out
}

// Formula adapts a numeric function of the declared dependencies, taken in
// declaration order, into a Func.
func Formula(fn func(args ...float64) (float64, error)) Func {
	return func(in *Inputs) (Output, error) {
		args := make([]float64, 0, len(in.declared))
		for _, p := range in.declared {
			v, err := in.ValueAt(p)
			if err != nil {
				return Output{}, err
			}
			f, ok := param.Float(v)
			if !ok {
				return Output{}, fmt.Errorf("%s is not numeric", p)
			}
			args = append(args, f)
		}
		result, err := fn(args...)
		if err != nil {
			return Output{}, err
		}
		return Output{Value: param.Number(result)}, nil
	}
}
