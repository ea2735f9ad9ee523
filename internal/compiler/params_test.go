package compiler

import (
	"errors"
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/paramgraph/internal/canon"
	"github.com/roach88/paramgraph/internal/graph"
	"github.com/roach88/paramgraph/internal/param"
	"github.com/roach88/paramgraph/internal/resolve"
)

const cosmologySource = `
canonical: cosmology: {
	H0: {
		value:       67.4
		unit:        "km/s/Mpc"
		uncertainty: 0.5
		references: ["Planck 2018"]
		experimental: {value: 73.04, uncertainty: 1.04, source: "SH0ES"}
	}
	Omega_m: 0.315
	"H0.planck": 67.36
}
canonical: meta: model: "LCDM"

derived: little_h: {
	output:     "cosmology.h"
	deps:       ["cosmology.H0"]
	expr:       "cosmology.H0 / 100"
	derivation: "dimensionless Hubble parameter"
}
derived: h_planck: {
	output: "cosmology.h_planck"
	deps:   ["cosmology.H0.planck"]
	expr:   "cosmology[\"H0.planck\"] / 100"
	formula: "h = H0(Planck) / 100"
}

cross_check: hubble: {a: "cosmology.h", b: "cosmology.h_planck", tolerance: 0.05}

alias: {
	hubble:         "cosmology.H0"
	"legacy.model": "meta.model"
}
`

func TestCompileStringBasic(t *testing.T) {
	src, err := CompileString(cosmologySource, "cosmology.cue")
	require.NoError(t, err)

	require.Len(t, src.Canonical, 4)
	h0 := src.Canonical[0]
	assert.Equal(t, param.P("cosmology", "H0"), h0.Path())
	assert.Equal(t, param.Number(67.4), h0.Value)
	assert.Equal(t, param.SourceCanonical, h0.Source)
	assert.Equal(t, "km/s/Mpc", h0.Unit)
	assert.Equal(t, param.Number(0.5), h0.Uncertainty)
	assert.Equal(t, []string{"Planck 2018"}, h0.References)
	require.NotNil(t, h0.Experimental)
	assert.Equal(t, param.Number(73.04), h0.Experimental.Value)
	assert.Equal(t, "SH0ES", h0.Experimental.Source)

	assert.Equal(t, param.P("cosmology", "H0.planck"), src.Canonical[2].Path())
	assert.Equal(t, param.Text("LCDM"), src.Canonical[3].Value)

	require.Len(t, src.Derived, 2)
	assert.Equal(t, "h_planck", src.Derived[0].ID, "sorted by ID")
	assert.Equal(t, "h = H0(Planck) / 100", src.Derived[0].Metadata.Formula)
	little := src.Derived[1]
	assert.Equal(t, param.P("cosmology", "h"), little.Output)
	assert.Equal(t, []param.Path{param.P("cosmology", "H0")}, little.Deps)
	assert.Equal(t, "cosmology.H0 / 100", little.Metadata.Formula, "formula defaults to the expression")
	assert.Equal(t, "dimensionless Hubble parameter", little.Metadata.Derivation)
	assert.True(t, little.Pos.IsValid())

	require.Len(t, src.CrossChecks, 1)
	assert.Equal(t, CrossCheck{
		Name:      "hubble",
		A:         param.P("cosmology", "h"),
		B:         param.P("cosmology", "h_planck"),
		Tolerance: 0.05,
		Pos:       src.CrossChecks[0].Pos,
	}, src.CrossChecks[0])

	assert.Equal(t, resolve.AliasTable{"hubble": "cosmology.H0", "legacy.model": "meta.model"}, src.Aliases)
	assert.Empty(t, Validate(src))
}

func TestSourcesExecutor(t *testing.T) {
	src, err := CompileString(cosmologySource, "cosmology.cue")
	require.NoError(t, err)

	exec, err := src.Executor()
	require.NoError(t, err)

	result, err := exec.EvaluateAll()
	require.NoError(t, err)

	h, ok := result.Lookup(param.P("cosmology", "h"))
	require.True(t, ok)
	assert.InDelta(t, 0.674, float64(h.Value.(param.Number)), 1e-12)
	assert.Equal(t, param.DerivedSource("little_h"), h.Source)
	assert.Equal(t, []string{"cosmology.H0"}, result.Provenance["cosmology.h"])
	assert.Empty(t, result.Warnings, "0.674 and 0.6736 agree within 0.05")
}

func TestSourcesExecutorStrict(t *testing.T) {
	src, err := CompileString(`
		canonical: c: {a: 1, b: 2}
		cross_check: ab: {a: "c.a", b: "c.b", tolerance: 0.5}
	`, "strict.cue")
	require.NoError(t, err)

	exec, err := src.Executor(graph.WithStrictCrossChecks())
	require.NoError(t, err)
	_, err = exec.EvaluateAll()
	var ce *graph.CrossCheckError
	assert.True(t, errors.As(err, &ce))
}

func TestSourcesExecutorOutputCollision(t *testing.T) {
	src, err := CompileString(`
		canonical: c: a: 1
		derived: shadow: {output: "c.a", expr: "2"}
	`, "dup.cue")
	require.NoError(t, err)

	_, err = src.Executor()
	require.Error(t, err)
	assert.True(t, canon.IsDuplicateKey(err))
}

func TestCompileFromValue(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`canonical: c: k: "text"`)
	require.NoError(t, v.Err())

	src, err := Compile(v)
	require.NoError(t, err)
	require.Len(t, src.Canonical, 1)
	assert.Equal(t, param.Text("text"), src.Canonical[0].Value)
	assert.Empty(t, src.Derived)
	assert.Empty(t, src.Aliases)
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
		msg   string
	}{
		{"bool value", `canonical: c: k: true`, "canonical.c.k", "concrete number or string"},
		{"dotted category", `canonical: "planck.2018": H0: 67.4`, "canonical.planck.2018", "must not contain '.'"},
		{"missing value", `canonical: c: k: {unit: "m"}`, "canonical.c.k.value", "value is required"},
		{"unknown field", `canonical: c: k: {value: 1, units: "m"}`, "canonical.c.k.units", "unknown field"},
		{"incomplete value", `canonical: c: k: number`, "canonical.c.k", "concrete number or string"},
		{"missing output", `derived: d: {expr: "1"}`, "derived.d.output", "output is required"},
		{"bad output", `derived: d: {output: "flat", expr: "1"}`, "derived.d.output", "invalid parameter path"},
		{"missing expr", `derived: d: {output: "c.k"}`, "derived.d.expr", "expr is required"},
		{"bad dep", `derived: d: {output: "c.k", deps: ["x"], expr: "1"}`, "derived.d.deps", "invalid parameter path"},
		{"undeclared category", `derived: d: {output: "c.k", deps: ["a.b"], expr: "z.y * 2"}`, "derived.d.expr", "compile"},
		{"negative tolerance", `cross_check: x: {a: "c.a", b: "c.b", tolerance: -1}`, "cross_check.x.tolerance", "must not be negative"},
		{"missing tolerance", `cross_check: x: {a: "c.a", b: "c.b"}`, "cross_check.x.tolerance", "tolerance is required"},
		{"empty alias", `alias: x: ""`, "alias.x", "must not be empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileString(tt.src, "bad.cue")
			require.Error(t, err)

			var ce *CompileError
			require.True(t, errors.As(err, &ce), "got %T: %v", err, err)
			assert.Equal(t, tt.field, ce.Field)
			assert.Contains(t, ce.Message, tt.msg)
		})
	}
}

func TestCompileInvalidCUESyntax(t *testing.T) {
	_, err := CompileString(`canonical: {`, "broken.cue")
	require.Error(t, err)

	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "cue", ce.Field)
}

func TestCompileConflictingValues(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		canonical: c: k: 1
		canonical: c: k: 2
	`, cue.Filename("conflict.cue"))

	_, err := Compile(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conflict.cue")
}

func TestCompileErrorFormat(t *testing.T) {
	err := &CompileError{Field: "derived.d.expr", Message: "bad"}
	assert.Equal(t, "derived.d.expr: bad", err.Error())
}

func TestCompileErrorPosition(t *testing.T) {
	_, err := CompileString("canonical: c: {\n\tk: {unit: \"m\"}\n}\n", "pos.cue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pos.cue:2:")
}
