package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScenario writes a params file and a scenario file referencing it,
// returning the scenario path.
func writeScenario(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "params.cue"), []byte("package p\n"), 0o644))
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	path := writeScenario(t, `
name: basic
description: "Loads every section"
sources:
  - params.cue
aliases:
  hubble: cosmology.H0
documents:
  - name: a.md
    body: "{{param path=hubble}}"
bindings:
  - ref: hubble
    format: fixed:1
  - category: meta
    key: model
assertions:
  - type: value
    path: cosmology.H0
    value: 67.4
`)

	s, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "basic", s.Name)
	assert.Equal(t, []string{filepath.Join(filepath.Dir(path), "params.cue")}, s.Sources)
	assert.Equal(t, "cosmology.H0", s.Aliases["hubble"])
	require.Len(t, s.Documents, 1)
	assert.Equal(t, "a.md", s.Documents[0].Name)
	require.Len(t, s.Bindings, 2)
	assert.Equal(t, "fixed:1", s.Bindings[0].Format)
	assert.Equal(t, "model", s.Bindings[1].Key)
	require.Len(t, s.Assertions, 1)
	assert.Equal(t, 67.4, s.Assertions[0].Value)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_UnknownField(t *testing.T) {
	path := writeScenario(t, `
name: typo
description: "Misspelled section"
sources: [params.cue]
assertion:
  - type: warning_count
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing name",
			body: "description: d\nsources: [params.cue]\nassertions: [{type: warning_count}]\n",
			want: "name is required",
		},
		{
			name: "missing sources",
			body: "name: n\ndescription: d\nassertions: [{type: warning_count}]\n",
			want: "sources list is required",
		},
		{
			name: "source not found",
			body: "name: n\ndescription: d\nsources: [other.cue]\nassertions: [{type: warning_count}]\n",
			want: "source file not found",
		},
		{
			name: "no assertions or expect",
			body: "name: n\ndescription: d\nsources: [params.cue]\n",
			want: "assertions list is required",
		},
		{
			name: "unknown build error",
			body: "name: n\ndescription: d\nsources: [params.cue]\nexpect: {error: explode}\n",
			want: "unknown build error",
		},
		{
			name: "duplicate document",
			body: "name: n\ndescription: d\nsources: [params.cue]\ndocuments: [{name: a.md}, {name: a.md}]\nassertions: [{type: warning_count}]\n",
			want: "duplicate name",
		},
		{
			name: "binding without reference",
			body: "name: n\ndescription: d\nsources: [params.cue]\nbindings: [{category: meta}]\nassertions: [{type: warning_count}]\n",
			want: "ref or category and key are required",
		},
		{
			name: "value without path",
			body: "name: n\ndescription: d\nsources: [params.cue]\nassertions: [{type: value, value: 1}]\n",
			want: "needs a valid path",
		},
		{
			name: "value without value",
			body: "name: n\ndescription: d\nsources: [params.cue]\nassertions: [{type: value, path: a.b}]\n",
			want: "value is required",
		},
		{
			name: "short order",
			body: "name: n\ndescription: d\nsources: [params.cue]\nassertions: [{type: order, entries: [a]}]\n",
			want: "at least two entries",
		},
		{
			name: "strategy missing",
			body: "name: n\ndescription: d\nsources: [params.cue]\nassertions: [{type: strategy_count, count: 1}]\n",
			want: "strategy is required",
		},
		{
			name: "unknown assertion",
			body: "name: n\ndescription: d\nsources: [params.cue]\nassertions: [{type: vibes}]\n",
			want: "unknown assertion type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_TestdataScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			s, err := LoadScenario(path)
			require.NoError(t, err)
			assert.NotEmpty(t, s.Name)
		})
	}
}
