package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckValidSources(t *testing.T) {
	dir := writeFiles(t, map[string]string{"cosmology.cue": cosmologyCUE})

	stdout, _, err := execute(NewCheckCommand(&RootOptions{Format: "text"}), dir)
	require.NoError(t, err)
	assert.Contains(t, stdout, "✓ Sources valid (3 canonical, 1 derived, 0 cross-check(s), 1 alias(es))")
}

func TestCheckValidSourcesJSON(t *testing.T) {
	dir := writeFiles(t, map[string]string{"cosmology.cue": cosmologyCUE})

	stdout, _, err := execute(NewCheckCommand(&RootOptions{Format: "json"}), dir)
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   CheckResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, 1, resp.Data.Derived)
}

func TestCheckNonExistentDirectory(t *testing.T) {
	stdout, _, err := execute(NewCheckCommand(&RootOptions{Format: "text"}), "/nonexistent/directory/path")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "E005")
	assert.Contains(t, stdout, "not found")
}

func TestCheckEmptyDirectory(t *testing.T) {
	stdout, _, err := execute(NewCheckCommand(&RootOptions{Format: "text"}), t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "E003")
	assert.Contains(t, stdout, "no CUE files found")
}

func TestCheckUnknownDependency(t *testing.T) {
	dir := writeFiles(t, map[string]string{"bad.cue": `
package test

canonical: cosmology: H0: 67.4
derived: little_h: {output: "cosmology.h", deps: ["cosmology.H1"], expr: "cosmology.H1 / 100"}
`})

	stdout, _, err := execute(NewCheckCommand(&RootOptions{Format: "text"}), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "check failed")
	assert.Contains(t, stdout, "✗ Check failed")
	assert.Contains(t, stdout, "E201")
	assert.Contains(t, stdout, "cosmology.H1")
}

func TestCheckUnknownField(t *testing.T) {
	dir := writeFiles(t, map[string]string{"bad.cue": `
package test

canonical: cosmology: H0: 67.4
derived: little_h: {output: "cosmology.h", deps: ["cosmology.H0"], expr: "cosmology.H0 / 100", bogus: 1}
`})

	stdout, _, err := execute(NewCheckCommand(&RootOptions{Format: "json"}), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeDerived, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "bogus")
}

func TestCheckCycle(t *testing.T) {
	dir := writeFiles(t, map[string]string{"cycle.cue": `
package test

canonical: x: seed: 1
derived: a: {output: "x.a", deps: ["x.b"], expr: "x.b + 1"}
derived: b: {output: "x.b", deps: ["x.a"], expr: "x.a + 1"}
`})

	stdout, _, err := execute(NewCheckCommand(&RootOptions{Format: "text"}), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, ErrCodeCycle)
	assert.Contains(t, stdout, "cyclic dependency")
}

func TestMapFieldToErrorCode(t *testing.T) {
	tests := map[string]string{
		"canonical.cosmology.H0": ErrCodeCanonical,
		"derived.little_h.expr":  ErrCodeDerived,
		"cross_check.hubble":     ErrCodeCrossCheck,
		"alias.hubble":           ErrCodeAlias,
		"cue":                    ErrCodeBuildFailed,
		"something":              ErrCodeGeneric,
	}
	for field, want := range tests {
		assert.Equal(t, want, MapFieldToErrorCode(field), field)
	}
}
