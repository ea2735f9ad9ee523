package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/paramgraph/internal/compiler"
	"github.com/roach88/paramgraph/internal/param"
	"github.com/roach88/paramgraph/internal/snapshot"
)

const cosmologyCUE = `
package test

canonical: cosmology: {
	H0: {value: 67.4, unit: "km/s/Mpc", uncertainty: 0.5}
	Omega_m: 0.315
}
canonical: meta: model: "LCDM"

derived: little_h: {
	output: "cosmology.h"
	deps: ["cosmology.H0"]
	expr: "cosmology.H0 / 100"
}

alias: hubble: "cosmology.H0"
`

// writeFiles creates files (relative name → content) under a new temp dir.
func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
	return dir
}

// writeSnapshot evaluates cosmologyCUE and writes the snapshot to a temp file.
func writeSnapshot(t *testing.T) (string, *param.Snapshot) {
	t.Helper()
	src, err := compiler.CompileString(cosmologyCUE, "cosmology.cue")
	require.NoError(t, err)
	exec, err := src.Executor()
	require.NoError(t, err)
	result, err := exec.EvaluateAll()
	require.NoError(t, err)
	snap, err := snapshot.NewExporter().Export(context.Background(), result)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, snapshot.WriteFile(path, snap))
	return path, snap
}

// execute runs cmd with args and returns stdout, stderr and the error.
func execute(cmd *cobra.Command, args ...string) (string, string, error) {
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}
