package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/paramgraph/internal/store"
)

const cleanArticle = `# Hubble tension
H0 is {{param path=cosmology.H0 format=fixed:1}} and h is {{param category=cosmology key=h}}.
Light travels at {{param path=constants.c}} m/s.
`

const cleanPage = `<html><body>
<p><span data-param="hubble"></span> and <span data-param="COSMOLOGY.omega_m"></span></p>
</body></html>
`

func cleanCorpus(t *testing.T, extra map[string]string) string {
	t.Helper()
	files := map[string]string{
		"article.md":  cleanArticle,
		"page.html":   cleanPage,
		"aliases.txt": "not a reference\n",
	}
	for k, v := range extra {
		files[k] = v
	}
	return writeFiles(t, files)
}

func aliasFile(t *testing.T) string {
	t.Helper()
	dir := writeFiles(t, map[string]string{"aliases.yaml": "hubble: cosmology.H0\n"})
	return filepath.Join(dir, "aliases.yaml")
}

func TestValidateCleanCorpus(t *testing.T) {
	snapPath, _ := writeSnapshot(t)
	corpus := cleanCorpus(t, nil)

	stdout, _, err := execute(NewValidateCommand(&RootOptions{Format: "text"}),
		corpus, "--snapshot", snapPath, "--aliases", aliasFile(t))
	require.NoError(t, err)
	assert.Contains(t, stdout, "✓ All 5 reference(s) in 3 document(s) resolved against snapshot v1")
	assert.Contains(t, stdout, "resolved from fallback:")
	assert.Contains(t, stdout, "article.md:3")
}

func TestValidateCleanCorpusJSON(t *testing.T) {
	snapPath, _ := writeSnapshot(t)
	corpus := cleanCorpus(t, nil)

	stdout, _, err := execute(NewValidateCommand(&RootOptions{Format: "json"}),
		corpus, "--snapshot", snapPath, "--aliases", aliasFile(t))
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, 5, resp.Data.Scanned)
	assert.Equal(t, 5, resp.Data.Resolved)
	assert.Equal(t, map[string]int{
		"alias":            1,
		"exact":            2,
		"case-insensitive": 1,
		"fallback":         1,
	}, resp.Data.ByStrategy)
	assert.Len(t, resp.Data.Fallback, 1)
	assert.Empty(t, resp.Data.Unresolved)
}

func TestValidateOneBadReference(t *testing.T) {
	snapPath, _ := writeSnapshot(t)
	corpus := cleanCorpus(t, map[string]string{
		"notes/bad.md": "intro\nThe value {{param path=cosmology.H1}} is missing.\n",
	})

	stdout, _, err := execute(NewValidateCommand(&RootOptions{Format: "text"}),
		corpus, "--snapshot", snapPath, "--aliases", aliasFile(t))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	assert.Contains(t, stdout, "✗ Validation failed")
	assert.Equal(t, 1, strings.Count(stdout, "unresolved reference"))
	assert.Contains(t, stdout, `notes/bad.md:2: unresolved reference "cosmology.H1"`)
	assert.Contains(t, stdout, "5 of 6 reference(s) resolved")
}

func TestValidateOneBadReferenceJSON(t *testing.T) {
	snapPath, _ := writeSnapshot(t)
	corpus := cleanCorpus(t, map[string]string{
		"notes/bad.html": `<p><b data-category="cosmology" data-key="H1"></b></p>`,
	})

	stdout, _, err := execute(NewValidateCommand(&RootOptions{Format: "json"}),
		corpus, "--snapshot", snapPath, "--aliases", aliasFile(t))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeUnresolved, resp.Error.Code)

	require.Len(t, resp.Data.Unresolved, 1)
	u := resp.Data.Unresolved[0]
	assert.Equal(t, "notes/bad.html", u.Document)
	assert.Equal(t, 1, u.Line)
	assert.Contains(t, u.Strategies, "exact")
	assert.Contains(t, u.Strategies, "fallback")
}

func TestValidateWithoutAliasesFailsAliasReference(t *testing.T) {
	snapPath, _ := writeSnapshot(t)
	corpus := cleanCorpus(t, nil)

	stdout, _, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), corpus, "--snapshot", snapPath)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, `unresolved reference "hubble"`)
}

func TestValidateInvalidAliasTable(t *testing.T) {
	snapPath, _ := writeSnapshot(t)
	corpus := cleanCorpus(t, nil)
	dir := writeFiles(t, map[string]string{"aliases.yaml": "hubble: cosmology.H0\nghost: nowhere.thing\n"})

	stdout, _, err := execute(NewValidateCommand(&RootOptions{Format: "text"}),
		corpus, "--snapshot", snapPath, "--aliases", filepath.Join(dir, "aliases.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, ErrCodeInvalidAlias)
	assert.Contains(t, stdout, `"ghost"`)
}

func TestValidateFromArchive(t *testing.T) {
	_, snap := writeSnapshot(t)
	db := filepath.Join(t.TempDir(), "archive.db")

	st, err := store.Open(db)
	require.NoError(t, err)
	require.NoError(t, st.Save(context.Background(), snap))
	require.NoError(t, st.Close())

	corpus := writeFiles(t, map[string]string{"a.md": "{{param path=cosmology.h}}\n"})
	stdout, _, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), corpus, "--db", db)
	require.NoError(t, err)
	assert.Contains(t, stdout, "✓ All 1 reference(s) in 1 document(s)")
}

func TestValidateMissingSnapshot(t *testing.T) {
	corpus := cleanCorpus(t, nil)

	_, _, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), corpus, "--snapshot", "/nonexistent/snapshot.json")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeLoadFailed)
}

func TestValidateNoSnapshotGiven(t *testing.T) {
	t.Setenv("PARAMGRAPH_DB", "")
	corpus := cleanCorpus(t, nil)

	_, _, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), corpus)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestValidateMissingCorpus(t *testing.T) {
	snapPath, _ := writeSnapshot(t)

	_, _, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), "/nonexistent/corpus", "--snapshot", snapPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
