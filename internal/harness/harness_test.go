package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestdata(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

func TestRun_Scenarios(t *testing.T) {
	for _, name := range []string{
		"cosmology_pipeline",
		"cross_check_warning",
		"scenario_aliases",
	} {
		t.Run(name, func(t *testing.T) {
			result, err := Run(loadTestdata(t, name))
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Nil(t, result.BuildError)
			require.NotNil(t, result.Snapshot)
			assert.Equal(t, "1", result.Snapshot.Version)
			assert.True(t, result.Snapshot.GeneratedAt.Equal(Stamp))
		})
	}
}

func TestRun_BuildErrors(t *testing.T) {
	tests := []struct {
		scenario string
		kind     string
	}{
		{"cycle", ErrorCycle},
		{"dangling", ErrorDangling},
		{"duplicate", ErrorDuplicate},
		{"cross_check_strict", ErrorCrossCheck},
		{"bad_alias", ErrorAlias},
	}

	for _, tt := range tests {
		t.Run(tt.scenario, func(t *testing.T) {
			result, err := Run(loadTestdata(t, tt.scenario))
			require.NoError(t, err)
			require.NotNil(t, result.BuildError)
			assert.Equal(t, tt.kind, result.BuildError.Kind)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Nil(t, result.Snapshot)
		})
	}
}

func TestRun_UnexpectedBuildError(t *testing.T) {
	s := loadTestdata(t, "cycle")
	s.Expect = nil

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "build failed")
}

func TestRun_WrongBuildError(t *testing.T) {
	s := loadTestdata(t, "cycle")
	s.Expect = &ExpectClause{Error: ErrorDangling}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], `expected build error "dangling"`)
}

func TestRun_ExpectedErrorButBuildSucceeds(t *testing.T) {
	s := loadTestdata(t, "cross_check_warning")
	s.Expect = &ExpectClause{Error: ErrorCrossCheck}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], "build succeeded")
}

func TestRun_FailingAssertionsAreReported(t *testing.T) {
	s := loadTestdata(t, "cross_check_warning")
	s.Assertions = []Assertion{
		{Type: AssertWarningCount, Count: 0},
		{Type: AssertValue, Path: "cosmology.h", Value: 0.7},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "0 warning(s)")
	assert.Contains(t, result.Errors[1], "cosmology.h = 0.674")
}

func TestRun_UnsupportedDocument(t *testing.T) {
	s := loadTestdata(t, "scenario_aliases")
	s.Documents = []DocumentSpec{{Name: "notes.pdf", Body: "x"}}

	_, err := Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported extension")
}

func TestRunWithGolden(t *testing.T) {
	result, err := RunWithGolden(t, loadTestdata(t, "cosmology_pipeline"))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestSummary_BuildError(t *testing.T) {
	result, err := Run(loadTestdata(t, "cycle"))
	require.NoError(t, err)
	assert.Equal(t, "scenario cycle\nbuild error: cycle\n", Summary("cycle", result))
}
