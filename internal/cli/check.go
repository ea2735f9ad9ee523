package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/paramgraph/internal/canon"
	"github.com/roach88/paramgraph/internal/compiler"
	"github.com/roach88/paramgraph/internal/graph"
)

// CheckResult holds source check results.
type CheckResult struct {
	Valid       bool                       `json:"valid"`
	Canonical   int                        `json:"canonical"`
	Derived     int                        `json:"derived"`
	CrossChecks int                        `json:"crossChecks"`
	Aliases     int                        `json:"aliases"`
	Errors      []compiler.ValidationError `json:"errors,omitempty"`
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <params-dir>",
		Short: "Check parameter sources without exporting",
		Long: `Check CUE parameter sources without writing a snapshot.

Compiles the canonical, derived, cross_check and alias blocks, checks the
references between them and orders the derivation graph. Faster than export
for development feedback.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runCheck(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	loadResult, err := LoadSources(dir)
	if err != nil {
		var loadErr *LoadError
		if !errors.As(err, &loadErr) {
			return formatter.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
		}
		// A source that parses but does not compile is a check failure, not a
		// command error.
		switch loadErr.Code {
		case ErrCodeCanonical, ErrCodeDerived, ErrCodeCrossCheck, ErrCodeAlias:
			line := 0
			if loadErr.Pos.IsValid() {
				line = loadErr.Pos.Line()
			}
			return outputCheckErrors(formatter, nil, []compiler.ValidationError{{
				Message: loadErr.Message,
				Code:    loadErr.Code,
				Line:    line,
			}})
		}
		return formatter.Fail(ExitCommandError, loadErr.Code, loadErr.Message, nil)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, dir)
	sources := loadResult.Sources

	if errs := compiler.Validate(sources); len(errs) > 0 {
		return outputCheckErrors(formatter, sources, errs)
	}

	exec, err := sources.Executor(graph.WithLogger(opts.logger()))
	if err == nil {
		_, err = exec.EvaluateAll()
	}
	if err != nil {
		return outputCheckErrors(formatter, sources, []compiler.ValidationError{{
			Field:   "graph",
			Message: err.Error(),
			Code:    pipelineErrorCode(err),
		}})
	}

	result := summarize(sources)
	result.Valid = true
	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ Sources valid (%d canonical, %d derived, %d cross-check(s), %d alias(es))\n",
		result.Canonical, result.Derived, result.CrossChecks, result.Aliases)
	return nil
}

func summarize(s *compiler.Sources) CheckResult {
	if s == nil {
		return CheckResult{}
	}
	return CheckResult{
		Canonical:   len(s.Canonical),
		Derived:     len(s.Derived),
		CrossChecks: len(s.CrossChecks),
		Aliases:     len(s.Aliases),
	}
}

// pipelineErrorCode maps a build error from the store or executor to an
// error code.
func pipelineErrorCode(err error) string {
	var (
		dangling   *graph.DanglingDependencyError
		crossCheck *graph.CrossCheckError
	)
	switch {
	case canon.IsDuplicateKey(err):
		return ErrCodeDuplicateKey
	case graph.IsCycleError(err):
		return ErrCodeCycle
	case errors.As(err, &dangling):
		return ErrCodeDangling
	case errors.As(err, &crossCheck):
		return ErrCodeCrossCheckFailed
	default:
		return ErrCodeGeneric
	}
}

// outputCheckErrors reports errs and returns an ExitFailure error.
func outputCheckErrors(formatter *OutputFormatter, sources *compiler.Sources, errs []compiler.ValidationError) error {
	exitErr := NewExitError(ExitFailure, fmt.Sprintf("check failed with %d error(s)", len(errs)))

	if formatter.Format == "json" {
		result := summarize(sources)
		result.Errors = errs
		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(CLIResponse{
			Status: "error",
			Data:   result,
			Error:  &CLIError{Code: errs[0].Code, Message: errs[0].Message},
		}); err != nil {
			return err
		}
		return exitErr
	}

	fmt.Fprintln(formatter.Writer, "✗ Check failed")
	fmt.Fprintln(formatter.Writer)
	for _, e := range errs {
		if e.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", e.Line)
		}
		msg := e.Message
		if e.Field != "" && !strings.HasPrefix(msg, e.Field) {
			msg = e.Field + ": " + msg
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", e.Code, msg)
	}
	return exitErr
}
