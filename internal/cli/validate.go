package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/paramgraph/internal/resolve"
	"github.com/roach88/paramgraph/internal/store"
	"github.com/roach88/paramgraph/internal/validate"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	Snapshot string
	DB       string
	Aliases  string
}

// ValidationResult is the JSON payload of a validate run.
type ValidationResult struct {
	Valid          bool           `json:"valid"`
	Snapshot       string         `json:"snapshot"`
	Documents      int            `json:"documents"`
	Scanned        int            `json:"scanned"`
	Resolved       int            `json:"resolved"`
	ByStrategy     map[string]int `json:"byStrategy"`
	Fallback       []string       `json:"fallback,omitempty"`
	FormatWarnings []string       `json:"formatWarnings,omitempty"`
	Unresolved     []Unresolved   `json:"unresolved,omitempty"`
	AliasErrors    []string       `json:"aliasErrors,omitempty"`
}

// Unresolved is one unresolved reference in JSON output.
type Unresolved struct {
	Document   string   `json:"document"`
	Line       int      `json:"line"`
	Reference  string   `json:"reference"`
	Strategies []string `json:"strategies"`
	Message    string   `json:"message"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{}

	cmd := &cobra.Command{
		Use:   "validate <corpus-root>",
		Short: "Check every parameter reference in a document corpus",
		Long: `Scan the documents under corpus-root for parameter references and
resolve each against a snapshot with the runtime resolution order:
alias, exact path, case-insensitive path, built-in fallback.

Exits 0 when every reference resolves, 1 when any reference is unresolved
or an alias rule is invalid, and 2 when the inputs cannot be read.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Snapshot, "snapshot", "s", "", "snapshot file path or http(s) URL")
	cmd.Flags().StringVar(&opts.DB, "db", "", "use the newest snapshot in this archive (default $PARAMGRAPH_DB)")
	cmd.Flags().StringVar(&opts.Aliases, "aliases", "", "YAML alias table (default $PARAMGRAPH_ALIASES)")

	return cmd
}

func runValidate(rootOpts *RootOptions, opts *ValidateOptions, root string, cmd *cobra.Command) error {
	formatter := newFormatter(rootOpts, cmd)
	cfg := rootOpts.config()

	db := ""
	if opts.Snapshot == "" {
		db = firstNonEmpty(opts.DB, cfg.DB)
	}
	snap, err := loadSnapshot(cmd.Context(), opts.Snapshot, db)
	if err != nil {
		code := ErrCodeLoadFailed
		if errors.Is(err, store.ErrNotFound) {
			code = ErrCodeNotFound
		}
		return formatter.Fail(ExitCommandError, code, fmt.Sprintf("loading snapshot: %v", err), nil)
	}
	formatter.VerboseLog("Loaded snapshot v%s (%d parameters)", snap.Version, snap.Len())

	aliases, err := loadAliases(nil, firstNonEmpty(opts.Aliases, cfg.Aliases))
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeLoadFailed, err.Error(), nil)
	}

	corpus, err := validate.LoadCorpus(root)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, err.Error(), nil)
	}
	formatter.VerboseLog("Scanning %d document(s) under %s", len(corpus), root)

	report, err := validate.Validate(snap, corpus, aliases)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
	}

	result := validationResult(snap.Version, report)
	if result.Valid {
		return outputValidateSuccess(formatter, result)
	}
	return outputValidateFailure(formatter, result, report)
}

func validationResult(version string, report *validate.Report) ValidationResult {
	result := ValidationResult{
		Valid:      report.OK(),
		Snapshot:   version,
		Documents:  report.Documents,
		Scanned:    report.Scanned,
		Resolved:   report.Resolved(),
		ByStrategy: report.ByStrategy,
	}
	for _, f := range report.Fallback {
		result.Fallback = append(result.Fallback, f.String())
	}
	for _, f := range report.FormatWarnings {
		result.FormatWarnings = append(result.FormatWarnings, f.String())
	}
	for _, u := range report.Unresolved {
		result.Unresolved = append(result.Unresolved, Unresolved{
			Document:   u.Reference.Document,
			Line:       u.Reference.Line,
			Reference:  u.Reference.Request.String(),
			Strategies: u.Strategies(),
			Message:    u.Error(),
		})
	}
	for _, e := range report.AliasErrors {
		result.AliasErrors = append(result.AliasErrors, e.Error())
	}
	return result
}

func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ All %d reference(s) in %d document(s) resolved against snapshot v%s\n",
		result.Scanned, result.Documents, result.Snapshot)
	printStrategyCounts(formatter, result.ByStrategy)
	printFindings(formatter, "resolved from fallback", result.Fallback)
	printFindings(formatter, "format warnings", result.FormatWarnings)
	return nil
}

func outputValidateFailure(formatter *OutputFormatter, result ValidationResult, report *validate.Report) error {
	exitErr := WrapExitError(ExitFailure,
		fmt.Sprintf("%d unresolved reference(s), %d invalid alias(es)", len(result.Unresolved), len(result.AliasErrors)),
		report.Err())

	if formatter.Format == "json" {
		code, message := ErrCodeUnresolved, fmt.Sprintf("%d unresolved reference(s)", len(result.Unresolved))
		if len(result.Unresolved) == 0 {
			code, message = ErrCodeInvalidAlias, fmt.Sprintf("%d invalid alias rule(s)", len(result.AliasErrors))
		}
		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(CLIResponse{
			Status: "error",
			Data:   result,
			Error:  &CLIError{Code: code, Message: message},
		}); err != nil {
			return err
		}
		return exitErr
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, e := range result.AliasErrors {
		fmt.Fprintf(formatter.Writer, "  %s: %s\n", ErrCodeInvalidAlias, e)
	}
	for _, u := range result.Unresolved {
		fmt.Fprintf(formatter.Writer, "  %s: %s\n", ErrCodeUnresolved, u.Message)
	}
	fmt.Fprintln(formatter.Writer)
	fmt.Fprintf(formatter.Writer, "%d of %d reference(s) resolved in %d document(s)\n",
		result.Resolved, result.Scanned, result.Documents)
	printStrategyCounts(formatter, result.ByStrategy)
	printFindings(formatter, "resolved from fallback", result.Fallback)
	return exitErr
}

func printStrategyCounts(formatter *OutputFormatter, counts map[string]int) {
	for _, name := range resolve.Strategies() {
		if n := counts[name]; n > 0 {
			fmt.Fprintf(formatter.Writer, "  %-16s %d\n", name, n)
		}
	}
}

func printFindings(formatter *OutputFormatter, title string, findings []string) {
	if len(findings) == 0 {
		return
	}
	fmt.Fprintf(formatter.Writer, "%s:\n", title)
	for _, f := range slices.Sorted(slices.Values(findings)) {
		fmt.Fprintf(formatter.Writer, "  %s\n", f)
	}
}
