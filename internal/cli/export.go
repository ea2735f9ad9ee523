package cli

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/paramgraph/internal/compiler"
	"github.com/roach88/paramgraph/internal/graph"
	"github.com/roach88/paramgraph/internal/snapshot"
	"github.com/roach88/paramgraph/internal/store"
	"github.com/roach88/paramgraph/internal/validate"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	Output  string
	DB      string
	Aliases string
	Strict  bool
}

// ExportResult is the JSON payload of a successful export.
type ExportResult struct {
	Version     string `json:"version"`
	Digest      string `json:"digest"`
	Output      string `json:"output"`
	Parameters  int    `json:"parameters"`
	Unavailable int    `json:"unavailable"`
	Warnings    int    `json:"warnings"`
	Archived    bool   `json:"archived"`
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{}

	cmd := &cobra.Command{
		Use:   "export <params-dir>",
		Short: "Evaluate parameter sources and write a versioned snapshot",
		Long: `Compile the CUE parameter sources in a directory, evaluate every derivation
in dependency order and write the resulting snapshot.

With --db the snapshot is archived and its version comes from the archive.
Otherwise the version continues from the snapshot already at --output.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(rootOpts, opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "snapshot.json", "snapshot output file")
	cmd.Flags().StringVar(&opts.DB, "db", "", "snapshot archive database (default $PARAMGRAPH_DB)")
	cmd.Flags().StringVar(&opts.Aliases, "aliases", "", "YAML alias table merged with the alias block (default $PARAMGRAPH_ALIASES)")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "fail the export when a cross-check fails")

	return cmd
}

func runExport(rootOpts *RootOptions, opts *ExportOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(rootOpts, cmd)
	cfg := rootOpts.config()
	ctx := cmd.Context()

	loadResult, err := LoadSources(dir)
	if err != nil {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			return formatter.Fail(ExitCommandError, loadErr.Code, loadErr.Message, nil)
		}
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
	}
	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, dir)
	sources := loadResult.Sources

	if errs := compiler.Validate(sources); len(errs) > 0 {
		return formatter.Fail(ExitFailure, errs[0].Code,
			fmt.Sprintf("sources invalid with %d error(s)", len(errs)), validationMessages(errs))
	}

	aliases, err := loadAliases(sources.Aliases, firstNonEmpty(opts.Aliases, cfg.Aliases))
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeLoadFailed, err.Error(), nil)
	}

	execOpts := []graph.ExecutorOption{graph.WithLogger(rootOpts.logger())}
	if opts.Strict {
		execOpts = append(execOpts, graph.WithStrictCrossChecks())
	}
	exec, err := sources.Executor(execOpts...)
	if err != nil {
		return formatter.Fail(ExitFailure, pipelineErrorCode(err), err.Error(), nil)
	}
	result, err := exec.EvaluateAll()
	if err != nil {
		return formatter.Fail(ExitFailure, pipelineErrorCode(err), err.Error(), nil)
	}
	formatter.VerboseLog("Evaluated %d derivation(s) in order %s", len(result.Order), strings.Join(result.Order, ", "))

	var (
		versions snapshot.VersionSource
		archive  *store.Store
	)
	if db := firstNonEmpty(opts.DB, cfg.DB); db != "" {
		archive, err = store.Open(db)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeArchive, err.Error(), nil)
		}
		defer archive.Close()
		versions = archive
	} else {
		last, err := lastVersionAt(opts.Output)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeLoadFailed, err.Error(), nil)
		}
		versions = snapshot.NewCounter(last)
	}

	snap, err := snapshot.NewExporter(snapshot.WithVersionSource(versions)).Export(ctx, result)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
	}

	if aliasErrs := validate.ValidateAliases(snap, aliases); len(aliasErrs) > 0 {
		details := make([]string, len(aliasErrs))
		for i, e := range aliasErrs {
			details[i] = e.Error()
		}
		return formatter.Fail(ExitFailure, ErrCodeInvalidAlias,
			fmt.Sprintf("%d invalid alias rule(s)", len(aliasErrs)), details)
	}

	for _, w := range result.Warnings {
		formatter.VerboseLog("warning: %s", w.Error())
	}
	for _, u := range result.Unavailable {
		formatter.VerboseLog("unavailable: %s (%s)", u.Path, u.Reason)
	}

	if err := snapshot.WriteFile(opts.Output, snap); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeWriteFailed, err.Error(), nil)
	}

	if archive != nil {
		if rec, err := archive.FindByDigest(ctx, snap.Digest); err == nil {
			formatter.VerboseLog("Content unchanged since version %d", rec.Version)
		}
		if err := archive.Save(ctx, snap); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeArchive, err.Error(), nil)
		}
	}

	res := ExportResult{
		Version:     snap.Version,
		Digest:      snap.Digest,
		Output:      opts.Output,
		Parameters:  snap.Len(),
		Unavailable: len(result.Unavailable),
		Warnings:    len(result.Warnings),
		Archived:    archive != nil,
	}
	if formatter.Format == "json" {
		return formatter.Success(res)
	}
	fmt.Fprintf(formatter.Writer, "✓ Exported snapshot v%s to %s\n", res.Version, res.Output)
	fmt.Fprintf(formatter.Writer, "  %d parameter(s), %d unavailable, %d warning(s)\n",
		res.Parameters, res.Unavailable, res.Warnings)
	return nil
}

// lastVersionAt returns the version of the snapshot at path, or 0 when
// there is none.
func lastVersionAt(path string) (int64, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	prev, err := snapshot.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("existing output %s: %w", path, err)
	}
	v, err := strconv.ParseInt(prev.Version, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("existing output %s: version %q is not an integer", path, prev.Version)
	}
	return v, nil
}

func validationMessages(errs []compiler.ValidationError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Error()
	}
	return out
}
