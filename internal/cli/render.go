package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/paramgraph/internal/binder"
	"github.com/roach88/paramgraph/internal/content"
	"github.com/roach88/paramgraph/internal/store"
)

// RenderOptions holds flags for the render command.
type RenderOptions struct {
	Snapshot string
	DB       string
	Aliases  string
	Output   string
}

// RenderResult is the JSON payload of a render run.
type RenderResult struct {
	Output   string   `json:"output,omitempty"`
	Document string   `json:"document,omitempty"` // set when no --output is given
	Targets  int      `json:"targets"`
	Resolved int      `json:"resolved"`
	Failed   int      `json:"failed"`
	Fallback int      `json:"fallback"`
	Warnings int      `json:"warnings"`
	Failures []string `json:"failures,omitempty"` // verbose mode only
}

// NewRenderCommand creates the render command.
func NewRenderCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RenderOptions{}

	cmd := &cobra.Command{
		Use:   "render <page.html>",
		Short: "Bind snapshot values into an HTML document",
		Long: `Load a snapshot, bind every element carrying data-param (or
data-category and data-key) in an HTML document, and write the result.

Unresolved references render as a visible placeholder and make the command
exit 1 after the document is written. With --verbose the failing elements
also carry data-param-error and data-param-strategy attributes.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(rootOpts, opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Snapshot, "snapshot", "s", "", "snapshot file path or http(s) URL")
	cmd.Flags().StringVar(&opts.DB, "db", "", "use the newest snapshot in this archive (default $PARAMGRAPH_DB)")
	cmd.Flags().StringVar(&opts.Aliases, "aliases", "", "YAML alias table (default $PARAMGRAPH_ALIASES)")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file (default stdout)")

	return cmd
}

func runRender(rootOpts *RootOptions, opts *RenderOptions, page string, cmd *cobra.Command) error {
	formatter := newFormatter(rootOpts, cmd)
	cfg := rootOpts.config()
	ctx := cmd.Context()

	f, err := os.Open(page)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, err.Error(), nil)
	}
	tree, err := content.ParseHTML(f)
	f.Close()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeLoadFailed, err.Error(), nil)
	}

	aliases, err := loadAliases(nil, firstNonEmpty(opts.Aliases, cfg.Aliases))
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeLoadFailed, err.Error(), nil)
	}

	b := binder.New(
		binder.WithAliases(aliases),
		binder.WithLogger(rootOpts.logger()),
		binder.WithVerbose(rootOpts.Verbose),
		binder.WithDebounce(cfg.Debounce),
		binder.WithQueueSize(cfg.QueueSize),
		binder.WithLoadTimeout(cfg.LoadTimeout),
	)
	stop := b.Watch(tree)
	defer stop()

	switch db := firstNonEmpty(opts.DB, cfg.DB); {
	case opts.Snapshot != "":
		if err := b.Load(ctx, opts.Snapshot); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeLoadFailed, err.Error(), nil)
		}
	case db != "":
		snap, err := loadSnapshot(ctx, "", db)
		if err != nil {
			code := ErrCodeArchive
			if errors.Is(err, store.ErrNotFound) {
				code = ErrCodeNotFound
			}
			return formatter.Fail(ExitCommandError, code, err.Error(), nil)
		}
		b.Init(snap)
	default:
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "no snapshot given: pass --snapshot or --db", nil)
	}

	stats := b.RefreshAll()
	formatter.VerboseLog("Bound %d target(s) in pass %d", stats.Processed, stats.Pass)

	var doc bytes.Buffer
	if err := tree.Render(&doc); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeWriteFailed, err.Error(), nil)
	}

	result := RenderResult{
		Output:   opts.Output,
		Targets:  len(b.Targets()),
		Resolved: stats.Path.Success + stats.Pair.Success,
		Failed:   stats.Path.Failure + stats.Pair.Failure,
		Fallback: stats.Fallback,
		Warnings: stats.Warnings,
	}
	for _, failure := range b.Failures() {
		result.Failures = append(result.Failures, failure.String())
	}

	// The bound document goes to --output, or to stdout in text mode, or
	// into the JSON payload.
	summary := formatter.Writer
	switch {
	case opts.Output != "":
		if err := os.WriteFile(opts.Output, doc.Bytes(), 0o644); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeWriteFailed, err.Error(), nil)
		}
	case formatter.Format == "json":
		result.Document = doc.String()
	default:
		if _, err := io.Copy(formatter.Writer, &doc); err != nil {
			return err
		}
		summary = formatter.GetErrWriter()
	}

	if formatter.Format == "json" {
		if result.Failed > 0 {
			if err := formatter.encode(CLIResponse{
				Status: "error",
				Data:   result,
				Error:  &CLIError{Code: ErrCodeUnresolved, Message: fmt.Sprintf("%d unresolved reference(s)", result.Failed)},
			}); err != nil {
				return err
			}
			return NewExitError(ExitFailure, fmt.Sprintf("%s: %d unresolved reference(s)", ErrCodeUnresolved, result.Failed))
		}
		return formatter.Success(result)
	}

	mark := "✓"
	if result.Failed > 0 {
		mark = "✗"
	}
	fmt.Fprintf(summary, "%s Bound %d of %d target(s) (%d from fallback, %d format warning(s))\n",
		mark, result.Resolved, result.Targets, result.Fallback, result.Warnings)
	for _, failure := range result.Failures {
		fmt.Fprintf(summary, "  %s\n", failure)
	}
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%s: %d unresolved reference(s)", ErrCodeUnresolved, result.Failed))
	}
	return nil
}
