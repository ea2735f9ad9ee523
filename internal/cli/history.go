package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/paramgraph/internal/snapshot"
	"github.com/roach88/paramgraph/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	DB      string
	Limit   int
	Version int64
}

// HistoryEntry is one archived snapshot in JSON output.
type HistoryEntry struct {
	Version     int64     `json:"version"`
	GeneratedAt time.Time `json:"generatedAt"`
	Digest      string    `json:"digest"`
	Size        int       `json:"size"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List archived snapshots",
		Long: `List the snapshots archived by export --db, newest first.

With --version the archived snapshot itself is printed.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(rootOpts, opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DB, "db", "", "snapshot archive database (default $PARAMGRAPH_DB)")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "maximum number of snapshots to list")
	cmd.Flags().Int64Var(&opts.Version, "version", 0, "print the snapshot with this version")

	return cmd
}

func runHistory(rootOpts *RootOptions, opts *HistoryOptions, cmd *cobra.Command) error {
	formatter := newFormatter(rootOpts, cmd)
	ctx := cmd.Context()

	db := firstNonEmpty(opts.DB, rootOpts.config().DB)
	if db == "" {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "no archive given: pass --db or set PARAMGRAPH_DB", nil)
	}
	archive, err := store.Open(db)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeArchive, err.Error(), nil)
	}
	defer archive.Close()

	if opts.Version > 0 {
		snap, err := archive.Get(ctx, opts.Version)
		if errors.Is(err, store.ErrNotFound) {
			return formatter.Fail(ExitFailure, ErrCodeNotFound, fmt.Sprintf("no snapshot with version %d", opts.Version), nil)
		}
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeArchive, err.Error(), nil)
		}
		if formatter.Format == "json" {
			return formatter.Success(snap)
		}
		data, err := snapshot.Marshal(snap)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
		}
		_, err = fmt.Fprintln(formatter.Writer, string(data))
		return err
	}

	records, err := archive.List(ctx, opts.Limit)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeArchive, err.Error(), nil)
	}

	entries := make([]HistoryEntry, len(records))
	for i, r := range records {
		entries[i] = HistoryEntry(r)
	}
	if formatter.Format == "json" {
		return formatter.Success(entries)
	}

	if len(entries) == 0 {
		fmt.Fprintln(formatter.Writer, "No snapshots archived")
		return nil
	}
	tw := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tGENERATED\tDIGEST\tSIZE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\n", e.Version, e.GeneratedAt.UTC().Format(time.RFC3339), shortDigest(e.Digest), e.Size)
	}
	return tw.Flush()
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
