package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/relgraph/backend/internal/app"
	"github.com/relgraph/backend/pkg/graph"
	"github.com/relgraph/backend/pkg/store"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

type runFlags struct {
	concurrency int
	maxRetries  int
	ids         []string
	tickers     []string
	sourceTypes []string
	since       string
	until       string
	limit       int
}

func (f runFlags) filter() (store.DocumentFilter, error) {
	filter := store.DocumentFilter{
		IDs:         f.ids,
		Tickers:     f.tickers,
		SourceTypes: f.sourceTypes,
		Limit:       f.limit,
	}
	var err error
	if filter.Since, err = parseDate(f.since); err != nil {
		return filter, fmt.Errorf("--since: %w", err)
	}
	if filter.Until, err = parseDate(f.until); err != nil {
		return filter, fmt.Errorf("--until: %w", err)
	}
	if !filter.Since.IsZero() && !filter.Until.IsZero() && filter.Until.Before(filter.Since) {
		return filter, fmt.Errorf("--until is before --since")
	}
	if f.limit < 0 {
		return filter, fmt.Errorf("--limit must not be negative")
	}
	return filter, nil
}

// parseDate accepts a calendar date or an RFC 3339 timestamp.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func newRunCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Extract relationships from stored documents and publish a snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := flags.filter()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				opts := graph.RunOptions{Concurrency: flags.concurrency}
				if cmd.Flags().Changed("max-retries") {
					opts.MaxRetries = &flags.maxRetries
				}
				report, err := runExtraction(ctx, a, filter, opts)
				if report != nil {
					if perr := printReport(cmd.OutOrStdout(), report); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}

	cmd.Flags().IntVar(&flags.concurrency, "concurrency", 0, "documents extracted in parallel (default from EXTRACT_CONCURRENCY)")
	cmd.Flags().IntVar(&flags.maxRetries, "max-retries", 0, "retries per document on transient errors (default from EXTRACT_MAX_RETRIES)")
	cmd.Flags().StringSliceVar(&flags.ids, "id", nil, "document ids (repeatable)")
	cmd.Flags().StringSliceVar(&flags.tickers, "ticker", nil, "only documents filed by these tickers (repeatable)")
	cmd.Flags().StringSliceVar(&flags.sourceTypes, "source-type", nil, "only these source types, e.g. 10-K (repeatable)")
	cmd.Flags().StringVar(&flags.since, "since", "", "only documents dated on or after this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&flags.until, "until", "", "only documents dated on or before this date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&flags.limit, "limit", 0, "maximum number of documents")
	return cmd
}

func runExtraction(ctx context.Context, a *app.App, filter store.DocumentFilter, opts graph.RunOptions) (*graph.RunReport, error) {
	docs, err := a.Store.ListDocuments(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("no documents match the filter")
	}
	return a.Graph.Run(ctx, docs, opts)
}

func printReport(w io.Writer, r *graph.RunReport) error {
	fmt.Fprintf(w, "run %s: %d/%d documents succeeded in %s\n",
		r.ID, r.Succeeded, r.Documents, r.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "candidates: %d, edges ingested: %d", r.Candidates, r.EdgesIngested)
	if r.SnapshotVersion > 0 {
		fmt.Fprintf(w, ", snapshot v%d", r.SnapshotVersion)
	}
	fmt.Fprintln(w)
	if r.BuildErr != nil {
		fmt.Fprintf(w, "snapshot not rebuilt: %v\n", r.BuildErr)
	}
	if len(r.Failures) == 0 {
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.Header("Document", "Attempts", "Transient", "Reason")
	for _, f := range r.Failures {
		if err := table.Append(f.DocumentID, strconv.Itoa(f.Attempts), strconv.FormatBool(f.Transient), f.Reason); err != nil {
			return err
		}
	}
	return table.Render()
}

func newRebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Publish a snapshot from the persisted candidates without extracting",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				snap, err := a.Graph.Rebuild(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "snapshot v%d: %d nodes, %d edges\n", snap.Version(), snap.NodeCount(), snap.EdgeCount())
				return nil
			})
		},
	}
}

