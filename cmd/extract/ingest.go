package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/relgraph/backend/internal/app"
	"github.com/relgraph/backend/internal/storage"
	"github.com/relgraph/backend/internal/util"
	"github.com/relgraph/backend/pkg/graph"
	"github.com/relgraph/backend/pkg/loader"
	fileloader "github.com/relgraph/backend/pkg/loader/io"
	s3loader "github.com/relgraph/backend/pkg/loader/s3"
	webloader "github.com/relgraph/backend/pkg/loader/web"
	"github.com/relgraph/backend/pkg/store"

	"github.com/spf13/cobra"
)

type ingestFlags struct {
	manifest   string
	ticker     string
	sourceType string
	date       string
	extract    bool
}

// filings reads the manifest, or builds one filing per location from the
// flags. Filings without an id get one derived from the location.
func (f ingestFlags) filings(locations []string) ([]loader.Filing, error) {
	var out []loader.Filing
	if f.manifest != "" {
		data, err := os.ReadFile(f.manifest)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("failed to parse manifest: %w", err)
		}
	}
	if len(locations) > 0 {
		if f.ticker == "" || f.sourceType == "" {
			return nil, errors.New("--ticker and --source-type are required with positional locations")
		}
		date, err := parseDate(f.date)
		if err != nil {
			return nil, fmt.Errorf("--date: %w", err)
		}
		for _, loc := range locations {
			out = append(out, loader.Filing{Location: loc, Ticker: f.ticker, SourceType: f.sourceType, Date: date})
		}
	}
	if len(out) == 0 {
		return nil, errors.New("nothing to ingest: pass --manifest or locations")
	}
	seen := make(map[string]bool, len(out))
	for i := range out {
		if out[i].Location == "" {
			return nil, fmt.Errorf("filing %d has no location", i)
		}
		if out[i].ID == "" {
			out[i].ID = filingID(out[i])
		}
		if seen[out[i].ID] {
			return nil, fmt.Errorf("duplicate filing id %q", out[i].ID)
		}
		seen[out[i].ID] = true
	}
	return out, nil
}

// filingID is stable for a location so re-ingesting replaces the document.
func filingID(f loader.Filing) string {
	base := path.Base(strings.TrimRight(f.Location, "/"))
	base = strings.TrimSuffix(base, path.Ext(base))
	parts := []string{strings.ToLower(f.Ticker), strings.ToLower(f.SourceType), strings.ToLower(base)}
	return strings.Join(slices.DeleteFunc(parts, func(s string) bool { return s == "" }), "-")
}

func newFetcher(ctx context.Context, cfg app.Config) (loader.Fetcher, error) {
	web := webloader.NewFetcher(&http.Client{Timeout: time.Minute}, cfg.FetchUserAgent)
	mux := loader.Mux{
		"http":  web,
		"https": web,
		"file":  fileloader.NewFetcher(),
	}
	if cfg.ArchiveEnabled() {
		client, err := storage.NewS3Client(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		bucket := util.GetEnvString("S3_FILINGS_BUCKET", cfg.S3.Bucket)
		mux["s3"] = s3loader.NewFetcher(bucket, client)
	}
	return mux, nil
}

func newIngestCmd() *cobra.Command {
	var flags ingestFlags

	cmd := &cobra.Command{
		Use:   "ingest [location...]",
		Short: "Load filings from URLs, files or S3 into the document store",
		Long: "Locations may be http(s) URLs, file paths or s3://key objects. " +
			"A manifest is a JSON array of {id, location, ticker, source_type, date}.",
		RunE: func(cmd *cobra.Command, args []string) error {
			filings, err := flags.filings(args)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				fetcher, err := newFetcher(ctx, a.Config)
				if err != nil {
					return err
				}
				ids, ingestErr := a.Ingest(ctx, loader.New(fetcher), filings)
				fmt.Fprintf(cmd.OutOrStdout(), "ingested %d of %d filings\n", len(ids), len(filings))
				if ingestErr != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "failures:\n%v\n", ingestErr)
				}
				if !flags.extract || len(ids) == 0 {
					return ingestErr
				}

				report, err := runExtraction(ctx, a, store.DocumentFilter{IDs: ids}, graph.RunOptions{})
				if report != nil {
					if perr := printReport(cmd.OutOrStdout(), report); perr != nil {
						return perr
					}
				}
				return errors.Join(ingestErr, err)
			})
		},
	}

	cmd.Flags().StringVar(&flags.manifest, "manifest", "", "JSON file listing filings")
	cmd.Flags().StringVar(&flags.ticker, "ticker", "", "ticker of the filer for positional locations")
	cmd.Flags().StringVar(&flags.sourceType, "source-type", "", "source type for positional locations, e.g. 10-K")
	cmd.Flags().StringVar(&flags.date, "date", "", "filing date for positional locations (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&flags.extract, "extract", false, "run extraction over the ingested documents")
	return cmd
}
