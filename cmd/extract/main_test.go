package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/relgraph/backend/pkg/graph"
	"github.com/relgraph/backend/pkg/loader"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunFlagsFilter(t *testing.T) {
	f := runFlags{
		tickers:     []string{"AAPL"},
		sourceTypes: []string{"10-K"},
		since:       "2023-01-01",
		until:       "2024-06-30T12:00:00Z",
		limit:       10,
	}
	filter, err := f.filter()
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL"}, filter.Tickers)
	assert.Equal(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), filter.Since)
	assert.Equal(t, time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC), filter.Until)
	assert.Equal(t, 10, filter.Limit)

	for _, bad := range []runFlags{
		{since: "yesterday"},
		{since: "2024-02-01", until: "2024-01-01"},
		{limit: -1},
	} {
		_, err := bad.filter()
		assert.Error(t, err)
	}
}

func TestIngestFlagsFilings(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "filings.json")
	require.NoError(t, os.WriteFile(manifest, []byte(`[
		{"id": "aapl-10k-2023", "location": "https://sec.gov/aapl.htm", "ticker": "AAPL", "source_type": "10-K"},
		{"location": "s3://news/nvda-2024-03.txt", "ticker": "NVDA", "source_type": "news"}
	]`), 0o644))

	filings, err := ingestFlags{manifest: manifest}.filings(nil)
	require.NoError(t, err)
	require.Len(t, filings, 2)
	assert.Equal(t, "aapl-10k-2023", filings[0].ID)
	assert.Equal(t, "nvda-news-nvda-2024-03", filings[1].ID)

	filings, err = ingestFlags{ticker: "MSFT", sourceType: "10-Q", date: "2024-04-25"}.filings([]string{"/tmp/msft-q3.html"})
	require.NoError(t, err)
	require.Len(t, filings, 1)
	assert.Equal(t, loader.Filing{
		ID:         "msft-10-q-msft-q3",
		Location:   "/tmp/msft-q3.html",
		Ticker:     "MSFT",
		SourceType: "10-Q",
		Date:       time.Date(2024, 4, 25, 0, 0, 0, 0, time.UTC),
	}, filings[0])

	_, err = ingestFlags{}.filings(nil)
	assert.Error(t, err)
	_, err = ingestFlags{ticker: "MSFT"}.filings([]string{"/tmp/a.txt"})
	assert.Error(t, err)
	_, err = ingestFlags{ticker: "MSFT", sourceType: "news"}.filings([]string{"/a/x.txt", "/b/x.txt"})
	assert.ErrorContains(t, err, "duplicate")
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	err := printReport(&buf, &graph.RunReport{
		ID:              "run1",
		Duration:        1500 * time.Millisecond,
		Documents:       3,
		Succeeded:       2,
		Candidates:      5,
		EdgesIngested:   4,
		SnapshotVersion: 12,
		Failures: []graph.DocumentFailure{
			{DocumentID: "doc-3", Reason: "invalid JSON", Transient: false, Attempts: 1},
		},
	})
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "run run1: 2/3 documents succeeded in 1.5s")
	assert.Contains(t, out, "edges ingested: 4, snapshot v12")
	assert.Contains(t, out, "doc-3")
	assert.Contains(t, out, "invalid JSON")

	buf.Reset()
	require.NoError(t, printReport(&buf, &graph.RunReport{ID: "run2", BuildErr: errors.New("empty")}))
	assert.Contains(t, buf.String(), "snapshot not rebuilt: empty")
	assert.NotContains(t, buf.String(), "snapshot v")
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"run", "ingest", "rebuild", "migrate"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
	run, _, _ := root.Find([]string{"run"})
	for _, flag := range []string{"concurrency", "max-retries", "ticker", "source-type", "since", "until", "limit"} {
		assert.NotNil(t, run.Flags().Lookup(flag), flag)
	}
}
