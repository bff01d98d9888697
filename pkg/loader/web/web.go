// Package web fetches filings over HTTP.
package web

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/relgraph/backend/pkg/loader"
)

// DefaultMaxBytes caps a single response body.
const DefaultMaxBytes = 32 << 20

// Fetcher downloads URLs. EDGAR rejects requests without a descriptive
// User-Agent, so one is always sent.
type Fetcher struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
	cache     loader.Cache
}

func NewFetcher(client *http.Client, userAgent string) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{client: client, userAgent: userAgent, maxBytes: DefaultMaxBytes}
}

func (f *Fetcher) Fetch(ctx context.Context, location string) (loader.Raw, error) {
	return f.cache.Get(location, func() (loader.Raw, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
		if err != nil {
			return loader.Raw{}, fmt.Errorf("failed to create request: %w", err)
		}
		if f.userAgent != "" {
			req.Header.Set("User-Agent", f.userAgent)
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return loader.Raw{}, fmt.Errorf("failed to fetch url: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return loader.Raw{}, fmt.Errorf("failed to fetch url: status %d", resp.StatusCode)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
		if err != nil {
			return loader.Raw{}, err
		}
		return loader.Raw{Body: body, ContentType: resp.Header.Get("Content-Type")}, nil
	})
}
