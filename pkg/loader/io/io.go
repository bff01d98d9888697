package io

import (
	"context"
	"os"

	"github.com/relgraph/backend/pkg/loader"
)

// Fetcher reads filings from the local filesystem.
type Fetcher struct {
	cache loader.Cache
}

func NewFetcher() *Fetcher {
	return &Fetcher{}
}

func (f *Fetcher) Fetch(ctx context.Context, location string) (loader.Raw, error) {
	return f.cache.Get(location, func() (loader.Raw, error) {
		if err := ctx.Err(); err != nil {
			return loader.Raw{}, err
		}
		body, err := os.ReadFile(location)
		if err != nil {
			return loader.Raw{}, err
		}
		return loader.Raw{Body: body, ContentType: loader.ContentTypeFor(location)}, nil
	})
}
