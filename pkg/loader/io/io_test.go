package io

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aapl-10k.htm")
	require.NoError(t, os.WriteFile(path, []byte("<p>x</p>"), 0o600))

	raw, err := NewFetcher().Fetch(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "<p>x</p>", string(raw.Body))
	assert.Equal(t, "text/html", raw.ContentType)

	_, err = NewFetcher().Fetch(context.Background(), filepath.Join(t.TempDir(), "missing.txt"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
