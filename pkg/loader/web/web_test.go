package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchSendsUserAgentAndCaches(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "relgraph admin@example.com", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<p>hello</p>"))
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client(), "relgraph admin@example.com")
	for range 2 {
		raw, err := f.Fetch(context.Background(), srv.URL+"/a.htm")
		require.NoError(t, err)
		assert.Equal(t, "<p>hello</p>", string(raw.Body))
		assert.Equal(t, "text/html; charset=utf-8", raw.ContentType)
	}
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewFetcher(nil, "").Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
}
