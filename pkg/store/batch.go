package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/relgraph/backend/pkg/ai"
	"github.com/relgraph/backend/pkg/common"
	"github.com/relgraph/backend/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// UniqueIDs trims ids and drops blanks and repeats, keeping first
// occurrences. It returns nil when nothing is left.
func UniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	var out []string
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// DocumentBatches calls fn with consecutive runs of at most size documents
// and stops at the first error.
func DocumentBatches(docs []common.Document, size int, fn func(batch []common.Document) error) error {
	if size <= 0 {
		size = len(docs)
	}
	for start := 0; start < len(docs); start += size {
		if err := fn(docs[start:min(start+size, len(docs))]); err != nil {
			return err
		}
	}
	return nil
}

// EmbedDocuments fills in the embedding of every document that has none,
// with at most parallel requests in flight, and returns how many it filled.
//
// A zero vector is dropped: cosine distance against it is undefined, so the
// document stays out of vector search until it is embedded again.
func EmbedDocuments(ctx context.Context, client ai.GraphAIClient, docs []common.Document, parallel int) (int, error) {
	if client == nil {
		return 0, errors.New("ai client is nil")
	}
	if parallel <= 0 {
		parallel = 4
	}

	var (
		embedded = make([]bool, len(docs))
		eg, ectx = errgroup.WithContext(ctx)
	)
	eg.SetLimit(parallel)
	for i := range docs {
		if len(docs[i].Embedding) > 0 {
			continue
		}
		eg.Go(func() error {
			emb, err := client.GenerateEmbedding(ectx, []byte(docs[i].Content))
			if err != nil {
				return fmt.Errorf("failed to embed document %s: %w", docs[i].ID, err)
			}
			if zeroNorm(emb) {
				logger.Warn("Discarding zero embedding", "document", docs[i].ID)
				return nil
			}
			docs[i].Embedding = emb
			embedded[i] = true
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return 0, err
	}

	n := 0
	for _, ok := range embedded {
		if ok {
			n++
		}
	}
	return n, nil
}

func zeroNorm(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
