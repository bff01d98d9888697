package store

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/relgraph/backend/pkg/ai"
	"github.com/relgraph/backend/pkg/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type embedOnly struct {
	calls atomic.Int32
	fail  string
}

func (e *embedOnly) GenerateCompletionWithFormat(context.Context, string, string, string, any, ...ai.GenerateOption) error {
	return errors.New("not implemented")
}

func (e *embedOnly) GenerateEmbedding(_ context.Context, input []byte) ([]float32, error) {
	e.calls.Add(1)
	switch string(input) {
	case e.fail:
		return nil, ai.ErrRateLimited
	case "blank":
		return []float32{0, 0}, nil
	}
	return []float32{float32(len(input)), 1}, nil
}

func (e *embedOnly) ResetMetrics()               {}
func (e *embedOnly) GetMetrics() ai.ModelMetrics { return ai.ModelMetrics{} }

func docs(contents ...string) []common.Document {
	out := make([]common.Document, len(contents))
	for i, c := range contents {
		out[i] = common.Document{ID: "doc-" + c, Content: c}
	}
	return out
}

func TestUniqueIDs(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, UniqueIDs([]string{"a", " ", "b ", " a"}))
	assert.Nil(t, UniqueIDs(nil))
	assert.Nil(t, UniqueIDs([]string{"", "  "}))
}

func TestDocumentBatches(t *testing.T) {
	var sizes []int
	err := DocumentBatches(docs("a", "b", "c", "d", "e", "f", "g"), 3, func(batch []common.Document) error {
		sizes = append(sizes, len(batch))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 3, 1}, sizes)

	calls := 0
	require.NoError(t, DocumentBatches(nil, 3, func([]common.Document) error { calls++; return nil }))
	assert.Zero(t, calls)

	stop := errors.New("stop")
	calls = 0
	err = DocumentBatches(docs("a", "b", "c"), 1, func([]common.Document) error { calls++; return stop })
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestEmbedDocumentsFillsMissing(t *testing.T) {
	client := &embedOnly{}
	in := docs("a", "abc", "blank", "ab")
	in[1].Embedding = []float32{9, 9}

	n, err := EmbedDocuments(context.Background(), client, in, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int32(3), client.calls.Load())

	assert.Equal(t, []float32{1, 1}, in[0].Embedding)
	assert.Equal(t, []float32{9, 9}, in[1].Embedding)
	assert.Nil(t, in[2].Embedding, "zero vectors are dropped")
	assert.Equal(t, []float32{2, 1}, in[3].Embedding)
}

func TestEmbedDocumentsPropagatesError(t *testing.T) {
	client := &embedOnly{fail: "bad"}
	_, err := EmbedDocuments(context.Background(), client, docs("ok", "bad"), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ai.ErrRateLimited)
	assert.Contains(t, err.Error(), "doc-bad")

	_, err = EmbedDocuments(context.Background(), nil, nil, 1)
	require.Error(t, err)
}
