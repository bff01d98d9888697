package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/relgraph/backend/pkg/ai"

	"github.com/openai/openai-go/v3"
)

// GenerateEmbedding creates a vector embedding for the given input text
// using the configured embedding model. The vector is fitted to the
// configured dimension so it can be compared against the document index.
func (c *GraphOpenAIClient) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	if c.EmbeddingClient == nil {
		return nil, errNoClient
	}
	text := strings.TrimSpace(string(input))
	if text == "" {
		return nil, fmt.Errorf("empty embedding input")
	}

	body := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{text}},
		Model: openai.EmbeddingModel(c.embeddingModel),
	}
	if c.embeddingDim > 0 && strings.HasPrefix(c.embeddingModel, "text-embedding-3") {
		body.Dimensions = openai.Int(int64(c.embeddingDim))
	}

	rCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.requestLock.Acquire(rCtx, 1); err != nil {
		return nil, ai.ClassifyContext(err)
	}
	defer c.requestLock.Release(1)

	start := time.Now()
	response, err := c.EmbeddingClient.Embeddings.New(rCtx, body)
	if err != nil {
		return nil, classify(err)
	}

	c.modifyMetrics(ai.ModelMetrics{
		InputTokens: int(response.Usage.PromptTokens),
		TotalTokens: int(response.Usage.TotalTokens),
		DurationMs:  time.Since(start).Milliseconds(),
	})

	if len(response.Data) != 1 {
		return nil, fmt.Errorf("%w: embedding response size mismatch: got %d want 1", ai.ErrMalformedResponse, len(response.Data))
	}
	return fitDimensions(response.Data[0].Embedding, c.embeddingDim), nil
}

// fitDimensions converts to float32 and truncates or zero-pads to dim. A
// non-positive dim keeps the model's native width.
func fitDimensions(values []float64, dim int) []float32 {
	if dim <= 0 {
		dim = len(values)
	}
	out := make([]float32, dim)
	for i := 0; i < dim && i < len(values); i++ {
		out[i] = float32(values[i])
	}
	return out
}
