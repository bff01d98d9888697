package graph

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/relgraph/backend/pkg/ai"
)

// fakeAIClient answers every completion with a canned JSON body or error.
type fakeAIClient struct {
	mu       sync.Mutex
	response string
	err      error
	prompts  []string
	opts     []ai.GenerateOptions
}

func (f *fakeAIClient) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...ai.GenerateOption,
) error {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.opts = append(f.opts, ai.ApplyOptions(ai.GenerateOptions{}, opts...))
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if err := ctx.Err(); err != nil {
		return ai.ClassifyContext(err)
	}
	return json.Unmarshal([]byte(f.response), out)
}

func (f *fakeAIClient) GenerateEmbedding(context.Context, []byte) ([]float32, error) {
	return nil, nil
}

func (f *fakeAIClient) ResetMetrics()               {}
func (f *fakeAIClient) GetMetrics() ai.ModelMetrics { return ai.ModelMetrics{} }
