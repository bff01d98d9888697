package ai

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenEncoding is the tokenizer used for budgeting. It matches current
// OpenAI chat models closely enough for local models too.
const TokenEncoding = "o200k_base"

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

func encoder() *tiktoken.Tiktoken {
	encOnce.Do(func() {
		e, err := tiktoken.GetEncoding(TokenEncoding)
		if err == nil {
			enc = e
		}
	})
	return enc
}

// CountTokens returns the number of tokens in text. If the encoding cannot be
// loaded it falls back to the usual four characters per token estimate.
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if e := encoder(); e != nil {
		return len(e.Encode(text, nil, nil))
	}
	return (len(text) + 3) / 4
}
