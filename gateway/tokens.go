package gateway

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/hupe1980/agenthub/model"
)

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
)

// estimateInputTokens approximates the prompt token count of a request
// using the GPT-4 encoding (close enough across vendors for budget
// tracking). Used when a provider reports no usage so the per-agent
// context budget still advances. Falls back to a 4-chars-per-token
// heuristic if the tokenizer cannot be constructed.
func estimateInputTokens(req model.Request) int {
	codecOnce.Do(func() {
		codec, _ = tokenizer.ForModel(tokenizer.GPT4)
	})

	// Small fixed overhead per message for role framing.
	const perMessageOverhead = 4

	total := countTokens(req.System)
	for _, m := range req.Messages {
		total += countTokens(m.Content) + perMessageOverhead
	}
	return total
}

func countTokens(text string) int {
	if text == "" {
		return 0
	}
	if codec == nil {
		return len(text) / 4
	}
	count, err := codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}
