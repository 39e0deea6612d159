package repositories

import "context"

// LargeLanguageModel abstracts any completion provider used by the enrichers
type LargeLanguageModel interface {
	// Complete sends a single-turn prompt and returns the model's raw reply
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// CompletionRequest is one enricher call
type CompletionRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// LargeLanguageModelFunc adapts a function to the LargeLanguageModel interface
type LargeLanguageModelFunc func(ctx context.Context, req CompletionRequest) (string, error)

// Complete implements LargeLanguageModel
func (f LargeLanguageModelFunc) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	return f(ctx, req)
}
