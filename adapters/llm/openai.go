package llm

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/satriahrh/echomind/domain/repositories"
)

// OpenAILLM implements the LargeLanguageModel interface using the OpenAI chat API
type OpenAILLM struct {
	client *openai.Client
	logger *zap.Logger
	model  string
}

// NewOpenAILLM creates a new OpenAI LLM instance
func NewOpenAILLM(apiKey, model string, logger *zap.Logger) (*OpenAILLM, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if model == "" {
		model = openai.GPT4
	}

	return &OpenAILLM{
		client: openai.NewClient(apiKey),
		logger: logger,
		model:  model,
	}, nil
}

// Complete sends the prompt as a single user message
func (o *OpenAILLM) Complete(ctx context.Context, req repositories.CompletionRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = o.model
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned by %s", model)
	}

	o.logger.Debug("OpenAI completion finished",
		zap.String("model", model),
		zap.Int("totalTokens", resp.Usage.TotalTokens))

	return resp.Choices[0].Message.Content, nil
}
