package llm

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/satriahrh/echomind/domain/repositories"
)

// MockLLM returns canned JSON answers keyed on the fields a prompt asks for
type MockLLM struct {
	logger *zap.Logger
}

// NewMockLLM creates a new mock LLM
func NewMockLLM(logger *zap.Logger) *MockLLM {
	return &MockLLM{logger: logger}
}

var mockAnswers = []struct {
	marker string
	answer string
}{
	{"agent_tone_adjustment", `{"customer_emotion": "neutral", "agent_tone_adjustment": "stay calm and warm", "mirror_techniques": ["match pace"], "energy_level": "medium"}`},
	{"relevant_topics", `{"relevant_topics": ["account"], "confidence_scores": [0.5], "suggested_articles": ["Managing your account"]}`},
	{"objections_detected", `{"objections_detected": [], "handling_strategies": [], "key_phrases": [], "escalation_needed": false}`},
	{"suggested_response", "```json\n{\"suggested_response\": \"I understand, let me look into that for you.\", \"tone\": \"empathetic\", \"key_points\": [], \"follow_up_questions\": []}\n```"},
	{"primary_intent", `{"primary_intent": "general", "secondary_intent": "", "urgency": "low", "requires_action": false, "suggested_priority": "low"}`},
	{"sentiment", `{"sentiment": "neutral", "confidence": 0.5, "emotions": [], "intensity": "low"}`},
}

// Complete implements repositories.LargeLanguageModel
func (m *MockLLM) Complete(ctx context.Context, req repositories.CompletionRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.logger.Debug("Processing mock completion",
		zap.String("model", req.Model),
		zap.Int("promptLength", len(req.Prompt)))

	for _, a := range mockAnswers {
		if strings.Contains(req.Prompt, a.marker) {
			return a.answer, nil
		}
	}
	return `{"note": "mock response"}`, nil
}
