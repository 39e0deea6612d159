package insight

import (
	"fmt"
	"strings"

	"github.com/satriahrh/echomind/domain/entities"
)

// PromptContextSize is how many recent utterances a prompt shows
const PromptContextSize = 5

const noContext = "No previous context available."

// Profile is the model configuration of one enricher
type Profile struct {
	Model       string  `mapstructure:"model"`
	Temperature float32 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// Profiles holds the agent profiles the default enrichers draw from
type Profiles struct {
	Sentiment Profile
	Intent    Profile
	Response  Profile
	Objection Profile
}

// DefaultProfiles returns the stock profiles for a primary and a response model
func DefaultProfiles(primaryModel, responseModel string) Profiles {
	return Profiles{
		Sentiment: Profile{Model: primaryModel, Temperature: 0.3, MaxTokens: 100},
		Intent:    Profile{Model: primaryModel, Temperature: 0.2, MaxTokens: 150},
		Response:  Profile{Model: responseModel, Temperature: 0.7, MaxTokens: 200},
		Objection: Profile{Model: primaryModel, Temperature: 0.6, MaxTokens: 150},
	}
}

// For returns the profile used by an insight kind
func (p Profiles) For(kind entities.InsightKind) Profile {
	switch kind {
	case entities.InsightIntent, entities.InsightFAQSuggestion:
		return p.Intent
	case entities.InsightSuggestedResponse:
		return p.Response
	case entities.InsightObjectionHandling:
		return p.Objection
	default:
		return p.Sentiment
	}
}

var promptTemplates = map[entities.InsightKind]string{
	entities.InsightSentiment: `Analyze the sentiment of the following customer utterance in a customer service call.

Recent conversation context:
{context}

Current utterance: "{transcript}"

Respond with a JSON object containing:
- sentiment: positive, negative, neutral, or mixed
- confidence: 0.0 to 1.0
- emotions: list of detected emotions (e.g. frustration, satisfaction, confusion)
- intensity: low, medium, or high`,

	entities.InsightIntent: `Classify the intent of the following customer utterance in a customer service call.

Recent conversation context:
{context}

Current utterance: "{transcript}"

Respond with a JSON object containing:
- primary_intent: question, complaint, request, feedback, or general
- secondary_intent: specific sub-category if applicable
- urgency: low, medium, or high
- requires_action: true or false
- suggested_priority: low, medium, or high`,

	entities.InsightSuggestedResponse: `You are a customer service expert. Draft a helpful and empathetic reply the agent could give to the customer.

Recent conversation context:
{context}

Customer: "{transcript}"

Respond with a JSON object containing:
- suggested_response: the reply text
- tone: professional, friendly, empathetic, or authoritative
- key_points: list of the main points to address
- follow_up_questions: list of questions to ask if needed`,

	entities.InsightObjectionHandling: `Identify any objections or concerns in the customer's utterance and how the agent can handle them.

Recent conversation context:
{context}

Current utterance: "{transcript}"

Respond with a JSON object containing:
- objections_detected: list of objections found
- handling_strategies: list of strategies, one per objection
- key_phrases: list of phrases the agent can use
- escalation_needed: true or false`,

	entities.InsightFAQSuggestion: `Suggest knowledge base topics or FAQ articles relevant to the customer's utterance.

Recent conversation context:
{context}

Current utterance: "{transcript}"

Respond with a JSON object containing:
- relevant_topics: list of FAQ topics
- confidence_scores: list of confidence scores (0.0-1.0), one per topic
- suggested_articles: list of specific article titles`,

	entities.InsightEmotionCalibration: `Assess the customer's emotional state and advise how the agent should calibrate their own tone.

Recent conversation context:
{context}

Current utterance: "{transcript}"

Respond with a JSON object containing:
- customer_emotion: primary emotion detected
- agent_tone_adjustment: how the agent should adjust their tone
- mirror_techniques: list of techniques to use
- energy_level: low, medium, or high`,
}

// Template returns the prompt template for a kind
func Template(kind entities.InsightKind) (string, error) {
	tmpl, ok := promptTemplates[kind]
	if !ok {
		return "", fmt.Errorf("no prompt template for insight kind: %s", kind)
	}
	return tmpl, nil
}

// FormatContext renders the last PromptContextSize utterances as a numbered list
func FormatContext(history []entities.Utterance) string {
	if len(history) == 0 {
		return noContext
	}
	if len(history) > PromptContextSize {
		history = history[len(history)-PromptContextSize:]
	}

	lines := make([]string, len(history))
	for i, u := range history {
		lines[i] = fmt.Sprintf("%d. %s", i+1, u.Text)
	}
	return strings.Join(lines, "\n")
}

// RenderPrompt fills a template with the transcript and its context
func RenderPrompt(template, transcript string, history []entities.Utterance) string {
	return strings.NewReplacer(
		"{context}", FormatContext(history),
		"{transcript}", transcript,
	).Replace(template)
}
