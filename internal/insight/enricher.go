package insight

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/satriahrh/echomind/domain/entities"
	"github.com/satriahrh/echomind/domain/repositories"
)

// Enricher produces one kind of insight for an utterance and its context
type Enricher interface {
	Kind() entities.InsightKind
	Enrich(ctx context.Context, transcript string, history []entities.Utterance) (map[string]any, error)
}

// ErrRateLimited marks a call that could not get a token before its deadline
var ErrRateLimited = errors.New("rate limited")

// RateLimit configures the token bucket in front of an enricher's model calls.
// A zero PerSecond disables limiting.
type RateLimit struct {
	PerSecond float64
	Burst     int
}

// PromptEnricher renders a prompt template, calls a model with its profile and
// parses the JSON reply
type PromptEnricher struct {
	kind     entities.InsightKind
	template string
	profile  Profile
	llm      repositories.LargeLanguageModel
	limiter  *rate.Limiter
}

// NewPromptEnricher creates an enricher for kind using its stock template
func NewPromptEnricher(kind entities.InsightKind, llm repositories.LargeLanguageModel, profile Profile, limit RateLimit) (*PromptEnricher, error) {
	template, err := Template(kind)
	if err != nil {
		return nil, err
	}

	e := &PromptEnricher{
		kind:     kind,
		template: template,
		profile:  profile,
		llm:      llm,
	}
	if limit.PerSecond > 0 {
		burst := limit.Burst
		if burst <= 0 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(limit.PerSecond), burst)
	}
	return e, nil
}

// Kind implements Enricher
func (e *PromptEnricher) Kind() entities.InsightKind {
	return e.kind
}

// Enrich implements Enricher
func (e *PromptEnricher) Enrich(ctx context.Context, transcript string, history []entities.Utterance) (map[string]any, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
	}

	reply, err := e.llm.Complete(ctx, repositories.CompletionRequest{
		Model:       e.profile.Model,
		Prompt:      RenderPrompt(e.template, transcript, history),
		Temperature: e.profile.Temperature,
		MaxTokens:   e.profile.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call model %s: %w", e.profile.Model, err)
	}

	return ParseResponse(reply)
}

// BuildEnrichers creates one PromptEnricher per kind, all sharing llm
func BuildEnrichers(kinds []entities.InsightKind, llm repositories.LargeLanguageModel, profiles Profiles, limit RateLimit) ([]Enricher, error) {
	enrichers := make([]Enricher, 0, len(kinds))
	for _, kind := range kinds {
		e, err := NewPromptEnricher(kind, llm, profiles.For(kind), limit)
		if err != nil {
			return nil, err
		}
		enrichers = append(enrichers, e)
	}
	return enrichers, nil
}
