// Package insight fans a new utterance out to independent enrichers and
// aggregates their results into one bundle.
package insight

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/satriahrh/echomind/domain"
	"github.com/satriahrh/echomind/domain/entities"
	"github.com/satriahrh/echomind/domain/repositories"
	"github.com/satriahrh/echomind/internal/metrics"
)

// Failure reasons recorded on failed bundle entries
const (
	ReasonTimeout     = "timeout"
	ReasonCanceled    = "canceled"
	ReasonParse       = "parse_error"
	ReasonPanic       = "panic"
	ReasonRateLimited = "rate_limited"
	ReasonError       = "error"
)

// Engine runs every configured enricher concurrently and waits for all of them
type Engine struct {
	enrichers []Enricher
	context   repositories.ConversationContext
	timeout   time.Duration
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewEngine creates a fan-out engine. timeout bounds each enricher separately.
func NewEngine(enrichers []Enricher, conversation repositories.ConversationContext, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *Engine {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Engine{
		enrichers: enrichers,
		context:   conversation,
		timeout:   timeout,
		metrics:   m,
		logger:    logger,
	}
}

// Kinds returns the configured insight kinds in order
func (e *Engine) Kinds() []entities.InsightKind {
	kinds := make([]entities.InsightKind, len(e.enrichers))
	for i, enricher := range e.enrichers {
		kinds[i] = enricher.Kind()
	}
	return kinds
}

// Enrich runs all enrichers against transcript and the session's current
// context. The bundle has one entry per enricher; individual failures are
// recorded as failed entries and never fail the call.
func (e *Engine) Enrich(ctx context.Context, sessionID, transcript string) (*entities.InsightBundle, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return nil, fmt.Errorf("%w: transcript is required", domain.ErrInvalidArgument)
	}

	started := time.Now()
	history := e.context.Read(sessionID)
	results := make([]entities.InsightResult, len(e.enrichers))

	var g errgroup.Group
	for i, enricher := range e.enrichers {
		g.Go(func() error {
			results[i] = e.run(ctx, enricher, transcript, history)
			return nil
		})
	}
	_ = g.Wait()

	bundle := &entities.InsightBundle{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Transcript: transcript,
		Timestamp:  time.Now(),
		Insights:   make(map[entities.InsightKind]entities.InsightResult, len(e.enrichers)),
	}
	for i, enricher := range e.enrichers {
		bundle.Insights[enricher.Kind()] = results[i]
	}

	e.metrics.RecordBundle()
	e.logger.Info("Insights generated",
		zap.String("sessionID", sessionID),
		zap.String("bundleID", bundle.ID),
		zap.Int("kinds", len(bundle.Insights)),
		zap.Int("failed", len(bundle.FailedKinds())),
		zap.Duration("duration", time.Since(started)))

	return bundle, nil
}

func (e *Engine) run(parent context.Context, enricher Enricher, transcript string, history []entities.Utterance) (result entities.InsightResult) {
	kind := enricher.Kind()
	started := time.Now()

	ctx, cancel := context.WithTimeout(parent, e.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			result = failed(fmt.Errorf("%w: enricher panicked: %v", domain.ErrEnrichmentFailed, r), ReasonPanic)
		}
		result.DurationMs = time.Since(started).Milliseconds()

		e.metrics.RecordEnrichment(string(kind), string(result.Status), time.Since(started).Seconds())
		if result.Failed() {
			e.logger.Warn("Enricher failed",
				zap.String("kind", string(kind)),
				zap.String("reason", result.Reason),
				zap.String("error", result.Error))
		}
	}()

	data, err := enricher.Enrich(ctx, transcript, history)
	if err != nil {
		return failed(err, classify(ctx, err))
	}
	return entities.InsightResult{Status: entities.InsightStatusOK, Data: data}
}

func failed(err error, reason string) entities.InsightResult {
	return entities.InsightResult{
		Status: entities.InsightStatusFailed,
		Error:  err.Error(),
		Reason: reason,
	}
}

func classify(ctx context.Context, err error) string {
	switch {
	case errors.Is(err, domain.ErrParseFailed):
		return ReasonParse
	case errors.Is(err, ErrRateLimited):
		return ReasonRateLimited
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	default:
		return ReasonError
	}
}
