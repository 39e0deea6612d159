package entities

import (
	"fmt"
	"sort"
	"time"
)

// InsightKind identifies one enricher's analysis
type InsightKind string

const (
	InsightSentiment          InsightKind = "sentiment"
	InsightIntent             InsightKind = "intent"
	InsightSuggestedResponse  InsightKind = "suggested_response"
	InsightObjectionHandling  InsightKind = "objection_handling"
	InsightFAQSuggestion      InsightKind = "faq_suggestion"
	InsightEmotionCalibration InsightKind = "emotion_calibration"
)

// DefaultInsightKinds is the full set of enrichers, in presentation order
var DefaultInsightKinds = []InsightKind{
	InsightSentiment,
	InsightIntent,
	InsightSuggestedResponse,
	InsightObjectionHandling,
	InsightFAQSuggestion,
	InsightEmotionCalibration,
}

// ParseInsightKind validates a configured kind name
func ParseInsightKind(name string) (InsightKind, error) {
	for _, k := range DefaultInsightKinds {
		if string(k) == name {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown insight kind: %s", name)
}

// InsightStatus marks whether an enricher produced a result
type InsightStatus string

const (
	InsightStatusOK     InsightStatus = "ok"
	InsightStatusFailed InsightStatus = "failed"
)

// InsightResult is one kind's entry in a bundle. Data is set on success,
// Error and Reason on failure.
type InsightResult struct {
	Status     InsightStatus  `json:"status"`
	Data       map[string]any `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}

// Failed reports whether the entry is a failure marker
func (r InsightResult) Failed() bool {
	return r.Status != InsightStatusOK
}

// InsightBundle is the aggregated result of one fan-out round
type InsightBundle struct {
	ID         string                        `json:"bundle_id"`
	SessionID  string                        `json:"session_id"`
	Transcript string                        `json:"transcript"`
	Timestamp  time.Time                     `json:"timestamp"`
	Insights   map[InsightKind]InsightResult `json:"insights"`
}

// FailedKinds returns the kinds marked failed, sorted by name
func (b *InsightBundle) FailedKinds() []InsightKind {
	var failed []InsightKind
	for kind, result := range b.Insights {
		if result.Failed() {
			failed = append(failed, kind)
		}
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i] < failed[j] })
	return failed
}

// Covers reports whether every kind has an entry in the bundle
func (b *InsightBundle) Covers(kinds []InsightKind) bool {
	for _, k := range kinds {
		if _, ok := b.Insights[k]; !ok {
			return false
		}
	}
	return true
}
