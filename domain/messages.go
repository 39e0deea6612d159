package domain

import "github.com/satriahrh/echomind/domain/entities"

// Outbound message types pushed to session members.
const (
	MessageTypeTranscript    = "transcript"
	MessageTypeInsights      = "insights"
	MessageTypeSessionJoined = "session_joined"
	MessageTypeSessionLeft   = "session_left"
	MessageTypeSessionClosed = "session_closed"
)

// TranscriptMessage announces a new utterance produced from the session's audio
type TranscriptMessage struct {
	Type      string  `json:"type"`
	SessionID string  `json:"session_id"`
	Text      string  `json:"transcript"`
	Origin    string  `json:"origin"`
	Timestamp float64 `json:"timestamp"`
}

// InsightsMessage carries one aggregated insight bundle
type InsightsMessage struct {
	Type       string                                         `json:"type"`
	BundleID   string                                         `json:"bundle_id"`
	SessionID  string                                         `json:"session_id"`
	Transcript string                                         `json:"transcript"`
	Insights   map[entities.InsightKind]entities.InsightResult `json:"insights"`
	Timestamp  float64                                        `json:"timestamp"`
}

// SessionEventMessage reports membership changes back to a client
type SessionEventMessage struct {
	Type      string  `json:"type"`
	SessionID string  `json:"session_id"`
	ClientID  string  `json:"client_id,omitempty"`
	Members   int     `json:"members"`
	Timestamp float64 `json:"timestamp"`
}

// NewTranscriptMessage builds the transcript notification for an utterance
func NewTranscriptMessage(sessionID string, u entities.Utterance) TranscriptMessage {
	return TranscriptMessage{
		Type:      MessageTypeTranscript,
		SessionID: sessionID,
		Text:      u.Text,
		Origin:    string(u.Origin),
		Timestamp: entities.UnixSeconds(u.Timestamp),
	}
}

// NewInsightsMessage builds the insights notification for a bundle
func NewInsightsMessage(b *entities.InsightBundle) InsightsMessage {
	return InsightsMessage{
		Type:       MessageTypeInsights,
		BundleID:   b.ID,
		SessionID:  b.SessionID,
		Transcript: b.Transcript,
		Insights:   b.Insights,
		Timestamp:  entities.UnixSeconds(b.Timestamp),
	}
}
