package api

import "github.com/satriahrh/echomind/domain/entities"

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// HealthResponse reports whether the service accepts work
type HealthResponse struct {
	Status    string          `json:"status"`
	Services  map[string]bool `json:"services"`
	Timestamp float64         `json:"timestamp"`
}

// StatsResponse wraps the service stats
type StatsResponse struct {
	Stats     entities.Stats `json:"stats"`
	Kinds     []string       `json:"insight_kinds"`
	Timestamp float64        `json:"timestamp"`
}

// SessionCreateRequest represents the request payload for announcing a call
type SessionCreateRequest struct {
	SessionID  string `json:"session_id"`
	AgentID    string `json:"agent_id,omitempty"`
	CustomerID string `json:"customer_id,omitempty"`
	CallType   string `json:"call_type,omitempty"`
}

// SessionResponse echoes an announced call. Sessions hold no state until a
// client joins them.
type SessionResponse struct {
	SessionID  string  `json:"session_id"`
	Status     string  `json:"status"`
	CreatedAt  float64 `json:"created_at"`
	AgentID    string  `json:"agent_id,omitempty"`
	CustomerID string  `json:"customer_id,omitempty"`
	CallType   string  `json:"call_type"`
}

// SessionInfoResponse describes a session's membership
type SessionInfoResponse struct {
	SessionID string               `json:"session_id"`
	Info      entities.SessionInfo `json:"info"`
	Timestamp float64              `json:"timestamp"`
}

// SessionDeleteResponse lists the clients disconnected by a delete
type SessionDeleteResponse struct {
	Message             string   `json:"message"`
	SessionID           string   `json:"session_id"`
	DisconnectedClients []string `json:"disconnected_clients"`
}

// SessionContextResponse carries a session's conversation context
type SessionContextResponse struct {
	SessionID string               `json:"session_id"`
	Context   []entities.Utterance `json:"context"`
	Timestamp float64              `json:"timestamp"`
}

// InsightRequest represents the request payload for text enrichment
type InsightRequest struct {
	Transcript string `json:"transcript"`
	SessionID  string `json:"session_id"`
}

// InsightResponse carries one insight bundle
type InsightResponse struct {
	BundleID   string                                         `json:"bundle_id"`
	SessionID  string                                         `json:"session_id"`
	Transcript string                                         `json:"transcript"`
	Timestamp  float64                                        `json:"timestamp"`
	Insights   map[entities.InsightKind]entities.InsightResult `json:"insights"`
}

// SessionAnalyticsResponse summarizes live sessions
type SessionAnalyticsResponse struct {
	ActiveSessions   int     `json:"active_sessions"`
	TotalConnections int     `json:"total_connections"`
	Uptime           float64 `json:"uptime"`
	Timestamp        float64 `json:"timestamp"`
}

// ProcessingStats summarizes one stage of the pipeline
type ProcessingStats struct {
	ActiveSessions int   `json:"active_sessions"`
	TotalContexts  int   `json:"total_contexts"`
	InFlight       int64 `json:"in_flight,omitempty"`
	Healthy        bool  `json:"healthy"`
}

// PerformanceAnalyticsResponse summarizes the audio and insight stages
type PerformanceAnalyticsResponse struct {
	AudioProcessing   ProcessingStats `json:"audio_processing"`
	InsightProcessing ProcessingStats `json:"llm_processing"`
	Timestamp         float64         `json:"timestamp"`
}
