package entities

import "time"

// SessionInfo describes a call session's current membership. Unknown sessions
// are reported with no members rather than as an error.
type SessionInfo struct {
	SessionID   string    `json:"session_id"`
	Clients     []string  `json:"clients"`
	ClientCount int       `json:"client_count"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// Exists reports whether the session currently has members
func (s SessionInfo) Exists() bool {
	return s.ClientCount > 0
}

// Stats is a point-in-time view of the engine's state
type Stats struct {
	ActiveSessions    int            `json:"active_sessions"`
	ActiveConnections int            `json:"active_connections"`
	ContextSizes      map[string]int `json:"context_sizes"`
	TotalContexts     int            `json:"total_contexts"`
	BufferedSessions  int            `json:"buffered_sessions"`
	InFlightInsights  int64          `json:"in_flight_insights"`
	UptimeSeconds     float64        `json:"uptime"`
	Healthy           bool           `json:"healthy"`
}
