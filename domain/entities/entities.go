package entities

import (
	"errors"
	"strings"
	"time"
)

// Origin tags who or what produced an utterance
type Origin string

const (
	// OriginCustomer is speech transcribed from the call audio
	OriginCustomer Origin = "customer"
	// OriginManual is text submitted directly through the API or a client message
	OriginManual Origin = "manual"
)

// Utterance is one transcript unit in a session's rolling conversation context
type Utterance struct {
	Text      string    `json:"transcript"`
	Timestamp time.Time `json:"timestamp"`
	Origin    Origin    `json:"type"`
}

// NewUtterance creates an utterance stamped with the current time
func NewUtterance(text string, origin Origin) Utterance {
	return Utterance{
		Text:      strings.TrimSpace(text),
		Timestamp: time.Now(),
		Origin:    origin,
	}
}

// Validate checks the utterance carries text
func (u Utterance) Validate() error {
	if strings.TrimSpace(u.Text) == "" {
		return errors.New("transcript is required")
	}
	return nil
}

// UnixSeconds renders a timestamp as fractional unix seconds, the format clients expect
func UnixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / float64(time.Second)
}
