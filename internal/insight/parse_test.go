package insight

import (
	"errors"
	"testing"

	"github.com/satriahrh/echomind/domain"
)

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name     string
		response string
		key      string
	}{
		{"raw object", `{"sentiment": "positive"}`, "sentiment"},
		{"json fence", "Here you go:\n```json\n{\"urgency\": \"high\"}\n```\nthanks", "urgency"},
		{"bare fence", "```\n{\"tone\": \"friendly\"}\n```", "tone"},
		{"surrounding whitespace", "\n\n  {\"energy_level\": \"low\"}  \n", "energy_level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := ParseResponse(tt.response)
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if _, ok := out[tt.key]; !ok {
				t.Errorf("Expected key %s in %v", tt.key, out)
			}
		})
	}
}

func TestParseResponseFailures(t *testing.T) {
	for _, response := range []string{
		"",
		"I think the customer is happy.",
		"```json\n{\"broken\": \n```",
		"[1, 2, 3]",
		"null",
	} {
		_, err := ParseResponse(response)
		if !errors.Is(err, domain.ErrParseFailed) {
			t.Errorf("Expected ErrParseFailed for %q, got %v", response, err)
		}
		if !errors.Is(err, domain.ErrEnrichmentFailed) {
			t.Errorf("Expected parse failure to be an enrichment failure for %q", response)
		}
	}
}
