package stt_test

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/satriahrh/echomind/adapters/stt"
	"github.com/satriahrh/echomind/domain/repositories"
)

var (
	_ repositories.Transcriber = &stt.GoogleTranscriber{}
	_ repositories.Transcriber = &stt.WhisperTranscriber{}
	_ repositories.Transcriber = &stt.MockTranscriber{}
)

func TestMockTranscriber(t *testing.T) {
	transcriber := stt.NewMockTranscriber(zap.NewNop())
	config := repositories.AudioConfig{SampleRate: 16000, Encoding: "WAV", Language: "en-US"}

	tests := []struct {
		name     string
		size     int
		expected string
	}{
		{"tiny", 10, "Hi"},
		{"short", 2000, "Hello, I need some help with my account."},
		{"medium", 6000, "Can you tell me how much the premium plan costs?"},
		{"long", 12000, "I have been waiting for a refund for two weeks and nobody has called me back."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, err := transcriber.Transcribe(context.Background(), make([]byte, tt.size), config)
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if text != tt.expected {
				t.Errorf("Expected '%s', got '%s'", tt.expected, text)
			}
		})
	}

	if _, err := transcriber.Transcribe(context.Background(), nil, config); err == nil {
		t.Error("Expected error for empty audio")
	}
}

func TestNewWhisperTranscriberRequiresKey(t *testing.T) {
	if _, err := stt.NewWhisperTranscriber("", "", zap.NewNop()); err == nil {
		t.Error("Expected error when API key is missing")
	}
}
