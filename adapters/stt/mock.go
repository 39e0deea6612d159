package stt

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/satriahrh/echomind/domain/repositories"
)

// MockTranscriber is a placeholder implementation for speech recognition
type MockTranscriber struct {
	logger *zap.Logger
}

// NewMockTranscriber creates a new mock transcriber
func NewMockTranscriber(logger *zap.Logger) *MockTranscriber {
	return &MockTranscriber{
		logger: logger,
	}
}

// Transcribe implements repositories.Transcriber
func (s *MockTranscriber) Transcribe(ctx context.Context, audioData []byte, config repositories.AudioConfig) (string, error) {
	s.logger.Debug("Processing mock transcription",
		zap.Int("audioSize", len(audioData)),
		zap.Int("sampleRate", config.SampleRate),
		zap.String("encoding", config.Encoding))

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(audioData) == 0 {
		return "", fmt.Errorf("no audio data received")
	}

	// Mock transcription based on audio size
	switch {
	case len(audioData) > 10000:
		return "I have been waiting for a refund for two weeks and nobody has called me back.", nil
	case len(audioData) > 5000:
		return "Can you tell me how much the premium plan costs?", nil
	case len(audioData) > 1000:
		return "Hello, I need some help with my account.", nil
	default:
		return "Hi", nil
	}
}
