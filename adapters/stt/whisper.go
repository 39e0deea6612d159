package stt

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/satriahrh/echomind/domain/repositories"
)

// WhisperTranscriber implements Transcriber using the OpenAI transcription API
type WhisperTranscriber struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewWhisperTranscriber creates a Whisper transcriber. An empty model selects whisper-1.
func NewWhisperTranscriber(apiKey, model string, logger *zap.Logger) (*WhisperTranscriber, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if model == "" {
		model = openai.Whisper1
	}

	return &WhisperTranscriber{
		client: openai.NewClient(apiKey),
		model:  model,
		logger: logger,
	}, nil
}

// Transcribe uploads the window as a file and returns the recognized text
func (w *WhisperTranscriber) Transcribe(ctx context.Context, audioData []byte, config repositories.AudioConfig) (string, error) {
	if len(audioData) == 0 {
		return "", fmt.Errorf("no audio data received")
	}

	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: uploadName(config),
		Reader:   bytes.NewReader(audioData),
		Language: languageCode(config.Language),
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create transcription: %w", err)
	}

	w.logger.Debug("Whisper transcription completed",
		zap.Int("audioSize", len(audioData)),
		zap.Int("transcriptLength", len(resp.Text)))

	return strings.TrimSpace(resp.Text), nil
}

// uploadName picks a filename whose extension matches the prepared audio,
// since the API detects the container from it
func uploadName(config repositories.AudioConfig) string {
	if config.Filename != "" {
		return config.Filename
	}
	switch strings.ToLower(config.Encoding) {
	case "webm", "webm_opus":
		return "audio.webm"
	case "ogg", "ogg_opus":
		return "audio.ogg"
	default:
		return "audio.wav"
	}
}

// languageCode reduces a BCP-47 tag like en-US to the ISO-639-1 code Whisper expects
func languageCode(language string) string {
	if i := strings.IndexByte(language, '-'); i > 0 {
		return strings.ToLower(language[:i])
	}
	return strings.ToLower(language)
}
