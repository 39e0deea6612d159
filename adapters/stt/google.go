package stt

import (
	"context"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"

	"github.com/satriahrh/echomind/domain/repositories"
)

// GoogleTranscriber implements Transcriber using Google Cloud Speech-to-Text
type GoogleTranscriber struct {
	client *speech.Client
	logger *zap.Logger
}

// NewGoogleTranscriber creates a Google Cloud Speech client. Credentials are
// resolved from the environment (GOOGLE_APPLICATION_CREDENTIALS).
func NewGoogleTranscriber(ctx context.Context, logger *zap.Logger) (*GoogleTranscriber, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}

	return &GoogleTranscriber{
		client: client,
		logger: logger,
	}, nil
}

// Transcribe runs a synchronous recognition over one audio window
func (g *GoogleTranscriber) Transcribe(ctx context.Context, audioData []byte, config repositories.AudioConfig) (string, error) {
	if len(audioData) == 0 {
		return "", fmt.Errorf("no audio data received")
	}

	encoding, err := getAudioEncoding(config.Encoding)
	if err != nil {
		return "", err
	}

	recognitionConfig := &speechpb.RecognitionConfig{
		Encoding:     encoding,
		LanguageCode: config.Language,
	}
	// WAV and container formats carry their own sample rate in the header
	if encoding != speechpb.RecognitionConfig_WEBM_OPUS && encoding != speechpb.RecognitionConfig_OGG_OPUS {
		recognitionConfig.SampleRateHertz = int32(config.SampleRate)
	}

	resp, err := g.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: recognitionConfig,
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audioData},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to recognize audio: %w", err)
	}

	var parts []string
	for _, result := range resp.Results {
		if len(result.Alternatives) > 0 {
			parts = append(parts, result.Alternatives[0].Transcript)
		}
	}

	transcript := strings.TrimSpace(strings.Join(parts, " "))
	g.logger.Debug("Google transcription completed",
		zap.Int("audioSize", len(audioData)),
		zap.Int("results", len(resp.Results)),
		zap.Int("transcriptLength", len(transcript)))

	return transcript, nil
}

// Close releases the underlying gRPC connection
func (g *GoogleTranscriber) Close() error {
	return g.client.Close()
}

// getAudioEncoding converts string encoding to Google Speech API enum
func getAudioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch strings.ToUpper(encoding) {
	case "WAV", "LINEAR16", "PCM16", "MULAW", "ALAW":
		// mu-law and a-law windows are decoded to PCM16 WAV before they reach the transcriber
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "AMR":
		return speechpb.RecognitionConfig_AMR, nil
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB, nil
	case "OGG", "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE, nil
	case "WEBM", "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported encoding: %s", encoding)
	}
}
