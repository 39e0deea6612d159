package stt

import (
	"testing"

	"cloud.google.com/go/speech/apiv1/speechpb"

	"github.com/satriahrh/echomind/domain/repositories"
)

func TestGetAudioEncoding(t *testing.T) {
	tests := []struct {
		input    string
		expected speechpb.RecognitionConfig_AudioEncoding
	}{
		{"wav", speechpb.RecognitionConfig_LINEAR16},
		{"MULAW", speechpb.RecognitionConfig_LINEAR16},
		{"webm", speechpb.RecognitionConfig_WEBM_OPUS},
		{"OGG_OPUS", speechpb.RecognitionConfig_OGG_OPUS},
		{"FLAC", speechpb.RecognitionConfig_FLAC},
	}

	for _, tt := range tests {
		got, err := getAudioEncoding(tt.input)
		if err != nil {
			t.Errorf("Expected %s to be supported, got %v", tt.input, err)
		}
		if got != tt.expected {
			t.Errorf("Expected %v for %s, got %v", tt.expected, tt.input, got)
		}
	}

	if _, err := getAudioEncoding("mp3"); err == nil {
		t.Error("Expected error for unsupported encoding")
	}
}

func TestUploadName(t *testing.T) {
	if got := uploadName(repositories.AudioConfig{Encoding: "webm"}); got != "audio.webm" {
		t.Errorf("Expected audio.webm, got %s", got)
	}
	if got := uploadName(repositories.AudioConfig{Encoding: "pcm16"}); got != "audio.wav" {
		t.Errorf("Expected audio.wav, got %s", got)
	}
	if got := uploadName(repositories.AudioConfig{Filename: "call.ogg"}); got != "call.ogg" {
		t.Errorf("Expected call.ogg, got %s", got)
	}
	if got := languageCode("en-US"); got != "en" {
		t.Errorf("Expected en, got %s", got)
	}
}
