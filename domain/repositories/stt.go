package repositories

import "context"

// Transcriber abstracts speech recognition services. Implementations are
// stateless across calls.
type Transcriber interface {
	// Transcribe converts one window of prepared audio to text
	Transcribe(ctx context.Context, audioData []byte, config AudioConfig) (string, error)
}

// AudioConfig represents audio configuration for speech recognition
type AudioConfig struct {
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"`
	Language   string `json:"language"`
	// Filename hints the container format to services that sniff it from the upload name
	Filename string `json:"filename,omitempty"`
}

// TranscriberFunc adapts a function to the Transcriber interface
type TranscriberFunc func(ctx context.Context, audioData []byte, config AudioConfig) (string, error)

// Transcribe implements Transcriber
func (f TranscriberFunc) Transcribe(ctx context.Context, audioData []byte, config AudioConfig) (string, error) {
	return f(ctx, audioData, config)
}
