// Package config loads server configuration from defaults, an optional YAML
// file, a .env file and ECHOMIND_ prefixed environment variables, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment override
const EnvPrefix = "ECHOMIND"

// Config represents the complete service configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Audio     AudioConfig     `mapstructure:"audio"`
	Context   ContextConfig   `mapstructure:"context"`
	Insight   InsightConfig   `mapstructure:"insight"`
	STT       STTConfig       `mapstructure:"stt"`
	LLM       LLMConfig       `mapstructure:"llm"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Session   SessionConfig   `mapstructure:"session"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig contains HTTP listener configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// AudioConfig contains audio windowing parameters
type AudioConfig struct {
	WindowFragments   int           `mapstructure:"window_fragments"`
	Format            string        `mapstructure:"format"`
	SampleRate        int           `mapstructure:"sample_rate"`
	Language          string        `mapstructure:"language"`
	TranscribeTimeout time.Duration `mapstructure:"transcribe_timeout"`
}

// ContextConfig contains conversation history parameters
type ContextConfig struct {
	MaxUtterances int `mapstructure:"max_utterances"`
}

// InsightConfig contains fan-out enrichment parameters
type InsightConfig struct {
	Kinds         []string      `mapstructure:"kinds"`
	Timeout       time.Duration `mapstructure:"timeout"`
	PrimaryModel  string        `mapstructure:"primary_model"`
	ResponseModel string        `mapstructure:"response_model"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	RateBurst     int           `mapstructure:"rate_burst"`
}

// STTConfig selects the transcriber
type STTConfig struct {
	Provider     string `mapstructure:"provider"`
	WhisperModel string `mapstructure:"whisper_model"`
}

// LLMConfig selects the enrichers' model backend
type LLMConfig struct {
	Provider     string `mapstructure:"provider"`
	OpenAIAPIKey string `mapstructure:"openai_api_key"`
	GeminiAPIKey string `mapstructure:"gemini_api_key"`
}

// WebSocketConfig contains client connection parameters
type WebSocketConfig struct {
	ReadBufferSize  int           `mapstructure:"read_buffer_size"`
	WriteBufferSize int           `mapstructure:"write_buffer_size"`
	SendQueue       int           `mapstructure:"send_queue"`
	MaxMessageSize  int64         `mapstructure:"max_message_size"`
	WriteWait       time.Duration `mapstructure:"write_wait"`
	PongWait        time.Duration `mapstructure:"pong_wait"`
}

// SessionConfig contains session housekeeping parameters
type SessionConfig struct {
	BroadcastConcurrency int           `mapstructure:"broadcast_concurrency"`
	SweepInterval        time.Duration `mapstructure:"sweep_interval"`
	IdleTTL              time.Duration `mapstructure:"idle_ttl"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("audio.window_fragments", 3)
	v.SetDefault("audio.format", "webm")
	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.language", "en-US")
	v.SetDefault("audio.transcribe_timeout", 30*time.Second)

	v.SetDefault("context.max_utterances", 20)

	v.SetDefault("insight.kinds", []string{
		"sentiment", "intent", "suggested_response",
		"objection_handling", "faq_suggestion", "emotion_calibration",
	})
	v.SetDefault("insight.timeout", 10*time.Second)
	v.SetDefault("insight.primary_model", "gpt-4")
	v.SetDefault("insight.response_model", "gemini-2.0-flash")
	v.SetDefault("insight.rate_per_second", 0)
	v.SetDefault("insight.rate_burst", 1)

	v.SetDefault("stt.provider", "mock")
	v.SetDefault("stt.whisper_model", "whisper-1")

	v.SetDefault("llm.provider", "mock")
	v.SetDefault("llm.openai_api_key", "")
	v.SetDefault("llm.gemini_api_key", "")

	v.SetDefault("websocket.read_buffer_size", 1024)
	v.SetDefault("websocket.write_buffer_size", 1024)
	v.SetDefault("websocket.send_queue", 256)
	v.SetDefault("websocket.max_message_size", 1<<20)
	v.SetDefault("websocket.write_wait", 10*time.Second)
	v.SetDefault("websocket.pong_wait", 60*time.Second)

	v.SetDefault("session.broadcast_concurrency", 32)
	v.SetDefault("session.sweep_interval", time.Minute)
	v.SetDefault("session.idle_ttl", 10*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load builds the configuration. path may name a YAML file; when empty a
// config.yaml in the working directory is used if present.
func Load(path string) (*Config, error) {
	// a missing .env is normal outside development
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// conventional names used by the providers' own tooling
	_ = v.BindEnv("server.port", EnvPrefix+"_SERVER_PORT", "PORT")
	_ = v.BindEnv("llm.openai_api_key", EnvPrefix+"_LLM_OPENAI_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("llm.gemini_api_key", EnvPrefix+"_LLM_GEMINI_API_KEY", "GEMINI_API_KEY")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate performs validation of every section
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := c.Context.Validate(); err != nil {
		return fmt.Errorf("context config: %w", err)
	}
	if err := c.Insight.Validate(); err != nil {
		return fmt.Errorf("insight config: %w", err)
	}
	if err := c.STT.Validate(c.LLM); err != nil {
		return fmt.Errorf("stt config: %w", err)
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm config: %w", err)
	}
	if err := c.WebSocket.Validate(); err != nil {
		return fmt.Errorf("websocket config: %w", err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log config: %w", err)
	}
	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}
	if s.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive, got %s", s.ShutdownTimeout)
	}
	return nil
}

// Address returns the listen address
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.WindowFragments < 1 {
		return fmt.Errorf("window_fragments must be at least 1, got %d", a.WindowFragments)
	}
	switch strings.ToLower(a.Format) {
	case "pcm16", "mulaw", "ulaw", "pcmu", "alaw", "pcma", "wav", "webm", "ogg":
	default:
		return fmt.Errorf("format must be one of [pcm16, mulaw, alaw, wav, webm, ogg], got '%s'", a.Format)
	}
	if a.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", a.SampleRate)
	}
	if a.TranscribeTimeout <= 0 {
		return fmt.Errorf("transcribe_timeout must be positive, got %s", a.TranscribeTimeout)
	}
	return nil
}

// Validate validates context configuration
func (c *ContextConfig) Validate() error {
	if c.MaxUtterances < 1 {
		return fmt.Errorf("max_utterances must be at least 1, got %d", c.MaxUtterances)
	}
	return nil
}

// Validate validates insight configuration
func (i *InsightConfig) Validate() error {
	if len(i.Kinds) == 0 {
		return fmt.Errorf("at least one insight kind is required")
	}
	seen := make(map[string]bool, len(i.Kinds))
	for _, kind := range i.Kinds {
		if seen[kind] {
			return fmt.Errorf("insight kind '%s' listed twice", kind)
		}
		seen[kind] = true
	}
	if i.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", i.Timeout)
	}
	if i.RatePerSecond < 0 {
		return fmt.Errorf("rate_per_second cannot be negative, got %f", i.RatePerSecond)
	}
	return nil
}

// Validate validates transcriber selection. Whisper shares the OpenAI key.
func (s *STTConfig) Validate(llm LLMConfig) error {
	switch s.Provider {
	case "mock", "google":
	case "openai":
		if llm.OpenAIAPIKey == "" {
			return fmt.Errorf("openai provider requires OPENAI_API_KEY")
		}
	default:
		return fmt.Errorf("provider must be one of [mock, openai, google], got '%s'", s.Provider)
	}
	return nil
}

// Validate validates model backend selection
func (l *LLMConfig) Validate() error {
	switch l.Provider {
	case "mock":
	case "openai":
		if l.OpenAIAPIKey == "" {
			return fmt.Errorf("openai provider requires OPENAI_API_KEY")
		}
	case "gemini":
		if l.GeminiAPIKey == "" {
			return fmt.Errorf("gemini provider requires GEMINI_API_KEY")
		}
	case "router":
		if l.OpenAIAPIKey == "" && l.GeminiAPIKey == "" {
			return fmt.Errorf("router provider requires at least one of OPENAI_API_KEY or GEMINI_API_KEY")
		}
	default:
		return fmt.Errorf("provider must be one of [mock, openai, gemini, router], got '%s'", l.Provider)
	}
	return nil
}

// Validate validates websocket configuration
func (w *WebSocketConfig) Validate() error {
	if w.SendQueue < 1 {
		return fmt.Errorf("send_queue must be at least 1, got %d", w.SendQueue)
	}
	if w.MaxMessageSize < 1024 {
		return fmt.Errorf("max_message_size must be at least 1024 bytes, got %d", w.MaxMessageSize)
	}
	if w.WriteWait <= 0 || w.PongWait <= 0 {
		return fmt.Errorf("write_wait and pong_wait must be positive")
	}
	return nil
}

// PingPeriod returns how often pings are sent; it must be shorter than PongWait
func (w *WebSocketConfig) PingPeriod() time.Duration {
	return (w.PongWait * 9) / 10
}

// Validate validates session housekeeping configuration
func (s *SessionConfig) Validate() error {
	if s.BroadcastConcurrency < 0 {
		return fmt.Errorf("broadcast_concurrency cannot be negative, got %d", s.BroadcastConcurrency)
	}
	if s.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive, got %s", s.SweepInterval)
	}
	if s.IdleTTL <= 0 {
		return fmt.Errorf("idle_ttl must be positive, got %s", s.IdleTTL)
	}
	return nil
}

// Validate validates logging configuration
func (l *LogConfig) Validate() error {
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}
	switch l.Format {
	case "json", "console":
	default:
		return fmt.Errorf("format must be 'json' or 'console', got '%s'", l.Format)
	}
	return nil
}
