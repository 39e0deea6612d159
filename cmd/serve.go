package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/satriahrh/echomind/adapters/llm"
	"github.com/satriahrh/echomind/adapters/stt"
	"github.com/satriahrh/echomind/domain/entities"
	"github.com/satriahrh/echomind/domain/repositories"
	"github.com/satriahrh/echomind/internal/api"
	"github.com/satriahrh/echomind/internal/audio"
	"github.com/satriahrh/echomind/internal/config"
	"github.com/satriahrh/echomind/internal/contextstore"
	"github.com/satriahrh/echomind/internal/insight"
	"github.com/satriahrh/echomind/internal/metrics"
	"github.com/satriahrh/echomind/internal/registry"
	"github.com/satriahrh/echomind/internal/websocket"
	"github.com/satriahrh/echomind/usecase"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	return cmd
}

func serve(cfg *config.Config) error {
	logger, err := cfg.Log.NewLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := context.Background()
	m := metrics.NewMetrics()

	// Initialize adapters
	transcriber, closeTranscriber, err := newTranscriber(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeTranscriber()

	model, err := newLanguageModel(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// Initialize pipeline components
	format, err := audio.ParseFormat(cfg.Audio.Format)
	if err != nil {
		return fmt.Errorf("failed to parse audio format: %w", err)
	}

	kinds := make([]entities.InsightKind, 0, len(cfg.Insight.Kinds))
	for _, name := range cfg.Insight.Kinds {
		kind, err := entities.ParseInsightKind(name)
		if err != nil {
			return fmt.Errorf("failed to parse insight kinds: %w", err)
		}
		kinds = append(kinds, kind)
	}

	reg := registry.New(cfg.Session.BroadcastConcurrency, logger)
	contexts := contextstore.New(cfg.Context.MaxUtterances, logger)
	buffer := audio.NewBuffer(audio.Config{
		Threshold:         cfg.Audio.WindowFragments,
		Format:            format,
		SampleRate:        cfg.Audio.SampleRate,
		Language:          cfg.Audio.Language,
		TranscribeTimeout: cfg.Audio.TranscribeTimeout,
	}, transcriber, contexts, m, logger)

	enrichers, err := insight.BuildEnrichers(kinds, model,
		insight.DefaultProfiles(cfg.Insight.PrimaryModel, cfg.Insight.ResponseModel),
		insight.RateLimit{PerSecond: cfg.Insight.RatePerSecond, Burst: cfg.Insight.RateBurst})
	if err != nil {
		return fmt.Errorf("failed to build enrichers: %w", err)
	}
	engine := insight.NewEngine(enrichers, contexts, cfg.Insight.Timeout, m, logger)

	// Initialize usecase services
	service := usecase.NewCallService(reg, contexts, buffer, engine, m, logger)
	service.Start()

	sweeper := usecase.NewSessionSweeper(service, cfg.Session.SweepInterval, cfg.Session.IdleTTL, logger)
	sweeper.Start()

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: cfg.Server.CORSOrigins}))

	api.InitRoutes(e, service, m, logger)
	websocket.NewHandler(service, cfg.WebSocket, m, logger).Register(e)

	serverErr := make(chan error, 1)
	go func() {
		if err := e.Start(cfg.Server.Address()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	logger.Info("Server started",
		zap.String("address", cfg.Server.Address()),
		zap.String("sttProvider", cfg.STT.Provider),
		zap.String("llmProvider", cfg.LLM.Provider),
		zap.String("version", version))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	var startErr error
	select {
	case <-quit:
	case startErr = <-serverErr:
		logger.Error("Server failed", zap.Error(startErr))
	}

	logger.Info("Server is shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if startErr != nil {
		errs = append(errs, startErr)
	}
	if err := e.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("failed to shut down http server: %w", err))
	}
	sweeper.Stop()
	if err := service.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("failed to shut down call service: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	logger.Info("Server exited")
	return nil
}

// newTranscriber builds the configured speech-to-text provider and its close hook
func newTranscriber(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repositories.Transcriber, func(), error) {
	noop := func() {}

	switch cfg.STT.Provider {
	case "openai":
		t, err := stt.NewWhisperTranscriber(cfg.LLM.OpenAIAPIKey, cfg.STT.WhisperModel, logger)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create whisper transcriber: %w", err)
		}
		return t, noop, nil
	case "google":
		t, err := stt.NewGoogleTranscriber(ctx, logger)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create google transcriber: %w", err)
		}
		return t, func() {
			if err := t.Close(); err != nil {
				logger.Warn("Failed to close google transcriber", zap.Error(err))
			}
		}, nil
	default:
		return stt.NewMockTranscriber(logger), noop, nil
	}
}

// newLanguageModel builds the configured model backend. The router sends
// gpt-* and o* models to OpenAI and gemini-* models to Gemini.
func newLanguageModel(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repositories.LargeLanguageModel, error) {
	switch cfg.LLM.Provider {
	case "openai":
		model, err := llm.NewOpenAILLM(cfg.LLM.OpenAIAPIKey, cfg.Insight.PrimaryModel, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai client: %w", err)
		}
		return model, nil
	case "gemini":
		model, err := llm.NewGeminiLLM(ctx, cfg.LLM.GeminiAPIKey, cfg.Insight.ResponseModel, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini client: %w", err)
		}
		return model, nil
	case "router":
		var routes []llm.Route
		if cfg.LLM.OpenAIAPIKey != "" {
			openai, err := llm.NewOpenAILLM(cfg.LLM.OpenAIAPIKey, cfg.Insight.PrimaryModel, logger)
			if err != nil {
				return nil, fmt.Errorf("failed to create openai client: %w", err)
			}
			routes = append(routes, llm.Route{Prefix: "gpt", Backend: openai}, llm.Route{Prefix: "o", Backend: openai})
		}
		if cfg.LLM.GeminiAPIKey != "" {
			gemini, err := llm.NewGeminiLLM(ctx, cfg.LLM.GeminiAPIKey, cfg.Insight.ResponseModel, logger)
			if err != nil {
				return nil, fmt.Errorf("failed to create gemini client: %w", err)
			}
			routes = append(routes, llm.Route{Prefix: "gemini", Backend: gemini})
		}
		return llm.NewRouter(logger, routes...), nil
	default:
		return llm.NewMockLLM(logger), nil
	}
}
