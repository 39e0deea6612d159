package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/echomind/adapters/llm"
	"github.com/satriahrh/echomind/adapters/stt"
	"github.com/satriahrh/echomind/domain/entities"
	"github.com/satriahrh/echomind/internal/audio"
	"github.com/satriahrh/echomind/internal/config"
	"github.com/satriahrh/echomind/internal/contextstore"
	"github.com/satriahrh/echomind/internal/insight"
	"github.com/satriahrh/echomind/internal/registry"
	"github.com/satriahrh/echomind/internal/websocket"
	"github.com/satriahrh/echomind/usecase"
)

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Failed to run version: %v", err)
	}
	if strings.TrimSpace(out.String()) != version {
		t.Errorf("Expected %s, got %q", version, out.String())
	}
}

func TestProbeRequiresInput(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"probe"})

	if err := cmd.Execute(); err == nil {
		t.Error("Expected an error without --audio or --text")
	}
}

func TestNewLanguageModelDefaultsToMock(t *testing.T) {
	cfg := &config.Config{LLM: config.LLMConfig{Provider: "mock"}}
	model, err := newLanguageModel(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to build model: %v", err)
	}
	if _, ok := model.(*llm.MockLLM); !ok {
		t.Errorf("Expected *llm.MockLLM, got %T", model)
	}

	cfg.LLM = config.LLMConfig{Provider: "router", OpenAIAPIKey: "sk-test"}
	model, err = newLanguageModel(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to build router: %v", err)
	}
	router, ok := model.(*llm.Router)
	if !ok {
		t.Fatalf("Expected *llm.Router, got %T", model)
	}
	if router.Backends() != 2 {
		t.Errorf("Expected gpt and o routes, got %d", router.Backends())
	}
}

func TestProbeSubmitsTranscript(t *testing.T) {
	logger := zap.NewNop()
	reg := registry.New(4, logger)
	contexts := contextstore.New(contextstore.DefaultCapacity, logger)
	buffer := audio.NewBuffer(audio.Config{Threshold: 3, Format: audio.FormatWebM}, stt.NewMockTranscriber(logger), contexts, nil, logger)
	enrichers, err := insight.BuildEnrichers(entities.DefaultInsightKinds, llm.NewMockLLM(logger),
		insight.DefaultProfiles("gpt-4", "gemini-2.0-flash"), insight.RateLimit{})
	if err != nil {
		t.Fatalf("Failed to build enrichers: %v", err)
	}
	service := usecase.NewCallService(reg, contexts, buffer,
		insight.NewEngine(enrichers, contexts, time.Second, nil, logger), nil, logger)
	service.Start()

	e := echo.New()
	websocket.NewHandler(service, config.WebSocketConfig{}, nil, logger).Register(e)
	server := httptest.NewServer(e)
	defer server.Close()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = service.Shutdown(ctx)
	}()

	var out bytes.Buffer
	err = runProbe(context.Background(), &out, probeOptions{
		url:       "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/probe",
		sessionID: "s1",
		text:      "this is too expensive",
		wait:      3 * time.Second,
	})
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if !strings.Contains(out.String(), "session_joined") || !strings.Contains(out.String(), "insights") {
		t.Errorf("Expected session_joined and insights in output, got %s", out.String())
	}
}
