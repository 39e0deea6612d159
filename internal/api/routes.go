package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/satriahrh/echomind/domain"
	"github.com/satriahrh/echomind/domain/entities"
	"github.com/satriahrh/echomind/internal/metrics"
)

// CallService is what the REST layer needs from the call pipeline
type CallService interface {
	Healthy() bool
	Stats() entities.Stats
	Kinds() []entities.InsightKind
	SessionInfo(sessionID string) entities.SessionInfo
	SessionContext(sessionID string) []entities.Utterance
	ClearSession(sessionID string) []string
	HandleUtterance(ctx context.Context, sessionID, transcript string) (*entities.InsightBundle, error)
}

type handlers struct {
	service CallService
	logger  *zap.Logger
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, service CallService, m *metrics.Metrics, logger *zap.Logger) {
	h := &handlers{service: service, logger: logger}

	e.Use(MetricsMiddleware(m))

	e.GET("/", h.root)
	e.GET("/health", h.health)
	if m != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{})))
	}

	// API v1 routes
	v1 := e.Group("/api/v1")
	v1.GET("/health", h.health)
	v1.GET("/stats", h.stats)

	// Session APIs
	v1.POST("/sessions", h.createSession)
	v1.GET("/sessions/:id", h.getSession)
	v1.DELETE("/sessions/:id", h.deleteSession)
	v1.GET("/sessions/:id/context", h.getSessionContext)

	// Insight APIs
	v1.POST("/insights", h.generateInsights)

	// Analytics APIs
	v1.GET("/analytics/sessions", h.sessionAnalytics)
	v1.GET("/analytics/performance", h.performanceAnalytics)
}

// MetricsMiddleware records request counts and latency per route
func MetricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			started := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					status = he.Code
				} else {
					status = http.StatusInternalServerError
				}
			}

			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			m.RecordHTTPRequest(c.Request().Method, path, strconv.Itoa(status), time.Since(started).Seconds())
			return err
		}
	}
}

func now() float64 {
	return entities.UnixSeconds(time.Now())
}

func (h *handlers) root(c echo.Context) error {
	status := "healthy"
	if !h.service.Healthy() {
		status = "unhealthy"
	}
	return c.JSON(http.StatusOK, map[string]string{
		"message": "EchoMind API is running",
		"status":  status,
	})
}

func (h *handlers) health(c echo.Context) error {
	healthy := h.service.Healthy()
	response := HealthResponse{
		Status:    "healthy",
		Services:  map[string]bool{"call_service": healthy},
		Timestamp: now(),
	}
	if !healthy {
		response.Status = "unhealthy"
		return c.JSON(http.StatusServiceUnavailable, response)
	}
	return c.JSON(http.StatusOK, response)
}

func (h *handlers) stats(c echo.Context) error {
	kinds := h.service.Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}

	return c.JSON(http.StatusOK, StatsResponse{
		Stats:     h.service.Stats(),
		Kinds:     names,
		Timestamp: now(),
	})
}

func (h *handlers) createSession(c echo.Context) error {
	var req SessionCreateRequest
	if err := c.Bind(&req); err != nil {
		h.logger.Warn("Failed to bind session request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Session ID is required",
		})
	}

	if h.service.SessionInfo(req.SessionID).Exists() {
		return c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "session_exists",
			Message: "Session already exists",
		})
	}

	if req.CallType == "" {
		req.CallType = "support"
	}

	h.logger.Info("Session announced",
		zap.String("sessionID", req.SessionID),
		zap.String("callType", req.CallType))

	return c.JSON(http.StatusCreated, SessionResponse{
		SessionID:  req.SessionID,
		Status:     "created",
		CreatedAt:  now(),
		AgentID:    req.AgentID,
		CustomerID: req.CustomerID,
		CallType:   req.CallType,
	})
}

func (h *handlers) getSession(c echo.Context) error {
	sessionID := c.Param("id")
	return c.JSON(http.StatusOK, SessionInfoResponse{
		SessionID: sessionID,
		Info:      h.service.SessionInfo(sessionID),
		Timestamp: now(),
	})
}

func (h *handlers) deleteSession(c echo.Context) error {
	sessionID := c.Param("id")
	clients := h.service.ClearSession(sessionID)

	h.logger.Info("Session deleted",
		zap.String("sessionID", sessionID),
		zap.Int("disconnectedClients", len(clients)))

	return c.JSON(http.StatusOK, SessionDeleteResponse{
		Message:             "Session deleted successfully",
		SessionID:           sessionID,
		DisconnectedClients: clients,
	})
}

func (h *handlers) getSessionContext(c echo.Context) error {
	sessionID := c.Param("id")
	return c.JSON(http.StatusOK, SessionContextResponse{
		SessionID: sessionID,
		Context:   h.service.SessionContext(sessionID),
		Timestamp: now(),
	})
}

func (h *handlers) generateInsights(c echo.Context) error {
	var req InsightRequest
	if err := c.Bind(&req); err != nil {
		h.logger.Warn("Failed to bind insight request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	bundle, err := h.service.HandleUtterance(c.Request().Context(), req.SessionID, req.Transcript)
	if err != nil {
		return h.serviceError(c, err)
	}

	return c.JSON(http.StatusOK, InsightResponse{
		BundleID:   bundle.ID,
		SessionID:  bundle.SessionID,
		Transcript: bundle.Transcript,
		Timestamp:  entities.UnixSeconds(bundle.Timestamp),
		Insights:   bundle.Insights,
	})
}

func (h *handlers) sessionAnalytics(c echo.Context) error {
	stats := h.service.Stats()
	return c.JSON(http.StatusOK, SessionAnalyticsResponse{
		ActiveSessions:   stats.ActiveSessions,
		TotalConnections: stats.ActiveConnections,
		Uptime:           stats.UptimeSeconds,
		Timestamp:        now(),
	})
}

func (h *handlers) performanceAnalytics(c echo.Context) error {
	stats := h.service.Stats()

	utterances := 0
	for _, n := range stats.ContextSizes {
		utterances += n
	}

	return c.JSON(http.StatusOK, PerformanceAnalyticsResponse{
		AudioProcessing: ProcessingStats{
			ActiveSessions: stats.BufferedSessions,
			TotalContexts:  utterances,
			Healthy:        stats.Healthy,
		},
		InsightProcessing: ProcessingStats{
			ActiveSessions: stats.TotalContexts,
			TotalContexts:  utterances,
			InFlight:       stats.InFlightInsights,
			Healthy:        stats.Healthy,
		},
		Timestamp: now(),
	})
}

// serviceError maps service errors onto HTTP responses
func (h *handlers) serviceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
	case errors.Is(err, domain.ErrUnknownSession):
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "session_not_found", Message: err.Error()})
	case errors.Is(err, domain.ErrNotRunning):
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "service_unavailable", Message: err.Error()})
	default:
		h.logger.Error("Failed to generate insights", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to generate insights",
		})
	}
}
