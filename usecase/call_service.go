package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/satriahrh/echomind/domain"
	"github.com/satriahrh/echomind/domain/entities"
	"github.com/satriahrh/echomind/internal/audio"
	"github.com/satriahrh/echomind/internal/contextstore"
	"github.com/satriahrh/echomind/internal/insight"
	"github.com/satriahrh/echomind/internal/metrics"
	"github.com/satriahrh/echomind/internal/registry"
)

// CallService orchestrates the call flow: audio windows become transcripts,
// transcripts become insight bundles, and both are pushed to every member of
// the session.
type CallService struct {
	registry *registry.Registry
	contexts *contextstore.Store
	buffer   *audio.Buffer
	engine   *insight.Engine
	metrics  *metrics.Metrics
	logger   *zap.Logger

	running   atomic.Bool
	startedAt atomic.Int64
	inFlight  atomic.Int64

	// base is cancelled when shutdown gives up waiting for background work
	base   context.Context
	cancel context.CancelFunc

	taskMu  sync.Mutex
	closing bool
	tasks   sync.WaitGroup
}

// NewCallService wires the pipeline together. The buffer's output and the
// registry's session-closed hook are bound to the service.
func NewCallService(
	reg *registry.Registry,
	contexts *contextstore.Store,
	buffer *audio.Buffer,
	engine *insight.Engine,
	m *metrics.Metrics,
	logger *zap.Logger,
) *CallService {
	base, cancel := context.WithCancel(context.Background())
	s := &CallService{
		registry: reg,
		contexts: contexts,
		buffer:   buffer,
		engine:   engine,
		metrics:  m,
		logger:   logger,
		base:     base,
		cancel:   cancel,
	}

	buffer.SetOutput(s.onTranscript)
	reg.OnSessionClosed(s.teardown)
	return s
}

// Start marks the service ready to accept connections and work
func (s *CallService) Start() {
	if s.running.CompareAndSwap(false, true) {
		s.startedAt.Store(time.Now().UnixNano())
		s.logger.Info("Call service started", zap.Strings("insightKinds", kindNames(s.engine.Kinds())))
	}
}

// Healthy reports whether the service has started and not shut down
func (s *CallService) Healthy() bool {
	return s.running.Load()
}

// Shutdown stops accepting work, waits for in-flight transcriptions and
// enrichments until ctx ends, then closes every connection and clears all
// session state.
func (s *CallService) Shutdown(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	s.logger.Info("Shutting down call service")

	var errs []error

	s.buffer.Close()
	if err := s.buffer.Drain(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to drain audio flushes: %w", err))
	}

	s.taskMu.Lock()
	s.closing = true
	s.taskMu.Unlock()

	if err := s.waitTasks(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to drain insight tasks: %w", err))
	}
	if len(errs) > 0 {
		s.cancel()
	}

	s.registry.CloseAll()
	s.buffer.Reset()
	s.contexts.Reset()
	s.refreshGauges()

	s.logger.Info("Call service stopped", zap.Int("drainErrors", len(errs)))
	return errors.Join(errs...)
}

// RegisterConnection adds a client connection
func (s *CallService) RegisterConnection(clientID string, transport registry.Transport) error {
	if !s.running.Load() {
		return domain.ErrNotRunning
	}
	if err := s.registry.Connect(clientID, transport); err != nil {
		return fmt.Errorf("failed to register connection: %w", err)
	}
	s.refreshGauges()
	s.logger.Info("Client registered", zap.String("clientID", clientID))
	return nil
}

// UnregisterConnection removes a client and its session membership while the
// id is still bound to transport. A newer connection that reused the id is
// left alone.
func (s *CallService) UnregisterConnection(clientID string, transport registry.Transport) {
	if !s.registry.DisconnectIf(clientID, transport) {
		return
	}
	s.refreshGauges()
	s.logger.Info("Client unregistered", zap.String("clientID", clientID))
}

// JoinSession moves the client into sessionID and returns the new membership
func (s *CallService) JoinSession(clientID, sessionID string) (entities.SessionInfo, error) {
	if !s.running.Load() {
		return entities.SessionInfo{}, domain.ErrNotRunning
	}
	if err := s.registry.JoinSession(clientID, sessionID); err != nil {
		return entities.SessionInfo{}, fmt.Errorf("failed to join session: %w", err)
	}
	s.refreshGauges()

	info := s.registry.SessionInfo(sessionID)
	s.logger.Info("Client joined session",
		zap.String("clientID", clientID),
		zap.String("sessionID", sessionID),
		zap.Int("members", info.ClientCount))
	return info, nil
}

// LeaveSession removes the client from sessionID. Leaving the last member
// closes the session.
func (s *CallService) LeaveSession(clientID, sessionID string) (entities.SessionInfo, error) {
	if err := s.registry.LeaveSession(clientID, sessionID); err != nil {
		return entities.SessionInfo{}, fmt.Errorf("failed to leave session: %w", err)
	}
	s.refreshGauges()

	info := s.registry.SessionInfo(sessionID)
	s.logger.Info("Client left session",
		zap.String("clientID", clientID),
		zap.String("sessionID", sessionID),
		zap.Int("members", info.ClientCount))
	return info, nil
}

// ClearSession disconnects every member of the session and discards its
// audio and context. It returns the disconnected client ids.
func (s *CallService) ClearSession(sessionID string) []string {
	clients := s.registry.DisconnectSession(sessionID)
	// sessions without members never fire the close hook
	s.teardown(sessionID)
	s.refreshGauges()
	return clients
}

// IngestAudio feeds one audio fragment into the session's window. A client
// sending audio for a session it has not joined is joined first.
func (s *CallService) IngestAudio(sessionID, clientID string, fragment []byte) error {
	if !s.running.Load() {
		return domain.ErrNotRunning
	}
	if len(fragment) == 0 {
		return fmt.Errorf("%w: audio fragment is empty", domain.ErrInvalidArgument)
	}

	current, _ := s.registry.SessionOf(clientID)
	if sessionID == "" {
		sessionID = current
	}
	if sessionID == "" {
		return fmt.Errorf("%w: session id is required", domain.ErrInvalidArgument)
	}

	if current != sessionID {
		if _, err := s.JoinSession(clientID, sessionID); err != nil {
			return err
		}
	}

	s.buffer.Ingest(sessionID, fragment)
	return nil
}

// HandleUtterance records a text utterance in the session's context, enriches
// it and pushes the bundle to the session's members. Failed enrichers show up
// as failed entries in the bundle, not as an error.
func (s *CallService) HandleUtterance(ctx context.Context, sessionID, transcript string) (*entities.InsightBundle, error) {
	if !s.running.Load() {
		return nil, domain.ErrNotRunning
	}
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: session id is required", domain.ErrInvalidArgument)
	}

	u := entities.NewUtterance(transcript, entities.OriginManual)
	if err := u.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}

	if !s.registry.SessionInfo(sessionID).Exists() && s.contexts.Len(sessionID) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownSession, sessionID)
	}

	done, ok := s.track()
	if !ok {
		return nil, domain.ErrNotRunning
	}
	defer done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.base, cancel)
	defer stop()

	s.contexts.Append(sessionID, u)

	bundle, err := s.enrich(ctx, sessionID, u.Text)
	if err != nil {
		return nil, err
	}
	s.broadcast(sessionID, domain.MessageTypeInsights, domain.NewInsightsMessage(bundle))
	return bundle, nil
}

// Stats returns a point-in-time view of the service
func (s *CallService) Stats() entities.Stats {
	var uptime float64
	if started := s.startedAt.Load(); started > 0 {
		uptime = time.Since(time.Unix(0, started)).Seconds()
	}

	return entities.Stats{
		ActiveSessions:    s.registry.SessionCount(),
		ActiveConnections: s.registry.ConnectionCount(),
		ContextSizes:      s.contexts.Sizes(),
		TotalContexts:     s.contexts.SessionCount(),
		BufferedSessions:  s.buffer.ActiveSessions(),
		InFlightInsights:  s.inFlight.Load(),
		UptimeSeconds:     uptime,
		Healthy:           s.Healthy(),
	}
}

// SessionInfo returns the session's membership
func (s *CallService) SessionInfo(sessionID string) entities.SessionInfo {
	return s.registry.SessionInfo(sessionID)
}

// SessionContext returns a snapshot of the session's conversation context
func (s *CallService) SessionContext(sessionID string) []entities.Utterance {
	return s.contexts.Read(sessionID)
}

// Kinds lists the configured insight kinds
func (s *CallService) Kinds() []entities.InsightKind {
	return s.engine.Kinds()
}

// onTranscript runs on the flush goroutine, after the utterance was stored
func (s *CallService) onTranscript(sessionID string, u entities.Utterance) {
	done, ok := s.track()
	if !ok {
		s.logger.Debug("Service closing, dropping transcript", zap.String("sessionID", sessionID))
		return
	}

	go func() {
		defer done()
		s.broadcast(sessionID, domain.MessageTypeTranscript, domain.NewTranscriptMessage(sessionID, u))

		bundle, err := s.enrich(s.base, sessionID, u.Text)
		if err != nil {
			s.logger.Warn("Failed to generate insights", zap.String("sessionID", sessionID), zap.Error(err))
			return
		}
		s.broadcast(sessionID, domain.MessageTypeInsights, domain.NewInsightsMessage(bundle))
	}()
}

func (s *CallService) enrich(ctx context.Context, sessionID, transcript string) (*entities.InsightBundle, error) {
	s.inFlight.Add(1)
	s.metrics.AddInFlightInsights(1)
	defer func() {
		s.inFlight.Add(-1)
		s.metrics.AddInFlightInsights(-1)
	}()

	bundle, err := s.engine.Enrich(ctx, sessionID, transcript)
	if err != nil {
		return nil, fmt.Errorf("failed to enrich utterance: %w", err)
	}
	return bundle, nil
}

func (s *CallService) broadcast(sessionID, messageType string, message any) registry.BroadcastReport {
	payload, err := sonic.Marshal(message)
	if err != nil {
		s.logger.Error("Failed to marshal message",
			zap.String("sessionID", sessionID),
			zap.String("messageType", messageType),
			zap.Error(err))
		return registry.BroadcastReport{}
	}

	report := s.registry.BroadcastToSession(sessionID, payload)
	s.metrics.RecordBroadcast(messageType)
	if len(report.Failed) > 0 {
		s.metrics.RecordDeliveryFailures(len(report.Failed))
		s.logger.Warn("Message not delivered to every member",
			zap.String("sessionID", sessionID),
			zap.String("messageType", messageType),
			zap.Strings("failed", report.Failed))
		s.refreshGauges()
	}
	return report
}

// teardown discards the per-session state once a session has no members
func (s *CallService) teardown(sessionID string) {
	snapshot := s.buffer.SessionSnapshotAndClear(sessionID)
	s.contexts.Clear(sessionID)

	s.logger.Info("Session state cleared",
		zap.String("sessionID", sessionID),
		zap.Int("pendingFragments", snapshot.PendingFragments),
		zap.Int("queuedWindows", snapshot.QueuedWindows),
		zap.Bool("flushing", snapshot.Flushing))
}

// orphanedSessions lists sessions holding context or audio but no members
func (s *CallService) orphanedSessions() []string {
	seen := make(map[string]struct{})
	var ids []string
	add := func(id string) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		if !s.registry.SessionInfo(id).Exists() {
			ids = append(ids, id)
		}
	}

	for id := range s.contexts.Sizes() {
		add(id)
	}
	for _, id := range s.buffer.IdleSessions(0) {
		add(id)
	}
	return ids
}

// track registers a background task, unless the service is closing
func (s *CallService) track() (func(), bool) {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()
	if s.closing {
		return nil, false
	}
	s.tasks.Add(1)
	return s.tasks.Done, true
}

func (s *CallService) waitTasks(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.tasks.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *CallService) refreshGauges() {
	s.metrics.SetActiveConnections(s.registry.ConnectionCount())
	s.metrics.SetActiveSessions(s.registry.SessionCount())
}

func kindNames(kinds []entities.InsightKind) []string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return names
}
