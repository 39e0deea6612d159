package usecase

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// SessionSweeper periodically clears state left behind by sessions that no
// longer have members, e.g. a transcript that landed after the last client left.
type SessionSweeper struct {
	service  *CallService
	interval time.Duration
	idleTTL  time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	orphaned map[string]time.Time

	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewSessionSweeper creates a sweeper. State is cleared once a session has
// been without members for idleTTL.
func NewSessionSweeper(service *CallService, interval, idleTTL time.Duration, logger *zap.Logger) *SessionSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &SessionSweeper{
		service:  service,
		interval: interval,
		idleTTL:  idleTTL,
		logger:   logger,
		orphaned: make(map[string]time.Time),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the background sweep loop
func (s *SessionSweeper) Start() {
	go s.sweepLoop()
	s.logger.Info("Session sweeper started",
		zap.Duration("interval", s.interval),
		zap.Duration("idleTTL", s.idleTTL))
}

// Stop ends the sweep loop and waits for it to exit
func (s *SessionSweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		<-s.done
		s.logger.Info("Session sweeper stopped")
	})
}

func (s *SessionSweeper) sweepLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case now := <-ticker.C:
			s.Sweep(now)
		}
	}
}

// Sweep clears sessions that have been orphaned for at least the idle TTL as
// of now and returns how many were cleared
func (s *SessionSweeper) Sweep(now time.Time) int {
	current := s.service.orphanedSessions()

	s.mu.Lock()
	live := make(map[string]time.Time, len(current))
	var expired []string
	for _, id := range current {
		since, ok := s.orphaned[id]
		if !ok {
			since = now
		}
		if now.Sub(since) >= s.idleTTL {
			expired = append(expired, id)
			continue
		}
		live[id] = since
	}
	s.orphaned = live
	s.mu.Unlock()

	cleared := s.clear(expired)
	if cleared > 0 {
		s.logger.Info("Swept orphaned sessions", zap.Int("count", cleared))
	}
	return cleared
}

// clear tears down each session that still has no members. A client may have
// joined since the session was found orphaned.
func (s *SessionSweeper) clear(ids []string) int {
	cleared := 0
	for _, id := range ids {
		if s.service.SessionInfo(id).Exists() {
			s.logger.Debug("Session rejoined before sweep", zap.String("sessionID", id))
			continue
		}
		s.service.teardown(id)
		cleared++
	}
	return cleared
}
