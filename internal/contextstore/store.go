// Package contextstore keeps a bounded rolling history of utterances for each
// call session.
package contextstore

import (
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/echomind/domain/entities"
	"github.com/satriahrh/echomind/internal/shard"
)

// DefaultCapacity is the per-session history length used when none is configured
const DefaultCapacity = 20

type entry struct {
	mu         sync.Mutex
	utterances []entities.Utterance
	deleted    bool
}

// Store is a per-session FIFO of utterances. Operations on one session are
// serialized; different sessions never share a lock.
type Store struct {
	entries  *shard.Map[*entry]
	capacity int
	logger   *zap.Logger
}

// New creates a store holding at most capacity utterances per session
func New(capacity int, logger *zap.Logger) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		entries:  shard.New[*entry](shard.DefaultCount),
		capacity: capacity,
		logger:   logger,
	}
}

// Capacity returns the per-session cap
func (s *Store) Capacity() int {
	return s.capacity
}

// Append adds an utterance, evicting the oldest once the cap is reached
func (s *Store) Append(sessionID string, u entities.Utterance) {
	for {
		e, _ := s.entries.GetOrCreate(sessionID, func() *entry {
			return &entry{utterances: make([]entities.Utterance, 0, s.capacity)}
		})

		e.mu.Lock()
		if e.deleted {
			e.mu.Unlock()
			continue
		}
		if len(e.utterances) >= s.capacity {
			evicted := len(e.utterances) - s.capacity + 1
			copy(e.utterances, e.utterances[evicted:])
			e.utterances = e.utterances[:len(e.utterances)-evicted]
		}
		e.utterances = append(e.utterances, u)
		size := len(e.utterances)
		e.mu.Unlock()

		s.logger.Debug("Context updated",
			zap.String("sessionID", sessionID),
			zap.Int("contextSize", size))
		return
	}
}

// Read returns a copy of the session's history, oldest first
func (s *Store) Read(sessionID string) []entities.Utterance {
	return s.Recent(sessionID, 0)
}

// Recent returns a copy of the last n utterances, oldest first. n <= 0 returns all.
func (s *Store) Recent(sessionID string, n int) []entities.Utterance {
	e, ok := s.entries.Get(sessionID)
	if !ok {
		return []entities.Utterance{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	start := 0
	if n > 0 && len(e.utterances) > n {
		start = len(e.utterances) - n
	}
	out := make([]entities.Utterance, len(e.utterances)-start)
	copy(out, e.utterances[start:])
	return out
}

// Len returns the number of stored utterances for a session
func (s *Store) Len(sessionID string) int {
	e, ok := s.entries.Get(sessionID)
	if !ok {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.utterances)
}

// Clear drops a session's history
func (s *Store) Clear(sessionID string) {
	e, ok := s.entries.Get(sessionID)
	if !ok {
		return
	}

	e.mu.Lock()
	e.deleted = true
	e.utterances = nil
	s.entries.DeleteIf(sessionID, func(v *entry) bool { return v == e })
	e.mu.Unlock()

	s.logger.Debug("Context cleared", zap.String("sessionID", sessionID))
}

// Sizes reports the history length of every session that has one
func (s *Store) Sizes() map[string]int {
	sizes := make(map[string]int)
	s.entries.Range(func(id string, e *entry) bool {
		e.mu.Lock()
		if !e.deleted {
			sizes[id] = len(e.utterances)
		}
		e.mu.Unlock()
		return true
	})
	return sizes
}

// SessionCount returns the number of sessions with history
func (s *Store) SessionCount() int {
	return s.entries.Len()
}

// Reset drops every session's history
func (s *Store) Reset() {
	var ids []string
	s.entries.Range(func(id string, _ *entry) bool {
		ids = append(ids, id)
		return true
	})
	for _, id := range ids {
		s.Clear(id)
	}
}
