// Package audio accumulates call audio per session into fixed-size windows and
// turns each ready window into an utterance via a transcriber.
package audio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/echomind/domain"
	"github.com/satriahrh/echomind/domain/entities"
	"github.com/satriahrh/echomind/domain/repositories"
	"github.com/satriahrh/echomind/internal/metrics"
	"github.com/satriahrh/echomind/internal/shard"
)

// Flush results reported to metrics
const (
	flushOK        = "ok"
	flushEmpty     = "empty"
	flushFailed    = "failed"
	flushDiscarded = "discarded"
)

// Config controls windowing and transcription
type Config struct {
	// Threshold is the fragment count that makes a window ready
	Threshold         int
	Format            Format
	SampleRate        int
	Language          string
	TranscribeTimeout time.Duration
}

// OutputFunc receives every non-empty utterance after it was stored in context
type OutputFunc func(sessionID string, u entities.Utterance)

// Snapshot describes what SessionSnapshotAndClear discarded
type Snapshot struct {
	PendingFragments int  `json:"pending_fragments"`
	QueuedWindows    int  `json:"queued_windows"`
	Flushing         bool `json:"flushing"`
}

type window struct {
	mu           sync.Mutex
	pending      [][]byte
	queued       [][][]byte
	flushing     bool
	discarded    bool
	lastActivity time.Time

	// done is closed when the running flush sequence ends
	done  chan struct{}
	// after is the flush sequence of a cleared window this one must wait for
	after <-chan struct{}
}

// Buffer holds one window per session. At most one flush runs per session;
// windows that become ready meanwhile are queued and flushed in order. A window
// created after its session was cleared does not transcribe until the cleared
// window's last flush has finished.
type Buffer struct {
	cfg         Config
	transcriber repositories.Transcriber
	store       repositories.ConversationContext
	output      OutputFunc
	metrics     *metrics.Metrics
	logger      *zap.Logger

	windows  *shard.Map[*window]
	retiring *shard.Map[chan struct{}]
	flushes  sync.WaitGroup

	// gate orders Ingest against Close so no flush starts after Close returns
	gate   sync.RWMutex
	closed bool
}

// NewBuffer creates a window buffer. Utterances are written to store before
// output is called.
func NewBuffer(cfg Config, transcriber repositories.Transcriber, store repositories.ConversationContext, m *metrics.Metrics, logger *zap.Logger) *Buffer {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 3
	}
	if cfg.Format == "" {
		cfg.Format = FormatWebM
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.TranscribeTimeout <= 0 {
		cfg.TranscribeTimeout = 30 * time.Second
	}

	return &Buffer{
		cfg:         cfg,
		transcriber: transcriber,
		store:       store,
		metrics:     m,
		logger:      logger,
		windows:     shard.New[*window](shard.DefaultCount),
		retiring:    shard.New[chan struct{}](shard.DefaultCount),
	}
}

// SetOutput installs the utterance callback. It must be called before the first Ingest.
func (b *Buffer) SetOutput(fn OutputFunc) {
	b.output = fn
}

// Ingest appends a fragment to the session's window. When the window reaches
// the threshold it is cut and flushed in the background.
func (b *Buffer) Ingest(sessionID string, fragment []byte) {
	if len(fragment) == 0 {
		return
	}

	b.gate.RLock()
	defer b.gate.RUnlock()
	if b.closed {
		return
	}
	b.metrics.RecordFragment()

	for {
		w, _ := b.windows.GetOrCreate(sessionID, func() *window {
			after, _ := b.retiring.Get(sessionID)
			return &window{after: after}
		})

		w.mu.Lock()
		if w.discarded {
			w.mu.Unlock()
			continue
		}

		w.pending = append(w.pending, fragment)
		w.lastActivity = time.Now()
		if len(w.pending) < b.cfg.Threshold {
			w.mu.Unlock()
			return
		}

		ready := w.pending
		w.pending = nil
		if w.flushing {
			w.queued = append(w.queued, ready)
			w.mu.Unlock()
			b.logger.Debug("Audio window queued behind running flush",
				zap.String("sessionID", sessionID),
				zap.Int("fragments", len(ready)))
			return
		}

		w.flushing = true
		w.done = make(chan struct{})
		done := w.done
		b.flushes.Add(1)
		w.mu.Unlock()

		go b.runFlushes(sessionID, w, ready, done)
		return
	}
}

// runFlushes drains ready windows for one session sequentially
func (b *Buffer) runFlushes(sessionID string, w *window, ready [][]byte, done chan struct{}) {
	defer b.flushes.Done()

	if w.after != nil {
		<-w.after
	}

	for {
		w.mu.Lock()
		discarded := w.discarded
		w.mu.Unlock()
		if !discarded {
			b.flush(sessionID, w, ready)
		}

		w.mu.Lock()
		if w.discarded || len(w.queued) == 0 {
			w.flushing = false
			w.done = nil
			close(done)
			w.mu.Unlock()
			b.retiring.DeleteIf(sessionID, func(c chan struct{}) bool { return c == done })
			return
		}
		ready = w.queued[0]
		w.queued = w.queued[1:]
		w.mu.Unlock()
	}
}

func (b *Buffer) flush(sessionID string, w *window, fragments [][]byte) {
	started := time.Now()
	logger := b.logger.With(zap.String("sessionID", sessionID), zap.Int("fragments", len(fragments)))

	text, err := b.transcribeWindow(fragments)
	if err != nil {
		logger.Warn("Failed to transcribe audio window, discarding", zap.Error(err))
		b.metrics.RecordFlush(flushFailed, time.Since(started).Seconds())
		return
	}

	b.commit(sessionID, w, text, started, logger)
}

func (b *Buffer) transcribeWindow(fragments [][]byte) (string, error) {
	data, err := Concat(fragments, b.cfg.Format, b.cfg.SampleRate)
	if err != nil {
		return "", fmt.Errorf("failed to concatenate audio: %w", err)
	}

	data, audioConfig, err := PrepareAudio(data, b.cfg.Format, b.cfg.SampleRate, b.cfg.Language)
	if err != nil {
		return "", fmt.Errorf("failed to prepare audio: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.TranscribeTimeout)
	defer cancel()

	text, err := b.transcriber.Transcribe(ctx, data, audioConfig)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrTranscriptionFailed, err)
	}
	return text, nil
}

func (b *Buffer) commit(sessionID string, w *window, text string, started time.Time, logger *zap.Logger) {
	elapsed := time.Since(started).Seconds()
	u := entities.NewUtterance(text, entities.OriginCustomer)
	if u.Text == "" {
		logger.Debug("Empty transcript, nothing to emit")
		b.metrics.RecordFlush(flushEmpty, elapsed)
		return
	}

	// the discard check and the context write happen under the window lock so
	// a concurrent teardown either sees the utterance or suppresses it
	w.mu.Lock()
	if w.discarded {
		w.mu.Unlock()
		logger.Debug("Session cleared during transcription, dropping result")
		b.metrics.RecordFlush(flushDiscarded, elapsed)
		return
	}
	b.store.Append(sessionID, u)
	w.mu.Unlock()

	b.metrics.RecordFlush(flushOK, elapsed)
	logger.Info("Audio window transcribed", zap.Int("transcriptLength", len(u.Text)))

	if b.output != nil {
		b.output(sessionID, u)
	}
}

// SessionSnapshotAndClear discards the session's pending and queued windows.
// A flush already running completes but its result is neither stored nor
// emitted, and audio ingested for the session afterwards is transcribed only
// once it has completed.
func (b *Buffer) SessionSnapshotAndClear(sessionID string) Snapshot {
	w, ok := b.windows.Get(sessionID)
	if !ok {
		return Snapshot{}
	}

	w.mu.Lock()
	snapshot := Snapshot{
		PendingFragments: len(w.pending),
		QueuedWindows:    len(w.queued),
		Flushing:         w.flushing,
	}
	w.discarded = true
	w.pending = nil
	w.queued = nil
	if w.flushing {
		b.retiring.Set(sessionID, w.done)
	}
	b.windows.DeleteIf(sessionID, func(v *window) bool { return v == w })
	w.mu.Unlock()

	if snapshot.PendingFragments > 0 || snapshot.QueuedWindows > 0 {
		b.logger.Debug("Discarded buffered audio",
			zap.String("sessionID", sessionID),
			zap.Int("pendingFragments", snapshot.PendingFragments),
			zap.Int("queuedWindows", snapshot.QueuedWindows))
	}
	return snapshot
}

// Pending returns the number of fragments waiting in the session's window,
// including fragments of queued windows
func (b *Buffer) Pending(sessionID string) int {
	w, ok := b.windows.Get(sessionID)
	if !ok {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	n := len(w.pending)
	for _, q := range w.queued {
		n += len(q)
	}
	return n
}

// ActiveSessions returns the number of sessions with buffer state
func (b *Buffer) ActiveSessions() int {
	return b.windows.Len()
}

// IdleSessions lists sessions whose window saw no audio for at least idle
// and has no flush running
func (b *Buffer) IdleSessions(idle time.Duration) []string {
	cutoff := time.Now().Add(-idle)
	var ids []string
	b.windows.Range(func(id string, w *window) bool {
		w.mu.Lock()
		if !w.flushing && w.lastActivity.Before(cutoff) {
			ids = append(ids, id)
		}
		w.mu.Unlock()
		return true
	})
	return ids
}

// Close stops accepting fragments. Flushes already started keep running;
// use Drain to wait for them.
func (b *Buffer) Close() {
	b.gate.Lock()
	b.closed = true
	b.gate.Unlock()
}

// Drain waits for every running flush to finish or ctx to end
func (b *Buffer) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.flushes.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset discards the state of every session
func (b *Buffer) Reset() {
	var ids []string
	b.windows.Range(func(id string, _ *window) bool {
		ids = append(ids, id)
		return true
	})
	for _, id := range ids {
		b.SessionSnapshotAndClear(id)
	}
}
