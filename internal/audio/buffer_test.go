package audio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/satriahrh/echomind/domain/entities"
	"github.com/satriahrh/echomind/domain/repositories"
	"github.com/satriahrh/echomind/internal/contextstore"
)

// recordingTranscriber echoes the audio it receives as the transcript
type recordingTranscriber struct {
	mu        sync.Mutex
	calls     []string
	delay     time.Duration
	err       error
	reply     *string
	inFlight  int32
	maxFlight int32
	block     chan struct{}
}

func (r *recordingTranscriber) Transcribe(ctx context.Context, audioData []byte, config repositories.AudioConfig) (string, error) {
	n := atomic.AddInt32(&r.inFlight, 1)
	defer atomic.AddInt32(&r.inFlight, -1)
	for {
		peak := atomic.LoadInt32(&r.maxFlight)
		if n <= peak || atomic.CompareAndSwapInt32(&r.maxFlight, peak, n) {
			break
		}
	}

	r.mu.Lock()
	r.calls = append(r.calls, string(audioData))
	r.mu.Unlock()

	if r.block != nil {
		<-r.block
	}
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.err != nil {
		return "", r.err
	}
	if r.reply != nil {
		return *r.reply, nil
	}
	return string(audioData), nil
}

func (r *recordingTranscriber) callLog() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.calls...)
}

type emitted struct {
	mu    sync.Mutex
	items []string
}

func (e *emitted) add(sessionID string, u entities.Utterance) {
	e.mu.Lock()
	e.items = append(e.items, sessionID+":"+u.Text)
	e.mu.Unlock()
}

func (e *emitted) list() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string{}, e.items...)
}

func newTestBuffer(t *testing.T, transcriber repositories.Transcriber, logger *zap.Logger) (*Buffer, *contextstore.Store, *emitted) {
	t.Helper()
	store := contextstore.New(20, zap.NewNop())
	buffer := NewBuffer(Config{Threshold: 3, Format: FormatWebM, TranscribeTimeout: time.Second}, transcriber, store, nil, logger)
	out := &emitted{}
	buffer.SetOutput(out.add)
	return buffer, store, out
}

func drain(t *testing.T, b *Buffer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.Drain(ctx); err != nil {
		t.Fatalf("Failed to drain flushes: %v", err)
	}
}

func TestBelowThresholdDoesNotFlush(t *testing.T) {
	transcriber := &recordingTranscriber{}
	buffer, _, _ := newTestBuffer(t, transcriber, zap.NewNop())

	buffer.Ingest("s1", []byte("a"))
	buffer.Ingest("s1", []byte("b"))
	drain(t, buffer)

	if calls := transcriber.callLog(); len(calls) != 0 {
		t.Errorf("Expected no flush, got %d", len(calls))
	}
	if buffer.Pending("s1") != 2 {
		t.Errorf("Expected 2 pending fragments, got %d", buffer.Pending("s1"))
	}
}

func TestThresholdTriggersOneFlush(t *testing.T) {
	transcriber := &recordingTranscriber{}
	buffer, store, out := newTestBuffer(t, transcriber, zap.NewNop())

	buffer.Ingest("s1", []byte("he"))
	buffer.Ingest("s1", []byte("l"))
	buffer.Ingest("s1", []byte("lo"))
	drain(t, buffer)

	calls := transcriber.callLog()
	if len(calls) != 1 {
		t.Fatalf("Expected exactly one flush, got %d", len(calls))
	}
	if calls[0] != "hello" {
		t.Errorf("Expected fragments concatenated in order, got %q", calls[0])
	}

	history := store.Read("s1")
	if len(history) != 1 || history[0].Text != "hello" || history[0].Origin != entities.OriginCustomer {
		t.Errorf("Expected context [hello], got %+v", history)
	}
	if got := out.list(); len(got) != 1 || got[0] != "s1:hello" {
		t.Errorf("Expected one emitted utterance, got %v", got)
	}
	if buffer.Pending("s1") != 0 {
		t.Errorf("Expected empty window after flush, got %d", buffer.Pending("s1"))
	}
}

func TestTwoWindowsFlushSequentiallyInOrder(t *testing.T) {
	transcriber := &recordingTranscriber{delay: 30 * time.Millisecond}
	buffer, store, out := newTestBuffer(t, transcriber, zap.NewNop())

	for _, f := range []string{"a", "b", "c", "d", "e", "f"} {
		buffer.Ingest("s1", []byte(f))
	}
	drain(t, buffer)

	calls := transcriber.callLog()
	if len(calls) != 2 {
		t.Fatalf("Expected exactly two flushes, got %d", len(calls))
	}
	if calls[0] != "abc" || calls[1] != "def" {
		t.Errorf("Expected flushes [abc def], got %v", calls)
	}
	if peak := atomic.LoadInt32(&transcriber.maxFlight); peak != 1 {
		t.Errorf("Expected flushes not to overlap, saw %d concurrent", peak)
	}

	history := store.Read("s1")
	if len(history) != 2 || history[0].Text != "abc" || history[1].Text != "def" {
		t.Errorf("Expected context [abc def], got %+v", history)
	}
	if got := out.list(); len(got) != 2 || got[0] != "s1:abc" || got[1] != "s1:def" {
		t.Errorf("Expected outputs in order, got %v", got)
	}
}

func TestSessionsFlushIndependently(t *testing.T) {
	transcriber := &recordingTranscriber{delay: 20 * time.Millisecond}
	buffer, store, _ := newTestBuffer(t, transcriber, zap.NewNop())

	for i := 0; i < 3; i++ {
		buffer.Ingest("s1", []byte("x"))
		buffer.Ingest("s2", []byte("y"))
	}
	drain(t, buffer)

	if store.Len("s1") != 1 || store.Len("s2") != 1 {
		t.Errorf("Expected one utterance per session, got s1=%d s2=%d", store.Len("s1"), store.Len("s2"))
	}
}

func TestTranscriptionFailureDiscardsWindow(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	transcriber := &recordingTranscriber{err: errors.New("upstream unavailable")}
	buffer, store, out := newTestBuffer(t, transcriber, zap.New(core))

	for i := 0; i < 3; i++ {
		buffer.Ingest("s1", []byte("x"))
	}
	drain(t, buffer)

	if store.Len("s1") != 0 {
		t.Error("Failed window must not reach context")
	}
	if len(out.list()) != 0 {
		t.Error("Failed window must not be emitted")
	}
	if logs.FilterMessage("Failed to transcribe audio window, discarding").Len() != 1 {
		t.Errorf("Expected one failure log, got %d", logs.Len())
	}

	// next window is processed normally, no retry of the failed one
	transcriber.err = nil
	for i := 0; i < 3; i++ {
		buffer.Ingest("s1", []byte("y"))
	}
	drain(t, buffer)
	if calls := transcriber.callLog(); len(calls) != 2 || calls[1] != "yyy" {
		t.Errorf("Expected second flush of the new window only, got %v", calls)
	}
}

func TestEmptyTranscriptProducesNoOutput(t *testing.T) {
	blank := "   "
	transcriber := &recordingTranscriber{reply: &blank}
	buffer, store, out := newTestBuffer(t, transcriber, zap.NewNop())

	for i := 0; i < 3; i++ {
		buffer.Ingest("s1", []byte("x"))
	}
	drain(t, buffer)

	if store.Len("s1") != 0 || len(out.list()) != 0 {
		t.Error("Empty transcript must not be stored or emitted")
	}
}

func TestClearDuringFlushSuppressesResult(t *testing.T) {
	transcriber := &recordingTranscriber{block: make(chan struct{})}
	buffer, store, out := newTestBuffer(t, transcriber, zap.NewNop())

	for i := 0; i < 5; i++ {
		buffer.Ingest("s1", []byte("x"))
	}

	// wait for the flush to reach the transcriber
	deadline := time.Now().Add(time.Second)
	for len(transcriber.callLog()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	snapshot := buffer.SessionSnapshotAndClear("s1")
	if !snapshot.Flushing || snapshot.PendingFragments != 2 {
		t.Errorf("Unexpected snapshot %+v", snapshot)
	}
	close(transcriber.block)
	drain(t, buffer)

	if store.Len("s1") != 0 || len(out.list()) != 0 {
		t.Error("Result of a flush for a cleared session must be dropped")
	}
	if buffer.ActiveSessions() != 0 {
		t.Errorf("Expected no buffer state, got %d sessions", buffer.ActiveSessions())
	}
}

func TestClearedSessionWaitsForDiscardedFlush(t *testing.T) {
	transcriber := &recordingTranscriber{block: make(chan struct{})}
	buffer, store, out := newTestBuffer(t, transcriber, zap.NewNop())

	for _, f := range []string{"a", "b", "c"} {
		buffer.Ingest("s1", []byte(f))
	}
	deadline := time.Now().Add(time.Second)
	for len(transcriber.callLog()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	buffer.SessionSnapshotAndClear("s1")
	for _, f := range []string{"d", "e", "f"} {
		buffer.Ingest("s1", []byte(f))
	}

	time.Sleep(20 * time.Millisecond)
	if calls := transcriber.callLog(); len(calls) != 1 {
		t.Errorf("Expected new window to wait for the cleared flush, got calls %v", calls)
	}

	close(transcriber.block)
	drain(t, buffer)

	calls := transcriber.callLog()
	if len(calls) != 2 || calls[0] != "abc" || calls[1] != "def" {
		t.Errorf("Expected flushes [abc def], got %v", calls)
	}
	if peak := atomic.LoadInt32(&transcriber.maxFlight); peak != 1 {
		t.Errorf("Expected one transcription in flight, got %d", peak)
	}
	history := store.Read("s1")
	if len(history) != 1 || history[0].Text != "def" {
		t.Errorf("Expected context [def], got %+v", history)
	}
	if got := out.list(); len(got) != 1 || got[0] != "s1:def" {
		t.Errorf("Expected only the new window emitted, got %v", got)
	}
}

func TestIdleSessions(t *testing.T) {
	buffer, _, _ := newTestBuffer(t, &recordingTranscriber{}, zap.NewNop())
	buffer.Ingest("s1", []byte("x"))

	if ids := buffer.IdleSessions(time.Hour); len(ids) != 0 {
		t.Errorf("Expected no idle sessions, got %v", ids)
	}
	time.Sleep(5 * time.Millisecond)
	if ids := buffer.IdleSessions(time.Millisecond); len(ids) != 1 || ids[0] != "s1" {
		t.Errorf("Expected s1 idle, got %v", ids)
	}

	buffer.Reset()
	if buffer.ActiveSessions() != 0 {
		t.Error("Expected reset to clear all sessions")
	}
}

func TestCloseStopsIngest(t *testing.T) {
	transcriber := &recordingTranscriber{}
	buffer, _, _ := newTestBuffer(t, transcriber, zap.NewNop())

	buffer.Ingest("s1", []byte("a"))
	buffer.Close()
	buffer.Ingest("s1", []byte("b"))
	buffer.Ingest("s1", []byte("c"))
	drain(t, buffer)

	if buffer.Pending("s1") != 1 {
		t.Errorf("Expected fragments after close to be ignored, got %d pending", buffer.Pending("s1"))
	}
	if len(transcriber.callLog()) != 0 {
		t.Error("Expected no flush after close")
	}
}
