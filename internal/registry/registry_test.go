package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/satriahrh/echomind/domain"
)

type fakeTransport struct {
	mu       sync.Mutex
	sent     [][]byte
	closed   int
	failSend bool
}

func (f *fakeTransport) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend {
		return errors.New("broken pipe")
	}
	f.sent = append(f.sent, payload)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeTransport) messages() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte{}, f.sent...)
}

func (f *fakeTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func newTestRegistry() *Registry {
	return New(0, zap.NewNop())
}

func TestConnectDuplicate(t *testing.T) {
	r := newTestRegistry()

	if err := r.Connect("c1", &fakeTransport{}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	err := r.Connect("c1", &fakeTransport{})
	if !errors.Is(err, domain.ErrDuplicateConnection) {
		t.Errorf("Expected ErrDuplicateConnection, got %v", err)
	}
	if r.ConnectionCount() != 1 {
		t.Errorf("Expected 1 connection, got %d", r.ConnectionCount())
	}
}

func TestJoinUnknownConnection(t *testing.T) {
	r := newTestRegistry()

	err := r.JoinSession("ghost", "s1")
	if !errors.Is(err, domain.ErrUnknownConnection) {
		t.Errorf("Expected ErrUnknownConnection, got %v", err)
	}
	if r.SessionInfo("s1").Exists() {
		t.Error("Session should not be created for unknown connection")
	}
}

func TestJoinMovesBetweenSessions(t *testing.T) {
	r := newTestRegistry()
	var closed []string
	r.OnSessionClosed(func(id string) { closed = append(closed, id) })

	r.Connect("c1", &fakeTransport{})
	r.Connect("c2", &fakeTransport{})
	r.JoinSession("c1", "s1")
	r.JoinSession("c2", "s1")

	info := r.SessionInfo("s1")
	if info.ClientCount != 2 || info.Clients[0] != "c1" || info.Clients[1] != "c2" {
		t.Fatalf("Expected sorted members [c1 c2], got %v", info.Clients)
	}

	if err := r.JoinSession("c1", "s2"); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if got := r.SessionInfo("s1").Clients; len(got) != 1 || got[0] != "c2" {
		t.Errorf("Expected s1 members [c2], got %v", got)
	}
	if got := r.SessionInfo("s2").Clients; len(got) != 1 || got[0] != "c1" {
		t.Errorf("Expected s2 members [c1], got %v", got)
	}
	if sessionID, _ := r.SessionOf("c1"); sessionID != "s2" {
		t.Errorf("Expected c1 in s2, got %s", sessionID)
	}

	// moving the last member out of s2 closes it
	r.JoinSession("c1", "s1")
	if r.SessionInfo("s2").Exists() {
		t.Error("Expected s2 to be deleted once empty")
	}
	if len(closed) != 1 || closed[0] != "s2" {
		t.Errorf("Expected close hook for s2, got %v", closed)
	}
}

func TestLeaveSessionNoop(t *testing.T) {
	r := newTestRegistry()
	r.Connect("c1", &fakeTransport{})
	r.JoinSession("c1", "s1")

	if err := r.LeaveSession("c1", "other"); err != nil {
		t.Errorf("Expected no-op, got %v", err)
	}
	if !r.SessionInfo("s1").Exists() {
		t.Error("Leaving a different session must not affect membership")
	}

	r.LeaveSession("c1", "s1")
	if r.SessionInfo("s1").Exists() {
		t.Error("Expected s1 to be deleted after its only member left")
	}
	if r.ConnectionCount() != 1 {
		t.Error("Leaving a session must not remove the connection")
	}
}

func TestSessionInfoUnknown(t *testing.T) {
	r := newTestRegistry()
	info := r.SessionInfo("nope")
	if info.Exists() || info.ClientCount != 0 || len(info.Clients) != 0 {
		t.Errorf("Expected zero info, got %+v", info)
	}
}

func TestDisconnectSoleMemberDeletesSession(t *testing.T) {
	r := newTestRegistry()
	var closed []string
	r.OnSessionClosed(func(id string) { closed = append(closed, id) })

	transport := &fakeTransport{}
	r.Connect("c1", transport)
	r.JoinSession("c1", "s2")

	r.Disconnect("c1")
	r.Disconnect("c1")

	if r.SessionInfo("s2").Exists() {
		t.Error("Expected s2 to disappear after sole member disconnected")
	}
	if r.SessionCount() != 0 {
		t.Errorf("Expected 0 sessions, got %d", r.SessionCount())
	}
	if transport.closeCount() != 1 {
		t.Errorf("Expected transport closed once, got %d", transport.closeCount())
	}
	if len(closed) != 1 || closed[0] != "s2" {
		t.Errorf("Expected close hook for s2, got %v", closed)
	}
}

func TestSendFailureDisconnects(t *testing.T) {
	r := newTestRegistry()
	r.Connect("c1", &fakeTransport{failSend: true})
	r.JoinSession("c1", "s1")

	err := r.Send("c1", []byte("hi"))
	if !errors.Is(err, domain.ErrDeliveryFailed) {
		t.Errorf("Expected ErrDeliveryFailed, got %v", err)
	}
	if r.ConnectionCount() != 0 {
		t.Error("Expected failing connection to be removed")
	}
	if r.SessionInfo("s1").Exists() {
		t.Error("Expected session to be deleted with its only member")
	}

	if err := r.Send("c1", []byte("hi")); !errors.Is(err, domain.ErrUnknownConnection) {
		t.Errorf("Expected ErrUnknownConnection, got %v", err)
	}
}

func TestBroadcastIsolatesFailingMember(t *testing.T) {
	r := newTestRegistry()

	healthy := make(map[string]*fakeTransport)
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("c%d", i)
		transport := &fakeTransport{}
		healthy[id] = transport
		r.Connect(id, transport)
		r.JoinSession(id, "s1")
	}
	r.Connect("bad", &fakeTransport{failSend: true})
	r.JoinSession("bad", "s1")

	report := r.BroadcastToSession("s1", []byte("bundle"))

	if len(report.Delivered) != 4 {
		t.Errorf("Expected 4 deliveries, got %v", report.Delivered)
	}
	if len(report.Failed) != 1 || report.Failed[0] != "bad" {
		t.Errorf("Expected only 'bad' to fail, got %v", report.Failed)
	}
	for id, transport := range healthy {
		msgs := transport.messages()
		if len(msgs) != 1 || string(msgs[0]) != "bundle" {
			t.Errorf("Expected %s to receive the bundle, got %v", id, msgs)
		}
	}

	info := r.SessionInfo("s1")
	if info.ClientCount != 4 {
		t.Errorf("Expected 4 remaining members, got %d", info.ClientCount)
	}
	if _, ok := r.ConnectedAt("bad"); ok {
		t.Error("Expected failing member to be disconnected")
	}
}

func TestBroadcastUnknownSession(t *testing.T) {
	r := newTestRegistry()
	report := r.BroadcastToSession("nope", []byte("x"))
	if len(report.Delivered) != 0 || len(report.Failed) != 0 {
		t.Errorf("Expected empty report, got %+v", report)
	}
}

func TestConcurrentMembershipConsistency(t *testing.T) {
	r := New(8, zap.NewNop())
	const conns = 40

	for i := 0; i < conns; i++ {
		r.Connect(fmt.Sprintf("c%d", i), &fakeTransport{})
	}

	var wg sync.WaitGroup
	for i := 0; i < conns; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			for j := 0; j < 50; j++ {
				r.JoinSession(id, fmt.Sprintf("s%d", (i+j)%5))
				if j%7 == 0 {
					r.LeaveSession(id, fmt.Sprintf("s%d", (i+j)%5))
				}
				r.BroadcastToSession(fmt.Sprintf("s%d", j%5), []byte("x"))
			}
			if i%2 == 0 {
				r.Disconnect(id)
			}
		}(i)
	}
	wg.Wait()

	// every live connection's session must list it, and every listed member must point back
	members := 0
	for _, sessionID := range r.SessionIDs() {
		info := r.SessionInfo(sessionID)
		if !info.Exists() {
			t.Errorf("Empty session %s still registered", sessionID)
		}
		for _, connID := range info.Clients {
			members++
			if got, _ := r.SessionOf(connID); got != sessionID {
				t.Errorf("Connection %s listed in %s but points to %s", connID, sessionID, got)
			}
		}
	}

	inSession := 0
	for i := 0; i < conns; i++ {
		if _, ok := r.SessionOf(fmt.Sprintf("c%d", i)); ok {
			inSession++
		}
	}
	if members != inSession {
		t.Errorf("Forward and reverse maps disagree: %d members vs %d connections in sessions", members, inSession)
	}
	if r.ConnectionCount() != conns/2 {
		t.Errorf("Expected %d connections, got %d", conns/2, r.ConnectionCount())
	}
}

func TestCloseAll(t *testing.T) {
	r := newTestRegistry()
	transports := []*fakeTransport{{}, {}, {}}
	for i, tr := range transports {
		id := fmt.Sprintf("c%d", i)
		r.Connect(id, tr)
		r.JoinSession(id, "s1")
	}

	r.CloseAll()

	if r.ConnectionCount() != 0 || r.SessionCount() != 0 {
		t.Errorf("Expected empty registry, got %d connections and %d sessions", r.ConnectionCount(), r.SessionCount())
	}
	for i, tr := range transports {
		if tr.closeCount() != 1 {
			t.Errorf("Expected transport %d closed once, got %d", i, tr.closeCount())
		}
	}
}

func TestDisconnectIfIgnoresStaleTransport(t *testing.T) {
	r := newTestRegistry()
	var closed []string
	r.OnSessionClosed(func(id string) { closed = append(closed, id) })

	stale := &fakeTransport{failSend: true}
	r.Connect("x", stale)
	r.JoinSession("x", "s1")

	if err := r.Send("x", []byte("hi")); !errors.Is(err, domain.ErrDeliveryFailed) {
		t.Fatalf("Expected ErrDeliveryFailed, got %v", err)
	}

	fresh := &fakeTransport{}
	if err := r.Connect("x", fresh); err != nil {
		t.Fatalf("Expected reconnect to succeed, got %v", err)
	}
	r.JoinSession("x", "s1")

	if r.DisconnectIf("x", stale) {
		t.Error("Expected stale transport not to disconnect the new connection")
	}
	if fresh.closeCount() != 0 {
		t.Errorf("Expected fresh transport open, got %d closes", fresh.closeCount())
	}
	if info := r.SessionInfo("s1"); info.ClientCount != 1 || info.Clients[0] != "x" {
		t.Errorf("Expected x still in s1, got %+v", info)
	}

	if !r.DisconnectIf("x", fresh) {
		t.Error("Expected current transport to disconnect")
	}
	if r.ConnectionCount() != 0 || r.SessionInfo("s1").Exists() {
		t.Error("Expected connection and session removed")
	}
	if len(closed) != 2 {
		t.Errorf("Expected s1 closed twice, got %v", closed)
	}
}
