// Package registry tracks live client connections, their call-session
// membership, and delivers payloads to one connection or a whole session.
//
// Connections and sessions live in sharded maps. Each connection and each
// session carries its own mutex; locks are always taken in the order
// connection, session, shard so membership moves never deadlock and unrelated
// sessions never contend.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/satriahrh/echomind/domain"
	"github.com/satriahrh/echomind/domain/entities"
	"github.com/satriahrh/echomind/internal/shard"
)

// Transport is the delivery handle of one client connection
type Transport interface {
	Send(payload []byte) error
	Close() error
}

// BroadcastReport lists the outcome of one broadcast per member
type BroadcastReport struct {
	Delivered []string `json:"delivered"`
	Failed    []string `json:"failed"`
}

type connection struct {
	id          string
	transport   Transport
	connectedAt time.Time

	mu        sync.Mutex
	sessionID string
	closed    bool
}

type session struct {
	id        string
	createdAt time.Time

	mu      sync.Mutex
	members map[string]*connection
	deleted bool
}

// Registry is the connection and session membership table
type Registry struct {
	connections *shard.Map[*connection]
	sessions    *shard.Map[*session]
	logger      *zap.Logger

	broadcastLimit int
	hookMu         sync.RWMutex
	onClosed       []func(sessionID string)
}

// New creates an empty registry. broadcastLimit bounds concurrent sends per
// broadcast; zero or less means one goroutine per member.
func New(broadcastLimit int, logger *zap.Logger) *Registry {
	return &Registry{
		connections:    shard.New[*connection](shard.DefaultCount),
		sessions:       shard.New[*session](shard.DefaultCount),
		logger:         logger,
		broadcastLimit: broadcastLimit,
	}
}

// OnSessionClosed registers a hook fired after a session loses its last
// member. Hooks run on the goroutine that removed the member, outside any lock.
func (r *Registry) OnSessionClosed(fn func(sessionID string)) {
	r.hookMu.Lock()
	r.onClosed = append(r.onClosed, fn)
	r.hookMu.Unlock()
}

// Connect registers a new connection
func (r *Registry) Connect(id string, transport Transport) error {
	if id == "" || transport == nil {
		return fmt.Errorf("%w: connection id and transport are required", domain.ErrInvalidArgument)
	}

	c := &connection{
		id:          id,
		transport:   transport,
		connectedAt: time.Now(),
	}
	if !r.connections.SetIfAbsent(id, c) {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateConnection, id)
	}

	r.logger.Debug("Connection registered", zap.String("connectionID", id))
	return nil
}

// Disconnect removes the connection and its session membership, then closes
// its transport. Unknown or already closed connections are ignored.
func (r *Registry) Disconnect(id string) {
	c, ok := r.connections.Get(id)
	if !ok {
		return
	}
	r.disconnect(c)
}

// DisconnectIf disconnects id only while it is still registered with
// transport, so a stale transport never removes a newer connection reusing the
// id. Transports must be comparable. It reports whether a connection was removed.
func (r *Registry) DisconnectIf(id string, transport Transport) bool {
	c, ok := r.connections.Get(id)
	if !ok || c.transport != transport {
		return false
	}
	return r.disconnect(c)
}

func (r *Registry) disconnect(c *connection) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.closed = true
	closedSession := r.removeMemberLocked(c)
	r.connections.DeleteIf(c.id, func(v *connection) bool { return v == c })
	c.mu.Unlock()

	if err := c.transport.Close(); err != nil {
		r.logger.Debug("Failed to close transport", zap.String("connectionID", c.id), zap.Error(err))
	}

	r.logger.Debug("Connection removed", zap.String("connectionID", c.id))
	r.notifyClosed(closedSession)
	return true
}

// JoinSession makes the connection a member of sessionID. A connection that
// belongs to another session is moved atomically.
func (r *Registry) JoinSession(connID, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: session id is required", domain.ErrInvalidArgument)
	}

	c, ok := r.connections.Get(connID)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownConnection, connID)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrUnknownConnection, connID)
	}
	if c.sessionID == sessionID {
		c.mu.Unlock()
		return nil
	}

	var closedSession string
	if c.sessionID != "" {
		closedSession = r.removeMemberLocked(c)
	}
	r.addMemberLocked(c, sessionID)
	c.mu.Unlock()

	r.notifyClosed(closedSession)
	return nil
}

// LeaveSession removes the connection from sessionID if it is a member
func (r *Registry) LeaveSession(connID, sessionID string) error {
	c, ok := r.connections.Get(connID)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownConnection, connID)
	}

	c.mu.Lock()
	if c.closed || c.sessionID != sessionID {
		c.mu.Unlock()
		return nil
	}
	closedSession := r.removeMemberLocked(c)
	c.mu.Unlock()

	r.notifyClosed(closedSession)
	return nil
}

// Send delivers payload to one connection. A transport failure disconnects
// the connection and is reported as ErrDeliveryFailed.
func (r *Registry) Send(connID string, payload []byte) error {
	c, ok := r.connections.Get(connID)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownConnection, connID)
	}
	return r.deliver(c, payload)
}

// BroadcastToSession delivers payload to every current member concurrently.
// Unknown sessions yield an empty report.
func (r *Registry) BroadcastToSession(sessionID string, payload []byte) BroadcastReport {
	members := r.members(sessionID)
	if len(members) == 0 {
		return BroadcastReport{}
	}

	var (
		mu     sync.Mutex
		report BroadcastReport
		g      errgroup.Group
	)
	if r.broadcastLimit > 0 {
		g.SetLimit(r.broadcastLimit)
	}

	for _, c := range members {
		g.Go(func() error {
			err := r.deliver(c, payload)
			mu.Lock()
			if err != nil {
				report.Failed = append(report.Failed, c.id)
			} else {
				report.Delivered = append(report.Delivered, c.id)
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(report.Delivered)
	sort.Strings(report.Failed)
	return report
}

// SessionInfo returns the sorted membership of a session. Unknown sessions
// are reported with no members.
func (r *Registry) SessionInfo(sessionID string) entities.SessionInfo {
	info := entities.SessionInfo{SessionID: sessionID, Clients: []string{}}

	s, ok := r.sessions.Get(sessionID)
	if !ok {
		return info
	}

	s.mu.Lock()
	if !s.deleted {
		for id := range s.members {
			info.Clients = append(info.Clients, id)
		}
		info.CreatedAt = s.createdAt
	}
	s.mu.Unlock()

	sort.Strings(info.Clients)
	info.ClientCount = len(info.Clients)
	return info
}

// SessionOf returns the session the connection belongs to, if any
func (r *Registry) SessionOf(connID string) (string, bool) {
	c, ok := r.connections.Get(connID)
	if !ok {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID, c.sessionID != ""
}

// ConnectedAt returns when the connection was registered
func (r *Registry) ConnectedAt(connID string) (time.Time, bool) {
	c, ok := r.connections.Get(connID)
	if !ok {
		return time.Time{}, false
	}
	return c.connectedAt, true
}

// ConnectionCount returns the number of registered connections
func (r *Registry) ConnectionCount() int {
	return r.connections.Len()
}

// SessionCount returns the number of sessions with at least one member
func (r *Registry) SessionCount() int {
	return r.sessions.Len()
}

// SessionIDs lists live sessions, sorted
func (r *Registry) SessionIDs() []string {
	ids := make([]string, 0)
	r.sessions.Range(func(id string, _ *session) bool {
		ids = append(ids, id)
		return true
	})
	sort.Strings(ids)
	return ids
}

// DisconnectSession disconnects every member of a session and returns their ids
func (r *Registry) DisconnectSession(sessionID string) []string {
	members := r.members(sessionID)
	ids := make([]string, 0, len(members))
	for _, c := range members {
		r.disconnect(c)
		ids = append(ids, c.id)
	}
	sort.Strings(ids)
	return ids
}

// CloseAll disconnects every connection
func (r *Registry) CloseAll() {
	var conns []*connection
	r.connections.Range(func(_ string, c *connection) bool {
		conns = append(conns, c)
		return true
	})
	for _, c := range conns {
		r.disconnect(c)
	}
}

func (r *Registry) deliver(c *connection, payload []byte) error {
	if err := c.transport.Send(payload); err != nil {
		r.logger.Warn("Failed to deliver message, disconnecting",
			zap.String("connectionID", c.id),
			zap.Error(err))
		r.disconnect(c)
		return fmt.Errorf("%w: %s: %v", domain.ErrDeliveryFailed, c.id, err)
	}
	return nil
}

func (r *Registry) members(sessionID string) []*connection {
	s, ok := r.sessions.Get(sessionID)
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleted {
		return nil
	}
	members := make([]*connection, 0, len(s.members))
	for _, c := range s.members {
		members = append(members, c)
	}
	return members
}

// addMemberLocked requires c.mu held
func (r *Registry) addMemberLocked(c *connection, sessionID string) {
	for {
		s, created := r.sessions.GetOrCreate(sessionID, func() *session {
			return &session{
				id:        sessionID,
				createdAt: time.Now(),
				members:   make(map[string]*connection),
			}
		})

		s.mu.Lock()
		if s.deleted {
			// lost a race with the last member leaving; the entry is gone by now
			s.mu.Unlock()
			continue
		}
		s.members[c.id] = c
		s.mu.Unlock()

		c.sessionID = sessionID
		if created {
			r.logger.Info("Session created", zap.String("sessionID", sessionID))
		}
		r.logger.Debug("Connection joined session",
			zap.String("connectionID", c.id),
			zap.String("sessionID", sessionID))
		return
	}
}

// removeMemberLocked requires c.mu held. It returns the session id when the
// session was deleted because it became empty.
func (r *Registry) removeMemberLocked(c *connection) string {
	sessionID := c.sessionID
	if sessionID == "" {
		return ""
	}
	c.sessionID = ""

	s, ok := r.sessions.Get(sessionID)
	if !ok {
		return ""
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.members[c.id] == c {
		delete(s.members, c.id)
	}
	if len(s.members) > 0 || s.deleted {
		return ""
	}

	s.deleted = true
	r.sessions.DeleteIf(sessionID, func(v *session) bool { return v == s })
	r.logger.Info("Session closed", zap.String("sessionID", sessionID))
	return sessionID
}

func (r *Registry) notifyClosed(sessionID string) {
	if sessionID == "" {
		return
	}
	r.hookMu.RLock()
	hooks := append([]func(string){}, r.onClosed...)
	r.hookMu.RUnlock()

	for _, fn := range hooks {
		fn(sessionID)
	}
}
