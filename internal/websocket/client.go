package websocket

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	errClientClosed   = errors.New("client closed")
	errSendBufferFull = errors.New("send buffer full")
)

// WriteData is one queued outbound websocket frame
type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// Client is a middleman between the websocket connection and the call service.
// It is the registry transport for one connection.
type Client struct {
	handler *Handler

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan WriteData

	// Closed once the client is shut down from either side
	done      chan struct{}
	closeOnce sync.Once

	id     string
	logger *zap.Logger
}

func newClient(h *Handler, conn *websocket.Conn, id string) *Client {
	return &Client{
		handler: h,
		conn:    conn,
		send:    make(chan WriteData, h.cfg.SendQueue),
		done:    make(chan struct{}),
		id:      id,
		logger:  h.logger.With(zap.String("clientID", id)),
	}
}

// ID returns the client id
func (c *Client) ID() string {
	return c.id
}

// Send queues a text payload without blocking. A full queue or a closed
// client is reported as an error.
func (c *Client) Send(payload []byte) error {
	return c.enqueue(WriteData{Type: websocket.TextMessage, Payload: payload})
}

// Close stops the write pump, which closes the connection. It is safe to call
// more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

func (c *Client) enqueue(data WriteData) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return errClientClosed
	default:
		return errSendBufferFull
	}
}

// readPump pumps messages from the websocket connection to the call service.
func (c *Client) readPump() {
	defer func() {
		c.handler.service.UnregisterConnection(c.id, c)
		c.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.handler.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.handler.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.handler.cfg.PongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn("WebSocket error", zap.Error(err))
			}
			break
		}

		switch messageType {
		case websocket.TextMessage:
			c.handler.processMessage(c, message)
		case websocket.BinaryMessage:
			c.handler.processBinaryAudioChunk(c, message)
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
	}
}

// writePump pumps queued messages to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.handler.cfg.PingPeriod())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.handler.cfg.WriteWait))
			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Warn("Failed to write message", zap.Error(err))
				c.handler.service.UnregisterConnection(c.id, c)
				return
			}

		case <-c.done:
			c.flushQueued()
			c.conn.SetWriteDeadline(time.Now().Add(c.handler.cfg.WriteWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.handler.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.handler.service.UnregisterConnection(c.id, c)
				return
			}
		}
	}
}

// flushQueued writes whatever was queued before the client was closed
func (c *Client) flushQueued() {
	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.handler.cfg.WriteWait))
			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				return
			}
		default:
			return
		}
	}
}
