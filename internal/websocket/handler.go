// Package websocket exposes the call service to live clients over websockets.
package websocket

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/echomind/domain"
	"github.com/satriahrh/echomind/domain/entities"
	"github.com/satriahrh/echomind/internal/config"
	"github.com/satriahrh/echomind/internal/metrics"
	"github.com/satriahrh/echomind/internal/registry"
)

// Defaults applied to zero fields of the websocket config
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 1 << 20 // base64 audio chunks

	sendQueue = 256
)

// CallService is what the websocket layer needs from the call pipeline
type CallService interface {
	RegisterConnection(clientID string, transport registry.Transport) error
	UnregisterConnection(clientID string, transport registry.Transport)
	JoinSession(clientID, sessionID string) (entities.SessionInfo, error)
	LeaveSession(clientID, sessionID string) (entities.SessionInfo, error)
	IngestAudio(sessionID, clientID string, fragment []byte) error
	HandleUtterance(ctx context.Context, sessionID, transcript string) (*entities.InsightBundle, error)
}

// Handler upgrades HTTP requests to websocket clients of the call service
type Handler struct {
	service   CallService
	cfg       config.WebSocketConfig
	upgrader  websocket.Upgrader
	validator *MessageValidator
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewHandler creates a websocket handler
func NewHandler(service CallService, cfg config.WebSocketConfig, m *metrics.Metrics, logger *zap.Logger) *Handler {
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = writeWait
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = pongWait
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = maxMessageSize
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = sendQueue
	}

	return &Handler{
		service: service,
		cfg:     cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
		},
		validator: NewMessageValidator(),
		metrics:   m,
		logger:    logger,
	}
}

// Register mounts the websocket endpoints on e
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/ws", h.HandleWebSocket)
	e.GET("/ws/:client_id", h.HandleWebSocket)
}

// HandleWebSocket handles websocket requests from the peer. Clients connecting
// without an id in the path get a generated one.
func (h *Handler) HandleWebSocket(c echo.Context) error {
	clientID := c.Param("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := newClient(h, conn, clientID)
	if err := h.service.RegisterConnection(clientID, client); err != nil {
		h.logger.Warn("Rejected websocket client",
			zap.String("clientID", clientID),
			zap.Error(err))
		h.rejectConnection(conn, err)
		return nil
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()

	return nil
}

// rejectConnection tells the peer why it was refused and closes the socket
func (h *Handler) rejectConnection(conn *websocket.Conn, err error) {
	defer conn.Close()

	message := errorFromService(err)

	payload, _ := sonic.Marshal(message)
	conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
	conn.WriteMessage(websocket.TextMessage, payload)
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message.Message))
}

// processMessage handles one JSON message from the client
func (h *Handler) processMessage(c *Client, message []byte) {
	parsed, err := h.validator.ValidateMessage(message)
	if err != nil {
		c.logger.Warn("Failed to parse message", zap.Error(err))
		h.metrics.RecordMessage("invalid")
		h.reply(c, CreateErrorMessage(ErrorCodeInvalidMessage, "Invalid message", err.Error()))
		return
	}

	switch msg := parsed.(type) {
	case *CallStartMessage:
		h.metrics.RecordMessage(string(MessageTypeCallStart))
		info, err := h.service.JoinSession(c.id, msg.SessionID)
		if err != nil {
			h.reply(c, errorFromService(err))
			return
		}
		h.reply(c, CreateSessionEventMessage(domain.MessageTypeSessionJoined, c.id, info))

	case *CallEndMessage:
		h.metrics.RecordMessage(string(MessageTypeCallEnd))
		info, err := h.service.LeaveSession(c.id, msg.SessionID)
		if err != nil {
			h.reply(c, errorFromService(err))
			return
		}
		h.reply(c, CreateSessionEventMessage(domain.MessageTypeSessionLeft, c.id, info))

	case *AudioChunkMessage:
		h.metrics.RecordMessage(string(MessageTypeAudioChunk))
		data, err := msg.Decode()
		if err != nil {
			h.reply(c, CreateErrorMessage(ErrorCodeInvalidMessage, "Invalid audio chunk", err.Error()))
			return
		}
		if err := h.service.IngestAudio(msg.SessionID, c.id, data); err != nil {
			h.reply(c, errorFromService(err))
		}

	case *TranscriptSubmitMessage:
		h.metrics.RecordMessage(string(MessageTypeTranscript))
		// enrichment takes seconds; keep reading audio meanwhile
		go func() {
			if _, err := h.service.HandleUtterance(context.Background(), msg.SessionID, msg.Text); err != nil {
				c.logger.Warn("Failed to handle transcript",
					zap.String("sessionID", msg.SessionID),
					zap.Error(err))
				h.reply(c, errorFromService(err))
			}
		}()

	case *PingMessage:
		h.metrics.RecordMessage(string(MessageTypePing))
		h.reply(c, CreatePongMessage(msg.Data))
	}
}

// processBinaryAudioChunk feeds a binary frame into the client's current session
func (h *Handler) processBinaryAudioChunk(c *Client, data []byte) {
	h.metrics.RecordMessage("audio_binary")
	if err := h.service.IngestAudio("", c.id, data); err != nil {
		c.logger.Debug("Rejected binary audio chunk", zap.Int("size", len(data)), zap.Error(err))
		h.reply(c, errorFromService(err))
	}
}

func (h *Handler) reply(c *Client, message any) {
	payload, err := sonic.Marshal(message)
	if err != nil {
		c.logger.Error("Failed to marshal reply", zap.Error(err))
		return
	}
	err = c.Send(payload)
	switch {
	case err == nil:
	case errors.Is(err, errSendBufferFull):
		// a peer that stopped reading is dropped like any failed delivery
		c.logger.Warn("Failed to queue reply, disconnecting", zap.Error(err))
		h.service.UnregisterConnection(c.id, c)
	default:
		c.logger.Debug("Failed to queue reply", zap.Error(err))
	}
}
