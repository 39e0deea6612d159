package websocket

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/satriahrh/echomind/domain"
	"github.com/satriahrh/echomind/domain/entities"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Supported message types
const (
	MessageTypeCallStart  MessageType = "call_start"
	MessageTypeCallEnd    MessageType = "call_end"
	MessageTypeAudioChunk MessageType = "audio_chunk"
	MessageTypeTranscript MessageType = "transcript"
	MessageTypePing       MessageType = "ping"
	MessageTypePong       MessageType = "pong"
	MessageTypeError      MessageType = "error"
)

// Error codes sent in ErrorMessage
const (
	ErrorCodeInvalidMessage = "invalid_message"
	ErrorCodeInvalidRequest = "invalid_request"
	ErrorCodeUnknownSession = "unknown_session"
	ErrorCodeNotRunning     = "service_unavailable"
	ErrorCodeInternal       = "internal_error"
)

// BaseMessage defines the common structure for all WebSocket messages
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp float64     `json:"timestamp,omitempty"`
	MessageID string      `json:"message_id,omitempty"`
}

// CallStartMessage joins the sender to a call session
type CallStartMessage struct {
	BaseMessage
	SessionID string `json:"session_id"`
}

// CallEndMessage removes the sender from a call session
type CallEndMessage struct {
	BaseMessage
	SessionID string `json:"session_id"`
}

// AudioChunkMessage carries one base64 encoded audio fragment. Without a
// session id the fragment goes to the sender's current session.
type AudioChunkMessage struct {
	BaseMessage
	SessionID string `json:"session_id,omitempty"`
	Audio     string `json:"audio"`
}

// Decode returns the raw audio bytes
func (m *AudioChunkMessage) Decode() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(m.Audio)
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio: %w", err)
	}
	return data, nil
}

// TranscriptSubmitMessage submits text for enrichment without audio
type TranscriptSubmitMessage struct {
	BaseMessage
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// PingMessage represents a ping message for connection health check
type PingMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// PongMessage represents a pong response
type PongMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// ErrorMessage represents an error response
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"error_code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// MessageValidator parses and validates inbound client messages
type MessageValidator struct{}

// NewMessageValidator creates a new message validator
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{}
}

// ValidateMessage parses an incoming message into its typed form
func (v *MessageValidator) ValidateMessage(messageBytes []byte) (interface{}, error) {
	var base BaseMessage
	if err := sonic.Unmarshal(messageBytes, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}

	switch base.Type {
	case MessageTypeCallStart:
		var msg CallStartMessage
		if err := sonic.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid call start message: %w", err)
		}
		if err := requireSessionID(msg.SessionID); err != nil {
			return nil, err
		}
		return &msg, nil

	case MessageTypeCallEnd:
		var msg CallEndMessage
		if err := sonic.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid call end message: %w", err)
		}
		if err := requireSessionID(msg.SessionID); err != nil {
			return nil, err
		}
		return &msg, nil

	case MessageTypeAudioChunk:
		var msg AudioChunkMessage
		if err := sonic.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid audio chunk message: %w", err)
		}
		if msg.Audio == "" {
			return nil, fmt.Errorf("audio is required")
		}
		return &msg, nil

	case MessageTypeTranscript:
		var msg TranscriptSubmitMessage
		if err := sonic.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid transcript message: %w", err)
		}
		if err := requireSessionID(msg.SessionID); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, fmt.Errorf("text is required")
		}
		return &msg, nil

	case MessageTypePing:
		var msg PingMessage
		if err := sonic.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid ping message: %w", err)
		}
		return &msg, nil

	case "":
		return nil, fmt.Errorf("message type is required")

	default:
		return nil, fmt.Errorf("unsupported message type: %s", base.Type)
	}
}

func requireSessionID(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("session_id is required")
	}
	return nil
}

// CreateErrorMessage creates a standardized error message
func CreateErrorMessage(code, message, details string) *ErrorMessage {
	return &ErrorMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeError,
			Timestamp: entities.UnixSeconds(time.Now()),
		},
		Code:    code,
		Message: message,
		Details: details,
	}
}

// CreatePongMessage creates a pong response message
func CreatePongMessage(data string) *PongMessage {
	return &PongMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypePong,
			Timestamp: entities.UnixSeconds(time.Now()),
		},
		Data: data,
	}
}

// CreateSessionEventMessage reports the sender's membership after a join or leave
func CreateSessionEventMessage(messageType, clientID string, info entities.SessionInfo) *domain.SessionEventMessage {
	return &domain.SessionEventMessage{
		Type:      messageType,
		SessionID: info.SessionID,
		ClientID:  clientID,
		Members:   info.ClientCount,
		Timestamp: entities.UnixSeconds(time.Now()),
	}
}

// errorFromService maps a service error onto a client error message
func errorFromService(err error) *ErrorMessage {
	switch {
	case errors.Is(err, domain.ErrDuplicateConnection):
		return CreateErrorMessage(ErrorCodeInvalidRequest, "Client id already connected", err.Error())
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrUnknownConnection):
		return CreateErrorMessage(ErrorCodeInvalidRequest, "Request rejected", err.Error())
	case errors.Is(err, domain.ErrUnknownSession):
		return CreateErrorMessage(ErrorCodeUnknownSession, "Session not found", err.Error())
	case errors.Is(err, domain.ErrNotRunning):
		return CreateErrorMessage(ErrorCodeNotRunning, "Service is shutting down", "")
	default:
		return CreateErrorMessage(ErrorCodeInternal, "Failed to process message", err.Error())
	}
}
