package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"amicare/internal/session"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a message with the current timestamp.
func NewMessage(msgType string, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Message{
		Type:      msgType,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// SessionID returns the sessionId carried in the payload, or "" if there is none.
func (m *Message) SessionID() string {
	if len(m.Payload) == 0 {
		return ""
	}
	var p SessionIDPayload
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return ""
	}
	return p.SessionID
}

// Decode unmarshals the payload into v.
func (m *Message) Decode(v interface{}) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}

// Server → Client message types.
const (
	TypeLiveStatusUpdate = "session:liveStatusUpdate"
	TypeUserConfirmed    = "session:userConfirmed"
	TypeUserEndConfirmed = "session:userEndConfirmed"
	TypePong             = "pong"
	TypeError            = "error"
)

// Client → Server message types.
const (
	TypeJoin           = "session:join"
	TypeLeave          = "session:leave"
	TypeUserConfirm    = "session:userConfirm"
	TypeUserEndConfirm = "session:userEndConfirm"
	TypePing           = "ping"
)

// Error codes.
const (
	ErrSessionNotFound = "SESSION_NOT_FOUND"
	ErrInvalidMessage  = "INVALID_MESSAGE"
	ErrNotParticipant  = "NOT_PARTICIPANT"
	ErrNotJoined       = "NOT_JOINED"
	ErrInvalidState    = "INVALID_STATE"
)

// Server → Client payloads.

// LiveStatusPayload announces a new live status. UpdatedAt and Version order
// pushes so a receiver can drop stale ones.
type LiveStatusPayload struct {
	SessionID  string            `json:"sessionId"`
	LiveStatus string            `json:"liveStatus"`
	UpdatedAt  session.Timestamp `json:"updatedAt"`
	Version    int64             `json:"version,omitempty"`
}

type UserConfirmedPayload struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

type ErrorPayload struct {
	SessionID string `json:"sessionId,omitempty"`
	Message   string `json:"message"`
	Code      string `json:"code"`
}

// Client → Server payloads.

type SessionIDPayload struct {
	SessionID string `json:"sessionId"`
}

type UserConfirmPayload struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}
