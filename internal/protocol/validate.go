package protocol

import (
	"encoding/json"
	"fmt"
)

// validClientTypes is the set of allowed client→server message types.
var validClientTypes = map[string]bool{
	TypeJoin:           true,
	TypeLeave:          true,
	TypeUserConfirm:    true,
	TypeUserEndConfirm: true,
	TypePing:           true,
}

// validServerTypes is the set of server→client message types a client accepts.
var validServerTypes = map[string]bool{
	TypeLiveStatusUpdate: true,
	TypeUserConfirmed:    true,
	TypeUserEndConfirmed: true,
	TypePong:             true,
	TypeError:            true,
}

func parseEnvelope(raw []byte, allowed map[string]bool) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if msg.Type == "" {
		return nil, fmt.Errorf("missing 'type' field")
	}

	if !allowed[msg.Type] {
		return nil, fmt.Errorf("unknown message type: %s", msg.Type)
	}

	return &msg, nil
}

// ValidateClientMessage validates a raw JSON message from a client.
// Returns the parsed Message and any validation error.
func ValidateClientMessage(raw []byte) (*Message, error) {
	msg, err := parseEnvelope(raw, validClientTypes)
	if err != nil {
		return nil, err
	}

	if msg.Type == TypePing {
		return msg, nil
	}

	if msg.Payload == nil {
		return nil, fmt.Errorf("missing 'payload' field")
	}

	switch msg.Type {
	case TypeJoin, TypeLeave:
		var p SessionIDPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.SessionID == "" {
			return nil, fmt.Errorf("missing required field 'sessionId' in %s payload", msg.Type)
		}

	case TypeUserConfirm, TypeUserEndConfirm:
		var p UserConfirmPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.SessionID == "" {
			return nil, fmt.Errorf("missing required field 'sessionId' in %s payload", msg.Type)
		}
		if p.UserID == "" {
			return nil, fmt.Errorf("missing required field 'userId' in %s payload", msg.Type)
		}
	}

	return msg, nil
}

// ValidateServerMessage validates a raw JSON message pushed by the server.
func ValidateServerMessage(raw []byte) (*Message, error) {
	msg, err := parseEnvelope(raw, validServerTypes)
	if err != nil {
		return nil, err
	}

	if msg.Type == TypePong {
		return msg, nil
	}

	if msg.Payload == nil {
		return nil, fmt.Errorf("missing 'payload' field")
	}

	switch msg.Type {
	case TypeLiveStatusUpdate:
		var p LiveStatusPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.SessionID == "" {
			return nil, fmt.Errorf("missing required field 'sessionId' in %s payload", msg.Type)
		}
		if p.LiveStatus == "" {
			return nil, fmt.Errorf("missing required field 'liveStatus' in %s payload", msg.Type)
		}

	case TypeUserConfirmed, TypeUserEndConfirmed:
		var p UserConfirmedPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.SessionID == "" || p.UserID == "" {
			return nil, fmt.Errorf("missing required field 'sessionId' or 'userId' in %s payload", msg.Type)
		}

	case TypeError:
		var p ErrorPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.Code == "" {
			return nil, fmt.Errorf("missing required field 'code' in %s payload", msg.Type)
		}
	}

	return msg, nil
}

// NewErrorMessage creates an error message ready to send to the client.
func NewErrorMessage(code, message string) (*Message, error) {
	return NewMessage(TypeError, ErrorPayload{
		Code:    code,
		Message: message,
	})
}

// NewSessionErrorMessage is NewErrorMessage scoped to one session room.
func NewSessionErrorMessage(sessionID, code, message string) (*Message, error) {
	return NewMessage(TypeError, ErrorPayload{
		SessionID: sessionID,
		Code:      code,
		Message:   message,
	})
}
