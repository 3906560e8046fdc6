package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"amicare/internal/session"
)

func envelope(t *testing.T, msgType string, payload interface{}) []byte {
	t.Helper()
	msg := map[string]interface{}{
		"type":      msgType,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if payload != nil {
		msg["payload"] = payload
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestNewMessage(t *testing.T) {
	updatedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	payload := LiveStatusPayload{
		SessionID:  "s1",
		LiveStatus: "ready",
		UpdatedAt:  session.At(updatedAt),
		Version:    3,
	}

	msg, err := NewMessage(TypeLiveStatusUpdate, payload)
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}

	if msg.Type != TypeLiveStatusUpdate {
		t.Errorf("expected type %s, got %s", TypeLiveStatusUpdate, msg.Type)
	}

	if msg.Timestamp.IsZero() {
		t.Error("expected non-zero timestamp")
	}

	var p LiveStatusPayload
	if err := msg.Decode(&p); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if p.Version != 3 || !p.UpdatedAt.Equal(updatedAt) {
		t.Errorf("unexpected payload %+v", p)
	}
	if got := msg.SessionID(); got != "s1" {
		t.Errorf("expected session id s1, got %q", got)
	}
}

func TestMessage_SessionIDMissing(t *testing.T) {
	msg := &Message{Type: TypePong}
	if got := msg.SessionID(); got != "" {
		t.Errorf("expected empty session id, got %q", got)
	}
	if err := msg.Decode(&SessionIDPayload{}); err == nil {
		t.Error("expected error decoding empty payload")
	}
}

func TestValidateClientMessage_Valid(t *testing.T) {
	tests := []struct {
		name    string
		msgType string
		payload interface{}
	}{
		{"join", TypeJoin, map[string]interface{}{"sessionId": "s1"}},
		{"leave", TypeLeave, map[string]interface{}{"sessionId": "s1"}},
		{"confirm", TypeUserConfirm, map[string]interface{}{"sessionId": "s1", "userId": "u1"}},
		{"end confirm", TypeUserEndConfirm, map[string]interface{}{"sessionId": "s1", "userId": "u1"}},
		{"ping without payload", TypePing, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ValidateClientMessage(envelope(t, tt.msgType, tt.payload))
			if err != nil {
				t.Fatalf("expected valid message, got error: %v", err)
			}
			if result.Type != tt.msgType {
				t.Errorf("expected type %s, got %s", tt.msgType, result.Type)
			}
		})
	}
}

func TestValidateClientMessage_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{"not json", []byte("not json")},
		{"missing type", envelope(t, "", map[string]interface{}{})},
		{"unknown type", envelope(t, "session:explode", map[string]interface{}{})},
		{"server type from client", envelope(t, TypeLiveStatusUpdate, map[string]interface{}{"sessionId": "s1"})},
		{"missing payload", []byte(`{"type":"session:join","timestamp":"2026-01-01T00:00:00.000Z"}`)},
		{"join without session", envelope(t, TypeJoin, map[string]interface{}{})},
		{"confirm without user", envelope(t, TypeUserConfirm, map[string]interface{}{"sessionId": "s1"})},
		{"end confirm without session", envelope(t, TypeUserEndConfirm, map[string]interface{}{"userId": "u1"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ValidateClientMessage(tt.raw); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestValidateServerMessage(t *testing.T) {
	valid := [][]byte{
		envelope(t, TypeLiveStatusUpdate, map[string]interface{}{"sessionId": "s1", "liveStatus": "started", "updatedAt": "2026-01-01T00:00:00Z", "version": 2}),
		envelope(t, TypeLiveStatusUpdate, map[string]interface{}{"sessionId": "s1", "liveStatus": "ready"}),
		envelope(t, TypeUserConfirmed, map[string]interface{}{"sessionId": "s1", "userId": "u2"}),
		envelope(t, TypeUserEndConfirmed, map[string]interface{}{"sessionId": "s1", "userId": "u2"}),
		envelope(t, TypeError, map[string]interface{}{"code": ErrSessionNotFound, "message": "gone"}),
		envelope(t, TypePong, nil),
	}
	for i, raw := range valid {
		if _, err := ValidateServerMessage(raw); err != nil {
			t.Errorf("case %d: expected valid, got %v", i, err)
		}
	}

	invalid := [][]byte{
		envelope(t, TypeJoin, map[string]interface{}{"sessionId": "s1"}),
		envelope(t, TypeLiveStatusUpdate, map[string]interface{}{"sessionId": "s1"}),
		envelope(t, TypeLiveStatusUpdate, map[string]interface{}{"sessionId": "s1", "liveStatus": "ready", "updatedAt": "soon"}),
		envelope(t, TypeUserConfirmed, map[string]interface{}{"sessionId": "s1"}),
		envelope(t, TypeError, map[string]interface{}{"message": "no code"}),
		envelope(t, TypeLiveStatusUpdate, nil),
	}
	for i, raw := range invalid {
		if _, err := ValidateServerMessage(raw); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestNewErrorMessage(t *testing.T) {
	msg, err := NewErrorMessage(ErrSessionNotFound, "session xyz not found")
	if err != nil {
		t.Fatalf("NewErrorMessage failed: %v", err)
	}
	if msg.Type != TypeError {
		t.Errorf("expected type %s, got %s", TypeError, msg.Type)
	}

	var p ErrorPayload
	json.Unmarshal(msg.Payload, &p)
	if p.Code != ErrSessionNotFound {
		t.Errorf("expected code %s, got %s", ErrSessionNotFound, p.Code)
	}

	scoped, _ := NewSessionErrorMessage("s9", ErrNotJoined, "join first")
	if scoped.SessionID() != "s9" {
		t.Errorf("expected scoped error for s9, got %q", scoped.SessionID())
	}
}
