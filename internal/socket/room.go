package socket

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"amicare/internal/protocol"
)

// Room is one holder's membership in a session room. Several Rooms for the
// same session share a single server-side join.
type Room struct {
	client    *Client
	sessionID string
	subID     string
	events    chan *protocol.Message
	leaveOnce sync.Once
}

// Join acquires membership in the room for sessionID. The server is told to
// join only on the first acquisition. Every Room must be released with Leave.
func (c *Client) Join(ctx context.Context, sessionID string) (*Room, error) {
	c.mu.Lock()
	if c.link == nil {
		c.mu.Unlock()
		return nil, ErrUnavailable
	}

	r, exists := c.rooms[sessionID]
	if !exists {
		r = &room{subs: make(map[string]chan *protocol.Message)}
		c.rooms[sessionID] = r
	}

	subID := uuid.New().String()
	ch := make(chan *protocol.Message, subscriberBuffer)
	r.subs[subID] = ch
	c.mu.Unlock()

	rm := &Room{
		client:    c,
		sessionID: sessionID,
		subID:     subID,
		events:    ch,
	}

	if !exists {
		if err := c.emit(ctx, protocol.TypeJoin, protocol.SessionIDPayload{SessionID: sessionID}); err != nil {
			rm.release()
			return nil, err
		}
		c.log.WithField("session_id", sessionID).Debug("joined room")
	}

	return rm, nil
}

// SessionID is the session this room belongs to.
func (r *Room) SessionID() string {
	return r.sessionID
}

// Events delivers server events for this session only. The channel is closed
// by Leave or when the client shuts down.
func (r *Room) Events() <-chan *protocol.Message {
	return r.events
}

// Emit sends a client event on the shared connection.
func (r *Room) Emit(ctx context.Context, msgType string, payload interface{}) error {
	return r.client.emit(ctx, msgType, payload)
}

// Leave releases this membership. It is safe to call more than once; the
// server is told to leave when the last holder releases.
func (r *Room) Leave() {
	r.leaveOnce.Do(func() {
		if !r.release() {
			return
		}

		ctx, cancel := context.WithTimeout(r.client.ctx, writeDeadline)
		defer cancel()

		if err := r.client.emit(ctx, protocol.TypeLeave, protocol.SessionIDPayload{SessionID: r.sessionID}); err != nil {
			r.client.log.WithError(err).WithField("session_id", r.sessionID).Debug("leave not sent")
		}
	})
}

// release drops the subscription and reports whether it was the last one.
func (r *Room) release() bool {
	c := r.client

	c.mu.Lock()
	defer c.mu.Unlock()

	rm, ok := c.rooms[r.sessionID]
	if !ok {
		return false
	}

	ch, ok := rm.subs[r.subID]
	if !ok {
		return false
	}

	delete(rm.subs, r.subID)
	close(ch)

	if len(rm.subs) > 0 {
		return false
	}

	delete(c.rooms, r.sessionID)

	return true
}
