// Package socket maintains the process-wide realtime connection and hands out
// session-scoped rooms on top of it.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"amicare/internal/apperr"
	"amicare/internal/logging"
	"amicare/internal/protocol"
)

const (
	readDeadlineFactor = 2
	writeDeadline      = 10 * time.Second
	subscriberBuffer   = 64
	sendBuffer         = 256
)

// ErrUnavailable is returned when there is no live connection to use.
var ErrUnavailable = apperr.New(apperr.CodeUnavailable, "realtime channel unavailable")

// Options configures a Client.
type Options struct {
	URL               string
	Token             string
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	ReconnectDelayMax time.Duration
	PingInterval      time.Duration

	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
	Logger *logrus.Entry
}

func (o *Options) setDefaults() {
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = time.Second
	}
	if o.ReconnectDelayMax < o.ReconnectDelay {
		o.ReconnectDelayMax = 5 * o.ReconnectDelay
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.Logger == nil {
		o.Logger = logging.NewLogger("socket")
	}
}

// Client is the single realtime connection shared by every view. Create one
// with Dial and pass it to whatever needs rooms.
type Client struct {
	opts Options
	log  *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.RWMutex
	link  *link
	rooms map[string]*room
}

// link is one physical connection. A Client replaces it on reconnect.
type link struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

type room struct {
	subs map[string]chan *protocol.Message
}

// Dial opens the connection and starts serving it. The returned Client keeps
// reconnecting in the background until Close.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	opts.setDefaults()

	c := &Client{
		opts:  opts,
		log:   opts.Logger,
		done:  make(chan struct{}),
		rooms: make(map[string]*room),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	l, err := c.dial(ctx)
	if err != nil {
		c.cancel()
		return nil, err
	}

	c.attach(l)
	go c.serve(l)

	return c, nil
}

func (c *Client) dial(ctx context.Context) (*link, error) {
	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	conn, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, header)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeUnavailable, "could not reach realtime server").
			WithDetail("url", c.opts.URL)
	}

	l := &link{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	go c.writePump(l)

	return l, nil
}

// attach makes l the active link and rejoins every room still held.
func (c *Client) attach(l *link) {
	c.mu.Lock()
	c.link = l
	ids := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		if err := c.emit(c.ctx, protocol.TypeJoin, protocol.SessionIDPayload{SessionID: id}); err != nil {
			c.log.WithError(err).WithField("session_id", id).Warn("rejoin failed")
		}
	}
}

func (c *Client) detach(l *link) {
	c.mu.Lock()
	if c.link == l {
		c.link = nil
	}
	c.mu.Unlock()

	close(l.done)
}

// serve reads from the active link and reconnects when it drops.
func (c *Client) serve(l *link) {
	defer close(c.done)

	for {
		err := c.readPump(l)
		c.detach(l)

		if c.ctx.Err() != nil {
			return
		}

		c.log.WithError(err).Warn("realtime connection lost, reconnecting")

		next, err := c.reconnect()
		if err != nil {
			c.log.WithError(err).Error("giving up on realtime connection")
			c.closeRooms()
			return
		}

		c.log.Info("realtime connection restored")
		c.attach(next)
		l = next
	}
}

func (c *Client) reconnect() (*link, error) {
	if c.opts.ReconnectAttempts <= 0 {
		return nil, ErrUnavailable
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.ReconnectDelay
	b.MaxInterval = c.opts.ReconnectDelayMax
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.opts.ReconnectAttempts-1)), c.ctx)

	// The first attempt waits like the others so a flapping server is not hammered.
	select {
	case <-time.After(c.opts.ReconnectDelay):
	case <-c.ctx.Done():
		return nil, c.ctx.Err()
	}

	return backoff.RetryNotifyWithData(func() (*link, error) {
		return c.dial(c.ctx)
	}, policy, func(err error, next time.Duration) {
		c.log.WithError(err).WithField("retry_in", next).Debug("reconnect attempt failed")
	})
}

// readPump reads messages from the connection until it fails.
func (c *Client) readPump(l *link) error {
	readDeadline := readDeadlineFactor * c.opts.PingInterval

	l.conn.SetReadDeadline(time.Now().Add(readDeadline))
	l.conn.SetPongHandler(func(string) error {
		l.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, raw, err := l.conn.ReadMessage()
		if err != nil {
			return err
		}

		l.conn.SetReadDeadline(time.Now().Add(readDeadline))

		msg, err := protocol.ValidateServerMessage(raw)
		if err != nil {
			c.log.WithError(err).Debug("dropping invalid server message")
			continue
		}

		c.dispatch(msg)
	}
}

// writePump writes queued messages and keeps the connection alive with pings.
func (c *Client) writePump(l *link) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		l.conn.Close()
	}()

	for {
		select {
		case message := <-l.send:
			l.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := l.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			l.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-l.done:
			l.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			l.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// dispatch fans a server message out to the subscribers of its room.
func (c *Client) dispatch(msg *protocol.Message) {
	if msg.Type == protocol.TypePong {
		return
	}

	sessionID := msg.SessionID()
	if sessionID == "" {
		c.log.WithField("type", msg.Type).Warn("server message without session")
		return
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	r, ok := c.rooms[sessionID]
	if !ok {
		return
	}

	for id, ch := range r.subs {
		select {
		case ch <- msg:
		default:
			// Subscriber buffer full, skip.
			c.log.WithFields(logrus.Fields{"session_id": sessionID, "subscriber": id}).
				Debug("subscriber buffer full, dropping event")
		}
	}
}

// emit queues a message on the active link.
func (c *Client) emit(ctx context.Context, msgType string, payload interface{}) error {
	c.mu.RLock()
	l := c.link
	c.mu.RUnlock()

	if l == nil {
		return ErrUnavailable
	}

	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		return err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	select {
	case l.send <- data:
		return nil
	case <-l.done:
		return ErrUnavailable
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connected reports whether a link is currently up.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.link != nil
}

// Close shuts the connection down and ends every room's event stream.
func (c *Client) Close() error {
	c.cancel()

	c.mu.Lock()
	l := c.link
	c.link = nil
	c.mu.Unlock()

	c.closeRooms()

	if l != nil {
		l.conn.Close()
	}

	<-c.done

	return nil
}

// closeRooms ends every subscriber stream and forgets all rooms.
func (c *Client) closeRooms() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, r := range c.rooms {
		for _, ch := range r.subs {
			close(ch)
		}
		delete(c.rooms, id)
	}
}

// IsUnavailable reports whether err means the realtime channel is down.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable) || apperr.Is(err, apperr.CodeUnavailable)
}
