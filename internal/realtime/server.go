// Package realtime is a local stand-in for the care marketplace backend. It
// serves the session REST routes and the live session rooms over WebSocket so
// the coordinator can be exercised end to end without the real services.
package realtime

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"amicare/internal/apperr"
	"amicare/internal/logging"
	"amicare/internal/protocol"
	"amicare/internal/session"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow localhost origins for dev.
	},
}

// Options configure a Server.
type Options struct {
	// HistorySize is the number of room events replayed to late joiners.
	HistorySize int
	// Token, when set, must be presented as a bearer token by every caller.
	Token string
}

// Server routes live session rooms and REST calls onto a Store.
type Server struct {
	store *Store
	opts  Options
	log   *logrus.Entry

	clients   map[*client]bool
	clientsMu sync.RWMutex

	rooms   map[string]*room
	roomsMu sync.Mutex
}

type room struct {
	members map[*client]bool
	history *History
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	server *Server
	// joined is guarded by server.roomsMu.
	joined map[string]bool
}

// New creates a server backed by store.
func New(store *Store, opts Options) *Server {
	if opts.HistorySize <= 0 {
		opts.HistorySize = 20
	}
	return &Server{
		store:   store,
		opts:    opts,
		log:     logging.NewLogger("sandbox"),
		clients: make(map[*client]bool),
		rooms:   make(map[string]*room),
	}
}

// Store returns the backing store.
func (s *Server) Store() *Store {
	return s.store
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint.
	mux.HandleFunc("/ws", s.handleWebSocket)

	// Session routes.
	mux.HandleFunc("GET /sessions/tab", s.handleSessionTab)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	mux.HandleFunc("PATCH /sessions/{id}/{action}", s.handleSessionAction)
	mux.HandleFunc("PUT /sessions/{id}/checklist", s.handleChecklist)
	mux.HandleFunc("POST /sessions/{id}/comments", s.handleComment)
	mux.HandleFunc("POST /sessions/{id}/report", s.handleReport)
	mux.HandleFunc("POST /sessions/{id}/messages", s.handleMessage)

	// Payment routes.
	mux.HandleFunc("GET /payments/stripe/onboarding-status/{account}", s.handleOnboardingStatus)
	mux.HandleFunc("POST /payments/create-intent", s.handleCreateIntent)
	mux.HandleFunc("POST /payments/verify-status", s.handleVerifyStatus)

	// Development routes.
	mux.HandleFunc("POST /dev/users", s.handlePutUser)
	mux.HandleFunc("POST /dev/sessions", s.handleCreateSession)
	mux.HandleFunc("POST /dev/sessions/{id}/live-status", s.handleSetLiveStatus)

	return corsMiddleware(s.authMiddleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Token != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if got != s.opts.Token {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// handleWebSocket upgrades an HTTP connection to WebSocket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, 256),
		server: s,
		joined: make(map[string]bool),
	}

	s.clientsMu.Lock()
	s.clients[c] = true
	s.clientsMu.Unlock()

	s.log.WithField("remote", r.RemoteAddr).Debug("client connected")

	go c.writePump()
	go c.readPump()
}

// readPump reads messages from the WebSocket connection.
func (c *client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.log.WithError(err).Warn("websocket read error")
			}
			return
		}

		c.server.handleSocketMessage(c, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// removeClient cleans up a disconnected client.
func (s *Server) removeClient(c *client) {
	s.roomsMu.Lock()
	for sessionID := range c.joined {
		s.leaveLocked(c, sessionID)
	}
	s.roomsMu.Unlock()

	s.clientsMu.Lock()
	delete(s.clients, c)
	s.clientsMu.Unlock()

	close(c.send)
}

// handleSocketMessage processes a validated client message.
func (s *Server) handleSocketMessage(c *client, raw []byte) {
	msg, err := protocol.ValidateClientMessage(raw)
	if err != nil {
		s.sendError(c, "", protocol.ErrInvalidMessage, err.Error())
		return
	}

	switch msg.Type {
	case protocol.TypePing:
		s.sendTo(c, &protocol.Message{Type: protocol.TypePong, Timestamp: time.Now().UTC()})
	case protocol.TypeJoin:
		s.handleJoin(c, msg)
	case protocol.TypeLeave:
		s.handleLeave(c, msg)
	case protocol.TypeUserConfirm:
		s.handleConfirm(c, msg, false)
	case protocol.TypeUserEndConfirm:
		s.handleConfirm(c, msg, true)
	}
}

func (s *Server) handleJoin(c *client, msg *protocol.Message) {
	sessionID := msg.SessionID()

	snapshot, err := s.store.LiveSnapshot(sessionID)
	if err != nil {
		s.sendError(c, sessionID, protocol.ErrSessionNotFound, apperr.UserMessage(err, "session not found"))
		return
	}

	s.roomsMu.Lock()
	r := s.roomLocked(sessionID)
	r.members[c] = true
	c.joined[sessionID] = true
	history := r.history.ReadAll()
	s.roomsMu.Unlock()

	s.log.WithField("session_id", sessionID).Debug("client joined room")

	for _, event := range history {
		s.sendTo(c, event)
	}
	// Seeded sessions have a live status but no room history yet.
	if snapshot != nil {
		if m, err := liveStatusMessage(snapshot); err == nil {
			s.sendTo(c, m)
		}
	}
}

func (s *Server) handleLeave(c *client, msg *protocol.Message) {
	s.roomsMu.Lock()
	s.leaveLocked(c, msg.SessionID())
	s.roomsMu.Unlock()
}

// leaveLocked drops c from a room and discards empty rooms' members map. The
// history is kept so that a later join still catches up. Callers hold roomsMu.
func (s *Server) leaveLocked(c *client, sessionID string) {
	delete(c.joined, sessionID)
	if r, ok := s.rooms[sessionID]; ok {
		delete(r.members, c)
	}
}

// roomLocked returns the room for sessionID, creating it. Callers hold roomsMu.
func (s *Server) roomLocked(sessionID string) *room {
	r, ok := s.rooms[sessionID]
	if !ok {
		r = &room{
			members: make(map[*client]bool),
			history: NewHistory(s.opts.HistorySize),
		}
		s.rooms[sessionID] = r
	}
	return r
}

func (s *Server) handleConfirm(c *client, msg *protocol.Message, end bool) {
	var p protocol.UserConfirmPayload
	if err := msg.Decode(&p); err != nil {
		s.sendError(c, "", protocol.ErrInvalidMessage, err.Error())
		return
	}

	s.roomsMu.Lock()
	joined := c.joined[p.SessionID]
	s.roomsMu.Unlock()
	if !joined {
		s.sendError(c, p.SessionID, protocol.ErrNotJoined, "join the session before confirming")
		return
	}

	confirm, eventType := s.store.ConfirmReady, protocol.TypeUserConfirmed
	if end {
		confirm, eventType = s.store.ConfirmEnd, protocol.TypeUserEndConfirmed
	}

	change, err := confirm(p.SessionID, p.UserID)
	if err != nil {
		s.sendError(c, p.SessionID, socketErrorCode(err), apperr.UserMessage(err, "confirmation failed"))
		return
	}

	log := s.log.WithFields(logrus.Fields{"session_id": p.SessionID, "user_id": p.UserID, "event": eventType})
	log.Info("participant confirmed")

	event, err := protocol.NewMessage(eventType, protocol.UserConfirmedPayload{
		SessionID: p.SessionID,
		UserID:    p.UserID,
	})
	if err != nil {
		log.WithError(err).Error("build confirmation event")
		return
	}
	s.broadcastRoom(p.SessionID, event)

	if change != nil {
		s.PushLiveStatus(change)
	}
}

func socketErrorCode(err error) string {
	switch apperr.GetCode(err) {
	case apperr.CodeNotFound:
		return protocol.ErrSessionNotFound
	case apperr.CodeInvalidInput:
		return protocol.ErrNotParticipant
	case apperr.CodeInvalidState:
		return protocol.ErrInvalidState
	default:
		return protocol.ErrInvalidMessage
	}
}

func liveStatusMessage(change *LiveStatusChange) (*protocol.Message, error) {
	return protocol.NewMessage(protocol.TypeLiveStatusUpdate, protocol.LiveStatusPayload{
		SessionID:  change.SessionID,
		LiveStatus: string(change.LiveStatus),
		UpdatedAt:  session.At(change.UpdatedAt),
		Version:    change.Version,
	})
}

// PushLiveStatus announces a live status change to the session room.
func (s *Server) PushLiveStatus(change *LiveStatusChange) {
	msg, err := liveStatusMessage(change)
	if err != nil {
		s.log.WithError(err).Error("build live status event")
		return
	}

	s.log.WithFields(logrus.Fields{
		"session_id":  change.SessionID,
		"live_status": change.LiveStatus,
		"version":     change.Version,
	}).Info("live status changed")

	s.broadcastRoom(change.SessionID, msg)
}

// broadcastRoom records msg in the room history and sends it to every member.
func (s *Server) broadcastRoom(sessionID string, msg *protocol.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	s.roomsMu.Lock()
	defer s.roomsMu.Unlock()

	r := s.roomLocked(sessionID)
	r.history.Write(msg)

	for c := range r.members {
		select {
		case c.send <- data:
		default:
			// Client buffer full, skip.
		}
	}
}

// sendTo queues msg for one client. It is only called from the client's own
// read loop, so c.send is still open.
func (s *Server) sendTo(c *client, msg *protocol.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (s *Server) sendError(c *client, sessionID, code, message string) {
	msg, err := protocol.NewSessionErrorMessage(sessionID, code, message)
	if err != nil {
		return
	}
	s.sendTo(c, msg)
}
