package realtime

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"amicare/internal/apperr"
	"amicare/internal/session"
)

// LiveStatusChange is a versioned live status transition of one session.
type LiveStatusChange struct {
	SessionID  string
	LiveStatus session.LiveStatus
	UpdatedAt  time.Time
	Version    int64
}

// Report is a filed complaint.
type Report struct {
	SessionID      string    `json:"sessionId"`
	UserID         string    `json:"userId"`
	Reason         string    `json:"reason"`
	AdditionalInfo string    `json:"additionalInfo,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ChatMessage is a message posted into a session conversation.
type ChatMessage struct {
	UserID    string    `json:"userId"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// PaymentIntent is a sandbox payment intent.
type PaymentIntent struct {
	ID                 string `json:"id"`
	ClientSecret       string `json:"clientSecret"`
	Amount             int64  `json:"amount"`
	Currency           string `json:"currency"`
	SessionID          string `json:"sessionId"`
	PswStripeAccountID string `json:"pswStripeAccountId"`
	Status             string `json:"status"`
}

type record struct {
	session  *session.Session
	version  int64
	reports  []Report
	messages []ChatMessage
}

// Store holds sessions and users in memory and applies the booking and live
// transitions the real backend performs.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*record
	users    map[string]*session.User
	intents  map[string]*PaymentIntent
	clock    func() time.Time
}

// NewStore creates an empty store. clock defaults to time.Now.
func NewStore(clock func() time.Time) *Store {
	if clock == nil {
		clock = time.Now
	}
	return &Store{
		sessions: make(map[string]*record),
		users:    make(map[string]*session.User),
		intents:  make(map[string]*PaymentIntent),
		clock:    clock,
	}
}

func (st *Store) now() time.Time {
	return st.clock().UTC()
}

// PutUser adds or replaces a user profile.
func (st *Store) PutUser(u session.User) error {
	if u.ID == "" {
		return apperr.New(apperr.CodeInvalidInput, "user id is required")
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	st.users[u.ID] = &u
	return nil
}

// User returns a user by id.
func (st *Store) User(id string) (*session.User, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	u, ok := st.users[id]
	if !ok {
		return nil, false
	}
	cp := *u
	return &cp, true
}

// PayoutAccountKnown reports whether any user owns accountID.
func (st *Store) PayoutAccountKnown(accountID string) bool {
	st.mu.RLock()
	defer st.mu.RUnlock()

	for _, u := range st.users {
		if u.StripeAccountID == accountID {
			return true
		}
	}
	return false
}

// Create adds a session. A missing id is generated and a missing status
// defaults to newRequest.
func (st *Store) Create(s session.Session) (*session.Session, error) {
	if s.SenderID == "" || s.ReceiverID == "" {
		return nil, apperr.New(apperr.CodeInvalidInput, "senderId and receiverId are required")
	}
	if s.SenderID == s.ReceiverID {
		return nil, apperr.New(apperr.CodeInvalidInput, "a session needs two different participants")
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if _, exists := st.sessions[s.ID]; exists {
		return nil, apperr.New(apperr.CodeInvalidState, "session already exists").WithDetail("session_id", s.ID)
	}
	if s.Status == "" {
		s.Status = session.StatusNewRequest
	}
	if len(s.Participants) == 0 {
		s.Participants = []string{s.SenderID, s.ReceiverID}
	}
	now := session.At(st.now())
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	stored := clone(&s)
	st.sessions[s.ID] = &record{session: stored}

	return clone(stored), nil
}

// Get returns a copy of one session.
func (st *Store) Get(id string) (*session.Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	rec, err := st.lookup(id)
	if err != nil {
		return nil, err
	}
	return clone(rec.session), nil
}

// ListFor returns the sessions userID takes part in, joined with the other
// participant's profile, most recently updated first.
func (st *Store) ListFor(userID string) []*session.Enriched {
	st.mu.RLock()
	defer st.mu.RUnlock()

	result := make([]*session.Enriched, 0)
	for _, rec := range st.sessions {
		if !rec.session.IsParticipant(userID) {
			continue
		}

		e := &session.Enriched{Session: *clone(rec.session)}
		if u, ok := st.users[rec.session.Counterpart(userID)]; ok {
			cp := *u
			e.OtherUser = &cp
		}
		result = append(result, e)
	}

	slices.SortFunc(result, func(a, b *session.Enriched) int {
		return b.UpdatedAt.Compare(a.UpdatedAt.Time)
	})

	return result
}

// lookup finds a record. Callers hold st.mu.
func (st *Store) lookup(id string) (*record, error) {
	rec, ok := st.sessions[id]
	if !ok {
		return nil, apperr.New(apperr.CodeNotFound, fmt.Sprintf("session not found: %s", id)).
			WithDetail("session_id", id)
	}
	return rec, nil
}

// transition moves a session from one of from to to.
func (st *Store) transition(id string, to session.Status, from ...session.Status) (*session.Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	rec, err := st.lookup(id)
	if err != nil {
		return nil, err
	}

	if !slices.Contains(from, rec.session.Status) {
		return nil, invalidTransition(rec.session.Status, to)
	}

	rec.session.Status = to
	rec.session.UpdatedAt = session.At(st.now())

	return clone(rec.session), nil
}

func invalidTransition(from, to session.Status) error {
	return apperr.New(apperr.CodeInvalidState, fmt.Sprintf("cannot move a %s session to %s", from, to)).
		WithDetail("from", string(from)).
		WithDetail("to", string(to))
}

// Accept moves a new request to pending.
func (st *Store) Accept(id string) (*session.Session, error) {
	return st.transition(id, session.StatusPending, session.StatusNewRequest)
}

// Reject refuses a request that is not booked yet.
func (st *Store) Reject(id string) (*session.Session, error) {
	return st.transition(id, session.StatusRejected, session.StatusNewRequest, session.StatusPending)
}

// Decline withdraws from a pending session.
func (st *Store) Decline(id string) (*session.Session, error) {
	return st.transition(id, session.StatusDeclined, session.StatusPending)
}

// Cancel cancels a confirmed session.
func (st *Store) Cancel(id string) (*session.Session, error) {
	return st.transition(id, session.StatusCancelled, session.StatusConfirmed)
}

// Book records userID's confirmation. Once both participants confirmed the
// session becomes confirmed and its live status starts at upcoming; change is
// non-nil in that case.
func (st *Store) Book(id, userID string) (*session.Session, *LiveStatusChange, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	rec, err := st.lookup(id)
	if err != nil {
		return nil, nil, err
	}

	s := rec.session
	if !s.IsParticipant(userID) {
		return nil, nil, apperr.New(apperr.CodeInvalidInput, "user is not a participant").
			WithDetail("user_id", userID)
	}
	if s.Status != session.StatusPending {
		return nil, nil, invalidTransition(s.Status, session.StatusConfirmed)
	}

	if !s.HasConfirmed(userID) {
		s.ConfirmedBy = append(s.ConfirmedBy, userID)
	}
	s.UpdatedAt = session.At(st.now())

	var change *LiveStatusChange
	if s.HasConfirmed(s.SenderID) && s.HasConfirmed(s.ReceiverID) {
		s.Status = session.StatusConfirmed
		change = st.setLive(rec, session.LiveUpcoming)
	}

	return clone(s), change, nil
}

// SetLiveStatus forces a live status, as the scheduler of the real backend
// does when a session becomes ready.
func (st *Store) SetLiveStatus(id string, live session.LiveStatus) (*LiveStatusChange, error) {
	if live.Rank() == 0 {
		return nil, apperr.New(apperr.CodeInvalidInput, fmt.Sprintf("unknown live status %q", live))
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	rec, err := st.lookup(id)
	if err != nil {
		return nil, err
	}

	switch rec.session.Status {
	case session.StatusConfirmed, session.StatusInProgress:
	default:
		return nil, apperr.New(apperr.CodeInvalidState, "only booked sessions have a live status").
			WithDetail("status", string(rec.session.Status))
	}

	current := rec.session.LiveStatus
	if live != session.LiveFailed && live.Rank() < current.Rank() {
		return nil, apperr.New(apperr.CodeInvalidState, "live status cannot move backwards").
			WithDetail("from", string(current)).
			WithDetail("to", string(live))
	}

	return st.setLive(rec, live), nil
}

// setLive applies a live status and bumps the version. Callers hold st.mu.
func (st *Store) setLive(rec *record, live session.LiveStatus) *LiveStatusChange {
	now := st.now()
	s := rec.session

	s.LiveStatus = live
	s.LiveStatusUpdatedAt = session.At(now)
	s.UpdatedAt = session.At(now)

	switch live {
	case session.LiveStarted:
		s.Status = session.StatusInProgress
		if s.ActualStartTime.IsZero() {
			s.ActualStartTime = session.At(now)
		}
	case session.LiveCompleted:
		s.Status = session.StatusCompleted
		s.ActualEndTime = session.At(now)
	case session.LiveFailed:
		s.Status = session.StatusFailed
	}

	rec.version++

	return &LiveStatusChange{
		SessionID:  s.ID,
		LiveStatus: live,
		UpdatedAt:  now,
		Version:    rec.version,
	}
}

// LiveSnapshot returns the current live status of a session as a change
// carrying its latest version. It is nil while the session has no live status.
func (st *Store) LiveSnapshot(id string) (*LiveStatusChange, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	rec, err := st.lookup(id)
	if err != nil {
		return nil, err
	}
	if rec.session.LiveStatus == "" {
		return nil, nil
	}

	return &LiveStatusChange{
		SessionID:  rec.session.ID,
		LiveStatus: rec.session.LiveStatus,
		UpdatedAt:  rec.session.LiveStatusUpdatedAt.Time,
		Version:    rec.version,
	}, nil
}

// ConfirmReady records that userID is ready to start. When both are ready the
// session starts and the change is returned.
func (st *Store) ConfirmReady(id, userID string) (*LiveStatusChange, error) {
	return st.confirmLive(id, userID, false)
}

// ConfirmEnd records that userID is ready to end. When both are, the session
// completes and the change is returned.
func (st *Store) ConfirmEnd(id, userID string) (*LiveStatusChange, error) {
	return st.confirmLive(id, userID, true)
}

func (st *Store) confirmLive(id, userID string, end bool) (*LiveStatusChange, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	rec, err := st.lookup(id)
	if err != nil {
		return nil, err
	}

	s := rec.session
	if !s.IsParticipant(userID) {
		return nil, apperr.New(apperr.CodeInvalidInput, "user is not a participant").
			WithDetail("user_id", userID)
	}

	readiness := session.Readiness{Confirmed: true, ConfirmedAt: session.At(st.now())}

	if end {
		if s.LiveStatus != session.LiveStarted && s.LiveStatus != session.LiveEnding {
			return nil, apperr.New(apperr.CodeInvalidState, "session has not started")
		}
		if s.ReadyToEnd == nil {
			s.ReadyToEnd = session.ReadinessMap{}
		}
		s.ReadyToEnd[userID] = readiness

		if s.ReadyToEnd.Mutual(s.SenderID, s.ReceiverID) {
			return st.setLive(rec, session.LiveCompleted), nil
		}
		return nil, nil
	}

	if s.Status != session.StatusConfirmed || (s.LiveStatus != session.LiveReady && s.LiveStatus != session.LiveUpcoming) {
		return nil, apperr.New(apperr.CodeInvalidState, "session is not ready to start").
			WithDetail("live_status", string(s.LiveStatus))
	}
	if s.ReadyToStart == nil {
		s.ReadyToStart = session.ReadinessMap{}
	}
	s.ReadyToStart[userID] = readiness

	if s.ReadyToStart.Mutual(s.SenderID, s.ReceiverID) {
		return st.setLive(rec, session.LiveStarted), nil
	}
	return nil, nil
}

// UpdateChecklist replaces the checklist.
func (st *Store) UpdateChecklist(id string, items []session.ChecklistItem) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	rec, err := st.lookup(id)
	if err != nil {
		return err
	}

	rec.session.Checklist = slices.Clone(items)
	rec.session.UpdatedAt = session.At(st.now())
	return nil
}

// AddComment appends a comment.
func (st *Store) AddComment(id, userID, text string) (session.Comment, error) {
	if text == "" {
		return session.Comment{}, apperr.New(apperr.CodeInvalidInput, "text is required")
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	rec, err := st.lookup(id)
	if err != nil {
		return session.Comment{}, err
	}

	c := session.Comment{
		ID:        uuid.New().String(),
		UserID:    userID,
		Text:      text,
		Timestamp: session.At(st.now()),
	}
	rec.session.Comments = append(rec.session.Comments, c)
	return c, nil
}

// AddReport files a report against a session.
func (st *Store) AddReport(r Report) error {
	if r.Reason == "" {
		return apperr.New(apperr.CodeInvalidInput, "reason is required")
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	rec, err := st.lookup(r.SessionID)
	if err != nil {
		return err
	}

	r.CreatedAt = st.now()
	rec.reports = append(rec.reports, r)
	return nil
}

// Reports returns the reports filed against a session.
func (st *Store) Reports(id string) []Report {
	st.mu.RLock()
	defer st.mu.RUnlock()

	if rec, ok := st.sessions[id]; ok {
		return slices.Clone(rec.reports)
	}
	return nil
}

// AddMessage appends a chat message.
func (st *Store) AddMessage(id, userID, text string) error {
	if text == "" {
		return apperr.New(apperr.CodeInvalidInput, "message is required")
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	rec, err := st.lookup(id)
	if err != nil {
		return err
	}

	rec.messages = append(rec.messages, ChatMessage{UserID: userID, Message: text, CreatedAt: st.now()})
	return nil
}

// Messages returns the chat history of a session.
func (st *Store) Messages(id string) []ChatMessage {
	st.mu.RLock()
	defer st.mu.RUnlock()

	if rec, ok := st.sessions[id]; ok {
		return slices.Clone(rec.messages)
	}
	return nil
}

// CreateIntent registers a payment intent for a booking. Sandbox intents
// succeed as soon as they are created.
func (st *Store) CreateIntent(pi PaymentIntent) (*PaymentIntent, error) {
	if pi.Amount <= 0 {
		return nil, apperr.New(apperr.CodeInvalidInput, "amount must be positive")
	}
	if pi.Currency == "" || pi.SessionID == "" {
		return nil, apperr.New(apperr.CodeInvalidInput, "currency and sessionId are required")
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if _, err := st.lookup(pi.SessionID); err != nil {
		return nil, err
	}

	id := "pi_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	pi.ID = id
	pi.ClientSecret = id + "_secret_" + uuid.New().String()[:8]
	pi.Status = "succeeded"
	st.intents[pi.ClientSecret] = &pi

	cp := pi
	return &cp, nil
}

// IntentStatus returns the status of the intent behind clientSecret.
func (st *Store) IntentStatus(clientSecret string) (string, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	pi, ok := st.intents[clientSecret]
	if !ok {
		return "", apperr.New(apperr.CodeNotFound, "Payment intent not found")
	}
	return pi.Status, nil
}

// Fixtures is the seed file format.
type Fixtures struct {
	Users    []session.User    `json:"users"`
	Sessions []session.Session `json:"sessions"`
}

// Load seeds the store from a JSON fixtures document.
func (st *Store) Load(r io.Reader) error {
	var f Fixtures
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return fmt.Errorf("decode fixtures: %w", err)
	}

	for _, u := range f.Users {
		if err := st.PutUser(u); err != nil {
			return err
		}
	}
	for _, s := range f.Sessions {
		if _, err := st.Create(s); err != nil {
			return fmt.Errorf("seed session %s: %w", s.ID, err)
		}
	}
	return nil
}

func clone(s *session.Session) *session.Session {
	cp := *s
	cp.Participants = slices.Clone(s.Participants)
	cp.ConfirmedBy = slices.Clone(s.ConfirmedBy)
	cp.ReadyToStart = maps.Clone(s.ReadyToStart)
	cp.ReadyToEnd = maps.Clone(s.ReadyToEnd)
	cp.Checklist = slices.Clone(s.Checklist)
	cp.Comments = slices.Clone(s.Comments)
	if s.BillingDetails != nil {
		b := *s.BillingDetails
		cp.BillingDetails = &b
	}
	return &cp
}
