// Package tracker keeps the live view of one session in sync with the
// realtime channel: display status, both parties' confirmations and the
// elapsed time of a started session.
package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"amicare/internal/apperr"
	"amicare/internal/logging"
	"amicare/internal/protocol"
	"amicare/internal/session"
	"amicare/internal/socket"
)

// Channel is a joined session room.
type Channel interface {
	Events() <-chan *protocol.Message
	Emit(ctx context.Context, msgType string, payload interface{}) error
	Leave()
}

// Joiner acquires session rooms.
type Joiner interface {
	Join(ctx context.Context, sessionID string) (Channel, error)
}

type socketJoiner struct {
	client *socket.Client
}

// SocketJoiner adapts the shared socket client to a Joiner.
func SocketJoiner(c *socket.Client) Joiner {
	return socketJoiner{client: c}
}

func (j socketJoiner) Join(ctx context.Context, sessionID string) (Channel, error) {
	if j.client == nil {
		return nil, socket.ErrUnavailable
	}
	room, err := j.client.Join(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return room, nil
}

// Fetcher returns a fresh copy of the tracked session.
type Fetcher func(ctx context.Context) (*session.Session, error)

// Options configures a Tracker.
type Options struct {
	ViewerID string
	Session  *session.Session

	// Joiner may be nil, in which case the tracker only serves the initial state.
	Joiner Joiner
	Clock  func() time.Time
	Tick   time.Duration
	Logger *logrus.Entry

	// Refetch, when set, is polled every RefetchEvery and fed to ApplySession.
	Refetch      Fetcher
	RefetchEvery time.Duration
}

// View is a snapshot of the tracker state.
type View struct {
	SessionID             string
	Display               session.Display
	LiveStatus            session.LiveStatus
	UserConfirmed         bool
	OtherUserConfirmed    bool
	UserEndConfirmed      bool
	OtherUserEndConfirmed bool
	Elapsed               time.Duration
	Live                  bool
	Finished              bool
}

// BothConfirmed reports whether both parties are ready to start.
func (v View) BothConfirmed() bool {
	return v.UserConfirmed && v.OtherUserConfirmed
}

// Tracker is the live state of one session for one viewer. Create it when the
// session is shown and Close it when it is hidden.
type Tracker struct {
	viewerID     string
	clock        func() time.Time
	tick         time.Duration
	log          *logrus.Entry
	refetch      Fetcher
	refetchEvery time.Duration

	mu            sync.Mutex
	view          View
	start         time.Time
	lastVersion   int64
	lastUpdatedAt time.Time
	ch            Channel
	closed        bool

	updates    chan View
	finished   chan struct{}
	finishOnce sync.Once

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// New builds the tracker from the session snapshot and joins its room. A
// failed join is logged and leaves the tracker serving the snapshot only.
func New(ctx context.Context, opts Options) (*Tracker, error) {
	if opts.Session == nil || opts.Session.ID == "" {
		return nil, apperr.New(apperr.CodeInvalidInput, "tracker needs a session")
	}
	if opts.ViewerID == "" {
		return nil, apperr.New(apperr.CodeInvalidInput, "tracker needs a viewer")
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Tick <= 0 {
		opts.Tick = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger("tracker")
	}

	s := opts.Session
	t := &Tracker{
		viewerID:     opts.ViewerID,
		clock:        opts.Clock,
		tick:         opts.Tick,
		log:          opts.Logger.WithField("session_id", s.ID),
		refetch:      opts.Refetch,
		refetchEvery: opts.RefetchEvery,
		view: View{
			SessionID:             s.ID,
			Display:               s.Display(),
			LiveStatus:            s.LiveStatus,
			UserConfirmed:         s.ReadyToStart.ConfirmedBy(opts.ViewerID),
			OtherUserConfirmed:    s.ReadyToStart.OtherConfirmed(opts.ViewerID),
			UserEndConfirmed:      s.ReadyToEnd.ConfirmedBy(opts.ViewerID),
			OtherUserEndConfirmed: s.ReadyToEnd.OtherConfirmed(opts.ViewerID),
		},
		start:         s.LiveStart().Time,
		lastUpdatedAt: s.LiveStatusUpdatedAt.Time,
		updates:       make(chan View, 1),
		finished:      make(chan struct{}),
		done:          make(chan struct{}),
	}

	if t.view.Display == session.DisplayStarted {
		if t.start.IsZero() {
			t.start = s.LiveStatusUpdatedAt.Time
		}
		t.view.Elapsed = t.elapsedAt(t.clock())
	}
	if t.view.LiveStatus.Terminal() {
		t.finish()
	}

	if opts.Joiner != nil {
		ch, err := opts.Joiner.Join(ctx, s.ID)
		if err != nil {
			t.log.WithError(err).Warn("realtime channel unavailable, showing last known state")
		} else {
			t.ch = ch
			t.view.Live = true
		}
	} else {
		t.log.Debug("no realtime channel configured")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	var events <-chan *protocol.Message
	if t.ch != nil {
		events = t.ch.Events()
	}

	t.publish()
	go t.run(runCtx, events)

	return t, nil
}

func (t *Tracker) run(ctx context.Context, events <-chan *protocol.Message) {
	defer close(t.done)

	ticker := time.NewTicker(t.tick)
	defer ticker.Stop()

	var poll <-chan time.Time
	if t.refetch != nil && t.refetchEvery > 0 {
		pt := time.NewTicker(t.refetchEvery)
		defer pt.Stop()
		poll = pt.C
	}

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-events:
			if !ok {
				events = nil
				t.mu.Lock()
				t.view.Live = false
				t.publish()
				t.mu.Unlock()
				t.log.Warn("realtime channel closed")
				continue
			}
			t.handle(msg)

		case <-ticker.C:
			t.refreshElapsed()

		case <-poll:
			s, err := t.refetch(ctx)
			if err != nil {
				if ctx.Err() == nil {
					t.log.WithError(err).Debug("refetch failed")
				}
				continue
			}
			t.ApplySession(s)
		}
	}
}

func (t *Tracker) handle(msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeLiveStatusUpdate:
		var p protocol.LiveStatusPayload
		if err := msg.Decode(&p); err != nil {
			t.log.WithError(err).Warn("bad live status event")
			return
		}
		t.applyLiveStatus(session.LiveStatus(p.LiveStatus), p.Version, p.UpdatedAt.Time, false)

	case protocol.TypeUserConfirmed, protocol.TypeUserEndConfirmed:
		var p protocol.UserConfirmedPayload
		if err := msg.Decode(&p); err != nil {
			t.log.WithError(err).Warn("bad confirmation event")
			return
		}
		t.applyConfirmation(p.UserID, msg.Type == protocol.TypeUserEndConfirmed)

	case protocol.TypeError:
		var p protocol.ErrorPayload
		if err := msg.Decode(&p); err != nil {
			t.log.WithError(err).Warn("bad error event")
			return
		}
		t.log.WithFields(logrus.Fields{"code": p.Code}).Warn(p.Message)
	}
}

// stale reports whether a status stamped with version and at is older than
// the last one applied. Unstamped statuses are never stale.
func (t *Tracker) stale(version int64, at time.Time) bool {
	if version > 0 && t.lastVersion > 0 {
		return version <= t.lastVersion
	}
	if !at.IsZero() && !t.lastUpdatedAt.IsZero() {
		return at.Before(t.lastUpdatedAt)
	}
	return false
}

// applyLiveStatus moves the view to status. onlyOnChange skips statuses that
// map to the display already shown.
func (t *Tracker) applyLiveStatus(status session.LiveStatus, version int64, at time.Time, onlyOnChange bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stale(version, at) {
		t.log.WithFields(logrus.Fields{"live_status": status, "version": version}).Debug("ignoring stale status")
		return
	}

	// Snapshots carry no version, so rank keeps them from undoing a newer push.
	if onlyOnChange && status != session.LiveFailed && status.Rank() < t.view.LiveStatus.Rank() {
		t.log.WithFields(logrus.Fields{"live_status": status, "current": t.view.LiveStatus}).Debug("ignoring older snapshot status")
		return
	}

	display := session.MapLiveStatus(string(status))
	if onlyOnChange && display == t.view.Display && status.Terminal() == t.view.LiveStatus.Terminal() {
		return
	}

	if version > t.lastVersion {
		t.lastVersion = version
	}
	if at.After(t.lastUpdatedAt) {
		t.lastUpdatedAt = at
	}

	wasStarted := t.view.Display == session.DisplayStarted
	t.view.LiveStatus = status
	t.view.Display = display

	switch {
	case display == session.DisplayStarted && !wasStarted:
		if t.start.IsZero() {
			t.start = at
		}
		if t.start.IsZero() {
			t.start = t.clock()
		}
		t.view.Elapsed = t.elapsedAt(t.clock())
	case display != session.DisplayStarted:
		t.view.Elapsed = 0
	}

	t.log.WithField("live_status", status).Debug("live status applied")

	if status.Terminal() {
		t.finish()
	}

	t.publish()
}

func (t *Tracker) applyConfirmation(userID string, end bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	self := userID == t.viewerID
	switch {
	case end && self:
		t.view.UserEndConfirmed = true
	case end:
		t.view.OtherUserEndConfirmed = true
	case self:
		t.view.UserConfirmed = true
	default:
		t.view.OtherUserConfirmed = true
	}

	t.publish()
}

// ApplySession reconciles the view with a refetched session. Confirmations
// only ever turn on; the display changes only when the mapped value does.
func (t *Tracker) ApplySession(s *session.Session) {
	if s == nil || s.ID != t.view.SessionID {
		return
	}

	t.mu.Lock()
	if !s.ActualStartTime.IsZero() {
		t.start = s.ActualStartTime.Time
	}
	changed := false
	merge := func(flag *bool, v bool) {
		if v && !*flag {
			*flag = true
			changed = true
		}
	}
	merge(&t.view.UserConfirmed, s.ReadyToStart.ConfirmedBy(t.viewerID))
	merge(&t.view.OtherUserConfirmed, s.ReadyToStart.OtherConfirmed(t.viewerID))
	merge(&t.view.UserEndConfirmed, s.ReadyToEnd.ConfirmedBy(t.viewerID))
	merge(&t.view.OtherUserEndConfirmed, s.ReadyToEnd.OtherConfirmed(t.viewerID))
	if changed {
		t.publish()
	}
	t.mu.Unlock()

	t.applyLiveStatus(s.LiveStatus, 0, s.LiveStatusUpdatedAt.Time, true)
}

// Confirm marks the viewer ready to start and tells the other party.
func (t *Tracker) Confirm(ctx context.Context) error {
	return t.confirm(ctx, false)
}

// ConfirmEnd marks the viewer ready to end the session.
func (t *Tracker) ConfirmEnd(ctx context.Context) error {
	return t.confirm(ctx, true)
}

func (t *Tracker) confirm(ctx context.Context, end bool) error {
	msgType := protocol.TypeUserConfirm
	t.mu.Lock()
	if end {
		msgType = protocol.TypeUserEndConfirm
		t.view.UserEndConfirmed = true
	} else {
		t.view.UserConfirmed = true
	}
	t.publish()
	ch := t.ch
	sessionID := t.view.SessionID
	t.mu.Unlock()

	if ch == nil {
		t.log.WithField("type", msgType).Error("realtime channel unavailable, confirmation not sent")
		return socket.ErrUnavailable
	}

	err := ch.Emit(ctx, msgType, protocol.UserConfirmPayload{SessionID: sessionID, UserID: t.viewerID})
	if err != nil {
		t.log.WithError(err).WithField("type", msgType).Error("failed to send confirmation")
		if !errors.Is(err, socket.ErrUnavailable) && !apperr.Is(err, apperr.CodeUnavailable) {
			return apperr.Wrap(err, apperr.CodeUnavailable, "Could not reach the session. Please try again.")
		}
		return err
	}

	return nil
}

func (t *Tracker) refreshElapsed() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.view.Display != session.DisplayStarted {
		return
	}

	elapsed := t.elapsedAt(t.clock())
	if elapsed == t.view.Elapsed {
		return
	}

	t.view.Elapsed = elapsed
	t.publish()
}

func (t *Tracker) elapsedAt(now time.Time) time.Duration {
	if t.start.IsZero() {
		return 0
	}

	d := now.Sub(t.start).Truncate(time.Second)
	if d < 0 {
		return 0
	}
	return d
}

// finish marks the session over. Callers hold t.mu.
func (t *Tracker) finish() {
	t.view.Finished = true
	t.finishOnce.Do(func() {
		close(t.finished)
	})
}

// publish offers the current view, replacing one not yet consumed. Callers
// hold t.mu.
func (t *Tracker) publish() {
	if t.closed {
		return
	}

	select {
	case <-t.updates:
	default:
	}

	select {
	case t.updates <- t.view:
	default:
	}
}

// View returns the current state.
func (t *Tracker) View() View {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.view
}

// Updates delivers the latest view after each change. Only the newest
// unread view is kept. The channel is closed by Close.
func (t *Tracker) Updates() <-chan View {
	return t.updates
}

// Finished is closed once the session reaches a terminal live status.
func (t *Tracker) Finished() <-chan struct{} {
	return t.finished
}

// Close stops the tracker and leaves the room. It is safe to call more than once.
func (t *Tracker) Close() {
	t.closeOnce.Do(func() {
		t.cancel()
		<-t.done

		t.mu.Lock()
		ch := t.ch
		t.ch = nil
		t.view.Live = false
		t.closed = true
		close(t.updates)
		t.mu.Unlock()

		if ch != nil {
			ch.Leave()
		}
	})
}
