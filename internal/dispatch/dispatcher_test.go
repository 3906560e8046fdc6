package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amicare/internal/apperr"
	"amicare/internal/session"
)

type call struct {
	op        string
	sessionID string
	userID    string
}

type fakeMutator struct {
	mu    sync.Mutex
	calls []call
	err   error
	// gate, when set, blocks every mutation until closed.
	gate    chan struct{}
	entered chan struct{}
}

func (m *fakeMutator) record(op, sessionID, userID string) error {
	m.mu.Lock()
	m.calls = append(m.calls, call{op: op, sessionID: sessionID, userID: userID})
	m.mu.Unlock()

	if m.entered != nil {
		m.entered <- struct{}{}
	}
	if m.gate != nil {
		<-m.gate
	}
	return m.err
}

func (m *fakeMutator) Book(_ context.Context, id, userID string) error {
	return m.record("book", id, userID)
}
func (m *fakeMutator) Accept(_ context.Context, id string) error  { return m.record("accept", id, "") }
func (m *fakeMutator) Reject(_ context.Context, id string) error  { return m.record("reject", id, "") }
func (m *fakeMutator) Decline(_ context.Context, id string) error { return m.record("decline", id, "") }
func (m *fakeMutator) Cancel(_ context.Context, id string) error  { return m.record("cancel", id, "") }

func (m *fakeMutator) recorded() []call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]call(nil), m.calls...)
}

type fakeCollector struct {
	ok    bool
	err   error
	calls int
}

func (c *fakeCollector) Collect(context.Context, *session.Enriched) (bool, error) {
	c.calls++
	return c.ok, c.err
}

type fakeCache struct{ invalidations int }

func (c *fakeCache) Invalidate() { c.invalidations++ }

type navigation struct {
	route  Route
	params map[string]string
}

type fakeNav struct{ routes []navigation }

func (n *fakeNav) Navigate(route Route, params map[string]string) {
	n.routes = append(n.routes, navigation{route: route, params: params})
}

type alert struct{ title, message string }

type fakeAlerts struct{ alerts []alert }

func (a *fakeAlerts) Alert(title, message string) {
	a.alerts = append(a.alerts, alert{title: title, message: message})
}

type staticUser struct{ user *session.User }

func (u staticUser) CurrentUser() *session.User { return u.user }

type harness struct {
	d        *Dispatcher
	mutator  *fakeMutator
	payments *fakeCollector
	cache    *fakeCache
	nav      *fakeNav
	alerts   *fakeAlerts
}

func newHarness(user *session.User) *harness {
	h := &harness{
		mutator:  &fakeMutator{},
		payments: &fakeCollector{ok: true},
		cache:    &fakeCache{},
		nav:      &fakeNav{},
		alerts:   &fakeAlerts{},
	}
	h.d = New(Deps{
		Mutator:  h.mutator,
		Payments: h.payments,
		Cache:    h.cache,
		Nav:      h.nav,
		Alerts:   h.alerts,
		Users:    staticUser{user: user},
	})
	return h
}

var (
	seeker    = &session.User{ID: "seeker-1"}
	psw       = &session.User{ID: "psw-1", IsPsw: true, StripeAccountID: "acct_1"}
	newbiePsw = &session.User{ID: "psw-2", IsPsw: true}
)

func enriched(status session.Status) *session.Enriched {
	return &session.Enriched{
		Session: session.Session{
			ID:             "s1",
			SenderID:       seeker.ID,
			ReceiverID:     psw.ID,
			Status:         status,
			BillingDetails: &session.BillingDetails{Total: 80},
		},
		OtherUser: &session.User{ID: psw.ID, IsPsw: true, StripeAccountID: psw.StripeAccountID},
	}
}

func TestBook_SeekerPaysThenBooks(t *testing.T) {
	h := newHarness(seeker)

	require.NoError(t, h.d.Book(context.Background(), enriched(session.StatusPending)))

	assert.Equal(t, 1, h.payments.calls)
	assert.Equal(t, []call{{op: "book", sessionID: "s1", userID: seeker.ID}}, h.mutator.recorded())
	assert.Equal(t, 1, h.cache.invalidations)
	assert.Equal(t, []alert{{"Success", "Session booked successfully!"}}, h.alerts.alerts)
	require.Len(t, h.nav.routes, 1)
	assert.Equal(t, RouteBack, h.nav.routes[0].route)
	assert.False(t, h.d.IsLoading())
}

func TestBook_PswSkipsPayment(t *testing.T) {
	h := newHarness(psw)

	require.NoError(t, h.d.Book(context.Background(), enriched(session.StatusPending)))
	assert.Zero(t, h.payments.calls)
	assert.Len(t, h.mutator.recorded(), 1)
}

func TestBook_PayoutGate(t *testing.T) {
	h := newHarness(newbiePsw)

	err := h.d.Book(context.Background(), enriched(session.StatusPending))
	assert.True(t, apperr.Is(err, apperr.CodePayoutRequired))

	assert.Empty(t, h.mutator.recorded())
	assert.Zero(t, h.payments.calls)
	require.Len(t, h.nav.routes, 1)
	assert.Equal(t, RoutePayoutSetup, h.nav.routes[0].route)
	assert.False(t, h.d.IsLoading())
}

func TestBook_PaymentCanceled(t *testing.T) {
	h := newHarness(seeker)
	h.payments.ok = false

	err := h.d.Book(context.Background(), enriched(session.StatusPending))
	assert.True(t, apperr.Is(err, apperr.CodePaymentCanceled))
	assert.Empty(t, h.mutator.recorded())
	assert.Empty(t, h.alerts.alerts)
	assert.Empty(t, h.nav.routes)
	assert.Zero(t, h.cache.invalidations)
	assert.False(t, h.d.IsLoading())
}

func TestBook_PaymentError(t *testing.T) {
	h := newHarness(seeker)
	h.payments.err = errors.New("sheet failed")

	err := h.d.Book(context.Background(), enriched(session.StatusPending))
	require.Error(t, err)
	assert.Empty(t, h.mutator.recorded())
	require.Len(t, h.alerts.alerts, 1)
	assert.Equal(t, "Error", h.alerts.alerts[0].title)
}

func TestBook_FailureAlertsAndResetsGuard(t *testing.T) {
	h := newHarness(psw)
	h.mutator.err = apperr.New(apperr.CodeNetwork, "Session already booked")

	err := h.d.Book(context.Background(), enriched(session.StatusPending))
	assert.True(t, apperr.Is(err, apperr.CodeNetwork))
	assert.Equal(t, []alert{{"Error", "Session already booked"}}, h.alerts.alerts)
	assert.Empty(t, h.nav.routes)
	assert.Zero(t, h.cache.invalidations)
	assert.False(t, h.d.IsLoading())

	h.mutator.err = nil
	require.NoError(t, h.d.Book(context.Background(), enriched(session.StatusPending)), "retry after failure")
	assert.Len(t, h.mutator.recorded(), 2)
}

func TestBook_SingleInFlight(t *testing.T) {
	h := newHarness(psw)
	h.mutator.gate = make(chan struct{})
	h.mutator.entered = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() {
		done <- h.d.Book(context.Background(), enriched(session.StatusPending))
	}()

	<-h.mutator.entered
	assert.True(t, h.d.IsLoading())

	err := h.d.Book(context.Background(), enriched(session.StatusPending))
	assert.True(t, apperr.Is(err, apperr.CodeBusy))

	close(h.mutator.gate)
	require.NoError(t, <-done)

	assert.Len(t, h.mutator.recorded(), 1)
	assert.False(t, h.d.IsLoading())
}

func TestBook_Preconditions(t *testing.T) {
	h := newHarness(nil)
	err := h.d.Book(context.Background(), enriched(session.StatusPending))
	assert.True(t, apperr.Is(err, apperr.CodePrecondition))

	h = newHarness(seeker)
	err = h.d.Book(context.Background(), nil)
	assert.True(t, apperr.Is(err, apperr.CodePrecondition))

	s := enriched(session.StatusPending)
	s.OtherUser = nil
	err = h.d.Book(context.Background(), s)
	assert.True(t, apperr.Is(err, apperr.CodePrecondition))

	assert.Empty(t, h.mutator.recorded())
	assert.Zero(t, h.payments.calls)
}

func TestCancel_RoutesByStatus(t *testing.T) {
	testCases := []struct {
		status session.Status
		wantOp string
	}{
		{session.StatusPending, "decline"},
		{session.StatusConfirmed, "cancel"},
	}

	for _, tc := range testCases {
		t.Run(string(tc.status), func(t *testing.T) {
			h := newHarness(seeker)

			require.NoError(t, h.d.Cancel(context.Background(), enriched(tc.status)))

			assert.Equal(t, []call{{op: tc.wantOp, sessionID: "s1"}}, h.mutator.recorded())
			assert.Equal(t, 1, h.cache.invalidations)
			assert.Equal(t, RouteBack, h.nav.routes[0].route)
		})
	}
}

func TestCancel_InvalidState(t *testing.T) {
	h := newHarness(seeker)

	err := h.d.Cancel(context.Background(), enriched(session.StatusCompleted))
	assert.True(t, apperr.Is(err, apperr.CodeInvalidState))
	assert.Empty(t, h.mutator.recorded())
	assert.Empty(t, h.nav.routes)
}

func TestCancel_Failure(t *testing.T) {
	h := newHarness(seeker)
	h.mutator.err = errors.New("connection reset")

	err := h.d.Cancel(context.Background(), enriched(session.StatusConfirmed))
	require.Error(t, err)
	assert.Equal(t, []alert{{"Error", "Failed to cancel session"}}, h.alerts.alerts)
	assert.Empty(t, h.nav.routes)
	assert.False(t, h.d.IsLoading())
}

func TestChange(t *testing.T) {
	for _, status := range []session.Status{session.StatusPending, session.StatusConfirmed} {
		h := newHarness(seeker)

		require.NoError(t, h.d.Change(enriched(status)))
		assert.Empty(t, h.mutator.recorded())
		require.Len(t, h.nav.routes, 1)
		assert.Equal(t, RouteRequestSession, h.nav.routes[0].route)
		assert.Equal(t, map[string]string{"otherUserId": psw.ID, "sessionId": "s1"}, h.nav.routes[0].params)
	}

	h := newHarness(seeker)
	err := h.d.Change(enriched(session.StatusCancelled))
	assert.True(t, apperr.Is(err, apperr.CodeInvalidState))
	assert.Empty(t, h.nav.routes)
}

func TestAcceptReject(t *testing.T) {
	h := newHarness(psw)

	require.NoError(t, h.d.Accept(context.Background(), enriched(session.StatusNewRequest)))
	require.NoError(t, h.d.Reject(context.Background(), enriched(session.StatusNewRequest)))

	assert.Equal(t, []call{
		{op: "accept", sessionID: "s1"},
		{op: "reject", sessionID: "s1"},
	}, h.mutator.recorded())
	assert.Equal(t, 2, h.cache.invalidations)
	assert.Len(t, h.nav.routes, 2)

	h.mutator.err = errors.New("boom")
	err := h.d.Accept(context.Background(), enriched(session.StatusNewRequest))
	require.Error(t, err)
	assert.Equal(t, "Failed to accept session", h.alerts.alerts[0].message)
}
