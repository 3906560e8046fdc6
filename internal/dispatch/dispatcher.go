// Package dispatch turns a user action on a session into exactly one backend
// mutation and routes the view afterwards.
package dispatch

import (
	"context"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"amicare/internal/apperr"
	"amicare/internal/logging"
	"amicare/internal/payment"
	"amicare/internal/session"
)

// Route is a navigation target.
type Route string

const (
	RouteBack             Route = "back"
	RoutePayoutSetup      Route = "payout-setup"
	RouteRequestSession   Route = "request-session"
	RouteSessionCompleted Route = "session-completed"
)

// Mutator issues the session mutations.
type Mutator interface {
	Book(ctx context.Context, sessionID, userID string) error
	Accept(ctx context.Context, sessionID string) error
	Reject(ctx context.Context, sessionID string) error
	Decline(ctx context.Context, sessionID string) error
	Cancel(ctx context.Context, sessionID string) error
}

// Invalidator drops cached session lists after a mutation.
type Invalidator interface {
	Invalidate()
}

// Navigator moves the user to another screen.
type Navigator interface {
	Navigate(route Route, params map[string]string)
}

// Alerter shows a blocking message.
type Alerter interface {
	Alert(title, message string)
}

// UserProvider returns the signed-in user, or nil when unknown.
type UserProvider interface {
	CurrentUser() *session.User
}

// Deps are the collaborators of a Dispatcher.
type Deps struct {
	Mutator  Mutator
	Payments payment.Collector
	Cache    Invalidator
	Nav      Navigator
	Alerts   Alerter
	Users    UserProvider
}

// Dispatcher runs at most one action at a time.
type Dispatcher struct {
	deps       Deps
	processing atomic.Bool
	log        *logrus.Entry
}

// New creates a Dispatcher.
func New(deps Deps) *Dispatcher {
	return &Dispatcher{
		deps: deps,
		log:  logging.NewLogger("dispatch"),
	}
}

// IsLoading reports whether an action is in flight.
func (d *Dispatcher) IsLoading() bool {
	return d.processing.Load()
}

func (d *Dispatcher) acquire(action session.Action, sessionID string) error {
	if !d.processing.CompareAndSwap(false, true) {
		d.log.WithFields(logrus.Fields{"action": action, "session_id": sessionID}).Debug("action already in flight")
		return apperr.New(apperr.CodeBusy, "Another action is still in progress.")
	}
	return nil
}

func (d *Dispatcher) release() {
	d.processing.Store(false)
}

// ready checks that the session and both parties are loaded.
func (d *Dispatcher) ready(s *session.Enriched) (*session.User, error) {
	user := d.deps.Users.CurrentUser()
	if user == nil || user.ID == "" {
		return nil, apperr.New(apperr.CodePrecondition, "You need to be signed in.")
	}
	if s == nil || s.ID == "" {
		return nil, apperr.New(apperr.CodePrecondition, "Session is not loaded yet.")
	}
	if s.OtherUser == nil {
		return nil, apperr.New(apperr.CodePrecondition, "Session details are still loading.").
			WithDetail("session_id", s.ID)
	}
	return user, nil
}

// fail surfaces a mutation failure as a blocking alert.
func (d *Dispatcher) fail(log *logrus.Entry, err error, fallback string) error {
	log.WithError(err).Error("action failed")
	d.deps.Alerts.Alert("Error", apperr.UserMessage(err, fallback))
	return err
}

func (d *Dispatcher) succeed() {
	if d.deps.Cache != nil {
		d.deps.Cache.Invalidate()
	}
}

// Book confirms the booking for the current user. Caregivers need a payout
// account; care seekers pay first.
func (d *Dispatcher) Book(ctx context.Context, s *session.Enriched) error {
	user, err := d.ready(s)
	if err != nil {
		return err
	}

	log := d.log.WithFields(logrus.Fields{"action": session.ActionBook, "session_id": s.ID})

	if user.IsPsw && !user.HasPayoutAccount() {
		log.Info("payout account missing, redirecting to setup")
		d.deps.Nav.Navigate(RoutePayoutSetup, nil)
		return apperr.New(apperr.CodePayoutRequired, "Set up your payout account before booking.")
	}

	if err := d.acquire(session.ActionBook, s.ID); err != nil {
		return err
	}
	defer d.release()

	if !user.IsPsw {
		paid, err := d.deps.Payments.Collect(ctx, s)
		if err != nil {
			return d.fail(log, err, "There was a problem processing your payment. Please try again.")
		}
		if !paid {
			log.Info("payment canceled, not booking")
			return apperr.New(apperr.CodePaymentCanceled, "Payment was canceled.")
		}
	}

	if err := d.deps.Mutator.Book(ctx, s.ID, user.ID); err != nil {
		return d.fail(log, err, "Failed to book session. Please try again.")
	}

	log.Info("session booked")
	d.succeed()
	d.deps.Alerts.Alert("Success", "Session booked successfully!")
	d.deps.Nav.Navigate(RouteBack, nil)

	return nil
}

// Cancel withdraws from a pending session or cancels a confirmed one,
// depending on its status.
func (d *Dispatcher) Cancel(ctx context.Context, s *session.Enriched) error {
	if _, err := d.ready(s); err != nil {
		return err
	}

	intent, err := session.ResolveCancelIntent(s.Status)
	if err != nil {
		return err
	}

	log := d.log.WithFields(logrus.Fields{"action": session.ActionCancel, "session_id": s.ID, "intent": intent})

	if err := d.acquire(session.ActionCancel, s.ID); err != nil {
		return err
	}
	defer d.release()

	switch intent {
	case session.PreBookingWithdrawal:
		err = d.deps.Mutator.Decline(ctx, s.ID)
	case session.PostBookingCancellation:
		err = d.deps.Mutator.Cancel(ctx, s.ID)
	}
	if err != nil {
		return d.fail(log, err, "Failed to cancel session")
	}

	log.Info("session cancelled")
	d.succeed()
	d.deps.Nav.Navigate(RouteBack, nil)

	return nil
}

// Change sends the user to the request screen to edit the session. Pending and
// confirmed sessions take the same path.
func (d *Dispatcher) Change(s *session.Enriched) error {
	if _, err := d.ready(s); err != nil {
		return err
	}

	switch s.Status {
	case session.StatusPending, session.StatusConfirmed:
	default:
		return apperr.New(apperr.CodeInvalidState, "This session can no longer be changed.").
			WithDetail("status", string(s.Status))
	}

	d.deps.Nav.Navigate(RouteRequestSession, map[string]string{
		"otherUserId": s.OtherUser.ID,
		"sessionId":   s.ID,
	})

	return nil
}

// Accept takes on a new request.
func (d *Dispatcher) Accept(ctx context.Context, s *session.Enriched) error {
	return d.respond(ctx, s, session.ActionAccept, d.deps.Mutator.Accept, "Failed to accept session")
}

// Reject turns down a new request.
func (d *Dispatcher) Reject(ctx context.Context, s *session.Enriched) error {
	return d.respond(ctx, s, session.ActionReject, d.deps.Mutator.Reject, "Failed to reject session")
}

func (d *Dispatcher) respond(ctx context.Context, s *session.Enriched, action session.Action,
	mutate func(context.Context, string) error, fallback string) error {
	if _, err := d.ready(s); err != nil {
		return err
	}

	log := d.log.WithFields(logrus.Fields{"action": action, "session_id": s.ID})

	if err := d.acquire(action, s.ID); err != nil {
		return err
	}
	defer d.release()

	if err := mutate(ctx, s.ID); err != nil {
		return d.fail(log, err, fallback)
	}

	log.Info("request answered")
	d.succeed()
	d.deps.Nav.Navigate(RouteBack, nil)

	return nil
}
