// Package payout checks whether a caregiver's payout account can receive money.
package payout

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"amicare/internal/api"
	"amicare/internal/apperr"
	"amicare/internal/logging"
)

// Status is the onboarding state of a payout account.
type Status = api.OnboardingStatus

// Ready reports whether the account can receive payouts.
func Ready(s Status) bool {
	return s.IsOnboardingComplete && s.PayoutsEnabled
}

// StatusSource fetches the current onboarding status.
type StatusSource interface {
	OnboardingStatus(ctx context.Context, accountID string) (api.OnboardingStatus, error)
}

// Options bounds polling.
type Options struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
}

// Poller waits for an account to finish onboarding.
type Poller struct {
	src  StatusSource
	opts Options
	log  *logrus.Entry
}

var errNotReady = errors.New("payout account not ready")

// NewPoller creates a Poller. Zero options fall back to 3s, 30s and 10m.
func NewPoller(src StatusSource, opts Options) *Poller {
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 3 * time.Second
	}
	if opts.MaxInterval < opts.InitialInterval {
		opts.MaxInterval = 10 * opts.InitialInterval
	}
	if opts.MaxElapsed <= 0 {
		opts.MaxElapsed = 10 * time.Minute
	}

	return &Poller{
		src:  src,
		opts: opts,
		log:  logging.NewLogger("payout"),
	}
}

// Check fetches the status once.
func (p *Poller) Check(ctx context.Context, accountID string) (Status, error) {
	if accountID == "" {
		return Status{}, apperr.New(apperr.CodePayoutRequired, "No payout account is set up.")
	}

	return p.src.OnboardingStatus(ctx, accountID)
}

// Wait polls until the account is ready. It gives up with POLL_EXHAUSTED once
// MaxElapsed passes so the caller can offer to check again.
func (p *Poller) Wait(ctx context.Context, accountID string) (Status, error) {
	if accountID == "" {
		return Status{}, apperr.New(apperr.CodePayoutRequired, "No payout account is set up.")
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.opts.InitialInterval
	b.MaxInterval = p.opts.MaxInterval
	b.MaxElapsedTime = p.opts.MaxElapsed

	log := p.log.WithField("account_id", accountID)
	attempts := 0

	status, err := backoff.RetryNotifyWithData(func() (Status, error) {
		attempts++
		s, err := p.src.OnboardingStatus(ctx, accountID)
		if err != nil {
			return Status{}, err
		}
		if !Ready(s) {
			return s, errNotReady
		}
		return s, nil
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		log.WithError(err).WithField("next", next).Debug("payout account not ready yet")
	})

	if err == nil {
		log.WithField("attempts", attempts).Info("payout account ready")
		return status, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return status, ctxErr
	}

	return status, apperr.Wrap(err, apperr.CodePollExhausted,
		"Your payout account is still being set up. Check again later.").
		WithDetail("attempts", attempts)
}
