// Package payment collects payment for a booking before it is confirmed.
package payment

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"amicare/internal/api"
	"amicare/internal/apperr"
	"amicare/internal/logging"
	"amicare/internal/session"
)

// Currency is the only currency sessions are billed in.
const Currency = "cad"

const statusSucceeded = "succeeded"

// Collector obtains payment for a session. It returns false with a nil error
// when the user backs out.
type Collector interface {
	Collect(ctx context.Context, s *session.Enriched) (bool, error)
}

// Sheet presents the processor's payment UI for a created intent.
type Sheet interface {
	// Present returns false when the user cancels.
	Present(ctx context.Context, clientSecret string, amountCents int64) (bool, error)
}

// Backend is the subset of the API the collector uses.
type Backend interface {
	CreatePaymentIntent(ctx context.Context, req api.PaymentIntentRequest) (api.PaymentIntent, error)
	VerifyPayment(ctx context.Context, clientSecret string) (string, error)
}

// IntentCollector creates a payment intent, presents it, then checks that the
// processor settled it.
type IntentCollector struct {
	backend Backend
	sheet   Sheet
	log     *logrus.Entry
}

// NewIntentCollector creates an IntentCollector.
func NewIntentCollector(backend Backend, sheet Sheet) *IntentCollector {
	return &IntentCollector{
		backend: backend,
		sheet:   sheet,
		log:     logging.NewLogger("payment"),
	}
}

func (c *IntentCollector) Collect(ctx context.Context, s *session.Enriched) (bool, error) {
	if s.BillingDetails == nil {
		return false, apperr.New(apperr.CodePrecondition, "This session has no price yet.")
	}
	if s.OtherUser == nil || !s.OtherUser.HasPayoutAccount() {
		return false, apperr.New(apperr.CodePayoutRequired, "The caregiver cannot receive payments yet.")
	}

	amount := s.BillingDetails.TotalCents()
	log := c.log.WithFields(logrus.Fields{"session_id": s.ID, "amount": amount})

	intent, err := c.backend.CreatePaymentIntent(ctx, api.PaymentIntentRequest{
		Amount:             amount,
		Currency:           Currency,
		SessionID:          s.ID,
		PswStripeAccountID: s.OtherUser.StripeAccountID,
	})
	if err != nil {
		log.WithError(err).Error("failed to create payment intent")
		return false, err
	}

	ok, err := c.sheet.Present(ctx, intent.ClientSecret, amount)
	if err != nil {
		log.WithError(err).Error("payment sheet failed")
		return false, err
	}
	if !ok {
		log.Info("payment canceled by user")
		return false, nil
	}

	status, err := c.backend.VerifyPayment(ctx, intent.ClientSecret)
	if err != nil {
		log.WithError(err).Error("payment verification failed")
		return false, err
	}
	if status != statusSucceeded {
		return false, apperr.New(apperr.CodeNetwork,
			fmt.Sprintf("Payment status: %s. Please try again.", status)).
			WithDetail("status", status)
	}

	log.Info("payment collected")

	return true, nil
}
