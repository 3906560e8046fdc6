package payment

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amicare/internal/api"
	"amicare/internal/apperr"
	"amicare/internal/session"
)

type fakeBackend struct {
	intentReq   api.PaymentIntentRequest
	intentErr   error
	verifyCalls int
	status      string
}

func (f *fakeBackend) CreatePaymentIntent(_ context.Context, req api.PaymentIntentRequest) (api.PaymentIntent, error) {
	f.intentReq = req
	if f.intentErr != nil {
		return api.PaymentIntent{}, f.intentErr
	}
	return api.PaymentIntent{ClientSecret: "pi_123_secret"}, nil
}

func (f *fakeBackend) VerifyPayment(context.Context, string) (string, error) {
	f.verifyCalls++
	return f.status, nil
}

type fakeSheet struct {
	secret string
	ok     bool
	err    error
}

func (f *fakeSheet) Present(_ context.Context, clientSecret string, _ int64) (bool, error) {
	f.secret = clientSecret
	return f.ok, f.err
}

func billable() *session.Enriched {
	return &session.Enriched{
		Session: session.Session{
			ID:             "s1",
			BillingDetails: &session.BillingDetails{Total: 49.99},
		},
		OtherUser: &session.User{ID: "p1", IsPsw: true, StripeAccountID: "acct_p1"},
	}
}

func TestIntentCollector_Success(t *testing.T) {
	backend := &fakeBackend{status: "succeeded"}
	sheet := &fakeSheet{ok: true}

	ok, err := NewIntentCollector(backend, sheet).Collect(context.Background(), billable())
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, api.PaymentIntentRequest{
		Amount:             4999,
		Currency:           "cad",
		SessionID:          "s1",
		PswStripeAccountID: "acct_p1",
	}, backend.intentReq)
	assert.Equal(t, "pi_123_secret", sheet.secret)
	assert.Equal(t, 1, backend.verifyCalls)
}

func TestIntentCollector_UserCancels(t *testing.T) {
	backend := &fakeBackend{status: "succeeded"}

	ok, err := NewIntentCollector(backend, &fakeSheet{ok: false}).Collect(context.Background(), billable())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, backend.verifyCalls)
}

func TestIntentCollector_Failures(t *testing.T) {
	t.Run("intent error", func(t *testing.T) {
		boom := apperr.New(apperr.CodeNetwork, "down")
		_, err := NewIntentCollector(&fakeBackend{intentErr: boom}, &fakeSheet{ok: true}).
			Collect(context.Background(), billable())
		assert.ErrorIs(t, err, boom)
	})

	t.Run("sheet error", func(t *testing.T) {
		sheetErr := errors.New("sheet crashed")
		_, err := NewIntentCollector(&fakeBackend{}, &fakeSheet{err: sheetErr}).
			Collect(context.Background(), billable())
		assert.ErrorIs(t, err, sheetErr)
	})

	t.Run("not settled", func(t *testing.T) {
		ok, err := NewIntentCollector(&fakeBackend{status: "requires_action"}, &fakeSheet{ok: true}).
			Collect(context.Background(), billable())
		assert.False(t, ok)
		assert.Contains(t, apperr.UserMessage(err, ""), "requires_action")
	})

	t.Run("no billing", func(t *testing.T) {
		s := billable()
		s.BillingDetails = nil
		_, err := NewIntentCollector(&fakeBackend{}, &fakeSheet{ok: true}).Collect(context.Background(), s)
		assert.True(t, apperr.Is(err, apperr.CodePrecondition))
	})

	t.Run("no payout account", func(t *testing.T) {
		s := billable()
		s.OtherUser.StripeAccountID = ""
		_, err := NewIntentCollector(&fakeBackend{}, &fakeSheet{ok: true}).Collect(context.Background(), s)
		assert.True(t, apperr.Is(err, apperr.CodePayoutRequired))
	})
}
