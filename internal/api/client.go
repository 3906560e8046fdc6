// Package api is the REST client for the session backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"amicare/internal/apperr"
	"amicare/internal/logging"
	"amicare/internal/session"
)

// maxErrorBody bounds how much of a failed response is read for its message.
const maxErrorBody = 4 << 10

// Client calls the backend over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	log        *logrus.Entry
}

// NewClient creates a Client for baseURL. token may be empty.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		log:        logging.NewLogger("api"),
	}
}

// OnboardingStatus is the payout account state reported by the processor.
type OnboardingStatus struct {
	IsOnboardingComplete bool `json:"isOnboardingComplete"`
	ChargesEnabled       bool `json:"chargesEnabled"`
	PayoutsEnabled       bool `json:"payoutsEnabled"`
}

// PaymentIntentRequest asks the backend for a payment intent.
type PaymentIntentRequest struct {
	Amount             int64  `json:"amount"`
	Currency           string `json:"currency"`
	SessionID          string `json:"sessionId"`
	PswStripeAccountID string `json:"pswStripeAccountId"`
}

// PaymentIntent is the created intent as the client sees it.
type PaymentIntent struct {
	ClientSecret string `json:"clientSecret"`
}

// Report is a complaint filed against a session.
type Report struct {
	UserID         string `json:"userId"`
	Reason         string `json:"reason"`
	AdditionalInfo string `json:"additionalInfo,omitempty"`
}

// EnrichedSessions returns the sessions tab for userID.
func (c *Client) EnrichedSessions(ctx context.Context, userID string, isPsw bool) ([]*session.Enriched, error) {
	q := url.Values{}
	q.Set("userId", userID)
	q.Set("isPsw", strconv.FormatBool(isPsw))

	var sessions []*session.Enriched
	if err := c.do(ctx, http.MethodGet, "/sessions/tab?"+q.Encode(), nil, &sessions); err != nil {
		return nil, err
	}

	return sessions, nil
}

// Accept moves a new request to pending.
func (c *Client) Accept(ctx context.Context, sessionID string) error {
	return c.patchAction(ctx, sessionID, "accept", nil)
}

// Reject refuses a new request.
func (c *Client) Reject(ctx context.Context, sessionID string) error {
	return c.patchAction(ctx, sessionID, "reject", nil)
}

// Decline withdraws from a pending session that was never booked.
func (c *Client) Decline(ctx context.Context, sessionID string) error {
	return c.patchAction(ctx, sessionID, "decline", nil)
}

// Cancel cancels a booked session.
func (c *Client) Cancel(ctx context.Context, sessionID string) error {
	return c.patchAction(ctx, sessionID, "cancel", nil)
}

// Book records userID's booking confirmation.
func (c *Client) Book(ctx context.Context, sessionID, userID string) error {
	return c.patchAction(ctx, sessionID, "book", map[string]string{"userId": userID})
}

// UpdateChecklist replaces the session checklist.
func (c *Client) UpdateChecklist(ctx context.Context, sessionID string, items []session.ChecklistItem) error {
	body := map[string]any{"checklist": items}
	return c.do(ctx, http.MethodPut, sessionPath(sessionID, "checklist"), body, nil)
}

// AddComment appends a comment to the session.
func (c *Client) AddComment(ctx context.Context, sessionID, userID, text string) error {
	body := map[string]string{"text": text, "userId": userID}
	return c.do(ctx, http.MethodPost, sessionPath(sessionID, "comments"), body, nil)
}

// Report files a report about the session.
func (c *Client) Report(ctx context.Context, sessionID string, r Report) error {
	return c.do(ctx, http.MethodPost, sessionPath(sessionID, "report"), r, nil)
}

// SendMessage posts a chat message into the session conversation.
func (c *Client) SendMessage(ctx context.Context, sessionID, userID, message string) error {
	body := map[string]string{"userId": userID, "message": message}
	return c.do(ctx, http.MethodPost, sessionPath(sessionID, "messages"), body, nil)
}

// OnboardingStatus reports the payout onboarding state of accountID.
func (c *Client) OnboardingStatus(ctx context.Context, accountID string) (OnboardingStatus, error) {
	var status OnboardingStatus
	err := c.do(ctx, http.MethodGet, "/payments/stripe/onboarding-status/"+url.PathEscape(accountID), nil, &status)

	return status, err
}

// CreatePaymentIntent creates a payment intent for a booking.
func (c *Client) CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (PaymentIntent, error) {
	var intent PaymentIntent
	if err := c.do(ctx, http.MethodPost, "/payments/create-intent", req, &intent); err != nil {
		return PaymentIntent{}, err
	}

	if intent.ClientSecret == "" {
		return PaymentIntent{}, apperr.New(apperr.CodeNetwork, "No client secret received")
	}

	return intent, nil
}

// VerifyPayment returns the processor status of the intent behind clientSecret.
func (c *Client) VerifyPayment(ctx context.Context, clientSecret string) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	body := map[string]string{"clientSecret": clientSecret}
	if err := c.do(ctx, http.MethodPost, "/payments/verify-status", body, &resp); err != nil {
		return "", err
	}

	return resp.Status, nil
}

func sessionPath(sessionID, action string) string {
	return "/sessions/" + url.PathEscape(sessionID) + "/" + action
}

func (c *Client) patchAction(ctx context.Context, sessionID, action string, body any) error {
	return c.do(ctx, http.MethodPatch, sessionPath(sessionID, action), body, nil)
}

// do sends one request and decodes a JSON response into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	requestID := uuid.New().String()
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	log := c.log.WithFields(logrus.Fields{"method": method, "path": path, "request_id": requestID})
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.WithError(err).Warn("request failed")
		return apperr.Wrap(err, apperr.CodeNetwork, "Unable to reach the server. Please try again.").
			WithDetail("path", path)
	}
	defer resp.Body.Close()

	log.WithFields(logrus.Fields{"status": resp.StatusCode, "took": time.Since(start)}).Debug("request done")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return responseError(resp, path)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Wrap(err, apperr.CodeNetwork, "Unexpected response from the server.").
			WithDetail("path", path)
	}

	return nil
}

// responseError builds the error for a non-2xx response, preferring the
// server's "message" field, then the raw body, then the status line.
func responseError(resp *http.Response, path string) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	message := ""
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil {
		message = payload.Message
		if message == "" {
			message = payload.Error
		}
	} else {
		message = strings.TrimSpace(string(data))
	}

	if message == "" {
		message = fmt.Sprintf("HTTP error! status: %d", resp.StatusCode)
	}

	return apperr.New(apperr.CodeNetwork, message).
		WithDetail("status", resp.StatusCode).
		WithDetail("path", path)
}
