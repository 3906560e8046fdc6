package session

import (
	"fmt"
	"time"
)

// Action is a user intent on a session.
type Action string

const (
	ActionBook   Action = "book"
	ActionCancel Action = "cancel"
	ActionChange Action = "change"
	ActionAccept Action = "accept"
	ActionReject Action = "reject"
)

// lateChangeWindow is how close to the start a cancel or change stops being
// a rating issue and becomes non-refundable.
const lateChangeWindow = 2 * time.Hour

// Header is the booking summary shown above a conversation.
type Header struct {
	IsConfirmed     bool
	IsUserConfirmed bool
	Disabled        bool
	BookLabel       string
	CostLabel       string
}

// HeaderFor derives the booking header for viewer.
func HeaderFor(s *Session, viewer string) Header {
	h := Header{
		IsConfirmed:     s.Status == StatusConfirmed,
		IsUserConfirmed: s.HasConfirmed(viewer),
	}

	h.Disabled = !h.IsConfirmed && h.IsUserConfirmed

	switch {
	case h.IsConfirmed:
		h.BookLabel = "Change"
	case h.IsUserConfirmed:
		h.BookLabel = "Waiting..."
	default:
		h.BookLabel = "Book"
	}

	var total float64
	if s.BillingDetails != nil {
		total = s.BillingDetails.Total
	}

	h.CostLabel = fmt.Sprintf("%.2f", total)

	return h
}

// Prompt is the copy of a confirmation screen.
type Prompt struct {
	Header      string
	Message     string
	ButtonLabel string
	Destructive bool
}

// ConfirmationPrompt builds the confirmation copy for action. The second
// result is false when the action has no confirmation screen.
func ConfirmationPrompt(action Action, s *Session, now time.Time) (Prompt, bool) {
	early := !s.StartTime.IsZero() && s.StartTime.Sub(now) >= lateChangeWindow

	switch action {
	case ActionBook:
		return Prompt{
			Header:      "Confirm Booking",
			Message:     "By clicking \"Confirm Session\" you agree to the terms of service.",
			ButtonLabel: "Confirm Session",
		}, true

	case ActionCancel:
		p := Prompt{
			Header:      "Confirm Cancellation",
			ButtonLabel: "Cancel Session",
			Destructive: true,
		}

		switch s.Status {
		case StatusPending:
			p.Message = "Cancelling now will end your chat and you'll need to send a new session request."
		case StatusConfirmed:
			if early {
				p.Message = "Cancelling now will hurt your rating. Are you sure you want to cancel?"
			} else {
				p.Message = "Cancellation is non-refundable."
			}
		}

		return p, true

	case ActionChange:
		p := Prompt{Header: "Confirm Change"}

		switch s.Status {
		case StatusPending:
			p.Message = "Changing the time will send you to the session request page to update your request."
			p.ButtonLabel = "Change Time"
		case StatusConfirmed:
			if early {
				p.Message = "Your session needs to be rebooked. Please update your session details. (This may affect your rating.)"
			} else {
				p.Message = "Session change is non-refundable."
			}

			p.ButtonLabel = "Change Session"
			p.Destructive = true
		}

		return p, true
	}

	return Prompt{}, false
}
