package session

import (
	"fmt"

	"amicare/internal/apperr"
)

// CancelIntent is what a single "Cancel" control means for a session in its
// current booking status.
type CancelIntent int

const (
	// PreBookingWithdrawal declines a request that was never booked.
	PreBookingWithdrawal CancelIntent = iota + 1
	// PostBookingCancellation cancels a booked session and may carry billing
	// consequences server-side.
	PostBookingCancellation
)

func (c CancelIntent) String() string {
	switch c {
	case PreBookingWithdrawal:
		return "decline"
	case PostBookingCancellation:
		return "cancel"
	default:
		return "unknown"
	}
}

// ResolveCancelIntent picks the cancel variant from the booking status.
// Only pending and confirmed sessions can be cancelled from the client.
func ResolveCancelIntent(status Status) (CancelIntent, error) {
	switch status {
	case StatusPending:
		return PreBookingWithdrawal, nil
	case StatusConfirmed:
		return PostBookingCancellation, nil
	default:
		return 0, apperr.New(apperr.CodeInvalidState,
			fmt.Sprintf("a %s session cannot be cancelled", status)).
			WithDetail("status", string(status))
	}
}
