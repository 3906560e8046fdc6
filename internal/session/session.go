// Package session holds the care session data model owned by the backend and
// the pure functions that derive client display state from it.
package session

import "slices"

// Status is the booking lifecycle of a session.
type Status string

const (
	StatusNewRequest Status = "newRequest"
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusRejected   Status = "rejected"
	StatusDeclined   Status = "declined"
	StatusCancelled  Status = "cancelled"
	StatusInProgress Status = "inProgress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// LiveStatus tracks the real-time progress of a booked session.
type LiveStatus string

const (
	LiveUpcoming  LiveStatus = "upcoming"
	LiveReady     LiveStatus = "ready"
	LiveStarted   LiveStatus = "started"
	LiveEnding    LiveStatus = "ending"
	LiveCompleted LiveStatus = "completed"
	LiveFailed    LiveStatus = "failed"
)

var liveRank = map[LiveStatus]int{
	LiveUpcoming:  1,
	LiveReady:     2,
	LiveStarted:   3,
	LiveEnding:    4,
	LiveCompleted: 5,
	LiveFailed:    5,
}

// Rank orders live statuses along upcoming → completed. Unknown values rank 0.
func (l LiveStatus) Rank() int {
	return liveRank[l]
}

// Terminal reports whether the session has left the live phase.
func (l LiveStatus) Terminal() bool {
	return l == LiveCompleted || l == LiveFailed
}

// Readiness records one participant's live-session confirmation.
type Readiness struct {
	Confirmed   bool      `json:"confirmed"`
	ConfirmedAt Timestamp `json:"confirmedAt"`
}

// ReadinessMap is keyed by participant id.
type ReadinessMap map[string]Readiness

// ConfirmedBy reports whether userID has confirmed.
func (m ReadinessMap) ConfirmedBy(userID string) bool {
	r, ok := m[userID]
	return ok && r.Confirmed
}

// OtherConfirmed reports whether any participant other than viewer confirmed.
func (m ReadinessMap) OtherConfirmed(viewer string) bool {
	for id, r := range m {
		if id != viewer && r.Confirmed {
			return true
		}
	}

	return false
}

// Mutual reports whether both a and b are present and confirmed.
func (m ReadinessMap) Mutual(a, b string) bool {
	return m.ConfirmedBy(a) && m.ConfirmedBy(b)
}

// ChecklistItem is one task in the shared live checklist.
type ChecklistItem struct {
	ID        string `json:"id"`
	Task      string `json:"task"`
	Completed bool   `json:"completed"`
	Time      string `json:"time"`
}

// BillingDetails are server-computed totals.
type BillingDetails struct {
	BasePrice  float64 `json:"basePrice"`
	Taxes      float64 `json:"taxes"`
	ServiceFee float64 `json:"serviceFee"`
	Total      float64 `json:"total"`
}

// TotalCents converts the total to the smallest currency unit.
func (b BillingDetails) TotalCents() int64 {
	cents := b.Total * 100
	if cents < 0 {
		return int64(cents - 0.5)
	}

	return int64(cents + 0.5)
}

// Comment is a note left on a session.
type Comment struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Text      string    `json:"text"`
	Timestamp Timestamp `json:"timestamp"`
}

// Session is a care engagement between a sender and a receiver.
type Session struct {
	ID                  string          `json:"id"`
	SenderID            string          `json:"senderId"`
	ReceiverID          string          `json:"receiverId"`
	Participants        []string        `json:"participants,omitempty"`
	Status              Status          `json:"status"`
	LiveStatus          LiveStatus      `json:"liveStatus,omitempty"`
	LiveStatusUpdatedAt Timestamp       `json:"liveStatusUpdatedAt"`
	ConfirmedBy         []string        `json:"confirmedBy,omitempty"`
	ReadyToStart        ReadinessMap    `json:"readyToStart,omitempty"`
	ReadyToEnd          ReadinessMap    `json:"readyToEnd,omitempty"`
	CreatedAt           Timestamp       `json:"createdAt"`
	UpdatedAt           Timestamp       `json:"updatedAt"`
	StartTime           Timestamp       `json:"startTime"`
	EndTime             Timestamp       `json:"endTime"`
	ActualStartTime     Timestamp       `json:"actualStartTime"`
	ActualEndTime       Timestamp       `json:"actualEndTime"`
	Note                string          `json:"note,omitempty"`
	Checklist           []ChecklistItem `json:"checklist,omitempty"`
	Comments            []Comment       `json:"comments,omitempty"`
	BillingDetails      *BillingDetails `json:"billingDetails,omitempty"`
}

// HasConfirmed reports whether userID has confirmed the booking.
func (s *Session) HasConfirmed(userID string) bool {
	return userID != "" && slices.Contains(s.ConfirmedBy, userID)
}

// Counterpart returns the participant that is not userID.
func (s *Session) Counterpart(userID string) string {
	if s.SenderID == userID {
		return s.ReceiverID
	}

	return s.SenderID
}

// IsParticipant reports whether userID is the sender or receiver.
func (s *Session) IsParticipant(userID string) bool {
	return userID != "" && (s.SenderID == userID || s.ReceiverID == userID)
}

// MutuallyReady reports whether both participants confirmed readiness to start.
func (s *Session) MutuallyReady() bool {
	return s.ReadyToStart.Mutual(s.SenderID, s.ReceiverID)
}

// LiveStart is the reference point for elapsed time: the observed start when
// known, otherwise the scheduled one.
func (s *Session) LiveStart() Timestamp {
	if !s.ActualStartTime.IsZero() {
		return s.ActualStartTime
	}

	return s.StartTime
}

// User is the subset of a profile the coordinator reads.
type User struct {
	ID              string `json:"id"`
	FirstName       string `json:"firstName,omitempty"`
	LastName        string `json:"lastName,omitempty"`
	IsPsw           bool   `json:"isPsw"`
	StripeAccountID string `json:"stripeAccountId,omitempty"`
}

// HasPayoutAccount reports whether a payout account is configured.
func (u User) HasPayoutAccount() bool {
	return u.StripeAccountID != ""
}

// Enriched is a session joined with the counterpart's profile.
type Enriched struct {
	Session
	OtherUser *User `json:"otherUser,omitempty"`
}
