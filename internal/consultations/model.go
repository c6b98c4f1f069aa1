// Package consultations implements booking holds and the consultation
// lifecycle. A booking creates a time-boxed hold paired with a pending
// payment; the hold becomes a confirmed consultation only through payment
// completion, and from there moves through completed, cancelled or
// rescheduled under the transition guards below.
package consultations

import (
	"errors"
	"fmt"
	"time"

	"github.com/atlasvisa/booking-platform/internal/scheduling"
)

// Status is a consultation's lifecycle state.
type Status string

const (
	StatusHold        Status = "hold"
	StatusConfirmed   Status = "confirmed"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusRescheduled Status = "rescheduled"
)

// Terminal reports whether the status accepts no further lifecycle
// transitions. Terminal rows still accept adviser/note metadata updates.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusRescheduled:
		return true
	}
	return false
}

// transitions is the legal edge set of the lifecycle state machine. The
// store enforces the same edges again as conditional writes; this table is
// the cheap pre-check that turns races into clean errors before any I/O.
var transitions = map[Status]map[Status]bool{
	StatusHold: {
		StatusConfirmed:   true,
		StatusCancelled:   true,
		StatusRescheduled: true,
	},
	StatusConfirmed: {
		StatusCompleted:   true,
		StatusCancelled:   true,
		StatusRescheduled: true,
	},
}

// CanTransition reports whether from→to is a legal lifecycle edge.
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

// Method is how the consultation is held.
type Method string

const (
	MethodPhone  Method = "phone"
	MethodVideo  Method = "video"
	MethodOffice Method = "office"
)

// ParseMethod validates a consultation method.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodPhone, MethodVideo, MethodOffice:
		return Method(s), nil
	}
	return "", fmt.Errorf("%w: unknown method %q", ErrValidation, s)
}

var (
	// ErrNotFound indicates no consultation exists for the id.
	ErrNotFound = errors.New("consultations: consultation not found")
	// ErrValidation covers malformed booking input rejected before any write.
	ErrValidation = errors.New("consultations: invalid request")
	// ErrOwnershipMismatch indicates the caller's email does not match the
	// booking.
	ErrOwnershipMismatch = errors.New("consultations: email does not match booking")
	// ErrInvalidTransition indicates the requested lifecycle change is not
	// legal from the consultation's current status.
	ErrInvalidTransition = errors.New("consultations: invalid status transition")
	// ErrVelocityExceeded indicates the client hit the booking attempt limit.
	ErrVelocityExceeded = errors.New("consultations: too many booking attempts")
	// ErrUpstreamVerification indicates the payment provider could not be
	// reached or answered with an error; no state was changed.
	ErrUpstreamVerification = errors.New("consultations: upstream verification failed")
	// ErrReminderAlreadySent indicates the reminder sweep lost the
	// conditional write to a concurrent sweeper.
	ErrReminderAlreadySent = errors.New("consultations: reminder already sent")
)

// Consultation is one booked (or held) appointment.
type Consultation struct {
	ID               string `dynamodbav:"id" json:"id"`
	ClientID         string `dynamodbav:"clientId" json:"clientId"`
	ClientEmail      string `dynamodbav:"clientEmail" json:"clientEmail"`
	AdviserID        string `dynamodbav:"adviserId,omitempty" json:"adviserId,omitempty"`
	SlotStart        string `dynamodbav:"slotStart" json:"slotStart"`
	DurationMins     int    `dynamodbav:"durationMins" json:"durationMins"`
	Method           Method `dynamodbav:"method" json:"method"`
	Status           Status `dynamodbav:"status" json:"status"`
	PaymentID        string `dynamodbav:"paymentId" json:"paymentId"`
	Note             string `dynamodbav:"note,omitempty" json:"note,omitempty"`
	Day              string `dynamodbav:"day" json:"day"`
	ExpiresAt        int64  `dynamodbav:"expiresAt,omitempty" json:"-"`
	RescheduledFrom  string `dynamodbav:"rescheduledFrom,omitempty" json:"rescheduledFrom,omitempty"`
	RescheduleReason string `dynamodbav:"rescheduleReason,omitempty" json:"rescheduleReason,omitempty"`
	ReminderSentAt   string `dynamodbav:"reminderSentAt,omitempty" json:"-"`
	CreatedAt        string `dynamodbav:"createdAt" json:"createdAt"`
	UpdatedAt        string `dynamodbav:"updatedAt" json:"updatedAt"`
}

// StartTime parses the stored slot start. A zero time means the stored value
// is corrupt; callers treat that as unschedulable.
func (c *Consultation) StartTime() time.Time {
	t, err := time.Parse(time.RFC3339, c.SlotStart)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// EndTime is the scheduled end of the consultation.
func (c *Consultation) EndTime() time.Time {
	start := c.StartTime()
	if start.IsZero() {
		return time.Time{}
	}
	mins := c.DurationMins
	if mins <= 0 {
		mins = scheduling.SlotDurationMins
	}
	return start.Add(time.Duration(mins) * time.Minute)
}

// HoldExpired reports whether a hold's deadline has passed. Only holds carry
// a deadline.
func (c *Consultation) HoldExpired(now time.Time) bool {
	return c.Status == StatusHold && c.ExpiresAt > 0 && c.ExpiresAt < now.Unix()
}
