// Package events carries the notification jobs the API enqueues and the
// notify worker consumes.
package events

import "time"

// NotificationKind identifies what happened and which template the worker
// should render.
type NotificationKind string

const (
	KindBookingConfirmed   NotificationKind = "booking_confirmed.v1"
	KindBookingCancelled   NotificationKind = "booking_cancelled.v1"
	KindBookingRescheduled NotificationKind = "booking_rescheduled.v1"
	KindPaymentRefunded    NotificationKind = "payment_refunded.v1"
	KindDepositReceived    NotificationKind = "deposit_received.v1"
)

// NotificationJob is the queue payload for one outbound notification.
type NotificationJob struct {
	EventID        string           `json:"event_id"`
	Kind           NotificationKind `json:"kind"`
	Email          string           `json:"email"`
	Name           string           `json:"name,omitempty"`
	ConsultationID string           `json:"consultation_id,omitempty"`
	PaymentID      string           `json:"payment_id,omitempty"`
	ApplicationID  string           `json:"application_id,omitempty"`
	SlotStart      *time.Time       `json:"slot_start,omitempty"`
	Method         string           `json:"method,omitempty"`
	AmountCents    int              `json:"amount_cents,omitempty"`
	Currency       string           `json:"currency,omitempty"`
	InvoiceURL     string           `json:"invoice_url,omitempty"`
	Reason         string           `json:"reason,omitempty"`
	OccurredAt     time.Time        `json:"occurred_at"`
}
