// Package payments owns payment records and the reconciliation of external
// payment-provider signals into internal state. Both confirmation triggers
// (client verify call and provider webhook) funnel into one idempotent
// Reconcile entry point; a compare-and-set on the payment status closes the
// race between them.
package payments

import "errors"

// Type distinguishes what the payment pays for.
type Type string

const (
	// TypeConsultation is the booking fee for a consultation hold.
	TypeConsultation Type = "consultation"
	// TypeDeposit is the casework deposit on a visa application.
	TypeDeposit Type = "deposit"
)

// Status is the payment lifecycle state. A payment that reaches completed
// never regresses; every status write is conditioned on the prior status.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

var (
	// ErrPaymentNotFound indicates no payment matches the given id or session.
	ErrPaymentNotFound = errors.New("payments: payment not found")
	// ErrStatusConflict is returned when a status transition loses its
	// compare-and-set because the payment is no longer in the expected state.
	ErrStatusConflict = errors.New("payments: status conflict")
	// ErrInvoiceAssigned is returned when an invoice URL is already set; the
	// invoice reference is assigned exactly once.
	ErrInvoiceAssigned = errors.New("payments: invoice already assigned")
)

// Payment is one charge against a client, linked to either a consultation or
// a visa application.
type Payment struct {
	ID             string `dynamodbav:"id" json:"id"`
	ClientID       string `dynamodbav:"clientId" json:"clientId"`
	ClientEmail    string `dynamodbav:"clientEmail" json:"clientEmail"`
	ConsultationID string `dynamodbav:"consultationId,omitempty" json:"consultationId,omitempty"`
	ApplicationID  string `dynamodbav:"applicationId,omitempty" json:"applicationId,omitempty"`
	AmountCents    int64  `dynamodbav:"amountCents" json:"amountCents"`
	Currency       string `dynamodbav:"currency" json:"currency"`
	Type           Type   `dynamodbav:"type" json:"type"`
	Status         Status `dynamodbav:"status" json:"status"`
	SessionID      string `dynamodbav:"sessionId,omitempty" json:"sessionId,omitempty"`
	ProviderRef    string `dynamodbav:"providerRef,omitempty" json:"providerRef,omitempty"`
	InvoiceURL     string `dynamodbav:"invoiceURL,omitempty" json:"invoiceUrl,omitempty"`
	RefundRef      string `dynamodbav:"refundRef,omitempty" json:"refundRef,omitempty"`
	FailureReason  string `dynamodbav:"failureReason,omitempty" json:"failureReason,omitempty"`
	ExpiresAt      int64  `dynamodbav:"expiresAt,omitempty" json:"-"`
	CreatedAt      string `dynamodbav:"createdAt" json:"createdAt"`
	UpdatedAt      string `dynamodbav:"updatedAt" json:"updatedAt"`
}
