package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/atlasvisa/booking-platform/internal/clients"
	"github.com/atlasvisa/booking-platform/internal/events"
	"github.com/atlasvisa/booking-platform/internal/invoices"
	"github.com/atlasvisa/booking-platform/internal/observability/metrics"
	"github.com/atlasvisa/booking-platform/pkg/logging"
)

var reconcileTracer = otel.Tracer("atlasvisa.internal.payments.reconcile")

// Reconciliation triggers, recorded for metrics and logs.
const (
	TriggerWebhook = "webhook"
	TriggerVerify  = "verify"
	TriggerConfirm = "confirm"
)

// PaymentRef identifies a payment by either correlation key. The verify call
// carries the session id, the webhook carries the payment id in its metadata,
// and confirm-booking carries the internal id.
type PaymentRef struct {
	PaymentID string
	SessionID string
}

// Signal is one external payment-status signal.
type Signal struct {
	Succeeded   bool
	ProviderRef string
	Reason      string
	Trigger     string
}

// Result reports the payment state after a reconciliation and whether this
// call was the one that applied the transition.
type Result struct {
	PaymentID  string `json:"paymentId"`
	Status     Status `json:"status"`
	Applied    bool   `json:"applied"`
	InvoiceURL string `json:"invoiceUrl,omitempty"`
}

type reconcileStore interface {
	Get(ctx context.Context, id string) (*Payment, error)
	GetBySession(ctx context.Context, sessionID string) (*Payment, error)
	MarkCompleted(ctx context.Context, id, providerRef string) error
	MarkFailed(ctx context.Context, id, reason string) error
	SetInvoiceURL(ctx context.Context, id, url string) error
}

// ConfirmedBooking carries what the confirmation notice needs from the
// consultation side.
type ConfirmedBooking struct {
	ClientName string
	SlotStart  time.Time
	Method     string
}

// consultationConfirmer advances a consultation once its payment settles and
// abandons holds whose payment failed past the hold window.
type consultationConfirmer interface {
	ConfirmFromPayment(ctx context.Context, consultationID, paymentID string) (*ConfirmedBooking, error)
	AbandonLapsedHold(ctx context.Context, consultationID string) error
}

// depositApplier advances a visa application once its deposit settles.
type depositApplier interface {
	MarkDepositPaid(ctx context.Context, id string) error
}

// clientDirectory resolves client names for invoices and notices.
type clientDirectory interface {
	GetByEmail(ctx context.Context, email string) (*clients.Client, error)
}

// invoiceWriter renders and stores invoices.
type invoiceWriter interface {
	Enabled() bool
	Generate(ctx context.Context, inv invoices.Invoice) (string, error)
}

// notificationScheduler enqueues notification jobs for async delivery.
type notificationScheduler interface {
	Enqueue(ctx context.Context, job events.NotificationJob) error
}

// Reconciler applies external payment-status signals to internal state
// exactly once. The webhook, the verify call, and confirm-booking all funnel
// into Reconcile; a conditional pending-to-completed write decides which
// trigger performs the one-time side effects, and every other trigger
// observes the settled state and short-circuits.
type Reconciler struct {
	store         reconcileStore
	consultations consultationConfirmer
	applications  depositApplier
	directory     clientDirectory
	invoices      invoiceWriter
	publisher     notificationScheduler
	metrics       *metrics.BookingMetrics
	logger        *logging.Logger
}

// NewReconciler wires the reconciler to its collaborators. Any of the
// side-effect collaborators may be nil; missing ones are skipped and logged.
func NewReconciler(
	store reconcileStore,
	consultations consultationConfirmer,
	applications depositApplier,
	directory clientDirectory,
	inv invoiceWriter,
	publisher notificationScheduler,
	m *metrics.BookingMetrics,
	logger *logging.Logger,
) *Reconciler {
	if store == nil {
		panic("payments: reconciler store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Reconciler{
		store:         store,
		consultations: consultations,
		applications:  applications,
		directory:     directory,
		invoices:      inv,
		publisher:     publisher,
		metrics:       m,
		logger:        logger.Component("reconciler"),
	}
}

// Reconcile resolves the payment by either correlation key and applies the
// signal. Safe to call zero, one, or many times per payment, in any order,
// concurrently: a payment that already reached completed is returned
// unchanged with Applied=false.
func (r *Reconciler) Reconcile(ctx context.Context, ref PaymentRef, sig Signal) (*Result, error) {
	ctx, span := reconcileTracer.Start(ctx, "payments.reconcile")
	defer span.End()

	trigger := sig.Trigger
	if trigger == "" {
		trigger = "unknown"
	}
	span.SetAttributes(
		attribute.String("atlasvisa.trigger", trigger),
		attribute.Bool("atlasvisa.succeeded", sig.Succeeded),
	)

	payment, err := r.resolve(ctx, ref)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			r.metrics.ObserveReconciliation(trigger, "not_found")
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("atlasvisa.payment_id", payment.ID))

	if payment.Status == StatusCompleted {
		r.metrics.ObserveReconciliation(trigger, "already_completed")
		return &Result{PaymentID: payment.ID, Status: StatusCompleted, InvoiceURL: payment.InvoiceURL}, nil
	}

	if sig.Succeeded {
		return r.applySuccess(ctx, payment, sig, trigger)
	}
	return r.applyFailure(ctx, payment, sig, trigger)
}

func (r *Reconciler) resolve(ctx context.Context, ref PaymentRef) (*Payment, error) {
	if ref.PaymentID != "" {
		p, err := r.store.Get(ctx, ref.PaymentID)
		if err == nil || !errors.Is(err, ErrPaymentNotFound) || ref.SessionID == "" {
			return p, err
		}
	}
	if ref.SessionID != "" {
		return r.store.GetBySession(ctx, ref.SessionID)
	}
	return nil, fmt.Errorf("payments: payment reference required")
}

// applySuccess performs the single conditional pending-to-completed write.
// The winner runs the one-time side effects; side-effect failures are logged
// and never roll the completed payment back.
func (r *Reconciler) applySuccess(ctx context.Context, payment *Payment, sig Signal, trigger string) (*Result, error) {
	providerRef := sig.ProviderRef
	if providerRef == "" {
		providerRef = payment.SessionID
	}

	err := r.store.MarkCompleted(ctx, payment.ID, providerRef)
	if errors.Is(err, ErrStatusConflict) {
		// Another trigger settled the payment first, or it is already in a
		// terminal state. Report what is there now.
		current, readErr := r.store.Get(ctx, payment.ID)
		if readErr != nil {
			return nil, readErr
		}
		r.metrics.ObserveReconciliation(trigger, "superseded")
		return &Result{PaymentID: current.ID, Status: current.Status, InvoiceURL: current.InvoiceURL}, nil
	}
	if err != nil {
		r.metrics.ObserveReconciliation(trigger, "error")
		return nil, err
	}

	res := &Result{PaymentID: payment.ID, Status: StatusCompleted, Applied: true}
	job := events.NotificationJob{
		Email:       payment.ClientEmail,
		PaymentID:   payment.ID,
		AmountCents: int(payment.AmountCents),
		Currency:    payment.Currency,
	}

	var clientName string
	switch {
	case payment.ConsultationID != "" && r.consultations != nil:
		booking, confirmErr := r.consultations.ConfirmFromPayment(ctx, payment.ConsultationID, payment.ID)
		if confirmErr != nil {
			// The payment stays completed; the hold may have lapsed and been
			// rebooked. Staff follow-up is needed either way.
			r.logger.Error("consultation not confirmed after payment completion",
				"payment_id", payment.ID, "consultation_id", payment.ConsultationID, "error", confirmErr)
		} else {
			job.Kind = events.KindBookingConfirmed
			job.ConsultationID = payment.ConsultationID
			if booking != nil {
				clientName = booking.ClientName
				slot := booking.SlotStart
				job.SlotStart = &slot
				job.Method = booking.Method
			}
		}
	case payment.ApplicationID != "" && r.applications != nil:
		if advErr := r.applications.MarkDepositPaid(ctx, payment.ApplicationID); advErr != nil {
			r.logger.Error("application not advanced after deposit completion",
				"payment_id", payment.ID, "application_id", payment.ApplicationID, "error", advErr)
		} else {
			job.Kind = events.KindDepositReceived
			job.ApplicationID = payment.ApplicationID
		}
	default:
		r.logger.Warn("completed payment has no linked consultation or application", "payment_id", payment.ID)
	}

	if clientName == "" && r.directory != nil {
		if c, dirErr := r.directory.GetByEmail(ctx, payment.ClientEmail); dirErr == nil && c != nil {
			clientName = c.Name
		}
	}
	job.Name = clientName

	if url := r.generateInvoice(ctx, payment, clientName); url != "" {
		res.InvoiceURL = url
		job.InvoiceURL = url
	}

	if job.Kind != "" && r.publisher != nil {
		if pubErr := r.publisher.Enqueue(ctx, job); pubErr != nil {
			r.logger.Error("confirmation notification enqueue failed", "payment_id", payment.ID, "error", pubErr)
		}
	}

	r.metrics.ObserveReconciliation(trigger, "applied")
	r.logger.Info("payment reconciled", "payment_id", payment.ID, "trigger", trigger, "provider_ref", providerRef)
	return res, nil
}

// applyFailure marks a pending payment failed. The linked hold keeps running
// out its clock so the client can retry payment, unless the hold window has
// already passed, in which case the consultation is cancelled and the slot
// released.
func (r *Reconciler) applyFailure(ctx context.Context, payment *Payment, sig Signal, trigger string) (*Result, error) {
	if payment.Status != StatusPending {
		r.metrics.ObserveReconciliation(trigger, "noop")
		return &Result{PaymentID: payment.ID, Status: payment.Status, InvoiceURL: payment.InvoiceURL}, nil
	}

	reason := sig.Reason
	if reason == "" {
		reason = "payment failed"
	}
	err := r.store.MarkFailed(ctx, payment.ID, reason)
	if errors.Is(err, ErrStatusConflict) {
		current, readErr := r.store.Get(ctx, payment.ID)
		if readErr != nil {
			return nil, readErr
		}
		r.metrics.ObserveReconciliation(trigger, "superseded")
		return &Result{PaymentID: current.ID, Status: current.Status, InvoiceURL: current.InvoiceURL}, nil
	}
	if err != nil {
		r.metrics.ObserveReconciliation(trigger, "error")
		return nil, err
	}

	if payment.ConsultationID != "" && r.consultations != nil {
		if abandonErr := r.consultations.AbandonLapsedHold(ctx, payment.ConsultationID); abandonErr != nil {
			r.logger.Warn("failed to abandon lapsed hold",
				"consultation_id", payment.ConsultationID, "error", abandonErr)
		}
	}

	r.metrics.ObserveReconciliation(trigger, "failed")
	r.logger.Info("payment marked failed", "payment_id", payment.ID, "trigger", trigger, "reason", reason)
	return &Result{PaymentID: payment.ID, Status: StatusFailed, Applied: true}, nil
}

// generateInvoice renders and stores the invoice, then assigns its URL to the
// payment exactly once. Losing the assignment race means another trigger
// already invoiced; the stored URL wins.
func (r *Reconciler) generateInvoice(ctx context.Context, payment *Payment, clientName string) string {
	if r.invoices == nil || !r.invoices.Enabled() {
		return ""
	}

	description := "Immigration consultation fee"
	if payment.Type == TypeDeposit {
		description = "Visa application deposit"
	}
	url, err := r.invoices.Generate(ctx, invoices.Invoice{
		PaymentID:   payment.ID,
		ClientName:  clientName,
		ClientEmail: payment.ClientEmail,
		Description: description,
		AmountCents: int(payment.AmountCents),
		Currency:    payment.Currency,
	})
	if err != nil {
		r.logger.Error("invoice generation failed", "payment_id", payment.ID, "error", err)
		return ""
	}
	if url == "" {
		return ""
	}

	if err := r.store.SetInvoiceURL(ctx, payment.ID, url); err != nil {
		if errors.Is(err, ErrInvoiceAssigned) {
			if current, readErr := r.store.Get(ctx, payment.ID); readErr == nil && current.InvoiceURL != "" {
				return current.InvoiceURL
			}
			return url
		}
		r.logger.Error("invoice assignment failed", "payment_id", payment.ID, "url", url, "error", err)
	}
	return url
}
