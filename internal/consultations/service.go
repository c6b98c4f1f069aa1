package consultations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/atlasvisa/booking-platform/internal/clients"
	"github.com/atlasvisa/booking-platform/internal/events"
	"github.com/atlasvisa/booking-platform/internal/observability/metrics"
	"github.com/atlasvisa/booking-platform/internal/payments"
	"github.com/atlasvisa/booking-platform/internal/scheduling"
	"github.com/atlasvisa/booking-platform/pkg/logging"
)

var bookingTracer = otel.Tracer("atlasvisa.internal.consultations")

// refundWindow is the hard business rule for cancellation refunds: a
// completed payment is refunded only when the cancellation lands more than
// this long before the scheduled start.
const refundWindow = 24 * time.Hour

type bookingStore interface {
	PutHold(ctx context.Context, c *Consultation) error
	Get(ctx context.Context, id string) (*Consultation, error)
	Confirm(ctx context.Context, id string) error
	Cancel(ctx context.Context, id string) error
	MarkRescheduled(ctx context.Context, id string) error
	Complete(ctx context.Context, id string) error
	UpdateMeta(ctx context.Context, id string, adviserID, note *string) error
	ListByDay(ctx context.Context, day time.Time) ([]Consultation, error)
	Delete(ctx context.Context, id string) error
}

type slotLedger interface {
	Claim(ctx context.Context, start time.Time, consultationID string, holdExpiry time.Time) error
	Promote(ctx context.Context, start time.Time, consultationID string) error
	Release(ctx context.Context, start time.Time, consultationID string) error
	IsSlotAvailable(ctx context.Context, start time.Time) (bool, error)
	AvailableSlots(ctx context.Context, day time.Time) ([]time.Time, error)
}

type clientDirectory interface {
	Ensure(ctx context.Context, email, name, phone string) (*clients.Client, error)
}

type paymentLedger interface {
	Create(ctx context.Context, p *payments.Payment) error
	Get(ctx context.Context, id string) (*payments.Payment, error)
	MarkRefunded(ctx context.Context, id, refundRef string) error
	SetConsultation(ctx context.Context, id, consultationID string) error
	Delete(ctx context.Context, id string) error
}

type paymentProvider interface {
	RetrieveSession(ctx context.Context, sessionID string) (*payments.SessionStatus, error)
	Refund(ctx context.Context, paymentID, providerRef, reason string) (*payments.RefundResult, error)
}

type reconcileRunner interface {
	Reconcile(ctx context.Context, ref payments.PaymentRef, sig payments.Signal) (*payments.Result, error)
}

type velocityChecker interface {
	CheckBookingVelocity(ctx context.Context, email string) (*payments.VelocityResult, error)
}

type notificationScheduler interface {
	Enqueue(ctx context.Context, job events.NotificationJob) error
}

// Config carries the booking business parameters.
type Config struct {
	Grid        scheduling.Grid
	HoldMinutes int
	FeeCents    int64
	Currency    string
}

// DefaultConfig returns the standard booking parameters.
func DefaultConfig() Config {
	return Config{
		Grid:        scheduling.DefaultGrid(),
		HoldMinutes: 30,
		FeeCents:    15000,
		Currency:    "eur",
	}
}

// Service implements booking, the lifecycle transitions, and the
// consultation side of payment reconciliation.
type Service struct {
	store      bookingStore
	ledger     slotLedger
	directory  clientDirectory
	payments   paymentLedger
	provider   paymentProvider
	reconciler reconcileRunner
	velocity   velocityChecker
	publisher  notificationScheduler
	metrics    *metrics.BookingMetrics
	logger     *logging.Logger
	config     Config
	now        func() time.Time
}

// NewService wires the booking service. Store, ledger, directory and payment
// ledger are required; provider and reconciler are needed for the confirm,
// cancel-with-refund and verify flows.
func NewService(store bookingStore, ledger slotLedger, directory clientDirectory, payLedger paymentLedger, provider paymentProvider, reconciler reconcileRunner, logger *logging.Logger) *Service {
	if store == nil {
		panic("consultations: store cannot be nil")
	}
	if ledger == nil {
		panic("consultations: slot ledger cannot be nil")
	}
	if directory == nil {
		panic("consultations: client directory cannot be nil")
	}
	if payLedger == nil {
		panic("consultations: payment ledger cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		store:      store,
		ledger:     ledger,
		directory:  directory,
		payments:   payLedger,
		provider:   provider,
		reconciler: reconciler,
		logger:     logger.Component("bookings"),
		config:     DefaultConfig(),
		now:        time.Now,
	}
}

// WithConfig overrides the booking parameters.
func (s *Service) WithConfig(c Config) *Service {
	if c.HoldMinutes <= 0 {
		c.HoldMinutes = DefaultConfig().HoldMinutes
	}
	if c.Currency == "" {
		c.Currency = DefaultConfig().Currency
	}
	s.config = c
	return s
}

// WithVelocity enables booking velocity checks.
func (s *Service) WithVelocity(v velocityChecker) *Service {
	s.velocity = v
	return s
}

// WithReconciler wires the payment reconciler. Set after construction when
// the reconciler itself needs this service for confirmations.
func (s *Service) WithReconciler(r reconcileRunner) *Service {
	s.reconciler = r
	return s
}

// WithPublisher enables notification scheduling.
func (s *Service) WithPublisher(p notificationScheduler) *Service {
	s.publisher = p
	return s
}

// WithMetrics enables booking metrics.
func (s *Service) WithMetrics(m *metrics.BookingMetrics) *Service {
	s.metrics = m
	return s
}

// BookingRequest is the public booking input.
type BookingRequest struct {
	Email  string `json:"email"`
	Name   string `json:"name"`
	Phone  string `json:"phone,omitempty"`
	Date   string `json:"date"`
	Time   string `json:"time"`
	Method string `json:"method"`
	Note   string `json:"note,omitempty"`
}

// BookingConfirmation is what a successful booking returns: the hold, its
// pending payment, and the deadline by which payment must complete.
type BookingConfirmation struct {
	ConsultationID string    `json:"consultationId"`
	PaymentID      string    `json:"paymentId"`
	SlotStart      time.Time `json:"slotStart"`
	HoldExpiresAt  time.Time `json:"holdExpiresAt"`
	AmountCents    int64     `json:"amountCents"`
	Currency       string    `json:"currency"`
}

// Book places a hold on a slot and creates its pending payment. The
// conditional put on the slot claim is the real mutual exclusion; everything
// before it is advisory. Partial failure after the claim compensates by
// deleting what was written, with the hold TTL as the backstop.
func (s *Service) Book(ctx context.Context, req BookingRequest) (*BookingConfirmation, error) {
	ctx, span := bookingTracer.Start(ctx, "consultations.book")
	defer span.End()

	email := clients.NormalizeEmail(req.Email)
	if email == "" {
		return nil, fmt.Errorf("%w: email required", ErrValidation)
	}
	if req.Name == "" {
		return nil, fmt.Errorf("%w: name required", ErrValidation)
	}
	method, err := ParseMethod(req.Method)
	if err != nil {
		return nil, err
	}
	start, err := scheduling.ParseSlot(req.Date, req.Time)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if err := s.config.Grid.Validate(start, now); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("atlasvisa.slot", scheduling.SlotKey(start)))

	if s.velocity != nil {
		check, err := s.velocity.CheckBookingVelocity(ctx, email)
		if err == nil && !check.Allowed {
			s.metrics.ObserveBooking("velocity_limited")
			return nil, fmt.Errorf("%w: %s", ErrVelocityExceeded, check.Message)
		}
	}

	// Advisory pre-check keeps obviously taken slots from burning a write.
	free, err := s.ledger.IsSlotAvailable(ctx, start)
	if err != nil {
		return nil, err
	}
	if !free {
		s.metrics.ObserveBooking("slot_conflict")
		s.metrics.ObserveSlotConflict()
		return nil, scheduling.ErrSlotTaken
	}

	client, err := s.directory.Ensure(ctx, email, req.Name, req.Phone)
	if err != nil {
		return nil, err
	}

	consultationID := uuid.NewString()
	paymentID := uuid.NewString()
	holdExpiry := now.Add(time.Duration(s.config.HoldMinutes) * time.Minute)

	if err := s.ledger.Claim(ctx, start, consultationID, holdExpiry); err != nil {
		if errors.Is(err, scheduling.ErrSlotTaken) {
			s.metrics.ObserveBooking("slot_conflict")
			s.metrics.ObserveSlotConflict()
		}
		return nil, err
	}

	consultation := &Consultation{
		ID:           consultationID,
		ClientID:     client.ID,
		ClientEmail:  email,
		SlotStart:    scheduling.SlotKey(start),
		DurationMins: scheduling.SlotDurationMins,
		Method:       method,
		PaymentID:    paymentID,
		Note:         req.Note,
		Day:          scheduling.DayKey(start),
		ExpiresAt:    holdExpiry.Unix(),
	}
	if err := s.store.PutHold(ctx, consultation); err != nil {
		s.compensateBooking(ctx, start, consultationID, false)
		return nil, err
	}

	payment := &payments.Payment{
		ID:             paymentID,
		ClientID:       client.ID,
		ClientEmail:    email,
		ConsultationID: consultationID,
		AmountCents:    s.config.FeeCents,
		Currency:       s.config.Currency,
		Type:           payments.TypeConsultation,
		ExpiresAt:      holdExpiry.Unix(),
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		s.compensateBooking(ctx, start, consultationID, true)
		return nil, err
	}

	s.metrics.ObserveBooking("created")
	s.logger.Info("booking hold created",
		"consultation_id", consultationID,
		"payment_id", paymentID,
		"slot", consultation.SlotStart,
		"hold_expires_at", holdExpiry.Format(time.RFC3339),
	)

	return &BookingConfirmation{
		ConsultationID: consultationID,
		PaymentID:      paymentID,
		SlotStart:      start,
		HoldExpiresAt:  holdExpiry,
		AmountCents:    s.config.FeeCents,
		Currency:       s.config.Currency,
	}, nil
}

// compensateBooking unwinds a partially created booking. Failures here are
// logged only: the hold TTL reaps whatever compensation missed.
func (s *Service) compensateBooking(ctx context.Context, start time.Time, consultationID string, rowWritten bool) {
	if rowWritten {
		if err := s.store.Delete(ctx, consultationID); err != nil {
			s.logger.Error("booking compensation failed, TTL will reap the hold", "error", err, "consultation_id", consultationID)
		}
	}
	if err := s.ledger.Release(ctx, start, consultationID); err != nil {
		s.logger.Error("booking compensation failed to release slot", "error", err, "slot", scheduling.SlotKey(start))
	}
}

// AvailableSlots lists the open slot starts for a date (YYYY-MM-DD).
func (s *Service) AvailableSlots(ctx context.Context, date string) ([]time.Time, error) {
	day, err := scheduling.ParseDay(date)
	if err != nil {
		return nil, err
	}
	return s.ledger.AvailableSlots(ctx, day)
}

// Get fetches a consultation without an ownership check (staff paths).
func (s *Service) Get(ctx context.Context, id string) (*Consultation, error) {
	return s.store.Get(ctx, id)
}

// GetOwned fetches a consultation and enforces ownership by booking email.
func (s *Service) GetOwned(ctx context.Context, id, email string) (*Consultation, error) {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.ClientEmail != clients.NormalizeEmail(email) {
		return nil, ErrOwnershipMismatch
	}
	return c, nil
}

// ListDay returns the staff day view.
func (s *Service) ListDay(ctx context.Context, date string) ([]Consultation, error) {
	day, err := scheduling.ParseDay(date)
	if err != nil {
		return nil, err
	}
	return s.store.ListByDay(ctx, day)
}

// ConfirmFromPayment advances a held consultation to confirmed after its
// payment completed. Called only by the reconciliation winner. The slot claim
// is promoted first: if the hold lapsed and the slot was re-claimed by
// another booking, the consultation must not confirm on top of it.
func (s *Service) ConfirmFromPayment(ctx context.Context, consultationID, paymentID string) (*payments.ConfirmedBooking, error) {
	c, err := s.store.Get(ctx, consultationID)
	if err != nil {
		return nil, err
	}
	if c.PaymentID != paymentID {
		return nil, fmt.Errorf("consultations: payment %s is not linked to consultation %s", paymentID, consultationID)
	}

	booking := &payments.ConfirmedBooking{
		SlotStart: c.StartTime(),
		Method:    string(c.Method),
	}

	if c.Status == StatusConfirmed {
		return booking, nil
	}
	if c.Status != StatusHold {
		return nil, fmt.Errorf("%w: cannot confirm %s consultation", ErrInvalidTransition, c.Status)
	}

	if err := s.ledger.Promote(ctx, c.StartTime(), consultationID); err != nil {
		return nil, err
	}
	if err := s.store.Confirm(ctx, consultationID); err != nil {
		// The row moved while we held the promoted claim. Cancellation
		// releases the claim itself; anything else needs staff eyes.
		s.logger.Warn("confirm refused after claim promotion", "error", err, "consultation_id", consultationID)
		return nil, err
	}
	return booking, nil
}

// AbandonLapsedHold cancels a hold whose payment failed, but only once the
// hold window has run out. Inside the window the hold stays: the client may
// retry payment until the deadline.
func (s *Service) AbandonLapsedHold(ctx context.Context, consultationID string) error {
	c, err := s.store.Get(ctx, consultationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if c.Status != StatusHold || !c.HoldExpired(s.now().UTC()) {
		return nil
	}
	if err := s.store.Cancel(ctx, consultationID); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return nil
		}
		return err
	}
	if err := s.ledger.Release(ctx, c.StartTime(), consultationID); err != nil {
		s.logger.Error("failed to release lapsed hold's slot", "error", err, "consultation_id", consultationID)
	}
	s.logger.Info("lapsed hold abandoned", "consultation_id", consultationID, "slot", c.SlotStart)
	return nil
}

// Actor identifies who requested a lifecycle change.
type Actor struct {
	Email string
	Staff bool
}

func (s *Service) authorize(c *Consultation, actor Actor) error {
	if actor.Staff {
		return nil
	}
	if c.ClientEmail != clients.NormalizeEmail(actor.Email) {
		return ErrOwnershipMismatch
	}
	return nil
}

// CancelResult reports what a cancellation did.
type CancelResult struct {
	ConsultationID string `json:"consultationId"`
	Status         Status `json:"status"`
	Refunded       bool   `json:"refunded"`
}

// Cancel moves a hold or confirmed consultation to cancelled and releases
// its slot. A completed payment is refunded only when the cancellation lands
// more than 24 hours before the scheduled start; inside that window the
// cancellation proceeds and the payment stays settled.
func (s *Service) Cancel(ctx context.Context, id string, actor Actor, reason string) (*CancelResult, error) {
	ctx, span := bookingTracer.Start(ctx, "consultations.cancel")
	defer span.End()
	span.SetAttributes(attribute.String("atlasvisa.consultation_id", id))

	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(c, actor); err != nil {
		return nil, err
	}
	if !CanTransition(c.Status, StatusCancelled) {
		return nil, fmt.Errorf("%w: cannot cancel %s consultation", ErrInvalidTransition, c.Status)
	}

	var payment *payments.Payment
	if c.PaymentID != "" {
		payment, err = s.payments.Get(ctx, c.PaymentID)
		if err != nil && !errors.Is(err, payments.ErrPaymentNotFound) {
			return nil, err
		}
	}

	if err := s.store.Cancel(ctx, id); err != nil {
		return nil, err
	}
	if err := s.ledger.Release(ctx, c.StartTime(), id); err != nil {
		s.logger.Error("failed to release cancelled slot", "error", err, "consultation_id", id)
	}

	result := &CancelResult{ConsultationID: id, Status: StatusCancelled}
	now := s.now().UTC()
	if payment != nil && payment.Status == payments.StatusCompleted && c.StartTime().Sub(now) > refundWindow {
		result.Refunded = s.refund(ctx, payment, reason)
	}

	s.notifyCancelled(ctx, c, payment, result.Refunded, reason)
	s.metrics.ObserveBooking("cancelled")
	s.logger.Info("consultation cancelled",
		"consultation_id", id,
		"refunded", result.Refunded,
		"staff", actor.Staff,
	)
	return result, nil
}

// refund issues the provider refund and records it. Failures are logged and
// leave the payment completed for staff follow-up; the cancellation itself
// stands either way.
func (s *Service) refund(ctx context.Context, payment *payments.Payment, reason string) bool {
	if s.provider == nil {
		s.logger.Error("refund skipped, no payment provider configured", "payment_id", payment.ID)
		return false
	}
	if reason == "" {
		reason = "consultation cancelled"
	}
	res, err := s.provider.Refund(ctx, payment.ID, payment.ProviderRef, reason)
	if err != nil {
		s.logger.Error("refund failed", "error", err, "payment_id", payment.ID)
		return false
	}
	if err := s.payments.MarkRefunded(ctx, payment.ID, res.RefundID); err != nil {
		s.logger.Error("refund issued but not recorded", "error", err, "payment_id", payment.ID, "refund_id", res.RefundID)
	}
	return true
}

func (s *Service) notifyCancelled(ctx context.Context, c *Consultation, payment *payments.Payment, refunded bool, reason string) {
	if s.publisher == nil {
		return
	}
	slot := c.StartTime()
	job := events.NotificationJob{
		Kind:           events.KindBookingCancelled,
		Email:          c.ClientEmail,
		ConsultationID: c.ID,
		SlotStart:      &slot,
		Method:         string(c.Method),
		Reason:         reason,
	}
	if payment != nil {
		job.PaymentID = payment.ID
	}
	if err := s.publisher.Enqueue(ctx, job); err != nil {
		s.logger.Error("failed to enqueue cancellation notice", "error", err, "consultation_id", c.ID)
	}
	if refunded && payment != nil {
		refundJob := events.NotificationJob{
			Kind:        events.KindPaymentRefunded,
			Email:       c.ClientEmail,
			PaymentID:   payment.ID,
			AmountCents: int(payment.AmountCents),
			Currency:    payment.Currency,
		}
		if err := s.publisher.Enqueue(ctx, refundJob); err != nil {
			s.logger.Error("failed to enqueue refund notice", "error", err, "payment_id", payment.ID)
		}
	}
}

// Reschedule moves a hold or confirmed consultation to a new slot. The new
// slot is claimed first; only when that claim wins is the original marked
// rescheduled, so a conflict leaves the original booking untouched. A
// rescheduled hold carries its original deadline forward.
func (s *Service) Reschedule(ctx context.Context, id string, actor Actor, date, clock, reason string) (*Consultation, error) {
	ctx, span := bookingTracer.Start(ctx, "consultations.reschedule")
	defer span.End()
	span.SetAttributes(attribute.String("atlasvisa.consultation_id", id))

	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(c, actor); err != nil {
		return nil, err
	}
	if !CanTransition(c.Status, StatusRescheduled) {
		return nil, fmt.Errorf("%w: cannot reschedule %s consultation", ErrInvalidTransition, c.Status)
	}

	newStart, err := scheduling.ParseSlot(date, clock)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if err := s.config.Grid.Validate(newStart, now); err != nil {
		return nil, err
	}
	if scheduling.SlotKey(newStart) == c.SlotStart {
		return nil, fmt.Errorf("%w: new slot matches the current one", ErrValidation)
	}

	newID := uuid.NewString()
	claimExpiry := now.Add(time.Duration(s.config.HoldMinutes) * time.Minute)
	if c.Status == StatusHold && c.ExpiresAt > 0 {
		// The original deadline moves with the hold; rescheduling never
		// buys more time to pay.
		claimExpiry = time.Unix(c.ExpiresAt, 0).UTC()
	}

	if err := s.ledger.Claim(ctx, newStart, newID, claimExpiry); err != nil {
		if errors.Is(err, scheduling.ErrSlotTaken) {
			s.metrics.ObserveSlotConflict()
		}
		return nil, err
	}

	moved := &Consultation{
		ID:               newID,
		ClientID:         c.ClientID,
		ClientEmail:      c.ClientEmail,
		AdviserID:        c.AdviserID,
		SlotStart:        scheduling.SlotKey(newStart),
		DurationMins:     c.DurationMins,
		Method:           c.Method,
		PaymentID:        c.PaymentID,
		Note:             c.Note,
		Day:              scheduling.DayKey(newStart),
		ExpiresAt:        claimExpiry.Unix(),
		RescheduledFrom:  c.ID,
		RescheduleReason: reason,
	}
	if err := s.store.PutHold(ctx, moved); err != nil {
		s.compensateReschedule(ctx, newStart, newID)
		return nil, err
	}

	if c.Status == StatusConfirmed {
		// Paid bookings stay confirmed across the move.
		if err := s.ledger.Promote(ctx, newStart, newID); err != nil {
			s.compensateReschedule(ctx, newStart, newID)
			return nil, err
		}
		if err := s.store.Confirm(ctx, newID); err != nil {
			s.compensateReschedule(ctx, newStart, newID)
			return nil, err
		}
		moved.Status = StatusConfirmed
		moved.ExpiresAt = 0
	}

	if err := s.store.MarkRescheduled(ctx, c.ID); err != nil {
		s.compensateReschedule(ctx, newStart, newID)
		return nil, err
	}

	if c.PaymentID != "" {
		if err := s.payments.SetConsultation(ctx, c.PaymentID, newID); err != nil {
			s.logger.Error("failed to repoint payment after reschedule", "error", err, "payment_id", c.PaymentID, "consultation_id", newID)
		}
	}
	if err := s.ledger.Release(ctx, c.StartTime(), c.ID); err != nil {
		s.logger.Error("failed to release old slot after reschedule", "error", err, "consultation_id", c.ID)
	}

	if s.publisher != nil {
		slot := newStart
		job := events.NotificationJob{
			Kind:           events.KindBookingRescheduled,
			Email:          c.ClientEmail,
			ConsultationID: newID,
			SlotStart:      &slot,
			Method:         string(c.Method),
			Reason:         reason,
		}
		if err := s.publisher.Enqueue(ctx, job); err != nil {
			s.logger.Error("failed to enqueue reschedule notice", "error", err, "consultation_id", newID)
		}
	}

	s.metrics.ObserveBooking("rescheduled")
	s.logger.Info("consultation rescheduled",
		"consultation_id", c.ID,
		"new_consultation_id", newID,
		"slot", moved.SlotStart,
	)
	return moved, nil
}

func (s *Service) compensateReschedule(ctx context.Context, start time.Time, newID string) {
	if err := s.store.Delete(ctx, newID); err != nil {
		s.logger.Error("reschedule compensation failed to delete row", "error", err, "consultation_id", newID)
	}
	if err := s.ledger.Release(ctx, start, newID); err != nil {
		s.logger.Error("reschedule compensation failed to release slot", "error", err, "consultation_id", newID)
	}
}

// Complete marks a confirmed consultation completed. Staff-only, and only
// after the scheduled end has passed.
func (s *Service) Complete(ctx context.Context, id string) (*Consultation, error) {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(c.Status, StatusCompleted) {
		return nil, fmt.Errorf("%w: cannot complete %s consultation", ErrInvalidTransition, c.Status)
	}
	if s.now().UTC().Before(c.EndTime()) {
		return nil, fmt.Errorf("%w: consultation has not ended yet", ErrInvalidTransition)
	}
	if err := s.store.Complete(ctx, id); err != nil {
		return nil, err
	}
	c.Status = StatusCompleted
	s.metrics.ObserveBooking("completed")
	return c, nil
}

// SetDetails updates adviser and note metadata. Allowed in every status,
// terminal ones included.
func (s *Service) SetDetails(ctx context.Context, id string, actor Actor, adviserID, note *string) (*Consultation, error) {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(c, actor); err != nil {
		return nil, err
	}
	if adviserID != nil && !actor.Staff {
		return nil, fmt.Errorf("%w: adviser assignment is staff only", ErrOwnershipMismatch)
	}
	if err := s.store.UpdateMeta(ctx, id, adviserID, note); err != nil {
		return nil, err
	}
	if adviserID != nil {
		c.AdviserID = *adviserID
	}
	if note != nil {
		c.Note = *note
	}
	return c, nil
}

// ConfirmBooking is the client-facing confirm call: verify the stored
// checkout session with the provider and reconcile. It funnels into the same
// Reconcile as the webhook and verify triggers.
func (s *Service) ConfirmBooking(ctx context.Context, id, email string) (*payments.Result, error) {
	c, err := s.GetOwned(ctx, id, email)
	if err != nil {
		return nil, err
	}
	if c.PaymentID == "" {
		return nil, fmt.Errorf("%w: consultation has no payment", ErrValidation)
	}

	payment, err := s.payments.Get(ctx, c.PaymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != payments.StatusPending {
		return &payments.Result{
			PaymentID:  payment.ID,
			Status:     payment.Status,
			Applied:    false,
			InvoiceURL: payment.InvoiceURL,
		}, nil
	}
	if payment.SessionID == "" {
		return nil, fmt.Errorf("%w: no checkout session for payment %s", ErrValidation, payment.ID)
	}
	if s.provider == nil || s.reconciler == nil {
		return nil, fmt.Errorf("consultations: payment verification not configured")
	}

	session, err := s.provider.RetrieveSession(ctx, payment.SessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamVerification, err)
	}

	ref := payments.PaymentRef{PaymentID: payment.ID, SessionID: payment.SessionID}
	switch {
	case session.Paid():
		return s.reconciler.Reconcile(ctx, ref, payments.Signal{
			Succeeded:   true,
			ProviderRef: session.PaymentIntent,
			Trigger:     payments.TriggerConfirm,
		})
	case session.Status == "expired":
		return s.reconciler.Reconcile(ctx, ref, payments.Signal{
			Succeeded: false,
			Reason:    "checkout session expired",
			Trigger:   payments.TriggerConfirm,
		})
	default:
		// Session still open; nothing to reconcile yet.
		return &payments.Result{PaymentID: payment.ID, Status: payment.Status, Applied: false}, nil
	}
}
