package consultations

// These tests wire the real booking service to the real payment reconciler,
// the way cmd/api does, with an in-memory payment store standing in for
// DynamoDB. They cover the behavior that only shows up across the package
// boundary: a webhook settling a held booking, the verify call racing the
// webhook, and stale provider signals arriving after the payment settled.

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atlasvisa/booking-platform/internal/clients"
	"github.com/atlasvisa/booking-platform/internal/events"
	"github.com/atlasvisa/booking-platform/internal/invoices"
	"github.com/atlasvisa/booking-platform/internal/payments"
	"github.com/atlasvisa/booking-platform/internal/scheduling"
	"github.com/atlasvisa/booking-platform/pkg/logging"
)

// memoryPayments implements both the booking service's payment ledger and the
// reconciler's store with the same conditional-write semantics as the DynamoDB
// store: every status transition checks the prior status, and the invoice URL
// is assigned at most once.
type memoryPayments struct {
	rows map[string]*payments.Payment
}

func newMemoryPayments() *memoryPayments {
	return &memoryPayments{rows: map[string]*payments.Payment{}}
}

func (m *memoryPayments) Create(ctx context.Context, p *payments.Payment) error {
	p.Status = payments.StatusPending
	m.rows[p.ID] = p
	return nil
}

func (m *memoryPayments) Get(ctx context.Context, id string) (*payments.Payment, error) {
	p, ok := m.rows[id]
	if !ok {
		return nil, payments.ErrPaymentNotFound
	}
	snapshot := *p
	return &snapshot, nil
}

func (m *memoryPayments) GetBySession(ctx context.Context, sessionID string) (*payments.Payment, error) {
	for _, p := range m.rows {
		if p.SessionID == sessionID {
			snapshot := *p
			return &snapshot, nil
		}
	}
	return nil, payments.ErrPaymentNotFound
}

func (m *memoryPayments) MarkCompleted(ctx context.Context, id, providerRef string) error {
	p, ok := m.rows[id]
	if !ok || p.Status != payments.StatusPending {
		return payments.ErrStatusConflict
	}
	p.Status = payments.StatusCompleted
	p.ProviderRef = providerRef
	p.ExpiresAt = 0
	return nil
}

func (m *memoryPayments) MarkFailed(ctx context.Context, id, reason string) error {
	p, ok := m.rows[id]
	if !ok || p.Status != payments.StatusPending {
		return payments.ErrStatusConflict
	}
	p.Status = payments.StatusFailed
	p.FailureReason = reason
	p.ExpiresAt = 0
	return nil
}

func (m *memoryPayments) MarkRefunded(ctx context.Context, id, refundRef string) error {
	p, ok := m.rows[id]
	if !ok || p.Status != payments.StatusCompleted {
		return payments.ErrStatusConflict
	}
	p.Status = payments.StatusRefunded
	p.RefundRef = refundRef
	return nil
}

func (m *memoryPayments) SetInvoiceURL(ctx context.Context, id, url string) error {
	p, ok := m.rows[id]
	if !ok || p.InvoiceURL != "" {
		return payments.ErrInvoiceAssigned
	}
	p.InvoiceURL = url
	return nil
}

func (m *memoryPayments) SetConsultation(ctx context.Context, id, consultationID string) error {
	p, ok := m.rows[id]
	if !ok {
		return payments.ErrPaymentNotFound
	}
	p.ConsultationID = consultationID
	return nil
}

func (m *memoryPayments) Delete(ctx context.Context, id string) error {
	delete(m.rows, id)
	return nil
}

// flowDirectory serves both sides of the wiring: Ensure for the booking
// service, GetByEmail for the reconciler's client-name lookup.
type flowDirectory struct {
	rows map[string]*clients.Client
}

func (d *flowDirectory) Ensure(ctx context.Context, email, name, phone string) (*clients.Client, error) {
	if d.rows == nil {
		d.rows = map[string]*clients.Client{}
	}
	if c, ok := d.rows[email]; ok {
		return c, nil
	}
	c := &clients.Client{ID: "client-" + email, Email: email, Name: name, Phone: phone}
	d.rows[email] = c
	return c, nil
}

func (d *flowDirectory) GetByEmail(ctx context.Context, email string) (*clients.Client, error) {
	if c, ok := d.rows[email]; ok {
		return c, nil
	}
	return nil, clients.ErrClientNotFound
}

type flowInvoices struct {
	calls []invoices.Invoice
}

func (i *flowInvoices) Enabled() bool { return true }

func (i *flowInvoices) Generate(ctx context.Context, inv invoices.Invoice) (string, error) {
	i.calls = append(i.calls, inv)
	return "https://invoices.atlasvisa.example/" + inv.PaymentID + ".html", nil
}

type flowFixture struct {
	service    *Service
	reconciler *payments.Reconciler
	store      *stubStore
	ledger     *stubLedger
	directory  *flowDirectory
	payStore   *memoryPayments
	provider   *stubProvider
	invoices   *flowInvoices
	publisher  *stubPublisher
}

func newFlowFixture() *flowFixture {
	f := &flowFixture{
		store:     &stubStore{consultations: map[string]*Consultation{}},
		ledger:    &stubLedger{},
		directory: &flowDirectory{},
		payStore:  newMemoryPayments(),
		provider:  &stubProvider{},
		invoices:  &flowInvoices{},
		publisher: &stubPublisher{},
	}
	f.service = NewService(f.store, f.ledger, f.directory, f.payStore, f.provider, nil, logging.Default()).
		WithPublisher(f.publisher)
	f.service.now = fixedClock
	f.reconciler = payments.NewReconciler(f.payStore, f.service, nil, f.directory, f.invoices, f.publisher, nil, logging.Default())
	f.service.WithReconciler(f.reconciler)
	return f
}

func TestBookingFlow_WebhookSettlesHeldBooking(t *testing.T) {
	f := newFlowFixture()
	ctx := context.Background()

	conf, err := f.service.Book(ctx, bookingRequest())
	if err != nil {
		t.Fatalf("Book returned error: %v", err)
	}

	// A rival books the same slot and loses the conditional claim.
	f.ledger.claimResults = []error{scheduling.ErrSlotTaken}
	rival := bookingRequest()
	rival.Email = "noor@example.com"
	rival.Name = "Noor Haddad"
	if _, err := f.service.Book(ctx, rival); !errors.Is(err, scheduling.ErrSlotTaken) {
		t.Fatalf("expected rival booking to lose the slot, got %v", err)
	}
	if len(f.store.consultations) != 1 {
		t.Fatalf("expected a single hold row, got %d", len(f.store.consultations))
	}

	// Checkout attached the session before the provider called back.
	f.payStore.rows[conf.PaymentID].SessionID = "cs_flow_1"

	res, err := f.reconciler.Reconcile(ctx,
		payments.PaymentRef{PaymentID: conf.PaymentID, SessionID: "cs_flow_1"},
		payments.Signal{Succeeded: true, ProviderRef: "pi_flow_1", Trigger: payments.TriggerWebhook})
	if err != nil {
		t.Fatalf("webhook reconcile returned error: %v", err)
	}
	if !res.Applied || res.Status != payments.StatusCompleted {
		t.Fatalf("expected webhook to apply completion, got %+v", res)
	}
	wantInvoice := "https://invoices.atlasvisa.example/" + conf.PaymentID + ".html"
	if res.InvoiceURL != wantInvoice {
		t.Fatalf("expected invoice %q, got %q", wantInvoice, res.InvoiceURL)
	}

	if f.store.consultations[conf.ConsultationID].Status != StatusConfirmed {
		t.Fatalf("expected consultation confirmed, got %s", f.store.consultations[conf.ConsultationID].Status)
	}
	if len(f.ledger.promoted) != 1 || f.ledger.promoted[0] != conf.ConsultationID {
		t.Fatalf("expected slot claim promoted, got %v", f.ledger.promoted)
	}
	settled, err := f.payStore.Get(ctx, conf.PaymentID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if settled.Status != payments.StatusCompleted || settled.ProviderRef != "pi_flow_1" || settled.ExpiresAt != 0 {
		t.Fatalf("unexpected settled payment: %+v", settled)
	}

	if len(f.publisher.jobs) != 1 {
		t.Fatalf("expected one confirmation notice, got %d", len(f.publisher.jobs))
	}
	job := f.publisher.jobs[0]
	if job.Kind != events.KindBookingConfirmed || job.ConsultationID != conf.ConsultationID || job.Email != "amira@example.com" {
		t.Fatalf("unexpected notice: %+v", job)
	}
	if job.Name != "Amira Hassan" || job.InvoiceURL != wantInvoice {
		t.Fatalf("expected notice to carry the client name and invoice, got %+v", job)
	}
	if job.SlotStart == nil || !job.SlotStart.Equal(conf.SlotStart) {
		t.Fatalf("expected notice slot %s, got %v", conf.SlotStart, job.SlotStart)
	}
	if len(f.invoices.calls) != 1 || f.invoices.calls[0].ClientName != "Amira Hassan" {
		t.Fatalf("unexpected invoice calls: %+v", f.invoices.calls)
	}

	// The client lands back from checkout and verifies: settled payments
	// short-circuit without a provider round trip and return the stored invoice.
	verify, err := f.service.ConfirmBooking(ctx, conf.ConsultationID, "amira@example.com")
	if err != nil {
		t.Fatalf("ConfirmBooking returned error: %v", err)
	}
	if verify.Applied || verify.Status != payments.StatusCompleted || verify.InvoiceURL != wantInvoice {
		t.Fatalf("expected settled short-circuit with stored invoice, got %+v", verify)
	}
	if len(f.provider.retrieved) != 0 {
		t.Fatal("expected no provider call once the payment settled")
	}

	// A duplicate webhook delivery observes and repeats nothing.
	dup, err := f.reconciler.Reconcile(ctx,
		payments.PaymentRef{SessionID: "cs_flow_1"},
		payments.Signal{Succeeded: true, ProviderRef: "pi_flow_1", Trigger: payments.TriggerWebhook})
	if err != nil {
		t.Fatalf("duplicate webhook returned error: %v", err)
	}
	if dup.Applied || dup.InvoiceURL != wantInvoice {
		t.Fatalf("expected duplicate to observe the settled payment, got %+v", dup)
	}
	if len(f.publisher.jobs) != 1 || len(f.invoices.calls) != 1 || len(f.ledger.promoted) != 1 {
		t.Fatal("expected no repeated side effects from the duplicate delivery")
	}
}

func TestBookingFlow_VerifyWinsRaceWebhookObserves(t *testing.T) {
	f := newFlowFixture()
	ctx := context.Background()

	conf, err := f.service.Book(ctx, bookingRequest())
	if err != nil {
		t.Fatalf("Book returned error: %v", err)
	}
	f.payStore.rows[conf.PaymentID].SessionID = "cs_flow_2"
	f.provider.session = &payments.SessionStatus{ID: "cs_flow_2", PaymentStatus: "paid", Status: "complete", PaymentIntent: "pi_flow_2"}

	// The client's return from checkout verifies before the webhook lands.
	res, err := f.service.ConfirmBooking(ctx, conf.ConsultationID, "amira@example.com")
	if err != nil {
		t.Fatalf("ConfirmBooking returned error: %v", err)
	}
	if !res.Applied || res.Status != payments.StatusCompleted {
		t.Fatalf("expected the verify trigger to apply completion, got %+v", res)
	}
	if f.store.consultations[conf.ConsultationID].Status != StatusConfirmed {
		t.Fatal("expected consultation confirmed by the verify trigger")
	}

	late, err := f.reconciler.Reconcile(ctx,
		payments.PaymentRef{PaymentID: conf.PaymentID, SessionID: "cs_flow_2"},
		payments.Signal{Succeeded: true, ProviderRef: "pi_flow_2", Trigger: payments.TriggerWebhook})
	if err != nil {
		t.Fatalf("late webhook returned error: %v", err)
	}
	if late.Applied {
		t.Fatalf("expected late webhook to observe, got %+v", late)
	}
	if late.InvoiceURL != res.InvoiceURL {
		t.Fatalf("expected the same invoice both ways, got %q and %q", res.InvoiceURL, late.InvoiceURL)
	}
	if len(f.publisher.jobs) != 1 || len(f.invoices.calls) != 1 {
		t.Fatal("expected one notice and one invoice across both triggers")
	}
}

func TestBookingFlow_StaleSuccessAfterFailureDoesNotResurrect(t *testing.T) {
	f := newFlowFixture()
	ctx := context.Background()

	conf, err := f.service.Book(ctx, bookingRequest())
	if err != nil {
		t.Fatalf("Book returned error: %v", err)
	}
	f.payStore.rows[conf.PaymentID].SessionID = "cs_flow_3"

	ref := payments.PaymentRef{PaymentID: conf.PaymentID, SessionID: "cs_flow_3"}
	fail, err := f.reconciler.Reconcile(ctx, ref,
		payments.Signal{Succeeded: false, Reason: "card declined", Trigger: payments.TriggerWebhook})
	if err != nil {
		t.Fatalf("failure reconcile returned error: %v", err)
	}
	if !fail.Applied || fail.Status != payments.StatusFailed {
		t.Fatalf("expected failure applied, got %+v", fail)
	}
	// The hold is still inside its window: the client may retry payment, so
	// the consultation stays held.
	if f.store.consultations[conf.ConsultationID].Status != StatusHold {
		t.Fatalf("expected hold to survive an in-window payment failure, got %s", f.store.consultations[conf.ConsultationID].Status)
	}

	late, err := f.reconciler.Reconcile(ctx, ref,
		payments.Signal{Succeeded: true, ProviderRef: "pi_late", Trigger: payments.TriggerWebhook})
	if err != nil {
		t.Fatalf("stale success returned error: %v", err)
	}
	if late.Applied || late.Status != payments.StatusFailed {
		t.Fatalf("expected stale success to lose against failed, got %+v", late)
	}

	row, err := f.payStore.Get(ctx, conf.PaymentID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if row.Status != payments.StatusFailed || row.FailureReason != "card declined" {
		t.Fatalf("expected payment to stay failed, got %+v", row)
	}
	if f.store.consultations[conf.ConsultationID].Status != StatusHold {
		t.Fatal("expected consultation untouched by the stale success")
	}
	if len(f.publisher.jobs) != 0 || len(f.invoices.calls) != 0 || len(f.ledger.promoted) != 0 {
		t.Fatal("expected no side effects from either signal")
	}
}

func TestBookingFlow_ExpiryAfterHoldWindowReleasesSlot(t *testing.T) {
	f := newFlowFixture()
	ctx := context.Background()

	conf, err := f.service.Book(ctx, bookingRequest())
	if err != nil {
		t.Fatalf("Book returned error: %v", err)
	}
	f.payStore.rows[conf.PaymentID].SessionID = "cs_flow_4"

	// The session-expired webhook lands half an hour past the hold deadline.
	f.service.now = func() time.Time { return fixedClock().Add(time.Hour) }

	res, err := f.reconciler.Reconcile(ctx,
		payments.PaymentRef{SessionID: "cs_flow_4"},
		payments.Signal{Succeeded: false, Reason: "checkout session expired", Trigger: payments.TriggerWebhook})
	if err != nil {
		t.Fatalf("expiry reconcile returned error: %v", err)
	}
	if !res.Applied || res.Status != payments.StatusFailed {
		t.Fatalf("expected expiry failure applied, got %+v", res)
	}
	if f.store.consultations[conf.ConsultationID].Status != StatusCancelled {
		t.Fatalf("expected lapsed hold cancelled, got %s", f.store.consultations[conf.ConsultationID].Status)
	}
	if len(f.ledger.released) != 1 || f.ledger.released[0].id != conf.ConsultationID {
		t.Fatalf("expected slot released for rebooking, got %v", f.ledger.released)
	}
	if len(f.publisher.jobs) != 0 {
		t.Fatalf("expected no notices for a lapsed hold, got %v", f.publisher.jobs)
	}
}
