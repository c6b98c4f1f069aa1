package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/atlasvisa/booking-platform/internal/applications"
	"github.com/atlasvisa/booking-platform/internal/clients"
	"github.com/atlasvisa/booking-platform/internal/consultations"
	"github.com/atlasvisa/booking-platform/internal/payments"
	"github.com/atlasvisa/booking-platform/pkg/logging"
)

const testStaffSecret = "router-test-secret"

func newTestRouter(t *testing.T) (http.Handler, *routerReconciler) {
	t.Helper()

	logger := logging.Default()

	booking := &routerBookingService{}
	consultationsHandler := consultations.NewHandler(booking, logger)

	reconciler := &routerReconciler{}
	paymentsHandler := payments.NewHandler(&routerCheckoutStore{}, &routerSessionProvider{}, reconciler, nil, nil, logger)
	webhookHandler := payments.NewWebhookHandler("", reconciler, nil, logger)

	applicationsHandler := applications.NewHandler(&routerAppStore{}, &routerDirectory{}, &routerDepositLedger{}, logger)

	cfg := &Config{
		Logger:               logger,
		ConsultationsHandler: consultationsHandler,
		PaymentsHandler:      paymentsHandler,
		PaymentsWebhook:      webhookHandler,
		ApplicationsHandler:  applicationsHandler,
		StaffAuthSecret:      testStaffSecret,
	}

	return New(cfg), reconciler
}

func TestRouterHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", resp["status"])
	}
}

func TestRouterBookingEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	payload := consultations.BookingRequest{
		Email:  "amira@example.com",
		Name:   "Amira Haddad",
		Date:   "2025-03-03",
		Time:   "10:00",
		Method: "video",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/consultations", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, rr.Code, rr.Body.String())
	}

	var created consultations.BookingConfirmation
	if err := json.NewDecoder(rr.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if created.ConsultationID != "cons-router" {
		t.Errorf("expected consultation cons-router, got %s", created.ConsultationID)
	}
}

func TestRouterSlotsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/slots?date=2025-03-03", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
}

// TestRouterPaymentsWebhookRegistered guards against the webhook route being
// dropped during router changes. Provider retries mask a 404 for days before
// payments silently stop confirming, so this is load-bearing.
func TestRouterPaymentsWebhookRegistered(t *testing.T) {
	router, reconciler := newTestRouter(t)

	event := map[string]any{
		"id":   "evt_1",
		"type": "checkout.session.completed",
		"data": map[string]any{
			"object": map[string]any{
				"id":             "cs_router",
				"payment_intent": "pi_router",
				"metadata":       map[string]string{"payment_id": "pay-router"},
			},
		},
	}
	body, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rr.Code, rr.Body.String())
	}
	if len(reconciler.refs) != 1 || reconciler.refs[0].PaymentID != "pay-router" {
		t.Fatalf("expected reconciliation for pay-router, got %+v", reconciler.refs)
	}
}

func TestRouterStaffRoutesRequireToken(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/staff/consultations?date=2025-03-03", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected %d without token, got %d", http.StatusUnauthorized, rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/staff/consultations?date=2025-03-03", nil)
	req.Header.Set("Authorization", "Bearer "+signedRouterToken(t))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected %d with token, got %d: %s", http.StatusOK, rr.Code, rr.Body.String())
	}
}

func TestRouterStaffApplicationsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	body := strings.NewReader(`{"email":"amira@example.com","name":"Amira Haddad","visaType":"skilled-worker"}`)
	req := httptest.NewRequest(http.MethodPost, "/staff/applications", body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+signedRouterToken(t))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, rr.Code, rr.Body.String())
	}
}

// TestRouterStaffTreeAbsentWithoutSecret documents that staff routes are not
// mounted at all when no staff secret is configured: deployments without
// staff auth expose nothing rather than an unlocked staff surface.
func TestRouterStaffTreeAbsentWithoutSecret(t *testing.T) {
	logger := logging.Default()
	booking := &routerBookingService{}
	cfg := &Config{
		Logger:               logger,
		ConsultationsHandler: consultations.NewHandler(booking, logger),
	}
	router := New(cfg)

	req := httptest.NewRequest(http.MethodGet, "/staff/consultations?date=2025-03-03", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected %d when staff secret empty, got %d", http.StatusNotFound, rr.Code)
	}
}

func TestRouterMetricsEndpoint(t *testing.T) {
	logger := logging.Default()
	cfg := &Config{
		Logger: logger,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	}
	router := New(cfg)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
}

func signedRouterToken(t *testing.T) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "adviser-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testStaffSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

type routerBookingService struct{}

func (*routerBookingService) Book(ctx context.Context, req consultations.BookingRequest) (*consultations.BookingConfirmation, error) {
	return &consultations.BookingConfirmation{
		ConsultationID: "cons-router",
		PaymentID:      "pay-router",
		SlotStart:      time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC),
		HoldExpiresAt:  time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC),
		AmountCents:    7500,
		Currency:       "eur",
	}, nil
}

func (*routerBookingService) AvailableSlots(ctx context.Context, date string) ([]time.Time, error) {
	return []time.Time{time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)}, nil
}

func (*routerBookingService) GetOwned(ctx context.Context, id, email string) (*consultations.Consultation, error) {
	return &consultations.Consultation{ID: id, Status: consultations.StatusConfirmed}, nil
}

func (*routerBookingService) ListDay(ctx context.Context, date string) ([]consultations.Consultation, error) {
	return nil, nil
}

func (*routerBookingService) ConfirmBooking(ctx context.Context, id, email string) (*payments.Result, error) {
	return &payments.Result{PaymentID: "pay-router", Status: payments.StatusCompleted}, nil
}

func (*routerBookingService) Cancel(ctx context.Context, id string, actor consultations.Actor, reason string) (*consultations.CancelResult, error) {
	return &consultations.CancelResult{ConsultationID: id, Status: consultations.StatusCancelled}, nil
}

func (*routerBookingService) Reschedule(ctx context.Context, id string, actor consultations.Actor, date, clock, reason string) (*consultations.Consultation, error) {
	return &consultations.Consultation{ID: "cons-new"}, nil
}

func (*routerBookingService) Complete(ctx context.Context, id string) (*consultations.Consultation, error) {
	return &consultations.Consultation{ID: id, Status: consultations.StatusCompleted}, nil
}

func (*routerBookingService) SetDetails(ctx context.Context, id string, actor consultations.Actor, adviserID, note *string) (*consultations.Consultation, error) {
	return &consultations.Consultation{ID: id}, nil
}

type routerReconciler struct {
	refs []payments.PaymentRef
}

func (r *routerReconciler) Reconcile(ctx context.Context, ref payments.PaymentRef, sig payments.Signal) (*payments.Result, error) {
	r.refs = append(r.refs, ref)
	return &payments.Result{PaymentID: ref.PaymentID, Status: payments.StatusCompleted, Applied: true}, nil
}

type routerCheckoutStore struct{}

func (*routerCheckoutStore) Get(ctx context.Context, id string) (*payments.Payment, error) {
	return &payments.Payment{ID: id, Status: payments.StatusPending, AmountCents: 7500, Currency: "eur"}, nil
}

func (*routerCheckoutStore) GetBySession(ctx context.Context, sessionID string) (*payments.Payment, error) {
	return &payments.Payment{ID: "pay-router", SessionID: sessionID}, nil
}

func (*routerCheckoutStore) AttachSession(ctx context.Context, id, sessionID string) error {
	return nil
}

type routerSessionProvider struct{}

func (*routerSessionProvider) CreateCheckoutSession(ctx context.Context, params payments.CheckoutParams) (*payments.CheckoutSession, error) {
	return &payments.CheckoutSession{ID: "cs_router", URL: "https://checkout.example.com/cs_router"}, nil
}

func (*routerSessionProvider) RetrieveSession(ctx context.Context, sessionID string) (*payments.SessionStatus, error) {
	return &payments.SessionStatus{ID: sessionID, PaymentStatus: "paid", Status: "complete"}, nil
}

type routerAppStore struct{}

func (*routerAppStore) Create(ctx context.Context, app *applications.Application) error { return nil }

func (*routerAppStore) Get(ctx context.Context, id string) (*applications.Application, error) {
	return &applications.Application{ID: id, ClientEmail: "amira@example.com", Stage: applications.StageDraft}, nil
}

func (*routerAppStore) RequestDeposit(ctx context.Context, id, paymentID string) error { return nil }

type routerDirectory struct{}

func (*routerDirectory) Ensure(ctx context.Context, email, name, phone string) (*clients.Client, error) {
	return &clients.Client{ID: "client-router", Email: email, Name: name}, nil
}

type routerDepositLedger struct{}

func (*routerDepositLedger) Create(ctx context.Context, p *payments.Payment) error { return nil }

func (*routerDepositLedger) Delete(ctx context.Context, id string) error { return nil }
