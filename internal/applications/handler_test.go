package applications

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/atlasvisa/booking-platform/internal/clients"
	"github.com/atlasvisa/booking-platform/internal/payments"
	"github.com/atlasvisa/booking-platform/pkg/logging"
)

type stubAppStore struct {
	created    *Application
	createErr  error
	app        *Application
	getErr     error
	deposits   []string
	depositErr error
}

func (s *stubAppStore) Create(ctx context.Context, app *Application) error {
	if s.createErr != nil {
		return s.createErr
	}
	app.Stage = StageDraft
	s.created = app
	return nil
}

func (s *stubAppStore) Get(ctx context.Context, id string) (*Application, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.app, nil
}

func (s *stubAppStore) RequestDeposit(ctx context.Context, id, paymentID string) error {
	if s.depositErr != nil {
		return s.depositErr
	}
	s.deposits = append(s.deposits, id+":"+paymentID)
	return nil
}

type stubDirectory struct {
	err error
}

func (d *stubDirectory) Ensure(ctx context.Context, email, name, phone string) (*clients.Client, error) {
	if d.err != nil {
		return nil, d.err
	}
	return &clients.Client{ID: "client-1", Email: email, Name: name}, nil
}

type stubDepositLedger struct {
	created   []payments.Payment
	createErr error
	deleted   []string
}

func (l *stubDepositLedger) Create(ctx context.Context, p *payments.Payment) error {
	if l.createErr != nil {
		return l.createErr
	}
	p.Status = payments.StatusPending
	l.created = append(l.created, *p)
	return nil
}

func (l *stubDepositLedger) Delete(ctx context.Context, id string) error {
	l.deleted = append(l.deleted, id)
	return nil
}

func routeWithID(req *http.Request, id string) *http.Request {
	chiCtx := chi.NewRouteContext()
	chiCtx.URLParams.Add("id", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, chiCtx))
}

func jsonBody(t *testing.T, payload any) *bytes.Reader {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	return bytes.NewReader(raw)
}

func draftApplication() *Application {
	return &Application{
		ID:          "app-1",
		ClientID:    "client-1",
		ClientEmail: "amira@example.com",
		VisaType:    "skilled-worker",
		Stage:       StageDraft,
	}
}

func TestHandler_CreateRegistersClient(t *testing.T) {
	store := &stubAppStore{}
	handler := NewHandler(store, &stubDirectory{}, &stubDepositLedger{}, logging.Default())

	req := httptest.NewRequest(http.MethodPost, "/staff/applications", jsonBody(t, createRequest{
		Email:    "Amira@Example.com",
		Name:     "Amira Hassan",
		VisaType: "skilled-worker",
	}))
	w := httptest.NewRecorder()
	handler.Create(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if store.created == nil {
		t.Fatal("expected application to be stored")
	}
	if store.created.ClientEmail != "amira@example.com" {
		t.Fatalf("expected normalized email, got %q", store.created.ClientEmail)
	}
	if store.created.ClientID != "client-1" || store.created.VisaType != "skilled-worker" {
		t.Fatalf("unexpected application: %+v", store.created)
	}
}

func TestHandler_CreateValidation(t *testing.T) {
	handler := NewHandler(&stubAppStore{}, &stubDirectory{}, &stubDepositLedger{}, logging.Default())

	req := httptest.NewRequest(http.MethodPost, "/staff/applications", jsonBody(t, createRequest{Email: "amira@example.com"}))
	w := httptest.NewRecorder()
	handler.Create(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without visaType, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/staff/applications", strings.NewReader("{not json"))
	w = httptest.NewRecorder()
	handler.Create(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", w.Code)
	}
}

func TestHandler_GetNotFound(t *testing.T) {
	handler := NewHandler(&stubAppStore{getErr: ErrApplicationNotFound}, &stubDirectory{}, &stubDepositLedger{}, logging.Default())

	req := httptest.NewRequest(http.MethodGet, "/staff/applications/app-missing", nil)
	req = routeWithID(req, "app-missing")
	w := httptest.NewRecorder()
	handler.Get(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestHandler_RequestDepositCreatesPayment(t *testing.T) {
	store := &stubAppStore{app: draftApplication()}
	ledger := &stubDepositLedger{}
	handler := NewHandler(store, &stubDirectory{}, ledger, logging.Default())

	req := httptest.NewRequest(http.MethodPost, "/staff/applications/app-1/request-deposit", jsonBody(t, depositRequest{AmountCents: 50000}))
	req = routeWithID(req, "app-1")
	w := httptest.NewRecorder()
	handler.RequestDeposit(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if len(ledger.created) != 1 {
		t.Fatalf("expected 1 payment, got %d", len(ledger.created))
	}
	payment := ledger.created[0]
	if payment.Type != payments.TypeDeposit || payment.ApplicationID != "app-1" {
		t.Fatalf("unexpected payment: %+v", payment)
	}
	if payment.AmountCents != 50000 || payment.Currency != "eur" {
		t.Fatalf("unexpected amount: %d %s", payment.AmountCents, payment.Currency)
	}
	if payment.ConsultationID != "" {
		t.Fatal("deposit payment must not reference a consultation")
	}
	if len(store.deposits) != 1 || store.deposits[0] != "app-1:"+payment.ID {
		t.Fatalf("expected stage move with payment id, got %v", store.deposits)
	}

	var got depositResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.PaymentID != payment.ID || got.Stage != StageAwaitingDeposit {
		t.Fatalf("unexpected response: %+v", got)
	}
}

func TestHandler_RequestDepositStageConflictCleansUp(t *testing.T) {
	app := draftApplication()
	app.Stage = StageAwaitingDeposit
	store := &stubAppStore{app: app, depositErr: ErrStageConflict}
	ledger := &stubDepositLedger{}
	handler := NewHandler(store, &stubDirectory{}, ledger, logging.Default())

	req := httptest.NewRequest(http.MethodPost, "/staff/applications/app-1/request-deposit", jsonBody(t, depositRequest{AmountCents: 50000}))
	req = routeWithID(req, "app-1")
	w := httptest.NewRecorder()
	handler.RequestDeposit(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	if len(ledger.created) != 1 || len(ledger.deleted) != 1 {
		t.Fatalf("expected orphan payment cleanup, created=%d deleted=%d", len(ledger.created), len(ledger.deleted))
	}
	if ledger.deleted[0] != ledger.created[0].ID {
		t.Fatal("expected the created payment to be the one deleted")
	}
}

func TestHandler_RequestDepositValidation(t *testing.T) {
	handler := NewHandler(&stubAppStore{app: draftApplication()}, &stubDirectory{}, &stubDepositLedger{}, logging.Default())

	req := httptest.NewRequest(http.MethodPost, "/staff/applications/app-1/request-deposit", jsonBody(t, depositRequest{AmountCents: 0}))
	req = routeWithID(req, "app-1")
	w := httptest.NewRecorder()
	handler.RequestDeposit(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero amount, got %d", w.Code)
	}
}

func TestHandler_RequestDepositUnknownApplication(t *testing.T) {
	handler := NewHandler(&stubAppStore{getErr: ErrApplicationNotFound}, &stubDirectory{}, &stubDepositLedger{}, logging.Default())

	req := httptest.NewRequest(http.MethodPost, "/staff/applications/app-missing/request-deposit", jsonBody(t, depositRequest{AmountCents: 50000}))
	req = routeWithID(req, "app-missing")
	w := httptest.NewRecorder()
	handler.RequestDeposit(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
