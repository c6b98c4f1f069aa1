package applications

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/atlasvisa/booking-platform/internal/clients"
	"github.com/atlasvisa/booking-platform/internal/payments"
	"github.com/atlasvisa/booking-platform/pkg/logging"
)

type applicationStore interface {
	Create(ctx context.Context, app *Application) error
	Get(ctx context.Context, id string) (*Application, error)
	RequestDeposit(ctx context.Context, id, paymentID string) error
}

type clientDirectory interface {
	Ensure(ctx context.Context, email, name, phone string) (*clients.Client, error)
}

type depositLedger interface {
	Create(ctx context.Context, p *payments.Payment) error
	Delete(ctx context.Context, id string) error
}

// Handler serves the staff application routes: intake, deposit requests and
// lookup. Deposits settle through the same payment reconciliation as
// consultation fees.
type Handler struct {
	store     applicationStore
	directory clientDirectory
	payments  depositLedger
	logger    *logging.Logger
}

// NewHandler creates the applications HTTP handler.
func NewHandler(store applicationStore, directory clientDirectory, payLedger depositLedger, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{store: store, directory: directory, payments: payLedger, logger: logger.Component("applications-http")}
}

func (h *Handler) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

type createRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Phone    string `json:"phone,omitempty"`
	VisaType string `json:"visaType"`
}

// Create opens a draft application for a client, registering the client if
// this is their first contact.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	email := clients.NormalizeEmail(req.Email)
	if email == "" || req.VisaType == "" {
		http.Error(w, "email and visaType are required", http.StatusBadRequest)
		return
	}

	client, err := h.directory.Ensure(r.Context(), email, req.Name, req.Phone)
	if err != nil {
		h.logger.Error("failed to ensure client", "error", err, "email", email)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	app := &Application{
		ID:          uuid.NewString(),
		ClientID:    client.ID,
		ClientEmail: email,
		VisaType:    req.VisaType,
	}
	if err := h.store.Create(r.Context(), app); err != nil {
		h.logger.Error("failed to create application", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	h.logger.Info("application created", "application_id", app.ID, "visa_type", app.VisaType)
	h.respond(w, http.StatusCreated, app)
}

// Get returns one application.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	app, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, ErrApplicationNotFound) {
			http.Error(w, "application not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to fetch application", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	h.respond(w, http.StatusOK, app)
}

type depositRequest struct {
	AmountCents int64  `json:"amountCents"`
	Currency    string `json:"currency,omitempty"`
}

type depositResponse struct {
	ApplicationID string `json:"applicationId"`
	PaymentID     string `json:"paymentId"`
	AmountCents   int64  `json:"amountCents"`
	Currency      string `json:"currency"`
	Stage         Stage  `json:"stage"`
}

// RequestDeposit creates a pending deposit payment and moves the application
// to awaiting_deposit. The client then pays it through the regular checkout
// flow. If the stage move loses, the orphan payment is deleted.
func (h *Handler) RequestDeposit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if req.AmountCents <= 0 {
		http.Error(w, "amountCents must be positive", http.StatusBadRequest)
		return
	}
	if req.Currency == "" {
		req.Currency = "eur"
	}

	app, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrApplicationNotFound) {
			http.Error(w, "application not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to fetch application", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	payment := &payments.Payment{
		ID:            uuid.NewString(),
		ClientID:      app.ClientID,
		ClientEmail:   app.ClientEmail,
		ApplicationID: app.ID,
		AmountCents:   req.AmountCents,
		Currency:      req.Currency,
		Type:          payments.TypeDeposit,
	}
	if err := h.payments.Create(r.Context(), payment); err != nil {
		h.logger.Error("failed to create deposit payment", "error", err, "application_id", id)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	if err := h.store.RequestDeposit(r.Context(), id, payment.ID); err != nil {
		if delErr := h.payments.Delete(r.Context(), payment.ID); delErr != nil {
			h.logger.Error("failed to delete orphan deposit payment", "error", delErr, "payment_id", payment.ID)
		}
		if errors.Is(err, ErrStageConflict) {
			http.Error(w, "application is not awaiting a deposit request", http.StatusConflict)
			return
		}
		h.logger.Error("failed to request deposit", "error", err, "application_id", id)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	h.logger.Info("deposit requested",
		"application_id", id,
		"payment_id", payment.ID,
		"amount_cents", req.AmountCents,
	)
	h.respond(w, http.StatusCreated, depositResponse{
		ApplicationID: id,
		PaymentID:     payment.ID,
		AmountCents:   req.AmountCents,
		Currency:      req.Currency,
		Stage:         StageAwaitingDeposit,
	})
}
