package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/atlasvisa/booking-platform/internal/clients"
	"github.com/atlasvisa/booking-platform/internal/observability/metrics"
	"github.com/atlasvisa/booking-platform/pkg/logging"
)

type checkoutStore interface {
	Get(ctx context.Context, id string) (*Payment, error)
	GetBySession(ctx context.Context, sessionID string) (*Payment, error)
	AttachSession(ctx context.Context, id, sessionID string) error
}

type sessionProvider interface {
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)
	RetrieveSession(ctx context.Context, sessionID string) (*SessionStatus, error)
}

// Handler serves checkout session creation and session verification.
type Handler struct {
	store      checkoutStore
	provider   sessionProvider
	reconciler reconcileRunner
	velocity   *VelocityChecker
	metrics    *metrics.BookingMetrics
	logger     *logging.Logger
}

// NewHandler creates the payments HTTP handler.
func NewHandler(store checkoutStore, provider sessionProvider, reconciler reconcileRunner, velocity *VelocityChecker, m *metrics.BookingMetrics, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		store:      store,
		provider:   provider,
		reconciler: reconciler,
		velocity:   velocity,
		metrics:    m,
		logger:     logger.Component("payments-http"),
	}
}

type checkoutRequest struct {
	PaymentID      string `json:"paymentId"`
	ConsultationID string `json:"consultationId,omitempty"`
	Email          string `json:"email"`
}

type checkoutResponse struct {
	CheckoutURL string `json:"checkoutUrl"`
	SessionID   string `json:"sessionId"`
}

// CreateCheckout creates a hosted checkout session for a pending payment.
func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if req.PaymentID == "" {
		http.Error(w, "paymentId is required", http.StatusBadRequest)
		return
	}
	if req.Email == "" {
		http.Error(w, "email is required", http.StatusBadRequest)
		return
	}

	if h.velocity != nil {
		check, err := h.velocity.CheckCheckoutVelocity(r.Context(), req.Email)
		if err == nil && !check.Allowed {
			http.Error(w, check.Message, http.StatusTooManyRequests)
			return
		}
	}

	payment, err := h.store.Get(r.Context(), req.PaymentID)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			http.Error(w, "payment not found", http.StatusNotFound)
			return
		}
		h.logger.Error("payment lookup failed", "error", err, "payment_id", req.PaymentID)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if payment.ClientEmail != clients.NormalizeEmail(req.Email) {
		http.Error(w, "email does not match payment", http.StatusForbidden)
		return
	}
	if req.ConsultationID != "" && payment.ConsultationID != req.ConsultationID {
		http.Error(w, "payment does not belong to consultation", http.StatusBadRequest)
		return
	}
	if payment.Status != StatusPending {
		http.Error(w, "payment is not awaiting checkout", http.StatusConflict)
		return
	}

	description := "Immigration consultation fee"
	if payment.Type == TypeDeposit {
		description = "Visa application deposit"
	}

	started := time.Now()
	session, err := h.provider.CreateCheckoutSession(r.Context(), CheckoutParams{
		PaymentID:      payment.ID,
		ConsultationID: payment.ConsultationID,
		ApplicationID:  payment.ApplicationID,
		AmountCents:    payment.AmountCents,
		Currency:       payment.Currency,
		Description:    description,
		CustomerEmail:  payment.ClientEmail,
	})
	h.metrics.ObserveCheckoutLatency("create_session", time.Since(started).Seconds())
	if err != nil {
		h.logger.Error("checkout session creation failed", "error", err, "payment_id", payment.ID)
		http.Error(w, "failed to create checkout session", http.StatusBadGateway)
		return
	}

	if err := h.store.AttachSession(r.Context(), payment.ID, session.ID); err != nil {
		if errors.Is(err, ErrStatusConflict) {
			http.Error(w, "payment already settled", http.StatusConflict)
			return
		}
		h.logger.Error("failed to attach session", "error", err, "payment_id", payment.ID, "session_id", session.ID)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(checkoutResponse{
		CheckoutURL: session.URL,
		SessionID:   session.ID,
	})

	h.logger.Info("checkout created", "payment_id", payment.ID, "session_id", session.ID)
}

type verifyRequest struct {
	SessionID string `json:"sessionId"`
}

type verifyResponse struct {
	Paid       bool   `json:"paid"`
	Status     Status `json:"status"`
	InvoiceURL string `json:"invoiceUrl,omitempty"`
}

// VerifySession polls the provider for a session's state and reconciles the
// linked payment. Calling it before, after, or instead of the webhook is
// safe; all paths converge on the same final state.
func (h *Handler) VerifySession(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		http.Error(w, "sessionId is required", http.StatusBadRequest)
		return
	}

	started := time.Now()
	session, err := h.provider.RetrieveSession(r.Context(), req.SessionID)
	h.metrics.ObserveCheckoutLatency("retrieve_session", time.Since(started).Seconds())
	if err != nil {
		h.logger.Error("session retrieval failed", "error", err, "session_id", req.SessionID)
		http.Error(w, "provider verification failed", http.StatusBadGateway)
		return
	}

	ref := PaymentRef{
		PaymentID: session.Metadata["payment_id"],
		SessionID: req.SessionID,
	}

	var sig Signal
	switch {
	case session.Paid():
		sig = Signal{Succeeded: true, ProviderRef: session.PaymentIntent, Trigger: TriggerVerify}
	case session.Status == "expired":
		sig = Signal{Succeeded: false, Reason: "checkout session expired", Trigger: TriggerVerify}
	default:
		// Session still open: not a failure, the client just has not paid.
		payment, err := h.store.GetBySession(r.Context(), req.SessionID)
		if err != nil {
			if errors.Is(err, ErrPaymentNotFound) {
				http.Error(w, "payment not found", http.StatusNotFound)
				return
			}
			h.logger.Error("payment lookup failed", "error", err, "session_id", req.SessionID)
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(verifyResponse{
			Paid:       payment.Status == StatusCompleted,
			Status:     payment.Status,
			InvoiceURL: payment.InvoiceURL,
		})
		return
	}

	result, err := h.reconciler.Reconcile(r.Context(), ref, sig)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			http.Error(w, "payment not found", http.StatusNotFound)
			return
		}
		h.logger.Error("verify reconciliation failed", "error", err, "session_id", req.SessionID)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(verifyResponse{
		Paid:       result.Status == StatusCompleted,
		Status:     result.Status,
		InvoiceURL: result.InvoiceURL,
	})
}
