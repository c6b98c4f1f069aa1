package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/atlasvisa/booking-platform/internal/observability/metrics"
	"github.com/atlasvisa/booking-platform/pkg/logging"
)

type reconcileRunner interface {
	Reconcile(ctx context.Context, ref PaymentRef, sig Signal) (*Result, error)
}

// WebhookHandler receives provider webhook events. Completed and failed
// checkout sessions both funnel into the reconciler; everything else is
// acknowledged and ignored. Duplicate deliveries are harmless because the
// reconciler short-circuits on settled payments.
type WebhookHandler struct {
	webhookSecret string
	reconciler    reconcileRunner
	metrics       *metrics.BookingMetrics
	logger        *logging.Logger
}

// NewWebhookHandler creates a handler for provider webhooks.
func NewWebhookHandler(webhookSecret string, reconciler reconcileRunner, m *metrics.BookingMetrics, logger *logging.Logger) *WebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		webhookSecret: webhookSecret,
		reconciler:    reconciler,
		metrics:       m,
		logger:        logger.Component("payment-webhook"),
	}
}

// Handle processes one incoming webhook delivery.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if !verifyProviderSignature(h.webhookSecret, payload, sigHeader) {
		h.metrics.ObserveWebhookRejected()
		h.logger.Warn("webhook rejected: bad signature")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var evt webhookEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		h.logger.Error("failed to decode webhook event", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if evt.ID == "" {
		http.Error(w, "missing event id", http.StatusBadRequest)
		return
	}

	var sig Signal
	switch evt.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		sig = Signal{Succeeded: true, Trigger: TriggerWebhook}
	case "checkout.session.expired":
		sig = Signal{Succeeded: false, Reason: "checkout session expired", Trigger: TriggerWebhook}
	case "checkout.session.async_payment_failed":
		sig = Signal{Succeeded: false, Reason: "payment failed at provider", Trigger: TriggerWebhook}
	default:
		w.WriteHeader(http.StatusOK)
		return
	}

	session := evt.Data.Object
	sig.ProviderRef = session.PaymentIntent
	if sig.ProviderRef == "" {
		sig.ProviderRef = session.ID
	}

	ref := PaymentRef{
		PaymentID: session.Metadata["payment_id"],
		SessionID: session.ID,
	}
	if ref.PaymentID == "" && ref.SessionID == "" {
		h.logger.Warn("webhook carries no payment reference", "event_id", evt.ID, "type", evt.Type)
		// Acknowledge: redelivery cannot supply what the event lacks.
		w.WriteHeader(http.StatusOK)
		return
	}

	result, err := h.reconciler.Reconcile(r.Context(), ref, sig)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			// The pending payment may have been TTL-reaped before the event
			// arrived. Retrying will not recover it; staff follow-up.
			h.logger.Error("webhook payment not found", "event_id", evt.ID, "session_id", session.ID)
			w.WriteHeader(http.StatusOK)
			return
		}
		h.logger.Error("webhook reconciliation failed", "event_id", evt.ID, "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	h.logger.Info("webhook processed",
		"event_id", evt.ID,
		"type", evt.Type,
		"payment_id", result.PaymentID,
		"status", result.Status,
		"applied", result.Applied,
	)
	w.WriteHeader(http.StatusOK)
}

// webhookEvent is the provider's webhook envelope.
type webhookEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object sessionObject `json:"object"`
	} `json:"data"`
}

// sessionObject is the checkout.session object carried by webhook events.
type sessionObject struct {
	ID            string            `json:"id"`
	PaymentIntent string            `json:"payment_intent"`
	PaymentStatus string            `json:"payment_status"`
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	Metadata      map[string]string `json:"metadata"`
	Status        string            `json:"status"`
}

// verifyProviderSignature verifies a webhook signature. The provider signs
// with HMAC-SHA256 and sends the signature header as
// t=<timestamp>,v1=<signature>[,v0=<test_signature>].
func verifyProviderSignature(secret string, payload []byte, header string) bool {
	if secret == "" {
		return true // bypass for development
	}
	if header == "" {
		return false
	}

	var timestamp string
	var signatures []string

	parts := strings.Split(header, ",")
	for _, part := range parts {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}

	if timestamp == "" || len(signatures) == 0 {
		return false
	}

	// Check timestamp tolerance (5 minutes)
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	if abs64(time.Now().Unix()-ts) > 300 {
		return false
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return true
		}
	}
	return false
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
