package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/atlasvisa/booking-platform/pkg/logging"
)

var providerTracer = otel.Tracer("atlasvisa.internal.payments.provider")

// Provider drives the hosted-checkout payment processor over its REST API:
// create a checkout session, retrieve a session for verification, and issue
// refunds. The processor speaks the Stripe wire format.
type Provider struct {
	secretKey  string
	successURL string
	cancelURL  string
	baseURL    string
	apiVersion string
	httpClient *http.Client
	logger     *logging.Logger
	dryRun     bool
}

// NewProvider creates a payment provider client.
func NewProvider(secretKey, successURL, cancelURL string, logger *logging.Logger) *Provider {
	if logger == nil {
		logger = logging.Default()
	}
	return &Provider{
		secretKey:  secretKey,
		successURL: successURL,
		cancelURL:  cancelURL,
		baseURL:    "https://api.stripe.com",
		apiVersion: "2024-12-18.acacia",
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.Component("payment-provider"),
	}
}

// WithBaseURL overrides the provider API base URL (for testing).
func (p *Provider) WithBaseURL(baseURL string) *Provider {
	if baseURL != "" {
		p.baseURL = strings.TrimRight(baseURL, "/")
	}
	return p
}

// WithDryRun enables dry-run mode: fake sessions and refunds without calling
// the provider. Used in development when no provider account is configured.
func (p *Provider) WithDryRun(enabled bool) *Provider {
	p.dryRun = enabled
	return p
}

// CheckoutParams describes the session to create. The payment id rides in the
// session metadata so webhook events can be correlated without relying on the
// session-index lookup alone.
type CheckoutParams struct {
	PaymentID      string
	ConsultationID string
	ApplicationID  string
	AmountCents    int64
	Currency       string
	Description    string
	CustomerEmail  string
}

// CheckoutSession is the created hosted-checkout session.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// SessionStatus is the subset of a retrieved checkout session used for
// verification.
type SessionStatus struct {
	ID            string            `json:"id"`
	PaymentIntent string            `json:"payment_intent"`
	PaymentStatus string            `json:"payment_status"`
	Status        string            `json:"status"`
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	Metadata      map[string]string `json:"metadata"`
}

// Paid reports whether the provider considers the session settled.
func (s *SessionStatus) Paid() bool {
	return s.PaymentStatus == "paid"
}

// CreateCheckoutSession creates a hosted checkout session for the payment.
func (p *Provider) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error) {
	ctx, span := providerTracer.Start(ctx, "provider.create_checkout_session")
	defer span.End()
	span.SetAttributes(
		attribute.String("atlasvisa.payment_id", params.PaymentID),
		attribute.Int("atlasvisa.amount_cents", int(params.AmountCents)),
	)

	if p.dryRun {
		fakeID := "cs_dryrun_" + uuid.New().String()[:8]
		p.logger.Info("provider dry run: skipping checkout session creation",
			"payment_id", params.PaymentID, "amount_cents", params.AmountCents)
		return &CheckoutSession{
			ID:  fakeID,
			URL: fmt.Sprintf("https://checkout.stripe.com/dry-run/%s", fakeID),
		}, nil
	}

	currency := strings.ToLower(strings.TrimSpace(params.Currency))
	if currency == "" {
		currency = "eur"
	}
	description := strings.TrimSpace(params.Description)
	if description == "" {
		description = "Consultation fee"
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("line_items[0][price_data][currency]", currency)
	form.Set("line_items[0][price_data][unit_amount]", fmt.Sprintf("%d", params.AmountCents))
	form.Set("line_items[0][price_data][product_data][name]", description)
	form.Set("line_items[0][quantity]", "1")

	if p.successURL != "" {
		form.Set("success_url", p.successURL)
	}
	if p.cancelURL != "" {
		form.Set("cancel_url", p.cancelURL)
	}
	if email := strings.TrimSpace(params.CustomerEmail); email != "" {
		form.Set("customer_email", email)
	}

	// Metadata for webhook correlation
	form.Set("metadata[payment_id]", params.PaymentID)
	if params.ConsultationID != "" {
		form.Set("metadata[consultation_id]", params.ConsultationID)
	}
	if params.ApplicationID != "" {
		form.Set("metadata[application_id]", params.ApplicationID)
	}

	apiURL := p.baseURL + "/v1/checkout/sessions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("payments: provider request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Stripe-Version", p.apiVersion)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payments: provider http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("payments: provider api status %d: %s", resp.StatusCode, string(body))
	}

	var parsed CheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("payments: provider decode: %w", err)
	}
	if parsed.URL == "" {
		return nil, fmt.Errorf("payments: provider response missing checkout url")
	}

	p.logger.Info("checkout session created", "payment_id", params.PaymentID, "session_id", parsed.ID)
	return &parsed, nil
}

// RetrieveSession fetches the current state of a checkout session, the
// verification half of the reconciliation contract.
func (p *Provider) RetrieveSession(ctx context.Context, sessionID string) (*SessionStatus, error) {
	ctx, span := providerTracer.Start(ctx, "provider.retrieve_session")
	defer span.End()
	span.SetAttributes(attribute.String("atlasvisa.session_id", sessionID))

	if sessionID == "" {
		return nil, fmt.Errorf("payments: sessionID required")
	}

	if p.dryRun {
		return &SessionStatus{
			ID:            sessionID,
			PaymentIntent: "pi_dryrun_" + uuid.New().String()[:8],
			PaymentStatus: "paid",
			Status:        "complete",
		}, nil
	}

	apiURL := p.baseURL + "/v1/checkout/sessions/" + url.PathEscape(sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("payments: provider request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	req.Header.Set("Stripe-Version", p.apiVersion)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payments: provider http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("payments: provider api status %d: %s", resp.StatusCode, string(body))
	}

	var parsed SessionStatus
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("payments: provider decode: %w", err)
	}
	return &parsed, nil
}

// RefundResult is the provider's answer to a refund request.
type RefundResult struct {
	RefundID string
	Status   string
}

// Refund refunds the payment intent behind a completed payment. The
// idempotency key is derived from the payment id so a retried refund is not
// double-issued by the provider.
func (p *Provider) Refund(ctx context.Context, paymentID, providerRef, reason string) (*RefundResult, error) {
	ctx, span := providerTracer.Start(ctx, "provider.refund")
	defer span.End()
	span.SetAttributes(
		attribute.String("atlasvisa.payment_id", paymentID),
		attribute.String("atlasvisa.provider_ref", providerRef),
	)

	if p.dryRun {
		fakeID := "re_dryrun_" + uuid.New().String()[:8]
		p.logger.Info("provider dry run: skipping refund", "payment_id", paymentID)
		return &RefundResult{RefundID: fakeID, Status: "succeeded"}, nil
	}

	if providerRef == "" {
		return nil, fmt.Errorf("payments: no provider reference to refund")
	}

	form := url.Values{}
	form.Set("payment_intent", providerRef)
	if reason != "" {
		form.Set("metadata[reason]", reason)
	}

	apiURL := p.baseURL + "/v1/refunds"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("payments: provider request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Stripe-Version", p.apiVersion)
	req.Header.Set("Idempotency-Key", "refund-"+paymentID)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payments: provider http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("payments: provider refund status %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("payments: provider decode: %w", err)
	}

	p.logger.Info("refund issued", "payment_id", paymentID, "refund_id", parsed.ID, "status", parsed.Status)
	return &RefundResult{RefundID: parsed.ID, Status: parsed.Status}, nil
}
