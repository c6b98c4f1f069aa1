package consultations

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atlasvisa/booking-platform/internal/payments"
	"github.com/atlasvisa/booking-platform/internal/scheduling"
	"github.com/atlasvisa/booking-platform/pkg/logging"
)

type bookingService interface {
	Book(ctx context.Context, req BookingRequest) (*BookingConfirmation, error)
	AvailableSlots(ctx context.Context, date string) ([]time.Time, error)
	GetOwned(ctx context.Context, id, email string) (*Consultation, error)
	ListDay(ctx context.Context, date string) ([]Consultation, error)
	ConfirmBooking(ctx context.Context, id, email string) (*payments.Result, error)
	Cancel(ctx context.Context, id string, actor Actor, reason string) (*CancelResult, error)
	Reschedule(ctx context.Context, id string, actor Actor, date, clock, reason string) (*Consultation, error)
	Complete(ctx context.Context, id string) (*Consultation, error)
	SetDetails(ctx context.Context, id string, actor Actor, adviserID, note *string) (*Consultation, error)
}

// Handler serves the consultation booking and lifecycle endpoints.
type Handler struct {
	service bookingService
	logger  *logging.Logger
}

// NewHandler creates the consultations HTTP handler.
func NewHandler(service bookingService, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger.Component("consultations-http")}
}

func (h *Handler) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, scheduling.ErrInvalidSlot):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrOwnershipMismatch):
		http.Error(w, "email does not match booking", http.StatusForbidden)
	case errors.Is(err, ErrNotFound), errors.Is(err, payments.ErrPaymentNotFound):
		http.Error(w, "consultation not found", http.StatusNotFound)
	case errors.Is(err, scheduling.ErrSlotTaken):
		http.Error(w, "slot is no longer available", http.StatusConflict)
	case errors.Is(err, ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrVelocityExceeded):
		http.Error(w, err.Error(), http.StatusTooManyRequests)
	case errors.Is(err, ErrUpstreamVerification):
		http.Error(w, "payment verification failed", http.StatusBadGateway)
	default:
		h.logger.Error("request failed", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
	}
}

// consultationView is the API shape of a consultation, with the hold
// deadline surfaced as a timestamp.
type consultationView struct {
	*Consultation
	HoldExpiresAt *time.Time `json:"holdExpiresAt,omitempty"`
}

func viewOf(c *Consultation) consultationView {
	v := consultationView{Consultation: c}
	if c.Status == StatusHold && c.ExpiresAt > 0 {
		t := time.Unix(c.ExpiresAt, 0).UTC()
		v.HoldExpiresAt = &t
	}
	return v
}

type slotOffer struct {
	Start time.Time `json:"start"`
	Time  string    `json:"time"`
}

type slotsResponse struct {
	Date  string      `json:"date"`
	Slots []slotOffer `json:"slots"`
}

// Slots lists available slot starts for a date.
func (h *Handler) Slots(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		http.Error(w, "date is required (YYYY-MM-DD)", http.StatusBadRequest)
		return
	}
	starts, err := h.service.AvailableSlots(r.Context(), date)
	if err != nil {
		h.writeError(w, err)
		return
	}
	offers := make([]slotOffer, 0, len(starts))
	for _, s := range starts {
		offers = append(offers, slotOffer{Start: s, Time: s.Format("15:04")})
	}
	h.respond(w, http.StatusOK, slotsResponse{Date: date, Slots: offers})
}

// Book creates a booking hold plus its pending payment.
func (h *Handler) Book(w http.ResponseWriter, r *http.Request) {
	var req BookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	confirmation, err := h.service.Book(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.respond(w, http.StatusCreated, confirmation)
}

// Get returns a consultation to its owner.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	email := r.URL.Query().Get("email")
	if email == "" {
		http.Error(w, "email is required", http.StatusBadRequest)
		return
	}
	c, err := h.service.GetOwned(r.Context(), id, email)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.respond(w, http.StatusOK, viewOf(c))
}

type confirmRequest struct {
	Email string `json:"email"`
}

type confirmResponse struct {
	Paid       bool            `json:"paid"`
	Status     payments.Status `json:"status"`
	InvoiceURL string          `json:"invoiceUrl,omitempty"`
}

// Confirm verifies the booking's stored checkout session and reconciles the
// payment.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if req.Email == "" {
		http.Error(w, "email is required", http.StatusBadRequest)
		return
	}
	result, err := h.service.ConfirmBooking(r.Context(), id, req.Email)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.respond(w, http.StatusOK, confirmResponse{
		Paid:       result.Status == payments.StatusCompleted,
		Status:     result.Status,
		InvoiceURL: result.InvoiceURL,
	})
}

type cancelRequest struct {
	Email  string `json:"email,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Cancel cancels a booking on behalf of its owner.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.cancel(w, r, false)
}

// StaffCancel cancels a booking on behalf of staff.
func (h *Handler) StaffCancel(w http.ResponseWriter, r *http.Request) {
	h.cancel(w, r, true)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request, staff bool) {
	id := chi.URLParam(r, "id")
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if !staff && req.Email == "" {
		http.Error(w, "email is required", http.StatusBadRequest)
		return
	}
	result, err := h.service.Cancel(r.Context(), id, Actor{Email: req.Email, Staff: staff}, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.respond(w, http.StatusOK, result)
}

type editRequest struct {
	Email     string  `json:"email,omitempty"`
	Date      string  `json:"date,omitempty"`
	Time      string  `json:"time,omitempty"`
	Reason    string  `json:"reason,omitempty"`
	AdviserID *string `json:"adviserId,omitempty"`
	Note      *string `json:"note,omitempty"`
}

// Edit updates a booking for its owner. A date/time change runs the
// reschedule flow; anything else is a metadata update.
func (h *Handler) Edit(w http.ResponseWriter, r *http.Request) {
	h.edit(w, r, false)
}

// StaffEdit updates a booking on behalf of staff.
func (h *Handler) StaffEdit(w http.ResponseWriter, r *http.Request) {
	h.edit(w, r, true)
}

func (h *Handler) edit(w http.ResponseWriter, r *http.Request, staff bool) {
	id := chi.URLParam(r, "id")
	var req editRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if !staff && req.Email == "" {
		http.Error(w, "email is required", http.StatusBadRequest)
		return
	}
	actor := Actor{Email: req.Email, Staff: staff}

	if req.Date != "" || req.Time != "" {
		if req.Date == "" || req.Time == "" {
			http.Error(w, "rescheduling needs both date and time", http.StatusBadRequest)
			return
		}
		moved, err := h.service.Reschedule(r.Context(), id, actor, req.Date, req.Time, req.Reason)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.respond(w, http.StatusOK, viewOf(moved))
		return
	}

	if req.AdviserID == nil && req.Note == nil {
		http.Error(w, "nothing to update", http.StatusBadRequest)
		return
	}
	c, err := h.service.SetDetails(r.Context(), id, actor, req.AdviserID, req.Note)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.respond(w, http.StatusOK, viewOf(c))
}

// StaffList returns every consultation on a date.
func (h *Handler) StaffList(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		http.Error(w, "date is required (YYYY-MM-DD)", http.StatusBadRequest)
		return
	}
	list, err := h.service.ListDay(r.Context(), date)
	if err != nil {
		h.writeError(w, err)
		return
	}
	views := make([]consultationView, 0, len(list))
	for i := range list {
		views = append(views, viewOf(&list[i]))
	}
	h.respond(w, http.StatusOK, views)
}

// StaffComplete marks a past confirmed consultation completed.
func (h *Handler) StaffComplete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := h.service.Complete(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.respond(w, http.StatusOK, viewOf(c))
}
