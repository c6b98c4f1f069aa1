package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/atlasvisa/booking-platform/internal/applications"
	"github.com/atlasvisa/booking-platform/internal/consultations"
	httpmiddleware "github.com/atlasvisa/booking-platform/internal/http/middleware"
	"github.com/atlasvisa/booking-platform/internal/payments"
	"github.com/atlasvisa/booking-platform/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger               *logging.Logger
	ConsultationsHandler *consultations.Handler
	PaymentsHandler      *payments.Handler
	PaymentsWebhook      *payments.WebhookHandler
	ApplicationsHandler  *applications.Handler
	StaffAuthSecret      string
	MetricsHandler       http.Handler
	CORSAllowedOrigins   []string

	// Booking endpoints get their own per-IP limiter on top of the
	// email-scoped velocity checks.
	BookingRatePerSec float64
	BookingRateBurst  int
}

// New creates the Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", healthCheck)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	// Payment provider webhook. Signature-verified by the handler itself, so
	// it stays outside every auth group.
	if cfg.PaymentsWebhook != nil {
		r.Post("/webhooks/payments", cfg.PaymentsWebhook.Handle)
	}

	var bookingLimit func(http.Handler) http.Handler
	if cfg.BookingRatePerSec > 0 {
		bookingLimit = httpmiddleware.RateLimit(cfg.BookingRatePerSec, cfg.BookingRateBurst)
	}

	// Client-facing API. Ownership is enforced per request by booking email;
	// there are no client accounts.
	r.Route("/api", func(api chi.Router) {
		if cfg.ConsultationsHandler != nil {
			api.Get("/slots", cfg.ConsultationsHandler.Slots)
			api.Route("/consultations", func(c chi.Router) {
				if bookingLimit != nil {
					c.With(bookingLimit).Post("/", cfg.ConsultationsHandler.Book)
				} else {
					c.Post("/", cfg.ConsultationsHandler.Book)
				}
				c.Route("/{id}", func(one chi.Router) {
					one.Get("/", cfg.ConsultationsHandler.Get)
					one.Patch("/", cfg.ConsultationsHandler.Edit)
					one.Patch("/confirm", cfg.ConsultationsHandler.Confirm)
					one.Patch("/cancel", cfg.ConsultationsHandler.Cancel)
				})
			})
		}
		if cfg.PaymentsHandler != nil {
			api.Route("/payments", func(p chi.Router) {
				p.Post("/checkout", cfg.PaymentsHandler.CreateCheckout)
				p.Post("/verify", cfg.PaymentsHandler.VerifySession)
			})
		}
	})

	// Staff routes. Mounted only when a staff secret is configured; the
	// middleware refuses everything on an empty secret either way.
	if cfg.StaffAuthSecret != "" {
		r.Route("/staff", func(staff chi.Router) {
			staff.Use(httpmiddleware.StaffJWT(cfg.StaffAuthSecret))
			if cfg.ConsultationsHandler != nil {
				staff.Route("/consultations", func(c chi.Router) {
					c.Get("/", cfg.ConsultationsHandler.StaffList)
					c.Route("/{id}", func(one chi.Router) {
						one.Patch("/", cfg.ConsultationsHandler.StaffEdit)
						one.Patch("/cancel", cfg.ConsultationsHandler.StaffCancel)
						one.Patch("/complete", cfg.ConsultationsHandler.StaffComplete)
					})
				})
			}
			if cfg.ApplicationsHandler != nil {
				staff.Route("/applications", func(a chi.Router) {
					a.Post("/", cfg.ApplicationsHandler.Create)
					a.Route("/{id}", func(one chi.Router) {
						one.Get("/", cfg.ApplicationsHandler.Get)
						one.Post("/request-deposit", cfg.ApplicationsHandler.RequestDeposit)
					})
				})
			}
		})
	}

	return r
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"service": "booking-platform",
	})
}
