package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the booking and payment
// reconciliation flows.
type BookingMetrics struct {
	bookingsTotal        *prometheus.CounterVec
	slotConflictsTotal   prometheus.Counter
	reconciliationsTotal *prometheus.CounterVec
	webhookRejectedTotal prometheus.Counter
	checkoutLatency      *prometheus.HistogramVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "atlasvisa",
			Subsystem: "booking",
			Name:      "bookings_total",
			Help:      "Total booking attempts by outcome",
		}, []string{"outcome"}),
		slotConflictsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "atlasvisa",
			Subsystem: "booking",
			Name:      "slot_conflicts_total",
			Help:      "Total bookings that lost the slot claim race",
		}),
		reconciliationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "atlasvisa",
			Subsystem: "payments",
			Name:      "reconciliations_total",
			Help:      "Total payment reconciliations by trigger and outcome",
		}, []string{"trigger", "outcome"}),
		webhookRejectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "atlasvisa",
			Subsystem: "payments",
			Name:      "webhook_rejected_total",
			Help:      "Total provider webhooks rejected for bad signatures",
		}),
		checkoutLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "atlasvisa",
			Subsystem: "payments",
			Name:      "checkout_latency_seconds",
			Help:      "Latency of payment provider calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.slotConflictsTotal, m.reconciliationsTotal, m.webhookRejectedTotal, m.checkoutLatency)
	return m
}

func (m *BookingMetrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveSlotConflict() {
	if m == nil {
		return
	}
	m.slotConflictsTotal.Inc()
}

func (m *BookingMetrics) ObserveReconciliation(trigger, outcome string) {
	if m == nil {
		return
	}
	m.reconciliationsTotal.WithLabelValues(trigger, outcome).Inc()
}

func (m *BookingMetrics) ObserveWebhookRejected() {
	if m == nil {
		return
	}
	m.webhookRejectedTotal.Inc()
}

func (m *BookingMetrics) ObserveCheckoutLatency(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.checkoutLatency.WithLabelValues(operation).Observe(seconds)
}
