package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PurchaseMetrics tracks the purchase pipeline: request outcomes, gate
// lookups and deliveries.
type PurchaseMetrics struct {
	outcomes   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	gateChecks *prometheus.CounterVec
	deliveries *prometheus.CounterVec
}

// NewPurchaseMetrics registers the purchase metrics on the provided registerer.
func NewPurchaseMetrics(reg prometheus.Registerer) *PurchaseMetrics {
	if reg == nil {
		return &PurchaseMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "purchase_outcomes_total",
		Help: "Purchase requests by outcome.",
	}, []string{"outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "purchase_duration_seconds",
		Help:    "Time from request to commit or rejection.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	gateChecks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gate_channel_checks_total",
		Help: "Channel membership lookups by result.",
	}, []string{"result"})
	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "purchase_deliveries_total",
		Help: "Delivery attempts by result.",
	}, []string{"result"})
	reg.MustRegister(outcomes, duration, gateChecks, deliveries)
	return &PurchaseMetrics{
		outcomes:   outcomes,
		duration:   duration,
		gateChecks: gateChecks,
		deliveries: deliveries,
	}
}

// ObservePurchase counts one purchase request and its latency.
func (m *PurchaseMetrics) ObservePurchase(outcome string, d time.Duration) {
	if m == nil || m.outcomes == nil {
		return
	}
	label := normalizeLabel(outcome)
	m.outcomes.WithLabelValues(label).Inc()
	m.duration.WithLabelValues(label).Observe(d.Seconds())
}

// IncGateCheck counts one membership lookup.
func (m *PurchaseMetrics) IncGateCheck(result string) {
	if m == nil || m.gateChecks == nil {
		return
	}
	m.gateChecks.WithLabelValues(normalizeLabel(result)).Inc()
}

// IncDelivery counts one delivery attempt.
func (m *PurchaseMetrics) IncDelivery(result string) {
	if m == nil || m.deliveries == nil {
		return
	}
	m.deliveries.WithLabelValues(normalizeLabel(result)).Inc()
}
