package ai

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for the requests counter
const (
	OutcomeSuccess          = "success"
	OutcomeQuotaLocal       = "quota_local"
	OutcomeQuotaProvider    = "quota_provider"
	OutcomeStoreUnavailable = "store_unavailable"
	OutcomeSchemaError      = "schema_error"
	OutcomeProviderError    = "provider_error"
	OutcomeTimeout          = "timeout"
	OutcomeDegraded         = "degraded"
)

const (
	operationAnalyze = "analyze"
	operationChat    = "chat"
)

// Metrics records orchestration outcomes. A nil *Metrics records nothing.
type Metrics struct {
	requests     *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
}

// NewMetrics registers the collectors on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "invoice_insight",
			Subsystem: "ai",
			Name:      "requests_total",
			Help:      "AI requests by operation and outcome.",
		}, []string{"operation", "outcome"}),
		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "invoice_insight",
			Subsystem: "ai",
			Name:      "provider_call_duration_seconds",
			Help:      "Latency of external model calls.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"operation", "model"}),
	}
	reg.MustRegister(m.requests, m.callDuration)
	return m
}

func (m *Metrics) observeOutcome(operation, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) observeCall(operation, model string, d time.Duration) {
	if m == nil {
		return
	}
	m.callDuration.WithLabelValues(operation, model).Observe(d.Seconds())
}
