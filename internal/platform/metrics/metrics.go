package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Exchange and verification outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeStale   = "stale"
	OutcomeExpired = "expired"
)

// Metrics holds the Prometheus collectors for the auth bridge.
type Metrics struct {
	Exchanges             *prometheus.CounterVec
	ExchangeDuration      prometheus.Histogram
	Verifications         *prometheus.CounterVec
	VerificationDuration  prometheus.Histogram
	Logouts               prometheus.Counter
	DeduplicatedSignals   prometheus.Counter
	ActiveScopes          prometheus.Gauge
	UserServiceBreakerOps *prometheus.CounterVec
}

// New registers all metrics with the default registerer.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers all metrics with reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration panics.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	buckets := []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	return &Metrics{
		Exchanges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "blogfront_token_exchanges_total",
			Help: "ID token exchanges by outcome",
		}, []string{"outcome"}),
		ExchangeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "blogfront_token_exchange_duration_seconds",
			Help:    "Duration of ID token retrieval plus exchange call",
			Buckets: buckets,
		}),
		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "blogfront_session_verifications_total",
			Help: "Persisted session verifications at startup by outcome",
		}, []string{"outcome"}),
		VerificationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "blogfront_session_verification_duration_seconds",
			Help:    "Duration of profile verification calls",
			Buckets: buckets,
		}),
		Logouts: f.NewCounter(prometheus.CounterOpts{
			Name: "blogfront_logouts_total",
			Help: "Explicit logouts",
		}),
		DeduplicatedSignals: f.NewCounter(prometheus.CounterOpts{
			Name: "blogfront_provider_signals_deduplicated_total",
			Help: "Provider authenticated signals ignored because an exchange was in flight",
		}),
		ActiveScopes: f.NewGauge(prometheus.GaugeOpts{
			Name: "blogfront_active_browser_scopes",
			Help: "Browser scopes currently held in memory",
		}),
		UserServiceBreakerOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "blogfront_user_service_breaker_transitions_total",
			Help: "User-service circuit breaker state transitions",
		}, []string{"to"}),
	}
}

func (m *Metrics) IncrementExchange(outcome string) {
	m.Exchanges.WithLabelValues(outcome).Inc()
}

// ObserveExchange records exchange latency. Call with time.Now() at the start.
func (m *Metrics) ObserveExchange(start time.Time) {
	m.ExchangeDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementVerification(outcome string) {
	m.Verifications.WithLabelValues(outcome).Inc()
}

// ObserveVerification records profile call latency. Call with time.Now() at the start.
func (m *Metrics) ObserveVerification(start time.Time) {
	m.VerificationDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementLogout() {
	m.Logouts.Inc()
}

func (m *Metrics) IncrementDeduplicated() {
	m.DeduplicatedSignals.Inc()
}

func (m *Metrics) SetActiveScopes(n int) {
	m.ActiveScopes.Set(float64(n))
}

func (m *Metrics) IncrementBreakerTransition(to string) {
	m.UserServiceBreakerOps.WithLabelValues(to).Inc()
}
