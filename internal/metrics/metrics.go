package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vnmchuo/banana-gateway/internal/provider"
	"github.com/vnmchuo/banana-gateway/internal/proxy"
)

type Metrics struct {
	gatherer prometheus.Gatherer

	ProviderAttempts *prometheus.CounterVec
	Fallbacks        *prometheus.CounterVec
	Requests         *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	CreditsCharged   *prometheus.CounterVec
}

// New registers the gateway collectors on reg. Use prometheus.NewRegistry()
// in tests so collectors don't collide across cases.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,

		ProviderAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_provider_attempts_total",
				Help: "Upstream provider attempts by outcome",
			},
			[]string{"provider", "outcome"}, // outcome: success|error
		),
		Fallbacks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_provider_fallbacks_total",
				Help: "Requests served by a provider other than the first candidate",
			},
			[]string{"provider"},
		),
		Requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_requests_total",
				Help: "Handled API requests by operation and status code",
			},
			[]string{"operation", "code"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_request_duration_seconds",
				Help:    "API request latency in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
			},
			[]string{"operation"},
		),
		CreditsCharged: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_credits_charged_total",
				Help: "Credits deducted from user balances",
			},
			[]string{"provider", "model"},
		),
	}
}

// Hooks feeds orchestrator attempt events into the counters.
func (m *Metrics) Hooks() proxy.Hooks {
	return proxy.Hooks{
		OnAttemptFailed: func(id provider.ID, attempt int, err error) {
			m.ProviderAttempts.WithLabelValues(string(id), "error").Inc()
		},
		OnAttemptSucceeded: func(id provider.ID, attempt int) {
			m.ProviderAttempts.WithLabelValues(string(id), "success").Inc()
			if attempt > 0 {
				m.Fallbacks.WithLabelValues(string(id)).Inc()
			}
		},
	}
}

func (m *Metrics) ObserveRequest(operation string, code int, d time.Duration) {
	m.Requests.WithLabelValues(operation, strconv.Itoa(code)).Inc()
	m.RequestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *Metrics) AddCredits(providerID, model string, amount float64) {
	if amount <= 0 {
		return
	}
	m.CreditsCharged.WithLabelValues(providerID, model).Add(amount)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
