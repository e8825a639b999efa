package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result labels
const (
	ResultOK        = "ok"
	ResultRejected  = "rejected"
	ResultFailed    = "failed"
	ResultExhausted = "exhausted"
	ResultNotFound  = "not_found"
)

// Metrics holds the Prometheus collectors exposed on /metrics.
type Metrics struct {
	registry *prometheus.Registry

	SessionsStarted     prometheus.Counter
	SessionResumes      *prometheus.CounterVec
	ChatExchanges       *prometheus.CounterVec
	ExchangeDuration    prometheus.Histogram
	AssistantPollCounts prometheus.Histogram
}

// NewMetrics creates a dedicated registry and registers all collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_sessions_started_total",
			Help: "Total number of quota sessions started",
		}),
		SessionResumes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_session_resumes_total",
				Help: "Session resume attempts by result",
			},
			[]string{"result"},
		),
		ChatExchanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_chat_exchanges_total",
				Help: "Chat requests by result",
			},
			[]string{"result"},
		),
		ExchangeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_assistant_exchange_duration_seconds",
			Help:    "Duration of assistant exchanges in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 120},
		}),
		AssistantPollCounts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_assistant_poll_iterations",
			Help:    "Run status polls needed per successful exchange",
			Buckets: prometheus.LinearBuckets(0, 2, 10),
		}),
	}

	m.registry.MustRegister(
		m.SessionsStarted,
		m.SessionResumes,
		m.ChatExchanges,
		m.ExchangeDuration,
		m.AssistantPollCounts,
	)

	return m
}

// RegisterSessionGauge exposes the number of sessions currently held in memory.
func (m *Metrics) RegisterSessionGauge(count func() int) {
	if m == nil || count == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "relay_sessions_held",
			Help: "Sessions currently held in memory",
		},
		func() float64 { return float64(count()) },
	))
}

// SessionStarted records a new session. Safe on a nil receiver.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
}

// SessionResumed records a resume attempt.
func (m *Metrics) SessionResumed(result string) {
	if m == nil {
		return
	}
	m.SessionResumes.WithLabelValues(result).Inc()
}

// ChatFinished records the outcome of a chat request.
func (m *Metrics) ChatFinished(result string) {
	if m == nil {
		return
	}
	m.ChatExchanges.WithLabelValues(result).Inc()
}

// ExchangeObserved records duration and poll count of a completed assistant exchange.
func (m *Metrics) ExchangeObserved(elapsed time.Duration, polls int) {
	if m == nil {
		return
	}
	m.ExchangeDuration.Observe(elapsed.Seconds())
	m.AssistantPollCounts.Observe(float64(polls))
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: false,
	})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
