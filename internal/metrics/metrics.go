package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Harshitk-cp/memlayer/internal/notify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "memlayer"

// Metrics holds the collectors exported on /metrics. Each App owns its own
// registry so tests can build several without duplicate registration.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests  *prometheus.CounterVec
	HTTPDuration  *prometheus.HistogramVec
	Mutations     *prometheus.CounterVec
	GateDecisions *prometheus.CounterVec
	SweepRuns     *prometheus.CounterVec
	startTime     time.Time
}

func New() *Metrics {
	m := &Metrics{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),

		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),

		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method", "route"}),

		Mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_mutations_total",
			Help:      "Committed ledger actions by kind.",
		}, []string{"action"}),

		GateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_decisions_total",
			Help:      "Confidence gate outcomes.",
		}, []string{"outcome"}),

		SweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expirer_items_total",
			Help:      "Items processed by the expiry sweep.",
		}, []string{"kind"}),
	}

	m.registry.MustRegister(
		m.HTTPRequests,
		m.HTTPDuration,
		m.Mutations,
		m.GateDecisions,
		m.SweepRuns,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Seconds since the process started serving.",
		}, func() float64 { return time.Since(m.startTime).Seconds() }),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one finished HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveEvent is a notify.Listener counting committed actions.
func (m *Metrics) ObserveEvent(e notify.Event) {
	m.Mutations.WithLabelValues(string(e.Action)).Inc()
}

func (m *Metrics) ObserveGate(outcome string) {
	m.GateDecisions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveSweep(kind string, n int) {
	if n > 0 {
		m.SweepRuns.WithLabelValues(kind).Add(float64(n))
	}
}
