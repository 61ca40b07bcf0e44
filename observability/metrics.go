package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the gateway's Prometheus metric set.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	TokensTotal     *prometheus.CounterVec
	QueueDepth      prometheus.Gauge
	BackendHealthy  *prometheus.GaugeVec
	BackendPending  *prometheus.GaugeVec
	RoutingRejected *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics registers every gateway metric against a fresh registry and
// returns the handle used to record observations.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	factory := promauto.With(reg)

	m := &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_requests_total",
			Help: "Total chat completion requests by backend, model, and outcome.",
		}, []string{"backend", "model", "status"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nexus_request_duration_seconds",
			Help:    "Request latency from routing decision to response completion.",
			Buckets: prometheus.DefBuckets,
		}, []string{"backend", "model"}),

		TokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_tokens_total",
			Help: "Total tokens consumed by backend and direction (prompt/completion).",
		}, []string{"backend", "model", "direction"}),

		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "nexus_queue_depth",
			Help: "Current number of requests waiting in the request queue.",
		}),

		BackendHealthy: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nexus_backend_healthy",
			Help: "1 if the backend's last health check succeeded, else 0.",
		}, []string{"backend"}),

		BackendPending: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nexus_backend_pending_requests",
			Help: "Current in-flight request count per backend.",
		}, []string{"backend"}),

		RoutingRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_routing_rejected_total",
			Help: "Total requests rejected by the routing pipeline, by reconciler.",
		}, []string{"reconciler"}),
	}
	m.registry = reg
	return m
}

// Handler serves the Prometheus exposition format for this Metrics set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
