// Package observability bundles the controller's Prometheus metrics and
// OpenTelemetry tracer setup.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the controller exports. A nil *Metrics is
// valid and records nothing, so components can be built without metrics.
type Metrics struct {
	gatherer prometheus.Gatherer

	HellosSent          *prometheus.CounterVec
	HellosReceived      prometheus.Counter
	HellosIgnored       *prometheus.CounterVec
	LivenessTransitions *prometheus.CounterVec
	MonitoredInterfaces prometheus.Gauge
	PollingTime         prometheus.Gauge
	StoreDuration       *prometheus.HistogramVec
	StoreErrors         *prometheus.CounterVec
	HTTPRequests        *prometheus.CounterVec
	HTTPDuration        *prometheus.HistogramVec
}

// NewMetrics registers all collectors against reg, defaulting to the global
// Prometheus registry when nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	f := promauto.With(reg)

	m := &Metrics{
		gatherer: gatherer,
		HellosSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "topokeeper_hellos_sent_total",
			Help: "Number of hello frames emitted, labeled by result.",
		}, []string{"result"}),
		HellosReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "topokeeper_hellos_received_total",
			Help: "Number of hello frames accepted on operational interfaces.",
		}),
		HellosIgnored: f.NewCounterVec(prometheus.CounterOpts{
			Name: "topokeeper_hellos_ignored_total",
			Help: "Number of hello frames dropped on receipt, labeled by reason.",
		}, []string{"reason"}),
		LivenessTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "topokeeper_liveness_transitions_total",
			Help: "Number of liveness pair status changes, labeled by new status.",
		}, []string{"status"}),
		MonitoredInterfaces: f.NewGauge(prometheus.GaugeOpts{
			Name: "topokeeper_liveness_monitored_interfaces",
			Help: "Current number of interfaces under liveness monitoring.",
		}),
		PollingTime: f.NewGauge(prometheus.GaugeOpts{
			Name: "topokeeper_polling_time_seconds",
			Help: "Current hello emission interval.",
		}),
		StoreDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "topokeeper_store_op_duration_seconds",
			Help:    "Duration of entity store operations.",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"op"}),
		StoreErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "topokeeper_store_op_errors_total",
			Help: "Number of failed entity store operations.",
		}, []string{"op"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "topokeeper_http_requests_total",
			Help: "Number of handled API requests, labeled by method and status code.",
		}, []string{"method", "code"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "topokeeper_http_request_duration_seconds",
			Help:    "API request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}

	initCounterLabels(m.HellosSent, "ok", "error")
	initCounterLabels(m.HellosIgnored, ReasonNotOperational, ReasonLLDPExcluded, ReasonMalformed)
	initCounterLabels(m.LivenessTransitions, "up", "down")
	return m
}

// Reasons a received hello is dropped
const (
	ReasonNotOperational = "not_operational"
	ReasonLLDPExcluded   = "lldp_excluded"
	ReasonMalformed      = "malformed"
)

func initCounterLabels(m *prometheus.CounterVec, values ...string) {
	for _, v := range values {
		m.WithLabelValues(v)
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// HelloSent records one emission attempt
func (m *Metrics) HelloSent(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.HellosSent.WithLabelValues("error").Inc()
		return
	}
	m.HellosSent.WithLabelValues("ok").Inc()
}

// HelloReceived records an accepted hello
func (m *Metrics) HelloReceived() {
	if m == nil {
		return
	}
	m.HellosReceived.Inc()
}

// HelloIgnored records a dropped hello
func (m *Metrics) HelloIgnored(reason string) {
	if m == nil {
		return
	}
	m.HellosIgnored.WithLabelValues(reason).Inc()
}

// LivenessTransition records a pair status change
func (m *Metrics) LivenessTransition(status string) {
	if m == nil {
		return
	}
	m.LivenessTransitions.WithLabelValues(status).Inc()
}

// SetMonitored sets the monitored interface gauge
func (m *Metrics) SetMonitored(n int) {
	if m == nil {
		return
	}
	m.MonitoredInterfaces.Set(float64(n))
}

// SetPollingTime sets the current polling interval gauge
func (m *Metrics) SetPollingTime(d time.Duration) {
	if m == nil {
		return
	}
	m.PollingTime.Set(d.Seconds())
}

// ObserveStore records the duration and outcome of a store operation
func (m *Metrics) ObserveStore(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.StoreDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		m.StoreErrors.WithLabelValues(op).Inc()
	}
}

// ObserveHTTP records a completed API request
func (m *Metrics) ObserveHTTP(method string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, http.StatusText(code)).Inc()
	m.HTTPDuration.WithLabelValues(method).Observe(d.Seconds())
}
