package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors on a private registry.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpErrors   *prometheus.CounterVec

	assignments       *prometheus.CounterVec
	accepts           *prometheus.CounterVec
	escalations       *prometheus.CounterVec
	scanDuration      prometheus.Histogram
	predicateFailures prometheus.Counter

	notificationFailures *prometheus.CounterVec
	notificationsDropped prometheus.Counter
	activityFailures     prometheus.Counter
}

// NewMetrics registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		httpErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "HTTP responses rendered from errors, by error code",
		}, []string{"method", "route", "code"}),
		assignments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "request_assignments_total",
			Help: "Assignment attempts for new requests, by outcome",
		}, []string{"outcome"}),
		accepts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "request_accepts_total",
			Help: "Accept attempts, by outcome",
		}, []string{"outcome"}),
		escalations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "escalation_steps_total",
			Help: "Escalation ticket processing, by outcome",
		}, []string{"outcome"}),
		scanDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "escalation_scan_duration_seconds",
			Help:    "Duration of one escalation scan",
			Buckets: prometheus.DefBuckets,
		}),
		predicateFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "rule_predicate_failures_total",
			Help: "Custom rule predicates that failed to compile or evaluate",
		}),
		notificationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_failures_total",
			Help: "Notification handlers that returned an error, by event type",
		}, []string{"event"}),
		notificationsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "notifications_dropped_total",
			Help: "Events dropped because the notification queue was full",
		}),
		activityFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "activity_write_failures_total",
			Help: "Timeline entries that could not be written",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordRequest observes a finished HTTP request.
func (m *Metrics) RecordRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordError counts an error response.
func (m *Metrics) RecordError(route, method, code string) {
	if m == nil {
		return
	}
	m.httpErrors.WithLabelValues(method, route, code).Inc()
}

// RecordAssignment counts an assignment outcome.
func (m *Metrics) RecordAssignment(outcome string) {
	if m == nil {
		return
	}
	m.assignments.WithLabelValues(outcome).Inc()
}

// RecordAccept counts an accept outcome.
func (m *Metrics) RecordAccept(outcome string) {
	if m == nil {
		return
	}
	m.accepts.WithLabelValues(outcome).Inc()
}

// RecordEscalation counts an escalation step outcome.
func (m *Metrics) RecordEscalation(outcome string) {
	if m == nil {
		return
	}
	m.escalations.WithLabelValues(outcome).Inc()
}

// ObserveScan records the duration of one scheduler scan.
func (m *Metrics) ObserveScan(d time.Duration) {
	if m == nil {
		return
	}
	m.scanDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordPredicateFailure() {
	if m == nil {
		return
	}
	m.predicateFailures.Inc()
}

func (m *Metrics) RecordNotificationFailure(event string) {
	if m == nil {
		return
	}
	m.notificationFailures.WithLabelValues(event).Inc()
}

func (m *Metrics) RecordNotificationDropped() {
	if m == nil {
		return
	}
	m.notificationsDropped.Inc()
}

func (m *Metrics) RecordActivityFailure() {
	if m == nil {
		return
	}
	m.activityFailures.Inc()
}
