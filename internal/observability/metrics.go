package observability

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors. All methods are safe on a nil receiver.
type Metrics struct {
	registry prometheus.Gatherer

	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	GateDecisions     *prometheus.CounterVec
	AuthEvents        *prometheus.CounterVec
	RateLimitRejected *prometheus.CounterVec
	OwnershipNotFound prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg. Collectors that are
// already registered (a second Metrics on the default registry) are reused.
func NewMetrics(reg prometheus.Registerer, gatherer prometheus.Gatherer) (*Metrics, error) {
	m := &Metrics{
		registry: gatherer,
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskpulse_http_requests_total",
				Help: "HTTP requests by method and status class",
			},
			[]string{"method", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskpulse_http_request_duration_seconds",
				Help:    "HTTP request duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		GateDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskpulse_auth_gate_decisions_total",
				Help: "Final auth gate state per request",
			},
			[]string{"state"},
		),
		AuthEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskpulse_auth_events_total",
				Help: "Security events such as login_success and login_failure",
			},
			[]string{"event"},
		),
		RateLimitRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskpulse_ratelimit_rejected_total",
				Help: "Requests rejected by the auth rate limiter",
			},
			[]string{"endpoint"},
		),
		OwnershipNotFound: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "taskpulse_ownership_not_found_total",
				Help: "Scoped lookups answered with resource not found",
			},
		),
	}

	var err error
	if m.RequestsTotal, err = register(reg, m.RequestsTotal); err != nil {
		return nil, err
	}
	if m.RequestDuration, err = register(reg, m.RequestDuration); err != nil {
		return nil, err
	}
	if m.GateDecisions, err = register(reg, m.GateDecisions); err != nil {
		return nil, err
	}
	if m.AuthEvents, err = register(reg, m.AuthEvents); err != nil {
		return nil, err
	}
	if m.RateLimitRejected, err = register(reg, m.RateLimitRejected); err != nil {
		return nil, err
	}
	if m.OwnershipNotFound, err = register(reg, m.OwnershipNotFound); err != nil {
		return nil, err
	}
	return m, nil
}

// Register adds an extra collector (for example the database pool stats) to reg,
// ignoring duplicates.
func Register(reg prometheus.Registerer, c prometheus.Collector) error {
	_, err := register(reg, c)
	return err
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Handler exposes the gathered metrics in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// GateDecision counts the terminal state of one auth gate pass
func (m *Metrics) GateDecision(state string) {
	if m == nil {
		return
	}
	m.GateDecisions.WithLabelValues(state).Inc()
}

// AuthEvent counts a security event
func (m *Metrics) AuthEvent(event string) {
	if m == nil {
		return
	}
	m.AuthEvents.WithLabelValues(event).Inc()
}

// RateLimited counts a rate limit rejection for endpoint
func (m *Metrics) RateLimited(endpoint string) {
	if m == nil {
		return
	}
	m.RateLimitRejected.WithLabelValues(endpoint).Inc()
}

// NotFound counts a scoped lookup that produced resource not found
func (m *Metrics) NotFound() {
	if m == nil {
		return
	}
	m.OwnershipNotFound.Inc()
}

// Middleware records request count and duration per method and status class
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		statusClass := strconv.Itoa(sw.status/100) + "xx"
		m.RequestsTotal.WithLabelValues(r.Method, statusClass).Inc()
		m.RequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

// statusWriter captures the status code written by the wrapped handler
type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.written {
		w.status = status
		w.written = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.written = true
	return w.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the original writer
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
