package observability

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "bulkmail"

// Metrics stores Prometheus collectors for the send loop and the ops server.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal        *prometheus.CounterVec
	httpRequestDuration      *prometheus.HistogramVec
	outcomesTotal            *prometheus.CounterVec
	sendDuration             *prometheus.HistogramVec
	currentIdentifier        prometheus.Gauge
	remainingIdentifiers     prometheus.Gauge
	recordWriteFailuresTotal prometheus.Counter
	auditFailuresTotal       prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		outcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "outcomes_total",
				Help:      "Total number of processed identifiers by classified outcome.",
			},
			[]string{"outcome"},
		),
		sendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "send_duration_seconds",
				Help:      "SMTP session duration in seconds grouped by transport result.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
			},
			[]string{"result"},
		),
		currentIdentifier: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "current_identifier",
				Help:      "Identifier most recently handed to the sender.",
			},
		),
		remainingIdentifiers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "remaining_identifiers",
				Help:      "Identifiers left in the current run.",
			},
		),
		recordWriteFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "record_write_failures_total",
				Help:      "Total number of delivery records that could not be written.",
			},
		),
		auditFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "audit_failures_total",
				Help:      "Total number of audit entries that at least one sink failed to accept.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.outcomesTotal,
		m.sendDuration,
		m.currentIdentifier,
		m.remainingIdentifiers,
		m.recordWriteFailuresTotal,
		m.auditFailuresTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry for scraping and tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil || m.registry == nil {
		return prometheus.DefaultGatherer
	}
	return m.registry
}

// HTTPMiddleware counts ops requests by matched route. Scrapes of /metrics
// are not counted.
func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		began := time.Now()
		err := c.Next()

		route := "unmatched"
		if r := c.Route(); r != nil && r.Path != "" {
			route = r.Path
		}
		if m == nil || route == "/metrics" {
			return err
		}

		status := c.Response().StatusCode()
		var fiberErr *fiber.Error
		switch {
		case errors.As(err, &fiberErr):
			status = fiberErr.Code
		case err != nil:
			status = fiber.StatusInternalServerError
		}

		method := c.Method()
		m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
		m.httpRequestDuration.WithLabelValues(method, route).Observe(time.Since(began).Seconds())
		return err
	}
}

func (m *Metrics) IncOutcome(outcome string) {
	if m == nil {
		return
	}
	m.outcomesTotal.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) ObserveSendDuration(result string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.sendDuration.WithLabelValues(normalizeLabel(result)).Observe(seconds)
}

func (m *Metrics) SetProgress(current uint64, remaining uint64) {
	if m == nil {
		return
	}
	m.currentIdentifier.Set(float64(current))
	m.remainingIdentifiers.Set(float64(remaining))
}

func (m *Metrics) IncRecordWriteFailure() {
	if m == nil {
		return
	}
	m.recordWriteFailuresTotal.Inc()
}

func (m *Metrics) IncAuditFailure() {
	if m == nil {
		return
	}
	m.auditFailuresTotal.Inc()
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
