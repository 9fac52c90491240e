package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by the monitor API and the push
// job flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	jobTransitionsTotal   *prometheus.CounterVec
	docsPushedTotal       *prometheus.CounterVec
	docsFailedTotal       prometheus.Counter
	docSendDuration       *prometheus.HistogramVec
	transportRetriesTotal prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cdrpush",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "cdrpush",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		jobTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cdrpush",
				Name:      "job_transitions_total",
				Help:      "Total number of batch job status transitions by resulting status.",
			},
			[]string{"status"},
		),
		docsPushedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cdrpush",
				Name:      "documents_pushed_total",
				Help:      "Total number of documents accepted by the gateway by transaction type.",
			},
			[]string{"transaction"},
		),
		docsFailedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "cdrpush",
				Name:      "documents_failed_total",
				Help:      "Total number of documents the gateway refused.",
			},
		),
		docSendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "cdrpush",
				Name:      "document_send_duration_seconds",
				Help:      "Gateway send duration in seconds by transaction type.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"transaction"},
		),
		transportRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "cdrpush",
				Name:      "gateway_transport_retries_total",
				Help:      "Total number of gateway request retries after connection failures.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.jobTransitionsTotal,
		m.docsPushedTotal,
		m.docsFailedTotal,
		m.docSendDuration,
		m.transportRetriesTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncJobTransition(status string) {
	if m == nil {
		return
	}
	m.jobTransitionsTotal.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *Metrics) IncDocPushed(transaction string) {
	if m == nil {
		return
	}
	m.docsPushedTotal.WithLabelValues(normalizeLabel(transaction)).Inc()
}

func (m *Metrics) IncDocFailed() {
	if m == nil {
		return
	}
	m.docsFailedTotal.Inc()
}

func (m *Metrics) ObserveSendDuration(transaction string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.docSendDuration.WithLabelValues(normalizeLabel(transaction)).Observe(seconds)
}

func (m *Metrics) IncTransportRetry() {
	if m == nil {
		return
	}
	m.transportRetriesTotal.Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
