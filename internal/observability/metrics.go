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

// Metrics stores Prometheus collectors used by the API, the trigger consumer
// and the job worker.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal         *prometheus.CounterVec
	httpRequestDuration       *prometheus.HistogramVec
	dunningOutcomesTotal      *prometheus.CounterVec
	dunningErrorsTotal        *prometheus.CounterVec
	dunningEvaluationDuration *prometheus.HistogramVec
	jobsScheduledTotal        *prometheus.CounterVec
	jobsProcessedTotal        *prometheus.CounterVec
	jobDuration               *prometheus.HistogramVec
	workerInflight            *prometheus.GaugeVec
	notificationsTotal        *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dunning",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "dunning",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		dunningOutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dunning",
				Name:      "outcomes_total",
				Help:      "Total number of dunning evaluations by variant and outcome.",
			},
			[]string{"variant", "outcome"},
		),
		dunningErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dunning",
				Name:      "evaluation_errors_total",
				Help:      "Total number of dunning evaluations that returned an error.",
			},
			[]string{"variant"},
		),
		dunningEvaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "dunning",
				Name:      "evaluation_duration_seconds",
				Help:      "Dunning evaluation duration in seconds grouped by variant.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"variant"},
		),
		jobsScheduledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dunning",
				Name:      "jobs_scheduled_total",
				Help:      "Total number of jobs accepted by the scheduler.",
			},
			[]string{"kind"},
		),
		jobsProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dunning",
				Name:      "jobs_processed_total",
				Help:      "Total number of job runs by kind and result.",
			},
			[]string{"kind", "result"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "dunning",
				Name:      "job_duration_seconds",
				Help:      "Job handler duration in seconds grouped by kind.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"kind"},
		),
		workerInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "dunning",
				Name:      "worker_inflight",
				Help:      "Current number of in-flight jobs grouped by kind.",
			},
			[]string{"kind"},
		),
		notificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dunning",
				Name:      "notifications_total",
				Help:      "Total number of notification sends by recipient and result.",
			},
			[]string{"recipient", "result"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.dunningOutcomesTotal,
		m.dunningErrorsTotal,
		m.dunningEvaluationDuration,
		m.jobsScheduledTotal,
		m.jobsProcessedTotal,
		m.jobDuration,
		m.workerInflight,
		m.notificationsTotal,
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

func (m *Metrics) IncDunningOutcome(variant string, outcome string) {
	if m == nil {
		return
	}
	m.dunningOutcomesTotal.WithLabelValues(normalizeLabel(variant), normalizeLabel(outcome)).Inc()
}

func (m *Metrics) IncDunningError(variant string) {
	if m == nil {
		return
	}
	m.dunningErrorsTotal.WithLabelValues(normalizeLabel(variant)).Inc()
}

func (m *Metrics) ObserveDunningEvaluation(variant string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dunningEvaluationDuration.WithLabelValues(normalizeLabel(variant)).Observe(nonNegativeSeconds(duration))
}

func (m *Metrics) IncJobScheduled(kind string) {
	if m == nil {
		return
	}
	m.jobsScheduledTotal.WithLabelValues(normalizeLabel(kind)).Inc()
}

// IncJobProcessed counts a job run; result is done, retry or failed.
func (m *Metrics) IncJobProcessed(kind string, result string) {
	if m == nil {
		return
	}
	m.jobsProcessedTotal.WithLabelValues(normalizeLabel(kind), normalizeLabel(result)).Inc()
}

func (m *Metrics) ObserveJobDuration(kind string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(normalizeLabel(kind)).Observe(nonNegativeSeconds(duration))
}

func (m *Metrics) IncWorkerInFlight(kind string) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(normalizeLabel(kind)).Inc()
}

func (m *Metrics) DecWorkerInFlight(kind string) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(normalizeLabel(kind)).Dec()
}

func (m *Metrics) IncNotification(recipient string, delivered bool) {
	if m == nil {
		return
	}
	result := "failed"
	if delivered {
		result = "sent"
	}
	m.notificationsTotal.WithLabelValues(normalizeLabel(recipient), result).Inc()
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

func nonNegativeSeconds(duration time.Duration) float64 {
	seconds := duration.Seconds()
	if seconds < 0 {
		return 0
	}
	return seconds
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
