package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	PollCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "task_poll_cycles_total",
			Help: "Total number of completed poll cycles",
		},
	)
	PollBatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "task_poll_batch_size",
			Help:    "Number of tasks fetched per poll cycle",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250},
		},
	)

	TaskExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_executions_total",
			Help: "Total number of task executions by type and outcome",
		},
		[]string{"type", "outcome"},
	)
	TaskExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "task_execution_duration_seconds",
			Help:    "Task execution duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"type"},
	)
	TasksInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tasks_in_flight",
			Help: "Number of tasks currently executing on this replica",
		},
	)

	TaskRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_retries_total",
			Help: "Total number of retries scheduled by task type",
		},
		[]string{"type"},
	)
	TaskFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_failures_total",
			Help: "Total number of task failures by type and error type",
		},
		[]string{"type", "error_type"},
	)
	MaxRetriesExceededTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_max_retries_exceeded_total",
			Help: "Total number of tasks that exhausted their retry budget",
		},
		[]string{"type"},
	)
	StaleTasksResetTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stale_tasks_reset_total",
			Help: "Total number of stale locked tasks reset for retry",
		},
	)
)

// InitMetrics registers all collectors; call once per process.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(PollCyclesTotal)
	prometheus.MustRegister(PollBatchSize)
	prometheus.MustRegister(TaskExecutionsTotal)
	prometheus.MustRegister(TaskExecutionDuration)
	prometheus.MustRegister(TasksInFlight)
	prometheus.MustRegister(TaskRetriesTotal)
	prometheus.MustRegister(TaskFailuresTotal)
	prometheus.MustRegister(MaxRetriesExceededTotal)
	prometheus.MustRegister(StaleTasksResetTotal)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// ObserveExecution records one finished attempt.
func ObserveExecution(taskType, outcome string, dur time.Duration) {
	TaskExecutionsTotal.WithLabelValues(taskType, outcome).Inc()
	TaskExecutionDuration.WithLabelValues(taskType).Observe(dur.Seconds())
}

// RecordFailure records one failed attempt by error type.
func RecordFailure(taskType, errorType string) {
	TaskFailuresTotal.WithLabelValues(taskType, errorType).Inc()
}

// RecordRetry records one scheduled retry.
func RecordRetry(taskType string) {
	TaskRetriesTotal.WithLabelValues(taskType).Inc()
}

// RecordMaxRetriesExceeded records one exhausted task.
func RecordMaxRetriesExceeded(taskType string) {
	MaxRetriesExceededTotal.WithLabelValues(taskType).Inc()
}
