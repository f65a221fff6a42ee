package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the agent.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Promise metrics
	promisesExecuted *prometheus.CounterVec
	promiseDuration  *prometheus.HistogramVec

	// Promise state metrics
	promisesManaged *prometheus.GaugeVec
	promiseState    *prometheus.GaugeVec

	// Actuator metrics
	actuatorCalls    *prometheus.CounterVec
	actuatorDuration *prometheus.HistogramVec
	actuatorErrors   *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// Drift detection metrics
	driftDetections *prometheus.CounterVec

	// System metrics
	activeRuns    prometheus.Gauge
	queuedPromises prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	// Create a new registry
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		// Run metrics
		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of runs started",
			},
			[]string{"user"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of run execution in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		// Promise metrics
		promisesExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plan_units_executed_total",
				Help:      "Total number of promises executed",
			},
			[]string{"operation", "status"},
		),
		promiseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "promise_duration_seconds",
				Help:      "Duration of promise execution in seconds",
				Buckets:   buckets,
			},
			[]string{"operation", "promise_type"},
		),

		// Promise state metrics
		promisesManaged: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "promises_managed",
				Help:      "Current number of managed promises",
			},
			[]string{"type", "status"},
		),
		promiseState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "promise_state",
				Help:      "Current state of promises (1=ready, 0=not ready)",
			},
			[]string{"promiser", "type"},
		),

		// Actuator metrics
		actuatorCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actuator_calls_total",
				Help:      "Total number of actuator calls",
			},
			[]string{"actuator", "operation"},
		),
		actuatorDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "actuator_call_duration_seconds",
				Help:      "Duration of actuator calls in seconds",
				Buckets:   buckets,
			},
			[]string{"actuator", "operation"},
		),
		actuatorErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actuator_errors_total",
				Help:      "Total number of actuator errors",
			},
			[]string{"actuator", "operation"},
		),

		// Error metrics
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),

		// Drift detection metrics
		driftDetections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "drift_detections_total",
				Help:      "Total number of drift detections",
			},
			[]string{"promise_type", "status"},
		),

		// System metrics
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of active runs",
			},
		),
		queuedPromises: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queued_promises",
				Help:      "Current number of queued promises",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.promisesExecuted,
		m.promiseDuration,
		m.promisesManaged,
		m.promiseState,
		m.actuatorCalls,
		m.actuatorDuration,
		m.actuatorErrors,
		m.errorsByClass,
		m.errorsByCode,
		m.driftDetections,
		m.activeRuns,
		m.queuedPromises,
	)

	return m, nil
}

// Run Metrics

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(user string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(user).Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// Promise Metrics

// RecordPromiseExecution records the execution of a promise.
func (m *Metrics) RecordPromiseExecution(operation, status string, duration time.Duration, promiseType string) {
	if m.promisesExecuted == nil {
		return
	}
	m.promisesExecuted.WithLabelValues(operation, status).Inc()
	m.promiseDuration.WithLabelValues(operation, promiseType).Observe(duration.Seconds())
}

// Promise State Metrics

// SetPromiseCount sets the current count of managed promises.
func (m *Metrics) SetPromiseCount(promiseType, status string, count float64) {
	if m.promisesManaged == nil {
		return
	}
	m.promisesManaged.WithLabelValues(promiseType, status).Set(count)
}

// SetPromiseState sets the ready state of a specific promiser.
func (m *Metrics) SetPromiseState(promiser, promiseType string, ready bool) {
	if m.promiseState == nil {
		return
	}
	value := 0.0
	if ready {
		value = 1.0
	}
	m.promiseState.WithLabelValues(promiser, promiseType).Set(value)
}

// Actuator Metrics

// RecordActuatorCall records an actuator call with its duration.
func (m *Metrics) RecordActuatorCall(actuator, operation string, duration time.Duration) {
	if m.actuatorCalls == nil {
		return
	}
	m.actuatorCalls.WithLabelValues(actuator, operation).Inc()
	m.actuatorDuration.WithLabelValues(actuator, operation).Observe(duration.Seconds())
}

// RecordActuatorError records an actuator error.
func (m *Metrics) RecordActuatorError(actuator, operation string) {
	if m.actuatorErrors == nil {
		return
	}
	m.actuatorErrors.WithLabelValues(actuator, operation).Inc()
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Drift Metrics

// RecordDriftDetection records a drift detection event.
func (m *Metrics) RecordDriftDetection(promiseType, status string) {
	if m.driftDetections == nil {
		return
	}
	m.driftDetections.WithLabelValues(promiseType, status).Inc()
}

// System Metrics

// SetActiveRuns sets the current number of active runs.
func (m *Metrics) SetActiveRuns(count float64) {
	if m.activeRuns == nil {
		return
	}
	m.activeRuns.Set(count)
}

// SetQueuedPromises sets the current number of queued promises.
func (m *Metrics) SetQueuedPromises(count float64) {
	if m.queuedPromises == nil {
		return
	}
	m.queuedPromises.Set(count)
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
