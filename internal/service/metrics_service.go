package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/exam-scheduler-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for HTTP traffic and scheduling batches.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	batchTotal      *prometheus.CounterVec
	batchDuration   *prometheus.HistogramVec
	placements      prometheus.Counter
	failures        *prometheus.CounterVec
	lockRejections  prometheus.Counter
	transitions     *prometheus.CounterVec
	persistDuration *prometheus.HistogramVec
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	batchTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "exam_scheduler_batches_total",
		Help: "Scheduling batches by kind and terminal status",
	}, []string{"kind", "status"})

	batchDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "exam_scheduler_batch_duration_seconds",
		Help:    "Wall time of scheduling batches",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 180, 600},
	}, []string{"kind"})

	placements := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "exam_scheduler_placements_total",
		Help: "Exam sessions committed to the timetable",
	})

	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "exam_scheduler_failures_total",
		Help: "Exam sessions that could not be placed, by reason code",
	}, []string{"reason"})

	lockRejections := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "exam_scheduler_scope_lock_rejections_total",
		Help: "Batches rejected because their scope was locked",
	})

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "exam_scheduler_triage_transitions_total",
		Help: "Failure triage transitions by action",
	}, []string{"action"})

	persistDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "exam_scheduler_persist_duration_seconds",
		Help:    "Duration of bulk batch persistence",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, batchTotal, batchDuration, placements, failures,
		lockRejections, transitions, persistDuration, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		batchTotal:      batchTotal,
		batchDuration:   batchDuration,
		placements:      placements,
		failures:        failures,
		lockRejections:  lockRejections,
		transitions:     transitions,
		persistDuration: persistDuration,
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// ObserveBatch records a finished batch with its roll-up.
func (m *MetricsService) ObserveBatch(batch models.SchedulingBatch, failures []models.SchedulingFailure, duration time.Duration) {
	if m == nil {
		return
	}
	m.batchTotal.WithLabelValues(string(batch.Kind), string(batch.Status)).Inc()
	m.batchDuration.WithLabelValues(string(batch.Kind)).Observe(duration.Seconds())
	m.placements.Add(float64(batch.Placed))
	for _, f := range failures {
		m.failures.WithLabelValues(string(f.Reason)).Inc()
	}
}

// ObservePersist records how long the bulk write of a batch took.
func (m *MetricsService) ObservePersist(kind models.SchedulingBatchKind, duration time.Duration) {
	if m == nil {
		return
	}
	m.persistDuration.WithLabelValues(string(kind)).Observe(duration.Seconds())
}

// RecordScopeLocked counts a rejected batch start.
func (m *MetricsService) RecordScopeLocked() {
	if m == nil {
		return
	}
	m.lockRejections.Inc()
}

// RecordTransition counts an applied triage action.
func (m *MetricsService) RecordTransition(action models.TriageAction) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(action)).Inc()
}
