package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/uni-enroll-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for the API and the
// enrollment domain. All methods are nil-safe so wiring stays optional.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	enrollmentTransitions *prometheus.CounterVec
	contractsIssued       prometheus.Counter
	contractsAccepted     prometheus.Counter
	gradeItems            *prometheus.CounterVec
	sweepDuration         prometheus.Histogram
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

	enrollmentTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrollment_transitions_total",
		Help: "Enrollment status transitions by target status",
	}, []string{"to"})

	contractsIssued := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "contracts_issued_total",
		Help: "Total contracts issued",
	})

	contractsAccepted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "contracts_accepted_total",
		Help: "Total contracts accepted",
	})

	gradeItems := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grade_batch_items_total",
		Help: "Batch grade items by outcome",
	}, []string{"outcome"})

	sweepDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "reenrollment_sweep_duration_seconds",
		Help:    "Duration of reenrollment sweep runs",
		Buckets: prometheus.DefBuckets,
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, enrollmentTransitions, contractsIssued, contractsAccepted, gradeItems, sweepDuration, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:              registry,
		handler:               handler,
		requestDuration:       requestDuration,
		requestTotal:          requestTotal,
		enrollmentTransitions: enrollmentTransitions,
		contractsIssued:       contractsIssued,
		contractsAccepted:     contractsAccepted,
		gradeItems:            gradeItems,
		sweepDuration:         sweepDuration,
	}
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

// RecordEnrollmentTransition counts a status change by target state.
func (m *MetricsService) RecordEnrollmentTransition(to models.EnrollmentStatus) {
	if m == nil {
		return
	}
	m.enrollmentTransitions.WithLabelValues(string(to)).Inc()
}

// RecordContractIssued counts a new contract.
func (m *MetricsService) RecordContractIssued() {
	if m == nil {
		return
	}
	m.contractsIssued.Inc()
}

// RecordContractAccepted counts an acceptance.
func (m *MetricsService) RecordContractAccepted() {
	if m == nil {
		return
	}
	m.contractsAccepted.Inc()
}

// RecordGradeBatch counts per-item outcomes of a batch submission.
func (m *MetricsService) RecordGradeBatch(success, failed int) {
	if m == nil {
		return
	}
	m.gradeItems.WithLabelValues("success").Add(float64(success))
	m.gradeItems.WithLabelValues("failed").Add(float64(failed))
}

// ObserveSweep records one reenrollment sweep run.
func (m *MetricsService) ObserveSweep(duration time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(duration.Seconds())
}
