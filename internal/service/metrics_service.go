package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsSnapshot is a lightweight summary of process counters.
type MetricsSnapshot struct {
	RequestsTotal            uint64    `json:"requestsTotal"`
	AverageRequestDurationMs float64   `json:"averageRequestDurationMs"`
	OperationsApplied        uint64    `json:"operationsApplied"`
	OperationsFailed         uint64    `json:"operationsFailed"`
	SyncSkipped              uint64    `json:"syncSkipped"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generatedAt"`
}

// MetricsService encapsulates Prometheus instrumentation for HTTP traffic and the document engine.
type MetricsService struct {
	registry          *prometheus.Registry
	handler           http.Handler
	requestDuration   *prometheus.HistogramVec
	requestTotal      *prometheus.CounterVec
	operations        *prometheus.CounterVec
	syncOperations    *prometheus.CounterVec
	approvalCallbacks *prometheus.CounterVec
	dbQueryDuration   *prometheus.HistogramVec

	requestCount         uint64
	requestDurationTotal uint64
	opsApplied           uint64
	opsFailed            uint64
	syncSkipped          uint64
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

	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "iep_operations_total",
		Help: "Document operations by type and outcome",
	}, []string{"type", "outcome"})

	syncOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "iep_sync_operations_total",
		Help: "Remote operations replayed by sync, by outcome",
	}, []string{"outcome"})

	approvalCallbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "iep_approval_callbacks_total",
		Help: "Approval authority callbacks by event and outcome",
	}, []string{"event", "outcome"})

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of database queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, operations, syncOperations, approvalCallbacks, dbQueryDuration, goroutines)

	return &MetricsService{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:   requestDuration,
		requestTotal:      requestTotal,
		operations:        operations,
		syncOperations:    syncOperations,
		approvalCallbacks: approvalCallbacks,
		dbQueryDuration:   dbQueryDuration,
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

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordOperation counts one applied or failed draft operation.
func (m *MetricsService) RecordOperation(opType string, err error) {
	if m == nil {
		return
	}
	outcome := "applied"
	if err != nil {
		outcome = "failed"
		atomic.AddUint64(&m.opsFailed, 1)
	} else {
		atomic.AddUint64(&m.opsApplied, 1)
	}
	m.operations.WithLabelValues(opType, outcome).Inc()
}

// RecordSync counts the outcomes of one sync call.
func (m *MetricsService) RecordSync(applied, skipped, failed int) {
	if m == nil {
		return
	}
	m.syncOperations.WithLabelValues("applied").Add(float64(applied))
	m.syncOperations.WithLabelValues("skipped").Add(float64(skipped))
	m.syncOperations.WithLabelValues("failed").Add(float64(failed))
	atomic.AddUint64(&m.syncSkipped, uint64(skipped))
}

// RecordApprovalCallback counts an inbound webhook.
func (m *MetricsService) RecordApprovalCallback(event string, err error) {
	if m == nil {
		return
	}
	outcome := "handled"
	if err != nil {
		outcome = "failed"
	}
	m.approvalCallbacks.WithLabelValues(event, outcome).Inc()
}

// ObserveDBQuery records database query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// Snapshot returns aggregated counters for the JSON summary endpoint.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return MetricsSnapshot{
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		OperationsApplied:        atomic.LoadUint64(&m.opsApplied),
		OperationsFailed:         atomic.LoadUint64(&m.opsFailed),
		SyncSkipped:              atomic.LoadUint64(&m.syncSkipped),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
