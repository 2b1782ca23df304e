// Package metrics provides Prometheus metrics for drivebackup. Every method
// is safe on a nil *Metrics, so components take metrics optionally.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors registered on one registry.
type Metrics struct {
	gatherer prometheus.Gatherer

	operationsTotal    *prometheus.CounterVec
	operationDuration  *prometheus.HistogramVec
	bytesUploaded      prometheus.Counter
	bytesDownloaded    prometheus.Counter
	retentionDeleted   prometheus.Counter
	tokenRefreshTotal  *prometheus.CounterVec
	httpRequestsTotal  *prometheus.CounterVec
	httpRequestLatency *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry registers the collectors on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		gatherer: reg,

		operationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drivebackup_operations_total",
				Help: "Total destination operations",
			},
			[]string{"op", "status"},
		),
		operationDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "drivebackup_operation_duration_seconds",
				Help:    "Destination operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		bytesUploaded: f.NewCounter(
			prometheus.CounterOpts{
				Name: "drivebackup_bytes_uploaded_total",
				Help: "Total bytes uploaded to Drive",
			},
		),
		bytesDownloaded: f.NewCounter(
			prometheus.CounterOpts{
				Name: "drivebackup_bytes_downloaded_total",
				Help: "Total bytes downloaded from Drive",
			},
		),
		retentionDeleted: f.NewCounter(
			prometheus.CounterOpts{
				Name: "drivebackup_retention_deleted_total",
				Help: "Backups deleted by retention cleanup",
			},
		),
		tokenRefreshTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drivebackup_token_refreshes_total",
				Help: "OAuth access token refreshes",
			},
			[]string{"status"},
		),
		httpRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drivebackup_http_requests_total",
				Help: "Total HTTP requests served",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "drivebackup_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// Handler returns the Prometheus exposition handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry, mainly for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}

	return m.gatherer
}

// RecordOperation records a destination operation and its outcome.
func (m *Metrics) RecordOperation(op string, duration time.Duration, err error) {
	if m == nil {
		return
	}

	m.operationsTotal.WithLabelValues(op, status(err == nil)).Inc()
	m.operationDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// AddBytesUploaded counts uploaded content bytes.
func (m *Metrics) AddBytesUploaded(n int64) {
	if m == nil {
		return
	}

	m.bytesUploaded.Add(float64(n))
}

// AddBytesDownloaded counts downloaded content bytes.
func (m *Metrics) AddBytesDownloaded(n int64) {
	if m == nil {
		return
	}

	m.bytesDownloaded.Add(float64(n))
}

// AddRetentionDeleted counts backups removed by retention.
func (m *Metrics) AddRetentionDeleted(n int) {
	if m == nil {
		return
	}

	m.retentionDeleted.Add(float64(n))
}

// TokenRefresh records an access token refresh.
func (m *Metrics) TokenRefresh(success bool) {
	if m == nil {
		return
	}

	m.tokenRefreshTotal.WithLabelValues(status(success)).Inc()
}

// RecordHTTPRequest records a served HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, code int, duration time.Duration) {
	if m == nil {
		return
	}

	m.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(code)).Inc()
	m.httpRequestLatency.WithLabelValues(method, path).Observe(duration.Seconds())
}

func status(success bool) string {
	if success {
		return "success"
	}

	return "error"
}
