package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Metadata operation label values.
const (
	OpGet    = "get"
	OpPut    = "put"
	OpDelete = "delete"
	OpList   = "list"
)

// DefaultMetadataLatencyBuckets suit small key-value operations
// (sub-millisecond to a few seconds).
var DefaultMetadataLatencyBuckets = []float64{
	0.0001, // 0.1ms
	0.0005, // 0.5ms
	0.001,  // 1ms
	0.002,  // 2ms
	0.005,  // 5ms
	0.01,   // 10ms
	0.025,  // 25ms
	0.05,   // 50ms
	0.1,    // 100ms
	0.25,   // 250ms
	0.5,    // 500ms
	1.0,    // 1s
	2.5,    // 2.5s
	5.0,    // 5s
}

// MetadataMetrics tracks checkpoint and lease store operations.
// It satisfies metadata.MetricsRecorder.
type MetadataMetrics struct {
	// LatencyHistogram tracks operation latency.
	// Labels: operation, status
	LatencyHistogram *prometheus.HistogramVec

	// RequestsTotal counts operations.
	// Labels: operation, status
	RequestsTotal *prometheus.CounterVec
}

// NewMetadataMetrics creates metadata metrics on the default registry.
func NewMetadataMetrics() *MetadataMetrics {
	return NewMetadataMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetadataMetricsWithRegistry creates metadata metrics registered with reg.
func NewMetadataMetricsWithRegistry(reg prometheus.Registerer) *MetadataMetrics {
	f := promauto.With(reg)
	return &MetadataMetrics{
		LatencyHistogram: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "metadata",
			Name:      "operation_latency_seconds",
			Help:      "Metadata store operation latency in seconds.",
			Buckets:   DefaultMetadataLatencyBuckets,
		}, []string{"operation", "status"}),
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "metadata",
			Name:      "operations_total",
			Help:      "Number of metadata store operations.",
		}, []string{"operation", "status"}),
	}
}

// RecordOp records one store operation.
func (m *MetadataMetrics) RecordOp(op string, durationSeconds float64, success bool) {
	if m == nil {
		return
	}
	status := StatusFailure
	if success {
		status = StatusSuccess
	}
	m.LatencyHistogram.WithLabelValues(op, status).Observe(durationSeconds)
	m.RequestsTotal.WithLabelValues(op, status).Inc()
}
