package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ReplicationMetrics tracks metadata-delta batching.
type ReplicationMetrics struct {
	// Batches counts batch syncs by outcome.
	// Labels: status (success, failed)
	Batches *prometheus.CounterVec

	// Entries counts metadata deltas handed to the replication sink.
	Entries prometheus.Counter

	// EstimatedCompressed counts the estimated compressed entry count.
	EstimatedCompressed prometheus.Counter

	// PayloadBytes observes the encoded, compressed batch payload size.
	PayloadBytes prometheus.Histogram

	// Pending tracks deltas buffered below the batch threshold.
	Pending prometheus.Gauge
}

// NewReplicationMetrics creates replication metrics on the default registry.
func NewReplicationMetrics() *ReplicationMetrics {
	return NewReplicationMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewReplicationMetricsWithRegistry creates replication metrics registered with reg.
func NewReplicationMetricsWithRegistry(reg prometheus.Registerer) *ReplicationMetrics {
	f := promauto.With(reg)
	return &ReplicationMetrics{
		Batches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "replication",
			Name:      "batches_total",
			Help:      "Number of metadata-delta batch syncs.",
		}, []string{"status"}),
		Entries: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "replication",
			Name:      "entries_total",
			Help:      "Number of metadata deltas synced.",
		}),
		EstimatedCompressed: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "replication",
			Name:      "estimated_compressed_entries_total",
			Help:      "Estimated entry count after compression, summed over batches.",
		}),
		PayloadBytes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "replication",
			Name:      "payload_bytes",
			Help:      "Encoded batch payload size after compression.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
		}),
		Pending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "replication",
			Name:      "pending_entries",
			Help:      "Metadata deltas waiting for the batch threshold.",
		}),
	}
}

// RecordBatch records one batch sync.
func (m *ReplicationMetrics) RecordBatch(entries, estimated, payloadBytes int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.Batches.WithLabelValues("failed").Inc()
		return
	}
	m.Batches.WithLabelValues("success").Inc()
	m.Entries.Add(float64(entries))
	m.EstimatedCompressed.Add(float64(estimated))
	m.PayloadBytes.Observe(float64(payloadBytes))
}

// RecordPending sets the buffered delta count.
func (m *ReplicationMetrics) RecordPending(n int) {
	if m == nil {
		return
	}
	m.Pending.Set(float64(n))
}
