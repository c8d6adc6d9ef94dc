package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TaskMetrics tracks the GC task lifecycle owned by the task registry.
type TaskMetrics struct {
	// Created counts tasks admitted for a shard.
	Created prometheus.Counter

	// ShardBusy counts creation attempts rejected because the shard
	// already had a live task.
	ShardBusy prometheus.Counter

	// Transitions counts status transitions.
	// Labels: from, to
	Transitions *prometheus.CounterVec

	// Interrupts counts checkpointed interruptions (including failover).
	Interrupts prometheus.Counter

	// Evictions counts tasks evicted by scheduler preemption.
	Evictions prometheus.Counter

	// Live tracks tasks currently in each status.
	// Labels: status
	Live *prometheus.GaugeVec

	// ResumeOffsetBytes tracks the byte offset tasks resumed from.
	ResumeOffsetBytes prometheus.Histogram
}

// NewTaskMetrics creates task metrics on the default registry.
func NewTaskMetrics() *TaskMetrics {
	return NewTaskMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewTaskMetricsWithRegistry creates task metrics registered with reg.
// Useful for testing to avoid conflicts with the default registry.
func NewTaskMetricsWithRegistry(reg prometheus.Registerer) *TaskMetrics {
	f := promauto.With(reg)
	return &TaskMetrics{
		Created: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "task",
			Name:      "created_total",
			Help:      "Number of GC tasks created.",
		}),
		ShardBusy: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "task",
			Name:      "shard_busy_total",
			Help:      "Number of task creations rejected because the shard already had a live task.",
		}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "task",
			Name:      "transitions_total",
			Help:      "Number of GC task status transitions.",
		}, []string{"from", "to"}),
		Interrupts: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "task",
			Name:      "interrupts_total",
			Help:      "Number of checkpointed task interruptions.",
		}),
		Evictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "task",
			Name:      "evictions_total",
			Help:      "Number of tasks evicted by preemption.",
		}),
		Live: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "task",
			Name:      "live",
			Help:      "Number of tracked GC tasks by status.",
		}, []string{"status"}),
		ResumeOffsetBytes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "task",
			Name:      "resume_offset_bytes",
			Help:      "Byte offset a task resumed from.",
			Buckets:   prometheus.ExponentialBuckets(1<<20, 2, 8), // 1MiB .. 128MiB
		}),
	}
}

// RecordCreated counts a new task in the given status.
func (m *TaskMetrics) RecordCreated(status string) {
	if m == nil {
		return
	}
	m.Created.Inc()
	m.Live.WithLabelValues(status).Inc()
}

// RecordShardBusy counts a rejected creation.
func (m *TaskMetrics) RecordShardBusy() {
	if m == nil {
		return
	}
	m.ShardBusy.Inc()
}

// RecordTransition moves one task between status gauges.
func (m *TaskMetrics) RecordTransition(from, to string) {
	if m == nil || from == to {
		return
	}
	m.Transitions.WithLabelValues(from, to).Inc()
	m.Live.WithLabelValues(from).Dec()
	m.Live.WithLabelValues(to).Inc()
}

// RecordInterrupt counts an interruption.
func (m *TaskMetrics) RecordInterrupt() {
	if m == nil {
		return
	}
	m.Interrupts.Inc()
}

// RecordEviction counts a preemption eviction.
func (m *TaskMetrics) RecordEviction() {
	if m == nil {
		return
	}
	m.Evictions.Inc()
}

// RecordResume observes the offset a task resumed from.
func (m *TaskMetrics) RecordResume(offset int64) {
	if m == nil {
		return
	}
	m.ResumeOffsetBytes.Observe(float64(offset))
}
