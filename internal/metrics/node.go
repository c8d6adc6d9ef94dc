package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NodeMetrics tracks per-node resource state and scheduler decisions.
type NodeMetrics struct {
	// FPGAUtilization is the node's FPGA utilization percent.
	// Labels: node_id
	FPGAUtilization *prometheus.GaugeVec

	// BandwidthUtilization is the node's bandwidth utilization percent.
	// Labels: node_id
	BandwidthUtilization *prometheus.GaugeVec

	// Competition is the node's resource competition score in [0,1].
	// Labels: node_id
	Competition *prometheus.GaugeVec

	// Quota is the node's task quota.
	// Labels: node_id, priority (high, low)
	Quota *prometheus.GaugeVec

	// Placements counts successful placements.
	// Labels: node_id, path (select, preempt)
	Placements *prometheus.CounterVec

	// NoNode counts placement attempts that found no node.
	NoNode prometheus.Counter
}

// NewNodeMetrics creates node metrics on the default registry.
func NewNodeMetrics() *NodeMetrics {
	return NewNodeMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewNodeMetricsWithRegistry creates node metrics registered with reg.
func NewNodeMetricsWithRegistry(reg prometheus.Registerer) *NodeMetrics {
	f := promauto.With(reg)
	return &NodeMetrics{
		FPGAUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "node",
			Name:      "fpga_utilization_percent",
			Help:      "FPGA utilization of the node in percent.",
		}, []string{"node_id"}),
		BandwidthUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "node",
			Name:      "bandwidth_utilization_percent",
			Help:      "Bandwidth utilization of the node in percent.",
		}, []string{"node_id"}),
		Competition: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "node",
			Name:      "resource_competition",
			Help:      "Combined utilization of the node normalized to [0,1].",
		}, []string{"node_id"}),
		Quota: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "node",
			Name:      "task_quota",
			Help:      "Per-node task quota by priority class.",
		}, []string{"node_id", "priority"}),
		Placements: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "scheduler",
			Name:      "placements_total",
			Help:      "Number of tasks placed on a node.",
		}, []string{"node_id", "path"}),
		NoNode: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "scheduler",
			Name:      "no_available_node_total",
			Help:      "Number of placements that found neither an available node nor a preemption victim.",
		}),
	}
}

// RecordUtilization publishes a node's resource snapshot.
func (m *NodeMetrics) RecordUtilization(nodeID string, fpga, bandwidth, competition float64) {
	if m == nil {
		return
	}
	m.FPGAUtilization.WithLabelValues(nodeID).Set(fpga)
	m.BandwidthUtilization.WithLabelValues(nodeID).Set(bandwidth)
	m.Competition.WithLabelValues(nodeID).Set(competition)
}

// RecordQuota publishes a node's quota pair.
func (m *NodeMetrics) RecordQuota(nodeID string, high, low int) {
	if m == nil {
		return
	}
	m.Quota.WithLabelValues(nodeID, "high").Set(float64(high))
	m.Quota.WithLabelValues(nodeID, "low").Set(float64(low))
}

// RecordPlacement counts a placement made via path ("select" or "preempt").
func (m *NodeMetrics) RecordPlacement(nodeID, path string) {
	if m == nil {
		return
	}
	m.Placements.WithLabelValues(nodeID, path).Inc()
}

// RecordNoNode counts a failed placement.
func (m *NodeMetrics) RecordNoNode() {
	if m == nil {
		return
	}
	m.NoNode.Inc()
}
