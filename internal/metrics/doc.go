// Package metrics provides Prometheus metrics for the GC control plane.
//
// Collectors are grouped by subsystem:
//   - task: creation, shard-busy rejections, status transitions, interrupts,
//     evictions and resume offsets
//   - node/scheduler: per-node utilization, competition and quota, placements
//   - replication: metadata-delta batches and payload sizes
//   - validation: policy decisions and value-iteration convergence
//
// Every collector has a WithRegistry constructor so tests can use a private
// registry. Recording methods are safe on a nil receiver, which lets
// components run without metrics wired.
//
// Usage:
//
//	reg := prometheus.NewRegistry()
//	taskMetrics := metrics.NewTaskMetricsWithRegistry(reg)
//	registry := gctask.NewRegistry(gctask.Config{Metrics: taskMetrics, ...})
//
//	srv := metrics.NewServerWithRegistry(":9090", reg)
//	srv.Start()
package metrics

// Namespace prefixes every metric name.
const Namespace = "blobgc"
