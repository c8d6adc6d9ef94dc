// Package scheduler implements the multi-objective resource-aware (MORS)
// placement of GC tasks onto nodes.
//
// Placement picks the least-loaded node that passes the FPGA and bandwidth
// hard gates, charges it a fixed load step and feeds the node's resulting
// competition back into its low-priority quota. When every node is gated,
// the scheduler asks an Evictor to give up a low-weight task and reuses
// that task's node.
package scheduler

import (
	"errors"
	"fmt"

	"github.com/dray-io/blobgc/internal/logging"
	"github.com/dray-io/blobgc/internal/metrics"
)

var (
	// ErrNoAvailableNode is returned when every node is gated and nothing
	// could be preempted.
	ErrNoAvailableNode = errors.New("scheduler: no available node")

	// ErrUnknownNode is returned for node ids the scheduler was not built with.
	ErrUnknownNode = errors.New("scheduler: unknown node")
)

// Evictor gives the scheduler access to live tasks for preemption without
// exposing the owner's internals.
type Evictor interface {
	// EvictionCandidate returns a live task on nodeID, other than exclude,
	// whose priority weight is below the threshold.
	EvictionCandidate(nodeID string, below float64, exclude string) (taskID string, ok bool)

	// Evict interrupts taskID and detaches it from its node. It fails if the
	// task is no longer evictable.
	Evict(taskID string) error
}

// Config configures a Scheduler.
type Config struct {
	NodeIDs []string

	FPGAGate      float64
	BandwidthGate float64

	// Load charged to a node per placement.
	FPGAStep      float64
	BandwidthStep float64
	CapacityStep  int

	InitialFPGA      float64
	InitialBandwidth float64
	InitialCapacity  int

	HighQuota int
	LowQuota  int

	// Competition above CompetitionHigh shrinks the low quota by 20%,
	// below CompetitionLow grows it by 20%.
	CompetitionHigh float64
	CompetitionLow  float64

	// PreemptBelow is the priority weight under which a task may be evicted.
	PreemptBelow float64

	// HighProfit splits ranking into high and low priority groups.
	HighProfit float64

	Logger  *logging.Logger
	Metrics *metrics.NodeMetrics
}

// DefaultConfig returns the reference scheduler settings for nodeIDs.
func DefaultConfig(nodeIDs []string) Config {
	return Config{
		NodeIDs:          nodeIDs,
		FPGAGate:         90,
		BandwidthGate:    88,
		FPGAStep:         5,
		BandwidthStep:    4,
		CapacityStep:     20,
		InitialFPGA:      60,
		InitialBandwidth: 50,
		InitialCapacity:  1000,
		HighQuota:        15,
		LowQuota:         10,
		CompetitionHigh:  0.7,
		CompetitionLow:   0.4,
		PreemptBelow:     0.5,
		HighProfit:       0.7,
	}
}

// Placement is the outcome of SelectNode.
type Placement struct {
	NodeID string

	// Preempted is the id of the task evicted to make room, if any.
	Preempted string
}

// Scheduler places tasks on nodes.
type Scheduler struct {
	cfg     Config
	cluster *Cluster
	evictor Evictor
	logger  *logging.Logger
	metrics *metrics.NodeMetrics
}

// New creates a scheduler over cfg.NodeIDs.
func New(cfg Config) (*Scheduler, error) {
	if len(cfg.NodeIDs) == 0 {
		return nil, errors.New("scheduler: at least one node is required")
	}
	s := &Scheduler{
		cfg:     cfg,
		cluster: newCluster(cfg),
		logger:  logging.OrGlobal(cfg.Logger).With(map[string]any{"component": "scheduler"}),
		metrics: cfg.Metrics,
	}
	for _, id := range s.cluster.order {
		s.publish(s.cluster.nodes[id])
	}
	return s, nil
}

// SetEvictor installs the preemption collaborator. The task registry
// calls this once it has been built around the scheduler.
func (s *Scheduler) SetEvictor(e Evictor) {
	s.evictor = e
}

// Cluster returns the scheduler's resource registry.
func (s *Scheduler) Cluster() *Cluster {
	return s.cluster
}

// Rank orders items by profit using the configured high-priority threshold.
func Rank[T Ranked](s *Scheduler, items []T) []T {
	return RankByProfit(items, s.cfg.HighProfit)
}

// SelectNode places taskID on the least-loaded available node, or preempts
// a low-weight task when no node passes the gates.
func (s *Scheduler) SelectNode(taskID string) (Placement, error) {
	// A concurrent placement can push the chosen node over a gate between
	// the scan and the lock; rescan in that case.
	for attempt := 0; attempt <= len(s.cluster.order); attempt++ {
		best := s.leastLoaded()
		if best == nil {
			break
		}
		if res, ok := s.charge(best); ok {
			s.logger.Debugf("task placed", map[string]any{
				"taskId":      taskID,
				"nodeId":      res.NodeID,
				"fpga":        res.FPGAUtilization,
				"bandwidth":   res.BandwidthUtilization,
				"competition": res.Competition,
			})
			s.metrics.RecordPlacement(res.NodeID, "select")
			return Placement{NodeID: res.NodeID}, nil
		}
	}

	nodeID, victim, err := s.Preempt(taskID)
	if err != nil {
		s.metrics.RecordNoNode()
		return Placement{}, err
	}
	s.metrics.RecordPlacement(nodeID, "preempt")
	return Placement{NodeID: nodeID, Preempted: victim}, nil
}

// leastLoaded returns the first available node with the lowest load.
func (s *Scheduler) leastLoaded() *node {
	var (
		best     *node
		bestLoad float64
	)
	for _, id := range s.cluster.order {
		n := s.cluster.nodes[id]
		res, _ := n.snapshot()
		if !res.Available(s.cfg.FPGAGate, s.cfg.BandwidthGate) {
			continue
		}
		if best == nil || res.Load() < bestLoad {
			best, bestLoad = n, res.Load()
		}
	}
	return best
}

// charge re-checks the gates and applies one placement's load to n.
func (s *Scheduler) charge(n *node) (NodeResource, bool) {
	n.mu.Lock()
	if !n.res.Available(s.cfg.FPGAGate, s.cfg.BandwidthGate) {
		n.mu.Unlock()
		return NodeResource{}, false
	}
	n.res.FPGAUtilization += s.cfg.FPGAStep
	n.res.BandwidthUtilization += s.cfg.BandwidthStep
	n.res.RemainingCapacity -= s.cfg.CapacityStep
	n.res.Competition = competition(n.res.FPGAUtilization, n.res.BandwidthUtilization)
	before, after := s.adjustQuotaLocked(n)
	res := n.res
	n.mu.Unlock()

	s.logQuota(res, before, after)
	s.publish(n)
	return res, true
}

// Release returns one placement's load to nodeID when a task finishes
// there. Utilization never drops below zero and capacity never exceeds
// the initial capacity.
func (s *Scheduler) Release(nodeID string) error {
	n, err := s.cluster.get(nodeID)
	if err != nil {
		return fmt.Errorf("release %s: %w", nodeID, err)
	}
	n.mu.Lock()
	n.res.FPGAUtilization = max(0, n.res.FPGAUtilization-s.cfg.FPGAStep)
	n.res.BandwidthUtilization = max(0, n.res.BandwidthUtilization-s.cfg.BandwidthStep)
	n.res.RemainingCapacity = min(s.cfg.InitialCapacity, n.res.RemainingCapacity+s.cfg.CapacityStep)
	n.res.Competition = competition(n.res.FPGAUtilization, n.res.BandwidthUtilization)
	n.mu.Unlock()

	s.publish(n)
	return nil
}

// Preempt scans nodes in order for a task below the preemption weight,
// evicts the first one found and returns its node for the incoming task.
func (s *Scheduler) Preempt(taskID string) (nodeID, victim string, err error) {
	if s.evictor == nil {
		return "", "", ErrNoAvailableNode
	}
	for _, id := range s.cluster.order {
		candidate, ok := s.evictor.EvictionCandidate(id, s.cfg.PreemptBelow, taskID)
		if !ok {
			continue
		}
		if err := s.evictor.Evict(candidate); err != nil {
			// Lost a race with completion or another preemption.
			s.logger.Debugf("eviction candidate vanished", map[string]any{
				"nodeId": id,
				"taskId": candidate,
				"error":  err.Error(),
			})
			continue
		}
		s.logger.Infof("task preempted", map[string]any{
			"nodeId":    id,
			"taskId":    taskID,
			"preempted": candidate,
		})
		return id, candidate, nil
	}
	return "", "", ErrNoAvailableNode
}

// SetUtilization overrides a node's utilization, e.g. from an external
// resource monitor.
func (s *Scheduler) SetUtilization(nodeID string, fpga, bandwidth float64) error {
	n, err := s.cluster.get(nodeID)
	if err != nil {
		return fmt.Errorf("set utilization %s: %w", nodeID, err)
	}
	n.mu.Lock()
	n.res.FPGAUtilization = fpga
	n.res.BandwidthUtilization = bandwidth
	n.res.Competition = competition(fpga, bandwidth)
	n.mu.Unlock()

	s.publish(n)
	return nil
}

// Node returns a snapshot of one node.
func (s *Scheduler) Node(nodeID string) (NodeResource, error) {
	n, err := s.cluster.get(nodeID)
	if err != nil {
		return NodeResource{}, err
	}
	res, _ := n.snapshot()
	return res, nil
}

// Nodes returns snapshots of every node in configuration order.
func (s *Scheduler) Nodes() []NodeResource {
	out := make([]NodeResource, 0, len(s.cluster.order))
	for _, id := range s.cluster.order {
		res, _ := s.cluster.nodes[id].snapshot()
		out = append(out, res)
	}
	return out
}

func (s *Scheduler) publish(n *node) {
	res, q := n.snapshot()
	s.metrics.RecordUtilization(res.NodeID, res.FPGAUtilization, res.BandwidthUtilization, res.Competition)
	s.metrics.RecordQuota(res.NodeID, q.High, q.Low)
}
