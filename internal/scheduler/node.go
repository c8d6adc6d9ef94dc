package scheduler

import "sync"

// NodeResource is a point-in-time view of one node's hardware state.
type NodeResource struct {
	NodeID string

	// FPGAUtilization and BandwidthUtilization are percentages.
	FPGAUtilization      float64
	BandwidthUtilization float64

	// RemainingCapacity is the free logic-unit count.
	RemainingCapacity int

	// Competition is (FPGA% + bandwidth%) / 200, in [0,1] while both
	// utilizations stay within [0,100].
	Competition float64
}

// Load is the combined utilization used to pick the least-loaded node.
func (r NodeResource) Load() float64 {
	return r.FPGAUtilization + r.BandwidthUtilization
}

// Available reports whether the node passes both hard gates.
func (r NodeResource) Available(fpgaGate, bandwidthGate float64) bool {
	return r.FPGAUtilization <= fpgaGate && r.BandwidthUtilization <= bandwidthGate
}

func competition(fpga, bandwidth float64) float64 {
	return (fpga + bandwidth) / 200
}

// Quota is a node's (high, low) priority task quota pair.
type Quota struct {
	High int
	Low  int
}

// node guards one node's resource state and quota. Every mutation of a
// node happens under its own mutex.
type node struct {
	mu    sync.Mutex
	res   NodeResource
	quota Quota
}

func (n *node) snapshot() (NodeResource, Quota) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.res, n.quota
}

// Cluster is the resource registry: the fixed set of nodes the scheduler
// was built with, in configuration order.
type Cluster struct {
	order []string
	nodes map[string]*node
}

func newCluster(cfg Config) *Cluster {
	c := &Cluster{
		order: make([]string, 0, len(cfg.NodeIDs)),
		nodes: make(map[string]*node, len(cfg.NodeIDs)),
	}
	for _, id := range cfg.NodeIDs {
		if _, dup := c.nodes[id]; dup {
			continue
		}
		c.order = append(c.order, id)
		c.nodes[id] = &node{
			res: NodeResource{
				NodeID:               id,
				FPGAUtilization:      cfg.InitialFPGA,
				BandwidthUtilization: cfg.InitialBandwidth,
				RemainingCapacity:    cfg.InitialCapacity,
				Competition:          competition(cfg.InitialFPGA, cfg.InitialBandwidth),
			},
			quota: Quota{High: cfg.HighQuota, Low: cfg.LowQuota},
		}
	}
	return c
}

// NodeIDs returns node ids in configuration order.
func (c *Cluster) NodeIDs() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

func (c *Cluster) get(nodeID string) (*node, error) {
	n, ok := c.nodes[nodeID]
	if !ok {
		return nil, ErrUnknownNode
	}
	return n, nil
}
