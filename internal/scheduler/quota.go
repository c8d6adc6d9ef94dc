package scheduler

import (
	"fmt"

	"github.com/dray-io/blobgc/internal/logging"
)

// LoadLevel selects a virtualization ratio.
type LoadLevel string

const (
	LoadHigh   LoadLevel = "HIGH"
	LoadNormal LoadLevel = "NORMAL"
	LoadLow    LoadLevel = "LOW"
)

// ParseLoadLevel maps a string to a LoadLevel. Unrecognized values are
// LoadNormal.
func ParseLoadLevel(s string) LoadLevel {
	switch LoadLevel(s) {
	case LoadHigh:
		return LoadHigh
	case LoadLow:
		return LoadLow
	default:
		return LoadNormal
	}
}

// AdjustQuota applies the competition feedback rule to nodeID's low
// quota and returns the resulting quota. The high quota never changes.
func (s *Scheduler) AdjustQuota(nodeID string) (Quota, error) {
	n, err := s.cluster.get(nodeID)
	if err != nil {
		return Quota{}, fmt.Errorf("adjust quota %s: %w", nodeID, err)
	}
	n.mu.Lock()
	before, after := s.adjustQuotaLocked(n)
	res := n.res
	n.mu.Unlock()

	s.logQuota(res, before, after)
	s.publish(n)
	return after, nil
}

// adjustQuotaLocked must be called with n.mu held.
func (s *Scheduler) adjustQuotaLocked(n *node) (before, after Quota) {
	before = n.quota
	c := n.res.Competition
	switch {
	case c > s.cfg.CompetitionHigh:
		n.quota.Low = int(float64(n.quota.Low) * 0.8)
	case c < s.cfg.CompetitionLow:
		n.quota.Low = int(float64(n.quota.Low) * 1.2)
	}
	return before, n.quota
}

func (s *Scheduler) logQuota(res NodeResource, before, after Quota) {
	if before == after {
		return
	}
	logging.WithNode(s.logger, res.NodeID).Infof("low quota adjusted", map[string]any{
		"from":        before.Low,
		"to":          after.Low,
		"competition": res.Competition,
	})
}

// Quota returns nodeID's current quota.
func (s *Scheduler) Quota(nodeID string) (Quota, error) {
	n, err := s.cluster.get(nodeID)
	if err != nil {
		return Quota{}, err
	}
	_, q := n.snapshot()
	return q, nil
}

// VirtualizationRatio maps a load level to the logical-to-physical unit
// multiplier. It is advisory and does not touch node state.
func VirtualizationRatio(level LoadLevel) int {
	switch level {
	case LoadHigh:
		return 6
	case LoadLow:
		return 4
	default:
		return 5
	}
}

// VirtualCapacity reports nodeID's virtualization ratio at level and the
// logical units its consumed capacity maps to.
func (s *Scheduler) VirtualCapacity(nodeID string, level LoadLevel) (ratio, virtualUnits int, err error) {
	res, err := s.Node(nodeID)
	if err != nil {
		return 0, 0, fmt.Errorf("virtual capacity %s: %w", nodeID, err)
	}
	ratio = VirtualizationRatio(level)
	used := s.cfg.InitialCapacity - res.RemainingCapacity
	return ratio, used * ratio, nil
}
