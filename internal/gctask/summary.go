package gctask

import (
	"fmt"

	"github.com/dray-io/blobgc/internal/metrics"
)

// DefaultInterruptRateTarget is the interrupt-rate ceiling in percent.
const DefaultInterruptRateTarget = 2.3

// Summary counts tasks by status.
type Summary struct {
	Total       int
	Pending     int
	Running     int
	Interrupted int
	Completed   int

	// InterruptEvents counts every interrupt and eviction so far.
	InterruptEvents int
}

// InterruptRate is the percentage of tasks currently INTERRUPTED.
func (s Summary) InterruptRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Interrupted) / float64(s.Total) * 100
}

// WithinTarget reports whether the interrupt rate is at most target percent.
func (s Summary) WithinTarget(target float64) bool {
	return s.InterruptRate() <= target
}

func (s Summary) String() string {
	return fmt.Sprintf("total=%d completed=%d interrupted=%d pending=%d running=%d interruptRate=%.2f%%",
		s.Total, s.Completed, s.Interrupted, s.Pending, s.Running, s.InterruptRate())
}

// Summary counts every task the registry has created.
func (r *Registry) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Summary{Total: len(r.order), InterruptEvents: r.interruptEvents}
	for _, t := range r.order {
		switch t.Status {
		case StatusPending:
			s.Pending++
		case StatusRunning:
			s.Running++
		case StatusInterrupted:
			s.Interrupted++
		case StatusCompleted:
			s.Completed++
		}
	}
	return s
}

// GCStats adapts Summary for the metrics backlog scanner.
func (r *Registry) GCStats() metrics.GCStats {
	s := r.Summary()
	return metrics.GCStats{
		Pending:       s.Pending,
		Running:       s.Running,
		Interrupted:   s.Interrupted,
		Completed:     s.Completed,
		InterruptRate: s.InterruptRate() / 100,
	}
}
