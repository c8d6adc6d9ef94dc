package gctask

import "fmt"

// Status is a GC task's lifecycle state.
//
//	PENDING -> RUNNING -> COMPLETED
//	RUNNING -> INTERRUPTED -> RUNNING   (checkpoint/resume, repeatable)
//	PENDING -> INTERRUPTED              (preemption)
//
// COMPLETED is terminal.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusInterrupted
	StatusCompleted
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusPending, StatusRunning, StatusInterrupted, StatusCompleted}

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusRunning:
		return "RUNNING"
	case StatusInterrupted:
		return "INTERRUPTED"
	case StatusCompleted:
		return "COMPLETED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusCompleted
}

// Live reports whether a task in s still occupies its shard.
func (s Status) Live() bool {
	return !s.Terminal()
}

// CanTransition reports whether from -> to is a lifecycle edge.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusInterrupted
	case StatusRunning:
		return to == StatusCompleted || to == StatusInterrupted
	case StatusInterrupted:
		return to == StatusRunning
	case StatusCompleted:
		return false
	default:
		return false
	}
}
