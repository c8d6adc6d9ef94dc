package gctask

import (
	"time"

	"github.com/dray-io/blobgc/internal/blob"
)

// Priority weights assigned from a blob's garbage ratio.
const (
	WeightHigh = 1.0
	WeightMid  = 0.7
	WeightLow  = 0.4
)

// PriorityWeight maps a garbage ratio to a priority weight:
// >= 0.7 is high, [0.3, 0.7) is mid, anything lower is low.
func PriorityWeight(garbageRatio float64) float64 {
	switch {
	case garbageRatio >= 0.7:
		return WeightHigh
	case garbageRatio >= 0.3:
		return WeightMid
	default:
		return WeightLow
	}
}

// Snapshot is an immutable checkpoint of a task's progress. A task holds at
// most one, replaced wholesale on each interrupt.
type Snapshot struct {
	TaskID          string    `json:"taskId"`
	ShardID         int       `json:"shardId"`
	BlobID          string    `json:"blobId"`
	ProcessedOffset int64     `json:"processedOffset"`
	Checksum        string    `json:"checksum"`
	MetadataUpdated bool      `json:"metadataUpdated"`
	TakenAt         time.Time `json:"takenAt"`

	// Implied marks a zero-offset snapshot installed by preemption for a
	// task that had never checkpointed.
	Implied bool `json:"implied,omitempty"`
}

// Task is a GC task bound to one shard. Values returned by the Registry
// are copies; mutate tasks only through Registry operations.
type Task struct {
	ID      string
	ShardID int

	PrimaryNode string
	BackupNode  string

	// Node is the node whose task list currently holds the task. It is
	// empty after the task was evicted, until it is resumed or rescheduled.
	Node string

	Blob           blob.Blob
	Status         Status
	Snapshot       *Snapshot
	PriorityWeight float64
	GarbageRatio   float64
	CreatedAt      time.Time
	CompletedAt    time.Time

	// Interrupts counts checkpointed interruptions, evictions included.
	Interrupts int

	// charged is the node whose scheduler load this task holds.
	charged string
	// yielded is the charge an eviction took from this task, handed to the
	// preempting task by Schedule.
	yielded string
}

// Profit is priority weight times garbage ratio. It is computed on demand.
func (t Task) Profit() float64 {
	return t.PriorityWeight * t.GarbageRatio
}

func (t *Task) clone() Task {
	return *t
}
