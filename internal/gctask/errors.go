package gctask

import (
	"errors"
	"fmt"
)

var (
	// ErrShardBusy is returned when a shard already has a task that has not
	// completed. Match with errors.Is; the concrete error is *ShardBusyError.
	ErrShardBusy = errors.New("gctask: shard busy")

	// ErrTaskNotFound is returned for unknown task ids.
	ErrTaskNotFound = errors.New("gctask: task not found")

	// ErrInvalidTransition is returned when an operation is not allowed in
	// the task's current status.
	ErrInvalidTransition = errors.New("gctask: invalid status transition")

	// ErrUnknownShard is returned for shards outside the shard map.
	ErrUnknownShard = errors.New("gctask: unknown shard")

	// ErrInvalidBlob is returned when a blob descriptor is unusable.
	ErrInvalidBlob = errors.New("gctask: invalid blob")

	// ErrInvalidOffset is returned for checkpoint offsets outside the blob.
	ErrInvalidOffset = errors.New("gctask: invalid checkpoint offset")
)

// ShardBusyError reports the live task that blocked a creation.
type ShardBusyError struct {
	ShardID int
	TaskID  string
	Status  Status
}

func (e *ShardBusyError) Error() string {
	if e.TaskID == "" {
		return fmt.Sprintf("gctask: shard %d busy (lease held elsewhere)", e.ShardID)
	}
	return fmt.Sprintf("gctask: shard %d busy with task %s (%s)", e.ShardID, e.TaskID, e.Status)
}

func (e *ShardBusyError) Is(target error) bool {
	return target == ErrShardBusy
}

func transitionError(taskID string, from Status, op string) error {
	return fmt.Errorf("%w: %s task %s from %s", ErrInvalidTransition, op, taskID, from)
}
