// Package gctask owns the shard -> GC task bijection: task creation,
// the task state machine, checkpoint/resume with primary/backup failover,
// and the hand-off of completed work's metadata deltas to replication.
//
// One mutex guards the shard map, the task table and the per-node task
// lists, so the "shard already has a live task" check and the insert are
// atomic. Metadata-store I/O happens outside that lock.
package gctask

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dray-io/blobgc/internal/blob"
	"github.com/dray-io/blobgc/internal/logging"
	"github.com/dray-io/blobgc/internal/metrics"
	"github.com/dray-io/blobgc/internal/scheduler"
)

// Placer assigns tasks to nodes.
type Placer interface {
	SelectNode(taskID string) (scheduler.Placement, error)
	Release(nodeID string) error
}

// DeltaQueue accepts metadata deltas for batched replication.
type DeltaQueue interface {
	Enqueue(ctx context.Context, meta blob.Meta) error
}

// Config configures a Registry.
type Config struct {
	Shards *ShardMap

	// Placer is optional; without it Schedule fails.
	Placer Placer

	// Deltas is optional; without it EnqueueMetadataDelta drops deltas.
	Deltas DeltaQueue

	// Checkpoints is optional; when set, snapshots and shard leases are
	// mirrored to the metadata store.
	Checkpoints *CheckpointStore

	Logger  *logging.Logger
	Metrics *metrics.TaskMetrics

	// Now defaults to time.Now.
	Now func() time.Time
}

// Registry is the shard-GC task registry.
type Registry struct {
	shards      *ShardMap
	placer      Placer
	deltas      DeltaQueue
	checkpoints *CheckpointStore
	logger      *logging.Logger
	metrics     *metrics.TaskMetrics
	now         func() time.Time

	mu        sync.Mutex
	tasks     map[string]*Task
	byShard   map[int]*Task
	nodeTasks map[string][]*Task
	order     []*Task

	interruptEvents int
}

var _ scheduler.Evictor = (*Registry)(nil)

// NewRegistry creates a registry. If the placer accepts an evictor (as
// *scheduler.Scheduler does) the registry installs itself.
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.Shards == nil {
		return nil, fmt.Errorf("gctask: shard map is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	r := &Registry{
		shards:      cfg.Shards,
		placer:      cfg.Placer,
		deltas:      cfg.Deltas,
		checkpoints: cfg.Checkpoints,
		logger:      logging.OrGlobal(cfg.Logger).With(map[string]any{"component": "gctask"}),
		metrics:     cfg.Metrics,
		now:         now,
		tasks:       make(map[string]*Task),
		byShard:     make(map[int]*Task),
		nodeTasks:   make(map[string][]*Task),
	}
	if ev, ok := cfg.Placer.(interface{ SetEvictor(scheduler.Evictor) }); ok {
		ev.SetEvictor(r)
	}
	return r, nil
}

// CreateTask binds a new PENDING task to b's shard and queues it on the
// shard's primary node. It fails with ErrShardBusy while the shard's
// current task has not completed.
func (r *Registry) CreateTask(ctx context.Context, b *blob.Blob) (Task, error) {
	if err := b.Validate(); err != nil {
		return Task{}, fmt.Errorf("%w: %v", ErrInvalidBlob, err)
	}
	pair, err := r.shards.Lookup(b.ShardID)
	if err != nil {
		return Task{}, err
	}

	r.mu.Lock()
	prev := r.byShard[b.ShardID]
	prevDone := ""
	if prev != nil && prev.Status.Live() {
		busy := &ShardBusyError{ShardID: b.ShardID, TaskID: prev.ID, Status: prev.Status}
		r.mu.Unlock()
		r.metrics.RecordShardBusy()
		return Task{}, busy
	}
	if prev != nil {
		prevDone = prev.ID
	}

	t := &Task{
		ID:             fmt.Sprintf("gc-%d-%s", b.ShardID, uuid.NewString()),
		ShardID:        b.ShardID,
		PrimaryNode:    pair.Primary,
		BackupNode:     pair.Backup,
		Node:           pair.Primary,
		Blob:           *b,
		Status:         StatusPending,
		PriorityWeight: PriorityWeight(b.GarbageRatio),
		GarbageRatio:   b.GarbageRatio,
		CreatedAt:      r.now(),
	}
	r.tasks[t.ID] = t
	r.byShard[t.ShardID] = t
	r.nodeTasks[t.Node] = append(r.nodeTasks[t.Node], t)
	r.order = append(r.order, t)
	out := t.clone()
	r.mu.Unlock()

	if r.checkpoints != nil {
		if err := r.acquireLease(ctx, t, prevDone); err != nil {
			r.rollbackCreate(t, prev)
			if errors.Is(err, ErrShardBusy) {
				r.metrics.RecordShardBusy()
			}
			return Task{}, err
		}
	}

	r.metrics.RecordCreated(StatusPending.String())
	logging.WithTask(r.logger, t.ID, t.ShardID).Infof("task created", map[string]any{
		"blobId":         b.ID,
		"primary":        pair.Primary,
		"backup":         pair.Backup,
		"priorityWeight": t.PriorityWeight,
		"profit":         t.Profit(),
	})
	return out, nil
}

// acquireLease claims the shard's lease for t. A lease still held by the
// shard's completed task is stale, since Complete drops it after publishing
// COMPLETED, and is taken over.
func (r *Registry) acquireLease(ctx context.Context, t *Task, prevDone string) error {
	err := r.checkpoints.AcquireLease(ctx, t.ShardID, t.ID)
	var busy *ShardBusyError
	if prevDone == "" || !errors.As(err, &busy) || busy.TaskID != prevDone {
		return err
	}
	if err := r.checkpoints.ReleaseLease(ctx, t.ShardID, prevDone); err != nil {
		return err
	}
	logging.WithTask(r.logger, t.ID, t.ShardID).Debugf("took over stale lease", map[string]any{"previousTaskId": prevDone})
	return r.checkpoints.AcquireLease(ctx, t.ShardID, t.ID)
}

func (r *Registry) rollbackCreate(t, prev *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, t.ID)
	if r.byShard[t.ShardID] == t {
		if prev != nil {
			r.byShard[t.ShardID] = prev
		} else {
			delete(r.byShard, t.ShardID)
		}
	}
	r.detachLocked(t)
	r.order = slices.DeleteFunc(r.order, func(o *Task) bool { return o == t })
}

// Start moves a PENDING task to RUNNING. Interrupted tasks restart through
// Resume.
func (r *Registry) Start(taskID string) (Task, error) {
	r.mu.Lock()
	t, ok := r.tasks[taskID]
	if !ok {
		r.mu.Unlock()
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if t.Status != StatusPending {
		r.mu.Unlock()
		return Task{}, transitionError(taskID, t.Status, "start")
	}
	r.setStatusLocked(t, StatusRunning)
	out := t.clone()
	r.mu.Unlock()

	logging.WithTask(r.logger, t.ID, t.ShardID).Debugf("task started", map[string]any{"nodeId": out.Node})
	return out, nil
}

// Interrupt checkpoints a RUNNING task at offset, marks it INTERRUPTED and
// fails it over to its backup node. A task already on its backup stays
// there. PENDING tasks are interrupted only through Evict.
func (r *Registry) Interrupt(ctx context.Context, taskID string, offset int64, checksum string, metadataUpdated bool) (Task, error) {
	r.mu.Lock()
	t, ok := r.tasks[taskID]
	if !ok {
		r.mu.Unlock()
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if t.Status != StatusRunning {
		r.mu.Unlock()
		return Task{}, transitionError(taskID, t.Status, "interrupt")
	}
	if offset < 0 || offset > t.Blob.Size {
		r.mu.Unlock()
		return Task{}, fmt.Errorf("%w: %d not in [0, %d]", ErrInvalidOffset, offset, t.Blob.Size)
	}

	snap := Snapshot{
		TaskID:          t.ID,
		ShardID:         t.ShardID,
		BlobID:          t.Blob.ID,
		ProcessedOffset: offset,
		Checksum:        checksum,
		MetadataUpdated: metadataUpdated,
		TakenAt:         r.now(),
	}
	t.Snapshot = &snap
	t.Interrupts++
	r.interruptEvents++
	r.setStatusLocked(t, StatusInterrupted)

	from := t.Node
	r.detachLocked(t)
	t.Node = t.BackupNode
	r.nodeTasks[t.Node] = append(r.nodeTasks[t.Node], t)
	out := t.clone()
	r.mu.Unlock()

	r.metrics.RecordInterrupt()
	r.persist(ctx, snap)
	logging.WithTask(r.logger, t.ID, t.ShardID).Infof("task interrupted", map[string]any{
		"offset":   offset,
		"checksum": checksum,
		"from":     from,
		"to":       out.Node,
	})
	return out, nil
}

// Resume restarts a task from its checkpoint and returns the offset to
// continue from. Without a checkpoint it returns 0 and leaves the status
// alone. An evicted task is re-homed on its backup node.
func (r *Registry) Resume(taskID string) (int64, error) {
	r.mu.Lock()
	t, ok := r.tasks[taskID]
	if !ok {
		r.mu.Unlock()
		return 0, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if t.Status.Terminal() {
		r.mu.Unlock()
		return 0, transitionError(taskID, t.Status, "resume")
	}
	if t.Snapshot == nil {
		r.mu.Unlock()
		return 0, nil
	}

	offset := t.Snapshot.ProcessedOffset
	if t.Status == StatusInterrupted {
		if t.Node == "" {
			t.Node = t.BackupNode
			r.nodeTasks[t.Node] = append(r.nodeTasks[t.Node], t)
		}
		r.setStatusLocked(t, StatusRunning)
	}
	node := t.Node
	r.mu.Unlock()

	r.metrics.RecordResume(offset)
	logging.WithTask(r.logger, t.ID, t.ShardID).Infof("task resumed", map[string]any{
		"offset": offset,
		"nodeId": node,
	})
	return offset, nil
}

// Complete moves a RUNNING task to COMPLETED, frees the shard and returns
// the scheduler load the task held.
func (r *Registry) Complete(ctx context.Context, taskID string) (Task, error) {
	r.mu.Lock()
	t, ok := r.tasks[taskID]
	if !ok {
		r.mu.Unlock()
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if !CanTransition(t.Status, StatusCompleted) {
		r.mu.Unlock()
		return Task{}, transitionError(taskID, t.Status, "complete")
	}
	r.setStatusLocked(t, StatusCompleted)
	t.CompletedAt = r.now()
	r.detachLocked(t)
	charged := t.charged
	t.charged = ""
	out := t.clone()
	r.mu.Unlock()

	if charged != "" && r.placer != nil {
		if err := r.placer.Release(charged); err != nil {
			r.logger.Warnf("release node load failed", map[string]any{"nodeId": charged, "error": err.Error()})
		}
	}
	if r.checkpoints != nil {
		if err := r.checkpoints.Delete(ctx, t.ShardID); err != nil {
			r.logger.Warnf("checkpoint cleanup failed", map[string]any{"shardId": t.ShardID, "error": err.Error()})
		}
		if err := r.checkpoints.ReleaseLease(ctx, t.ShardID, t.ID); err != nil {
			r.logger.Warnf("lease release failed", map[string]any{"shardId": t.ShardID, "error": err.Error()})
		}
	}

	logging.WithTask(r.logger, t.ID, t.ShardID).Infof("task completed", map[string]any{
		"nodeId":     out.Node,
		"interrupts": out.Interrupts,
	})
	return out, nil
}

// Assign moves a live task onto nodeID's task list.
func (r *Registry) Assign(taskID, nodeID string) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if t.Status.Terminal() {
		return Task{}, transitionError(taskID, t.Status, "assign")
	}
	r.assignLocked(t, nodeID)
	return t.clone(), nil
}

func (r *Registry) assignLocked(t *Task, nodeID string) {
	if t.Node == nodeID {
		return
	}
	r.detachLocked(t)
	t.Node = nodeID
	r.nodeTasks[nodeID] = append(r.nodeTasks[nodeID], t)
}

// Schedule asks the placer for a node and assigns the task there. The
// registry lock is not held while the placer runs, since preemption calls
// back into the registry.
func (r *Registry) Schedule(ctx context.Context, taskID string) (scheduler.Placement, error) {
	if r.placer == nil {
		return scheduler.Placement{}, fmt.Errorf("gctask: no placer configured")
	}

	r.mu.Lock()
	t, ok := r.tasks[taskID]
	if !ok {
		r.mu.Unlock()
		return scheduler.Placement{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if t.Status != StatusPending && t.Status != StatusInterrupted {
		status := t.Status
		r.mu.Unlock()
		return scheduler.Placement{}, transitionError(taskID, status, "schedule")
	}
	r.mu.Unlock()

	placement, err := r.placer.SelectNode(taskID)
	if err != nil {
		logging.WithTask(r.logger, t.ID, t.ShardID).Warnf("no node for task", map[string]any{"error": err.Error()})
		return scheduler.Placement{}, err
	}

	r.mu.Lock()
	charge := r.placementChargeLocked(placement)
	if t.Status.Terminal() {
		status := t.Status
		r.mu.Unlock()
		if charge != "" {
			_ = r.placer.Release(charge)
		}
		return scheduler.Placement{}, transitionError(taskID, status, "schedule")
	}
	prevCharge := t.charged
	r.assignLocked(t, placement.NodeID)
	t.charged = charge
	r.mu.Unlock()

	if prevCharge != "" {
		_ = r.placer.Release(prevCharge)
	}

	logging.WithTask(r.logger, t.ID, t.ShardID).Infof("task scheduled", map[string]any{
		"nodeId":    placement.NodeID,
		"preempted": placement.Preempted,
	})
	return placement, nil
}

// placementChargeLocked returns the node whose load a placement holds. A
// normal placement charges its node. A preemption adds no load and only
// inherits the charge the victim held, which is none for a victim that was
// never scheduled.
func (r *Registry) placementChargeLocked(p scheduler.Placement) string {
	if p.Preempted == "" {
		return p.NodeID
	}
	v, ok := r.tasks[p.Preempted]
	if !ok {
		return ""
	}
	charge := v.yielded
	v.yielded = ""
	if charge != p.NodeID {
		return ""
	}
	return charge
}

// EvictionCandidate returns the first PENDING or RUNNING task on nodeID,
// other than exclude, whose priority weight is below the threshold.
func (r *Registry) EvictionCandidate(nodeID string, below float64, exclude string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.nodeTasks[nodeID] {
		if t.ID == exclude || t.PriorityWeight >= below {
			continue
		}
		if t.Status == StatusPending || t.Status == StatusRunning {
			return t.ID, true
		}
	}
	return "", false
}

// Evict interrupts a PENDING or RUNNING task for preemption and detaches
// it from its node. A task without a checkpoint gets an implied zero-offset
// one, so a later Resume restarts it from the beginning. Any load the task
// held on the node passes to the preempting task.
func (r *Registry) Evict(taskID string) error {
	r.mu.Lock()
	t, ok := r.tasks[taskID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if t.Status != StatusPending && t.Status != StatusRunning {
		status := t.Status
		r.mu.Unlock()
		return transitionError(taskID, status, "evict")
	}

	persistSnap := false
	if t.Snapshot == nil {
		t.Snapshot = &Snapshot{
			TaskID:  t.ID,
			ShardID: t.ShardID,
			BlobID:  t.Blob.ID,
			TakenAt: r.now(),
			Implied: true,
		}
		persistSnap = true
	}
	snap := *t.Snapshot
	t.Interrupts++
	r.interruptEvents++
	r.setStatusLocked(t, StatusInterrupted)
	from := t.Node
	r.detachLocked(t)
	t.Node = ""
	t.yielded = t.charged
	t.charged = ""
	r.mu.Unlock()

	r.metrics.RecordEviction()
	if persistSnap {
		r.persist(context.Background(), snap)
	}
	logging.WithTask(r.logger, t.ID, t.ShardID).Infof("task evicted", map[string]any{
		"nodeId":         from,
		"resumeOffset":   snap.ProcessedOffset,
		"priorityWeight": t.PriorityWeight,
	})
	return nil
}

// EnqueueMetadataDelta hands a metadata delta to the replication batcher.
func (r *Registry) EnqueueMetadataDelta(ctx context.Context, meta blob.Meta) error {
	if r.deltas == nil {
		r.logger.Debugf("metadata delta dropped, no replication queue", map[string]any{"key": meta.Key})
		return nil
	}
	return r.deltas.Enqueue(ctx, meta)
}

// Get returns a copy of a task.
func (r *Registry) Get(taskID string) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return t.clone(), nil
}

// TaskForShard returns the shard's most recent task, live or completed.
func (r *Registry) TaskForShard(shardID int) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byShard[shardID]
	if !ok {
		return Task{}, false
	}
	return t.clone(), true
}

// NodeTasks returns copies of the tasks on nodeID's list, in list order.
func (r *Registry) NodeTasks(nodeID string) []Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.nodeTasks[nodeID]
	out := make([]Task, len(list))
	for i, t := range list {
		out[i] = t.clone()
	}
	return out
}

// Tasks returns copies of every task ever created, in creation order.
func (r *Registry) Tasks() []Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Task, len(r.order))
	for i, t := range r.order {
		out[i] = t.clone()
	}
	return out
}

// setStatusLocked must be called with r.mu held.
func (r *Registry) setStatusLocked(t *Task, to Status) {
	from := t.Status
	t.Status = to
	r.metrics.RecordTransition(from.String(), to.String())
}

// detachLocked removes t from its node's task list. r.mu must be held.
func (r *Registry) detachLocked(t *Task) {
	if t.Node == "" {
		return
	}
	list := r.nodeTasks[t.Node]
	if i := slices.Index(list, t); i >= 0 {
		r.nodeTasks[t.Node] = slices.Delete(list, i, i+1)
	}
}

func (r *Registry) persist(ctx context.Context, snap Snapshot) {
	if r.checkpoints == nil {
		return
	}
	if err := r.checkpoints.Save(ctx, snap); err != nil {
		logging.WithTask(r.logger, snap.TaskID, snap.ShardID).Warnf("checkpoint persist failed", map[string]any{
			"offset": snap.ProcessedOffset,
			"error":  err.Error(),
		})
	}
}
