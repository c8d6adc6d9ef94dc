// Package executor drives GC tasks through their blobs chunk by chunk,
// checkpointing on interrupts and handing the resulting metadata delta to
// validation and replication on completion.
package executor

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/dray-io/blobgc/internal/blob"
	"github.com/dray-io/blobgc/internal/gctask"
	"github.com/dray-io/blobgc/internal/logging"
	"github.com/dray-io/blobgc/internal/metrics"
	"github.com/dray-io/blobgc/internal/pipeline"
	"github.com/dray-io/blobgc/internal/validation"
)

// DefaultGranularity is the checkpoint chunk size (1MiB).
const DefaultGranularity int64 = 1 << 20

// ErrNotRunnable is returned for tasks that cannot be started or resumed.
var ErrNotRunnable = errors.New("executor: task not runnable")

// Tasks is the task registry surface the executor drives.
type Tasks interface {
	Get(taskID string) (gctask.Task, error)
	Start(taskID string) (gctask.Task, error)
	Interrupt(ctx context.Context, taskID string, offset int64, checksum string, metadataUpdated bool) (gctask.Task, error)
	Resume(taskID string) (int64, error)
	Complete(ctx context.Context, taskID string) (gctask.Task, error)
	EnqueueMetadataDelta(ctx context.Context, meta blob.Meta) error
}

// Validator picks the validation timing and batch-validates records.
type Validator interface {
	OptimalAction(m blob.Meta) (validation.Action, error)
	BatchValidate(metas []blob.Meta) []blob.Meta
}

// Config configures an Executor.
type Config struct {
	Tasks     Tasks
	Validator Validator
	Pipeline  *pipeline.Pipeline
	Policy    InterruptPolicy

	Granularity int64

	// Sample is the value pushed through the pipeline for each chunk. The
	// default is an 80-byte value with its length header.
	Sample []byte

	// Record delays are drawn uniformly from [MinDelayMs, MaxDelayMs].
	MinDelayMs float64
	MaxDelayMs float64
	Seed       uint64

	Logger  *logging.Logger
	Metrics *metrics.GCMetrics
}

// Outcome summarizes one task execution.
type Outcome struct {
	TaskID  string
	ShardID int
	NodeID  string

	// Chunks counts chunks pushed through the pipeline, redone ones included.
	Chunks     int
	Interrupts int
	// Evictions counts preemptions observed while running.
	Evictions   int
	FinalOffset int64

	// Checksum is the MD5 hex of the last fragment produced.
	Checksum string
	Action   validation.Action
	Latency  time.Duration
}

// Executor runs GC tasks.
type Executor struct {
	tasks       Tasks
	validator   Validator
	pipe        *pipeline.Pipeline
	policy      InterruptPolicy
	granularity int64
	sample      []byte
	minDelay    float64
	maxDelay    float64
	logger      *logging.Logger
	metrics     *metrics.GCMetrics

	mu  sync.Mutex
	rng *rand.Rand
}

func New(cfg Config) (*Executor, error) {
	if cfg.Tasks == nil {
		return nil, errors.New("executor: task registry required")
	}
	if cfg.Validator == nil {
		return nil, errors.New("executor: validator required")
	}
	if cfg.Granularity <= 0 {
		cfg.Granularity = DefaultGranularity
	}
	if cfg.Policy == nil {
		cfg.Policy = Never{}
	}
	logger := logging.OrGlobal(cfg.Logger).With(map[string]any{"component": "executor"})
	if cfg.Pipeline == nil {
		cfg.Pipeline = pipeline.New(logger)
	}
	if cfg.Sample == nil {
		cfg.Sample = pipeline.NewValue(bytes.Repeat([]byte("test_value_"), 10)[:80])
	}
	if cfg.MinDelayMs == 0 && cfg.MaxDelayMs == 0 {
		cfg.MinDelayMs, cfg.MaxDelayMs = 50, 100
	}
	if cfg.MaxDelayMs < cfg.MinDelayMs {
		return nil, fmt.Errorf("executor: delay range [%v, %v] is empty", cfg.MinDelayMs, cfg.MaxDelayMs)
	}
	return &Executor{
		tasks:       cfg.Tasks,
		validator:   cfg.Validator,
		pipe:        cfg.Pipeline,
		policy:      cfg.Policy,
		granularity: cfg.Granularity,
		sample:      cfg.Sample,
		minDelay:    cfg.MinDelayMs,
		maxDelay:    cfg.MaxDelayMs,
		logger:      logger,
		metrics:     cfg.Metrics,
		rng:         rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x5bd1e995)),
	}, nil
}

// Execute runs a PENDING or INTERRUPTED task to completion. Interrupted
// tasks continue from their checkpoint. Each chunk is interrupted at most
// once per call; after an interrupt the chunk is redone from the resumed
// offset. If ctx is cancelled mid-run the task is checkpointed at the
// current chunk boundary and left INTERRUPTED.
func (e *Executor) Execute(ctx context.Context, taskID string) (Outcome, error) {
	t, offset, err := e.begin(taskID)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{TaskID: t.ID, ShardID: t.ShardID}
	log := logging.WithTask(e.logger, t.ID, t.ShardID)
	size := t.Blob.Size
	interrupted := make(map[int]bool)

	for {
		for offset < size {
			if err := ctx.Err(); err != nil {
				e.checkpointOnCancel(t, offset, out.Checksum, log)
				return out, err
			}

			cur, err := e.tasks.Get(taskID)
			if err != nil {
				return out, err
			}
			if cur.Status == gctask.StatusInterrupted {
				// Preempted by a higher priority task.
				if offset, err = e.tasks.Resume(taskID); err != nil {
					return out, err
				}
				out.Evictions++
				log.Infof("resuming after preemption", map[string]any{"offset": offset})
				continue
			}

			chunk := int(offset / e.granularity)
			n := min(e.granularity, size-offset)
			res, err := e.pipe.Process(e.sample, t.Blob.ID)
			if err != nil {
				return out, fmt.Errorf("process chunk %d: %w", chunk, err)
			}
			sum := md5.Sum(res.Encoded)
			out.Checksum = hex.EncodeToString(sum[:])
			out.Chunks++
			out.Latency += res.Latency
			e.metrics.RecordChunk(n, 1, res.Latency)

			if !interrupted[chunk] && e.policy.ShouldInterrupt(taskID, chunk) {
				interrupted[chunk] = true
				if _, err := e.tasks.Interrupt(ctx, taskID, offset, out.Checksum, false); err != nil {
					if errors.Is(err, gctask.ErrInvalidTransition) {
						// Evicted between the status check and the interrupt.
						continue
					}
					return out, err
				}
				out.Interrupts++
				if offset, err = e.tasks.Resume(taskID); err != nil {
					return out, err
				}
				continue
			}
			offset += n
		}

		done, err := e.finish(ctx, t, offset, &out)
		if err == nil {
			out.NodeID = done.Node
			break
		}
		if !errors.Is(err, gctask.ErrInvalidTransition) {
			return out, err
		}
		// Evicted after the last chunk; redo from the checkpoint.
		if offset, err = e.tasks.Resume(taskID); err != nil {
			return out, err
		}
		out.Evictions++
	}

	out.FinalOffset = offset
	e.metrics.RecordTaskFinished()
	log.Infof("task executed", map[string]any{
		"nodeId":     out.NodeID,
		"chunks":     out.Chunks,
		"interrupts": out.Interrupts,
		"evictions":  out.Evictions,
		"action":     out.Action.String(),
		"latencyMs":  out.Latency.Milliseconds(),
	})
	return out, nil
}

func (e *Executor) begin(taskID string) (gctask.Task, int64, error) {
	t, err := e.tasks.Get(taskID)
	if err != nil {
		return t, 0, err
	}
	switch t.Status {
	case gctask.StatusPending:
		t, err = e.tasks.Start(taskID)
		return t, 0, err
	case gctask.StatusInterrupted:
		if t.Snapshot == nil {
			return t, 0, fmt.Errorf("%w: %s interrupted without checkpoint", ErrNotRunnable, taskID)
		}
		offset, err := e.tasks.Resume(taskID)
		return t, offset, err
	default:
		return t, 0, fmt.Errorf("%w: %s is %s", ErrNotRunnable, taskID, t.Status)
	}
}

// finish builds the GC record, validates it, enqueues the delta and
// completes the task.
func (e *Executor) finish(ctx context.Context, t gctask.Task, offset int64, out *Outcome) (gctask.Task, error) {
	meta := blob.Meta{
		Key:     "key-" + t.Blob.ID,
		BlobID:  t.Blob.ID,
		Offset:  offset,
		Type:    blob.MetaGC,
		DelayMs: e.sampleDelay(),
	}
	action, err := e.validator.OptimalAction(meta)
	if err != nil {
		return gctask.Task{}, fmt.Errorf("validation action for %s: %w", meta.Key, err)
	}
	out.Action = action

	for _, m := range e.validator.BatchValidate([]blob.Meta{meta}) {
		if err := e.tasks.EnqueueMetadataDelta(ctx, m); err != nil {
			// The delta is gone from the buffer either way; completion
			// does not depend on the sink.
			logging.WithTask(e.logger, t.ID, t.ShardID).Warnf("metadata delta sync failed", map[string]any{
				"key":   m.Key,
				"error": err.Error(),
			})
		}
	}
	return e.tasks.Complete(ctx, t.ID)
}

func (e *Executor) checkpointOnCancel(t gctask.Task, offset int64, checksum string, log *logging.Logger) {
	if _, err := e.tasks.Interrupt(context.Background(), t.ID, offset, checksum, false); err != nil {
		log.Warnf("checkpoint on cancel failed", map[string]any{"offset": offset, "error": err.Error()})
		return
	}
	log.Infof("task checkpointed on cancel", map[string]any{"offset": offset})
}

func (e *Executor) sampleDelay() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.minDelay + e.rng.Float64()*(e.maxDelay-e.minDelay)
}
