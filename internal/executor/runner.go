package executor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dray-io/blobgc/internal/blob"
	"github.com/dray-io/blobgc/internal/gctask"
	"github.com/dray-io/blobgc/internal/logging"
	"github.com/dray-io/blobgc/internal/scheduler"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Dispatcher creates and places tasks.
type Dispatcher interface {
	CreateTask(ctx context.Context, b *blob.Blob) (gctask.Task, error)
	Schedule(ctx context.Context, taskID string) (scheduler.Placement, error)
}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	Dispatcher Dispatcher
	Executor   *Executor

	// Workers bounds the number of shards processed concurrently.
	Workers int

	// DispatchPerSecond paces task creation across all workers. Zero or
	// negative means unlimited.
	DispatchPerSecond float64

	Logger *logging.Logger
}

// Report aggregates a Runner pass.
type Report struct {
	RunID string

	Blobs int
	// Created counts tasks the registry accepted.
	Created int
	// ShardBusy counts creations rejected because the shard had a live task.
	ShardBusy int
	// Unscheduled counts tasks left PENDING because no node passed the gate.
	Unscheduled int
	Completed   int
	Failed      int
	Interrupts  int
	Evictions   int
	Chunks      int
	Preemptions int

	// Latency is the accounted pipeline latency over all chunks.
	Latency  time.Duration
	Duration time.Duration
}

// Runner executes a workload over a bounded worker pool. Blobs of one shard
// run sequentially in input order; distinct shards run concurrently.
type Runner struct {
	dispatcher Dispatcher
	exec       *Executor
	workers    int
	limiter    *rate.Limiter
	logger     *logging.Logger
}

func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Dispatcher == nil || cfg.Executor == nil {
		return nil, errors.New("executor: runner needs a dispatcher and an executor")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	limit := rate.Inf
	if cfg.DispatchPerSecond > 0 {
		limit = rate.Limit(cfg.DispatchPerSecond)
	}
	return &Runner{
		dispatcher: cfg.Dispatcher,
		exec:       cfg.Executor,
		workers:    cfg.Workers,
		limiter:    rate.NewLimiter(limit, cfg.Workers),
		logger:     logging.OrGlobal(cfg.Logger).With(map[string]any{"component": "runner"}),
	}, nil
}

// Run processes blobs and returns the aggregate report. It returns ctx.Err()
// when cancelled; the report then covers the work finished so far.
func (r *Runner) Run(ctx context.Context, blobs []*blob.Blob) (Report, error) {
	start := time.Now()
	rep := Report{RunID: uuid.NewString(), Blobs: len(blobs)}
	log := r.logger.With(map[string]any{"runId": rep.RunID})

	var order []int
	byShard := make(map[int][]*blob.Blob)
	for _, b := range blobs {
		if _, ok := byShard[b.ShardID]; !ok {
			order = append(order, b.ShardID)
		}
		byShard[b.ShardID] = append(byShard[b.ShardID], b)
	}

	jobs := make(chan []*blob.Blob)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < min(r.workers, len(order)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for shardBlobs := range jobs {
				for _, b := range shardBlobs {
					if ctx.Err() != nil {
						break
					}
					part := r.runOne(ctx, b, log)
					mu.Lock()
					rep.merge(part)
					mu.Unlock()
				}
			}
		}()
	}

	log.Infof("run started", map[string]any{"blobs": len(blobs), "shards": len(order), "workers": r.workers})
feed:
	for _, shard := range order {
		select {
		case jobs <- byShard[shard]:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	rep.Duration = time.Since(start)
	log.Infof("run finished", map[string]any{
		"created":     rep.Created,
		"completed":   rep.Completed,
		"shardBusy":   rep.ShardBusy,
		"unscheduled": rep.Unscheduled,
		"failed":      rep.Failed,
		"interrupts":  rep.Interrupts,
		"evictions":   rep.Evictions,
		"durationMs":  rep.Duration.Milliseconds(),
	})
	return rep, ctx.Err()
}

func (r *Runner) runOne(ctx context.Context, b *blob.Blob, log *logging.Logger) Report {
	var part Report
	if err := r.limiter.Wait(ctx); err != nil {
		return part
	}

	t, err := r.dispatcher.CreateTask(ctx, b)
	if err != nil {
		if errors.Is(err, gctask.ErrShardBusy) {
			part.ShardBusy++
			log.Debugf("shard busy, blob skipped", map[string]any{"blobId": b.ID, "shardId": b.ShardID})
			return part
		}
		part.Failed++
		log.Errorf("task creation failed", map[string]any{"blobId": b.ID, "error": err.Error()})
		return part
	}
	part.Created++

	placement, err := r.dispatcher.Schedule(ctx, t.ID)
	if err != nil {
		if errors.Is(err, scheduler.ErrNoAvailableNode) {
			part.Unscheduled++
			return part
		}
		part.Failed++
		log.Errorf("task scheduling failed", map[string]any{"taskId": t.ID, "error": err.Error()})
		return part
	}
	if placement.Preempted != "" {
		part.Preemptions++
	}

	out, err := r.exec.Execute(ctx, t.ID)
	part.Interrupts += out.Interrupts
	part.Evictions += out.Evictions
	part.Chunks += out.Chunks
	part.Latency += out.Latency
	if err != nil {
		if ctx.Err() == nil {
			part.Failed++
			log.Errorf("task execution failed", map[string]any{"taskId": t.ID, "error": err.Error()})
		}
		return part
	}
	part.Completed++
	return part
}

func (rep *Report) merge(p Report) {
	rep.Created += p.Created
	rep.ShardBusy += p.ShardBusy
	rep.Unscheduled += p.Unscheduled
	rep.Completed += p.Completed
	rep.Failed += p.Failed
	rep.Interrupts += p.Interrupts
	rep.Evictions += p.Evictions
	rep.Chunks += p.Chunks
	rep.Preemptions += p.Preemptions
	rep.Latency += p.Latency
}
