package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dray-io/blobgc/internal/config"
	"github.com/dray-io/blobgc/internal/executor"
	"github.com/dray-io/blobgc/internal/gctask"
	"github.com/dray-io/blobgc/internal/logging"
	"github.com/dray-io/blobgc/internal/metadata"
	"github.com/dray-io/blobgc/internal/metadata/oxia"
	"github.com/dray-io/blobgc/internal/metrics"
	"github.com/dray-io/blobgc/internal/pipeline"
	"github.com/dray-io/blobgc/internal/replication"
	"github.com/dray-io/blobgc/internal/scheduler"
	"github.com/dray-io/blobgc/internal/validation"
)

const backlogScanInterval = 5 * time.Second

// DaemonOptions configures a Daemon.
type DaemonOptions struct {
	Config *config.Config
	Logger *logging.Logger

	// Seed drives the interrupt policy and the generated workload.
	Seed uint64

	// Registry defaults to a fresh prometheus registry with process and Go
	// collectors.
	Registry *prometheus.Registry

	Version string
}

// Daemon wires the control plane components for one run.
type Daemon struct {
	opts   DaemonOptions
	cfg    *config.Config
	logger *logging.Logger

	registry  *prometheus.Registry
	metricsSv *metrics.Server
	scanner   *metrics.GCBacklogScanner

	sched     *scheduler.Scheduler
	tasks     *gctask.Registry
	batcher   *replication.Batcher
	validator *validation.Engine
	runner    *executor.Runner

	meta   metadata.Store
	fsm    *replication.DeltaFSM
	raft   *replication.LocalRaft
	kafka  interface{ Close() }
	closed bool
}

// NewDaemon builds every component from opts.Config. It connects to Oxia,
// Kafka or starts a local raft node when the config asks for them.
func NewDaemon(ctx context.Context, opts DaemonOptions) (*Daemon, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	cfg := opts.Config
	logger := logging.OrGlobal(opts.Logger)

	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	d := &Daemon{opts: opts, cfg: cfg, logger: logger, registry: reg}
	if err := d.build(ctx); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Daemon) build(ctx context.Context) error {
	cfg := d.cfg
	reg := d.registry

	sc := cfg.Scheduler
	sched, err := scheduler.New(scheduler.Config{
		NodeIDs:          cfg.Cluster.NodeIDs,
		FPGAGate:         sc.FPGAGate,
		BandwidthGate:    sc.BandwidthGate,
		FPGAStep:         sc.FPGAStep,
		BandwidthStep:    sc.BandwidthStep,
		CapacityStep:     sc.CapacityStep,
		InitialFPGA:      sc.InitialFPGA,
		InitialBandwidth: sc.InitialBandwidth,
		InitialCapacity:  sc.InitialCapacity,
		HighQuota:        sc.HighQuota,
		LowQuota:         sc.LowQuota,
		CompetitionHigh:  sc.CompetitionHigh,
		CompetitionLow:   sc.CompetitionLow,
		PreemptBelow:     sc.PreemptBelow,
		HighProfit:       sc.HighProfit,
		Logger:           d.logger,
		Metrics:          metrics.NewNodeMetricsWithRegistry(reg),
	})
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	d.sched = sched

	shards, err := gctask.NewShardMap(cfg.Cluster.NodeIDs, cfg.Cluster.ShardCount, cfg.Cluster.Seed)
	if err != nil {
		return fmt.Errorf("shard map: %w", err)
	}

	store, err := d.openMetadata(ctx)
	if err != nil {
		return err
	}
	d.meta = metadata.NewInstrumentedStore(store, metrics.NewMetadataMetricsWithRegistry(reg))

	sink, err := d.openSink(ctx)
	if err != nil {
		return err
	}
	codec, err := replication.NewCodec(cfg.Replication.Codec)
	if err != nil {
		return err
	}
	d.batcher, err = replication.NewBatcher(replication.BatcherConfig{
		Threshold:        cfg.Registry.BatchThreshold,
		CompressionRatio: cfg.Registry.CompressionRatio,
		Codec:            codec,
		Sink:             sink,
		Logger:           d.logger,
		Metrics:          metrics.NewReplicationMetricsWithRegistry(reg),
	})
	if err != nil {
		return err
	}

	d.tasks, err = gctask.NewRegistry(gctask.Config{
		Shards:      shards,
		Placer:      sched,
		Deltas:      d.batcher,
		Checkpoints: gctask.NewCheckpointStore(d.meta),
		Logger:      d.logger,
		Metrics:     metrics.NewTaskMetricsWithRegistry(reg),
	})
	if err != nil {
		return err
	}

	vc := cfg.Validation
	d.validator = validation.NewEngine(validation.Config{
		Discount:     vc.Discount,
		MaxSweeps:    vc.MaxSweeps,
		Epsilon:      vc.Epsilon,
		BatchDelayMs: vc.BatchDelayMs,
		Logger:       d.logger,
		Metrics:      metrics.NewValidationMetricsWithRegistry(reg),
	})

	gcMetrics := metrics.NewGCMetricsWithRegistry(reg)
	d.scanner = metrics.NewGCBacklogScanner(gcMetrics, d.tasks, backlogScanInterval, d.logger)

	exec, err := executor.New(executor.Config{
		Tasks:       d.tasks,
		Validator:   d.validator,
		Pipeline:    pipeline.New(d.logger),
		Policy:      executor.NewProbabilistic(cfg.Executor.InterruptProbability, d.opts.Seed),
		Granularity: cfg.Registry.SnapshotGranularity,
		Seed:        d.opts.Seed,
		Logger:      d.logger,
		Metrics:     gcMetrics,
	})
	if err != nil {
		return err
	}
	d.runner, err = executor.NewRunner(executor.RunnerConfig{
		Dispatcher:        d.tasks,
		Executor:          exec,
		Workers:           cfg.Executor.Workers,
		DispatchPerSecond: cfg.Executor.DispatchPerSecond,
		Logger:            d.logger,
	})
	if err != nil {
		return err
	}

	if addr := cfg.Observability.MetricsAddr; addr != "" {
		d.metricsSv = metrics.NewServerWithRegistry(addr, reg).WithLogger(d.logger)
	}
	return nil
}

func (d *Daemon) openMetadata(ctx context.Context) (metadata.Store, error) {
	switch d.cfg.Registry.CheckpointBackend {
	case "oxia":
		store, err := oxia.New(ctx, oxia.Config{
			ServiceAddress: d.cfg.Metadata.OxiaEndpoint,
			Namespace:      d.cfg.Metadata.Namespace,
		})
		if err != nil {
			return nil, fmt.Errorf("oxia metadata store: %w", err)
		}
		d.logger.Infof("checkpoints stored in oxia", map[string]any{
			"endpoint":  d.cfg.Metadata.OxiaEndpoint,
			"namespace": d.cfg.Metadata.Namespace,
		})
		return store, nil
	default:
		return metadata.NewMemStore(), nil
	}
}

func (d *Daemon) openSink(ctx context.Context) (replication.Sink, error) {
	rc := d.cfg.Replication
	switch rc.Sink {
	case replication.SinkRaft:
		d.fsm = replication.NewDeltaFSM(d.logger)
		r, err := replication.NewLocalRaft(ctx, d.cfg.Cluster.NodeIDs[0], d.fsm)
		if err != nil {
			return nil, err
		}
		d.raft = r
		return replication.NewRaftSink(r, time.Duration(rc.RaftApplyTimeoutMs)*time.Millisecond), nil
	case replication.SinkKafka:
		client, err := replication.NewKafkaClient(rc.KafkaBrokers, rc.KafkaTopic, "blobgcd")
		if err != nil {
			return nil, fmt.Errorf("kafka client: %w", err)
		}
		d.kafka = client
		return replication.NewKafkaSink(client, rc.KafkaTopic)
	default:
		return replication.NewLogSink(d.logger), nil
	}
}

// Run serves metrics, executes a generated workload and logs the summary.
func (d *Daemon) Run(ctx context.Context, blobsPerShard int) (executor.Report, error) {
	if d.metricsSv != nil {
		if err := d.metricsSv.Start(); err != nil {
			return executor.Report{}, fmt.Errorf("metrics server: %w", err)
		}
		d.logger.Infof("metrics server listening", map[string]any{"addr": d.metricsSv.Addr()})
	}
	d.scanner.Start()
	defer d.scanner.Stop()

	d.logger.Infof("blobgcd run starting", map[string]any{
		"version":    d.opts.Version,
		"nodes":      len(d.cfg.Cluster.NodeIDs),
		"shards":     d.cfg.Cluster.ShardCount,
		"sink":       d.cfg.Replication.Sink,
		"codec":      d.cfg.Replication.Codec,
		"checkpoint": d.cfg.Registry.CheckpointBackend,
	})

	wl := executor.DefaultWorkload(d.cfg.Cluster.ShardCount)
	wl.BlobsPerShard = blobsPerShard
	wl.BlobSize = d.cfg.Registry.BlobSize
	wl.Seed = d.opts.Seed
	blobs := executor.GenerateBlobs(wl)

	rep, err := d.runner.Run(ctx, blobs)
	d.scanner.ScanOnce()

	sum := d.tasks.Summary()
	target := d.cfg.Executor.InterruptRateTarget
	d.logger.Infof("run summary", map[string]any{
		"total":           sum.Total,
		"completed":       sum.Completed,
		"interrupted":     sum.Interrupted,
		"interruptEvents": sum.InterruptEvents,
		"interruptRate":   sum.InterruptRate(),
		"target":          target,
		"withinTarget":    sum.WithinTarget(target),
		"pendingDeltas":   d.batcher.Pending(),
		"batches":         d.batcher.Stats().Batches,
	})
	for _, n := range d.sched.Nodes() {
		_, units, verr := d.sched.VirtualCapacity(n.NodeID, scheduler.LoadNormal)
		fields := map[string]any{
			"fpga":        n.FPGAUtilization,
			"bandwidth":   n.BandwidthUtilization,
			"competition": n.Competition,
			"capacity":    n.RemainingCapacity,
		}
		if verr == nil {
			fields["virtualUnits"] = units
		}
		logging.WithNode(d.logger, n.NodeID).Infof("node state", fields)
	}
	return rep, err
}

// Summary exposes the registry's task counts.
func (d *Daemon) Summary() gctask.Summary {
	return d.tasks.Summary()
}

// Close releases external resources. Deltas below the batch threshold are
// not flushed.
func (d *Daemon) Close() {
	if d.closed {
		return
	}
	d.closed = true
	if d.metricsSv != nil {
		if err := d.metricsSv.Close(); err != nil {
			d.logger.Warnf("metrics server close failed", map[string]any{"error": err.Error()})
		}
	}
	if d.raft != nil {
		if err := d.raft.Close(); err != nil {
			d.logger.Warnf("raft shutdown failed", map[string]any{"error": err.Error()})
		}
	}
	if d.kafka != nil {
		d.kafka.Close()
	}
	if d.meta != nil {
		if err := d.meta.Close(); err != nil {
			d.logger.Warnf("metadata store close failed", map[string]any{"error": err.Error()})
		}
	}
}
