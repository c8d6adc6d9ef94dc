package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/dray-io/blobgc/internal/config"
	"github.com/dray-io/blobgc/internal/logging"
	"github.com/dray-io/blobgc/internal/validation"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-version") {
		fmt.Printf("blobgcd version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		os.Exit(runGC(os.Args[2:]))
	case "policy":
		os.Exit(runPolicy(os.Args[2:], os.Stdout))
	case "version":
		fmt.Printf("blobgcd version %s (built %s, commit %s)\n", version, buildTime, gitCommit)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: blobgcd <command> [options]

Commands:
  run       Schedule and execute GC tasks over a generated workload
  policy    Solve and print the metadata validation policy
  version   Print version information

Run 'blobgcd <command> --help' for more information on a command.`)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

func runGC(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	metricsAddr := fs.String("metrics-addr", "", "Override metrics endpoint address (e.g., :9090)")
	blobsPerShard := fs.Int("blobs-per-shard", 0, "Override blobs generated per shard")
	sink := fs.String("sink", "", "Override replication sink (log, raft, kafka)")
	seed := fs.Uint64("seed", 1, "Seed for the workload and interrupt policy")

	fs.Usage = func() {
		fmt.Println(`Usage: blobgcd run [options]

Generate a write-intensive blob workload, create one GC task per blob,
place it with the MORS scheduler and execute it with checkpointed resume.

Options:`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}
	if *metricsAddr != "" {
		cfg.Observability.MetricsAddr = *metricsAddr
	}
	if *blobsPerShard > 0 {
		cfg.Executor.BlobsPerShard = *blobsPerShard
	}
	if *sink != "" {
		cfg.Replication.Sink = *sink
	}

	logger := logging.Configure(cfg.Observability.LogLevel, cfg.Observability.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := NewDaemon(ctx, DaemonOptions{Config: cfg, Logger: logger, Seed: *seed, Version: version})
	if err != nil {
		logger.Errorf("failed to start", map[string]any{"error": err.Error()})
		return 1
	}
	defer d.Close()

	rep, err := d.Run(ctx, cfg.Executor.BlobsPerShard)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Infof("run interrupted by signal", map[string]any{"completed": rep.Completed})
			return 0
		}
		logger.Errorf("run failed", map[string]any{"error": err.Error()})
		return 1
	}
	if rep.Failed > 0 {
		return 1
	}
	return 0
}

func runPolicy(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("policy", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	vc := cfg.Validation
	engine := validation.NewEngine(validation.Config{
		Discount:     vc.Discount,
		MaxSweeps:    vc.MaxSweeps,
		Epsilon:      vc.Epsilon,
		BatchDelayMs: vc.BatchDelayMs,
		Logger:       logging.Discard(),
	})
	printPolicy(out, engine)
	return 0
}

func printPolicy(out io.Writer, e *validation.Engine) {
	fmt.Fprintf(out, "solved in %d sweeps (residual %.6f)\n\n", e.Sweeps(), e.Residual())
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATE\tTYPE\tVALIDATED\tDELAY\tVALUE\tACTION")
	policy := e.Policy()
	for i := 0; i < validation.NumStates; i++ {
		s := validation.StateAt(i)
		fmt.Fprintf(tw, "%d\t%s\t%v\t%s\t%.4f\t%s\n", i, s.Type, s.Validated, bucketName(s.Bucket), e.Value(s), policy[i])
	}
	tw.Flush()
}

func bucketName(b validation.DelayBucket) string {
	switch b {
	case validation.DelayLow:
		return "<=50ms"
	case validation.DelayMid:
		return "50-100ms"
	default:
		return ">100ms"
	}
}
