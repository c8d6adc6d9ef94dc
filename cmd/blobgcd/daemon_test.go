package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dray-io/blobgc/internal/config"
	"github.com/dray-io/blobgc/internal/logging"
	"github.com/dray-io/blobgc/internal/validation"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Cluster.ShardCount = 4
	cfg.Registry.BlobSize = 4 << 20
	cfg.Executor.Workers = 2
	cfg.Executor.InterruptProbability = 0.2
	cfg.Observability.MetricsAddr = ""
	return cfg
}

func TestDaemonRunWithLogSink(t *testing.T) {
	reg := prometheus.NewRegistry()
	d, err := NewDaemon(context.Background(), DaemonOptions{
		Config:   testConfig(),
		Logger:   logging.Discard(),
		Seed:     5,
		Registry: reg,
	})
	require.NoError(t, err)
	defer d.Close()

	rep, err := d.Run(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, 16, rep.Created)
	assert.Equal(t, 16, rep.Completed)
	assert.Equal(t, 0, rep.Failed)

	sum := d.Summary()
	assert.Equal(t, 16, sum.Completed)
	assert.Equal(t, 0.0, sum.InterruptRate())

	// 16 deltas at threshold 8 make exactly two batches.
	assert.Equal(t, uint64(2), d.batcher.Stats().Batches)
	assert.Equal(t, 0, d.batcher.Pending())

	n, err := testutil.GatherAndCount(reg, "blobgc_replication_batches_total", "blobgc_gc_tasks_finished_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestDaemonRunWithRaftSink(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a raft node")
	}
	cfg := testConfig()
	cfg.Replication.Sink = "raft"
	cfg.Replication.Codec = "zstd"

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	d, err := NewDaemon(ctx, DaemonOptions{Config: cfg, Logger: logging.Discard(), Seed: 9, Registry: prometheus.NewRegistry()})
	require.NoError(t, err)
	defer d.Close()

	rep, err := d.Run(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 12, rep.Completed)

	// 12 deltas: one batch of 8 applied, 4 still buffered.
	assert.Equal(t, 8, d.fsm.Len())
	assert.Equal(t, 4, d.batcher.Pending())
}

func TestNewDaemonRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Cluster.NodeIDs = []string{"only"}
	_, err := NewDaemon(context.Background(), DaemonOptions{Config: cfg, Logger: logging.Discard()})
	assert.Error(t, err)

	cfg = testConfig()
	cfg.Replication.Codec = "brotli"
	_, err = NewDaemon(context.Background(), DaemonOptions{Config: cfg, Logger: logging.Discard(), Registry: prometheus.NewRegistry()})
	assert.Error(t, err)
}

func TestPrintPolicy(t *testing.T) {
	cfg := validation.DefaultConfig()
	cfg.Logger = logging.Discard()
	var buf bytes.Buffer
	printPolicy(&buf, validation.NewEngine(cfg))

	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	// Header line, blank line, column header, one row per state.
	assert.Len(t, lines, 3+validation.NumStates)
	assert.Contains(t, out, "Read-Time")
	assert.NotContains(t, out, "Write-Before")
}
