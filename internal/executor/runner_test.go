package executor

import (
	"context"
	"testing"

	"github.com/dray-io/blobgc/internal/blob"
	"github.com/dray-io/blobgc/internal/gctask"
	"github.com/dray-io/blobgc/internal/logging"
	"github.com/dray-io/blobgc/internal/scheduler"
	"github.com/dray-io/blobgc/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRunnerFixture(t *testing.T, nodes []string, shards int, policy InterruptPolicy) (*Runner, *gctask.Registry, *scheduler.Scheduler) {
	t.Helper()
	scfg := scheduler.DefaultConfig(nodes)
	scfg.Logger = logging.Discard()
	sched, err := scheduler.New(scfg)
	require.NoError(t, err)

	shardMap, err := gctask.NewShardMap(nodes, shards, 42)
	require.NoError(t, err)
	reg, err := gctask.NewRegistry(gctask.Config{Shards: shardMap, Placer: sched, Logger: logging.Discard()})
	require.NoError(t, err)

	vcfg := validation.DefaultConfig()
	vcfg.Logger = logging.Discard()
	exec, err := New(Config{Tasks: reg, Validator: validation.NewEngine(vcfg), Policy: policy, Logger: logging.Discard()})
	require.NoError(t, err)

	runner, err := NewRunner(RunnerConfig{Dispatcher: reg, Executor: exec, Workers: 3, Logger: logging.Discard()})
	require.NoError(t, err)
	return runner, reg, sched
}

func smallWorkload(shards, perShard int) []*blob.Blob {
	cfg := DefaultWorkload(shards)
	cfg.BlobsPerShard = perShard
	cfg.BlobSize = 4 * mib
	cfg.Seed = 1
	return GenerateBlobs(cfg)
}

func TestRunnerCompletesEveryBlob(t *testing.T) {
	nodes := []string{"node-1", "node-2", "node-3", "node-4", "node-5"}
	runner, reg, sched := newRunnerFixture(t, nodes, 6, AtChunks(2))

	rep, err := runner.Run(context.Background(), smallWorkload(6, 3))
	require.NoError(t, err)

	assert.Equal(t, 18, rep.Blobs)
	assert.Equal(t, 18, rep.Created)
	assert.Equal(t, 18, rep.Completed)
	assert.Equal(t, 0, rep.ShardBusy)
	assert.Equal(t, 0, rep.Failed)
	assert.Equal(t, 18, rep.Interrupts)
	assert.Equal(t, 18*5, rep.Chunks)
	assert.NotEmpty(t, rep.RunID)

	sum := reg.Summary()
	assert.Equal(t, 18, sum.Total)
	assert.Equal(t, 18, sum.Completed)
	assert.Equal(t, 0.0, sum.InterruptRate())
	assert.True(t, sum.WithinTarget(gctask.DefaultInterruptRateTarget))

	// Every placement was released on completion.
	for _, n := range sched.Nodes() {
		assert.Equal(t, scheduler.DefaultConfig(nil).InitialFPGA, n.FPGAUtilization, n.NodeID)
	}
}

func TestRunnerCancelled(t *testing.T) {
	runner, _, _ := newRunnerFixture(t, []string{"node-1", "node-2"}, 2, Never{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := runner.Run(ctx, smallWorkload(2, 2))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, rep.Completed)
}

func TestNewRunnerValidation(t *testing.T) {
	_, err := NewRunner(RunnerConfig{})
	assert.Error(t, err)
}
