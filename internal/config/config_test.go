package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8, cfg.Registry.BatchThreshold)
	assert.Equal(t, 5, cfg.Registry.CompressionRatio)
	assert.Equal(t, int64(1<<20), cfg.Registry.SnapshotGranularity)
	assert.Equal(t, int64(32<<20), cfg.Registry.BlobSize)
	assert.Equal(t, 90.0, cfg.Scheduler.FPGAGate)
	assert.Equal(t, 88.0, cfg.Scheduler.BandwidthGate)
	assert.Equal(t, 15, cfg.Scheduler.HighQuota)
	assert.Equal(t, 10, cfg.Scheduler.LowQuota)
	assert.Equal(t, 0.9, cfg.Validation.Discount)
	assert.Equal(t, 50, cfg.Validation.MaxSweeps)
}

func TestParseOverlaysDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
cluster:
  nodeIds: [a, b, c]
  shardCount: 8
replication:
  codec: zstd
`))
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, cfg.Cluster.NodeIDs)
	assert.Equal(t, 8, cfg.Cluster.ShardCount)
	assert.Equal(t, "zstd", cfg.Replication.Codec)
	// untouched sections keep their defaults
	assert.Equal(t, 8, cfg.Registry.BatchThreshold)
	assert.Equal(t, "log", cfg.Replication.Sink)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BLOBGC_NODE_IDS", "x,y")
	t.Setenv("BLOBGC_BATCH_THRESHOLD", "16")
	t.Setenv("BLOBGC_FPGA_GATE", "80.5")
	t.Setenv("BLOBGC_LOG_FORMAT", "text")

	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, []string{"x", "y"}, cfg.Cluster.NodeIDs)
	assert.Equal(t, 16, cfg.Registry.BatchThreshold)
	assert.Equal(t, 80.5, cfg.Scheduler.FPGAGate)
	assert.Equal(t, "text", cfg.Observability.LogFormat)
}

func TestEnvOverrideBadNumber(t *testing.T) {
	t.Setenv("BLOBGC_SHARD_COUNT", "many")

	_, err := Parse([]byte("{}"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: env")
	assert.Contains(t, err.Error(), "ShardCount")
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"single node", func(c *Config) { c.Cluster.NodeIDs = []string{"only"} }},
		{"duplicate node", func(c *Config) { c.Cluster.NodeIDs = []string{"a", "a"} }},
		{"zero shards", func(c *Config) { c.Cluster.ShardCount = 0 }},
		{"zero batch threshold", func(c *Config) { c.Registry.BatchThreshold = 0 }},
		{"unknown checkpoint backend", func(c *Config) { c.Registry.CheckpointBackend = "disk" }},
		{"inverted competition band", func(c *Config) { c.Scheduler.CompetitionLow = 0.9 }},
		{"discount of one", func(c *Config) { c.Validation.Discount = 1 }},
		{"kafka without brokers", func(c *Config) { c.Replication.Sink = "kafka" }},
		{"unknown sink", func(c *Config) { c.Replication.Sink = "carrier-pigeon" }},
		{"interrupt probability above one", func(c *Config) { c.Executor.InterruptProbability = 1.5 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blobgc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("executor:\n  workers: 9\n"), 0o600))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Executor.Workers)

	t.Setenv(EnvConfigPath, path)
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Executor.Workers)
}

func TestLoadFromPathMissing(t *testing.T) {
	_, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
