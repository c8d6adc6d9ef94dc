// Package config provides configuration loading and validation for blobgc.
// Supports YAML files with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable consulted by Load.
const EnvConfigPath = "BLOBGC_CONFIG"

// Config holds all configuration for the GC control plane.
type Config struct {
	Cluster       ClusterConfig       `yaml:"cluster"`
	Registry      RegistryConfig      `yaml:"registry"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Validation    ValidationConfig    `yaml:"validation"`
	Replication   ReplicationConfig   `yaml:"replication"`
	Executor      ExecutorConfig      `yaml:"executor"`
	Metadata      MetadataConfig      `yaml:"metadata"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ClusterConfig struct {
	NodeIDs    []string `yaml:"nodeIds" env:"BLOBGC_NODE_IDS"`
	ShardCount int      `yaml:"shardCount" env:"BLOBGC_SHARD_COUNT"`
	// Seed drives the static shard -> (primary, backup) assignment.
	Seed int64 `yaml:"seed" env:"BLOBGC_SHARD_SEED"`
}

type RegistryConfig struct {
	BatchThreshold      int    `yaml:"batchThreshold" env:"BLOBGC_BATCH_THRESHOLD"`
	CompressionRatio    int    `yaml:"compressionRatio" env:"BLOBGC_COMPRESSION_RATIO"`
	SnapshotGranularity int64  `yaml:"snapshotGranularity" env:"BLOBGC_SNAPSHOT_GRANULARITY"`
	BlobSize            int64  `yaml:"blobSize" env:"BLOBGC_BLOB_SIZE"`
	CheckpointBackend   string `yaml:"checkpointBackend" env:"BLOBGC_CHECKPOINT_BACKEND"`
}

type SchedulerConfig struct {
	FPGAGate         float64 `yaml:"fpgaGate" env:"BLOBGC_FPGA_GATE"`
	BandwidthGate    float64 `yaml:"bandwidthGate" env:"BLOBGC_BANDWIDTH_GATE"`
	FPGAStep         float64 `yaml:"fpgaStep" env:"BLOBGC_FPGA_STEP"`
	BandwidthStep    float64 `yaml:"bandwidthStep" env:"BLOBGC_BANDWIDTH_STEP"`
	CapacityStep     int     `yaml:"capacityStep" env:"BLOBGC_CAPACITY_STEP"`
	InitialFPGA      float64 `yaml:"initialFpga" env:"BLOBGC_INITIAL_FPGA"`
	InitialBandwidth float64 `yaml:"initialBandwidth" env:"BLOBGC_INITIAL_BANDWIDTH"`
	InitialCapacity  int     `yaml:"initialCapacity" env:"BLOBGC_INITIAL_CAPACITY"`
	HighQuota        int     `yaml:"highQuota" env:"BLOBGC_HIGH_QUOTA"`
	LowQuota         int     `yaml:"lowQuota" env:"BLOBGC_LOW_QUOTA"`
	CompetitionHigh  float64 `yaml:"competitionHigh" env:"BLOBGC_COMPETITION_HIGH"`
	CompetitionLow   float64 `yaml:"competitionLow" env:"BLOBGC_COMPETITION_LOW"`
	PreemptBelow     float64 `yaml:"preemptBelow" env:"BLOBGC_PREEMPT_BELOW"`
	HighProfit       float64 `yaml:"highProfit" env:"BLOBGC_HIGH_PROFIT"`
}

type ValidationConfig struct {
	Discount     float64 `yaml:"discount" env:"BLOBGC_MDP_DISCOUNT"`
	MaxSweeps    int     `yaml:"maxSweeps" env:"BLOBGC_MDP_MAX_SWEEPS"`
	Epsilon      float64 `yaml:"epsilon" env:"BLOBGC_MDP_EPSILON"`
	BatchDelayMs float64 `yaml:"batchDelayMs" env:"BLOBGC_BATCH_DELAY_MS"`
}

type ReplicationConfig struct {
	Codec              string   `yaml:"codec" env:"BLOBGC_REPLICATION_CODEC"`
	Sink               string   `yaml:"sink" env:"BLOBGC_REPLICATION_SINK"`
	KafkaBrokers       []string `yaml:"kafkaBrokers" env:"BLOBGC_KAFKA_BROKERS"`
	KafkaTopic         string   `yaml:"kafkaTopic" env:"BLOBGC_KAFKA_TOPIC"`
	RaftApplyTimeoutMs int64    `yaml:"raftApplyTimeoutMs" env:"BLOBGC_RAFT_APPLY_TIMEOUT_MS"`
}

type ExecutorConfig struct {
	Workers              int     `yaml:"workers" env:"BLOBGC_WORKERS"`
	InterruptProbability float64 `yaml:"interruptProbability" env:"BLOBGC_INTERRUPT_PROBABILITY"`
	DispatchPerSecond    float64 `yaml:"dispatchPerSecond" env:"BLOBGC_DISPATCH_PER_SECOND"`
	InterruptRateTarget  float64 `yaml:"interruptRateTarget" env:"BLOBGC_INTERRUPT_RATE_TARGET"`
	BlobsPerShard        int     `yaml:"blobsPerShard" env:"BLOBGC_BLOBS_PER_SHARD"`
}

type MetadataConfig struct {
	OxiaEndpoint string `yaml:"oxiaEndpoint" env:"BLOBGC_OXIA_ENDPOINT"`
	Namespace    string `yaml:"namespace" env:"BLOBGC_OXIA_NAMESPACE"`
}

type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metricsAddr" env:"BLOBGC_METRICS_ADDR"`
	LogLevel    string `yaml:"logLevel" env:"BLOBGC_LOG_LEVEL"`
	LogFormat   string `yaml:"logFormat" env:"BLOBGC_LOG_FORMAT"`
}

// Default returns a Config with the control plane's reference constants.
func Default() *Config {
	return &Config{
		Cluster: ClusterConfig{
			NodeIDs:    []string{"node-1", "node-2", "node-3", "node-4", "node-5"},
			ShardCount: 50,
			Seed:       1,
		},
		Registry: RegistryConfig{
			BatchThreshold:      8,
			CompressionRatio:    5,
			SnapshotGranularity: 1 << 20,  // 1MiB
			BlobSize:            32 << 20, // 32MiB
			CheckpointBackend:   "memory",
		},
		Scheduler: SchedulerConfig{
			FPGAGate:         90,
			BandwidthGate:    88,
			FPGAStep:         5,
			BandwidthStep:    4,
			CapacityStep:     20,
			InitialFPGA:      60,
			InitialBandwidth: 50,
			InitialCapacity:  1000,
			HighQuota:        15,
			LowQuota:         10,
			CompetitionHigh:  0.7,
			CompetitionLow:   0.4,
			PreemptBelow:     0.5,
			HighProfit:       0.7,
		},
		Validation: ValidationConfig{
			Discount:     0.9,
			MaxSweeps:    50,
			Epsilon:      1e-4,
			BatchDelayMs: 0.4,
		},
		Replication: ReplicationConfig{
			Codec:              "lz4",
			Sink:               "log",
			KafkaTopic:         "blobgc-metadata-deltas",
			RaftApplyTimeoutMs: 500,
		},
		Executor: ExecutorConfig{
			Workers:              4,
			InterruptProbability: 0.1,
			DispatchPerSecond:    0, // unlimited
			InterruptRateTarget:  2.3,
			BlobsPerShard:        10,
		},
		Metadata: MetadataConfig{
			OxiaEndpoint: "localhost:6648",
			Namespace:    "blobgc",
		},
		Observability: ObservabilityConfig{
			MetricsAddr: ":9090",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// Load reads the file named by BLOBGC_CONFIG, or starts from defaults when
// it is unset. Environment overrides are applied last.
func Load() (*Config, error) {
	if path := os.Getenv(EnvConfigPath); path != "" {
		return LoadFromPath(path)
	}
	cfg := Default()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// LoadFromPath reads a YAML file layered on top of Default().
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML layered on top of Default() and applies env overrides.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// Validate checks invariants the control plane relies on.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Cluster.NodeIDs) < 2 {
		errs = append(errs, errors.New("cluster.nodeIds: need at least two nodes for primary/backup pairs"))
	}
	seen := make(map[string]bool, len(c.Cluster.NodeIDs))
	for _, id := range c.Cluster.NodeIDs {
		if id == "" || seen[id] {
			errs = append(errs, fmt.Errorf("cluster.nodeIds: empty or duplicate node %q", id))
		}
		seen[id] = true
	}
	if c.Cluster.ShardCount <= 0 {
		errs = append(errs, errors.New("cluster.shardCount must be positive"))
	}
	if c.Registry.BatchThreshold <= 0 {
		errs = append(errs, errors.New("registry.batchThreshold must be positive"))
	}
	if c.Registry.CompressionRatio <= 0 {
		errs = append(errs, errors.New("registry.compressionRatio must be positive"))
	}
	if c.Registry.SnapshotGranularity <= 0 || c.Registry.BlobSize <= 0 {
		errs = append(errs, errors.New("registry.snapshotGranularity and registry.blobSize must be positive"))
	}
	switch c.Registry.CheckpointBackend {
	case "memory", "oxia":
	default:
		errs = append(errs, fmt.Errorf("registry.checkpointBackend: unknown backend %q", c.Registry.CheckpointBackend))
	}
	if c.Scheduler.CompetitionLow > c.Scheduler.CompetitionHigh {
		errs = append(errs, errors.New("scheduler.competitionLow must not exceed competitionHigh"))
	}
	if c.Validation.Discount < 0 || c.Validation.Discount >= 1 {
		errs = append(errs, errors.New("validation.discount must be in [0,1)"))
	}
	if c.Validation.MaxSweeps <= 0 {
		errs = append(errs, errors.New("validation.maxSweeps must be positive"))
	}
	switch c.Replication.Sink {
	case "log", "raft":
	case "kafka":
		if len(c.Replication.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("replication.kafkaBrokers required for kafka sink"))
		}
	default:
		errs = append(errs, fmt.Errorf("replication.sink: unknown sink %q", c.Replication.Sink))
	}
	if c.Executor.Workers <= 0 {
		errs = append(errs, errors.New("executor.workers must be positive"))
	}
	if c.Executor.InterruptProbability < 0 || c.Executor.InterruptProbability > 1 {
		errs = append(errs, errors.New("executor.interruptProbability must be in [0,1]"))
	}
	return errors.Join(errs...)
}

// applyEnv overrides fields tagged with `env` from the process environment.
func (c *Config) applyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("config: env: %w", err)
	}
	return nil
}
