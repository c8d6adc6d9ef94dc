package executor

import (
	"fmt"
	"math/rand/v2"

	"github.com/dray-io/blobgc/internal/blob"
)

// WorkloadConfig shapes a write-intensive blob workload.
type WorkloadConfig struct {
	Shards        int
	BlobsPerShard int
	BlobSize      int64
	Seed          uint64

	// Garbage ratios are drawn uniformly from [MinGarbage, MaxGarbage).
	MinGarbage float64
	MaxGarbage float64

	// Value counts are drawn uniformly from [MinValues, MaxValues].
	MinValues int64
	MaxValues int64
}

// DefaultWorkload is 10 blobs per shard with 30-80% garbage and 1000-5000
// values each.
func DefaultWorkload(shards int) WorkloadConfig {
	return WorkloadConfig{
		Shards:        shards,
		BlobsPerShard: 10,
		BlobSize:      blob.DefaultSize,
		MinGarbage:    0.3,
		MaxGarbage:    0.8,
		MinValues:     1000,
		MaxValues:     5000,
	}
}

// GenerateBlobs returns blobs ordered shard by shard.
func GenerateBlobs(cfg WorkloadConfig) []*blob.Blob {
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed+1))
	blobs := make([]*blob.Blob, 0, cfg.Shards*cfg.BlobsPerShard)
	for shard := 0; shard < cfg.Shards; shard++ {
		for i := 0; i < cfg.BlobsPerShard; i++ {
			ratio := cfg.MinGarbage + rng.Float64()*(cfg.MaxGarbage-cfg.MinGarbage)
			values := cfg.MinValues
			if cfg.MaxValues > cfg.MinValues {
				values += rng.Int64N(cfg.MaxValues - cfg.MinValues + 1)
			}
			b := blob.New(fmt.Sprintf("blob-%d-%d-%04d", shard, i, rng.IntN(10000)), shard, values, ratio)
			if cfg.BlobSize > 0 {
				b.Size = cfg.BlobSize
			}
			b.RecomputeGarbageRatio(int64(float64(values) * (1 - ratio)))
			blobs = append(blobs, b)
		}
	}
	return blobs
}
