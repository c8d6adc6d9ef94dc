// Package keys builds metadata-store keys for the GC control plane.
// Shard ids are zero-padded so lexicographic listing follows numeric order.
//
//	/blobgc/v1/checkpoints/<shardZ>
//	/blobgc/v1/shards/<shardZ>/lease
package keys

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ShardWidth is the number of digits in a zero-padded shard id.
const ShardWidth = 10

const (
	// Prefix is the root prefix for all blobgc keys.
	Prefix = "/blobgc/v1"

	// CheckpointsPrefix holds one snapshot per shard with a checkpointed task.
	CheckpointsPrefix = Prefix + "/checkpoints"

	// ShardsPrefix holds per-shard state such as leases.
	ShardsPrefix = Prefix + "/shards"
)

// ErrInvalidKey is returned when a key cannot be parsed.
var ErrInvalidKey = errors.New("keys: invalid key")

// EncodeShard zero-pads a shard id.
func EncodeShard(shardID int) string {
	return fmt.Sprintf("%0*d", ShardWidth, shardID)
}

// CheckpointKeyPath returns the checkpoint key for a shard.
func CheckpointKeyPath(shardID int) string {
	return CheckpointsPrefix + "/" + EncodeShard(shardID)
}

// ShardLeaseKeyPath returns the lease key recording a shard's live task.
func ShardLeaseKeyPath(shardID int) string {
	return ShardsPrefix + "/" + EncodeShard(shardID) + "/lease"
}

// ParseCheckpointKey extracts the shard id from a checkpoint key.
func ParseCheckpointKey(key string) (int, error) {
	rest, ok := strings.CutPrefix(key, CheckpointsPrefix+"/")
	if !ok || len(rest) != ShardWidth {
		return 0, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	id, err := strconv.Atoi(rest)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return id, nil
}
