package gctask

import (
	"errors"
	"fmt"
	"math/rand/v2"
)

// NodePair is a shard's statically assigned primary and backup nodes.
type NodePair struct {
	Primary string
	Backup  string
}

// ShardMap is the static shard -> (primary, backup) assignment. It is
// read-only after construction.
type ShardMap struct {
	pairs []NodePair
}

// NewShardMap assigns every shard in [0, shardCount) a pseudo-random
// primary and a different backup. The same seed and node list always
// yield the same map.
func NewShardMap(nodeIDs []string, shardCount int, seed int64) (*ShardMap, error) {
	if len(nodeIDs) < 2 {
		return nil, errors.New("gctask: shard map needs at least two nodes")
	}
	if shardCount <= 0 {
		return nil, fmt.Errorf("gctask: invalid shard count %d", shardCount)
	}

	r := rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
	pairs := make([]NodePair, shardCount)
	for shard := range pairs {
		p := r.IntN(len(nodeIDs))
		b := r.IntN(len(nodeIDs) - 1)
		if b >= p {
			b++
		}
		pairs[shard] = NodePair{Primary: nodeIDs[p], Backup: nodeIDs[b]}
	}
	return &ShardMap{pairs: pairs}, nil
}

// NewShardMapFromPairs builds a map from explicit assignments, indexed by
// shard id.
func NewShardMapFromPairs(pairs []NodePair) (*ShardMap, error) {
	for shard, p := range pairs {
		if p.Primary == "" || p.Backup == "" || p.Primary == p.Backup {
			return nil, fmt.Errorf("gctask: shard %d needs distinct primary and backup", shard)
		}
	}
	out := make([]NodePair, len(pairs))
	copy(out, pairs)
	return &ShardMap{pairs: out}, nil
}

// Lookup returns a shard's node pair.
func (m *ShardMap) Lookup(shardID int) (NodePair, error) {
	if shardID < 0 || shardID >= len(m.pairs) {
		return NodePair{}, fmt.Errorf("%w: %d", ErrUnknownShard, shardID)
	}
	return m.pairs[shardID], nil
}

// Len returns the number of shards.
func (m *ShardMap) Len() int {
	return len(m.pairs)
}
