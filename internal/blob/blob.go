// Package blob defines the value containers and metadata records the GC
// control plane operates on.
package blob

import (
	"fmt"
	"time"
)

// DefaultSize is the default blob size (32MiB).
const DefaultSize int64 = 32 << 20

// Blob is an append-only value container bound to exactly one shard.
type Blob struct {
	ID         string
	ShardID    int
	Size       int64
	Valid      bool
	ValueCount int64
	// GarbageRatio is the fraction of stored values that are dead, in [0,1].
	GarbageRatio float64
	CreatedAt    time.Time
}

// New returns a valid blob of DefaultSize. A blob without values has no
// garbage whatever ratio is passed.
func New(id string, shardID int, valueCount int64, garbageRatio float64) *Blob {
	if valueCount <= 0 {
		garbageRatio = 0
	}
	return &Blob{
		ID:           id,
		ShardID:      shardID,
		Size:         DefaultSize,
		Valid:        true,
		ValueCount:   valueCount,
		GarbageRatio: clampRatio(garbageRatio),
		CreatedAt:    time.Now(),
	}
}

// RecomputeGarbageRatio sets GarbageRatio to 1 - valid/total and returns it.
// A blob without values has no garbage.
func (b *Blob) RecomputeGarbageRatio(validCount int64) float64 {
	if b.ValueCount == 0 {
		b.GarbageRatio = 0
		return 0
	}
	b.GarbageRatio = clampRatio(1 - float64(validCount)/float64(b.ValueCount))
	return b.GarbageRatio
}

// Validate reports whether the descriptor is usable for task creation.
func (b *Blob) Validate() error {
	switch {
	case b == nil:
		return fmt.Errorf("blob: nil descriptor")
	case b.ID == "":
		return fmt.Errorf("blob: empty id")
	case b.ShardID < 0:
		return fmt.Errorf("blob %s: negative shard %d", b.ID, b.ShardID)
	case b.Size <= 0:
		return fmt.Errorf("blob %s: non-positive size %d", b.ID, b.Size)
	case b.ValueCount < 0:
		return fmt.Errorf("blob %s: negative value count %d", b.ID, b.ValueCount)
	case b.GarbageRatio < 0 || b.GarbageRatio > 1:
		return fmt.Errorf("blob %s: garbage ratio %v out of [0,1]", b.ID, b.GarbageRatio)
	case b.ValueCount == 0 && b.GarbageRatio != 0:
		return fmt.Errorf("blob %s: garbage ratio %v without values", b.ID, b.GarbageRatio)
	}
	return nil
}

func clampRatio(r float64) float64 {
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}
