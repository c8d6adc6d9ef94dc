package gctask

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dray-io/blobgc/internal/metadata"
	"github.com/dray-io/blobgc/internal/metadata/keys"
)

// Lease records which task owns a shard in the metadata store.
type Lease struct {
	ShardID      int    `json:"shardId"`
	TaskID       string `json:"taskId"`
	AcquiredAtMs int64  `json:"acquiredAtMs"`
}

// CheckpointStore persists snapshots and shard leases so a restarted
// control plane can see in-flight work.
//
//	/blobgc/v1/checkpoints/<shard>    latest snapshot
//	/blobgc/v1/shards/<shard>/lease   live task id
type CheckpointStore struct {
	meta metadata.Store
}

// NewCheckpointStore wraps a metadata store.
func NewCheckpointStore(meta metadata.Store) *CheckpointStore {
	return &CheckpointStore{meta: meta}
}

// Save overwrites the shard's checkpoint.
func (c *CheckpointStore) Save(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("gctask: encode checkpoint: %w", err)
	}
	if _, err := c.meta.Put(ctx, keys.CheckpointKeyPath(snap.ShardID), data); err != nil {
		return fmt.Errorf("gctask: save checkpoint for shard %d: %w", snap.ShardID, err)
	}
	return nil
}

// Load returns the shard's checkpoint, or nil if none exists.
func (c *CheckpointStore) Load(ctx context.Context, shardID int) (*Snapshot, error) {
	res, err := c.meta.Get(ctx, keys.CheckpointKeyPath(shardID))
	if err != nil {
		return nil, fmt.Errorf("gctask: load checkpoint for shard %d: %w", shardID, err)
	}
	if !res.Exists {
		return nil, nil
	}
	var snap Snapshot
	if err := json.Unmarshal(res.Value, &snap); err != nil {
		return nil, fmt.Errorf("gctask: decode checkpoint for shard %d: %w", shardID, err)
	}
	return &snap, nil
}

// List returns every stored checkpoint in shard order.
func (c *CheckpointStore) List(ctx context.Context) ([]Snapshot, error) {
	kvs, err := c.meta.List(ctx, keys.CheckpointsPrefix+"/", 0)
	if err != nil {
		return nil, fmt.Errorf("gctask: list checkpoints: %w", err)
	}
	out := make([]Snapshot, 0, len(kvs))
	for _, kv := range kvs {
		if _, err := keys.ParseCheckpointKey(kv.Key); err != nil {
			continue
		}
		var snap Snapshot
		if err := json.Unmarshal(kv.Value, &snap); err != nil {
			return nil, fmt.Errorf("gctask: decode checkpoint %s: %w", kv.Key, err)
		}
		out = append(out, snap)
	}
	return out, nil
}

// Delete removes the shard's checkpoint.
func (c *CheckpointStore) Delete(ctx context.Context, shardID int) error {
	if err := c.meta.Delete(ctx, keys.CheckpointKeyPath(shardID)); err != nil {
		return fmt.Errorf("gctask: delete checkpoint for shard %d: %w", shardID, err)
	}
	return nil
}

// AcquireLease claims the shard for taskID. It fails with a
// *ShardBusyError when another lease exists.
func (c *CheckpointStore) AcquireLease(ctx context.Context, shardID int, taskID string) error {
	data, err := json.Marshal(Lease{
		ShardID:      shardID,
		TaskID:       taskID,
		AcquiredAtMs: time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("gctask: encode lease: %w", err)
	}

	_, err = c.meta.Put(ctx, keys.ShardLeaseKeyPath(shardID), data, metadata.WithExpectNotExists())
	if errors.Is(err, metadata.ErrVersionMismatch) {
		busy := &ShardBusyError{ShardID: shardID}
		if holder, lerr := c.Lease(ctx, shardID); lerr == nil && holder != nil {
			busy.TaskID = holder.TaskID
		}
		return busy
	}
	if err != nil {
		return fmt.Errorf("gctask: acquire lease for shard %d: %w", shardID, err)
	}
	return nil
}

// Lease returns the shard's current lease, or nil.
func (c *CheckpointStore) Lease(ctx context.Context, shardID int) (*Lease, error) {
	res, err := c.meta.Get(ctx, keys.ShardLeaseKeyPath(shardID))
	if err != nil {
		return nil, fmt.Errorf("gctask: read lease for shard %d: %w", shardID, err)
	}
	if !res.Exists {
		return nil, nil
	}
	var l Lease
	if err := json.Unmarshal(res.Value, &l); err != nil {
		return nil, fmt.Errorf("gctask: decode lease for shard %d: %w", shardID, err)
	}
	return &l, nil
}

// ReleaseLease removes the shard's lease if taskID still holds it. A lease
// already gone or taken over by another task is left alone.
func (c *CheckpointStore) ReleaseLease(ctx context.Context, shardID int, taskID string) error {
	key := keys.ShardLeaseKeyPath(shardID)
	res, err := c.meta.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("gctask: read lease for shard %d: %w", shardID, err)
	}
	if !res.Exists {
		return nil
	}
	var l Lease
	if err := json.Unmarshal(res.Value, &l); err != nil {
		return fmt.Errorf("gctask: decode lease for shard %d: %w", shardID, err)
	}
	if l.TaskID != taskID {
		return nil
	}
	err = c.meta.Delete(ctx, key, metadata.WithDeleteExpectedVersion(res.Version))
	if err != nil && !errors.Is(err, metadata.ErrVersionMismatch) {
		return fmt.Errorf("gctask: release lease for shard %d: %w", shardID, err)
	}
	return nil
}
