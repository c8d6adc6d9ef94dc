package replication

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/raft"
)

// LocalRaft is a single-voter raft group backed by in-memory stores. It lets
// one blobgcd process drive DeltaFSM through the same apply path a replicated
// deployment would use.
type LocalRaft struct {
	*raft.Raft
	transport *raft.InmemTransport
}

// NewLocalRaft bootstraps a single-node cluster around fsm and waits until it
// is leader or ctx is done.
func NewLocalRaft(ctx context.Context, nodeID string, fsm raft.FSM) (*LocalRaft, error) {
	store := raft.NewInmemStore()
	snapshots := raft.NewInmemSnapshotStore()
	addr, transport := raft.NewInmemTransport(raft.ServerAddress(nodeID))

	cfg := raft.DefaultConfig()
	cfg.LocalID = raft.ServerID(nodeID)
	cfg.LogLevel = "WARN"
	cfg.HeartbeatTimeout = 50 * time.Millisecond
	cfg.ElectionTimeout = 50 * time.Millisecond
	cfg.LeaderLeaseTimeout = 50 * time.Millisecond
	cfg.CommitTimeout = 5 * time.Millisecond

	r, err := raft.NewRaft(cfg, fsm, store, store, snapshots, transport)
	if err != nil {
		return nil, fmt.Errorf("could not create raft instance for node %s: %w", nodeID, err)
	}
	boot := r.BootstrapCluster(raft.Configuration{
		Servers: []raft.Server{{ID: cfg.LocalID, Address: addr}},
	})
	if err := boot.Error(); err != nil {
		_ = r.Shutdown().Error()
		return nil, fmt.Errorf("could not bootstrap cluster for node %s: %w", nodeID, err)
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for r.State() != raft.Leader {
		select {
		case <-ctx.Done():
			_ = r.Shutdown().Error()
			return nil, fmt.Errorf("waiting for raft leadership: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	return &LocalRaft{Raft: r, transport: transport}, nil
}

func (l *LocalRaft) Close() error {
	err := l.Raft.Shutdown().Error()
	_ = l.transport.Close()
	return err
}
