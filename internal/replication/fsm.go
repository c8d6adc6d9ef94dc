package replication

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/dray-io/blobgc/internal/blob"
	"github.com/dray-io/blobgc/internal/logging"
	"github.com/hashicorp/raft"
)

// DeltaFSM is a raft.FSM that applies metadata batches to an in-memory
// key -> record index.
type DeltaFSM struct {
	logger *logging.Logger

	mu      sync.RWMutex
	index   map[string]blob.Meta
	lastSeq uint64
	applied uint64
}

var _ raft.FSM = (*DeltaFSM)(nil)

func NewDeltaFSM(logger *logging.Logger) *DeltaFSM {
	return &DeltaFSM{
		logger: logging.OrGlobal(logger).With(map[string]any{"component": "delta-fsm"}),
		index:  make(map[string]blob.Meta),
	}
}

// Apply applies an apply_batch command. Failures are returned as the
// response so RaftSink can surface them.
func (f *DeltaFSM) Apply(l *raft.Log) any {
	if l.Type != raft.LogCommand {
		return nil
	}
	var cmd Command
	if err := json.Unmarshal(l.Data, &cmd); err != nil {
		f.logger.Errorf("could not unmarshal raft command", map[string]any{"index": l.Index, "error": err.Error()})
		return fmt.Errorf("unmarshal raft command: %w", err)
	}
	if cmd.Type != cmdApplyBatch {
		return fmt.Errorf("unknown raft command %q", cmd.Type)
	}
	entries, err := cmd.Batch.DecodeEntries()
	if err != nil {
		f.logger.Errorf("could not decode batch", map[string]any{"index": l.Index, "seq": cmd.Batch.Seq, "error": err.Error()})
		return err
	}

	f.mu.Lock()
	for _, m := range entries {
		f.index[m.Key] = m
	}
	if cmd.Batch.Seq > f.lastSeq {
		f.lastSeq = cmd.Batch.Seq
	}
	f.applied++
	f.mu.Unlock()

	f.logger.Debugf("fsm applied batch", map[string]any{"index": l.Index, "seq": cmd.Batch.Seq, "entries": len(entries)})
	return nil
}

// Lookup returns the latest record for key.
func (f *DeltaFSM) Lookup(key string) (blob.Meta, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	m, ok := f.index[key]
	return m, ok
}

func (f *DeltaFSM) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.index)
}

// LastSeq returns the highest batch sequence applied.
func (f *DeltaFSM) LastSeq() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lastSeq
}

// Applied returns the number of batches applied since creation or restore.
func (f *DeltaFSM) Applied() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.applied
}

func (f *DeltaFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entries := make([]blob.Meta, 0, len(f.index))
	for _, m := range f.index {
		entries = append(entries, m)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return &deltaSnapshot{lastSeq: f.lastSeq, entries: entries}, nil
}

// Restore replaces the index with a snapshot written by Persist.
func (f *DeltaFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	dec := json.NewDecoder(rc)
	var hdr snapshotHeader
	if err := dec.Decode(&hdr); err != nil {
		return fmt.Errorf("decode snapshot header: %w", err)
	}
	index := make(map[string]blob.Meta, hdr.Entries)
	for {
		var m blob.Meta
		if err := dec.Decode(&m); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("decode snapshot entry: %w", err)
		}
		index[m.Key] = m
	}

	f.mu.Lock()
	f.index = index
	f.lastSeq = hdr.LastSeq
	f.applied = 0
	f.mu.Unlock()

	f.logger.Infof("fsm restored from snapshot", map[string]any{"entries": len(index), "lastSeq": hdr.LastSeq})
	return nil
}

type snapshotHeader struct {
	LastSeq uint64 `json:"lastSeq"`
	Entries int    `json:"entries"`
}

type deltaSnapshot struct {
	lastSeq uint64
	entries []blob.Meta
}

// Persist writes a header line followed by one JSON line per record.
func (s *deltaSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		enc := json.NewEncoder(sink)
		if err := enc.Encode(snapshotHeader{LastSeq: s.lastSeq, Entries: len(s.entries)}); err != nil {
			return err
		}
		for _, m := range s.entries {
			if err := enc.Encode(m); err != nil {
				return err
			}
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
		return fmt.Errorf("persist delta snapshot: %w", err)
	}
	return nil
}

func (s *deltaSnapshot) Release() {}
