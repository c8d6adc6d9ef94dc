// Package replication batches metadata deltas produced by completed GC tasks
// and hands them to a replication sink (log, raft or kafka).
package replication

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dray-io/blobgc/internal/blob"
	"github.com/dray-io/blobgc/internal/logging"
	"github.com/dray-io/blobgc/internal/metrics"
	"github.com/google/uuid"
)

const (
	DefaultBatchThreshold   = 8
	DefaultCompressionRatio = 5
)

// ErrSinkFailed wraps delivery failures reported by a Sink.
var ErrSinkFailed = errors.New("replication: sink failed")

// Batch is one size-triggered sync of buffered metadata deltas.
type Batch struct {
	Seq     uint64      `json:"seq"`
	ID      string      `json:"id"`
	Entries []blob.Meta `json:"-"`
	// Count is the number of deltas in the batch.
	Count int `json:"count"`
	// EstimatedCompressed is Count divided by the fixed compression ratio.
	EstimatedCompressed int    `json:"estimatedCompressed"`
	Codec               string `json:"codec"`
	// Payload is the JSON encoded entries compressed with Codec.
	Payload []byte `json:"payload"`
}

// DecodeEntries decodes Payload back into metadata deltas.
func (b Batch) DecodeEntries() ([]blob.Meta, error) {
	codec, err := NewCodec(b.Codec)
	if err != nil {
		return nil, err
	}
	raw, err := codec.Decode(b.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", b.Codec, err)
	}
	var metas []blob.Meta
	if err := json.Unmarshal(raw, &metas); err != nil {
		return nil, fmt.Errorf("unmarshal batch entries: %w", err)
	}
	return metas, nil
}

// Sink receives batches. Implementations must be safe for concurrent use.
type Sink interface {
	Sync(ctx context.Context, batch Batch) error
}

// BatcherConfig configures a Batcher.
type BatcherConfig struct {
	Threshold        int
	CompressionRatio int
	Codec            Codec
	Sink             Sink
	Logger           *logging.Logger
	Metrics          *metrics.ReplicationMetrics
}

// Stats are cumulative counters for synced batches.
type Stats struct {
	Batches             uint64
	Entries             uint64
	EstimatedCompressed uint64
	Failed              uint64
}

// Batcher buffers metadata deltas and syncs them once the buffer reaches the
// threshold. There is no time-based flush.
type Batcher struct {
	threshold int
	ratio     int
	codec     Codec
	sink      Sink
	logger    *logging.Logger
	metrics   *metrics.ReplicationMetrics

	mu      sync.Mutex
	pending []blob.Meta
	seq     uint64
	stats   Stats
}

// NewBatcher creates a Batcher. A nil Codec means no compression and a nil
// Sink logs batches.
func NewBatcher(cfg BatcherConfig) (*Batcher, error) {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultBatchThreshold
	}
	if cfg.CompressionRatio <= 0 {
		cfg.CompressionRatio = DefaultCompressionRatio
	}
	if cfg.Codec == nil {
		cfg.Codec = noneCodec{}
	}
	logger := logging.OrGlobal(cfg.Logger).With(map[string]any{"component": "replication"})
	if cfg.Sink == nil {
		cfg.Sink = NewLogSink(logger)
	}
	return &Batcher{
		threshold: cfg.Threshold,
		ratio:     cfg.CompressionRatio,
		codec:     cfg.Codec,
		sink:      cfg.Sink,
		logger:    logger,
		metrics:   cfg.Metrics,
		pending:   make([]blob.Meta, 0, cfg.Threshold),
	}, nil
}

// Enqueue appends a delta. When the buffer reaches the threshold the buffer
// is taken and cleared under the same lock, then delivered to the sink.
func (b *Batcher) Enqueue(ctx context.Context, meta blob.Meta) error {
	b.mu.Lock()
	b.pending = append(b.pending, meta)
	if len(b.pending) < b.threshold {
		n := len(b.pending)
		b.mu.Unlock()
		b.metrics.RecordPending(n)
		return nil
	}
	entries, seq := b.takeLocked()
	b.mu.Unlock()
	b.metrics.RecordPending(0)

	return b.deliver(ctx, seq, entries)
}

// Flush syncs whatever is buffered regardless of the threshold. It is a
// no-op on an empty buffer.
func (b *Batcher) Flush(ctx context.Context) error {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return nil
	}
	entries, seq := b.takeLocked()
	b.mu.Unlock()
	b.metrics.RecordPending(0)

	return b.deliver(ctx, seq, entries)
}

// Pending returns the number of buffered deltas.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Batcher) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// EstimateCompressed applies the fixed compression ratio to count.
func (b *Batcher) EstimateCompressed(count int) int {
	return count / b.ratio
}

func (b *Batcher) takeLocked() ([]blob.Meta, uint64) {
	entries := b.pending
	b.pending = make([]blob.Meta, 0, b.threshold)
	b.seq++
	return entries, b.seq
}

func (b *Batcher) deliver(ctx context.Context, seq uint64, entries []blob.Meta) error {
	batch, err := b.build(seq, entries)
	if err == nil {
		err = b.sink.Sync(ctx, batch)
		if err != nil {
			err = fmt.Errorf("%w: batch %d: %w", ErrSinkFailed, seq, err)
		}
	}

	b.mu.Lock()
	if err != nil {
		b.stats.Failed++
	} else {
		b.stats.Batches++
		b.stats.Entries += uint64(batch.Count)
		b.stats.EstimatedCompressed += uint64(batch.EstimatedCompressed)
	}
	b.mu.Unlock()

	b.metrics.RecordBatch(batch.Count, batch.EstimatedCompressed, len(batch.Payload), err)
	if err != nil {
		b.logger.Errorf("metadata batch sync failed", map[string]any{
			"seq":     seq,
			"entries": len(entries),
			"error":   err.Error(),
		})
		return err
	}
	b.logger.Debugf("metadata batch synced", map[string]any{
		"seq":                 seq,
		"batchId":             batch.ID,
		"entries":             batch.Count,
		"estimatedCompressed": batch.EstimatedCompressed,
		"payloadBytes":        len(batch.Payload),
	})
	return nil
}

func (b *Batcher) build(seq uint64, entries []blob.Meta) (Batch, error) {
	batch := Batch{
		Seq:                 seq,
		ID:                  uuid.NewString(),
		Entries:             entries,
		Count:               len(entries),
		EstimatedCompressed: b.EstimateCompressed(len(entries)),
		Codec:               b.codec.Name(),
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return batch, fmt.Errorf("marshal batch entries: %w", err)
	}
	batch.Payload, err = b.codec.Encode(raw)
	if err != nil {
		return batch, fmt.Errorf("encode %s payload: %w", b.codec.Name(), err)
	}
	return batch, nil
}
