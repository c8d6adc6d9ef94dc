package replication

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dray-io/blobgc/internal/logging"
	"github.com/hashicorp/raft"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Sink names.
const (
	SinkLog   = "log"
	SinkRaft  = "raft"
	SinkKafka = "kafka"
)

const cmdApplyBatch = "apply_batch"

// Command is the replicated log entry carrying one batch.
type Command struct {
	Type  string `json:"type"`
	Batch Batch  `json:"batch"`
}

// EncodeCommand wraps batch in an apply_batch command.
func EncodeCommand(batch Batch) ([]byte, error) {
	data, err := json.Marshal(Command{Type: cmdApplyBatch, Batch: batch})
	if err != nil {
		return nil, fmt.Errorf("marshal batch command: %w", err)
	}
	return data, nil
}

// LogSink reports batches to the structured log only.
type LogSink struct {
	logger *logging.Logger
}

func NewLogSink(logger *logging.Logger) *LogSink {
	return &LogSink{logger: logging.OrGlobal(logger)}
}

func (s *LogSink) Sync(_ context.Context, batch Batch) error {
	s.logger.Infof("metadata batch sync", map[string]any{
		"seq":                 batch.Seq,
		"batchId":             batch.ID,
		"entries":             batch.Count,
		"estimatedCompressed": batch.EstimatedCompressed,
		"codec":               batch.Codec,
	})
	return nil
}

// Applier is the subset of *raft.Raft used by RaftSink.
type Applier interface {
	Apply(cmd []byte, timeout time.Duration) raft.ApplyFuture
}

// RaftSink applies batches through a raft log, so every DeltaFSM in the
// cluster sees them in the same order.
type RaftSink struct {
	raft    Applier
	timeout time.Duration
}

func NewRaftSink(r Applier, timeout time.Duration) *RaftSink {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &RaftSink{raft: r, timeout: timeout}
}

func (s *RaftSink) Sync(ctx context.Context, batch Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := EncodeCommand(batch)
	if err != nil {
		return err
	}
	future := s.raft.Apply(data, s.timeout)
	if err := future.Error(); err != nil {
		return fmt.Errorf("raft apply: %w", err)
	}
	// The FSM reports its own failures through the response.
	if resp, ok := future.Response().(error); ok && resp != nil {
		return fmt.Errorf("fsm apply: %w", resp)
	}
	return nil
}

// Producer is the subset of *kgo.Client used by KafkaSink.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// KafkaSink publishes each batch as one record keyed by batch id.
type KafkaSink struct {
	producer Producer
	topic    string
}

func NewKafkaSink(p Producer, topic string) (*KafkaSink, error) {
	if p == nil {
		return nil, errors.New("replication: kafka producer required")
	}
	if topic == "" {
		return nil, errors.New("replication: kafka topic required")
	}
	return &KafkaSink{producer: p, topic: topic}, nil
}

// NewKafkaClient creates a franz-go client producing to topic.
func NewKafkaClient(brokers []string, topic, clientID string) (*kgo.Client, error) {
	if len(brokers) == 0 {
		return nil, errors.New("replication: kafka brokers required")
	}
	return kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ClientID(clientID),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
}

func (s *KafkaSink) Sync(ctx context.Context, batch Batch) error {
	data, err := EncodeCommand(batch)
	if err != nil {
		return err
	}
	rec := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(batch.ID),
		Value: data,
		Headers: []kgo.RecordHeader{
			{Key: "codec", Value: []byte(batch.Codec)},
		},
	}
	if err := s.producer.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("kafka produce: %w", err)
	}
	return nil
}
