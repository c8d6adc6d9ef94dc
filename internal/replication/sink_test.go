package replication

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dray-io/blobgc/internal/logging"
	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

type fakeFuture struct {
	err  error
	resp any
}

func (f fakeFuture) Error() error  { return f.err }
func (f fakeFuture) Index() uint64 { return 1 }
func (f fakeFuture) Response() any { return f.resp }

// fakeApplier applies commands straight to an FSM.
type fakeApplier struct {
	fsm   raft.FSM
	err   error
	index uint64
}

func (a *fakeApplier) Apply(cmd []byte, _ time.Duration) raft.ApplyFuture {
	if a.err != nil {
		return fakeFuture{err: a.err}
	}
	a.index++
	return fakeFuture{resp: a.fsm.Apply(&raft.Log{Index: a.index, Type: raft.LogCommand, Data: cmd})}
}

type fakeProducer struct {
	records []*kgo.Record
	err     error
}

func (p *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	var out kgo.ProduceResults
	for _, r := range rs {
		if p.err == nil {
			p.records = append(p.records, r)
		}
		out = append(out, kgo.ProduceResult{Record: r, Err: p.err})
	}
	return out
}

func TestRaftSinkAppliesToFSM(t *testing.T) {
	fsm := NewDeltaFSM(logging.Discard())
	sink := NewRaftSink(&fakeApplier{fsm: fsm}, time.Second)
	b, _ := newTestBatcher(t, sink, CodecSnappy)
	ctx := context.Background()

	for i := 0; i < 16; i++ {
		require.NoError(t, b.Enqueue(ctx, meta(i)))
	}
	assert.Equal(t, 16, fsm.Len())
	assert.Equal(t, uint64(2), fsm.LastSeq())
	assert.Equal(t, uint64(2), fsm.Applied())

	got, ok := fsm.Lookup("key-09")
	require.True(t, ok)
	assert.Equal(t, int64(9), got.Offset)
}

func TestRaftSinkErrors(t *testing.T) {
	sink := NewRaftSink(&fakeApplier{err: raft.ErrNotLeader}, 0)
	err := sink.Sync(context.Background(), Batch{Codec: CodecNone})
	assert.ErrorIs(t, err, raft.ErrNotLeader)

	// FSM-side failures come back through the response.
	sink = NewRaftSink(&fakeApplier{fsm: NewDeltaFSM(logging.Discard())}, 0)
	err = sink.Sync(context.Background(), Batch{Codec: "bogus"})
	assert.ErrorIs(t, err, ErrUnknownCodec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sink.Sync(ctx, Batch{}), context.Canceled)
}

func TestKafkaSink(t *testing.T) {
	p := &fakeProducer{}
	sink, err := NewKafkaSink(p, "deltas")
	require.NoError(t, err)

	batch := Batch{Seq: 3, ID: "batch-1", Count: 8, EstimatedCompressed: 1, Codec: CodecNone, Payload: []byte("[]")}
	require.NoError(t, sink.Sync(context.Background(), batch))
	require.Len(t, p.records, 1)

	rec := p.records[0]
	assert.Equal(t, "deltas", rec.Topic)
	assert.Equal(t, []byte("batch-1"), rec.Key)
	var cmd Command
	require.NoError(t, json.Unmarshal(rec.Value, &cmd))
	assert.Equal(t, cmdApplyBatch, cmd.Type)
	assert.Equal(t, uint64(3), cmd.Batch.Seq)
	assert.Equal(t, 1, cmd.Batch.EstimatedCompressed)

	p.err = errors.New("not enough replicas")
	assert.Error(t, sink.Sync(context.Background(), batch))
}

func TestNewKafkaSinkValidation(t *testing.T) {
	_, err := NewKafkaSink(nil, "t")
	assert.Error(t, err)
	_, err = NewKafkaSink(&fakeProducer{}, "")
	assert.Error(t, err)
	_, err = NewKafkaClient(nil, "t", "blobgcd")
	assert.Error(t, err)
}

func TestLocalRaftAppliesBatches(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a raft node")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	fsm := NewDeltaFSM(logging.Discard())
	r, err := NewLocalRaft(ctx, "node-1", fsm)
	require.NoError(t, err)
	defer r.Close()

	b, _ := newTestBatcher(t, NewRaftSink(r, 2*time.Second), CodecLZ4)
	for i := 0; i < 8; i++ {
		require.NoError(t, b.Enqueue(ctx, meta(i)))
	}
	assert.Equal(t, 8, fsm.Len())
	assert.Equal(t, uint64(1), fsm.LastSeq())
}
