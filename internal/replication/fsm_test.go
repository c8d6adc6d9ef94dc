package replication

import (
	"bytes"
	"io"
	"testing"

	"github.com/dray-io/blobgc/internal/blob"
	"github.com/dray-io/blobgc/internal/logging"
	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSnapshotSink struct {
	bytes.Buffer
	closed    bool
	cancelled bool
}

func (s *fakeSnapshotSink) ID() string    { return "snap-1" }
func (s *fakeSnapshotSink) Cancel() error { s.cancelled = true; return nil }
func (s *fakeSnapshotSink) Close() error  { s.closed = true; return nil }

func applyBatch(t *testing.T, fsm *DeltaFSM, seq uint64, metas ...blob.Meta) {
	t.Helper()
	b := &Batcher{codec: noneCodec{}, ratio: 5}
	batch, err := b.build(seq, metas)
	require.NoError(t, err)
	data, err := EncodeCommand(batch)
	require.NoError(t, err)
	resp := fsm.Apply(&raft.Log{Index: seq, Type: raft.LogCommand, Data: data})
	require.Nil(t, resp)
}

func TestDeltaFSMApply(t *testing.T) {
	fsm := NewDeltaFSM(logging.Discard())
	applyBatch(t, fsm, 1, meta(1), meta(2))
	applyBatch(t, fsm, 2, blob.Meta{Key: "key-01", Offset: 99, Validated: true})

	assert.Equal(t, 2, fsm.Len())
	got, ok := fsm.Lookup("key-01")
	require.True(t, ok)
	assert.Equal(t, int64(99), got.Offset)
	assert.True(t, got.Validated)
	assert.Equal(t, uint64(2), fsm.LastSeq())

	assert.Nil(t, fsm.Apply(&raft.Log{Type: raft.LogNoop}))
	assert.Error(t, fsm.Apply(&raft.Log{Type: raft.LogCommand, Data: []byte("{")}).(error))
	assert.Error(t, fsm.Apply(&raft.Log{Type: raft.LogCommand, Data: []byte(`{"type":"drop"}`)}).(error))
}

func TestDeltaFSMSnapshotRestore(t *testing.T) {
	src := NewDeltaFSM(logging.Discard())
	applyBatch(t, src, 4, meta(3), meta(1), meta(2))

	snap, err := src.Snapshot()
	require.NoError(t, err)
	sink := &fakeSnapshotSink{}
	require.NoError(t, snap.Persist(sink))
	snap.Release()
	assert.True(t, sink.closed)
	assert.False(t, sink.cancelled)

	lines := bytes.Count(sink.Bytes(), []byte("\n"))
	assert.Equal(t, 4, lines, "header plus one line per record")

	dst := NewDeltaFSM(logging.Discard())
	applyBatch(t, dst, 1, blob.Meta{Key: "stale"})
	require.NoError(t, dst.Restore(io.NopCloser(bytes.NewReader(sink.Bytes()))))

	assert.Equal(t, 3, dst.Len())
	assert.Equal(t, uint64(4), dst.LastSeq())
	_, ok := dst.Lookup("stale")
	assert.False(t, ok)
	got, ok := dst.Lookup("key-02")
	require.True(t, ok)
	assert.Equal(t, int64(2), got.Offset)
}

func TestDeltaFSMRestoreRejectsGarbage(t *testing.T) {
	fsm := NewDeltaFSM(logging.Discard())
	err := fsm.Restore(io.NopCloser(bytes.NewReader([]byte("not json"))))
	assert.Error(t, err)
}
