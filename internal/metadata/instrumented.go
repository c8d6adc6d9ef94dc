package metadata

import (
	"context"
	"time"
)

// MetricsRecorder records per-operation latency and outcome.
// It keeps this package independent of the metrics package.
type MetricsRecorder interface {
	RecordOp(op string, durationSeconds float64, success bool)
}

// InstrumentedStore wraps a Store and records metrics for each operation.
type InstrumentedStore struct {
	store   Store
	metrics MetricsRecorder
}

var _ Store = (*InstrumentedStore)(nil)

// NewInstrumentedStore wraps store. A nil recorder passes calls through.
func NewInstrumentedStore(store Store, recorder MetricsRecorder) *InstrumentedStore {
	return &InstrumentedStore{store: store, metrics: recorder}
}

func (s *InstrumentedStore) record(op string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.RecordOp(op, time.Since(start).Seconds(), err == nil)
	}
}

func (s *InstrumentedStore) Get(ctx context.Context, key string) (GetResult, error) {
	start := time.Now()
	res, err := s.store.Get(ctx, key)
	s.record("get", start, err)
	return res, err
}

func (s *InstrumentedStore) Put(ctx context.Context, key string, value []byte, opts ...PutOption) (Version, error) {
	start := time.Now()
	v, err := s.store.Put(ctx, key, value, opts...)
	s.record("put", start, err)
	return v, err
}

func (s *InstrumentedStore) Delete(ctx context.Context, key string, opts ...DeleteOption) error {
	start := time.Now()
	err := s.store.Delete(ctx, key, opts...)
	s.record("delete", start, err)
	return err
}

func (s *InstrumentedStore) List(ctx context.Context, prefix string, limit int) ([]KV, error) {
	start := time.Now()
	kvs, err := s.store.List(ctx, prefix, limit)
	s.record("list", start, err)
	return kvs, err
}

func (s *InstrumentedStore) Close() error {
	return s.store.Close()
}

// Unwrap returns the underlying store.
func (s *InstrumentedStore) Unwrap() Store {
	return s.store
}
