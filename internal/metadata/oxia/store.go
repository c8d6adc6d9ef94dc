package oxia

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	oxiaclient "github.com/oxia-db/oxia/oxia"

	"github.com/dray-io/blobgc/internal/metadata"
)

// Config configures the Oxia metadata store.
type Config struct {
	// ServiceAddress is the Oxia service endpoint (e.g., "localhost:6648").
	ServiceAddress string

	// Namespace scopes every key (e.g., "blobgc/cluster-1").
	Namespace string

	// RequestTimeout bounds individual requests. Zero uses the client default.
	RequestTimeout time.Duration

	// SessionTimeout bounds the client session. Zero uses the client default.
	SessionTimeout time.Duration
}

func (c Config) validate() error {
	if c.ServiceAddress == "" {
		return errors.New("oxia: service address is required")
	}
	if c.Namespace == "" {
		return errors.New("oxia: namespace is required")
	}
	return nil
}

func (c Config) clientOptions() []oxiaclient.ClientOption {
	opts := []oxiaclient.ClientOption{
		oxiaclient.WithNamespace(c.Namespace),
	}
	if c.RequestTimeout > 0 {
		opts = append(opts, oxiaclient.WithRequestTimeout(c.RequestTimeout))
	}
	if c.SessionTimeout > 0 {
		opts = append(opts, oxiaclient.WithSessionTimeout(c.SessionTimeout))
	}
	return opts
}

// Store implements metadata.Store using Oxia.
type Store struct {
	client oxiaclient.SyncClient
	config Config

	mu     sync.RWMutex
	closed bool
}

var _ metadata.Store = (*Store)(nil)

// New connects to Oxia and returns a store.
func New(_ context.Context, cfg Config) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	client, err := oxiaclient.NewSyncClient(cfg.ServiceAddress, cfg.clientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("oxia: failed to create client: %w", err)
	}

	return &Store{client: client, config: cfg}, nil
}

// Oxia versions start at 0; metadata.Version reserves 0 for "absent".
func toMetadataVersion(oxiaVersion int64) metadata.Version {
	return metadata.Version(oxiaVersion + 1)
}

func toOxiaVersion(v metadata.Version) int64 {
	return int64(v - 1)
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return metadata.ErrStoreClosed
	}
	return nil
}

// Get retrieves a value by key. A missing key is not an error.
func (s *Store) Get(ctx context.Context, key string) (metadata.GetResult, error) {
	if err := s.checkOpen(); err != nil {
		return metadata.GetResult{}, err
	}

	_, value, version, err := s.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, oxiaclient.ErrKeyNotFound) {
			return metadata.GetResult{}, nil
		}
		return metadata.GetResult{}, fmt.Errorf("oxia: get %s: %w", key, err)
	}

	return metadata.GetResult{
		Value:   value,
		Version: toMetadataVersion(version.VersionId),
		Exists:  true,
	}, nil
}

// Put stores a value, honoring an expected-version precondition.
func (s *Store) Put(ctx context.Context, key string, value []byte, opts ...metadata.PutOption) (metadata.Version, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	var oxiaOpts []oxiaclient.PutOption
	if expected := metadata.ExtractExpectedVersion(opts); expected != nil {
		if *expected == 0 {
			oxiaOpts = append(oxiaOpts, oxiaclient.ExpectedRecordNotExists())
		} else {
			oxiaOpts = append(oxiaOpts, oxiaclient.ExpectedVersionId(toOxiaVersion(*expected)))
		}
	}

	_, version, err := s.client.Put(ctx, key, value, oxiaOpts...)
	if err != nil {
		if errors.Is(err, oxiaclient.ErrUnexpectedVersionId) {
			return 0, metadata.ErrVersionMismatch
		}
		return 0, fmt.Errorf("oxia: put %s: %w", key, err)
	}

	return toMetadataVersion(version.VersionId), nil
}

// Delete removes a key. Deleting a missing key succeeds.
func (s *Store) Delete(ctx context.Context, key string, opts ...metadata.DeleteOption) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	var oxiaOpts []oxiaclient.DeleteOption
	if expected := metadata.ExtractDeleteExpectedVersion(opts); expected != nil {
		oxiaOpts = append(oxiaOpts, oxiaclient.ExpectedVersionId(toOxiaVersion(*expected)))
	}

	err := s.client.Delete(ctx, key, oxiaOpts...)
	switch {
	case err == nil, errors.Is(err, oxiaclient.ErrKeyNotFound):
		return nil
	case errors.Is(err, oxiaclient.ErrUnexpectedVersionId):
		return metadata.ErrVersionMismatch
	default:
		return fmt.Errorf("oxia: delete %s: %w", key, err)
	}
}

// List returns up to limit keys under prefix in key order.
func (s *Store) List(ctx context.Context, prefix string, limit int) ([]metadata.KV, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	results := s.client.RangeScan(ctx, prefix, scanEnd(prefix))

	var kvs []metadata.KV
	for result := range results {
		if result.Err != nil {
			go drainRangeScan(results)
			return nil, fmt.Errorf("oxia: list %s: %w", prefix, result.Err)
		}

		kvs = append(kvs, metadata.KV{
			Key:     result.Key,
			Value:   result.Value,
			Version: toMetadataVersion(result.Version.VersionId),
		})

		if limit > 0 && len(kvs) >= limit {
			go drainRangeScan(results)
			break
		}
	}

	return kvs, nil
}

// Close releases the client.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

// scanEnd returns the exclusive end key for a prefix scan. Oxia sorts '/'
// hierarchically, so a prefix ending in '/' scans its direct children up to
// prefix+"/".
func scanEnd(prefix string) string {
	if len(prefix) > 0 && prefix[len(prefix)-1] == '/' {
		return prefix + "/"
	}
	return prefixEnd(prefix)
}

// prefixEnd returns the smallest key greater than every key with prefix.
func prefixEnd(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xFF {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}

func drainRangeScan(results <-chan oxiaclient.GetResult) {
	for range results {
	}
}
