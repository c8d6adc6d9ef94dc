// Package metadata defines the versioned key-value contract the control
// plane uses to persist checkpoints and shard leases. The production
// backend is Oxia (package oxia); MemStore backs tests and single-process
// runs.
package metadata

import (
	"context"
	"errors"
)

// Common errors returned by Store operations.
var (
	// ErrKeyNotFound is returned when a key does not exist.
	ErrKeyNotFound = errors.New("metadata: key not found")

	// ErrVersionMismatch is returned when a compare-and-set precondition
	// does not hold.
	ErrVersionMismatch = errors.New("metadata: version mismatch")

	// ErrStoreClosed is returned when operations are attempted on a closed store.
	ErrStoreClosed = errors.New("metadata: store closed")
)

// Version is a key's version. Zero means the key has never been written;
// versions assigned by a store start at 1.
type Version int64

// KV is a key-value pair with its version.
type KV struct {
	Key     string
	Value   []byte
	Version Version
}

// GetResult is the result of a Get operation.
type GetResult struct {
	Value   []byte
	Version Version
	Exists  bool
}

// PutOption configures a Put operation.
type PutOption func(*putOptions)

type putOptions struct {
	expectedVersion *Version
}

// WithExpectedVersion makes Put fail with ErrVersionMismatch unless the
// key's current version is v. Version 0 requires that the key not exist.
func WithExpectedVersion(v Version) PutOption {
	return func(o *putOptions) {
		o.expectedVersion = &v
	}
}

// WithExpectNotExists is WithExpectedVersion(0).
func WithExpectNotExists() PutOption {
	return WithExpectedVersion(0)
}

// ExtractExpectedVersion returns the expected version in opts, or nil.
func ExtractExpectedVersion(opts []PutOption) *Version {
	var o putOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o.expectedVersion
}

// DeleteOption configures a Delete operation.
type DeleteOption func(*deleteOptions)

type deleteOptions struct {
	expectedVersion *Version
}

// WithDeleteExpectedVersion makes Delete fail with ErrVersionMismatch
// unless the key's current version is v.
func WithDeleteExpectedVersion(v Version) DeleteOption {
	return func(o *deleteOptions) {
		o.expectedVersion = &v
	}
}

// ExtractDeleteExpectedVersion returns the expected version in opts, or nil.
func ExtractDeleteExpectedVersion(opts []DeleteOption) *Version {
	var o deleteOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o.expectedVersion
}

// Store is a versioned key-value store with compare-and-set.
//
// All operations accept a context for cancellation and timeouts.
type Store interface {
	// Get retrieves a value. A missing key is reported through
	// GetResult.Exists, not as an error.
	Get(ctx context.Context, key string) (GetResult, error)

	// Put stores a value and returns its new version.
	Put(ctx context.Context, key string, value []byte, opts ...PutOption) (Version, error)

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string, opts ...DeleteOption) error

	// List returns keys with the given prefix in lexicographic order.
	// A non-positive limit returns every match.
	List(ctx context.Context, prefix string, limit int) ([]KV, error)

	// Close releases resources. Later calls return ErrStoreClosed.
	Close() error
}
