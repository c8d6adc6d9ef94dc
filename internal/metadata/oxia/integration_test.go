package oxia

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dray-io/blobgc/internal/metadata"
	"github.com/dray-io/blobgc/internal/metadata/keys"
)

// newIntegrationStore connects to an embedded Oxia server, or to the one
// named by OXIA_SERVICE_ADDRESS. Each test gets its own key prefix.
func newIntegrationStore(t *testing.T) (*Store, string) {
	t.Helper()
	if testing.Short() {
		t.Skip("starts an oxia server")
	}
	addr := startTestServer(t).addr

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := New(ctx, Config{
		ServiceAddress: addr,
		Namespace:      "default",
		RequestTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store, fmt.Sprintf("/blobgc-it/%s", uuid.NewString())
}

func TestIntegrationLeaseCAS(t *testing.T) {
	store, root := newIntegrationStore(t)
	ctx := context.Background()
	key := root + keys.ShardLeaseKeyPath(3)

	v, err := store.Put(ctx, key, []byte("task-a"), metadata.WithExpectNotExists())
	if err != nil {
		t.Fatalf("first lease: %v", err)
	}
	if _, err := store.Put(ctx, key, []byte("task-b"), metadata.WithExpectNotExists()); !errors.Is(err, metadata.ErrVersionMismatch) {
		t.Fatalf("second lease error = %v, want ErrVersionMismatch", err)
	}

	res, err := store.Get(ctx, key)
	if err != nil || !res.Exists || string(res.Value) != "task-a" || res.Version != v {
		t.Fatalf("Get() = %+v, %v", res, err)
	}

	if err := store.Delete(ctx, key, metadata.WithDeleteExpectedVersion(v)); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("idempotent Delete() error = %v", err)
	}
}

func TestIntegrationList(t *testing.T) {
	store, root := newIntegrationStore(t)
	ctx := context.Background()

	for _, shard := range []int{2, 1, 3} {
		if _, err := store.Put(ctx, root+keys.CheckpointKeyPath(shard), []byte("{}")); err != nil {
			t.Fatal(err)
		}
	}

	kvs, err := store.List(ctx, root+keys.CheckpointsPrefix+"/", 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(kvs) != 3 {
		t.Fatalf("List() len = %d, want 3", len(kvs))
	}

	kvs, err = store.List(ctx, root+keys.CheckpointsPrefix+"/", 2)
	if err != nil || len(kvs) != 2 {
		t.Fatalf("limited List() = %d, %v", len(kvs), err)
	}
}

func TestIntegrationVersionedPut(t *testing.T) {
	store, root := newIntegrationStore(t)
	ctx := context.Background()
	key := root + keys.CheckpointKeyPath(7)

	res, err := store.Get(ctx, key)
	if err != nil || res.Exists {
		t.Fatalf("Get() on missing key = %+v, %v", res, err)
	}

	v1, err := store.Put(ctx, key, []byte("offset-0"))
	if err != nil {
		t.Fatal(err)
	}
	v2, err := store.Put(ctx, key, []byte("offset-1"), metadata.WithExpectedVersion(v1))
	if err != nil {
		t.Fatalf("Put() at current version: %v", err)
	}
	if v2 == v1 {
		t.Fatalf("version did not advance: %d", v2)
	}
	if _, err := store.Put(ctx, key, []byte("stale"), metadata.WithExpectedVersion(v1)); !errors.Is(err, metadata.ErrVersionMismatch) {
		t.Fatalf("stale Put() error = %v, want ErrVersionMismatch", err)
	}
	if err := store.Delete(ctx, key, metadata.WithDeleteExpectedVersion(v1)); !errors.Is(err, metadata.ErrVersionMismatch) {
		t.Fatalf("stale Delete() error = %v, want ErrVersionMismatch", err)
	}

	res, err = store.Get(ctx, key)
	if err != nil || string(res.Value) != "offset-1" || res.Version != v2 {
		t.Fatalf("Get() = %+v, %v", res, err)
	}
}

func TestIntegrationClosedStore(t *testing.T) {
	store, root := newIntegrationStore(t)
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(context.Background(), root+"/x"); !errors.Is(err, metadata.ErrStoreClosed) {
		t.Fatalf("Get() after Close = %v, want ErrStoreClosed", err)
	}
	if _, err := store.Put(context.Background(), root+"/x", nil); !errors.Is(err, metadata.ErrStoreClosed) {
		t.Fatalf("Put() after Close = %v, want ErrStoreClosed", err)
	}
}
