// Package oxia implements metadata.Store on top of Oxia.
//
// Checkpoints and shard leases are small, versioned records, which is what
// Oxia is built for. Each deployment uses its own namespace so several GC
// clusters can share an Oxia instance:
//
//	store, err := oxia.New(ctx, oxia.Config{
//	    ServiceAddress: "localhost:6648",
//	    Namespace:      "blobgc/cluster-1",
//	})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	_, err = store.Put(ctx, keys.ShardLeaseKeyPath(7), taskID, metadata.WithExpectNotExists())
package oxia
