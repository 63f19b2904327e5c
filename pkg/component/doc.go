// Package component compiles worker components with wazero and keeps the
// compiled modules in a bounded LRU cache.
//
// Binaries are fetched through a Loader, usually a BlobLoader over the
// executor's blob storage. Entries are evicted when the cache exceeds its
// capacity and, when Run is active, after staying unused for TimeToIdle.
//
//	loader := component.NewBlobLoader(blobs)
//	cache := component.NewCache(ctx, loader, component.DefaultConfig())
//	defer cache.Close(ctx)
//
//	module, err := cache.Get(ctx, component.Key{ComponentID: id, Version: 3})
package component
