// Package stores provides the persistence layer of the worker executor.
//
// IndexedStorage is an append-only, per-key store of byte values addressed by
// strictly increasing numeric ids. Keys live in namespaces (oplogs, compressed
// oplog layers, promises, schedules, user defined buckets). Three backends are
// provided: an in-memory map for tests and single process use, Redis streams
// for replicated deployments, and SQLite with embedded migrations for durable
// single node deployments.
//
// BlobStorage holds payloads too large to be stored inline in an oplog entry.
package stores
