// Package oplogsvc maintains the per-worker oplogs on top of an
// IndexedStorage backend.
//
// Every worker has one append-only sequence of encoded entries stored under
// (stores.OpLog(), "<component id>:<worker name>") with ids 1..N. The
// Service creates, opens, reads and deletes these sequences; an open Oplog
// handle buffers appended entries and commits them in order, so the ids a
// worker writes are always contiguous. Appending an id that already exists
// fails, which is how two concurrent writers of one worker are detected.
//
// Payloads of function invocations are encoded separately from the entries.
// Payloads up to Config.MaxPayloadSize bytes are kept inline; larger ones are
// uploaded to blob storage and referenced by id and MD5 hash.
package oplogsvc
