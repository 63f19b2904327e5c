// Package oplog defines the operation log model of a durable worker.
//
// Every non-deterministic effect a worker performs is recorded as an Entry at
// a 1-based Index. Entries are a closed set of variants (Create,
// ImportedFunctionInvoked, Log, Jump, ...) identified by a Kind. Some kinds are
// hints: informational records that replay skips over instead of matching
// against re-executed code.
//
// The package also provides the deleted region bookkeeping used to jump over
// abandoned history, the inline/external Payload representation and a
// deterministic CBOR codec for persisting entries.
package oplog
