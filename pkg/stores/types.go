package stores

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDuplicateID is returned when an appended id is not greater than the
	// last id stored under the key.
	ErrDuplicateID = errors.New("duplicate id")

	// ErrInvalidID is returned for the reserved id 0.
	ErrInvalidID = errors.New("invalid id")

	// ErrNotInitialized is returned when a backend is used before Init.
	ErrNotInitialized = errors.New("storage not initialized")
)

// Record is a single value stored under an id.
type Record struct {
	ID    uint64
	Value []byte
}

type namespaceKind uint8

const (
	namespaceOpLog namespaceKind = iota
	namespaceCompressedOpLog
	namespacePromise
	namespaceSchedule
	namespaceUserDefined
)

// Namespace partitions the key space of an IndexedStorage.
type Namespace struct {
	kind   namespaceKind
	level  uint8
	bucket string
}

// OpLog is the namespace of primary worker oplogs.
func OpLog() Namespace { return Namespace{kind: namespaceOpLog} }

// CompressedOpLog is the namespace of an archived oplog layer.
func CompressedOpLog(level uint8) Namespace {
	return Namespace{kind: namespaceCompressedOpLog, level: level}
}

// Promise is the namespace of promise completions.
func Promise() Namespace { return Namespace{kind: namespacePromise} }

// Schedule is the namespace of scheduled actions.
func Schedule() Namespace { return Namespace{kind: namespaceSchedule} }

// UserDefined is a namespace owned by a worker-defined bucket.
func UserDefined(bucket string) Namespace {
	return Namespace{kind: namespaceUserDefined, bucket: bucket}
}

// String renders the namespace as used in composite storage keys.
func (n Namespace) String() string {
	switch n.kind {
	case namespaceCompressedOpLog:
		return fmt.Sprintf("compressed-oplog-%d", n.level)
	case namespacePromise:
		return "promise"
	case namespaceSchedule:
		return "schedule"
	case namespaceUserDefined:
		return "user-defined-" + n.bucket
	default:
		return "oplog"
	}
}

// compositeKey joins a namespace and a key.
func compositeKey(ns Namespace, key string) string {
	return ns.String() + ":" + key
}

// IndexedStorage is an append-only store of records keyed by (namespace, key)
// and ordered by id. Implementations are safe for concurrent use.
type IndexedStorage interface {
	// NumberOfReplicas returns how many copies of the data the backend keeps.
	NumberOfReplicas(ctx context.Context) (uint8, error)

	// WaitForReplicas blocks until replicas copies acknowledged all previous
	// writes or timeout expires, and returns the number achieved. A timeout is
	// not an error.
	WaitForReplicas(ctx context.Context, replicas uint8, timeout time.Duration) (uint8, error)

	Exists(ctx context.Context, ns Namespace, key string) (bool, error)

	// Scan lists keys of ns matching pattern, which is either "*" or a prefix
	// followed by "*". The returned cursor is 0 once the scan is exhausted.
	Scan(ctx context.Context, ns Namespace, pattern string, cursor uint64, count uint64) (uint64, []string, error)

	// Append stores value under id. The id must be greater than every id
	// already stored under the key, otherwise ErrDuplicateID is returned.
	Append(ctx context.Context, ns Namespace, key string, id uint64, value []byte) error

	Length(ctx context.Context, ns Namespace, key string) (uint64, error)

	// Delete removes the key and all of its records. Deleting a missing key
	// succeeds.
	Delete(ctx context.Context, ns Namespace, key string) error

	// Read returns the records with startID <= id <= endID in ascending order.
	Read(ctx context.Context, ns Namespace, key string, startID, endID uint64) ([]Record, error)

	First(ctx context.Context, ns Namespace, key string) (Record, bool, error)
	Last(ctx context.Context, ns Namespace, key string) (Record, bool, error)

	// Closest returns the record with the smallest id >= id.
	Closest(ctx context.Context, ns Namespace, key string, id uint64) (Record, bool, error)

	// DropPrefix removes every record with id <= lastDroppedID.
	DropPrefix(ctx context.Context, ns Namespace, key string, lastDroppedID uint64) error

	HealthCheck(ctx context.Context) error
	Close() error
}

// scanPrefix validates a scan pattern and returns the literal prefix it
// matches, or the whole key when exact is true.
func scanPrefix(pattern string) (prefix string, exact bool, err error) {
	if pattern == "" {
		return "", false, fmt.Errorf("empty scan pattern")
	}
	for i, r := range pattern {
		if r == '*' {
			if i != len(pattern)-1 {
				return "", false, fmt.Errorf("unsupported scan pattern %q: only a trailing '*' is allowed", pattern)
			}
			return pattern[:i], false, nil
		}
	}
	return pattern, true, nil
}
