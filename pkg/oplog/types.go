package oplog

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Timestamp is a wall-clock instant in milliseconds since the Unix epoch.
type Timestamp int64

// Now returns the current time as a Timestamp.
func Now() Timestamp {
	return Timestamp(time.Now().UnixMilli())
}

// TimestampOf converts t to a Timestamp.
func TimestampOf(t time.Time) Timestamp {
	return Timestamp(t.UnixMilli())
}

// Time converts ts back to a UTC time.Time.
func (ts Timestamp) Time() time.Time {
	return time.UnixMilli(int64(ts)).UTC()
}

// Rounded truncates ts to whole seconds.
func (ts Timestamp) Rounded() Timestamp {
	return ts - ts%1000
}

func (ts Timestamp) String() string {
	return ts.Time().Format(time.RFC3339Nano)
}

// ComponentVersion identifies a revision of a component.
type ComponentVersion uint64

// AccountID identifies the owner of a worker.
type AccountID string

// PluginInstallationID identifies an installed plugin.
type PluginInstallationID = uuid.UUID

// WorkerID addresses a single durable worker.
type WorkerID struct {
	ComponentID uuid.UUID `cbor:"1,keyasint"`
	WorkerName  string    `cbor:"2,keyasint"`
}

// String renders the storage key of the worker, "<component id>:<worker name>".
func (w WorkerID) String() string {
	return w.ComponentID.String() + ":" + w.WorkerName
}

// ParseWorkerID parses the output of WorkerID.String.
func ParseWorkerID(s string) (WorkerID, error) {
	componentID, name, ok := strings.Cut(s, ":")
	if !ok {
		return WorkerID{}, fmt.Errorf("invalid worker id %q: missing separator", s)
	}
	id, err := uuid.Parse(componentID)
	if err != nil {
		return WorkerID{}, fmt.Errorf("invalid worker id %q: %w", s, err)
	}
	return WorkerID{ComponentID: id, WorkerName: name}, nil
}

// IdempotencyKey deduplicates invocations of exported functions.
type IdempotencyKey string

// NewIdempotencyKey returns a fresh random key.
func NewIdempotencyKey() IdempotencyKey {
	return IdempotencyKey(uuid.NewString())
}

// Value is a dynamically typed function argument or result as decoded from
// CBOR. Integers decode as int64 or uint64, byte strings as []byte.
type Value = any

// LogLevel is the severity of a worker log line.
type LogLevel uint8

const (
	LogLevelStdout LogLevel = iota
	LogLevelStderr
	LogLevelTrace
	LogLevelDebug
	LogLevelInfo
	LogLevelWarn
	LogLevelError
	LogLevelCritical
)

var logLevelNames = [...]string{"stdout", "stderr", "trace", "debug", "info", "warn", "error", "critical"}

func (l LogLevel) String() string {
	if int(l) < len(logLevelNames) {
		return logLevelNames[l]
	}
	return fmt.Sprintf("level(%d)", uint8(l))
}

// WorkerErrorKind classifies a worker failure.
type WorkerErrorKind uint8

const (
	WorkerErrorUnknown WorkerErrorKind = iota
	WorkerErrorInvalidRequest
	WorkerErrorStackOverflow
	WorkerErrorOutOfMemory
)

// WorkerError is the failure recorded by an Error entry.
type WorkerError struct {
	Kind    WorkerErrorKind `cbor:"1,keyasint"`
	Details string          `cbor:"2,keyasint,omitempty"`
}

func (e WorkerError) String() string {
	switch e.Kind {
	case WorkerErrorInvalidRequest:
		return "invalid request: " + e.Details
	case WorkerErrorStackOverflow:
		return "stack overflow"
	case WorkerErrorOutOfMemory:
		return "out of memory"
	default:
		return "unknown error: " + e.Details
	}
}

// FunctionKind describes the side effects of a host function.
type FunctionKind uint8

const (
	ReadLocal FunctionKind = iota
	WriteLocal
	ReadRemote
	WriteRemote
	WriteRemoteBatched
)

var functionKindNames = [...]string{"read-local", "write-local", "read-remote", "write-remote", "write-remote-batched"}

func (k FunctionKind) String() string {
	if int(k) < len(functionKindNames) {
		return functionKindNames[k]
	}
	return fmt.Sprintf("function-kind(%d)", uint8(k))
}

// WrappedFunctionType is the side-effect class of an imported function call.
// BatchBegin is only meaningful for WriteRemoteBatched and points at the
// BeginRemoteWrite entry that opened the batch.
type WrappedFunctionType struct {
	Kind       FunctionKind `cbor:"1,keyasint"`
	BatchBegin *Index       `cbor:"2,keyasint,omitempty"`
}

// Batched returns a WriteRemoteBatched type bound to the given begin index.
func Batched(begin *Index) WrappedFunctionType {
	return WrappedFunctionType{Kind: WriteRemoteBatched, BatchBegin: begin}
}

func (t WrappedFunctionType) String() string {
	if t.Kind == WriteRemoteBatched && t.BatchBegin != nil {
		return fmt.Sprintf("%s(%d)", t.Kind, *t.BatchBegin)
	}
	return t.Kind.String()
}

// RetryConfig configures how a failed worker is retried.
type RetryConfig struct {
	MaxAttempts     uint32        `cbor:"1,keyasint"`
	MinDelay        time.Duration `cbor:"2,keyasint"`
	MaxDelay        time.Duration `cbor:"3,keyasint"`
	Multiplier      float64       `cbor:"4,keyasint"`
	MaxJitterFactor *float64      `cbor:"5,keyasint,omitempty"`
}

// DefaultRetryConfig mirrors the executor's default retry policy.
func DefaultRetryConfig() RetryConfig {
	jitter := 0.15
	return RetryConfig{
		MaxAttempts:     3,
		MinDelay:        100 * time.Millisecond,
		MaxDelay:        time.Second,
		Multiplier:      3,
		MaxJitterFactor: &jitter,
	}
}

// UpdateKind selects how a component update is applied.
type UpdateKind uint8

const (
	UpdateAutomatic UpdateKind = iota
	UpdateSnapshotBased
)

// UpdateDescription describes a pending component update.
type UpdateDescription struct {
	Kind          UpdateKind       `cbor:"1,keyasint"`
	TargetVersion ComponentVersion `cbor:"2,keyasint"`
	Payload       *Payload         `cbor:"3,keyasint,omitempty"`
}

// InvocationKind distinguishes enqueued invocations.
type InvocationKind uint8

const (
	InvocationExportedFunction InvocationKind = iota
	InvocationManualUpdate
)

// WorkerInvocation is an invocation queued while the worker was busy.
type WorkerInvocation struct {
	Kind           InvocationKind   `cbor:"1,keyasint"`
	IdempotencyKey IdempotencyKey   `cbor:"2,keyasint,omitempty"`
	FunctionName   string           `cbor:"3,keyasint,omitempty"`
	Input          []Value          `cbor:"4,keyasint,omitempty"`
	TargetVersion  ComponentVersion `cbor:"5,keyasint,omitempty"`
}

// IndexedResourceKey names a resource created through an indexed constructor.
type IndexedResourceKey struct {
	ResourceName   string   `cbor:"1,keyasint"`
	ResourceParams []string `cbor:"2,keyasint"`
}

// ResourceID identifies a live resource handle of a worker.
type ResourceID uint64
