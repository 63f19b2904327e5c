package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/openfroyo/worker-executor/pkg/oplogsvc"
	"github.com/openfroyo/worker-executor/pkg/replay"
	"github.com/openfroyo/worker-executor/pkg/stores"
)

// ErrorClass tells the worker lifecycle how to recover from an error.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on retry.
	// Examples: storage timeouts, a lost connection to Redis.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassConflict indicates that another executor is writing the same oplog.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassCorrupt indicates that the oplog cannot be replayed: an entry
	// does not decode, is missing or is not the one the replayed code expects.
	ErrorClassCorrupt ErrorClass = "corrupt"

	// ErrorClassPermanent indicates a non-recoverable error of the worker itself.
	ErrorClassPermanent ErrorClass = "permanent"
)

// ExecutorError is a classified error with worker context.
// nolint:revive // ExecutorError is intentionally named to distinguish from standard errors
type ExecutorError struct {
	// Class is the error classification for recovery.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// WorkerID is the worker that failed, if known.
	WorkerID string `json:"worker_id,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *ExecutorError) Error() string {
	if e.WorkerID != "" && e.Operation != "" {
		return fmt.Sprintf("[%s] %s (worker=%s, operation=%s): %s",
			e.Class, e.Message, e.WorkerID, e.Operation, e.unwrapMessage())
	}
	if e.WorkerID != "" {
		return fmt.Sprintf("[%s] %s (worker=%s): %s",
			e.Class, e.Message, e.WorkerID, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *ExecutorError) Unwrap() error {
	return e.Err
}

func (e *ExecutorError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is matches another *ExecutorError with the same class and code.
func (e *ExecutorError) Is(target error) bool {
	t, ok := target.(*ExecutorError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

func newError(class ErrorClass, code, message string, err error) *ExecutorError {
	return &ExecutorError{Class: class, Code: code, Message: message, Err: err}
}

// WithWorker adds worker context to an error.
func (e *ExecutorError) WithWorker(workerID string) *ExecutorError {
	e.WorkerID = workerID
	return e
}

// WithOperation adds operation context to an error.
func (e *ExecutorError) WithOperation(operation string) *ExecutorError {
	e.Operation = operation
	return e
}

// Classify wraps err into an *ExecutorError. Errors that already are one are
// returned unchanged.
func Classify(err error) *ExecutorError {
	if err == nil {
		return nil
	}

	var classified *ExecutorError
	if errors.As(err, &classified) {
		return classified
	}

	var unexpected *replay.UnexpectedEntryError
	switch {
	case errors.Is(err, stores.ErrDuplicateID):
		return newError(ErrorClassConflict, ErrCodeConcurrentWriter, "oplog was written concurrently", err)
	case errors.As(err, &unexpected),
		errors.Is(err, replay.ErrMissingEntry),
		errors.Is(err, oplogsvc.ErrCorruptEntry),
		errors.Is(err, oplogsvc.ErrPayloadCorrupt),
		errors.Is(err, oplogsvc.ErrPayloadNotFound):
		return newError(ErrorClassCorrupt, ErrCodeOplogCorrupt, "oplog cannot be replayed", err)
	case errors.Is(err, oplogsvc.ErrOplogExists):
		return newError(ErrorClassPermanent, ErrCodeAlreadyExists, "worker already exists", err)
	case errors.Is(err, context.DeadlineExceeded):
		return newError(ErrorClassTransient, ErrCodeTimeout, "operation timed out", err)
	case errors.Is(err, context.Canceled):
		return newError(ErrorClassPermanent, ErrCodeCanceled, "operation canceled", err)
	default:
		return newError(ErrorClassTransient, ErrCodeStorage, "storage failure", err)
	}
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	return classOf(err) == ErrorClassTransient
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	return classOf(err) == ErrorClassConflict
}

// IsCorrupt returns true if the error is classified as oplog corruption.
func IsCorrupt(err error) bool {
	return classOf(err) == ErrorClassCorrupt
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	return classOf(err) == ErrorClassPermanent
}

// IsRetryable returns true if loading the worker again may succeed.
func IsRetryable(err error) bool {
	return IsTransient(err)
}

func classOf(err error) ErrorClass {
	var e *ExecutorError
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// Common error codes.
const (
	ErrCodeConcurrentWriter = "CONCURRENT_WRITER"
	ErrCodeOplogCorrupt     = "OPLOG_CORRUPT"
	ErrCodeIncompleteWrite  = "INCOMPLETE_REMOTE_WRITE"
	ErrCodeAlreadyExists    = "ALREADY_EXISTS"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeTimeout          = "TIMEOUT"
	ErrCodeCanceled         = "CANCELED"
	ErrCodeStorage          = "STORAGE_ERROR"
	ErrCodeFunctionFailed   = "FUNCTION_FAILED"
)
