package executor

import (
	"fmt"

	"github.com/openfroyo/worker-executor/pkg/oplog"
)

// WorkerStatus is the last known status of a worker, derived from its oplog.
type WorkerStatus string

const (
	// WorkerStatusIdle indicates the worker waits for an invocation.
	WorkerStatusIdle WorkerStatus = "idle"

	// WorkerStatusRunning indicates an invocation was started but not completed.
	WorkerStatusRunning WorkerStatus = "running"

	// WorkerStatusSuspended indicates the worker was suspended and can be resumed.
	WorkerStatusSuspended WorkerStatus = "suspended"

	// WorkerStatusInterrupted indicates the worker was interrupted by an operator.
	WorkerStatusInterrupted WorkerStatus = "interrupted"

	// WorkerStatusFailed indicates the worker recorded an error.
	WorkerStatusFailed WorkerStatus = "failed"

	// WorkerStatusExited indicates the worker exited.
	WorkerStatusExited WorkerStatus = "exited"
)

// IsTerminal returns true if the worker can no longer be invoked.
func (s WorkerStatus) IsTerminal() bool {
	return s == WorkerStatusFailed || s == WorkerStatusExited
}

// Validate checks if the worker status is valid.
func (s WorkerStatus) Validate() error {
	switch s {
	case WorkerStatusIdle, WorkerStatusRunning, WorkerStatusSuspended,
		WorkerStatusInterrupted, WorkerStatusFailed, WorkerStatusExited:
		return nil
	default:
		return fmt.Errorf("invalid worker status: %s", s)
	}
}

// statusAfter returns the status a worker has right after entry was written,
// or false if the entry does not change it.
func statusAfter(entry oplog.Entry) (WorkerStatus, bool) {
	switch entry.(type) {
	case oplog.Create, oplog.ExportedFunctionCompleted, oplog.Restart:
		return WorkerStatusIdle, true
	case oplog.ExportedFunctionInvoked:
		return WorkerStatusRunning, true
	case oplog.Suspend:
		return WorkerStatusSuspended, true
	case oplog.Interrupted:
		return WorkerStatusInterrupted, true
	case oplog.Error:
		return WorkerStatusFailed, true
	case oplog.Exited:
		return WorkerStatusExited, true
	default:
		return "", false
	}
}
