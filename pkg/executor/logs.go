package executor

import (
	"context"

	"github.com/openfroyo/worker-executor/pkg/oplog"
)

// EmitLog handles a log line written by the worker. A line is recorded in
// the oplog and published as live output only the first time it is
// emitted. Lines emitted while replaying, or re-emitted right after replay
// skipped the same line, are published as replayed output and not recorded
// again.
func (w *Worker) EmitLog(ctx context.Context, level oplog.LogLevel, logContext, message string) error {
	workerID := w.ID().String()
	levelName := level.String()

	if !w.IsLive() {
		_ = w.exec.events.PublishWorkerLog(workerID, levelName, logContext, message, false)
		return nil
	}

	if w.replay.SeenLog(level, logContext, message) {
		w.replay.RemoveSeenLog(level, logContext, message)
		w.exec.metrics.RecordSuppressedLog()
		_ = w.exec.events.PublishWorkerLog(workerID, levelName, logContext, message, false)
		return nil
	}

	if _, err := w.oplog.Add(ctx, oplog.NewLog(level, logContext, message)); err != nil {
		return w.exec.fail(w.ID(), "emit_log", err)
	}
	_ = w.exec.events.PublishWorkerLog(workerID, levelName, logContext, message, true)
	return nil
}
