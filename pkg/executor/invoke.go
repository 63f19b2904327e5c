package executor

import (
	"context"

	"github.com/openfroyo/worker-executor/pkg/oplog"
	"github.com/openfroyo/worker-executor/pkg/replay"
)

// Invoke runs the exported function name of the worker with fn as its
// implementation. A live worker records the invocation and its result. A
// replaying worker checks the call against the recorded invocation, runs fn
// on the recorded request so its durable calls replay, and returns the
// recorded result.
func Invoke[Req, Resp any](ctx context.Context, w *Worker, name string, req Req, key oplog.IdempotencyKey, fn func(context.Context, Req) (Resp, error)) (Resp, error) {
	var zero Resp

	if w.IsLive() {
		if _, err := w.oplog.AddExportedFunctionInvoked(ctx, name, req, key); err != nil {
			return zero, w.exec.fail(w.ID(), name, err)
		}
	} else {
		invocation, err := w.replay.GetOplogEntryExportedFunctionInvoked(ctx)
		if err != nil {
			return zero, w.exec.fail(w.ID(), name, err)
		}
		if invocation.FunctionName != name || invocation.IdempotencyKey != key {
			return zero, w.exec.fail(w.ID(), name, &replay.UnexpectedEntryError{
				Index:    invocation.Index,
				Expected: oplog.KindExportedFunctionInvoked.String() + "(" + name + ", " + string(key) + ")",
				Found:    oplog.NewExportedFunctionInvoked(invocation.FunctionName, oplog.InlinePayload(invocation.Request), invocation.IdempotencyKey),
			})
		}
		if err := invocation.DecodeRequest(&req); err != nil {
			return zero, w.exec.fail(w.ID(), name, err)
		}
	}
	w.setStatus(WorkerStatusRunning)
	w.ProcessReplayEvents()

	resp, err := fn(ctx, req)
	if err != nil {
		return zero, err
	}

	if w.IsLive() {
		if _, err := w.oplog.AddExportedFunctionCompleted(ctx, resp, 0); err != nil {
			return zero, w.exec.fail(w.ID(), name, err)
		}
		if err := w.oplog.Commit(ctx); err != nil {
			return zero, w.exec.fail(w.ID(), name, err)
		}
	} else {
		completion, err := w.replay.GetOplogEntryExportedFunctionCompleted(ctx)
		if err != nil {
			return zero, w.exec.fail(w.ID(), name, err)
		}
		var recorded Resp
		if err := completion.DecodeResponse(&recorded); err != nil {
			return zero, w.exec.fail(w.ID(), name, err)
		}
		resp = recorded
	}
	w.setStatus(WorkerStatusIdle)
	w.ProcessReplayEvents()

	return resp, nil
}
