package executor

import (
	"context"

	"github.com/openfroyo/worker-executor/pkg/oplog"
	"github.com/openfroyo/worker-executor/pkg/replay"
)

// bracketed reports whether calls of type ft are surrounded by
// BeginRemoteWrite and EndRemoteWrite entries.
func (w *Worker) bracketed(ft oplog.WrappedFunctionType) bool {
	switch ft.Kind {
	case oplog.WriteRemote:
		return !w.exec.assumeIdempotence
	case oplog.WriteRemoteBatched:
		return ft.BatchBegin == nil
	default:
		return false
	}
}

// BeginFunction marks the start of a durable call of type ft and returns
// the index EndFunction needs.
//
// When replaying a remote write whose EndRemoteWrite is missing, the write
// may or may not have reached the remote side. Without assumed idempotence
// that fails the worker. A batched write is retried instead: the worker
// switches to live and a Jump entry removes the first attempt from future
// replays.
func (w *Worker) BeginFunction(ctx context.Context, ft oplog.WrappedFunctionType) (oplog.Index, error) {
	if !w.bracketed(ft) {
		return w.CurrentOplogIndex(), nil
	}

	if w.IsLive() {
		begin, err := w.oplog.Append(ctx, oplog.NewBeginRemoteWrite())
		if err != nil {
			return oplog.None, w.exec.fail(w.ID(), "begin_function", err)
		}
		return begin, nil
	}

	begin, _, err := replay.Expect[oplog.BeginRemoteWrite](ctx, w.replay)
	if err != nil {
		return oplog.None, w.exec.fail(w.ID(), "begin_function", err)
	}

	if !w.exec.assumeIdempotence {
		_, found, err := w.replay.LookupOplogEntry(ctx, begin, oplog.IsEndRemoteWrite)
		if err != nil {
			return oplog.None, w.exec.fail(w.ID(), "begin_function", err)
		}
		if !found {
			// Live mode is needed to record the failure.
			w.replay.SwitchToLive()
			_ = w.exec.events.PublishIncompleteWrite(w.ID().String(), uint64(begin))
			incomplete := newError(ErrorClassPermanent, ErrCodeIncompleteWrite,
				"non-idempotent remote write operation was not completed, cannot retry", nil).
				WithWorker(w.ID().String()).
				WithOperation("begin_function")
			w.exec.metrics.RecordError(string(incomplete.Class), incomplete.Code)
			return oplog.None, incomplete
		}
		return begin, nil
	}

	_, found, err := w.replay.LookupOplogEntryWithCondition(ctx, begin, oplog.IsEndRemoteWrite, oplog.NoConcurrentSideEffect)
	if err != nil {
		return oplog.None, w.exec.fail(w.ID(), "begin_function", err)
	}
	if !found {
		w.replay.SwitchToLive()

		// Keep the BeginRemoteWrite entry; drop everything after it up to
		// and including the Jump entry itself.
		region := oplog.Region{Start: begin.Next(), End: w.replay.ReplayTarget().Next()}
		w.replay.AddDeletedRegion(region)
		if _, err := w.oplog.Append(ctx, oplog.NewJump(region)); err != nil {
			return oplog.None, w.exec.fail(w.ID(), "begin_function", err)
		}
		_ = w.exec.events.PublishOplogJump(w.ID().String(), region.String())
		w.logger.Warn().Stringer("region", region).Msg("Retrying incomplete batched remote write")
	}
	return begin, nil
}

// EndFunction marks the end of a durable call started with BeginFunction.
func (w *Worker) EndFunction(ctx context.Context, ft oplog.WrappedFunctionType, begin oplog.Index) error {
	if !w.bracketed(ft) {
		return nil
	}

	if w.IsLive() {
		if _, err := w.oplog.Add(ctx, oplog.NewEndRemoteWrite(begin)); err != nil {
			return w.exec.fail(w.ID(), "end_function", err)
		}
		return nil
	}

	if _, _, err := replay.Expect[oplog.EndRemoteWrite](ctx, w.replay); err != nil {
		return w.exec.fail(w.ID(), "end_function", err)
	}
	return nil
}
