package executor

import (
	"context"
	"errors"

	"github.com/openfroyo/worker-executor/pkg/oplog"
	"github.com/openfroyo/worker-executor/pkg/oplogsvc"
	"github.com/openfroyo/worker-executor/pkg/replay"
)

// outcome is the recorded response of a durable call. Failures are recorded
// too, so a replayed call fails the same way.
type outcome[T any] struct {
	Value T      `cbor:"1,keyasint,omitempty"`
	Error string `cbor:"2,keyasint,omitempty"`
}

// ReplayedError is a failure of a durable call read back from the oplog.
type ReplayedError struct {
	FunctionName string
	Message      string
}

func (e *ReplayedError) Error() string {
	return e.FunctionName + ": " + e.Message
}

// Durable runs fn as the durable host function name. A live worker calls fn
// and records request and outcome in an ImportedFunctionInvoked entry; a
// replaying worker returns the recorded outcome without calling fn.
func Durable[Req, Resp any](ctx context.Context, w *Worker, name string, ft oplog.WrappedFunctionType, req Req, fn func(context.Context, Req) (Resp, error)) (Resp, error) {
	var zero Resp

	begin, err := w.BeginFunction(ctx, ft)
	if err != nil {
		return zero, err
	}

	if w.IsLive() {
		resp, fnErr := fn(ctx, req)
		recorded := outcome[Resp]{Value: resp}
		if fnErr != nil {
			recorded = outcome[Resp]{Error: fnErr.Error()}
		}
		if _, err := w.oplog.AddImportedFunctionInvoked(ctx, name, req, recorded, ft); err != nil {
			return zero, w.exec.fail(w.ID(), name, err)
		}
		if err := w.EndFunction(ctx, ft, begin); err != nil {
			return zero, err
		}
		return resp, fnErr
	}

	idx, entry, err := replay.Expect[oplog.ImportedFunctionInvoked](ctx, w.replay)
	if err != nil {
		return zero, w.exec.fail(w.ID(), name, err)
	}
	if entry.FunctionName != name {
		return zero, w.exec.fail(w.ID(), name, &replay.UnexpectedEntryError{
			Index:    idx,
			Expected: oplog.KindImportedFunctionInvoked.String() + "(" + name + ")",
			Found:    entry,
		})
	}
	recorded, _, err := oplogsvc.PayloadOf[outcome[Resp]](ctx, w.oplog, entry)
	if err != nil {
		return zero, w.exec.fail(w.ID(), name, err)
	}
	if err := w.EndFunction(ctx, ft, begin); err != nil {
		return zero, err
	}
	if recorded.Error != "" {
		return zero, &ReplayedError{FunctionName: name, Message: recorded.Error}
	}
	return recorded.Value, nil
}

// IsReplayedError reports whether err is a failure read back from the oplog.
func IsReplayedError(err error) bool {
	var replayed *ReplayedError
	return errors.As(err, &replayed)
}
