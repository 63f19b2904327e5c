package replay

import (
	"context"
	"errors"
	"fmt"

	"github.com/openfroyo/worker-executor/pkg/oplog"
)

// Expect reads the next non-hint entry and returns it as a T. Any other
// non-hint entry fails with an *UnexpectedEntryError. When only hints were
// left and the state went live, Expect fails with ErrLive.
func Expect[T oplog.Entry](ctx context.Context, s *State) (oplog.Index, T, error) {
	var zero T
	for {
		if s.IsLive() {
			return oplog.None, zero, ErrLive
		}
		e, err := s.GetOplogEntry(ctx)
		if err != nil {
			return oplog.None, zero, err
		}
		if entry, ok := e.Entry.(T); ok {
			return e.Index, entry, nil
		}
		if oplog.IsHint(e.Entry) {
			continue
		}
		return oplog.None, zero, &UnexpectedEntryError{Index: e.Index, Expected: zero.Kind().String(), Found: e.Entry}
	}
}

// ExportedInvocation is a replayed ExportedFunctionInvoked entry.
type ExportedInvocation struct {
	Index          oplog.Index
	FunctionName   string
	IdempotencyKey oplog.IdempotencyKey
	Request        []byte
}

// DecodeRequest decodes the invocation arguments into out.
func (i *ExportedInvocation) DecodeRequest(out any) error {
	if err := oplog.DecodeValue(i.Request, out); err != nil {
		return fmt.Errorf("request of %s at index %d: %w", i.FunctionName, i.Index, err)
	}
	return nil
}

// ExportedCompletion is a replayed ExportedFunctionCompleted entry.
type ExportedCompletion struct {
	Index        oplog.Index
	ConsumedFuel int64
	Response     []byte
}

// DecodeResponse decodes the invocation result into out.
func (c *ExportedCompletion) DecodeResponse(out any) error {
	if err := oplog.DecodeValue(c.Response, out); err != nil {
		return fmt.Errorf("response at index %d: %w", c.Index, err)
	}
	return nil
}

// GetOplogEntryExportedFunctionInvoked replays the start of the next
// invocation. It returns nil when there is nothing left to replay.
func (s *State) GetOplogEntryExportedFunctionInvoked(ctx context.Context) (*ExportedInvocation, error) {
	if s.IsLive() {
		return nil, nil
	}
	idx, entry, err := Expect[oplog.ExportedFunctionInvoked](ctx, s)
	if errors.Is(err, ErrLive) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	request, err := s.src.DownloadPayload(ctx, entry.Request)
	if err != nil {
		return nil, fmt.Errorf("failed to get request of %s at index %d: %w", entry.FunctionName, idx, err)
	}
	return &ExportedInvocation{
		Index:          idx,
		FunctionName:   entry.FunctionName,
		IdempotencyKey: entry.IdempotencyKey,
		Request:        request,
	}, nil
}

// GetOplogEntryExportedFunctionCompleted replays the end of the current
// invocation. It returns nil when there is nothing left to replay.
func (s *State) GetOplogEntryExportedFunctionCompleted(ctx context.Context) (*ExportedCompletion, error) {
	if s.IsLive() {
		return nil, nil
	}
	idx, entry, err := Expect[oplog.ExportedFunctionCompleted](ctx, s)
	if errors.Is(err, ErrLive) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	response, err := s.src.DownloadPayload(ctx, entry.Response)
	if err != nil {
		return nil, fmt.Errorf("failed to get response at index %d: %w", idx, err)
	}
	return &ExportedCompletion{
		Index:        idx,
		ConsumedFuel: entry.ConsumedFuel,
		Response:     response,
	}, nil
}
