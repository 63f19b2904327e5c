package oplogsvc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openfroyo/worker-executor/pkg/oplog"
	"github.com/openfroyo/worker-executor/pkg/stores"
	"github.com/openfroyo/worker-executor/pkg/telemetry"
)

// Oplog is an open handle to one worker's oplog. Added entries are buffered
// and written in index order on Commit. A handle is safe for concurrent use,
// though a worker is expected to have a single writer.
type Oplog struct {
	svc      *Service
	workerID oplog.WorkerID
	key      string

	mu            sync.Mutex
	buffer        []oplog.Entry
	lastIndex     oplog.Index
	lastCommitted oplog.Index
	lastNonHint   oplog.Index

	// guarded by svc.mu
	refs int
}

// WorkerID returns the worker owning the oplog.
func (o *Oplog) WorkerID() oplog.WorkerID {
	return o.workerID
}

// Add buffers an entry and returns the index it will be stored at. The
// buffer is committed once it holds more than MaxOperationsBeforeCommit
// entries.
func (o *Oplog) Add(ctx context.Context, entry oplog.Entry) (oplog.Index, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.addLocked(ctx, entry)
}

func (o *Oplog) addLocked(ctx context.Context, entry oplog.Entry) (oplog.Index, error) {
	o.buffer = append(o.buffer, entry)
	o.lastIndex = o.lastIndex.Next()
	if !oplog.IsHint(entry) {
		o.lastNonHint = o.lastIndex
	}
	o.svc.metrics.RecordOplogAppend(entry.Kind().String())

	idx := o.lastIndex
	if uint64(len(o.buffer)) > o.svc.config.MaxOperationsBeforeCommit {
		if err := o.commitLocked(ctx); err != nil {
			return idx, err
		}
	}
	return idx, nil
}

// Commit writes all buffered entries.
func (o *Oplog) Commit(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.commitLocked(ctx)
}

func (o *Oplog) commitLocked(ctx context.Context) (err error) {
	if len(o.buffer) == 0 {
		return nil
	}

	ctx, span := o.svc.tracer.StartOplogSpan(ctx, o.key, "commit")
	defer func() { telemetry.EndSpan(span, err) }()

	committed := 0
	defer func() {
		o.buffer = o.buffer[committed:]
		if committed > 0 {
			o.svc.metrics.RecordOplogCommit(committed)
		}
	}()

	for _, entry := range o.buffer {
		idx := o.lastCommitted.Next()
		data, err := oplog.Encode(entry)
		if err != nil {
			return err
		}
		if err := o.svc.storage.Append(ctx, stores.OpLog(), o.key, uint64(idx), data); err != nil {
			o.svc.logger.Error().Err(err).Str("worker_id", o.key).Uint64("index", uint64(idx)).Msg("Failed to append oplog entry")
			return fmt.Errorf("failed to append oplog entry %d for worker %s: %w", idx, o.workerID, err)
		}
		o.lastCommitted = idx
		committed++
	}
	return nil
}

// Append adds an entry, commits it together with everything buffered before
// it and returns its index.
func (o *Oplog) Append(ctx context.Context, entry oplog.Entry) (oplog.Index, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	idx, err := o.addLocked(ctx, entry)
	if err != nil {
		return idx, err
	}
	return idx, o.commitLocked(ctx)
}

// CurrentIndex returns the index of the last added entry, committed or not.
func (o *Oplog) CurrentIndex() oplog.Index {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastIndex
}

// LastAddedNonHintEntry returns the index of the last non-hint entry added
// through this handle, or oplog.None.
func (o *Oplog) LastAddedNonHintEntry() oplog.Index {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastNonHint
}

// ReadEntry returns the entry at idx, looking at the uncommitted buffer first.
func (o *Oplog) ReadEntry(ctx context.Context, idx oplog.Index) (oplog.Entry, error) {
	o.mu.Lock()
	if idx > o.lastCommitted && idx <= o.lastIndex {
		entry := o.buffer[idx-o.lastCommitted-1]
		o.mu.Unlock()
		return entry, nil
	}
	o.mu.Unlock()

	entries, err := o.svc.Read(ctx, o.workerID, idx, 1)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: index %d of worker %s", ErrEntryNotFound, idx, o.workerID)
	}
	return entries[0].Entry, nil
}

// Read returns up to n committed entries starting at start.
func (o *Oplog) Read(ctx context.Context, start oplog.Index, n uint64) ([]oplog.IndexedEntry, error) {
	return o.svc.Read(ctx, o.workerID, start, n)
}

// Length returns the number of stored entries.
func (o *Oplog) Length(ctx context.Context) (uint64, error) {
	n, err := o.svc.storage.Length(ctx, stores.OpLog(), o.key)
	if err != nil {
		return 0, fmt.Errorf("failed to get the length of the oplog of worker %s: %w", o.workerID, err)
	}
	return n, nil
}

// DropPrefix removes the stored entries up to and including lastDropped.
// The oplog is deleted once no entries remain.
func (o *Oplog) DropPrefix(ctx context.Context, lastDropped oplog.Index) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.svc.storage.DropPrefix(ctx, stores.OpLog(), o.key, uint64(lastDropped)); err != nil {
		return fmt.Errorf("failed to drop oplog prefix of worker %s: %w", o.workerID, err)
	}
	remaining, err := o.Length(ctx)
	if err != nil {
		return err
	}
	if remaining == 0 {
		return o.svc.Delete(ctx, o.workerID)
	}
	return nil
}

// WaitForReplicas commits the buffer and waits until the storage holds
// replicas copies of it, capped at the number of replicas the storage has.
// It reports whether that many were reached before timeout.
func (o *Oplog) WaitForReplicas(ctx context.Context, replicas uint8, timeout time.Duration) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.commitLocked(ctx); err != nil {
		return false, err
	}

	replicas = min(replicas, o.svc.replicas)
	got, err := o.svc.storage.WaitForReplicas(ctx, replicas, timeout)
	if err != nil {
		o.svc.logger.Error().Err(err).Str("worker_id", o.key).Msg("Failed to wait for replicas to sync indexed storage")
		return false, err
	}
	return got >= replicas, nil
}

// UploadPayload stores data as a payload of this worker.
func (o *Oplog) UploadPayload(ctx context.Context, data []byte) (oplog.Payload, error) {
	return o.svc.UploadPayload(ctx, o.workerID, data)
}

// DownloadPayload returns the bytes of a payload of this worker.
func (o *Oplog) DownloadPayload(ctx context.Context, payload oplog.Payload) ([]byte, error) {
	return o.svc.DownloadPayload(ctx, o.workerID, payload)
}

func (o *Oplog) encodePayload(ctx context.Context, v any) (oplog.Payload, error) {
	data, err := oplog.EncodeValue(v)
	if err != nil {
		return oplog.Payload{}, err
	}
	return o.UploadPayload(ctx, data)
}

// AddImportedFunctionInvoked records the request and response of a host call.
func (o *Oplog) AddImportedFunctionInvoked(ctx context.Context, name string, request, response any, ft oplog.WrappedFunctionType) (oplog.IndexedEntry, error) {
	req, err := o.encodePayload(ctx, request)
	if err != nil {
		return oplog.IndexedEntry{}, err
	}
	resp, err := o.encodePayload(ctx, response)
	if err != nil {
		return oplog.IndexedEntry{}, err
	}
	entry := oplog.NewImportedFunctionInvoked(name, req, resp, ft)
	idx, err := o.Add(ctx, entry)
	return oplog.IndexedEntry{Index: idx, Entry: entry}, err
}

// AddExportedFunctionInvoked records the start of an invocation.
func (o *Oplog) AddExportedFunctionInvoked(ctx context.Context, name string, request any, key oplog.IdempotencyKey) (oplog.IndexedEntry, error) {
	req, err := o.encodePayload(ctx, request)
	if err != nil {
		return oplog.IndexedEntry{}, err
	}
	entry := oplog.NewExportedFunctionInvoked(name, req, key)
	idx, err := o.Add(ctx, entry)
	return oplog.IndexedEntry{Index: idx, Entry: entry}, err
}

// AddExportedFunctionCompleted records the result of an invocation.
func (o *Oplog) AddExportedFunctionCompleted(ctx context.Context, response any, consumedFuel int64) (oplog.IndexedEntry, error) {
	resp, err := o.encodePayload(ctx, response)
	if err != nil {
		return oplog.IndexedEntry{}, err
	}
	entry := oplog.NewExportedFunctionCompleted(resp, consumedFuel)
	idx, err := o.Add(ctx, entry)
	return oplog.IndexedEntry{Index: idx, Entry: entry}, err
}

// Close commits buffered entries and releases the handle.
func (o *Oplog) Close(ctx context.Context) error {
	err := o.Commit(ctx)
	o.svc.release(o)
	return err
}

func (o *Oplog) String() string {
	return o.key
}
