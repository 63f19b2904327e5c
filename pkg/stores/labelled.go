package stores

import (
	"context"
	"time"
)

// CallRecorder observes individual storage calls.
type CallRecorder interface {
	RecordStorageCall(svc, api, op string, duration time.Duration, err error)
}

// Labelled decorates an IndexedStorage so every call is reported to a
// CallRecorder under a service and API label.
type Labelled struct {
	IndexedStorage
	recorder CallRecorder
	svc      string
	api      string
}

// WithLabels wraps storage. A nil recorder disables reporting.
func WithLabels(storage IndexedStorage, recorder CallRecorder, svc, api string) *Labelled {
	if l, ok := storage.(*Labelled); ok {
		storage = l.IndexedStorage
	}
	return &Labelled{IndexedStorage: storage, recorder: recorder, svc: svc, api: api}
}

func (l *Labelled) record(op string, start time.Time, err error) {
	if l.recorder != nil {
		l.recorder.RecordStorageCall(l.svc, l.api, op, time.Since(start), err)
	}
}

func (l *Labelled) NumberOfReplicas(ctx context.Context) (n uint8, err error) {
	defer func(start time.Time) { l.record("number_of_replicas", start, err) }(time.Now())
	return l.IndexedStorage.NumberOfReplicas(ctx)
}

func (l *Labelled) WaitForReplicas(ctx context.Context, replicas uint8, timeout time.Duration) (n uint8, err error) {
	defer func(start time.Time) { l.record("wait_for_replicas", start, err) }(time.Now())
	return l.IndexedStorage.WaitForReplicas(ctx, replicas, timeout)
}

func (l *Labelled) Exists(ctx context.Context, ns Namespace, key string) (ok bool, err error) {
	defer func(start time.Time) { l.record("exists", start, err) }(time.Now())
	return l.IndexedStorage.Exists(ctx, ns, key)
}

func (l *Labelled) Scan(ctx context.Context, ns Namespace, pattern string, cursor uint64, count uint64) (next uint64, keys []string, err error) {
	defer func(start time.Time) { l.record("scan", start, err) }(time.Now())
	return l.IndexedStorage.Scan(ctx, ns, pattern, cursor, count)
}

func (l *Labelled) Append(ctx context.Context, ns Namespace, key string, id uint64, value []byte) (err error) {
	defer func(start time.Time) { l.record("append", start, err) }(time.Now())
	return l.IndexedStorage.Append(ctx, ns, key, id, value)
}

func (l *Labelled) Length(ctx context.Context, ns Namespace, key string) (n uint64, err error) {
	defer func(start time.Time) { l.record("length", start, err) }(time.Now())
	return l.IndexedStorage.Length(ctx, ns, key)
}

func (l *Labelled) Delete(ctx context.Context, ns Namespace, key string) (err error) {
	defer func(start time.Time) { l.record("delete", start, err) }(time.Now())
	return l.IndexedStorage.Delete(ctx, ns, key)
}

func (l *Labelled) Read(ctx context.Context, ns Namespace, key string, startID, endID uint64) (records []Record, err error) {
	defer func(start time.Time) { l.record("read", start, err) }(time.Now())
	return l.IndexedStorage.Read(ctx, ns, key, startID, endID)
}

func (l *Labelled) First(ctx context.Context, ns Namespace, key string) (r Record, ok bool, err error) {
	defer func(start time.Time) { l.record("first", start, err) }(time.Now())
	return l.IndexedStorage.First(ctx, ns, key)
}

func (l *Labelled) Last(ctx context.Context, ns Namespace, key string) (r Record, ok bool, err error) {
	defer func(start time.Time) { l.record("last", start, err) }(time.Now())
	return l.IndexedStorage.Last(ctx, ns, key)
}

func (l *Labelled) Closest(ctx context.Context, ns Namespace, key string, id uint64) (r Record, ok bool, err error) {
	defer func(start time.Time) { l.record("closest", start, err) }(time.Now())
	return l.IndexedStorage.Closest(ctx, ns, key, id)
}

func (l *Labelled) DropPrefix(ctx context.Context, ns Namespace, key string, lastDroppedID uint64) (err error) {
	defer func(start time.Time) { l.record("drop_prefix", start, err) }(time.Now())
	return l.IndexedStorage.DropPrefix(ctx, ns, key, lastDroppedID)
}
