package executor

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openfroyo/worker-executor/pkg/oplog"
	"github.com/openfroyo/worker-executor/pkg/oplogsvc"
	"github.com/openfroyo/worker-executor/pkg/replay"
	"github.com/openfroyo/worker-executor/pkg/telemetry"
)

// Executor creates and loads workers on top of an oplog service.
type Executor struct {
	oplogs *oplogsvc.Service

	logger  zerolog.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	events  *telemetry.EventPublisher

	assumeIdempotence bool
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger of the executor and its workers.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithMetrics reports replay activity and classified errors to m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Executor) {
		e.metrics = m
	}
}

// WithTracer wraps worker creation and loading in spans.
func WithTracer(t *telemetry.Tracer) Option {
	return func(e *Executor) {
		e.tracer = t
	}
}

// WithEvents publishes worker logs and lifecycle events to p.
func WithEvents(p *telemetry.EventPublisher) Option {
	return func(e *Executor) {
		e.events = p
	}
}

// WithAssumeIdempotence controls whether remote writes may be retried after
// a crash. When false, WriteRemote calls are bracketed in the oplog and a
// write that was started but never completed fails the worker on replay.
func WithAssumeIdempotence(assume bool) Option {
	return func(e *Executor) {
		e.assumeIdempotence = assume
	}
}

// New creates an executor.
func New(oplogs *oplogsvc.Service, opts ...Option) *Executor {
	e := &Executor{
		oplogs:            oplogs,
		logger:            zerolog.Nop(),
		assumeIdempotence: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With().Str("component", "executor").Logger()
	return e
}

// Create starts a new worker. Its oplog holds only the Create entry, so the
// worker is live right away.
func (e *Executor) Create(ctx context.Context, workerID oplog.WorkerID, version oplog.ComponentVersion, accountID oplog.AccountID) (w *Worker, err error) {
	ctx, span := e.tracer.StartWorkerSpan(ctx, workerID.String(), "create")
	defer func() { telemetry.EndSpan(span, err) }()

	span.SetAttributes(telemetry.AttrComponentVersion.Int64(int64(version)))

	o, err := e.oplogs.Create(ctx, workerID, oplog.NewCreate(workerID, version, accountID))
	if err != nil {
		return nil, e.fail(workerID, "create", err)
	}

	meta := Metadata{
		WorkerID:                workerID,
		AccountID:               accountID,
		ComponentVersion:        version,
		InitialComponentVersion: version,
		LastIndex:               oplog.Initial,
		Status:                  WorkerStatusIdle,
	}
	w = e.newWorker(o, meta, replay.WithLastReplayedIndex(oplog.Initial))

	_ = e.events.PublishWorkerCreated(workerID.String(), uint64(version))
	w.logger.Info().Uint64("component_version", uint64(version)).Msg("Worker created")
	return w, nil
}

// Load opens an existing worker. The returned worker replays its oplog from
// the beginning; the Create entry is already consumed.
func (e *Executor) Load(ctx context.Context, workerID oplog.WorkerID) (w *Worker, err error) {
	ctx, span := e.tracer.StartWorkerSpan(ctx, workerID.String(), "load")
	defer func() { telemetry.EndSpan(span, err) }()

	meta, err := ComputeMetadata(ctx, e.oplogs, workerID)
	if err != nil {
		return nil, e.fail(workerID, "load", err)
	}
	span.SetAttributes(
		telemetry.AttrReplayTarget.Int64(int64(meta.LastIndex)),
		telemetry.AttrComponentVersion.Int64(int64(meta.ComponentVersion)),
	)

	o := e.oplogs.Open(workerID, meta.LastIndex)
	w = e.newWorker(o, meta)

	if _, _, err := replay.Expect[oplog.Create](ctx, w.replay); err != nil {
		_ = o.Close(ctx)
		return nil, e.fail(workerID, "load", err)
	}

	w.logger.Debug().
		Uint64("last_index", uint64(meta.LastIndex)).
		Stringer("deleted_regions", meta.DeletedRegions).
		Str("status", string(meta.Status)).
		Msg("Worker loaded")
	return w, nil
}

// Metadata computes the metadata of a stored worker without loading it.
func (e *Executor) Metadata(ctx context.Context, workerID oplog.WorkerID) (meta Metadata, err error) {
	ctx, span := e.tracer.StartWorkerSpan(ctx, workerID.String(), "metadata")
	defer func() { telemetry.EndSpan(span, err) }()

	meta, err = ComputeMetadata(ctx, e.oplogs, workerID)
	if err != nil {
		return meta, e.fail(workerID, "metadata", err)
	}
	return meta, nil
}

// Oplogs returns the oplog service the executor works on.
func (e *Executor) Oplogs() *oplogsvc.Service {
	return e.oplogs
}

func (e *Executor) newWorker(o *oplogsvc.Oplog, meta Metadata, opts ...replay.Option) *Worker {
	logger := e.logger.With().Str("worker_id", meta.WorkerID.String()).Logger()
	opts = append([]replay.Option{replay.WithLogger(logger), replay.WithMetrics(e.metrics)}, opts...)
	return &Worker{
		exec:    e,
		oplog:   o,
		replay:  replay.New(meta.WorkerID, o, meta.DeletedRegions, meta.LastIndex, opts...),
		meta:    meta,
		logger:  logger,
		version: meta.InitialComponentVersion,
		status:  meta.Status,
	}
}

// fail classifies err, counts it and adds worker context.
func (e *Executor) fail(workerID oplog.WorkerID, operation string, err error) error {
	classified := Classify(err)
	if classified.WorkerID == "" {
		classified.WorkerID = workerID.String()
	}
	if classified.Operation == "" {
		classified.Operation = operation
	}
	e.metrics.RecordError(string(classified.Class), classified.Code)
	e.logger.Error().Err(err).Str("worker_id", workerID.String()).Str("operation", operation).Str("class", string(classified.Class)).Msg("Worker operation failed")
	return classified
}

// Worker is a loaded worker: its open oplog and its replay cursor. A worker
// is driven by one goroutine at a time.
type Worker struct {
	exec   *Executor
	oplog  *oplogsvc.Oplog
	replay *replay.State
	meta   Metadata
	logger zerolog.Logger

	mu      sync.Mutex
	version oplog.ComponentVersion
	status  WorkerStatus
}

// ID returns the worker id.
func (w *Worker) ID() oplog.WorkerID {
	return w.meta.WorkerID
}

// Metadata returns the metadata the worker was loaded with.
func (w *Worker) Metadata() Metadata {
	return w.meta
}

// Oplog returns the open oplog of the worker.
func (w *Worker) Oplog() *oplogsvc.Oplog {
	return w.oplog
}

// Replay returns the replay cursor of the worker.
func (w *Worker) Replay() *replay.State {
	return w.replay
}

// IsLive reports whether effects are executed rather than replayed.
func (w *Worker) IsLive() bool {
	return w.replay.IsLive()
}

// ComponentVersion returns the component version the worker currently runs.
func (w *Worker) ComponentVersion() oplog.ComponentVersion {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.version
}

// Status returns the last known status of the worker.
func (w *Worker) Status() WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *Worker) setStatus(s WorkerStatus) {
	w.mu.Lock()
	w.status = s
	w.mu.Unlock()
}

// CurrentOplogIndex returns the index of the last added entry when live and
// the index of the last replayed entry otherwise.
func (w *Worker) CurrentOplogIndex() oplog.Index {
	if w.IsLive() {
		return w.oplog.CurrentIndex()
	}
	return w.replay.LastReplayedIndex()
}

// ProcessReplayEvents applies the side effects collected while replaying:
// component updates and the end of replay.
func (w *Worker) ProcessReplayEvents() {
	for _, event := range w.replay.TakeNewReplayEvents() {
		switch event.Kind {
		case replay.EventUpdateReplayed:
			w.mu.Lock()
			w.version = event.NewVersion
			w.mu.Unlock()
			w.logger.Debug().Uint64("component_version", uint64(event.NewVersion)).Msg("Replayed component update")
		case replay.EventReplayFinished:
			_ = w.exec.events.PublishWorkerLive(w.ID().String(), uint64(w.replay.ReplayTarget()))
			w.logger.Debug().Msg("Replaying oplog finished")
		}
	}
}

// Suspend records that the worker was suspended.
func (w *Worker) Suspend(ctx context.Context) error {
	return w.recordStatus(ctx, oplog.NewSuspend(), WorkerStatusSuspended)
}

// Interrupt records that the worker was interrupted.
func (w *Worker) Interrupt(ctx context.Context) error {
	return w.recordStatus(ctx, oplog.NewInterrupted(), WorkerStatusInterrupted)
}

// Exit records that the worker exited.
func (w *Worker) Exit(ctx context.Context) error {
	return w.recordStatus(ctx, oplog.NewExited(), WorkerStatusExited)
}

// Fail records a worker failure.
func (w *Worker) Fail(ctx context.Context, failure oplog.WorkerError) error {
	return w.recordStatus(ctx, oplog.NewError(failure), WorkerStatusFailed)
}

// recordStatus appends a lifecycle entry. Lifecycle entries are hints, so
// only a live worker records them; a replaying worker only updates its
// status.
func (w *Worker) recordStatus(ctx context.Context, entry oplog.Entry, status WorkerStatus) error {
	if w.IsLive() {
		if _, err := w.oplog.Append(ctx, entry); err != nil {
			return w.exec.fail(w.ID(), entry.Kind().String(), err)
		}
	}
	w.setStatus(status)
	return nil
}

// Close commits buffered entries and closes the worker's oplog.
func (w *Worker) Close(ctx context.Context) error {
	return w.oplog.Close(ctx)
}
