package oplogsvc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/worker-executor/pkg/oplog"
	"github.com/openfroyo/worker-executor/pkg/stores"
	"github.com/openfroyo/worker-executor/pkg/telemetry"
)

var (
	// ErrOplogExists is returned by Create when the worker already has an oplog.
	ErrOplogExists = errors.New("oplog already exists")
	// ErrCorruptEntry is returned when a stored entry cannot be decoded.
	ErrCorruptEntry = errors.New("corrupt oplog entry")
	// ErrEntryNotFound is returned when a single entry read finds nothing.
	ErrEntryNotFound = errors.New("oplog entry not found")
)

// Config controls buffering and payload placement.
type Config struct {
	// MaxOperationsBeforeCommit is how many added entries an open oplog may
	// buffer. Adding one more commits the buffer.
	MaxOperationsBeforeCommit uint64 `yaml:"max_operations_before_commit" env:"MAX_OPERATIONS_BEFORE_COMMIT"`

	// MaxPayloadSize is the largest payload stored inline, in bytes.
	MaxPayloadSize int `yaml:"max_payload_size" env:"MAX_PAYLOAD_SIZE" validate:"gt=0"`
}

// DefaultConfig returns the default oplog configuration.
func DefaultConfig() Config {
	return Config{
		MaxOperationsBeforeCommit: 128,
		MaxPayloadSize:            64 * 1024,
	}
}

// Service gives access to the oplogs of all workers.
type Service struct {
	storage  stores.IndexedStorage
	blobs    stores.BlobStorage
	config   Config
	replicas uint8

	logger  zerolog.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer

	mu   sync.Mutex
	open map[string]*Oplog
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger of the service.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics reports storage calls and oplog activity to m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithTracer wraps reads and commits in spans.
func WithTracer(t *telemetry.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

// New creates an oplog service. It asks the storage for its replica count
// once; WaitForReplicas requests are capped to it.
func New(ctx context.Context, storage stores.IndexedStorage, blobs stores.BlobStorage, cfg Config, opts ...Option) (*Service, error) {
	s := &Service{
		blobs:  blobs,
		config: cfg,
		logger: zerolog.Nop(),
		open:   make(map[string]*Oplog),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "oplog").Logger()
	s.storage = stores.WithLabels(storage, s.metrics, "oplog", "indexed")

	replicas, err := s.storage.NumberOfReplicas(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get the number of replicas of the indexed storage: %w", err)
	}
	s.replicas = replicas

	return s, nil
}

// Config returns the configuration of the service.
func (s *Service) Config() Config {
	return s.config
}

func oplogKey(workerID oplog.WorkerID) string {
	return workerID.String()
}

// Create writes the initial entry of a new worker at index 1 and opens its
// oplog. It fails with ErrOplogExists if the worker already has one.
func (s *Service) Create(ctx context.Context, workerID oplog.WorkerID, initial oplog.Entry) (*Oplog, error) {
	key := oplogKey(workerID)

	exists, err := s.storage.Exists(ctx, stores.OpLog(), key)
	if err != nil {
		return nil, fmt.Errorf("failed to check if oplog exists for worker %s: %w", workerID, err)
	}
	if exists {
		return nil, fmt.Errorf("%w: worker %s", ErrOplogExists, workerID)
	}

	data, err := oplog.Encode(initial)
	if err != nil {
		return nil, err
	}
	if err := s.storage.Append(ctx, stores.OpLog(), key, uint64(oplog.Initial), data); err != nil {
		return nil, fmt.Errorf("failed to append initial oplog entry for worker %s: %w", workerID, err)
	}
	s.metrics.RecordOplogAppend(initial.Kind().String())

	return s.Open(workerID, oplog.Initial), nil
}

// Open returns the handle of a worker's oplog whose last stored index is
// lastIndex. While a handle is open, further Open calls return the same
// handle and ignore lastIndex. Every Open must be paired with a Close.
func (s *Service) Open(workerID oplog.WorkerID, lastIndex oplog.Index) *Oplog {
	key := oplogKey(workerID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if o, ok := s.open[key]; ok {
		o.refs++
		return o
	}

	o := &Oplog{
		svc:           s,
		workerID:      workerID,
		key:           key,
		lastIndex:     lastIndex,
		lastCommitted: lastIndex,
		refs:          1,
	}
	s.open[key] = o
	s.metrics.OplogOpened()
	s.logger.Debug().Str("worker_id", key).Uint64("last_index", uint64(lastIndex)).Msg("Opened oplog")

	return o
}

func (s *Service) release(o *Oplog) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o.refs--
	if o.refs > 0 {
		return
	}
	if s.open[o.key] == o {
		delete(s.open, o.key)
	}
	s.metrics.OplogClosed()
}

// IsOpen reports whether a handle of the worker's oplog is currently open.
func (s *Service) IsOpen(workerID oplog.WorkerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.open[oplogKey(workerID)]
	return ok
}

// GetLastIndex returns the index of the last stored entry, or oplog.None.
func (s *Service) GetLastIndex(ctx context.Context, workerID oplog.WorkerID) (oplog.Index, error) {
	record, ok, err := s.storage.Last(ctx, stores.OpLog(), oplogKey(workerID))
	if err != nil {
		return oplog.None, fmt.Errorf("failed to get last oplog index for worker %s: %w", workerID, err)
	}
	if !ok {
		return oplog.None, nil
	}
	return oplog.Index(record.ID), nil
}

// Exists reports whether the worker has an oplog.
func (s *Service) Exists(ctx context.Context, workerID oplog.WorkerID) (bool, error) {
	exists, err := s.storage.Exists(ctx, stores.OpLog(), oplogKey(workerID))
	if err != nil {
		return false, fmt.Errorf("failed to check if oplog exists for worker %s: %w", workerID, err)
	}
	return exists, nil
}

// Delete removes the worker's oplog.
func (s *Service) Delete(ctx context.Context, workerID oplog.WorkerID) error {
	if err := s.storage.Delete(ctx, stores.OpLog(), oplogKey(workerID)); err != nil {
		return fmt.Errorf("failed to delete oplog for worker %s: %w", workerID, err)
	}
	return nil
}

// Read returns the stored entries with start <= index < start+n in index
// order. Missing indices are absent from the result. An entry that cannot be
// decoded fails the whole read with ErrCorruptEntry.
func (s *Service) Read(ctx context.Context, workerID oplog.WorkerID, start oplog.Index, n uint64) (entries []oplog.IndexedEntry, err error) {
	if n == 0 {
		return nil, nil
	}

	ctx, span := s.tracer.StartOplogSpan(ctx, workerID.String(), "read")
	defer func() { telemetry.EndSpan(span, err) }()
	span.SetAttributes(telemetry.AttrOplogIndex.Int64(int64(start)), telemetry.AttrOplogEntries.Int64(int64(n)))

	records, err := s.storage.Read(ctx, stores.OpLog(), oplogKey(workerID), uint64(start), uint64(start.RangeEnd(n)))
	if err != nil {
		return nil, fmt.Errorf("failed to read oplog for worker %s: %w", workerID, err)
	}

	entries = make([]oplog.IndexedEntry, 0, len(records))
	for _, record := range records {
		entry, err := oplog.Decode(record.Value)
		if err != nil {
			s.logger.Error().Err(err).Str("worker_id", workerID.String()).Uint64("index", record.ID).Msg("Corrupt oplog entry")
			return nil, fmt.Errorf("%w %d of worker %s: %w", ErrCorruptEntry, record.ID, workerID, err)
		}
		entries = append(entries, oplog.IndexedEntry{Index: oplog.Index(record.ID), Entry: entry})
	}
	return entries, nil
}

// ScanForComponent lists workers of a component that have an oplog. The
// returned cursor is 0 once the scan is complete.
func (s *Service) ScanForComponent(ctx context.Context, componentID uuid.UUID, cursor uint64, count uint64) (uint64, []oplog.WorkerID, error) {
	next, keys, err := s.storage.Scan(ctx, stores.OpLog(), componentID.String()+":*", cursor, count)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to scan oplogs of component %s: %w", componentID, err)
	}

	workers := make([]oplog.WorkerID, 0, len(keys))
	for _, key := range keys {
		workerID, err := oplog.ParseWorkerID(key)
		if err != nil {
			return 0, nil, fmt.Errorf("unexpected oplog key %q: %w", key, err)
		}
		workers = append(workers, workerID)
	}
	return next, workers, nil
}
