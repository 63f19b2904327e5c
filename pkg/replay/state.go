package replay

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/rs/zerolog"

	"github.com/openfroyo/worker-executor/pkg/oplog"
	"github.com/openfroyo/worker-executor/pkg/telemetry"
)

// Source is the oplog a State replays. *oplogsvc.Oplog implements it.
type Source interface {
	Read(ctx context.Context, start oplog.Index, n uint64) ([]oplog.IndexedEntry, error)
	DownloadPayload(ctx context.Context, payload oplog.Payload) ([]byte, error)
}

// State is the replay cursor of one loaded worker. It is driven by a single
// goroutine; DeletedRegions, IsLive and the seen-log queries may be called
// from others.
type State struct {
	workerID     oplog.WorkerID
	src          Source
	replayTarget oplog.Index

	logger  zerolog.Logger
	metrics *telemetry.Metrics

	lastReplayedIndex atomic.Uint64
	liveReported      atomic.Bool
	hasSeenLogs       atomic.Bool

	mu                sync.RWMutex
	deletedRegions    oplog.DeletedRegions
	nextDeletedRegion *oplog.Region
	logHashes         mapset.Set[logHash]
	events            []Event
}

// Option configures a State.
type Option func(*State)

// WithLogger sets the logger of the state.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *State) {
		s.logger = logger
	}
}

// WithMetrics reports replayed entries, jumps and live switches to m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *State) {
		s.metrics = m
	}
}

// WithLastReplayedIndex starts the cursor after idx instead of at the
// beginning of the oplog.
func WithLastReplayedIndex(idx oplog.Index) Option {
	return func(s *State) {
		s.lastReplayedIndex.Store(uint64(idx))
	}
}

// New creates the replay state of a worker whose oplog ends at
// lastOplogIndex. Entries up to and including lastOplogIndex are replayed,
// skipping deletedRegions.
func New(workerID oplog.WorkerID, src Source, deletedRegions oplog.DeletedRegions, lastOplogIndex oplog.Index, opts ...Option) *State {
	s := &State{
		workerID:       workerID,
		src:            src,
		replayTarget:   lastOplogIndex,
		logger:         zerolog.Nop(),
		deletedRegions: deletedRegions.Clone(),
		logHashes:      mapset.NewThreadUnsafeSet[logHash](),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "replay").Str("worker_id", workerID.String()).Logger()

	if s.last() > s.replayTarget {
		s.lastReplayedIndex.Store(uint64(s.replayTarget))
	}

	s.mu.Lock()
	s.updateNextDeletedRegionLocked()
	s.recordJumps(s.jumpLocked())
	s.mu.Unlock()

	// Nothing was replayed, so there is no transition to report.
	if s.IsLive() {
		s.liveReported.Store(true)
	}
	return s
}

// WorkerID returns the worker whose oplog is replayed.
func (s *State) WorkerID() oplog.WorkerID {
	return s.workerID
}

// ReplayTarget returns the index of the last entry to replay.
func (s *State) ReplayTarget() oplog.Index {
	return s.replayTarget
}

// LastReplayedIndex returns the index of the last consumed entry.
func (s *State) LastReplayedIndex() oplog.Index {
	return s.last()
}

func (s *State) last() oplog.Index {
	return oplog.Index(s.lastReplayedIndex.Load())
}

// IsLive reports whether every entry up to the replay target was consumed.
func (s *State) IsLive() bool {
	return s.last() == s.replayTarget
}

// IsReplay reports whether entries remain to be replayed.
func (s *State) IsReplay() bool {
	return !s.IsLive()
}

// SwitchToLive ends replay mode. The state stays live until it is discarded.
func (s *State) SwitchToLive() {
	s.lastReplayedIndex.Store(uint64(s.replayTarget))
	s.reportLive()
}

func (s *State) reportLive() {
	if !s.liveReported.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	s.events = append(s.events, Event{Kind: EventReplayFinished})
	s.mu.Unlock()

	s.metrics.RecordSwitchToLive()
	s.logger.Debug().Uint64("replay_target", uint64(s.replayTarget)).Msg("Switched to live mode")
}

// DeletedRegions returns a snapshot of the regions skipped by replay.
func (s *State) DeletedRegions() oplog.DeletedRegions {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deletedRegions.Clone()
}

// AddDeletedRegion makes the cursor skip region from now on. If the cursor
// is about to enter the region it jumps over it immediately.
func (s *State) AddDeletedRegion(region oplog.Region) {
	s.mu.Lock()
	s.deletedRegions.Add(region)
	s.updateNextDeletedRegionLocked()
	s.recordJumps(s.jumpLocked())
	s.mu.Unlock()

	if s.IsLive() {
		s.reportLive()
	}
}

func (s *State) updateNextDeletedRegionLocked() {
	if r, ok := s.deletedRegions.FindNextDeletedRegion(s.last()); ok {
		s.nextDeletedRegion = &r
	} else {
		s.nextDeletedRegion = nil
	}
}

// jumpLocked moves the cursor to the end of every deleted region starting
// right after it and returns how many regions it skipped. Adjacent regions
// are jumped in one go.
func (s *State) jumpLocked() int {
	jumps := 0
	for s.IsReplay() && s.nextDeletedRegion != nil && s.nextDeletedRegion.Start == s.last().Next() {
		region := *s.nextDeletedRegion
		target := min(region.End, s.replayTarget)
		s.logger.Debug().
			Stringer("region", region).
			Uint64("target", uint64(target.Next())).
			Uint64("replay_target", uint64(s.replayTarget)).
			Msg("Reached deleted region, jumping over it")
		s.lastReplayedIndex.Store(uint64(target))
		s.updateNextDeletedRegionLocked()
		jumps++
	}
	return jumps
}

func (s *State) recordJumps(n int) {
	for range n {
		s.metrics.RecordReplayJump()
	}
}

func (s *State) moveTo(idx oplog.Index) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastReplayedIndex.Store(uint64(idx))
	return s.jumpLocked()
}

// restore puts the cursor back to a position saved before reading ahead.
func (s *State) restore(idx oplog.Index, next *oplog.Region) {
	s.mu.Lock()
	s.lastReplayedIndex.Store(uint64(idx))
	s.nextDeletedRegion = next
	s.mu.Unlock()
}

func (s *State) savedNextDeletedRegion() *oplog.Region {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextDeletedRegion
}

// readNext consumes the entry after the cursor, hint or not, and follows
// deleted regions. It returns the number of regions jumped so the caller
// can count the read once it keeps it.
func (s *State) readNext(ctx context.Context) (oplog.IndexedEntry, int, error) {
	if s.IsLive() {
		return oplog.IndexedEntry{}, 0, ErrLive
	}

	readIdx := s.last().Next()
	entries, err := s.src.Read(ctx, readIdx, 1)
	if err != nil {
		return oplog.IndexedEntry{}, 0, err
	}
	if len(entries) == 0 || entries[0].Index != readIdx {
		return oplog.IndexedEntry{}, 0, fmt.Errorf("%w: index %d of worker %s (replay target %d)", ErrMissingEntry, readIdx, s.workerID, s.replayTarget)
	}
	entry := entries[0]
	jumps := s.moveTo(readIdx)

	if update, ok := entry.Entry.(oplog.SuccessfulUpdate); ok {
		s.mu.Lock()
		s.events = append(s.events, Event{
			Kind:             EventUpdateReplayed,
			NewVersion:       update.TargetVersion,
			NewActivePlugins: mapset.NewThreadUnsafeSet(update.NewActivePlugins...),
		})
		s.mu.Unlock()
	}
	return entry, jumps, nil
}

func (s *State) recordRead(jumps int) {
	s.metrics.RecordReplayedEntry()
	s.recordJumps(jumps)
}

// GetOplogEntry returns the next entry and consumes the hint entries that
// follow it. The cursor is left right before the next non-hint entry, so
// LastReplayedIndex never points past it. Log lines among the consumed hints
// replace the set queried by SeenLog.
func (s *State) GetOplogEntry(ctx context.Context) (oplog.IndexedEntry, error) {
	entry, jumps, err := s.readNext(ctx)
	if err != nil {
		return oplog.IndexedEntry{}, err
	}
	s.recordRead(jumps)

	seen := mapset.NewThreadUnsafeSet[logHash]()
	for s.IsReplay() {
		savedIdx := s.last()
		savedNext := s.savedNextDeletedRegion()

		hint, jumps, err := s.readNext(ctx)
		if err != nil {
			return oplog.IndexedEntry{}, err
		}
		if !oplog.IsHint(hint.Entry) {
			// Only a peek: the entry is read again by the next call.
			s.restore(savedIdx, savedNext)
			break
		}
		s.recordRead(jumps)
		if log, ok := hint.Entry.(oplog.Log); ok {
			seen.Add(hashLog(log.Level, log.Context, log.Message))
		}
	}
	s.replaceSeenLogs(seen)

	if s.IsLive() {
		s.reportLive()
	}
	return entry, nil
}

// TakeNewReplayEvents returns the events recorded since the previous call.
func (s *State) TakeNewReplayEvents() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.events
	s.events = nil
	return events
}

func (s *State) String() string {
	return fmt.Sprintf("replay(%s, %d/%d)", s.workerID, s.last(), s.replayTarget)
}
