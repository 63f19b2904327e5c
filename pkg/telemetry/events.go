package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a worker lifecycle or output event delivered to subscribers.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	// Type is one of the EventType constants.
	Type string `json:"type"`

	// Source identifies the package that published the event.
	Source string `json:"source"`

	// WorkerID is the "<component>:<name>" worker identity, if applicable.
	WorkerID string `json:"worker_id,omitempty"`

	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	Data map[string]interface{} `json:"data,omitempty"`
}

const (
	EventTypeWorkerCreated   = "worker.created"
	EventTypeWorkerLog       = "worker.log"
	EventTypeWorkerLive      = "worker.live"
	EventTypeOplogJump       = "oplog.jump"
	EventTypeIncompleteWrite = "worker.incomplete_write"
	EventTypeError           = "error"
)

const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher fans events out to subscribers.
// With EnableAsync events are buffered and delivered from a background goroutine,
// otherwise Publish delivers to every subscriber before returning.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config: cfg,
		buffer: make(chan Event, cfg.BufferSize),
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers. A nil publisher drops the event.
func (ep *EventPublisher) Publish(event Event) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishWorkerCreated publishes a worker created event.
func (ep *EventPublisher) PublishWorkerCreated(workerID string, componentVersion uint64) error {
	return ep.Publish(Event{
		Type:     EventTypeWorkerCreated,
		Source:   "executor",
		WorkerID: workerID,
		Message:  fmt.Sprintf("Worker %s created at component version %d", workerID, componentVersion),
		Level:    EventLevelInfo,
		Data: map[string]interface{}{
			"component_version": componentVersion,
		},
	})
}

// PublishWorkerLog publishes a log line emitted by guest code.
// Live is false when the line is re-emitted while replaying.
func (ep *EventPublisher) PublishWorkerLog(workerID, level, logContext, message string, live bool) error {
	return ep.Publish(Event{
		Type:     EventTypeWorkerLog,
		Source:   "executor",
		WorkerID: workerID,
		Message:  message,
		Level:    EventLevelInfo,
		Data: map[string]interface{}{
			"log_level": level,
			"context":   logContext,
			"live":      live,
		},
	})
}

// PublishWorkerLive publishes the replay to live transition of a worker.
func (ep *EventPublisher) PublishWorkerLive(workerID string, replayed uint64) error {
	return ep.Publish(Event{
		Type:     EventTypeWorkerLive,
		Source:   "replay",
		WorkerID: workerID,
		Message:  fmt.Sprintf("Worker %s switched to live after replaying up to index %d", workerID, replayed),
		Level:    EventLevelInfo,
		Data: map[string]interface{}{
			"replayed_index": replayed,
		},
	})
}

// PublishOplogJump publishes a deleted region skipped or recorded for a worker.
func (ep *EventPublisher) PublishOplogJump(workerID, region string) error {
	return ep.Publish(Event{
		Type:     EventTypeOplogJump,
		Source:   "replay",
		WorkerID: workerID,
		Message:  fmt.Sprintf("Worker %s oplog region %s marked deleted", workerID, region),
		Level:    EventLevelInfo,
		Data: map[string]interface{}{
			"region": region,
		},
	})
}

// PublishIncompleteWrite publishes a remote write that was started but never completed.
func (ep *EventPublisher) PublishIncompleteWrite(workerID string, begin uint64) error {
	return ep.Publish(Event{
		Type:     EventTypeIncompleteWrite,
		Source:   "executor",
		WorkerID: workerID,
		Message:  fmt.Sprintf("Worker %s has an incomplete remote write starting at index %d", workerID, begin),
		Level:    EventLevelWarning,
		Data: map[string]interface{}{
			"begin_index": begin,
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
			// drain whatever is already queued before delivering
			for len(batch) < ep.config.MaxBatchSize && len(ep.buffer) > 0 {
				batch = append(batch, <-ep.buffer)
			}
			ep.flushBatch(batch)
			batch = batch[:0]

		case <-ep.ctx.Done():
			for len(ep.buffer) > 0 {
				batch = append(batch, <-ep.buffer)
			}
			if len(batch) > 0 {
				ep.flushBatch(batch)
			}
			return
		}
	}
}

func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent calls subscribers in registration order.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown stops the publisher after delivering buffered events.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}
