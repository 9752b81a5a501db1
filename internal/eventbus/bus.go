// Package eventbus routes fire-and-forget speaker commands from the feed,
// the system mixer and MQTT to the dispatcher through a bounded worker pool.
package eventbus

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/fideliod/internal/speaker"
)

// EventType represents the type of event
type EventType string

const (
	EventTypeFeed         EventType = "feed"
	EventTypeSystemVolume EventType = "system_volume"
	EventTypeMQTT         EventType = "mqtt"
	EventTypeStateChanged EventType = "state_changed"
)

// CommandTypes are the event types that carry a mutation for a speaker.
var CommandTypes = []EventType{EventTypeFeed, EventTypeSystemVolume, EventTypeMQTT}

// Default configuration
const (
	DefaultWorkerCount = 4
	DefaultQueueSize   = 100
)

// Event represents an event in the system
type Event struct {
	Type    EventType
	ID      string
	Speaker string
	Desired speaker.Desired
	Report  *speaker.Report // set on state_changed only
	Time    time.Time
}

// NewEvent stamps a new event with an id and the current time.
func NewEvent(t EventType, speakerName string, desired speaker.Desired) Event {
	return Event{
		Type:    t,
		ID:      uuid.NewString(),
		Speaker: speakerName,
		Desired: desired,
		Time:    time.Now(),
	}
}

// NewStateChanged wraps a finished apply.
func NewStateChanged(report speaker.Report) Event {
	return Event{
		Type:    EventTypeStateChanged,
		ID:      report.ID,
		Speaker: report.Speaker,
		Desired: report.Desired,
		Report:  &report,
		Time:    time.Now(),
	}
}

// Forward returns an Observer that publishes every apply as a state_changed
// event, so that slow observers run on the bus instead of inside Apply.
func (b *Bus) Forward() speaker.Observer {
	return speaker.ObserverFunc(func(r speaker.Report) {
		b.Publish(NewStateChanged(r))
	})
}

// Observe delivers state_changed events to o.
func (b *Bus) Observe(o speaker.Observer) {
	b.Subscribe(EventTypeStateChanged, func(e Event) {
		if e.Report != nil {
			o.ApplyCompleted(*e.Report)
		}
	})
}

// Handler is a function that handles events
type Handler func(Event)

// work represents a unit of work for the worker pool
type work struct {
	event   Event
	handler Handler
}

// Bus provides event routing with a bounded worker pool. Events for the same
// speaker always land on the same worker, so they are handled in publish
// order.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler

	queues []chan work
	wg     sync.WaitGroup
	closed bool
}

// New creates a new event bus with default settings
func New() *Bus {
	return NewWithConfig(DefaultWorkerCount, DefaultQueueSize)
}

// NewWithConfig creates a new event bus with custom worker count and per-worker
// queue size
func NewWithConfig(workerCount, queueSize int) *Bus {
	if workerCount < 1 {
		workerCount = DefaultWorkerCount
	}
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}

	b := &Bus{
		handlers: make(map[EventType][]Handler),
		queues:   make([]chan work, workerCount),
	}

	for i := range b.queues {
		b.queues[i] = make(chan work, queueSize)
		b.wg.Add(1)
		go b.worker(i, b.queues[i])
	}

	log.Debug().Int("workers", workerCount).Int("queue_size", queueSize).Msg("Event bus worker pool started")
	return b
}

// worker processes events from its queue
func (b *Bus) worker(id int, queue <-chan work) {
	defer b.wg.Done()

	for w := range queue {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Interface("panic", r).
						Str("event_type", string(w.event.Type)).
						Str("speaker", w.event.Speaker).
						Int("worker", id).
						Msg("Event handler panicked")
				}
			}()
			w.handler(w.event)
		}()
	}
}

// Subscribe registers a handler for a specific event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish sends an event to all subscribed handlers.
// Non-blocking: if the worker queue is full or the bus is closed, events are
// dropped.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		log.Warn().Str("event_type", string(event.Type)).Msg("Event bus closed, dropping event")
		return
	}

	queue := b.queues[b.shard(event.Speaker)]
	for _, handler := range b.handlers[event.Type] {
		select {
		case queue <- work{event: event, handler: handler}:
		default:
			log.Warn().
				Str("event_type", string(event.Type)).
				Str("speaker", event.Speaker).
				Msg("Event bus queue full, dropping event")
		}
	}
}

func (b *Bus) shard(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(b.queues)))
}

// Close shuts down the worker pool gracefully.
// Queued events are still handled unless ctx expires first.
func (b *Bus) Close(ctx context.Context) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, q := range b.queues {
		close(q)
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug().Msg("Event bus workers stopped gracefully")
	case <-ctx.Done():
		log.Warn().Msg("Event bus shutdown timed out, some events may be lost")
	}
}
