// Package bus implements the event fan-out between ingestion and the push
// stream consumers (websocket clients, notification dispatcher).
//
// Delivery is non-blocking by construction: every subscriber owns a bounded
// buffer and an overflowing subscriber loses its oldest buffered event
// rather than slowing ingestion down. That is the system's backpressure
// policy; slow observers degrade in freshness, never in ingest throughput.
package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// EventType tags the payload carried by an Event.
type EventType string

const (
	// EventMetric carries a models.MetricSnapshot.
	EventMetric EventType = "metric"

	// EventAlert carries an alert transition (models.Alert plus its kind).
	EventAlert EventType = "alert"

	// EventEntityStatus carries an entity liveness/status change.
	EventEntityStatus EventType = "entity_status"
)

// Event is one item fanned out to all subscribers.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Stats is a point-in-time view of bus activity.
type Stats struct {
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
}

type subscriber struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// deliver enqueues evt without ever blocking. When the buffer is full the
// oldest buffered event is discarded to make room. The subscriber mutex
// serializes competing producers; the consumer side only drains, so the
// pop-then-push below always terminates.
func (s *subscriber) deliver(evt Event) (dropped uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	for {
		select {
		case s.ch <- evt:
			return dropped
		default:
			select {
			case <-s.ch:
				dropped++
			default:
			}
		}
	}
}

// Bus is a single-process fan-out. The ingestion coordinator is the main
// producer; alert mutations from the API publish through it as well, so
// Publish is safe for concurrent use.
type Bus struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}

	capacity  int
	logger    *zap.Logger
	published atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a Bus whose subscribers buffer up to capacity events each.
func New(capacity int, logger *zap.Logger) *Bus {
	if capacity < 1 {
		capacity = 1
	}
	return &Bus{
		subs:     make(map[*subscriber]struct{}),
		capacity: capacity,
		logger:   logger.With(zap.String("component", "bus")),
	}
}

// Subscribe registers a new consumer and returns its channel plus an
// unsubscribe function. Unsubscribing closes the channel, releases the
// buffer and is idempotent; it is safe to call while deliveries are in
// flight.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, b.capacity)}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, sub)
			b.mu.Unlock()

			sub.mu.Lock()
			sub.closed = true
			close(sub.ch)
			sub.mu.Unlock()
		})
	}

	return sub.ch, unsubscribe
}

// Publish fans evt out to every current subscriber. It never blocks on a
// slow consumer. A zero event timestamp is stamped with the current time.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	b.published.Add(1)

	for _, s := range subs {
		if n := s.deliver(evt); n > 0 {
			b.dropped.Add(n)
			b.logger.Debug("subscriber buffer overflow, dropped oldest",
				zap.Uint64("dropped", n),
				zap.String("event_type", string(evt.Type)))
		}
	}
}

// Dropped returns the total number of events discarded across all
// subscribers since the bus was created.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Stats returns current bus counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()
	return Stats{
		Subscribers: n,
		Published:   b.published.Load(),
		Dropped:     b.dropped.Load(),
	}
}
