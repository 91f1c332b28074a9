package eventbus

import (
	"context"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/sessionlink/schema"
)

// EventType identifies the event payload.
type EventType string

const (
	// EventStatus carries a connection status transition.
	EventStatus EventType = "status"
	// EventError carries a connection-level error.
	EventError EventType = "error"
	// EventRequest carries an optimistic request lifecycle step.
	EventRequest EventType = "request"
)

// Event represents a UI-facing event emitted by a connection.
type Event struct {
	Type    EventType
	Status  schema.StatusEvent
	Error   schema.ErrorEvent
	Request schema.RequestEvent
}

// Bus fans events out to per-endpoint subscribers.
type Bus struct {
	mu    sync.Mutex
	subs  map[schema.Endpoint]map[chan Event]struct{}
	log   pslog.Logger
	depth int
}

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		subs:  make(map[schema.Endpoint]map[chan Event]struct{}),
		log:   logger,
		depth: 256,
	}
}

// Subscribe registers a subscriber for the endpoint and returns a channel +
// cancel.
func (b *Bus) Subscribe(endpoint schema.Endpoint) (<-chan Event, func()) {
	if b == nil {
		return nil, func() {}
	}
	ch := make(chan Event, b.depth)
	b.mu.Lock()
	endpointSubs := b.subs[endpoint]
	if endpointSubs == nil {
		endpointSubs = make(map[chan Event]struct{})
		b.subs[endpoint] = endpointSubs
	}
	endpointSubs[ch] = struct{}{}
	count := len(endpointSubs)
	b.mu.Unlock()
	if b.log != nil {
		b.log.With("endpoint", endpoint).Debug("eventbus subscribe", "subs", count)
	}
	return ch, func() {
		b.mu.Lock()
		if subs := b.subs[endpoint]; subs != nil {
			delete(subs, ch)
			if len(subs) == 0 {
				delete(b.subs, endpoint)
			}
		}
		b.mu.Unlock()
		close(ch)
		if b.log != nil {
			b.log.With("endpoint", endpoint).Debug("eventbus unsubscribe")
		}
	}
}

// OnStatus publishes a status transition event.
func (b *Bus) OnStatus(event schema.StatusEvent) {
	b.publish(event.Endpoint, Event{Type: EventStatus, Status: event})
}

// OnError publishes a connection error event.
func (b *Bus) OnError(event schema.ErrorEvent) {
	b.publish(event.Endpoint, Event{Type: EventError, Error: event})
}

// OnRequest publishes an optimistic request lifecycle event.
func (b *Bus) OnRequest(event schema.RequestEvent) {
	b.publish(event.Endpoint, Event{Type: EventRequest, Request: event})
}

func (b *Bus) publish(endpoint schema.Endpoint, event Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	endpointSubs := b.subs[endpoint]
	subs := make([]chan Event, 0, len(endpointSubs))
	for sub := range endpointSubs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()
	if len(subs) == 0 {
		return
	}
	dropped := 0
	for _, sub := range subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	if dropped > 0 && b.log != nil {
		b.log.With("endpoint", endpoint).Trace("eventbus dropped", "count", dropped)
	}
}
