package core

import (
	"context"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/sessionlink/schema"
)

// HandlerFunc handles an inbound frame of a subscribed type.
type HandlerFunc func(env schema.Envelope)

// Subscription identifies a registered handler so it can be removed.
type Subscription struct {
	msgType schema.MessageType
	id      uint64
}

// router owns inbound dispatch, the outbound transport queue, and the
// diagnostic history for one connection.
type router struct {
	mu        sync.Mutex
	subs      map[schema.MessageType][]subEntry
	nextSubID uint64
	pending   []schema.Envelope
	maxQueued int
	history   *historyBuffer
	log       pslog.Logger
}

type subEntry struct {
	id uint64
	fn HandlerFunc
}

func newRouter(historySize, maxQueued int, logger pslog.Logger) *router {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	if maxQueued <= 0 {
		maxQueued = schema.DefaultMaxQueuedMessages
	}
	return &router{
		subs:      make(map[schema.MessageType][]subEntry),
		maxQueued: maxQueued,
		history:   newHistory(historySize),
		log:       logger,
	}
}

// on registers a handler for a message type.
func (r *router) on(msgType schema.MessageType, fn HandlerFunc) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSubID++
	id := r.nextSubID
	// copy-on-write keeps an in-flight dispatch pass on the old slice
	entries := r.subs[msgType]
	next := make([]subEntry, len(entries), len(entries)+1)
	copy(next, entries)
	r.subs[msgType] = append(next, subEntry{id: id, fn: fn})
	return Subscription{msgType: msgType, id: id}
}

// off removes a previously registered handler.
func (r *router) off(sub Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.subs[sub.msgType]
	if len(entries) == 0 {
		return
	}
	next := make([]subEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.id == sub.id {
			continue
		}
		next = append(next, entry)
	}
	if len(next) == 0 {
		delete(r.subs, sub.msgType)
		return
	}
	r.subs[sub.msgType] = next
}

// dispatch records the frame in history and fans it out to the subscribers
// registered at dispatch time.
func (r *router) dispatch(env schema.Envelope) {
	r.mu.Lock()
	r.history.Append(env)
	entries := r.subs[env.Type]
	r.mu.Unlock()
	if len(entries) == 0 {
		r.log.Trace("no subscribers for frame", "type", env.Type)
	}
	for _, entry := range entries {
		entry.fn(env)
	}
}

// enqueue appends an outbound message to the pending queue, dropping the
// oldest entry when the bound is exceeded.
func (r *router) enqueue(env schema.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) >= r.maxQueued {
		dropped := r.pending[0]
		r.pending = r.pending[1:]
		r.log.Warn("outbound queue full, dropping oldest", "type", dropped.Type, "max", r.maxQueued)
	}
	r.pending = append(r.pending, env)
}

// popPending removes and returns the oldest queued message.
func (r *router) popPending() (schema.Envelope, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) == 0 {
		return schema.Envelope{}, false
	}
	env := r.pending[0]
	r.pending = r.pending[1:]
	return env, true
}

func (r *router) pendingLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *router) historyFrames() []schema.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.history.Frames()
}
