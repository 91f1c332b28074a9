package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/sessionlink/internal/backoff"
	"pkt.systems/sessionlink/internal/logx"
	"pkt.systems/sessionlink/schema"
)

// Conn owns one physical connection to a session server and drives its
// open/close/error/heartbeat/reconnect lifecycle. All state is guarded by a
// single mutex; timers capture a generation counter so a callback scheduled
// against a torn-down transport is ignored.
type Conn struct {
	endpoint schema.Endpoint
	cfg      schema.ConnConfig
	dialer   Dialer
	sink     EventSink
	log      pslog.Logger
	policy   backoff.Policy

	mu                sync.Mutex
	status            schema.ConnStatus
	transport         Transport
	gen               uint64
	reconnectAttempts int
	reconnectPending  bool
	lastActivity      time.Time
	heartbeatTimer    *time.Timer
	pongTimer         *time.Timer
	reconnectTimer    *time.Timer
	closed            bool

	router   *router
	sessions *sessionRegistry
	coord    *Coordinator
}

// NewConn constructs a connection for the endpoint. Persisted membership is
// loaded immediately; the transport is not opened until Connect.
func NewConn(endpoint schema.Endpoint, cfg schema.ConnConfig, deps ConnDeps) (*Conn, error) {
	if err := schema.ValidateEndpoint(endpoint); err != nil {
		return nil, err
	}
	if deps.Dialer == nil {
		return nil, errors.New("dialer is required")
	}
	cfg = schema.NormalizeConnConfig(cfg)
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	logger = logger.With("endpoint", endpoint)
	sink := deps.Sink
	if sink == nil {
		sink = nopSink{}
	}
	c := &Conn{
		endpoint: endpoint,
		cfg:      cfg,
		dialer:   deps.Dialer,
		sink:     sink,
		log:      logger,
		policy:   backoff.Policy{Base: cfg.BaseDelay, Cap: cfg.MaxDelay},
		status:   schema.StatusDisconnected,
		router:   newRouter(cfg.HistorySize, cfg.MaxQueuedMessages, logger),
		sessions: newSessionRegistry(endpoint, deps.Store, logger),
	}
	c.coord = newCoordinator(endpoint, cfg, c.trySend, sink, logger)
	c.router.on(schema.MessagePong, c.onPong)
	c.router.on(schema.MessageProjectCreated, c.onProjectCreated)
	c.router.on(schema.MessageProjectCreateFailed, c.onProjectCreateFailed)
	return c, nil
}

// Endpoint returns the remote address this connection serves.
func (c *Conn) Endpoint() schema.Endpoint { return c.endpoint }

// Status returns the current connection status.
func (c *Conn) Status() schema.ConnStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// ReconnectAttempts returns the current automatic reconnect attempt count.
func (c *Conn) ReconnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnectAttempts
}

// LastActivity returns the time of the last inbound frame.
func (c *Conn) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// History returns an ordered snapshot of recent inbound frames.
func (c *Conn) History() []schema.Envelope {
	return c.router.historyFrames()
}

// PendingSends returns the number of queued outbound messages.
func (c *Conn) PendingSends() int {
	return c.router.pendingLen()
}

// Members returns the joined projects in original join order.
func (c *Conn) Members() []schema.ProjectID {
	return c.sessions.list()
}

// Requests exposes the optimistic request coordinator.
func (c *Conn) Requests() *Coordinator { return c.coord }

// On subscribes a handler to an inbound message type.
func (c *Conn) On(msgType schema.MessageType, fn HandlerFunc) Subscription {
	return c.router.on(msgType, fn)
}

// Off removes a subscription.
func (c *Conn) Off(sub Subscription) {
	c.router.off(sub)
}

// Connect opens the transport. It is idempotent while connecting or
// connected. An explicit call resets the reconnect attempt counter, so it
// also resumes a connection that exhausted automatic reconnection.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return schema.ErrConnClosed
	}
	switch c.status {
	case schema.StatusConnecting, schema.StatusConnected:
		c.mu.Unlock()
		return nil
	}
	c.stopReconnectLocked()
	c.reconnectAttempts = 0
	c.setStatusLocked(schema.StatusConnecting)
	gen := c.gen
	c.mu.Unlock()
	return c.dial(ctx, gen)
}

// Disconnect closes the connection on user intent: the status immediately
// reflects disconnected, all timers are cancelled, and no automatic
// reconnection follows.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTimersLocked()
	c.closeTransportLocked()
	c.reconnectAttempts = 0
	if c.status != schema.StatusDisconnected {
		c.setStatusLocked(schema.StatusDisconnected)
	}
	c.log.Info("disconnected by request")
}

// Close tears the connection down permanently.
func (c *Conn) Close() {
	c.Disconnect()
	c.coord.Close()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// Send transmits the message when connected, otherwise queues it for the
// next successful connect. It reports whether the message was queued rather
// than sent.
func (c *Conn) Send(env schema.Envelope) (queued bool) {
	c.mu.Lock()
	if c.status == schema.StatusConnected && c.transport != nil {
		err := c.writeLocked(env)
		if err == nil {
			c.mu.Unlock()
			return false
		}
		c.router.enqueue(env)
		c.failLocked("send failed: "+err.Error(), err)
		c.mu.Unlock()
		return true
	}
	c.mu.Unlock()
	c.router.enqueue(env)
	c.log.Debug("message queued while not connected", "type", env.Type)
	return true
}

// Join records membership in the project and, when connected, asserts it
// immediately. Offline joins are replayed on the next connect.
func (c *Conn) Join(projectID schema.ProjectID) {
	if !c.sessions.join(projectID) {
		return
	}
	logx.WithProject(c.log, projectID).Info("joined project")
	c.sendMembership(schema.MessageJoinProject, projectID)
}

// Leave withdraws membership and, when connected, tells the server.
func (c *Conn) Leave(projectID schema.ProjectID) {
	if !c.sessions.leave(projectID) {
		return
	}
	logx.WithProject(c.log, projectID).Info("left project")
	c.sendMembership(schema.MessageLeaveProject, projectID)
}

// Submit starts an optimistic project creation.
func (c *Conn) Submit(input schema.ProjectInput) (schema.RequestID, error) {
	return c.coord.Submit(input)
}

// Cancel abandons a pending optimistic request.
func (c *Conn) Cancel(id schema.RequestID) error {
	return c.coord.Cancel(id)
}

// sendMembership sends a join/leave frame when connected. A failure here is
// absorbed: membership is already recorded and will be replayed.
func (c *Conn) sendMembership(msgType schema.MessageType, projectID schema.ProjectID) {
	env, err := schema.NewEnvelope(msgType, schema.JoinProject{ProjectID: projectID})
	if err != nil {
		c.log.Error("encode membership frame failed", "err", err)
		return
	}
	if !c.trySend(env) {
		c.log.Debug("membership frame deferred until reconnect", "type", msgType, "project", projectID)
	}
}

// trySend writes the message only when connected; it never queues. A write
// error enters the failure path and reports not delivered.
func (c *Conn) trySend(env schema.Envelope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != schema.StatusConnected || c.transport == nil {
		return false
	}
	if err := c.writeLocked(env); err != nil {
		c.failLocked("send failed: "+err.Error(), err)
		return false
	}
	return true
}

func (c *Conn) dial(ctx context.Context, gen uint64) error {
	transport, err := c.dialer.Dial(ctx, c.endpoint)

	c.mu.Lock()
	if c.closed || c.gen != gen || c.status != schema.StatusConnecting {
		c.mu.Unlock()
		if transport != nil {
			_ = transport.Close()
		}
		return nil
	}
	if err != nil {
		c.failLocked("connect failed: "+err.Error(), err)
		c.mu.Unlock()
		return err
	}

	c.transport = transport
	c.gen++
	liveGen := c.gen
	c.reconnectAttempts = 0
	c.lastActivity = time.Now()
	c.setStatusLocked(schema.StatusConnected)
	c.log.Info("connected")

	go c.readLoop(transport, liveGen)
	c.scheduleHeartbeatLocked(liveGen)

	// Membership replay runs before the transport queue flush, and both
	// complete before the mutex is released to new senders.
	c.replayJoinsLocked()
	c.flushPendingLocked()
	stillConnected := c.status == schema.StatusConnected
	c.mu.Unlock()

	if stillConnected {
		c.coord.onConnected()
	}
	return nil
}

// replayJoinsLocked re-asserts membership in original join order.
func (c *Conn) replayJoinsLocked() {
	for _, projectID := range c.sessions.list() {
		if c.status != schema.StatusConnected {
			return
		}
		env, err := schema.NewEnvelope(schema.MessageJoinProject, schema.JoinProject{ProjectID: projectID})
		if err != nil {
			c.log.Error("encode join replay failed", "err", err)
			continue
		}
		if err := c.writeLocked(env); err != nil {
			c.failLocked("join replay failed: "+err.Error(), err)
			return
		}
		c.log.Debug("membership replayed", "project", projectID)
	}
}

// flushPendingLocked sends queued messages in FIFO order. An entry is
// removed once a transmission is attempted (at-least-once delivery).
func (c *Conn) flushPendingLocked() {
	for c.status == schema.StatusConnected {
		env, ok := c.router.popPending()
		if !ok {
			return
		}
		if err := c.writeLocked(env); err != nil {
			c.failLocked("queue flush failed: "+err.Error(), err)
			return
		}
		c.log.Debug("queued message flushed", "type", env.Type)
	}
}

func (c *Conn) writeLocked(env schema.Envelope) error {
	frame, err := env.Encode()
	if err != nil {
		return err
	}
	return c.transport.WriteMessage(frame)
}

func (c *Conn) readLoop(transport Transport, gen uint64) {
	for {
		data, err := transport.ReadMessage()
		if err != nil {
			c.handleReadError(gen, err)
			return
		}
		if !c.handleInbound(gen, data) {
			return
		}
	}
}

func (c *Conn) handleInbound(gen uint64, data []byte) bool {
	c.mu.Lock()
	if c.closed || c.gen != gen {
		c.mu.Unlock()
		return false
	}
	c.lastActivity = time.Now()
	c.mu.Unlock()

	env, err := schema.DecodeEnvelope(data)
	if err != nil {
		c.log.Warn("dropping malformed frame", "err", err, "bytes", len(data))
		return true
	}
	c.router.dispatch(env)
	return true
}

func (c *Conn) handleReadError(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.gen != gen || c.status != schema.StatusConnected {
		return
	}
	c.failLocked("connection lost: "+err.Error(), err)
}

// onPong clears the heartbeat deadline.
func (c *Conn) onPong(schema.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pongTimer != nil {
		c.pongTimer.Stop()
		c.pongTimer = nil
	}
}

func (c *Conn) onProjectCreated(env schema.Envelope) {
	var body schema.ProjectCreated
	if err := env.Decode(&body); err != nil {
		c.log.Warn("dropping malformed confirmation", "err", err)
		return
	}
	c.coord.onConfirmed(body.RequestID, body.Project)
}

func (c *Conn) onProjectCreateFailed(env schema.Envelope) {
	var body schema.ProjectCreateFailed
	if err := env.Decode(&body); err != nil {
		c.log.Warn("dropping malformed rejection", "err", err)
		return
	}
	c.coord.onRejected(body.RequestID, body.Errors)
}

func (c *Conn) scheduleHeartbeatLocked(gen uint64) {
	if c.heartbeatTimer != nil {
		c.heartbeatTimer.Stop()
	}
	c.heartbeatTimer = time.AfterFunc(c.cfg.HeartbeatInterval, func() {
		c.heartbeatFire(gen)
	})
}

func (c *Conn) heartbeatFire(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.gen != gen || c.status != schema.StatusConnected {
		return
	}
	env, err := schema.NewEnvelope(schema.MessagePing, nil)
	if err != nil {
		c.log.Error("encode ping failed", "err", err)
		return
	}
	if err := c.writeLocked(env); err != nil {
		c.failLocked("ping failed: "+err.Error(), err)
		return
	}
	c.log.Trace("ping sent")
	if c.pongTimer != nil {
		c.pongTimer.Stop()
	}
	c.pongTimer = time.AfterFunc(c.cfg.HeartbeatTimeout, func() {
		c.pongDeadline(gen)
	})
	c.scheduleHeartbeatLocked(gen)
}

// pongDeadline treats a missing pong as a stale connection: force-close and
// enter the automatic reconnection path.
func (c *Conn) pongDeadline(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.gen != gen || c.status != schema.StatusConnected {
		return
	}
	c.failLocked(schema.ErrHeartbeatTimeout.Error(), schema.ErrHeartbeatTimeout)
}

// failLocked is the shared failure path for dial errors, read errors, write
// errors, and heartbeat timeouts. It closes the transport and either
// schedules a reconnect attempt or gives up with a critical error.
func (c *Conn) failLocked(message string, cause error) {
	c.closeTransportLocked()
	c.stopHeartbeatLocked()
	c.log.Warn("connection failure", "err", cause)

	if !c.cfg.AutoReconnect {
		c.setStatusLocked(schema.StatusDisconnected)
		c.sink.OnError(schema.ErrorEvent{Endpoint: c.endpoint, Message: message})
		return
	}
	if c.reconnectAttempts >= c.cfg.MaxReconnectAttempts {
		c.setStatusLocked(schema.StatusError)
		c.stopReconnectLocked()
		c.sink.OnError(schema.ErrorEvent{
			Endpoint: c.endpoint,
			Message:  schema.ErrReconnectExhausted.Error() + ": " + message,
			Critical: true,
		})
		c.log.Error("reconnect attempts exhausted", "attempts", c.reconnectAttempts)
		return
	}

	c.reconnectAttempts++
	attempt := c.reconnectAttempts
	delay := c.policy.Delay(attempt)
	// Status stays out of connecting until the scheduled attempt fires.
	c.setStatusLocked(schema.StatusDisconnected)
	c.sink.OnError(schema.ErrorEvent{Endpoint: c.endpoint, Message: message})
	c.reconnectPending = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	c.reconnectTimer = time.AfterFunc(delay, c.reconnectFire)
	c.log.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
}

func (c *Conn) reconnectFire() {
	c.mu.Lock()
	if c.closed || !c.reconnectPending || c.status != schema.StatusDisconnected {
		c.mu.Unlock()
		return
	}
	c.reconnectPending = false
	c.setStatusLocked(schema.StatusConnecting)
	gen := c.gen
	c.mu.Unlock()
	_ = c.dial(context.Background(), gen)
}

func (c *Conn) setStatusLocked(next schema.ConnStatus) {
	if c.status == next {
		return
	}
	old := c.status
	c.status = next
	c.sink.OnStatus(schema.StatusEvent{Endpoint: c.endpoint, Old: old, New: next})
	c.log.Debug("status change", "from", old, "to", next)
}

func (c *Conn) closeTransportLocked() {
	if c.transport != nil {
		_ = c.transport.Close()
		c.transport = nil
	}
	c.gen++
}

func (c *Conn) stopHeartbeatLocked() {
	if c.heartbeatTimer != nil {
		c.heartbeatTimer.Stop()
		c.heartbeatTimer = nil
	}
	if c.pongTimer != nil {
		c.pongTimer.Stop()
		c.pongTimer = nil
	}
}

func (c *Conn) stopReconnectLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.reconnectPending = false
}

func (c *Conn) stopTimersLocked() {
	c.stopHeartbeatLocked()
	c.stopReconnectLocked()
}
