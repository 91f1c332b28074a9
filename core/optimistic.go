package core

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pkt.systems/pslog"
	"pkt.systems/sessionlink/internal/backoff"
	"pkt.systems/sessionlink/internal/logx"
	"pkt.systems/sessionlink/schema"
)

// Coordinator manages optimistic requests for one connection: actions that
// must appear to succeed in the UI before the server confirms them. It keeps
// its own action-level queue and retry state, independent of the connection's
// reconnect policy.
type Coordinator struct {
	endpoint schema.Endpoint
	deliver  func(env schema.Envelope) bool
	sink     EventSink
	log      pslog.Logger
	policy   backoff.Policy
	maxTries int

	mu         sync.Mutex
	requests   map[schema.RequestID]*optimisticRequest
	queue      []schema.RequestID
	retrying   bool
	attempt    int
	lastError  string
	retryTimer *time.Timer
	closed     bool
}

type optimisticRequest struct {
	id         schema.RequestID
	input      schema.ProjectInput
	createdAt  time.Time
	retryCount int
	status     schema.RequestStatus
	project    schema.Project
}

// RequestSnapshot is a read-only view of an optimistic request.
type RequestSnapshot struct {
	ID         schema.RequestID
	Input      schema.ProjectInput
	CreatedAt  time.Time
	RetryCount int
	Status     schema.RequestStatus
	Project    schema.Project
}

// RetrySnapshot is a read-only view of the coordinator's retry state.
type RetrySnapshot struct {
	Retrying  bool
	Attempt   int
	Queued    int
	LastError string
}

func newCoordinator(endpoint schema.Endpoint, cfg schema.ConnConfig, deliver func(schema.Envelope) bool, sink EventSink, logger pslog.Logger) *Coordinator {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	if sink == nil {
		sink = nopSink{}
	}
	return &Coordinator{
		endpoint: endpoint,
		deliver:  deliver,
		sink:     sink,
		log:      logger,
		policy:   backoff.Policy{Base: cfg.ActionBaseDelay, Cap: cfg.ActionMaxDelay},
		maxTries: cfg.MaxActionRetries,
		requests: make(map[schema.RequestID]*optimisticRequest),
	}
}

// Submit applies a provisional project for the given input and attempts to
// deliver the create message. If the connection is not open the request is
// queued and retried on the coordinator's own backoff schedule.
func (c *Coordinator) Submit(input schema.ProjectInput) (schema.RequestID, error) {
	if strings.TrimSpace(input.Name) == "" {
		return "", schema.ErrEmptyInput
	}
	id := schema.RequestID(uuid.NewString())
	provisional := schema.Project{
		ID:          schema.ProjectID("pending-" + uuid.NewString()),
		Name:        input.Name,
		Description: input.Description,
		Provisional: true,
		CreatedAt:   time.Now(),
	}
	req := &optimisticRequest{
		id:        id,
		input:     input,
		createdAt: time.Now(),
		status:    schema.RequestPending,
		project:   provisional,
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", schema.ErrConnClosed
	}
	c.requests[id] = req
	c.mu.Unlock()

	c.sink.OnRequest(schema.RequestEvent{
		Endpoint:  c.endpoint,
		RequestID: id,
		Phase:     schema.PhaseApplied,
		Project:   provisional,
		Input:     input,
		At:        time.Now(),
	})

	log := logx.WithRequest(c.log, id)
	if c.deliverCreate(req) {
		log.Debug("create submitted")
		return id, nil
	}

	c.mu.Lock()
	c.queue = append(c.queue, id)
	c.scheduleRetryLocked()
	queued := len(c.queue)
	c.mu.Unlock()
	log.Info("create queued for retry", "queued", queued)
	return id, nil
}

// Cancel abandons a pending request: the provisional effect is rolled back
// with no error payload.
func (c *Coordinator) Cancel(id schema.RequestID) error {
	return c.rollback(id, nil)
}

// Request returns a snapshot of the request with the given id.
func (c *Coordinator) Request(id schema.RequestID) (RequestSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, ok := c.requests[id]
	if !ok {
		return RequestSnapshot{}, false
	}
	return snapshotOf(req), true
}

// Projects returns the project entity of every live request: provisional
// entities for pending requests and authoritative ones for confirmed
// requests. Each request id contributes at most one entity.
func (c *Coordinator) Projects() []schema.Project {
	c.mu.Lock()
	defer c.mu.Unlock()
	projects := make([]schema.Project, 0, len(c.requests))
	for _, req := range c.requests {
		if req.status != schema.RequestPending && req.status != schema.RequestConfirmed {
			continue
		}
		projects = append(projects, req.project)
	}
	return projects
}

// RetryState returns a snapshot of the action-level retry state.
func (c *Coordinator) RetryState() RetrySnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return RetrySnapshot{
		Retrying:  c.retrying,
		Attempt:   c.attempt,
		Queued:    len(c.queue),
		LastError: c.lastError,
	}
}

// onConnected drains the action queue after a successful connect.
func (c *Coordinator) onConnected() {
	c.mu.Lock()
	if c.closed || len(c.queue) == 0 {
		c.mu.Unlock()
		return
	}
	c.stopRetryLocked()
	c.mu.Unlock()
	c.drainQueue()
}

// onConfirmed replaces the provisional entity with the authoritative one.
func (c *Coordinator) onConfirmed(id schema.RequestID, project schema.Project) {
	c.mu.Lock()
	req, ok := c.requests[id]
	if !ok || req.status != schema.RequestPending {
		c.mu.Unlock()
		c.log.Debug("confirmation for unknown request", "request", id)
		return
	}
	req.status = schema.RequestConfirmed
	req.project = project
	c.removeFromQueueLocked(id)
	input := req.input
	c.mu.Unlock()

	c.sink.OnRequest(schema.RequestEvent{
		Endpoint:  c.endpoint,
		RequestID: id,
		Phase:     schema.PhaseConfirmed,
		Project:   project,
		Input:     input,
		At:        time.Now(),
	})
	logx.WithRequest(c.log, id).Info("create confirmed", "project", project.ID)
}

// onRejected removes the provisional entity and surfaces the field errors
// together with the original input snapshot.
func (c *Coordinator) onRejected(id schema.RequestID, fieldErrors map[string]string) {
	if err := c.rollback(id, fieldErrors); err != nil {
		c.log.Debug("rejection for unknown request", "request", id)
	}
}

// Close stops the retry loop. Pending requests are left in place.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.stopRetryLocked()
}

func (c *Coordinator) rollback(id schema.RequestID, fieldErrors map[string]string) error {
	c.mu.Lock()
	req, ok := c.requests[id]
	if !ok || req.status != schema.RequestPending {
		c.mu.Unlock()
		return schema.ErrRequestNotFound
	}
	req.status = schema.RequestRolledBack
	req.project = schema.Project{}
	c.removeFromQueueLocked(id)
	input := req.input
	c.mu.Unlock()

	c.sink.OnRequest(schema.RequestEvent{
		Endpoint:    c.endpoint,
		RequestID:   id,
		Phase:       schema.PhaseRolledBack,
		Input:       input,
		FieldErrors: fieldErrors,
		At:          time.Now(),
	})
	logx.WithRequest(c.log, id).Info("create rolled back", "errors", len(fieldErrors))
	return nil
}

func (c *Coordinator) deliverCreate(req *optimisticRequest) bool {
	env, err := schema.NewEnvelope(schema.MessageCreateProject, schema.CreateProject{
		RequestID: req.id,
		Input:     req.input,
	})
	if err != nil {
		logx.WithRequest(c.log, req.id).Error("encode create failed", "err", err)
		return false
	}
	return c.deliver(env)
}

// retryFire attempts delivery of the oldest queued request. Each failed
// attempt counts against that request; once its retries are exhausted it
// fails terminally and is surfaced, never silently discarded.
func (c *Coordinator) retryFire() {
	c.mu.Lock()
	if c.closed || !c.retrying {
		c.mu.Unlock()
		return
	}
	if len(c.queue) == 0 {
		c.stopRetryLocked()
		c.mu.Unlock()
		return
	}
	id := c.queue[0]
	req := c.requests[id]
	c.mu.Unlock()

	if req == nil {
		c.mu.Lock()
		c.removeFromQueueLocked(id)
		c.rearmRetryLocked()
		c.mu.Unlock()
		return
	}

	if c.deliverCreate(req) {
		c.mu.Lock()
		c.removeFromQueueLocked(id)
		c.attempt = 0
		c.lastError = ""
		c.mu.Unlock()
		logx.WithRequest(c.log, id).Info("queued create delivered")
		c.drainQueue()
		return
	}

	var failed *optimisticRequest
	c.mu.Lock()
	req.retryCount++
	c.lastError = schema.ErrNotConnected.Error()
	if req.retryCount >= c.maxTries {
		req.status = schema.RequestFailed
		req.project = schema.Project{}
		c.removeFromQueueLocked(id)
		c.lastError = schema.ErrRetriesExhausted.Error()
		failed = req
	}
	c.rearmRetryLocked()
	c.mu.Unlock()

	if failed != nil {
		c.sink.OnRequest(schema.RequestEvent{
			Endpoint:  c.endpoint,
			RequestID: failed.id,
			Phase:     schema.PhaseFailed,
			Input:     failed.input,
			At:        time.Now(),
		})
		logx.WithRequest(c.log, failed.id).Warn("create failed, retries exhausted", "retries", failed.retryCount)
	}
}

// drainQueue delivers queued requests in FIFO order until one fails to send.
func (c *Coordinator) drainQueue() {
	for {
		c.mu.Lock()
		if c.closed || len(c.queue) == 0 {
			c.stopRetryLocked()
			c.mu.Unlock()
			return
		}
		id := c.queue[0]
		req := c.requests[id]
		if req == nil {
			c.removeFromQueueLocked(id)
			c.mu.Unlock()
			continue
		}
		c.mu.Unlock()

		if !c.deliverCreate(req) {
			c.mu.Lock()
			c.scheduleRetryLocked()
			c.mu.Unlock()
			return
		}
		c.mu.Lock()
		c.removeFromQueueLocked(id)
		c.attempt = 0
		c.lastError = ""
		c.mu.Unlock()
		logx.WithRequest(c.log, id).Info("queued create delivered")
	}
}

func (c *Coordinator) scheduleRetryLocked() {
	if c.closed || len(c.queue) == 0 {
		return
	}
	if c.retrying && c.retryTimer != nil {
		return
	}
	c.retrying = true
	c.attempt++
	delay := c.policy.Delay(c.attempt)
	c.retryTimer = time.AfterFunc(delay, c.retryFire)
}

func (c *Coordinator) rearmRetryLocked() {
	if c.closed || len(c.queue) == 0 {
		c.stopRetryLocked()
		return
	}
	c.attempt++
	delay := c.policy.Delay(c.attempt)
	c.retryTimer = time.AfterFunc(delay, c.retryFire)
}

func (c *Coordinator) removeFromQueueLocked(id schema.RequestID) {
	next := make([]schema.RequestID, 0, len(c.queue))
	for _, queued := range c.queue {
		if queued == id {
			continue
		}
		next = append(next, queued)
	}
	c.queue = next
}

func (c *Coordinator) stopRetryLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	c.retrying = false
	c.attempt = 0
}

func snapshotOf(req *optimisticRequest) RequestSnapshot {
	return RequestSnapshot{
		ID:         req.id,
		Input:      req.input,
		CreatedAt:  req.createdAt,
		RetryCount: req.retryCount,
		Status:     req.status,
		Project:    req.project,
	}
}
