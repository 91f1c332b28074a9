package sessionlink

import (
	"context"
	"errors"

	"pkt.systems/pslog"
	"pkt.systems/sessionlink/core"
	"pkt.systems/sessionlink/internal/eventbus"
	"pkt.systems/sessionlink/internal/persist"
	"pkt.systems/sessionlink/internal/transport"
	"pkt.systems/sessionlink/schema"
)

// ClientConfig configures the compositor.
type ClientConfig struct {
	Conn     schema.ConnConfig
	StateDir string
}

// ClientDeps captures dependencies required to build the client. Zero fields
// get working defaults: a websocket dialer, an on-disk membership store under
// StateDir (or no persistence when StateDir is empty), and a noop logger.
type ClientDeps struct {
	Dialer    core.Dialer
	Store     core.MembershipStore
	EventSink core.EventSink
	Logger    pslog.Logger
}

// ClientOption toggles compositor components.
type ClientOption func(*clientOptions)

type clientOptions struct {
	enableBus bool
}

// WithEventBus enables the subscription bus behind Subscribe.
func WithEventBus() ClientOption {
	return func(o *clientOptions) { o.enableBus = true }
}

// Client manages one session-sync connection per endpoint.
type Client struct {
	manager *core.Manager
	bus     *eventbus.Bus
	log     pslog.Logger
}

// New constructs a composable session-sync client.
func New(cfg ClientConfig, deps ClientDeps, opts ...ClientOption) (*Client, error) {
	options := clientOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}

	dialer := deps.Dialer
	if dialer == nil {
		dialer = transport.NewDialer()
	}

	store := deps.Store
	if store == nil && cfg.StateDir != "" {
		diskStore, err := persist.NewStoreWithLogger(cfg.StateDir, logger)
		if err != nil {
			return nil, err
		}
		store = diskStore
	}

	var bus *eventbus.Bus
	if options.enableBus {
		bus = eventbus.New(logger)
	}

	sink := deps.EventSink
	if bus != nil {
		sinks := make([]core.EventSink, 0, 2)
		if sink != nil {
			sinks = append(sinks, sink)
		}
		sinks = append(sinks, bus)
		if len(sinks) == 1 {
			sink = sinks[0]
		} else {
			sink = eventFanout{sinks: sinks}
		}
	}

	manager := core.NewManager(cfg.Conn, core.ConnDeps{
		Dialer: dialer,
		Store:  store,
		Sink:   sink,
		Logger: logger,
	})

	return &Client{
		manager: manager,
		bus:     bus,
		log:     logger,
	}, nil
}

// Connect establishes (or re-establishes) the connection for endpoint,
// creating it on first use.
func (c *Client) Connect(ctx context.Context, endpoint schema.Endpoint) error {
	conn, err := c.manager.Acquire(endpoint)
	if err != nil {
		return err
	}
	return conn.Connect(ctx)
}

// Disconnect closes the connection for endpoint without tearing down its
// membership or queued traffic.
func (c *Client) Disconnect(endpoint schema.Endpoint) error {
	conn, ok := c.manager.Get(endpoint)
	if !ok {
		return schema.ErrConnNotFound
	}
	conn.Disconnect()
	return nil
}

// Teardown disconnects and removes the connection for endpoint.
func (c *Client) Teardown(endpoint schema.Endpoint) error {
	return c.manager.Teardown(endpoint)
}

// Status reports the connection status for endpoint.
func (c *Client) Status(endpoint schema.Endpoint) (schema.ConnStatus, bool) {
	conn, ok := c.manager.Get(endpoint)
	if !ok {
		return schema.StatusDisconnected, false
	}
	return conn.Status(), true
}

// Endpoints returns the endpoints with managed connections.
func (c *Client) Endpoints() []schema.Endpoint {
	return c.manager.Endpoints()
}

// Conn exposes the managed connection for endpoint.
func (c *Client) Conn(endpoint schema.Endpoint) (*core.Conn, bool) {
	return c.manager.Get(endpoint)
}

// Join adds endpoint's connection to projectID, announcing it when connected.
func (c *Client) Join(endpoint schema.Endpoint, projectID schema.ProjectID) error {
	conn, err := c.manager.Acquire(endpoint)
	if err != nil {
		return err
	}
	conn.Join(projectID)
	return nil
}

// Leave removes endpoint's connection from projectID.
func (c *Client) Leave(endpoint schema.Endpoint, projectID schema.ProjectID) error {
	conn, ok := c.manager.Get(endpoint)
	if !ok {
		return schema.ErrConnNotFound
	}
	conn.Leave(projectID)
	return nil
}

// Send delivers env to endpoint, queueing it when the connection is down.
// The returned bool reports whether the envelope was queued rather than sent.
func (c *Client) Send(endpoint schema.Endpoint, env schema.Envelope) (bool, error) {
	conn, ok := c.manager.Get(endpoint)
	if !ok {
		return false, schema.ErrConnNotFound
	}
	return conn.Send(env), nil
}

// Submit starts an optimistic project creation on endpoint.
func (c *Client) Submit(endpoint schema.Endpoint, input schema.ProjectInput) (schema.RequestID, error) {
	conn, ok := c.manager.Get(endpoint)
	if !ok {
		return "", schema.ErrConnNotFound
	}
	return conn.Submit(input)
}

// Cancel rolls back a pending optimistic request on endpoint.
func (c *Client) Cancel(endpoint schema.Endpoint, id schema.RequestID) error {
	conn, ok := c.manager.Get(endpoint)
	if !ok {
		return schema.ErrConnNotFound
	}
	return conn.Cancel(id)
}

// Subscribe streams lifecycle events for endpoint. Requires WithEventBus.
func (c *Client) Subscribe(endpoint schema.Endpoint) (<-chan eventbus.Event, func(), error) {
	if c.bus == nil {
		return nil, nil, errors.New("event bus not enabled")
	}
	events, cancel := c.bus.Subscribe(endpoint)
	return events, cancel, nil
}

// Close tears down every managed connection.
func (c *Client) Close() {
	c.manager.Shutdown()
}
