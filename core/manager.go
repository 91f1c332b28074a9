package core

import (
	"context"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/sessionlink/schema"
)

// Manager owns the connections of an application: an explicit registry from
// endpoint to Conn, constructed and torn down deliberately rather than looked
// up through ambient globals.
type Manager struct {
	cfg  schema.ConnConfig
	deps ConnDeps
	log  pslog.Logger

	mu    sync.Mutex
	conns map[schema.Endpoint]*Conn
}

// NewManager constructs a connection manager applying cfg to every new
// connection.
func NewManager(cfg schema.ConnConfig, deps ConnDeps) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Manager{
		cfg:   schema.NormalizeConnConfig(cfg),
		deps:  deps,
		log:   logger,
		conns: make(map[schema.Endpoint]*Conn),
	}
}

// Acquire returns the connection for the endpoint, creating it if needed.
func (m *Manager) Acquire(endpoint schema.Endpoint) (*Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conn, ok := m.conns[endpoint]; ok {
		return conn, nil
	}
	conn, err := NewConn(endpoint, m.cfg, m.deps)
	if err != nil {
		return nil, err
	}
	m.conns[endpoint] = conn
	m.log.Info("connection registered", "endpoint", endpoint, "total", len(m.conns))
	return conn, nil
}

// Get returns the connection for the endpoint if one is registered.
func (m *Manager) Get(endpoint schema.Endpoint) (*Conn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[endpoint]
	return conn, ok
}

// Endpoints lists the registered endpoints.
func (m *Manager) Endpoints() []schema.Endpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	endpoints := make([]schema.Endpoint, 0, len(m.conns))
	for endpoint := range m.conns {
		endpoints = append(endpoints, endpoint)
	}
	return endpoints
}

// Teardown closes and removes the connection for the endpoint.
func (m *Manager) Teardown(endpoint schema.Endpoint) error {
	m.mu.Lock()
	conn, ok := m.conns[endpoint]
	if ok {
		delete(m.conns, endpoint)
	}
	m.mu.Unlock()
	if !ok {
		return schema.ErrConnNotFound
	}
	conn.Close()
	m.log.Info("connection torn down", "endpoint", endpoint)
	return nil
}

// Shutdown closes every registered connection.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	conns := make([]*Conn, 0, len(m.conns))
	for _, conn := range m.conns {
		conns = append(conns, conn)
	}
	m.conns = make(map[schema.Endpoint]*Conn)
	m.mu.Unlock()
	for _, conn := range conns {
		conn.Close()
	}
}
