package core

import (
	"context"

	"pkt.systems/pslog"
	"pkt.systems/sessionlink/schema"
)

// Transport is a single persistent bidirectional framed connection.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens transports to endpoints.
type Dialer interface {
	Dial(ctx context.Context, endpoint schema.Endpoint) (Transport, error)
}

// MembershipStore persists the joined projects for an endpoint. Failures are
// treated as non-fatal by the connection logic.
type MembershipStore interface {
	LoadMembership(endpoint schema.Endpoint) ([]schema.ProjectID, bool, error)
	SaveMembership(endpoint schema.Endpoint, projects []schema.ProjectID) error
}

// EventSink receives connection and request lifecycle events.
type EventSink interface {
	OnStatus(event schema.StatusEvent)
	OnError(event schema.ErrorEvent)
	OnRequest(event schema.RequestEvent)
}

// ConnDeps captures dependencies required to build a connection.
type ConnDeps struct {
	Dialer Dialer
	Store  MembershipStore
	Sink   EventSink
	Logger pslog.Logger
}

type nopSink struct{}

func (nopSink) OnStatus(schema.StatusEvent)   {}
func (nopSink) OnError(schema.ErrorEvent)     {}
func (nopSink) OnRequest(schema.RequestEvent) {}
