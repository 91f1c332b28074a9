// Package transport provides the WebSocket transport used by core
// connections. It wraps gorilla/websocket behind the narrow core.Transport
// surface so connection logic can be tested against fakes.
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"pkt.systems/sessionlink/core"
	"pkt.systems/sessionlink/schema"
)

// DefaultHandshakeTimeout bounds the opening handshake.
const DefaultHandshakeTimeout = 10 * time.Second

// WebSocketDialer opens framed WebSocket connections to endpoints.
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
}

var _ core.Dialer = (*WebSocketDialer)(nil)

// NewDialer constructs a dialer with default settings.
func NewDialer() *WebSocketDialer {
	return &WebSocketDialer{HandshakeTimeout: DefaultHandshakeTimeout}
}

// Dial opens a transport to the endpoint.
func (d *WebSocketDialer) Dial(ctx context.Context, endpoint schema.Endpoint) (core.Transport, error) {
	if err := schema.ValidateEndpoint(endpoint); err != nil {
		return nil, err
	}
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.DialContext(ctx, string(endpoint), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (t *wsTransport) WriteMessage(data []byte) error {
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}
