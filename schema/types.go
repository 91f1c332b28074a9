package schema

import "time"

// Endpoint is a remote session server's connection address (ws/wss URI).
type Endpoint string

// ProjectID identifies a logical project (session) on a server.
type ProjectID string

// RequestID correlates an optimistic request with its server response.
type RequestID string

// ConnStatus describes the lifecycle state of a server connection.
type ConnStatus string

const (
	// StatusDisconnected means no transport is open and none is being opened.
	StatusDisconnected ConnStatus = "disconnected"
	// StatusConnecting means a transport open is in flight.
	StatusConnecting ConnStatus = "connecting"
	// StatusConnected means the transport is open and traffic flows.
	StatusConnected ConnStatus = "connected"
	// StatusError means reconnect attempts are exhausted; only an explicit
	// Connect call leaves this state.
	StatusError ConnStatus = "error"
)

// RequestStatus describes the lifecycle state of an optimistic request.
type RequestStatus string

const (
	// RequestPending means the provisional effect is applied and the server
	// has not yet answered.
	RequestPending RequestStatus = "pending"
	// RequestConfirmed means the server accepted the request.
	RequestConfirmed RequestStatus = "confirmed"
	// RequestRolledBack means the request was rejected or cancelled and the
	// provisional effect removed.
	RequestRolledBack RequestStatus = "rolled-back"
	// RequestFailed means delivery retries were exhausted.
	RequestFailed RequestStatus = "failed"
)

// Project is a project entity as seen by the client. Provisional projects
// carry a temporary ID until the server confirms creation.
type Project struct {
	ID          ProjectID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Provisional bool      `json:"provisional,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// ProjectInput is the user-entered payload for a project creation. It is
// snapshotted verbatim so a rejected request can restore the form.
type ProjectInput struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}
