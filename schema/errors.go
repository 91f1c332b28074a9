package schema

import "errors"

var (
	// ErrInvalidEndpoint indicates a missing or non-ws endpoint URI.
	ErrInvalidEndpoint = errors.New("invalid endpoint")
	// ErrNotConnected indicates the transport is not open.
	ErrNotConnected = errors.New("not connected")
	// ErrConnClosed indicates the connection was torn down.
	ErrConnClosed = errors.New("connection closed")
	// ErrMalformedFrame indicates an inbound frame that could not be decoded.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrHeartbeatTimeout indicates a missing pong within the deadline.
	ErrHeartbeatTimeout = errors.New("heartbeat timeout")
	// ErrReconnectExhausted indicates automatic reconnection gave up.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	// ErrRetriesExhausted indicates an optimistic request ran out of retries.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrRequestNotFound indicates an unknown optimistic request id.
	ErrRequestNotFound = errors.New("request not found")
	// ErrEmptyInput indicates a submission without a project name.
	ErrEmptyInput = errors.New("project name is required")
	// ErrConnNotFound indicates no connection is registered for the endpoint.
	ErrConnNotFound = errors.New("connection not found")
)
