package schema

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MessageType is the wire-level type discriminator used for routing.
type MessageType string

const (
	// MessagePing is a heartbeat probe sent by the client.
	MessagePing MessageType = "ping"
	// MessagePong is the server's heartbeat reply.
	MessagePong MessageType = "pong"
	// MessageJoinProject asserts membership in a project.
	MessageJoinProject MessageType = "join_project"
	// MessageLeaveProject withdraws membership from a project.
	MessageLeaveProject MessageType = "leave_project"
	// MessageCreateProject requests creation of a new project.
	MessageCreateProject MessageType = "create_project"
	// MessageProjectCreated confirms a creation request.
	MessageProjectCreated MessageType = "project_created"
	// MessageProjectCreateFailed rejects a creation request.
	MessageProjectCreateFailed MessageType = "project_create_failed"
)

// Envelope is the framed wire message. Payload holds the type-specific body
// and is left opaque for application message types the client does not know.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// JoinProject is the body of join_project and leave_project frames.
type JoinProject struct {
	ProjectID ProjectID `json:"project_id"`
}

// CreateProject is the body of a create_project frame. The server treats
// RequestID as an idempotency key.
type CreateProject struct {
	RequestID RequestID    `json:"request_id"`
	Input     ProjectInput `json:"input"`
}

// ProjectCreated is the body of a project_created frame.
type ProjectCreated struct {
	RequestID RequestID `json:"request_id"`
	Project   Project   `json:"project"`
}

// ProjectCreateFailed is the body of a project_create_failed frame. Errors
// maps field names to human-readable messages.
type ProjectCreateFailed struct {
	RequestID RequestID         `json:"request_id"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// NewEnvelope marshals body into an envelope of the given type.
func NewEnvelope(msgType MessageType, body any) (Envelope, error) {
	env := Envelope{Type: msgType}
	if body == nil {
		return env, nil
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", msgType, err)
	}
	env.Payload = payload
	return env, nil
}

// DecodeEnvelope parses a raw inbound frame. A frame without a type
// discriminator is malformed.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if strings.TrimSpace(string(env.Type)) == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	return env, nil
}

// Decode unmarshals the envelope payload into body.
func (e Envelope) Decode(body any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%w: empty %s payload", ErrMalformedFrame, e.Type)
	}
	if err := json.Unmarshal(e.Payload, body); err != nil {
		return fmt.Errorf("%w: decode %s payload: %v", ErrMalformedFrame, e.Type, err)
	}
	return nil
}

// Encode renders the envelope as a wire frame.
func (e Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", e.Type, err)
	}
	return data, nil
}
