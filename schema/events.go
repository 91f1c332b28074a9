package schema

import "time"

// RequestPhase marks a step in an optimistic request's lifecycle as reported
// to the UI.
type RequestPhase string

const (
	// PhaseApplied means a provisional effect is now visible.
	PhaseApplied RequestPhase = "applied"
	// PhaseConfirmed means the server accepted and the provisional entity
	// was replaced by the authoritative one.
	PhaseConfirmed RequestPhase = "confirmed"
	// PhaseRolledBack means the provisional effect was removed.
	PhaseRolledBack RequestPhase = "rolled_back"
	// PhaseFailed means delivery retries were exhausted.
	PhaseFailed RequestPhase = "failed"
)

// StatusEvent reports a connection status transition.
type StatusEvent struct {
	Endpoint Endpoint
	Old      ConnStatus
	New      ConnStatus
}

// ErrorEvent reports a connection-level error. Critical means reconnection
// gave up and user intervention is required.
type ErrorEvent struct {
	Endpoint Endpoint
	Message  string
	Critical bool
}

// RequestEvent reports an optimistic request lifecycle step. Project carries
// the provisional entity for applied and the authoritative entity for
// confirmed. Input and FieldErrors are set on rolled_back so the UI can
// restore exactly what the user had typed.
type RequestEvent struct {
	Endpoint    Endpoint
	RequestID   RequestID
	Phase       RequestPhase
	Project     Project
	Input       ProjectInput
	FieldErrors map[string]string
	At          time.Time
}
