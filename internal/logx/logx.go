package logx

import (
	"context"

	"pkt.systems/pslog"
	"pkt.systems/sessionlink/schema"
)

type contextKey int

const endpointKey contextKey = iota

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithEndpoint annotates the logger with the endpoint if present.
func WithEndpoint(ctx context.Context, endpoint schema.Endpoint) pslog.Logger {
	log := pslog.Ctx(ctx)
	if endpoint != "" {
		if current, ok := ctx.Value(endpointKey).(schema.Endpoint); ok && current == endpoint {
			return log
		}
		log = log.With("endpoint", endpoint)
	}
	return log
}

// WithProject annotates the logger with a project id when available.
func WithProject(log pslog.Logger, projectID schema.ProjectID) pslog.Logger {
	if projectID != "" {
		log = log.With("project", projectID)
	}
	return log
}

// WithRequest annotates the logger with an optimistic request id.
func WithRequest(log pslog.Logger, requestID schema.RequestID) pslog.Logger {
	if requestID != "" {
		log = log.With("request", requestID)
	}
	return log
}

// ContextWithEndpoint stores the endpoint marker on the context for log
// de-duplication.
func ContextWithEndpoint(ctx context.Context, endpoint schema.Endpoint) context.Context {
	if ctx == nil || endpoint == "" {
		return ctx
	}
	return context.WithValue(ctx, endpointKey, endpoint)
}

// ContextWithEndpointLogger attaches the logger and endpoint marker to the context.
func ContextWithEndpointLogger(ctx context.Context, log pslog.Logger, endpoint schema.Endpoint) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithEndpoint(ctx, endpoint)
}
