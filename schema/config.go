package schema

import (
	"strings"
	"time"
)

// ConnConfig defines per-connection behavior.
type ConnConfig struct {
	AutoReconnect        bool
	MaxReconnectAttempts int
	BaseDelay            time.Duration
	MaxDelay             time.Duration
	HeartbeatInterval    time.Duration
	HeartbeatTimeout     time.Duration
	MaxActionRetries     int
	ActionBaseDelay      time.Duration
	ActionMaxDelay       time.Duration
	HistorySize          int
	// MaxQueuedMessages bounds the outbound transport queue; the oldest
	// entry is dropped (with a warning) when the bound is exceeded.
	MaxQueuedMessages int
}

// Defaults for ConnConfig fields left zero.
const (
	DefaultMaxReconnectAttempts = 10
	DefaultBaseDelay            = time.Second
	DefaultMaxDelay             = 30 * time.Second
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultHeartbeatTimeout     = 5 * time.Second
	DefaultMaxActionRetries     = 3
	DefaultActionBaseDelay      = 2 * time.Second
	DefaultActionMaxDelay       = time.Minute
	DefaultHistorySize          = 100
	DefaultMaxQueuedMessages    = 1000
)

// DefaultConnConfig returns the standard connection settings.
func DefaultConnConfig() ConnConfig {
	return ConnConfig{
		AutoReconnect:        true,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		BaseDelay:            DefaultBaseDelay,
		MaxDelay:             DefaultMaxDelay,
		HeartbeatInterval:    DefaultHeartbeatInterval,
		HeartbeatTimeout:     DefaultHeartbeatTimeout,
		MaxActionRetries:     DefaultMaxActionRetries,
		ActionBaseDelay:      DefaultActionBaseDelay,
		ActionMaxDelay:       DefaultActionMaxDelay,
		HistorySize:          DefaultHistorySize,
		MaxQueuedMessages:    DefaultMaxQueuedMessages,
	}
}

// NormalizeConnConfig applies defaults to zero-valued fields.
func NormalizeConnConfig(cfg ConnConfig) ConnConfig {
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if cfg.MaxActionRetries <= 0 {
		cfg.MaxActionRetries = DefaultMaxActionRetries
	}
	if cfg.ActionBaseDelay <= 0 {
		cfg.ActionBaseDelay = DefaultActionBaseDelay
	}
	if cfg.ActionMaxDelay <= 0 {
		cfg.ActionMaxDelay = DefaultActionMaxDelay
	}
	if cfg.ActionMaxDelay < cfg.ActionBaseDelay {
		cfg.ActionMaxDelay = cfg.ActionBaseDelay
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if cfg.MaxQueuedMessages <= 0 {
		cfg.MaxQueuedMessages = DefaultMaxQueuedMessages
	}
	return cfg
}

// ValidateEndpoint checks that the endpoint is a ws or wss URI.
func ValidateEndpoint(endpoint Endpoint) error {
	value := strings.TrimSpace(string(endpoint))
	if value == "" {
		return ErrInvalidEndpoint
	}
	if !strings.HasPrefix(value, "ws://") && !strings.HasPrefix(value, "wss://") {
		return ErrInvalidEndpoint
	}
	if strings.TrimPrefix(strings.TrimPrefix(value, "wss://"), "ws://") == "" {
		return ErrInvalidEndpoint
	}
	return nil
}
