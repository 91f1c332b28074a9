package appconfig

import (
	"os"
	"path/filepath"
	"time"

	"pkt.systems/sessionlink/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int              `mapstructure:"config_version" yaml:"config_version"`
	StateDir      string           `mapstructure:"state_dir" yaml:"state_dir"`
	Endpoints     []EndpointConfig `mapstructure:"endpoints" yaml:"endpoints"`
	Connection    ConnectionConfig `mapstructure:"connection" yaml:"connection"`
	Logging       LoggingConfig    `mapstructure:"logging" yaml:"logging"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// EndpointConfig declares a sync server and the projects to join on it.
type EndpointConfig struct {
	URL      string   `mapstructure:"url" yaml:"url"`
	Projects []string `mapstructure:"projects" yaml:"projects"`
}

// ConnectionConfig controls reconnect, heartbeat, and retry behavior.
// Zero fields fall back to the built-in defaults.
type ConnectionConfig struct {
	AutoReconnect        bool `mapstructure:"auto_reconnect" yaml:"auto_reconnect"`
	MaxReconnectAttempts int  `mapstructure:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`
	BaseDelayMS          int  `mapstructure:"base_delay_ms" yaml:"base_delay_ms"`
	MaxDelayMS           int  `mapstructure:"max_delay_ms" yaml:"max_delay_ms"`
	HeartbeatIntervalMS  int  `mapstructure:"heartbeat_interval_ms" yaml:"heartbeat_interval_ms"`
	HeartbeatTimeoutMS   int  `mapstructure:"heartbeat_timeout_ms" yaml:"heartbeat_timeout_ms"`
	MaxActionRetries     int  `mapstructure:"max_action_retries" yaml:"max_action_retries"`
	ActionBaseDelayMS    int  `mapstructure:"action_base_delay_ms" yaml:"action_base_delay_ms"`
	ActionMaxDelayMS     int  `mapstructure:"action_max_delay_ms" yaml:"action_max_delay_ms"`
	HistoryBufferSize    int  `mapstructure:"history_buffer_size" yaml:"history_buffer_size"`
	MaxQueuedMessages    int  `mapstructure:"max_queued_messages" yaml:"max_queued_messages"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// ConnConfig converts the connection settings to schema form with defaults
// applied.
func (c ConnectionConfig) ConnConfig() schema.ConnConfig {
	return schema.NormalizeConnConfig(schema.ConnConfig{
		AutoReconnect:        c.AutoReconnect,
		MaxReconnectAttempts: c.MaxReconnectAttempts,
		BaseDelay:            time.Duration(c.BaseDelayMS) * time.Millisecond,
		MaxDelay:             time.Duration(c.MaxDelayMS) * time.Millisecond,
		HeartbeatInterval:    time.Duration(c.HeartbeatIntervalMS) * time.Millisecond,
		HeartbeatTimeout:     time.Duration(c.HeartbeatTimeoutMS) * time.Millisecond,
		MaxActionRetries:     c.MaxActionRetries,
		ActionBaseDelay:      time.Duration(c.ActionBaseDelayMS) * time.Millisecond,
		ActionMaxDelay:       time.Duration(c.ActionMaxDelayMS) * time.Millisecond,
		HistorySize:          c.HistoryBufferSize,
		MaxQueuedMessages:    c.MaxQueuedMessages,
	})
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	defaults := schema.DefaultConnConfig()
	return Config{
		ConfigVersion: CurrentConfigVersion,
		StateDir:      filepath.Join(home, ".sessionlink", "state"),
		Endpoints:     []EndpointConfig{},
		Connection: ConnectionConfig{
			AutoReconnect:        defaults.AutoReconnect,
			MaxReconnectAttempts: defaults.MaxReconnectAttempts,
			BaseDelayMS:          int(defaults.BaseDelay / time.Millisecond),
			MaxDelayMS:           int(defaults.MaxDelay / time.Millisecond),
			HeartbeatIntervalMS:  int(defaults.HeartbeatInterval / time.Millisecond),
			HeartbeatTimeoutMS:   int(defaults.HeartbeatTimeout / time.Millisecond),
			MaxActionRetries:     defaults.MaxActionRetries,
			ActionBaseDelayMS:    int(defaults.ActionBaseDelay / time.Millisecond),
			ActionMaxDelayMS:     int(defaults.ActionMaxDelay / time.Millisecond),
			HistoryBufferSize:    defaults.HistorySize,
			MaxQueuedMessages:    defaults.MaxQueuedMessages,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "structured",
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".sessionlink", "config.yaml"), nil
}
