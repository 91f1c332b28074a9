package appconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"pkt.systems/sessionlink/schema"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("state_dir", cfg.StateDir)
	v.SetDefault("connection.auto_reconnect", cfg.Connection.AutoReconnect)
	v.SetDefault("connection.max_reconnect_attempts", cfg.Connection.MaxReconnectAttempts)
	v.SetDefault("connection.base_delay_ms", cfg.Connection.BaseDelayMS)
	v.SetDefault("connection.max_delay_ms", cfg.Connection.MaxDelayMS)
	v.SetDefault("connection.heartbeat_interval_ms", cfg.Connection.HeartbeatIntervalMS)
	v.SetDefault("connection.heartbeat_timeout_ms", cfg.Connection.HeartbeatTimeoutMS)
	v.SetDefault("connection.max_action_retries", cfg.Connection.MaxActionRetries)
	v.SetDefault("connection.action_base_delay_ms", cfg.Connection.ActionBaseDelayMS)
	v.SetDefault("connection.action_max_delay_ms", cfg.Connection.ActionMaxDelayMS)
	v.SetDefault("connection.history_buffer_size", cfg.Connection.HistoryBufferSize)
	v.SetDefault("connection.max_queued_messages", cfg.Connection.MaxQueuedMessages)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound && !os.IsNotExist(err) {
			return Config{}, err
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.IsSet("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	for _, endpoint := range cfg.Endpoints {
		if err := schema.ValidateEndpoint(schema.Endpoint(endpoint.URL)); err != nil {
			return fmt.Errorf("endpoints: %q: %w", endpoint.URL, err)
		}
	}
	conn := cfg.Connection
	for name, value := range map[string]int{
		"connection.max_reconnect_attempts": conn.MaxReconnectAttempts,
		"connection.base_delay_ms":          conn.BaseDelayMS,
		"connection.max_delay_ms":           conn.MaxDelayMS,
		"connection.heartbeat_interval_ms":  conn.HeartbeatIntervalMS,
		"connection.heartbeat_timeout_ms":   conn.HeartbeatTimeoutMS,
		"connection.max_action_retries":     conn.MaxActionRetries,
		"connection.action_base_delay_ms":   conn.ActionBaseDelayMS,
		"connection.action_max_delay_ms":    conn.ActionMaxDelayMS,
		"connection.history_buffer_size":    conn.HistoryBufferSize,
		"connection.max_queued_messages":    conn.MaxQueuedMessages,
	} {
		if value < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	switch cfg.Logging.Format {
	case "", "structured", "console":
	default:
		return fmt.Errorf("unsupported logging.format %q", cfg.Logging.Format)
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.StateDir = expandEnv(cfg.StateDir)
	for i := range cfg.Endpoints {
		cfg.Endpoints[i].URL = expandEnv(cfg.Endpoints[i].URL)
	}
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
