package schema

import (
	"testing"
	"time"
)

func TestNormalizeConnConfigDefaults(t *testing.T) {
	cfg := NormalizeConnConfig(ConnConfig{})
	if cfg.MaxReconnectAttempts != DefaultMaxReconnectAttempts {
		t.Fatalf("max attempts: %d", cfg.MaxReconnectAttempts)
	}
	if cfg.BaseDelay != DefaultBaseDelay || cfg.MaxDelay != DefaultMaxDelay {
		t.Fatalf("delays: %v %v", cfg.BaseDelay, cfg.MaxDelay)
	}
	if cfg.HistorySize != DefaultHistorySize {
		t.Fatalf("history size: %d", cfg.HistorySize)
	}
	if cfg.MaxQueuedMessages != DefaultMaxQueuedMessages {
		t.Fatalf("queue bound: %d", cfg.MaxQueuedMessages)
	}
}

func TestNormalizeConnConfigClampsMaxDelay(t *testing.T) {
	cfg := NormalizeConnConfig(ConnConfig{
		BaseDelay: 10 * time.Second,
		MaxDelay:  time.Second,
	})
	if cfg.MaxDelay != cfg.BaseDelay {
		t.Fatalf("expected max delay clamped to base, got %v", cfg.MaxDelay)
	}
}

func TestValidateEndpoint(t *testing.T) {
	cases := []struct {
		endpoint Endpoint
		ok       bool
	}{
		{"ws://example.com/sync", true},
		{"wss://example.com", true},
		{"", false},
		{"   ", false},
		{"http://example.com", false},
		{"ws://", false},
	}
	for _, tc := range cases {
		err := ValidateEndpoint(tc.endpoint)
		if tc.ok && err != nil {
			t.Fatalf("%q: unexpected error %v", tc.endpoint, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%q: expected error", tc.endpoint)
		}
	}
}
