package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// helper to build a minimal valid config that can be tweaked in tests.
func validBaseConfig() *Config {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = 10
	cfg.RateLimiting.HTTP.Burst = 20
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 50
	cfg.RateLimiting.WebSocket.Burst = 100
	cfg.RateLimiting.WebSocket.MaxConcurrent = 10
	return cfg
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config to be valid, got: %v", err)
	}
	if cfg.Quality.SampleInterval != 3*time.Second {
		t.Fatalf("expected 3s quality interval, got %v", cfg.Quality.SampleInterval)
	}
	if cfg.Speaking.Interval != 200*time.Millisecond {
		t.Fatalf("expected 200ms speaking interval, got %v", cfg.Speaking.Interval)
	}
}

func TestValidate_RateLimitingDisabled_AllowsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 0
	cfg.RateLimiting.HTTP.Burst = 0
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 0
	cfg.RateLimiting.WebSocket.Burst = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected config to be valid when rate limiting disabled, got error: %v", err)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"http rps must be > 0", func(c *Config) { c.RateLimiting.HTTP.RequestsPerSecond = 0 }},
		{"http burst must be > 0", func(c *Config) { c.RateLimiting.HTTP.Burst = 0 }},
		{"ws messages per second must be > 0", func(c *Config) { c.RateLimiting.WebSocket.MessagesPerSecond = 0 }},
		{"ws burst must be > 0", func(c *Config) { c.RateLimiting.WebSocket.Burst = 0 }},
		{"ws max concurrent must be >= 0", func(c *Config) { c.RateLimiting.WebSocket.MaxConcurrent = -1 }},
		{"answer timeout must be > 0", func(c *Config) { c.Call.AnswerTimeout = 0 }},
		{"poll interval must not exceed answer timeout", func(c *Config) { c.Call.PollInterval = time.Minute }},
		{"unknown signaling backend", func(c *Config) { c.Signaling.Backend = "carrier-pigeon" }},
		{"websocket backend requires relay url", func(c *Config) {
			c.Signaling.Backend = "websocket"
			c.Signaling.RelayURL = ""
		}},
		{"pong timeout must exceed ping interval", func(c *Config) { c.Relay.PongTimeout = c.Relay.PingInterval }},
		{"port range must be ordered", func(c *Config) {
			c.WebRTC.PortRange.Min = 50000
			c.WebRTC.PortRange.Max = 40000
		}},
		{"good loss must be below poor loss", func(c *Config) { c.Quality.GoodLoss = 0.1 }},
		{"good rtt must be below poor rtt", func(c *Config) { c.Quality.GoodRTT = time.Second }},
		{"recording formats required", func(c *Config) { c.Recording.Formats = nil }},
		{"redis address required for redis backend", func(c *Config) {
			c.Signaling.Backend = "redis"
			c.Redis.Address = ""
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validBaseConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for case %q, got nil", tc.name)
			}
		})
	}
}

func TestValidate_RateLimiting_ValidConfig(t *testing.T) {
	cfg := validBaseConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid rate limiting config, got error: %v", err)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Signaling.Backend != "memory" {
		t.Fatalf("expected memory backend, got %q", cfg.Signaling.Backend)
	}
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peercall.yaml")
	data := []byte(`
client:
  participant_id: alice
call:
  answer_timeout: 10s
signaling:
  backend: websocket
  relay_url: ws://relay.local/ws
recording:
  slice_duration: 2s
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PEERCALL_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Client.ParticipantID != "alice" {
		t.Fatalf("expected participant alice, got %q", cfg.Client.ParticipantID)
	}
	if cfg.Call.AnswerTimeout != 10*time.Second {
		t.Fatalf("expected 10s answer timeout, got %v", cfg.Call.AnswerTimeout)
	}
	if cfg.Signaling.RelayURL != "ws://relay.local/ws" {
		t.Fatalf("unexpected relay url %q", cfg.Signaling.RelayURL)
	}
	if cfg.Recording.SliceDuration != 2*time.Second {
		t.Fatalf("expected 2s slices, got %v", cfg.Recording.SliceDuration)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected env override for log level, got %q", cfg.Logging.Level)
	}
	// untouched sections keep defaults
	if cfg.Quality.PoorLoss != 0.05 {
		t.Fatalf("expected default poor loss, got %v", cfg.Quality.PoorLoss)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("call: [unterminated"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid yaml")
	}
}
