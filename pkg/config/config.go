package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Client struct {
		ParticipantID  string `yaml:"participant_id"`
		DisplayName    string `yaml:"display_name"`
		AvatarURL      string `yaml:"avatar_url"`
		ContactAddress string `yaml:"contact_address"`
	} `yaml:"client"`

	Call struct {
		AnswerTimeout   time.Duration `yaml:"answer_timeout"`
		OfferTimeout    time.Duration `yaml:"offer_timeout"`
		PollInterval    time.Duration `yaml:"poll_interval"`
		InviteWait      time.Duration `yaml:"invite_wait"`
		RetryMaxDelay   time.Duration `yaml:"retry_max_delay"`
		RestartTimeout  time.Duration `yaml:"restart_timeout"`
		DisconnectGrace time.Duration `yaml:"disconnect_grace"`
	} `yaml:"call"`

	Signaling struct {
		Backend  string        `yaml:"backend"` // memory | redis | websocket
		RelayURL string        `yaml:"relay_url"`
		KeyTTL   time.Duration `yaml:"key_ttl"`
		Prefix   string        `yaml:"prefix"`
	} `yaml:"signaling"`

	Relay struct {
		Address             string        `yaml:"address"`
		PingInterval        time.Duration `yaml:"ping_interval"`
		PongTimeout         time.Duration `yaml:"pong_timeout"`
		WriteTimeout        time.Duration `yaml:"write_timeout"`
		ShutdownTimeout     time.Duration `yaml:"shutdown_timeout"`
		MaxSubscribeWait    time.Duration `yaml:"max_subscribe_wait"`
		MaxMessageSizeBytes int64         `yaml:"max_message_size_bytes"`
		AllowedOrigins      []string      `yaml:"allowed_origins"`
	} `yaml:"relay"`

	WebRTC struct {
		ICEServers []ICEServerConfig `yaml:"ice_servers"`
		PortRange struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
	} `yaml:"webrtc"`

	Capture struct {
		Driver           string `yaml:"driver"`
		Width            int    `yaml:"width"`
		Height           int    `yaml:"height"`
		FrameRate        int    `yaml:"frame_rate"`
		EchoCancellation bool   `yaml:"echo_cancellation"`
	} `yaml:"capture"`

	Quality struct {
		SampleInterval time.Duration `yaml:"sample_interval"`
		PoorLoss       float64       `yaml:"poor_loss"`
		PoorRTT        time.Duration `yaml:"poor_rtt"`
		GoodLoss       float64       `yaml:"good_loss"`
		GoodRTT        time.Duration `yaml:"good_rtt"`
	} `yaml:"quality"`

	Speaking struct {
		Interval  time.Duration `yaml:"interval"`
		Threshold float64       `yaml:"threshold"`
	} `yaml:"speaking"`

	Recording struct {
		OutputDir     string        `yaml:"output_dir"`
		SliceDuration time.Duration `yaml:"slice_duration"`
		Formats       []string      `yaml:"formats"`
	} `yaml:"recording"`

	Monitoring struct {
		PrometheusEnabled bool   `yaml:"prometheus_enabled"`
		Address           string `yaml:"address"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent_requests"`
		} `yaml:"http"`

		WebSocket struct {
			MessagesPerSecond float64 `yaml:"messages_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent_connections"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`
}

type ICEServerConfig struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Call
	if c.Call.AnswerTimeout <= 0 {
		return fmt.Errorf("call.answer_timeout must be > 0")
	}
	if c.Call.OfferTimeout <= 0 {
		return fmt.Errorf("call.offer_timeout must be > 0")
	}
	if c.Call.PollInterval <= 0 {
		return fmt.Errorf("call.poll_interval must be > 0")
	}
	if c.Call.PollInterval > c.Call.AnswerTimeout {
		return fmt.Errorf("call.poll_interval must not exceed call.answer_timeout")
	}
	if c.Call.RestartTimeout <= 0 {
		return fmt.Errorf("call.restart_timeout must be > 0")
	}

	// Signaling
	switch c.Signaling.Backend {
	case "memory", "redis":
	case "websocket":
		if c.Signaling.RelayURL == "" {
			return fmt.Errorf("signaling.relay_url must not be empty when backend=websocket")
		}
	default:
		return fmt.Errorf("signaling.backend must be one of memory, redis, websocket (got %q)", c.Signaling.Backend)
	}
	if c.Signaling.KeyTTL <= 0 {
		return fmt.Errorf("signaling.key_ttl must be > 0")
	}

	// Relay
	if c.Relay.Address == "" {
		return fmt.Errorf("relay.address must not be empty")
	}
	if c.Relay.PingInterval <= 0 {
		return fmt.Errorf("relay.ping_interval must be > 0")
	}
	if c.Relay.PongTimeout <= c.Relay.PingInterval {
		return fmt.Errorf("relay.pong_timeout must be > relay.ping_interval")
	}
	if c.Relay.MaxMessageSizeBytes < 0 {
		return fmt.Errorf("relay.max_message_size_bytes must be >= 0")
	}

	// WebRTC
	if c.WebRTC.PortRange.Min > 0 || c.WebRTC.PortRange.Max > 0 {
		if c.WebRTC.PortRange.Min == 0 || c.WebRTC.PortRange.Max == 0 {
			return fmt.Errorf("webrtc.port_range.min and max must both be set when one is set")
		}
		if c.WebRTC.PortRange.Min >= c.WebRTC.PortRange.Max {
			return fmt.Errorf("webrtc.port_range.min must be < max")
		}
	}

	// Capture
	if c.Capture.Width <= 0 || c.Capture.Height <= 0 {
		return fmt.Errorf("capture.width and capture.height must be > 0")
	}
	if c.Capture.FrameRate <= 0 {
		return fmt.Errorf("capture.frame_rate must be > 0")
	}

	// Quality
	if c.Quality.SampleInterval <= 0 {
		return fmt.Errorf("quality.sample_interval must be > 0")
	}
	if c.Quality.GoodLoss <= 0 || c.Quality.PoorLoss <= c.Quality.GoodLoss {
		return fmt.Errorf("quality thresholds must satisfy 0 < good_loss < poor_loss")
	}
	if c.Quality.GoodRTT <= 0 || c.Quality.PoorRTT <= c.Quality.GoodRTT {
		return fmt.Errorf("quality thresholds must satisfy 0 < good_rtt < poor_rtt")
	}

	// Speaking
	if c.Speaking.Interval <= 0 {
		return fmt.Errorf("speaking.interval must be > 0")
	}

	// Recording
	if c.Recording.SliceDuration <= 0 {
		return fmt.Errorf("recording.slice_duration must be > 0")
	}
	if len(c.Recording.Formats) == 0 {
		return fmt.Errorf("recording.formats must list at least one format")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled || c.Signaling.Backend == "redis" {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis is used")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis is used")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.websocket.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_concurrent_connections must be >= 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Call.AnswerTimeout = 30 * time.Second
	cfg.Call.OfferTimeout = 15 * time.Second
	cfg.Call.PollInterval = 500 * time.Millisecond
	cfg.Call.InviteWait = 5 * time.Second
	cfg.Call.RetryMaxDelay = 4 * time.Second
	cfg.Call.RestartTimeout = 10 * time.Second
	cfg.Call.DisconnectGrace = 5 * time.Second

	cfg.Signaling.Backend = "memory"
	cfg.Signaling.RelayURL = "ws://localhost:8081/ws"
	cfg.Signaling.KeyTTL = 2 * time.Minute
	cfg.Signaling.Prefix = "peercall"

	cfg.Relay.Address = ":8081"
	cfg.Relay.PingInterval = 30 * time.Second
	cfg.Relay.PongTimeout = 60 * time.Second
	cfg.Relay.WriteTimeout = 10 * time.Second
	cfg.Relay.ShutdownTimeout = 15 * time.Second
	cfg.Relay.MaxSubscribeWait = 60 * time.Second
	cfg.Relay.MaxMessageSizeBytes = 256 * 1024
	cfg.Relay.AllowedOrigins = []string{"*"}

	cfg.Capture.Driver = "synthetic"
	cfg.Capture.Width = 1280
	cfg.Capture.Height = 720
	cfg.Capture.FrameRate = 30
	cfg.Capture.EchoCancellation = true

	cfg.Quality.SampleInterval = 3 * time.Second
	cfg.Quality.PoorLoss = 0.05
	cfg.Quality.PoorRTT = 300 * time.Millisecond
	cfg.Quality.GoodLoss = 0.02
	cfg.Quality.GoodRTT = 150 * time.Millisecond

	cfg.Speaking.Interval = 200 * time.Millisecond
	cfg.Speaking.Threshold = 30

	cfg.Recording.OutputDir = "recordings"
	cfg.Recording.SliceDuration = time.Second
	cfg.Recording.Formats = []string{
		"video/webm;codecs=vp9,opus",
		"video/webm;codecs=vp8,opus",
		"video/webm",
		"audio/ogg;codecs=opus",
	}

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.Address = ":9090"

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "peercall"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 50
	cfg.RateLimiting.WebSocket.Burst = 100
	cfg.RateLimiting.WebSocket.MaxConcurrent = 0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if id := os.Getenv("PEERCALL_PARTICIPANT_ID"); id != "" {
		c.Client.ParticipantID = id
	}
	if backend := os.Getenv("PEERCALL_SIGNALING_BACKEND"); backend != "" {
		c.Signaling.Backend = backend
	}
	if url := os.Getenv("PEERCALL_RELAY_URL"); url != "" {
		c.Signaling.RelayURL = url
	}
	if addr := os.Getenv("PEERCALL_RELAY_ADDRESS"); addr != "" {
		c.Relay.Address = addr
	}
	if addr := os.Getenv("PEERCALL_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
	}
	if level := os.Getenv("PEERCALL_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}
