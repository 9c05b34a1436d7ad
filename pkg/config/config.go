package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Signal struct {
		Path            string        `yaml:"path"`
		PingInterval    time.Duration `yaml:"ping_interval"`
		PongTimeout     time.Duration `yaml:"pong_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		MaxMessageBytes int64         `yaml:"max_message_bytes"`
	} `yaml:"signal"`

	ICE struct {
		STUNServers []string `yaml:"stun_servers"`
		StaticTURN  []struct {
			URLs       []string `yaml:"urls"`
			Username   string   `yaml:"username,omitempty"`
			Credential string   `yaml:"credential,omitempty"`
		} `yaml:"static_turn"`
		CredentialEndpoint string        `yaml:"credential_endpoint"`
		CredentialAPIKey   string        `yaml:"credential_api_key"`
		CredentialTimeout  time.Duration `yaml:"credential_timeout"`
		CandidatePoolSize  int           `yaml:"candidate_pool_size"`
		ConfigCacheTTL     time.Duration `yaml:"config_cache_ttl"`
	} `yaml:"ice"`

	Session struct {
		GraceTimeout         time.Duration `yaml:"grace_timeout"`
		MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
		ConsentExpiry        time.Duration `yaml:"consent_expiry"`
	} `yaml:"session"`

	Reaper struct {
		SweepInterval       time.Duration `yaml:"sweep_interval"`
		InactivityThreshold time.Duration `yaml:"inactivity_threshold"`
	} `yaml:"reaper"`

	Monitoring struct {
		PrometheusEnabled bool          `yaml:"prometheus_enabled"`
		SampleInterval    time.Duration `yaml:"sample_interval"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
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
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`

		WebSocket struct {
			MessagesPerSecond float64 `yaml:"messages_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Signal
	if c.Signal.Path == "" {
		return fmt.Errorf("signal.path must not be empty")
	}
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= c.Signal.PingInterval {
		return fmt.Errorf("signal.pong_timeout must be > signal.ping_interval")
	}
	if c.Signal.MaxMessageBytes <= 0 {
		return fmt.Errorf("signal.max_message_bytes must be > 0")
	}

	// ICE
	if c.ICE.CredentialEndpoint != "" && c.ICE.CredentialTimeout <= 0 {
		return fmt.Errorf("ice.credential_timeout must be > 0 when a credential endpoint is set")
	}
	if c.ICE.CandidatePoolSize < 0 {
		return fmt.Errorf("ice.candidate_pool_size must be >= 0")
	}

	// Session
	if c.Session.GraceTimeout <= 0 {
		return fmt.Errorf("session.grace_timeout must be > 0")
	}
	if c.Session.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("session.max_reconnect_attempts must be > 0")
	}
	if c.Session.ConsentExpiry <= 0 {
		return fmt.Errorf("session.consent_expiry must be > 0")
	}

	// Reaper
	if c.Reaper.SweepInterval <= 0 {
		return fmt.Errorf("reaper.sweep_interval must be > 0")
	}
	if c.Reaper.InactivityThreshold <= 0 {
		return fmt.Errorf("reaper.inactivity_threshold must be > 0")
	}

	// Monitoring
	if c.Monitoring.PrometheusEnabled && c.Monitoring.SampleInterval <= 0 {
		return fmt.Errorf("monitoring.sample_interval must be > 0 when prometheus_enabled=true")
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
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
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.websocket.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket.burst must be > 0 when rate limiting is enabled")
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

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Signal.Path = "/ws"
	cfg.Signal.PingInterval = 30 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.WriteTimeout = 10 * time.Second
	cfg.Signal.MaxMessageBytes = 64 * 1024

	cfg.ICE.CredentialTimeout = 5 * time.Second
	cfg.ICE.CandidatePoolSize = 2
	cfg.ICE.ConfigCacheTTL = 30 * time.Second

	cfg.Session.GraceTimeout = 30 * time.Second
	cfg.Session.MaxReconnectAttempts = 3
	cfg.Session.ConsentExpiry = 30 * time.Second

	cfg.Reaper.SweepInterval = 30 * time.Second
	cfg.Reaper.InactivityThreshold = 5 * time.Minute

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.SampleInterval = 10 * time.Second

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
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
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 100
	cfg.RateLimiting.WebSocket.Burst = 200

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("PAIRLINK_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("PAIRLINK_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if addr := os.Getenv("PAIRLINK_REDIS_ADDRESS"); addr != "" {
		c.Redis.Enabled = true
		c.Redis.Address = addr
	}
	if password := os.Getenv("PAIRLINK_REDIS_PASSWORD"); password != "" {
		c.Redis.Password = password
	}
	if endpoint := os.Getenv("PAIRLINK_TURN_CREDENTIAL_ENDPOINT"); endpoint != "" {
		c.ICE.CredentialEndpoint = endpoint
	}
	if key := os.Getenv("PAIRLINK_TURN_CREDENTIAL_API_KEY"); key != "" {
		c.ICE.CredentialAPIKey = key
	}
	if raw := os.Getenv("PAIRLINK_MAX_RECONNECT_ATTEMPTS"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			c.Session.MaxReconnectAttempts = n
		}
	}
}
