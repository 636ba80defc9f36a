package realtime

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	toml "github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment variables overriding config
// file values, e.g. LUNANCE_RT_HEARTBEAT_INTERVAL=15s.
const EnvPrefix = "LUNANCE_RT_"

// Config holds the session configuration surface.
type Config struct {
	// BaseURL is the ws:// or wss:// endpoint of the realtime channel.
	BaseURL string `koanf:"base_url"`

	// HeartbeatInterval is the cadence of outbound heartbeats while
	// connected. A connection with no inbound traffic for twice this
	// interval is treated as dead.
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`

	// ConnectTimeout bounds both the socket open and the wait for the
	// authentication acknowledgement.
	ConnectTimeout time.Duration `koanf:"connect_timeout"`

	// MaxReconnectAttempts bounds consecutive failed connect attempts
	// before the session enters the error state.
	MaxReconnectAttempts int `koanf:"max_reconnect_attempts"`

	// BaseBackoffDelay and MaxBackoffDelay parameterize the jittered
	// exponential backoff between reconnect attempts.
	BaseBackoffDelay time.Duration `koanf:"base_backoff_delay"`
	MaxBackoffDelay  time.Duration `koanf:"max_backoff_delay"`

	Logging LoggingConfig `koanf:"logging"`
	Metrics MetricsConfig `koanf:"metrics"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // "debug", "info", "warn", "error"
	Format string `koanf:"format"` // "json" (default) or "text"
}

// MetricsConfig toggles Prometheus metric collection.
type MetricsConfig struct {
	Enabled bool `koanf:"enabled"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:    30 * time.Second,
		ConnectTimeout:       10 * time.Second,
		MaxReconnectAttempts: 5,
		BaseBackoffDelay:     3 * time.Second,
		MaxBackoffDelay:      5 * time.Minute,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
	}
}

// LoadConfig loads configuration from a TOML file and environment
// variables. Priority: environment variables > config file > defaults.
func LoadConfig(configPath string) (Config, error) {
	cfg := DefaultConfig()

	k := koanf.New(".")

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return Config{}, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		s = strings.ToLower(s)
		switch {
		case strings.HasPrefix(s, "logging_"):
			return "logging." + strings.TrimPrefix(s, "logging_")
		case strings.HasPrefix(s, "metrics_"):
			return "metrics." + strings.TrimPrefix(s, "metrics_")
		default:
			return s
		}
	}), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			TagName:          "koanf",
			WeaklyTypedInput: true,
			Result:           &cfg,
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		},
	}); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for values the session cannot run
// with.
func (c Config) Validate() error {
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval must be positive, got: %s", c.HeartbeatInterval)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be positive, got: %s", c.ConnectTimeout)
	}
	if c.MaxReconnectAttempts < 1 {
		return fmt.Errorf("max_reconnect_attempts must be at least 1, got: %d", c.MaxReconnectAttempts)
	}
	if c.BaseBackoffDelay <= 0 {
		return fmt.Errorf("base_backoff_delay must be positive, got: %s", c.BaseBackoffDelay)
	}
	if c.MaxBackoffDelay < c.BaseBackoffDelay {
		return fmt.Errorf("max_backoff_delay (%s) must be >= base_backoff_delay (%s)",
			c.MaxBackoffDelay, c.BaseBackoffDelay)
	}

	validLevels := []string{"debug", "info", "warn", "warning", "error"}
	isValidLevel := false
	for _, level := range validLevels {
		if strings.ToLower(c.Logging.Level) == level {
			isValidLevel = true
			break
		}
	}
	if !isValidLevel {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error, got: %s", c.Logging.Level)
	}

	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("logging.format must be either 'json' or 'text', got: %s", c.Logging.Format)
	}

	return nil
}
