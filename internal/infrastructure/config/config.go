package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

const (
	// DefaultQueryFunction is the script global used to issue queries.
	DefaultQueryFunction = "cefQuery"
	// DefaultCancelFunction is the script global used to cancel queries.
	DefaultCancelFunction = "cefQueryCancel"
	// DefaultMessageSizeThreshold is the size in bytes at which messages
	// switch from inline arguments to a shared memory region.
	DefaultMessageSizeThreshold = 16 * 1024
	// MessageSuffix is appended to function names to derive message names.
	MessageSuffix = "Msg"
)

// ErrInvalidRouterConfig is returned when a router configuration has an
// empty function name.
var ErrInvalidRouterConfig = errors.New("router config requires query and cancel function names")

// Config holds all application configuration.
type Config struct {
	Router    RouterConfig    `yaml:"router" toml:"router"`
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Logging   LogConfig       `yaml:"logging" toml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
	Transport TransportConfig `yaml:"transport" toml:"transport"`
}

// RouterConfig must be identical for the host and content routers of a pair.
type RouterConfig struct {
	QueryFunction        string `envconfig:"QUERY_FUNCTION" default:"cefQuery" yaml:"query_function" toml:"query_function"`
	CancelFunction       string `envconfig:"CANCEL_FUNCTION" default:"cefQueryCancel" yaml:"cancel_function" toml:"cancel_function"`
	MessageSizeThreshold int    `envconfig:"MESSAGE_SIZE_THRESHOLD" default:"16384" yaml:"message_size_threshold" toml:"message_size_threshold"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000" yaml:"port" toml:"port"`
	Host string `envconfig:"HOST" default:"0.0.0.0" yaml:"host" toml:"host"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" yaml:"level" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" yaml:"development" toml:"development"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100" yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200" yaml:"burst" toml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true" yaml:"enabled" toml:"enabled"`
}

// TransportConfig holds settings for the framed message transport.
type TransportConfig struct {
	MaxFrame          int  `envconfig:"TRANSPORT_MAX_FRAME" default:"67108864" yaml:"max_frame" toml:"max_frame"`
	Compress          bool `envconfig:"TRANSPORT_COMPRESS" default:"false" yaml:"compress" toml:"compress"`
	CompressThreshold int  `envconfig:"TRANSPORT_COMPRESS_THRESHOLD" default:"4096" yaml:"compress_threshold" toml:"compress_threshold"`
}

// DefaultRouterConfig returns the router configuration both sides use when
// nothing is overridden.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		QueryFunction:        DefaultQueryFunction,
		CancelFunction:       DefaultCancelFunction,
		MessageSizeThreshold: DefaultMessageSizeThreshold,
	}
}

// Validate checks that both function names are set.
func (c RouterConfig) Validate() error {
	if c.QueryFunction == "" || c.CancelFunction == "" {
		return ErrInvalidRouterConfig
	}
	return nil
}

// QueryMessageName is the name of query and response messages.
func (c RouterConfig) QueryMessageName() string {
	return c.QueryFunction + MessageSuffix
}

// CancelMessageName is the name of cancel messages.
func (c RouterConfig) CancelMessageName() string {
	return c.CancelFunction + MessageSuffix
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// LoadFile overlays the YAML or TOML file at path onto cfg. The format is
// chosen by extension.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("unsupported config file extension %q", ext)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg.Router.Validate()
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Router: DefaultRouterConfig(),
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Transport: TransportConfig{
			MaxFrame:          64 << 20,
			Compress:          false,
			CompressThreshold: 4096,
		},
	}
}
