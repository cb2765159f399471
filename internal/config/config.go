// Package config handles topic index configuration loading and validation.
package config

import (
	"fmt"
	"time"

	"github.com/tOgg1/topicindex/internal/logging"
)

// Config is the root configuration structure.
type Config struct {
	// Logging settings
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// Cache settings for the SQLite message cache
	Cache CacheConfig `yaml:"cache" mapstructure:"cache"`

	// Fetch settings for server topic-history requests
	Fetch FetchConfig `yaml:"fetch" mapstructure:"fetch"`

	// Loop settings for the registry event loop
	Loop LoopConfig `yaml:"loop" mapstructure:"loop"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error, disabled).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console, auto).
	Format string `yaml:"format" mapstructure:"format"`

	// File is an optional log file path.
	File string `yaml:"file" mapstructure:"file"`

	// EnableCaller adds caller information to logs.
	EnableCaller bool `yaml:"enable_caller" mapstructure:"enable_caller"`
}

// CacheConfig contains message cache settings.
type CacheConfig struct {
	// DSN is the SQLite data source. Empty means a private in-memory database.
	DSN string `yaml:"dsn" mapstructure:"dsn"`

	// BusyTimeoutMs is how long to wait for a locked database (milliseconds).
	BusyTimeoutMs int `yaml:"busy_timeout_ms" mapstructure:"busy_timeout_ms"`

	// QueryTimeout bounds a single cache query.
	QueryTimeout time.Duration `yaml:"query_timeout" mapstructure:"query_timeout"`

	// RetryAttempts is how many times a write runs while SQLite reports the
	// database busy. 1 disables retries.
	RetryAttempts int `yaml:"retry_attempts" mapstructure:"retry_attempts"`

	// RetryBackoff is the first delay between attempts; it doubles each time.
	// Zero uses the database default.
	RetryBackoff time.Duration `yaml:"retry_backoff" mapstructure:"retry_backoff"`
}

// FetchConfig contains server fetch settings.
type FetchConfig struct {
	// Timeout bounds a single server request.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`

	// MaxConcurrent limits simultaneous server requests.
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// LoopConfig contains event loop settings.
type LoopConfig struct {
	// QueueSize is how many ops may wait before posters block.
	QueueSize int `yaml:"queue_size" mapstructure:"queue_size"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: logging.FormatAuto,
		},
		Cache: CacheConfig{
			BusyTimeoutMs: 5000,
			QueryTimeout:  5 * time.Second,
			RetryAttempts: 3,
			RetryBackoff:  50 * time.Millisecond,
		},
		Fetch: FetchConfig{
			Timeout:       10 * time.Second,
			MaxConcurrent: 4,
		},
		Loop: LoopConfig{
			QueueSize: 256,
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "disabled", "off":
	default:
		return fmt.Errorf("logging.level must be one of trace, debug, info, warn, error, disabled")
	}

	switch c.Logging.Format {
	case logging.FormatJSON, logging.FormatConsole, logging.FormatAuto:
	default:
		return fmt.Errorf("logging.format must be one of json, console, auto")
	}

	if c.Cache.BusyTimeoutMs < 0 {
		return fmt.Errorf("cache.busy_timeout_ms must not be negative")
	}

	if c.Cache.QueryTimeout < 10*time.Millisecond {
		return fmt.Errorf("cache.query_timeout must be at least 10ms")
	}

	if c.Cache.RetryAttempts < 1 {
		return fmt.Errorf("cache.retry_attempts must be at least 1")
	}

	if c.Cache.RetryBackoff < 0 {
		return fmt.Errorf("cache.retry_backoff must not be negative")
	}

	if c.Fetch.Timeout < 10*time.Millisecond {
		return fmt.Errorf("fetch.timeout must be at least 10ms")
	}

	if c.Fetch.MaxConcurrent < 1 {
		return fmt.Errorf("fetch.max_concurrent must be at least 1")
	}

	if c.Loop.QueueSize < 1 {
		return fmt.Errorf("loop.queue_size must be at least 1")
	}

	return nil
}
