package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "TOPICINDEX"

// Loader handles configuration loading with Viper.
type Loader struct {
	v          *viper.Viper
	configFile string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v: viper.New(),
	}
}

// SetConfigFile sets an explicit config file path.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = path
}

// Load loads configuration with proper precedence:
// defaults < config file < env vars
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	l.setupViper(cfg)

	if err := l.loadConfigFile(); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Unmarshal does not merge bound env vars into nested structs when a
	// config file is present.
	l.applyEnvOverrides(cfg)

	cfg.Logging.File = expandTilde(cfg.Logging.File)
	cfg.Cache.DSN = expandTilde(cfg.Cache.DSN)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// expandTilde expands ~ to the user's home directory.
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// setupViper configures Viper with defaults and environment bindings.
func (l *Loader) setupViper(cfg *Config) {
	v := l.v

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		v.AddConfigPath(filepath.Join(xdgConfig, "topicindex"))
	}
	if homeDir, _ := os.UserHomeDir(); homeDir != "" {
		v.AddConfigPath(filepath.Join(homeDir, ".config", "topicindex"))
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	l.setDefaults(cfg)
	bindEnvVars(v)
	v.AutomaticEnv()
}

// setDefaults sets all default values in Viper.
func (l *Loader) setDefaults(cfg *Config) {
	v := l.v

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.enable_caller", cfg.Logging.EnableCaller)

	v.SetDefault("cache.dsn", cfg.Cache.DSN)
	v.SetDefault("cache.busy_timeout_ms", cfg.Cache.BusyTimeoutMs)
	v.SetDefault("cache.query_timeout", cfg.Cache.QueryTimeout)
	v.SetDefault("cache.retry_attempts", cfg.Cache.RetryAttempts)
	v.SetDefault("cache.retry_backoff", cfg.Cache.RetryBackoff)

	v.SetDefault("fetch.timeout", cfg.Fetch.Timeout)
	v.SetDefault("fetch.max_concurrent", cfg.Fetch.MaxConcurrent)

	v.SetDefault("loop.queue_size", cfg.Loop.QueueSize)
}

// loadConfigFile reads the config file. A missing file is only an error when
// it was named explicitly.
func (l *Loader) loadConfigFile() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	}
	return nil
}

// ConfigFileUsed returns the config file that was loaded.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Set sets a Viper value by key, overriding file and env values.
func (l *Loader) Set(key string, value any) {
	l.v.Set(key, value)
}

// LoadFromFile loads configuration from a specific file.
func LoadFromFile(path string) (*Config, error) {
	loader := NewLoader()
	loader.SetConfigFile(path)
	return loader.Load()
}

// LoadDefault loads configuration with default search paths.
func LoadDefault() (*Config, error) {
	return NewLoader().Load()
}

var envBindings = []string{
	"logging.level",
	"logging.format",
	"logging.file",
	"logging.enable_caller",
	"cache.dsn",
	"cache.busy_timeout_ms",
	"cache.query_timeout",
	"cache.retry_attempts",
	"cache.retry_backoff",
	"fetch.timeout",
	"fetch.max_concurrent",
	"loop.queue_size",
}

// envVar converts a config key to its environment variable:
// fetch.max_concurrent -> TOPICINDEX_FETCH_MAX_CONCURRENT.
func envVar(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func bindEnvVars(v *viper.Viper) {
	for _, key := range envBindings {
		_ = v.BindEnv(key, envVar(key))
	}
}

// applyEnvOverrides copies set env vars onto cfg.
func (l *Loader) applyEnvOverrides(cfg *Config) {
	v := l.v
	set := func(key string) bool {
		_, ok := os.LookupEnv(envVar(key))
		return ok
	}

	if set("logging.level") {
		cfg.Logging.Level = v.GetString("logging.level")
	}
	if set("logging.format") {
		cfg.Logging.Format = v.GetString("logging.format")
	}
	if set("logging.file") {
		cfg.Logging.File = v.GetString("logging.file")
	}
	if set("logging.enable_caller") {
		cfg.Logging.EnableCaller = v.GetBool("logging.enable_caller")
	}
	if set("cache.dsn") {
		cfg.Cache.DSN = v.GetString("cache.dsn")
	}
	if set("cache.busy_timeout_ms") {
		cfg.Cache.BusyTimeoutMs = v.GetInt("cache.busy_timeout_ms")
	}
	if set("cache.query_timeout") {
		cfg.Cache.QueryTimeout = v.GetDuration("cache.query_timeout")
	}
	if set("cache.retry_attempts") {
		cfg.Cache.RetryAttempts = v.GetInt("cache.retry_attempts")
	}
	if set("cache.retry_backoff") {
		cfg.Cache.RetryBackoff = v.GetDuration("cache.retry_backoff")
	}
	if set("fetch.timeout") {
		cfg.Fetch.Timeout = v.GetDuration("fetch.timeout")
	}
	if set("fetch.max_concurrent") {
		cfg.Fetch.MaxConcurrent = v.GetInt("fetch.max_concurrent")
	}
	if set("loop.queue_size") {
		cfg.Loop.QueueSize = v.GetInt("loop.queue_size")
	}
}
