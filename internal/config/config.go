// Package config provides configuration management for Cadenza.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration structure for Cadenza.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host to bind the server to
	Host string `mapstructure:"host"`

	// Port to listen on
	Port int `mapstructure:"port"`

	// Request timeouts
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`

	// Maximum request body size in bytes
	MaxBodySize int64 `mapstructure:"max_body_size"`
}

// Address returns the host:port string to bind to.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds database settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string `mapstructure:"path"`

	// Enable WAL mode (recommended)
	WALMode bool `mapstructure:"wal_mode"`

	// Cache size in KB (negative for KB, positive for pages)
	CacheSize int `mapstructure:"cache_size"`

	// Busy timeout
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`

	// Enable foreign keys
	ForeignKeys bool `mapstructure:"foreign_keys"`

	// Maximum open connections
	MaxOpenConns int `mapstructure:"max_open_conns"`

	// Maximum idle connections
	MaxIdleConns int `mapstructure:"max_idle_conns"`

	// Connection max lifetime
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig holds settings for the polling worker.
type SchedulerConfig struct {
	// Enabled starts the in-process worker loop. Disable it when due-job
	// processing is driven externally through the process-due endpoint.
	Enabled bool `mapstructure:"enabled"`

	// PollInterval is how often the worker asks for due jobs.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// BatchLimit caps how many occurrences one tick may execute.
	BatchLimit int `mapstructure:"batch_limit"`

	// WorkerID identifies this process in logs. Defaults to the hostname.
	WorkerID string `mapstructure:"worker_id"`
}

// AlertsConfig holds settings for the failure notifier.
type AlertsConfig struct {
	// WebhookURL receives failure/dead-letter notifications. When empty,
	// notifications are logged instead of delivered.
	WebhookURL string `mapstructure:"webhook_url"`

	// Timeout for a single delivery attempt.
	Timeout time.Duration `mapstructure:"timeout"`

	// RatePerSecond caps outbound notifications. Deliveries over the
	// limit are dropped, never queued; alerting is best-effort.
	RatePerSecond float64 `mapstructure:"rate_per_second"`

	// Burst allowance for the rate limiter.
	Burst int `mapstructure:"burst"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Log level: debug, info, warn, error
	Level string `mapstructure:"level"`

	// Log format: console, json
	Format string `mapstructure:"format"`
}
