package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port != DefaultPort {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, DefaultPort)
	}
	if cfg.Database.Path != DefaultDBPath {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, DefaultDBPath)
	}
	if !cfg.Scheduler.Enabled {
		t.Error("Scheduler.Enabled should default to true")
	}
	if cfg.Scheduler.PollInterval != DefaultPollInterval {
		t.Errorf("Scheduler.PollInterval = %v, want %v", cfg.Scheduler.PollInterval, DefaultPollInterval)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, true},
		{"missing db path", func(c *Config) { c.Database.Path = "" }, true},
		{"sub-second poll interval", func(c *Config) { c.Scheduler.PollInterval = 100 * time.Millisecond }, true},
		{"zero batch limit", func(c *Config) { c.Scheduler.BatchLimit = 0 }, true},
		{"bad webhook scheme", func(c *Config) { c.Alerts.WebhookURL = "ftp://alerts.example.com" }, true},
		{"valid webhook", func(c *Config) { c.Alerts.WebhookURL = "https://alerts.example.com/hook" }, false},
		{"unknown log level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"unknown log format", func(c *Config) { c.Logging.Format = "xml" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cadenza.yaml")

	content := `
server:
  port: 9001
database:
  path: /tmp/test-cadenza.db
scheduler:
  poll_interval: 5s
  batch_limit: 10
logging:
  level: debug
  format: json
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Server.Port != 9001 {
		t.Errorf("Server.Port = %d, want 9001", cfg.Server.Port)
	}
	if cfg.Scheduler.PollInterval != 5*time.Second {
		t.Errorf("Scheduler.PollInterval = %v, want 5s", cfg.Scheduler.PollInterval)
	}
	if cfg.Scheduler.BatchLimit != 10 {
		t.Errorf("Scheduler.BatchLimit = %d, want 10", cfg.Scheduler.BatchLimit)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}

	// Unset sections keep their defaults.
	if cfg.Server.ReadTimeout != DefaultReadTimeout {
		t.Errorf("Server.ReadTimeout = %v, want default %v", cfg.Server.ReadTimeout, DefaultReadTimeout)
	}
}

func TestLoadFromFile_InvalidConfigRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cadenza.yaml")

	content := `
scheduler:
  batch_limit: 0
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	if _, err := LoadFromFile(path); err == nil {
		t.Error("LoadFromFile() expected validation error")
	}
}
