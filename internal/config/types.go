// Package config loads, validates, and watches the habitd config file.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the full habitd configuration. YAML and JSON are both
// accepted; YAML is coerced to JSON so one strict decoder serves both.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Telegram  TelegramConfig  `json:"telegram"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	API       APIConfig       `json:"api"`
}

type LoggingConfig struct {
	Level   string     `json:"level,omitempty"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// TelegramConfig configures the reminder delivery channel. An empty
// token disables delivery; reminders are then dispatched to a no-op
// notifier (bookkeeping still runs).
type TelegramConfig struct {
	Token       string `json:"token"`
	SendTimeout string `json:"send_timeout,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SchedulerConfig controls the reminder trigger. Spec is a cron
// expression; the default fires once per minute, which is the
// granularity of the due check.
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"` // IANA TZ; empty means process-local time
	Spec     string `json:"spec,omitempty"`     // default "* * * * *"
}

type APIConfig struct {
	Addr       string `json:"addr,omitempty"` // default ":8080"
	JWTSecret  string `json:"jwt_secret"`
	AccessTTL  string `json:"access_ttl,omitempty"`
	RefreshTTL string `json:"refresh_ttl,omitempty"`
	PageSize   int    `json:"page_size,omitempty"` // default 5
}

// Validate rejects configs that cannot be applied. It is also the
// hot-reload gate: a bad edit never reaches running services.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required")
	}
	if strings.TrimSpace(c.API.JWTSecret) == "" {
		return fmt.Errorf("api.jwt_secret is required")
	}
	if c.API.PageSize < 0 {
		return fmt.Errorf("api.page_size must be >= 0")
	}
	if c.Telegram.RatePerSec < 0 {
		return fmt.Errorf("telegram.rate_per_sec must be >= 0")
	}
	for _, d := range []struct{ path, raw string }{
		{"telegram.send_timeout", c.Telegram.SendTimeout},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"api.access_ttl", c.API.AccessTTL},
		{"api.refresh_ttl", c.API.RefreshTTL},
	} {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	return nil
}
