package config

import (
	"fmt"
	"strings"
	"time"

	"pindrop/internal/forwarder"
	"pindrop/internal/storage"
	logx "pindrop/pkg/logx"
)

// Config is the on-disk configuration (YAML or JSON).
//
// All durations are Go duration strings (e.g. "500ms", "2s", "1m").
type Config struct {
	Server      ServerConfig       `json:"server"`
	Storage     StorageConfig      `json:"storage"`
	Broadcast   BroadcastConfig    `json:"broadcast,omitempty"`
	Logging     LoggingConfig      `json:"logging,omitempty"`
	Maintenance *MaintenanceConfig `json:"maintenance,omitempty"`
}

type ServerConfig struct {
	Addr string `json:"addr"`
	// Secret is the shared write secret checked by the gateway.
	// Empty disables the check.
	Secret     string `json:"secret,omitempty"`
	CORSOrigin string `json:"cors_origin,omitempty"`
}

type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// BroadcastConfig controls the forwarder. An empty url leaves the forwarder
// permanently inert.
type BroadcastConfig struct {
	URL            string `json:"url,omitempty"`
	ReconnectDelay string `json:"reconnect_delay,omitempty"`
	RatePerSec     int    `json:"rate_per_sec,omitempty"`
	Buffer         int    `json:"buffer,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty"`
	Console *bool         `json:"console,omitempty"`
	File    LogFileConfig `json:"file,omitempty"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

// MaintenanceConfig schedules backend housekeeping (vacuum/compaction).
// If the section is omitted, maintenance defaults to enabled every 6 hours.
type MaintenanceConfig struct {
	Enabled  *bool  `json:"enabled,omitempty"`
	Schedule string `json:"schedule,omitempty"`
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("server.addr is required")
	}
	driver := strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if driver != "memory" && strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required for driver %q", c.Storage.Driver)
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("broadcast.reconnect_delay", c.Broadcast.ReconnectDelay); err != nil {
		return err
	}
	return nil
}

// StorageSettings converts to the storage driver config.
func (c *Config) StorageSettings() (storage.Config, error) {
	busy, err := ParseDurationOrDefault("storage.busy_timeout", c.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      c.Storage.Driver,
		Path:        c.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

// BroadcastSettings converts to the forwarder config.
func (c *Config) BroadcastSettings() (forwarder.Config, error) {
	delay, err := ParseDurationOrDefault("broadcast.reconnect_delay", c.Broadcast.ReconnectDelay, 2*time.Second)
	if err != nil {
		return forwarder.Config{}, err
	}
	return forwarder.Config{
		URL:            strings.TrimSpace(c.Broadcast.URL),
		ReconnectDelay: delay,
		RatePerSec:     c.Broadcast.RatePerSec,
		Buffer:         c.Broadcast.Buffer,
	}, nil
}

// LoggingSettings converts to the logx config. Console defaults to on.
func (c *Config) LoggingSettings() logx.Config {
	console := true
	if c.Logging.Console != nil {
		console = *c.Logging.Console
	}
	return logx.Config{
		Level:   c.Logging.Level,
		Console: console,
		File: logx.FileConfig{
			Enabled: c.Logging.File.Enabled,
			Path:    c.Logging.File.Path,
		},
	}
}

// MaintenanceSettings resolves the maintenance schedule.
func (c *Config) MaintenanceSettings() (enabled bool, schedule string) {
	enabled = true
	schedule = "@every 6h"
	if c.Maintenance == nil {
		return enabled, schedule
	}
	if c.Maintenance.Enabled != nil {
		enabled = *c.Maintenance.Enabled
	}
	if s := strings.TrimSpace(c.Maintenance.Schedule); s != "" {
		schedule = s
	}
	return enabled, schedule
}
