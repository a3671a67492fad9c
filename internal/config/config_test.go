package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestParseYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  addr: ":8080"
  secret: hunter2
storage:
  driver: sqlite
  path: ./data/pins.db
  busy_timeout: 5s
broadcast:
  url: wss://broadcast.example/ws
  reconnect_delay: 2s
  rate_per_sec: 10
logging:
  level: debug
  console: true
`)

	cfg, err := NewManager(path).Parse()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Server.Addr)
	require.Equal(t, "hunter2", cfg.Server.Secret)

	sc, err := cfg.StorageSettings()
	require.NoError(t, err)
	require.Equal(t, "sqlite", sc.Driver)
	require.Equal(t, 5*time.Second, sc.BusyTimeout)

	bc, err := cfg.BroadcastSettings()
	require.NoError(t, err)
	require.Equal(t, "wss://broadcast.example/ws", bc.URL)
	require.Equal(t, 2*time.Second, bc.ReconnectDelay)
	require.Equal(t, 10, bc.RatePerSec)

	lc := cfg.LoggingSettings()
	require.Equal(t, "debug", lc.Level)
	require.True(t, lc.Console)
}

func TestParseJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
  "server": {"addr": ":9090"},
  "storage": {"driver": "memory"}
}`)

	cfg, err := NewManager(path).Parse()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.Server.Addr)

	// Broadcast omitted: forwarder stays inert on a sane default delay.
	bc, err := cfg.BroadcastSettings()
	require.NoError(t, err)
	require.Empty(t, bc.URL)
	require.Equal(t, 2*time.Second, bc.ReconnectDelay)

	enabled, schedule := cfg.MaintenanceSettings()
	require.True(t, enabled)
	require.Equal(t, "@every 6h", schedule)
}

func TestUnknownFieldRejected(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  addr: ":8080"
  totally_unknown: true
storage:
  driver: memory
`)
	_, err := NewManager(path).Parse()
	require.Error(t, err)
}

func TestMissingRequiredFields(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  addr: ""
storage:
  driver: memory
`)
	_, err := NewManager(path).Parse()
	require.Error(t, err)

	path = writeConfig(t, "config.yaml", `
server:
  addr: ":8080"
storage:
  driver: sqlite
`)
	_, err = NewManager(path).Parse()
	require.Error(t, err, "sqlite driver without a path must be rejected")
}

func TestBadDurationRejected(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  addr: ":8080"
storage:
  driver: memory
broadcast:
  reconnect_delay: nope
`)
	_, err := NewManager(path).Parse()
	require.Error(t, err)
}
