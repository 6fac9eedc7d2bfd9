package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "./data/calfeed.db", cfg.Storage.Path)
	assert.Equal(t, 5*time.Minute, cfg.Cache.MemoryTTL())
	assert.Equal(t, 24*time.Hour, cfg.Cache.PersistentTTL())
	assert.Equal(t, 100, cfg.Cache.MaxMemoryEvents)
	assert.Equal(t, 5, cfg.Fetch.MaxConcurrentFetches)
	assert.Equal(t, 30*time.Second, cfg.Fetch.FetchTimeout())
	assert.Equal(t, 3, cfg.Fetch.RetryAttempts)
	assert.Equal(t, time.Second, cfg.Fetch.RetryDelay())
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.Sources)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
cache:
  memoryTtl: 60
  maxMemoryEvents: 10
fetch:
  retryAttempts: 5
sources:
  - id: team
    name: Team Calendar
    type: ical
    url: https://calendars.example.com/team.ics
    enabled: true
    refreshInterval: 900
  - id: shared
    name: Shared CalDAV
    type: caldav
    url: https://dav.example.com/calendars/shared/
    enabled: false
    username: bot
    password: hunter2
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, time.Minute, cfg.Cache.MemoryTTL())
	assert.Equal(t, 10, cfg.Cache.MaxMemoryEvents)
	assert.Equal(t, 24*time.Hour, cfg.Cache.PersistentTTL(), "unset keys keep their defaults")
	assert.Equal(t, 5, cfg.Fetch.RetryAttempts)

	require.Len(t, cfg.Sources, 2)
	assert.Equal(t, "team", cfg.Sources[0].ID)
	assert.Equal(t, "ical", cfg.Sources[0].Type)
	assert.Equal(t, 900, cfg.Sources[0].RefreshInterval)
	assert.Equal(t, "bot", cfg.Sources[1].Username)
	assert.False(t, cfg.Sources[1].Enabled)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a mapping"), 0644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CALFEED_PORT", "7070")
	t.Setenv("CALFEED_DB_PATH", "/tmp/other.db")
	t.Setenv("CALFEED_MEMORY_TTL", "120")
	t.Setenv("CALFEED_RETRY_ATTEMPTS", "not-a-number")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "/tmp/other.db", cfg.Storage.Path)
	assert.Equal(t, 2*time.Minute, cfg.Cache.MemoryTTL())
	assert.Equal(t, 3, cfg.Fetch.RetryAttempts, "unparseable overrides are ignored")
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestWatcherReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8080\n"), 0644))

	w, err := NewWatcher(path, zerolog.Nop())
	require.NoError(t, err)
	defer w.Close()

	var mu sync.Mutex
	var got *Config
	w.AddListener(func(*Config) { panic("boom") })
	w.AddListener(func(cfg *Config) {
		mu.Lock()
		got = cfg
		mu.Unlock()
	})

	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9191\n"), 0644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil && got.Server.Port == 9191
	}, 3*time.Second, 25*time.Millisecond, "listener must see the reloaded config despite a panicking peer")
}

func TestWatcherRemoveListener(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8080\n"), 0644))

	w, err := NewWatcher(path, zerolog.Nop())
	require.NoError(t, err)
	defer w.Close()

	id := w.AddListener(func(*Config) { t.Error("removed listener fired") })
	w.RemoveListener(id)

	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9191\n"), 0644))
	time.Sleep(500 * time.Millisecond)
}
