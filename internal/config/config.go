package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Port      int  `yaml:"port"`
	AutoStart bool `yaml:"autoStart"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

type CacheConfig struct {
	MemoryTTLSeconds       int `yaml:"memoryTtl"`
	PersistentTTLSeconds   int `yaml:"persistentTtl"`
	MaxMemoryEvents        int `yaml:"maxMemoryEvents"`
	CleanupIntervalSeconds int `yaml:"cleanupInterval"`
}

func (c CacheConfig) MemoryTTL() time.Duration       { return time.Duration(c.MemoryTTLSeconds) * time.Second }
func (c CacheConfig) PersistentTTL() time.Duration   { return time.Duration(c.PersistentTTLSeconds) * time.Second }
func (c CacheConfig) CleanupInterval() time.Duration { return time.Duration(c.CleanupIntervalSeconds) * time.Second }

type FetchConfig struct {
	MaxConcurrentFetches int `yaml:"maxConcurrentFetches"`
	FetchTimeoutSeconds  int `yaml:"fetchTimeout"`
	RetryAttempts        int `yaml:"retryAttempts"`
	RetryDelayMillis     int `yaml:"retryDelayMs"`
}

func (c FetchConfig) FetchTimeout() time.Duration { return time.Duration(c.FetchTimeoutSeconds) * time.Second }
func (c FetchConfig) RetryDelay() time.Duration   { return time.Duration(c.RetryDelayMillis) * time.Millisecond }

type SourceConfig struct {
	ID              string `yaml:"id"`
	Name            string `yaml:"name"`
	Type            string `yaml:"type"`
	URL             string `yaml:"url"`
	Enabled         bool   `yaml:"enabled"`
	RefreshInterval int    `yaml:"refreshInterval"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	Token           string `yaml:"token"`
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Cache    CacheConfig    `yaml:"cache"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Sources  []SourceConfig `yaml:"sources"`
	LogLevel string         `yaml:"logLevel"`
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:      8080,
			AutoStart: true,
		},
		Storage: StorageConfig{
			Path: "./data/calfeed.db",
		},
		Cache: CacheConfig{
			MemoryTTLSeconds:       300,
			PersistentTTLSeconds:   86400,
			MaxMemoryEvents:        100,
			CleanupIntervalSeconds: 60,
		},
		Fetch: FetchConfig{
			MaxConcurrentFetches: 5,
			FetchTimeoutSeconds:  30,
			RetryAttempts:        3,
			RetryDelayMillis:     1000,
		},
		LogLevel: "info",
	}
}

// Load reads the config file (optional) and applies environment
// overrides on top of it.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.Server.Port = getenvInt("CALFEED_PORT", cfg.Server.Port)
	cfg.Storage.Path = getenv("CALFEED_DB_PATH", cfg.Storage.Path)
	cfg.Cache.MemoryTTLSeconds = getenvInt("CALFEED_MEMORY_TTL", cfg.Cache.MemoryTTLSeconds)
	cfg.Cache.PersistentTTLSeconds = getenvInt("CALFEED_PERSISTENT_TTL", cfg.Cache.PersistentTTLSeconds)
	cfg.Cache.MaxMemoryEvents = getenvInt("CALFEED_MAX_MEMORY_EVENTS", cfg.Cache.MaxMemoryEvents)
	cfg.Cache.CleanupIntervalSeconds = getenvInt("CALFEED_CLEANUP_INTERVAL", cfg.Cache.CleanupIntervalSeconds)
	cfg.Fetch.MaxConcurrentFetches = getenvInt("CALFEED_MAX_FETCHES", cfg.Fetch.MaxConcurrentFetches)
	cfg.Fetch.FetchTimeoutSeconds = getenvInt("CALFEED_FETCH_TIMEOUT", cfg.Fetch.FetchTimeoutSeconds)
	cfg.Fetch.RetryAttempts = getenvInt("CALFEED_RETRY_ATTEMPTS", cfg.Fetch.RetryAttempts)
	cfg.Fetch.RetryDelayMillis = getenvInt("CALFEED_RETRY_DELAY_MS", cfg.Fetch.RetryDelayMillis)
	cfg.LogLevel = getenv("LOG_LEVEL", cfg.LogLevel)

	return cfg, nil
}
