package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/sonroyaalmerol/calfeed/internal/adapters/caldav"
	adapterical "github.com/sonroyaalmerol/calfeed/internal/adapters/ical"
	"github.com/sonroyaalmerol/calfeed/internal/cache"
	"github.com/sonroyaalmerol/calfeed/internal/calendar"
	"github.com/sonroyaalmerol/calfeed/internal/config"
	"github.com/sonroyaalmerol/calfeed/internal/httpserver"
	"github.com/sonroyaalmerol/calfeed/internal/logging"
	"github.com/sonroyaalmerol/calfeed/internal/metrics"
	"github.com/sonroyaalmerol/calfeed/internal/storage/sqlite"
)

func main() {
	configPath := flag.String("config", os.Getenv("CALFEED_CONFIG"), "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.LogLevel)

	store, err := sqlite.New(cfg.Storage.Path, cfg.Cache.PersistentTTL(), logging.Component(logger, "storage"))
	if err != nil {
		logger.Fatal().Err(err).Msg("storage init failed")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(registry)

	evcache := cache.New(store, cache.Config{
		MemoryTTL:       cfg.Cache.MemoryTTL(),
		PersistentTTL:   cfg.Cache.PersistentTTL(),
		MaxMemoryEvents: cfg.Cache.MaxMemoryEvents,
		CleanupInterval: cfg.Cache.CleanupInterval(),
	}, logging.Component(logger, "cache"), m)
	defer evcache.Close()

	adapterRegistry := calendar.NewRegistry()
	adapterRegistry.Register(adapterical.New(logging.Component(logger, "adapter-ical")))
	adapterRegistry.Register(caldav.New(logging.Component(logger, "adapter-caldav")))

	coord := calendar.NewCoordinator(calendar.CoordinatorConfig{
		MaxConcurrentFetches: int64(cfg.Fetch.MaxConcurrentFetches),
		FetchTimeout:         cfg.Fetch.FetchTimeout(),
		RetryAttempts:        cfg.Fetch.RetryAttempts,
		RetryDelay:           cfg.Fetch.RetryDelay(),
	}, logging.Component(logger, "calendar"), m)

	manager := calendar.NewManager(adapterRegistry, evcache, coord, logging.Component(logger, "calendar"))
	if err := manager.SyncSources(context.Background(), sourcesFromConfig(cfg)); err != nil {
		logger.Fatal().Err(err).Msg("loading sources failed")
	}

	if *configPath != "" {
		watcher, err := config.NewWatcher(*configPath, logging.Component(logger, "config"))
		if err != nil {
			logger.Fatal().Err(err).Msg("config watcher init failed")
		}
		defer watcher.Close()
		watcher.AddListener(func(next *config.Config) {
			if err := manager.SyncSources(context.Background(), sourcesFromConfig(next)); err != nil {
				logger.Error().Err(err).Msg("applying reloaded sources failed")
			}
		})
	}

	srv := httpserver.NewServer(cfg, manager, evcache, registry, logging.Component(logger, "http"))
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server stopped with error")
		}
	}()

	logger.Info().Int("port", cfg.Server.Port).Int("sources", len(cfg.Sources)).Msg("calfeed running")

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
	logger.Info().Msg("bye")
}

func sourcesFromConfig(cfg *config.Config) []calendar.Source {
	out := make([]calendar.Source, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		out = append(out, calendar.Source{
			ID:              sc.ID,
			Name:            sc.Name,
			Type:            calendar.SourceType(sc.Type),
			URL:             sc.URL,
			Enabled:         sc.Enabled,
			RefreshInterval: time.Duration(sc.RefreshInterval) * time.Second,
			Credentials: calendar.Credentials{
				Username: sc.Username,
				Password: sc.Password,
				Token:    sc.Token,
			},
		})
	}
	return out
}
