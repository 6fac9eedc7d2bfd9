package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/calfeed/internal/cache"
	"github.com/sonroyaalmerol/calfeed/internal/calendar"
	"github.com/sonroyaalmerol/calfeed/internal/config"
	"github.com/sonroyaalmerol/calfeed/internal/storage"
)

// Server is the read-only bridge exposing aggregator status, health and
// metrics, plus a manual refresh hook.
type Server struct {
	http    *http.Server
	manager *calendar.Manager
	cache   *cache.EventCache
	logger  zerolog.Logger
}

func NewServer(cfg *config.Config, mgr *calendar.Manager, evcache *cache.EventCache, reg *prometheus.Registry, logger zerolog.Logger) *Server {
	s := &Server{
		manager: mgr,
		cache:   evcache,
		logger:  logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("POST /refresh/{id}", s.handleRefresh)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.manager.Status())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.manager.SourcesHealth(r.Context())
	status := http.StatusOK
	for _, h := range health {
		if !h.Healthy {
			status = http.StatusServiceUnavailable
			break
		}
	}
	s.writeJSON(w, status, health)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.cache.Stats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	sourceID := r.PathValue("id")

	now := time.Now()
	dateRange := storage.DateRange{
		Start: now.AddDate(0, -1, 0),
		End:   now.AddDate(1, 0, 0),
	}

	result, err := s.manager.RefreshSource(r.Context(), sourceID, dateRange)
	if err != nil {
		if errors.Is(err, calendar.ErrSourceNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("response encode failed")
	}
}
