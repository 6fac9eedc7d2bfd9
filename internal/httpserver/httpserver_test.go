package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonroyaalmerol/calfeed/internal/cache"
	"github.com/sonroyaalmerol/calfeed/internal/calendar"
	"github.com/sonroyaalmerol/calfeed/internal/config"
	"github.com/sonroyaalmerol/calfeed/internal/metrics"
	"github.com/sonroyaalmerol/calfeed/internal/storage"
	"github.com/sonroyaalmerol/calfeed/internal/storage/sqlite"
)

type stubAdapter struct {
	healthy bool
}

func (s *stubAdapter) SupportedType() calendar.SourceType { return calendar.SourceTypeICal }

func (s *stubAdapter) FetchEvents(ctx context.Context, src calendar.Source, r storage.DateRange) ([]calendar.RawEvent, error) {
	start := r.Start.Add(time.Hour)
	return []calendar.RawEvent{&storage.Event{
		ID:           src.ID + ":e1",
		Title:        "Standup",
		Start:        start,
		End:          start.Add(time.Hour),
		LastModified: start,
	}}, nil
}

func (s *stubAdapter) NormalizeEvent(raw calendar.RawEvent, sourceID string) (*storage.Event, error) {
	ev := *(raw.(*storage.Event))
	ev.SourceID = sourceID
	return &ev, nil
}

func (s *stubAdapter) ValidateSource(ctx context.Context, src calendar.Source) (bool, error) {
	return s.healthy, nil
}

func (s *stubAdapter) GetSourceStatus(ctx context.Context, src calendar.Source) (calendar.SourceHealth, error) {
	return calendar.SourceHealth{Healthy: s.healthy, LastCheck: time.Now().UTC()}, nil
}

func newTestServer(t *testing.T, adapter *stubAdapter) *Server {
	t.Helper()
	logger := zerolog.Nop()

	store, err := sqlite.New(filepath.Join(t.TempDir(), "cache.db"), time.Hour, logger)
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	evcache := cache.New(store, cache.Config{
		MemoryTTL:       time.Minute,
		PersistentTTL:   time.Hour,
		MaxMemoryEvents: 16,
	}, logger, m)
	t.Cleanup(func() { evcache.Close() })

	adapterRegistry := calendar.NewRegistry()
	adapterRegistry.Register(adapter)

	coord := calendar.NewCoordinator(calendar.CoordinatorConfig{
		MaxConcurrentFetches: 2,
		FetchTimeout:         time.Second,
		RetryAttempts:        1,
		RetryDelay:           5 * time.Millisecond,
	}, logger, m)

	mgr := calendar.NewManager(adapterRegistry, evcache, coord, logger)
	_, err = mgr.AddSource(calendar.Source{
		ID:      "team",
		Name:    "Team Calendar",
		Type:    calendar.SourceTypeICal,
		URL:     "https://calendars.example.com/team.ics",
		Enabled: true,
	})
	require.NoError(t, err)

	cfg, err := config.Load("")
	require.NoError(t, err)
	return NewServer(cfg, mgr, evcache, registry, logger)
}

func do(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, req)
	return rec
}

func TestStatusEndpoint(t *testing.T) {
	s := newTestServer(t, &stubAdapter{healthy: true})

	rec := do(t, s, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var snap calendar.StatusSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "running", snap.ServerStatus)
	require.Len(t, snap.Sources, 1)
	assert.Equal(t, "team", snap.Sources[0].ID)
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, &stubAdapter{healthy: true})
	rec := do(t, s, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)

	s = newTestServer(t, &stubAdapter{healthy: false})
	rec = do(t, s, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatsEndpoint(t *testing.T) {
	s := newTestServer(t, &stubAdapter{healthy: true})

	rec := do(t, s, http.MethodGet, "/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats cache.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(0), stats.TotalEvents)
}

func TestRefreshEndpoint(t *testing.T) {
	s := newTestServer(t, &stubAdapter{healthy: true})

	rec := do(t, s, http.MethodPost, "/refresh/team")
	require.Equal(t, http.StatusOK, rec.Code)

	var result calendar.FetchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.EventCount)

	rec = do(t, s, http.MethodPost, "/refresh/ghost")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, &stubAdapter{healthy: true})

	rec := do(t, s, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "calfeed_")
}
