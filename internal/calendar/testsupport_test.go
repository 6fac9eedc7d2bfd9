package calendar

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sonroyaalmerol/calfeed/internal/cache"
	"github.com/sonroyaalmerol/calfeed/internal/metrics"
	"github.com/sonroyaalmerol/calfeed/internal/storage"
	"github.com/sonroyaalmerol/calfeed/internal/storage/sqlite"
)

// fakeAdapter serves canned events per source and records call counts and
// observed fetch concurrency.
type fakeAdapter struct {
	typ SourceType

	mu          sync.Mutex
	calls       map[string]int
	inFlight    int
	maxInFlight int

	fetch    func(ctx context.Context, src Source, r storage.DateRange) ([]RawEvent, error)
	validate func(ctx context.Context, src Source) (bool, error)
	status   func(ctx context.Context, src Source) (SourceHealth, error)
}

func newFakeAdapter(typ SourceType) *fakeAdapter {
	return &fakeAdapter{typ: typ, calls: make(map[string]int)}
}

func (f *fakeAdapter) SupportedType() SourceType { return f.typ }

func (f *fakeAdapter) FetchEvents(ctx context.Context, src Source, r storage.DateRange) ([]RawEvent, error) {
	f.mu.Lock()
	f.calls[src.ID]++
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.fetch == nil {
		return nil, nil
	}
	return f.fetch(ctx, src, r)
}

func (f *fakeAdapter) NormalizeEvent(raw RawEvent, sourceID string) (*storage.Event, error) {
	ev, ok := raw.(*storage.Event)
	if !ok {
		return nil, ErrNormalization
	}
	out := *ev
	out.SourceID = sourceID
	return &out, nil
}

func (f *fakeAdapter) ValidateSource(ctx context.Context, src Source) (bool, error) {
	if f.validate == nil {
		return true, nil
	}
	return f.validate(ctx, src)
}

func (f *fakeAdapter) GetSourceStatus(ctx context.Context, src Source) (SourceHealth, error) {
	if f.status == nil {
		return SourceHealth{Healthy: true, LastCheck: time.Now().UTC()}, nil
	}
	return f.status(ctx, src)
}

func (f *fakeAdapter) callCount(sourceID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[sourceID]
}

func (f *fakeAdapter) peakConcurrency() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

type testEnv struct {
	manager  *Manager
	cache    *cache.EventCache
	registry *Registry
	fake     *fakeAdapter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := zerolog.Nop()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "cache.db"), time.Hour, logger)
	require.NoError(t, err)

	m := metrics.New(prometheus.NewRegistry())
	evcache := cache.New(store, cache.Config{
		MemoryTTL:       time.Minute,
		PersistentTTL:   time.Hour,
		MaxMemoryEvents: 32,
	}, logger, m)
	t.Cleanup(func() { evcache.Close() })

	registry := NewRegistry()
	fake := newFakeAdapter(SourceTypeICal)
	registry.Register(fake)

	coord := NewCoordinator(CoordinatorConfig{
		MaxConcurrentFetches: 4,
		FetchTimeout:         2 * time.Second,
		RetryAttempts:        1,
		RetryDelay:           5 * time.Millisecond,
	}, logger, m)

	return &testEnv{
		manager:  NewManager(registry, evcache, coord, logger),
		cache:    evcache,
		registry: registry,
		fake:     fake,
	}
}

func (e *testEnv) addSource(t *testing.T, id string, enabled bool) {
	t.Helper()
	_, err := e.manager.AddSource(Source{
		ID:      id,
		Name:    id,
		Type:    SourceTypeICal,
		URL:     "https://calendars.example.com/" + id + ".ics",
		Enabled: enabled,
	})
	require.NoError(t, err)
}

func testEvent(id, title string, start time.Time) *storage.Event {
	return &storage.Event{
		ID:           id,
		Title:        title,
		Start:        start,
		End:          start.Add(time.Hour),
		LastModified: start.Add(-24 * time.Hour),
	}
}

func testRange() storage.DateRange {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return storage.DateRange{Start: start, End: start.AddDate(0, 1, 0)}
}
