package calendar

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/calfeed/internal/cache"
	"github.com/sonroyaalmerol/calfeed/internal/storage"
)

const msgNoEnabledSources = "No enabled calendar sources available"

// detailSearchSpan is the half-width of the default range used when an
// event detail lookup misses the index and falls back to the sources.
const detailSearchSpan = 365 * 24 * time.Hour

// FetchOutcome is the aggregate result of one FetchEvents call. Results
// preserve the order of the selected sources.
type FetchOutcome struct {
	Events  []*storage.Event
	Results []FetchResult
	Errors  []string
}

// Manager owns the source registry and orchestrates cache, coordinator
// and adapters. It is safe for concurrent use; distinct FetchEvents calls
// proceed independently.
type Manager struct {
	mu      sync.RWMutex
	sources map[string]*Source

	registry *Registry
	cache    *cache.EventCache
	coord    *Coordinator
	logger   zerolog.Logger

	listenerMu      sync.Mutex
	statusListeners map[int]func(StatusSnapshot)
	nextListenerID  int
}

func NewManager(registry *Registry, eventCache *cache.EventCache, coord *Coordinator, logger zerolog.Logger) *Manager {
	return &Manager{
		sources:         make(map[string]*Source),
		registry:        registry,
		cache:           eventCache,
		coord:           coord,
		logger:          logger,
		statusListeners: make(map[int]func(StatusSnapshot)),
	}
}

// FetchEvents aggregates events for the range across the selected sources
// (all enabled ones when sourceIDs is nil), serving from cache when it
// can. Per-source failures land in Results and Errors, never abort the
// whole call.
func (m *Manager) FetchEvents(ctx context.Context, r storage.DateRange, sourceIDs []string) *FetchOutcome {
	selected := m.selectSources(sourceIDs)
	if len(selected) == 0 {
		return &FetchOutcome{Errors: []string{msgNoEnabledSources}}
	}

	ids := make([]string, len(selected))
	for i, src := range selected {
		ids[i] = src.ID
	}
	query := storage.Query{SourceIDs: ids, Range: &r}

	outcome := &FetchOutcome{}

	cached, hit, err := m.cache.GetEvents(ctx, query)
	if err != nil {
		m.logger.Warn().Err(err).Msg("cache read failed")
		outcome.Errors = append(outcome.Errors, fmt.Sprintf("cache read: %v", err))
	}
	if hit {
		outcome.Events = cached
		counts := make(map[string]int, len(ids))
		for _, ev := range cached {
			counts[ev.SourceID]++
		}
		for _, src := range selected {
			outcome.Results = append(outcome.Results, FetchResult{
				SourceID:   src.ID,
				Success:    true,
				FetchTime:  0, // served from cache
				EventCount: counts[src.ID],
			})
		}
		return outcome
	}

	results := make([]FetchResult, len(selected))
	perSource := make([][]*storage.Event, len(selected))

	var wg sync.WaitGroup
	for i, src := range selected {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			perSource[i], results[i] = m.fetchOne(ctx, src, r)
		}(i, src)
	}
	wg.Wait()

	var all []*storage.Event
	for _, evs := range perSource {
		all = append(all, evs...)
	}
	merged := Dedupe(all)

	outcome.Events = merged
	outcome.Results = results
	for _, res := range results {
		if !res.Success {
			outcome.Errors = append(outcome.Errors, fmt.Sprintf("source %s: %s", res.SourceID, res.Error))
		}
	}

	if err := m.cache.SetEvents(ctx, query, merged); err != nil {
		m.logger.Warn().Err(err).Msg("cache write failed")
		outcome.Errors = append(outcome.Errors, fmt.Sprintf("cache write: %v", err))
	}

	m.recordResults(results)
	return outcome
}

// fetchOne fetches and normalizes a single source. Normalization failures
// drop the offending event with a warning and keep the rest.
func (m *Manager) fetchOne(ctx context.Context, src Source, r storage.DateRange) ([]*storage.Event, FetchResult) {
	adapter, err := m.registry.Get(src.Type)
	if err != nil {
		return nil, FetchResult{SourceID: src.ID, Error: err.Error()}
	}

	raw, result := m.coord.Fetch(ctx, adapter, src, r)
	if !result.Success {
		return nil, result
	}

	events := make([]*storage.Event, 0, len(raw))
	for _, re := range raw {
		ev, err := adapter.NormalizeEvent(re, src.ID)
		if err != nil {
			m.logger.Warn().
				Str("source_id", src.ID).
				Err(err).
				Msg("dropping event that failed normalization")
			continue
		}
		ev.SourceID = src.ID
		events = append(events, ev)
	}
	result.EventCount = len(events)
	return events, result
}

// RefreshSource bypasses the cache read path: it invalidates the source
// and fetches fresh data. Unknown ids fail with ErrSourceNotFound.
func (m *Manager) RefreshSource(ctx context.Context, sourceID string, r storage.DateRange) (FetchResult, error) {
	m.mu.RLock()
	src, ok := m.sources[sourceID]
	if !ok {
		m.mu.RUnlock()
		return FetchResult{}, fmt.Errorf("%w: %q", ErrSourceNotFound, sourceID)
	}
	snapshot := *src
	m.mu.RUnlock()

	if err := m.cache.InvalidateSource(ctx, sourceID); err != nil {
		return FetchResult{SourceID: sourceID, Error: err.Error()}, nil
	}

	events, result := m.fetchOne(ctx, snapshot, r)
	if result.Success {
		query := storage.Query{SourceIDs: []string{sourceID}, Range: &r}
		if err := m.cache.SetEvents(ctx, query, Dedupe(events)); err != nil {
			m.logger.Warn().Err(err).Str("source_id", sourceID).Msg("cache write failed")
		}
	}

	m.recordResults([]FetchResult{result})
	return result, nil
}

// GetEventDetails looks the event up in the persistent index first, then
// falls back to a wide fan-out across all enabled sources. The
// includeRecurrence flag is advisory: the event keeps its recurrence
// either way and callers post-process.
func (m *Manager) GetEventDetails(ctx context.Context, eventID string, includeRecurrence bool) (*storage.Event, error) {
	_ = includeRecurrence

	ev, err := m.cache.GetEventByID(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("index lookup: %w", err)
	}
	if ev != nil {
		return ev, nil
	}

	enabled := m.selectSources(nil)
	if len(enabled) == 0 {
		return nil, fmt.Errorf("%s", msgNoEnabledSources)
	}

	now := time.Now()
	wide := storage.DateRange{Start: now.Add(-detailSearchSpan), End: now.Add(detailSearchSpan)}

	results := make([]FetchResult, len(enabled))
	found := make([]*storage.Event, len(enabled))

	var wg sync.WaitGroup
	for i, src := range enabled {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			events, res := m.fetchOne(ctx, src, wide)
			results[i] = res
			for _, ev := range events {
				if ev.ID == eventID {
					found[i] = ev
					return
				}
			}
		}(i, src)
	}
	wg.Wait()

	for _, ev := range found {
		if ev != nil {
			return ev, nil
		}
	}
	for _, res := range results {
		if !res.Success {
			return nil, fmt.Errorf("source %s: %s", res.SourceID, res.Error)
		}
	}
	return nil, fmt.Errorf("Event '%s' not found in any configured calendar sources", eventID)
}

// ValidateSource probes the source through its adapter. An unregistered
// type raises; adapter failures yield false.
func (m *Manager) ValidateSource(ctx context.Context, src Source) (bool, error) {
	adapter, err := m.registry.Get(src.Type)
	if err != nil {
		return false, err
	}
	ok, err := adapter.ValidateSource(ctx, src)
	if err != nil {
		m.logger.Debug().Str("source_id", src.ID).Err(err).Msg("source validation failed")
		return false, nil
	}
	return ok, nil
}

// AddSource registers a source. An empty id gets a generated one; the
// source type must have a registered adapter.
func (m *Manager) AddSource(src Source) (Source, error) {
	if _, err := m.registry.Get(src.Type); err != nil {
		return Source{}, err
	}
	if src.ID == "" {
		src.ID = uuid.New().String()
	}
	if src.Status == "" {
		src.Status = SourceStatusActive
		if !src.Enabled {
			src.Status = SourceStatusDisabled
		}
	}

	m.mu.Lock()
	if _, exists := m.sources[src.ID]; exists {
		m.mu.Unlock()
		return Source{}, fmt.Errorf("source %q already exists", src.ID)
	}
	m.sources[src.ID] = &src
	m.mu.Unlock()

	m.notifyStatus()
	return src, nil
}

// UpdateSource replaces the source's configuration and invalidates every
// cached result that references it.
func (m *Manager) UpdateSource(ctx context.Context, src Source) error {
	m.mu.Lock()
	existing, ok := m.sources[src.ID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrSourceNotFound, src.ID)
	}
	src.LastSync = existing.LastSync
	if src.Status == "" {
		src.Status = SourceStatusActive
		if !src.Enabled {
			src.Status = SourceStatusDisabled
		}
	}
	m.sources[src.ID] = &src
	m.mu.Unlock()

	if err := m.cache.InvalidateSource(ctx, src.ID); err != nil {
		return err
	}
	m.notifyStatus()
	return nil
}

func (m *Manager) RemoveSource(ctx context.Context, sourceID string) error {
	m.mu.Lock()
	if _, ok := m.sources[sourceID]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrSourceNotFound, sourceID)
	}
	delete(m.sources, sourceID)
	m.mu.Unlock()

	if err := m.cache.InvalidateSource(ctx, sourceID); err != nil {
		return err
	}
	m.notifyStatus()
	return nil
}

func (m *Manager) GetSource(sourceID string) (Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src, ok := m.sources[sourceID]
	if !ok {
		return Source{}, fmt.Errorf("%w: %q", ErrSourceNotFound, sourceID)
	}
	return *src, nil
}

// Sources returns all sources sorted by id.
func (m *Manager) Sources() []Source {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Source, 0, len(m.sources))
	for _, src := range m.sources {
		out = append(out, *src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SyncSources reconciles the registered sources with a desired set, as
// delivered by a configuration reload. Changed and removed sources get
// their cache entries invalidated.
func (m *Manager) SyncSources(ctx context.Context, desired []Source) error {
	seen := make(map[string]struct{}, len(desired))
	for _, src := range desired {
		seen[src.ID] = struct{}{}
		current, err := m.GetSource(src.ID)
		switch {
		case err != nil:
			if _, err := m.AddSource(src); err != nil {
				return err
			}
		case !sourceEqual(current, src):
			if err := m.UpdateSource(ctx, src); err != nil {
				return err
			}
		}
	}
	for _, src := range m.Sources() {
		if _, ok := seen[src.ID]; !ok {
			if err := m.RemoveSource(ctx, src.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func sourceEqual(a, b Source) bool {
	return a.Name == b.Name &&
		a.Type == b.Type &&
		a.URL == b.URL &&
		a.Enabled == b.Enabled &&
		a.RefreshInterval == b.RefreshInterval &&
		a.Credentials == b.Credentials
}

// selectSources resolves the requested ids (nil means all) down to
// enabled sources. Explicit ids keep their input order; the nil case is
// sorted by id.
func (m *Manager) selectSources(sourceIDs []string) []Source {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Source
	if sourceIDs == nil {
		for _, src := range m.sources {
			if src.Enabled {
				out = append(out, *src)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return out
	}
	for _, id := range sourceIDs {
		if src, ok := m.sources[id]; ok && src.Enabled {
			out = append(out, *src)
		}
	}
	return out
}

// recordResults folds fetch outcomes back into source status.
func (m *Manager) recordResults(results []FetchResult) {
	now := time.Now()
	m.mu.Lock()
	for _, res := range results {
		src, ok := m.sources[res.SourceID]
		if !ok {
			continue
		}
		if res.Success {
			src.Status = SourceStatusActive
			src.LastSync = now
			src.LastError = ""
		} else {
			src.Status = SourceStatusError
			src.LastError = res.Error
		}
	}
	m.mu.Unlock()
	m.notifyStatus()
}

// Status builds the snapshot served by the HTTP bridge.
func (m *Manager) Status() StatusSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := StatusSnapshot{
		Timestamp:    time.Now().UTC(),
		ServerStatus: "running",
	}
	for _, src := range m.sources {
		rec := SourceStatusRecord{
			ID:     src.ID,
			Name:   src.Name,
			Status: src.Status,
			Error:  src.LastError,
		}
		if !src.LastSync.IsZero() {
			t := src.LastSync
			rec.LastSync = &t
		}
		snap.Sources = append(snap.Sources, rec)
	}
	sort.Slice(snap.Sources, func(i, j int) bool { return snap.Sources[i].ID < snap.Sources[j].ID })
	return snap
}

// AddStatusListener registers an observer for status changes and returns
// a handle for RemoveStatusListener.
func (m *Manager) AddStatusListener(fn func(StatusSnapshot)) int {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	id := m.nextListenerID
	m.nextListenerID++
	m.statusListeners[id] = fn
	return id
}

func (m *Manager) RemoveStatusListener(id int) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	delete(m.statusListeners, id)
}

// notifyStatus invokes every listener with a fresh snapshot. A panicking
// listener is contained so its peers still run.
func (m *Manager) notifyStatus() {
	snap := m.Status()

	m.listenerMu.Lock()
	listeners := make([]func(StatusSnapshot), 0, len(m.statusListeners))
	for _, fn := range m.statusListeners {
		listeners = append(listeners, fn)
	}
	m.listenerMu.Unlock()

	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error().Interface("panic", r).Msg("status listener panicked")
				}
			}()
			fn(snap)
		}()
	}
}
