package calendar

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

// SourceHealth probes one source on demand. Unknown ids yield nil.
func (m *Manager) SourceHealth(ctx context.Context, sourceID string) *HealthStatus {
	m.mu.RLock()
	src, ok := m.sources[sourceID]
	if !ok {
		m.mu.RUnlock()
		return nil
	}
	snapshot := *src
	m.mu.RUnlock()

	hs := m.probe(ctx, snapshot)
	return &hs
}

// SourcesHealth probes every enabled source concurrently, sharing the
// coordinator's fetch budget.
func (m *Manager) SourcesHealth(ctx context.Context) []HealthStatus {
	enabled := m.selectSources(nil)
	out := make([]HealthStatus, len(enabled))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range enabled {
		g.Go(func() error {
			out[i] = m.probe(gctx, src)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

func (m *Manager) probe(ctx context.Context, src Source) HealthStatus {
	hs := HealthStatus{SourceID: src.ID, LastCheck: time.Now().UTC()}

	adapter, err := m.registry.Get(src.Type)
	if err != nil {
		hs.Error = err.Error()
		return hs
	}

	if err := m.coord.Acquire(ctx); err != nil {
		hs.Error = err.Error()
		return hs
	}
	defer m.coord.Release()

	start := time.Now()
	status, err := adapter.GetSourceStatus(ctx, src)
	hs.ResponseTime = time.Since(start)
	if err != nil {
		hs.Error = err.Error()
		return hs
	}
	hs.Healthy = status.Healthy
	hs.Error = status.Error
	if !status.LastCheck.IsZero() {
		hs.LastCheck = status.LastCheck
	}
	return hs
}
