package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/calfeed/internal/metrics"
	"github.com/sonroyaalmerol/calfeed/internal/storage"
)

type Config struct {
	MemoryTTL       time.Duration
	PersistentTTL   time.Duration
	MaxMemoryEvents int
	CleanupInterval time.Duration
}

type Stats struct {
	MemoryHits       uint64
	MemoryMisses     uint64
	PersistentHits   uint64
	PersistentMisses uint64
	TotalEvents      int64
	Evictions        uint64
}

// EventCache unifies the in-memory tier and the persistent index behind
// one lookup/invalidation surface. The memory tier is a projection of the
// index; the index is authoritative.
type EventCache struct {
	mem     *memoryTier
	index   storage.Index
	cfg     Config
	logger  zerolog.Logger
	metrics *metrics.Metrics

	memoryHits       atomic.Uint64
	memoryMisses     atomic.Uint64
	persistentHits   atomic.Uint64
	persistentMisses atomic.Uint64

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func New(index storage.Index, cfg Config, logger zerolog.Logger, m *metrics.Metrics) *EventCache {
	c := &EventCache{
		mem:     newMemoryTier(cfg.MaxMemoryEvents, cfg.MemoryTTL),
		index:   index,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if cfg.CleanupInterval > 0 {
		go c.sweepLoop()
	} else {
		close(c.done)
	}
	return c
}

// GetEvents resolves a query through memory, then the persistent
// query_cache, then a full index query. It reports false on a full miss.
// Hits below the memory tier are promoted into it.
func (c *EventCache) GetEvents(ctx context.Context, q storage.Query) ([]*storage.Event, bool, error) {
	fp := q.Fingerprint()
	now := time.Now()

	if events, ok := c.mem.get(fp, now); ok {
		c.memoryHits.Add(1)
		c.metrics.CacheHits.WithLabelValues("memory").Inc()
		return events, true, nil
	}
	c.memoryMisses.Add(1)
	c.metrics.CacheMisses.WithLabelValues("memory").Inc()

	events, ok, err := c.index.LookupQueryResult(ctx, fp, now)
	if err != nil {
		return nil, false, fmt.Errorf("query cache lookup: %w", err)
	}
	if !ok {
		found, err := c.index.FindByQuery(ctx, q)
		if err != nil {
			return nil, false, fmt.Errorf("index query: %w", err)
		}
		if len(found) == 0 {
			c.persistentMisses.Add(1)
			c.metrics.CacheMisses.WithLabelValues("persistent").Inc()
			return nil, false, nil
		}
		events = found
	}

	c.persistentHits.Add(1)
	c.metrics.CacheHits.WithLabelValues("persistent").Inc()
	c.mem.set(fp, events, now)
	return events, true, nil
}

// SetEvents writes the result set through to the index and populates the
// memory tier. Concurrent readers of the same fingerprint see either the
// previous or the new result, never a mixture.
func (c *EventCache) SetEvents(ctx context.Context, q storage.Query, events []*storage.Event) error {
	fp := q.Fingerprint()
	if err := c.index.StoreQueryResult(ctx, fp, events, c.cfg.PersistentTTL); err != nil {
		return fmt.Errorf("store query result: %w", err)
	}
	c.mem.set(fp, events, time.Now())
	return nil
}

// GetEventByID is a global by-id lookup against the persistent index.
func (c *EventCache) GetEventByID(ctx context.Context, eventID string) (*storage.Event, error) {
	return c.index.FindByID(ctx, eventID)
}

// InvalidateSource removes the source from both tiers. Until the next
// SetEvents, no query served by the cache contains its events.
func (c *EventCache) InvalidateSource(ctx context.Context, sourceID string) error {
	dropped := c.mem.invalidateSource(sourceID)
	if dropped > 0 {
		c.logger.Debug().Str("source_id", sourceID).Int("entries", dropped).
			Msg("dropped memory entries for source")
	}
	if err := c.index.DeleteBySource(ctx, sourceID); err != nil {
		return fmt.Errorf("delete source %s from index: %w", sourceID, err)
	}
	return nil
}

func (c *EventCache) Stats(ctx context.Context) (Stats, error) {
	total, err := c.index.CountEvents(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		MemoryHits:       c.memoryHits.Load(),
		MemoryMisses:     c.memoryMisses.Load(),
		PersistentHits:   c.persistentHits.Load(),
		PersistentMisses: c.persistentMisses.Load(),
		TotalEvents:      total,
		Evictions:        c.mem.evicted(),
	}, nil
}

// Close stops the sweep and releases the index.
func (c *EventCache) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stop)
		<-c.done
		err = c.index.Close()
	})
	return err
}

func (c *EventCache) sweepLoop() {
	defer close(c.done)
	ticker := time.NewTicker(c.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			now := time.Now()
			expired := c.mem.sweep(now)
			c.metrics.CacheEvictions.Add(float64(expired))

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			removed, err := c.index.CleanupExpired(ctx, now)
			cancel()
			if err != nil {
				c.logger.Warn().Err(err).Msg("persistent cleanup failed")
				continue
			}
			if expired > 0 || removed > 0 {
				c.logger.Debug().Int("memory", expired).Int64("persistent", removed).
					Msg("cache sweep")
			}
		}
	}
}
