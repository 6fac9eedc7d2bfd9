package calendar

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/sonroyaalmerol/calfeed/internal/metrics"
	"github.com/sonroyaalmerol/calfeed/internal/storage"
)

type CoordinatorConfig struct {
	MaxConcurrentFetches int64
	FetchTimeout         time.Duration
	RetryAttempts        int
	RetryDelay           time.Duration
}

func (c CoordinatorConfig) withDefaults() CoordinatorConfig {
	if c.MaxConcurrentFetches <= 0 {
		c.MaxConcurrentFetches = 5
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 30 * time.Second
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	return c
}

// Coordinator bounds concurrent adapter fetches and wraps each one with a
// per-attempt timeout and exponential back-off retry.
type Coordinator struct {
	cfg     CoordinatorConfig
	sem     *semaphore.Weighted
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func NewCoordinator(cfg CoordinatorConfig, logger zerolog.Logger, m *metrics.Metrics) *Coordinator {
	cfg = cfg.withDefaults()
	return &Coordinator{
		cfg:     cfg,
		sem:     semaphore.NewWeighted(cfg.MaxConcurrentFetches),
		logger:  logger,
		metrics: m,
	}
}

// Acquire blocks for a fetch permit. Health probes share the same budget.
func (c *Coordinator) Acquire(ctx context.Context) error {
	return c.sem.Acquire(ctx, 1)
}

func (c *Coordinator) Release() {
	c.sem.Release(1)
}

// Fetch runs a single (source, range) fetch under the concurrency budget.
// It never returns an error: failures are folded into the FetchResult so
// one source cannot abort a fan-out.
func (c *Coordinator) Fetch(ctx context.Context, adapter Adapter, source Source, r storage.DateRange) ([]RawEvent, FetchResult) {
	result := FetchResult{SourceID: source.ID}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		result.Error = err.Error()
		return nil, result
	}
	defer c.sem.Release(1)

	start := time.Now()
	var lastErr error

	for attempt := 1; attempt <= c.cfg.RetryAttempts; attempt++ {
		raw, err := c.attempt(ctx, adapter, source, r)
		if err == nil {
			result.Success = true
			result.FetchTime = time.Since(start)
			result.EventCount = len(raw)
			c.metrics.FetchDuration.WithLabelValues(string(source.Type)).Observe(result.FetchTime.Seconds())
			return raw, result
		}
		lastErr = err
		c.logger.Debug().
			Str("source_id", source.ID).
			Int("attempt", attempt).
			Err(err).
			Msg("fetch attempt failed")

		if attempt == c.cfg.RetryAttempts {
			break
		}
		c.metrics.FetchRetries.Inc()
		if !c.backoff(ctx, attempt) {
			lastErr = ctx.Err()
			break
		}
	}

	result.FetchTime = time.Since(start)
	result.Error = lastErr.Error()
	c.metrics.FetchFailures.WithLabelValues(string(source.Type)).Inc()
	c.metrics.FetchDuration.WithLabelValues(string(source.Type)).Observe(result.FetchTime.Seconds())
	return nil, result
}

// attempt bounds one adapter call by the fetch timeout. A timed-out call
// is abandoned: the adapter may keep running but its result is dropped.
func (c *Coordinator) attempt(ctx context.Context, adapter Adapter, source Source, r storage.DateRange) ([]RawEvent, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()

	type outcome struct {
		raw []RawEvent
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		raw, err := adapter.FetchEvents(attemptCtx, source, r)
		ch <- outcome{raw: raw, err: err}
	}()

	select {
	case out := <-ch:
		return out.raw, out.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("fetch timeout after %s", c.cfg.FetchTimeout)
	}
}

// backoff sleeps retryDelay * 2^(attempt-1) plus up to 20% jitter. It
// reports false when the context was cancelled while waiting.
func (c *Coordinator) backoff(ctx context.Context, attempt int) bool {
	delay := c.cfg.RetryDelay << (attempt - 1)
	delay += time.Duration(rand.Float64() * 0.2 * float64(delay))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
