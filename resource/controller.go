// Package resource bounds the engine's concurrent load: query
// admission and the embedding rate of offline builds.
package resource

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds resource limits.
type Config struct {
	// MaxConcurrentQueries is the number of searches admitted at once.
	// If 0, defaults to 64.
	MaxConcurrentQueries int64

	// QueryRatePerSec caps admitted queries per second.
	// If 0, unlimited.
	QueryRatePerSec float64

	// EmbedRatePerSec caps embedder calls per second during builds.
	// If 0, unlimited.
	EmbedRatePerSec float64
}

// Controller manages admission of queries and embedder calls.
type Controller struct {
	cfg Config

	querySem     *semaphore.Weighted
	queriesInUse atomic.Int64

	queryLimiter *rate.Limiter
	embedLimiter *rate.Limiter
}

// NewController creates a resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxConcurrentQueries <= 0 {
		cfg.MaxConcurrentQueries = 64
	}

	c := &Controller{
		cfg:      cfg,
		querySem: semaphore.NewWeighted(cfg.MaxConcurrentQueries),
	}

	if cfg.QueryRatePerSec > 0 {
		c.queryLimiter = rate.NewLimiter(rate.Limit(cfg.QueryRatePerSec), int(cfg.QueryRatePerSec)+1)
	}
	if cfg.EmbedRatePerSec > 0 {
		c.embedLimiter = rate.NewLimiter(rate.Limit(cfg.EmbedRatePerSec), int(cfg.EmbedRatePerSec)+1)
	}

	return c
}

// AcquireQuery admits one search, blocking until a slot and rate
// token are available or ctx is canceled.
func (c *Controller) AcquireQuery(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if c.queryLimiter != nil {
		if err := c.queryLimiter.Wait(ctx); err != nil {
			return err
		}
	}
	if err := c.querySem.Acquire(ctx, 1); err != nil {
		return err
	}
	c.queriesInUse.Add(1)
	return nil
}

// ReleaseQuery returns a search slot.
func (c *Controller) ReleaseQuery() {
	if c == nil {
		return
	}
	c.queriesInUse.Add(-1)
	c.querySem.Release(1)
}

// QueriesInFlight returns the number of currently admitted searches.
func (c *Controller) QueriesInFlight() int64 {
	if c == nil {
		return 0
	}
	return c.queriesInUse.Load()
}

// AcquireEmbed waits until the embedding rate limit allows one call.
func (c *Controller) AcquireEmbed(ctx context.Context) error {
	if c == nil || c.embedLimiter == nil {
		return nil
	}
	return c.embedLimiter.Wait(ctx)
}
