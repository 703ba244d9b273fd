// ABOUTME: Periodic liveness sweep over the session registry
// ABOUTME: Pings every slot without blocking and prunes the ones that refuse it

package stream

import (
	"context"
	"log/slog"
	"time"
)

// DefaultReapInterval is the time between two sweeps.
const DefaultReapInterval = 5 * time.Second

// Reaper removes slots whose consumer is gone or has stopped draining. A full
// buffer at probe time counts as stale: slow consumers are evicted rather than
// allowed to grow memory or stall broadcasters.
type Reaper struct {
	registry *Registry
	interval time.Duration
	logger   *slog.Logger
}

// NewReaper creates a reaper for registry. Pass nil logger for default.
func NewReaper(registry *Registry, interval time.Duration, logger *slog.Logger) *Reaper {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		registry: registry,
		interval: interval,
		logger:   logger.With("component", "reaper"),
	}
}

// Run sweeps on every tick until ctx is cancelled. It always returns nil so it
// can sit in an errgroup next to the servers.
func (r *Reaper) Run(ctx context.Context) error {
	r.logger.Debug("starting stale session monitor", "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Sweep probes every registered slot once and prunes the stale ones.
// Returns the number of slots removed.
func (r *Reaper) Sweep() int {
	slots := r.registry.snapshot()

	var stale []string
	for _, s := range slots {
		if !s.trySend(Ping()) {
			stale = append(stale, s.id)
		}
	}

	removed := r.registry.Prune(stale)
	r.registry.metrics.reaped(removed)
	if removed > 0 {
		r.logger.Info("removed stale sessions", "count", removed, "remaining", len(slots)-removed)
	}
	return removed
}
