// Package controller wires one poll cycle end to end: upstream fetch,
// exclusion lookup, cache replacement, decision evaluation, optional
// snapshot save or parcel parking, state update, and operator notification.
//
// The tick is a plain function over injected collaborators and an injected
// clock; the scheduler is a trivial ticker wrapping it. Ticks are serialized
// with a mutex so an externally-triggered tick cannot overlap the ticker.
package controller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/eggtrack/eggtrack/internal/engine"
	"github.com/eggtrack/eggtrack/internal/store"
	"github.com/eggtrack/eggtrack/internal/upstream"
)

// Upstream fetches the current player set.
type Upstream interface {
	Fetch(ctx context.Context) ([]upstream.PlayerRecord, error)
}

// Registry lists player IDs excluded from sync-window math.
type Registry interface {
	ExcludedIDs(ctx context.Context) (map[string]struct{}, error)
}

// CacheWriter replaces the current-state cache.
type CacheWriter interface {
	ReplaceCache(ctx context.Context, records []upstream.PlayerRecord, now time.Time) (store.CacheResult, error)
}

// SnapshotWriter appends a dated snapshot of the population.
type SnapshotWriter interface {
	SaveSnapshot(ctx context.Context, records []upstream.PlayerRecord, snapshotDate string, now time.Time) store.SaveResult
}

// StateStore persists the controller-state singleton.
type StateStore interface {
	LoadState(ctx context.Context) (*engine.ControllerState, error)
	UpdateState(ctx context.Context, patch store.StatePatch) error
}

// Notifier sends the operator emails. All methods are fire-and-forget.
type Notifier interface {
	SnapshotSaved(ctx context.Context, dec engine.Decision, save store.SaveResult, tickID string)
	PartialSync(ctx context.Context, dec engine.Decision, save store.SaveResult, tickID string)
	WeekNoUpdate(ctx context.Context, state *engine.ControllerState, now time.Time, tickID string)
}

// Controller drives the snapshot decision cycle.
type Controller struct {
	upstream  Upstream
	registry  Registry
	cache     CacheWriter
	snapshots SnapshotWriter
	state     StateStore
	notifier  Notifier
	engine    *engine.Engine
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu sync.Mutex // serializes ticks across the scheduler and HTTP triggers
}

// Deps holds the collaborators for New. Store-backed fields are usually all
// the same *store.Store.
type Deps struct {
	Upstream  Upstream
	Registry  Registry
	Cache     CacheWriter
	Snapshots SnapshotWriter
	State     StateStore
	Notifier  Notifier
	Engine    *engine.Engine
	Interval  time.Duration
	Logger    *slog.Logger
	Now       func() time.Time // defaults to time.Now
}

// New creates a controller.
func New(d Deps) *Controller {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Controller{
		upstream:  d.Upstream,
		registry:  d.Registry,
		cache:     d.Cache,
		snapshots: d.Snapshots,
		state:     d.State,
		notifier:  d.Notifier,
		engine:    d.Engine,
		interval:  d.Interval,
		logger:    d.Logger,
		now:       d.Now,
	}
}

// Run drives one tick per interval until the context is cancelled.
// Intended to be called with `go`.
func (c *Controller) Run(ctx context.Context) {
	c.logger.Info("Snapshot controller started", "interval", c.interval)
	t := time.NewTicker(c.interval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			if _, err := c.Tick(ctx); err != nil {
				c.logger.Error("Tick failed", "error", err)
			}
		case <-ctx.Done():
			c.logger.Info("Snapshot controller stopped")
			return
		}
	}
}
