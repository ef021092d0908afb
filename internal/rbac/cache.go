package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/estate-admin/backoffice/internal/observability"
)

// Refresh triggers, used as log and metric labels.
const (
	TriggerStartup    = "startup"
	TriggerTimer      = "timer"
	TriggerInvalidate = "invalidate"
)

// SnapshotSource is the bulk read a Cache is rebuilt from.
type SnapshotSource interface {
	GetEffectivePermissionSnapshot(ctx context.Context) (SnapshotData, error)
}

// CacheConfig tunes refresh behaviour.
type CacheConfig struct {
	ReloadInterval time.Duration
	StoreTimeout   time.Duration
}

// RefreshStatus describes the outcome of the most recent refresh attempt.
type RefreshStatus struct {
	Trigger   string
	At        time.Time
	Err       error
	Succeeded bool
}

// Cache holds the current Snapshot. Readers load the pointer without locking;
// a single refresher at a time builds a replacement and swaps it in.
type Cache struct {
	source  SnapshotSource
	cfg     CacheConfig
	logger  *slog.Logger
	metrics *observability.Metrics

	current atomic.Pointer[Snapshot]
	status  atomic.Pointer[RefreshStatus]

	// requested counts Invalidate calls; served is the highest request
	// number covered by a completed refresh. Both version and served are
	// only touched while holding gate.
	requested atomic.Uint64
	gate      *semaphore.Weighted
	served    uint64
	version   uint64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCache builds a cache that serves an empty snapshot until the first refresh.
func NewCache(source SnapshotSource, cfg CacheConfig, logger *slog.Logger, metrics *observability.Metrics) *Cache {
	if cfg.ReloadInterval <= 0 {
		cfg.ReloadInterval = 30 * time.Second
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		source:  source,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		gate:    semaphore.NewWeighted(1),
	}
	c.current.Store(emptySnapshot())
	return c
}

// Snapshot returns the current snapshot. It never blocks and never returns nil.
func (c *Cache) Snapshot() *Snapshot {
	return c.current.Load()
}

// Status returns the last refresh attempt, or nil before the first one.
func (c *Cache) Status() *RefreshStatus {
	return c.status.Load()
}

// Start performs the initial load and launches the reload loop. A failed
// initial load is returned but the loop still starts, so the cache recovers
// once the store is reachable.
func (c *Cache) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return errors.New("rbac: cache already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	err := c.refresh(ctx, TriggerStartup)
	go c.loop(loopCtx)
	return err
}

// Stop cancels the reload loop and waits for it to exit.
func (c *Cache) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Invalidate blocks until a refresh that began after this call has
// completed, so changes committed before the call are visible on return.
// Concurrent callers share refreshes.
func (c *Cache) Invalidate(ctx context.Context) error {
	return c.refresh(ctx, TriggerInvalidate)
}

func (c *Cache) refresh(ctx context.Context, trigger string) error {
	ticket := c.requested.Add(1)
	if err := c.gate.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.gate.Release(1)
	if c.served >= ticket {
		return nil
	}
	return c.reloadLocked(ctx, trigger)
}

func (c *Cache) loop(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.cfg.ReloadInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.gate.TryAcquire(1) {
				c.logger.Debug("rbac refresh skipped, already running")
				continue
			}
			_ = c.reloadLocked(ctx, TriggerTimer)
			c.gate.Release(1)
		}
	}
}

// reloadLocked must be called with gate held.
func (c *Cache) reloadLocked(ctx context.Context, trigger string) error {
	covers := c.requested.Load()
	started := time.Now()

	loadCtx, cancel := context.WithTimeout(ctx, c.cfg.StoreTimeout)
	data, err := c.source.GetEffectivePermissionSnapshot(loadCtx)
	cancel()
	elapsed := time.Since(started)

	if err != nil {
		if !errors.Is(err, ErrStoreUnavailable) {
			err = fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
		c.status.Store(&RefreshStatus{Trigger: trigger, At: started, Err: err})
		c.metrics.ObservePermissionRefresh(trigger, elapsed, err)
		c.logger.Warn("rbac refresh failed, serving last snapshot",
			slog.String("trigger", trigger),
			slog.Uint64("version", c.current.Load().Version),
			slog.Any("error", err))
		return err
	}

	c.version++
	snap := newSnapshot(c.version, data, started)
	c.current.Store(snap)
	c.served = covers
	c.status.Store(&RefreshStatus{Trigger: trigger, At: started, Succeeded: true})
	c.metrics.ObservePermissionRefresh(trigger, elapsed, nil)
	c.metrics.SetPermissionSnapshot(snap.Version, snap.Users(), snap.Grants())
	c.logger.Debug("rbac snapshot refreshed",
		slog.String("trigger", trigger),
		slog.Uint64("version", snap.Version),
		slog.Int("users", snap.Users()),
		slog.Int("grants", snap.Grants()),
		slog.Duration("elapsed", elapsed))
	return nil
}
