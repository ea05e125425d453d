// Package sync orchestrates full and incremental synchronization
// between the upstream message source and the in-memory cache.
package sync

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/miloview/miloview/internal/backup"
	"github.com/miloview/miloview/internal/bus"
	"github.com/miloview/miloview/internal/metrics"
	"github.com/miloview/miloview/internal/status"
	"github.com/miloview/miloview/internal/store"
	"github.com/miloview/miloview/internal/twilio"
	"go.uber.org/zap"
)

// Controller is the single writer of the cache. A gate mutex enforces
// one sync in flight: a second trigger while one runs is a silent
// no-op, never an error.
type Controller struct {
	cache   *store.Cache
	source  twilio.Source
	backup  *backup.DB // nil disables mirroring
	bus     *bus.Bus
	machine *status.Machine // nil in tests
	metrics *metrics.Metrics
	logger  *zap.Logger

	gate       sync.Mutex
	inProgress atomic.Bool

	mu          sync.Mutex
	lastSync    time.Time
	lastAttempt time.Time
}

// Status is a snapshot of the controller state for the stats endpoint.
type Status struct {
	LastSync    time.Time
	LastAttempt time.Time
	InProgress  bool
	DemoMode    bool
}

// NewController wires the controller. backup and machine may be nil.
func NewController(
	cache *store.Cache,
	source twilio.Source,
	bk *backup.DB,
	b *bus.Bus,
	machine *status.Machine,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Controller {
	return &Controller{
		cache:   cache,
		source:  source,
		backup:  bk,
		bus:     b,
		machine: machine,
		metrics: m,
		logger:  logger,
	}
}

// Full replaces the cache with a bounded window of upstream history.
// lookback <= 0 means an unbounded fetch. Returns ran=false when
// another sync held the gate and nothing happened.
//
// A mid-fetch failure keeps the pages already collected: the cache is
// replaced with the partial set and the error surfaces to the caller.
// When the very first page fails, the existing cache stays untouched.
func (c *Controller) Full(ctx context.Context, lookback time.Duration) (ran bool, err error) {
	if !c.gate.TryLock() {
		c.logger.Info("sync already in progress, skipping full sync")
		c.metrics.SyncRuns.WithLabelValues(metrics.ModeFull, metrics.ResultSkipped).Inc()
		return false, nil
	}
	defer c.gate.Unlock()
	c.inProgress.Store(true)
	defer c.inProgress.Store(false)
	c.transition(status.Syncing)

	start := time.Now()
	var f twilio.Filter
	if lookback > 0 {
		f.SentAfter = start.Add(-lookback)
	}

	var all []store.Message
	page := 0
	fetchErr := c.source.List(ctx, f, func(batch []store.Message) (bool, error) {
		page++
		all = append(all, batch...)
		c.bus.Emit(bus.KindSyncProgress, bus.ProgressPayload{Fetched: len(all), Page: page})
		return true, nil
	})
	c.markAttempt()

	if fetchErr != nil && len(all) == 0 {
		c.logger.Error("full sync fetched nothing, keeping current cache", zap.Error(fetchErr))
		c.metrics.SyncRuns.WithLabelValues(metrics.ModeFull, metrics.ResultError).Inc()
		c.transition(status.Degraded)
		return true, fmt.Errorf("full sync: %w", fetchErr)
	}

	c.cache.ReplaceAll(all)
	c.markSynced()
	c.observeCache(time.Since(start))
	c.saveMirrorAsync(true)

	c.bus.Emit(bus.KindSyncFullComplete, bus.FullCompletePayload{
		TotalMessages: c.cache.Len(),
		Timestamp:     time.Now(),
	})
	c.logger.Info("full sync complete",
		zap.Int("messages", c.cache.Len()),
		zap.Int("conversations", c.cache.ConversationCount()),
		zap.Duration("took", time.Since(start)))

	if fetchErr != nil {
		c.metrics.SyncRuns.WithLabelValues(metrics.ModeFull, metrics.ResultError).Inc()
		c.transition(status.Degraded)
		return true, fmt.Errorf("full sync finished with partial data: %w", fetchErr)
	}
	c.metrics.SyncRuns.WithLabelValues(metrics.ModeFull, metrics.ResultOK).Inc()
	c.transition(status.Ready)
	return true, nil
}

// Incremental fetches only messages newer than the latest cached
// effective timestamp and merges them in. Zero new messages means no
// event and no last-sync bump; only the attempt is recorded. Returns
// the number of messages added.
func (c *Controller) Incremental(ctx context.Context) (int, error) {
	return c.mergeSince(ctx, c.cache.MaxEffectiveTime())
}

// SyncSince merges messages sent after the given instant without
// disturbing what is already cached. Backs the dashboard's
// "sync today" action.
func (c *Controller) SyncSince(ctx context.Context, since time.Time) (int, error) {
	return c.mergeSince(ctx, since)
}

func (c *Controller) mergeSince(ctx context.Context, since time.Time) (added int, err error) {
	if !c.gate.TryLock() {
		c.metrics.SyncRuns.WithLabelValues(metrics.ModeIncremental, metrics.ResultSkipped).Inc()
		return 0, nil
	}
	defer c.gate.Unlock()
	c.inProgress.Store(true)
	defer c.inProgress.Store(false)
	c.transition(status.Syncing)

	start := time.Now()
	f := twilio.Filter{SentAfter: since}

	fetchErr := c.source.List(ctx, f, func(batch []store.Message) (bool, error) {
		added += c.cache.Merge(batch)
		return true, nil
	})
	c.markAttempt()

	if added > 0 {
		c.markSynced()
		c.observeCache(time.Since(start))
		c.metrics.MessagesMerged.Add(float64(added))
		c.saveMirrorAsync(false)
		c.bus.Emit(bus.KindSyncNewMessages, bus.NewMessagesPayload{
			Count:         added,
			TotalMessages: c.cache.Len(),
		})
		c.logger.Info("incremental sync merged new messages",
			zap.Int("added", added),
			zap.Int("total", c.cache.Len()))
	}

	if fetchErr != nil {
		c.logger.Error("incremental sync failed, merged pages stand", zap.Error(fetchErr))
		c.metrics.SyncRuns.WithLabelValues(metrics.ModeIncremental, metrics.ResultError).Inc()
		c.transition(status.Degraded)
		return added, fmt.Errorf("incremental sync: %w", fetchErr)
	}
	c.metrics.SyncRuns.WithLabelValues(metrics.ModeIncremental, metrics.ResultOK).Inc()
	c.transition(status.Ready)
	return added, nil
}

// ClearAndResync wipes the cache and the backup mirror, then runs a
// fresh bounded full sync in the background.
func (c *Controller) ClearAndResync(lookback time.Duration) {
	c.cache.Clear()
	if c.backup != nil {
		if err := c.backup.Wipe(); err != nil {
			c.logger.Warn("failed to wipe backup mirror", zap.Error(err))
		}
	}
	c.observeCache(0)
	go func() {
		if _, err := c.Full(context.Background(), lookback); err != nil {
			c.logger.Error("resync after cache clear failed", zap.Error(err))
		}
	}()
}

// SyncIfEmpty starts a background full sync when the cache holds
// nothing. Callers return immediately with the current (empty) state;
// reads never block on a slow upstream fetch.
func (c *Controller) SyncIfEmpty(lookback time.Duration) {
	if c.cache.Len() > 0 || c.inProgress.Load() {
		return
	}
	go func() {
		if _, err := c.Full(context.Background(), lookback); err != nil {
			c.logger.Error("background sync of empty cache failed", zap.Error(err))
		}
	}()
}

// RestoreFromBackup loads the mirror into the cache at cold start.
// Returns the number of restored messages.
func (c *Controller) RestoreFromBackup() (int, error) {
	if c.backup == nil {
		return 0, nil
	}
	msgs, err := c.backup.LoadAll()
	if err != nil {
		return 0, fmt.Errorf("load backup: %w", err)
	}
	n := c.cache.Merge(msgs)
	if n > 0 {
		c.observeCache(0)
	}
	return n, nil
}

// Status reports the current sync state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		LastSync:    c.lastSync,
		LastAttempt: c.lastAttempt,
		InProgress:  c.inProgress.Load(),
		DemoMode:    c.source.Demo(),
	}
}

func (c *Controller) markAttempt() {
	c.mu.Lock()
	c.lastAttempt = time.Now()
	c.mu.Unlock()
}

func (c *Controller) markSynced() {
	c.mu.Lock()
	now := time.Now()
	c.lastSync = now
	c.lastAttempt = now
	c.mu.Unlock()
}

func (c *Controller) observeCache(took time.Duration) {
	c.metrics.CacheMessages.Set(float64(c.cache.Len()))
	c.metrics.CacheConversations.Set(float64(c.cache.ConversationCount()))
	if took > 0 {
		c.metrics.SyncDuration.Observe(took.Seconds())
	}
}

// saveMirrorAsync mirrors the cache to the backup store without
// holding up the sync path. full selects replace instead of append.
func (c *Controller) saveMirrorAsync(full bool) {
	if c.backup == nil {
		return
	}
	snapshot := c.cache.Snapshot()
	go func() {
		var err error
		if full {
			err = c.backup.SaveAll(snapshot)
		} else {
			err = c.backup.SaveBatch(snapshot)
		}
		if err != nil {
			c.logger.Warn("backup mirror write failed", zap.Error(err))
		}
	}()
}

func (c *Controller) transition(to status.State) {
	if c.machine == nil {
		return
	}
	// Best effort: an out-of-band state is not worth failing a sync.
	_ = c.machine.Transition(to)
}
