package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"drive/internal/server/database"
	"drive/internal/server/logging"
)

// OrphanQueue is the store side of deferred blob deletion.
type OrphanQueue interface {
	ResolveOrphanBlob(ctx context.Context, storageKey string) error
	RecordPurgeFailure(ctx context.Context, storageKey, reason string) error
}

// SweepStore is everything the cleanup sweeper needs from metadata storage.
type SweepStore interface {
	OrphanQueue
	ExpirePendingUploads(ctx context.Context, now time.Time, limit int) ([]string, error)
	ListOrphanBlobs(ctx context.Context, limit int) ([]*database.OrphanBlob, error)
}

// PurgeQueued deletes each queued key from the gateway. Successful purges
// are dequeued; failures stay queued with the error recorded and are
// logged. Returns the number purged.
func PurgeQueued(ctx context.Context, queue OrphanQueue, gw Gateway, keys []string) int {
	logger := logging.FromContext(ctx)

	purged := 0
	for _, key := range keys {
		if err := gw.Purge(ctx, key); err != nil {
			logger.Error("blob purge failed", zap.String("storage_key", key), zap.Error(err))
			if err := queue.RecordPurgeFailure(ctx, key, err.Error()); err != nil {
				logger.Error("failed to record purge failure", zap.String("storage_key", key), zap.Error(err))
			}
			continue
		}
		if err := queue.ResolveOrphanBlob(ctx, key); err != nil {
			// Blob is gone; a stale queue entry is retried harmlessly.
			logger.Warn("failed to dequeue purged blob", zap.String("storage_key", key), zap.Error(err))
		}
		purged++
	}
	return purged
}

// SweepResult summarizes one cleanup cycle.
type SweepResult struct {
	Expired int
	Purged  int
	Failed  int
	Pruned  int
}

// tombstonePruner is implemented by gateways that remember purged keys.
type tombstonePruner interface {
	PruneTombstones(ctx context.Context) (int, error)
}

// CleanupService periodically expires abandoned uploads and retries
// queued blob purges.
type CleanupService struct {
	store    SweepStore
	gateway  Gateway
	schedule string
	batch    int
	now      func() time.Time
	cron     *cron.Cron
	initial  sync.WaitGroup
}

// NewCleanupService creates a new cleanup service.
func NewCleanupService(store SweepStore, gateway Gateway, schedule string, batch int) *CleanupService {
	return &CleanupService{
		store:    store,
		gateway:  gateway,
		schedule: schedule,
		batch:    batch,
		now:      time.Now,
	}
}

// Start schedules the sweep and runs it once immediately.
func (cs *CleanupService) Start(ctx context.Context) error {
	logger := logging.FromContext(ctx)

	c := cron.New()
	if _, err := c.AddFunc(cs.schedule, func() { cs.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", cs.schedule, err)
	}
	cs.cron = c

	logger.Info("cleanup service started", zap.String("schedule", cs.schedule))
	cs.initial.Add(1)
	go func() {
		defer cs.initial.Done()
		cs.RunOnce(ctx)
	}()
	c.Start()
	return nil
}

// Wait stops scheduling and blocks until a running sweep has finished.
func (cs *CleanupService) Wait() {
	if cs.cron == nil {
		return
	}
	<-cs.cron.Stop().Done()
	cs.initial.Wait()
}

// RunOnce performs a single sweep.
func (cs *CleanupService) RunOnce(ctx context.Context) SweepResult {
	logger := logging.FromContext(ctx)
	var res SweepResult

	expired, err := cs.store.ExpirePendingUploads(ctx, cs.now(), cs.batch)
	if err != nil {
		logger.Error("failed to expire pending uploads", zap.Error(err))
	}
	res.Expired = len(expired)

	if p, ok := cs.gateway.(tombstonePruner); ok {
		n, err := p.PruneTombstones(ctx)
		if err != nil {
			logger.Warn("failed to prune tombstones", zap.Error(err))
		}
		res.Pruned = n
	}

	orphans, err := cs.store.ListOrphanBlobs(ctx, cs.batch)
	if err != nil {
		logger.Error("failed to list orphan blobs", zap.Error(err))
		return res
	}

	keys := make([]string, 0, len(orphans))
	for _, o := range orphans {
		keys = append(keys, o.StorageKey)
	}
	res.Purged = PurgeQueued(ctx, cs.store, cs.gateway, keys)
	res.Failed = len(keys) - res.Purged

	if res.Expired > 0 || res.Pruned > 0 || len(keys) > 0 {
		logger.Info("cleanup cycle complete",
			zap.Int("expired", res.Expired),
			zap.Int("purged", res.Purged),
			zap.Int("failed", res.Failed),
			zap.Int("pruned", res.Pruned),
		)
	}
	return res
}
