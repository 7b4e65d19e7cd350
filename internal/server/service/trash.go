package service

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"drive/internal/server/database"
	"drive/internal/server/logging"
	"drive/internal/server/storage"
)

// Trash lists items whose own deleted flag is set.
type Trash struct {
	Folders []*database.Folder
	Files   []*database.File
}

// PurgeResult reports blob cleanup after a permanent delete. Pending blobs
// stay queued and are retried by the cleanup sweeper.
type PurgeResult struct {
	BlobsPurged  int
	BlobsPending int
}

func (s *DriveService) ListTrash(ctx context.Context, ownerID string) (*Trash, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}

	trash := &Trash{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		folders, err := s.store.ListDeletedFolders(gctx, ownerID)
		trash.Folders = folders
		return mapStoreError(err, "folder")
	})
	g.Go(func() error {
		files, err := s.store.ListDeletedFiles(gctx, ownerID)
		trash.Files = files
		return mapStoreError(err, "file")
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return trash, nil
}

// Restore clears the deleted flag. Restoring a visible item is a no-op.
func (s *DriveService) Restore(ctx context.Context, ownerID, id, itemType string) error {
	if err := requireOwner(ownerID); err != nil {
		return err
	}
	it, err := parseItemType(itemType)
	if err != nil {
		return err
	}
	if id == "" {
		return validationError("id is required")
	}
	if err := s.store.SetDeleted(ctx, it, id, ownerID, false); err != nil {
		return mapStoreError(err, string(it))
	}
	return nil
}

// PermanentDelete removes an item, and for folders its whole subtree. The
// rows go and every affected blob is queued for purge in one store
// transaction; the blobs are then purged here. A failed purge is logged and
// left queued, never dropped.
func (s *DriveService) PermanentDelete(ctx context.Context, ownerID, id, itemType string) (*PurgeResult, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	it, err := parseItemType(itemType)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, validationError("id is required")
	}

	keys, err := s.store.PermanentDelete(ctx, it, id, ownerID)
	if err != nil {
		return nil, mapStoreError(err, string(it))
	}

	purged := storage.PurgeQueued(ctx, s.store, s.gateway, keys)
	res := &PurgeResult{BlobsPurged: purged, BlobsPending: len(keys) - purged}

	logging.FromContext(ctx).Info("item permanently deleted",
		zap.String("id", id),
		zap.String("type", string(it)),
		zap.Int("blobs_purged", res.BlobsPurged),
		zap.Int("blobs_pending", res.BlobsPending),
	)
	return res, nil
}
