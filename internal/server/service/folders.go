package service

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"drive/internal/server/database"
	"drive/internal/server/logging"
)

// FolderListing is a folder and its visible children. Folder is nil for root.
type FolderListing struct {
	Folder  *database.Folder
	Folders []*database.Folder
	Files   []*database.File
}

// FolderUpdate is a partial folder change. ParentID "root" moves to top level.
type FolderUpdate struct {
	Name     *string
	ParentID *string
}

// CreateFolder creates a folder under parentID, or at the top level when
// parentID is nil or "root".
func (s *DriveService) CreateFolder(ctx context.Context, ownerID, name string, parentID *string) (*database.Folder, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	name, err := normalizeName(name)
	if err != nil {
		return nil, err
	}

	folder := &database.Folder{
		ID:       newID(),
		Name:     name,
		ParentID: normalizeFolderRef(parentID),
		OwnerID:  ownerID,
	}
	if err := s.store.CreateFolder(ctx, folder); err != nil {
		return nil, mapStoreError(err, "parent folder")
	}

	logging.FromContext(ctx).Debug("folder created", zap.String("id", folder.ID), zap.String("owner", ownerID))
	return folder, nil
}

// UpdateFolder renames and/or reparents a folder.
func (s *DriveService) UpdateFolder(ctx context.Context, ownerID, id string, update FolderUpdate) (*database.Folder, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	if update.Name == nil && update.ParentID == nil {
		return nil, validationError("nothing to update")
	}

	var patch database.FolderPatch
	if update.Name != nil {
		name, err := normalizeName(*update.Name)
		if err != nil {
			return nil, err
		}
		patch.Name = &name
	}
	if update.ParentID != nil {
		if parent := normalizeFolderRef(update.ParentID); parent == nil {
			patch.MoveToRoot = true
		} else {
			patch.ParentID = parent
		}
	}

	folder, err := s.store.UpdateFolder(ctx, ownerID, id, patch)
	if err != nil {
		return nil, mapStoreError(err, "folder")
	}
	return folder, nil
}

// ListFolder returns a folder's metadata and visible children. A folder
// beneath a soft-deleted ancestor is not found.
func (s *DriveService) ListFolder(ctx context.Context, ownerID, folderID string) (*FolderListing, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}

	ref := normalizeFolderRef(&folderID)
	listing := &FolderListing{}

	g, gctx := errgroup.WithContext(ctx)
	if ref != nil {
		g.Go(func() error {
			folder, err := s.store.GetFolder(gctx, *ref, ownerID)
			if err != nil {
				return mapStoreError(err, "folder")
			}
			listing.Folder = folder
			return nil
		})
	}
	g.Go(func() error {
		folders, files, err := s.store.ListChildren(gctx, ref, ownerID)
		if err != nil {
			return mapStoreError(err, "folder")
		}
		listing.Folders, listing.Files = folders, files
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return listing, nil
}

// DeleteFolder moves a folder to the trash. Its subtree becomes invisible
// but keeps its own flags, so restoring the folder brings it all back.
func (s *DriveService) DeleteFolder(ctx context.Context, ownerID, id string) error {
	if err := requireOwner(ownerID); err != nil {
		return err
	}
	if err := s.store.SetDeleted(ctx, database.ItemFolder, id, ownerID, true); err != nil {
		return mapStoreError(err, "folder")
	}
	return nil
}
