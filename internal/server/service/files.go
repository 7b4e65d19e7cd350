package service

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"drive/internal/server/database"
	"drive/internal/server/logging"
	"drive/internal/server/storage"
)

// UploadInit is returned by InitUpload. The client PUTs the bytes to
// UploadURL and then calls CompleteUpload with FileID and StorageKey.
type UploadInit struct {
	FileID     string
	StorageKey string
	UploadURL  string
	Token      string
	ExpiresAt  time.Time
}

// CompleteUploadInput is the metadata the client reports after pushing bytes.
type CompleteUploadInput struct {
	FileID     string
	Name       string
	MimeType   string
	SizeBytes  int64
	FolderID   *string
	StorageKey string
}

// Download is a short-lived read capability for a file.
type Download struct {
	File      *database.File
	URL       string
	ExpiresAt time.Time
}

// InitUpload reserves a file id and storage key and returns a write
// capability. Nothing is visible until CompleteUpload succeeds; an upload
// that is never completed is swept once its pending row expires.
func (s *DriveService) InitUpload(ctx context.Context, ownerID, name string, folderID *string) (*UploadInit, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	name, err := normalizeName(name)
	if err != nil {
		return nil, err
	}

	fileID := newID()
	ticket, err := s.gateway.BeginUpload(ctx, ownerID, fileID, name)
	if err != nil {
		return nil, errors.Wrap(err, "begin upload")
	}

	pending := &database.PendingUpload{
		FileID:     fileID,
		OwnerID:    ownerID,
		StorageKey: ticket.StorageKey,
		Name:       name,
		FolderID:   normalizeFolderRef(folderID),
		ExpiresAt:  s.now().Add(s.opts.PendingUploadTTL),
	}
	if err := s.store.CreatePendingUpload(ctx, pending); err != nil {
		return nil, mapStoreError(err, "folder")
	}

	return &UploadInit{
		FileID:     fileID,
		StorageKey: ticket.StorageKey,
		UploadURL:  ticket.URL,
		Token:      ticket.Token,
		ExpiresAt:  ticket.ExpiresAt,
	}, nil
}

// CompleteUpload turns a pending upload into a visible file. It fails
// Validation for an unknown file id, a storage key that does not belong to
// the upload, or a second completion of the same file. With upload
// verification on, the object must exist with the reported size.
func (s *DriveService) CompleteUpload(ctx context.Context, ownerID string, in CompleteUploadInput) (*database.File, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	name, err := normalizeName(in.Name)
	if err != nil {
		return nil, err
	}
	switch {
	case in.FileID == "":
		return nil, validationError("fileId is required")
	case in.StorageKey == "":
		return nil, validationError("storageKey is required")
	case in.SizeBytes < 0:
		return nil, validationError("sizeBytes must not be negative")
	case !strings.HasPrefix(in.StorageKey, storage.KeyPrefix(ownerID, in.FileID)):
		return nil, validationError("storageKey does not belong to this upload")
	}

	mimeType := strings.TrimSpace(in.MimeType)
	if mimeType == "" {
		mimeType = defaultMimeType
	}

	if s.opts.VerifyUploads {
		size, err := s.gateway.Stat(ctx, in.StorageKey)
		switch {
		case errors.Is(err, storage.ErrObjectNotFound):
			return nil, validationError("uploaded object not found")
		case err != nil:
			return nil, errors.Wrap(err, "stat object")
		case size != in.SizeBytes:
			return nil, validationError("size mismatch: reported %d bytes, stored %d", in.SizeBytes, size)
		}
	}

	file := &database.File{
		ID:         in.FileID,
		Name:       name,
		MimeType:   mimeType,
		SizeBytes:  in.SizeBytes,
		StorageKey: in.StorageKey,
		FolderID:   normalizeFolderRef(in.FolderID),
		OwnerID:    ownerID,
	}
	if err := s.store.CompleteUpload(ctx, file); err != nil {
		if errors.Is(err, database.ErrConflict) {
			return nil, validationError("upload already completed")
		}
		return nil, mapStoreError(err, "folder")
	}

	logging.FromContext(ctx).Info("upload completed",
		zap.String("file_id", file.ID),
		zap.String("owner", ownerID),
		zap.Int64("size", file.SizeBytes),
	)
	return file, nil
}

// GetDownload issues a short-lived read capability for an owned file.
func (s *DriveService) GetDownload(ctx context.Context, ownerID, fileID string) (*Download, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	file, err := s.store.GetFile(ctx, fileID, ownerID)
	if err != nil {
		return nil, mapStoreError(err, "file")
	}

	capability, err := s.gateway.IssueDownload(ctx, file.StorageKey, file.Name, s.opts.OwnerDownloadTTL)
	if err != nil {
		return nil, errors.Wrap(err, "issue download")
	}
	return &Download{File: file, URL: capability.URL, ExpiresAt: capability.ExpiresAt}, nil
}

// DeleteFile moves a file to the trash. Its blob is kept until the file
// is permanently deleted.
func (s *DriveService) DeleteFile(ctx context.Context, ownerID, fileID string) error {
	if err := requireOwner(ownerID); err != nil {
		return err
	}
	if err := s.store.SetDeleted(ctx, database.ItemFile, fileID, ownerID, true); err != nil {
		return mapStoreError(err, "file")
	}
	return nil
}

// Search returns visible owned files whose name contains query,
// case-insensitively.
func (s *DriveService) Search(ctx context.Context, ownerID, query string) ([]*database.File, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, validationError("query is required")
	}

	files, err := s.store.Search(ctx, ownerID, query)
	if err != nil {
		return nil, mapStoreError(err, "file")
	}
	return files, nil
}
