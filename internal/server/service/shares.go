package service

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"drive/internal/server/cache"
	"drive/internal/server/database"
)

// SharedFile is what an anonymous holder of a public share link receives.
type SharedFile struct {
	File      *database.File
	URL       string
	ExpiresAt time.Time
}

// Share returns the file's public share, creating it on first use. Every
// caller gets the same share id.
func (s *DriveService) Share(ctx context.Context, ownerID, fileID string) (*database.Share, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	shareID, err := generateSecureToken(shareIDLength)
	if err != nil {
		return nil, err
	}

	share, err := s.store.CreateOrGetPublicShare(ctx, shareID, fileID, ownerID)
	if err != nil {
		return nil, mapStoreError(err, "file")
	}
	return share, nil
}

// ResolveSharedFile resolves a public share id anonymously. Targeted
// shares, unknown ids and files that are deleted or beneath a deleted
// folder are all not found.
func (s *DriveService) ResolveSharedFile(ctx context.Context, shareID string) (*SharedFile, error) {
	if shareID == "" {
		return nil, notFoundError("share")
	}

	resolve := func() (string, error) {
		return s.store.ResolvePublicShare(ctx, shareID)
	}
	var (
		fileID string
		err    error
	)
	if s.cache != nil {
		fileID, err = cache.Fetch(ctx, s.cache, cache.KeyShare(shareID), s.opts.ShareCacheTTL, resolve)
	} else {
		fileID, err = resolve()
	}
	if err != nil {
		return nil, mapStoreError(err, "share")
	}

	file, err := s.store.GetSharedFile(ctx, fileID)
	if err != nil {
		return nil, mapStoreError(err, "share")
	}

	capability, err := s.gateway.IssueDownload(ctx, file.StorageKey, file.Name, s.opts.ShareDownloadTTL)
	if err != nil {
		return nil, errors.Wrap(err, "issue download")
	}
	return &SharedFile{File: file, URL: capability.URL, ExpiresAt: capability.ExpiresAt}, nil
}

// ShareWithEmail grants a specific identity access to a file. Repeating
// the grant for the same address returns the existing share.
func (s *DriveService) ShareWithEmail(ctx context.Context, ownerID, fileID, email string) (*database.Share, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if err := s.validate.Var(email, "required,email"); err != nil {
		return nil, validationError("a valid email is required")
	}

	shareID, err := generateSecureToken(shareIDLength)
	if err != nil {
		return nil, err
	}
	share, err := s.store.CreateTargetedShare(ctx, shareID, fileID, ownerID, email)
	if err != nil {
		return nil, mapStoreError(err, "file")
	}
	return share, nil
}

// ListSharedWithMe lists visible files shared with the caller's email.
func (s *DriveService) ListSharedWithMe(ctx context.Context, email string) ([]*database.File, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, validationError("caller identity has no email")
	}

	files, err := s.store.ListSharedWithMe(ctx, email)
	if err != nil {
		return nil, mapStoreError(err, "file")
	}
	return files, nil
}
