package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"drive/internal/server/cache"
	"drive/internal/server/database"
	"drive/internal/server/storage"
)

// Sentinel errors for the service layer. Anything else is an upstream failure.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
)

const (
	// RootFolderID addresses the top level of a user's drive.
	RootFolderID = "root"

	maxNameLength      = 255
	defaultMimeType    = "application/octet-stream"
	shareIDLength      = 24
	defaultShareTTL    = 10 * time.Minute
	defaultDownloadTTL = time.Minute
)

// MetadataStore is the folder, file and share persistence the service runs on.
// database.Repository and database.MemoryStore both satisfy it.
type MetadataStore interface {
	CreateFolder(ctx context.Context, folder *database.Folder) error
	GetFolder(ctx context.Context, id, ownerID string) (*database.Folder, error)
	UpdateFolder(ctx context.Context, ownerID, id string, patch database.FolderPatch) (*database.Folder, error)
	ListChildren(ctx context.Context, folderID *string, ownerID string) ([]*database.Folder, []*database.File, error)

	CreatePendingUpload(ctx context.Context, p *database.PendingUpload) error
	CompleteUpload(ctx context.Context, file *database.File) error
	GetFile(ctx context.Context, id, ownerID string) (*database.File, error)
	GetSharedFile(ctx context.Context, id string) (*database.File, error)

	SetDeleted(ctx context.Context, itemType database.ItemType, id, ownerID string, deleted bool) error
	ListDeletedFolders(ctx context.Context, ownerID string) ([]*database.Folder, error)
	ListDeletedFiles(ctx context.Context, ownerID string) ([]*database.File, error)
	PermanentDelete(ctx context.Context, itemType database.ItemType, id, ownerID string) ([]string, error)

	Search(ctx context.Context, ownerID, query string) ([]*database.File, error)

	CreateOrGetPublicShare(ctx context.Context, shareID, fileID, ownerID string) (*database.Share, error)
	CreateTargetedShare(ctx context.Context, shareID, fileID, ownerID, email string) (*database.Share, error)
	ResolvePublicShare(ctx context.Context, shareID string) (string, error)
	ListSharedWithMe(ctx context.Context, email string) ([]*database.File, error)

	storage.OrphanQueue
	Ping(ctx context.Context) error
}

// Options tune capability lifetimes and upload checks.
type Options struct {
	OwnerDownloadTTL time.Duration
	ShareDownloadTTL time.Duration
	PendingUploadTTL time.Duration
	ShareCacheTTL    time.Duration
	VerifyUploads    bool
}

// DriveService composes the metadata store and blob gateway into the drive
// operations exposed over HTTP.
type DriveService struct {
	store    MetadataStore
	gateway  storage.Gateway
	cache    cache.Cacher
	opts     Options
	validate *validator.Validate
	now      func() time.Time
}

// NewDriveService creates a drive service. cacher may be nil.
func NewDriveService(store MetadataStore, gateway storage.Gateway, cacher cache.Cacher, opts Options) *DriveService {
	if opts.OwnerDownloadTTL <= 0 {
		opts.OwnerDownloadTTL = defaultDownloadTTL
	}
	if opts.ShareDownloadTTL <= 0 {
		opts.ShareDownloadTTL = time.Hour
	}
	if opts.PendingUploadTTL <= 0 {
		opts.PendingUploadTTL = 24 * time.Hour
	}
	if opts.ShareCacheTTL <= 0 {
		opts.ShareCacheTTL = defaultShareTTL
	}
	return &DriveService{
		store:    store,
		gateway:  gateway,
		cache:    cacher,
		opts:     opts,
		validate: validator.New(),
		now:      time.Now,
	}
}

// Ping reports whether the metadata store is reachable.
func (s *DriveService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// --- Helpers ---

// userError carries a client-facing message and its taxonomy sentinel.
type userError struct {
	kind error
	msg  string
}

func (e *userError) Error() string { return e.msg }
func (e *userError) Unwrap() error { return e.kind }

func validationError(format string, args ...any) error {
	return &userError{kind: ErrValidation, msg: fmt.Sprintf(format, args...)}
}

func notFoundError(what string) error {
	return &userError{kind: ErrNotFound, msg: what + " not found"}
}

// mapStoreError translates store sentinels into the service taxonomy.
// what names the entity for client-facing messages.
func mapStoreError(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, database.ErrNotFound):
		return notFoundError(what)
	case errors.Is(err, database.ErrInvalidParent):
		return validationError("folder cannot be moved into itself or a descendant")
	case errors.Is(err, database.ErrPendingUploadNotFound):
		return validationError("no pending upload for this file")
	case errors.Is(err, database.ErrConflict):
		return validationError("%s already exists", what)
	default:
		return errors.Wrap(err, "metadata store")
	}
}

func requireOwner(ownerID string) error {
	if ownerID == "" {
		return ErrUnauthorized
	}
	return nil
}

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return "", validationError("name is required")
	case len(name) > maxNameLength:
		return "", validationError("name exceeds %d bytes", maxNameLength)
	case strings.ContainsAny(name, "/\x00"):
		return "", validationError("name must not contain '/'")
	}
	return name, nil
}

// normalizeFolderRef maps "", nil and "root" to the top level.
func normalizeFolderRef(id *string) *string {
	if id == nil || *id == "" || *id == RootFolderID {
		return nil
	}
	v := *id
	return &v
}

func parseItemType(t string) (database.ItemType, error) {
	it := database.ItemType(strings.ToLower(strings.TrimSpace(t)))
	if !it.Valid() {
		return "", validationError("type must be %q or %q", database.ItemFolder, database.ItemFile)
	}
	return it, nil
}

func newID() string {
	return uuid.NewString()
}

// generateSecureToken produces a cryptographically secure, URL-safe random string.
func generateSecureToken(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	result := make([]byte, length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", errors.Wrap(err, "crypto/rand failure")
		}
		result[i] = charset[n.Int64()]
	}
	return string(result), nil
}
