package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

const folderColumns = `id, name, parent_id, owner_id, is_deleted, created_at, updated_at`

const fileColumns = `id, name, mime_type, size_bytes, storage_key, folder_id, owner_id, is_deleted, created_at, updated_at`

const shareColumns = `id, file_id, is_public, grantee_email, created_at`

// hiddenFoldersCTE yields every folder that is soft-deleted or sits beneath a
// soft-deleted folder. Callers bind the owner filter as $1 or pass NULL for all owners.
const hiddenFoldersCTE = `
	hidden AS (
		SELECT id FROM folders WHERE is_deleted AND ($1::text IS NULL OR owner_id = $1)
		UNION
		SELECT c.id FROM folders c JOIN hidden h ON c.parent_id = h.id
	)`

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Repository is the Postgres-backed metadata store.
type Repository struct {
	db *DB
}

// NewRepository creates a new Repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scanFolder(row pgx.Row) (*Folder, error) {
	f := &Folder{}
	err := row.Scan(&f.ID, &f.Name, &f.ParentID, &f.OwnerID, &f.IsDeleted, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func scanFile(row pgx.Row) (*File, error) {
	f := &File{}
	err := row.Scan(&f.ID, &f.Name, &f.MimeType, &f.SizeBytes, &f.StorageKey,
		&f.FolderID, &f.OwnerID, &f.IsDeleted, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func scanShare(row pgx.Row) (*Share, error) {
	s := &Share{}
	if err := row.Scan(&s.ID, &s.FileID, &s.IsPublic, &s.GranteeEmail, &s.CreatedAt); err != nil {
		return nil, err
	}
	return s, nil
}

func collectFiles(rows pgx.Rows) ([]*File, error) {
	defer rows.Close()
	files := []*File{}
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func collectFolders(rows pgx.Rows) ([]*Folder, error) {
	defer rows.Close()
	folders := []*Folder{}
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan folder: %w", err)
		}
		folders = append(folders, f)
	}
	return folders, rows.Err()
}

// visibleFolder loads a folder owned by ownerID and confirms neither it nor
// any ancestor is soft-deleted.
func visibleFolder(ctx context.Context, q querier, id, ownerID string) (*Folder, error) {
	var total, deleted int
	err := q.QueryRow(ctx, `
		WITH RECURSIVE chain AS (
			SELECT id, parent_id, is_deleted FROM folders WHERE id = $1 AND owner_id = $2
			UNION ALL
			SELECT f.id, f.parent_id, f.is_deleted FROM folders f JOIN chain c ON f.id = c.parent_id
		)
		SELECT COUNT(*), COUNT(*) FILTER (WHERE is_deleted) FROM chain
	`, id, ownerID).Scan(&total, &deleted)
	if err != nil {
		return nil, fmt.Errorf("failed to check folder chain: %w", err)
	}
	if total == 0 || deleted > 0 {
		return nil, ErrNotFound
	}

	folder, err := scanFolder(q.QueryRow(ctx,
		`SELECT `+folderColumns+` FROM folders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get folder: %w", err)
	}
	return folder, nil
}

// CreateFolder inserts a folder. A non-nil parent must be visible and owned by the same owner.
func (r *Repository) CreateFolder(ctx context.Context, folder *Folder) error {
	if folder.ParentID != nil {
		if _, err := visibleFolder(ctx, r.db.Pool, *folder.ParentID, folder.OwnerID); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	folder.CreatedAt, folder.UpdatedAt = now, now
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO folders (id, name, parent_id, owner_id, is_deleted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, FALSE, $5, $5)
	`, folder.ID, folder.Name, folder.ParentID, folder.OwnerID, now)
	if err != nil {
		if IsKeyConflictErr(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to create folder: %w", err)
	}
	return nil
}

// GetFolder returns a visible folder owned by ownerID.
func (r *Repository) GetFolder(ctx context.Context, id, ownerID string) (*Folder, error) {
	return visibleFolder(ctx, r.db.Pool, id, ownerID)
}

// UpdateFolder renames and/or reparents a folder. Moves are serialized per
// owner with an advisory lock so concurrent moves cannot form a cycle.
func (r *Repository) UpdateFolder(ctx context.Context, ownerID, id string, patch FolderPatch) (*Folder, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ownerID); err != nil {
		return nil, fmt.Errorf("failed to lock owner tree: %w", err)
	}

	folder, err := visibleFolder(ctx, tx, id, ownerID)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		folder.Name = *patch.Name
	}

	switch {
	case patch.MoveToRoot:
		folder.ParentID = nil
	case patch.ParentID != nil:
		target := *patch.ParentID
		if target == id {
			return nil, ErrInvalidParent
		}
		if _, err := visibleFolder(ctx, tx, target, ownerID); err != nil {
			return nil, err
		}
		var cyclic bool
		err := tx.QueryRow(ctx, `
			WITH RECURSIVE chain AS (
				SELECT id, parent_id FROM folders WHERE id = $1
				UNION ALL
				SELECT f.id, f.parent_id FROM folders f JOIN chain c ON f.id = c.parent_id
			)
			SELECT EXISTS(SELECT 1 FROM chain WHERE id = $2)
		`, target, id).Scan(&cyclic)
		if err != nil {
			return nil, fmt.Errorf("failed to check ancestry: %w", err)
		}
		if cyclic {
			return nil, ErrInvalidParent
		}
		folder.ParentID = &target
	}

	folder.UpdatedAt = time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE folders SET name = $1, parent_id = $2, updated_at = $3 WHERE id = $4 AND owner_id = $5
	`, folder.Name, folder.ParentID, folder.UpdatedAt, id, ownerID); err != nil {
		return nil, fmt.Errorf("failed to update folder: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit folder update: %w", err)
	}
	return folder, nil
}

// ListChildren returns the non-deleted subfolders and files of folderID (nil for root).
func (r *Repository) ListChildren(ctx context.Context, folderID *string, ownerID string) ([]*Folder, []*File, error) {
	if folderID != nil {
		if _, err := visibleFolder(ctx, r.db.Pool, *folderID, ownerID); err != nil {
			return nil, nil, err
		}
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+folderColumns+` FROM folders
		WHERE owner_id = $1 AND parent_id IS NOT DISTINCT FROM $2 AND NOT is_deleted
		ORDER BY name, id
	`, ownerID, folderID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list folders: %w", err)
	}
	folders, err := collectFolders(rows)
	if err != nil {
		return nil, nil, err
	}

	rows, err = r.db.Pool.Query(ctx, `
		SELECT `+fileColumns+` FROM files
		WHERE owner_id = $1 AND folder_id IS NOT DISTINCT FROM $2 AND NOT is_deleted
		ORDER BY name, id
	`, ownerID, folderID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list files: %w", err)
	}
	files, err := collectFiles(rows)
	if err != nil {
		return nil, nil, err
	}
	return folders, files, nil
}

// CreatePendingUpload records an initiated upload.
func (r *Repository) CreatePendingUpload(ctx context.Context, p *PendingUpload) error {
	if p.FolderID != nil {
		if _, err := visibleFolder(ctx, r.db.Pool, *p.FolderID, p.OwnerID); err != nil {
			return err
		}
	}

	p.CreatedAt = time.Now().UTC()
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO pending_uploads (file_id, owner_id, storage_key, name, folder_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.FileID, p.OwnerID, p.StorageKey, p.Name, p.FolderID, p.ExpiresAt, p.CreatedAt)
	if err != nil {
		if IsKeyConflictErr(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to create pending upload: %w", err)
	}
	return nil
}

// CompleteUpload converts a pending upload into a file row in one transaction.
// A second completion for the same id fails with ErrConflict.
func (r *Repository) CompleteUpload(ctx context.Context, file *File) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var ownerID, storageKey string
	err = tx.QueryRow(ctx, `
		SELECT owner_id, storage_key FROM pending_uploads WHERE file_id = $1 FOR UPDATE
	`, file.ID).Scan(&ownerID, &storageKey)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("failed to load pending upload: %w", err)
		}
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM files WHERE id = $1)`, file.ID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check file: %w", err)
		}
		if exists {
			return ErrConflict
		}
		return ErrPendingUploadNotFound
	}
	if ownerID != file.OwnerID || storageKey != file.StorageKey {
		return ErrPendingUploadNotFound
	}

	if file.FolderID != nil {
		if _, err := visibleFolder(ctx, tx, *file.FolderID, file.OwnerID); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	file.CreatedAt, file.UpdatedAt, file.IsDeleted = now, now, false
	_, err = tx.Exec(ctx, `
		INSERT INTO files (id, name, mime_type, size_bytes, storage_key, folder_id, owner_id, is_deleted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8, $8)
	`, file.ID, file.Name, file.MimeType, file.SizeBytes, file.StorageKey, file.FolderID, file.OwnerID, now)
	if err != nil {
		if IsKeyConflictErr(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to create file: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM pending_uploads WHERE file_id = $1`, file.ID); err != nil {
		return fmt.Errorf("failed to clear pending upload: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit upload: %w", err)
	}
	return nil
}

// GetFile returns a file owned by ownerID that is neither deleted nor
// beneath a deleted folder.
func (r *Repository) GetFile(ctx context.Context, id, ownerID string) (*File, error) {
	file, err := scanFile(r.db.Pool.QueryRow(ctx, `
		WITH RECURSIVE `+hiddenFoldersCTE+`
		SELECT `+fileColumns+` FROM files
		WHERE id = $2 AND owner_id = $1 AND NOT is_deleted
		  AND (folder_id IS NULL OR folder_id NOT IN (SELECT id FROM hidden))
	`, ownerID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return file, nil
}

// GetSharedFile loads a file by id regardless of owner, provided it is not
// deleted and not beneath a deleted folder.
func (r *Repository) GetSharedFile(ctx context.Context, id string) (*File, error) {
	file, err := scanFile(r.db.Pool.QueryRow(ctx, `
		WITH RECURSIVE `+hiddenFoldersCTE+`
		SELECT `+fileColumns+` FROM files
		WHERE id = $2 AND NOT is_deleted
		  AND (folder_id IS NULL OR folder_id NOT IN (SELECT id FROM hidden))
	`, nil, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get shared file: %w", err)
	}
	return file, nil
}

// SetDeleted toggles the soft-delete flag. Repeating the same value succeeds.
func (r *Repository) SetDeleted(ctx context.Context, itemType ItemType, id, ownerID string, deleted bool) error {
	table, err := tableFor(itemType)
	if err != nil {
		return err
	}
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE `+table+` SET is_deleted = $1, updated_at = NOW() WHERE id = $2 AND owner_id = $3`,
		deleted, id, ownerID)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", itemType, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDeletedFolders returns folders whose own flag is set.
func (r *Repository) ListDeletedFolders(ctx context.Context, ownerID string) ([]*Folder, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+folderColumns+` FROM folders WHERE owner_id = $1 AND is_deleted ORDER BY updated_at DESC, id
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list deleted folders: %w", err)
	}
	return collectFolders(rows)
}

// ListDeletedFiles returns files whose own flag is set.
func (r *Repository) ListDeletedFiles(ctx context.Context, ownerID string) ([]*File, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+fileColumns+` FROM files WHERE owner_id = $1 AND is_deleted ORDER BY updated_at DESC, id
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list deleted files: %w", err)
	}
	return collectFiles(rows)
}

// PermanentDelete removes an item (a folder takes its whole subtree with it)
// and, in the same transaction, queues every affected storage key in
// orphan_blobs. The returned keys must be purged and then resolved with
// ResolveOrphanBlob. Deleting an absent item returns no keys and no error.
func (r *Repository) PermanentDelete(ctx context.Context, itemType ItemType, id, ownerID string) ([]string, error) {
	if !itemType.Valid() {
		return nil, fmt.Errorf("unknown item type %q", itemType)
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var rows pgx.Rows
	if itemType == ItemFile {
		rows, err = tx.Query(ctx, `
			DELETE FROM files WHERE id = $1 AND owner_id = $2 RETURNING storage_key
		`, id, ownerID)
	} else {
		rows, err = tx.Query(ctx, `
			WITH RECURSIVE subtree AS (
				SELECT id FROM folders WHERE id = $1 AND owner_id = $2
				UNION ALL
				SELECT f.id FROM folders f JOIN subtree s ON f.parent_id = s.id
			)
			DELETE FROM files WHERE folder_id IN (SELECT id FROM subtree) RETURNING storage_key
		`, id, ownerID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete files: %w", err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to collect storage keys: %w", err)
	}

	if itemType == ItemFolder {
		if _, err := tx.Exec(ctx, `DELETE FROM folders WHERE id = $1 AND owner_id = $2`, id, ownerID); err != nil {
			return nil, fmt.Errorf("failed to delete folder: %w", err)
		}
	}

	for _, key := range keys {
		if _, err := tx.Exec(ctx, `
			INSERT INTO orphan_blobs (storage_key) VALUES ($1) ON CONFLICT (storage_key) DO NOTHING
		`, key); err != nil {
			return nil, fmt.Errorf("failed to queue blob purge: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit permanent delete: %w", err)
	}
	return keys, nil
}

// Search returns visible files of ownerID whose name contains query, case-insensitively.
func (r *Repository) Search(ctx context.Context, ownerID, query string) ([]*File, error) {
	rows, err := r.db.Pool.Query(ctx, `
		WITH RECURSIVE `+hiddenFoldersCTE+`
		SELECT `+fileColumns+` FROM files
		WHERE owner_id = $1 AND NOT is_deleted
		  AND name ILIKE '%' || $2 || '%' ESCAPE '\'
		  AND (folder_id IS NULL OR folder_id NOT IN (SELECT id FROM hidden))
		ORDER BY name, id
	`, ownerID, likeEscaper.Replace(query))
	if err != nil {
		return nil, fmt.Errorf("failed to search files: %w", err)
	}
	return collectFiles(rows)
}

// CreateOrGetPublicShare returns the file's public share, creating it on
// first use. A concurrent creator losing the unique-index race reads the winner's row.
func (r *Repository) CreateOrGetPublicShare(ctx context.Context, shareID, fileID, ownerID string) (*Share, error) {
	if _, err := r.GetFile(ctx, fileID, ownerID); err != nil {
		return nil, err
	}

	existing, err := r.publicShare(ctx, fileID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	share, err := scanShare(r.db.Pool.QueryRow(ctx, `
		INSERT INTO shares (id, file_id, is_public, grantee_email) VALUES ($1, $2, TRUE, NULL)
		RETURNING `+shareColumns, shareID, fileID))
	if err != nil {
		if IsKeyConflictErr(err) {
			return r.publicShare(ctx, fileID)
		}
		return nil, fmt.Errorf("failed to create public share: %w", err)
	}
	return share, nil
}

func (r *Repository) publicShare(ctx context.Context, fileID string) (*Share, error) {
	share, err := scanShare(r.db.Pool.QueryRow(ctx, `
		SELECT `+shareColumns+` FROM shares WHERE file_id = $1 AND is_public
	`, fileID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get public share: %w", err)
	}
	return share, nil
}

// CreateTargetedShare grants email access to a file. Repeating the grant
// returns the existing share.
func (r *Repository) CreateTargetedShare(ctx context.Context, shareID, fileID, ownerID, email string) (*Share, error) {
	if _, err := r.GetFile(ctx, fileID, ownerID); err != nil {
		return nil, err
	}

	share, err := scanShare(r.db.Pool.QueryRow(ctx, `
		INSERT INTO shares (id, file_id, is_public, grantee_email) VALUES ($1, $2, FALSE, $3)
		RETURNING `+shareColumns, shareID, fileID, email))
	if err == nil {
		return share, nil
	}
	if !IsKeyConflictErr(err) {
		return nil, fmt.Errorf("failed to create share: %w", err)
	}

	share, err = scanShare(r.db.Pool.QueryRow(ctx, `
		SELECT `+shareColumns+` FROM shares
		WHERE file_id = $1 AND NOT is_public AND lower(grantee_email) = lower($2)
	`, fileID, email))
	if err != nil {
		return nil, fmt.Errorf("failed to get existing share: %w", err)
	}
	return share, nil
}

// ResolvePublicShare returns the file id behind a public share.
func (r *Repository) ResolvePublicShare(ctx context.Context, shareID string) (string, error) {
	var fileID string
	err := r.db.Pool.QueryRow(ctx, `
		SELECT file_id FROM shares WHERE id = $1 AND is_public
	`, shareID).Scan(&fileID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to resolve share: %w", err)
	}
	return fileID, nil
}

// ListSharedWithMe returns visible files shared with email.
func (r *Repository) ListSharedWithMe(ctx context.Context, email string) ([]*File, error) {
	rows, err := r.db.Pool.Query(ctx, `
		WITH RECURSIVE `+hiddenFoldersCTE+`
		SELECT `+fileColumns+` FROM files
		WHERE NOT is_deleted
		  AND id IN (SELECT file_id FROM shares WHERE NOT is_public AND lower(grantee_email) = lower($2))
		  AND (folder_id IS NULL OR folder_id NOT IN (SELECT id FROM hidden))
		ORDER BY name, id
	`, nil, email)
	if err != nil {
		return nil, fmt.Errorf("failed to list shared files: %w", err)
	}
	return collectFiles(rows)
}

// ExpirePendingUploads moves up to limit pending uploads that expired before
// now into orphan_blobs and returns their storage keys.
func (r *Repository) ExpirePendingUploads(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, `
		WITH expired AS (
			DELETE FROM pending_uploads
			WHERE file_id IN (
				SELECT file_id FROM pending_uploads WHERE expires_at < $1
				ORDER BY expires_at LIMIT $2 FOR UPDATE SKIP LOCKED
			)
			RETURNING storage_key
		)
		INSERT INTO orphan_blobs (storage_key)
		SELECT storage_key FROM expired
		ON CONFLICT (storage_key) DO NOTHING
		RETURNING storage_key
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to expire pending uploads: %w", err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to collect expired keys: %w", err)
	}
	return keys, nil
}

// ListOrphanBlobs returns up to limit queued purges, least-attempted first.
func (r *Repository) ListOrphanBlobs(ctx context.Context, limit int) ([]*OrphanBlob, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT storage_key, attempts, last_error, created_at FROM orphan_blobs
		ORDER BY attempts, created_at LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list orphan blobs: %w", err)
	}
	defer rows.Close()

	orphans := []*OrphanBlob{}
	for rows.Next() {
		o := &OrphanBlob{}
		if err := rows.Scan(&o.StorageKey, &o.Attempts, &o.LastError, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan orphan blob: %w", err)
		}
		orphans = append(orphans, o)
	}
	return orphans, rows.Err()
}

// ResolveOrphanBlob drops a queued purge after the object was deleted.
func (r *Repository) ResolveOrphanBlob(ctx context.Context, storageKey string) error {
	if _, err := r.db.Pool.Exec(ctx, `DELETE FROM orphan_blobs WHERE storage_key = $1`, storageKey); err != nil {
		return fmt.Errorf("failed to resolve orphan blob: %w", err)
	}
	return nil
}

// RecordPurgeFailure bumps the attempt counter of a queued purge.
func (r *Repository) RecordPurgeFailure(ctx context.Context, storageKey, reason string) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO orphan_blobs (storage_key, attempts, last_error) VALUES ($1, 1, $2)
		ON CONFLICT (storage_key) DO UPDATE
		SET attempts = orphan_blobs.attempts + 1, last_error = EXCLUDED.last_error, updated_at = NOW()
	`, storageKey, reason)
	if err != nil {
		return fmt.Errorf("failed to record purge failure: %w", err)
	}
	return nil
}

// Ping verifies connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

func tableFor(itemType ItemType) (string, error) {
	switch itemType {
	case ItemFolder:
		return "folders", nil
	case ItemFile:
		return "files", nil
	default:
		return "", fmt.Errorf("unknown item type %q", itemType)
	}
}
