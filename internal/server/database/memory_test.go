package database

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func mustFolder(t *testing.T, m *MemoryStore, id, owner string, parent *string) *Folder {
	t.Helper()
	f := &Folder{ID: id, Name: id, ParentID: parent, OwnerID: owner}
	require.NoError(t, m.CreateFolder(context.Background(), f))
	return f
}

func mustFile(t *testing.T, m *MemoryStore, id, name, owner string, folder *string) *File {
	t.Helper()
	ctx := context.Background()
	key := owner + "/" + id + "/" + name
	require.NoError(t, m.CreatePendingUpload(ctx, &PendingUpload{
		FileID: id, OwnerID: owner, StorageKey: key, Name: name, FolderID: folder,
		ExpiresAt: time.Now().Add(time.Hour),
	}))
	f := &File{ID: id, Name: name, MimeType: "text/plain", SizeBytes: 3, StorageKey: key, FolderID: folder, OwnerID: owner}
	require.NoError(t, m.CompleteUpload(ctx, f))
	return f
}

func TestMemoryStore_Folders(t *testing.T) {
	ctx := context.Background()

	t.Run("parent must exist and be owned", func(t *testing.T) {
		m := NewMemoryStore()
		mustFolder(t, m, "docs", "alice", nil)

		err := m.CreateFolder(ctx, &Folder{ID: "x", Name: "x", ParentID: strPtr("missing"), OwnerID: "alice"})
		assert.ErrorIs(t, err, ErrNotFound)

		err = m.CreateFolder(ctx, &Folder{ID: "y", Name: "y", ParentID: strPtr("docs"), OwnerID: "bob"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("list children by parent", func(t *testing.T) {
		m := NewMemoryStore()
		mustFolder(t, m, "docs", "alice", nil)
		mustFolder(t, m, "inner", "alice", strPtr("docs"))
		mustFolder(t, m, "bobs", "bob", nil)
		mustFile(t, m, "f1", "a.pdf", "alice", strPtr("docs"))

		folders, files, err := m.ListChildren(ctx, nil, "alice")
		require.NoError(t, err)
		require.Len(t, folders, 1)
		assert.Equal(t, "docs", folders[0].ID)
		assert.Empty(t, files)

		folders, files, err = m.ListChildren(ctx, strPtr("docs"), "alice")
		require.NoError(t, err)
		require.Len(t, folders, 1)
		assert.Equal(t, "inner", folders[0].ID)
		require.Len(t, files, 1)
		assert.Equal(t, "a.pdf", files[0].Name)
	})

	t.Run("soft-deleted ancestor hides subtree", func(t *testing.T) {
		m := NewMemoryStore()
		mustFolder(t, m, "docs", "alice", nil)
		mustFolder(t, m, "inner", "alice", strPtr("docs"))
		mustFile(t, m, "f1", "report.txt", "alice", strPtr("inner"))

		require.NoError(t, m.SetDeleted(ctx, ItemFolder, "docs", "alice", true))

		_, err := m.GetFolder(ctx, "inner", "alice")
		assert.ErrorIs(t, err, ErrNotFound)
		_, _, err = m.ListChildren(ctx, strPtr("inner"), "alice")
		assert.ErrorIs(t, err, ErrNotFound)

		found, err := m.Search(ctx, "alice", "report")
		require.NoError(t, err)
		assert.Empty(t, found)

		_, err = m.GetFile(ctx, "f1", "alice")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = m.CreateOrGetPublicShare(ctx, "s1", "f1", "alice")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = m.CreateTargetedShare(ctx, "s2", "f1", "alice", "bob@x.com")
		assert.ErrorIs(t, err, ErrNotFound)

		trashed, err := m.ListDeletedFolders(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, trashed, 1, "only the flagged folder is in the trash")

		require.NoError(t, m.SetDeleted(ctx, ItemFolder, "docs", "alice", false))
		found, err = m.Search(ctx, "alice", "report")
		require.NoError(t, err)
		assert.Len(t, found, 1)
		_, err = m.GetFile(ctx, "f1", "alice")
		assert.NoError(t, err)
	})

	t.Run("move rejects cycles", func(t *testing.T) {
		m := NewMemoryStore()
		mustFolder(t, m, "a", "alice", nil)
		mustFolder(t, m, "b", "alice", strPtr("a"))
		mustFolder(t, m, "c", "alice", strPtr("b"))

		_, err := m.UpdateFolder(ctx, "alice", "a", FolderPatch{ParentID: strPtr("c")})
		assert.ErrorIs(t, err, ErrInvalidParent)

		_, err = m.UpdateFolder(ctx, "alice", "a", FolderPatch{ParentID: strPtr("a")})
		assert.ErrorIs(t, err, ErrInvalidParent)

		moved, err := m.UpdateFolder(ctx, "alice", "c", FolderPatch{MoveToRoot: true, Name: strPtr("top")})
		require.NoError(t, err)
		assert.Nil(t, moved.ParentID)
		assert.Equal(t, "top", moved.Name)
	})
}

func TestMemoryStore_Uploads(t *testing.T) {
	ctx := context.Background()

	t.Run("complete requires pending upload", func(t *testing.T) {
		m := NewMemoryStore()
		err := m.CompleteUpload(ctx, &File{ID: "nope", OwnerID: "alice", StorageKey: "k"})
		assert.ErrorIs(t, err, ErrPendingUploadNotFound)
	})

	t.Run("complete rejects mismatched storage key", func(t *testing.T) {
		m := NewMemoryStore()
		require.NoError(t, m.CreatePendingUpload(ctx, &PendingUpload{
			FileID: "f1", OwnerID: "alice", StorageKey: "alice/f1/a", Name: "a", ExpiresAt: time.Now().Add(time.Hour),
		}))
		err := m.CompleteUpload(ctx, &File{ID: "f1", OwnerID: "alice", StorageKey: "alice/f1/other"})
		assert.ErrorIs(t, err, ErrPendingUploadNotFound)
		err = m.CompleteUpload(ctx, &File{ID: "f1", OwnerID: "bob", StorageKey: "alice/f1/a"})
		assert.ErrorIs(t, err, ErrPendingUploadNotFound)
	})

	t.Run("second completion conflicts", func(t *testing.T) {
		m := NewMemoryStore()
		f := mustFile(t, m, "f1", "a.txt", "alice", nil)
		err := m.CompleteUpload(ctx, &File{ID: f.ID, OwnerID: "alice", StorageKey: f.StorageKey})
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("expired pending uploads become orphans", func(t *testing.T) {
		m := NewMemoryStore()
		require.NoError(t, m.CreatePendingUpload(ctx, &PendingUpload{
			FileID: "old", OwnerID: "alice", StorageKey: "alice/old/x", Name: "x", ExpiresAt: time.Now().Add(-time.Minute),
		}))
		require.NoError(t, m.CreatePendingUpload(ctx, &PendingUpload{
			FileID: "new", OwnerID: "alice", StorageKey: "alice/new/y", Name: "y", ExpiresAt: time.Now().Add(time.Hour),
		}))

		keys, err := m.ExpirePendingUploads(ctx, time.Now(), 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"alice/old/x"}, keys)

		orphans, err := m.ListOrphanBlobs(ctx, 10)
		require.NoError(t, err)
		require.Len(t, orphans, 1)
		assert.Equal(t, "alice/old/x", orphans[0].StorageKey)

		err = m.CompleteUpload(ctx, &File{ID: "old", OwnerID: "alice", StorageKey: "alice/old/x"})
		assert.ErrorIs(t, err, ErrPendingUploadNotFound)
	})
}

func TestMemoryStore_Trash(t *testing.T) {
	ctx := context.Background()

	t.Run("soft delete and restore are idempotent", func(t *testing.T) {
		m := NewMemoryStore()
		mustFile(t, m, "f1", "a.txt", "alice", nil)

		require.NoError(t, m.SetDeleted(ctx, ItemFile, "f1", "alice", true))
		require.NoError(t, m.SetDeleted(ctx, ItemFile, "f1", "alice", true))
		_, err := m.GetFile(ctx, "f1", "alice")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, m.SetDeleted(ctx, ItemFile, "f1", "alice", false))
		require.NoError(t, m.SetDeleted(ctx, ItemFile, "f1", "alice", false))
		_, err = m.GetFile(ctx, "f1", "alice")
		assert.NoError(t, err)
	})

	t.Run("other owners cannot delete", func(t *testing.T) {
		m := NewMemoryStore()
		mustFile(t, m, "f1", "a.txt", "alice", nil)
		assert.ErrorIs(t, m.SetDeleted(ctx, ItemFile, "f1", "bob", true), ErrNotFound)
	})

	t.Run("permanent folder delete takes the subtree", func(t *testing.T) {
		m := NewMemoryStore()
		mustFolder(t, m, "a", "alice", nil)
		mustFolder(t, m, "b", "alice", strPtr("a"))
		f1 := mustFile(t, m, "f1", "one", "alice", strPtr("a"))
		f2 := mustFile(t, m, "f2", "two", "alice", strPtr("b"))
		_, err := m.CreateOrGetPublicShare(ctx, "s1", "f2", "alice")
		require.NoError(t, err)

		keys, err := m.PermanentDelete(ctx, ItemFolder, "a", "alice")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{f1.StorageKey, f2.StorageKey}, keys)

		_, err = m.ResolvePublicShare(ctx, "s1")
		assert.ErrorIs(t, err, ErrNotFound)
		orphans, err := m.ListOrphanBlobs(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, orphans, 2)

		keys, err = m.PermanentDelete(ctx, ItemFolder, "a", "alice")
		require.NoError(t, err)
		assert.Empty(t, keys, "deleting twice is a no-op")
	})

	t.Run("purge failures are counted", func(t *testing.T) {
		m := NewMemoryStore()
		f := mustFile(t, m, "f1", "a.txt", "alice", nil)
		_, err := m.PermanentDelete(ctx, ItemFile, "f1", "alice")
		require.NoError(t, err)

		require.NoError(t, m.RecordPurgeFailure(ctx, f.StorageKey, "boom"))
		orphans, err := m.ListOrphanBlobs(ctx, 10)
		require.NoError(t, err)
		require.Len(t, orphans, 1)
		assert.Equal(t, 1, orphans[0].Attempts)
		assert.Equal(t, "boom", orphans[0].LastError)

		require.NoError(t, m.ResolveOrphanBlob(ctx, f.StorageKey))
		orphans, err = m.ListOrphanBlobs(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, orphans)
	})
}

func TestMemoryStore_Shares(t *testing.T) {
	ctx := context.Background()

	t.Run("one public share under concurrency", func(t *testing.T) {
		m := NewMemoryStore()
		mustFile(t, m, "f1", "a.txt", "alice", nil)

		const n = 20
		ids := make([]string, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				s, err := m.CreateOrGetPublicShare(ctx, fmt.Sprintf("share-%d", i), "f1", "alice")
				if assert.NoError(t, err) {
					ids[i] = s.ID
				}
			}(i)
		}
		wg.Wait()

		for _, id := range ids {
			assert.Equal(t, ids[0], id)
		}
	})

	t.Run("targeted share is unique per email", func(t *testing.T) {
		m := NewMemoryStore()
		mustFile(t, m, "f1", "a.txt", "alice", nil)

		s1, err := m.CreateTargetedShare(ctx, "s1", "f1", "alice", "b@x.com")
		require.NoError(t, err)
		s2, err := m.CreateTargetedShare(ctx, "s2", "f1", "alice", "B@X.com")
		require.NoError(t, err)
		assert.Equal(t, s1.ID, s2.ID)

		_, err = m.ResolvePublicShare(ctx, s1.ID)
		assert.ErrorIs(t, err, ErrNotFound, "targeted shares are not public")

		files, err := m.ListSharedWithMe(ctx, "b@x.com")
		require.NoError(t, err)
		require.Len(t, files, 1)

		files, err = m.ListSharedWithMe(ctx, "c@x.com")
		require.NoError(t, err)
		assert.Empty(t, files)
	})

	t.Run("shared file hidden once trashed", func(t *testing.T) {
		m := NewMemoryStore()
		mustFile(t, m, "f1", "a.txt", "alice", nil)
		s, err := m.CreateOrGetPublicShare(ctx, "s1", "f1", "alice")
		require.NoError(t, err)

		require.NoError(t, m.SetDeleted(ctx, ItemFile, "f1", "alice", true))
		fileID, err := m.ResolvePublicShare(ctx, s.ID)
		require.NoError(t, err)
		_, err = m.GetSharedFile(ctx, fileID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("cannot share a file owned by someone else", func(t *testing.T) {
		m := NewMemoryStore()
		mustFile(t, m, "f1", "a.txt", "alice", nil)
		_, err := m.CreateOrGetPublicShare(ctx, "s1", "f1", "bob")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
