package storage

import (
	"bytes"
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T) *FileSystemGateway {
	t.Helper()
	gw, err := NewFileSystemGateway(t.TempDir(), "http://drive.test/", "test-secret", 15*time.Minute)
	require.NoError(t, err)
	require.NoError(t, gw.EnsureDir())
	return gw
}

// parseBlobURL splits a signed blob URL into key and query.
func parseBlobURL(t *testing.T, raw string) (string, url.Values) {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(u.Path, "/blob/"), "unexpected path %s", u.Path)
	return strings.TrimPrefix(u.Path, "/blob/"), u.Query()
}

func TestNewFileSystemGateway(t *testing.T) {
	t.Run("rejects empty secret", func(t *testing.T) {
		_, err := NewFileSystemGateway(t.TempDir(), "http://x", "", time.Minute)
		assert.Error(t, err)
	})

	t.Run("rejects oversized secret", func(t *testing.T) {
		_, err := NewFileSystemGateway(t.TempDir(), "http://x", strings.Repeat("k", 65), time.Minute)
		assert.Error(t, err)
	})
}

func TestFileSystemGateway_Save(t *testing.T) {
	t.Run("saves object to disk", func(t *testing.T) {
		gw := newTestGateway(t)

		n, err := gw.Save("alice/f1/notes.txt", bytes.NewReader([]byte("test content")))
		require.NoError(t, err)
		assert.EqualValues(t, 12, n)

		content, err := os.ReadFile(filepath.Join(gw.basePath, "alice", "f1", "notes.txt"))
		require.NoError(t, err)
		assert.Equal(t, "test content", string(content))
	})

	t.Run("saves large content", func(t *testing.T) {
		gw := newTestGateway(t)

		largeContent := strings.Repeat("x", 1024*1024) // 1MB
		n, err := gw.Save("alice/f2/large.bin", strings.NewReader(largeContent))
		require.NoError(t, err)
		assert.EqualValues(t, len(largeContent), n)
	})

	t.Run("refuses to overwrite an object", func(t *testing.T) {
		gw := newTestGateway(t)

		_, err := gw.Save("alice/f3/a.txt", strings.NewReader("first"))
		require.NoError(t, err)
		_, err = gw.Save("alice/f3/a.txt", strings.NewReader("2nd"))
		assert.ErrorIs(t, err, ErrObjectExists)

		size, err := gw.Stat(context.Background(), "alice/f3/a.txt")
		require.NoError(t, err)
		assert.EqualValues(t, 5, size)

		entries, err := os.ReadDir(filepath.Join(gw.basePath, "alice", "f3"))
		require.NoError(t, err)
		assert.Len(t, entries, 1, "temp files are cleaned up")
	})

	t.Run("refuses to recreate a purged object", func(t *testing.T) {
		gw := newTestGateway(t)

		_, err := gw.Save("alice/f4/a.txt", strings.NewReader("first"))
		require.NoError(t, err)
		require.NoError(t, gw.Purge(context.Background(), "alice/f4/a.txt"))

		_, err = gw.Save("alice/f4/a.txt", strings.NewReader("again"))
		assert.ErrorIs(t, err, ErrObjectPurged)
		_, err = gw.Stat(context.Background(), "alice/f4/a.txt")
		assert.ErrorIs(t, err, ErrObjectNotFound)
	})

	t.Run("rejects traversal keys", func(t *testing.T) {
		gw := newTestGateway(t)

		for _, key := range []string{"../escape", "alice/../../x", "/abs/path", "a//b", "", tombstoneDir + "/alice/f1/a.txt"} {
			_, err := gw.Save(key, strings.NewReader("x"))
			assert.ErrorIs(t, err, ErrInvalidKey, key)
		}
	})
}

func TestFileSystemGateway_GetPath(t *testing.T) {
	t.Run("returns path for existing object", func(t *testing.T) {
		gw := newTestGateway(t)
		_, err := gw.Save("bob/f1/photo.png", strings.NewReader("data"))
		require.NoError(t, err)

		p, err := gw.GetPath("bob/f1/photo.png")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(gw.basePath, "bob", "f1", "photo.png"), p)
	})

	t.Run("returns error for missing object", func(t *testing.T) {
		gw := newTestGateway(t)

		_, err := gw.GetPath("bob/nope/x")
		assert.ErrorIs(t, err, ErrObjectNotFound)
	})
}

func TestFileSystemGateway_StatAndPurge(t *testing.T) {
	ctx := context.Background()
	gw := newTestGateway(t)

	_, err := gw.Stat(ctx, "carol/f1/a.txt")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	_, err = gw.Save("carol/f1/a.txt", strings.NewReader("hello"))
	require.NoError(t, err)

	size, err := gw.Stat(ctx, "carol/f1/a.txt")
	require.NoError(t, err)
	assert.EqualValues(t, 5, size)

	require.NoError(t, gw.Purge(ctx, "carol/f1/a.txt"))
	_, err = gw.Stat(ctx, "carol/f1/a.txt")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	t.Run("purging a missing object succeeds", func(t *testing.T) {
		assert.NoError(t, gw.Purge(ctx, "carol/f1/a.txt"))
	})
}

func TestFileSystemGateway_PruneTombstones(t *testing.T) {
	ctx := context.Background()
	gw := newTestGateway(t)

	n, err := gw.PruneTombstones(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "no tombstone directory yet")

	require.NoError(t, gw.Purge(ctx, "dave/f1/a.txt"))
	require.NoError(t, gw.Purge(ctx, "dave/f2/b.txt"))

	n, err = gw.PruneTombstones(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "fresh tombstones are kept while uploads may be live")

	gw.now = func() time.Time { return time.Now().Add(time.Hour) }
	n, err = gw.PruneTombstones(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = gw.Save("dave/f1/a.txt", strings.NewReader("x"))
	assert.NoError(t, err)
}

func TestFileSystemGateway_Capabilities(t *testing.T) {
	ctx := context.Background()

	t.Run("upload ticket verifies for PUT only", func(t *testing.T) {
		gw := newTestGateway(t)

		ticket, err := gw.BeginUpload(ctx, "alice", "f1", "report.pdf")
		require.NoError(t, err)
		assert.Equal(t, "alice/f1/report.pdf", ticket.StorageKey)
		assert.True(t, strings.HasPrefix(ticket.URL, "http://drive.test/blob/"))
		assert.NotEmpty(t, ticket.Token)
		assert.WithinDuration(t, time.Now().Add(15*time.Minute), ticket.ExpiresAt, 2*time.Second)

		key, q := parseBlobURL(t, ticket.URL)
		assert.Equal(t, ticket.StorageKey, key)
		assert.Equal(t, ticket.Token, q.Get("sig"))
		assert.NoError(t, gw.Verify("PUT", key, q.Get("name"), q.Get("expires"), q.Get("sig")))
		assert.ErrorIs(t, gw.Verify("GET", key, q.Get("name"), q.Get("expires"), q.Get("sig")), ErrInvalidSignature)
	})

	t.Run("download capability carries filename", func(t *testing.T) {
		gw := newTestGateway(t)

		capability, err := gw.IssueDownload(ctx, "alice/f1/report.pdf", "report.pdf", time.Minute)
		require.NoError(t, err)

		key, q := parseBlobURL(t, capability.URL)
		assert.Equal(t, "report.pdf", q.Get("name"))
		assert.NoError(t, gw.Verify("GET", key, "report.pdf", q.Get("expires"), q.Get("sig")))
		assert.ErrorIs(t, gw.Verify("GET", key, "other.pdf", q.Get("expires"), q.Get("sig")), ErrInvalidSignature)
	})

	t.Run("tampered key is rejected", func(t *testing.T) {
		gw := newTestGateway(t)

		capability, err := gw.IssueDownload(ctx, "alice/f1/a.txt", "", time.Minute)
		require.NoError(t, err)

		_, q := parseBlobURL(t, capability.URL)
		err = gw.Verify("GET", "mallory/f1/a.txt", "", q.Get("expires"), q.Get("sig"))
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("expired capability is rejected", func(t *testing.T) {
		gw := newTestGateway(t)
		gw.now = func() time.Time { return time.Now().Add(-time.Hour) }

		capability, err := gw.IssueDownload(ctx, "alice/f1/a.txt", "", time.Minute)
		require.NoError(t, err)

		gw.now = time.Now
		key, q := parseBlobURL(t, capability.URL)
		err = gw.Verify("GET", key, "", q.Get("expires"), q.Get("sig"))
		assert.ErrorIs(t, err, ErrCapabilityExpired)
	})

	t.Run("keys with spaces round-trip through the URL", func(t *testing.T) {
		gw := newTestGateway(t)

		ticket, err := gw.BeginUpload(ctx, "alice", "f9", "my notes #1.txt")
		require.NoError(t, err)

		key, q := parseBlobURL(t, ticket.URL)
		assert.Equal(t, "alice/f9/my notes #1.txt", key)
		assert.NoError(t, gw.Verify("PUT", key, "", q.Get("expires"), q.Get("sig")))
	})

	t.Run("different secrets produce different signatures", func(t *testing.T) {
		a, err := NewFileSystemGateway(t.TempDir(), "http://x", "secret-a", time.Minute)
		require.NoError(t, err)
		b, err := NewFileSystemGateway(t.TempDir(), "http://x", "secret-b", time.Minute)
		require.NoError(t, err)

		assert.NotEqual(t, a.sign("GET", "k/1/x", "", 100), b.sign("GET", "k/1/x", "", 100))
	})
}

func TestStorageKey(t *testing.T) {
	tests := []struct {
		owner, id, name string
		want            string
	}{
		{"alice", "f1", "report.pdf", "alice/f1/report.pdf"},
		{"alice", "f1", "../../etc/passwd", "alice/f1/passwd"},
		{"alice", "f1", "C:\\Users\\test\\file.txt", "alice/f1/file.txt"},
		{"auth0|123", "f1", "a.txt", "auth0_123/f1/a.txt"},
		{"..", "f1", "..", "_/f1/file"},
		{"alice", "f1", "", "alice/f1/file"},
		{".purged", "f1", "a.txt", "_purged/f1/a.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := StorageKey(tt.owner, tt.id, tt.name)
			assert.Equal(t, tt.want, got)
			assert.True(t, validKey(got))
		})
	}
}

func TestSanitizeFilename_Length(t *testing.T) {
	long := strings.Repeat("a", 300) + ".txt"
	got := sanitizeFilename(long)
	assert.Len(t, got, 255)
	assert.True(t, strings.HasSuffix(got, ".txt"))
}
