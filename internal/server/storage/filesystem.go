package storage

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

// tombstoneDir holds one empty file per recently purged key. Storage keys
// never start with a dot, so it cannot collide with an object.
const tombstoneDir = ".purged"

// FileSystemGateway stores objects on the local filesystem and issues
// capabilities as URLs signed with a keyed BLAKE2b MAC. The server itself
// serves those URLs under /blob/.
type FileSystemGateway struct {
	basePath  string
	baseURL   string
	secret    []byte
	uploadTTL time.Duration
	now       func() time.Time
}

// NewFileSystemGateway creates a new filesystem storage backend.
func NewFileSystemGateway(basePath, baseURL, secret string, uploadTTL time.Duration) (*FileSystemGateway, error) {
	if len(secret) == 0 || len(secret) > blake2b.Size {
		return nil, fmt.Errorf("signing secret must be 1-%d bytes", blake2b.Size)
	}
	return &FileSystemGateway{
		basePath:  basePath,
		baseURL:   strings.TrimRight(baseURL, "/"),
		secret:    []byte(secret),
		uploadTTL: uploadTTL,
		now:       time.Now,
	}, nil
}

// EnsureDir creates the storage directory if it doesn't exist.
func (fs *FileSystemGateway) EnsureDir() error {
	if err := os.MkdirAll(fs.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", fs.basePath, err)
	}
	return nil
}

func (fs *FileSystemGateway) BeginUpload(_ context.Context, ownerID, fileID, name string) (*UploadTicket, error) {
	key := StorageKey(ownerID, fileID, name)
	expires := fs.now().Add(fs.uploadTTL)
	sig := fs.sign("PUT", key, "", expires.Unix())
	return &UploadTicket{
		StorageKey: key,
		URL:        fs.blobURL(key, expires.Unix(), sig, ""),
		Token:      sig,
		ExpiresAt:  expires,
	}, nil
}

func (fs *FileSystemGateway) IssueDownload(_ context.Context, storageKey, filename string, ttl time.Duration) (*Capability, error) {
	if !validKey(storageKey) {
		return nil, ErrInvalidKey
	}
	expires := fs.now().Add(ttl)
	sig := fs.sign("GET", storageKey, filename, expires.Unix())
	return &Capability{
		URL:       fs.blobURL(storageKey, expires.Unix(), sig, filename),
		ExpiresAt: expires,
	}, nil
}

func (fs *FileSystemGateway) Stat(_ context.Context, storageKey string) (int64, error) {
	p, err := fs.filePath(storageKey)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrObjectNotFound
		}
		return 0, fmt.Errorf("failed to stat object: %w", err)
	}
	return info.Size(), nil
}

func (fs *FileSystemGateway) Purge(_ context.Context, storageKey string) error {
	p, err := fs.filePath(storageKey)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete object %s: %w", storageKey, err)
	}
	// Drop the now-empty per-file directory; a non-empty one is left alone.
	os.Remove(filepath.Dir(p))

	// Upload capabilities for the key may still be live. The tombstone
	// refuses them until PruneTombstones drops it.
	tomb := fs.tombstonePath(storageKey)
	if err := os.MkdirAll(filepath.Dir(tomb), 0755); err != nil {
		return fmt.Errorf("failed to record purge of %s: %w", storageKey, err)
	}
	if err := os.WriteFile(tomb, nil, 0644); err != nil {
		return fmt.Errorf("failed to record purge of %s: %w", storageKey, err)
	}
	return nil
}

// PruneTombstones removes purge records older than the upload TTL, by which
// time every upload capability for their keys has expired.
func (fs *FileSystemGateway) PruneTombstones(_ context.Context) (int, error) {
	cutoff := fs.now().Add(-fs.uploadTTL)
	pruned := 0
	err := filepath.WalkDir(filepath.Join(fs.basePath, tombstoneDir), func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			return nil
		}
		if err := os.Remove(p); err == nil {
			pruned++
			os.Remove(filepath.Dir(p))
		}
		return nil
	})
	if err != nil {
		return pruned, fmt.Errorf("failed to prune tombstones: %w", err)
	}
	return pruned, nil
}

// Verify checks a capability presented to the blob endpoint.
func (fs *FileSystemGateway) Verify(method, storageKey, filename, expires, sig string) error {
	if !validKey(storageKey) {
		return ErrInvalidKey
	}
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	want := fs.sign(method, storageKey, filename, exp)
	if subtle.ConstantTimeCompare([]byte(want), []byte(sig)) != 1 {
		return ErrInvalidSignature
	}
	if fs.now().Unix() > exp {
		return ErrCapabilityExpired
	}
	return nil
}

// Save writes data to the object at storageKey. Objects are write-once:
// an existing object yields ErrObjectExists and a purged one ErrObjectPurged.
// Returns the number of bytes written.
func (fs *FileSystemGateway) Save(storageKey string, data io.Reader) (int64, error) {
	p, err := fs.filePath(storageKey)
	if err != nil {
		return 0, err
	}
	if _, err := os.Stat(fs.tombstonePath(storageKey)); err == nil {
		return 0, ErrObjectPurged
	}
	if _, err := os.Stat(p); err == nil {
		return 0, ErrObjectExists
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return 0, fmt.Errorf("failed to create object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, fmt.Errorf("failed to write object: %w", err)
	}
	// Link fails if a concurrent writer got there first.
	if err := os.Link(tmp.Name(), p); err != nil {
		if os.IsExist(err) {
			return 0, ErrObjectExists
		}
		return 0, fmt.Errorf("failed to commit object: %w", err)
	}
	return n, nil
}

// GetPath returns the path of a stored object, or ErrObjectNotFound.
func (fs *FileSystemGateway) GetPath(storageKey string) (string, error) {
	p, err := fs.filePath(storageKey)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return "", ErrObjectNotFound
		}
		return "", fmt.Errorf("failed to stat object: %w", err)
	}
	return p, nil
}

func (fs *FileSystemGateway) filePath(storageKey string) (string, error) {
	if !validKey(storageKey) || strings.HasPrefix(storageKey, tombstoneDir+"/") {
		return "", ErrInvalidKey
	}
	return filepath.Join(fs.basePath, filepath.FromSlash(storageKey)), nil
}

func (fs *FileSystemGateway) tombstonePath(storageKey string) string {
	return filepath.Join(fs.basePath, tombstoneDir, filepath.FromSlash(storageKey))
}

func (fs *FileSystemGateway) sign(method, storageKey, filename string, expires int64) string {
	mac, _ := blake2b.New256(fs.secret)
	fmt.Fprintf(mac, "%s\n%s\n%s\n%d", method, storageKey, filename, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

func (fs *FileSystemGateway) blobURL(storageKey string, expires int64, sig, filename string) string {
	segs := strings.Split(storageKey, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("sig", sig)
	if filename != "" {
		q.Set("name", filename)
	}
	return fs.baseURL + "/blob/" + strings.Join(segs, "/") + "?" + q.Encode()
}
