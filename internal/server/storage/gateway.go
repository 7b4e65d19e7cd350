package storage

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"
)

var (
	ErrObjectNotFound    = errors.New("object not found")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrCapabilityExpired = errors.New("capability expired")
	ErrInvalidKey        = errors.New("invalid storage key")
)

// Objects are write-once: a key that holds an object, or whose object was
// purged, refuses further writes.
var (
	ErrObjectExists = errors.New("object already exists")
	ErrObjectPurged = errors.New("object was deleted")
)

// UploadTicket is a short-lived write capability for one object.
type UploadTicket struct {
	StorageKey string
	URL        string
	Token      string
	ExpiresAt  time.Time
}

// Capability is a short-lived read capability for one object.
type Capability struct {
	URL       string
	ExpiresAt time.Time
}

// Gateway fronts an object store that clients read and write directly
// through presigned capabilities.
type Gateway interface {
	BeginUpload(ctx context.Context, ownerID, fileID, name string) (*UploadTicket, error)
	IssueDownload(ctx context.Context, storageKey, filename string, ttl time.Duration) (*Capability, error)
	// Stat returns the object size or ErrObjectNotFound.
	Stat(ctx context.Context, storageKey string) (int64, error)
	// Purge deletes the object. Deleting a missing object succeeds.
	Purge(ctx context.Context, storageKey string) error
}

// StorageKey derives the object key for an upload. Keys are namespaced by
// owner and file id, so two owners never share a path.
func StorageKey(ownerID, fileID, name string) string {
	return KeyPrefix(ownerID, fileID) + sanitizeFilename(name)
}

// KeyPrefix is the part of every key for (ownerID, fileID) before the name.
func KeyPrefix(ownerID, fileID string) string {
	return sanitizeSegment(ownerID) + "/" + sanitizeSegment(fileID) + "/"
}

// validKey rejects keys that could escape the storage root.
func validKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") || path.Clean(key) != key {
		return false
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return false
		}
	}
	return true
}

func sanitizeSegment(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" || out == "." || out == ".." {
		return "_"
	}
	// Dot-prefixed top-level names are reserved for gateway bookkeeping.
	if out[0] == '.' {
		out = "_" + out[1:]
	}
	return out
}

// sanitizeFilename strips directory components and limits length.
func sanitizeFilename(name string) string {
	// Normalize Windows-style backslashes before taking the base name.
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)

	if len(name) > 255 {
		ext := path.Ext(name)
		if len(ext) > 32 {
			ext = ""
		}
		name = name[:255-len(ext)] + ext
	}

	if name == "" || name == "." || name == ".." || name == "/" {
		return "file"
	}
	return name
}
