package database

import "time"

// ItemType distinguishes the two kinds of trashable rows.
type ItemType string

const (
	ItemFolder ItemType = "folder"
	ItemFile   ItemType = "file"
)

// Valid reports whether t names a known item type.
func (t ItemType) Valid() bool {
	return t == ItemFolder || t == ItemFile
}

// Folder is a node in an owner's hierarchy. A nil ParentID means root.
type Folder struct {
	ID        string
	Name      string
	ParentID  *string
	OwnerID   string
	IsDeleted bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// File is a completed upload. StorageKey is assigned at init and never changes.
type File struct {
	ID         string
	Name       string
	MimeType   string
	SizeBytes  int64
	StorageKey string
	FolderID   *string
	OwnerID    string
	IsDeleted  bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Share grants access to a file. Public shares have a nil GranteeEmail.
type Share struct {
	ID           string
	FileID       string
	IsPublic     bool
	GranteeEmail *string
	CreatedAt    time.Time
}

// PendingUpload records an initiated upload that has not been completed yet.
type PendingUpload struct {
	FileID     string
	OwnerID    string
	StorageKey string
	Name       string
	FolderID   *string
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// OrphanBlob is a storage key whose object must still be purged.
type OrphanBlob struct {
	StorageKey string
	Attempts   int
	LastError  string
	CreatedAt  time.Time
}

// FolderPatch describes a rename and/or reparent. ParentID set to nil with
// MoveToRoot true moves the folder to the top level.
type FolderPatch struct {
	Name       *string
	ParentID   *string
	MoveToRoot bool
}
