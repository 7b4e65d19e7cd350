package api

import (
	"time"

	"drive/internal/server/database"
)

type folderResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ParentID  *string   `json:"parentId"`
	IsDeleted bool      `json:"isDeleted"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type fileResponse struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	MimeType   string    `json:"mimeType"`
	SizeBytes  int64     `json:"sizeBytes"`
	StorageKey string    `json:"storageKey"`
	FolderID   *string   `json:"folderId"`
	IsDeleted  bool      `json:"isDeleted"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// publicFileResponse omits owner-side details for anonymous share access.
type publicFileResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	MimeType  string `json:"mimeType"`
	SizeBytes int64  `json:"sizeBytes"`
}

type shareResponse struct {
	ShareID      string  `json:"shareId"`
	FileID       string  `json:"fileId"`
	IsPublic     bool    `json:"isPublic"`
	GranteeEmail *string `json:"email,omitempty"`
}

func toFolder(f *database.Folder) *folderResponse {
	if f == nil {
		return nil
	}
	return &folderResponse{
		ID:        f.ID,
		Name:      f.Name,
		ParentID:  f.ParentID,
		IsDeleted: f.IsDeleted,
		CreatedAt: f.CreatedAt,
		UpdatedAt: f.UpdatedAt,
	}
}

func toFile(f *database.File) *fileResponse {
	return &fileResponse{
		ID:         f.ID,
		Name:       f.Name,
		MimeType:   f.MimeType,
		SizeBytes:  f.SizeBytes,
		StorageKey: f.StorageKey,
		FolderID:   f.FolderID,
		IsDeleted:  f.IsDeleted,
		CreatedAt:  f.CreatedAt,
		UpdatedAt:  f.UpdatedAt,
	}
}

func toFolders(folders []*database.Folder) []*folderResponse {
	out := make([]*folderResponse, len(folders))
	for i, f := range folders {
		out[i] = toFolder(f)
	}
	return out
}

func toFiles(files []*database.File) []*fileResponse {
	out := make([]*fileResponse, len(files))
	for i, f := range files {
		out[i] = toFile(f)
	}
	return out
}

func toShare(s *database.Share) *shareResponse {
	return &shareResponse{
		ShareID:      s.ID,
		FileID:       s.FileID,
		IsPublic:     s.IsPublic,
		GranteeEmail: s.GranteeEmail,
	}
}
