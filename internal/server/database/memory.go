package database

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process metadata store with the same semantics as
// Repository. It backs the "memory" database driver and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	folders map[string]*Folder
	files   map[string]*File
	shares  map[string]*Share
	pending map[string]*PendingUpload
	orphans map[string]*OrphanBlob
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		folders: make(map[string]*Folder),
		files:   make(map[string]*File),
		shares:  make(map[string]*Share),
		pending: make(map[string]*PendingUpload),
		orphans: make(map[string]*OrphanBlob),
	}
}

func cloneFolder(f *Folder) *Folder {
	c := *f
	if f.ParentID != nil {
		p := *f.ParentID
		c.ParentID = &p
	}
	return &c
}

func cloneFile(f *File) *File {
	c := *f
	if f.FolderID != nil {
		p := *f.FolderID
		c.FolderID = &p
	}
	return &c
}

func cloneShare(s *Share) *Share {
	c := *s
	if s.GranteeEmail != nil {
		e := *s.GranteeEmail
		c.GranteeEmail = &e
	}
	return &c
}

// hidden reports whether folderID or any ancestor is soft-deleted. Caller holds mu.
func (m *MemoryStore) hidden(folderID *string) bool {
	for id := folderID; id != nil; {
		f, ok := m.folders[*id]
		if !ok {
			return true
		}
		if f.IsDeleted {
			return true
		}
		id = f.ParentID
	}
	return false
}

// visibleFolder mirrors the Postgres chain check. Caller holds mu.
func (m *MemoryStore) visibleFolder(id, ownerID string) (*Folder, error) {
	f, ok := m.folders[id]
	if !ok || f.OwnerID != ownerID || m.hidden(&id) {
		return nil, ErrNotFound
	}
	return f, nil
}

func (m *MemoryStore) CreateFolder(_ context.Context, folder *Folder) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if folder.ParentID != nil {
		if _, err := m.visibleFolder(*folder.ParentID, folder.OwnerID); err != nil {
			return err
		}
	}
	if _, exists := m.folders[folder.ID]; exists {
		return ErrConflict
	}

	now := time.Now().UTC()
	folder.CreatedAt, folder.UpdatedAt, folder.IsDeleted = now, now, false
	m.folders[folder.ID] = cloneFolder(folder)
	return nil
}

func (m *MemoryStore) GetFolder(_ context.Context, id, ownerID string) (*Folder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, err := m.visibleFolder(id, ownerID)
	if err != nil {
		return nil, err
	}
	return cloneFolder(f), nil
}

func (m *MemoryStore) UpdateFolder(_ context.Context, ownerID, id string, patch FolderPatch) (*Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := m.visibleFolder(id, ownerID)
	if err != nil {
		return nil, err
	}

	parent := f.ParentID
	switch {
	case patch.MoveToRoot:
		parent = nil
	case patch.ParentID != nil:
		target := *patch.ParentID
		if target == id {
			return nil, ErrInvalidParent
		}
		if _, err := m.visibleFolder(target, ownerID); err != nil {
			return nil, err
		}
		for cur := &target; cur != nil; cur = m.folders[*cur].ParentID {
			if *cur == id {
				return nil, ErrInvalidParent
			}
		}
		parent = &target
	}

	if patch.Name != nil {
		f.Name = *patch.Name
	}
	f.ParentID = parent
	f.UpdatedAt = time.Now().UTC()
	return cloneFolder(f), nil
}

func (m *MemoryStore) ListChildren(_ context.Context, folderID *string, ownerID string) ([]*Folder, []*File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if folderID != nil {
		if _, err := m.visibleFolder(*folderID, ownerID); err != nil {
			return nil, nil, err
		}
	}

	folders := []*Folder{}
	for _, f := range m.folders {
		if f.OwnerID == ownerID && !f.IsDeleted && sameParent(f.ParentID, folderID) {
			folders = append(folders, cloneFolder(f))
		}
	}
	files := []*File{}
	for _, f := range m.files {
		if f.OwnerID == ownerID && !f.IsDeleted && sameParent(f.FolderID, folderID) {
			files = append(files, cloneFile(f))
		}
	}
	sortFolders(folders)
	sortFiles(files)
	return folders, files, nil
}

func (m *MemoryStore) CreatePendingUpload(_ context.Context, p *PendingUpload) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.FolderID != nil {
		if _, err := m.visibleFolder(*p.FolderID, p.OwnerID); err != nil {
			return err
		}
	}
	if _, exists := m.pending[p.FileID]; exists {
		return ErrConflict
	}
	for _, other := range m.pending {
		if other.StorageKey == p.StorageKey {
			return ErrConflict
		}
	}

	p.CreatedAt = time.Now().UTC()
	c := *p
	m.pending[p.FileID] = &c
	return nil
}

func (m *MemoryStore) CompleteUpload(_ context.Context, file *File) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[file.ID]
	if !ok {
		if _, exists := m.files[file.ID]; exists {
			return ErrConflict
		}
		return ErrPendingUploadNotFound
	}
	if p.OwnerID != file.OwnerID || p.StorageKey != file.StorageKey {
		return ErrPendingUploadNotFound
	}
	if file.FolderID != nil {
		if _, err := m.visibleFolder(*file.FolderID, file.OwnerID); err != nil {
			return err
		}
	}
	if _, exists := m.files[file.ID]; exists {
		return ErrConflict
	}
	for _, other := range m.files {
		if other.StorageKey == file.StorageKey {
			return ErrConflict
		}
	}

	now := time.Now().UTC()
	file.CreatedAt, file.UpdatedAt, file.IsDeleted = now, now, false
	m.files[file.ID] = cloneFile(file)
	delete(m.pending, file.ID)
	return nil
}

func (m *MemoryStore) GetFile(_ context.Context, id, ownerID string) (*File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.files[id]
	if !ok || f.OwnerID != ownerID || f.IsDeleted || m.hidden(f.FolderID) {
		return nil, ErrNotFound
	}
	return cloneFile(f), nil
}

func (m *MemoryStore) GetSharedFile(_ context.Context, id string) (*File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.files[id]
	if !ok || f.IsDeleted || m.hidden(f.FolderID) {
		return nil, ErrNotFound
	}
	return cloneFile(f), nil
}

func (m *MemoryStore) SetDeleted(_ context.Context, itemType ItemType, id, ownerID string, deleted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	switch itemType {
	case ItemFolder:
		f, ok := m.folders[id]
		if !ok || f.OwnerID != ownerID {
			return ErrNotFound
		}
		f.IsDeleted, f.UpdatedAt = deleted, now
	case ItemFile:
		f, ok := m.files[id]
		if !ok || f.OwnerID != ownerID {
			return ErrNotFound
		}
		f.IsDeleted, f.UpdatedAt = deleted, now
	default:
		return fmt.Errorf("unknown item type %q", itemType)
	}
	return nil
}

func (m *MemoryStore) ListDeletedFolders(_ context.Context, ownerID string) ([]*Folder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	folders := []*Folder{}
	for _, f := range m.folders {
		if f.OwnerID == ownerID && f.IsDeleted {
			folders = append(folders, cloneFolder(f))
		}
	}
	sortFolders(folders)
	return folders, nil
}

func (m *MemoryStore) ListDeletedFiles(_ context.Context, ownerID string) ([]*File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	files := []*File{}
	for _, f := range m.files {
		if f.OwnerID == ownerID && f.IsDeleted {
			files = append(files, cloneFile(f))
		}
	}
	sortFiles(files)
	return files, nil
}

func (m *MemoryStore) PermanentDelete(_ context.Context, itemType ItemType, id, ownerID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	switch itemType {
	case ItemFile:
		f, ok := m.files[id]
		if !ok || f.OwnerID != ownerID {
			return nil, nil
		}
		keys = append(keys, m.deleteFile(f))
	case ItemFolder:
		f, ok := m.folders[id]
		if !ok || f.OwnerID != ownerID {
			return nil, nil
		}
		subtree := m.subtree(id)
		for _, file := range m.files {
			if file.FolderID != nil && subtree[*file.FolderID] {
				keys = append(keys, m.deleteFile(file))
			}
		}
		for folderID := range subtree {
			delete(m.folders, folderID)
		}
	default:
		return nil, fmt.Errorf("unknown item type %q", itemType)
	}

	now := time.Now().UTC()
	for _, key := range keys {
		if _, exists := m.orphans[key]; !exists {
			m.orphans[key] = &OrphanBlob{StorageKey: key, CreatedAt: now}
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// deleteFile removes a file row and its shares. Caller holds mu.
func (m *MemoryStore) deleteFile(f *File) string {
	for id, s := range m.shares {
		if s.FileID == f.ID {
			delete(m.shares, id)
		}
	}
	delete(m.files, f.ID)
	return f.StorageKey
}

// subtree returns the ids of root and all of its descendants. Caller holds mu.
func (m *MemoryStore) subtree(root string) map[string]bool {
	ids := map[string]bool{root: true}
	for grown := true; grown; {
		grown = false
		for _, f := range m.folders {
			if f.ParentID != nil && ids[*f.ParentID] && !ids[f.ID] {
				ids[f.ID] = true
				grown = true
			}
		}
	}
	return ids
}

func (m *MemoryStore) Search(_ context.Context, ownerID, query string) ([]*File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	needle := strings.ToLower(query)
	files := []*File{}
	for _, f := range m.files {
		if f.OwnerID != ownerID || f.IsDeleted || m.hidden(f.FolderID) {
			continue
		}
		if strings.Contains(strings.ToLower(f.Name), needle) {
			files = append(files, cloneFile(f))
		}
	}
	sortFiles(files)
	return files, nil
}

func (m *MemoryStore) CreateOrGetPublicShare(_ context.Context, shareID, fileID, ownerID string) (*Share, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[fileID]
	if !ok || f.OwnerID != ownerID || f.IsDeleted || m.hidden(f.FolderID) {
		return nil, ErrNotFound
	}
	for _, s := range m.shares {
		if s.FileID == fileID && s.IsPublic {
			return cloneShare(s), nil
		}
	}
	if _, exists := m.shares[shareID]; exists {
		return nil, ErrConflict
	}

	s := &Share{ID: shareID, FileID: fileID, IsPublic: true, CreatedAt: time.Now().UTC()}
	m.shares[shareID] = s
	return cloneShare(s), nil
}

func (m *MemoryStore) CreateTargetedShare(_ context.Context, shareID, fileID, ownerID, email string) (*Share, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[fileID]
	if !ok || f.OwnerID != ownerID || f.IsDeleted || m.hidden(f.FolderID) {
		return nil, ErrNotFound
	}
	for _, s := range m.shares {
		if s.FileID == fileID && !s.IsPublic && strings.EqualFold(*s.GranteeEmail, email) {
			return cloneShare(s), nil
		}
	}
	if _, exists := m.shares[shareID]; exists {
		return nil, ErrConflict
	}

	grantee := email
	s := &Share{ID: shareID, FileID: fileID, IsPublic: false, GranteeEmail: &grantee, CreatedAt: time.Now().UTC()}
	m.shares[shareID] = s
	return cloneShare(s), nil
}

func (m *MemoryStore) ResolvePublicShare(_ context.Context, shareID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.shares[shareID]
	if !ok || !s.IsPublic {
		return "", ErrNotFound
	}
	return s.FileID, nil
}

func (m *MemoryStore) ListSharedWithMe(_ context.Context, email string) ([]*File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := map[string]bool{}
	files := []*File{}
	for _, s := range m.shares {
		if s.IsPublic || !strings.EqualFold(*s.GranteeEmail, email) || seen[s.FileID] {
			continue
		}
		f, ok := m.files[s.FileID]
		if !ok || f.IsDeleted || m.hidden(f.FolderID) {
			continue
		}
		seen[s.FileID] = true
		files = append(files, cloneFile(f))
	}
	sortFiles(files)
	return files, nil
}

func (m *MemoryStore) ExpirePendingUploads(_ context.Context, now time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	expired := []*PendingUpload{}
	for _, p := range m.pending {
		if p.ExpiresAt.Before(now) {
			expired = append(expired, p)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ExpiresAt.Before(expired[j].ExpiresAt) })
	if len(expired) > limit {
		expired = expired[:limit]
	}

	keys := []string{}
	for _, p := range expired {
		delete(m.pending, p.FileID)
		if _, exists := m.orphans[p.StorageKey]; exists {
			continue
		}
		m.orphans[p.StorageKey] = &OrphanBlob{StorageKey: p.StorageKey, CreatedAt: now}
		keys = append(keys, p.StorageKey)
	}
	return keys, nil
}

func (m *MemoryStore) ListOrphanBlobs(_ context.Context, limit int) ([]*OrphanBlob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	orphans := []*OrphanBlob{}
	for _, o := range m.orphans {
		c := *o
		orphans = append(orphans, &c)
	}
	sort.Slice(orphans, func(i, j int) bool {
		if orphans[i].Attempts != orphans[j].Attempts {
			return orphans[i].Attempts < orphans[j].Attempts
		}
		return orphans[i].CreatedAt.Before(orphans[j].CreatedAt)
	})
	if len(orphans) > limit {
		orphans = orphans[:limit]
	}
	return orphans, nil
}

func (m *MemoryStore) ResolveOrphanBlob(_ context.Context, storageKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.orphans, storageKey)
	return nil
}

func (m *MemoryStore) RecordPurgeFailure(_ context.Context, storageKey, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orphans[storageKey]
	if !ok {
		o = &OrphanBlob{StorageKey: storageKey, CreatedAt: time.Now().UTC()}
		m.orphans[storageKey] = o
	}
	o.Attempts++
	o.LastError = reason
	return nil
}

func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

func sameParent(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func sortFolders(folders []*Folder) {
	sort.Slice(folders, func(i, j int) bool {
		if folders[i].Name != folders[j].Name {
			return folders[i].Name < folders[j].Name
		}
		return folders[i].ID < folders[j].ID
	})
}

func sortFiles(files []*File) {
	sort.Slice(files, func(i, j int) bool {
		if files[i].Name != files[j].Name {
			return files[i].Name < files[j].Name
		}
		return files[i].ID < files[j].ID
	})
}
