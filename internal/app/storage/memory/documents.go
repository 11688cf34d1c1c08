package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/R3E-Network/signflow/internal/app/domain/document"
	"github.com/R3E-Network/signflow/internal/app/domain/folder"
	"github.com/R3E-Network/signflow/internal/app/domain/tag"
)

// DocumentStore implementation ------------------------------------------------

func (s *Store) CreateDocument(_ context.Context, doc document.Document) (document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if doc.ID == "" {
		doc.ID = s.nextIDLocked()
	} else if _, exists := s.documents[doc.ID]; exists {
		return document.Document{}, duplicate("document", doc.ID)
	}
	ts := now()
	doc.CreatedAt = ts
	doc.UpdatedAt = ts
	doc = cloneDocument(doc)
	s.documents[doc.ID] = doc
	return cloneDocument(doc), nil
}

func (s *Store) UpdateDocument(_ context.Context, doc document.Document) (document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.documents[doc.ID]
	if !ok || original.OrganizationID != doc.OrganizationID {
		return document.Document{}, notFound("document", doc.ID)
	}
	doc.CreatedAt = original.CreatedAt
	doc.UpdatedAt = now()
	// Tag assignments are managed through Add/RemoveDocumentTag.
	doc.TagIDs = original.TagIDs
	doc = cloneDocument(doc)
	s.documents[doc.ID] = doc
	return cloneDocument(doc), nil
}

func (s *Store) GetDocument(_ context.Context, orgID, id string) (document.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[id]
	if !ok || doc.OrganizationID != orgID {
		return document.Document{}, notFound("document", id)
	}
	return cloneDocument(doc), nil
}

func (s *Store) ListDocuments(_ context.Context, orgID string, filter document.Filter) ([]document.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := strings.ToLower(strings.TrimSpace(filter.Query))
	result := make([]document.Document, 0)
	for _, doc := range s.documents {
		if doc.OrganizationID != orgID {
			continue
		}
		if doc.Deleted() && !filter.IncludeDeleted {
			continue
		}
		if filter.FolderID != "" && doc.FolderID != filter.FolderID {
			continue
		}
		if filter.RootOnly && doc.FolderID != "" {
			continue
		}
		if filter.Status != "" && doc.Status != filter.Status {
			continue
		}
		if filter.TagID != "" && !contains(doc.TagIDs, filter.TagID) {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(doc.Name), query) {
			continue
		}
		result = append(result, cloneDocument(doc))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) MoveDocumentsToRoot(_ context.Context, orgID string, folderIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := now()
	for id, doc := range s.documents {
		if doc.OrganizationID == orgID && contains(folderIDs, doc.FolderID) {
			doc.FolderID = ""
			doc.UpdatedAt = ts
			s.documents[id] = doc
		}
	}
	return nil
}

func (s *Store) AddDocumentTag(_ context.Context, orgID, documentID, tagID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[documentID]
	if !ok || doc.OrganizationID != orgID {
		return notFound("document", documentID)
	}
	if t, ok := s.tags[tagID]; !ok || t.OrganizationID != orgID {
		return notFound("tag", tagID)
	}
	if contains(doc.TagIDs, tagID) {
		return nil
	}
	doc.TagIDs = append(append([]string{}, doc.TagIDs...), tagID)
	s.documents[documentID] = doc
	return nil
}

func (s *Store) RemoveDocumentTag(_ context.Context, orgID, documentID, tagID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[documentID]
	if !ok || doc.OrganizationID != orgID {
		return notFound("document", documentID)
	}
	doc.TagIDs = without(doc.TagIDs, tagID)
	s.documents[documentID] = doc
	return nil
}

// FolderStore implementation --------------------------------------------------

func (s *Store) CreateFolder(_ context.Context, f folder.Folder) (folder.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkSiblingNameLocked(f); err != nil {
		return folder.Folder{}, err
	}
	if f.ID == "" {
		f.ID = s.nextIDLocked()
	}
	ts := now()
	f.CreatedAt = ts
	f.UpdatedAt = ts
	s.folders[f.ID] = f
	return f, nil
}

func (s *Store) UpdateFolder(_ context.Context, f folder.Folder) (folder.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.folders[f.ID]
	if !ok || original.OrganizationID != f.OrganizationID {
		return folder.Folder{}, notFound("folder", f.ID)
	}
	if err := s.checkSiblingNameLocked(f); err != nil {
		return folder.Folder{}, err
	}
	f.CreatedBy = original.CreatedBy
	f.CreatedAt = original.CreatedAt
	f.UpdatedAt = now()
	s.folders[f.ID] = f
	return f, nil
}

func (s *Store) checkSiblingNameLocked(f folder.Folder) error {
	for _, other := range s.folders {
		if other.ID != f.ID && other.OrganizationID == f.OrganizationID &&
			other.ParentID == f.ParentID && strings.EqualFold(other.Name, f.Name) {
			return duplicate("folder", f.Name)
		}
	}
	return nil
}

func (s *Store) GetFolder(_ context.Context, orgID, id string) (folder.Folder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.folders[id]
	if !ok || f.OrganizationID != orgID {
		return folder.Folder{}, notFound("folder", id)
	}
	return f, nil
}

func (s *Store) ListFolders(_ context.Context, orgID string) ([]folder.Folder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]folder.Folder, 0)
	for _, f := range s.folders {
		if f.OrganizationID == orgID {
			result = append(result, f)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (s *Store) DeleteFolders(_ context.Context, orgID string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if f, ok := s.folders[id]; ok && f.OrganizationID == orgID {
			delete(s.folders, id)
		}
	}
	return nil
}

// TagStore implementation -----------------------------------------------------

func (s *Store) CreateTag(_ context.Context, t tag.Tag) (tag.Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, other := range s.tags {
		if other.OrganizationID == t.OrganizationID && strings.EqualFold(other.Name, t.Name) {
			return tag.Tag{}, duplicate("tag", t.Name)
		}
	}
	if t.ID == "" {
		t.ID = s.nextIDLocked()
	}
	ts := now()
	t.CreatedAt = ts
	t.UpdatedAt = ts
	s.tags[t.ID] = t
	return t, nil
}

func (s *Store) UpdateTag(_ context.Context, t tag.Tag) (tag.Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.tags[t.ID]
	if !ok || original.OrganizationID != t.OrganizationID {
		return tag.Tag{}, notFound("tag", t.ID)
	}
	for _, other := range s.tags {
		if other.ID != t.ID && other.OrganizationID == t.OrganizationID && strings.EqualFold(other.Name, t.Name) {
			return tag.Tag{}, duplicate("tag", t.Name)
		}
	}
	t.CreatedAt = original.CreatedAt
	t.UpdatedAt = now()
	s.tags[t.ID] = t
	return t, nil
}

func (s *Store) GetTag(_ context.Context, orgID, id string) (tag.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tags[id]
	if !ok || t.OrganizationID != orgID {
		return tag.Tag{}, notFound("tag", id)
	}
	return t, nil
}

func (s *Store) ListTags(_ context.Context, orgID string) ([]tag.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]tag.Tag, 0)
	for _, t := range s.tags {
		if t.OrganizationID == orgID {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool { return strings.ToLower(result[i].Name) < strings.ToLower(result[j].Name) })
	return result, nil
}

func (s *Store) DeleteTag(_ context.Context, orgID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tags[id]
	if !ok || t.OrganizationID != orgID {
		return notFound("tag", id)
	}
	delete(s.tags, id)
	for docID, doc := range s.documents {
		if doc.OrganizationID == orgID && contains(doc.TagIDs, id) {
			doc.TagIDs = without(doc.TagIDs, id)
			s.documents[docID] = doc
		}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func without(list []string, v string) []string {
	out := make([]string, 0, len(list))
	for _, item := range list {
		if item != v {
			out = append(out, item)
		}
	}
	return out
}
