package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/R3E-Network/signflow/internal/app/domain/document"
	"github.com/R3E-Network/signflow/internal/app/domain/folder"
	"github.com/R3E-Network/signflow/internal/app/domain/permission"
	"github.com/R3E-Network/signflow/internal/app/domain/tag"
)

// --- DocumentStore ----------------------------------------------------------

type documentRow struct {
	ID               string     `db:"id"`
	OrganizationID   string     `db:"organization_id"`
	FolderID         string     `db:"folder_id"`
	OwnerID          string     `db:"owner_id"`
	Name             string     `db:"name"`
	ContentType      string     `db:"content_type"`
	Size             int64      `db:"size"`
	SHA256           string     `db:"sha256"`
	PageCount        int        `db:"page_count"`
	StorageKey       string     `db:"storage_key"`
	SignedStorageKey string     `db:"signed_storage_key"`
	SignedSHA256     string     `db:"signed_sha256"`
	Status           string     `db:"status"`
	CreatedAt        time.Time  `db:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"`
	DeletedAt        *time.Time `db:"deleted_at"`
}

func (r documentRow) toDomain() document.Document {
	return document.Document{
		ID:               r.ID,
		OrganizationID:   r.OrganizationID,
		FolderID:         r.FolderID,
		OwnerID:          r.OwnerID,
		Name:             r.Name,
		ContentType:      r.ContentType,
		Size:             r.Size,
		SHA256:           r.SHA256,
		PageCount:        r.PageCount,
		StorageKey:       r.StorageKey,
		SignedStorageKey: r.SignedStorageKey,
		SignedSHA256:     r.SignedSHA256,
		Status:           document.Status(r.Status),
		TagIDs:           []string{},
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
		DeletedAt:        r.DeletedAt,
	}
}

const documentColumns = `id, organization_id, folder_id, owner_id, name, content_type, size, sha256, page_count,
	storage_key, signed_storage_key, signed_sha256, status, created_at, updated_at, deleted_at`

func (s *Store) CreateDocument(ctx context.Context, doc document.Document) (document.Document, error) {
	if doc.ID == "" {
		doc.ID = newID()
	}
	ts := now()
	doc.CreatedAt = ts
	doc.UpdatedAt = ts
	if doc.TagIDs == nil {
		doc.TagIDs = []string{}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, doc.ID, doc.OrganizationID, doc.FolderID, doc.OwnerID, doc.Name, doc.ContentType, doc.Size, doc.SHA256,
		doc.PageCount, doc.StorageKey, doc.SignedStorageKey, doc.SignedSHA256, string(doc.Status),
		doc.CreatedAt, doc.UpdatedAt, doc.DeletedAt)
	if err != nil {
		return document.Document{}, mapErr("document", err)
	}
	return doc, nil
}

func (s *Store) UpdateDocument(ctx context.Context, doc document.Document) (document.Document, error) {
	existing, err := s.GetDocument(ctx, doc.OrganizationID, doc.ID)
	if err != nil {
		return document.Document{}, err
	}
	doc.CreatedAt = existing.CreatedAt
	doc.UpdatedAt = now()
	doc.TagIDs = existing.TagIDs

	result, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET folder_id = $3, name = $4, page_count = $5, signed_storage_key = $6, signed_sha256 = $7,
			status = $8, updated_at = $9, deleted_at = $10
		WHERE id = $1 AND organization_id = $2
	`, doc.ID, doc.OrganizationID, doc.FolderID, doc.Name, doc.PageCount, doc.SignedStorageKey, doc.SignedSHA256,
		string(doc.Status), doc.UpdatedAt, doc.DeletedAt)
	if err != nil {
		return document.Document{}, err
	}
	if err := checkAffected("document", result); err != nil {
		return document.Document{}, err
	}
	return doc, nil
}

func (s *Store) GetDocument(ctx context.Context, orgID, id string) (document.Document, error) {
	var row documentRow
	err := s.db.GetContext(ctx, &row, `SELECT `+documentColumns+` FROM documents WHERE id = $1 AND organization_id = $2`, id, orgID)
	if err != nil {
		return document.Document{}, mapErr("document", err)
	}
	docs := []document.Document{row.toDomain()}
	if err := s.attachTags(ctx, docs); err != nil {
		return document.Document{}, err
	}
	return docs[0], nil
}

func (s *Store) ListDocuments(ctx context.Context, orgID string, filter document.Filter) ([]document.Document, error) {
	clauses := []string{"organization_id = $1"}
	args := []interface{}{orgID}
	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if !filter.IncludeDeleted {
		clauses = append(clauses, "deleted_at IS NULL")
	}
	if filter.FolderID != "" {
		add("folder_id = $%d", filter.FolderID)
	}
	if filter.RootOnly {
		clauses = append(clauses, "folder_id = ''")
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.TagID != "" {
		add("id IN (SELECT document_id FROM document_tags WHERE tag_id = $%d)", filter.TagID)
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		add("name ILIKE $%d", "%"+escapeLike(q)+"%")
	}

	var rows []documentRow
	query := `SELECT ` + documentColumns + ` FROM documents WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC`
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	result := make([]document.Document, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	if err := s.attachTags(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) attachTags(ctx context.Context, docs []document.Document) error {
	if len(docs) == 0 {
		return nil
	}
	ids := make([]string, len(docs))
	index := make(map[string]int, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
		index[d.ID] = i
	}

	var links []struct {
		DocumentID string `db:"document_id"`
		TagID      string `db:"tag_id"`
	}
	err := s.db.SelectContext(ctx, &links, `
		SELECT document_id, tag_id FROM document_tags WHERE document_id = ANY($1) ORDER BY tag_id
	`, pq.Array(ids))
	if err != nil {
		return err
	}
	for _, link := range links {
		i := index[link.DocumentID]
		docs[i].TagIDs = append(docs[i].TagIDs, link.TagID)
	}
	return nil
}

func (s *Store) MoveDocumentsToRoot(ctx context.Context, orgID string, folderIDs []string) error {
	if len(folderIDs) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET folder_id = '', updated_at = $3
		WHERE organization_id = $1 AND folder_id = ANY($2)
	`, orgID, pq.Array(folderIDs), now())
	return err
}

func (s *Store) AddDocumentTag(ctx context.Context, orgID, documentID, tagID string) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO document_tags (document_id, tag_id)
		SELECT d.id, t.id
		FROM documents d, tags t
		WHERE d.id = $2 AND d.organization_id = $1 AND t.id = $3 AND t.organization_id = $1
		ON CONFLICT DO NOTHING
	`, orgID, documentID, tagID)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		// Either already tagged or one side is missing.
		if _, err := s.GetDocument(ctx, orgID, documentID); err != nil {
			return err
		}
		if _, err := s.GetTag(ctx, orgID, tagID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) RemoveDocumentTag(ctx context.Context, orgID, documentID, tagID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM document_tags
		WHERE document_id = $1 AND tag_id = $2
			AND EXISTS (SELECT 1 FROM documents WHERE id = $1 AND organization_id = $3)
	`, documentID, tagID, orgID)
	return err
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// --- FolderStore ------------------------------------------------------------

type folderRow struct {
	ID             string    `db:"id"`
	OrganizationID string    `db:"organization_id"`
	ParentID       string    `db:"parent_id"`
	Name           string    `db:"name"`
	CreatedBy      string    `db:"created_by"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

const folderColumns = `id, organization_id, parent_id, name, created_by, created_at, updated_at`

func (s *Store) CreateFolder(ctx context.Context, f folder.Folder) (folder.Folder, error) {
	if f.ID == "" {
		f.ID = newID()
	}
	ts := now()
	f.CreatedAt = ts
	f.UpdatedAt = ts
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO folders (`+folderColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, f.ID, f.OrganizationID, f.ParentID, f.Name, f.CreatedBy, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return folder.Folder{}, mapErr("folder", err)
	}
	return f, nil
}

func (s *Store) UpdateFolder(ctx context.Context, f folder.Folder) (folder.Folder, error) {
	existing, err := s.GetFolder(ctx, f.OrganizationID, f.ID)
	if err != nil {
		return folder.Folder{}, err
	}
	f.CreatedBy = existing.CreatedBy
	f.CreatedAt = existing.CreatedAt
	f.UpdatedAt = now()

	result, err := s.db.ExecContext(ctx, `
		UPDATE folders SET parent_id = $3, name = $4, updated_at = $5
		WHERE id = $1 AND organization_id = $2
	`, f.ID, f.OrganizationID, f.ParentID, f.Name, f.UpdatedAt)
	if err != nil {
		return folder.Folder{}, mapErr("folder", err)
	}
	if err := checkAffected("folder", result); err != nil {
		return folder.Folder{}, err
	}
	return f, nil
}

func (s *Store) GetFolder(ctx context.Context, orgID, id string) (folder.Folder, error) {
	var row folderRow
	err := s.db.GetContext(ctx, &row, `SELECT `+folderColumns+` FROM folders WHERE id = $1 AND organization_id = $2`, id, orgID)
	if err != nil {
		return folder.Folder{}, mapErr("folder", err)
	}
	return folder.Folder(row), nil
}

func (s *Store) ListFolders(ctx context.Context, orgID string) ([]folder.Folder, error) {
	var rows []folderRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+folderColumns+` FROM folders WHERE organization_id = $1 ORDER BY name`, orgID); err != nil {
		return nil, err
	}
	result := make([]folder.Folder, 0, len(rows))
	for _, row := range rows {
		result = append(result, folder.Folder(row))
	}
	return result, nil
}

func (s *Store) DeleteFolders(ctx context.Context, orgID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM folders WHERE organization_id = $1 AND id = ANY($2)`, orgID, pq.Array(ids))
	return err
}

// --- TagStore ---------------------------------------------------------------

type tagRow struct {
	ID             string    `db:"id"`
	OrganizationID string    `db:"organization_id"`
	Name           string    `db:"name"`
	Color          string    `db:"color"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

const tagColumns = `id, organization_id, name, color, created_at, updated_at`

func (s *Store) CreateTag(ctx context.Context, t tag.Tag) (tag.Tag, error) {
	if t.ID == "" {
		t.ID = newID()
	}
	ts := now()
	t.CreatedAt = ts
	t.UpdatedAt = ts
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tags (`+tagColumns+`) VALUES ($1, $2, $3, $4, $5, $6)
	`, t.ID, t.OrganizationID, t.Name, t.Color, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return tag.Tag{}, mapErr("tag", err)
	}
	return t, nil
}

func (s *Store) UpdateTag(ctx context.Context, t tag.Tag) (tag.Tag, error) {
	existing, err := s.GetTag(ctx, t.OrganizationID, t.ID)
	if err != nil {
		return tag.Tag{}, err
	}
	t.CreatedAt = existing.CreatedAt
	t.UpdatedAt = now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE tags SET name = $3, color = $4, updated_at = $5 WHERE id = $1 AND organization_id = $2
	`, t.ID, t.OrganizationID, t.Name, t.Color, t.UpdatedAt)
	if err != nil {
		return tag.Tag{}, mapErr("tag", err)
	}
	if err := checkAffected("tag", result); err != nil {
		return tag.Tag{}, err
	}
	return t, nil
}

func (s *Store) GetTag(ctx context.Context, orgID, id string) (tag.Tag, error) {
	var row tagRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+tagColumns+` FROM tags WHERE id = $1 AND organization_id = $2`, id, orgID); err != nil {
		return tag.Tag{}, mapErr("tag", err)
	}
	return tag.Tag(row), nil
}

func (s *Store) ListTags(ctx context.Context, orgID string) ([]tag.Tag, error) {
	var rows []tagRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+tagColumns+` FROM tags WHERE organization_id = $1 ORDER BY lower(name)`, orgID); err != nil {
		return nil, err
	}
	result := make([]tag.Tag, 0, len(rows))
	for _, row := range rows {
		result = append(result, tag.Tag(row))
	}
	return result, nil
}

// DeleteTag relies on the document_tags foreign key cascade to detach the tag.
func (s *Store) DeleteTag(ctx context.Context, orgID, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tags WHERE id = $1 AND organization_id = $2`, id, orgID)
	if err != nil {
		return err
	}
	return checkAffected("tag", result)
}

// --- PermissionStore --------------------------------------------------------

type grantRow struct {
	ID             string    `db:"id"`
	OrganizationID string    `db:"organization_id"`
	ResourceType   string    `db:"resource_type"`
	ResourceID     string    `db:"resource_id"`
	UserID         string    `db:"user_id"`
	Level          string    `db:"level"`
	CreatedBy      string    `db:"created_by"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (r grantRow) toDomain() permission.Grant {
	return permission.Grant{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		ResourceType:   permission.ResourceType(r.ResourceType),
		ResourceID:     r.ResourceID,
		UserID:         r.UserID,
		Level:          permission.Level(r.Level),
		CreatedBy:      r.CreatedBy,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

const grantColumns = `id, organization_id, resource_type, resource_id, user_id, level, created_by, created_at, updated_at`

func (s *Store) UpsertGrant(ctx context.Context, g permission.Grant) (permission.Grant, error) {
	if g.ID == "" {
		g.ID = newID()
	}
	ts := now()
	var row grantRow
	err := s.db.GetContext(ctx, &row, `
		INSERT INTO permission_grants (`+grantColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (organization_id, resource_type, resource_id, user_id)
		DO UPDATE SET level = EXCLUDED.level, created_by = EXCLUDED.created_by, updated_at = EXCLUDED.updated_at
		RETURNING `+grantColumns,
		g.ID, g.OrganizationID, string(g.ResourceType), g.ResourceID, g.UserID, string(g.Level), g.CreatedBy, ts)
	if err != nil {
		return permission.Grant{}, mapErr("grant", err)
	}
	return row.toDomain(), nil
}

func (s *Store) DeleteGrant(ctx context.Context, orgID, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM permission_grants WHERE id = $1 AND organization_id = $2`, id, orgID)
	if err != nil {
		return err
	}
	return checkAffected("grant", result)
}

func (s *Store) ListGrants(ctx context.Context, orgID string, resourceType permission.ResourceType, resourceID string) ([]permission.Grant, error) {
	var rows []grantRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+grantColumns+`
		FROM permission_grants
		WHERE organization_id = $1 AND resource_type = $2 AND resource_id = $3
		ORDER BY created_at
	`, orgID, string(resourceType), resourceID)
	if err != nil {
		return nil, err
	}
	result := make([]permission.Grant, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (s *Store) ListUserGrants(ctx context.Context, orgID, userID string) ([]permission.Grant, error) {
	var rows []grantRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+grantColumns+`
		FROM permission_grants
		WHERE organization_id = $1 AND user_id = $2
	`, orgID, userID)
	if err != nil {
		return nil, err
	}
	result := make([]permission.Grant, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}
