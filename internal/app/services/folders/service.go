package folders

import (
	"context"
	"strconv"
	"strings"

	"github.com/R3E-Network/signflow/internal/app/domain/audit"
	"github.com/R3E-Network/signflow/internal/app/domain/document"
	"github.com/R3E-Network/signflow/internal/app/domain/folder"
	"github.com/R3E-Network/signflow/internal/app/domain/organization"
	"github.com/R3E-Network/signflow/internal/app/domain/permission"
	"github.com/R3E-Network/signflow/internal/app/services/permissions"
	"github.com/R3E-Network/signflow/internal/app/storage"
	svcerrors "github.com/R3E-Network/signflow/internal/errors"
	"github.com/R3E-Network/signflow/pkg/logger"
)

const maxNameLength = 255

// Auditor records audit events.
type Auditor interface {
	Record(ctx context.Context, e audit.Event) (audit.Event, error)
}

// Service manages the folder tree of an organization.
type Service struct {
	store     storage.FolderStore
	documents storage.DocumentStore
	grants    storage.PermissionStore
	perms     *permissions.Service
	audit     Auditor
	log       *logger.Logger
}

// New constructs a folder service.
func New(store storage.FolderStore, documents storage.DocumentStore, grants storage.PermissionStore, perms *permissions.Service, auditor Auditor, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("folders")
	}
	return &Service{store: store, documents: documents, grants: grants, perms: perms, audit: auditor, log: log}
}

func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", svcerrors.Validation("name is required")
	}
	if len(name) > maxNameLength {
		return "", svcerrors.Validationf("name must be at most %d characters", maxNameLength)
	}
	if strings.ContainsAny(name, "/\\") {
		return "", svcerrors.Validation("name cannot contain slashes")
	}
	return name, nil
}

func (s *Service) record(ctx context.Context, orgID, userID, action, folderID string, meta map[string]string) {
	if s.audit == nil {
		return
	}
	_, _ = s.audit.Record(ctx, audit.Event{
		OrganizationID: orgID,
		ActorType:      audit.ActorUser,
		ActorID:        userID,
		Action:         action,
		ResourceType:   string(permission.ResourceFolder),
		ResourceID:     folderID,
		Metadata:       meta,
		IP:             logger.GetClientIP(ctx),
	})
}

func mapStoreErr(err error, id string) error {
	switch {
	case svcerrors.Is(err, storage.ErrNotFound):
		return svcerrors.NotFound("folder", id)
	case svcerrors.Is(err, storage.ErrDuplicate):
		return svcerrors.Conflict("a folder with that name already exists here")
	}
	return err
}

// requireParent checks the caller may add children under parentID. The
// organization root is open to members and above.
func (s *Service) requireParent(access *permissions.Access, parentID string) error {
	if parentID == "" {
		if !access.Role.AtLeast(organization.RoleMember) {
			return svcerrors.Forbidden("viewers cannot create folders")
		}
		return nil
	}
	return permissions.Require(access.Folder(parentID), permission.LevelEdit, "folder", parentID)
}

// Create adds a folder. Names are unique among siblings, ignoring case.
func (s *Service) Create(ctx context.Context, orgID, userID, parentID, name string) (folder.Folder, error) {
	name, err := cleanName(name)
	if err != nil {
		return folder.Folder{}, err
	}
	access, err := s.perms.Access(ctx, orgID, userID)
	if err != nil {
		return folder.Folder{}, err
	}
	if parentID != "" {
		if _, err := s.store.GetFolder(ctx, orgID, parentID); err != nil {
			return folder.Folder{}, mapStoreErr(err, parentID)
		}
	}
	if err := s.requireParent(access, parentID); err != nil {
		return folder.Folder{}, err
	}

	f, err := s.store.CreateFolder(ctx, folder.Folder{
		OrganizationID: orgID,
		ParentID:       parentID,
		Name:           name,
		CreatedBy:      userID,
	})
	if err != nil {
		return folder.Folder{}, mapStoreErr(err, "")
	}
	// The creator manages what they create.
	if !access.Role.AtLeast(organization.RoleAdmin) {
		if _, err := s.grants.UpsertGrant(ctx, permission.Grant{
			OrganizationID: orgID,
			ResourceType:   permission.ResourceFolder,
			ResourceID:     f.ID,
			UserID:         userID,
			Level:          permission.LevelManage,
			CreatedBy:      userID,
		}); err != nil {
			return folder.Folder{}, err
		}
	}
	s.record(ctx, orgID, userID, "folder.created", f.ID, map[string]string{"name": f.Name})
	s.log.WithContext(ctx).WithField("folder_id", f.ID).WithField("organization_id", orgID).Info("folder created")
	return f, nil
}

// Get returns a folder the caller can view.
func (s *Service) Get(ctx context.Context, orgID, userID, id string) (folder.Folder, error) {
	access, err := s.perms.Access(ctx, orgID, userID)
	if err != nil {
		return folder.Folder{}, err
	}
	f, err := s.store.GetFolder(ctx, orgID, id)
	if err != nil {
		return folder.Folder{}, mapStoreErr(err, id)
	}
	if !visible(access, f.ID) {
		return folder.Folder{}, svcerrors.NotFound("folder", id)
	}
	return f, nil
}

// visible reports whether the folder shows up in listings. Members see the
// whole tree; viewers only what they were granted.
func visible(access *permissions.Access, folderID string) bool {
	return access.Role.AtLeast(organization.RoleMember) || access.Folder(folderID) != permission.LevelNone
}

// List returns the children of parentID ("" for the root), sorted by name.
func (s *Service) List(ctx context.Context, orgID, userID, parentID string) ([]folder.Folder, error) {
	access, err := s.perms.Access(ctx, orgID, userID)
	if err != nil {
		return nil, err
	}
	all, err := s.store.ListFolders(ctx, orgID)
	if err != nil {
		return nil, err
	}
	out := make([]folder.Folder, 0)
	for _, f := range all {
		if f.ParentID == parentID && visible(access, f.ID) {
			out = append(out, f)
		}
	}
	return out, nil
}

// Path returns the chain from the root down to id, for breadcrumbs.
func (s *Service) Path(ctx context.Context, orgID, userID, id string) ([]folder.Folder, error) {
	if _, err := s.Get(ctx, orgID, userID, id); err != nil {
		return nil, err
	}
	all, err := s.store.ListFolders(ctx, orgID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]folder.Folder, len(all))
	for _, f := range all {
		byID[f.ID] = f
	}

	var chain []folder.Folder
	seen := make(map[string]bool)
	for cur := id; cur != "" && !seen[cur]; cur = byID[cur].ParentID {
		seen[cur] = true
		f, ok := byID[cur]
		if !ok {
			break
		}
		chain = append(chain, f)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// Rename changes a folder's name. Requires edit access.
func (s *Service) Rename(ctx context.Context, orgID, userID, id, name string) (folder.Folder, error) {
	name, err := cleanName(name)
	if err != nil {
		return folder.Folder{}, err
	}
	if err := s.perms.Check(ctx, orgID, userID, permission.ResourceFolder, id, permission.LevelEdit); err != nil {
		return folder.Folder{}, err
	}
	f, err := s.store.GetFolder(ctx, orgID, id)
	if err != nil {
		return folder.Folder{}, mapStoreErr(err, id)
	}
	old := f.Name
	f.Name = name
	f, err = s.store.UpdateFolder(ctx, f)
	if err != nil {
		return folder.Folder{}, mapStoreErr(err, id)
	}
	s.record(ctx, orgID, userID, "folder.renamed", id, map[string]string{"from": old, "to": name})
	return f, nil
}

// descendants returns id and every folder below it.
func descendants(all []folder.Folder, id string) []string {
	children := make(map[string][]string)
	for _, f := range all {
		children[f.ParentID] = append(children[f.ParentID], f.ID)
	}
	out := []string{id}
	seen := map[string]bool{id: true}
	for i := 0; i < len(out); i++ {
		for _, c := range children[out[i]] {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}

// Move reparents a folder. Moving a folder into itself or one of its
// descendants is rejected.
func (s *Service) Move(ctx context.Context, orgID, userID, id, newParentID string) (folder.Folder, error) {
	access, err := s.perms.Access(ctx, orgID, userID)
	if err != nil {
		return folder.Folder{}, err
	}
	f, err := s.store.GetFolder(ctx, orgID, id)
	if err != nil {
		return folder.Folder{}, mapStoreErr(err, id)
	}
	if err := permissions.Require(access.Folder(id), permission.LevelManage, "folder", id); err != nil {
		return folder.Folder{}, err
	}
	if newParentID == f.ParentID {
		return f, nil
	}
	if newParentID != "" {
		if _, err := s.store.GetFolder(ctx, orgID, newParentID); err != nil {
			return folder.Folder{}, mapStoreErr(err, newParentID)
		}
		all, err := s.store.ListFolders(ctx, orgID)
		if err != nil {
			return folder.Folder{}, err
		}
		for _, d := range descendants(all, id) {
			if d == newParentID {
				return folder.Folder{}, svcerrors.Validation("a folder cannot be moved into itself or its descendants")
			}
		}
	}
	if err := s.requireParent(access, newParentID); err != nil {
		return folder.Folder{}, err
	}

	from := f.ParentID
	f.ParentID = newParentID
	f, err = s.store.UpdateFolder(ctx, f)
	if err != nil {
		return folder.Folder{}, mapStoreErr(err, id)
	}
	s.record(ctx, orgID, userID, "folder.moved", id, map[string]string{"from": from, "to": newParentID})
	return f, nil
}

// Delete removes a folder. Without recursive the folder must be empty. With
// recursive every subfolder is removed too and contained documents move to
// the organization root.
func (s *Service) Delete(ctx context.Context, orgID, userID, id string, recursive bool) error {
	if err := s.perms.Check(ctx, orgID, userID, permission.ResourceFolder, id, permission.LevelManage); err != nil {
		return err
	}
	all, err := s.store.ListFolders(ctx, orgID)
	if err != nil {
		return err
	}
	ids := descendants(all, id)

	if !recursive {
		if len(ids) > 1 {
			return svcerrors.InvalidState("folder has subfolders")
		}
		docs, err := s.documents.ListDocuments(ctx, orgID, document.Filter{FolderID: id})
		if err != nil {
			return err
		}
		if len(docs) > 0 {
			return svcerrors.InvalidState("folder is not empty")
		}
	}

	if err := s.documents.MoveDocumentsToRoot(ctx, orgID, ids); err != nil {
		return err
	}
	for _, fid := range ids {
		grants, err := s.grants.ListGrants(ctx, orgID, permission.ResourceFolder, fid)
		if err != nil {
			return err
		}
		for _, g := range grants {
			if err := s.grants.DeleteGrant(ctx, orgID, g.ID); err != nil && !svcerrors.Is(err, storage.ErrNotFound) {
				return err
			}
		}
	}
	if err := s.store.DeleteFolders(ctx, orgID, ids); err != nil {
		return err
	}
	s.record(ctx, orgID, userID, "folder.deleted", id, map[string]string{"recursive": strconv.FormatBool(recursive)})
	s.log.WithContext(ctx).
		WithField("folder_id", id).
		WithField("removed", len(ids)).
		Info("folder deleted")
	return nil
}
