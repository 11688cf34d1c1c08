package permissions

import (
	"context"

	"github.com/R3E-Network/signflow/internal/app/domain/document"
	"github.com/R3E-Network/signflow/internal/app/domain/organization"
	"github.com/R3E-Network/signflow/internal/app/domain/permission"
	"github.com/R3E-Network/signflow/internal/app/storage"
	svcerrors "github.com/R3E-Network/signflow/internal/errors"
	"github.com/R3E-Network/signflow/pkg/logger"
)

// Service evaluates and manages resource grants.
type Service struct {
	orgs      storage.OrganizationStore
	grants    storage.PermissionStore
	documents storage.DocumentStore
	folders   storage.FolderStore
	log       *logger.Logger
}

// New constructs a permission service.
func New(orgs storage.OrganizationStore, grants storage.PermissionStore, documents storage.DocumentStore, folders storage.FolderStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("permissions")
	}
	return &Service{orgs: orgs, grants: grants, documents: documents, folders: folders, log: log}
}

type grantKey struct {
	resourceType permission.ResourceType
	resourceID   string
}

// Access is one user's standing inside an organization, loaded once so many
// resources can be evaluated cheaply.
type Access struct {
	UserID string
	Role   organization.Role

	grants  map[grantKey]permission.Level
	parents map[string]string
}

// Access loads the caller's role, grants and the folder tree. Non-members
// get not found.
func (s *Service) Access(ctx context.Context, orgID, userID string) (*Access, error) {
	member, err := s.orgs.GetMember(ctx, orgID, userID)
	if err != nil {
		if svcerrors.Is(err, storage.ErrNotFound) {
			return nil, svcerrors.NotFound("organization", orgID)
		}
		return nil, err
	}
	a := &Access{
		UserID:  userID,
		Role:    member.Role,
		grants:  make(map[grantKey]permission.Level),
		parents: make(map[string]string),
	}
	if member.Role.AtLeast(organization.RoleAdmin) {
		return a, nil
	}

	grants, err := s.grants.ListUserGrants(ctx, orgID, userID)
	if err != nil {
		return nil, err
	}
	for _, g := range grants {
		k := grantKey{g.ResourceType, g.ResourceID}
		a.grants[k] = permission.Max(a.grants[k], g.Level)
	}
	folders, err := s.folders.ListFolders(ctx, orgID)
	if err != nil {
		return nil, err
	}
	for _, f := range folders {
		a.parents[f.ID] = f.ParentID
	}
	return a, nil
}

// folderChain returns the highest grant on folderID or any ancestor.
func (a *Access) folderChain(folderID string) permission.Level {
	level := permission.LevelNone
	seen := make(map[string]bool)
	for id := folderID; id != "" && !seen[id]; id = a.parents[id] {
		seen[id] = true
		level = permission.Max(level, a.grants[grantKey{permission.ResourceFolder, id}])
	}
	return level
}

// Document returns the effective level on doc.
func (a *Access) Document(doc document.Document) permission.Level {
	if a.Role.AtLeast(organization.RoleAdmin) || doc.OwnerID == a.UserID {
		return permission.LevelManage
	}
	level := a.grants[grantKey{permission.ResourceDocument, doc.ID}]
	level = permission.Max(level, a.folderChain(doc.FolderID))
	if level == permission.LevelNone && doc.FolderID == "" && a.Role == organization.RoleMember {
		level = permission.LevelView
	}
	return level
}

// Folder returns the effective level on a folder.
func (a *Access) Folder(folderID string) permission.Level {
	if a.Role.AtLeast(organization.RoleAdmin) {
		return permission.LevelManage
	}
	return a.folderChain(folderID)
}

// Require turns a level comparison into a caller-facing error. Resources the
// caller cannot even view are reported as not found.
func Require(have, want permission.Level, resource, id string) error {
	if have.Includes(want) && have != permission.LevelNone {
		return nil
	}
	if have == permission.LevelNone {
		return svcerrors.NotFound(resource, id)
	}
	return svcerrors.Forbidden("requires " + string(want) + " access")
}

// Effective loads the resource and returns the caller's level on it.
func (s *Service) Effective(ctx context.Context, orgID, userID string, resourceType permission.ResourceType, resourceID string) (permission.Level, error) {
	a, err := s.Access(ctx, orgID, userID)
	if err != nil {
		return permission.LevelNone, err
	}
	switch resourceType {
	case permission.ResourceDocument:
		doc, err := s.documents.GetDocument(ctx, orgID, resourceID)
		if err != nil {
			if svcerrors.Is(err, storage.ErrNotFound) {
				return permission.LevelNone, svcerrors.NotFound("document", resourceID)
			}
			return permission.LevelNone, err
		}
		return a.Document(doc), nil
	case permission.ResourceFolder:
		if _, err := s.folders.GetFolder(ctx, orgID, resourceID); err != nil {
			if svcerrors.Is(err, storage.ErrNotFound) {
				return permission.LevelNone, svcerrors.NotFound("folder", resourceID)
			}
			return permission.LevelNone, err
		}
		return a.Folder(resourceID), nil
	default:
		return permission.LevelNone, svcerrors.Validationf("unknown resource type %q", resourceType)
	}
}

// Check fails unless the caller holds at least level on the resource.
func (s *Service) Check(ctx context.Context, orgID, userID string, resourceType permission.ResourceType, resourceID string, level permission.Level) error {
	have, err := s.Effective(ctx, orgID, userID, resourceType, resourceID)
	if err != nil {
		return err
	}
	return Require(have, level, string(resourceType), resourceID)
}

// Grant gives targetUserID level on the resource, replacing any earlier
// grant. The caller needs manage access and the target must be a member.
func (s *Service) Grant(ctx context.Context, orgID, actorID string, resourceType permission.ResourceType, resourceID, targetUserID string, level permission.Level) (permission.Grant, error) {
	if !resourceType.Valid() {
		return permission.Grant{}, svcerrors.Validationf("unknown resource type %q", resourceType)
	}
	if !level.Valid() {
		return permission.Grant{}, svcerrors.Validationf("invalid level %q", level)
	}
	if err := s.Check(ctx, orgID, actorID, resourceType, resourceID, permission.LevelManage); err != nil {
		return permission.Grant{}, err
	}
	if _, err := s.orgs.GetMember(ctx, orgID, targetUserID); err != nil {
		if svcerrors.Is(err, storage.ErrNotFound) {
			return permission.Grant{}, svcerrors.Validation("grantee is not a member of the organization")
		}
		return permission.Grant{}, err
	}

	g, err := s.grants.UpsertGrant(ctx, permission.Grant{
		OrganizationID: orgID,
		ResourceType:   resourceType,
		ResourceID:     resourceID,
		UserID:         targetUserID,
		Level:          level,
		CreatedBy:      actorID,
	})
	if err != nil {
		return permission.Grant{}, err
	}
	s.log.WithContext(ctx).
		WithField("organization_id", orgID).
		WithField("resource_type", string(resourceType)).
		WithField("resource_id", resourceID).
		WithField("grantee", targetUserID).
		WithField("level", string(level)).
		Info("permission granted")
	return g, nil
}

// Revoke deletes a grant. The caller needs manage access on its resource.
func (s *Service) Revoke(ctx context.Context, orgID, actorID string, resourceType permission.ResourceType, resourceID, grantID string) error {
	if err := s.Check(ctx, orgID, actorID, resourceType, resourceID, permission.LevelManage); err != nil {
		return err
	}
	grants, err := s.grants.ListGrants(ctx, orgID, resourceType, resourceID)
	if err != nil {
		return err
	}
	for _, g := range grants {
		if g.ID == grantID {
			return s.grants.DeleteGrant(ctx, orgID, grantID)
		}
	}
	return svcerrors.NotFound("grant", grantID)
}

// List returns the grants on a resource. The caller needs view access.
func (s *Service) List(ctx context.Context, orgID, actorID string, resourceType permission.ResourceType, resourceID string) ([]permission.Grant, error) {
	if err := s.Check(ctx, orgID, actorID, resourceType, resourceID, permission.LevelView); err != nil {
		return nil, err
	}
	return s.grants.ListGrants(ctx, orgID, resourceType, resourceID)
}
