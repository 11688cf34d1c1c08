package permissions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/signflow/internal/app/domain/document"
	"github.com/R3E-Network/signflow/internal/app/domain/folder"
	"github.com/R3E-Network/signflow/internal/app/domain/organization"
	"github.com/R3E-Network/signflow/internal/app/domain/permission"
	"github.com/R3E-Network/signflow/internal/app/storage/memory"
	svcerrors "github.com/R3E-Network/signflow/internal/errors"
	"github.com/R3E-Network/signflow/pkg/logger"
)

type world struct {
	svc        *Service
	org        string
	ana        string // owner
	bob        string // member
	vic        string // viewer
	parent     folder.Folder
	child      folder.Folder
	rootDoc    document.Document
	childDoc   document.Document
	bobsDoc    document.Document
	otherOrgID string
}

func newWorld(t *testing.T) world {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	org, err := store.CreateOrganization(ctx, organization.Organization{Name: "Acme", Slug: "acme"})
	require.NoError(t, err)
	other, err := store.CreateOrganization(ctx, organization.Organization{Name: "Other", Slug: "other"})
	require.NoError(t, err)

	w := world{svc: New(store, store, store, store, logger.NewDiscard()), org: org.ID, otherOrgID: other.ID}
	for _, m := range []struct {
		id   *string
		role organization.Role
	}{{&w.ana, organization.RoleOwner}, {&w.bob, organization.RoleMember}, {&w.vic, organization.RoleViewer}} {
		*m.id = string(m.role) + "-user"
		_, err := store.UpsertMember(ctx, organization.Member{OrganizationID: org.ID, UserID: *m.id, Role: m.role})
		require.NoError(t, err)
	}

	w.parent, err = store.CreateFolder(ctx, folder.Folder{OrganizationID: org.ID, Name: "Contracts", CreatedBy: w.ana})
	require.NoError(t, err)
	w.child, err = store.CreateFolder(ctx, folder.Folder{OrganizationID: org.ID, ParentID: w.parent.ID, Name: "2024", CreatedBy: w.ana})
	require.NoError(t, err)

	mk := func(owner, folderID string) document.Document {
		d, err := store.CreateDocument(ctx, document.Document{OrganizationID: org.ID, OwnerID: owner, FolderID: folderID, Name: "d.pdf", Status: document.StatusDraft})
		require.NoError(t, err)
		return d
	}
	w.rootDoc = mk(w.ana, "")
	w.childDoc = mk(w.ana, w.child.ID)
	w.bobsDoc = mk(w.bob, w.child.ID)
	return w
}

func level(t *testing.T, w world, user string, rt permission.ResourceType, id string) permission.Level {
	t.Helper()
	l, err := w.svc.Effective(context.Background(), w.org, user, rt, id)
	require.NoError(t, err)
	return l
}

func TestEffectiveAccessRules(t *testing.T) {
	w := newWorld(t)

	assert.Equal(t, permission.LevelManage, level(t, w, w.ana, permission.ResourceDocument, w.childDoc.ID), "owners manage everything")
	assert.Equal(t, permission.LevelView, level(t, w, w.bob, permission.ResourceDocument, w.rootDoc.ID), "members view root documents")
	assert.Equal(t, permission.LevelNone, level(t, w, w.bob, permission.ResourceDocument, w.childDoc.ID))
	assert.Equal(t, permission.LevelManage, level(t, w, w.bob, permission.ResourceDocument, w.bobsDoc.ID), "document owners manage")
	assert.Equal(t, permission.LevelNone, level(t, w, w.vic, permission.ResourceDocument, w.rootDoc.ID), "viewers need a grant")
}

func TestAncestorGrantsApply(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	_, err := w.svc.Grant(ctx, w.org, w.ana, permission.ResourceFolder, w.parent.ID, w.bob, permission.LevelEdit)
	require.NoError(t, err)
	assert.Equal(t, permission.LevelEdit, level(t, w, w.bob, permission.ResourceDocument, w.childDoc.ID))
	assert.Equal(t, permission.LevelEdit, level(t, w, w.bob, permission.ResourceFolder, w.child.ID))

	_, err = w.svc.Grant(ctx, w.org, w.ana, permission.ResourceDocument, w.childDoc.ID, w.bob, permission.LevelView)
	require.NoError(t, err)
	assert.Equal(t, permission.LevelEdit, level(t, w, w.bob, permission.ResourceDocument, w.childDoc.ID), "highest grant wins")

	_, err = w.svc.Grant(ctx, w.org, w.ana, permission.ResourceDocument, w.childDoc.ID, w.bob, permission.LevelManage)
	require.NoError(t, err)
	grants, err := w.svc.List(ctx, w.org, w.ana, permission.ResourceDocument, w.childDoc.ID)
	require.NoError(t, err)
	require.Len(t, grants, 1, "grant upserts per user")
	assert.Equal(t, permission.LevelManage, grants[0].Level)

	require.NoError(t, w.svc.Revoke(ctx, w.org, w.ana, permission.ResourceDocument, w.childDoc.ID, grants[0].ID))
	err = w.svc.Revoke(ctx, w.org, w.ana, permission.ResourceDocument, w.childDoc.ID, grants[0].ID)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeNotFound))
}

func TestGrantRequiresManageAndMembership(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	_, err := w.svc.Grant(ctx, w.org, w.bob, permission.ResourceDocument, w.rootDoc.ID, w.vic, permission.LevelView)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeForbidden))

	_, err = w.svc.Grant(ctx, w.org, w.ana, permission.ResourceDocument, w.rootDoc.ID, "stranger", permission.LevelView)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeValidation))

	_, err = w.svc.Grant(ctx, w.org, w.ana, permission.ResourceDocument, w.rootDoc.ID, w.vic, "owner")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeValidation))

	err = w.svc.Check(ctx, w.org, w.vic, permission.ResourceDocument, w.rootDoc.ID, permission.LevelView)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeNotFound), "invisible resources look missing")
}

func TestOtherOrganizationsCannotSeeResources(t *testing.T) {
	w := newWorld(t)
	_, err := w.svc.Effective(context.Background(), w.otherOrgID, w.ana, permission.ResourceDocument, w.rootDoc.ID)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeNotFound))
}

func TestFolderChainToleratesCycles(t *testing.T) {
	a := &Access{
		UserID:  "u",
		Role:    organization.RoleMember,
		grants:  map[grantKey]permission.Level{{permission.ResourceFolder, "b"}: permission.LevelView},
		parents: map[string]string{"a": "b", "b": "a"},
	}
	assert.Equal(t, permission.LevelView, a.Folder("a"))
}
