package folders

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/signflow/internal/app/domain/document"
	"github.com/R3E-Network/signflow/internal/app/domain/organization"
	"github.com/R3E-Network/signflow/internal/app/services/permissions"
	"github.com/R3E-Network/signflow/internal/app/storage/memory"
	svcerrors "github.com/R3E-Network/signflow/internal/errors"
	"github.com/R3E-Network/signflow/pkg/logger"
)

type fixture struct {
	svc   *Service
	store *memory.Store
	org   string
}

const (
	owner  = "owner"
	member = "member"
	viewer = "viewer"
)

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	org, err := store.CreateOrganization(ctx, organization.Organization{Name: "Acme", Slug: "acme"})
	require.NoError(t, err)
	for id, role := range map[string]organization.Role{owner: organization.RoleOwner, member: organization.RoleMember, viewer: organization.RoleViewer} {
		_, err := store.UpsertMember(ctx, organization.Member{OrganizationID: org.ID, UserID: id, Role: role})
		require.NoError(t, err)
	}
	perms := permissions.New(store, store, store, store, logger.NewDiscard())
	return fixture{svc: New(store, store, store, perms, nil, logger.NewDiscard()), store: store, org: org.ID}
}

func TestCreateEnforcesSiblingUniqueness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	contracts, err := f.svc.Create(ctx, f.org, owner, "", "Contracts")
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, f.org, owner, "", "contracts")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeConflict))

	_, err = f.svc.Create(ctx, f.org, owner, contracts.ID, "Contracts")
	require.NoError(t, err, "same name under a different parent is fine")

	_, err = f.svc.Create(ctx, f.org, owner, "", "  ")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeValidation))
	_, err = f.svc.Create(ctx, f.org, owner, "", "a/b")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeValidation))
	_, err = f.svc.Create(ctx, f.org, viewer, "", "Mine")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeForbidden))
}

func TestMemberCreatorCanManageOwnFolder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mine, err := f.svc.Create(ctx, f.org, member, "", "Mine")
	require.NoError(t, err)
	renamed, err := f.svc.Rename(ctx, f.org, member, mine.ID, "Ours")
	require.NoError(t, err)
	assert.Equal(t, "Ours", renamed.Name)

	theirs, err := f.svc.Create(ctx, f.org, owner, "", "Theirs")
	require.NoError(t, err)
	_, err = f.svc.Rename(ctx, f.org, member, theirs.ID, "Hijacked")
	require.Error(t, err)
}

func TestMoveRejectsCycles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.Create(ctx, f.org, owner, "", "A")
	require.NoError(t, err)
	b, err := f.svc.Create(ctx, f.org, owner, a.ID, "B")
	require.NoError(t, err)
	c, err := f.svc.Create(ctx, f.org, owner, b.ID, "C")
	require.NoError(t, err)

	_, err = f.svc.Move(ctx, f.org, owner, a.ID, c.ID)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeValidation))
	_, err = f.svc.Move(ctx, f.org, owner, a.ID, a.ID)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeValidation))

	moved, err := f.svc.Move(ctx, f.org, owner, c.ID, "")
	require.NoError(t, err)
	assert.Empty(t, moved.ParentID)

	path, err := f.svc.Path(ctx, f.org, owner, b.ID)
	require.NoError(t, err)
	require.Len(t, path, 2)
	assert.Equal(t, a.ID, path[0].ID)
	assert.Equal(t, b.ID, path[1].ID)
}

func TestListShowsChildrenOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.svc.Create(ctx, f.org, owner, "", "A")
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, f.org, owner, a.ID, "B")
	require.NoError(t, err)

	root, err := f.svc.List(ctx, f.org, member, "")
	require.NoError(t, err)
	require.Len(t, root, 1)
	assert.Equal(t, "A", root[0].Name)

	hidden, err := f.svc.List(ctx, f.org, viewer, "")
	require.NoError(t, err)
	assert.Empty(t, hidden, "viewers only see granted folders")

	_, err = f.svc.List(ctx, f.org, "stranger", "")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeNotFound))
}

func TestDeleteEmptyAndRecursive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.Create(ctx, f.org, owner, "", "A")
	require.NoError(t, err)
	b, err := f.svc.Create(ctx, f.org, owner, a.ID, "B")
	require.NoError(t, err)
	doc, err := f.store.CreateDocument(ctx, document.Document{OrganizationID: f.org, OwnerID: owner, FolderID: b.ID, Name: "x.pdf", Status: document.StatusDraft})
	require.NoError(t, err)

	err = f.svc.Delete(ctx, f.org, owner, a.ID, false)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeState))
	err = f.svc.Delete(ctx, f.org, owner, b.ID, false)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeState), "documents keep a folder non-empty")

	require.NoError(t, f.svc.Delete(ctx, f.org, owner, a.ID, true))

	_, err = f.svc.Get(ctx, f.org, owner, b.ID)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeNotFound))
	moved, err := f.store.GetDocument(ctx, f.org, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, moved.FolderID, "documents move to the root")

	empty, err := f.svc.Create(ctx, f.org, owner, "", "Empty")
	require.NoError(t, err)
	require.NoError(t, f.svc.Delete(ctx, f.org, owner, empty.ID, false))
}
