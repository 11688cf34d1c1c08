package tags

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/signflow/internal/app/domain/document"
	"github.com/R3E-Network/signflow/internal/app/domain/organization"
	"github.com/R3E-Network/signflow/internal/app/storage/memory"
	svcerrors "github.com/R3E-Network/signflow/internal/errors"
	"github.com/R3E-Network/signflow/pkg/logger"
)

type memberRoles map[string]organization.Role

func (m memberRoles) RequireRole(_ context.Context, orgID, userID string, min organization.Role) (organization.Member, error) {
	role, ok := m[userID]
	if !ok {
		return organization.Member{}, svcerrors.NotFound("organization", orgID)
	}
	if !role.AtLeast(min) {
		return organization.Member{}, svcerrors.Forbidden("")
	}
	return organization.Member{OrganizationID: orgID, UserID: userID, Role: role}, nil
}

var roles = memberRoles{"admin": organization.RoleAdmin, "member": organization.RoleMember, "viewer": organization.RoleViewer}

func TestCreateValidatesAndDefaultsColor(t *testing.T) {
	svc := New(memory.New(), roles, logger.NewDiscard())
	ctx := context.Background()

	first, err := svc.Create(ctx, "org", "member", "Urgent", "")
	require.NoError(t, err)
	assert.Equal(t, Palette[0], first.Color)

	second, err := svc.Create(ctx, "org", "member", "Legal", "#a1b2c3")
	require.NoError(t, err)
	assert.Equal(t, "#A1B2C3", second.Color)

	third, err := svc.Create(ctx, "org", "member", "HR", "")
	require.NoError(t, err)
	assert.Equal(t, Palette[2], third.Color)

	_, err = svc.Create(ctx, "org", "member", "urgent", "")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeConflict))

	for _, bad := range []string{"red", "#12345", "#GGGGGG", "123456"} {
		_, err = svc.Create(ctx, "org", "member", "Bad "+bad, bad)
		assert.True(t, svcerrors.HasCode(err, svcerrors.CodeValidation), bad)
	}

	_, err = svc.Create(ctx, "org", "viewer", "Nope", "")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeForbidden))

	_, err = svc.Create(ctx, "other-org", "member", "Other", "")
	require.NoError(t, err, "names are unique per organization only")
	_, err = svc.Create(ctx, "other-org", "member", "urgent", "")
	require.NoError(t, err)
}

func TestUpdateAndDeleteDetaches(t *testing.T) {
	store := memory.New()
	svc := New(store, roles, logger.NewDiscard())
	ctx := context.Background()

	tg, err := svc.Create(ctx, "org", "member", "Urgent", "")
	require.NoError(t, err)

	name := "Critical"
	updated, err := svc.Update(ctx, "org", "member", tg.ID, &name, nil)
	require.NoError(t, err)
	assert.Equal(t, "Critical", updated.Name)
	assert.Equal(t, tg.Color, updated.Color)

	bad := "blue"
	_, err = svc.Update(ctx, "org", "member", tg.ID, nil, &bad)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeValidation))

	doc, err := store.CreateDocument(ctx, document.Document{OrganizationID: "org", OwnerID: "member", Name: "a.pdf", Status: document.StatusDraft})
	require.NoError(t, err)
	require.NoError(t, store.AddDocumentTag(ctx, "org", doc.ID, tg.ID))

	err = svc.Delete(ctx, "org", "member", tg.ID)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeForbidden))
	require.NoError(t, svc.Delete(ctx, "org", "admin", tg.ID))

	reloaded, err := store.GetDocument(ctx, "org", doc.ID)
	require.NoError(t, err)
	assert.Empty(t, reloaded.TagIDs)

	_, err = svc.Get(ctx, "org", "member", tg.ID)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeNotFound))
}
