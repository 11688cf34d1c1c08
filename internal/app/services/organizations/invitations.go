package organizations

import (
	"context"
	"net/mail"
	"strings"

	"github.com/R3E-Network/signflow/internal/app/domain/notification"
	"github.com/R3E-Network/signflow/internal/app/domain/organization"
	"github.com/R3E-Network/signflow/internal/app/services/auth"
	"github.com/R3E-Network/signflow/internal/app/storage"
	svcerrors "github.com/R3E-Network/signflow/internal/errors"
)

// Invite emails a membership offer. Admins may invite up to admin; only
// owners may invite owners.
func (s *Service) Invite(ctx context.Context, orgID, inviterID, email string, role organization.Role) (organization.Invitation, error) {
	inviter, err := s.RequireRole(ctx, orgID, inviterID, organization.RoleAdmin)
	if err != nil {
		return organization.Invitation{}, err
	}
	email = auth.NormalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return organization.Invitation{}, svcerrors.Validation("a valid email is required")
	}
	if role == "" {
		role = organization.RoleMember
	}
	if !role.Valid() {
		return organization.Invitation{}, svcerrors.Validationf("invalid role %q", role)
	}
	if role == organization.RoleOwner && inviter.Role != organization.RoleOwner {
		return organization.Invitation{}, svcerrors.Forbidden("only owners can invite owners")
	}
	if existing, err := s.users.GetUserByEmail(ctx, email); err == nil {
		if _, err := s.store.GetMember(ctx, orgID, existing.ID); err == nil {
			return organization.Invitation{}, svcerrors.Conflict("user is already a member")
		}
	}

	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return organization.Invitation{}, err
	}
	token, err := auth.NewToken()
	if err != nil {
		return organization.Invitation{}, svcerrors.Internal("generate token", err)
	}
	inv, err := s.store.CreateInvitation(ctx, organization.Invitation{
		OrganizationID: orgID,
		Email:          email,
		Role:           role,
		TokenHash:      auth.HashToken(token),
		InvitedBy:      inviterID,
		ExpiresAt:      s.clock.Now().UTC().Add(s.cfg.InviteTTL),
	})
	if err != nil {
		return organization.Invitation{}, err
	}

	if s.notifier != nil {
		inviterName := inviterID
		if u, err := s.users.GetUser(ctx, inviterID); err == nil {
			inviterName = u.Name
		}
		if _, err := s.notifier.Enqueue(ctx, orgID, notification.KindInvitation, email, map[string]any{
			"Inviter":      inviterName,
			"Organization": org.Name,
			"Role":         string(role),
			"Link":         strings.TrimRight(s.cfg.PublicURL, "/") + "/invitations/accept?token=" + token,
			"ExpiresAt":    inv.ExpiresAt,
		}); err != nil {
			return organization.Invitation{}, err
		}
	}
	s.log.WithContext(ctx).
		WithField("organization_id", orgID).
		WithField("invitation_id", inv.ID).
		Info("invitation sent")
	return inv, nil
}

// ListInvitations returns the organization's invitations.
func (s *Service) ListInvitations(ctx context.Context, orgID, userID string) ([]organization.Invitation, error) {
	if _, err := s.RequireRole(ctx, orgID, userID, organization.RoleAdmin); err != nil {
		return nil, err
	}
	return s.store.ListInvitations(ctx, orgID)
}

// AcceptInvitation consumes an invitation token for userID. The invitation
// email must match the user's email.
func (s *Service) AcceptInvitation(ctx context.Context, token, userID string) (organization.Member, error) {
	inv, err := s.store.GetInvitationByHash(ctx, auth.HashToken(token))
	if err != nil {
		if svcerrors.Is(err, storage.ErrNotFound) {
			return organization.Member{}, svcerrors.InvalidToken(nil)
		}
		return organization.Member{}, err
	}
	now := s.clock.Now().UTC()
	if inv.AcceptedAt != nil {
		return organization.Member{}, svcerrors.Gone("invitation already accepted")
	}
	if !now.Before(inv.ExpiresAt) {
		return organization.Member{}, svcerrors.Gone("invitation expired")
	}

	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return organization.Member{}, err
	}
	if !strings.EqualFold(u.Email, inv.Email) {
		return organization.Member{}, svcerrors.Forbidden("invitation was sent to a different email")
	}

	role := inv.Role
	if existing, err := s.store.GetMember(ctx, inv.OrganizationID, userID); err == nil && existing.Role.AtLeast(role) {
		role = existing.Role
	}
	member, err := s.store.UpsertMember(ctx, organization.Member{
		OrganizationID: inv.OrganizationID,
		UserID:         userID,
		Role:           role,
	})
	if err != nil {
		return organization.Member{}, err
	}
	if err := s.store.MarkInvitationAccepted(ctx, inv.ID, now); err != nil {
		return organization.Member{}, err
	}
	s.log.WithContext(ctx).
		WithField("organization_id", inv.OrganizationID).
		WithField("user_id", userID).
		Info("invitation accepted")
	return member, nil
}
