package postgres

import (
	"context"
	"time"

	"github.com/R3E-Network/signflow/internal/app/domain/organization"
)

// --- OrganizationStore ------------------------------------------------------

type orgRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Slug      string    `db:"slug"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (s *Store) CreateOrganization(ctx context.Context, org organization.Organization) (organization.Organization, error) {
	if org.ID == "" {
		org.ID = newID()
	}
	ts := now()
	org.CreatedAt = ts
	org.UpdatedAt = ts

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO organizations (id, name, slug, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, org.ID, org.Name, org.Slug, org.CreatedAt, org.UpdatedAt)
	if err != nil {
		return organization.Organization{}, mapErr("organization", err)
	}
	return org, nil
}

func (s *Store) UpdateOrganization(ctx context.Context, org organization.Organization) (organization.Organization, error) {
	existing, err := s.GetOrganization(ctx, org.ID)
	if err != nil {
		return organization.Organization{}, err
	}
	org.Slug = existing.Slug
	org.CreatedAt = existing.CreatedAt
	org.UpdatedAt = now()

	result, err := s.db.ExecContext(ctx, `
		UPDATE organizations SET name = $2, updated_at = $3 WHERE id = $1
	`, org.ID, org.Name, org.UpdatedAt)
	if err != nil {
		return organization.Organization{}, err
	}
	if err := checkAffected("organization", result); err != nil {
		return organization.Organization{}, err
	}
	return org, nil
}

func (s *Store) GetOrganization(ctx context.Context, id string) (organization.Organization, error) {
	var row orgRow
	if err := s.db.GetContext(ctx, &row, `SELECT id, name, slug, created_at, updated_at FROM organizations WHERE id = $1`, id); err != nil {
		return organization.Organization{}, mapErr("organization", err)
	}
	return organization.Organization(row), nil
}

func (s *Store) GetOrganizationBySlug(ctx context.Context, slug string) (organization.Organization, error) {
	var row orgRow
	if err := s.db.GetContext(ctx, &row, `SELECT id, name, slug, created_at, updated_at FROM organizations WHERE slug = $1`, slug); err != nil {
		return organization.Organization{}, mapErr("organization", err)
	}
	return organization.Organization(row), nil
}

func (s *Store) ListOrganizationsForUser(ctx context.Context, userID string) ([]organization.Organization, error) {
	var rows []orgRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT o.id, o.name, o.slug, o.created_at, o.updated_at
		FROM organizations o
		JOIN organization_members m ON m.organization_id = o.id
		WHERE m.user_id = $1
		ORDER BY o.name
	`, userID)
	if err != nil {
		return nil, err
	}
	result := make([]organization.Organization, 0, len(rows))
	for _, row := range rows {
		result = append(result, organization.Organization(row))
	}
	return result, nil
}

type memberRow struct {
	OrganizationID string    `db:"organization_id"`
	UserID         string    `db:"user_id"`
	Role           string    `db:"role"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (r memberRow) toDomain() organization.Member {
	return organization.Member{
		OrganizationID: r.OrganizationID,
		UserID:         r.UserID,
		Role:           organization.Role(r.Role),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func (s *Store) UpsertMember(ctx context.Context, m organization.Member) (organization.Member, error) {
	ts := now()
	var row memberRow
	err := s.db.GetContext(ctx, &row, `
		INSERT INTO organization_members (organization_id, user_id, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (organization_id, user_id)
		DO UPDATE SET role = EXCLUDED.role, updated_at = EXCLUDED.updated_at
		RETURNING organization_id, user_id, role, created_at, updated_at
	`, m.OrganizationID, m.UserID, string(m.Role), ts)
	if err != nil {
		return organization.Member{}, mapErr("member", err)
	}
	return row.toDomain(), nil
}

func (s *Store) GetMember(ctx context.Context, orgID, userID string) (organization.Member, error) {
	var row memberRow
	err := s.db.GetContext(ctx, &row, `
		SELECT organization_id, user_id, role, created_at, updated_at
		FROM organization_members
		WHERE organization_id = $1 AND user_id = $2
	`, orgID, userID)
	if err != nil {
		return organization.Member{}, mapErr("member", err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListMembers(ctx context.Context, orgID string) ([]organization.Member, error) {
	var rows []memberRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT organization_id, user_id, role, created_at, updated_at
		FROM organization_members
		WHERE organization_id = $1
		ORDER BY created_at
	`, orgID)
	if err != nil {
		return nil, err
	}
	result := make([]organization.Member, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (s *Store) DeleteMember(ctx context.Context, orgID, userID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM organization_members WHERE organization_id = $1 AND user_id = $2
	`, orgID, userID)
	if err != nil {
		return err
	}
	return checkAffected("member", result)
}

type invitationRow struct {
	ID             string     `db:"id"`
	OrganizationID string     `db:"organization_id"`
	Email          string     `db:"email"`
	Role           string     `db:"role"`
	TokenHash      string     `db:"token_hash"`
	InvitedBy      string     `db:"invited_by"`
	ExpiresAt      time.Time  `db:"expires_at"`
	AcceptedAt     *time.Time `db:"accepted_at"`
	CreatedAt      time.Time  `db:"created_at"`
}

func (r invitationRow) toDomain() organization.Invitation {
	return organization.Invitation{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		Email:          r.Email,
		Role:           organization.Role(r.Role),
		TokenHash:      r.TokenHash,
		InvitedBy:      r.InvitedBy,
		ExpiresAt:      r.ExpiresAt,
		AcceptedAt:     r.AcceptedAt,
		CreatedAt:      r.CreatedAt,
	}
}

const invitationColumns = `id, organization_id, email, role, token_hash, invited_by, expires_at, accepted_at, created_at`

func (s *Store) CreateInvitation(ctx context.Context, inv organization.Invitation) (organization.Invitation, error) {
	if inv.ID == "" {
		inv.ID = newID()
	}
	inv.CreatedAt = now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO organization_invitations (`+invitationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, inv.ID, inv.OrganizationID, inv.Email, string(inv.Role), inv.TokenHash, inv.InvitedBy, inv.ExpiresAt, inv.AcceptedAt, inv.CreatedAt)
	if err != nil {
		return organization.Invitation{}, mapErr("invitation", err)
	}
	return inv, nil
}

func (s *Store) GetInvitationByHash(ctx context.Context, tokenHash string) (organization.Invitation, error) {
	var row invitationRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+invitationColumns+` FROM organization_invitations WHERE token_hash = $1`, tokenHash); err != nil {
		return organization.Invitation{}, mapErr("invitation", err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListInvitations(ctx context.Context, orgID string) ([]organization.Invitation, error) {
	var rows []invitationRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+invitationColumns+`
		FROM organization_invitations
		WHERE organization_id = $1
		ORDER BY created_at
	`, orgID)
	if err != nil {
		return nil, err
	}
	result := make([]organization.Invitation, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (s *Store) MarkInvitationAccepted(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE organization_invitations SET accepted_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	return checkAffected("invitation", result)
}
