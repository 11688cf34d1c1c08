package memory

import (
	"context"
	"sort"
	"time"

	"github.com/R3E-Network/signflow/internal/app/domain/organization"
)

// OrganizationStore implementation -------------------------------------------

func (s *Store) CreateOrganization(_ context.Context, org organization.Organization) (organization.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.orgs {
		if existing.Slug == org.Slug {
			return organization.Organization{}, duplicate("organization", org.Slug)
		}
	}
	if org.ID == "" {
		org.ID = s.nextIDLocked()
	}
	ts := now()
	org.CreatedAt = ts
	org.UpdatedAt = ts
	s.orgs[org.ID] = org
	return org, nil
}

func (s *Store) UpdateOrganization(_ context.Context, org organization.Organization) (organization.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.orgs[org.ID]
	if !ok {
		return organization.Organization{}, notFound("organization", org.ID)
	}
	org.Slug = original.Slug
	org.CreatedAt = original.CreatedAt
	org.UpdatedAt = now()
	s.orgs[org.ID] = org
	return org, nil
}

func (s *Store) GetOrganization(_ context.Context, id string) (organization.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	org, ok := s.orgs[id]
	if !ok {
		return organization.Organization{}, notFound("organization", id)
	}
	return org, nil
}

func (s *Store) GetOrganizationBySlug(_ context.Context, slug string) (organization.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, org := range s.orgs {
		if org.Slug == slug {
			return org, nil
		}
	}
	return organization.Organization{}, notFound("organization", slug)
}

func (s *Store) ListOrganizationsForUser(_ context.Context, userID string) ([]organization.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]organization.Organization, 0)
	for orgID, members := range s.members {
		if _, ok := members[userID]; ok {
			result = append(result, s.orgs[orgID])
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (s *Store) UpsertMember(_ context.Context, m organization.Member) (organization.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orgs[m.OrganizationID]; !ok {
		return organization.Member{}, notFound("organization", m.OrganizationID)
	}
	members := s.members[m.OrganizationID]
	if members == nil {
		members = make(map[string]organization.Member)
		s.members[m.OrganizationID] = members
	}
	ts := now()
	if existing, ok := members[m.UserID]; ok {
		m.CreatedAt = existing.CreatedAt
	} else {
		m.CreatedAt = ts
	}
	m.UpdatedAt = ts
	members[m.UserID] = m
	return m, nil
}

func (s *Store) GetMember(_ context.Context, orgID, userID string) (organization.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.members[orgID][userID]
	if !ok {
		return organization.Member{}, notFound("member", userID)
	}
	return m, nil
}

func (s *Store) ListMembers(_ context.Context, orgID string) ([]organization.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]organization.Member, 0, len(s.members[orgID]))
	for _, m := range s.members[orgID] {
		result = append(result, m)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) DeleteMember(_ context.Context, orgID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.members[orgID][userID]; !ok {
		return notFound("member", userID)
	}
	delete(s.members[orgID], userID)
	return nil
}

func (s *Store) CreateInvitation(_ context.Context, inv organization.Invitation) (organization.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if inv.ID == "" {
		inv.ID = s.nextIDLocked()
	}
	inv.CreatedAt = now()
	s.invitations[inv.ID] = inv
	return inv, nil
}

func (s *Store) GetInvitationByHash(_ context.Context, tokenHash string) (organization.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, inv := range s.invitations {
		if inv.TokenHash == tokenHash {
			inv.AcceptedAt = cloneTime(inv.AcceptedAt)
			return inv, nil
		}
	}
	return organization.Invitation{}, notFound("invitation", "token")
}

func (s *Store) ListInvitations(_ context.Context, orgID string) ([]organization.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]organization.Invitation, 0)
	for _, inv := range s.invitations {
		if inv.OrganizationID == orgID {
			inv.AcceptedAt = cloneTime(inv.AcceptedAt)
			result = append(result, inv)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) MarkInvitationAccepted(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invitations[id]
	if !ok {
		return notFound("invitation", id)
	}
	inv.AcceptedAt = &at
	s.invitations[id] = inv
	return nil
}
