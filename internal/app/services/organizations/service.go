package organizations

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/juju/clock"

	"github.com/R3E-Network/signflow/internal/app/domain/notification"
	"github.com/R3E-Network/signflow/internal/app/domain/organization"
	"github.com/R3E-Network/signflow/internal/app/storage"
	svcerrors "github.com/R3E-Network/signflow/internal/errors"
	"github.com/R3E-Network/signflow/pkg/logger"
)

const maxSlugAttempts = 20

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Notifier queues outbound email.
type Notifier interface {
	Enqueue(ctx context.Context, orgID string, kind notification.Kind, to string, data map[string]any) (notification.Message, error)
}

// Config holds invitation settings.
type Config struct {
	InviteTTL time.Duration
	PublicURL string
}

// MemberDetail is a membership joined with the member's profile.
type MemberDetail struct {
	organization.Member
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Service manages organizations, their members and invitations. RequireRole
// is the tenant access check every other service relies on.
type Service struct {
	store    storage.OrganizationStore
	users    storage.UserStore
	notifier Notifier
	clock    clock.Clock
	cfg      Config
	log      *logger.Logger
}

// New constructs an organization service.
func New(store storage.OrganizationStore, users storage.UserStore, notifier Notifier, cfg Config, clk clock.Clock, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("organizations")
	}
	if clk == nil {
		clk = clock.WallClock
	}
	if cfg.InviteTTL <= 0 {
		cfg.InviteTTL = 7 * 24 * time.Hour
	}
	return &Service{store: store, users: users, notifier: notifier, clock: clk, cfg: cfg, log: log}
}

// Slugify lowercases name and joins its alphanumeric runs with dashes.
func Slugify(name string) string {
	slug := nonSlug.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > 48 {
		slug = strings.TrimRight(slug[:48], "-")
	}
	return slug
}

// RequireRole returns the caller's membership if it is at least min. Callers
// outside the organization get not found so foreign ids are not confirmed.
func (s *Service) RequireRole(ctx context.Context, orgID, userID string, min organization.Role) (organization.Member, error) {
	m, err := s.store.GetMember(ctx, orgID, userID)
	if err != nil {
		if svcerrors.Is(err, storage.ErrNotFound) {
			return organization.Member{}, svcerrors.NotFound("organization", orgID)
		}
		return organization.Member{}, err
	}
	if !m.Role.AtLeast(min) {
		return organization.Member{}, svcerrors.Forbidden(fmt.Sprintf("requires %s role", min))
	}
	return m, nil
}

// Create makes a new organization owned by userID.
func (s *Service) Create(ctx context.Context, userID, name string) (organization.Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return organization.Organization{}, svcerrors.Validation("name is required")
	}
	base := Slugify(name)
	if base == "" {
		base = "org"
	}

	var org organization.Organization
	var err error
	for attempt := 1; attempt <= maxSlugAttempts; attempt++ {
		slug := base
		if attempt > 1 {
			slug = fmt.Sprintf("%s-%d", base, attempt)
		}
		org, err = s.store.CreateOrganization(ctx, organization.Organization{Name: name, Slug: slug})
		if err == nil {
			break
		}
		if !svcerrors.Is(err, storage.ErrDuplicate) {
			return organization.Organization{}, err
		}
	}
	if err != nil {
		return organization.Organization{}, svcerrors.Conflict("could not allocate a unique slug")
	}

	if _, err := s.store.UpsertMember(ctx, organization.Member{
		OrganizationID: org.ID,
		UserID:         userID,
		Role:           organization.RoleOwner,
	}); err != nil {
		return organization.Organization{}, err
	}
	s.log.WithContext(ctx).
		WithField("organization_id", org.ID).
		WithField("slug", org.Slug).
		Info("organization created")
	return org, nil
}

// Get returns an organization the caller belongs to.
func (s *Service) Get(ctx context.Context, orgID, userID string) (organization.Organization, error) {
	if _, err := s.RequireRole(ctx, orgID, userID, organization.RoleViewer); err != nil {
		return organization.Organization{}, err
	}
	return s.store.GetOrganization(ctx, orgID)
}

// ListForUser returns every organization the user belongs to.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]organization.Organization, error) {
	return s.store.ListOrganizationsForUser(ctx, userID)
}

// Update renames an organization. The slug is left unchanged so links keep
// working.
func (s *Service) Update(ctx context.Context, orgID, userID, name string) (organization.Organization, error) {
	if _, err := s.RequireRole(ctx, orgID, userID, organization.RoleAdmin); err != nil {
		return organization.Organization{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return organization.Organization{}, svcerrors.Validation("name is required")
	}
	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return organization.Organization{}, err
	}
	org.Name = name
	return s.store.UpdateOrganization(ctx, org)
}

// ListMembers returns the organization's members with their profiles.
func (s *Service) ListMembers(ctx context.Context, orgID, userID string) ([]MemberDetail, error) {
	if _, err := s.RequireRole(ctx, orgID, userID, organization.RoleViewer); err != nil {
		return nil, err
	}
	members, err := s.store.ListMembers(ctx, orgID)
	if err != nil {
		return nil, err
	}
	out := make([]MemberDetail, 0, len(members))
	for _, m := range members {
		detail := MemberDetail{Member: m}
		if u, err := s.users.GetUser(ctx, m.UserID); err == nil {
			detail.Email = u.Email
			detail.Name = u.Name
		}
		out = append(out, detail)
	}
	return out, nil
}

func (s *Service) countOwners(ctx context.Context, orgID string) (int, error) {
	members, err := s.store.ListMembers(ctx, orgID)
	if err != nil {
		return 0, err
	}
	owners := 0
	for _, m := range members {
		if m.Role == organization.RoleOwner {
			owners++
		}
	}
	return owners, nil
}

// UpdateMemberRole changes a member's role. Only owners may grant or revoke
// ownership, and the last owner cannot be demoted.
func (s *Service) UpdateMemberRole(ctx context.Context, orgID, actorID, targetID string, role organization.Role) (organization.Member, error) {
	actor, err := s.RequireRole(ctx, orgID, actorID, organization.RoleAdmin)
	if err != nil {
		return organization.Member{}, err
	}
	if !role.Valid() {
		return organization.Member{}, svcerrors.Validationf("invalid role %q", role)
	}
	target, err := s.store.GetMember(ctx, orgID, targetID)
	if err != nil {
		if svcerrors.Is(err, storage.ErrNotFound) {
			return organization.Member{}, svcerrors.NotFound("member", targetID)
		}
		return organization.Member{}, err
	}
	if (role == organization.RoleOwner || target.Role == organization.RoleOwner) && actor.Role != organization.RoleOwner {
		return organization.Member{}, svcerrors.Forbidden("only owners can change ownership")
	}
	if target.Role == organization.RoleOwner && role != organization.RoleOwner {
		owners, err := s.countOwners(ctx, orgID)
		if err != nil {
			return organization.Member{}, err
		}
		if owners <= 1 {
			return organization.Member{}, svcerrors.InvalidState("the last owner cannot be demoted")
		}
	}

	target.Role = role
	updated, err := s.store.UpsertMember(ctx, target)
	if err != nil {
		return organization.Member{}, err
	}
	s.log.WithContext(ctx).
		WithField("organization_id", orgID).
		WithField("member_id", targetID).
		WithField("role", string(role)).
		Info("member role updated")
	return updated, nil
}

// RemoveMember removes targetID. Members may always remove themselves; the
// last owner can never be removed.
func (s *Service) RemoveMember(ctx context.Context, orgID, actorID, targetID string) error {
	min := organization.RoleAdmin
	if actorID == targetID {
		min = organization.RoleViewer
	}
	actor, err := s.RequireRole(ctx, orgID, actorID, min)
	if err != nil {
		return err
	}
	target, err := s.store.GetMember(ctx, orgID, targetID)
	if err != nil {
		if svcerrors.Is(err, storage.ErrNotFound) {
			return svcerrors.NotFound("member", targetID)
		}
		return err
	}
	if target.Role == organization.RoleOwner {
		if actor.Role != organization.RoleOwner {
			return svcerrors.Forbidden("only owners can remove an owner")
		}
		owners, err := s.countOwners(ctx, orgID)
		if err != nil {
			return err
		}
		if owners <= 1 {
			return svcerrors.InvalidState("the last owner cannot be removed")
		}
	}
	if err := s.store.DeleteMember(ctx, orgID, targetID); err != nil {
		return err
	}
	s.log.WithContext(ctx).
		WithField("organization_id", orgID).
		WithField("member_id", targetID).
		Info("member removed")
	return nil
}
