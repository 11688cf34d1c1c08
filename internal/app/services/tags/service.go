package tags

import (
	"context"
	"regexp"
	"strings"

	"github.com/R3E-Network/signflow/internal/app/domain/organization"
	"github.com/R3E-Network/signflow/internal/app/domain/tag"
	"github.com/R3E-Network/signflow/internal/app/storage"
	svcerrors "github.com/R3E-Network/signflow/internal/errors"
	"github.com/R3E-Network/signflow/pkg/logger"
)

var colorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// Palette supplies default colors, assigned round-robin by tag count.
var Palette = []string{
	"#2563EB", "#16A34A", "#DC2626", "#D97706",
	"#7C3AED", "#0891B2", "#DB2777", "#4B5563",
}

// RoleChecker is the tenant access check.
type RoleChecker interface {
	RequireRole(ctx context.Context, orgID, userID string, min organization.Role) (organization.Member, error)
}

// Service manages organization tags.
type Service struct {
	store storage.TagStore
	orgs  RoleChecker
	log   *logger.Logger
}

// New constructs a tag service.
func New(store storage.TagStore, orgs RoleChecker, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("tags")
	}
	return &Service{store: store, orgs: orgs, log: log}
}

func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", svcerrors.Validation("name is required")
	}
	if len(name) > 64 {
		return "", svcerrors.Validation("name must be at most 64 characters")
	}
	return name, nil
}

func normalizeColor(color string) (string, error) {
	color = strings.TrimSpace(color)
	if !colorPattern.MatchString(color) {
		return "", svcerrors.Validation("color must be #RRGGBB")
	}
	return strings.ToUpper(color), nil
}

func mapStoreErr(err error, id string) error {
	switch {
	case svcerrors.Is(err, storage.ErrNotFound):
		return svcerrors.NotFound("tag", id)
	case svcerrors.Is(err, storage.ErrDuplicate):
		return svcerrors.Conflict("a tag with that name already exists")
	}
	return err
}

// Create adds a tag. Names are unique per organization ignoring case. An
// empty color picks the next palette entry.
func (s *Service) Create(ctx context.Context, orgID, userID, name, color string) (tag.Tag, error) {
	if _, err := s.orgs.RequireRole(ctx, orgID, userID, organization.RoleMember); err != nil {
		return tag.Tag{}, err
	}
	name, err := cleanName(name)
	if err != nil {
		return tag.Tag{}, err
	}
	existing, err := s.store.ListTags(ctx, orgID)
	if err != nil {
		return tag.Tag{}, err
	}
	for _, t := range existing {
		if strings.EqualFold(t.Name, name) {
			return tag.Tag{}, svcerrors.Conflict("a tag with that name already exists")
		}
	}
	if color == "" {
		color = Palette[len(existing)%len(Palette)]
	}
	if color, err = normalizeColor(color); err != nil {
		return tag.Tag{}, err
	}

	t, err := s.store.CreateTag(ctx, tag.Tag{OrganizationID: orgID, Name: name, Color: color})
	if err != nil {
		return tag.Tag{}, mapStoreErr(err, "")
	}
	s.log.WithContext(ctx).WithField("tag_id", t.ID).WithField("organization_id", orgID).Info("tag created")
	return t, nil
}

// Update changes name and/or color. Nil leaves a field unchanged.
func (s *Service) Update(ctx context.Context, orgID, userID, id string, name, color *string) (tag.Tag, error) {
	if _, err := s.orgs.RequireRole(ctx, orgID, userID, organization.RoleMember); err != nil {
		return tag.Tag{}, err
	}
	t, err := s.store.GetTag(ctx, orgID, id)
	if err != nil {
		return tag.Tag{}, mapStoreErr(err, id)
	}
	if name != nil {
		if t.Name, err = cleanName(*name); err != nil {
			return tag.Tag{}, err
		}
	}
	if color != nil {
		if t.Color, err = normalizeColor(*color); err != nil {
			return tag.Tag{}, err
		}
	}
	t, err = s.store.UpdateTag(ctx, t)
	if err != nil {
		return tag.Tag{}, mapStoreErr(err, id)
	}
	return t, nil
}

// Get returns one tag.
func (s *Service) Get(ctx context.Context, orgID, userID, id string) (tag.Tag, error) {
	if _, err := s.orgs.RequireRole(ctx, orgID, userID, organization.RoleViewer); err != nil {
		return tag.Tag{}, err
	}
	t, err := s.store.GetTag(ctx, orgID, id)
	if err != nil {
		return tag.Tag{}, mapStoreErr(err, id)
	}
	return t, nil
}

// List returns the organization's tags.
func (s *Service) List(ctx context.Context, orgID, userID string) ([]tag.Tag, error) {
	if _, err := s.orgs.RequireRole(ctx, orgID, userID, organization.RoleViewer); err != nil {
		return nil, err
	}
	return s.store.ListTags(ctx, orgID)
}

// Delete removes a tag and detaches it from every document. Admin only.
func (s *Service) Delete(ctx context.Context, orgID, userID, id string) error {
	if _, err := s.orgs.RequireRole(ctx, orgID, userID, organization.RoleAdmin); err != nil {
		return err
	}
	if err := s.store.DeleteTag(ctx, orgID, id); err != nil {
		return mapStoreErr(err, id)
	}
	s.log.WithContext(ctx).WithField("tag_id", id).WithField("organization_id", orgID).Info("tag deleted")
	return nil
}
