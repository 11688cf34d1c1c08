package audit

import (
	"context"
	"strings"

	"github.com/R3E-Network/signflow/internal/app/domain/audit"
	"github.com/R3E-Network/signflow/internal/app/storage"
	svcerrors "github.com/R3E-Network/signflow/internal/errors"
	"github.com/R3E-Network/signflow/pkg/logger"
)

// Service records audit events and fans them out to live subscribers.
type Service struct {
	store storage.AuditStore
	hub   *Hub
	log   *logger.Logger
}

// New constructs an audit service. A nil hub disables live fan-out.
func New(store storage.AuditStore, hub *Hub, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("audit")
	}
	return &Service{store: store, hub: hub, log: log}
}

// Hub returns the live event hub.
func (s *Service) Hub() *Hub { return s.hub }

// Record persists an event and publishes it. Failures are logged and
// returned; callers on a workflow path usually only log them.
func (s *Service) Record(ctx context.Context, e audit.Event) (audit.Event, error) {
	e.Action = strings.TrimSpace(e.Action)
	if e.OrganizationID == "" || e.Action == "" {
		return audit.Event{}, svcerrors.Validation("organization_id and action are required")
	}
	if e.ActorType == "" {
		e.ActorType = audit.ActorSystem
	}

	saved, err := s.store.CreateEvent(ctx, e)
	if err != nil {
		s.log.WithContext(ctx).WithError(err).
			WithField("action", e.Action).
			WithField("organization_id", e.OrganizationID).
			Error("record audit event failed")
		return audit.Event{}, err
	}
	if s.hub != nil {
		s.hub.Publish(saved)
	}
	return saved, nil
}

// List returns the organization's events, newest first.
func (s *Service) List(ctx context.Context, orgID string, filter audit.Filter) ([]audit.Event, error) {
	if filter.Limit < 0 || filter.Limit > 1000 {
		filter.Limit = 1000
	}
	return s.store.ListEvents(ctx, orgID, filter)
}
