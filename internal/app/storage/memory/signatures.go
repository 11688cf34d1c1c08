package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/R3E-Network/signflow/internal/app/domain/audit"
	"github.com/R3E-Network/signflow/internal/app/domain/notification"
	"github.com/R3E-Network/signflow/internal/app/domain/permission"
	"github.com/R3E-Network/signflow/internal/app/domain/signature"
	"github.com/R3E-Network/signflow/internal/app/storage"
)

// PermissionStore implementation ----------------------------------------------

func (s *Store) UpsertGrant(_ context.Context, g permission.Grant) (permission.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := now()
	for id, existing := range s.grants {
		if existing.OrganizationID == g.OrganizationID && existing.ResourceType == g.ResourceType &&
			existing.ResourceID == g.ResourceID && existing.UserID == g.UserID {
			existing.Level = g.Level
			existing.CreatedBy = g.CreatedBy
			existing.UpdatedAt = ts
			s.grants[id] = existing
			return existing, nil
		}
	}
	if g.ID == "" {
		g.ID = s.nextIDLocked()
	}
	g.CreatedAt = ts
	g.UpdatedAt = ts
	s.grants[g.ID] = g
	return g, nil
}

func (s *Store) DeleteGrant(_ context.Context, orgID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.grants[id]
	if !ok || g.OrganizationID != orgID {
		return notFound("grant", id)
	}
	delete(s.grants, id)
	return nil
}

func (s *Store) ListGrants(_ context.Context, orgID string, resourceType permission.ResourceType, resourceID string) ([]permission.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]permission.Grant, 0)
	for _, g := range s.grants {
		if g.OrganizationID == orgID && g.ResourceType == resourceType && g.ResourceID == resourceID {
			result = append(result, g)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) ListUserGrants(_ context.Context, orgID, userID string) ([]permission.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]permission.Grant, 0)
	for _, g := range s.grants {
		if g.OrganizationID == orgID && g.UserID == userID {
			result = append(result, g)
		}
	}
	return result, nil
}

// SignatureStore implementation -----------------------------------------------

func (s *Store) CreateRequest(_ context.Context, req signature.Request, participants []signature.Participant, fields []signature.Field) (signature.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range participants {
		if p.TokenHash == "" {
			return signature.Request{}, fmt.Errorf("participant %s has no token hash", p.Email)
		}
		for _, existing := range s.participants {
			if existing.TokenHash == p.TokenHash {
				return signature.Request{}, duplicate("participant token", "")
			}
		}
	}

	if req.ID == "" {
		req.ID = s.nextIDLocked()
	}
	ts := now()
	req.CreatedAt = ts
	req.UpdatedAt = ts
	req.Version = 1
	s.requests[req.ID] = cloneRequest(req)

	ids := make(map[string]string, len(participants))
	for _, p := range participants {
		provisional := p.ID
		p.ID = s.nextIDLocked()
		p.RequestID = req.ID
		p.CreatedAt = ts
		p.UpdatedAt = ts
		if provisional != "" {
			ids[provisional] = p.ID
		}
		s.participants[p.ID] = cloneParticipant(p)
	}
	for _, f := range fields {
		f.ID = s.nextIDLocked()
		f.RequestID = req.ID
		if mapped, ok := ids[f.ParticipantID]; ok {
			f.ParticipantID = mapped
		}
		s.fields[f.ID] = f
	}
	return cloneRequest(req), nil
}

func (s *Store) UpdateRequest(_ context.Context, req signature.Request) (signature.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.requests[req.ID]
	if !ok || original.OrganizationID != req.OrganizationID {
		return signature.Request{}, notFound("signature request", req.ID)
	}
	if original.Version != req.Version {
		return signature.Request{}, fmt.Errorf("signature request %s: %w", req.ID, storage.ErrVersionConflict)
	}
	req.CreatedAt = original.CreatedAt
	req.UpdatedAt = now()
	req.Version = original.Version + 1
	s.requests[req.ID] = cloneRequest(req)
	return cloneRequest(req), nil
}

func (s *Store) GetRequest(_ context.Context, orgID, id string) (signature.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requests[id]
	if !ok || (orgID != "" && req.OrganizationID != orgID) {
		return signature.Request{}, notFound("signature request", id)
	}
	return cloneRequest(req), nil
}

func (s *Store) ListRequests(_ context.Context, orgID string, filter signature.Filter) ([]signature.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]signature.Request, 0)
	for _, req := range s.requests {
		if req.OrganizationID != orgID {
			continue
		}
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		if filter.DocumentID != "" && req.DocumentID != filter.DocumentID {
			continue
		}
		result = append(result, cloneRequest(req))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) ListRequestsByStatus(_ context.Context, status signature.Status) ([]signature.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]signature.Request, 0)
	for _, req := range s.requests {
		if req.Status == status {
			result = append(result, cloneRequest(req))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) UpdateParticipant(_ context.Context, p signature.Participant) (signature.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.participants[p.ID]
	if !ok {
		return signature.Participant{}, notFound("participant", p.ID)
	}
	p.RequestID = original.RequestID
	if p.TokenHash == "" {
		p.TokenHash = original.TokenHash
	}
	p.CreatedAt = original.CreatedAt
	p.UpdatedAt = now()
	s.participants[p.ID] = cloneParticipant(p)
	return cloneParticipant(p), nil
}

func (s *Store) GetParticipantByTokenHash(_ context.Context, hash string) (signature.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if hash == "" {
		return signature.Participant{}, notFound("participant", "token")
	}
	for _, p := range s.participants {
		if p.TokenHash == hash {
			return cloneParticipant(p), nil
		}
	}
	return signature.Participant{}, notFound("participant", "token")
}

func (s *Store) ListParticipants(_ context.Context, requestID string) ([]signature.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]signature.Participant, 0)
	for _, p := range s.participants {
		if p.RequestID == requestID {
			result = append(result, cloneParticipant(p))
		}
	}
	signature.SortParticipants(result)
	return result, nil
}

func (s *Store) UpdateFields(_ context.Context, fields []signature.Field) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range fields {
		if _, ok := s.fields[f.ID]; !ok {
			return notFound("field", f.ID)
		}
	}
	for _, f := range fields {
		original := s.fields[f.ID]
		original.Value = f.Value
		original.FilledAt = cloneTime(f.FilledAt)
		s.fields[f.ID] = original
	}
	return nil
}

func (s *Store) ListFields(_ context.Context, requestID string) ([]signature.Field, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]signature.Field, 0)
	for _, f := range s.fields {
		if f.RequestID == requestID {
			f.FilledAt = cloneTime(f.FilledAt)
			result = append(result, f)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Page != result[j].Page {
			return result[i].Page < result[j].Page
		}
		return result[i].Y < result[j].Y
	})
	return result, nil
}

// AuditStore implementation ---------------------------------------------------

func (s *Store) CreateEvent(_ context.Context, e audit.Event) (audit.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = s.nextIDLocked()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now()
	}
	e = cloneEvent(e)
	s.events = append(s.events, e)
	return cloneEvent(e), nil
}

func (s *Store) ListEvents(_ context.Context, orgID string, filter audit.Filter) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]audit.Event, 0)
	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if e.OrganizationID != orgID {
			continue
		}
		if filter.ResourceType != "" && e.ResourceType != filter.ResourceType {
			continue
		}
		if filter.ResourceID != "" && e.ResourceID != filter.ResourceID {
			continue
		}
		result = append(result, cloneEvent(e))
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

// NotificationStore implementation --------------------------------------------

func (s *Store) CreateMessage(_ context.Context, m notification.Message) (notification.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == "" {
		m.ID = s.nextIDLocked()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now()
	}
	s.messages[m.ID] = m
	return m, nil
}

func (s *Store) UpdateMessage(_ context.Context, m notification.Message) (notification.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.messages[m.ID]
	if !ok {
		return notification.Message{}, notFound("message", m.ID)
	}
	m.CreatedAt = original.CreatedAt
	m.SentAt = cloneTime(m.SentAt)
	s.messages[m.ID] = m
	return m, nil
}

func (s *Store) GetMessage(_ context.Context, id string) (notification.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[id]
	if !ok {
		return notification.Message{}, notFound("message", id)
	}
	return m, nil
}

func (s *Store) GetMessageByProviderID(_ context.Context, providerID string) (notification.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.messages {
		if providerID != "" && m.ProviderID == providerID {
			return m, nil
		}
	}
	return notification.Message{}, notFound("message", providerID)
}

func (s *Store) ListDueMessages(_ context.Context, at time.Time, limit int) ([]notification.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]notification.Message, 0)
	for _, m := range s.messages {
		if m.Status == notification.StatusPending && !m.NextAttemptAt.After(at) {
			result = append(result, m)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].NextAttemptAt.Equal(result[j].NextAttemptAt) {
			return result[i].NextAttemptAt.Before(result[j].NextAttemptAt)
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
