package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/R3E-Network/signflow/internal/app/domain/audit"
	"github.com/R3E-Network/signflow/internal/app/domain/notification"
)

// --- AuditStore -------------------------------------------------------------

func (s *Store) CreateEvent(ctx context.Context, e audit.Event) (audit.Event, error) {
	if e.ID == "" {
		e.ID = newID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now()
	}
	metadataJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return audit.Event{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, organization_id, actor_type, actor_id, action, resource_type, resource_id, metadata, ip, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.ID, e.OrganizationID, string(e.ActorType), e.ActorID, e.Action, e.ResourceType, e.ResourceID, metadataJSON, e.IP, e.CreatedAt)
	if err != nil {
		return audit.Event{}, err
	}
	return e, nil
}

func (s *Store) ListEvents(ctx context.Context, orgID string, filter audit.Filter) ([]audit.Event, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, actor_type, actor_id, action, resource_type, resource_id, metadata, ip, created_at
		FROM audit_events
		WHERE organization_id = $1
			AND ($2 = '' OR resource_type = $2)
			AND ($3 = '' OR resource_id = $3)
		ORDER BY created_at DESC
		LIMIT $4
	`, orgID, filter.ResourceType, filter.ResourceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]audit.Event, 0)
	for rows.Next() {
		var (
			e           audit.Event
			actorType   string
			metadataRaw []byte
		)
		if err := rows.Scan(&e.ID, &e.OrganizationID, &actorType, &e.ActorID, &e.Action, &e.ResourceType, &e.ResourceID, &metadataRaw, &e.IP, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ActorType = audit.ActorType(actorType)
		if len(metadataRaw) > 0 {
			_ = json.Unmarshal(metadataRaw, &e.Metadata)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// --- NotificationStore ------------------------------------------------------

type messageRow struct {
	ID             string     `db:"id"`
	OrganizationID string     `db:"organization_id"`
	Kind           string     `db:"kind"`
	To             string     `db:"recipient"`
	Subject        string     `db:"subject"`
	Body           string     `db:"body"`
	Status         string     `db:"status"`
	Attempts       int        `db:"attempts"`
	NextAttemptAt  time.Time  `db:"next_attempt_at"`
	LastError      string     `db:"last_error"`
	ProviderID     string     `db:"provider_id"`
	CreatedAt      time.Time  `db:"created_at"`
	SentAt         *time.Time `db:"sent_at"`
}

func (r messageRow) toDomain() notification.Message {
	return notification.Message{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		Kind:           notification.Kind(r.Kind),
		To:             r.To,
		Subject:        r.Subject,
		Body:           r.Body,
		Status:         notification.Status(r.Status),
		Attempts:       r.Attempts,
		NextAttemptAt:  r.NextAttemptAt,
		LastError:      r.LastError,
		ProviderID:     r.ProviderID,
		CreatedAt:      r.CreatedAt,
		SentAt:         r.SentAt,
	}
}

const messageColumns = `id, organization_id, kind, recipient, subject, body, status, attempts, next_attempt_at,
	last_error, provider_id, created_at, sent_at`

func (s *Store) CreateMessage(ctx context.Context, m notification.Message) (notification.Message, error) {
	if m.ID == "" {
		m.ID = newID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, m.ID, m.OrganizationID, string(m.Kind), m.To, m.Subject, m.Body, string(m.Status), m.Attempts,
		m.NextAttemptAt, m.LastError, m.ProviderID, m.CreatedAt, m.SentAt)
	if err != nil {
		return notification.Message{}, mapErr("message", err)
	}
	return m, nil
}

func (s *Store) UpdateMessage(ctx context.Context, m notification.Message) (notification.Message, error) {
	var row messageRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE notification_messages
		SET status = $2, attempts = $3, next_attempt_at = $4, last_error = $5, provider_id = $6, sent_at = $7
		WHERE id = $1
		RETURNING `+messageColumns,
		m.ID, string(m.Status), m.Attempts, m.NextAttemptAt, m.LastError, m.ProviderID, m.SentAt)
	if err != nil {
		return notification.Message{}, mapErr("message", err)
	}
	return row.toDomain(), nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (notification.Message, error) {
	var row messageRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+messageColumns+` FROM notification_messages WHERE id = $1`, id); err != nil {
		return notification.Message{}, mapErr("message", err)
	}
	return row.toDomain(), nil
}

func (s *Store) GetMessageByProviderID(ctx context.Context, providerID string) (notification.Message, error) {
	var row messageRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+messageColumns+` FROM notification_messages WHERE provider_id = $1 AND provider_id <> ''
	`, providerID)
	if err != nil {
		return notification.Message{}, mapErr("message", err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListDueMessages(ctx context.Context, at time.Time, limit int) ([]notification.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+messageColumns+`
		FROM notification_messages
		WHERE status = $1 AND next_attempt_at <= $2
		ORDER BY next_attempt_at, created_at
		LIMIT $3
	`, string(notification.StatusPending), at, limit)
	if err != nil {
		return nil, err
	}
	result := make([]notification.Message, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}
