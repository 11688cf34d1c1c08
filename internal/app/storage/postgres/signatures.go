package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/R3E-Network/signflow/internal/app/domain/signature"
	"github.com/R3E-Network/signflow/internal/app/storage"
)

// --- SignatureStore ---------------------------------------------------------

type requestRow struct {
	ID             string     `db:"id"`
	OrganizationID string     `db:"organization_id"`
	DocumentID     string     `db:"document_id"`
	Title          string     `db:"title"`
	Message        string     `db:"message"`
	WorkflowType   string     `db:"workflow_type"`
	Status         string     `db:"status"`
	CreatedBy      string     `db:"created_by"`
	ExpiresAt      *time.Time `db:"expires_at"`
	SentAt         *time.Time `db:"sent_at"`
	CompletedAt    *time.Time `db:"completed_at"`
	Version        int        `db:"version"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

func (r requestRow) toDomain() signature.Request {
	return signature.Request{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		DocumentID:     r.DocumentID,
		Title:          r.Title,
		Message:        r.Message,
		WorkflowType:   signature.WorkflowType(r.WorkflowType),
		Status:         signature.Status(r.Status),
		CreatedBy:      r.CreatedBy,
		ExpiresAt:      r.ExpiresAt,
		SentAt:         r.SentAt,
		CompletedAt:    r.CompletedAt,
		Version:        r.Version,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

const requestColumns = `id, organization_id, document_id, title, message, workflow_type, status, created_by,
	expires_at, sent_at, completed_at, version, created_at, updated_at`

type participantRow struct {
	ID             string     `db:"id"`
	RequestID      string     `db:"request_id"`
	Name           string     `db:"name"`
	Email          string     `db:"email"`
	Role           string     `db:"role"`
	Order          int        `db:"sort_order"`
	Status         string     `db:"status"`
	TokenHash      string     `db:"token_hash"`
	NotifiedAt     *time.Time `db:"notified_at"`
	ViewedAt       *time.Time `db:"viewed_at"`
	CompletedAt    *time.Time `db:"completed_at"`
	LastRemindedAt *time.Time `db:"last_reminded_at"`
	DeclineReason  string     `db:"decline_reason"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

func (r participantRow) toDomain() signature.Participant {
	return signature.Participant{
		ID:             r.ID,
		RequestID:      r.RequestID,
		Name:           r.Name,
		Email:          r.Email,
		Role:           signature.Role(r.Role),
		Order:          r.Order,
		Status:         signature.ParticipantStatus(r.Status),
		TokenHash:      r.TokenHash,
		NotifiedAt:     r.NotifiedAt,
		ViewedAt:       r.ViewedAt,
		CompletedAt:    r.CompletedAt,
		LastRemindedAt: r.LastRemindedAt,
		DeclineReason:  r.DeclineReason,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

const participantColumns = `id, request_id, name, email, role, sort_order, status, token_hash, notified_at,
	viewed_at, completed_at, last_reminded_at, decline_reason, created_at, updated_at`

type fieldRow struct {
	ID            string     `db:"id"`
	RequestID     string     `db:"request_id"`
	ParticipantID string     `db:"participant_id"`
	Type          string     `db:"type"`
	Page          int        `db:"page"`
	X             float64    `db:"x"`
	Y             float64    `db:"y"`
	Width         float64    `db:"width"`
	Height        float64    `db:"height"`
	Required      bool       `db:"required"`
	Label         string     `db:"label"`
	Value         string     `db:"value"`
	FilledAt      *time.Time `db:"filled_at"`
}

func (r fieldRow) toDomain() signature.Field {
	return signature.Field{
		ID:            r.ID,
		RequestID:     r.RequestID,
		ParticipantID: r.ParticipantID,
		Type:          signature.FieldType(r.Type),
		Page:          r.Page,
		X:             r.X,
		Y:             r.Y,
		Width:         r.Width,
		Height:        r.Height,
		Required:      r.Required,
		Label:         r.Label,
		Value:         r.Value,
		FilledAt:      r.FilledAt,
	}
}

const fieldColumns = `id, request_id, participant_id, type, page, x, y, width, height, required, label, value, filled_at`

func (s *Store) CreateRequest(ctx context.Context, req signature.Request, participants []signature.Participant, fields []signature.Field) (result signature.Request, err error) {
	if req.ID == "" {
		req.ID = newID()
	}
	ts := now()
	req.CreatedAt = ts
	req.UpdatedAt = ts
	req.Version = 1

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return signature.Request{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO signature_requests (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, req.ID, req.OrganizationID, req.DocumentID, req.Title, req.Message, string(req.WorkflowType), string(req.Status),
		req.CreatedBy, req.ExpiresAt, req.SentAt, req.CompletedAt, req.Version, req.CreatedAt, req.UpdatedAt)
	if err != nil {
		return signature.Request{}, mapErr("signature request", err)
	}

	ids := make(map[string]string, len(participants))
	for _, p := range participants {
		if p.TokenHash == "" {
			return signature.Request{}, fmt.Errorf("participant %s has no token hash", p.Email)
		}
		provisional := p.ID
		p.ID = newID()
		if provisional != "" {
			ids[provisional] = p.ID
		}
		if err = insertParticipant(ctx, tx, req.ID, p, ts); err != nil {
			return signature.Request{}, mapErr("participant", err)
		}
	}

	for _, f := range fields {
		if mapped, ok := ids[f.ParticipantID]; ok {
			f.ParticipantID = mapped
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO signature_fields (`+fieldColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`, newID(), req.ID, f.ParticipantID, string(f.Type), f.Page, f.X, f.Y, f.Width, f.Height,
			f.Required, f.Label, f.Value, f.FilledAt)
		if err != nil {
			return signature.Request{}, mapErr("field", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return signature.Request{}, err
	}
	return req, nil
}

func insertParticipant(ctx context.Context, tx *sqlx.Tx, requestID string, p signature.Participant, ts time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO signature_participants (`+participantColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
	`, p.ID, requestID, p.Name, p.Email, string(p.Role), p.Order, string(p.Status), p.TokenHash,
		p.NotifiedAt, p.ViewedAt, p.CompletedAt, p.LastRemindedAt, p.DeclineReason, ts)
	return err
}

func (s *Store) UpdateRequest(ctx context.Context, req signature.Request) (signature.Request, error) {
	var row requestRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE signature_requests
		SET title = $4, message = $5, status = $6, expires_at = $7, sent_at = $8, completed_at = $9,
			version = version + 1, updated_at = $10
		WHERE id = $1 AND organization_id = $2 AND version = $3
		RETURNING `+requestColumns,
		req.ID, req.OrganizationID, req.Version, req.Title, req.Message, string(req.Status),
		req.ExpiresAt, req.SentAt, req.CompletedAt, now())
	if err == nil {
		return row.toDomain(), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return signature.Request{}, err
	}
	if _, getErr := s.GetRequest(ctx, req.OrganizationID, req.ID); getErr != nil {
		return signature.Request{}, getErr
	}
	return signature.Request{}, fmt.Errorf("signature request %s: %w", req.ID, storage.ErrVersionConflict)
}

func (s *Store) GetRequest(ctx context.Context, orgID, id string) (signature.Request, error) {
	var row requestRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+requestColumns+`
		FROM signature_requests
		WHERE id = $1 AND ($2 = '' OR organization_id = $2)
	`, id, orgID)
	if err != nil {
		return signature.Request{}, mapErr("signature request", err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListRequests(ctx context.Context, orgID string, filter signature.Filter) ([]signature.Request, error) {
	var rows []requestRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+requestColumns+`
		FROM signature_requests
		WHERE organization_id = $1
			AND ($2 = '' OR status = $2)
			AND ($3 = '' OR document_id = $3)
		ORDER BY created_at DESC
	`, orgID, string(filter.Status), filter.DocumentID)
	if err != nil {
		return nil, err
	}
	return toRequests(rows), nil
}

func (s *Store) ListRequestsByStatus(ctx context.Context, status signature.Status) ([]signature.Request, error) {
	var rows []requestRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+requestColumns+` FROM signature_requests WHERE status = $1 ORDER BY created_at
	`, string(status))
	if err != nil {
		return nil, err
	}
	return toRequests(rows), nil
}

func toRequests(rows []requestRow) []signature.Request {
	result := make([]signature.Request, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result
}

func (s *Store) UpdateParticipant(ctx context.Context, p signature.Participant) (signature.Participant, error) {
	var row participantRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE signature_participants
		SET name = $2, status = $3, notified_at = $4, viewed_at = $5, completed_at = $6,
			last_reminded_at = $7, decline_reason = $8, updated_at = $9,
			token_hash = COALESCE(NULLIF($10, ''), token_hash)
		WHERE id = $1
		RETURNING `+participantColumns,
		p.ID, p.Name, string(p.Status), p.NotifiedAt, p.ViewedAt, p.CompletedAt, p.LastRemindedAt, p.DeclineReason, now(), p.TokenHash)
	if err != nil {
		return signature.Participant{}, mapErr("participant", err)
	}
	return row.toDomain(), nil
}

func (s *Store) GetParticipantByTokenHash(ctx context.Context, hash string) (signature.Participant, error) {
	var row participantRow
	err := s.db.GetContext(ctx, &row, `SELECT `+participantColumns+` FROM signature_participants WHERE token_hash = $1`, hash)
	if err != nil {
		return signature.Participant{}, mapErr("participant", err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListParticipants(ctx context.Context, requestID string) ([]signature.Participant, error) {
	var rows []participantRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+participantColumns+`
		FROM signature_participants
		WHERE request_id = $1
		ORDER BY sort_order, created_at
	`, requestID)
	if err != nil {
		return nil, err
	}
	result := make([]signature.Participant, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (s *Store) UpdateFields(ctx context.Context, fields []signature.Field) (err error) {
	if len(fields) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, f := range fields {
		var result sql.Result
		result, err = tx.ExecContext(ctx, `UPDATE signature_fields SET value = $2, filled_at = $3 WHERE id = $1`, f.ID, f.Value, f.FilledAt)
		if err != nil {
			return err
		}
		if err = checkAffected("field", result); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) ListFields(ctx context.Context, requestID string) ([]signature.Field, error) {
	var rows []fieldRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+fieldColumns+` FROM signature_fields WHERE request_id = $1 ORDER BY page, y
	`, requestID)
	if err != nil {
		return nil, err
	}
	result := make([]signature.Field, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}
