package signatures

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/R3E-Network/signflow/internal/app/domain/audit"
	"github.com/R3E-Network/signflow/internal/app/domain/document"
	"github.com/R3E-Network/signflow/internal/app/domain/permission"
	"github.com/R3E-Network/signflow/internal/app/domain/signature"
	"github.com/R3E-Network/signflow/internal/app/services/auth"
	"github.com/R3E-Network/signflow/internal/app/services/permissions"
	svcerrors "github.com/R3E-Network/signflow/internal/errors"
)

const (
	maxTitleLength   = 200
	maxMessageLength = 5000
	maxParticipants  = 50
)

// ParticipantInput describes one participant of a new request.
type ParticipantInput struct {
	Name  string         `json:"name"`
	Email string         `json:"email"`
	Role  signature.Role `json:"role"`
	Order int            `json:"order"`
}

// FieldInput places one field for the participant with ParticipantEmail.
type FieldInput struct {
	ParticipantEmail string              `json:"participant_email"`
	Type             signature.FieldType `json:"type"`
	Page             int                 `json:"page"`
	X                float64             `json:"x"`
	Y                float64             `json:"y"`
	Width            float64             `json:"width"`
	Height           float64             `json:"height"`
	Required         bool                `json:"required"`
	Label            string              `json:"label,omitempty"`
}

// CreateInput describes a new draft request.
type CreateInput struct {
	DocumentID   string                 `json:"document_id"`
	Title        string                 `json:"title"`
	Message      string                 `json:"message,omitempty"`
	WorkflowType signature.WorkflowType `json:"workflow_type"`
	ExpiresAt    *time.Time             `json:"expires_at,omitempty"`
	Participants []ParticipantInput     `json:"participants"`
	Fields       []FieldInput           `json:"fields"`
}

// Create validates the input and stores a draft request. Every participant
// gets an access token now; nobody is notified until Send.
func (s *Service) Create(ctx context.Context, orgID, userID string, in CreateInput) (Detail, error) {
	access, err := s.perms.Access(ctx, orgID, userID)
	if err != nil {
		return Detail{}, err
	}
	doc, err := s.documents.Lookup(ctx, orgID, in.DocumentID)
	if err != nil {
		return Detail{}, err
	}
	if err := permissions.Require(access.Document(doc), permission.LevelEdit, "document", doc.ID); err != nil {
		return Detail{}, err
	}
	if doc.Deleted() {
		return Detail{}, svcerrors.NotFound("document", doc.ID)
	}
	if doc.Status == document.StatusArchived {
		return Detail{}, svcerrors.InvalidState("document is archived")
	}

	req, participants, fields, err := s.build(in, doc)
	if err != nil {
		return Detail{}, err
	}
	req.OrganizationID = orgID
	req.CreatedBy = userID

	created, err := s.store.CreateRequest(ctx, req, participants, fields)
	if err != nil {
		return Detail{}, err
	}
	s.record(ctx, orgID, audit.ActorUser, userID, "signature_request.created", created.ID, map[string]string{
		"document_id":     doc.ID,
		"document_sha256": doc.SHA256,
		"workflow":        string(created.WorkflowType),
	})
	s.log.WithContext(ctx).
		WithField("request_id", created.ID).
		WithField("document_id", doc.ID).
		WithField("participants", len(participants)).
		Info("signature request created")
	return s.detail(ctx, created)
}

func (s *Service) build(in CreateInput, doc document.Document) (signature.Request, []signature.Participant, []signature.Field, error) {
	fail := func(err error) (signature.Request, []signature.Participant, []signature.Field, error) {
		return signature.Request{}, nil, nil, err
	}

	title := strings.TrimSpace(in.Title)
	switch {
	case title == "":
		title = truncateRunes(doc.Name, maxTitleLength)
	case utf8.RuneCountInString(title) > maxTitleLength:
		return fail(svcerrors.Validationf("title must be at most %d characters", maxTitleLength))
	}
	if utf8.RuneCountInString(in.Message) > maxMessageLength {
		return fail(svcerrors.Validationf("message must be at most %d characters", maxMessageLength))
	}
	workflow := in.WorkflowType
	if workflow == "" {
		workflow = signature.WorkflowSequential
	}
	if !workflow.Valid() {
		return fail(svcerrors.Validationf("unknown workflow type %q", in.WorkflowType))
	}

	now := s.now()
	expires := in.ExpiresAt
	if expires == nil && s.cfg.DefaultExpiry > 0 {
		at := now.Add(s.cfg.DefaultExpiry)
		expires = &at
	}
	if expires != nil {
		at := expires.UTC()
		if !at.After(now) {
			return fail(svcerrors.Validation("expires_at must be in the future"))
		}
		expires = &at
	}

	participants, byEmail, err := buildParticipants(in.Participants, workflow)
	if err != nil {
		return fail(err)
	}
	fields, err := buildFields(in.Fields, byEmail, participants, doc)
	if err != nil {
		return fail(err)
	}

	req := signature.Request{
		DocumentID:   doc.ID,
		Title:        title,
		Message:      strings.TrimSpace(in.Message),
		WorkflowType: workflow,
		Status:       signature.StatusDraft,
		ExpiresAt:    expires,
	}
	return req, participants, fields, nil
}

func buildParticipants(in []ParticipantInput, workflow signature.WorkflowType) ([]signature.Participant, map[string]int, error) {
	if len(in) > maxParticipants {
		return nil, nil, svcerrors.Validationf("at most %d participants are allowed", maxParticipants)
	}
	var (
		out        = make([]signature.Participant, 0, len(in))
		byEmail    = make(map[string]int, len(in))
		orders     = make(map[int]string)
		actionable = 0
	)
	for i, p := range in {
		addr, err := mail.ParseAddress(strings.TrimSpace(p.Email))
		if err != nil {
			return nil, nil, svcerrors.Validationf("participant %d: invalid email", i+1).WithDetails("email", p.Email)
		}
		email := strings.ToLower(addr.Address)
		if _, dup := byEmail[email]; dup {
			return nil, nil, svcerrors.Validationf("participant %s is listed twice", email)
		}
		role := p.Role
		if role == "" {
			role = signature.RoleSigner
		}
		if !role.Valid() {
			return nil, nil, svcerrors.Validationf("participant %s: unknown role %q", email, p.Role)
		}
		order := p.Order
		if order == 0 {
			order = i + 1
		}
		if order < 0 {
			return nil, nil, svcerrors.Validationf("participant %s: order must be positive", email)
		}
		if role.Actionable() {
			actionable++
			if workflow == signature.WorkflowSequential {
				if other, taken := orders[order]; taken {
					return nil, nil, svcerrors.Validationf("participants %s and %s share order %d", other, email, order)
				}
				orders[order] = email
			}
		}
		name := strings.TrimSpace(p.Name)
		if name == "" {
			name = addr.Name
		}
		if name == "" {
			name = email
		}
		// Links are minted when the participant is emailed. Until then the
		// stored hash matches no token anyone holds.
		placeholder, err := auth.NewToken()
		if err != nil {
			return nil, nil, svcerrors.Internal("generate access token", err)
		}
		byEmail[email] = len(out)
		out = append(out, signature.Participant{
			ID:        uuid.NewString(),
			Name:      name,
			Email:     email,
			Role:      role,
			Order:     order,
			Status:    signature.ParticipantPending,
			TokenHash: auth.HashToken(placeholder),
		})
	}
	if actionable == 0 {
		return nil, nil, svcerrors.Validation("at least one signer or approver is required")
	}
	return out, byEmail, nil
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

func buildFields(in []FieldInput, byEmail map[string]int, participants []signature.Participant, doc document.Document) ([]signature.Field, error) {
	out := make([]signature.Field, 0, len(in))
	hasSignature := make(map[string]bool)
	for i, f := range in {
		where := fmt.Sprintf("field %d", i+1)
		idx, ok := byEmail[strings.ToLower(strings.TrimSpace(f.ParticipantEmail))]
		if !ok {
			return nil, svcerrors.Validationf("%s: unknown participant %q", where, f.ParticipantEmail)
		}
		p := participants[idx]
		if p.Role != signature.RoleSigner {
			return nil, svcerrors.Validationf("%s: only signers can have fields", where)
		}
		if !f.Type.Valid() {
			return nil, svcerrors.Validationf("%s: unknown type %q", where, f.Type)
		}
		if f.Page < 1 {
			return nil, svcerrors.Validationf("%s: page must be at least 1", where)
		}
		if doc.IsPDF() && doc.PageCount > 0 && f.Page > doc.PageCount {
			return nil, svcerrors.Validationf("%s: page %d is beyond the document's %d pages", where, f.Page, doc.PageCount)
		}
		if f.X < 0 || f.Y < 0 || f.Width <= 0 || f.Height <= 0 {
			return nil, svcerrors.Validationf("%s: position must be non-negative and size positive", where)
		}
		if f.Type == signature.FieldSignature {
			hasSignature[p.ID] = true
		}
		out = append(out, signature.Field{
			ParticipantID: p.ID,
			Type:          f.Type,
			Page:          f.Page,
			X:             f.X,
			Y:             f.Y,
			Width:         f.Width,
			Height:        f.Height,
			Required:      f.Required || f.Type == signature.FieldSignature,
			Label:         strings.TrimSpace(f.Label),
		})
	}
	for _, p := range participants {
		if p.Role == signature.RoleSigner && !hasSignature[p.ID] {
			return nil, svcerrors.Validationf("signer %s needs a signature field", p.Email)
		}
	}
	return out, nil
}
