package signatures

import (
	"bytes"
	"context"
	"encoding/base64"
	"image/png"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/R3E-Network/signflow/internal/app/domain/audit"
	"github.com/R3E-Network/signflow/internal/app/domain/document"
	"github.com/R3E-Network/signflow/internal/app/domain/notification"
	"github.com/R3E-Network/signflow/internal/app/domain/signature"
	"github.com/R3E-Network/signflow/internal/app/metrics"
	"github.com/R3E-Network/signflow/internal/app/pdf"
	"github.com/R3E-Network/signflow/internal/app/services/auth"
	"github.com/R3E-Network/signflow/internal/app/services/documents"
	"github.com/R3E-Network/signflow/internal/app/storage"
	svcerrors "github.com/R3E-Network/signflow/internal/errors"
)

const (
	dateLayout      = "2006-01-02"
	pngDataURL      = "data:image/png;base64,"
	maxTextValue    = 1000
	maxImageValue   = 512 << 10
	maxReasonLength = 2000

	// checkedMark is drawn for ticked checkboxes. The standard Helvetica
	// font has no check-mark glyph.
	checkedMark = "X"
)

// DocumentInfo is the document metadata shown to a participant.
type DocumentInfo struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	ContentType string          `json:"content_type"`
	Size        int64           `json:"size"`
	PageCount   int             `json:"page_count"`
	SHA256      string          `json:"sha256"`
	Status      document.Status `json:"status"`
}

// SigningView is what a participant sees through their access link.
type SigningView struct {
	Request     signature.Request     `json:"request"`
	Participant signature.Participant `json:"participant"`
	Fields      []signature.Field     `json:"fields"`
	Document    DocumentInfo          `json:"document"`
	CanAct      bool                  `json:"can_act"`
}

// participantByToken resolves an access token to its participant and request.
func (s *Service) participantByToken(ctx context.Context, token string) (signature.Participant, signature.Request, error) {
	if strings.TrimSpace(token) == "" {
		return signature.Participant{}, signature.Request{}, svcerrors.NotFound("signing link", "")
	}
	p, err := s.store.GetParticipantByTokenHash(ctx, auth.HashToken(token))
	if err != nil {
		if svcerrors.Is(err, storage.ErrNotFound) {
			return signature.Participant{}, signature.Request{}, svcerrors.NotFound("signing link", "")
		}
		return signature.Participant{}, signature.Request{}, err
	}
	req, err := s.store.GetRequest(ctx, "", p.RequestID)
	if err != nil {
		if svcerrors.Is(err, storage.ErrNotFound) {
			return signature.Participant{}, signature.Request{}, svcerrors.NotFound("signing link", "")
		}
		return signature.Participant{}, signature.Request{}, err
	}
	if req.Status == signature.StatusDraft {
		return signature.Participant{}, signature.Request{}, svcerrors.NotFound("signing link", "")
	}
	return p, req, nil
}

func (s *Service) ownFields(ctx context.Context, requestID, participantID string) ([]signature.Field, error) {
	all, err := s.store.ListFields(ctx, requestID)
	if err != nil {
		return nil, err
	}
	own := make([]signature.Field, 0, len(all))
	for _, f := range all {
		if f.ParticipantID == participantID {
			own = append(own, f)
		}
	}
	return own, nil
}

func (s *Service) view(ctx context.Context, req signature.Request, p signature.Participant) (SigningView, error) {
	fields, err := s.ownFields(ctx, req.ID, p.ID)
	if err != nil {
		return SigningView{}, err
	}
	doc, err := s.documents.Lookup(ctx, req.OrganizationID, req.DocumentID)
	if err != nil {
		return SigningView{}, err
	}
	return SigningView{
		Request:     req,
		Participant: p,
		Fields:      fields,
		Document: DocumentInfo{
			ID:          doc.ID,
			Name:        doc.Name,
			ContentType: doc.ContentType,
			Size:        doc.Size,
			PageCount:   doc.PageCount,
			SHA256:      doc.SHA256,
			Status:      doc.Status,
		},
		CanAct: req.Status == signature.StatusInProgress && !req.Expired(s.now()) && p.Active(),
	}, nil
}

// GetByToken returns the participant's signing view. The first visit of a
// notified participant marks them viewed.
func (s *Service) GetByToken(ctx context.Context, token string) (SigningView, error) {
	p, req, err := s.participantByToken(ctx, token)
	if err != nil {
		return SigningView{}, err
	}
	if p.Status != signature.ParticipantNotified || req.Status != signature.StatusInProgress {
		return s.view(ctx, req, p)
	}

	var out SigningView
	err = s.withLock(req.ID, func() error {
		p, req, err = s.participantByToken(ctx, token)
		if err != nil {
			return err
		}
		if p.Status == signature.ParticipantNotified && req.Status == signature.StatusInProgress {
			now := s.now()
			p.Status = signature.ParticipantViewed
			p.ViewedAt = &now
			if p, err = s.store.UpdateParticipant(ctx, p); err != nil {
				return err
			}
			metrics.RecordParticipantAction("viewed")
			s.record(ctx, req.OrganizationID, audit.ActorParticipant, p.ID, "participant.viewed", req.ID,
				map[string]string{"email": p.Email})
		}
		out, err = s.view(ctx, req, p)
		return err
	})
	return out, err
}

// DocumentByToken opens the document for a participant. Once the request is
// completed the stamped copy is served when one exists.
func (s *Service) DocumentByToken(ctx context.Context, token string) (documents.Content, error) {
	_, req, err := s.participantByToken(ctx, token)
	if err != nil {
		return documents.Content{}, err
	}
	variant := documents.VariantOriginal
	if req.Status == signature.StatusCompleted {
		doc, err := s.documents.Lookup(ctx, req.OrganizationID, req.DocumentID)
		if err != nil {
			return documents.Content{}, err
		}
		if doc.HasSigned() {
			variant = documents.VariantSigned
		}
	}
	return s.documents.Open(ctx, req.OrganizationID, req.DocumentID, variant)
}

// actable reloads the participant behind token and checks they may act now.
func (s *Service) actable(ctx context.Context, token string, role signature.Role) (signature.Participant, signature.Request, error) {
	p, req, err := s.participantByToken(ctx, token)
	if err != nil {
		return p, req, err
	}
	if req.Status != signature.StatusInProgress {
		return p, req, svcerrors.InvalidState("request is " + string(req.Status)).WithDetails("status", string(req.Status))
	}
	if req.Expired(s.now()) {
		return p, req, svcerrors.Gone("signature request has expired")
	}
	if p.Status.Done() {
		return p, req, svcerrors.InvalidState("participant has already responded").WithDetails("status", string(p.Status))
	}
	if role != "" && p.Role != role {
		return p, req, svcerrors.Forbidden("participant is not a " + string(role))
	}
	if !p.Active() {
		return p, req, svcerrors.Forbidden("it is not this participant's turn")
	}
	return p, req, nil
}

// Sign records a signer's field values and advances the workflow. values is
// keyed by field id.
func (s *Service) Sign(ctx context.Context, token string, values map[string]string) (SigningView, error) {
	_, req, err := s.participantByToken(ctx, token)
	if err != nil {
		return SigningView{}, err
	}
	var out SigningView
	err = s.withLock(req.ID, func() error {
		p, req, err := s.actable(ctx, token, signature.RoleSigner)
		if err != nil {
			return err
		}
		fields, err := s.ownFields(ctx, req.ID, p.ID)
		if err != nil {
			return err
		}
		filled, err := fillFields(fields, values, s.now())
		if err != nil {
			return err
		}

		// Claim the request version before writing participant state.
		if req, err = s.store.UpdateRequest(ctx, req); err != nil {
			return err
		}
		if len(filled) > 0 {
			if err := s.store.UpdateFields(ctx, filled); err != nil {
				return err
			}
		}
		p, err = s.finishParticipant(ctx, req, p, signature.ParticipantSigned, "")
		if err != nil {
			return err
		}
		if req, err = s.advance(ctx, req); err != nil {
			return err
		}
		out, err = s.view(ctx, req, p)
		return err
	})
	return out, err
}

// Approve records an approver's approval and advances the workflow.
func (s *Service) Approve(ctx context.Context, token string) (SigningView, error) {
	_, req, err := s.participantByToken(ctx, token)
	if err != nil {
		return SigningView{}, err
	}
	var out SigningView
	err = s.withLock(req.ID, func() error {
		p, req, err := s.actable(ctx, token, signature.RoleApprover)
		if err != nil {
			return err
		}
		if req, err = s.store.UpdateRequest(ctx, req); err != nil {
			return err
		}
		p, err = s.finishParticipant(ctx, req, p, signature.ParticipantApproved, "")
		if err != nil {
			return err
		}
		if req, err = s.advance(ctx, req); err != nil {
			return err
		}
		out, err = s.view(ctx, req, p)
		return err
	})
	return out, err
}

// Decline ends the request on behalf of the participant.
func (s *Service) Decline(ctx context.Context, token, reason string) (SigningView, error) {
	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) > maxReasonLength {
		return SigningView{}, svcerrors.Validationf("reason must be at most %d characters", maxReasonLength)
	}
	_, req, err := s.participantByToken(ctx, token)
	if err != nil {
		return SigningView{}, err
	}
	var out SigningView
	err = s.withLock(req.ID, func() error {
		p, req, err := s.actable(ctx, token, "")
		if err != nil {
			return err
		}
		if req, err = s.transition(ctx, req, signature.StatusDeclined); err != nil {
			return err
		}
		p, err = s.finishParticipant(ctx, req, p, signature.ParticipantDeclined, reason)
		if err != nil {
			return err
		}
		if _, err := s.documents.SetStatus(ctx, req.OrganizationID, req.DocumentID, document.StatusDraft); err != nil {
			s.log.WithError(err).WithField("document_id", req.DocumentID).Warn("reset document status failed")
		}

		data := map[string]any{"Title": req.Title, "Decliner": p.Name, "Reason": reason}
		s.notifyCreator(ctx, req, notification.KindRequestDeclined, data)
		ps, err := s.store.ListParticipants(ctx, req.ID)
		if err != nil {
			return err
		}
		for _, other := range ps {
			if other.ID == p.ID || other.NotifiedAt == nil {
				continue
			}
			s.notify(ctx, req.OrganizationID, notification.KindRequestDeclined, other.Email, with(data, "Name", other.Name))
		}
		out, err = s.view(ctx, req, p)
		return err
	})
	return out, err
}

func (s *Service) finishParticipant(ctx context.Context, req signature.Request, p signature.Participant, status signature.ParticipantStatus, reason string) (signature.Participant, error) {
	now := s.now()
	p.Status = status
	p.CompletedAt = &now
	p.DeclineReason = reason
	if p.ViewedAt == nil {
		p.ViewedAt = &now
	}
	updated, err := s.store.UpdateParticipant(ctx, p)
	if err != nil {
		return signature.Participant{}, err
	}
	metrics.RecordParticipantAction(string(status))
	meta := map[string]string{"email": p.Email}
	if reason != "" {
		meta["reason"] = reason
	}
	s.record(ctx, req.OrganizationID, audit.ActorParticipant, p.ID, "participant."+string(status), req.ID, meta)
	return updated, nil
}

// advance notifies the next participants or completes the request once
// every signer and approver is done.
func (s *Service) advance(ctx context.Context, req signature.Request) (signature.Request, error) {
	ps, err := s.store.ListParticipants(ctx, req.ID)
	if err != nil {
		return req, err
	}
	if signature.AllActionableDone(ps) {
		return s.complete(ctx, req, ps)
	}
	if req.WorkflowType != signature.WorkflowSequential {
		return req, nil
	}
	doc, err := s.documents.Lookup(ctx, req.OrganizationID, req.DocumentID)
	if err != nil {
		return req, err
	}
	return req, s.notifyNext(ctx, req, doc, ps)
}

func (s *Service) complete(ctx context.Context, req signature.Request, ps []signature.Participant) (signature.Request, error) {
	req, err := s.transition(ctx, req, signature.StatusCompleted)
	if err != nil {
		return req, err
	}
	doc, err := s.stampDocument(ctx, req)
	if err != nil {
		s.log.WithContext(ctx).WithError(err).
			WithField("request_id", req.ID).
			WithField("document_id", req.DocumentID).
			Error("stamp signed document failed")
		s.record(ctx, req.OrganizationID, audit.ActorSystem, "", "document.stamp_failed", req.ID, map[string]string{"error": err.Error()})
		if doc, err = s.documents.SetStatus(ctx, req.OrganizationID, req.DocumentID, document.StatusCompleted); err != nil {
			return req, err
		}
	}

	fingerprint := doc.SignedSHA256
	if fingerprint == "" {
		fingerprint = doc.SHA256
	}
	s.record(ctx, req.OrganizationID, audit.ActorSystem, "", "signature_request.completed", req.ID, map[string]string{
		"document_id":   doc.ID,
		"signed_sha256": doc.SignedSHA256,
	})

	data := map[string]any{"Title": req.Title, "DocumentSize": doc.Size, "SHA256": fingerprint}
	now := s.now()
	for _, p := range ps {
		if p.Role == signature.RoleCC && p.NotifiedAt == nil {
			p.Status = signature.ParticipantNotified
			p.NotifiedAt = &now
		}
		link, err := s.issueLink(&p)
		if err != nil {
			return req, err
		}
		if _, err := s.store.UpdateParticipant(ctx, p); err != nil {
			return req, err
		}
		s.notify(ctx, req.OrganizationID, notification.KindRequestCompleted, p.Email,
			with(with(data, "Name", p.Name), "Link", link))
	}
	s.notifyCreator(ctx, req, notification.KindRequestCompleted,
		with(data, "Link", s.cfg.PublicURL+"/documents/"+doc.ID))
	return req, nil
}

// stampDocument draws every filled field onto the PDF and stores the result.
// Other content types are marked completed without a stamped copy.
func (s *Service) stampDocument(ctx context.Context, req signature.Request) (document.Document, error) {
	doc, err := s.documents.Lookup(ctx, req.OrganizationID, req.DocumentID)
	if err != nil {
		return document.Document{}, err
	}
	if !doc.IsPDF() {
		return s.documents.SetStatus(ctx, req.OrganizationID, doc.ID, document.StatusCompleted)
	}
	fields, err := s.store.ListFields(ctx, req.ID)
	if err != nil {
		return doc, err
	}
	stamps, err := Stamps(fields)
	if err != nil {
		return doc, err
	}
	content, err := s.documents.Open(ctx, req.OrganizationID, doc.ID, documents.VariantOriginal)
	if err != nil {
		return doc, err
	}
	original, err := documents.ReadAll(content)
	if err != nil {
		return doc, err
	}

	start := time.Now()
	var out bytes.Buffer
	if err := s.stamp(bytes.NewReader(original), &out, stamps); err != nil {
		return doc, err
	}
	metrics.ObserveStamp(time.Since(start))
	return s.documents.AttachSigned(ctx, req.OrganizationID, doc.ID, out.Bytes())
}

func (s *Service) notifyCreator(ctx context.Context, req signature.Request, kind notification.Kind, data map[string]any) {
	name, email := s.userName(ctx, req.CreatedBy)
	if email == "" {
		return
	}
	s.notify(ctx, req.OrganizationID, kind, email, with(data, "Name", name))
}

func with(data map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	out[key] = value
	return out
}

// fillFields validates values against the participant's fields and returns
// the fields that received a value.
func fillFields(fields []signature.Field, values map[string]string, now time.Time) ([]signature.Field, error) {
	known := make(map[string]bool, len(fields))
	for _, f := range fields {
		known[f.ID] = true
	}
	for id := range values {
		if !known[id] {
			return nil, svcerrors.Validationf("unknown field %q", id)
		}
	}

	filled := make([]signature.Field, 0, len(fields))
	for _, f := range fields {
		value := strings.TrimSpace(values[f.ID])
		if value == "" {
			if f.Required {
				return nil, svcerrors.Validation("required field is missing").WithDetails("field_id", f.ID)
			}
			continue
		}
		if err := validateValue(f.Type, value); err != nil {
			return nil, err.WithDetails("field_id", f.ID)
		}
		f.Value = value
		f.FilledAt = &now
		filled = append(filled, f)
	}
	return filled, nil
}

func validateValue(t signature.FieldType, value string) *svcerrors.ServiceError {
	switch t {
	case signature.FieldCheckbox:
		if value != "true" && value != "false" {
			return svcerrors.Validation(`checkbox value must be "true" or "false"`)
		}
	case signature.FieldDate:
		if _, err := time.Parse(dateLayout, value); err != nil {
			return svcerrors.Validation("date must be formatted YYYY-MM-DD")
		}
	case signature.FieldSignature, signature.FieldInitials:
		if strings.HasPrefix(value, "data:") {
			if len(value) > maxImageValue {
				return svcerrors.Validation("signature image is too large")
			}
			if _, err := decodeImage(value); err != nil {
				return svcerrors.Validation("signature image must be a PNG data URL")
			}
			return nil
		}
		if utf8.RuneCountInString(value) > maxTextValue {
			return svcerrors.Validationf("value must be at most %d characters", maxTextValue)
		}
	default:
		if utf8.RuneCountInString(value) > maxTextValue {
			return svcerrors.Validationf("value must be at most %d characters", maxTextValue)
		}
	}
	return nil
}

func decodeImage(value string) ([]byte, error) {
	if !strings.HasPrefix(value, pngDataURL) {
		return nil, svcerrors.Validation("unsupported data URL")
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, pngDataURL))
	if err != nil {
		return nil, err
	}
	if _, err := png.DecodeConfig(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return data, nil
}

// Stamps converts filled fields into PDF stamps.
func Stamps(fields []signature.Field) ([]pdf.Stamp, error) {
	out := make([]pdf.Stamp, 0, len(fields))
	for _, f := range fields {
		if f.Value == "" {
			continue
		}
		st := pdf.Stamp{Page: f.Page, X: f.X, Y: f.Y, Width: f.Width, Height: f.Height}
		switch {
		case f.Type == signature.FieldCheckbox:
			if f.Value != "true" {
				continue
			}
			st.Text = checkedMark
		case strings.HasPrefix(f.Value, "data:"):
			img, err := decodeImage(f.Value)
			if err != nil {
				return nil, err
			}
			st.Image = img
		default:
			st.Text = f.Value
		}
		out = append(out, st)
	}
	return out, nil
}
