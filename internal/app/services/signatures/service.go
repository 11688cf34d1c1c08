package signatures

import (
	"context"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/im7mortal/kmutex"
	"github.com/juju/clock"

	"github.com/R3E-Network/signflow/internal/app/domain/audit"
	"github.com/R3E-Network/signflow/internal/app/domain/document"
	"github.com/R3E-Network/signflow/internal/app/domain/notification"
	"github.com/R3E-Network/signflow/internal/app/domain/permission"
	"github.com/R3E-Network/signflow/internal/app/domain/signature"
	"github.com/R3E-Network/signflow/internal/app/metrics"
	"github.com/R3E-Network/signflow/internal/app/pdf"
	"github.com/R3E-Network/signflow/internal/app/services/auth"
	"github.com/R3E-Network/signflow/internal/app/services/documents"
	"github.com/R3E-Network/signflow/internal/app/services/permissions"
	"github.com/R3E-Network/signflow/internal/app/storage"
	svcerrors "github.com/R3E-Network/signflow/internal/errors"
	"github.com/R3E-Network/signflow/pkg/logger"
)

// maxAttempts bounds retries after an optimistic version conflict.
const maxAttempts = 3

// Notifier queues outgoing email.
type Notifier interface {
	Enqueue(ctx context.Context, orgID string, kind notification.Kind, to string, data map[string]any) (notification.Message, error)
}

// AuditLog records and reads audit events.
type AuditLog interface {
	Record(ctx context.Context, e audit.Event) (audit.Event, error)
	List(ctx context.Context, orgID string, filter audit.Filter) ([]audit.Event, error)
}

// Documents is the slice of the document service the workflow drives.
type Documents interface {
	Lookup(ctx context.Context, orgID, id string) (document.Document, error)
	Open(ctx context.Context, orgID, id string, variant documents.Variant) (documents.Content, error)
	SetStatus(ctx context.Context, orgID, id string, status document.Status) (document.Document, error)
	AttachSigned(ctx context.Context, orgID, id string, content []byte) (document.Document, error)
}

// Stamper draws stamps onto a PDF.
type Stamper func(r io.ReadSeeker, w io.Writer, stamps []pdf.Stamp) error

// Config holds workflow settings.
type Config struct {
	PublicURL     string
	DefaultExpiry time.Duration
	ReminderAfter time.Duration
}

// Detail is a request with its participants and fields.
type Detail struct {
	signature.Request
	Participants []signature.Participant `json:"participants"`
	Fields       []signature.Field       `json:"fields"`
}

// Service runs the signature request workflow.
type Service struct {
	store     storage.SignatureStore
	users     storage.UserStore
	documents Documents
	perms     *permissions.Service
	notifier  Notifier
	audit     AuditLog
	stamp     Stamper
	clock     clock.Clock
	cfg       Config
	locks     *kmutex.Kmutex
	log       *logger.Logger
}

// New constructs the workflow service. A nil stamper uses pdf.Apply.
func New(store storage.SignatureStore, users storage.UserStore, docs Documents, perms *permissions.Service, notifier Notifier, auditLog AuditLog, stamper Stamper, cfg Config, clk clock.Clock, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("signatures")
	}
	if clk == nil {
		clk = clock.WallClock
	}
	if stamper == nil {
		stamper = pdf.Apply
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")
	return &Service{
		store:     store,
		users:     users,
		documents: docs,
		perms:     perms,
		notifier:  notifier,
		audit:     auditLog,
		stamp:     stamper,
		clock:     clk,
		cfg:       cfg,
		locks:     kmutex.New(),
		log:       log,
	}
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

// withLock serializes work on one request. fn is retried when the store
// reports a version conflict so it always acts on fresh state.
func (s *Service) withLock(requestID string, fn func() error) error {
	s.locks.Lock(requestID)
	defer s.locks.Unlock(requestID)

	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if !svcerrors.Is(err, storage.ErrVersionConflict) {
			return err
		}
		s.log.WithField("request_id", requestID).WithField("attempt", attempt+1).Debug("version conflict, retrying")
	}
	return svcerrors.Conflict("signature request was modified concurrently")
}

// transition moves req to status and persists it.
func (s *Service) transition(ctx context.Context, req signature.Request, to signature.Status) (signature.Request, error) {
	from := req.Status
	if !signature.CanTransition(from, to) {
		return signature.Request{}, svcerrors.InvalidState("cannot move request from " + string(from) + " to " + string(to)).
			WithDetails("status", string(from))
	}
	req.Status = to
	now := s.now()
	switch to {
	case signature.StatusInProgress:
		req.SentAt = &now
	case signature.StatusCompleted:
		req.CompletedAt = &now
	}
	updated, err := s.store.UpdateRequest(ctx, req)
	if err != nil {
		return signature.Request{}, err
	}
	metrics.RecordTransition(string(from), string(to))
	s.log.WithContext(ctx).
		WithField("request_id", req.ID).
		WithField("from", from).
		WithField("to", to).
		Info("signature request transitioned")
	return updated, nil
}

func (s *Service) record(ctx context.Context, orgID string, actorType audit.ActorType, actorID, action, requestID string, meta map[string]string) {
	if s.audit == nil {
		return
	}
	if _, err := s.audit.Record(ctx, audit.Event{
		OrganizationID: orgID,
		ActorType:      actorType,
		ActorID:        actorID,
		Action:         action,
		ResourceType:   "signature_request",
		ResourceID:     requestID,
		Metadata:       meta,
		IP:             logger.GetClientIP(ctx),
	}); err != nil {
		s.log.WithError(err).WithField("action", action).Warn("record audit event failed")
	}
}

func (s *Service) notify(ctx context.Context, orgID string, kind notification.Kind, to string, data map[string]any) {
	if s.notifier == nil {
		return
	}
	if _, err := s.notifier.Enqueue(ctx, orgID, kind, to, data); err != nil {
		s.log.WithContext(ctx).WithError(err).
			WithField("kind", kind).
			WithField("to", to).
			Error("enqueue notification failed")
	}
}

// issueLink mints a fresh access token for p, storing only its hash on p,
// and returns the signing link. Links emailed earlier stop working once p is
// saved.
func (s *Service) issueLink(p *signature.Participant) (string, error) {
	token, err := auth.NewToken()
	if err != nil {
		return "", svcerrors.Internal("generate access token", err)
	}
	p.TokenHash = auth.HashToken(token)
	return s.cfg.PublicURL + "/sign/" + token, nil
}

func (s *Service) userName(ctx context.Context, userID string) (name, email string) {
	if s.users == nil || userID == "" {
		return "", ""
	}
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return "", ""
	}
	name = u.Name
	if name == "" {
		name = u.Email
	}
	return name, u.Email
}

func (s *Service) loadRequest(ctx context.Context, orgID, id string) (signature.Request, error) {
	req, err := s.store.GetRequest(ctx, orgID, id)
	if err != nil {
		if svcerrors.Is(err, storage.ErrNotFound) {
			return signature.Request{}, svcerrors.NotFound("signature request", id)
		}
		return signature.Request{}, err
	}
	return req, nil
}

func (s *Service) detail(ctx context.Context, req signature.Request) (Detail, error) {
	ps, err := s.store.ListParticipants(ctx, req.ID)
	if err != nil {
		return Detail{}, err
	}
	fields, err := s.store.ListFields(ctx, req.ID)
	if err != nil {
		return Detail{}, err
	}
	return Detail{Request: req, Participants: ps, Fields: fields}, nil
}

// authorize loads the request and checks the caller's level on its document.
func (s *Service) authorize(ctx context.Context, orgID, userID, id string, level permission.Level) (signature.Request, error) {
	access, err := s.perms.Access(ctx, orgID, userID)
	if err != nil {
		return signature.Request{}, err
	}
	req, err := s.loadRequest(ctx, orgID, id)
	if err != nil {
		return signature.Request{}, err
	}
	if req.CreatedBy == userID {
		return req, nil
	}
	doc, err := s.documents.Lookup(ctx, orgID, req.DocumentID)
	if err != nil {
		return signature.Request{}, svcerrors.NotFound("signature request", id)
	}
	if err := permissions.Require(access.Document(doc), level, "signature request", id); err != nil {
		return signature.Request{}, err
	}
	return req, nil
}

// Get returns a request the caller can see.
func (s *Service) Get(ctx context.Context, orgID, userID, id string) (Detail, error) {
	req, err := s.authorize(ctx, orgID, userID, id, permission.LevelView)
	if err != nil {
		return Detail{}, err
	}
	return s.detail(ctx, req)
}

// List returns requests whose document the caller can view.
func (s *Service) List(ctx context.Context, orgID, userID string, filter signature.Filter) ([]signature.Request, error) {
	access, err := s.perms.Access(ctx, orgID, userID)
	if err != nil {
		return nil, err
	}
	reqs, err := s.store.ListRequests(ctx, orgID, filter)
	if err != nil {
		return nil, err
	}
	docs := make(map[string]permission.Level)
	out := make([]signature.Request, 0, len(reqs))
	for _, req := range reqs {
		if req.CreatedBy == userID {
			out = append(out, req)
			continue
		}
		level, ok := docs[req.DocumentID]
		if !ok {
			doc, err := s.documents.Lookup(ctx, orgID, req.DocumentID)
			if err == nil {
				level = access.Document(doc)
			}
			docs[req.DocumentID] = level
		}
		if level != permission.LevelNone {
			out = append(out, req)
		}
	}
	return out, nil
}

// AuditTrail returns the events recorded for a request, oldest first.
func (s *Service) AuditTrail(ctx context.Context, orgID, userID, id string) ([]audit.Event, error) {
	if _, err := s.authorize(ctx, orgID, userID, id, permission.LevelView); err != nil {
		return nil, err
	}
	events, err := s.audit.List(ctx, orgID, audit.Filter{ResourceType: "signature_request", ResourceID: id})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

// Send starts a draft request and notifies the first participants.
func (s *Service) Send(ctx context.Context, orgID, userID, id string) (Detail, error) {
	if _, err := s.authorize(ctx, orgID, userID, id, permission.LevelEdit); err != nil {
		return Detail{}, err
	}
	var out Detail
	err := s.withLock(id, func() error {
		req, err := s.loadRequest(ctx, orgID, id)
		if err != nil {
			return err
		}
		if req.Status != signature.StatusDraft {
			return svcerrors.InvalidState("only draft requests can be sent").WithDetails("status", string(req.Status))
		}
		if req.Expired(s.now()) {
			return svcerrors.InvalidState("request expiry is in the past")
		}
		doc, err := s.documents.Lookup(ctx, orgID, req.DocumentID)
		if err != nil {
			return err
		}
		switch {
		case doc.Deleted():
			return svcerrors.InvalidState("document has been deleted")
		case doc.Status == document.StatusArchived:
			return svcerrors.InvalidState("document is archived")
		case doc.Status == document.StatusPending:
			return svcerrors.InvalidState("document is already out for signature")
		}

		req, err = s.transition(ctx, req, signature.StatusInProgress)
		if err != nil {
			return err
		}
		if _, err := s.documents.SetStatus(ctx, orgID, doc.ID, document.StatusPending); err != nil {
			return err
		}
		ps, err := s.store.ListParticipants(ctx, req.ID)
		if err != nil {
			return err
		}
		if err := s.notifyNext(ctx, req, doc, ps); err != nil {
			return err
		}
		s.record(ctx, orgID, audit.ActorUser, userID, "signature_request.sent", req.ID, nil)
		out, err = s.detail(ctx, req)
		return err
	})
	return out, err
}

// notifyNext moves the participants whose turn it is to notified and emails
// them.
func (s *Service) notifyNext(ctx context.Context, req signature.Request, doc document.Document, ps []signature.Participant) error {
	next := signature.NextToNotify(req.WorkflowType, ps)
	if len(next) == 0 {
		return nil
	}
	sender, _ := s.userName(ctx, req.CreatedBy)
	now := s.now()
	for _, p := range next {
		p.Status = signature.ParticipantNotified
		p.NotifiedAt = &now
		link, err := s.issueLink(&p)
		if err != nil {
			return err
		}
		if _, err := s.store.UpdateParticipant(ctx, p); err != nil {
			return err
		}
		data := map[string]any{
			"Name":         p.Name,
			"Sender":       sender,
			"Action":       action(p.Role),
			"Title":        req.Title,
			"DocumentName": doc.Name,
			"DocumentSize": doc.Size,
			"Message":      req.Message,
			"Link":         link,
		}
		if req.WorkflowType == signature.WorkflowSequential {
			data["Position"] = p.Order
		}
		if req.ExpiresAt != nil {
			data["ExpiresAt"] = *req.ExpiresAt
		}
		s.notify(ctx, req.OrganizationID, notification.KindSignatureRequested, p.Email, data)
		s.record(ctx, req.OrganizationID, audit.ActorSystem, "", "participant.notified", req.ID,
			map[string]string{"participant_id": p.ID, "email": p.Email})
	}
	return nil
}

func action(role signature.Role) string {
	if role == signature.RoleApprover {
		return "approve"
	}
	return "sign"
}

// Cancel stops a draft or in-progress request.
func (s *Service) Cancel(ctx context.Context, orgID, userID, id string) (Detail, error) {
	if _, err := s.authorize(ctx, orgID, userID, id, permission.LevelEdit); err != nil {
		return Detail{}, err
	}
	var out Detail
	err := s.withLock(id, func() error {
		req, err := s.loadRequest(ctx, orgID, id)
		if err != nil {
			return err
		}
		wasActive := req.Status == signature.StatusInProgress
		req, err = s.transition(ctx, req, signature.StatusCancelled)
		if err != nil {
			return err
		}
		if wasActive {
			if _, err := s.documents.SetStatus(ctx, orgID, req.DocumentID, document.StatusDraft); err != nil {
				s.log.WithError(err).WithField("document_id", req.DocumentID).Warn("reset document status failed")
			}
			ps, err := s.store.ListParticipants(ctx, req.ID)
			if err != nil {
				return err
			}
			sender, _ := s.userName(ctx, userID)
			for _, p := range ps {
				if p.NotifiedAt == nil {
					continue
				}
				s.notify(ctx, orgID, notification.KindRequestCancelled, p.Email, map[string]any{
					"Name": p.Name, "Title": req.Title, "Sender": sender,
				})
			}
		}
		s.record(ctx, orgID, audit.ActorUser, userID, "signature_request.cancelled", req.ID, nil)
		out, err = s.detail(ctx, req)
		return err
	})
	return out, err
}

// Remind re-sends the request email to every participant whose turn it is
// and returns how many were reminded.
func (s *Service) Remind(ctx context.Context, orgID, userID, id string) (int, error) {
	if _, err := s.authorize(ctx, orgID, userID, id, permission.LevelEdit); err != nil {
		return 0, err
	}
	var count int
	err := s.withLock(id, func() error {
		req, err := s.loadRequest(ctx, orgID, id)
		if err != nil {
			return err
		}
		if req.Status != signature.StatusInProgress {
			return svcerrors.InvalidState("only in-progress requests can be reminded").WithDetails("status", string(req.Status))
		}
		count, err = s.remind(ctx, req, func(signature.Participant) bool { return true })
		return err
	})
	if err == nil {
		s.record(ctx, orgID, audit.ActorUser, userID, "signature_request.reminded", id,
			map[string]string{"participants": strconv.Itoa(count)})
	}
	return count, err
}

// remind emails active participants accepted by due.
func (s *Service) remind(ctx context.Context, req signature.Request, due func(signature.Participant) bool) (int, error) {
	ps, err := s.store.ListParticipants(ctx, req.ID)
	if err != nil {
		return 0, err
	}
	sender, _ := s.userName(ctx, req.CreatedBy)
	now := s.now()
	count := 0
	for _, p := range ps {
		if !p.Active() || !due(p) {
			continue
		}
		link, err := s.issueLink(&p)
		if err != nil {
			return count, err
		}
		p.LastRemindedAt = &now
		if _, err := s.store.UpdateParticipant(ctx, p); err != nil {
			return count, err
		}
		data := map[string]any{
			"Name":   p.Name,
			"Sender": sender,
			"Title":  req.Title,
			"Link":   link,
		}
		if p.NotifiedAt != nil {
			data["NotifiedAt"] = *p.NotifiedAt
		}
		s.notify(ctx, req.OrganizationID, notification.KindSignatureReminder, p.Email, data)
		count++
	}
	return count, nil
}
