package documents

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/R3E-Network/signflow/internal/app/blob"
	"github.com/R3E-Network/signflow/internal/app/domain/audit"
	"github.com/R3E-Network/signflow/internal/app/domain/document"
	"github.com/R3E-Network/signflow/internal/app/domain/organization"
	"github.com/R3E-Network/signflow/internal/app/domain/permission"
	"github.com/R3E-Network/signflow/internal/app/domain/signature"
	"github.com/R3E-Network/signflow/internal/app/metrics"
	"github.com/R3E-Network/signflow/internal/app/pdf"
	"github.com/R3E-Network/signflow/internal/app/services/permissions"
	"github.com/R3E-Network/signflow/internal/app/storage"
	svcerrors "github.com/R3E-Network/signflow/internal/errors"
	"github.com/R3E-Network/signflow/pkg/logger"
)

// MaxUploadSize is the largest accepted document.
const MaxUploadSize int64 = 25 << 20

const pdfContentType = "application/pdf"

// Variant selects which copy of a document to download.
type Variant string

const (
	VariantOriginal Variant = "original"
	VariantSigned   Variant = "signed"
)

// Auditor records audit events.
type Auditor interface {
	Record(ctx context.Context, e audit.Event) (audit.Event, error)
}

// UploadInput describes a new document.
type UploadInput struct {
	FolderID    string
	Name        string
	ContentType string
	Body        io.Reader
}

// Content is an open document body. The caller closes Body.
type Content struct {
	Document    document.Document
	Body        io.ReadCloser
	FileName    string
	ContentType string
}

// Service manages documents and their stored content.
type Service struct {
	store      storage.DocumentStore
	folders    storage.FolderStore
	signatures storage.SignatureStore
	perms      *permissions.Service
	blobs      blob.Store
	audit      Auditor
	clock      clock.Clock
	log        *logger.Logger
}

// New constructs a document service.
func New(store storage.DocumentStore, folders storage.FolderStore, signatures storage.SignatureStore, perms *permissions.Service, blobs blob.Store, auditor Auditor, clk clock.Clock, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("documents")
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &Service{
		store:      store,
		folders:    folders,
		signatures: signatures,
		perms:      perms,
		blobs:      blobs,
		audit:      auditor,
		clock:      clk,
		log:        log,
	}
}

func (s *Service) record(ctx context.Context, orgID, userID, action, docID string, meta map[string]string) {
	if s.audit == nil {
		return
	}
	_, _ = s.audit.Record(ctx, audit.Event{
		OrganizationID: orgID,
		ActorType:      audit.ActorUser,
		ActorID:        userID,
		Action:         action,
		ResourceType:   string(permission.ResourceDocument),
		ResourceID:     docID,
		Metadata:       meta,
		IP:             logger.GetClientIP(ctx),
	})
}

func cleanName(name string) (string, error) {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "" || name == "." || name == "/" {
		return "", svcerrors.Validation("name is required")
	}
	if len(name) > 255 {
		return "", svcerrors.Validation("name must be at most 255 characters")
	}
	return name, nil
}

func notFound(err error, id string) error {
	if svcerrors.Is(err, storage.ErrNotFound) {
		return svcerrors.NotFound("document", id)
	}
	return err
}

// load fetches a document and checks the caller's level on it. Deleted
// documents are only reachable when allowDeleted is set.
func (s *Service) load(ctx context.Context, orgID, userID, id string, level permission.Level, allowDeleted bool) (document.Document, *permissions.Access, error) {
	access, err := s.perms.Access(ctx, orgID, userID)
	if err != nil {
		return document.Document{}, nil, err
	}
	doc, err := s.store.GetDocument(ctx, orgID, id)
	if err != nil {
		return document.Document{}, nil, notFound(err, id)
	}
	if doc.Deleted() && !allowDeleted {
		return document.Document{}, nil, svcerrors.NotFound("document", id)
	}
	if err := permissions.Require(access.Document(doc), level, "document", id); err != nil {
		return document.Document{}, nil, err
	}
	return doc, access, nil
}

// checkFolderTarget verifies the caller may place documents in folderID.
func (s *Service) checkFolderTarget(ctx context.Context, orgID string, access *permissions.Access, folderID string) error {
	if folderID == "" {
		if !access.Role.AtLeast(organization.RoleMember) {
			return svcerrors.Forbidden("viewers cannot add documents")
		}
		return nil
	}
	if _, err := s.folders.GetFolder(ctx, orgID, folderID); err != nil {
		if svcerrors.Is(err, storage.ErrNotFound) {
			return svcerrors.NotFound("folder", folderID)
		}
		return err
	}
	return permissions.Require(access.Folder(folderID), permission.LevelEdit, "folder", folderID)
}

// Upload stores a new document. Content is hashed while it is read and must
// not exceed MaxUploadSize. PDFs must parse.
func (s *Service) Upload(ctx context.Context, orgID, userID string, in UploadInput) (document.Document, error) {
	name, err := cleanName(in.Name)
	if err != nil {
		return document.Document{}, err
	}
	if in.Body == nil {
		return document.Document{}, svcerrors.Validation("file is required")
	}
	access, err := s.perms.Access(ctx, orgID, userID)
	if err != nil {
		return document.Document{}, err
	}
	if err := s.checkFolderTarget(ctx, orgID, access, in.FolderID); err != nil {
		return document.Document{}, err
	}

	hasher := sha256.New()
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.TeeReader(io.LimitReader(in.Body, MaxUploadSize+1), hasher))
	if err != nil {
		return document.Document{}, svcerrors.Validation("could not read upload")
	}
	if n > MaxUploadSize {
		return document.Document{}, svcerrors.TooLarge(MaxUploadSize)
	}
	if n == 0 {
		return document.Document{}, svcerrors.Validation("file is empty")
	}
	data := buf.Bytes()

	contentType := strings.TrimSpace(strings.SplitN(in.ContentType, ";", 2)[0])
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = strings.SplitN(http.DetectContentType(data), ";", 2)[0]
	}
	pages := 0
	if contentType == pdfContentType || bytes.HasPrefix(data, []byte("%PDF-")) {
		contentType = pdfContentType
		pages, err = pdf.PageCount(bytes.NewReader(data))
		if err != nil || pages < 1 {
			return document.Document{}, svcerrors.Validation("file is not a readable PDF")
		}
	}

	id := uuid.NewString()
	key := blob.DocumentKey(orgID, id)
	if err := s.blobs.Put(ctx, key, bytes.NewReader(data), contentType); err != nil {
		return document.Document{}, svcerrors.Internal("store document", err)
	}

	doc, err := s.store.CreateDocument(ctx, document.Document{
		ID:             id,
		OrganizationID: orgID,
		FolderID:       in.FolderID,
		OwnerID:        userID,
		Name:           name,
		ContentType:    contentType,
		Size:           n,
		SHA256:         hex.EncodeToString(hasher.Sum(nil)),
		PageCount:      pages,
		StorageKey:     key,
		Status:         document.StatusDraft,
	})
	if err != nil {
		if derr := s.blobs.Delete(ctx, key); derr != nil {
			s.log.WithError(derr).WithField("key", key).Warn("cleanup orphaned blob failed")
		}
		return document.Document{}, err
	}

	metrics.ObserveUpload(n)
	s.record(ctx, orgID, userID, "document.uploaded", doc.ID, map[string]string{"name": name, "sha256": doc.SHA256})
	s.log.WithContext(ctx).
		WithField("document_id", doc.ID).
		WithField("organization_id", orgID).
		WithField("size", n).
		Info("document uploaded")
	return doc, nil
}

// Get returns a document the caller can view.
func (s *Service) Get(ctx context.Context, orgID, userID, id string) (document.Document, error) {
	doc, _, err := s.load(ctx, orgID, userID, id, permission.LevelView, false)
	return doc, err
}

// Download opens the original or signed copy.
func (s *Service) Download(ctx context.Context, orgID, userID, id string, variant Variant) (Content, error) {
	doc, _, err := s.load(ctx, orgID, userID, id, permission.LevelView, false)
	if err != nil {
		return Content{}, err
	}
	content, err := s.open(ctx, doc, variant)
	if err != nil {
		return Content{}, err
	}
	s.record(ctx, orgID, userID, "document.downloaded", id, map[string]string{"variant": string(variant)})
	return content, nil
}

func (s *Service) open(ctx context.Context, doc document.Document, variant Variant) (Content, error) {
	key := doc.StorageKey
	name := doc.Name
	switch variant {
	case "", VariantOriginal:
	case VariantSigned:
		if !doc.HasSigned() {
			return Content{}, svcerrors.NotFound("signed document", doc.ID)
		}
		key = doc.SignedStorageKey
		name = signedName(doc.Name)
	default:
		return Content{}, svcerrors.Validationf("unknown variant %q", variant)
	}
	body, err := s.blobs.Get(ctx, key)
	if err != nil {
		if svcerrors.Is(err, blob.ErrNotFound) {
			return Content{}, svcerrors.NotFound("document content", doc.ID)
		}
		return Content{}, err
	}
	contentType := doc.ContentType
	if variant == VariantSigned {
		contentType = pdfContentType
	}
	return Content{Document: doc, Body: body, FileName: name, ContentType: contentType}, nil
}

func signedName(name string) string {
	ext := path.Ext(name)
	return strings.TrimSuffix(name, ext) + "-signed" + ext
}

// List returns documents matching filter that the caller can view. Deleted
// documents are only listed for callers with edit access.
func (s *Service) List(ctx context.Context, orgID, userID string, filter document.Filter) ([]document.Document, error) {
	access, err := s.perms.Access(ctx, orgID, userID)
	if err != nil {
		return nil, err
	}
	docs, err := s.store.ListDocuments(ctx, orgID, filter)
	if err != nil {
		return nil, err
	}
	out := make([]document.Document, 0, len(docs))
	for _, doc := range docs {
		level := access.Document(doc)
		if level == permission.LevelNone {
			continue
		}
		if doc.Deleted() && !level.Includes(permission.LevelEdit) {
			continue
		}
		out = append(out, doc)
	}
	return out, nil
}

// Rename changes the display name.
func (s *Service) Rename(ctx context.Context, orgID, userID, id, name string) (document.Document, error) {
	name, err := cleanName(name)
	if err != nil {
		return document.Document{}, err
	}
	doc, _, err := s.load(ctx, orgID, userID, id, permission.LevelEdit, false)
	if err != nil {
		return document.Document{}, err
	}
	old := doc.Name
	doc.Name = name
	doc, err = s.store.UpdateDocument(ctx, doc)
	if err != nil {
		return document.Document{}, notFound(err, id)
	}
	s.record(ctx, orgID, userID, "document.renamed", id, map[string]string{"from": old, "to": name})
	return doc, nil
}

// Move places the document in folderID ("" for the root).
func (s *Service) Move(ctx context.Context, orgID, userID, id, folderID string) (document.Document, error) {
	doc, access, err := s.load(ctx, orgID, userID, id, permission.LevelManage, false)
	if err != nil {
		return document.Document{}, err
	}
	if doc.FolderID == folderID {
		return doc, nil
	}
	if err := s.checkFolderTarget(ctx, orgID, access, folderID); err != nil {
		return document.Document{}, err
	}
	from := doc.FolderID
	doc.FolderID = folderID
	doc, err = s.store.UpdateDocument(ctx, doc)
	if err != nil {
		return document.Document{}, notFound(err, id)
	}
	s.record(ctx, orgID, userID, "document.moved", id, map[string]string{"from": from, "to": folderID})
	return doc, nil
}

// Archive marks the document archived. Documents out for signature cannot
// be archived.
func (s *Service) Archive(ctx context.Context, orgID, userID, id string) (document.Document, error) {
	doc, _, err := s.load(ctx, orgID, userID, id, permission.LevelEdit, false)
	if err != nil {
		return document.Document{}, err
	}
	if doc.Status == document.StatusArchived {
		return doc, nil
	}
	if err := s.ensureNotInSigning(ctx, orgID, id); err != nil {
		return document.Document{}, err
	}
	doc.Status = document.StatusArchived
	doc, err = s.store.UpdateDocument(ctx, doc)
	if err != nil {
		return document.Document{}, notFound(err, id)
	}
	s.record(ctx, orgID, userID, "document.archived", id, nil)
	return doc, nil
}

func (s *Service) ensureNotInSigning(ctx context.Context, orgID, id string) error {
	active, err := s.signatures.ListRequests(ctx, orgID, signature.Filter{DocumentID: id, Status: signature.StatusInProgress})
	if err != nil {
		return err
	}
	if len(active) > 0 {
		return svcerrors.InvalidState("document is part of an in-progress signature request").
			WithDetails("request_id", active[0].ID)
	}
	return nil
}

// Delete soft-deletes the document. Content is kept so Restore can undo it.
func (s *Service) Delete(ctx context.Context, orgID, userID, id string) error {
	doc, _, err := s.load(ctx, orgID, userID, id, permission.LevelManage, false)
	if err != nil {
		return err
	}
	if err := s.ensureNotInSigning(ctx, orgID, id); err != nil {
		return err
	}
	now := s.clock.Now().UTC()
	doc.DeletedAt = &now
	if _, err := s.store.UpdateDocument(ctx, doc); err != nil {
		return notFound(err, id)
	}
	s.record(ctx, orgID, userID, "document.deleted", id, nil)
	s.log.WithContext(ctx).WithField("document_id", id).Info("document deleted")
	return nil
}

// Restore undoes a soft delete. A folder removed in the meantime puts the
// document back at the root.
func (s *Service) Restore(ctx context.Context, orgID, userID, id string) (document.Document, error) {
	doc, _, err := s.load(ctx, orgID, userID, id, permission.LevelManage, true)
	if err != nil {
		return document.Document{}, err
	}
	if !doc.Deleted() {
		return doc, nil
	}
	if doc.FolderID != "" {
		if _, err := s.folders.GetFolder(ctx, orgID, doc.FolderID); err != nil {
			doc.FolderID = ""
		}
	}
	doc.DeletedAt = nil
	doc, err = s.store.UpdateDocument(ctx, doc)
	if err != nil {
		return document.Document{}, notFound(err, id)
	}
	s.record(ctx, orgID, userID, "document.restored", id, nil)
	return doc, nil
}

// Tag attaches a tag.
func (s *Service) Tag(ctx context.Context, orgID, userID, id, tagID string) (document.Document, error) {
	if _, _, err := s.load(ctx, orgID, userID, id, permission.LevelEdit, false); err != nil {
		return document.Document{}, err
	}
	if err := s.store.AddDocumentTag(ctx, orgID, id, tagID); err != nil {
		if svcerrors.Is(err, storage.ErrNotFound) {
			return document.Document{}, svcerrors.NotFound("tag", tagID)
		}
		return document.Document{}, err
	}
	s.record(ctx, orgID, userID, "document.tagged", id, map[string]string{"tag_id": tagID})
	return s.store.GetDocument(ctx, orgID, id)
}

// Untag detaches a tag.
func (s *Service) Untag(ctx context.Context, orgID, userID, id, tagID string) (document.Document, error) {
	if _, _, err := s.load(ctx, orgID, userID, id, permission.LevelEdit, false); err != nil {
		return document.Document{}, err
	}
	if err := s.store.RemoveDocumentTag(ctx, orgID, id, tagID); err != nil {
		return document.Document{}, notFound(err, id)
	}
	s.record(ctx, orgID, userID, "document.untagged", id, map[string]string{"tag_id": tagID})
	return s.store.GetDocument(ctx, orgID, id)
}
