package documents

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"

	"github.com/R3E-Network/signflow/internal/app/blob"
	"github.com/R3E-Network/signflow/internal/app/domain/document"
	svcerrors "github.com/R3E-Network/signflow/internal/errors"
)

// The methods below serve the signature workflow. They skip user permission
// checks; callers have already authorized the request.

// Lookup returns a document by id within the organization.
func (s *Service) Lookup(ctx context.Context, orgID, id string) (document.Document, error) {
	doc, err := s.store.GetDocument(ctx, orgID, id)
	if err != nil {
		return document.Document{}, notFound(err, id)
	}
	return doc, nil
}

// Open returns the document's original or signed content.
func (s *Service) Open(ctx context.Context, orgID, id string, variant Variant) (Content, error) {
	doc, err := s.Lookup(ctx, orgID, id)
	if err != nil {
		return Content{}, err
	}
	return s.open(ctx, doc, variant)
}

// SetStatus moves the document to status.
func (s *Service) SetStatus(ctx context.Context, orgID, id string, status document.Status) (document.Document, error) {
	if !status.Valid() {
		return document.Document{}, svcerrors.Validationf("invalid document status %q", status)
	}
	doc, err := s.Lookup(ctx, orgID, id)
	if err != nil {
		return document.Document{}, err
	}
	if doc.Status == status {
		return doc, nil
	}
	doc.Status = status
	doc, err = s.store.UpdateDocument(ctx, doc)
	if err != nil {
		return document.Document{}, notFound(err, id)
	}
	return doc, nil
}

// AttachSigned stores the stamped copy, records its hash and marks the
// document completed.
func (s *Service) AttachSigned(ctx context.Context, orgID, id string, content []byte) (document.Document, error) {
	doc, err := s.Lookup(ctx, orgID, id)
	if err != nil {
		return document.Document{}, err
	}
	key := blob.SignedKey(orgID, id)
	if err := s.blobs.Put(ctx, key, bytes.NewReader(content), pdfContentType); err != nil {
		return document.Document{}, svcerrors.Internal("store signed document", err)
	}
	sum := sha256.Sum256(content)
	doc.SignedStorageKey = key
	doc.SignedSHA256 = hex.EncodeToString(sum[:])
	doc.Status = document.StatusCompleted
	doc, err = s.store.UpdateDocument(ctx, doc)
	if err != nil {
		return document.Document{}, notFound(err, id)
	}
	s.log.WithContext(ctx).
		WithField("document_id", id).
		WithField("signed_sha256", doc.SignedSHA256).
		Info("signed document stored")
	return doc, nil
}

// ReadAll is a convenience for callers that need the whole body.
func ReadAll(c Content) ([]byte, error) {
	defer c.Body.Close()
	return io.ReadAll(c.Body)
}
