package httpapi

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"

	"github.com/R3E-Network/signflow/internal/app/domain/document"
	"github.com/R3E-Network/signflow/internal/app/services/documents"
	"github.com/R3E-Network/signflow/internal/httputil"
)

// multipartSlack covers multipart framing and the small form fields sent
// alongside the file.
const multipartSlack = 1 << 20

func (h *handler) registerDocuments(r *mux.Router) {
	r.HandleFunc("/documents", h.listDocuments).Methods(http.MethodGet)
	r.HandleFunc("/documents", h.uploadDocument).Methods(http.MethodPost)
	r.HandleFunc("/documents/{id}", h.getDocument).Methods(http.MethodGet)
	r.HandleFunc("/documents/{id}", h.updateDocument).Methods(http.MethodPatch)
	r.HandleFunc("/documents/{id}", h.deleteDocument).Methods(http.MethodDelete)
	r.HandleFunc("/documents/{id}/download", h.downloadDocument).Methods(http.MethodGet)
	r.HandleFunc("/documents/{id}/archive", h.archiveDocument).Methods(http.MethodPost)
	r.HandleFunc("/documents/{id}/restore", h.restoreDocument).Methods(http.MethodPost)
	r.HandleFunc("/documents/{id}/tags/{tag}", h.tagDocument).Methods(http.MethodPut)
	r.HandleFunc("/documents/{id}/tags/{tag}", h.untagDocument).Methods(http.MethodDelete)
}

type documentView struct {
	document.Document
	SizeHuman string `json:"size_human"`
}

func viewDocument(doc document.Document) documentView {
	return documentView{Document: doc, SizeHuman: humanize.Bytes(uint64(doc.Size))}
}

func documentFilter(r *http.Request) (document.Filter, error) {
	q := r.URL.Query()
	filter := document.Filter{
		FolderID: q.Get("folder_id"),
		TagID:    q.Get("tag_id"),
		Status:   document.Status(q.Get("status")),
		Query:    strings.TrimSpace(q.Get("q")),
	}
	for name, dst := range map[string]*bool{"root": &filter.RootOnly, "include_deleted": &filter.IncludeDeleted} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, err
		}
		*dst = v
	}
	return filter, nil
}

func (h *handler) listDocuments(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := caller(w, r)
	if !ok {
		return
	}
	filter, err := documentFilter(r)
	if err != nil {
		invalid(w, r, "root and include_deleted must be booleans")
		return
	}
	if filter.Status != "" && !filter.Status.Valid() {
		invalid(w, r, "unknown status %q", filter.Status)
		return
	}
	docs, err := h.app.Documents.List(r.Context(), orgID, userID, filter)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	out := make([]documentView, 0, len(docs))
	for _, doc := range docs {
		out = append(out, viewDocument(doc))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// uploadDocument streams a multipart upload. Optional folder_id and name
// fields must precede the file part.
func (h *handler) uploadDocument(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := caller(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, documents.MaxUploadSize+multipartSlack)
	reader, err := r.MultipartReader()
	if err != nil {
		invalid(w, r, "expected a multipart/form-data upload")
		return
	}

	var in documents.UploadInput
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			invalid(w, r, "file part is required")
			return
		}
		if err != nil {
			invalid(w, r, "malformed multipart body")
			return
		}
		switch part.FormName() {
		case "folder_id", "name":
			value, err := io.ReadAll(io.LimitReader(part, 1024))
			part.Close()
			if err != nil {
				invalid(w, r, "malformed multipart body")
				return
			}
			if part.FormName() == "folder_id" {
				in.FolderID = strings.TrimSpace(string(value))
			} else {
				in.Name = string(value)
			}
		case "file":
			if in.Name == "" {
				in.Name = part.FileName()
			}
			in.ContentType = part.Header.Get("Content-Type")
			in.Body = part
			doc, err := h.app.Documents.Upload(r.Context(), orgID, userID, in)
			part.Close()
			if err != nil {
				httputil.WriteError(w, r, err)
				return
			}
			httputil.WriteJSON(w, http.StatusCreated, viewDocument(doc))
			return
		default:
			part.Close()
		}
	}
}

func (h *handler) getDocument(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := caller(w, r)
	if !ok {
		return
	}
	doc, err := h.app.Documents.Get(r.Context(), orgID, userID, vars(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, viewDocument(doc))
}

func (h *handler) downloadDocument(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := caller(w, r)
	if !ok {
		return
	}
	variant := documents.Variant(r.URL.Query().Get("variant"))
	content, err := h.app.Documents.Download(r.Context(), orgID, userID, vars(r, "id"), variant)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.stream(w, r, content, variant != documents.VariantSigned)
}

// stream copies document content to the client. The stored size is only
// known for originals.
func (h *handler) stream(w http.ResponseWriter, r *http.Request, content documents.Content, original bool) {
	defer content.Body.Close()
	var size int64
	if original {
		size = content.Document.Size
	}
	httputil.Attachment(w, content.FileName, content.ContentType, size)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, content.Body); err != nil {
		h.log.WithContext(r.Context()).WithError(err).WithField("document_id", content.Document.ID).Warn("download interrupted")
	}
}

func (h *handler) updateDocument(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := caller(w, r)
	if !ok {
		return
	}
	var payload struct {
		Name     *string `json:"name"`
		FolderID *string `json:"folder_id"`
	}
	if !decode(w, r, &payload) {
		return
	}
	if payload.Name == nil && payload.FolderID == nil {
		invalid(w, r, "name or folder_id is required")
		return
	}
	id := vars(r, "id")
	var (
		doc document.Document
		err error
	)
	if payload.Name != nil {
		if doc, err = h.app.Documents.Rename(r.Context(), orgID, userID, id, *payload.Name); err != nil {
			httputil.WriteError(w, r, err)
			return
		}
	}
	if payload.FolderID != nil {
		if doc, err = h.app.Documents.Move(r.Context(), orgID, userID, id, *payload.FolderID); err != nil {
			httputil.WriteError(w, r, err)
			return
		}
	}
	httputil.WriteJSON(w, http.StatusOK, viewDocument(doc))
}

func (h *handler) deleteDocument(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := caller(w, r)
	if !ok {
		return
	}
	if err := h.app.Documents.Delete(r.Context(), orgID, userID, vars(r, "id")); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) archiveDocument(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := caller(w, r)
	if !ok {
		return
	}
	doc, err := h.app.Documents.Archive(r.Context(), orgID, userID, vars(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, viewDocument(doc))
}

func (h *handler) restoreDocument(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := caller(w, r)
	if !ok {
		return
	}
	doc, err := h.app.Documents.Restore(r.Context(), orgID, userID, vars(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, viewDocument(doc))
}

func (h *handler) tagDocument(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := caller(w, r)
	if !ok {
		return
	}
	doc, err := h.app.Documents.Tag(r.Context(), orgID, userID, vars(r, "id"), vars(r, "tag"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, viewDocument(doc))
}

func (h *handler) untagDocument(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := caller(w, r)
	if !ok {
		return
	}
	doc, err := h.app.Documents.Untag(r.Context(), orgID, userID, vars(r, "id"), vars(r, "tag"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, viewDocument(doc))
}
