package document

import "time"

// Status tracks where a document is in its signing life.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusArchived  Status = "archived"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusCompleted, StatusArchived:
		return true
	}
	return false
}

// Document is an uploaded file plus its metadata. Content lives in blob
// storage under StorageKey; the stamped copy produced by a completed
// signature request lives under SignedStorageKey.
type Document struct {
	ID               string     `json:"id"`
	OrganizationID   string     `json:"organization_id"`
	FolderID         string     `json:"folder_id,omitempty"`
	OwnerID          string     `json:"owner_id"`
	Name             string     `json:"name"`
	ContentType      string     `json:"content_type"`
	Size             int64      `json:"size"`
	SHA256           string     `json:"sha256"`
	PageCount        int        `json:"page_count,omitempty"`
	StorageKey       string     `json:"-"`
	SignedStorageKey string     `json:"-"`
	SignedSHA256     string     `json:"signed_sha256,omitempty"`
	Status           Status     `json:"status"`
	TagIDs           []string   `json:"tag_ids"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty"`
}

// IsPDF reports whether the document can be stamped.
func (d Document) IsPDF() bool {
	return d.ContentType == "application/pdf"
}

// Deleted reports whether the document has been soft-deleted.
func (d Document) Deleted() bool {
	return d.DeletedAt != nil
}

// HasSigned reports whether a stamped copy exists.
func (d Document) HasSigned() bool {
	return d.SignedStorageKey != ""
}

// Filter narrows document listings. Zero values match everything.
type Filter struct {
	FolderID       string
	RootOnly       bool
	TagID          string
	Status         Status
	Query          string
	IncludeDeleted bool
}
