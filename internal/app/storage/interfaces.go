package storage

import (
	"context"
	"errors"
	"time"

	"github.com/R3E-Network/signflow/internal/app/domain/audit"
	"github.com/R3E-Network/signflow/internal/app/domain/document"
	"github.com/R3E-Network/signflow/internal/app/domain/folder"
	"github.com/R3E-Network/signflow/internal/app/domain/notification"
	"github.com/R3E-Network/signflow/internal/app/domain/organization"
	"github.com/R3E-Network/signflow/internal/app/domain/permission"
	"github.com/R3E-Network/signflow/internal/app/domain/signature"
	"github.com/R3E-Network/signflow/internal/app/domain/tag"
	"github.com/R3E-Network/signflow/internal/app/domain/user"
)

var (
	// ErrNotFound is returned when a record does not exist (or is outside the
	// caller's organization).
	ErrNotFound = errors.New("storage: not found")
	// ErrDuplicate is returned on unique-key violations.
	ErrDuplicate = errors.New("storage: duplicate")
	// ErrVersionConflict is returned when an optimistic update loses a race.
	ErrVersionConflict = errors.New("storage: version conflict")
)

// UserStore persists users and password reset grants.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) (user.User, error)
	UpdateUser(ctx context.Context, u user.User) (user.User, error)
	GetUser(ctx context.Context, id string) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)

	CreatePasswordReset(ctx context.Context, r user.PasswordReset) (user.PasswordReset, error)
	GetPasswordResetByHash(ctx context.Context, tokenHash string) (user.PasswordReset, error)
	MarkPasswordResetUsed(ctx context.Context, id string, at time.Time) error
}

// SessionStore persists login sessions. It is split from UserStore so that
// sessions can live in redis while everything else lives in postgres.
type SessionStore interface {
	CreateSession(ctx context.Context, s user.Session) (user.Session, error)
	GetSessionByHash(ctx context.Context, tokenHash string) (user.Session, error)
	DeleteSession(ctx context.Context, id string) error
	DeleteUserSessions(ctx context.Context, userID string, exceptID string) error
}

// OrganizationStore persists organizations, memberships and invitations.
type OrganizationStore interface {
	CreateOrganization(ctx context.Context, org organization.Organization) (organization.Organization, error)
	UpdateOrganization(ctx context.Context, org organization.Organization) (organization.Organization, error)
	GetOrganization(ctx context.Context, id string) (organization.Organization, error)
	GetOrganizationBySlug(ctx context.Context, slug string) (organization.Organization, error)
	ListOrganizationsForUser(ctx context.Context, userID string) ([]organization.Organization, error)

	UpsertMember(ctx context.Context, m organization.Member) (organization.Member, error)
	GetMember(ctx context.Context, orgID, userID string) (organization.Member, error)
	ListMembers(ctx context.Context, orgID string) ([]organization.Member, error)
	DeleteMember(ctx context.Context, orgID, userID string) error

	CreateInvitation(ctx context.Context, inv organization.Invitation) (organization.Invitation, error)
	GetInvitationByHash(ctx context.Context, tokenHash string) (organization.Invitation, error)
	ListInvitations(ctx context.Context, orgID string) ([]organization.Invitation, error)
	MarkInvitationAccepted(ctx context.Context, id string, at time.Time) error
}

// DocumentStore persists document metadata and tag assignments.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc document.Document) (document.Document, error)
	UpdateDocument(ctx context.Context, doc document.Document) (document.Document, error)
	GetDocument(ctx context.Context, orgID, id string) (document.Document, error)
	ListDocuments(ctx context.Context, orgID string, filter document.Filter) ([]document.Document, error)
	MoveDocumentsToRoot(ctx context.Context, orgID string, folderIDs []string) error

	AddDocumentTag(ctx context.Context, orgID, documentID, tagID string) error
	RemoveDocumentTag(ctx context.Context, orgID, documentID, tagID string) error
}

// FolderStore persists folders.
type FolderStore interface {
	CreateFolder(ctx context.Context, f folder.Folder) (folder.Folder, error)
	UpdateFolder(ctx context.Context, f folder.Folder) (folder.Folder, error)
	GetFolder(ctx context.Context, orgID, id string) (folder.Folder, error)
	ListFolders(ctx context.Context, orgID string) ([]folder.Folder, error)
	DeleteFolders(ctx context.Context, orgID string, ids []string) error
}

// TagStore persists tags.
type TagStore interface {
	CreateTag(ctx context.Context, t tag.Tag) (tag.Tag, error)
	UpdateTag(ctx context.Context, t tag.Tag) (tag.Tag, error)
	GetTag(ctx context.Context, orgID, id string) (tag.Tag, error)
	ListTags(ctx context.Context, orgID string) ([]tag.Tag, error)
	// DeleteTag removes the tag and detaches it from every document.
	DeleteTag(ctx context.Context, orgID, id string) error
}

// PermissionStore persists resource grants.
type PermissionStore interface {
	// UpsertGrant creates or replaces the grant for (resource, user).
	UpsertGrant(ctx context.Context, g permission.Grant) (permission.Grant, error)
	DeleteGrant(ctx context.Context, orgID, id string) error
	ListGrants(ctx context.Context, orgID string, resourceType permission.ResourceType, resourceID string) ([]permission.Grant, error)
	ListUserGrants(ctx context.Context, orgID, userID string) ([]permission.Grant, error)
}

// SignatureStore persists signature requests, participants and fields.
type SignatureStore interface {
	// CreateRequest stores the request together with its participants and
	// fields atomically.
	CreateRequest(ctx context.Context, req signature.Request, participants []signature.Participant, fields []signature.Field) (signature.Request, error)
	// UpdateRequest bumps Version and fails with ErrVersionConflict when the
	// stored version differs from req.Version.
	UpdateRequest(ctx context.Context, req signature.Request) (signature.Request, error)
	GetRequest(ctx context.Context, orgID, id string) (signature.Request, error)
	ListRequests(ctx context.Context, orgID string, filter signature.Filter) ([]signature.Request, error)
	ListRequestsByStatus(ctx context.Context, status signature.Status) ([]signature.Request, error)

	UpdateParticipant(ctx context.Context, p signature.Participant) (signature.Participant, error)
	// GetParticipantByTokenHash looks a participant up by the hash of its
	// signing link token. Raw tokens are never stored.
	GetParticipantByTokenHash(ctx context.Context, hash string) (signature.Participant, error)
	ListParticipants(ctx context.Context, requestID string) ([]signature.Participant, error)

	UpdateFields(ctx context.Context, fields []signature.Field) error
	ListFields(ctx context.Context, requestID string) ([]signature.Field, error)
}

// AuditStore persists audit events.
type AuditStore interface {
	CreateEvent(ctx context.Context, e audit.Event) (audit.Event, error)
	ListEvents(ctx context.Context, orgID string, filter audit.Filter) ([]audit.Event, error)
}

// NotificationStore persists the email outbox.
type NotificationStore interface {
	CreateMessage(ctx context.Context, m notification.Message) (notification.Message, error)
	UpdateMessage(ctx context.Context, m notification.Message) (notification.Message, error)
	GetMessage(ctx context.Context, id string) (notification.Message, error)
	GetMessageByProviderID(ctx context.Context, providerID string) (notification.Message, error)
	// ListDueMessages returns pending messages whose NextAttemptAt is at or
	// before now, oldest first.
	ListDueMessages(ctx context.Context, now time.Time, limit int) ([]notification.Message, error)
}
