package memory

import (
	"fmt"
	"sync"
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
	"github.com/R3E-Network/signflow/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu     sync.RWMutex
	nextID int64

	users          map[string]user.User
	usersByEmail   map[string]string
	sessions       map[string]user.Session
	sessionsByHash map[string]string
	resets         map[string]user.PasswordReset

	orgs        map[string]organization.Organization
	members     map[string]map[string]organization.Member // org -> user -> member
	invitations map[string]organization.Invitation

	documents map[string]document.Document
	folders   map[string]folder.Folder
	tags      map[string]tag.Tag
	grants    map[string]permission.Grant

	requests     map[string]signature.Request
	participants map[string]signature.Participant
	fields       map[string]signature.Field

	events   []audit.Event
	messages map[string]notification.Message
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.SessionStore = (*Store)(nil)
var _ storage.OrganizationStore = (*Store)(nil)
var _ storage.DocumentStore = (*Store)(nil)
var _ storage.FolderStore = (*Store)(nil)
var _ storage.TagStore = (*Store)(nil)
var _ storage.PermissionStore = (*Store)(nil)
var _ storage.SignatureStore = (*Store)(nil)
var _ storage.AuditStore = (*Store)(nil)
var _ storage.NotificationStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:         1,
		users:          make(map[string]user.User),
		usersByEmail:   make(map[string]string),
		sessions:       make(map[string]user.Session),
		sessionsByHash: make(map[string]string),
		resets:         make(map[string]user.PasswordReset),
		orgs:           make(map[string]organization.Organization),
		members:        make(map[string]map[string]organization.Member),
		invitations:    make(map[string]organization.Invitation),
		documents:      make(map[string]document.Document),
		folders:        make(map[string]folder.Folder),
		tags:           make(map[string]tag.Tag),
		grants:         make(map[string]permission.Grant),
		requests:       make(map[string]signature.Request),
		participants:   make(map[string]signature.Participant),
		fields:         make(map[string]signature.Field),
		messages:       make(map[string]notification.Message),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

func now() time.Time {
	return time.Now().UTC()
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, storage.ErrNotFound)
}

func duplicate(kind, key string) error {
	return fmt.Errorf("%s %s: %w", kind, key, storage.ErrDuplicate)
}

func cloneMap(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneDocument(doc document.Document) document.Document {
	doc.TagIDs = append([]string{}, doc.TagIDs...)
	doc.DeletedAt = cloneTime(doc.DeletedAt)
	return doc
}

func cloneRequest(req signature.Request) signature.Request {
	req.ExpiresAt = cloneTime(req.ExpiresAt)
	req.SentAt = cloneTime(req.SentAt)
	req.CompletedAt = cloneTime(req.CompletedAt)
	return req
}

func cloneParticipant(p signature.Participant) signature.Participant {
	p.NotifiedAt = cloneTime(p.NotifiedAt)
	p.ViewedAt = cloneTime(p.ViewedAt)
	p.CompletedAt = cloneTime(p.CompletedAt)
	p.LastRemindedAt = cloneTime(p.LastRemindedAt)
	return p
}

func cloneEvent(e audit.Event) audit.Event {
	e.Metadata = cloneMap(e.Metadata)
	return e
}
