package memory

import (
	"context"
	"errors"
	"testing"
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

func TestStoreUserLifecycle(t *testing.T) {
	store := New()
	ctx := context.Background()

	u, err := store.CreateUser(ctx, user.User{Email: "Ada@Example.com", Name: "Ada"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := store.CreateUser(ctx, user.User{Email: "ada@example.com"}); !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("expected duplicate error, got %v", err)
	}

	got, err := store.GetUserByEmail(ctx, "ADA@example.com")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if got.ID != u.ID {
		t.Fatalf("expected user %s, got %s", u.ID, got.ID)
	}

	u.Email = "ada@lovelace.dev"
	if _, err := store.UpdateUser(ctx, u); err != nil {
		t.Fatalf("update user: %v", err)
	}
	if _, err := store.GetUserByEmail(ctx, "ada@example.com"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("old email should no longer resolve, got %v", err)
	}

	s1, _ := store.CreateSession(ctx, user.Session{UserID: u.ID, TokenHash: "h1"})
	s2, _ := store.CreateSession(ctx, user.Session{UserID: u.ID, TokenHash: "h2"})
	if err := store.DeleteUserSessions(ctx, u.ID, s2.ID); err != nil {
		t.Fatalf("delete sessions: %v", err)
	}
	if _, err := store.GetSessionByHash(ctx, "h1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("session %s should be revoked", s1.ID)
	}
	if _, err := store.GetSessionByHash(ctx, "h2"); err != nil {
		t.Fatalf("kept session missing: %v", err)
	}
}

func TestStoreOrganizationIsolation(t *testing.T) {
	store := New()
	ctx := context.Background()

	orgA, err := store.CreateOrganization(ctx, organization.Organization{Name: "A", Slug: "a"})
	if err != nil {
		t.Fatalf("create org: %v", err)
	}
	orgB, _ := store.CreateOrganization(ctx, organization.Organization{Name: "B", Slug: "b"})
	if _, err := store.CreateOrganization(ctx, organization.Organization{Name: "A2", Slug: "a"}); !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("expected duplicate slug, got %v", err)
	}

	doc, err := store.CreateDocument(ctx, document.Document{OrganizationID: orgA.ID, Name: "contract.pdf", Status: document.StatusDraft})
	if err != nil {
		t.Fatalf("create document: %v", err)
	}
	if _, err := store.GetDocument(ctx, orgB.ID, doc.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("document must not be visible across organizations, got %v", err)
	}
	docs, _ := store.ListDocuments(ctx, orgB.ID, document.Filter{})
	if len(docs) != 0 {
		t.Fatalf("expected no documents in org B, got %d", len(docs))
	}

	if _, err := store.UpsertMember(ctx, organization.Member{OrganizationID: orgA.ID, UserID: "u1", Role: organization.RoleOwner}); err != nil {
		t.Fatalf("upsert member: %v", err)
	}
	orgs, _ := store.ListOrganizationsForUser(ctx, "u1")
	if len(orgs) != 1 || orgs[0].ID != orgA.ID {
		t.Fatalf("unexpected organizations for user: %+v", orgs)
	}
}

func TestStoreFoldersAndTags(t *testing.T) {
	store := New()
	ctx := context.Background()
	org, _ := store.CreateOrganization(ctx, organization.Organization{Name: "Acme", Slug: "acme"})

	parent, err := store.CreateFolder(ctx, folder.Folder{OrganizationID: org.ID, Name: "Contracts"})
	if err != nil {
		t.Fatalf("create folder: %v", err)
	}
	if _, err := store.CreateFolder(ctx, folder.Folder{OrganizationID: org.ID, Name: "contracts"}); !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("expected sibling name conflict, got %v", err)
	}
	if _, err := store.CreateFolder(ctx, folder.Folder{OrganizationID: org.ID, ParentID: parent.ID, Name: "Contracts"}); err != nil {
		t.Fatalf("same name under another parent should be allowed: %v", err)
	}

	doc, _ := store.CreateDocument(ctx, document.Document{OrganizationID: org.ID, FolderID: parent.ID, Name: "nda.pdf"})
	tg, err := store.CreateTag(ctx, tag.Tag{OrganizationID: org.ID, Name: "Legal", Color: "#112233"})
	if err != nil {
		t.Fatalf("create tag: %v", err)
	}
	if err := store.AddDocumentTag(ctx, org.ID, doc.ID, tg.ID); err != nil {
		t.Fatalf("add tag: %v", err)
	}
	tagged, _ := store.ListDocuments(ctx, org.ID, document.Filter{TagID: tg.ID})
	if len(tagged) != 1 {
		t.Fatalf("expected tagged document, got %d", len(tagged))
	}

	if err := store.DeleteTag(ctx, org.ID, tg.ID); err != nil {
		t.Fatalf("delete tag: %v", err)
	}
	got, _ := store.GetDocument(ctx, org.ID, doc.ID)
	if len(got.TagIDs) != 0 {
		t.Fatalf("tag should be detached, got %v", got.TagIDs)
	}

	if err := store.MoveDocumentsToRoot(ctx, org.ID, []string{parent.ID}); err != nil {
		t.Fatalf("move to root: %v", err)
	}
	got, _ = store.GetDocument(ctx, org.ID, doc.ID)
	if got.FolderID != "" {
		t.Fatalf("expected document in root, got folder %q", got.FolderID)
	}
}

func TestStoreGrantUpsert(t *testing.T) {
	store := New()
	ctx := context.Background()

	g1, _ := store.UpsertGrant(ctx, permission.Grant{OrganizationID: "o", ResourceType: permission.ResourceDocument, ResourceID: "d", UserID: "u", Level: permission.LevelView})
	g2, _ := store.UpsertGrant(ctx, permission.Grant{OrganizationID: "o", ResourceType: permission.ResourceDocument, ResourceID: "d", UserID: "u", Level: permission.LevelEdit})
	if g1.ID != g2.ID {
		t.Fatalf("upsert should keep grant id, got %s and %s", g1.ID, g2.ID)
	}
	grants, _ := store.ListGrants(ctx, "o", permission.ResourceDocument, "d")
	if len(grants) != 1 || grants[0].Level != permission.LevelEdit {
		t.Fatalf("unexpected grants: %+v", grants)
	}
	if err := store.DeleteGrant(ctx, "other", g1.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found across orgs, got %v", err)
	}
}

func TestStoreSignatureRequestVersioning(t *testing.T) {
	store := New()
	ctx := context.Background()

	req, err := store.CreateRequest(ctx,
		signature.Request{OrganizationID: "o", DocumentID: "d", Title: "NDA", WorkflowType: signature.WorkflowSequential, Status: signature.StatusDraft},
		[]signature.Participant{
			{ID: "p-a", Name: "A", Email: "a@example.com", Role: signature.RoleSigner, Order: 1, Status: signature.ParticipantPending, TokenHash: "tok-a"},
			{ID: "p-b", Name: "B", Email: "b@example.com", Role: signature.RoleSigner, Order: 2, Status: signature.ParticipantPending, TokenHash: "tok-b"},
		},
		[]signature.Field{{ParticipantID: "p-b", Type: signature.FieldSignature, Page: 1, Required: true}},
	)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if req.Version != 1 {
		t.Fatalf("expected version 1, got %d", req.Version)
	}

	participants, _ := store.ListParticipants(ctx, req.ID)
	if len(participants) != 2 || participants[0].Email != "a@example.com" {
		t.Fatalf("participants not ordered: %+v", participants)
	}
	fields, _ := store.ListFields(ctx, req.ID)
	if len(fields) != 1 || fields[0].ParticipantID != participants[1].ID {
		t.Fatalf("field should reference stored participant id, got %+v", fields)
	}

	byToken, err := store.GetParticipantByTokenHash(ctx, "tok-b")
	if err != nil || byToken.ID != participants[1].ID {
		t.Fatalf("lookup by token: %+v %v", byToken, err)
	}

	byToken.Status = signature.ParticipantNotified
	byToken.TokenHash = ""
	if _, err := store.UpdateParticipant(ctx, byToken); err != nil {
		t.Fatalf("update participant: %v", err)
	}
	if _, err := store.GetParticipantByTokenHash(ctx, "tok-b"); err != nil {
		t.Fatalf("empty hash should keep the current one: %v", err)
	}
	byToken.TokenHash = "tok-b2"
	if _, err := store.UpdateParticipant(ctx, byToken); err != nil {
		t.Fatalf("rotate participant token: %v", err)
	}
	if _, err := store.GetParticipantByTokenHash(ctx, "tok-b"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("old hash should be gone, got %v", err)
	}

	req.Status = signature.StatusInProgress
	updated, err := store.UpdateRequest(ctx, req)
	if err != nil {
		t.Fatalf("update request: %v", err)
	}
	if updated.Version != 2 {
		t.Fatalf("expected version 2, got %d", updated.Version)
	}
	// req still carries version 1.
	if _, err := store.UpdateRequest(ctx, req); !errors.Is(err, storage.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	inProgress, _ := store.ListRequestsByStatus(ctx, signature.StatusInProgress)
	if len(inProgress) != 1 {
		t.Fatalf("expected one in-progress request, got %d", len(inProgress))
	}
}

func TestStoreAuditAndOutbox(t *testing.T) {
	store := New()
	ctx := context.Background()

	for _, action := range []string{"document.uploaded", "document.renamed", "document.deleted"} {
		if _, err := store.CreateEvent(ctx, audit.Event{OrganizationID: "o", Action: action, ResourceType: "document", ResourceID: "d"}); err != nil {
			t.Fatalf("create event: %v", err)
		}
	}
	events, _ := store.ListEvents(ctx, "o", audit.Filter{ResourceID: "d", Limit: 2})
	if len(events) != 2 || events[0].Action != "document.deleted" {
		t.Fatalf("expected newest events first, got %+v", events)
	}

	now := time.Now().UTC()
	due, _ := store.CreateMessage(ctx, notification.Message{To: "a@example.com", Status: notification.StatusPending, NextAttemptAt: now.Add(-time.Minute)})
	_, _ = store.CreateMessage(ctx, notification.Message{To: "b@example.com", Status: notification.StatusPending, NextAttemptAt: now.Add(time.Hour)})
	_, _ = store.CreateMessage(ctx, notification.Message{To: "c@example.com", Status: notification.StatusSent, NextAttemptAt: now.Add(-time.Hour)})

	list, _ := store.ListDueMessages(ctx, now, 10)
	if len(list) != 1 || list[0].ID != due.ID {
		t.Fatalf("unexpected due messages: %+v", list)
	}

	due.ProviderID = "prov-1"
	if _, err := store.UpdateMessage(ctx, due); err != nil {
		t.Fatalf("update message: %v", err)
	}
	byProvider, err := store.GetMessageByProviderID(ctx, "prov-1")
	if err != nil || byProvider.ID != due.ID {
		t.Fatalf("lookup by provider id: %+v %v", byProvider, err)
	}
}
