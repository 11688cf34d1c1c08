package documents

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/signflow/internal/app/blob"
	"github.com/R3E-Network/signflow/internal/app/domain/audit"
	"github.com/R3E-Network/signflow/internal/app/domain/document"
	"github.com/R3E-Network/signflow/internal/app/domain/folder"
	"github.com/R3E-Network/signflow/internal/app/domain/organization"
	"github.com/R3E-Network/signflow/internal/app/domain/permission"
	"github.com/R3E-Network/signflow/internal/app/domain/signature"
	"github.com/R3E-Network/signflow/internal/app/domain/tag"
	"github.com/R3E-Network/signflow/internal/app/pdf/pdftest"
	"github.com/R3E-Network/signflow/internal/app/services/permissions"
	"github.com/R3E-Network/signflow/internal/app/storage/memory"
	svcerrors "github.com/R3E-Network/signflow/internal/errors"
	"github.com/R3E-Network/signflow/pkg/logger"
)

const (
	owner  = "owner"
	member = "member"
	viewer = "viewer"
)

type recorder struct{ events []audit.Event }

func (r *recorder) Record(_ context.Context, e audit.Event) (audit.Event, error) {
	r.events = append(r.events, e)
	return e, nil
}

func (r *recorder) actions() []string {
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Action)
	}
	return out
}

type fixture struct {
	svc   *Service
	store *memory.Store
	blobs *blob.Memory
	audit *recorder
	clock *testclock.Clock
	org   string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	org, err := store.CreateOrganization(ctx, organization.Organization{Name: "Acme", Slug: "acme"})
	require.NoError(t, err)
	for id, role := range map[string]organization.Role{owner: organization.RoleOwner, member: organization.RoleMember, viewer: organization.RoleViewer} {
		_, err := store.UpsertMember(ctx, organization.Member{OrganizationID: org.ID, UserID: id, Role: role})
		require.NoError(t, err)
	}
	perms := permissions.New(store, store, store, store, logger.NewDiscard())
	blobs := blob.NewMemory()
	rec := &recorder{}
	clk := testclock.NewClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	svc := New(store, store, store, perms, blobs, rec, clk, logger.NewDiscard())
	return fixture{svc: svc, store: store, blobs: blobs, audit: rec, clock: clk, org: org.ID}
}

func upload(t *testing.T, f fixture, user, folderID, name, body string) document.Document {
	t.Helper()
	doc, err := f.svc.Upload(context.Background(), f.org, user, UploadInput{
		FolderID: folderID, Name: name, ContentType: "text/plain", Body: strings.NewReader(body),
	})
	require.NoError(t, err)
	return doc
}

func TestUploadHashesAndStores(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc := upload(t, f, member, "", "notes.txt", "hello world")
	sum := sha256.Sum256([]byte("hello world"))
	assert.Equal(t, hex.EncodeToString(sum[:]), doc.SHA256)
	assert.Equal(t, int64(11), doc.Size)
	assert.Equal(t, blob.DocumentKey(f.org, doc.ID), doc.StorageKey)
	assert.Equal(t, document.StatusDraft, doc.Status)
	assert.Equal(t, member, doc.OwnerID)

	content, err := f.svc.Download(ctx, f.org, member, doc.ID, VariantOriginal)
	require.NoError(t, err)
	data, err := ReadAll(content)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
	assert.Equal(t, []string{"document.uploaded", "document.downloaded"}, f.audit.actions())

	_, err = f.svc.Download(ctx, f.org, member, doc.ID, VariantSigned)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeNotFound))
}

func TestUploadPDFCountsPages(t *testing.T) {
	f := newFixture(t)

	doc, err := f.svc.Upload(context.Background(), f.org, owner, UploadInput{
		Name: "contract.pdf", Body: bytes.NewReader(pdftest.Minimal(3)),
	})
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", doc.ContentType)
	assert.Equal(t, 3, doc.PageCount)
	assert.True(t, doc.IsPDF())

	_, err = f.svc.Upload(context.Background(), f.org, owner, UploadInput{
		Name: "broken.pdf", ContentType: "application/pdf", Body: strings.NewReader("%PDF-1.4 not really"),
	})
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeValidation))
}

func TestUploadRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Upload(ctx, f.org, owner, UploadInput{Name: "big.bin", Body: io.LimitReader(zeros{}, MaxUploadSize+1)})
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeTooLarge))

	_, err = f.svc.Upload(ctx, f.org, owner, UploadInput{Name: "empty.txt", Body: strings.NewReader("")})
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeValidation))

	_, err = f.svc.Upload(ctx, f.org, owner, UploadInput{Name: " ", Body: strings.NewReader("x")})
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeValidation))

	_, err = f.svc.Upload(ctx, f.org, viewer, UploadInput{Name: "v.txt", Body: strings.NewReader("x")})
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeForbidden))

	_, err = f.svc.Upload(ctx, f.org, "stranger", UploadInput{Name: "s.txt", Body: strings.NewReader("x")})
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeNotFound))

	_, err = f.svc.Upload(ctx, f.org, owner, UploadInput{FolderID: "missing", Name: "m.txt", Body: strings.NewReader("x")})
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeNotFound))
}

type zeros struct{}

func (zeros) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func TestUploadStripsDirectories(t *testing.T) {
	f := newFixture(t)
	doc := upload(t, f, owner, "", "../../etc/passwd", "x")
	assert.Equal(t, "passwd", doc.Name)
	doc = upload(t, f, owner, "", `C:\Users\me\report.txt`, "x")
	assert.Equal(t, "report.txt", doc.Name)
}

func TestListFiltersByAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	folderDoc, err := f.store.CreateFolder(ctx, folder.Folder{OrganizationID: f.org, Name: "Private", CreatedBy: owner})
	require.NoError(t, err)
	root := upload(t, f, owner, "", "root.txt", "a")
	hidden := upload(t, f, owner, folderDoc.ID, "hidden.txt", "b")

	docs, err := f.svc.List(ctx, f.org, member, document.Filter{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, root.ID, docs[0].ID)

	docs, err = f.svc.List(ctx, f.org, viewer, document.Filter{})
	require.NoError(t, err)
	assert.Empty(t, docs)

	_, err = f.store.UpsertGrant(ctx, permission.Grant{
		OrganizationID: f.org, ResourceType: permission.ResourceFolder, ResourceID: folderDoc.ID,
		UserID: viewer, Level: permission.LevelView, CreatedBy: owner,
	})
	require.NoError(t, err)
	docs, err = f.svc.List(ctx, f.org, viewer, document.Filter{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, hidden.ID, docs[0].ID)

	_, err = f.svc.Get(ctx, f.org, member, hidden.ID)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeNotFound))
}

func TestRenameMoveAndTag(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc := upload(t, f, member, "", "draft.txt", "a")
	doc, err := f.svc.Rename(ctx, f.org, member, doc.ID, "final.txt")
	require.NoError(t, err)
	assert.Equal(t, "final.txt", doc.Name)

	_, err = f.svc.Rename(ctx, f.org, viewer, doc.ID, "nope.txt")
	assert.Error(t, err)

	dest, err := f.store.CreateFolder(ctx, folder.Folder{OrganizationID: f.org, Name: "Contracts", CreatedBy: owner})
	require.NoError(t, err)
	_, err = f.svc.Move(ctx, f.org, member, doc.ID, dest.ID)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeNotFound), "member cannot see the folder")

	moved, err := f.svc.Move(ctx, f.org, owner, doc.ID, dest.ID)
	require.NoError(t, err)
	assert.Equal(t, dest.ID, moved.FolderID)

	tg, err := f.store.CreateTag(ctx, tag.Tag{OrganizationID: f.org, Name: "urgent", Color: "#FF0000"})
	require.NoError(t, err)
	tagged, err := f.svc.Tag(ctx, f.org, owner, doc.ID, tg.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{tg.ID}, tagged.TagIDs)

	_, err = f.svc.Tag(ctx, f.org, owner, doc.ID, "missing")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeNotFound))

	untagged, err := f.svc.Untag(ctx, f.org, owner, doc.ID, tg.ID)
	require.NoError(t, err)
	assert.Empty(t, untagged.TagIDs)
}

func TestDeleteAndRestore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc := upload(t, f, member, "", "a.txt", "a")
	_, err := f.svc.Archive(ctx, f.org, viewer, doc.ID)
	assert.Error(t, err)

	require.NoError(t, f.svc.Delete(ctx, f.org, member, doc.ID))
	_, err = f.svc.Get(ctx, f.org, member, doc.ID)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeNotFound))

	docs, err := f.svc.List(ctx, f.org, member, document.Filter{IncludeDeleted: true})
	require.NoError(t, err)
	require.Len(t, docs, 1, "owners still see their deleted documents")
	assert.True(t, docs[0].Deleted())

	restored, err := f.svc.Restore(ctx, f.org, member, doc.ID)
	require.NoError(t, err)
	assert.False(t, restored.Deleted())

	archived, err := f.svc.Archive(ctx, f.org, member, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, document.StatusArchived, archived.Status)
}

func TestDeleteBlockedByInProgressRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc := upload(t, f, owner, "", "nda.txt", "a")
	req, err := f.store.CreateRequest(ctx,
		signature.Request{OrganizationID: f.org, DocumentID: doc.ID, Title: "NDA", WorkflowType: signature.WorkflowParallel, Status: signature.StatusInProgress, CreatedBy: owner},
		[]signature.Participant{{Email: "a@example.com", Role: signature.RoleSigner, Order: 1, Status: signature.ParticipantNotified, TokenHash: "tok"}},
		nil,
	)
	require.NoError(t, err)

	err = f.svc.Delete(ctx, f.org, owner, doc.ID)
	require.True(t, svcerrors.HasCode(err, svcerrors.CodeState))
	assert.Equal(t, req.ID, svcerrors.GetServiceError(err).Details["request_id"])

	_, err = f.svc.Archive(ctx, f.org, owner, doc.ID)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeState))
}

func TestAttachSigned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc := upload(t, f, owner, "", "nda.txt", "a")
	signed, err := f.svc.AttachSigned(ctx, f.org, doc.ID, []byte("stamped"))
	require.NoError(t, err)
	assert.Equal(t, document.StatusCompleted, signed.Status)
	assert.Equal(t, blob.SignedKey(f.org, doc.ID), signed.SignedStorageKey)

	content, err := f.svc.Download(ctx, f.org, owner, doc.ID, VariantSigned)
	require.NoError(t, err)
	assert.Equal(t, "nda-signed.txt", content.FileName)
	data, err := ReadAll(content)
	require.NoError(t, err)
	assert.Equal(t, "stamped", string(data))

	_, err = f.svc.SetStatus(ctx, f.org, doc.ID, document.Status("bogus"))
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeValidation))
}
