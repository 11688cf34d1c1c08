package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	app "github.com/R3E-Network/signflow/internal/app"
	"github.com/R3E-Network/signflow/internal/app/pdf"
	"github.com/R3E-Network/signflow/internal/app/pdf/pdftest"
	"github.com/R3E-Network/signflow/internal/app/storage/memory"
	"github.com/R3E-Network/signflow/internal/config"
	"github.com/R3E-Network/signflow/pkg/logger"
)

type testAPI struct {
	t       *testing.T
	handler http.Handler
	store   *memory.Store
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	cfg := config.Default()
	cfg.Env = "test"
	cfg.Auth.BcryptCost = bcrypt.MinCost
	cfg.Server.PublicURL = "https://sign.example.test"

	store := memory.New()
	stores := app.Stores{
		Users: store, Sessions: store, Organizations: store, Documents: store, Folders: store,
		Tags: store, Permissions: store, Signatures: store, Audit: store, Notifications: store,
	}
	copyStamper := func(in io.ReadSeeker, out io.Writer, _ []pdf.Stamp) error {
		_, err := io.Copy(out, in)
		return err
	}
	application, err := app.New(stores, app.Options{Config: cfg, Stamper: copyStamper}, logger.NewDiscard())
	require.NoError(t, err)

	return &testAPI{
		t:       t,
		handler: NewHandler(application, Options{CORSOrigins: []string{"https://app.example.test"}, Logger: logger.NewDiscard()}),
		store:   store,
	}
}

func (a *testAPI) do(method, path, token string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (a *testAPI) signup(email string) string {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email": email, "name": strings.Split(email, "@")[0], "password": "correct horse battery",
	})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = a.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email": email, "password": "correct horse battery",
	})
	require.Equal(a.t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeBody[struct {
		Token string `json:"token"`
	}](a.t, rec).Token
}

func (a *testAPI) createOrg(token, name string) string {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/v1/orgs", token, map[string]string{"name": name})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[struct {
		ID string `json:"id"`
	}](a.t, rec).ID
}

func (a *testAPI) upload(token, orgID, name string, content []byte) string {
	a.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(a.t, err)
	_, err = part.Write(content)
	require.NoError(a.t, err)
	require.NoError(a.t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orgs/"+orgID+"/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[struct {
		ID string `json:"id"`
	}](a.t, rec).ID
}

var signLink = regexp.MustCompile(`/sign/([A-Za-z0-9_-]+)`)

// signingToken digs the access token for email out of the queued invitation.
func (a *testAPI) signingToken(email string) string {
	a.t.Helper()
	msgs, err := a.store.ListDueMessages(context.Background(), time.Now().Add(time.Hour), 100)
	require.NoError(a.t, err)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].To != email {
			continue
		}
		if m := signLink.FindStringSubmatch(msgs[i].Body); m != nil {
			return m[1]
		}
	}
	a.t.Fatalf("no signing link queued for %s", email)
	return ""
}

type errorBody struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
	TraceID string `json:"trace_id"`
}

func TestSignatureLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	token := api.signup("alice@example.com")
	orgID := api.createOrg(token, "Acme Corp")
	docID := api.upload(token, orgID, "nda.pdf", pdftest.Minimal(1))

	rec := api.do(http.MethodPost, "/api/v1/orgs/"+orgID+"/signature-requests", token, map[string]any{
		"document_id":   docID,
		"title":         "Mutual NDA",
		"workflow_type": "sequential",
		"participants": []map[string]any{
			{"name": "Bob", "email": "bob@example.com", "role": "signer", "order": 1},
			{"name": "Carol", "email": "carol@example.com", "role": "cc"},
		},
		"fields": []map[string]any{
			{"participant_email": "bob@example.com", "type": "signature", "page": 1, "x": 72, "y": 600, "width": 200, "height": 40},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}](t, rec)
	assert.Equal(t, "draft", created.Status)

	base := "/api/v1/orgs/" + orgID + "/signature-requests/" + created.ID
	rec = api.do(http.MethodPost, base+"/send", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Deleting a document that is out for signature is refused.
	rec = api.do(http.MethodDelete, "/api/v1/orgs/"+orgID+"/documents/"+docID, token, nil)
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	signToken := api.signingToken("bob@example.com")
	rec = api.do(http.MethodGet, "/api/v1/sign/"+signToken, "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view := decodeBody[struct {
		CanAct bool `json:"can_act"`
		Fields []struct {
			ID string `json:"id"`
		} `json:"fields"`
		Participant struct {
			Status string `json:"status"`
		} `json:"participant"`
	}](t, rec)
	require.True(t, view.CanAct)
	require.Len(t, view.Fields, 1)
	assert.Equal(t, "viewed", view.Participant.Status)

	rec = api.do(http.MethodPost, "/api/v1/sign/"+signToken+"/sign", "", map[string]any{
		"values": map[string]string{view.Fields[0].ID: "Bob Builder"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Completion emails a fresh link and retires the one used to sign.
	rec = api.do(http.MethodGet, "/api/v1/sign/"+signToken, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())
	signToken = api.signingToken("bob@example.com")

	// Signing twice is rejected.
	rec = api.do(http.MethodPost, "/api/v1/sign/"+signToken+"/sign", "", map[string]any{
		"values": map[string]string{view.Fields[0].ID: "Bob Builder"},
	})
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	rec = api.do(http.MethodGet, base, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", decodeBody[struct {
		Status string `json:"status"`
	}](t, rec).Status)

	rec = api.do(http.MethodGet, "/api/v1/orgs/"+orgID+"/documents/"+docID+"/download?variant=signed", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "nda-signed.pdf")

	rec = api.do(http.MethodGet, "/api/v1/sign/"+signToken+"/document", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "nda-signed.pdf")

	rec = api.do(http.MethodGet, base+"/audit", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	trail := decodeBody[[]struct {
		Action string `json:"action"`
	}](t, rec)
	require.NotEmpty(t, trail)
	assert.Equal(t, "signature_request.created", trail[0].Action)
}

func TestErrorsAreShapedAndTraced(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(http.MethodGet, "/api/v1/orgs", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeBody[errorBody](t, rec)
	assert.Equal(t, "UNAUTHORIZED", body.Error.Code)
	assert.NotEmpty(t, body.TraceID)
	assert.Equal(t, body.TraceID, rec.Header().Get("X-Trace-ID"))

	rec = api.do(http.MethodGet, "/api/v1/nope", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeBody[errorBody](t, rec).Error.Code)

	rec = api.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "x@example.com", "password": "wrong-password"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(http.MethodGet, "/api/v1/sign/not-a-token", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOrganizationsAreIsolated(t *testing.T) {
	api := newTestAPI(t)
	alice := api.signup("alice@example.com")
	mallory := api.signup("mallory@example.com")
	orgID := api.createOrg(alice, "Acme")
	docID := api.upload(alice, orgID, "plan.txt", []byte("secret plan"))

	for _, path := range []string{
		"/api/v1/orgs/" + orgID,
		"/api/v1/orgs/" + orgID + "/documents",
		"/api/v1/orgs/" + orgID + "/documents/" + docID,
		"/api/v1/orgs/" + orgID + "/documents/" + docID + "/download",
	} {
		rec := api.do(http.MethodGet, path, mallory, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}

	rec := api.do(http.MethodGet, "/api/v1/orgs/"+orgID+"/documents/"+docID+"/download", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "secret plan", rec.Body.String())
}

func TestFoldersTagsAndListing(t *testing.T) {
	api := newTestAPI(t)
	token := api.signup("alice@example.com")
	orgID := api.createOrg(token, "Acme")
	base := "/api/v1/orgs/" + orgID

	rec := api.do(http.MethodPost, base+"/folders", token, map[string]string{"name": "Contracts"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	folderID := decodeBody[struct {
		ID string `json:"id"`
	}](t, rec).ID

	rec = api.do(http.MethodPost, base+"/tags", token, map[string]string{"name": "Urgent", "color": "#ff0000"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tagID := decodeBody[struct {
		ID string `json:"id"`
	}](t, rec).ID

	docID := api.upload(token, orgID, "terms.txt", []byte("terms"))
	rec = api.do(http.MethodPatch, base+"/documents/"+docID, token, map[string]string{"folder_id": folderID, "name": "terms-v2.txt"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = api.do(http.MethodPut, base+"/documents/"+docID+"/tags/"+tagID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(http.MethodGet, base+"/documents?folder_id="+folderID+"&tag_id="+tagID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	docs := decodeBody[[]struct {
		Name      string `json:"name"`
		SizeHuman string `json:"size_human"`
	}](t, rec)
	require.Len(t, docs, 1)
	assert.Equal(t, "terms-v2.txt", docs[0].Name)
	assert.Equal(t, "5 B", docs[0].SizeHuman)

	rec = api.do(http.MethodGet, base+"/documents?root=maybe", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(http.MethodDelete, base+"/folders/"+folderID, token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	rec = api.do(http.MethodDelete, base+"/folders/"+folderID+"?recursive=true", token, nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = api.do(http.MethodGet, base+"/documents?root=true", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]json.RawMessage](t, rec), 1)
}

func TestCORSPreflight(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/orgs", nil)
	req.Header.Set("Origin", "https://app.example.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.test", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/orgs", nil)
	req.Header.Set("Origin", "https://evil.example.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealthAndStatus(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decodeBody[struct {
		Status   string   `json:"status"`
		Services []string `json:"services"`
	}](t, rec)
	assert.Equal(t, "ok", health.Status)
	assert.ElementsMatch(t, []string{"mail-dispatcher", "signature-sweeper"}, health.Services)

	rec = api.do(http.MethodGet, "/system/status", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token := api.signup("ops@example.com")
	rec = api.do(http.MethodGet, "/system/status", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeBody[struct {
		Version string `json:"version"`
		Workers []struct {
			Name   string `json:"name"`
			Module string `json:"module"`
		} `json:"workers"`
		Host struct {
			CPUs int `json:"cpus"`
		} `json:"host"`
	}](t, rec)
	assert.NotEmpty(t, status.Version)
	assert.Positive(t, status.Host.CPUs)
	require.Len(t, status.Workers, 2)
	assert.Equal(t, "notifications", status.Workers[0].Module)
	assert.Equal(t, "signatures", status.Workers[1].Module)
}

func TestEventStreamDeliversOrganizationEvents(t *testing.T) {
	api := newTestAPI(t)
	token := api.signup("alice@example.com")
	orgID := api.createOrg(token, "Acme")

	server := httptest.NewServer(api.handler)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/orgs/" + orgID + "/events?access_token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	rec := api.do(http.MethodPost, "/api/v1/orgs/"+orgID+"/folders", token, map[string]string{"name": "Inbox"})
	require.Equal(t, http.StatusCreated, rec.Code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var event struct {
		Action         string `json:"action"`
		OrganizationID string `json:"organization_id"`
	}
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "folder.created", event.Action)
	assert.Equal(t, orgID, event.OrganizationID)
}

func TestEventStreamRequiresAdmin(t *testing.T) {
	api := newTestAPI(t)
	alice := api.signup("alice@example.com")
	bob := api.signup("bob@example.com")
	orgID := api.createOrg(alice, "Acme")

	rec := api.do(http.MethodGet, "/api/v1/orgs/"+orgID+"/events", bob, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = api.do(http.MethodGet, "/api/v1/orgs/"+orgID+"/audit", bob, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(http.MethodGet, "/api/v1/orgs/"+orgID+"/audit?limit=5", alice, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = api.do(http.MethodGet, "/api/v1/orgs/"+orgID+"/audit?limit=0", alice, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
