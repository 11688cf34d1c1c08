package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	svcerrors "github.com/R3E-Network/signflow/internal/errors"
	"github.com/R3E-Network/signflow/pkg/logger"
)

func TestWriteErrorShapesServiceErrors(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req = req.WithContext(logger.WithTraceID(req.Context(), "trace-1"))
	rec := httptest.NewRecorder()

	WriteError(rec, req, fmt.Errorf("wrapped: %w", svcerrors.NotFound("document", "d1")))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "NOT_FOUND", body.Error.Code)
	assert.Equal(t, "document not found", body.Error.Message)
	assert.Equal(t, "d1", body.Error.Details["id"])
	assert.Equal(t, "trace-1", body.TraceID)
}

func TestWriteErrorHidesInternalDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, httptest.NewRequest(http.MethodGet, "/x", nil), fmt.Errorf("pq: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}
	decode := func(body string) (payload, error) {
		var p payload
		req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(body))
		err := DecodeJSON(httptest.NewRecorder(), req, &p)
		return p, err
	}

	p, err := decode(`{"name":"nda"}`)
	require.NoError(t, err)
	assert.Equal(t, "nda", p.Name)

	for _, body := range []string{``, `{"name":1}`, `{"other":"x"}`, `{"name":"a"}{"name":"b"}`} {
		_, err := decode(body)
		assert.True(t, svcerrors.HasCode(err, svcerrors.CodeValidation), "body %q: %v", body, err)
	}

	_, err = decode(`{"name":"` + strings.Repeat("a", MaxJSONBody) + `"}`)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeTooLarge))
}

func TestRequireUserID(t *testing.T) {
	rec := httptest.NewRecorder()
	_, ok := RequireUserID(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.False(t, ok)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req = req.WithContext(logger.WithUserID(req.Context(), "u1"))
	id, ok := RequireUserID(httptest.NewRecorder(), req)
	assert.True(t, ok)
	assert.Equal(t, "u1", id)
}
