package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetServiceErrorThroughWrap(t *testing.T) {
	base := NotFound("document", "doc-1")
	wrapped := fmt.Errorf("load: %w", base)

	se := GetServiceError(wrapped)
	require.NotNil(t, se)
	assert.Equal(t, CodeNotFound, se.Code)
	assert.Equal(t, http.StatusNotFound, se.HTTPStatus)
	assert.Equal(t, "doc-1", se.Details["id"])
	assert.True(t, HasCode(wrapped, CodeNotFound))
	assert.Nil(t, GetServiceError(New("plain")))
}

func TestWithDetailsDoesNotMutate(t *testing.T) {
	base := Validation("bad input")
	a := base.WithDetails("field", "email")
	b := base.WithDetails("field", "name")

	assert.Empty(t, base.Details)
	assert.Equal(t, "email", a.Details["field"])
	assert.Equal(t, "name", b.Details["field"])
}

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("wrap: %w", InvalidState("request is completed"))
	assert.True(t, Is(err, &ServiceError{Code: CodeState}))
	assert.False(t, Is(err, &ServiceError{Code: CodeNotFound}))
}

func TestInternalUnwraps(t *testing.T) {
	cause := New("disk full")
	err := Internal("", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "disk full")
}
