package mail

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/signflow/internal/app/domain/notification"
	"github.com/R3E-Network/signflow/pkg/logger"
)

func TestRenderSignatureRequested(t *testing.T) {
	expires := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	subject, body, err := Render(notification.KindSignatureRequested, map[string]any{
		"Name":         "Grace",
		"Sender":       "Ada",
		"Action":       "sign",
		"Title":        "Master services agreement",
		"DocumentName": "msa.pdf",
		"DocumentSize": int64(2_500_000),
		"Link":         "https://sign.example.com/sign/tok",
		"ExpiresAt":    expires,
	})
	require.NoError(t, err)
	assert.Equal(t, `Ada requested your signature on "Master services agreement"`, subject)
	assert.Contains(t, body, "2.5 MB")
	assert.Contains(t, body, "https://sign.example.com/sign/tok")
	assert.Contains(t, body, "Mar 1, 2026")
	assert.NotContains(t, body, "Message:")
}

func TestRenderEveryKind(t *testing.T) {
	kinds := []notification.Kind{
		notification.KindSignatureRequested, notification.KindSignatureReminder, notification.KindRequestCompleted,
		notification.KindRequestDeclined, notification.KindRequestCancelled, notification.KindRequestExpired,
		notification.KindInvitation, notification.KindPasswordReset,
	}
	data := map[string]any{
		"Title": "T", "Name": "N", "Link": "L", "DocumentSize": int64(1),
		"ExpiresAt": time.Now(), "NotifiedAt": time.Now().Add(-time.Hour),
	}
	for _, kind := range kinds {
		subject, body, err := Render(kind, data)
		require.NoError(t, err, kind)
		assert.NotEmpty(t, subject, kind)
		assert.NotEmpty(t, strings.TrimSpace(body), kind)
	}
}

func TestRenderUnknownKind(t *testing.T) {
	_, _, err := Render("nope", nil)
	assert.Error(t, err)
}

func TestSMTPSenderBuildsMessage(t *testing.T) {
	sender, err := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", Port: 587, From: "signflow <no-reply@example.com>"})
	require.NoError(t, err)

	msg, err := sender.message(Envelope{To: "grace@example.com", Subject: "Hi", Body: "Body"})
	require.NoError(t, err)
	assert.NotEmpty(t, messageID(msg))

	_, err = sender.message(Envelope{To: "not an address", Subject: "Hi"})
	assert.Error(t, err)
}

func TestNewSMTPSenderRequiresHost(t *testing.T) {
	_, err := NewSMTPSender(SMTPConfig{From: "a@example.com"})
	assert.Error(t, err)
}

func TestLogSender(t *testing.T) {
	id, err := NewLogSender(logger.NewDiscard()).Send(context.Background(), Envelope{To: "a@example.com", Subject: "s", Body: "b"})
	require.NoError(t, err)
	assert.Empty(t, id)
}
