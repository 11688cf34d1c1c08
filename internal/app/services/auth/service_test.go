package auth

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/R3E-Network/signflow/internal/app/domain/notification"
	"github.com/R3E-Network/signflow/internal/app/storage/memory"
	svcerrors "github.com/R3E-Network/signflow/internal/errors"
	"github.com/R3E-Network/signflow/pkg/logger"
)

type captureNotifier struct {
	mu   sync.Mutex
	sent []map[string]any
	to   []string
}

func (c *captureNotifier) Enqueue(_ context.Context, _ string, kind notification.Kind, to string, data map[string]any) (notification.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, data)
	c.to = append(c.to, to)
	return notification.Message{Kind: kind, To: to}, nil
}

func newTestService(t *testing.T) (*Service, *testclock.Clock, *captureNotifier) {
	t.Helper()
	clk := testclock.NewClock(time.Now().UTC().Truncate(time.Second))
	store := memory.New()
	notifier := &captureNotifier{}
	svc := New(store, store, notifier, Config{
		JWTSecret:  "test-secret-test-secret-test-secret",
		TokenTTL:   time.Hour,
		ResetTTL:   30 * time.Minute,
		BcryptCost: bcrypt.MinCost,
		PublicURL:  "https://sign.example.com/",
	}, clk, logger.NewDiscard())
	return svc, clk, notifier
}

func tokenFromLink(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	require.NoError(t, err)
	return u.Query().Get("token")
}

func TestRegisterNormalizesAndRejectsDuplicates(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, "  Ana@Example.COM ", "Ana", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", u.Email)
	assert.NotEqual(t, "correct horse", u.PasswordHash)

	_, err = svc.Register(ctx, "ana@example.com", "Other", "another password")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeConflict))

	_, err = svc.Register(ctx, "bob@example.com", "Bob", "short")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeValidation))

	_, err = svc.Register(ctx, "not-an-email", "Bob", "long enough")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeValidation))
}

func TestLoginAuthenticateLogout(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, "ana@example.com", "Ana", "correct horse")
	require.NoError(t, err)

	_, err = svc.Login(ctx, "ana@example.com", "wrong password")
	require.Error(t, err)
	_, errUnknown := svc.Login(ctx, "nobody@example.com", "wrong password")
	require.Error(t, errUnknown)
	assert.Equal(t, err.Error(), errUnknown.Error(), "wrong password and unknown user must look the same")

	res, err := svc.Login(ctx, "ANA@example.com", "correct horse")
	require.NoError(t, err)
	require.NotEmpty(t, res.Token)
	require.NotNil(t, res.User.LastLoginAt)

	id, err := svc.Authenticate(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, id.User.ID)
	assert.NotEmpty(t, id.SessionID)

	require.NoError(t, svc.Logout(ctx, res.Token))
	_, err = svc.Authenticate(ctx, res.Token)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeInvalidToken))
	require.NoError(t, svc.Logout(ctx, res.Token))
}

func TestAuthenticateRejectsExpiredAndForeignTokens(t *testing.T) {
	svc, clk, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Register(ctx, "ana@example.com", "Ana", "correct horse")
	require.NoError(t, err)
	res, err := svc.Login(ctx, "ana@example.com", "correct horse")
	require.NoError(t, err)

	other := New(memory.New(), memory.New(), nil, Config{JWTSecret: "a-different-secret-a-different-secret"}, clk, logger.NewDiscard())
	_, err = other.Authenticate(ctx, res.Token)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeInvalidToken))

	_, err = svc.Authenticate(ctx, "not.a.jwt")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeInvalidToken))

	clk.Advance(2 * time.Hour)
	_, err = svc.Authenticate(ctx, res.Token)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeInvalidToken))
}

func TestChangePasswordRevokesOtherSessions(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	u, err := svc.Register(ctx, "ana@example.com", "Ana", "correct horse")
	require.NoError(t, err)

	first, err := svc.Login(ctx, "ana@example.com", "correct horse")
	require.NoError(t, err)
	second, err := svc.Login(ctx, "ana@example.com", "correct horse")
	require.NoError(t, err)
	current, err := svc.Authenticate(ctx, first.Token)
	require.NoError(t, err)

	err = svc.ChangePassword(ctx, u.ID, current.SessionID, "wrong", "battery staple")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeForbidden))

	require.NoError(t, svc.ChangePassword(ctx, u.ID, current.SessionID, "correct horse", "battery staple"))

	_, err = svc.Authenticate(ctx, first.Token)
	require.NoError(t, err, "current session survives")
	_, err = svc.Authenticate(ctx, second.Token)
	require.Error(t, err, "other sessions are revoked")

	_, err = svc.Login(ctx, "ana@example.com", "battery staple")
	require.NoError(t, err)
}

func TestPasswordResetFlow(t *testing.T) {
	svc, clk, notifier := newTestService(t)
	ctx := context.Background()
	_, err := svc.Register(ctx, "ana@example.com", "Ana", "correct horse")
	require.NoError(t, err)
	session, err := svc.Login(ctx, "ana@example.com", "correct horse")
	require.NoError(t, err)

	require.NoError(t, svc.RequestPasswordReset(ctx, "nobody@example.com"))
	assert.Empty(t, notifier.sent, "unknown email sends nothing")

	require.NoError(t, svc.RequestPasswordReset(ctx, "Ana@example.com"))
	require.Len(t, notifier.sent, 1)
	link := notifier.sent[0]["Link"].(string)
	assert.True(t, strings.HasPrefix(link, "https://sign.example.com/reset-password?token="))
	token := tokenFromLink(t, link)

	err = svc.ResetPassword(ctx, token, "short")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeValidation))

	require.NoError(t, svc.ResetPassword(ctx, token, "brand new password"))
	_, err = svc.Authenticate(ctx, session.Token)
	require.Error(t, err, "reset revokes every session")

	err = svc.ResetPassword(ctx, token, "another new password")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeInvalidToken), "tokens are single use")

	require.NoError(t, svc.RequestPasswordReset(ctx, "ana@example.com"))
	expired := tokenFromLink(t, notifier.sent[1]["Link"].(string))
	clk.Advance(31 * time.Minute)
	err = svc.ResetPassword(ctx, expired, "another new password")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeInvalidToken))

	_, err = svc.Login(ctx, "ana@example.com", "brand new password")
	require.NoError(t, err)
}

func TestHashTokenIsStable(t *testing.T) {
	a, err := NewToken()
	require.NoError(t, err)
	b, err := NewToken()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Equal(t, HashToken(a), HashToken(a))
	assert.Len(t, HashToken(a), 64)
}
