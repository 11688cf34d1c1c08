package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/signflow/internal/app/domain/user"
	"github.com/R3E-Network/signflow/internal/app/storage"
)

func newTestStore(t *testing.T) (*SessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionStore(client), mr
}

func TestSessionRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, user.Session{UserID: "u1", TokenHash: "hash-1", ExpiresAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)

	got, err := store.GetSessionByHash(ctx, "hash-1")
	require.NoError(t, err)
	require.Equal(t, sess.ID, got.ID)
	require.Equal(t, "u1", got.UserID)

	require.NoError(t, store.DeleteSession(ctx, sess.ID))
	_, err = store.GetSessionByHash(ctx, "hash-1")
	require.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestSessionExpiresWithTTL(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateSession(ctx, user.Session{UserID: "u1", TokenHash: "hash-1", ExpiresAt: time.Now().Add(time.Minute)})
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = store.GetSessionByHash(ctx, "hash-1")
	require.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestDeleteUserSessionsKeepsCurrent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)

	keep, err := store.CreateSession(ctx, user.Session{UserID: "u1", TokenHash: "keep", ExpiresAt: exp})
	require.NoError(t, err)
	_, err = store.CreateSession(ctx, user.Session{UserID: "u1", TokenHash: "drop", ExpiresAt: exp})
	require.NoError(t, err)
	_, err = store.CreateSession(ctx, user.Session{UserID: "u2", TokenHash: "other", ExpiresAt: exp})
	require.NoError(t, err)

	require.NoError(t, store.DeleteUserSessions(ctx, "u1", keep.ID))

	_, err = store.GetSessionByHash(ctx, "keep")
	require.NoError(t, err)
	_, err = store.GetSessionByHash(ctx, "drop")
	require.True(t, errors.Is(err, storage.ErrNotFound))
	_, err = store.GetSessionByHash(ctx, "other")
	require.NoError(t, err)
}

func TestCreateExpiredSessionFails(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.CreateSession(context.Background(), user.Session{UserID: "u1", TokenHash: "h", ExpiresAt: time.Now().Add(-time.Second)})
	require.Error(t, err)
}
