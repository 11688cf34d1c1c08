// Package redis keeps login sessions in redis so they expire on their own and
// can be shared between API replicas.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/R3E-Network/signflow/internal/app/domain/user"
	"github.com/R3E-Network/signflow/internal/app/storage"
)

const keyPrefix = "signflow:"

// SessionStore implements storage.SessionStore on top of a redis client.
type SessionStore struct {
	client *goredis.Client
	now    func() time.Time
}

var _ storage.SessionStore = (*SessionStore)(nil)

// NewSessionStore wraps an existing client.
func NewSessionStore(client *goredis.Client) *SessionStore {
	return &SessionStore{client: client, now: time.Now}
}

// Open parses a redis:// URL and verifies the server is reachable.
func Open(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func hashKey(tokenHash string) string { return keyPrefix + "session:" + tokenHash }
func idKey(id string) string           { return keyPrefix + "session-id:" + id }
func userKey(userID string) string     { return keyPrefix + "user-sessions:" + userID }

func (s *SessionStore) CreateSession(ctx context.Context, sess user.Session) (user.Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = s.now().UTC()
	}
	ttl := sess.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return user.Session{}, fmt.Errorf("session already expired")
	}
	payload, err := json.Marshal(sessionRecord(sess))
	if err != nil {
		return user.Session{}, err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, hashKey(sess.TokenHash), payload, ttl)
		pipe.Set(ctx, idKey(sess.ID), sess.TokenHash, ttl)
		pipe.SAdd(ctx, userKey(sess.UserID), sess.ID)
		return nil
	})
	if err != nil {
		return user.Session{}, err
	}
	return sess, nil
}

func (s *SessionStore) GetSessionByHash(ctx context.Context, tokenHash string) (user.Session, error) {
	raw, err := s.client.Get(ctx, hashKey(tokenHash)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return user.Session{}, fmt.Errorf("session: %w", storage.ErrNotFound)
	}
	if err != nil {
		return user.Session{}, err
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return user.Session{}, fmt.Errorf("decode session: %w", err)
	}
	return rec.toDomain(tokenHash), nil
}

func (s *SessionStore) DeleteSession(ctx context.Context, id string) error {
	tokenHash, err := s.client.Get(ctx, idKey(id)).Result()
	if errors.Is(err, goredis.Nil) {
		return fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return err
	}
	raw, err := s.client.Get(ctx, hashKey(tokenHash)).Bytes()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return err
	}
	var rec record
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &rec)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, hashKey(tokenHash), idKey(id))
		if rec.UserID != "" {
			pipe.SRem(ctx, userKey(rec.UserID), id)
		}
		return nil
	})
	return err
}

func (s *SessionStore) DeleteUserSessions(ctx context.Context, userID string, exceptID string) error {
	ids, err := s.client.SMembers(ctx, userKey(userID)).Result()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == exceptID {
			continue
		}
		if err := s.DeleteSession(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		// Expired sessions leave a dangling id in the set.
		s.client.SRem(ctx, userKey(userID), id)
	}
	return nil
}

type record struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func sessionRecord(sess user.Session) record {
	return record{ID: sess.ID, UserID: sess.UserID, ExpiresAt: sess.ExpiresAt, CreatedAt: sess.CreatedAt}
}

func (r record) toDomain(tokenHash string) user.Session {
	return user.Session{ID: r.ID, UserID: r.UserID, TokenHash: tokenHash, ExpiresAt: r.ExpiresAt, CreatedAt: r.CreatedAt}
}
