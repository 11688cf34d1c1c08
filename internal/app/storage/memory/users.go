package memory

import (
	"context"
	"strings"
	"time"

	"github.com/R3E-Network/signflow/internal/app/domain/user"
)

// UserStore implementation ----------------------------------------------------

func (s *Store) CreateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(u.Email)
	if _, exists := s.usersByEmail[email]; exists {
		return user.User{}, duplicate("user", email)
	}
	if u.ID == "" {
		u.ID = s.nextIDLocked()
	}
	ts := now()
	u.CreatedAt = ts
	u.UpdatedAt = ts

	s.users[u.ID] = u
	s.usersByEmail[email] = u.ID
	return u, nil
}

func (s *Store) UpdateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.users[u.ID]
	if !ok {
		return user.User{}, notFound("user", u.ID)
	}
	newEmail := strings.ToLower(u.Email)
	oldEmail := strings.ToLower(original.Email)
	if newEmail != oldEmail {
		if _, exists := s.usersByEmail[newEmail]; exists {
			return user.User{}, duplicate("user", newEmail)
		}
		delete(s.usersByEmail, oldEmail)
		s.usersByEmail[newEmail] = u.ID
	}
	u.CreatedAt = original.CreatedAt
	u.UpdatedAt = now()
	s.users[u.ID] = u
	return u, nil
}

func (s *Store) GetUser(_ context.Context, id string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return user.User{}, notFound("user", id)
	}
	return u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByEmail[strings.ToLower(email)]
	if !ok {
		return user.User{}, notFound("user", email)
	}
	return s.users[id], nil
}

func (s *Store) CreatePasswordReset(_ context.Context, r user.PasswordReset) (user.PasswordReset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = s.nextIDLocked()
	}
	r.CreatedAt = now()
	s.resets[r.ID] = r
	return r, nil
}

func (s *Store) GetPasswordResetByHash(_ context.Context, tokenHash string) (user.PasswordReset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.resets {
		if r.TokenHash == tokenHash {
			r.UsedAt = cloneTime(r.UsedAt)
			return r, nil
		}
	}
	return user.PasswordReset{}, notFound("password reset", "token")
}

func (s *Store) MarkPasswordResetUsed(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.resets[id]
	if !ok {
		return notFound("password reset", id)
	}
	r.UsedAt = &at
	s.resets[id] = r
	return nil
}

// SessionStore implementation -------------------------------------------------

func (s *Store) CreateSession(_ context.Context, sess user.Session) (user.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.ID == "" {
		sess.ID = s.nextIDLocked()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now()
	}
	s.sessions[sess.ID] = sess
	s.sessionsByHash[sess.TokenHash] = sess.ID
	return sess, nil
}

func (s *Store) GetSessionByHash(_ context.Context, tokenHash string) (user.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.sessionsByHash[tokenHash]
	if !ok {
		return user.Session{}, notFound("session", "token")
	}
	return s.sessions[id], nil
}

func (s *Store) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return notFound("session", id)
	}
	delete(s.sessions, id)
	delete(s.sessionsByHash, sess.TokenHash)
	return nil
}

func (s *Store) DeleteUserSessions(_ context.Context, userID string, exceptID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, sess := range s.sessions {
		if sess.UserID != userID || id == exceptID {
			continue
		}
		delete(s.sessions, id)
		delete(s.sessionsByHash, sess.TokenHash)
	}
	return nil
}
