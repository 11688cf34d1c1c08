package postgres

import (
	"context"
	"time"

	"github.com/R3E-Network/signflow/internal/app/domain/user"
)

// --- UserStore --------------------------------------------------------------

type userRow struct {
	ID           string     `db:"id"`
	Email        string     `db:"email"`
	Name         string     `db:"name"`
	PasswordHash string     `db:"password_hash"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
	LastLoginAt  *time.Time `db:"last_login_at"`
}

func (r userRow) toDomain() user.User {
	return user.User{
		ID:           r.ID,
		Email:        r.Email,
		Name:         r.Name,
		PasswordHash: r.PasswordHash,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		LastLoginAt:  r.LastLoginAt,
	}
}

const userColumns = `id, email, name, password_hash, created_at, updated_at, last_login_at`

func (s *Store) CreateUser(ctx context.Context, u user.User) (user.User, error) {
	if u.ID == "" {
		u.ID = newID()
	}
	ts := now()
	u.CreatedAt = ts
	u.UpdatedAt = ts

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, password_hash, created_at, updated_at, last_login_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, u.ID, u.Email, u.Name, u.PasswordHash, u.CreatedAt, u.UpdatedAt, u.LastLoginAt)
	if err != nil {
		return user.User{}, mapErr("user", err)
	}
	return u, nil
}

func (s *Store) UpdateUser(ctx context.Context, u user.User) (user.User, error) {
	existing, err := s.GetUser(ctx, u.ID)
	if err != nil {
		return user.User{}, err
	}
	u.CreatedAt = existing.CreatedAt
	u.UpdatedAt = now()

	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET email = $2, name = $3, password_hash = $4, last_login_at = $5, updated_at = $6
		WHERE id = $1
	`, u.ID, u.Email, u.Name, u.PasswordHash, u.LastLoginAt, u.UpdatedAt)
	if err != nil {
		return user.User{}, mapErr("user", err)
	}
	if err := checkAffected("user", result); err != nil {
		return user.User{}, err
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (user.User, error) {
	var row userRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+userColumns+` FROM users WHERE id = $1`, id); err != nil {
		return user.User{}, mapErr("user", err)
	}
	return row.toDomain(), nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	var row userRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email); err != nil {
		return user.User{}, mapErr("user", err)
	}
	return row.toDomain(), nil
}

type resetRow struct {
	ID        string     `db:"id"`
	UserID    string     `db:"user_id"`
	TokenHash string     `db:"token_hash"`
	ExpiresAt time.Time  `db:"expires_at"`
	UsedAt    *time.Time `db:"used_at"`
	CreatedAt time.Time  `db:"created_at"`
}

func (s *Store) CreatePasswordReset(ctx context.Context, r user.PasswordReset) (user.PasswordReset, error) {
	if r.ID == "" {
		r.ID = newID()
	}
	r.CreatedAt = now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (id, user_id, token_hash, expires_at, used_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, r.ID, r.UserID, r.TokenHash, r.ExpiresAt, r.UsedAt, r.CreatedAt)
	if err != nil {
		return user.PasswordReset{}, mapErr("password reset", err)
	}
	return r, nil
}

func (s *Store) GetPasswordResetByHash(ctx context.Context, tokenHash string) (user.PasswordReset, error) {
	var row resetRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, user_id, token_hash, expires_at, used_at, created_at
		FROM password_resets
		WHERE token_hash = $1
	`, tokenHash)
	if err != nil {
		return user.PasswordReset{}, mapErr("password reset", err)
	}
	return user.PasswordReset{
		ID:        row.ID,
		UserID:    row.UserID,
		TokenHash: row.TokenHash,
		ExpiresAt: row.ExpiresAt,
		UsedAt:    row.UsedAt,
		CreatedAt: row.CreatedAt,
	}, nil
}

func (s *Store) MarkPasswordResetUsed(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	return checkAffected("password reset", result)
}

// --- SessionStore -----------------------------------------------------------

func (s *Store) CreateSession(ctx context.Context, sess user.Session) (user.Session, error) {
	if sess.ID == "" {
		sess.ID = newID()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_sessions (id, user_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, sess.ID, sess.UserID, sess.TokenHash, sess.ExpiresAt, sess.CreatedAt)
	if err != nil {
		return user.Session{}, mapErr("session", err)
	}
	return sess, nil
}

func (s *Store) GetSessionByHash(ctx context.Context, tokenHash string) (user.Session, error) {
	var sess struct {
		ID        string    `db:"id"`
		UserID    string    `db:"user_id"`
		TokenHash string    `db:"token_hash"`
		ExpiresAt time.Time `db:"expires_at"`
		CreatedAt time.Time `db:"created_at"`
	}
	err := s.db.GetContext(ctx, &sess, `
		SELECT id, user_id, token_hash, expires_at, created_at
		FROM user_sessions
		WHERE token_hash = $1
	`, tokenHash)
	if err != nil {
		return user.Session{}, mapErr("session", err)
	}
	return user.Session(sess), nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM user_sessions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return checkAffected("session", result)
}

func (s *Store) DeleteUserSessions(ctx context.Context, userID string, exceptID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM user_sessions WHERE user_id = $1 AND id <> $2`, userID, exceptID)
	return err
}
