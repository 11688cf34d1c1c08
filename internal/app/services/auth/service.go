package auth

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/juju/clock"
	"golang.org/x/crypto/bcrypt"

	"github.com/R3E-Network/signflow/internal/app/domain/notification"
	"github.com/R3E-Network/signflow/internal/app/domain/user"
	"github.com/R3E-Network/signflow/internal/app/storage"
	svcerrors "github.com/R3E-Network/signflow/internal/errors"
	"github.com/R3E-Network/signflow/pkg/logger"
)

const minPasswordLength = 8

// Notifier queues outbound email.
type Notifier interface {
	Enqueue(ctx context.Context, orgID string, kind notification.Kind, to string, data map[string]any) (notification.Message, error)
}

// Config holds token and hashing settings.
type Config struct {
	JWTSecret  string
	TokenTTL   time.Duration
	ResetTTL   time.Duration
	BcryptCost int
	// PublicURL prefixes links in password reset emails.
	PublicURL string
}

// Claims are the session JWT claims. Subject is the user id.
type Claims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Identity is the authenticated caller behind a bearer token.
type Identity struct {
	User      user.User
	SessionID string
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      user.User `json:"user"`
}

// Service handles registration, sessions and password management.
type Service struct {
	users    storage.UserStore
	sessions storage.SessionStore
	notifier Notifier
	clock    clock.Clock
	cfg      Config
	log      *logger.Logger
}

// New constructs an auth service.
func New(users storage.UserStore, sessions storage.SessionStore, notifier Notifier, cfg Config, clk clock.Clock, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	if clk == nil {
		clk = clock.WallClock
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = time.Hour
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{users: users, sessions: sessions, notifier: notifier, clock: clk, cfg: cfg, log: log}
}

// NormalizeEmail trims and lowercases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validatePassword(password string) error {
	if utf8.RuneCountInString(password) < minPasswordLength {
		return svcerrors.Validationf("password must be at least %d characters", minPasswordLength)
	}
	if len(password) > 72 {
		return svcerrors.Validation("password must be at most 72 bytes")
	}
	return nil
}

func (s *Service) hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return "", svcerrors.Internal("hash password", err)
	}
	return string(hash), nil
}

// Register creates a user account.
func (s *Service) Register(ctx context.Context, email, name, password string) (user.User, error) {
	email = NormalizeEmail(email)
	name = strings.TrimSpace(name)
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return user.User{}, svcerrors.Validation("a valid email is required")
	}
	if name == "" {
		return user.User{}, svcerrors.Validation("name is required")
	}
	if err := validatePassword(password); err != nil {
		return user.User{}, err
	}
	hash, err := s.hashPassword(password)
	if err != nil {
		return user.User{}, err
	}

	u, err := s.users.CreateUser(ctx, user.User{Email: email, Name: name, PasswordHash: hash})
	if err != nil {
		if svcerrors.Is(err, storage.ErrDuplicate) {
			return user.User{}, svcerrors.Conflict("email is already registered")
		}
		return user.User{}, err
	}
	s.log.WithContext(ctx).WithField("user_id", u.ID).Info("user registered")
	return u, nil
}

// Login verifies credentials and issues a session token.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	invalid := svcerrors.Unauthorized("invalid credentials")

	u, err := s.users.GetUserByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if svcerrors.Is(err, storage.ErrNotFound) {
			return LoginResult{}, invalid
		}
		return LoginResult{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		s.log.LogSecurityEvent(ctx, "login_failed", map[string]interface{}{"user_id": u.ID})
		return LoginResult{}, invalid
	}

	now := s.clock.Now().UTC()
	expires := now.Add(s.cfg.TokenTTL)
	sessionID := uuid.NewString()

	token, err := s.sign(u.ID, sessionID, now, expires)
	if err != nil {
		return LoginResult{}, svcerrors.Internal("sign token", err)
	}
	if _, err := s.sessions.CreateSession(ctx, user.Session{
		ID:        sessionID,
		UserID:    u.ID,
		TokenHash: HashToken(token),
		ExpiresAt: expires,
		CreatedAt: now,
	}); err != nil {
		return LoginResult{}, err
	}

	u.LastLoginAt = &now
	if updated, err := s.users.UpdateUser(ctx, u); err == nil {
		u = updated
	} else {
		s.log.WithError(err).WithField("user_id", u.ID).Warn("record last login failed")
	}

	s.log.WithContext(ctx).WithField("user_id", u.ID).WithField("session_id", sessionID).Info("user logged in")
	return LoginResult{Token: token, ExpiresAt: expires, User: u}, nil
}

func (s *Service) sign(userID, sessionID string, now, expires time.Time) (string, error) {
	claims := &Claims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			Issuer:    "signflow",
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWTSecret))
}

func (s *Service) parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.clock.Now))
	if err != nil {
		return nil, svcerrors.InvalidToken(err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" || claims.SessionID == "" {
		return nil, svcerrors.InvalidToken(nil)
	}
	return claims, nil
}

// Authenticate resolves a bearer token to its user. The JWT must verify and
// its server-side session must still exist.
func (s *Service) Authenticate(ctx context.Context, token string) (Identity, error) {
	claims, err := s.parse(token)
	if err != nil {
		return Identity{}, err
	}
	sess, err := s.sessions.GetSessionByHash(ctx, HashToken(token))
	if err != nil {
		if svcerrors.Is(err, storage.ErrNotFound) {
			return Identity{}, svcerrors.InvalidToken(nil)
		}
		return Identity{}, err
	}
	if sess.ID != claims.SessionID || sess.UserID != claims.Subject || sess.Expired(s.clock.Now()) {
		return Identity{}, svcerrors.InvalidToken(nil)
	}
	u, err := s.users.GetUser(ctx, sess.UserID)
	if err != nil {
		if svcerrors.Is(err, storage.ErrNotFound) {
			return Identity{}, svcerrors.InvalidToken(nil)
		}
		return Identity{}, err
	}
	return Identity{User: u, SessionID: sess.ID}, nil
}

// Logout revokes the session behind token. Unknown sessions are ignored.
func (s *Service) Logout(ctx context.Context, token string) error {
	sess, err := s.sessions.GetSessionByHash(ctx, HashToken(token))
	if err != nil {
		if svcerrors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := s.sessions.DeleteSession(ctx, sess.ID); err != nil && !svcerrors.Is(err, storage.ErrNotFound) {
		return err
	}
	s.log.WithContext(ctx).WithField("user_id", sess.UserID).Info("user logged out")
	return nil
}

// ChangePassword replaces the password and revokes every other session of
// the user. currentSessionID stays valid.
func (s *Service) ChangePassword(ctx context.Context, userID, currentSessionID, oldPassword, newPassword string) error {
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(oldPassword)) != nil {
		return svcerrors.Forbidden("current password is incorrect")
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	hash, err := s.hashPassword(newPassword)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	if _, err := s.users.UpdateUser(ctx, u); err != nil {
		return err
	}
	if err := s.sessions.DeleteUserSessions(ctx, userID, currentSessionID); err != nil {
		return err
	}
	s.log.LogSecurityEvent(ctx, "password_changed", map[string]interface{}{"user_id": userID})
	return nil
}

// RequestPasswordReset emails a single-use reset link. It returns nil for
// unknown addresses so callers cannot discover which emails are registered.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	u, err := s.users.GetUserByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if svcerrors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}

	token, err := NewToken()
	if err != nil {
		return svcerrors.Internal("generate token", err)
	}
	expires := s.clock.Now().UTC().Add(s.cfg.ResetTTL)
	if _, err := s.users.CreatePasswordReset(ctx, user.PasswordReset{
		UserID:    u.ID,
		TokenHash: HashToken(token),
		ExpiresAt: expires,
	}); err != nil {
		return err
	}

	if s.notifier != nil {
		_, err := s.notifier.Enqueue(ctx, "", notification.KindPasswordReset, u.Email, map[string]any{
			"Name":      u.Name,
			"Link":      strings.TrimRight(s.cfg.PublicURL, "/") + "/reset-password?token=" + token,
			"ExpiresAt": expires,
		})
		if err != nil {
			return err
		}
	}
	s.log.LogSecurityEvent(ctx, "password_reset_requested", map[string]interface{}{"user_id": u.ID})
	return nil
}

// ResetPassword consumes a reset token and sets a new password. Every session
// of the user is revoked.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	reset, err := s.users.GetPasswordResetByHash(ctx, HashToken(token))
	if err != nil {
		if svcerrors.Is(err, storage.ErrNotFound) {
			return svcerrors.InvalidToken(nil)
		}
		return err
	}
	now := s.clock.Now().UTC()
	if reset.UsedAt != nil || !now.Before(reset.ExpiresAt) {
		return svcerrors.InvalidToken(nil)
	}

	u, err := s.users.GetUser(ctx, reset.UserID)
	if err != nil {
		return err
	}
	hash, err := s.hashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.MarkPasswordResetUsed(ctx, reset.ID, now); err != nil {
		return err
	}
	u.PasswordHash = hash
	if _, err := s.users.UpdateUser(ctx, u); err != nil {
		return err
	}
	if err := s.sessions.DeleteUserSessions(ctx, u.ID, ""); err != nil {
		return err
	}
	s.log.LogSecurityEvent(ctx, "password_reset", map[string]interface{}{"user_id": u.ID})
	return nil
}

// GetUser returns a user by id.
func (s *Service) GetUser(ctx context.Context, id string) (user.User, error) {
	u, err := s.users.GetUser(ctx, id)
	if err != nil {
		if svcerrors.Is(err, storage.ErrNotFound) {
			return user.User{}, svcerrors.NotFound("user", id)
		}
		return user.User{}, err
	}
	return u, nil
}
