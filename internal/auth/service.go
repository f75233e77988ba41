package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nkozdemir/character-chat-app/internal/models"
	"github.com/nkozdemir/character-chat-app/internal/redis"
	"github.com/nkozdemir/character-chat-app/internal/store"
)

// ErrInvalidCredentials is returned for unknown emails or wrong passwords.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ResetMailer delivers password-reset tokens out of band.
type ResetMailer interface {
	SendPasswordReset(toEmail, token string) error
}

// Service handles account lifecycle and bearer-token issuance. Tokens are
// opaque random values persisted with a TTL; a redis cache fronts validation
// when available.
type Service struct {
	store      *store.Store
	db         *sql.DB
	cache      *redis.Client
	mailer     ResetMailer
	tokenTTL   time.Duration
	resetTTL   time.Duration
	cookieName string
	headerName string
}

// NewService constructs an auth service. cache and mailer may be nil.
func NewService(st *store.Store, cache *redis.Client, mailer ResetMailer, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		store:      st,
		db:         st.DB(),
		cache:      cache,
		mailer:     mailer,
		tokenTTL:   ttl,
		resetTTL:   time.Hour,
		cookieName: "auth_token",
		headerName: "Authorization",
	}
}

// SignUp creates a user with the supplied credentials.
func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (*models.User, error) {
	email = strings.TrimSpace(email)
	password = strings.TrimSpace(password)
	if email == "" || password == "" {
		return nil, errors.New("email and password are required")
	}
	return s.store.CreateUser(ctx, email, displayName, hashPassword(password))
}

// SignIn validates credentials and returns the user profile.
func (s *Service) SignIn(ctx context.Context, email, password string) (*models.User, error) {
	email = strings.TrimSpace(email)
	password = strings.TrimSpace(password)
	if email == "" || password == "" {
		return nil, errors.New("email and password are required")
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	if user.PasswordHash != hashPassword(password) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// IssueToken mints a new random token for the user and persists it.
func (s *Service) IssueToken(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", errors.New("invalid user id")
	}
	now := time.Now().UTC()
	expiresAt := now.Add(s.tokenTTL)
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO user_tokens (token, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		token, userID, now, expiresAt,
	)
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, tokenCacheKey(token), userID, s.tokenTTL)
	}
	return token, nil
}

// ValidateToken verifies the token exists and has not expired, returning the
// user id. The redis cache is consulted first.
func (s *Service) ValidateToken(ctx context.Context, authToken string) (string, error) {
	if authToken == "" {
		return "", errors.New("token required")
	}
	if s.cache != nil {
		if userID, err := s.cache.Get(ctx, tokenCacheKey(authToken)); err == nil && userID != "" {
			return userID, nil
		}
	}

	var userID string
	var expires time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, expires_at FROM user_tokens WHERE token = ?`, authToken,
	).Scan(&userID, &expires)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", errors.New("invalid token")
		}
		return "", fmt.Errorf("lookup token: %w", err)
	}
	if time.Now().UTC().After(expires) {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM user_tokens WHERE token = ?`, authToken)
		return "", errors.New("token expired")
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, tokenCacheKey(authToken), userID, time.Until(expires))
	}
	return userID, nil
}

// RevokeToken deletes a single token.
func (s *Service) RevokeToken(ctx context.Context, authToken string) error {
	if authToken == "" {
		return nil
	}
	if s.cache != nil {
		_ = s.cache.Del(ctx, tokenCacheKey(authToken))
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_tokens WHERE token = ?`, authToken); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// RequestPasswordReset issues a reset token and mails it. Unknown emails are
// swallowed so the endpoint cannot be used to probe accounts.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("query user: %w", err)
	}

	token, err := generateToken()
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO password_resets (token, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		token, user.ID, now, now.Add(s.resetTTL),
	)
	if err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}
	if s.mailer != nil {
		return s.mailer.SendPasswordReset(user.Email, token)
	}
	return nil
}

// TokenTTL reports the configured token lifetime.
func (s *Service) TokenTTL() time.Duration {
	return s.tokenTTL
}

// AuthCookieName returns the cookie name storing auth tokens.
func (s *Service) AuthCookieName() string {
	return s.cookieName
}

func tokenCacheKey(token string) string {
	return "auth:token:" + token
}

func hashPassword(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
