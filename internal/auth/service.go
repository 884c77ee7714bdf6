package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/hackgods/clinica/internal/apperr"
	"github.com/hackgods/clinica/internal/audit"
	"github.com/hackgods/clinica/internal/clock"
)

var (
	ErrInvalidCredentials = apperr.New(apperr.KindUnauthenticated, "invalid_credentials", "invalid username or password")
	ErrUserDisabled       = apperr.New(apperr.KindUnauthenticated, "user_disabled", "user is disabled")
	ErrAccountLocked      = apperr.New(apperr.KindLocked, "account_locked", "account temporarily locked, try again later")
	ErrTokenMissing       = apperr.New(apperr.KindUnauthenticated, "token_required", "access token required")
	ErrTokenInvalid       = apperr.New(apperr.KindUnauthenticated, "invalid_token", "invalid token")
	ErrTokenExpired       = apperr.New(apperr.KindUnauthenticated, "token_expired", "token expired")
	ErrSessionRevoked     = apperr.New(apperr.KindUnauthenticated, "session_revoked", "session is no longer active")
	ErrForbidden          = apperr.New(apperr.KindForbidden, "forbidden", "insufficient permissions")
	ErrWeakPassword       = apperr.New(apperr.KindValidation, "weak_password", "password must be at least 8 characters")
)

// BcryptCost is the work factor for stored password hashes.
var BcryptCost = 12

const minPasswordLength = 8

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Sessions tracks issued token ids so tokens can be revoked before expiry.
type Sessions interface {
	Save(ctx context.Context, tokenID string, userID uuid.UUID, ttl time.Duration) error
	Active(ctx context.Context, tokenID string) (bool, error)
	Revoke(ctx context.Context, tokenID string) error
}

type Policy struct {
	MaxAttempts int
	Lockout     time.Duration
}

type Service struct {
	repo     Repository
	tokens   *Tokens
	sessions Sessions
	policy   Policy
	audit    audit.Recorder
	clock    clock.Clock
	logger   *zap.Logger
}

func NewService(repo Repository, tokens *Tokens, sessions Sessions, policy Policy, rec audit.Recorder, clk clock.Clock, logger *zap.Logger) *Service {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 5
	}
	if policy.Lockout <= 0 {
		policy.Lockout = 15 * time.Minute
	}
	if rec == nil {
		rec = audit.Discard
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		tokens:   tokens,
		sessions: sessions,
		policy:   policy,
		audit:    rec,
		clock:    clk,
		logger:   logger,
	}
}

type LoginResult struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expiresAt"`
	User      *Principal `json:"user"`
}

// Login verifies the password and issues a token. Consecutive failures lock
// the account once they reach the policy's limit.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	if username == "" || password == "" {
		return nil, apperr.Validation("credentials_required", "username and password are required")
	}

	u, err := s.repo.GetUserByUsername(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if u.DeletedAt != nil {
		return nil, ErrInvalidCredentials
	}
	if !u.IsActive {
		return nil, ErrUserDisabled
	}

	now := s.clock.Now()
	if u.LockedUntil != nil && now.Before(*u.LockedUntil) {
		return nil, ErrAccountLocked.Withf(map[string]any{"lockedUntil": *u.LockedUntil}, "account locked until %s", u.LockedUntil.Format(time.RFC3339))
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		attempts, ferr := s.repo.RegisterFailedLogin(ctx, u.ID, now)
		if ferr != nil {
			return nil, ferr
		}
		if attempts >= s.policy.MaxAttempts {
			if err := s.repo.LockUser(ctx, u.ID, now.Add(s.policy.Lockout)); err != nil {
				return nil, err
			}
			s.logger.Warn("account locked after failed logins",
				zap.String("user_id", u.ID.String()),
				zap.Int("attempts", attempts))
		}
		return nil, ErrInvalidCredentials
	}

	if err := s.repo.RegisterLogin(ctx, u.ID, now); err != nil {
		return nil, err
	}

	caps, err := s.repo.ListCapabilities(ctx, u.RoleID)
	if err != nil {
		return nil, err
	}

	tok, err := s.tokens.Issue(u.ID, u.Role)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Save(ctx, tok.ID, u.ID, tok.ExpiresAt.Sub(now)); err != nil {
		return nil, err
	}

	s.logger.Info("user logged in", zap.String("user_id", u.ID.String()), zap.String("role", u.Role))
	s.audit.Record(ctx, audit.Event{
		UserID:     audit.Actor(u.ID),
		Action:     audit.ActionLogin,
		Module:     "auth",
		EntityType: "User",
		EntityID:   u.ID.String(),
	})

	p := principalOf(u, caps)
	p.TokenID = tok.ID
	p.ExpiresAt = tok.ExpiresAt
	return &LoginResult{Token: tok.Token, ExpiresAt: tok.ExpiresAt, User: p}, nil
}

// Authenticate resolves a bearer token into the caller. The token must be
// valid, its session still registered and its user active.
func (s *Service) Authenticate(ctx context.Context, raw string) (*Principal, error) {
	if raw == "" {
		return nil, ErrTokenMissing
	}
	claims, err := s.tokens.Parse(raw)
	if err != nil {
		return nil, err
	}

	active, err := s.sessions.Active(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, ErrSessionRevoked
	}

	u, err := s.repo.GetUserByID(ctx, uuid.MustParse(claims.Subject))
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, err
	}
	if !u.IsActive || u.DeletedAt != nil {
		return nil, ErrUserDisabled
	}

	caps, err := s.repo.ListCapabilities(ctx, u.RoleID)
	if err != nil {
		return nil, err
	}

	p := principalOf(u, caps)
	p.TokenID = claims.ID
	p.ExpiresAt = claims.ExpiresAt.Time
	return p, nil
}

func (s *Service) Logout(ctx context.Context, p *Principal) error {
	if err := s.sessions.Revoke(ctx, p.TokenID); err != nil {
		return err
	}
	s.audit.Record(ctx, audit.Event{
		UserID:     audit.Actor(p.UserID),
		Action:     audit.ActionLogout,
		Module:     "auth",
		EntityType: "User",
		EntityID:   p.UserID.String(),
	})
	return nil
}

func (s *Service) ChangePassword(ctx context.Context, p *Principal, current, next string) error {
	if current == "" || next == "" {
		return apperr.Validation("password_required", "current and new password are required")
	}
	if len(next) < minPasswordLength {
		return ErrWeakPassword
	}

	u, err := s.repo.GetUserByID(ctx, p.UserID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(current)); err != nil {
		return apperr.Validation("wrong_password", "current password is incorrect")
	}

	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	if err := s.repo.UpdatePassword(ctx, u.ID, hash); err != nil {
		return err
	}

	s.audit.Record(ctx, audit.Event{
		UserID:     audit.Actor(u.ID),
		Action:     audit.ActionChangePassword,
		Module:     "auth",
		EntityType: "User",
		EntityID:   u.ID.String(),
	})
	return nil
}

// Authorize fails with ErrForbidden, carrying the required pair, unless p
// holds module:action.
func Authorize(p *Principal, module, action string) error {
	if p == nil {
		return ErrTokenMissing
	}
	if p.Allows(module, action) {
		return nil
	}
	return ErrForbidden.Withf(map[string]any{"module": module, "action": action},
		"missing permission %s:%s", module, action)
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(*Principal)
	return p, ok && p != nil
}
