// Package service: authentication business logic.
//
// AuthService sits between the HTTP handlers and the repositories/auth utilities:
//
//	AuthHandler (HTTP) → AuthService (business rules) → UserRepository  (DB)
//	                                                  → TokenRepository (DB)
//	                   ↘ TokenService (JWT) / PasswordService (bcrypt)
//
// A bearer token is a signed JWT whose "jti" names a row in auth_tokens.
// The signature proves we issued it; the row proves it has not been revoked.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/sakif/goal-tracker/internal/apperror"
	"github.com/sakif/goal-tracker/internal/auth"
	"github.com/sakif/goal-tracker/internal/model"
	"github.com/sakif/goal-tracker/internal/repository"
)

// Account field limits.
const (
	MinPasswordLength = 6
	MaxNameLength     = 100
	MaxEmailLength    = 254
)

// invalidCredentials is the single message for every failed login, so a
// caller cannot probe which emails are registered.
const invalidCredentials = "invalid email or password"

// emailTakenByAccount answers a GitHub sign-in whose email already has a
// local account.
const emailTakenByAccount = "an account with this email already exists; sign in with your password, then connect GitHub"

// emailCheck is shared; validator.Validate is safe for concurrent use and
// caches its parsed tags.
var emailCheck = validator.New()

// AuthService handles registration, login, logout and caller resolution.
//
// DEPENDENCIES (injected via NewAuthService):
//   - users      repository.UserRepository  → user records
//   - tokenStore repository.TokenRepository → issued-token records
//   - tokens     *auth.TokenService         → sign/validate JWTs
//   - passwords  *auth.PasswordService      → bcrypt hashing
//   - logger     *slog.Logger               → structured logging
type AuthService struct {
	users      repository.UserRepository
	tokenStore repository.TokenRepository
	tokens     *auth.TokenService
	passwords  *auth.PasswordService
	logger     *slog.Logger
	now        func() time.Time
}

// NewAuthService creates an AuthService with all required dependencies.
func NewAuthService(
	users repository.UserRepository,
	tokenStore repository.TokenRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:      users,
		tokenStore: tokenStore,
		tokens:     tokens,
		passwords:  passwords,
		logger:     logger,
		now:        time.Now,
	}
}

// LoginResult is returned by successful logins. The handler turns it into
// the {token, token_type, expires_at} body or a session cookie.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      *model.User
}

// Register validates the input and creates a user with a bcrypt-hashed password.
//
// Validation failures are apperror.ErrValidation with the offending field.
// A taken email is reported as a validation error on "email", the same way
// a form would show it.
func (s *AuthService) Register(ctx context.Context, name, email, password string) (*model.User, error) {
	// === VALIDATION ===
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperror.ValidationFailed("name", "name is required")
	}
	if len([]rune(name)) > MaxNameLength {
		return nil, apperror.ValidationFailed("name",
			fmt.Sprintf("name must be %d characters or less", MaxNameLength))
	}

	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}

	if len([]rune(password)) < MinPasswordLength {
		return nil, apperror.ValidationFailed("password",
			fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return nil, apperror.ValidationFailed("password",
				fmt.Sprintf("password must be %d bytes or fewer", auth.MaxPasswordBytes))
		}
		return nil, fmt.Errorf("service/auth: hashing password: %w", err)
	}

	user := &model.User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
	}

	// The UNIQUE index decides whether the email is taken; there is no
	// separate lookup that a concurrent registration could slip past.
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, apperror.ValidationFailed("email", "email has already been taken")
		}
		return nil, fmt.Errorf("service/auth: creating user: %w", err)
	}

	s.logger.Info("user registered",
		slog.String("userID", user.ID),
	)

	return user, nil
}

// Login checks the credentials and mints a new token.
//
// Unknown email, wrong password and password-less (GitHub-only) accounts all
// fail with the same apperror.ErrUnauthorized message.
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, apperror.Unauthorized(invalidCredentials)
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized(invalidCredentials)
		}
		return nil, fmt.Errorf("service/auth: looking up user: %w", err)
	}

	if !user.HasPassword() {
		return nil, apperror.Unauthorized(invalidCredentials)
	}

	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Info("login failed", slog.String("userID", user.ID))
			return nil, apperror.Unauthorized(invalidCredentials)
		}
		return nil, fmt.Errorf("service/auth: verifying password for user %s: %w", user.ID, err)
	}

	return s.issue(ctx, user)
}

// LoginWithGitHub finds or creates the local account for a GitHub profile
// and mints a token for it.
//
// Lookup order:
//  1. a user already linked to this GitHub ID
//  2. a user with the same email: refused with a conflict. Emails are not
//     verified at registration, so whoever registered the address first
//     would otherwise receive the GitHub user's session. Linking an existing
//     account goes through LinkGitHub from a signed-in session instead.
//  3. otherwise a new password-less user
func (s *AuthService) LoginWithGitHub(ctx context.Context, gh *auth.GitHubUser) (*LoginResult, error) {
	if gh == nil || gh.ID == 0 {
		return nil, fmt.Errorf("service/auth: GitHub user must not be empty")
	}

	user, err := s.users.GetByGitHubID(ctx, gh.ID)
	if err == nil {
		return s.issue(ctx, user)
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("service/auth: looking up GitHub user %d: %w", gh.ID, err)
	}

	email, err := normalizeEmail(gh.Email)
	if err != nil {
		return nil, err
	}

	_, err = s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		s.logger.Warn("GitHub sign-in refused: email belongs to an existing account",
			slog.Int64("githubID", gh.ID),
		)
		return nil, &apperror.AppError{
			Err:     apperror.ErrConflict,
			Message: emailTakenByAccount,
			Field:   "email",
		}

	case errors.Is(err, apperror.ErrNotFound):
		ghID := gh.ID
		user = &model.User{
			Name:     gh.DisplayName(),
			Email:    email,
			GitHubID: &ghID,
		}
		if err := s.users.Create(ctx, user); err != nil {
			return nil, fmt.Errorf("service/auth: creating GitHub user: %w", err)
		}
		s.logger.Info("user registered via GitHub", slog.String("userID", user.ID))

	default:
		return nil, fmt.Errorf("service/auth: looking up user by email: %w", err)
	}

	return s.issue(ctx, user)
}

// LinkGitHub attaches a GitHub account to the signed-in user and mints a
// fresh token. The caller proved ownership of the local account with its
// session, and of the GitHub account through the OAuth exchange.
func (s *AuthService) LinkGitHub(ctx context.Context, callerID string, gh *auth.GitHubUser) (*LoginResult, error) {
	if callerID == "" {
		return nil, apperror.Unauthorized("authentication required")
	}
	if gh == nil || gh.ID == 0 {
		return nil, fmt.Errorf("service/auth: GitHub user must not be empty")
	}

	owner, err := s.users.GetByGitHubID(ctx, gh.ID)
	switch {
	case err == nil && owner.ID == callerID:
		return s.issue(ctx, owner)
	case err == nil:
		return nil, &apperror.AppError{
			Err:     apperror.ErrConflict,
			Message: "this GitHub account is linked to another user",
		}
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, fmt.Errorf("service/auth: looking up GitHub user %d: %w", gh.ID, err)
	}

	user, err := s.users.GetByID(ctx, callerID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized("authentication required")
		}
		return nil, fmt.Errorf("service/auth: fetching user %s: %w", callerID, err)
	}
	if user.GitHubID != nil {
		return nil, &apperror.AppError{
			Err:     apperror.ErrConflict,
			Message: "your account is already linked to a different GitHub account",
		}
	}

	if err := s.users.LinkGitHub(ctx, user.ID, gh.ID); err != nil {
		return nil, fmt.Errorf("service/auth: linking GitHub account to user %s: %w", user.ID, err)
	}
	ghID := gh.ID
	user.GitHubID = &ghID
	s.logger.Info("GitHub account linked", slog.String("userID", user.ID))

	return s.issue(ctx, user)
}

// issue signs a token for user and records it so it can be revoked.
func (s *AuthService) issue(ctx context.Context, user *model.User) (*LoginResult, error) {
	signed, claims, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: issuing token for user %s: %w", user.ID, err)
	}

	record := &model.AuthToken{
		ID:        claims.TokenID,
		UserID:    user.ID,
		ExpiresAt: claims.ExpiresAt,
	}
	if err := s.tokenStore.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("service/auth: storing token for user %s: %w", user.ID, err)
	}

	s.logger.Info("user logged in", slog.String("userID", user.ID))

	return &LoginResult{
		Token:     signed,
		ExpiresAt: claims.ExpiresAt,
		User:      user,
	}, nil
}

// Logout revokes every outstanding token of the user the raw token names.
//
// Only a live token can do that. A correctly signed, unexpired token whose
// row is already gone is a no-op that still succeeds, so "log out twice" is
// not an error and a revoked token cannot end sessions started after it.
func (s *AuthService) Logout(ctx context.Context, rawToken string) error {
	claims, err := s.tokens.Validate(rawToken)
	if err != nil {
		return apperror.Unauthorized("invalid or expired token")
	}

	record, err := s.tokenStore.GetByID(ctx, claims.TokenID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			s.logger.Info("logout with revoked token ignored",
				slog.String("userID", claims.UserID),
			)
			return nil
		}
		return fmt.Errorf("service/auth: loading token %s: %w", claims.TokenID, err)
	}
	if record.UserID != claims.UserID {
		return apperror.Unauthorized("invalid or expired token")
	}

	n, err := s.tokenStore.DeleteAllForUser(ctx, claims.UserID)
	if err != nil {
		return fmt.Errorf("service/auth: revoking tokens for user %s: %w", claims.UserID, err)
	}

	s.logger.Info("user logged out",
		slog.String("userID", claims.UserID),
		slog.Int64("revoked", n),
	)
	return nil
}

// ResolveCaller returns the user a bearer token belongs to.
//
// Checks, in order: signature, issuer and expiry of the JWT; the token row
// still exists and belongs to the same user; the row has not expired; the
// user still exists. Any failure is apperror.ErrUnauthorized. Only store
// failures come back as other errors.
func (s *AuthService) ResolveCaller(ctx context.Context, rawToken string) (*model.User, error) {
	claims, err := s.tokens.Validate(rawToken)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			return nil, apperror.Unauthorized("token has expired")
		}
		return nil, apperror.Unauthorized("invalid token")
	}

	record, err := s.tokenStore.GetByID(ctx, claims.TokenID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized("token has been revoked")
		}
		return nil, fmt.Errorf("service/auth: loading token: %w", err)
	}
	if record.UserID != claims.UserID {
		return nil, apperror.Unauthorized("invalid token")
	}
	if record.Expired(s.now()) {
		return nil, apperror.Unauthorized("token has expired")
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized("invalid token")
		}
		return nil, fmt.Errorf("service/auth: loading caller %s: %w", claims.UserID, err)
	}

	return user, nil
}

// GetUserByID returns the user for the given internal ID.
// Used by the /me handler after the middleware has resolved the caller.
func (s *AuthService) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, apperror.Unauthorized("authentication required")
	}

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/auth: fetching user %s: %w", id, err)
	}

	return user, nil
}

// PurgeExpiredTokens deletes token rows past their expiry. The server runs
// it periodically; expired rows are already rejected by ResolveCaller.
func (s *AuthService) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	n, err := s.tokenStore.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("service/auth: purging expired tokens: %w", err)
	}
	if n > 0 {
		s.logger.Info("expired tokens purged", slog.Int64("count", n))
	}
	return n, nil
}

// normalizeEmail trims and lower-cases the address and checks its shape.
func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", apperror.ValidationFailed("email", "email is required")
	}
	if len(email) > MaxEmailLength || emailCheck.Var(email, "email") != nil {
		return "", apperror.ValidationFailed("email", "email must be a valid email address")
	}
	return email, nil
}
