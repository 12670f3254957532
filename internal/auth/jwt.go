// Package auth provides bearer token issuing and validation, password hashing
// and the HTTP middleware that resolves the caller of a request.
//
// AUTHENTICATION FLOW OVERVIEW:
//  1. POST /login with email + password → the service verifies the bcrypt hash
//  2. The service asks TokenService.Issue for a signed JWT and stores an
//     auth_tokens row keyed by the token's "jti"
//  3. The client sends "Authorization: Bearer <jwt>" (API) or the "token"
//     cookie (HTML pages) on later requests
//  4. RequireAuth validates the JWT, checks the auth_tokens row still exists,
//     and puts the user ID in the request context
//  5. POST /logout deletes the user's auth_tokens rows; the JWTs stop working
//     even though their signatures are still valid
//
// WHY JWT + A DATABASE ROW?
// A bare JWT is stateless: the server can verify it with nothing but the
// secret, which also means it cannot be revoked before it expires. Pairing
// each token with a row gives us logout, while the signature still lets us
// reject forged or tampered tokens without touching the database.
//
// JWT STRUCTURE (three base64-encoded parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header: algorithm + token type → {"alg":"HS256","typ":"JWT"}
//	- Payload: claims → {"sub":"userID","jti":"tokenID","exp":1234567890}
//	- Signature: HMAC-SHA256(header+"."+payload, secretKey)
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issuer is the "iss" claim on every token this service signs.
const Issuer = "goal-tracker"

// DefaultTTL is how long an issued token stays valid when no TTL is configured.
const DefaultTTL = 24 * time.Hour

var (
	// ErrTokenExpired is returned by Validate for a well-formed token past its "exp".
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrInvalidToken covers every other reason a token is rejected.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// TokenService handles JWT creation and validation.
//
// It holds the HMAC secret key used to sign and verify tokens.
// The same secret must be used for both operations.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService creates a TokenService with the given secret and token lifetime.
// A zero ttl means DefaultTTL.
// Example: JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	if ttl < 0 {
		return nil, errors.New("auth: token TTL must not be negative")
	}
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &TokenService{secret: []byte(secret), ttl: ttl}, nil
}

// TTL returns the lifetime given to tokens from Issue.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Claims is what a valid token says about its bearer.
type Claims struct {
	UserID    string    // "sub"
	TokenID   string    // "jti", the auth_tokens row ID
	ExpiresAt time.Time // "exp"
}

// claims is the JWT payload. It embeds jwt.RegisteredClaims which includes
// the standard fields: Issuer, Subject, ID, ExpiresAt, IssuedAt.
type claims struct {
	jwt.RegisteredClaims
}

// Issue signs a new token for userID with the service's TTL.
// The returned Claims carry the fresh token ID the caller must persist.
func (s *TokenService) Issue(userID string) (string, Claims, error) {
	return s.IssueWithDuration(userID, s.ttl)
}

// IssueWithDuration signs a token with a custom lifetime.
// Tests use a negative duration to get an already-expired token.
//
// Signing algorithm: HS256 (HMAC-SHA256)
//   - Symmetric: same key for signing and verifying
//   - Fast and simple, good for single-server deployments
func (s *TokenService) IssueWithDuration(userID string, d time.Duration) (string, Claims, error) {
	if userID == "" {
		return "", Claims{}, errors.New("auth: cannot issue a token without a subject")
	}

	// JWT NumericDate has second precision; truncate so the expiry we store
	// matches the one inside the token.
	now := time.Now().Truncate(time.Second)
	out := Claims{
		UserID:    userID,
		TokenID:   uuid.NewString(),
		ExpiresAt: now.Add(d),
	}

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   out.UserID,
			ID:        out.TokenID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(out.ExpiresAt),
			Issuer:    Issuer,
		},
	}

	// jwt.NewWithClaims creates an unsigned token with the given algorithm.
	// SignedString(key) signs it and returns the complete JWT string.
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", Claims{}, fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, out, nil
}

// Validate parses and verifies a JWT string.
//
// VALIDATION CHECKS (performed by the jwt library):
//   - Signature is valid (wasn't tampered with)
//   - Token is not expired (ExpiresAt is in the future)
//   - Issuer matches "goal-tracker" (prevents tokens from other apps)
//   - Algorithm is HS256 (prevents algorithm confusion attacks)
//
// Validate does not consult the database; revocation is checked by the caller.
func (s *TokenService) Validate(tokenStr string) (Claims, error) {
	if tokenStr == "" {
		return Claims{}, ErrInvalidToken
	}

	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			// Reject tokens that aren't signed with HMAC
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return Claims{}, fmt.Errorf("%w: unreadable claims", ErrInvalidToken)
	}
	if c.Subject == "" {
		return Claims{}, fmt.Errorf("%w: no subject", ErrInvalidToken)
	}
	if c.ID == "" {
		return Claims{}, fmt.Errorf("%w: no token id", ErrInvalidToken)
	}

	return Claims{
		UserID:    c.Subject,
		TokenID:   c.ID,
		ExpiresAt: c.ExpiresAt.Time,
	}, nil
}
