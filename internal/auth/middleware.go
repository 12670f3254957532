package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sakif/goal-tracker/internal/apperror"
	"github.com/sakif/goal-tracker/internal/model"
)

// CookieName is the cookie the HTML pages keep the session token in.
const CookieName = "token"

// contextKey is an unexported type used for context keys in this package.
//
// WHY A CUSTOM TYPE FOR CONTEXT KEYS?
// context.WithValue uses any as the key type. With a plain string key, ANY
// package that knows the string can read or shadow the value. Only THIS
// package can create a key of type contextKey.
type contextKey string

const userIDKey contextKey = "userID"

// CallerResolver turns a raw bearer token into the user it belongs to.
// service.AuthService implements it; the middleware only sees this interface.
//
// Implementations return an apperror.ErrUnauthorized error when the token is
// malformed, expired, revoked or names a user that no longer exists.
type CallerResolver interface {
	ResolveCaller(ctx context.Context, rawToken string) (*model.User, error)
}

// RequireAuth is a middleware that enforces authentication on protected routes.
//
// It reads the token (Authorization header first, then the "token" cookie),
// asks the resolver who it belongs to, and stores the user ID in the request
// context. Missing or rejected tokens get 401 and stop the request chain.
//
// MIDDLEWARE PATTERN IN GO:
//
//	func Middleware(next http.Handler) http.Handler {
//	    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
//	        // ... before ...
//	        next.ServeHTTP(w, r)
//	        // ... after ...
//	    })
//	}
func RequireAuth(resolver CallerResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := TokenFromRequest(r)
			if raw == "" {
				writeUnauthorized(w, "valid authentication required")
				return
			}

			user, err := resolver.ResolveCaller(r.Context(), raw)
			if err != nil {
				if errors.Is(err, apperror.ErrUnauthorized) {
					writeUnauthorized(w, "valid authentication required")
					return
				}
				// The token might be fine; the store is not.
				logger.Error("resolving caller",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				writeAuthError(w, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), user.ID)))
		})
	}
}

// OptionalAuth extracts the caller if a valid token is present, but does NOT
// block the request if it's missing or invalid.
//
// The HTML pages use it: they redirect anonymous visitors to the login page
// instead of answering 401. Handlers check UserIDFromContext; ("", false)
// means the request is anonymous.
func OptionalAuth(resolver CallerResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if raw := TokenFromRequest(r); raw != "" {
				if user, err := resolver.ResolveCaller(r.Context(), raw); err == nil {
					r = r.WithContext(WithUserID(r.Context(), user.ID))
				}
			}
			// Always continue, no 401 even if no token
			next.ServeHTTP(w, r)
		})
	}
}

// WithUserID returns a copy of ctx carrying the authenticated user ID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext retrieves the authenticated user's ID from the request context.
//
// Returns ("", false) if the request is anonymous.
//
//	userID, ok := auth.UserIDFromContext(r.Context())
//	if !ok {
//	    // anonymous user
//	}
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

// TokenFromRequest returns the raw token a request presents, or "".
//
// Sources, in order:
//  1. Authorization: Bearer <token>   (JSON API clients)
//  2. Cookie: token=<token>           (HTML pages; HttpOnly so scripts can't read it)
//
// The scheme match is case-insensitive, as RFC 6750 allows.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}

	if cookie, err := r.Cookie(CookieName); err == nil {
		return cookie.Value
	}
	return ""
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="goal-tracker"`)
	writeAuthError(w, http.StatusUnauthorized, "unauthorized", message)
}

// writeAuthError writes the same {"error","message"} shape as the handler
// package. It lives here because auth must not import handler.
func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}
