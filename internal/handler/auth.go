package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/goal-tracker/internal/apperror"
	"github.com/sakif/goal-tracker/internal/auth"
	"github.com/sakif/goal-tracker/internal/service"
)

// AuthHandler serves registration, login, logout and the current-user endpoint,
// plus the optional GitHub sign-in flow.
//
// HANDLER RESPONSIBILITIES:
//   - HandleRegister       → POST /register
//   - HandleLogin          → POST /login
//   - HandleLogout         → POST /logout
//   - HandleMe             → GET  /me
//   - HandleGitHubLogin    → GET  /auth/github/login
//   - HandleGitHubCallback → GET  /auth/github/callback
type AuthHandler struct {
	auth         AuthService
	github       *auth.GitHubProvider // nil when GitHub sign-in is not configured
	cookieSecure bool
	logger       *slog.Logger
}

// NewAuthHandler creates an AuthHandler. github may be nil.
func NewAuthHandler(svc AuthService, github *auth.GitHubProvider, cookieSecure bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		auth:         svc,
		github:       github,
		cookieSecure: cookieSecure,
		logger:       logger,
	}
}

// registerRequest lists exactly the fields a client may send to /register.
type registerRequest struct {
	Name     string `json:"name"     validate:"required,max=100"`
	Email    string `json:"email"    validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=6"`
}

// loginRequest has no validate tags: every bad login is a 401 with the same
// message, never a 422 that would reveal which part was wrong.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse is the body of a successful login.
type TokenResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HandleRegister creates an account.
//
// HTTP: POST /register
// REQUEST BODY: {"name": "Ann", "email": "ann@example.com", "password": "secret1"}
// RESPONSE: 201 with the user (never the password hash)
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.auth.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// HandleLogin exchanges credentials for a bearer token.
//
// HTTP: POST /login
// REQUEST BODY: {"email": "ann@example.com", "password": "secret1"}
// RESPONSE: 200 {"token": "...", "token_type": "Bearer", "expires_at": "..."}
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, TokenResponse{
		Token:     res.Token,
		TokenType: "Bearer",
		ExpiresAt: res.ExpiresAt.UTC(),
	})
}

// HandleLogout revokes all of the caller's tokens.
//
// HTTP: POST /logout
// Auth: bearer token or session cookie
//
// This route is NOT behind RequireAuth: that middleware rejects tokens whose
// row is already gone, and logging out twice with the same token must succeed.
// The service still rejects forged and expired tokens with 401.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	raw := auth.TokenFromRequest(r)
	if raw == "" {
		writeError(w, apperror.Unauthorized("valid authentication required"))
		return
	}

	if err := h.auth.Logout(r.Context(), raw); err != nil {
		writeError(w, err)
		return
	}

	clearSessionCookie(w, h.cookieSecure)
	writeJSON(w, http.StatusOK, MessageResponse{Message: "logged out"})
}

// HandleMe returns the currently authenticated user's profile.
//
// HTTP: GET /me
// Auth: Required (RequireAuth middleware sets userID in context)
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		// Should never happen on a RequireAuth-protected route, but be safe.
		writeError(w, apperror.Unauthorized("valid authentication required"))
		return
	}

	user, err := h.auth.GetUserByID(r.Context(), userID)
	if err != nil {
		h.logger.Error("HandleMe: loading user", slog.String("userID", userID), slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

const oauthStateCookie = "oauth_state"

// HandleGitHubLogin redirects the browser to GitHub's authorization page.
//
// HTTP: GET /auth/github/login
//
// CSRF PROTECTION VIA STATE:
// A random state value goes into a short-lived HttpOnly cookie and into the
// authorization URL. HandleGitHubCallback checks that the two match.
func (h *AuthHandler) HandleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	if h.github == nil {
		writeError(w, apperror.NotFound("auth provider", "github"))
		return
	}

	state := xid.New().String()

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10 minutes
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.github.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGitHubCallback completes the OAuth flow.
//
// HTTP: GET /auth/github/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Validate the state parameter (CSRF check)
//  2. Exchange the code for a GitHub profile
//  3. Signed in (OptionalAuth found a session): link GitHub to that account.
//     Anonymous: sign in the linked account or create a new one.
//  4. Store the new token in the session cookie and redirect to the goals page
func (h *AuthHandler) HandleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	if h.github == nil {
		writeError(w, apperror.NotFound("auth provider", "github"))
		return
	}

	// --- Step 1: Validate CSRF state ---
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" || r.URL.Query().Get("state") != stateCookie.Value {
		h.logger.Warn("auth callback: state mismatch")
		writeError(w, &badRequestError{msg: "invalid OAuth state"})
		return
	}

	// The state cookie is single-use.
	http.SetCookie(w, &http.Cookie{
		Name:   oauthStateCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("auth callback: user denied authorization", slog.String("error", errParam))
		http.Redirect(w, r, "/web/login", http.StatusSeeOther)
		return
	}

	// --- Step 2: Exchange code for GitHub profile ---
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, &badRequestError{msg: "missing OAuth code"})
		return
	}

	ghUser, err := h.github.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("auth callback: GitHub exchange failed", slog.String("error", err.Error()))
		writeError(w, apperror.Unauthorized("GitHub authentication failed"))
		return
	}

	// --- Step 3: Local account + token ---
	var res *service.LoginResult
	if callerID, ok := auth.UserIDFromContext(r.Context()); ok {
		res, err = h.auth.LinkGitHub(r.Context(), callerID, ghUser)
	} else {
		res, err = h.auth.LoginWithGitHub(r.Context(), ghUser)
	}
	if err != nil {
		var appErr *apperror.AppError
		if !errors.As(err, &appErr) {
			h.logger.Error("auth callback: signing in GitHub user",
				slog.Int64("githubID", ghUser.ID),
				slog.String("error", err.Error()),
			)
		}
		writeError(w, err)
		return
	}

	// --- Step 4: Session cookie + redirect ---
	setSessionCookie(w, res, h.cookieSecure)
	http.Redirect(w, r, "/web/goals", http.StatusSeeOther)
}

// setSessionCookie stores a login token in the HttpOnly "token" cookie.
//
// HttpOnly = JavaScript cannot read this cookie (XSS protection).
// SameSite=Lax = sent on top-level navigations but not on cross-site POSTs.
// Secure should be true in production (HTTPS only); COOKIE_SECURE controls it.
func setSessionCookie(w http.ResponseWriter, res *service.LoginResult, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    res.Token,
		Path:     "/",
		Expires:  res.ExpiresAt,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1, // tells the browser to delete the cookie immediately
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
