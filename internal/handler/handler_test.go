package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/sakif/goal-tracker/internal/auth"
	sqliteRepo "github.com/sakif/goal-tracker/internal/repository/sqlite"
	"github.com/sakif/goal-tracker/internal/service"
)

// =============================================================================
// Test harness
// =============================================================================

const testPassword = "secret1"

// testEnv wires real services over an in-memory database, so handler tests
// exercise the same rules the server does.
type testEnv struct {
	router  *chi.Mux
	authSvc *service.AuthService
	goalSvc *service.GoalService
	github  *auth.GitHubProvider
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := quietLogger()

	db, err := sqliteRepo.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	tokens, err := auth.NewTokenService("handler-test-secret-0123", time.Hour)
	require.NoError(t, err)

	env := &testEnv{
		router:  chi.NewRouter(),
		authSvc: service.NewAuthService(db.Users(), db.Tokens(), tokens, auth.NewPasswordServiceForTest(), logger),
		goalSvc: service.NewGoalService(db.Goals(), logger),
		github:  auth.NewGitHubProvider("client-id", "client-secret", "http://localhost/auth/github/callback"),
	}

	authHandler := NewAuthHandler(env.authSvc, env.github, false, logger)
	goalHandler := NewGoalHandler(env.goalSvc, logger)
	webHandler, err := NewWebHandler(env.authSvc, env.goalSvc, false, true, logger)
	require.NoError(t, err)

	r := env.router
	r.Post("/register", authHandler.HandleRegister)
	r.Post("/login", authHandler.HandleLogin)
	r.Post("/logout", authHandler.HandleLogout)
	r.Get("/auth/github/login", authHandler.HandleGitHubLogin)
	r.With(auth.OptionalAuth(env.authSvc)).Get("/auth/github/callback", authHandler.HandleGitHubCallback)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(env.authSvc, logger))
		r.Get("/me", authHandler.HandleMe)
		r.Get("/goals", goalHandler.HandleList)
		r.Post("/goals", goalHandler.HandleCreate)
		r.Get("/goals/{id}", goalHandler.HandleGet)
		r.Put("/goals/{id}", goalHandler.HandleUpdate)
		r.Delete("/goals/{id}", goalHandler.HandleDelete)
	})
	r.Route("/web", func(r chi.Router) {
		r.Use(auth.OptionalAuth(env.authSvc))
		r.Get("/", webHandler.HandleIndex)
		r.Get("/register", webHandler.HandleRegisterForm)
		r.Post("/register", webHandler.HandleRegister)
		r.Get("/login", webHandler.HandleLoginForm)
		r.Post("/login", webHandler.HandleLogin)
		r.Post("/logout", webHandler.HandleLogout)
		r.Get("/goals", webHandler.HandleGoals)
		r.Post("/goals", webHandler.HandleCreateGoal)
		r.Get("/goals/{id}/edit", webHandler.HandleEditGoal)
		r.Post("/goals/{id}", webHandler.HandleUpdateGoal)
		r.Post("/goals/{id}/delete", webHandler.HandleDeleteGoal)
	})

	return env
}

// do sends a JSON request, with a bearer token when token is non-empty.
func (e *testEnv) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// signUp registers a user through the API and returns a fresh token.
func (e *testEnv) signUp(t *testing.T, name, email string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/register", "",
		`{"name":"`+name+`","email":"`+email+`","password":"`+testPassword+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return e.login(t, email)
}

func (e *testEnv) login(t *testing.T, email string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/login", "", `{"email":"`+email+`","password":"`+testPassword+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var tok TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tok))
	return tok.Token
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}
