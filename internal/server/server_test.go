package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/goal-tracker/internal/apperror"
	"github.com/sakif/goal-tracker/internal/config"
	"github.com/sakif/goal-tracker/internal/model"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:               8080,
		DBPath:             ":memory:",
		JWTSecret:          "server-test-secret-0123",
		TokenTTL:           time.Hour,
		TokenPurgeInterval: time.Hour,
		BcryptCost:         4,
		LogLevel:           "info",
		LogFormat:          "text",
		LoginRateLimit:     10,
		LoginRateWindow:    time.Minute,
	}
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	s, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func call(t *testing.T, s *Server, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func register(t *testing.T, s *Server, name, email, password string) {
	t.Helper()
	rec := call(t, s, http.MethodPost, "/register", "",
		`{"name":"`+name+`","email":"`+email+`","password":"`+password+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func login(t *testing.T, s *Server, email, password string) string {
	t.Helper()
	rec := call(t, s, http.MethodPost, "/login", "", `{"email":"`+email+`","password":"`+password+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		Token     string `json:"token"`
		TokenType string `json:"token_type"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "Bearer", body.TokenType)
	return body.Token
}

// =============================================================================
// End-to-end scenarios
// =============================================================================

func TestServer_GoalWalkthrough(t *testing.T) {
	s := newTestServer(t, nil)

	register(t, s, "Ann", "ann@example.com", "secret1")
	token := login(t, s, "ann@example.com", "secret1")

	rec := call(t, s, http.MethodPost, "/goals", token, `{"title":"Run 5k","due_date":"2026-06-01"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var goal model.Goal
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &goal))

	rec = call(t, s, http.MethodGet, "/goals", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var goals []model.Goal
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &goals))
	require.Len(t, goals, 1)
	assert.Equal(t, goal.ID, goals[0].ID)
	assert.Equal(t, "Run 5k", goals[0].Title)

	rec = call(t, s, http.MethodPut, "/goals/"+goal.ID, token, `{"description":"park loop"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = call(t, s, http.MethodDelete, "/goals/"+goal.ID, token, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = call(t, s, http.MethodGet, "/goals/"+goal.ID, token, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = call(t, s, http.MethodPost, "/logout", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = call(t, s, http.MethodPost, "/logout", token, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = call(t, s, http.MethodGet, "/goals", token, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_CrossUserIsolation(t *testing.T) {
	s := newTestServer(t, nil)

	register(t, s, "Ann", "ann@example.com", "secret1")
	register(t, s, "Bob", "bob@example.com", "secret2")
	ann := login(t, s, "ann@example.com", "secret1")
	bob := login(t, s, "bob@example.com", "secret2")

	rec := call(t, s, http.MethodPost, "/goals", ann, `{"title":"Ann only"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var goal model.Goal
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &goal))

	rec = call(t, s, http.MethodGet, "/goals", bob, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))

	assert.Equal(t, http.StatusNotFound, call(t, s, http.MethodGet, "/goals/"+goal.ID, bob, "").Code)
	assert.Equal(t, http.StatusNotFound, call(t, s, http.MethodPut, "/goals/"+goal.ID, bob, `{"title":"x"}`).Code)
	assert.Equal(t, http.StatusNotFound, call(t, s, http.MethodDelete, "/goals/"+goal.ID, bob, "").Code)
	assert.Equal(t, http.StatusOK, call(t, s, http.MethodGet, "/goals/"+goal.ID, ann, "").Code)
}

// Logging out with an already revoked token leaves later sessions alone.
func TestServer_StaleLogoutKeepsNewSession(t *testing.T) {
	s := newTestServer(t, nil)
	register(t, s, "Ann", "ann@example.com", "secret1")

	t1 := login(t, s, "ann@example.com", "secret1")
	require.Equal(t, http.StatusOK, call(t, s, http.MethodPost, "/logout", t1, "").Code)

	t2 := login(t, s, "ann@example.com", "secret1")
	assert.Equal(t, http.StatusOK, call(t, s, http.MethodPost, "/logout", t1, "").Code)

	assert.Equal(t, http.StatusOK, call(t, s, http.MethodGet, "/me", t2, "").Code)
}

func TestServer_RequestErrors(t *testing.T) {
	s := newTestServer(t, nil)
	register(t, s, "Ann", "ann@example.com", "secret1")
	token := login(t, s, "ann@example.com", "secret1")

	rec := call(t, s, http.MethodPost, "/goals", token, `{"title":"x","owner":"bob"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = call(t, s, http.MethodPost, "/goals", token, `{"title":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(t, s, http.MethodPost, "/login", "", `{"email":"ann@example.com","password":"wrong1"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = call(t, s, http.MethodGet, "/me", "garbage", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// =============================================================================
// Operational routes
// =============================================================================

func TestServer_HealthAndMetrics(t *testing.T) {
	s := newTestServer(t, nil)

	rec := call(t, s, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	call(t, s, http.MethodGet, "/goals/abc", "", "")

	rec = call(t, s, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `goaltracker_http_requests_total{method="GET",route="/healthz",status="200"} 1`)
	assert.Contains(t, body, `route="/goals/{id}",status="401"`)
}

func TestServer_HealthReportsClosedDatabase(t *testing.T) {
	s := newTestServer(t, nil)
	require.NoError(t, s.Close())

	rec := call(t, s, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_WebRoutes(t *testing.T) {
	s := newTestServer(t, nil)

	rec := call(t, s, http.MethodGet, "/", "", "")
	assert.Equal(t, http.StatusSeeOther, rec.Code)

	rec = call(t, s, http.MethodGet, "/web/goals", "", "")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/web/login", rec.Header().Get("Location"))

	rec = call(t, s, http.MethodGet, "/web/login", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "/auth/github/login")
}

func TestServer_GitHubRoutesOnlyWhenConfigured(t *testing.T) {
	s := newTestServer(t, nil)
	assert.Equal(t, http.StatusNotFound, call(t, s, http.MethodGet, "/auth/github/login", "", "").Code)

	s = newTestServer(t, func(c *config.Config) {
		c.GitHubClientID = "id"
		c.GitHubClientSecret = "secret"
		c.GitHubCallbackURL = "http://localhost:8080/auth/github/callback"
	})
	rec := call(t, s, http.MethodGet, "/auth/github/login", "", "")
	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "client_id=id")
}

// =============================================================================
// Rate limiting
// =============================================================================

func TestServer_LoginRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	s := newTestServer(t, func(c *config.Config) {
		c.RedisAddr = mr.Addr()
		c.LoginRateLimit = 2
	})
	register(t, s, "Ann", "ann@example.com", "secret1")

	bad := `{"email":"ann@example.com","password":"guess-guess"}`
	assert.Equal(t, http.StatusUnauthorized, call(t, s, http.MethodPost, "/login", "", bad).Code)
	assert.Equal(t, http.StatusUnauthorized, call(t, s, http.MethodPost, "/login", "", bad).Code)

	rec := call(t, s, http.MethodPost, "/login", "", `{"email":"ann@example.com","password":"secret1"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Registration is not limited.
	register(t, s, "Bob", "bob@example.com", "secret2")
}

func loginFrom(t *testing.T, s *Server, forwardedFor, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(body))
	req.RemoteAddr = "192.0.2.10:5555"
	req.Header.Set("X-Forwarded-For", forwardedFor)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_LoginRateLimitIgnoresForwardedFor(t *testing.T) {
	mr := miniredis.RunT(t)
	s := newTestServer(t, func(c *config.Config) {
		c.RedisAddr = mr.Addr()
		c.LoginRateLimit = 2
	})
	register(t, s, "Ann", "ann@example.com", "secret1")

	bad := `{"email":"ann@example.com","password":"guess-guess"}`
	assert.Equal(t, http.StatusUnauthorized, loginFrom(t, s, "10.1.0.1", bad).Code)
	assert.Equal(t, http.StatusUnauthorized, loginFrom(t, s, "10.1.0.2", bad).Code)

	rec := loginFrom(t, s, "10.1.0.3", bad)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"error":"rate_limited","message":"too many requests, try again later"}`, rec.Body.String())
}

func TestServer_LoginRateLimitTrustedProxy(t *testing.T) {
	mr := miniredis.RunT(t)
	s := newTestServer(t, func(c *config.Config) {
		c.RedisAddr = mr.Addr()
		c.LoginRateLimit = 1
		c.TrustProxy = true
	})
	register(t, s, "Ann", "ann@example.com", "secret1")

	bad := `{"email":"ann@example.com","password":"guess-guess"}`
	assert.Equal(t, http.StatusUnauthorized, loginFrom(t, s, "10.1.0.1", bad).Code)
	assert.Equal(t, http.StatusTooManyRequests, loginFrom(t, s, "10.1.0.1", bad).Code)
	// Each client behind the proxy has its own budget.
	assert.Equal(t, http.StatusUnauthorized, loginFrom(t, s, "10.1.0.2", bad).Code)
}

// =============================================================================
// Background token purge
// =============================================================================

func TestServer_PurgeExpiredTokens(t *testing.T) {
	s := newTestServer(t, nil)
	register(t, s, "Ann", "ann@example.com", "secret1")
	live := login(t, s, "ann@example.com", "secret1")

	rec := call(t, s, http.MethodGet, "/me", live, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var me model.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))

	ctx := context.Background()
	stale := &model.AuthToken{
		ID:        "stale-token",
		UserID:    me.ID,
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	require.NoError(t, s.db.Tokens().Create(ctx, stale))

	workerCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.purgeExpiredTokens(workerCtx, 10*time.Millisecond)
	}()

	require.Eventually(t, func() bool {
		_, err := s.db.Tokens().GetByID(ctx, stale.ID)
		return errors.Is(err, apperror.ErrNotFound)
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("purge worker did not stop after cancel")
	}

	// The live token is untouched.
	assert.Equal(t, http.StatusOK, call(t, s, http.MethodGet, "/me", live, "").Code)
}

func TestNew_RejectsBadBcryptCost(t *testing.T) {
	cfg := testConfig()
	cfg.BcryptCost = 99

	_, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}
