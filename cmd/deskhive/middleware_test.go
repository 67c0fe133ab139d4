package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/deskhive/deskhive/auth"
)

func signTestToken(t *testing.T, secret []byte) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":             "u-1",
		"organization_id": "org-1",
		"email":           "agent@example.com",
		"roles":           []string{"admin"},
		"iat":             time.Now().Unix(),
		"exp":             time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return token
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestBearerAuth(t *testing.T) {
	t.Parallel()

	secret := []byte("middleware-test-secret")
	decoder := auth.NewJWTDecoder(secret, "", "")

	var captured *auth.Principal
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := BearerAuth(decoder, []string{"/health"}, zap.NewNop())(inner)

	// Valid token: principal lands on the context.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/threads/t1/history", nil)
	req.Header.Set("Authorization", "Bearer "+signTestToken(t, secret))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, captured)
	assert.Equal(t, "u-1", captured.UserID)
	assert.True(t, captured.HasRole(auth.RoleAdmin))

	// Missing token on a protected path.
	captured = nil
	req = httptest.NewRequest(http.MethodGet, "/api/v1/threads/t1/history", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, captured)

	// Garbage token.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/threads/t1/history", nil)
	req.Header.Set("Authorization", "Bearer not.a.jwt")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Skip path passes with no credentials.
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestID(t *testing.T) {
	t.Parallel()

	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	})
	handler := RequestID()(inner)

	// Generated when absent.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))

	// Preserved when the client supplies one.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-client-1")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "req-client-1", seen)
}

func TestRecovery(t *testing.T) {
	t.Parallel()

	panicking := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
	handler := Recovery(zap.NewNop())(panicking)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRateLimiter(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := RateLimiter(ctx, 1, 2, zap.NewNop())(okHandler())

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:55555"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, http.StatusOK, codes[0])
	assert.Equal(t, http.StatusOK, codes[1])
	assert.Equal(t, http.StatusTooManyRequests, codes[3], "burst exhausted")

	// A different client IP gets its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:55555"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNormalizePath(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"/api/v1/threads/0192a3b4-c5d6-7e8f-9a0b-c1d2e3f4a5b6/history": "/api/v1/threads/:id/history",
		"/api/v1/threads/12345/messages":                               "/api/v1/threads/:id/messages",
		"/api/v1/agents/deadbeef01/tools/get_ticket":                   "/api/v1/agents/:id/tools/get_ticket",
		"/health": "/health",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizePath(in), in)
	}
}
