package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/relayhq/relay-auth/pkg/authz"
)

func TestLimiter_BurstThenThrottle(t *testing.T) {
	limiter := NewLimiter(5, 1.0, 0)

	for i := 0; i < 5; i++ {
		assert.True(t, limiter.Allow("10.0.0.1"), "request %d within burst", i+1)
	}
	assert.False(t, limiter.Allow("10.0.0.1"))

	// A different key has its own bucket
	assert.True(t, limiter.Allow("10.0.0.2"))
}

func TestLimiter_Refill(t *testing.T) {
	// 50 tokens/second so the test refills quickly
	limiter := NewLimiter(1, 50.0, 0)

	assert.True(t, limiter.Allow("k"))
	assert.False(t, limiter.Allow("k"))

	time.Sleep(50 * time.Millisecond)
	assert.True(t, limiter.Allow("k"))
}

func TestMiddleware_EndpointLimit(t *testing.T) {
	m := NewMiddleware(Config{
		PerIPCapacity:   1000,
		PerIPRefillRate: 1000,
		EndpointLimits: map[string]EndpointLimit{
			"POST /login": {Capacity: 2, RefillRate: 0.01},
		},
	})
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(path string) int {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.RemoteAddr = "10.0.0.1:51000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do("/login"))
	assert.Equal(t, http.StatusOK, do("/login"))
	assert.Equal(t, http.StatusTooManyRequests, do("/login"))

	// Other routes are untouched by the endpoint budget
	assert.Equal(t, http.StatusOK, do("/confirm"))
}

func TestMiddleware_PerIPLimit(t *testing.T) {
	m := NewMiddleware(Config{PerIPCapacity: 1, PerIPRefillRate: 0.01})
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/anything", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, do("10.0.0.1:51000").Code)
	rec := do("10.0.0.1:51001")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	// Separate addresses get separate budgets
	assert.Equal(t, http.StatusOK, do("10.0.0.2:51000").Code)
}

func TestMiddleware_UserHandler(t *testing.T) {
	m := NewMiddleware(Config{PerUserCapacity: 2, PerUserRefillRate: 0.01})
	handler := m.UserHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(userID string) int {
		req := httptest.NewRequest(http.MethodGet, "/oauth2/userinfo", nil)
		if userID != "" {
			ctx := context.WithValue(req.Context(), authz.AuthUserKey, &authz.AuthUser{UserID: userID})
			req = req.WithContext(ctx)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do("user-1"))
	assert.Equal(t, http.StatusOK, do("user-1"))
	assert.Equal(t, http.StatusTooManyRequests, do("user-1"))

	// Separate subjects get separate budgets
	assert.Equal(t, http.StatusOK, do("user-2"))

	// Without an authenticated user the subject budget does not apply
	assert.Equal(t, http.StatusOK, do(""))
}

func TestLimiter_Close(t *testing.T) {
	limiter := NewLimiter(5, 1.0, 10*time.Millisecond)
	assert.True(t, limiter.Allow("k"))

	limiter.Close()
	limiter.Close() // idempotent

	// The limiter still serves after the sweeper stops
	assert.True(t, limiter.Allow("k"))
}

func TestMiddleware_Close(t *testing.T) {
	m := NewMiddleware(DefaultConfig())
	m.Close()
	m.Close()
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:51000"
	assert.Equal(t, "10.0.0.1", clientIP(req))

	req.Header.Set("X-Real-IP", "203.0.113.7")
	assert.Equal(t, "203.0.113.7", clientIP(req))

	req.Header.Set("X-Forwarded-For", "198.51.100.4, 203.0.113.7")
	assert.Equal(t, "198.51.100.4", clientIP(req))
}
