package ratelimit

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/render"

	"github.com/relayhq/relay-auth/pkg/authz"
)

// EndpointLimit overrides the per-IP budget for one "METHOD /path" route
type EndpointLimit struct {
	Capacity   int
	RefillRate float64
}

// Config holds the middleware budgets
type Config struct {
	// PerIP bounds unauthenticated traffic per client address
	PerIPCapacity   int
	PerIPRefillRate float64

	// PerUser bounds authenticated traffic per subject. Enforced by
	// UserHandler, which must sit behind the authorizer's Verifier.
	PerUserCapacity   int
	PerUserRefillRate float64

	// EndpointLimits tightens specific routes, keyed "METHOD /path".
	// Counted per IP on top of the general budgets.
	EndpointLimits map[string]EndpointLimit

	// BucketTTL controls how long idle buckets stay in memory
	BucketTTL time.Duration
}

// DefaultConfig allows 100 requests/minute per IP and tightens the code
// request and confirm endpoints to 10/minute, enough for a human retrying
// and far too slow for guessing a six-digit code inside its lifetime.
func DefaultConfig() Config {
	login := EndpointLimit{Capacity: 10, RefillRate: 10.0 / 60.0}
	return Config{
		PerIPCapacity:     100,
		PerIPRefillRate:   100.0 / 60.0,
		PerUserCapacity:   200,
		PerUserRefillRate: 200.0 / 60.0,
		EndpointLimits: map[string]EndpointLimit{
			"POST /login":   login,
			"POST /confirm": login,
		},
		BucketTTL: time.Hour,
	}
}

// Middleware enforces the configured budgets
type Middleware struct {
	config           Config
	ipLimiter        *Limiter
	userLimiter      *Limiter
	endpointLimiters map[string]*Limiter
}

// NewMiddleware creates the rate limiting middleware
func NewMiddleware(config Config) *Middleware {
	m := &Middleware{
		config:           config,
		ipLimiter:        NewLimiter(config.PerIPCapacity, config.PerIPRefillRate, config.BucketTTL),
		userLimiter:      NewLimiter(config.PerUserCapacity, config.PerUserRefillRate, config.BucketTTL),
		endpointLimiters: make(map[string]*Limiter),
	}
	for endpoint, limit := range config.EndpointLimits {
		m.endpointLimiters[endpoint] = NewLimiter(limit.Capacity, limit.RefillRate, config.BucketTTL)
	}
	return m
}

// Close stops the sweepers of all underlying limiters
func (m *Middleware) Close() {
	m.ipLimiter.Close()
	m.userLimiter.Close()
	for _, l := range m.endpointLimiters {
		l.Close()
	}
}

// Handler enforces the per-IP and per-endpoint budgets. Mount it on the
// outer router, ahead of authentication.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if ip != "" && !m.ipLimiter.Allow(ip) {
			m.reject(w, r, "ip")
			return
		}

		endpointKey := r.Method + " " + r.URL.Path
		if limiter, exists := m.endpointLimiters[endpointKey]; exists {
			if !limiter.Allow(ip + ":" + endpointKey) {
				m.reject(w, r, "endpoint")
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// UserHandler enforces the per-subject budget. It reads the authenticated
// user from the request context, so it must be mounted inside a group that
// runs the authorizer's Verifier first; requests without a user pass through.
func (m *Middleware) UserHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, ok := authz.AuthUserFromContext(r.Context()); ok {
			if !m.userLimiter.Allow(user.UserID) {
				m.reject(w, r, "user")
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) reject(w http.ResponseWriter, r *http.Request, limitType string) {
	slog.Warn("Rate limit exceeded", "type", limitType, "ip", clientIP(r),
		"method", r.Method, "path", r.URL.Path)

	w.Header().Set("Retry-After", "60")
	render.Status(r, http.StatusTooManyRequests)
	render.JSON(w, r, map[string]string{
		"error":             "rate_limit_exceeded",
		"error_description": "too many requests, try again later",
	})
}

// clientIP resolves the caller's address, trusting proxy headers when set
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}
