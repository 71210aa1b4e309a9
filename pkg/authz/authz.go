package authz

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/relayhq/relay-auth/pkg/tokenservice"
)

// AuthUser is the authenticated principal placed in the request context by
// the Verifier middleware
type AuthUser struct {
	UserID   string
	ClientID string
	Scopes   []string
}

func (u AuthUser) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("user_id", u.UserID),
		slog.String("client_id", u.ClientID),
	)
}

// HasScope reports whether the user was granted any of the wanted scopes
func (u AuthUser) HasScope(wanted ...string) bool {
	for _, w := range wanted {
		for _, g := range u.Scopes {
			if g == w {
				return true
			}
		}
	}
	return false
}

// contextKey is a value for use with context.WithValue. It's used as
// a pointer so it fits in an interface{} without allocation.
type contextKey struct {
	name string
}

func (k *contextKey) String() string {
	return "authz context value " + k.name
}

var AuthUserKey = &contextKey{"AuthUser"}

// AuthUserFromContext extracts the authenticated user set by Verifier
func AuthUserFromContext(ctx context.Context) (*AuthUser, bool) {
	user, ok := ctx.Value(AuthUserKey).(*AuthUser)
	return user, ok
}

// Authorizer validates bearer tokens and enforces scope requirements on
// protected routes
type Authorizer struct {
	tokens *tokenservice.TokenService
}

// NewAuthorizer creates a new authorizer backed by the token service
func NewAuthorizer(tokens *tokenservice.TokenService) *Authorizer {
	return &Authorizer{tokens: tokens}
}

// Verifier extracts and validates the bearer access token, rejecting with a
// uniform 401 on any failure. The specific failure reason is logged, never
// surfaced to the caller.
func (a *Authorizer) Verifier(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			unauthorized(w)
			return
		}

		claims, err := a.tokens.ValidateToken(r.Context(), raw)
		if err != nil {
			slog.Info("Bearer token rejected", "error", err, "path", r.URL.Path)
			unauthorized(w)
			return
		}
		if claims.TokenUse != tokenservice.TokenUseAccess {
			slog.Info("Non-access token presented as bearer", "token_use", claims.TokenUse, "path", r.URL.Path)
			unauthorized(w)
			return
		}

		clientID := ""
		if len(claims.Audience) > 0 {
			clientID = claims.Audience[0]
		}
		user := &AuthUser{
			UserID:   claims.Subject,
			ClientID: clientID,
			Scopes:   strings.Fields(claims.Scope),
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), AuthUserKey, user)))
	})
}

// RequireScopes allows the request through when the token carries ANY of the
// listed scopes. Callers needing all of several scopes chain the middleware.
func (a *Authorizer) RequireScopes(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := AuthUserFromContext(r.Context())
			if !ok {
				unauthorized(w)
				return
			}
			if !user.HasScope(scopes...) {
				slog.Info("Scope check failed", "user", user, "required_any", scopes)
				forbidden(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="relay-auth"`)
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func forbidden(w http.ResponseWriter) {
	http.Error(w, "insufficient scope", http.StatusForbidden)
}
