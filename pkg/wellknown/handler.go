package wellknown

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Handler provides HTTP handlers for the discovery endpoints
type Handler struct {
	config Config
}

// NewHandler creates a new discovery endpoints handler
func NewHandler(config Config) *Handler {
	return &Handler{config: config}
}

// Routes registers the discovery endpoints on the router
func (h *Handler) Routes(r chi.Router) {
	r.Get("/.well-known/oauth-authorization-server", h.AuthorizationServerMetadata)
	r.Get("/.well-known/openid-configuration", h.OpenIDConfiguration)
}

// AuthorizationServerMetadata handles GET /.well-known/oauth-authorization-server (RFC 8414)
func (h *Handler) AuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	h.writeMetadata(w, NewAuthorizationServerMetadata(h.config))
}

// OpenIDConfiguration handles GET /.well-known/openid-configuration, the
// OpenID Connect Discovery 1.0 shape of the same document
func (h *Handler) OpenIDConfiguration(w http.ResponseWriter, r *http.Request) {
	metadata := NewAuthorizationServerMetadata(h.config)

	oidcMetadata := map[string]interface{}{
		"issuer":                                metadata.Issuer,
		"authorization_endpoint":                metadata.AuthorizationEndpoint,
		"token_endpoint":                        metadata.TokenEndpoint,
		"jwks_uri":                              metadata.JwksURI,
		"userinfo_endpoint":                     metadata.UserinfoEndpoint,
		"revocation_endpoint":                   metadata.RevocationEndpoint,
		"scopes_supported":                      metadata.ScopesSupported,
		"response_types_supported":              metadata.ResponseTypesSupported,
		"grant_types_supported":                 metadata.GrantTypesSupported,
		"token_endpoint_auth_methods_supported": metadata.TokenEndpointAuthMethodsSupported,
		"code_challenge_methods_supported":      metadata.CodeChallengeMethodsSupported,
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
	}

	h.writeMetadata(w, oidcMetadata)
}

func (h *Handler) writeMetadata(w http.ResponseWriter, metadata interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	if err := json.NewEncoder(w).Encode(metadata); err != nil {
		slog.Error("Failed to encode discovery metadata", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
