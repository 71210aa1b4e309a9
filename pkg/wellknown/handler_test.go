package wellknown

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDiscoveryRouter() chi.Router {
	r := chi.NewRouter()
	NewHandler(Config{Issuer: "https://auth.relay.test"}).Routes(r)
	return r
}

func TestAuthorizationServerMetadata(t *testing.T) {
	router := newDiscoveryRouter()

	req := httptest.NewRequest(http.MethodGet, "/.well-known/oauth-authorization-server", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Cache-Control"), "max-age=3600")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	var metadata AuthorizationServerMetadata
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &metadata))
	assert.Equal(t, "https://auth.relay.test", metadata.Issuer)
	assert.Equal(t, "https://auth.relay.test/oauth2/authorize", metadata.AuthorizationEndpoint)
	assert.Equal(t, "https://auth.relay.test/oauth2/token", metadata.TokenEndpoint)
	assert.Equal(t, "https://auth.relay.test/.well-known/jwks.json", metadata.JwksURI)
	assert.Equal(t, []string{"code"}, metadata.ResponseTypesSupported)
	assert.ElementsMatch(t, []string{"authorization_code", "refresh_token"}, metadata.GrantTypesSupported)
	assert.ElementsMatch(t, []string{"S256", "plain"}, metadata.CodeChallengeMethodsSupported)
	assert.Equal(t, []string{"openid", "profile", "email"}, metadata.ScopesSupported)
}

func TestOpenIDConfiguration(t *testing.T) {
	router := newDiscoveryRouter()

	req := httptest.NewRequest(http.MethodGet, "/.well-known/openid-configuration", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var metadata map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &metadata))
	assert.Equal(t, "https://auth.relay.test", metadata["issuer"])
	assert.Equal(t, []interface{}{"public"}, metadata["subject_types_supported"])
	assert.Equal(t, []interface{}{"RS256"}, metadata["id_token_signing_alg_values_supported"])
}

func TestMetadataScopeOverride(t *testing.T) {
	metadata := NewAuthorizationServerMetadata(Config{
		Issuer: "https://auth.relay.test",
		Scopes: []string{"message.read", "message.write"},
	})
	assert.Equal(t, []string{"message.read", "message.write"}, metadata.ScopesSupported)
}
