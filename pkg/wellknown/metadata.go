// Package wellknown serves the OAuth2/OIDC discovery documents.
package wellknown

// AuthorizationServerMetadata represents the OAuth 2.0 Authorization Server
// Metadata as defined in RFC 8414
type AuthorizationServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	JwksURI                           string   `json:"jwks_uri,omitempty"`
	RegistrationEndpoint              string   `json:"registration_endpoint,omitempty"`
	UserinfoEndpoint                  string   `json:"userinfo_endpoint,omitempty"`
	RevocationEndpoint                string   `json:"revocation_endpoint,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported,omitempty"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
}

// Config holds configuration for the discovery endpoints
type Config struct {
	// Issuer is the canonical base URL of this server (e.g., "https://auth.example.com")
	Issuer string

	// Scopes advertised in the discovery documents
	Scopes []string
}

// NewAuthorizationServerMetadata creates the RFC 8414 metadata document
func NewAuthorizationServerMetadata(config Config) *AuthorizationServerMetadata {
	scopes := config.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "profile", "email"}
	}

	return &AuthorizationServerMetadata{
		Issuer:                            config.Issuer,
		AuthorizationEndpoint:             config.Issuer + "/oauth2/authorize",
		TokenEndpoint:                     config.Issuer + "/oauth2/token",
		JwksURI:                           config.Issuer + "/.well-known/jwks.json",
		RegistrationEndpoint:              config.Issuer + "/oauth2/clients",
		UserinfoEndpoint:                  config.Issuer + "/oauth2/userinfo",
		RevocationEndpoint:                config.Issuer + "/oauth2/revoke",
		ScopesSupported:                   scopes,
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code", "refresh_token"},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_post", "client_secret_basic"},
		CodeChallengeMethodsSupported:     []string{"S256", "plain"},
	}
}
