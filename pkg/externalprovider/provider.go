package externalprovider

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// ExternalProvider represents an external OAuth2/OIDC identity provider
// configuration
type ExternalProvider struct {
	ID           string   `json:"id"`
	DisplayName  string   `json:"display_name"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	AuthURL      string   `json:"auth_url"`
	TokenURL     string   `json:"token_url"`
	UserInfoURL  string   `json:"user_info_url"`
	Scopes       []string `json:"scopes"`
	Enabled      bool     `json:"enabled"`
}

// ExternalUserInfo represents normalized user information returned by a
// provider's userinfo endpoint
type ExternalUserInfo struct {
	ProviderID    string `json:"provider_id"`
	ExternalID    string `json:"external_id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

// TokenResponse represents the provider's OAuth2 token response
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
}

// ValidateConfig validates the provider configuration
func (p *ExternalProvider) ValidateConfig() error {
	if p.ID == "" {
		return fmt.Errorf("provider ID is required")
	}
	if p.ClientID == "" {
		return fmt.Errorf("client ID is required")
	}
	if p.ClientSecret == "" {
		return fmt.Errorf("client secret is required")
	}
	for name, raw := range map[string]string{
		"authorization URL": p.AuthURL,
		"token URL":         p.TokenURL,
		"user info URL":     p.UserInfoURL,
	} {
		if raw == "" {
			return fmt.Errorf("%s is required", name)
		}
		if _, err := url.Parse(raw); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	return nil
}

// BuildAuthURL builds the provider's authorization URL for one login hop
func (p *ExternalProvider) BuildAuthURL(state, redirectURI string) (string, error) {
	authURL, err := url.Parse(p.AuthURL)
	if err != nil {
		return "", fmt.Errorf("invalid auth URL: %w", err)
	}

	params := url.Values{}
	params.Set("client_id", p.ClientID)
	params.Set("response_type", "code")
	params.Set("redirect_uri", redirectURI)
	params.Set("state", state)
	if len(p.Scopes) > 0 {
		params.Set("scope", strings.Join(p.Scopes, " "))
	}

	authURL.RawQuery = params.Encode()
	return authURL.String(), nil
}

// ParseUserInfo normalizes a userinfo response body. Known providers get
// field-level handling; everything else falls back to standard OIDC claims.
func (p *ExternalProvider) ParseUserInfo(data []byte) (*ExternalUserInfo, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user info: %w", err)
	}

	userInfo := &ExternalUserInfo{ProviderID: p.ID}

	switch p.ID {
	case "google":
		userInfo.ExternalID = getStringValue(raw, "id")
		if userInfo.ExternalID == "" {
			userInfo.ExternalID = getStringValue(raw, "sub")
		}
		userInfo.Email = getStringValue(raw, "email")
		userInfo.EmailVerified = getBoolValue(raw, "verified_email") || getBoolValue(raw, "email_verified")
		userInfo.Name = getStringValue(raw, "name")

	case "slack":
		userInfo.ExternalID = getStringValue(raw, "sub")
		userInfo.Email = getStringValue(raw, "email")
		userInfo.EmailVerified = getBoolValue(raw, "email_verified")
		userInfo.Name = getStringValue(raw, "name")

	default:
		// Generic OIDC parsing
		userInfo.ExternalID = getStringValue(raw, "sub")
		if userInfo.ExternalID == "" {
			userInfo.ExternalID = getStringValue(raw, "id")
		}
		userInfo.Email = getStringValue(raw, "email")
		userInfo.EmailVerified = getBoolValue(raw, "email_verified")
		userInfo.Name = getStringValue(raw, "name")
	}

	if userInfo.ExternalID == "" {
		return nil, fmt.Errorf("no external ID found in user info")
	}
	if userInfo.Email == "" {
		return nil, fmt.Errorf("no email found in user info")
	}
	return userInfo, nil
}

func getStringValue(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

func getBoolValue(data map[string]interface{}, key string) bool {
	if val, ok := data[key]; ok {
		if b, ok := val.(bool); ok {
			return b
		}
	}
	return false
}
