package oauth2client

import (
	"time"
)

// Client types
const (
	ClientTypePublic       = "public"
	ClientTypeConfidential = "confidential"
)

// OAuth2Client represents a registered OAuth2 consumer
type OAuth2Client struct {
	ClientID     string
	ClientName   string
	ClientType   string // "public" or "confidential"
	RedirectURIs []string
	Scopes       []string

	// SecretHash is the bcrypt hash of the client secret; empty for public
	// clients. The plaintext secret is returned exactly once at creation and
	// never stored.
	SecretHash string

	CreatedAt time.Time
}

// IsConfidential reports whether the client must authenticate with a secret.
func (c *OAuth2Client) IsConfidential() bool {
	return c.ClientType == ClientTypeConfidential
}

// ValidateRedirectURI checks if the provided redirect URI is allowed for this
// client. Exact match only: prefix or partial matching would open the
// redirect to abuse.
func (c *OAuth2Client) ValidateRedirectURI(redirectURI string) bool {
	for _, allowedURI := range c.RedirectURIs {
		if allowedURI == redirectURI {
			return true
		}
	}
	return false
}

// ValidateScope checks if the provided scopes are allowed for this client
func (c *OAuth2Client) ValidateScope(requestedScopes []string) bool {
	for _, requestedScope := range requestedScopes {
		found := false
		for _, allowedScope := range c.Scopes {
			if allowedScope == requestedScope {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
