package flowattempt

import (
	"net/url"
	"time"
)

// Flow states derived from which fields are set on an attempt
const (
	StatusStarted         = "started"
	StatusOTPPending      = "otp_pending"
	StatusExternalPending = "external_pending"
	StatusIdentified      = "identified"
	StatusCodeIssued      = "code_issued"
	StatusExpired         = "expired"
)

// DefaultTTL bounds how long a login attempt stays usable. The window is
// fixed at creation and is NOT extended by resend or confirm.
const DefaultTTL = 2 * time.Minute

// AuthFlowAttempt is the short-lived state of one login attempt, keyed by
// the CSRF token handed to the browser and secondary-indexed by the
// authorization code once issued.
type AuthFlowAttempt struct {
	// CSRFToken binds the browser session to this attempt (primary key)
	CSRFToken string

	ClientID     string
	ResponseType string
	Scope        string
	RedirectURI  string

	// State is the opaque OAuth2 state echoed back to the client
	State string

	// PKCE challenge for public clients
	CodeChallenge       string
	CodeChallengeMethod string

	// UserID is set once the user is identified by OTP or external provider
	UserID string

	// External provider hop
	ExternalProvider      string
	ExternalProviderState string

	// OTP confirmation code, bound to the contact it was delivered to
	ConfirmationCode          string
	ConfirmationContact       string
	ConfirmationCodeCreatedAt time.Time

	// Authorization code, present only once issued (secondary index key)
	AuthorizationCode          string
	AuthorizationCodeCreatedAt time.Time

	CreatedAt time.Time
	ExpiresAt time.Time
}

// ExpiredAt reports whether the attempt is past its TTL at the given instant.
func (a *AuthFlowAttempt) ExpiredAt(t time.Time) bool {
	return !t.Before(a.ExpiresAt)
}

// Status derives the flow state for logging and diagnostics.
func (a *AuthFlowAttempt) Status() string {
	switch {
	case a.ExpiredAt(time.Now().UTC()):
		return StatusExpired
	case a.AuthorizationCode != "":
		return StatusCodeIssued
	case a.UserID != "":
		return StatusIdentified
	case a.ExternalProviderState != "":
		return StatusExternalPending
	case a.ConfirmationCode != "":
		return StatusOTPPending
	default:
		return StatusStarted
	}
}

// RedirectURLWithCode builds the success redirect back to the client,
// carrying the authorization code and the original state.
func (a *AuthFlowAttempt) RedirectURLWithCode(code string) (string, error) {
	return appendQuery(a.RedirectURI, map[string]string{
		"code":  code,
		"state": a.State,
	})
}

// RedirectURLWithError builds the error redirect back to the client using
// the standard error and error_description parameters.
func (a *AuthFlowAttempt) RedirectURLWithError(errorCode, description string) (string, error) {
	return appendQuery(a.RedirectURI, map[string]string{
		"error":             errorCode,
		"error_description": description,
		"state":             a.State,
	})
}

func appendQuery(rawURL string, params map[string]string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, v := range params {
		if v != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// UpdateParams carries a partial update: nil pointers leave fields untouched.
type UpdateParams struct {
	UserID                    *string
	ExternalProvider          *string
	ExternalProviderState     *string
	ConfirmationCode          *string
	ConfirmationContact       *string
	ConfirmationCodeCreatedAt *time.Time
}

// IssueCodeParams describes the guarded transition that attaches an
// authorization code to an attempt. At most one of the two guards is set:
// the OTP flow requires the confirmation code to match and be unconsumed,
// the external flow requires the provider state to match.
type IssueCodeParams struct {
	Code   string
	UserID string

	// RequireConfirmationCode guards the OTP path; the stored code must
	// equal this value and is cleared (consumed) by the transition
	RequireConfirmationCode *string

	// RequireConfirmationContact pins the OTP path to the contact the code
	// was delivered to. A code requested for one address never confirms a
	// different address.
	RequireConfirmationContact *string

	// RequireExternalState guards the federated path
	RequireExternalState *string
}
