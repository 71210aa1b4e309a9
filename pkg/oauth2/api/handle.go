// Package api exposes the HTTP surface of the authorization server: the
// authorize endpoint, both login legs, the token endpoint and the public
// key set.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/relayhq/relay-auth/pkg/authz"
	"github.com/relayhq/relay-auth/pkg/errors"
	"github.com/relayhq/relay-auth/pkg/externalprovider"
	"github.com/relayhq/relay-auth/pkg/jwks"
	"github.com/relayhq/relay-auth/pkg/oauth2"
	"github.com/relayhq/relay-auth/pkg/otplogin"
	"github.com/relayhq/relay-auth/pkg/tokenservice"
	"github.com/relayhq/relay-auth/pkg/usermap"
)

// FlowCookieName is the cookie binding the browser to a pending flow attempt
const FlowCookieName = "relay_auth_flow"

// Handle implements the authorization server endpoints
type Handle struct {
	authorizeService *oauth2.AuthorizeService
	otpService       *otplogin.OTPLoginService
	externalService  *externalprovider.ExternalProviderService
	tokenService     *tokenservice.TokenService
	jwksService      *jwks.JWKSService
	authorizer       *authz.Authorizer
	userRateLimit    func(http.Handler) http.Handler
	secureCookies    bool
}

// NewHandle creates a new authorization server API handler
func NewHandle(
	authorizeService *oauth2.AuthorizeService,
	otpService *otplogin.OTPLoginService,
	externalService *externalprovider.ExternalProviderService,
	tokenService *tokenservice.TokenService,
	jwksService *jwks.JWKSService,
	authorizer *authz.Authorizer,
) *Handle {
	return &Handle{
		authorizeService: authorizeService,
		otpService:       otpService,
		externalService:  externalService,
		tokenService:     tokenService,
		jwksService:      jwksService,
		authorizer:       authorizer,
	}
}

// WithSecureCookies marks flow cookies Secure; enable behind TLS
func (h *Handle) WithSecureCookies(secure bool) *Handle {
	h.secureCookies = secure
	return h
}

// WithUserRateLimit installs a per-subject throttle on the authenticated
// routes. The middleware runs after the token is verified.
func (h *Handle) WithUserRateLimit(mw func(http.Handler) http.Handler) *Handle {
	h.userRateLimit = mw
	return h
}

// Routes registers all endpoints on the router
func (h *Handle) Routes(r chi.Router) {
	r.Get("/oauth2/authorize", h.Authorize)
	r.Post("/login", h.Login)
	r.Post("/confirm", h.Confirm)
	r.Get("/login/idp", h.BeginIdpLogin)
	r.Get("/oauth2/idpresponse", h.IdpCallback)
	r.Post("/oauth2/token", h.Token)
	r.Post("/oauth2/revoke", h.Revoke)
	r.Get("/.well-known/jwks.json", h.JWKS)

	r.Group(func(r chi.Router) {
		r.Use(h.authorizer.Verifier)
		if h.userRateLimit != nil {
			r.Use(h.userRateLimit)
		}
		r.Get("/oauth2/userinfo", h.UserInfo)
	})
}

// AuthorizeResponse describes the opened flow to the login UI
type AuthorizeResponse struct {
	ClientID  string   `json:"client_id"`
	Scope     string   `json:"scope"`
	ExpiresIn int64    `json:"expires_in"`
	Providers []string `json:"providers,omitempty"`
}

// Authorize starts a flow: validates the request, creates the attempt and
// sets the CSRF cookie. Validation failures are returned directly, never
// redirected, since the redirect URI itself is not yet trusted.
func (h *Handle) Authorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := oauth2.AuthorizeRequest{
		ResponseType:        q.Get("response_type"),
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		Scope:               q.Get("scope"),
		State:               q.Get("state"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
	}

	attempt, err := h.authorizeService.BeginAuthorize(r.Context(), req)
	if err != nil {
		renderError(w, r, err)
		return
	}

	ttl := h.authorizeService.AttemptTTL()
	http.SetCookie(w, &http.Cookie{
		Name:     FlowCookieName,
		Value:    attempt.CSRFToken,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	providers, err := h.externalService.GetEnabledProviders(r.Context())
	if err != nil {
		slog.Error("Failed to list providers", "error", err)
		providers = nil
	}
	names := make([]string, 0, len(providers))
	for id := range providers {
		names = append(names, id)
	}

	render.JSON(w, r, AuthorizeResponse{
		ClientID:  attempt.ClientID,
		Scope:     attempt.Scope,
		ExpiresIn: int64(ttl.Seconds()),
		Providers: names,
	})
}

// LoginRequest asks for a confirmation code over email or phone
type LoginRequest struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Login generates and delivers a confirmation code for the pending flow
func (h *Handle) Login(w http.ResponseWriter, r *http.Request) {
	csrfToken, ok := flowToken(r)
	if !ok {
		renderError(w, r, errors.Unauthorized("missing flow cookie"))
		return
	}

	var req LoginRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		renderError(w, r, errors.InvalidInput("body", "malformed JSON"))
		return
	}

	kind, contact, err := contactFromRequest(req.Email, req.Phone)
	if err != nil {
		renderError(w, r, err)
		return
	}

	if err := h.otpService.RequestCode(r.Context(), csrfToken, kind, contact); err != nil {
		renderError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]string{"status": "code_sent"})
}

// ConfirmRequest submits the delivered confirmation code
type ConfirmRequest struct {
	ConfirmationCode string `json:"confirmationCode"`
	Email            string `json:"email,omitempty"`
	Phone            string `json:"phone,omitempty"`
}

// Confirm verifies the code and, on success, redirects back to the client
// with the authorization code. A mismatched or stale code burns it; the
// client must request a fresh one.
func (h *Handle) Confirm(w http.ResponseWriter, r *http.Request) {
	csrfToken, ok := flowToken(r)
	if !ok {
		renderError(w, r, errors.Unauthorized("missing flow cookie"))
		return
	}

	var req ConfirmRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		renderError(w, r, errors.InvalidInput("body", "malformed JSON"))
		return
	}

	kind, contact, err := contactFromRequest(req.Email, req.Phone)
	if err != nil {
		renderError(w, r, err)
		return
	}

	redirectURL, err := h.otpService.ConfirmCode(r.Context(), csrfToken, req.ConfirmationCode, kind, contact)
	if err != nil {
		renderError(w, r, err)
		return
	}

	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// BeginIdpLogin starts the federated hop for the named provider
func (h *Handle) BeginIdpLogin(w http.ResponseWriter, r *http.Request) {
	csrfToken, ok := flowToken(r)
	if !ok {
		renderError(w, r, errors.Unauthorized("missing flow cookie"))
		return
	}

	providerID := r.URL.Query().Get("provider")
	if providerID == "" {
		renderError(w, r, errors.InvalidInput("provider", "cannot be empty"))
		return
	}

	authURL, err := h.externalService.BeginLogin(r.Context(), csrfToken, providerID)
	if err != nil {
		renderError(w, r, err)
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

// IdpCallback consumes the provider redirect. Provider-side failures are
// surfaced as an error redirect back to the client; a state mismatch is
// rejected outright because the browser cannot be trusted mid-flow.
func (h *Handle) IdpCallback(w http.ResponseWriter, r *http.Request) {
	csrfToken, ok := flowToken(r)
	if !ok {
		renderError(w, r, errors.Unauthorized("missing flow cookie"))
		return
	}

	q := r.URL.Query()
	returnedState := q.Get("state")
	providerCode := q.Get("code")
	providerError := q.Get("error")

	if providerError != "" {
		h.redirectWithError(w, r, csrfToken, "access_denied", "provider reported: "+providerError)
		return
	}

	redirectURL, err := h.externalService.HandleCallback(r.Context(), csrfToken, returnedState, providerCode)
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeProviderExchange) {
			h.redirectWithError(w, r, csrfToken, "access_denied", "identity provider login failed")
			return
		}
		renderError(w, r, err)
		return
	}

	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// redirectWithError sends the browser back to the client's redirect URI with
// the standard error parameters. Falls back to a plain error response when
// the attempt is gone.
func (h *Handle) redirectWithError(w http.ResponseWriter, r *http.Request, csrfToken, errorCode, description string) {
	attempt, err := h.authorizeService.Attempt(r.Context(), csrfToken)
	if err != nil {
		renderError(w, r, err)
		return
	}
	redirectURL, err := attempt.RedirectURLWithError(errorCode, description)
	if err != nil {
		renderError(w, r, errors.InternalWrap(err, "failed to build error redirect"))
		return
	}
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// Token implements the token endpoint for the authorization_code and
// refresh_token grants. Client credentials arrive as Basic auth or form
// fields.
func (h *Handle) Token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		renderError(w, r, errors.InvalidInput("body", "malformed form"))
		return
	}

	clientID := r.PostFormValue("client_id")
	clientSecret := r.PostFormValue("client_secret")
	if id, secret, ok := r.BasicAuth(); ok {
		clientID, clientSecret = id, secret
	}

	req := tokenservice.TokenRequest{
		GrantType:    r.PostFormValue("grant_type"),
		Code:         r.PostFormValue("code"),
		RedirectURI:  r.PostFormValue("redirect_uri"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		CodeVerifier: r.PostFormValue("code_verifier"),
		RefreshToken: r.PostFormValue("refresh_token"),
	}

	pair, err := h.tokenService.IssueTokens(r.Context(), req)
	if err != nil {
		renderError(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	render.JSON(w, r, pair)
}

// Revoke implements the revocation endpoint. Per RFC 7009 an invalid token
// still yields 200; only client authentication failures are surfaced.
func (h *Handle) Revoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		renderError(w, r, errors.InvalidInput("body", "malformed form"))
		return
	}

	clientID := r.PostFormValue("client_id")
	clientSecret := r.PostFormValue("client_secret")
	if id, secret, ok := r.BasicAuth(); ok {
		clientID, clientSecret = id, secret
	}

	err := h.tokenService.RevokeToken(r.Context(), r.PostFormValue("token"), clientID, clientSecret)
	if err != nil {
		renderError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// UserInfoResponse returns the claims bound to the caller's access token
type UserInfoResponse struct {
	Sub      string   `json:"sub"`
	ClientID string   `json:"client_id"`
	Scope    []string `json:"scope"`
}

// UserInfo returns the authenticated principal's claims
func (h *Handle) UserInfo(w http.ResponseWriter, r *http.Request) {
	user, ok := authz.AuthUserFromContext(r.Context())
	if !ok {
		renderError(w, r, errors.Unauthorized("missing authenticated user"))
		return
	}
	render.JSON(w, r, UserInfoResponse{
		Sub:      user.UserID,
		ClientID: user.ClientID,
		Scope:    user.Scopes,
	})
}

// JWKS publishes the verifiable public key set
func (h *Handle) JWKS(w http.ResponseWriter, r *http.Request) {
	set, err := h.jwksService.PublicSet(r.Context())
	if err != nil {
		renderError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=60")
	render.JSON(w, r, set)
}

func flowToken(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(FlowCookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}

func contactFromRequest(email, phone string) (usermap.ContactKind, string, error) {
	switch {
	case email != "" && phone != "":
		return "", "", errors.InvalidInput("contact", "provide email or phone, not both")
	case email != "":
		return usermap.ContactEmail, email, nil
	case phone != "":
		return usermap.ContactPhone, phone, nil
	default:
		return "", "", errors.InvalidInput("contact", "email or phone is required")
	}
}
