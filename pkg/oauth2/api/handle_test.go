package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayhq/relay-auth/pkg/authz"
	"github.com/relayhq/relay-auth/pkg/externalprovider"
	"github.com/relayhq/relay-auth/pkg/flowattempt"
	"github.com/relayhq/relay-auth/pkg/jwks"
	"github.com/relayhq/relay-auth/pkg/notification"
	"github.com/relayhq/relay-auth/pkg/oauth2"
	"github.com/relayhq/relay-auth/pkg/oauth2client"
	"github.com/relayhq/relay-auth/pkg/otplogin"
	"github.com/relayhq/relay-auth/pkg/tokenservice"
	"github.com/relayhq/relay-auth/pkg/usermap"
)

type serverFixture struct {
	router       chi.Router
	email        *notification.MockNotifier
	clientSecret string
}

// newServerFixture wires the whole server on in-memory repositories with one
// confidential client registered.
func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	ctx := context.Background()

	keys := jwks.NewJWKSService(jwks.NewInMemoryKeyRepository(), jwks.WithKeySize(1024))
	_, err := keys.Rotate(ctx)
	require.NoError(t, err)

	clients := oauth2client.NewClientService(oauth2client.NewInMemoryClientRepository())
	_, secret, err := clients.CreateClient(ctx, oauth2client.CreateClientParams{
		ClientID:     "client1",
		ClientName:   "Relay Web",
		ClientType:   oauth2client.ClientTypeConfidential,
		RedirectURIs: []string{"https://app.example.com/cb"},
		Scopes:       []string{"message.read", "message.write"},
	})
	require.NoError(t, err)

	attempts := flowattempt.NewInMemoryAttemptRepository()
	users := usermap.NewUserMapService(usermap.NewInMemoryUserMapRepository())

	manager := notification.NewNotificationManager()
	email := &notification.MockNotifier{}
	manager.RegisterNotifier(notification.EmailSystem, email)
	require.NoError(t, manager.RegisterNotice(notification.LoginCodeNotice, notification.EmailSystem,
		notification.NoticeTemplate{Subject: "Your sign-in code", Text: "Code: {{.code}}"}))

	authorizeService := oauth2.NewAuthorizeService(clients, attempts)
	otpService := otplogin.NewOTPLoginService(attempts, users, manager)
	externalService := externalprovider.NewExternalProviderService(
		externalprovider.NewInMemoryProviderRepository(), attempts, users)
	tokenService := tokenservice.NewTokenService(keys, clients, attempts,
		tokenservice.NewInMemoryRevocationRepository(), "https://auth.relay.test")
	authorizer := authz.NewAuthorizer(tokenService)

	handle := NewHandle(authorizeService, otpService, externalService, tokenService, keys, authorizer)
	router := chi.NewRouter()
	handle.Routes(router)

	return &serverFixture{router: router, email: email, clientSecret: secret}
}

// startFlow hits the authorize endpoint and returns the flow cookie
func (f *serverFixture) startFlow(t *testing.T) *http.Cookie {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet,
		"/oauth2/authorize?response_type=code&client_id=client1&redirect_uri="+
			url.QueryEscape("https://app.example.com/cb")+"&scope=message.read&state=xyz", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == FlowCookieName {
			require.True(t, cookie.HttpOnly)
			return cookie
		}
	}
	t.Fatal("flow cookie not set")
	return nil
}

func TestHandle_Authorize(t *testing.T) {
	f := newServerFixture(t)

	req := httptest.NewRequest(http.MethodGet,
		"/oauth2/authorize?response_type=code&client_id=client1&redirect_uri="+
			url.QueryEscape("https://app.example.com/cb")+"&scope=message.read&state=xyz", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp AuthorizeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "client1", resp.ClientID)
	assert.Equal(t, "message.read", resp.Scope)
	assert.Greater(t, resp.ExpiresIn, int64(0))
}

func TestHandle_AuthorizeRejectsUnknownRedirect(t *testing.T) {
	f := newServerFixture(t)

	// Untrusted redirect URI gets a direct error, never a redirect
	req := httptest.NewRequest(http.MethodGet,
		"/oauth2/authorize?response_type=code&client_id=client1&redirect_uri="+
			url.QueryEscape("https://evil.example.com/cb")+"&scope=message.read", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_request", resp.Error)
}

func TestHandle_LoginRequiresFlowCookie(t *testing.T) {
	f := newServerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"email":"alice@example.com"}`))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandle_LoginContactValidation(t *testing.T) {
	f := newServerFixture(t)
	cookie := f.startFlow(t)

	for _, body := range []string{
		`{}`,
		`{"email":"a@b.com","phone":"+15551234567"}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(body))
		req.AddCookie(cookie)
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %s", body)
	}
}

// TestHandle_FullCodeFlow walks the whole happy path: authorize, request a
// code, confirm it, exchange the authorization code and call userinfo.
func TestHandle_FullCodeFlow(t *testing.T) {
	f := newServerFixture(t)
	cookie := f.startFlow(t)

	// Request a login code
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"email":"alice@example.com"}`))
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.email.SentNotifications, 1)
	code := f.email.SentNotifications[0].Data["code"]

	// Confirm it; the redirect carries the authorization code and state
	req = httptest.NewRequest(http.MethodPost, "/confirm",
		strings.NewReader(`{"confirmationCode":"`+code+`","email":"alice@example.com"}`))
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "app.example.com", location.Host)
	assert.Equal(t, "xyz", location.Query().Get("state"))
	authCode := location.Query().Get("code")
	require.NotEmpty(t, authCode)

	// Exchange the code
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", authCode)
	form.Set("redirect_uri", "https://app.example.com/cb")
	req = httptest.NewRequest(http.MethodPost, "/oauth2/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("client1", f.clientSecret)
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var pair tokenservice.TokenPair
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pair))
	require.NotEmpty(t, pair.AccessToken)
	assert.Equal(t, "Bearer", pair.TokenType)

	// Replay of the same code fails with invalid_grant
	req = httptest.NewRequest(http.MethodPost, "/oauth2/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("client1", f.clientSecret)
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "invalid_grant", errResp.Error)

	// The access token works against userinfo
	req = httptest.NewRequest(http.MethodGet, "/oauth2/userinfo", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var info UserInfoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.NotEmpty(t, info.Sub)
	assert.Equal(t, "client1", info.ClientID)
	assert.Equal(t, []string{"message.read"}, info.Scope)
}

func TestHandle_ConfirmWrongCode(t *testing.T) {
	f := newServerFixture(t)
	cookie := f.startFlow(t)

	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"email":"alice@example.com"}`))
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	code := f.email.SentNotifications[0].Data["code"]
	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	req = httptest.NewRequest(http.MethodPost, "/confirm",
		strings.NewReader(`{"confirmationCode":"`+wrong+`","email":"alice@example.com"}`))
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "invalid_grant", errResp.Error)
}

func TestHandle_TokenRejectsBadClientSecret(t *testing.T) {
	f := newServerFixture(t)

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", "whatever")
	form.Set("redirect_uri", "https://app.example.com/cb")
	req := httptest.NewRequest(http.MethodPost, "/oauth2/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("client1", "wrong-secret")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	// The unknown code fails first; either way the client learns nothing
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandle_RevokeAlwaysSucceedsForAuthenticatedClient(t *testing.T) {
	f := newServerFixture(t)

	form := url.Values{}
	form.Set("token", "not-a-real-token")
	req := httptest.NewRequest(http.MethodPost, "/oauth2/revoke", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("client1", f.clientSecret)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Client auth failure is the one surfaced error
	req = httptest.NewRequest(http.MethodPost, "/oauth2/revoke", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("client1", "wrong-secret")
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandle_JWKSEndpoint(t *testing.T) {
	f := newServerFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Cache-Control"), "max-age=60")

	var set jwks.JWKS
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &set))
	require.Len(t, set.Keys, 1)
	assert.Equal(t, "RSA", set.Keys[0].Kty)
}

func TestHandle_UserInfoWithoutToken(t *testing.T) {
	f := newServerFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/oauth2/userinfo", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
