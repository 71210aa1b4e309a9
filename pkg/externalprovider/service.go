// Package externalprovider bridges the authorization flow to federated
// identity providers. The server acts as an OAuth2 client toward the
// provider; the random hop state is bound to the flow attempt and
// cross-checked before any provider call.
package externalprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/relayhq/relay-auth/pkg/errors"
	"github.com/relayhq/relay-auth/pkg/flowattempt"
	"github.com/relayhq/relay-auth/pkg/usermap"
)

// ExternalProviderService handles the federated login hop
type ExternalProviderService struct {
	providers  ProviderRepository
	attempts   flowattempt.AttemptRepository
	users      *usermap.UserMapService
	baseURL    string
	httpClient *http.Client
}

// Option is a function that configures an ExternalProviderService
type Option func(*ExternalProviderService)

// WithBaseURL sets the public base URL used to build the callback address
func WithBaseURL(baseURL string) Option {
	return func(s *ExternalProviderService) {
		s.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient sets the HTTP client for provider API calls
func WithHTTPClient(client *http.Client) Option {
	return func(s *ExternalProviderService) {
		s.httpClient = client
	}
}

// NewExternalProviderService creates a new external provider service
func NewExternalProviderService(providers ProviderRepository, attempts flowattempt.AttemptRepository,
	users *usermap.UserMapService, opts ...Option) *ExternalProviderService {
	service := &ExternalProviderService{
		providers:  providers,
		attempts:   attempts,
		users:      users,
		baseURL:    "http://localhost:4000",
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// CallbackURL is the address providers redirect back to after user consent
func (s *ExternalProviderService) CallbackURL() string {
	return s.baseURL + "/oauth2/idpresponse"
}

// BeginLogin binds a fresh random state to the attempt and returns the
// provider's authorization URL to redirect the browser to
func (s *ExternalProviderService) BeginLogin(ctx context.Context, csrfToken, providerID string) (string, error) {
	provider, err := s.providers.GetProvider(providerID)
	if err != nil {
		return "", err
	}
	if !provider.Enabled {
		return "", errors.NotFound("external provider", providerID)
	}

	if _, err := s.attempts.GetByToken(ctx, csrfToken); err != nil {
		return "", err
	}

	state, err := flowattempt.NewProviderState()
	if err != nil {
		return "", err
	}

	err = s.attempts.Update(ctx, csrfToken, flowattempt.UpdateParams{
		ExternalProvider:      &providerID,
		ExternalProviderState: &state,
	})
	if err != nil {
		return "", err
	}

	authURL, err := provider.BuildAuthURL(state, s.CallbackURL())
	if err != nil {
		return "", errors.InternalWrap(err, "failed to build provider authorize URL")
	}

	slog.Info("External login initiated", "provider", providerID)
	return authURL, nil
}

// HandleCallback completes the federated hop: the returned state must match
// the one bound to the attempt before any provider call is made, then the
// provider code is exchanged and the verified email mapped to a local user.
// On success the authorization code redirect for the original client is
// returned.
func (s *ExternalProviderService) HandleCallback(ctx context.Context, csrfToken, returnedState, providerCode string) (string, error) {
	attempt, err := s.attempts.GetByToken(ctx, csrfToken)
	if err != nil {
		return "", err
	}

	if attempt.ExternalProviderState == "" || attempt.ExternalProviderState != returnedState {
		slog.Warn("Provider callback state mismatch", "provider", attempt.ExternalProvider, "client_id", attempt.ClientID)
		return "", errors.New(errors.ErrCodeStateMismatch, "state does not match the pending login")
	}

	provider, err := s.providers.GetProvider(attempt.ExternalProvider)
	if err != nil {
		return "", err
	}

	tokenResponse, err := s.exchangeCodeForToken(ctx, provider, providerCode)
	if err != nil {
		slog.Error("Provider token exchange failed", "provider", provider.ID, "error", err)
		return "", errors.Wrap(err, errors.ErrCodeProviderExchange, "provider token exchange failed")
	}

	userInfo, err := s.getUserInfo(ctx, provider, tokenResponse.AccessToken)
	if err != nil {
		slog.Error("Provider user info fetch failed", "provider", provider.ID, "error", err)
		return "", errors.Wrap(err, errors.ErrCodeProviderExchange, "provider user info fetch failed")
	}
	if !userInfo.EmailVerified {
		return "", errors.New(errors.ErrCodeProviderExchange, "provider email is not verified")
	}

	userID, err := s.users.ResolveOrCreate(ctx, usermap.ContactEmail, userInfo.Email)
	if err != nil {
		return "", err
	}

	authCode, err := flowattempt.IssueCode(ctx, s.attempts, csrfToken, func(c string) flowattempt.IssueCodeParams {
		return flowattempt.IssueCodeParams{
			Code:                 c,
			UserID:               userID,
			RequireExternalState: &returnedState,
		}
	})
	if err != nil {
		return "", err
	}

	slog.Info("External login completed", "provider", provider.ID, "client_id", attempt.ClientID, "user_id", userID)
	return attempt.RedirectURLWithCode(authCode)
}

// exchangeCodeForToken exchanges the provider's authorization code for an
// access token
func (s *ExternalProviderService) exchangeCodeForToken(ctx context.Context, provider *ExternalProvider, code string) (*TokenResponse, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("client_id", provider.ClientID)
	data.Set("client_secret", provider.ClientSecret)
	data.Set("code", code)
	data.Set("redirect_uri", s.CallbackURL())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, provider.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tokenResponse TokenResponse
	if err := json.Unmarshal(body, &tokenResponse); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	return &tokenResponse, nil
}

// getUserInfo retrieves user information from the provider's API
func (s *ExternalProviderService) getUserInfo(ctx context.Context, provider *ExternalProvider, accessToken string) (*ExternalUserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, provider.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make user info request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read user info response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user info request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return provider.ParseUserInfo(body)
}

// GetEnabledProviders lists the providers available for login
func (s *ExternalProviderService) GetEnabledProviders(ctx context.Context) (map[string]*ExternalProvider, error) {
	return s.providers.GetEnabledProviders()
}
