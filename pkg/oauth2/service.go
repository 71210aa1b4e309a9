// Package oauth2 orchestrates the authorization endpoint: request
// validation, flow attempt creation and the CSRF cookie contract shared by
// the login legs.
package oauth2

import (
	"context"
	"log/slog"
	"time"

	"github.com/relayhq/relay-auth/pkg/errors"
	"github.com/relayhq/relay-auth/pkg/flowattempt"
	"github.com/relayhq/relay-auth/pkg/oauth2client"
	"github.com/relayhq/relay-auth/pkg/pkce"
)

const createMaxRetries = 3

// AuthorizeRequest carries the parsed query parameters of an authorize call
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// AuthorizeService validates authorization requests and opens flow attempts
type AuthorizeService struct {
	clients    *oauth2client.ClientService
	attempts   flowattempt.AttemptRepository
	attemptTTL time.Duration
}

// AuthorizeOption configures optional authorize service behavior
type AuthorizeOption func(*AuthorizeService)

// WithAttemptTTL overrides the flow attempt lifetime
func WithAttemptTTL(ttl time.Duration) AuthorizeOption {
	return func(s *AuthorizeService) {
		s.attemptTTL = ttl
	}
}

// NewAuthorizeService creates a new authorize service
func NewAuthorizeService(clients *oauth2client.ClientService, attempts flowattempt.AttemptRepository,
	opts ...AuthorizeOption) *AuthorizeService {
	s := &AuthorizeService{
		clients:    clients,
		attempts:   attempts,
		attemptTTL: flowattempt.DefaultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BeginAuthorize validates the request against the client registry and
// creates the flow attempt. The returned attempt's CSRFToken becomes the
// browser cookie that keys the rest of the flow.
func (s *AuthorizeService) BeginAuthorize(ctx context.Context, req AuthorizeRequest) (*flowattempt.AuthFlowAttempt, error) {
	client, err := s.clients.ValidateAuthorizationRequest(ctx, req.ClientID, req.RedirectURI, req.ResponseType, req.Scope)
	if err != nil {
		return nil, err
	}

	if req.CodeChallenge != "" {
		method := req.CodeChallengeMethod
		if method == "" {
			method = string(pkce.ChallengeS256)
		}
		if !pkce.IsValidChallengeMethod(method) {
			return nil, errors.InvalidInput("code_challenge_method", "must be plain or S256")
		}
		req.CodeChallengeMethod = method
	} else if !client.IsConfidential() {
		// Public clients cannot keep a secret, so the code must be bound
		// to a PKCE challenge
		return nil, errors.InvalidInput("code_challenge", "required for public clients")
	}

	now := time.Now().UTC()
	var attempt *flowattempt.AuthFlowAttempt
	for i := 0; i < createMaxRetries; i++ {
		token, err := flowattempt.NewCSRFToken()
		if err != nil {
			return nil, err
		}
		attempt = &flowattempt.AuthFlowAttempt{
			CSRFToken:           token,
			ClientID:            req.ClientID,
			ResponseType:        req.ResponseType,
			Scope:               req.Scope,
			RedirectURI:         req.RedirectURI,
			State:               req.State,
			CodeChallenge:       req.CodeChallenge,
			CodeChallengeMethod: req.CodeChallengeMethod,
			CreatedAt:           now,
			ExpiresAt:           now.Add(s.attemptTTL),
		}
		err = s.attempts.Create(ctx, attempt)
		if err == nil {
			slog.Info("Authorization flow started", "client_id", req.ClientID, "scope", req.Scope)
			return attempt, nil
		}
		if !errors.IsCode(err, errors.ErrCodeAlreadyExists) {
			return nil, err
		}
	}
	return nil, errors.Internal("repeated CSRF token collisions")
}

// AttemptTTL exposes the configured flow lifetime for cookie max-age
func (s *AuthorizeService) AttemptTTL() time.Duration {
	return s.attemptTTL
}

// Attempt fetches a live flow attempt by its CSRF token
func (s *AuthorizeService) Attempt(ctx context.Context, csrfToken string) (*flowattempt.AuthFlowAttempt, error) {
	return s.attempts.GetByToken(ctx, csrfToken)
}
