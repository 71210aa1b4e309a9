package oauth2client

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/relayhq/relay-auth/pkg/errors"
)

// ClientService provides methods for managing and authenticating OAuth2 clients
type ClientService struct {
	repository ClientRepository
}

// NewClientService creates a new client service with the provided repository
func NewClientService(repository ClientRepository) *ClientService {
	return &ClientService{
		repository: repository,
	}
}

// CreateClientParams represents parameters for registering a new OAuth2 client
type CreateClientParams struct {
	ClientID     string
	ClientName   string
	ClientType   string
	RedirectURIs []string
	Scopes       []string
}

// CreateClient registers a new client. For confidential clients a secret is
// generated, stored as a bcrypt hash, and returned in plaintext exactly once;
// it can never be retrieved again.
func (s *ClientService) CreateClient(ctx context.Context, params CreateClientParams) (*OAuth2Client, string, error) {
	if params.ClientID == "" {
		return nil, "", errors.InvalidInput("client_id", "cannot be empty")
	}
	if params.ClientType != ClientTypePublic && params.ClientType != ClientTypeConfidential {
		return nil, "", errors.InvalidInput("client_type", "must be public or confidential")
	}
	if len(params.RedirectURIs) == 0 {
		return nil, "", errors.InvalidInput("redirect_uris", "at least one is required")
	}

	client := &OAuth2Client{
		ClientID:     params.ClientID,
		ClientName:   params.ClientName,
		ClientType:   params.ClientType,
		RedirectURIs: params.RedirectURIs,
		Scopes:       params.Scopes,
		CreatedAt:    time.Now().UTC(),
	}

	var plaintextSecret string
	if client.IsConfidential() {
		secret, err := generateClientSecret()
		if err != nil {
			return nil, "", errors.InternalWrap(err, "failed to generate client secret")
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
		if err != nil {
			return nil, "", errors.InternalWrap(err, "failed to hash client secret")
		}

		client.SecretHash = string(hash)
		plaintextSecret = secret
	}

	if err := s.repository.CreateClient(ctx, client); err != nil {
		return nil, "", err
	}

	slog.Info("Registered OAuth2 client", "client_id", client.ClientID, "client_type", client.ClientType)
	return client, plaintextSecret, nil
}

// GetClient retrieves a client by client ID
func (s *ClientService) GetClient(ctx context.Context, clientID string) (*OAuth2Client, error) {
	return s.repository.GetClient(ctx, clientID)
}

// DeleteClient removes a client; idempotent
func (s *ClientService) DeleteClient(ctx context.Context, clientID string) error {
	return s.repository.DeleteClient(ctx, clientID)
}

// ListClients returns all registered clients (for admin purposes)
func (s *ClientService) ListClients(ctx context.Context) ([]*OAuth2Client, error) {
	return s.repository.ListClients(ctx)
}

// AuthenticateClient validates a confidential client's presented secret.
// The bcrypt comparison is constant time, and lookup failure and hash
// mismatch return the same error so a caller cannot tell whether the client
// exists.
func (s *ClientService) AuthenticateClient(ctx context.Context, clientID, presentedSecret string) (*OAuth2Client, error) {
	client, err := s.repository.GetClient(ctx, clientID)
	if err != nil {
		return nil, errors.New(errors.ErrCodeInvalidClient, "client authentication failed")
	}

	if !client.IsConfidential() {
		return nil, errors.New(errors.ErrCodeInvalidClient, "client authentication failed")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(presentedSecret)); err != nil {
		return nil, errors.New(errors.ErrCodeInvalidClient, "client authentication failed")
	}

	return client, nil
}

// ValidateRedirectURI checks the redirect URI against the registered values;
// exact match only
func (s *ClientService) ValidateRedirectURI(ctx context.Context, clientID, redirectURI string) error {
	client, err := s.repository.GetClient(ctx, clientID)
	if err != nil {
		return err
	}
	if !client.ValidateRedirectURI(redirectURI) {
		return errors.New(errors.ErrCodeInvalidRedirect, "redirect_uri does not match registered value")
	}
	return nil
}

// ValidateAuthorizationRequest validates an OAuth2 authorization request
func (s *ClientService) ValidateAuthorizationRequest(ctx context.Context, clientID, redirectURI, responseType, scope string) (*OAuth2Client, error) {
	client, err := s.repository.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}

	if !client.ValidateRedirectURI(redirectURI) {
		return nil, errors.New(errors.ErrCodeInvalidRedirect, "redirect_uri does not match registered value")
	}

	if responseType != "code" {
		return nil, errors.Newf(errors.ErrCodeInvalidInput, "unsupported response_type: %s", responseType)
	}

	if scope != "" {
		requestedScopes := strings.Fields(scope)
		if !client.ValidateScope(requestedScopes) {
			return nil, errors.New(errors.ErrCodeInvalidScope, "requested scope not allowed for client")
		}
	}

	return client, nil
}

// generateClientSecret produces a 32-byte random secret, base64url encoded
func generateClientSecret() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}
