package oauth2client

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayhq/relay-auth/pkg/errors"
)

func newTestService() *ClientService {
	return NewClientService(NewInMemoryClientRepository())
}

func defaultParams() CreateClientParams {
	return CreateClientParams{
		ClientID:     "client1",
		ClientName:   "Relay Web",
		ClientType:   ClientTypeConfidential,
		RedirectURIs: []string{"https://app.example.com/cb", "https://app.example.com/alt"},
		Scopes:       []string{"message.read", "message.write", "profile"},
	}
}

func TestClientService_CreateConfidentialClient(t *testing.T) {
	service := newTestService()
	ctx := context.Background()

	client, secret, err := service.CreateClient(ctx, defaultParams())
	require.NoError(t, err)
	require.NotEmpty(t, secret)
	assert.True(t, client.IsConfidential())

	// The secret is stored hashed; registration is the only time the
	// plaintext is available
	stored, err := service.GetClient(ctx, "client1")
	require.NoError(t, err)
	assert.NotEqual(t, secret, stored.SecretHash)
	assert.NotEmpty(t, stored.SecretHash)
}

func TestClientService_CreatePublicClientHasNoSecret(t *testing.T) {
	service := newTestService()

	params := defaultParams()
	params.ClientID = "spa1"
	params.ClientType = ClientTypePublic

	client, secret, err := service.CreateClient(context.Background(), params)
	require.NoError(t, err)
	assert.Empty(t, secret)
	assert.Empty(t, client.SecretHash)
}

func TestClientService_CreateValidation(t *testing.T) {
	service := newTestService()
	ctx := context.Background()

	params := defaultParams()
	params.ClientID = ""
	_, _, err := service.CreateClient(ctx, params)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))

	params = defaultParams()
	params.ClientType = "hybrid"
	_, _, err = service.CreateClient(ctx, params)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))

	params = defaultParams()
	params.RedirectURIs = nil
	_, _, err = service.CreateClient(ctx, params)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))
}

func TestClientService_CreateDuplicate(t *testing.T) {
	service := newTestService()
	ctx := context.Background()

	_, _, err := service.CreateClient(ctx, defaultParams())
	require.NoError(t, err)

	_, _, err = service.CreateClient(ctx, defaultParams())
	assert.True(t, errors.IsCode(err, errors.ErrCodeAlreadyExists))
}

func TestClientService_AuthenticateClient(t *testing.T) {
	service := newTestService()
	ctx := context.Background()

	_, secret, err := service.CreateClient(ctx, defaultParams())
	require.NoError(t, err)

	client, err := service.AuthenticateClient(ctx, "client1", secret)
	require.NoError(t, err)
	assert.Equal(t, "client1", client.ClientID)

	// Wrong secret, unknown client, and public client all fail identically
	_, wrongSecretErr := service.AuthenticateClient(ctx, "client1", "wrong")
	_, unknownErr := service.AuthenticateClient(ctx, "no-such-client", secret)

	params := defaultParams()
	params.ClientID = "spa1"
	params.ClientType = ClientTypePublic
	_, _, err = service.CreateClient(ctx, params)
	require.NoError(t, err)
	_, publicErr := service.AuthenticateClient(ctx, "spa1", "")

	for _, err := range []error{wrongSecretErr, unknownErr, publicErr} {
		assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidClient))
		assert.EqualError(t, wrongSecretErr, err.Error())
	}
}

func TestClientService_ValidateRedirectURI(t *testing.T) {
	service := newTestService()
	ctx := context.Background()

	_, _, err := service.CreateClient(ctx, defaultParams())
	require.NoError(t, err)

	assert.NoError(t, service.ValidateRedirectURI(ctx, "client1", "https://app.example.com/cb"))
	assert.NoError(t, service.ValidateRedirectURI(ctx, "client1", "https://app.example.com/alt"))

	// Exact match only: no prefixes, no extra query, no scheme swap
	for _, uri := range []string{
		"https://app.example.com/cb/extra",
		"https://app.example.com/cb?x=1",
		"http://app.example.com/cb",
		"https://app.example.com",
	} {
		err := service.ValidateRedirectURI(ctx, "client1", uri)
		assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidRedirect), "uri %q should be rejected", uri)
	}
}

func TestClientService_ValidateAuthorizationRequest(t *testing.T) {
	service := newTestService()
	ctx := context.Background()

	_, _, err := service.CreateClient(ctx, defaultParams())
	require.NoError(t, err)

	client, err := service.ValidateAuthorizationRequest(ctx, "client1",
		"https://app.example.com/cb", "code", "message.read profile")
	require.NoError(t, err)
	assert.Equal(t, "client1", client.ClientID)

	_, err = service.ValidateAuthorizationRequest(ctx, "client1",
		"https://app.example.com/cb", "token", "message.read")
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))

	_, err = service.ValidateAuthorizationRequest(ctx, "client1",
		"https://app.example.com/cb", "code", "message.read team.admin")
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidScope))

	_, err = service.ValidateAuthorizationRequest(ctx, "client1",
		"https://elsewhere.example.com/cb", "code", "message.read")
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidRedirect))
}

func TestClientService_DeleteClient(t *testing.T) {
	service := newTestService()
	ctx := context.Background()

	_, _, err := service.CreateClient(ctx, defaultParams())
	require.NoError(t, err)

	require.NoError(t, service.DeleteClient(ctx, "client1"))
	_, err = service.GetClient(ctx, "client1")
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))

	// Deleting again is a no-op
	assert.NoError(t, service.DeleteClient(ctx, "client1"))
}
