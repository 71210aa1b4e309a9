package oauth2client

import (
	"context"
	"sync"

	"github.com/relayhq/relay-auth/pkg/errors"
)

// ClientRepository defines the interface for OAuth2 client data access
type ClientRepository interface {
	// CreateClient conditionally inserts a client; Conflict if the id exists
	CreateClient(ctx context.Context, client *OAuth2Client) error

	// GetClient retrieves an OAuth2 client by client ID; NotFound if absent
	GetClient(ctx context.Context, clientID string) (*OAuth2Client, error)

	// DeleteClient removes an OAuth2 client by client ID; idempotent
	DeleteClient(ctx context.Context, clientID string) error

	// ListClients returns all registered OAuth2 clients
	ListClients(ctx context.Context) ([]*OAuth2Client, error)
}

// InMemoryClientRepository implements ClientRepository using in-memory storage
type InMemoryClientRepository struct {
	clients map[string]*OAuth2Client
	mutex   sync.RWMutex
}

// NewInMemoryClientRepository creates a new in-memory client repository
func NewInMemoryClientRepository() *InMemoryClientRepository {
	return &InMemoryClientRepository{
		clients: make(map[string]*OAuth2Client),
	}
}

// CreateClient conditionally inserts a client
func (r *InMemoryClientRepository) CreateClient(ctx context.Context, client *OAuth2Client) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.clients[client.ClientID]; exists {
		return errors.AlreadyExists("client", client.ClientID)
	}

	r.clients[client.ClientID] = copyClient(client)
	return nil
}

// GetClient retrieves an OAuth2 client by client ID
func (r *InMemoryClientRepository) GetClient(ctx context.Context, clientID string) (*OAuth2Client, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	client, exists := r.clients[clientID]
	if !exists {
		return nil, errors.NotFound("client", clientID)
	}

	return copyClient(client), nil
}

// DeleteClient removes an OAuth2 client by client ID; deleting a missing
// client is not an error
func (r *InMemoryClientRepository) DeleteClient(ctx context.Context, clientID string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	delete(r.clients, clientID)
	return nil
}

// ListClients returns all registered OAuth2 clients
func (r *InMemoryClientRepository) ListClients(ctx context.Context) ([]*OAuth2Client, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	clients := make([]*OAuth2Client, 0, len(r.clients))
	for _, client := range r.clients {
		clients = append(clients, copyClient(client))
	}

	return clients, nil
}

func copyClient(client *OAuth2Client) *OAuth2Client {
	clientCopy := *client
	clientCopy.RedirectURIs = make([]string, len(client.RedirectURIs))
	copy(clientCopy.RedirectURIs, client.RedirectURIs)
	clientCopy.Scopes = make([]string, len(client.Scopes))
	copy(clientCopy.Scopes, client.Scopes)
	return &clientCopy
}
