package externalprovider

import (
	"sync"

	"github.com/relayhq/relay-auth/pkg/errors"
)

// ProviderRepository defines the interface for the provider registry. The
// per-login state is not stored here; it lives on the flow attempt.
type ProviderRepository interface {
	GetProvider(providerID string) (*ExternalProvider, error)
	GetEnabledProviders() (map[string]*ExternalProvider, error)
	CreateProvider(provider *ExternalProvider) error
	DeleteProvider(providerID string) error
}

// InMemoryProviderRepository implements ProviderRepository with a
// mutex-guarded map, seeded from configuration at startup
type InMemoryProviderRepository struct {
	providers map[string]*ExternalProvider
	mutex     sync.RWMutex
}

// NewInMemoryProviderRepository creates a new in-memory provider registry
func NewInMemoryProviderRepository() *InMemoryProviderRepository {
	return &InMemoryProviderRepository{providers: make(map[string]*ExternalProvider)}
}

// GetProvider retrieves a provider by ID
func (r *InMemoryProviderRepository) GetProvider(providerID string) (*ExternalProvider, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	provider, exists := r.providers[providerID]
	if !exists {
		return nil, errors.NotFound("external provider", providerID)
	}
	providerCopy := *provider
	return &providerCopy, nil
}

// GetEnabledProviders returns only enabled providers
func (r *InMemoryProviderRepository) GetEnabledProviders() (map[string]*ExternalProvider, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	result := make(map[string]*ExternalProvider)
	for id, provider := range r.providers {
		if provider.Enabled {
			providerCopy := *provider
			result[id] = &providerCopy
		}
	}
	return result, nil
}

// CreateProvider registers a new provider
func (r *InMemoryProviderRepository) CreateProvider(provider *ExternalProvider) error {
	if provider == nil {
		return errors.InvalidInput("provider", "cannot be nil")
	}
	if err := provider.ValidateConfig(); err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid provider configuration")
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.providers[provider.ID]; exists {
		return errors.AlreadyExists("external provider", provider.ID)
	}
	providerCopy := *provider
	r.providers[provider.ID] = &providerCopy
	return nil
}

// DeleteProvider removes a provider; idempotent
func (r *InMemoryProviderRepository) DeleteProvider(providerID string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.providers, providerID)
	return nil
}
