package jwks

import (
	"context"
	"sync"
	"time"

	"github.com/relayhq/relay-auth/pkg/errors"
)

// KeyRepository defines the interface for signing key storage operations
type KeyRepository interface {
	// AddKey adds a new key pair; fails with Conflict if the kid exists
	AddKey(ctx context.Context, keyPair *KeyPair) error

	// GetKeyByID retrieves a key pair by its ID
	GetKeyByID(ctx context.Context, kid string) (*KeyPair, error)

	// GetCurrentKey retrieves the key pair whose RetiredAt is nil
	GetCurrentKey(ctx context.Context) (*KeyPair, error)

	// SetCurrentKey marks the given key as current and stamps RetiredAt on
	// every other non-retired key, as a single operation
	SetCurrentKey(ctx context.Context, kid string, retiredAt time.Time) error

	// ListKeys returns all key pairs
	ListKeys(ctx context.Context) ([]*KeyPair, error)

	// DeleteKeysRetiredBefore permanently drops keys retired before the cutoff
	DeleteKeysRetiredBefore(ctx context.Context, cutoff time.Time) error
}

// InMemoryKeyRepository implements KeyRepository using in-memory storage
type InMemoryKeyRepository struct {
	keys  map[string]*KeyPair
	mutex sync.RWMutex
}

// NewInMemoryKeyRepository creates a new in-memory key repository
func NewInMemoryKeyRepository() *InMemoryKeyRepository {
	return &InMemoryKeyRepository{
		keys: make(map[string]*KeyPair),
	}
}

// AddKey adds a new key pair to the store
func (r *InMemoryKeyRepository) AddKey(ctx context.Context, keyPair *KeyPair) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.keys[keyPair.Kid]; exists {
		return errors.AlreadyExists("signing key", keyPair.Kid)
	}

	keyCopy := *keyPair
	r.keys[keyPair.Kid] = &keyCopy
	return nil
}

// GetKeyByID retrieves a key pair by its ID
func (r *InMemoryKeyRepository) GetKeyByID(ctx context.Context, kid string) (*KeyPair, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	keyPair, exists := r.keys[kid]
	if !exists {
		return nil, errors.NotFound("signing key", kid)
	}

	keyCopy := *keyPair
	return &keyCopy, nil
}

// GetCurrentKey retrieves the currently active signing key
func (r *InMemoryKeyRepository) GetCurrentKey(ctx context.Context) (*KeyPair, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, keyPair := range r.keys {
		if keyPair.RetiredAt == nil {
			keyCopy := *keyPair
			return &keyCopy, nil
		}
	}

	return nil, errors.NotFound("signing key", "current")
}

// SetCurrentKey marks the given key current and retires all other live keys
func (r *InMemoryKeyRepository) SetCurrentKey(ctx context.Context, kid string, retiredAt time.Time) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	target, exists := r.keys[kid]
	if !exists {
		return errors.NotFound("signing key", kid)
	}

	for _, keyPair := range r.keys {
		if keyPair.Kid != kid && keyPair.RetiredAt == nil {
			t := retiredAt
			keyPair.RetiredAt = &t
		}
	}
	target.RetiredAt = nil

	return nil
}

// ListKeys returns all key pairs
func (r *InMemoryKeyRepository) ListKeys(ctx context.Context) ([]*KeyPair, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	keys := make([]*KeyPair, 0, len(r.keys))
	for _, keyPair := range r.keys {
		keyCopy := *keyPair
		keys = append(keys, &keyCopy)
	}

	return keys, nil
}

// DeleteKeysRetiredBefore drops keys whose retirement predates the cutoff
func (r *InMemoryKeyRepository) DeleteKeysRetiredBefore(ctx context.Context, cutoff time.Time) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for kid, keyPair := range r.keys {
		if keyPair.RetiredAt != nil && keyPair.RetiredAt.Before(cutoff) {
			delete(r.keys, kid)
		}
	}

	return nil
}
