package tokenservice

import (
	"context"
	"sync"
	"time"

	"github.com/relayhq/relay-auth/pkg/errors"
)

// RevocationRepository tracks revoked token IDs until the tokens would have
// expired on their own
type RevocationRepository interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
	DeleteExpired(ctx context.Context) (int, error)
}

// InMemoryRevocationRepository implements RevocationRepository with a
// mutex-guarded map
type InMemoryRevocationRepository struct {
	revoked map[string]time.Time // jti -> token expiry
	mutex   sync.RWMutex
}

// NewInMemoryRevocationRepository creates a new in-memory revocation repository
func NewInMemoryRevocationRepository() *InMemoryRevocationRepository {
	return &InMemoryRevocationRepository{revoked: make(map[string]time.Time)}
}

// Revoke records a token ID as revoked; idempotent
func (r *InMemoryRevocationRepository) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	if jti == "" {
		return errors.InvalidInput("jti", "cannot be empty")
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.revoked[jti] = expiresAt
	return nil
}

// IsRevoked reports whether a token ID has been revoked
func (r *InMemoryRevocationRepository) IsRevoked(ctx context.Context, jti string) (bool, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	_, revoked := r.revoked[jti]
	return revoked, nil
}

// DeleteExpired drops markers for tokens that are past their own expiry
func (r *InMemoryRevocationRepository) DeleteExpired(ctx context.Context) (int, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := time.Now().UTC()
	count := 0
	for jti, expiresAt := range r.revoked {
		if !expiresAt.After(now) {
			delete(r.revoked, jti)
			count++
		}
	}
	return count, nil
}
