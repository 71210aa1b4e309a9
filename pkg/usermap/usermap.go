// Package usermap resolves a verified contact address (email or phone) to a
// local user ID, creating the mapping on first login.
package usermap

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relayhq/relay-auth/pkg/errors"
)

type ContactKind string

const (
	ContactEmail ContactKind = "email"
	ContactPhone ContactKind = "phone"
)

// UserMapping links one contact address to a local user
type UserMapping struct {
	UserID    string
	Kind      ContactKind
	Contact   string
	CreatedAt time.Time
}

// UserMapRepository stores contact-to-user mappings. CreateMapping is a
// conditional insert so two concurrent first logins with the same contact
// converge on one user.
type UserMapRepository interface {
	CreateMapping(ctx context.Context, mapping *UserMapping) error
	GetByContact(ctx context.Context, kind ContactKind, contact string) (*UserMapping, error)
}

// InMemoryUserMapRepository implements UserMapRepository with a mutex-guarded map
type InMemoryUserMapRepository struct {
	byContact map[string]*UserMapping
	mutex     sync.RWMutex
}

// NewInMemoryUserMapRepository creates a new in-memory user map repository
func NewInMemoryUserMapRepository() *InMemoryUserMapRepository {
	return &InMemoryUserMapRepository{byContact: make(map[string]*UserMapping)}
}

// ContactKey builds the canonical "kind:address" identifier for a contact.
// Callers that need to persist a contact reference use the same form.
func ContactKey(kind ContactKind, contact string) string {
	return string(kind) + ":" + contact
}

// CreateMapping conditionally inserts a mapping; Conflict if the contact is taken
func (r *InMemoryUserMapRepository) CreateMapping(ctx context.Context, mapping *UserMapping) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	key := ContactKey(mapping.Kind, mapping.Contact)
	if _, exists := r.byContact[key]; exists {
		return errors.AlreadyExists("user mapping", mapping.Contact)
	}
	mappingCopy := *mapping
	r.byContact[key] = &mappingCopy
	return nil
}

// GetByContact looks up the user mapped to a contact address
func (r *InMemoryUserMapRepository) GetByContact(ctx context.Context, kind ContactKind, contact string) (*UserMapping, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	mapping, exists := r.byContact[ContactKey(kind, contact)]
	if !exists {
		return nil, errors.NotFound("user mapping", contact)
	}
	mappingCopy := *mapping
	return &mappingCopy, nil
}

// UserMapService resolves contacts to user IDs
type UserMapService struct {
	repository UserMapRepository
}

// NewUserMapService creates a new user map service
func NewUserMapService(repository UserMapRepository) *UserMapService {
	return &UserMapService{repository: repository}
}

// ResolveOrCreate returns the user ID for a contact, minting a new user on
// first login. Contacts are normalized before lookup so case variants of one
// email map to one user.
func (s *UserMapService) ResolveOrCreate(ctx context.Context, kind ContactKind, contact string) (string, error) {
	contact = Normalize(kind, contact)
	if contact == "" {
		return "", errors.InvalidInput("contact", "cannot be empty")
	}

	mapping, err := s.repository.GetByContact(ctx, kind, contact)
	if err == nil {
		return mapping.UserID, nil
	}
	if !errors.IsCode(err, errors.ErrCodeNotFound) {
		return "", err
	}

	newMapping := &UserMapping{
		UserID:    uuid.New().String(),
		Kind:      kind,
		Contact:   contact,
		CreatedAt: time.Now().UTC(),
	}
	err = s.repository.CreateMapping(ctx, newMapping)
	if err == nil {
		return newMapping.UserID, nil
	}
	if errors.IsCode(err, errors.ErrCodeAlreadyExists) {
		// Lost the race to a concurrent first login; use the winner's user
		mapping, err := s.repository.GetByContact(ctx, kind, contact)
		if err != nil {
			return "", err
		}
		return mapping.UserID, nil
	}
	return "", err
}

// Resolve returns the user ID for a contact without creating one
func (s *UserMapService) Resolve(ctx context.Context, kind ContactKind, contact string) (string, error) {
	mapping, err := s.repository.GetByContact(ctx, kind, Normalize(kind, contact))
	if err != nil {
		return "", err
	}
	return mapping.UserID, nil
}

// Normalize canonicalizes a contact address for storage and lookup
func Normalize(kind ContactKind, contact string) string {
	contact = strings.TrimSpace(contact)
	if kind == ContactEmail {
		contact = strings.ToLower(contact)
	}
	return contact
}
