package flowattempt

import (
	"context"
	"sync"
	"time"

	"github.com/relayhq/relay-auth/pkg/errors"
)

// AttemptRepository defines the interface for flow attempt storage. The
// guarded transitions (IssueAuthorizationCode, ConsumeByAuthorizationCode)
// must be atomic: under concurrent double-submit exactly one caller wins and
// the loser observes a typed failure, never a second valid code.
type AttemptRepository interface {
	// Create conditionally inserts an attempt keyed by CSRF token; fails
	// with Conflict if the token already exists
	Create(ctx context.Context, attempt *AuthFlowAttempt) error

	// GetByToken fails NotFound if absent or logically expired
	GetByToken(ctx context.Context, csrfToken string) (*AuthFlowAttempt, error)

	// GetByAuthorizationCode is a secondary-index lookup; NotFound if the
	// code is absent or the attempt expired
	GetByAuthorizationCode(ctx context.Context, code string) (*AuthFlowAttempt, error)

	// Update merges the non-nil fields of params into the attempt. It never
	// touches ExpiresAt: the TTL is fixed at creation.
	Update(ctx context.Context, csrfToken string, params UpdateParams) error

	// IssueAuthorizationCode atomically verifies the guard, sets UserID and
	// the authorization code, indexes the code, and consumes the
	// confirmation code. Fails ConfirmMismatch/StateMismatch on guard
	// failure, CodeConsumed if a code was already issued, Conflict on code
	// collision with another attempt.
	IssueAuthorizationCode(ctx context.Context, csrfToken string, params IssueCodeParams) error

	// ConsumeByAuthorizationCode atomically looks up and deletes the attempt
	// holding the code. Exactly one concurrent caller succeeds; the rest
	// fail NotFound.
	ConsumeByAuthorizationCode(ctx context.Context, code string) (*AuthFlowAttempt, error)

	// Delete removes an attempt; idempotent
	Delete(ctx context.Context, csrfToken string) error

	// DeleteExpired sweeps attempts past their TTL, returning the count
	DeleteExpired(ctx context.Context) (int, error)
}

// InMemoryAttemptRepository implements AttemptRepository with mutex-guarded
// maps over both keys.
type InMemoryAttemptRepository struct {
	byToken map[string]*AuthFlowAttempt
	byCode  map[string]string // authorization code -> CSRF token
	mutex   sync.RWMutex
}

// NewInMemoryAttemptRepository creates a new in-memory attempt repository
func NewInMemoryAttemptRepository() *InMemoryAttemptRepository {
	return &InMemoryAttemptRepository{
		byToken: make(map[string]*AuthFlowAttempt),
		byCode:  make(map[string]string),
	}
}

// Create conditionally inserts an attempt keyed by CSRF token
func (r *InMemoryAttemptRepository) Create(ctx context.Context, attempt *AuthFlowAttempt) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.byToken[attempt.CSRFToken]; exists {
		return errors.AlreadyExists("flow attempt", attempt.CSRFToken)
	}

	attemptCopy := *attempt
	r.byToken[attempt.CSRFToken] = &attemptCopy
	return nil
}

// GetByToken fails NotFound if absent or logically expired
func (r *InMemoryAttemptRepository) GetByToken(ctx context.Context, csrfToken string) (*AuthFlowAttempt, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	attempt, exists := r.byToken[csrfToken]
	if !exists || attempt.ExpiredAt(time.Now().UTC()) {
		return nil, errors.NotFound("flow attempt", "csrf token")
	}

	attemptCopy := *attempt
	return &attemptCopy, nil
}

// GetByAuthorizationCode is a secondary-index lookup
func (r *InMemoryAttemptRepository) GetByAuthorizationCode(ctx context.Context, code string) (*AuthFlowAttempt, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	csrfToken, exists := r.byCode[code]
	if !exists {
		return nil, errors.NotFound("flow attempt", "authorization code")
	}

	attempt, exists := r.byToken[csrfToken]
	if !exists || attempt.ExpiredAt(time.Now().UTC()) {
		return nil, errors.NotFound("flow attempt", "authorization code")
	}

	attemptCopy := *attempt
	return &attemptCopy, nil
}

// Update merges the non-nil fields of params into the attempt
func (r *InMemoryAttemptRepository) Update(ctx context.Context, csrfToken string, params UpdateParams) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	attempt, exists := r.byToken[csrfToken]
	if !exists || attempt.ExpiredAt(time.Now().UTC()) {
		return errors.NotFound("flow attempt", "csrf token")
	}

	if params.UserID != nil {
		attempt.UserID = *params.UserID
	}
	if params.ExternalProvider != nil {
		attempt.ExternalProvider = *params.ExternalProvider
	}
	if params.ExternalProviderState != nil {
		attempt.ExternalProviderState = *params.ExternalProviderState
	}
	if params.ConfirmationCode != nil {
		attempt.ConfirmationCode = *params.ConfirmationCode
	}
	if params.ConfirmationContact != nil {
		attempt.ConfirmationContact = *params.ConfirmationContact
	}
	if params.ConfirmationCodeCreatedAt != nil {
		attempt.ConfirmationCodeCreatedAt = *params.ConfirmationCodeCreatedAt
	}

	return nil
}

// IssueAuthorizationCode performs the guarded, atomic code-issuance transition
func (r *InMemoryAttemptRepository) IssueAuthorizationCode(ctx context.Context, csrfToken string, params IssueCodeParams) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	attempt, exists := r.byToken[csrfToken]
	if !exists || attempt.ExpiredAt(time.Now().UTC()) {
		return errors.NotFound("flow attempt", "csrf token")
	}

	if attempt.AuthorizationCode != "" {
		return errors.New(errors.ErrCodeCodeConsumed, "authorization code already issued for this attempt")
	}

	if params.RequireConfirmationCode != nil {
		if attempt.ConfirmationCode == "" || attempt.ConfirmationCode != *params.RequireConfirmationCode {
			return errors.New(errors.ErrCodeConfirmMismatch, "confirmation code does not match")
		}
		if params.RequireConfirmationContact != nil && attempt.ConfirmationContact != *params.RequireConfirmationContact {
			return errors.New(errors.ErrCodeConfirmMismatch, "confirmation code does not match")
		}
	}

	if params.RequireExternalState != nil {
		if attempt.ExternalProviderState == "" || attempt.ExternalProviderState != *params.RequireExternalState {
			return errors.New(errors.ErrCodeStateMismatch, "external provider state does not match")
		}
	}

	if existing, taken := r.byCode[params.Code]; taken && existing != csrfToken {
		return errors.New(errors.ErrCodeConflict, "authorization code collision")
	}

	attempt.UserID = params.UserID
	attempt.AuthorizationCode = params.Code
	attempt.AuthorizationCodeCreatedAt = time.Now().UTC()
	// Consume the confirmation code: any retry needs a fresh one
	attempt.ConfirmationCode = ""
	attempt.ConfirmationContact = ""
	r.byCode[params.Code] = csrfToken

	return nil
}

// ConsumeByAuthorizationCode atomically fetches and deletes the attempt
func (r *InMemoryAttemptRepository) ConsumeByAuthorizationCode(ctx context.Context, code string) (*AuthFlowAttempt, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	csrfToken, exists := r.byCode[code]
	if !exists {
		return nil, errors.NotFound("flow attempt", "authorization code")
	}

	attempt, exists := r.byToken[csrfToken]
	if !exists || attempt.ExpiredAt(time.Now().UTC()) {
		delete(r.byCode, code)
		return nil, errors.NotFound("flow attempt", "authorization code")
	}

	delete(r.byToken, csrfToken)
	delete(r.byCode, code)

	attemptCopy := *attempt
	return &attemptCopy, nil
}

// Delete removes an attempt; idempotent
func (r *InMemoryAttemptRepository) Delete(ctx context.Context, csrfToken string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if attempt, exists := r.byToken[csrfToken]; exists {
		if attempt.AuthorizationCode != "" {
			delete(r.byCode, attempt.AuthorizationCode)
		}
		delete(r.byToken, csrfToken)
	}

	return nil
}

// DeleteExpired sweeps attempts past their TTL
func (r *InMemoryAttemptRepository) DeleteExpired(ctx context.Context) (int, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := time.Now().UTC()
	count := 0
	for csrfToken, attempt := range r.byToken {
		if attempt.ExpiredAt(now) {
			if attempt.AuthorizationCode != "" {
				delete(r.byCode, attempt.AuthorizationCode)
			}
			delete(r.byToken, csrfToken)
			count++
		}
	}

	return count, nil
}
