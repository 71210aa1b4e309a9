package jwks

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/relayhq/relay-auth/pkg/errors"
)

const (
	// DefaultRotationInterval is how often a fresh signing key is minted
	DefaultRotationInterval = 20 * time.Minute

	// DefaultKeySize is the RSA modulus size for new keys
	DefaultKeySize = 2048
)

// JWKSService manages the signing key lifecycle: rotation, the published
// public key set, and kid-based verification key lookup.
type JWKSService struct {
	repository  KeyRepository
	keySize     int
	graceWindow time.Duration
}

// Option is a function that configures a JWKSService
type Option func(*JWKSService)

// WithKeySize sets the RSA key size for newly generated keys
func WithKeySize(bits int) Option {
	return func(s *JWKSService) {
		s.keySize = bits
	}
}

// WithGraceWindow sets how long a retired key remains valid for verification
func WithGraceWindow(d time.Duration) Option {
	return func(s *JWKSService) {
		s.graceWindow = d
	}
}

// NewJWKSService creates a new JWKS service with the provided repository.
// Call Rotate once at startup so a current key exists before the first
// request arrives.
func NewJWKSService(repository KeyRepository, opts ...Option) *JWKSService {
	service := &JWKSService{
		repository:  repository,
		keySize:     DefaultKeySize,
		graceWindow: 2 * DefaultRotationInterval,
	}

	for _, opt := range opts {
		opt(service)
	}

	return service
}

// GraceWindow returns how long retired keys remain valid for verification.
func (s *JWKSService) GraceWindow() time.Duration {
	return s.graceWindow
}

// Rotate generates a new signing key, makes it current, retires the
// previously-current key, and permanently drops keys whose retirement
// exceeded the grace window. Safe to call at any time; the worst case of a
// redundant call is one extra key in the set.
func (s *JWKSService) Rotate(ctx context.Context) (*KeyPair, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, s.keySize)
	if err != nil {
		return nil, errors.InternalWrap(err, "failed to generate RSA key pair")
	}

	keyPair := &KeyPair{
		Kid:        uuid.New().String(),
		Alg:        "RS256",
		PrivateKey: privateKey,
		PublicKey:  &privateKey.PublicKey,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.repository.AddKey(ctx, keyPair); err != nil {
		return nil, errors.InternalWrap(err, "failed to store new signing key")
	}

	now := time.Now().UTC()
	if err := s.repository.SetCurrentKey(ctx, keyPair.Kid, now); err != nil {
		return nil, errors.InternalWrap(err, "failed to promote new signing key")
	}

	if err := s.repository.DeleteKeysRetiredBefore(ctx, now.Add(-s.graceWindow)); err != nil {
		// Cleanup failure leaves stale keys in the published set but does
		// not block the rotation itself
		slog.Warn("Failed to drop keys past grace window", "error", err)
	}

	slog.Info("Rotated signing keys", "new_kid", keyPair.Kid)
	return keyPair, nil
}

// PublicSet returns the public JWKS document: the current key plus retired
// keys still inside the grace window.
func (s *JWKSService) PublicSet(ctx context.Context) (*JWKS, error) {
	keys, err := s.repository.ListKeys(ctx)
	if err != nil {
		return nil, errors.InternalWrap(err, "failed to list signing keys")
	}

	now := time.Now().UTC()
	jwks := &JWKS{Keys: make([]JWK, 0, len(keys))}
	for _, keyPair := range keys {
		if keyPair.VerifiableAt(now, s.graceWindow) {
			jwks.Keys = append(jwks.Keys, *keyPair.ToJWK())
		}
	}

	return jwks, nil
}

// SigningKey returns the current private key and kid for signing new tokens.
// A missing current key is a fatal condition: it means bootstrap rotation
// never ran or the key store lost data.
func (s *JWKSService) SigningKey(ctx context.Context) (*KeyPair, error) {
	keyPair, err := s.repository.GetCurrentKey(ctx)
	if err != nil {
		slog.Error("No current signing key available", "error", err)
		return nil, errors.Wrap(err, errors.ErrCodeNoSigningKey, "no current signing key")
	}
	return keyPair, nil
}

// VerificationKey returns the public key for the given kid if it is still
// within its validity window. Unknown kids and kids past the grace window
// both fail Unauthorized; this is what bounds how long a signature remains
// acceptable after rotation.
func (s *JWKSService) VerificationKey(ctx context.Context, kid string) (*KeyPair, error) {
	keyPair, err := s.repository.GetKeyByID(ctx, kid)
	if err != nil {
		return nil, errors.Newf(errors.ErrCodeUnknownKid, "unknown key id: %s", kid)
	}

	if !keyPair.VerifiableAt(time.Now().UTC(), s.graceWindow) {
		return nil, errors.Newf(errors.ErrCodeUnknownKid, "key past grace window: %s", kid)
	}

	return keyPair, nil
}
