package jwks

import (
	"crypto/rsa"
	"encoding/base64"
	"math/big"
	"time"
)

// JWKS represents a JSON Web Key Set as defined in RFC 7517
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK represents a JSON Web Key as defined in RFC 7517
type JWK struct {
	// Key Type - "RSA" for RSA keys
	Kty string `json:"kty"`

	// Public Key Use - "sig" for signature
	Use string `json:"use"`

	// Key ID - unique identifier for this key
	Kid string `json:"kid"`

	// Algorithm - "RS256" for RSA with SHA-256
	Alg string `json:"alg,omitempty"`

	// RSA public key modulus (base64url encoded)
	N string `json:"n"`

	// RSA public key exponent (base64url encoded)
	E string `json:"e"`
}

// KeyPair represents an RSA signing key pair with its validity window.
// The key whose RetiredAt is nil is the current signing key; retired keys
// stay usable for verification until the grace window closes.
type KeyPair struct {
	// Key ID - unique identifier for this key
	Kid string

	// Algorithm used with this key
	Alg string

	// RSA private key
	PrivateKey *rsa.PrivateKey

	// RSA public key (derived from private key)
	PublicKey *rsa.PublicKey

	// Creation timestamp
	CreatedAt time.Time

	// When the key stopped being the signing key; nil for the current key
	RetiredAt *time.Time
}

// IsCurrent reports whether this is the active signing key.
func (kp *KeyPair) IsCurrent() bool {
	return kp.RetiredAt == nil
}

// VerifiableAt reports whether the key may still be used for signature
// verification at the given instant, under the given grace window.
func (kp *KeyPair) VerifiableAt(t time.Time, grace time.Duration) bool {
	if kp.RetiredAt == nil {
		return true
	}
	return t.Before(kp.RetiredAt.Add(grace))
}

// ToJWK converts a KeyPair to a JWK (public key only)
func (kp *KeyPair) ToJWK() *JWK {
	return &JWK{
		Kty: "RSA",
		Use: "sig",
		Kid: kp.Kid,
		Alg: kp.Alg,
		N:   base64URLUint(kp.PublicKey.N.Bytes()),
		E:   base64URLUint(big.NewInt(int64(kp.PublicKey.E)).Bytes()),
	}
}

// base64URLUint encodes a big-endian integer per RFC 7518 section 2
func base64URLUint(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
