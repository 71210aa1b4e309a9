package jwks

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"

	"github.com/relayhq/relay-auth/pkg/errors"
)

// Key material crosses the repository boundary PEM encoded: PKCS#1 for
// private keys, PKIX for public keys.

func marshalPrivateKeyPEM(key *rsa.PrivateKey) string {
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}))
}

func marshalPublicKeyPEM(key *rsa.PublicKey) (string, error) {
	bytes, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return "", errors.InternalWrap(err, "failed to marshal public key")
	}
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: bytes,
	})), nil
}

func parsePrivateKeyPEM(data string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil {
		return nil, errors.Internal("no PEM block in stored private key")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, errors.InternalWrap(err, "failed to parse private key")
		}
		return key, nil
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, errors.InternalWrap(err, "failed to parse private key")
		}
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.Internal("stored private key is not RSA")
		}
		return key, nil
	default:
		return nil, errors.Newf(errors.ErrCodeInternal, "unexpected PEM block type %q", block.Type)
	}
}

func parsePublicKeyPEM(data string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, errors.Internal("no public key PEM block")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, errors.InternalWrap(err, "failed to parse public key")
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.Internal("stored public key is not RSA")
	}
	return key, nil
}
