package flowattempt

import (
	"context"
	"crypto/rand"
	"encoding/base64"

	"github.com/relayhq/relay-auth/pkg/errors"
)

// NewCSRFToken returns a 32-byte random token in base64url, used both as the
// attempt's primary key and as the browser cookie value
func NewCSRFToken() (string, error) {
	return randomToken(32)
}

// NewAuthorizationCode returns a 32-byte random authorization code in
// base64url
func NewAuthorizationCode() (string, error) {
	return randomToken(32)
}

// NewProviderState returns the random state bound to a federated provider hop
func NewProviderState() (string, error) {
	return randomToken(32)
}

func randomToken(size int) (string, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.InternalWrap(err, "failed to generate random token")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

const issueCodeMaxRetries = 3

// IssueCode mints an authorization code and applies the guarded issuance
// transition, retrying with a fresh code on cross-attempt collisions. Guard
// failures are returned as-is; exhausting the retries means the random source
// is broken and is treated as fatal.
func IssueCode(ctx context.Context, repo AttemptRepository, csrfToken string, build func(code string) IssueCodeParams) (string, error) {
	var lastErr error
	for i := 0; i < issueCodeMaxRetries; i++ {
		code, err := NewAuthorizationCode()
		if err != nil {
			return "", err
		}
		err = repo.IssueAuthorizationCode(ctx, csrfToken, build(code))
		if err == nil {
			return code, nil
		}
		if !errors.IsCode(err, errors.ErrCodeConflict) {
			return "", err
		}
		lastErr = err
	}
	return "", errors.Wrap(lastErr, errors.ErrCodeCodeCollision, "repeated authorization code collisions")
}
