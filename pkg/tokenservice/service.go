package tokenservice

import (
	"context"
	goerrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/relayhq/relay-auth/pkg/errors"
	"github.com/relayhq/relay-auth/pkg/flowattempt"
	"github.com/relayhq/relay-auth/pkg/jwks"
	"github.com/relayhq/relay-auth/pkg/oauth2client"
	"github.com/relayhq/relay-auth/pkg/pkce"
)

const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"

	TokenUseAccess  = "access"
	TokenUseRefresh = "refresh"

	DefaultAccessTokenTTL  = 1 * time.Hour
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
)

// Claims is the JWT claim set issued by this server
type Claims struct {
	Scope    string `json:"scope,omitempty"`
	TokenUse string `json:"token_use"`
	jwt.RegisteredClaims
}

// TokenRequest carries the parsed parameters of a token endpoint call
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	ClientID     string
	ClientSecret string
	CodeVerifier string
	RefreshToken string
}

// TokenPair is the successful token endpoint response
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// TokenService exchanges authorization codes for signed token pairs and
// validates, refreshes and revokes them
type TokenService struct {
	keys        *jwks.JWKSService
	clients     *oauth2client.ClientService
	attempts    flowattempt.AttemptRepository
	revocations RevocationRepository
	issuer      string
	accessTTL   time.Duration
	refreshTTL  time.Duration
}

// TokenServiceOption configures optional token service behavior
type TokenServiceOption func(*TokenService)

// WithAccessTokenTTL overrides the access token lifetime
func WithAccessTokenTTL(ttl time.Duration) TokenServiceOption {
	return func(s *TokenService) {
		s.accessTTL = ttl
	}
}

// WithRefreshTokenTTL overrides the refresh token lifetime
func WithRefreshTokenTTL(ttl time.Duration) TokenServiceOption {
	return func(s *TokenService) {
		s.refreshTTL = ttl
	}
}

// NewTokenService creates a new token service
func NewTokenService(keys *jwks.JWKSService, clients *oauth2client.ClientService,
	attempts flowattempt.AttemptRepository, revocations RevocationRepository,
	issuer string, opts ...TokenServiceOption) *TokenService {
	s := &TokenService{
		keys:        keys,
		clients:     clients,
		attempts:    attempts,
		revocations: revocations,
		issuer:      issuer,
		accessTTL:   DefaultAccessTokenTTL,
		refreshTTL:  DefaultRefreshTokenTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IssueTokens handles the token endpoint, dispatching on grant type
func (s *TokenService) IssueTokens(ctx context.Context, req TokenRequest) (*TokenPair, error) {
	switch req.GrantType {
	case GrantTypeAuthorizationCode:
		return s.exchangeAuthorizationCode(ctx, req)
	case GrantTypeRefreshToken:
		return s.RefreshTokens(ctx, req)
	default:
		return nil, errors.New(errors.ErrCodeInvalidGrant, "unsupported grant_type")
	}
}

// exchangeAuthorizationCode performs the single-use code exchange. The code
// is consumed before anything else is checked: a failed exchange burns the
// code and the whole flow must restart.
func (s *TokenService) exchangeAuthorizationCode(ctx context.Context, req TokenRequest) (*TokenPair, error) {
	if req.Code == "" {
		return nil, errors.InvalidInput("code", "cannot be empty")
	}

	attempt, err := s.attempts.ConsumeByAuthorizationCode(ctx, req.Code)
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeNotFound) {
			slog.Warn("Token exchange with unknown or already-used code", "client_id", req.ClientID)
			return nil, errors.InvalidGrant("invalid authorization code")
		}
		return nil, err
	}

	if attempt.ClientID != req.ClientID {
		slog.Warn("Token exchange client mismatch", "attempt_client", attempt.ClientID, "request_client", req.ClientID)
		return nil, errors.InvalidGrant("authorization code was not issued to this client")
	}
	if attempt.RedirectURI != req.RedirectURI {
		return nil, errors.InvalidGrant("redirect_uri does not match the authorization request")
	}

	client, err := s.clients.GetClient(ctx, req.ClientID)
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeNotFound) {
			return nil, errors.New(errors.ErrCodeInvalidClient, "client authentication failed")
		}
		return nil, err
	}

	if client.IsConfidential() {
		if _, err := s.clients.AuthenticateClient(ctx, req.ClientID, req.ClientSecret); err != nil {
			return nil, err
		}
	} else if attempt.CodeChallenge == "" {
		// Public clients must have bound a PKCE challenge at authorize time
		return nil, errors.InvalidGrant("PKCE is required for public clients")
	}

	if attempt.CodeChallenge != "" {
		if req.CodeVerifier == "" {
			return nil, errors.InvalidGrant("code_verifier is required")
		}
		method := pkce.ChallengeMethod(attempt.CodeChallengeMethod)
		if err := pkce.ValidateCodeVerifier(req.CodeVerifier, attempt.CodeChallenge, method); err != nil {
			slog.Warn("PKCE verification failed", "client_id", req.ClientID)
			return nil, errors.New(errors.ErrCodePKCEMismatch, "PKCE verification failed")
		}
	}

	if attempt.UserID == "" {
		// A code issued without an identified user is a server bug
		slog.Error("Authorization code consumed with no user bound", "client_id", req.ClientID)
		return nil, errors.New(errors.ErrCodeMissingUser, "no user associated with authorization code")
	}

	return s.signTokenPair(ctx, attempt.UserID, req.ClientID, attempt.Scope)
}

// RefreshTokens implements the refresh grant with rotation: the presented
// refresh token is revoked and a new pair is issued
func (s *TokenService) RefreshTokens(ctx context.Context, req TokenRequest) (*TokenPair, error) {
	if req.RefreshToken == "" {
		return nil, errors.InvalidInput("refresh_token", "cannot be empty")
	}

	claims, err := s.ValidateToken(ctx, req.RefreshToken)
	if err != nil {
		return nil, errors.InvalidGrant("invalid refresh token")
	}
	if claims.TokenUse != TokenUseRefresh {
		return nil, errors.InvalidGrant("token is not a refresh token")
	}

	clientID := ""
	if len(claims.Audience) > 0 {
		clientID = claims.Audience[0]
	}
	if clientID != req.ClientID {
		return nil, errors.InvalidGrant("refresh token was not issued to this client")
	}

	client, err := s.clients.GetClient(ctx, req.ClientID)
	if err != nil {
		return nil, errors.New(errors.ErrCodeInvalidClient, "client authentication failed")
	}
	if client.IsConfidential() {
		if _, err := s.clients.AuthenticateClient(ctx, req.ClientID, req.ClientSecret); err != nil {
			return nil, err
		}
	}

	if err := s.revocations.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return nil, err
	}

	return s.signTokenPair(ctx, claims.Subject, clientID, claims.Scope)
}

// ValidateToken parses and verifies a token issued by this server. The kid
// header selects the verification key; keys past the rotation grace window
// fail the same way unknown keys do.
func (s *TokenService) ValidateToken(ctx context.Context, rawToken string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(rawToken, claims, func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, errors.New(errors.ErrCodeUnknownKid, "token has no kid header")
		}
		key, err := s.keys.VerificationKey(ctx, kid)
		if err != nil {
			return nil, err
		}
		return key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}), jwt.WithIssuer(s.issuer))
	if err != nil {
		if goerrors.Is(err, jwt.ErrTokenExpired) {
			return nil, errors.New(errors.ErrCodeTokenExpired, "token has expired")
		}
		slog.Debug("Token validation failed", "error", err)
		return nil, errors.New(errors.ErrCodeTokenInvalid, "token is invalid")
	}

	revoked, err := s.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, errors.New(errors.ErrCodeTokenRevoked, "token has been revoked")
	}

	return claims, nil
}

// RevokeToken implements the revocation endpoint. Invalid or expired tokens
// are ignored so callers cannot probe token validity through this endpoint.
// Only refresh tokens are revocable; access tokens expire on their own.
func (s *TokenService) RevokeToken(ctx context.Context, rawToken, clientID, clientSecret string) error {
	client, err := s.clients.GetClient(ctx, clientID)
	if err != nil {
		return errors.New(errors.ErrCodeInvalidClient, "client authentication failed")
	}
	if client.IsConfidential() {
		if _, err := s.clients.AuthenticateClient(ctx, clientID, clientSecret); err != nil {
			return err
		}
	}

	claims, err := s.ValidateToken(ctx, rawToken)
	if err != nil {
		return nil
	}
	if claims.TokenUse != TokenUseRefresh {
		return nil
	}
	if len(claims.Audience) == 0 || claims.Audience[0] != clientID {
		return nil
	}

	return s.revocations.Revoke(ctx, claims.ID, claims.ExpiresAt.Time)
}

// HasScope reports whether the claim set carries any of the wanted scopes
func (c *Claims) HasScope(wanted ...string) bool {
	granted := strings.Fields(c.Scope)
	for _, w := range wanted {
		for _, g := range granted {
			if g == w {
				return true
			}
		}
	}
	return false
}

func (s *TokenService) signTokenPair(ctx context.Context, userID, clientID, scope string) (*TokenPair, error) {
	key, err := s.keys.SigningKey(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	accessToken, err := s.sign(key, &Claims{
		Scope:    scope,
		TokenUse: TokenUseAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			Audience:  jwt.ClaimStrings{clientID},
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	})
	if err != nil {
		return nil, err
	}

	refreshToken, err := s.sign(key, &Claims{
		Scope:    scope,
		TokenUse: TokenUseRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			Audience:  jwt.ClaimStrings{clientID},
			ExpiresAt: jwt.NewNumericDate(now.Add(s.refreshTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	})
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.accessTTL.Seconds()),
		RefreshToken: refreshToken,
		Scope:        scope,
	}, nil
}

func (s *TokenService) sign(key *jwks.KeyPair, claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = key.Kid
	signed, err := token.SignedString(key.PrivateKey)
	if err != nil {
		return "", errors.InternalWrap(err, "failed to sign token")
	}
	return signed, nil
}
