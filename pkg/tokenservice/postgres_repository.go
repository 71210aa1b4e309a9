package tokenservice

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relayhq/relay-auth/pkg/errors"
)

// PostgresRevocationRepository implements RevocationRepository using
// PostgreSQL.
//
// Expected schema:
//
//	CREATE TABLE revoked_token (
//	    jti        TEXT PRIMARY KEY,
//	    expires_at TIMESTAMPTZ NOT NULL
//	);
type PostgresRevocationRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRevocationRepository creates a new PostgreSQL revocation repository
func NewPostgresRevocationRepository(db *pgxpool.Pool) (*PostgresRevocationRepository, error) {
	if db == nil {
		return nil, errors.Internal("database connection cannot be nil")
	}
	return &PostgresRevocationRepository{db: db}, nil
}

// Revoke records a token ID as revoked; idempotent
func (r *PostgresRevocationRepository) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	if jti == "" {
		return errors.InvalidInput("jti", "cannot be empty")
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO revoked_token (jti, expires_at) VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING`, jti, expiresAt)
	if err != nil {
		return errors.InternalWrap(err, "failed to record revocation")
	}
	return nil
}

// IsRevoked reports whether a token ID has been revoked
func (r *PostgresRevocationRepository) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM revoked_token WHERE jti = $1)`, jti).Scan(&revoked)
	if err != nil {
		return false, errors.InternalWrap(err, "failed to check revocation")
	}
	return revoked, nil
}

// DeleteExpired drops markers for tokens that are past their own expiry
func (r *PostgresRevocationRepository) DeleteExpired(ctx context.Context) (int, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM revoked_token WHERE expires_at <= now()`)
	if err != nil {
		return 0, errors.InternalWrap(err, "failed to sweep revocations")
	}
	return int(tag.RowsAffected()), nil
}
