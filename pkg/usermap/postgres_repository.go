package usermap

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relayhq/relay-auth/pkg/errors"
)

// PostgresUserMapRepository implements UserMapRepository using PostgreSQL.
//
// Expected schema:
//
//	CREATE TABLE user_mapping (
//	    kind       TEXT NOT NULL,
//	    contact    TEXT NOT NULL,
//	    user_id    TEXT NOT NULL,
//	    created_at TIMESTAMPTZ NOT NULL,
//	    PRIMARY KEY (kind, contact)
//	);
type PostgresUserMapRepository struct {
	db *pgxpool.Pool
}

// NewPostgresUserMapRepository creates a new PostgreSQL user map repository
func NewPostgresUserMapRepository(db *pgxpool.Pool) (*PostgresUserMapRepository, error) {
	if db == nil {
		return nil, errors.Internal("database connection cannot be nil")
	}
	return &PostgresUserMapRepository{db: db}, nil
}

// CreateMapping conditionally inserts a mapping; Conflict if the contact is taken
func (r *PostgresUserMapRepository) CreateMapping(ctx context.Context, mapping *UserMapping) error {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO user_mapping (kind, contact, user_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (kind, contact) DO NOTHING`,
		mapping.Kind, mapping.Contact, mapping.UserID, mapping.CreatedAt)
	if err != nil {
		return errors.InternalWrap(err, "failed to insert user mapping")
	}
	if tag.RowsAffected() == 0 {
		return errors.AlreadyExists("user mapping", mapping.Contact)
	}
	return nil
}

// GetByContact looks up the user mapped to a contact address
func (r *PostgresUserMapRepository) GetByContact(ctx context.Context, kind ContactKind, contact string) (*UserMapping, error) {
	var mapping UserMapping
	err := r.db.QueryRow(ctx, `
		SELECT kind, contact, user_id, created_at FROM user_mapping
		WHERE kind = $1 AND contact = $2`, kind, contact).Scan(
		&mapping.Kind, &mapping.Contact, &mapping.UserID, &mapping.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("user mapping", contact)
	}
	if err != nil {
		return nil, errors.InternalWrap(err, "failed to get user mapping")
	}
	return &mapping, nil
}
