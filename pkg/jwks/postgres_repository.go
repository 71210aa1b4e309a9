package jwks

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relayhq/relay-auth/pkg/errors"
)

// PostgresKeyRepository implements KeyRepository using PostgreSQL.
// Key material is stored PEM encoded.
type PostgresKeyRepository struct {
	db *pgxpool.Pool
}

// NewPostgresKeyRepository creates a new PostgreSQL key repository
func NewPostgresKeyRepository(db *pgxpool.Pool) (*PostgresKeyRepository, error) {
	if db == nil {
		return nil, errors.Internal("database connection cannot be nil")
	}
	return &PostgresKeyRepository{db: db}, nil
}

// AddKey adds a new key pair to the store
func (r *PostgresKeyRepository) AddKey(ctx context.Context, keyPair *KeyPair) error {
	publicPEM, err := marshalPublicKeyPEM(keyPair.PublicKey)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, `
		INSERT INTO signing_key (kid, alg, private_key_pem, public_key_pem, created_at, retired_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (kid) DO NOTHING`,
		keyPair.Kid, keyPair.Alg,
		marshalPrivateKeyPEM(keyPair.PrivateKey),
		publicPEM,
		keyPair.CreatedAt, keyPair.RetiredAt)
	if err != nil {
		return errors.InternalWrap(err, "failed to insert signing key")
	}
	if tag.RowsAffected() == 0 {
		return errors.AlreadyExists("signing key", keyPair.Kid)
	}
	return nil
}

// GetKeyByID retrieves a key pair by its ID
func (r *PostgresKeyRepository) GetKeyByID(ctx context.Context, kid string) (*KeyPair, error) {
	row := r.db.QueryRow(ctx, `
		SELECT kid, alg, private_key_pem, public_key_pem, created_at, retired_at
		FROM signing_key WHERE kid = $1`, kid)
	return scanKeyPair(row, kid)
}

// GetCurrentKey retrieves the currently active signing key
func (r *PostgresKeyRepository) GetCurrentKey(ctx context.Context) (*KeyPair, error) {
	row := r.db.QueryRow(ctx, `
		SELECT kid, alg, private_key_pem, public_key_pem, created_at, retired_at
		FROM signing_key WHERE retired_at IS NULL
		ORDER BY created_at DESC LIMIT 1`)
	return scanKeyPair(row, "current")
}

// SetCurrentKey marks the given key current and retires all other live keys
// in a single transaction.
func (r *PostgresKeyRepository) SetCurrentKey(ctx context.Context, kid string, retiredAt time.Time) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return errors.InternalWrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE signing_key SET retired_at = $1
		WHERE retired_at IS NULL AND kid <> $2`, retiredAt, kid); err != nil {
		return errors.InternalWrap(err, "failed to retire previous signing keys")
	}

	tag, err := tx.Exec(ctx, `
		UPDATE signing_key SET retired_at = NULL WHERE kid = $1`, kid)
	if err != nil {
		return errors.InternalWrap(err, "failed to promote signing key")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("signing key", kid)
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.InternalWrap(err, "failed to commit key rotation")
	}
	return nil
}

// ListKeys returns all key pairs
func (r *PostgresKeyRepository) ListKeys(ctx context.Context) ([]*KeyPair, error) {
	rows, err := r.db.Query(ctx, `
		SELECT kid, alg, private_key_pem, public_key_pem, created_at, retired_at
		FROM signing_key ORDER BY created_at`)
	if err != nil {
		return nil, errors.InternalWrap(err, "failed to list signing keys")
	}
	defer rows.Close()

	var keys []*KeyPair
	for rows.Next() {
		keyPair, err := scanKeyPair(rows, "")
		if err != nil {
			return nil, err
		}
		keys = append(keys, keyPair)
	}
	return keys, rows.Err()
}

// DeleteKeysRetiredBefore drops keys whose retirement predates the cutoff
func (r *PostgresKeyRepository) DeleteKeysRetiredBefore(ctx context.Context, cutoff time.Time) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM signing_key WHERE retired_at IS NOT NULL AND retired_at < $1`, cutoff)
	if err != nil {
		return errors.InternalWrap(err, "failed to delete expired signing keys")
	}
	return nil
}

func scanKeyPair(row pgx.Row, kid string) (*KeyPair, error) {
	var (
		keyPair    KeyPair
		privatePEM string
		publicPEM  string
		retiredAt  *time.Time
	)
	err := row.Scan(&keyPair.Kid, &keyPair.Alg, &privatePEM, &publicPEM, &keyPair.CreatedAt, &retiredAt)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("signing key", kid)
	}
	if err != nil {
		return nil, errors.InternalWrap(err, "failed to scan signing key")
	}

	keyPair.RetiredAt = retiredAt

	keyPair.PrivateKey, err = parsePrivateKeyPEM(privatePEM)
	if err != nil {
		return nil, err
	}
	keyPair.PublicKey, err = parsePublicKeyPEM(publicPEM)
	if err != nil {
		return nil, err
	}

	return &keyPair, nil
}
