package oauth2client

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relayhq/relay-auth/pkg/errors"
)

// PostgresClientRepository implements ClientRepository using PostgreSQL
type PostgresClientRepository struct {
	db *pgxpool.Pool
}

// NewPostgresClientRepository creates a new PostgreSQL client repository
func NewPostgresClientRepository(db *pgxpool.Pool) (*PostgresClientRepository, error) {
	if db == nil {
		return nil, errors.Internal("database connection cannot be nil")
	}
	return &PostgresClientRepository{db: db}, nil
}

// CreateClient conditionally inserts a client
func (r *PostgresClientRepository) CreateClient(ctx context.Context, client *OAuth2Client) error {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO oauth2_client (client_id, client_name, client_type, secret_hash, redirect_uris, scopes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (client_id) DO NOTHING`,
		client.ClientID, client.ClientName, client.ClientType, client.SecretHash,
		client.RedirectURIs, client.Scopes, client.CreatedAt)
	if err != nil {
		return errors.InternalWrap(err, "failed to insert client")
	}
	if tag.RowsAffected() == 0 {
		return errors.AlreadyExists("client", client.ClientID)
	}
	return nil
}

// GetClient retrieves an OAuth2 client by client ID
func (r *PostgresClientRepository) GetClient(ctx context.Context, clientID string) (*OAuth2Client, error) {
	var client OAuth2Client
	err := r.db.QueryRow(ctx, `
		SELECT client_id, client_name, client_type, secret_hash, redirect_uris, scopes, created_at
		FROM oauth2_client WHERE client_id = $1`, clientID).Scan(
		&client.ClientID, &client.ClientName, &client.ClientType, &client.SecretHash,
		&client.RedirectURIs, &client.Scopes, &client.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("client", clientID)
	}
	if err != nil {
		return nil, errors.InternalWrap(err, "failed to get client")
	}
	return &client, nil
}

// DeleteClient removes an OAuth2 client by client ID; idempotent
func (r *PostgresClientRepository) DeleteClient(ctx context.Context, clientID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM oauth2_client WHERE client_id = $1`, clientID)
	if err != nil {
		return errors.InternalWrap(err, "failed to delete client")
	}
	return nil
}

// ListClients returns all registered OAuth2 clients
func (r *PostgresClientRepository) ListClients(ctx context.Context) ([]*OAuth2Client, error) {
	rows, err := r.db.Query(ctx, `
		SELECT client_id, client_name, client_type, secret_hash, redirect_uris, scopes, created_at
		FROM oauth2_client ORDER BY created_at`)
	if err != nil {
		return nil, errors.InternalWrap(err, "failed to list clients")
	}
	defer rows.Close()

	var clients []*OAuth2Client
	for rows.Next() {
		var client OAuth2Client
		if err := rows.Scan(&client.ClientID, &client.ClientName, &client.ClientType,
			&client.SecretHash, &client.RedirectURIs, &client.Scopes, &client.CreatedAt); err != nil {
			return nil, errors.InternalWrap(err, "failed to scan client")
		}
		clients = append(clients, &client)
	}
	return clients, rows.Err()
}
